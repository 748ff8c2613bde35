package upload

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	return &Resolver{
		Root:              t.TempDir(),
		AllowedSubpaths:   []string{"products", "deadstock"},
		AllowedExtensions: []string{".jpg", ".png", ".pdf"},
		MaxSize:           16,
	}
}

func TestResolve(t *testing.T) {
	r := newResolver(t)
	root, err := filepath.Abs(r.Root)
	require.NoError(t, err)

	path, err := r.Resolve("products", "item-42", "photo.JPG")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "products", "item-42", "photo.JPG"), path)

	rel, err := r.Rel(path)
	require.NoError(t, err)
	assert.Equal(t, "products/item-42/photo.JPG", rel)
}

func TestResolve_Rejections(t *testing.T) {
	r := newResolver(t)

	tests := []struct {
		name    string
		subpath string
		itemID  string
		file    string
		wantErr error
	}{
		{"unknown subpath", "secrets", "1", "a.jpg", ErrSubpathNotAllowed},
		{"traversal in subpath", "../products", "1", "a.jpg", ErrSubpathNotAllowed},
		{"bad extension", "products", "1", "shell.php", ErrInvalidFileType},
		{"double extension", "products", "1", "a.jpg.exe", ErrInvalidFileType},
		{"empty item", "products", "..", "a.jpg", ErrEmptyName},
		{"empty file", "products", "1", "...", ErrEmptyName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.subpath, tt.itemID, tt.file)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestResolve_TraversalIsNeutralized(t *testing.T) {
	r := newResolver(t)
	root, err := filepath.Abs(r.Root)
	require.NoError(t, err)

	inputs := [][3]string{
		{"products", "../../etc", "passwd.jpg"},
		{"products", "1", "../../../../etc/passwd.png"},
		{"products", `..\..\windows`, "x.pdf"},
		{"deadstock", "/abs/path", "/etc/x.jpg"},
	}

	for _, in := range inputs {
		path, err := r.Resolve(in[0], in[1], in[2])
		require.NoError(t, err, "input %v", in)
		assert.True(t, strings.HasPrefix(path, root+string(filepath.Separator)), "path %s escaped %s", path, root)
		assert.NotContains(t, path, "..")
	}
}

func TestSave(t *testing.T) {
	r := newResolver(t)
	ctx := context.Background()

	path, err := r.Resolve("products", "7", "a.png")
	require.NoError(t, err)

	n, err := r.Save(ctx, path, strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestSave_TooLarge(t *testing.T) {
	r := newResolver(t)

	path, err := r.Resolve("products", "8", "big.png")
	require.NoError(t, err)

	_, err = r.Save(context.Background(), path, strings.NewReader(strings.Repeat("x", 17)))
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file should be cleaned up")
}

func TestSave_CancelledContext(t *testing.T) {
	r := newResolver(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path, err := r.Resolve("products", "9", "a.pdf")
	require.NoError(t, err)

	_, err = r.Save(ctx, path, strings.NewReader("pdf"))
	assert.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
