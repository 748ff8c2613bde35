// Package upload maps user-supplied upload coordinates onto files under a
// fixed root directory and refuses anything that would land outside it.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"marketplace-security/internal/sanitize"
)

var (
	ErrSubpathNotAllowed = errors.New("upload subpath not allowed")
	ErrInvalidFileType   = errors.New("file type not allowed")
	ErrPathEscapesRoot   = errors.New("resolved path escapes upload root")
	ErrEmptyName         = errors.New("empty name after sanitization")
	ErrFileTooLarge      = errors.New("file exceeds maximum upload size")
)

type Resolver struct {
	Root              string
	AllowedSubpaths   []string
	AllowedExtensions []string
	MaxSize           int64
}

func (r *Resolver) subpathAllowed(sub string) bool {
	for _, allowed := range r.AllowedSubpaths {
		if sub == allowed {
			return true
		}
	}
	return false
}

func (r *Resolver) root() (string, error) {
	root, err := filepath.Abs(r.Root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve upload root: %w", err)
	}
	return filepath.Clean(root), nil
}

// Resolve returns the absolute path for fileName stored under
// <root>/<subpath>/<itemID>/. Every component is sanitized first, and the
// result must still sit strictly inside the root.
func (r *Resolver) Resolve(subpath, itemID, fileName string) (string, error) {
	sub := sanitize.FileName(subpath)
	if !r.subpathAllowed(sub) {
		return "", fmt.Errorf("%w: %q", ErrSubpathNotAllowed, subpath)
	}

	id := sanitize.FileName(itemID)
	name := sanitize.FileName(fileName)
	if id == "" || name == "" {
		return "", ErrEmptyName
	}

	if !sanitize.IsValidFileType(name, r.AllowedExtensions) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileType, name)
	}

	root, err := r.root()
	if err != nil {
		return "", err
	}

	full, err := filepath.Abs(filepath.Join(root, sub, id, name))
	if err != nil {
		return "", fmt.Errorf("failed to resolve upload path: %w", err)
	}
	full = filepath.Clean(full)

	if !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", ErrPathEscapesRoot
	}
	return full, nil
}

// Rel returns path relative to the root with forward slashes, for responses.
func (r *Resolver) Rel(path string) (string, error) {
	root, err := r.root()
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", fmt.Errorf("failed to relativize upload path: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// Save streams src into path, refusing more than MaxSize bytes. The file is
// written to a temporary name and renamed into place, so a rejected or
// interrupted upload leaves nothing behind.
func (r *Resolver) Save(ctx context.Context, path string, src io.Reader) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, fmt.Errorf("failed to create upload directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	reader := src
	if r.MaxSize > 0 {
		reader = io.LimitReader(src, r.MaxSize+1)
	}

	written, err := io.Copy(tmp, reader)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write upload: %w", err)
	}
	if r.MaxSize > 0 && written > r.MaxSize {
		return 0, ErrFileTooLarge
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return 0, fmt.Errorf("failed to move upload into place: %w", err)
	}
	return written, nil
}
