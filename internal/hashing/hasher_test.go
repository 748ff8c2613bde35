package hashing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Small parameters keep the tests fast.
func testHasher(pepper string) *Hasher {
	return NewHasherWithParams(Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1}, pepper)
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher("pepper")

	encoded, err := h.HashPassword("Str0ng!Pass")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := h.VerifyPassword("Str0ng!Pass", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyPassword("Str0ng!Pass2", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashIsSalted(t *testing.T) {
	h := testHasher("")

	a, err := h.HashPassword("same")
	require.NoError(t, err)
	b, err := h.HashPassword("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPepperMatters(t *testing.T) {
	encoded, err := testHasher("one").HashPassword("secret")
	require.NoError(t, err)

	ok, err := testHasher("two").VerifyPassword("secret", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyMalformed(t *testing.T) {
	h := testHasher("")

	for _, bad := range []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=x$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$!!$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdA$",
	} {
		_, err := h.VerifyPassword("x", bad)
		assert.ErrorIs(t, err, ErrInvalidHash, "input %q", bad)
	}

	_, err := h.VerifyPassword("x", "$argon2id$v=16$m=1,t=1,p=1$c2FsdA$aGFzaA")
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}
