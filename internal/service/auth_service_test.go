package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-security/internal/hashing"
)

func newTestService() (*AuthService, *MemoryUserStore) {
	store := NewMemoryUserStore()
	hasher := hashing.NewHasherWithParams(hashing.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1}, "")
	return NewAuthService(store, hasher, nil), store
}

func validRequest() *RegisterRequest {
	return &RegisterRequest{
		Email:    "  Seller@Example.COM ",
		Password: "Str0ng!Pass",
		Name:     "<b>Ravi</b> Traders",
		Phone:    "+91 98765-43210",
		Role:     "seller",
	}
}

func TestRegister(t *testing.T) {
	svc, _ := newTestService()

	user, err := svc.Register(context.Background(), validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, user.UserID)
	assert.Equal(t, "seller@example.com", user.Email)
	assert.Equal(t, "bRavi/b Traders", user.Name)
	assert.Equal(t, "919876543210", user.Phone)
	assert.NotEqual(t, "Str0ng!Pass", user.PasswordHash)
	assert.Empty(t, user.Public().PasswordHash)
}

func TestRegister_Duplicate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.Email = "seller@example.com"
	_, err = svc.Register(ctx, req)
	assert.ErrorIs(t, err, ErrUserAlreadyExists)
}

func TestRegister_WeakPassword(t *testing.T) {
	svc, _ := newTestService()

	req := validRequest()
	req.Password = "password"
	_, err := svc.Register(context.Background(), req)

	var weak *WeakPasswordError
	require.True(t, errors.As(err, &weak))
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, weak.Errors, "Password is too common or contains a common pattern")
}

func TestRegister_InvalidInput(t *testing.T) {
	svc, _ := newTestService()

	for _, mutate := range []func(*RegisterRequest){
		func(r *RegisterRequest) { r.Email = "not-an-email" },
		func(r *RegisterRequest) { r.Name = "<>" },
		func(r *RegisterRequest) { r.Phone = "12345" },
	} {
		req := validRequest()
		mutate(req)
		_, err := svc.Register(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, validRequest())
	require.NoError(t, err)

	user, err := svc.Login(ctx, "SELLER@example.com", "Str0ng!Pass")
	require.NoError(t, err)
	require.NotNil(t, user.LastLogin)

	_, err = svc.Login(ctx, "seller@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "ghost@example.com", "Str0ng!Pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestMemoryUserStore(t *testing.T) {
	store := NewMemoryUserStore()
	ctx := context.Background()

	_, err := store.GetByEmail(ctx, "x@y.in")
	assert.ErrorIs(t, err, ErrUserNotFound)

	assert.ErrorIs(t, store.UpdateLastLogin(ctx, "missing", time.Now()), ErrUserNotFound)
}
