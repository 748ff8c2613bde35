package factory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-security/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Environment: "test",
		Logging:     config.LoggingConfig{Level: "error", Format: "console"},
		Store:       config.StoreConfig{Backend: config.StoreMemory},
		Server:      config.ServerConfig{AllowedOrigins: []string{"*"}, WriteTimeout: 5 * time.Second},
		RateLimit: config.RateLimitConfig{
			LoginWindow:        15 * time.Minute,
			LoginMax:           5,
			RegistrationWindow: time.Hour,
			RegistrationMax:    3,
			UploadWindow:       time.Minute,
			UploadMax:          10,
			APIWindow:          time.Minute,
			APIMax:             100,
			SweepInterval:      10 * time.Millisecond,
		},
		Lockout: config.LockoutConfig{
			MaxAttempts:     5,
			LockoutDuration: 15 * time.Minute,
			TrackingWindow:  15 * time.Minute,
			CleanupInterval: 10 * time.Millisecond,
		},
		Upload: config.UploadConfig{
			Root:              t.TempDir(),
			AllowedSubpaths:   []string{"products"},
			AllowedExtensions: []string{".png"},
			MaxSize:           1024,
		},
		Hashing:   config.HashingConfig{Argon2MemoryCost: 1024, Argon2TimeCost: 1, Argon2Parallelism: 1},
		Bucketing: config.BucketingConfig{StoreShards: 4},
		Audit:     config.AuditConfig{BufferSize: 16},
	}
}

func TestNew_MemoryBackend(t *testing.T) {
	f, err := New(testConfig(t))
	require.NoError(t, err)

	f.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer func() { assert.NoError(t, f.Close(ctx)) }()

	assert.Empty(t, f.HealthCheck(ctx))
	assert.Equal(t, 3, f.Limiters().Registration.Config().MaxRequests)
	assert.Equal(t, 5, f.Lockouts().Config().MaxAttempts)

	rec := httptest.NewRecorder()
	f.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	body := `{"email":"asha@example.in","password":"Str0ng!Pass","name":"Asha","role":"seller"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec = httptest.NewRecorder()
	f.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestClose_IsIdempotent(t *testing.T) {
	f, err := New(testConfig(t))
	require.NoError(t, err)
	f.Start(context.Background())

	ctx := context.Background()
	require.NoError(t, f.Close(ctx))
	require.NoError(t, f.Close(ctx))

	select {
	case <-f.closed:
	default:
		t.Fatal("closed channel should be closed")
	}
}

func TestNew_RedisBackendRequiresRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = config.StoreRedis
	cfg.Redis = config.RedisConfig{URL: "redis://127.0.0.1:1/0"}

	_, err := New(cfg)
	assert.Error(t, err)
}
