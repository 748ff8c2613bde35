package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Store         StoreConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	RateLimit     RateLimitConfig
	Lockout       LockoutConfig
	Upload        UploadConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Audit         AuditConfig
}

type ServerConfig struct {
	Port           int
	TLSPort        int
	EnableTLS      bool
	AutoCert       bool
	Domain         string
	CertFile       string
	KeyFile        string
	AutoCertDir    string
	Email          string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// StoreConfig selects where limiter and lockout state lives.
// "memory" is per-process; "redis" shares counters across instances.
type StoreConfig struct {
	Backend string
}

type RedisConfig struct {
	URL       string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ElasticsearchConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

// RateLimitConfig holds window/quota pairs per endpoint class.
type RateLimitConfig struct {
	LoginWindow        time.Duration
	LoginMax           int
	RegistrationWindow time.Duration
	RegistrationMax    int
	UploadWindow       time.Duration
	UploadMax          int
	APIWindow          time.Duration
	APIMax             int
	SweepInterval      time.Duration
}

type LockoutConfig struct {
	MaxAttempts     int
	LockoutDuration time.Duration
	TrackingWindow  time.Duration
	CleanupInterval time.Duration
}

type UploadConfig struct {
	Root              string
	AllowedSubpaths   []string
	AllowedExtensions []string
	MaxSize           int64
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	Pepper            string
}

type BucketingConfig struct {
	StoreShards int
}

type AuditConfig struct {
	BufferSize int
}

var (
	loaded   *Config
	loadOnce sync.Once
)

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() *Config {
	loadOnce.Do(func() {
		_ = godotenv.Load()
		loaded = fromEnv()
	})
	return loaded
}

// Get returns the loaded configuration, loading it on first use.
func Get() *Config {
	return LoadConfig()
}

func fromEnv() *Config {
	return &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8080),
			TLSPort:        getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:      getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:       getEnvBool("SERVER_AUTO_CERT", false),
			Domain:         getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:       getEnv("SERVER_CERT_FILE", ""),
			KeyFile:        getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:    getEnv("SERVER_AUTOCERT_DIR", "./certs"),
			Email:          getEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"https://*", "http://localhost:3000"}),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("SECURITY_STORE", StoreMemory)),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			PoolSize:  getEnvInt("REDIS_POOL_SIZE", 20),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "marketplace:"),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_SECURITY_TOPIC", "security-events"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:  getEnvBool("ES_ENABLED", false),
			URL:      getEnv("ES_URL", "http://localhost:9200"),
			Username: getEnv("ES_USERNAME", ""),
			Password: getEnv("ES_PASSWORD", ""),
			Index:    getEnv("ES_SECURITY_INDEX", "security-events"),
		},
		RateLimit: RateLimitConfig{
			LoginWindow:        getEnvDuration("RATE_LIMIT_LOGIN_WINDOW", 15*time.Minute),
			LoginMax:           getEnvInt("RATE_LIMIT_LOGIN_MAX", 5),
			RegistrationWindow: getEnvDuration("RATE_LIMIT_REGISTER_WINDOW", 60*time.Minute),
			RegistrationMax:    getEnvInt("RATE_LIMIT_REGISTER_MAX", 3),
			UploadWindow:       getEnvDuration("RATE_LIMIT_UPLOAD_WINDOW", 60*time.Second),
			UploadMax:          getEnvInt("RATE_LIMIT_UPLOAD_MAX", 10),
			APIWindow:          getEnvDuration("RATE_LIMIT_API_WINDOW", 60*time.Second),
			APIMax:             getEnvInt("RATE_LIMIT_API_MAX", 100),
			SweepInterval:      getEnvDuration("RATE_LIMIT_SWEEP_INTERVAL", time.Minute),
		},
		Lockout: LockoutConfig{
			MaxAttempts:     getEnvInt("LOCKOUT_MAX_ATTEMPTS", 5),
			LockoutDuration: getEnvDuration("LOCKOUT_DURATION", 15*time.Minute),
			TrackingWindow:  getEnvDuration("LOCKOUT_TRACKING_WINDOW", 15*time.Minute),
			CleanupInterval: getEnvDuration("LOCKOUT_CLEANUP_INTERVAL", 5*time.Minute),
		},
		Upload: UploadConfig{
			Root:              getEnv("UPLOAD_ROOT", "./uploads"),
			AllowedSubpaths:   getEnvList("UPLOAD_ALLOWED_SUBPATHS", []string{"products", "deadstock", "suppliers", "avatars"}),
			AllowedExtensions: getEnvList("UPLOAD_ALLOWED_EXTENSIONS", []string{".jpg", ".jpeg", ".png", ".webp", ".pdf"}),
			MaxSize:           int64(getEnvInt("UPLOAD_MAX_BYTES", 5*1024*1024)),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_KB", 64*1024),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
			Pepper:            getEnv("PASSWORD_PEPPER", ""),
		},
		Bucketing: BucketingConfig{
			StoreShards: getEnvInt("STORE_SHARDS", 32),
		},
		Audit: AuditConfig{
			BufferSize: getEnvInt("AUDIT_BUFFER_SIZE", 1024),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// GetServerAddress returns the plain HTTP listen address.
func (c *Config) GetServerAddress() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
