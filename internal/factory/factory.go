package factory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketplace-security/internal/audit"
	"marketplace-security/internal/bucketing"
	"marketplace-security/internal/client"
	"marketplace-security/internal/config"
	"marketplace-security/internal/handler"
	"marketplace-security/internal/hashing"
	"marketplace-security/internal/lockout"
	"marketplace-security/internal/ratelimit"
	"marketplace-security/internal/repository/redis"
	"marketplace-security/internal/service"
	"marketplace-security/internal/tls"
	"marketplace-security/internal/upload"
	"marketplace-security/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	tlsManager *tls.TLSManager

	// Clients
	redisClient   *client.RedisClient
	kafkaProducer *client.KafkaProducer
	esClient      *client.ESClient

	bucketingManager *bucketing.BucketingManager
	hasher           *hashing.Hasher

	// Security layer
	limiters  *ratelimit.Limiters
	lockouts  *lockout.Manager
	publisher *audit.Publisher
	resolver  *upload.Resolver
	auth      *service.AuthService

	router http.Handler

	cancel    context.CancelFunc
	workers   []<-chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and wires every component.
func NewFactory() (*Factory, error) {
	return New(config.LoadConfig())
}

// New wires the application from an explicit configuration.
func New(cfg *config.Config) (*Factory, error) {
	logger := util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{
		config: cfg,
		logger: logger,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(cfg)
	}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	f.initializeSecurity()
	f.initializeHandlers()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("store", cfg.Store.Backend),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kafka_enabled", f.kafkaProducer != nil),
		util.Bool("elasticsearch_enabled", f.esClient != nil),
	)

	return f, nil
}

// initializeClients connects the optional backends. Redis is required only
// when it backs the stores; audit sinks are best effort outside production.
func (f *Factory) initializeClients() error {
	var initErrors []error

	if f.config.Store.Backend == config.StoreRedis {
		rc, err := client.NewRedisClient(f.config, f.logger)
		if err != nil {
			// No memory fallback: the counters must be shared.
			return fmt.Errorf("redis: %w", err)
		}
		f.redisClient = rc
		util.Info("Redis client initialized and healthy")
	}

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, f.logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	if f.config.Elasticsearch.Enabled {
		if es, err := client.NewElasticsearchClient(f.config, f.logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = es
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			f.closeClients()
			return fmt.Errorf("critical service initialization failed: %w", errors.Join(initErrors...))
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning - continuing without it", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) initializeSecurity() {
	cfg := f.config
	f.bucketingManager = bucketing.NewBucketingManager(cfg.Bucketing.StoreShards)

	sinks := []audit.Sink{audit.NewLogSink(util.Named("audit"))}
	if f.kafkaProducer != nil {
		sinks = append(sinks, audit.NewKafkaSink(f.kafkaProducer.Writer))
	}
	if f.esClient != nil {
		sinks = append(sinks, audit.NewElasticsearchSink(f.esClient, cfg.Elasticsearch.Index))
	}
	f.publisher = audit.NewPublisher(cfg.Audit.BufferSize, f.logger, sinks...)

	rl := cfg.RateLimit
	f.limiters = &ratelimit.Limiters{
		Login:        f.newLimiter(ratelimit.Config{Name: ratelimit.LoginConfig.Name, Window: rl.LoginWindow, MaxRequests: rl.LoginMax}),
		Registration: f.newLimiter(ratelimit.Config{Name: ratelimit.RegistrationConfig.Name, Window: rl.RegistrationWindow, MaxRequests: rl.RegistrationMax}),
		Upload:       f.newLimiter(ratelimit.Config{Name: ratelimit.UploadConfig.Name, Window: rl.UploadWindow, MaxRequests: rl.UploadMax}),
		API:          f.newLimiter(ratelimit.Config{Name: ratelimit.APIConfig.Name, Window: rl.APIWindow, MaxRequests: rl.APIMax}),
	}

	lockoutCfg := lockout.Config{
		MaxAttempts:     cfg.Lockout.MaxAttempts,
		LockoutDuration: cfg.Lockout.LockoutDuration,
		TrackingWindow:  cfg.Lockout.TrackingWindow,
		CleanupInterval: cfg.Lockout.CleanupInterval,
	}
	var lockoutStore lockout.Store
	if f.redisClient != nil {
		lockoutStore = redis.NewLockoutCache(f.redisClient, 2*lockoutCfg.TrackingWindow)
	} else {
		lockoutStore = lockout.NewMemoryStore(f.bucketingManager)
	}
	f.lockouts = lockout.NewManager(lockoutCfg, lockoutStore, util.Named("lockout"),
		lockout.WithOnLock(func(identifier string, until time.Time) {
			f.publisher.Emit(audit.NewEvent(audit.EventAccountLocked, identifier, "", "").
				With("locked_until", until.UTC().Format(time.RFC3339)))
		}))

	f.hasher = hashing.NewHasher(cfg)
	f.auth = service.NewAuthService(service.NewMemoryUserStore(), f.hasher, util.Named("auth"))

	f.resolver = &upload.Resolver{
		Root:              cfg.Upload.Root,
		AllowedSubpaths:   cfg.Upload.AllowedSubpaths,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		MaxSize:           cfg.Upload.MaxSize,
	}

	util.Info("Security components initialized",
		util.Int("store_shards", f.bucketingManager.Buckets()),
		util.Int("audit_sinks", len(sinks)),
		util.Int("lockout_max_attempts", lockoutCfg.MaxAttempts),
	)
}

// newLimiter gives each limiter class its own store so equal keys from
// different classes never share a window.
func (f *Factory) newLimiter(cfg ratelimit.Config) *ratelimit.Limiter {
	var store ratelimit.Store
	if f.redisClient != nil {
		store = redis.NewRateLimitCache(f.redisClient, cfg.Name)
	} else {
		store = ratelimit.NewMemoryStore(f.bucketingManager)
	}
	return ratelimit.NewLimiter(cfg, store, util.Named("ratelimit"))
}

func (f *Factory) initializeHandlers() {
	authHandler := handler.NewAuthHandler(f.auth, f.lockouts, f.limiters, f.publisher, f.logger)
	uploadHandler := handler.NewUploadHandler(f.resolver, f.limiters.Upload, f.publisher, f.logger)

	f.router = handler.NewRouter(handler.RouterConfig{
		AllowedOrigins: f.config.Server.AllowedOrigins,
		RequireHTTPS:   f.config.IsProduction() && f.config.Server.EnableTLS,
		RequestTimeout: f.config.Server.WriteTimeout,
		API:            f.limiters.API,
		Emitter:        f.publisher,
		Logger:         f.logger,
		Health:         f.Ping,
	}, authHandler, uploadHandler)
}

// Start launches the periodic sweepers. They stop on Close or when ctx ends.
func (f *Factory) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	for _, l := range f.limiters.All() {
		f.workers = append(f.workers, l.StartSweeper(ctx, f.config.RateLimit.SweepInterval))
	}
	f.workers = append(f.workers, f.lockouts.StartCleanup(ctx))

	util.Info("Background sweepers started", util.Int("workers", len(f.workers)))
}

// Ping reports whether the backing store is reachable. Audit sinks are not
// checked: losing them never blocks a request.
func (f *Factory) Ping(ctx context.Context) error {
	if f.redisClient != nil {
		return f.redisClient.HealthCheck(ctx)
	}
	return nil
}

// HealthCheck reports every configured backend, keyed by name.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}
	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	return healthErrors
}

// Close stops the sweepers, drains pending audit events and closes clients.
func (f *Factory) Close(ctx context.Context) error {
	var err error
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.cancel != nil {
			f.cancel()
			for _, done := range f.workers {
				<-done
			}
			util.Info("Background sweepers stopped")
		}

		if f.publisher != nil {
			if err = f.publisher.Close(ctx); err != nil {
				util.Error("Audit publisher did not drain", util.ErrorField(err))
			} else {
				util.Info("Audit publisher drained")
			}
		}

		f.closeClients()

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return err
}

func (f *Factory) closeClients() {
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.Close(); err != nil {
			util.Error("Failed to close Kafka producer", util.ErrorField(err))
		} else {
			util.Info("Kafka producer closed")
		}
	}

	if f.esClient != nil {
		f.esClient.Close()
		util.Info("Elasticsearch client closed")
	}

	if f.redisClient != nil {
		if err := f.redisClient.Close(); err != nil {
			util.Error("Failed to close Redis client", util.ErrorField(err))
		} else {
			util.Info("Redis client closed")
		}
	}
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Router() http.Handler {
	return f.router
}

func (f *Factory) Limiters() *ratelimit.Limiters {
	return f.limiters
}

func (f *Factory) Lockouts() *lockout.Manager {
	return f.lockouts
}
