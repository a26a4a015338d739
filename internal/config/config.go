// Package config provides configuration loading and validation for the application.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Default configuration constants.
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8080
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "1M"

	DefaultMongoDBTimeout     = 10 * time.Second
	DefaultMongoDBMaxPoolSize = 100

	DefaultSQLMaxOpenConns = 10

	DefaultRedisPoolSize = 10

	DefaultKafkaWriteTimeout = 10 * time.Second

	DefaultExpiryHorizon       = 30 * time.Minute
	DefaultExpirySweepInterval = time.Minute
	DefaultConcurrencyAttempts = 5

	DefaultRetryMaxAttempts     = 4
	DefaultRetryInitialInterval = 200 * time.Millisecond
	DefaultRetryMaxInterval     = 5 * time.Second
	DefaultRetryMaxElapsed      = 30 * time.Second

	DefaultProviderTimeout   = 10 * time.Second
	DefaultProviderRateLimit = 20
	DefaultProviderBurst     = 5

	DefaultCacheTTL = 24 * time.Hour

	DefaultOutboxPollInterval = 100 * time.Millisecond
	DefaultOutboxBatchSize    = 100
	DefaultRepairPollInterval = 5 * time.Second
	DefaultWebhookConcurrency = 10
	DefaultWebhookMaxRetry    = 8
	DefaultInlineWorkers      = 4
	DefaultInlineBuffer       = 1024
	DefaultDispatchWorkers    = 4
	DefaultDispatchBuffer     = 1024
	DefaultDedupeTTL          = 72 * time.Hour

	DefaultRateLimit       = 100
	DefaultRateLimitWindow = time.Minute

	DefaultWSBufferSize   = 1024
	DefaultWSPingInterval = 30 * time.Second
	DefaultWSPongTimeout  = 60 * time.Second

	DefaultTracingSampleRatio = 1.0
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Event store backends.
const (
	StoreMongoDB  = "mongodb"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Event bus types.
const (
	BusRedis = "redis"
	BusKafka = "kafka"
	BusNone  = "none"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config holds the complete application configuration.
type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	EventStore EventStoreConfig `yaml:"eventstore"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
	SQL        SQLConfig        `yaml:"sql"`
	Redis      RedisConfig      `yaml:"redis"`
	EventBus   EventBusConfig   `yaml:"eventbus"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Payments   PaymentsConfig   `yaml:"payments"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Cache      CacheConfig      `yaml:"cache"`
	Worker     WorkerConfig     `yaml:"worker"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Log        LogConfig        `yaml:"log"`
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	// Name is the application name used in logs, metrics and traces.
	Name        string `yaml:"name" env:"APP_NAME"`
	Environment string `yaml:"environment" env:"APP_ENV"` // development | production
}

// ServerConfig holds HTTP server configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	BodyLimit       string        `yaml:"body_limit" env:"SERVER_BODY_LIMIT"`
}

// Address returns the full server address (host:port).
func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// EventStoreConfig selects the event log backend.
type EventStoreConfig struct {
	Backend string `yaml:"backend" env:"EVENTSTORE_BACKEND"` // mongodb | sqlite | postgres | memory
}

// MongoDBConfig holds MongoDB connection configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type MongoDBConfig struct {
	URI         string        `yaml:"uri" env:"MONGODB_URI"`
	Database    string        `yaml:"database" env:"MONGODB_DATABASE"`
	Timeout     time.Duration `yaml:"timeout" env:"MONGODB_TIMEOUT"`
	MaxPoolSize uint64        `yaml:"max_pool_size" env:"MONGODB_MAX_POOL_SIZE"`
}

// SQLConfig holds the sql event store connection. DSN is a file path for
// sqlite and a connection string for postgres.
type SQLConfig struct {
	DSN          string `yaml:"dsn" env:"SQL_DSN"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"SQL_MAX_OPEN_CONNS"`
}

// RedisConfig holds Redis connection configuration. An empty Addr runs
// without Redis: inline webhook queue, memory cache and dedupe.
//
//nolint:golines // Struct tags require longer lines for readability
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	PoolSize int    `yaml:"pool_size" env:"REDIS_POOL_SIZE"`
}

// Enabled reports whether a Redis server is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// EventBusConfig holds event bus configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type EventBusConfig struct {
	Type               string `yaml:"type" env:"EVENTBUS_TYPE"` // redis | kafka | none
	RedisChannelPrefix string `yaml:"redis_channel_prefix" env:"EVENTBUS_REDIS_CHANNEL_PREFIX"`
}

// KafkaConfig holds Kafka producer configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
	TopicPrefix  string        `yaml:"topic_prefix" env:"KAFKA_TOPIC_PREFIX"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"KAFKA_WRITE_TIMEOUT"`
}

// PaymentsConfig holds saga settings.
//
//nolint:golines // Struct tags require longer lines for readability
type PaymentsConfig struct {
	ExpiryHorizon       time.Duration `yaml:"expiry_horizon" env:"PAYMENTS_EXPIRY_HORIZON"`
	ExpirySweepInterval time.Duration `yaml:"expiry_sweep_interval" env:"PAYMENTS_EXPIRY_SWEEP_INTERVAL"`
	ConcurrencyAttempts int           `yaml:"concurrency_attempts" env:"PAYMENTS_CONCURRENCY_ATTEMPTS"`
	Retry               RetryConfig   `yaml:"retry"`
	Fees                FeesConfig    `yaml:"fees"`
}

// RetryConfig bounds provider call retries.
//
//nolint:golines // Struct tags require longer lines for readability
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" env:"PAYMENTS_RETRY_MAX_ATTEMPTS"`
	InitialInterval time.Duration `yaml:"initial_interval" env:"PAYMENTS_RETRY_INITIAL_INTERVAL"`
	MaxInterval     time.Duration `yaml:"max_interval" env:"PAYMENTS_RETRY_MAX_INTERVAL"`
	MaxElapsed      time.Duration `yaml:"max_elapsed" env:"PAYMENTS_RETRY_MAX_ELAPSED"`
}

// FeesConfig holds the fee policy in minor units and basis points.
//
//nolint:golines // Struct tags require longer lines for readability
type FeesConfig struct {
	PlatformBPS   int64            `yaml:"platform_bps" env:"PAYMENTS_FEES_PLATFORM_BPS"`
	ProcessingBPS int64            `yaml:"processing_bps" env:"PAYMENTS_FEES_PROCESSING_BPS"`
	ProviderFlat  map[string]int64 `yaml:"provider_flat"`
}

// ProvidersConfig holds one adapter per payment method.
type ProvidersConfig struct {
	MobileMoney  ProviderConfig `yaml:"mobile_money" envPrefix:"PROVIDER_MOBILE_MONEY_"`
	Card         ProviderConfig `yaml:"card" envPrefix:"PROVIDER_CARD_"`
	BankTransfer ProviderConfig `yaml:"bank_transfer" envPrefix:"PROVIDER_BANK_TRANSFER_"`
}

// ProviderConfig configures one provider adapter. Sandbox replaces the HTTP
// adapter with a local one that completes every payment.
//
//nolint:golines // Struct tags require longer lines for readability
type ProviderConfig struct {
	Name          string        `yaml:"name" env:"NAME"`
	BaseURL       string        `yaml:"base_url" env:"BASE_URL"`
	APIKey        string        `yaml:"api_key" env:"API_KEY"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	RateLimit     float64       `yaml:"rate_limit" env:"RATE_LIMIT"`
	Burst         int           `yaml:"burst" env:"BURST"`
	WebhookSecret string        `yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
	JWKSURL       string        `yaml:"jwks_url" env:"JWKS_URL"`
	Sandbox       bool          `yaml:"sandbox" env:"SANDBOX"`
}

// All returns the provider configs keyed by payment method.
func (c ProvidersConfig) All() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"mobile_money":  c.MobileMoney,
		"card":          c.Card,
		"bank_transfer": c.BankTransfer,
	}
}

// CacheConfig holds state cache configuration.
type CacheConfig struct {
	Backend string        `yaml:"backend" env:"CACHE_BACKEND"` // memory | redis
	TTL     time.Duration `yaml:"ttl" env:"CACHE_TTL"`
	Prefix  string        `yaml:"prefix" env:"CACHE_PREFIX"`
}

// WorkerConfig holds background worker configuration.
// DispatchWorkers = 0 materializes commits on the command path.
//
//nolint:golines // Struct tags require longer lines for readability
type WorkerConfig struct {
	OutboxPollInterval time.Duration `yaml:"outbox_poll_interval" env:"WORKER_OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `yaml:"outbox_batch_size" env:"WORKER_OUTBOX_BATCH_SIZE"`
	RepairPollInterval time.Duration `yaml:"repair_poll_interval" env:"WORKER_REPAIR_POLL_INTERVAL"`
	WebhookConcurrency int           `yaml:"webhook_concurrency" env:"WORKER_WEBHOOK_CONCURRENCY"`
	WebhookMaxRetry    int           `yaml:"webhook_max_retry" env:"WORKER_WEBHOOK_MAX_RETRY"`
	InlineWorkers      int           `yaml:"inline_workers" env:"WORKER_INLINE_WORKERS"`
	InlineBuffer       int           `yaml:"inline_buffer" env:"WORKER_INLINE_BUFFER"`
	DispatchWorkers    int           `yaml:"dispatch_workers" env:"WORKER_DISPATCH_WORKERS"`
	DispatchBuffer     int           `yaml:"dispatch_buffer" env:"WORKER_DISPATCH_BUFFER"`
	DedupeTTL          time.Duration `yaml:"dedupe_ttl" env:"WORKER_DEDUPE_TTL"`
}

// RateLimitConfig holds ingress rate limiting.
//
//nolint:golines // Struct tags require longer lines for readability
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	Limit   int           `yaml:"limit" env:"RATE_LIMIT_LIMIT"`
	Window  time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW"`
}

// WebSocketConfig holds WebSocket server configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" env:"WS_READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" env:"WS_WRITE_BUFFER_SIZE"`
	PingInterval    time.Duration `yaml:"ping_interval" env:"WS_PING_INTERVAL"`
	PongTimeout     time.Duration `yaml:"pong_timeout" env:"WS_PONG_TIMEOUT"`
}

// TracingConfig holds the OTLP exporter settings. An empty Endpoint disables tracing.
//
//nolint:golines // Struct tags require longer lines for readability
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure    bool    `yaml:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE"`
	SampleRatio float64 `yaml:"sample_ratio" env:"TRACING_SAMPLE_RATIO"`
}

// LogConfig holds logging configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug | info | warn | error
	Format string `yaml:"format" env:"LOG_FORMAT"` // json | text
}

// Configuration errors.
var (
	ErrConfigNotFound        = errors.New("configuration file not found")
	ErrConfigInvalid         = errors.New("invalid configuration")
	ErrMissingRequired       = errors.New("missing required configuration")
	ErrInvalidLogLevel       = errors.New("invalid log level: must be debug, info, warn, or error")
	ErrInvalidLogFormat      = errors.New("invalid log format: must be json or text")
	ErrInvalidEventBusType   = errors.New("invalid event bus type: must be redis, kafka or none")
	ErrInvalidStoreBackend   = errors.New("invalid event store backend: must be mongodb, sqlite, postgres or memory")
	ErrInvalidCacheBackend   = errors.New("invalid cache backend: must be memory or redis")
	ErrInvalidEnvironment    = errors.New("invalid environment: must be development or production")
	ErrMemoryStoreInProd     = errors.New("memory event store is not allowed in production")
	ErrSandboxProviderInProd = errors.New("sandbox providers are not allowed in production")
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "estately",
			Environment: EnvDevelopment,
		},
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			BodyLimit:       DefaultBodyLimit,
		},
		EventStore: EventStoreConfig{
			Backend: StoreMongoDB,
		},
		MongoDB: MongoDBConfig{
			URI:         "mongodb://localhost:27017",
			Database:    "estately",
			Timeout:     DefaultMongoDBTimeout,
			MaxPoolSize: DefaultMongoDBMaxPoolSize,
		},
		SQL: SQLConfig{
			DSN:          "estately.db",
			MaxOpenConns: DefaultSQLMaxOpenConns,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: DefaultRedisPoolSize,
		},
		EventBus: EventBusConfig{
			Type:               BusRedis,
			RedisChannelPrefix: "events:",
		},
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			TopicPrefix:  "estately.",
			WriteTimeout: DefaultKafkaWriteTimeout,
		},
		Payments: PaymentsConfig{
			ExpiryHorizon:       DefaultExpiryHorizon,
			ExpirySweepInterval: DefaultExpirySweepInterval,
			ConcurrencyAttempts: DefaultConcurrencyAttempts,
			Retry: RetryConfig{
				MaxAttempts:     DefaultRetryMaxAttempts,
				InitialInterval: DefaultRetryInitialInterval,
				MaxInterval:     DefaultRetryMaxInterval,
				MaxElapsed:      DefaultRetryMaxElapsed,
			},
		},
		Providers: ProvidersConfig{
			MobileMoney:  defaultProvider("mobile_money"),
			Card:         defaultProvider("card"),
			BankTransfer: defaultProvider("bank_transfer"),
		},
		Cache: CacheConfig{
			Backend: CacheRedis,
			TTL:     DefaultCacheTTL,
			Prefix:  "estately:",
		},
		Worker: WorkerConfig{
			OutboxPollInterval: DefaultOutboxPollInterval,
			OutboxBatchSize:    DefaultOutboxBatchSize,
			RepairPollInterval: DefaultRepairPollInterval,
			WebhookConcurrency: DefaultWebhookConcurrency,
			WebhookMaxRetry:    DefaultWebhookMaxRetry,
			InlineWorkers:      DefaultInlineWorkers,
			InlineBuffer:       DefaultInlineBuffer,
			DispatchWorkers:    DefaultDispatchWorkers,
			DispatchBuffer:     DefaultDispatchBuffer,
			DedupeTTL:          DefaultDedupeTTL,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Limit:   DefaultRateLimit,
			Window:  DefaultRateLimitWindow,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  DefaultWSBufferSize,
			WriteBufferSize: DefaultWSBufferSize,
			PingInterval:    DefaultWSPingInterval,
			PongTimeout:     DefaultWSPongTimeout,
		},
		Tracing: TracingConfig{
			SampleRatio: DefaultTracingSampleRatio,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func defaultProvider(name string) ProviderConfig {
	return ProviderConfig{
		Name:      name,
		Timeout:   DefaultProviderTimeout,
		RateLimit: DefaultProviderRateLimit,
		Burst:     DefaultProviderBurst,
		Sandbox:   true,
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	var errs []error

	errs = c.validateApp(errs)
	errs = c.validateServer(errs)
	errs = c.validateEventStore(errs)
	errs = c.validateRedis(errs)
	errs = c.validateEventBus(errs)
	errs = c.validatePayments(errs)
	errs = c.validateProviders(errs)
	errs = c.validateCache(errs)
	errs = c.validateWorker(errs)
	errs = c.validateLog(errs)
	errs = c.validateWebSocket(errs)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
	}

	return nil
}

func (c *Config) validateApp(errs []error) []error {
	switch c.App.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("%w: got %q", ErrInvalidEnvironment, c.App.Environment))
	}
	return errs
}

func (c *Config) validateServer(errs []error) []error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, errors.New("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server.write_timeout must be positive"))
	}
	return errs
}

// validateEventStore checks the backend and the connection it needs.
func (c *Config) validateEventStore(errs []error) []error {
	switch c.EventStore.Backend {
	case StoreMongoDB:
		if c.MongoDB.URI == "" {
			errs = append(errs, fmt.Errorf("%w: mongodb.uri", ErrMissingRequired))
		}
		if c.MongoDB.Database == "" {
			errs = append(errs, fmt.Errorf("%w: mongodb.database", ErrMissingRequired))
		}
	case StoreSQLite, StorePostgres:
		if c.SQL.DSN == "" {
			errs = append(errs, fmt.Errorf("%w: sql.dsn", ErrMissingRequired))
		}
	case StoreMemory:
		if c.IsProduction() {
			errs = append(errs, ErrMemoryStoreInProd)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: got %q", ErrInvalidStoreBackend, c.EventStore.Backend))
	}
	return errs
}

func (c *Config) validateRedis(errs []error) []error {
	if c.Redis.Enabled() && c.Redis.PoolSize < 0 {
		errs = append(errs, errors.New("redis.pool_size must not be negative"))
	}
	return errs
}

func (c *Config) validateEventBus(errs []error) []error {
	switch strings.ToLower(c.EventBus.Type) {
	case BusRedis:
		if !c.Redis.Enabled() {
			errs = append(errs, fmt.Errorf("%w: redis.addr for the redis event bus", ErrMissingRequired))
		}
	case BusKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, fmt.Errorf("%w: kafka.brokers", ErrMissingRequired))
		}
	case BusNone:
	default:
		errs = append(errs, ErrInvalidEventBusType)
	}
	return errs
}

func (c *Config) validatePayments(errs []error) []error {
	p := c.Payments
	if p.ExpiryHorizon <= 0 {
		errs = append(errs, errors.New("payments.expiry_horizon must be positive"))
	}
	if p.ConcurrencyAttempts <= 0 {
		errs = append(errs, errors.New("payments.concurrency_attempts must be positive"))
	}
	if p.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("payments.retry.max_attempts must be positive"))
	}
	if p.Retry.InitialInterval <= 0 || p.Retry.MaxInterval < p.Retry.InitialInterval {
		errs = append(errs, errors.New("payments.retry intervals must be positive and ordered"))
	}
	if p.Fees.PlatformBPS < 0 || p.Fees.ProcessingBPS < 0 {
		errs = append(errs, errors.New("payments.fees must not be negative"))
	}
	return errs
}

func (c *Config) validateProviders(errs []error) []error {
	for method, p := range c.Providers.All() {
		if p.Sandbox {
			if c.IsProduction() {
				errs = append(errs, fmt.Errorf("%w: %s", ErrSandboxProviderInProd, method))
			}
			continue
		}
		if p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%w: providers.%s.base_url", ErrMissingRequired, method))
		}
		if p.WebhookSecret != "" && p.JWKSURL != "" {
			errs = append(errs, fmt.Errorf("providers.%s: set webhook_secret or jwks_url, not both", method))
		}
	}
	return errs
}

func (c *Config) validateCache(errs []error) []error {
	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if !c.Redis.Enabled() {
			errs = append(errs, fmt.Errorf("%w: redis.addr for the redis cache", ErrMissingRequired))
		}
	default:
		errs = append(errs, ErrInvalidCacheBackend)
	}
	return errs
}

func (c *Config) validateWorker(errs []error) []error {
	w := c.Worker
	if w.OutboxPollInterval <= 0 || w.RepairPollInterval <= 0 {
		errs = append(errs, errors.New("worker poll intervals must be positive"))
	}
	if w.InlineWorkers <= 0 || w.InlineBuffer <= 0 {
		errs = append(errs, errors.New("worker.inline_workers and worker.inline_buffer must be positive"))
	}
	if w.DispatchWorkers < 0 || (w.DispatchWorkers > 0 && w.DispatchBuffer <= 0) {
		errs = append(errs, errors.New("worker.dispatch_workers must not be negative and needs a positive worker.dispatch_buffer"))
	}
	return errs
}

func (c *Config) validateLog(errs []error) []error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ErrInvalidLogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, ErrInvalidLogFormat)
	}
	return errs
}

func (c *Config) validateWebSocket(errs []error) []error {
	if c.WebSocket.ReadBufferSize <= 0 {
		errs = append(errs, errors.New("websocket.read_buffer_size must be positive"))
	}
	if c.WebSocket.WriteBufferSize <= 0 {
		errs = append(errs, errors.New("websocket.write_buffer_size must be positive"))
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongTimeout <= c.WebSocket.PingInterval {
		errs = append(errs, errors.New("websocket.ping_interval must be positive and shorter than pong_timeout"))
	}
	return errs
}

// Load loads configuration from the default config file and environment variables.
func Load() (*Config, error) {
	return LoadFromPath("")
}

// LoadFromPath loads configuration from a specific file path.
// If path is empty, it tries to find the config file in standard locations.
func LoadFromPath(path string) (*Config, error) {
	loader := NewLoader()
	return loader.Load(path)
}

// Loader handles configuration loading from files and environment variables.
type Loader struct {
	configPaths []string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		configPaths: []string{
			"configs/config.yaml",
			"config.yaml",
			"/etc/estately/config.yaml",
		},
	}
}

// WithConfigPaths sets custom config paths to search.
func (l *Loader) WithConfigPaths(paths []string) *Loader {
	l.configPaths = paths
	return l
}

// Load loads configuration from file and environment variables.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	configPath := path
	if configPath == "" {
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			configPath = envPath
		} else {
			for _, p := range l.configPaths {
				if _, err := os.Stat(p); err == nil {
					configPath = p
					break
				}
			}
		}
	}

	if configPath != "" {
		if err := l.loadFromFile(cfg, configPath); err != nil {
			// Явно указанный файл обязан загрузиться
			if path != "" || os.Getenv("CONFIG_PATH") != "" {
				return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if unmarshalErr := yaml.Unmarshal(data, cfg); unmarshalErr != nil {
		return fmt.Errorf("failed to parse config file: %w", unmarshalErr)
	}

	return nil
}

// IsDevelopment returns true when running in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true when running in the production environment.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}
