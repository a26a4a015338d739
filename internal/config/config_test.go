package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/estately/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.NotNil(t, cfg)

	// Server defaults
	assert.Equal(t, config.DefaultHost, cfg.Server.Host)
	assert.Equal(t, config.DefaultPort, cfg.Server.Port)
	assert.Equal(t, config.DefaultReadTimeout, cfg.Server.ReadTimeout)
	assert.Equal(t, config.DefaultShutdownTimeout, cfg.Server.ShutdownTimeout)
	assert.Equal(t, config.DefaultBodyLimit, cfg.Server.BodyLimit)

	// Storage defaults
	assert.Equal(t, config.StoreMongoDB, cfg.EventStore.Backend)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoDB.URI)
	assert.Equal(t, "estately", cfg.MongoDB.Database)
	assert.Equal(t, uint64(config.DefaultMongoDBMaxPoolSize), cfg.MongoDB.MaxPoolSize)

	// Redis defaults
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, config.DefaultRedisPoolSize, cfg.Redis.PoolSize)

	// EventBus defaults
	assert.Equal(t, config.BusRedis, cfg.EventBus.Type)
	assert.Equal(t, "events:", cfg.EventBus.RedisChannelPrefix)

	// Payments defaults
	assert.Equal(t, config.DefaultExpiryHorizon, cfg.Payments.ExpiryHorizon)
	assert.Equal(t, config.DefaultRetryMaxAttempts, cfg.Payments.Retry.MaxAttempts)
	assert.True(t, cfg.Providers.Card.Sandbox)
	assert.Equal(t, "card", cfg.Providers.Card.Name)

	// Worker defaults
	assert.Equal(t, config.DefaultDispatchWorkers, cfg.Worker.DispatchWorkers)
	assert.Equal(t, config.DefaultDispatchBuffer, cfg.Worker.DispatchBuffer)

	// Log defaults
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Empty(t, cfg.Tracing.Endpoint)
	assert.True(t, cfg.IsDevelopment())
	require.NoError(t, cfg.Validate())
}

func TestServerConfig_Address(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		expected string
	}{
		{name: "default address", host: "0.0.0.0", port: 8080, expected: "0.0.0.0:8080"},
		{name: "localhost", host: "localhost", port: 3000, expected: "localhost:3000"},
		{name: "ipv6", host: "::1", port: 9090, expected: "[::1]:9090"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.ServerConfig{Host: tt.host, Port: tt.port}
			assert.Equal(t, tt.expected, cfg.Address())
		})
	}
}

func TestConfig_Validate_InvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 65536} {
		cfg := config.DefaultConfig()
		cfg.Server.Port = port

		err := cfg.Validate()
		require.Error(t, err)
		require.ErrorIs(t, err, config.ErrConfigInvalid)
		assert.Contains(t, err.Error(), "server.port")
	}
}

func TestConfig_Validate_EventStoreBackends(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr error
	}{
		{
			name:   "sqlite with dsn",
			mutate: func(c *config.Config) { c.EventStore.Backend = config.StoreSQLite },
		},
		{
			name: "postgres without dsn",
			mutate: func(c *config.Config) {
				c.EventStore.Backend = config.StorePostgres
				c.SQL.DSN = ""
			},
			wantErr: config.ErrMissingRequired,
		},
		{
			name:    "mongodb without uri",
			mutate:  func(c *config.Config) { c.MongoDB.URI = "" },
			wantErr: config.ErrMissingRequired,
		},
		{
			name:   "memory in development",
			mutate: func(c *config.Config) { c.EventStore.Backend = config.StoreMemory },
		},
		{
			name:    "unknown backend",
			mutate:  func(c *config.Config) { c.EventStore.Backend = "cassandra" },
			wantErr: config.ErrInvalidStoreBackend,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfig_Validate_Production(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.App.Environment = config.EnvProduction
	cfg.EventStore.Backend = config.StoreMemory

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMemoryStoreInProd)
	assert.ErrorIs(t, err, config.ErrSandboxProviderInProd)

	cfg.EventStore.Backend = config.StoreMongoDB
	for _, p := range []*config.ProviderConfig{&cfg.Providers.MobileMoney, &cfg.Providers.Card, &cfg.Providers.BankTransfer} {
		p.Sandbox = false
		p.BaseURL = "https://provider.example"
		p.WebhookSecret = "secret"
	}
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.IsProduction())
}

func TestConfig_Validate_Providers(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.Card.Sandbox = false

	err := cfg.Validate()
	require.ErrorIs(t, err, config.ErrMissingRequired)
	assert.Contains(t, err.Error(), "providers.card.base_url")

	cfg.Providers.Card.BaseURL = "https://card.example"
	cfg.Providers.Card.WebhookSecret = "s"
	cfg.Providers.Card.JWKSURL = "https://card.example/jwks"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not both")
}

func TestConfig_Validate_RedisDependents(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.ErrorIs(t, err, config.ErrMissingRequired)
	assert.Contains(t, err.Error(), "redis event bus")
	assert.Contains(t, err.Error(), "redis cache")

	cfg.EventBus.Type = config.BusNone
	cfg.Cache.Backend = config.CacheMemory
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate_Kafka(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.EventBus.Type = config.BusKafka
	require.NoError(t, cfg.Validate())

	cfg.Kafka.Brokers = nil
	require.ErrorIs(t, cfg.Validate(), config.ErrMissingRequired)
}

func TestConfig_Validate_Enums(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr error
	}{
		{name: "log level", mutate: func(c *config.Config) { c.Log.Level = "verbose" }, wantErr: config.ErrInvalidLogLevel},
		{name: "log format", mutate: func(c *config.Config) { c.Log.Format = "xml" }, wantErr: config.ErrInvalidLogFormat},
		{name: "event bus", mutate: func(c *config.Config) { c.EventBus.Type = "nats" }, wantErr: config.ErrInvalidEventBusType},
		{name: "cache", mutate: func(c *config.Config) { c.Cache.Backend = "memcached" }, wantErr: config.ErrInvalidCacheBackend},
		{name: "environment", mutate: func(c *config.Config) { c.App.Environment = "staging" }, wantErr: config.ErrInvalidEnvironment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestConfig_Validate_DispatchWorkers(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Worker.DispatchWorkers = 0
	cfg.Worker.DispatchBuffer = 0
	require.NoError(t, cfg.Validate(), "zero workers materializes synchronously")

	cfg.Worker.DispatchWorkers = -1
	require.Error(t, cfg.Validate())

	cfg.Worker.DispatchWorkers = 2
	require.Error(t, cfg.Validate())

	cfg.Worker.DispatchBuffer = 16
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate_JoinsErrors(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Port = 0
	cfg.Payments.ExpiryHorizon = 0
	cfg.WebSocket.PongTimeout = cfg.WebSocket.PingInterval

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "payments.expiry_horizon")
	assert.Contains(t, err.Error(), "websocket.ping_interval")
}

func TestLoadFromPath_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  host: "127.0.0.1"
  port: 9090
  read_timeout: 45s

eventstore:
  backend: sqlite

sql:
  dsn: "file:test.db"

redis:
  addr: "redis:6379"
  db: 1

eventbus:
  type: kafka

kafka:
  brokers: ["k1:9092", "k2:9092"]
  topic_prefix: "test."

payments:
  expiry_horizon: 10m
  retry:
    max_attempts: 6
  fees:
    platform_bps: 150
    provider_flat:
      card: 30

providers:
  card:
    sandbox: false
    base_url: "https://card.example"
    webhook_secret: "card-secret"
    rate_limit: 5

log:
  level: "debug"
  format: "text"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	cfg, err := config.LoadFromPath(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, config.DefaultWriteTimeout, cfg.Server.WriteTimeout)

	assert.Equal(t, config.StoreSQLite, cfg.EventStore.Backend)
	assert.Equal(t, "file:test.db", cfg.SQL.DSN)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, config.BusKafka, cfg.EventBus.Type)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)

	assert.Equal(t, 10*time.Minute, cfg.Payments.ExpiryHorizon)
	assert.Equal(t, 6, cfg.Payments.Retry.MaxAttempts)
	assert.Equal(t, config.DefaultRetryInitialInterval, cfg.Payments.Retry.InitialInterval)
	assert.Equal(t, int64(150), cfg.Payments.Fees.PlatformBPS)
	assert.Equal(t, int64(30), cfg.Payments.Fees.ProviderFlat["card"])

	assert.False(t, cfg.Providers.Card.Sandbox)
	assert.Equal(t, "https://card.example", cfg.Providers.Card.BaseURL)
	assert.InDelta(t, 5.0, cfg.Providers.Card.RateLimit, 0.001)
	assert.Equal(t, "card", cfg.Providers.Card.Name)
	assert.True(t, cfg.Providers.MobileMoney.Sandbox)

	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFromPath_NonExistent(t *testing.T) {
	cfg, err := config.LoadFromPath("/non/existent/path/config.yaml")
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, config.ErrConfigNotFound)
}

func TestLoadFromPath_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidContent := `
server:
  host: "localhost"
  port: this-is-not-a-number
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidContent), 0o644))

	cfg, err := config.LoadFromPath(configPath)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_HOST", "env-host")
	t.Setenv("SERVER_PORT", "3333")
	t.Setenv("MONGODB_URI", "mongodb://env-mongo:27017")
	t.Setenv("REDIS_ADDR", "env-redis:6379")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("PROVIDER_CARD_API_KEY", "card-key")
	t.Setenv("PROVIDER_MOBILE_MONEY_WEBHOOK_SECRET", "mm-secret")
	t.Setenv("PAYMENTS_RETRY_MAX_ATTEMPTS", "9")
	t.Setenv("LOG_LEVEL", "warn")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	minimalConfig := `
server:
  host: "file-host"
  port: 8080
`
	require.NoError(t, os.WriteFile(configPath, []byte(minimalConfig), 0o644))

	cfg, err := config.LoadFromPath(configPath)
	require.NoError(t, err)

	// Env vars should override file values
	assert.Equal(t, "env-host", cfg.Server.Host)
	assert.Equal(t, 3333, cfg.Server.Port)
	assert.Equal(t, "mongodb://env-mongo:27017", cfg.MongoDB.URI)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "card-key", cfg.Providers.Card.APIKey)
	assert.Equal(t, "mm-secret", cfg.Providers.MobileMoney.WebhookSecret)
	assert.Equal(t, 9, cfg.Payments.Retry.MaxAttempts)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_LoadFromEnv_Duration(t *testing.T) {
	t.Setenv("SERVER_READ_TIMEOUT", "2m30s")

	cfg, err := config.NewLoader().WithConfigPaths(nil).Load("")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute+30*time.Second, cfg.Server.ReadTimeout)
}

func TestLoader_LoadFromEnv_InvalidDuration(t *testing.T) {
	t.Setenv("SERVER_READ_TIMEOUT", "not-a-duration")

	cfg, err := config.NewLoader().WithConfigPaths(nil).Load("")
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoader_ConfigPathEnvVar(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "custom-config.yaml")
	configContent := `
server:
  host: "config-path-host"
  port: 7777
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	t.Setenv("CONFIG_PATH", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "config-path-host", cfg.Server.Host)
	assert.Equal(t, 7777, cfg.Server.Port)
}

func TestLoader_ConfigPathEnvVar_Missing(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := config.Load()
	require.ErrorIs(t, err, config.ErrConfigNotFound)
}

func TestLoader_WithConfigPaths(t *testing.T) {
	tmpDir := t.TempDir()
	found := filepath.Join(tmpDir, "found.yaml")
	require.NoError(t, os.WriteFile(found, []byte("server:\n  port: 6060\n"), 0o644))

	cfg, err := config.NewLoader().
		WithConfigPaths([]string{filepath.Join(tmpDir, "missing.yaml"), found}).
		Load("")
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.Port)
}

func TestProvidersConfig_All(t *testing.T) {
	all := config.DefaultConfig().Providers.All()

	assert.Len(t, all, 3)
	for method, p := range all {
		assert.Equal(t, method, p.Name)
	}
}
