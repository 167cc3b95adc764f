package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	// Edition selects the backing infrastructure defaults.
	Edition Edition `koanf:"edition"`

	// Server settings
	Server ServerConfig `koanf:"server"`

	// Component configurations
	Repository RepositoryConfig `koanf:"repository"`
	Cache      CacheConfig      `koanf:"cache"`
	EventBus   EventBusConfig   `koanf:"eventbus"`

	// Risk pipeline
	Velocity     VelocityConfig     `koanf:"velocity"`
	Scoring      ScoringConfig      `koanf:"scoring"`
	Escalation   EscalationConfig   `koanf:"escalation"`
	Enforcement  EnforcementConfig  `koanf:"enforcement"`
	Registration RegistrationConfig `koanf:"registration"`
	Retention    RetentionConfig    `koanf:"retention"`

	// Observability
	Logging LoggingConfig `koanf:"logging"`
	Tracing TracingConfig `koanf:"tracing"`
}

// Edition represents the deployment profile.
type Edition string

const (
	// EditionCommunity runs on SQLite + channels + in-process LRU
	EditionCommunity Edition = "community"

	// EditionPro runs on PostgreSQL + NATS + Redis
	EditionPro Edition = "pro"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string   `koanf:"host"`
	Port         int      `koanf:"port"`
	ReadTimeout  int      `koanf:"read_timeout"`  // seconds
	WriteTimeout int      `koanf:"write_timeout"` // seconds
	CORSOrigins  []string `koanf:"cors_origins"`

	// RegistrationRateLimit caps registration checks per client IP per minute.
	RegistrationRateLimit int `koanf:"registration_rate_limit"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `koanf:"driver"`

	// SQLite specific
	SQLitePath string `koanf:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `koanf:"postgres_host"`
	PostgresPort     int    `koanf:"postgres_port"`
	PostgresUser     string `koanf:"postgres_user"`
	PostgresPassword string `koanf:"postgres_password"`
	PostgresDB       string `koanf:"postgres_db"`
	PostgresSSLMode  string `koanf:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory", "redis" or "none"
	Type string `koanf:"type"`

	// Local LRU cache settings (Community)
	LocalMaxSize int           `koanf:"local_max_size"`
	LocalTTL     time.Duration `koanf:"local_ttl"`

	// Redis settings (Pro)
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// RedisPoolSize of zero keeps the go-redis default. RedisTimeout bounds
	// every read and write so a slow Redis cannot stall enforcement.
	RedisPoolSize int           `koanf:"redis_pool_size"`
	RedisTimeout  time.Duration `koanf:"redis_timeout"`

	// Two-phase settings
	EnableTwoPhase bool `koanf:"enable_two_phase"` // If true, check local first, then Redis
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `koanf:"type"`

	// Channel settings (Community)
	ChannelBufferSize int `koanf:"channel_buffer_size"`

	// NATS settings (Pro)
	NATSUrl           string `koanf:"nats_url"`
	NATSToken         string `koanf:"nats_token"`
	NATSMaxReconnects int    `koanf:"nats_max_reconnects"`
	NATSReconnectWait int    `koanf:"nats_reconnect_wait"` // seconds

	// NATSQueueGroup makes replicas share each topic instead of fanning out.
	// Empty subscribes every instance to every message.
	NATSQueueGroup string `koanf:"nats_queue_group"`
}

// VelocityConfig controls counting and the advisory read cache.
type VelocityConfig struct {
	// Store is the durable counter store: "sql" or "redis"
	Store            string        `koanf:"store"`
	CacheTTL         time.Duration `koanf:"cache_ttl"`
	SweepInterval    time.Duration `koanf:"sweep_interval"`
	CounterRetention time.Duration `koanf:"counter_retention"`
}

// ScoringConfig controls the scoring engine and rescoring job.
type ScoringConfig struct {
	UserTimeout      time.Duration `koanf:"user_timeout"`
	BatchConcurrency int           `koanf:"batch_concurrency"`
	RescoreInterval  time.Duration `koanf:"rescore_interval"`
	RescoreBatch     int           `koanf:"rescore_batch"`
	ObservationTTL   time.Duration `koanf:"observation_ttl"`
	ClusterInterval  time.Duration `koanf:"cluster_interval"`
}

// EscalationConfig holds the review thresholds and probation windows.
type EscalationConfig struct {
	EscalationThreshold    int           `koanf:"escalation_threshold"`
	AutoSuspendThreshold   int           `koanf:"auto_suspend_threshold"`
	RecyclingLimit         int           `koanf:"recycling_limit"`
	FalsePositiveProbation time.Duration `koanf:"false_positive_probation"`
	MonitoringProbation    time.Duration `koanf:"monitoring_probation"`
	WhitelistDuration      time.Duration `koanf:"whitelist_duration"`
}

// EnforcementConfig tunes the profile-read circuit breaker.
type EnforcementConfig struct {
	BreakerFailures int           `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

// RegistrationConfig holds registration sybil check settings.
type RegistrationConfig struct {
	HomePhonePrefix string `koanf:"home_phone_prefix"`
}

// RetentionConfig controls the cleanup job.
type RetentionConfig struct {
	Interval   time.Duration `koanf:"interval"`
	Low        time.Duration `koanf:"low"`
	Medium     time.Duration `koanf:"medium"`
	High       time.Duration `koanf:"high"`
	BatchSize  int           `koanf:"batch_size"`
	MaxBatches int           `koanf:"max_batches"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

const day = 24 * time.Hour

// DefaultConfig returns a default configuration for the Community edition.
func DefaultConfig() *Config {
	return &Config{
		Edition: EditionCommunity,
		Server: ServerConfig{
			Host:                  "0.0.0.0",
			Port:                  8080,
			ReadTimeout:           30,
			WriteTimeout:          30,
			CORSOrigins:           []string{"*"},
			RegistrationRateLimit: 60,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Velocity: VelocityConfig{
			Store:            "sql",
			CacheTTL:         60 * time.Second,
			SweepInterval:    5 * time.Minute,
			CounterRetention: 8 * day,
		},
		Scoring: ScoringConfig{
			UserTimeout:      5 * time.Second,
			BatchConcurrency: 8,
			RescoreInterval:  15 * time.Minute,
			RescoreBatch:     500,
			ObservationTTL:   7 * day,
			ClusterInterval:  day,
		},
		Escalation: EscalationConfig{
			EscalationThreshold:    61,
			AutoSuspendThreshold:   81,
			RecyclingLimit:         3,
			FalsePositiveProbation: 30 * day,
			MonitoringProbation:    7 * day,
			WhitelistDuration:      30 * day,
		},
		Enforcement: EnforcementConfig{
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Registration: RegistrationConfig{
			HomePhonePrefix: "+90",
		},
		Retention: RetentionConfig{
			Interval:   day,
			Low:        30 * day,
			Medium:     90 * day,
			High:       365 * day,
			BatchSize:  5000,
			MaxBatches: 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// ProConfig returns a configuration for the Pro edition.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Edition = EditionPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "harrier-workers",
	}
	cfg.Velocity.Store = "redis"
	cfg.Tracing.Enabled = true
	return cfg
}
