// Package config loads Harrier configuration from defaults, an optional YAML
// file and HARRIER_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/tier"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HARRIER_"

// PathEnvVar names an explicit config file.
const PathEnvVar = "HARRIER_CONFIG"

// DefaultPaths are searched when no explicit path is given.
var DefaultPaths = []string{
	"harrier.yaml",
	"harrier.yml",
	"/etc/harrier/harrier.yaml",
}

// envAliases are the short names operators actually type. Anything else uses
// a double underscore between section and key, e.g.
// HARRIER_ESCALATION__AUTO_SUSPEND_THRESHOLD.
var envAliases = map[string]string{
	"edition":          "edition",
	"host":             "server.host",
	"port":             "server.port",
	"cors_origins":     "server.cors_origins",
	"db_driver":        "repository.driver",
	"sqlite_path":      "repository.sqlite_path",
	"postgres_host":    "repository.postgres_host",
	"postgres_port":    "repository.postgres_port",
	"postgres_user":    "repository.postgres_user",
	"postgres_pass":    "repository.postgres_password",
	"postgres_db":      "repository.postgres_db",
	"cache_type":       "cache.type",
	"redis_addr":       "cache.redis_addr",
	"redis_pass":       "cache.redis_password",
	"bus_type":         "eventbus.type",
	"nats_url":         "eventbus.nats_url",
	"nats_token":       "eventbus.nats_token",
	"nats_queue_group": "eventbus.nats_queue_group",
	"log_level":        "logging.level",
	"log_format":       "logging.format",
	"tracing":          "tracing.enabled",
}

// Load builds the configuration. path may be empty to search PathEnvVar and
// DefaultPaths. The Pro edition picks ProConfig as its base defaults.
func Load(path string) (*domain.Config, error) {
	if path == "" {
		path = findFile()
	}

	cfg, err := load(domain.DefaultConfig(), path)
	if err != nil {
		return nil, err
	}
	if cfg.Edition == domain.EditionPro {
		if cfg, err = load(domain.ProConfig(), path); err != nil {
			return nil, err
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(base *domain.Config, path string) (*domain.Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(base, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &domain.Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return cfg, nil
}

func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if alias, ok := envAliases[key]; ok {
		return alias
	}
	return strings.ReplaceAll(key, "__", ".")
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate rejects configurations the services cannot start with.
func Validate(cfg *domain.Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch cfg.Edition {
	case domain.EditionCommunity, domain.EditionPro:
	default:
		add("unknown edition %q", cfg.Edition)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		add("server.port %d out of range", cfg.Server.Port)
	}

	switch cfg.Repository.Driver {
	case "sqlite":
		if cfg.Repository.SQLitePath == "" {
			add("repository.sqlite_path is required for sqlite")
		}
	case "postgres":
		if cfg.Repository.PostgresHost == "" || cfg.Repository.PostgresDB == "" {
			add("repository.postgres_host and postgres_db are required for postgres")
		}
	default:
		add("unsupported repository driver %q", cfg.Repository.Driver)
	}

	switch cfg.Cache.Type {
	case "memory", "none":
	case "redis":
		if cfg.Cache.RedisAddr == "" {
			add("cache.redis_addr is required for redis")
		}
	default:
		add("unsupported cache type %q", cfg.Cache.Type)
	}

	switch cfg.EventBus.Type {
	case "channel", "embedded":
	case "nats":
		if cfg.EventBus.NATSUrl == "" {
			add("eventbus.nats_url is required for nats")
		}
	default:
		add("unsupported event bus type %q", cfg.EventBus.Type)
	}

	switch cfg.Velocity.Store {
	case "sql":
	case "redis":
		if cfg.Cache.RedisAddr == "" {
			add("velocity.store redis needs cache.redis_addr")
		}
	default:
		add("unsupported velocity store %q", cfg.Velocity.Store)
	}

	if err := Thresholds(cfg).Validate(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Escalation.RecyclingLimit < 1 {
		add("escalation.recycling_limit must be at least 1")
	}
	if cfg.Scoring.RescoreInterval <= 0 || cfg.Scoring.RescoreBatch <= 0 {
		add("scoring.rescore_interval and rescore_batch must be positive")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("unknown logging.level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		add("unknown logging.format %q", cfg.Logging.Format)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrValidation, errors.Join(errs...))
}

// Thresholds returns the escalation thresholds as a tier value.
func Thresholds(cfg *domain.Config) tier.Thresholds {
	return tier.Thresholds{
		Escalation:  cfg.Escalation.EscalationThreshold,
		AutoSuspend: cfg.Escalation.AutoSuspendThreshold,
	}
}
