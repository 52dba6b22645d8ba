package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INVESTIGATOR"

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	envFiles   []string
	viper      *viper.Viper
	watchChan  chan Config

	mu     sync.RWMutex
	config *Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	if err := loadEnvFiles(m.envFiles); err != nil {
		return err
	}

	// Initialize viper
	m.viper = viper.New()
	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix(EnvPrefix)
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// The config file is optional; defaults and env vars still apply.
	if err := m.readConfigFile(); err != nil {
		return err
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.Get(ctx).Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads. Load must be called
// first.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		select {
		case m.watchChan <- *m.Get(ctx):
		default:
			// Channel full, skip this update
		}
	})
	m.viper.WatchConfig()
	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if m.viper == nil {
		return m.Load(ctx)
	}
	if err := m.readConfigFile(); err != nil {
		return err
	}
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	return nil
}

func (m *viperConfigManager) readConfigFile() error {
	err := m.viper.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("error reading config file: %w", err)
}

// loadEnvFiles reads .env files into the process environment without
// overriding variables that are already set.
func loadEnvFiles(files []string) error {
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("error loading env files: %w", err)
	}
	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.grpc_port", defaults.Server.GRPCPort)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	// Database defaults
	m.viper.SetDefault("database.type", defaults.Database.Type)
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)
	m.viper.SetDefault("database.postgres_url", defaults.Database.PostgresURL)
	m.viper.SetDefault("database.state_ttl_hours", defaults.Database.StateTTLHours)

	// Artifact defaults
	m.viper.SetDefault("artifacts.backend", defaults.Artifacts.Backend)
	m.viper.SetDefault("artifacts.s3_endpoint", defaults.Artifacts.S3Endpoint)
	m.viper.SetDefault("artifacts.s3_region", defaults.Artifacts.S3Region)
	m.viper.SetDefault("artifacts.s3_access_key", defaults.Artifacts.S3AccessKey)
	m.viper.SetDefault("artifacts.s3_secret_key", defaults.Artifacts.S3SecretKey)
	m.viper.SetDefault("artifacts.s3_bucket", defaults.Artifacts.S3Bucket)
	m.viper.SetDefault("artifacts.s3_use_ssl", defaults.Artifacts.S3UseSSL)

	// Reasoning defaults
	m.viper.SetDefault("reasoning.base_url", defaults.Reasoning.BaseURL)
	m.viper.SetDefault("reasoning.timeout_seconds", defaults.Reasoning.TimeoutSeconds)

	// Engine defaults
	m.viper.SetDefault("engine.workers", defaults.Engine.Workers)
	m.viper.SetDefault("engine.event_buffer", defaults.Engine.EventBuffer)

	// Cache defaults
	m.viper.SetDefault("cache.enable_caching", defaults.Cache.EnableCaching)
	m.viper.SetDefault("cache.ttl_seconds", defaults.Cache.TTLSeconds)
	m.viper.SetDefault("cache.max_entries", defaults.Cache.MaxEntries)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.audit_log_path", defaults.Logging.AuditLogPath)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)

	// Rate limit defaults
	m.viper.SetDefault("rate_limit.requests_per_minute", defaults.RateLimit.RequestsPerMinute)
	m.viper.SetDefault("rate_limit.burst", defaults.RateLimit.Burst)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.GRPCPort = m.viper.GetInt("server.grpc_port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	// Database
	cfg.Database.Type = m.viper.GetString("database.type")
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")
	cfg.Database.PostgresURL = m.viper.GetString("database.postgres_url")
	cfg.Database.StateTTLHours = m.viper.GetInt("database.state_ttl_hours")

	// Artifacts
	cfg.Artifacts.Backend = m.viper.GetString("artifacts.backend")
	cfg.Artifacts.S3Endpoint = m.viper.GetString("artifacts.s3_endpoint")
	cfg.Artifacts.S3Region = m.viper.GetString("artifacts.s3_region")
	cfg.Artifacts.S3AccessKey = m.viper.GetString("artifacts.s3_access_key")
	cfg.Artifacts.S3SecretKey = m.viper.GetString("artifacts.s3_secret_key")
	cfg.Artifacts.S3Bucket = m.viper.GetString("artifacts.s3_bucket")
	cfg.Artifacts.S3UseSSL = m.viper.GetBool("artifacts.s3_use_ssl")

	// Reasoning
	cfg.Reasoning.BaseURL = m.viper.GetString("reasoning.base_url")
	cfg.Reasoning.TimeoutSeconds = m.viper.GetInt("reasoning.timeout_seconds")

	// Engine
	cfg.Engine.Workers = m.viper.GetInt("engine.workers")
	cfg.Engine.EventBuffer = m.viper.GetInt("engine.event_buffer")

	// Cache
	cfg.Cache.EnableCaching = m.viper.GetBool("cache.enable_caching")
	cfg.Cache.TTLSeconds = m.viper.GetInt("cache.ttl_seconds")
	cfg.Cache.MaxEntries = m.viper.GetInt("cache.max_entries")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.AuditLogPath = m.viper.GetString("logging.audit_log_path")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")

	// Rate limit
	cfg.RateLimit.RequestsPerMinute = m.viper.GetInt("rate_limit.requests_per_minute")
	cfg.RateLimit.Burst = m.viper.GetInt("rate_limit.burst")

	applyEnvOverrides(cfg)

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// applyEnvOverrides fills credentials from the conventional variable names
// when the prefixed ones are unset.
func applyEnvOverrides(cfg *Config) {
	if cfg.Database.PostgresURL == "" {
		cfg.Database.PostgresURL = os.Getenv("DATABASE_URL")
	}
	if cfg.Artifacts.S3AccessKey == "" {
		cfg.Artifacts.S3AccessKey = os.Getenv("AWS_ACCESS_KEY_ID")
	}
	if cfg.Artifacts.S3SecretKey == "" {
		cfg.Artifacts.S3SecretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
}
