package config

import "context"

// Package config provides configuration management for the investigator.
//
// Configuration Sources (priority order, high to low):
//  1. Environment variables (INVESTIGATOR_* prefix, "." replaced by "_")
//  2. .env files loaded before viper reads the environment
//  3. YAML config file (default: /etc/kubilitics/investigator.yaml)
//  4. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//  1. Server
//     - port: HTTP listen port (default 8090)
//     - grpc_port: gRPC health listen port (default 50061)
//     - allowed_origins: WebSocket origins
//
//  2. Database
//     - type: "sqlite" | "postgres"
//     - sqlite_path: Path to SQLite file
//     - postgres_url: PostgreSQL connection string
//     - state_ttl_hours: Expiry of idle investigations (0 = never)
//
//  3. Artifacts
//     - backend: "memory" | "s3"
//     - s3_*: MinIO/S3 endpoint, credentials and bucket
//
//  4. Reasoning
//     - base_url: Reasoning Service URL
//     - timeout_seconds: per-classification timeout
//
//  5. Engine
//     - workers: parallel investigations in a batch
//     - event_buffer: per-subscriber channel size
//
//  6. Cache, Logging, RateLimit
//
// Phase thresholds are fixed by the domain and are not configurable.

// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Port     int
		GRPCPort int
		// AllowedOrigins is a list of origins permitted to open WebSocket connections.
		// Use ["*"] to allow any origin (development only).
		AllowedOrigins []string
	}

	// Database configuration
	Database struct {
		Type          string
		SQLitePath    string
		PostgresURL   string
		StateTTLHours int
	}

	// Artifact store configuration
	Artifacts struct {
		Backend     string
		S3Endpoint  string
		S3Region    string
		S3AccessKey string
		S3SecretKey string
		S3Bucket    string
		S3UseSSL    bool
	}

	// Reasoning Service configuration
	Reasoning struct {
		BaseURL        string
		TimeoutSeconds int
	}

	// Engine configuration
	Engine struct {
		Workers     int
		EventBuffer int
	}

	// Cache configuration
	Cache struct {
		EnableCaching bool
		TTLSeconds    int
		MaxEntries    int
	}

	// Logging configuration
	Logging struct {
		Level        string
		Format       string
		AuditLogPath string
		MaxSizeMB    int
		MaxBackups   int
		MaxAgeDays   int
	}

	// RateLimit configuration for the turn endpoint
	RateLimit struct {
		RequestsPerMinute int
		Burst             int
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches the config file and delivers reloaded configuration.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager. envFiles are .env
// files read before the environment; missing ones are skipped.
func NewConfigManager(configPath string, envFiles ...string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		envFiles:   envFiles,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/kubilitics/investigator.yaml", ".env")
}
