package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		add("server.grpc_port", "grpc_port must be between 0 and 65535, got %d", c.Server.GRPCPort)
	} else if c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.Port {
		add("server.grpc_port", "grpc_port must differ from port %d", c.Server.Port)
	}

	// Database
	switch c.Database.Type {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			add("database.sqlite_path", "sqlite_path is required when database type is sqlite")
		}
	case "postgres":
		if c.Database.PostgresURL == "" {
			add("database.postgres_url", "postgres_url is required when database type is postgres")
		}
	default:
		add("database.type", "invalid database type '%s', must be one of: sqlite, postgres", c.Database.Type)
	}
	if c.Database.StateTTLHours < 0 {
		add("database.state_ttl_hours", "state_ttl_hours cannot be negative, got %d", c.Database.StateTTLHours)
	}

	// Artifacts
	switch c.Artifacts.Backend {
	case "memory":
	case "s3":
		if c.Artifacts.S3Endpoint == "" {
			add("artifacts.s3_endpoint", "s3_endpoint is required when backend is s3")
		}
		if c.Artifacts.S3Bucket == "" {
			add("artifacts.s3_bucket", "s3_bucket is required when backend is s3")
		}
		if c.Artifacts.S3AccessKey == "" || c.Artifacts.S3SecretKey == "" {
			add("artifacts.s3_access_key", "s3 credentials are required when backend is s3")
		}
	default:
		add("artifacts.backend", "invalid artifact backend '%s', must be one of: memory, s3", c.Artifacts.Backend)
	}

	// Reasoning
	if c.Reasoning.BaseURL == "" {
		add("reasoning.base_url", "reasoning service URL is required")
	} else if u, err := url.Parse(c.Reasoning.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("reasoning.base_url", "invalid reasoning service URL '%s'", c.Reasoning.BaseURL)
	}
	if c.Reasoning.TimeoutSeconds < 1 {
		add("reasoning.timeout_seconds", "timeout must be at least 1 second, got %d", c.Reasoning.TimeoutSeconds)
	}

	// Engine
	if c.Engine.Workers < 1 {
		add("engine.workers", "workers must be at least 1, got %d", c.Engine.Workers)
	}
	if c.Engine.EventBuffer < 1 {
		add("engine.event_buffer", "event_buffer must be at least 1, got %d", c.Engine.EventBuffer)
	}

	// Cache
	if c.Cache.TTLSeconds < 0 {
		add("cache.ttl_seconds", "ttl_seconds cannot be negative, got %d", c.Cache.TTLSeconds)
	}
	if c.Cache.MaxEntries < 0 {
		add("cache.max_entries", "max_entries cannot be negative, got %d", c.Cache.MaxEntries)
	}

	// Logging
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", "invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		add("logging.format", "invalid log format '%s', must be one of: json, console", c.Logging.Format)
	}
	if c.Logging.AuditLogPath == "" {
		add("logging.audit_log_path", "audit_log_path is required")
	}
	if c.Logging.MaxSizeMB < 1 {
		add("logging.max_size_mb", "max_size_mb must be at least 1, got %d", c.Logging.MaxSizeMB)
	}

	// Rate limit
	if c.RateLimit.RequestsPerMinute < 0 {
		add("rate_limit.requests_per_minute", "requests_per_minute cannot be negative, got %d", c.RateLimit.RequestsPerMinute)
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.Burst < 1 {
		add("rate_limit.burst", "burst must be at least 1 when rate limiting is enabled, got %d", c.RateLimit.Burst)
	}

	return errs
}
