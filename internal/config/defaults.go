package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8090
	cfg.Server.GRPCPort = 50061
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

	// Database defaults
	cfg.Database.Type = "sqlite"
	cfg.Database.SQLitePath = "/var/lib/kubilitics/investigator.db"
	cfg.Database.PostgresURL = ""
	cfg.Database.StateTTLHours = 0 // keep forever

	// Artifact defaults
	cfg.Artifacts.Backend = "memory"
	cfg.Artifacts.S3Region = "us-east-1"
	cfg.Artifacts.S3Bucket = "investigator-evidence"
	cfg.Artifacts.S3UseSSL = true

	// Reasoning defaults
	cfg.Reasoning.BaseURL = "http://localhost:8091"
	cfg.Reasoning.TimeoutSeconds = 30

	// Engine defaults
	cfg.Engine.Workers = 8
	cfg.Engine.EventBuffer = 64

	// Cache defaults
	cfg.Cache.EnableCaching = true
	cfg.Cache.TTLSeconds = 300
	cfg.Cache.MaxEntries = 1024

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.AuditLogPath = "/var/log/kubilitics/investigator-audit.log"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30

	// Rate limit defaults
	cfg.RateLimit.RequestsPerMinute = 60
	cfg.RateLimit.Burst = 10

	return cfg
}
