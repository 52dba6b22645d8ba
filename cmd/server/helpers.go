package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kubilitics/kubilitics-investigator/internal/artifact"
	"github.com/kubilitics/kubilitics-investigator/internal/config"
	"github.com/kubilitics/kubilitics-investigator/internal/db"
)

// loadConfig reads the config file, the env file and the environment, then
// validates the result.
func loadConfig(ctx context.Context) (*config.Config, error) {
	mgr, err := loadConfigManager(ctx)
	if err != nil {
		return nil, err
	}
	return mgr.Get(ctx), nil
}

// loadConfigManager is loadConfig for callers that keep watching the file.
func loadConfigManager(ctx context.Context) (config.ConfigManager, error) {
	mgr, err := config.NewConfigManager(rootFlags.configPath, rootFlags.envFile)
	if err != nil {
		return nil, err
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, err
	}
	return mgr, nil
}

// newLogger builds the application logger. The returned level can be changed
// at runtime.
func newLogger(cfg *config.Config) (*zap.Logger, zap.AtomicLevel, error) {
	var zc zap.Config
	if cfg.Logging.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	logger, err := zc.Build()
	return logger, zc.Level, err
}

func openStore(ctx context.Context, cfg *config.Config) (db.Store, error) {
	switch cfg.Database.Type {
	case "postgres":
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return db.NewPostgresStore(ctx, cfg.Database.PostgresURL)
	default:
		return db.NewSQLiteStore(cfg.Database.SQLitePath)
	}
}

func openArtifacts(cfg *config.Config) (artifact.Store, error) {
	if cfg.Artifacts.Backend != "s3" {
		return artifact.NewMemoryStore(), nil
	}
	return artifact.NewS3Store(artifact.S3Config{
		Endpoint:  cfg.Artifacts.S3Endpoint,
		Region:    cfg.Artifacts.S3Region,
		AccessKey: cfg.Artifacts.S3AccessKey,
		SecretKey: cfg.Artifacts.S3SecretKey,
		Bucket:    cfg.Artifacts.S3Bucket,
		UseSSL:    cfg.Artifacts.S3UseSSL,
	})
}

func stateTTL(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Database.StateTTLHours) * time.Hour
}
