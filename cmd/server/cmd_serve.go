package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kubilitics/kubilitics-investigator/internal/audit"
	"github.com/kubilitics/kubilitics-investigator/internal/cache"
	"github.com/kubilitics/kubilitics-investigator/internal/config"
	"github.com/kubilitics/kubilitics-investigator/internal/integration/reasoning"
	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/engine"
	"github.com/kubilitics/kubilitics-investigator/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the investigation service",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := loadConfigManager(ctx)
	if err != nil {
		return err
	}
	cfg := mgr.Get(ctx)

	logger, level, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	artifacts, err := openArtifacts(cfg)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}

	auditLog, err := audit.NewLogger(&audit.Config{
		AuditLogPath:  cfg.Logging.AuditLogPath,
		MaxSize:       cfg.Logging.MaxSizeMB,
		MaxBackups:    cfg.Logging.MaxBackups,
		MaxAge:        cfg.Logging.MaxAgeDays,
		Compress:      true,
		FlushInterval: time.Second,
	}, audit.WithStore(store), audit.WithAppLogger(logger))
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	deps := engine.Deps{
		Store:      store,
		Artifacts:  artifacts,
		Classifier: reasoning.NewClient(cfg.Reasoning.BaseURL, time.Duration(cfg.Reasoning.TimeoutSeconds)*time.Second, logger.Named("reasoning")),
		Audit:      auditLog,
		Logger:     logger.Named("engine"),
	}
	if cfg.Cache.EnableCaching {
		deps.Cache = cache.NewSnapshotCache(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	}

	engCfg := engine.DefaultConfig()
	engCfg.Workers = cfg.Engine.Workers
	engCfg.EventBuffer = cfg.Engine.EventBuffer
	engCfg.StateTTL = stateTTL(cfg)
	eng, err := engine.NewEngine(deps, engCfg)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(cfg, server.Deps{
		Engine: eng,
		Store:  store,
		Audit:  auditLog,
		Logger: logger.Named("server"),
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	logger.Info("investigator started",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Int("grpc_port", cfg.Server.GRPCPort),
		zap.String("database", store.Dialect()),
		zap.String("artifacts", cfg.Artifacts.Backend))

	if _, err := os.Stat(rootFlags.configPath); err == nil {
		go watchLogLevel(ctx, mgr.Watch(ctx), level, logger)
	}
	if engCfg.StateTTL > 0 {
		go purgeLoop(ctx, eng, logger)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// watchLogLevel applies logging.level changes from the config file. Other
// settings take effect on restart.
func watchLogLevel(ctx context.Context, updates <-chan config.Config, level zap.AtomicLevel, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-updates:
			lvl, err := zapcore.ParseLevel(cfg.Logging.Level)
			if err != nil {
				logger.Warn("ignoring invalid log level from config", zap.String("level", cfg.Logging.Level))
				continue
			}
			if lvl != level.Level() {
				level.SetLevel(lvl)
				logger.Info("log level changed", zap.Stringer("level", lvl))
			}
		}
	}
}

// purgeLoop deletes expired investigations once an hour.
func purgeLoop(ctx context.Context, eng engine.Engine, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := eng.Purge(ctx)
			if err != nil {
				logger.Warn("purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("purged expired investigations", zap.Int64("count", n))
			}
		}
	}
}
