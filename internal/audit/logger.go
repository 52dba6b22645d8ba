package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kubilitics/kubilitics-investigator/internal/db"
)

const bufferSize = 100

// Logger defines the interface for audit logging
type Logger interface {
	// Log buffers an audit event
	Log(ctx context.Context, event *Event) error

	LogInvestigationCreated(ctx context.Context, investigationID string) error
	LogTurnFailed(ctx context.Context, investigationID, turnID string, err error) error

	// Sync flushes buffered log entries
	Sync() error

	// Close flushes and stops the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// FlushInterval is how often buffered events are written
	FlushInterval time.Duration
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath:  "logs/audit.log",
		MaxSize:       100, // megabytes
		MaxBackups:    10,
		MaxAge:        30, // days
		Compress:      true,
		FlushInterval: time.Second,
	}
}

// Option customizes the audit logger.
type Option func(*auditLogger)

// WithStore mirrors every flushed event into the audit table.
func WithStore(store db.AuditStore) Option {
	return func(l *auditLogger) { l.store = store }
}

// WithAppLogger sets the logger used to report audit write failures.
func WithAppLogger(logger *zap.Logger) Option {
	return func(l *auditLogger) {
		if logger != nil {
			l.appLogger = logger
		}
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	rotator     *lumberjack.Logger
	store       db.AuditStore
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	doneCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a new audit logger
func NewLogger(config *Config, opts ...Option) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AuditLogPath == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	interval := config.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	// Audit log with rotation (always INFO level, append-only)
	rotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	l := &auditLogger{
		appLogger:   zap.NewNop(),
		auditLogger: zap.New(auditCore),
		rotator:     rotator,
		buffer:      make([]*Event, 0, bufferSize),
		flushTicker: time.NewTicker(interval),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	go l.autoFlush()
	return l, nil
}

// Log buffers an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event == nil {
		return nil
	}
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)
	if len(l.buffer) >= bufferSize {
		return l.flushLocked()
	}
	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)

		if l.store != nil {
			l.persist(event)
		}
	}

	l.buffer = l.buffer[:0]
	return nil
}

func (l *auditLogger) persist(event *Event) {
	metadata := "{}"
	if len(event.Metadata) > 0 {
		if data, err := json.Marshal(event.Metadata); err == nil {
			metadata = string(data)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := l.store.AppendAuditEvent(ctx, &db.AuditRecord{
		CorrelationID:   event.CorrelationID,
		InvestigationID: event.InvestigationID,
		EventType:       string(event.EventType),
		Description:     event.Description,
		Turn:            event.Turn,
		Result:          string(event.Result),
		Metadata:        metadata,
		Timestamp:       event.Timestamp,
	})
	if err != nil {
		l.appLogger.Warn("failed to persist audit event",
			zap.Error(err),
			zap.String("event_type", string(event.EventType)),
		)
	}
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	defer close(l.doneCh)
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogInvestigationCreated logs when an investigation is opened
func (l *auditLogger) LogInvestigationCreated(ctx context.Context, investigationID string) error {
	event := NewEvent(EventInvestigationCreated).
		WithInvestigation(investigationID, 0, "").
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("Investigation %s created", investigationID))

	return l.Log(ctx, event)
}

// LogTurnFailed logs a rejected or abandoned turn
func (l *auditLogger) LogTurnFailed(ctx context.Context, investigationID, turnID string, err error) error {
	event := NewEvent(EventTurnFailed).
		WithInvestigation(investigationID, 0, turnID).
		WithError(err, "turn_rejected").
		WithDescription(fmt.Sprintf("Turn %s of investigation %s failed", turnID, investigationID))

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}
	return l.auditLogger.Sync()
}

// Close flushes remaining events and stops the flush goroutine
func (l *auditLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopCh)
		<-l.doneCh
		l.flushTicker.Stop()
		err = l.Sync()
		if cerr := l.rotator.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

// ─── No-op logger ─────────────────────────────────────────────────────────────

type nopLogger struct{}

// NewNopLogger returns a Logger that discards every event.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Log(context.Context, *Event) error                          { return nil }
func (nopLogger) LogInvestigationCreated(context.Context, string) error      { return nil }
func (nopLogger) LogTurnFailed(context.Context, string, string, error) error { return nil }
func (nopLogger) Sync() error                                                { return nil }
func (nopLogger) Close() error                                               { return nil }

// ─── Correlation IDs ──────────────────────────────────────────────────────────

type correlationKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return uuid.NewString()
}
