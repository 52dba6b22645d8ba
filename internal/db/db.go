package db

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist or has expired.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a save would overwrite a record whose turn is
// not older than the one being written.
var ErrConflict = errors.New("record was modified concurrently")

// Option configures a SQL store.
type Option func(*sqlStore)

// WithClock sets the clock used to hide expired records from reads. It
// defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *sqlStore) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the persistence interface of the investigator.
type Store interface {
	InvestigationStore
	AuditStore

	// Dialect names the backend ("sqlite" or "postgres").
	Dialect() string

	// SchemaVersion returns the highest applied migration.
	SchemaVersion(ctx context.Context) (int, error)

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Investigation store ──────────────────────────────────────────────────────

// InvestigationRecord is the DB representation of one investigation aggregate.
// State holds the deterministic JSON encoding of the aggregate; the other
// columns are copies kept for listing and filtering.
type InvestigationRecord struct {
	ID         string    `json:"id"`
	Phase      int       `json:"phase"`
	Status     string    `json:"status"`
	Strategy   string    `json:"strategy"`
	Turn       int       `json:"turn"`
	LastTurnID string    `json:"last_turn_id"`
	State      []byte    `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	// ExpiresAt is zero for records that never expire.
	ExpiresAt time.Time `json:"expires_at"`
}

// InvestigationStore persists investigation aggregates.
type InvestigationStore interface {
	// SaveInvestigation creates an investigation record or replaces one
	// with a lower turn. Writing a turn that is not newer than the stored
	// one returns ErrConflict.
	SaveInvestigation(ctx context.Context, rec *InvestigationRecord) error

	// GetInvestigation retrieves an investigation by ID. Expired records
	// are reported as ErrNotFound.
	GetInvestigation(ctx context.Context, id string) (*InvestigationRecord, error)

	// ListInvestigations returns live investigations, newest first.
	ListInvestigations(ctx context.Context, limit, offset int) ([]*InvestigationRecord, error)

	// DeleteInvestigation removes an investigation.
	DeleteInvestigation(ctx context.Context, id string) error

	// PurgeExpired deletes every record that expired at or before now and
	// returns how many were removed.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// ─── Audit store ─────────────────────────────────────────────────────────────

// AuditRecord is the DB representation of an audit event.
type AuditRecord struct {
	ID              int64     `json:"id"`
	CorrelationID   string    `json:"correlation_id"`
	InvestigationID string    `json:"investigation_id"`
	EventType       string    `json:"event_type"`
	Description     string    `json:"description"`
	Turn            int       `json:"turn"`
	Result          string    `json:"result"`
	Metadata        string    `json:"metadata"` // JSON blob
	Timestamp       time.Time `json:"timestamp"`
}

// AuditStore persists audit log entries.
type AuditStore interface {
	// AppendAuditEvent appends an immutable audit event.
	AppendAuditEvent(ctx context.Context, rec *AuditRecord) error

	// QueryAuditEvents retrieves audit events with optional filters.
	QueryAuditEvents(ctx context.Context, q AuditQuery) ([]*AuditRecord, error)
}

// AuditQuery filters audit event queries.
type AuditQuery struct {
	InvestigationID string
	EventType       string
	From            time.Time
	To              time.Time
	Limit           int
	Offset          int
}
