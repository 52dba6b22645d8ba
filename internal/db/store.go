package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timeLayout is fixed-width so that stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type migration struct {
	version int
	sql     string
}

// sqlStore implements Store over database/sql. The SQLite and PostgreSQL
// backends differ only in their schema and placeholder syntax.
type sqlStore struct {
	db         *sql.DB
	dialect    string
	migrations []migration
	now        func() time.Time
}

func (s *sqlStore) Dialect() string { return s.dialect }

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *sqlStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// migrate applies any unapplied migrations in order.
func (s *sqlStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at TEXT NOT NULL
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range s.migrations {
		var count int
		err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`), m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO schema_versions(version, applied_at) VALUES(?, ?)`),
			m.version, formatTime(s.now())); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *sqlStore) SchemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_versions`).Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}

// ─── Investigations ───────────────────────────────────────────────────────────

func (s *sqlStore) SaveInvestigation(ctx context.Context, rec *InvestigationRecord) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
        INSERT INTO investigations(id, phase, status, strategy, turn, last_turn_id, state, created_at, updated_at, expires_at)
        VALUES(?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            phase        = excluded.phase,
            status       = excluded.status,
            strategy     = excluded.strategy,
            turn         = excluded.turn,
            last_turn_id = excluded.last_turn_id,
            state        = excluded.state,
            updated_at   = excluded.updated_at,
            expires_at   = excluded.expires_at
        WHERE investigations.turn < excluded.turn
    `),
		rec.ID, rec.Phase, rec.Status, rec.Strategy, rec.Turn, rec.LastTurnID, string(rec.State),
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), expiryMillis(rec.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("save investigation %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save investigation %s: %w", rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("save investigation %s at turn %d: %w", rec.ID, rec.Turn, ErrConflict)
	}
	return nil
}

const investigationColumns = `id,phase,status,strategy,turn,last_turn_id,state,created_at,updated_at,expires_at`

func (s *sqlStore) GetInvestigation(ctx context.Context, id string) (*InvestigationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+investigationColumns+` FROM investigations WHERE id=? AND (expires_at = 0 OR expires_at > ?)`),
		id, s.now().UnixMilli())
	rec, err := scanInvestigation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("investigation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get investigation %s: %w", id, err)
	}
	return rec, nil
}

func (s *sqlStore) ListInvestigations(ctx context.Context, limit, offset int) ([]*InvestigationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+investigationColumns+` FROM investigations WHERE expires_at = 0 OR expires_at > ? ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`),
		s.now().UnixMilli(), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []*InvestigationRecord{}
	for rows.Next() {
		rec, err := scanInvestigation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqlStore) DeleteInvestigation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM investigations WHERE id=?`), id)
	return err
}

func (s *sqlStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM investigations WHERE expires_at > 0 AND expires_at <= ?`), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge expired investigations: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvestigation(row rowScanner) (*InvestigationRecord, error) {
	rec := &InvestigationRecord{}
	var state, createdAt, updatedAt string
	var expires int64
	err := row.Scan(&rec.ID, &rec.Phase, &rec.Status, &rec.Strategy, &rec.Turn, &rec.LastTurnID,
		&state, &createdAt, &updatedAt, &expires)
	if err != nil {
		return nil, err
	}
	rec.State = []byte(state)
	rec.CreatedAt, _ = parseTime(createdAt)
	rec.UpdatedAt, _ = parseTime(updatedAt)
	if expires > 0 {
		rec.ExpiresAt = time.UnixMilli(expires).UTC()
	}
	return rec, nil
}

// ─── Audit events ─────────────────────────────────────────────────────────────

func (s *sqlStore) AppendAuditEvent(ctx context.Context, rec *AuditRecord) error {
	metadata := rec.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
        INSERT INTO audit_events(correlation_id, investigation_id, event_type, description, turn, result, metadata, timestamp)
        VALUES(?,?,?,?,?,?,?,?)
    `),
		rec.CorrelationID, rec.InvestigationID, rec.EventType, rec.Description, rec.Turn,
		rec.Result, metadata, formatTime(rec.Timestamp),
	)
	return err
}

func (s *sqlStore) QueryAuditEvents(ctx context.Context, q AuditQuery) ([]*AuditRecord, error) {
	query := `SELECT id,correlation_id,investigation_id,event_type,description,turn,result,metadata,timestamp FROM audit_events WHERE 1=1`
	args := []any{}

	if q.InvestigationID != "" {
		query += ` AND investigation_id = ?`
		args = append(args, q.InvestigationID)
	}
	if q.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, q.EventType)
	}
	if !q.From.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, formatTime(q.From))
	}
	if !q.To.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, formatTime(q.To))
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []*AuditRecord{}
	for rows.Next() {
		rec := &AuditRecord{}
		var ts string
		if err := rows.Scan(&rec.ID, &rec.CorrelationID, &rec.InvestigationID, &rec.EventType,
			&rec.Description, &rec.Turn, &rec.Result, &rec.Metadata, &ts); err != nil {
			return nil, err
		}
		rec.Timestamp, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func expiryMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func parseTime(s string) (time.Time, error) {
	layouts := []string{
		timeLayout,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
