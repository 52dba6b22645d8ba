package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlStore {
	t.Helper()
	s, err := newSQLiteStore(":memory:", WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("newSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(id string, created time.Time) *InvestigationRecord {
	return &InvestigationRecord{
		ID:        id,
		Phase:     0,
		Status:    "CONSULTING",
		State:     []byte(`{"id":"` + id + `"}`),
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// ─── Investigations ───────────────────────────────────────────────────────────

func TestInvestigationCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := record("inv-001", testNow.Add(-time.Hour))
	if err := s.SaveInvestigation(ctx, rec); err != nil {
		t.Fatalf("SaveInvestigation: %v", err)
	}

	got, err := s.GetInvestigation(ctx, "inv-001")
	if err != nil {
		t.Fatalf("GetInvestigation: %v", err)
	}
	if got.ID != "inv-001" {
		t.Errorf("expected ID inv-001, got %s", got.ID)
	}
	if string(got.State) != string(rec.State) {
		t.Errorf("expected state %s, got %s", rec.State, got.State)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("expected created_at %v, got %v", rec.CreatedAt, got.CreatedAt)
	}
	if !got.ExpiresAt.IsZero() {
		t.Errorf("expected no expiry, got %v", got.ExpiresAt)
	}

	// Upsert
	rec.Phase = 4
	rec.Status = "DIAGNOSING"
	rec.Strategy = "NON_URGENT"
	rec.Turn = 7
	rec.LastTurnID = "turn-7"
	rec.UpdatedAt = testNow
	if err := s.SaveInvestigation(ctx, rec); err != nil {
		t.Fatalf("SaveInvestigation update: %v", err)
	}

	got, err = s.GetInvestigation(ctx, "inv-001")
	if err != nil {
		t.Fatalf("GetInvestigation after update: %v", err)
	}
	if got.Phase != 4 || got.Status != "DIAGNOSING" || got.Strategy != "NON_URGENT" {
		t.Errorf("unexpected columns after update: %+v", got)
	}
	if got.Turn != 7 || got.LastTurnID != "turn-7" {
		t.Errorf("expected turn 7 / turn-7, got %d / %s", got.Turn, got.LastTurnID)
	}
	if !got.UpdatedAt.Equal(testNow) {
		t.Errorf("expected updated_at %v, got %v", testNow, got.UpdatedAt)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("created_at changed on update: %v", got.CreatedAt)
	}
}

func TestGetInvestigationNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetInvestigation(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListInvestigations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"inv-a", "inv-b", "inv-c"} {
		if err := s.SaveInvestigation(ctx, record(id, testNow.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("SaveInvestigation %s: %v", id, err)
		}
	}

	list, err := s.ListInvestigations(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListInvestigations: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 investigations, got %d", len(list))
	}
	if list[0].ID != "inv-c" || list[2].ID != "inv-a" {
		t.Errorf("expected newest first, got %s..%s", list[0].ID, list[2].ID)
	}

	page, err := s.ListInvestigations(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ListInvestigations page: %v", err)
	}
	if len(page) != 1 || page[0].ID != "inv-b" {
		t.Errorf("expected [inv-b], got %+v", page)
	}
}

func TestDeleteInvestigation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveInvestigation(ctx, record("del-001", testNow)); err != nil {
		t.Fatalf("SaveInvestigation: %v", err)
	}
	if err := s.DeleteInvestigation(ctx, "del-001"); err != nil {
		t.Fatalf("DeleteInvestigation: %v", err)
	}
	if _, err := s.GetInvestigation(ctx, "del-001"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSaveInvestigationRejectsStaleTurn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := record("inv-stale", testNow)
	if err := s.SaveInvestigation(ctx, rec); err != nil {
		t.Fatalf("SaveInvestigation: %v", err)
	}

	// Two writers both loaded turn 0 and each produced turn 1.
	first := *rec
	first.Turn = 1
	first.LastTurnID = "writer-a"
	first.State = []byte(`{"id":"inv-stale","writer":"a"}`)
	if err := s.SaveInvestigation(ctx, &first); err != nil {
		t.Fatalf("SaveInvestigation writer a: %v", err)
	}
	second := *rec
	second.Turn = 1
	second.LastTurnID = "writer-b"
	second.State = []byte(`{"id":"inv-stale","writer":"b"}`)
	if err := s.SaveInvestigation(ctx, &second); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for a second turn-1 write, got %v", err)
	}

	older := *rec
	if err := s.SaveInvestigation(ctx, &older); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for a turn-0 write, got %v", err)
	}

	got, err := s.GetInvestigation(ctx, "inv-stale")
	if err != nil {
		t.Fatalf("GetInvestigation: %v", err)
	}
	if got.LastTurnID != "writer-a" || string(got.State) != string(first.State) {
		t.Errorf("expected the first writer to win, got %s / %s", got.LastTurnID, got.State)
	}
}

func TestExpiryUsesInjectedClock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := record("inv-clock", testNow.Add(-time.Hour))
	rec.ExpiresAt = testNow.Add(time.Minute)
	if err := s.SaveInvestigation(ctx, rec); err != nil {
		t.Fatalf("SaveInvestigation: %v", err)
	}

	if _, err := s.GetInvestigation(ctx, "inv-clock"); err != nil {
		t.Fatalf("record must be live on the injected clock: %v", err)
	}
	list, err := s.ListInvestigations(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListInvestigations: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 live investigation, got %d", len(list))
	}

	later, err := newSQLiteStore(":memory:", WithClock(func() time.Time { return testNow.Add(2 * time.Minute) }))
	if err != nil {
		t.Fatalf("newSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = later.Close() })
	if err := later.SaveInvestigation(ctx, rec); err != nil {
		t.Fatalf("SaveInvestigation later: %v", err)
	}
	if _, err := later.GetInvestigation(ctx, "inv-clock"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected a later clock to hide the record, got %v", err)
	}
	list, err = later.ListInvestigations(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListInvestigations later: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected no live investigations, got %d", len(list))
	}
}

func TestExpiryAndPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	live := record("live", testNow)
	live.ExpiresAt = testNow.Add(time.Hour)
	expired := record("expired", testNow.Add(-2*time.Hour))
	expired.ExpiresAt = testNow.Add(-time.Minute)
	forever := record("forever", testNow.Add(-time.Hour))

	for _, rec := range []*InvestigationRecord{live, expired, forever} {
		if err := s.SaveInvestigation(ctx, rec); err != nil {
			t.Fatalf("SaveInvestigation %s: %v", rec.ID, err)
		}
	}

	if _, err := s.GetInvestigation(ctx, "expired"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expired record to read as ErrNotFound, got %v", err)
	}
	got, err := s.GetInvestigation(ctx, "live")
	if err != nil {
		t.Fatalf("GetInvestigation live: %v", err)
	}
	if !got.ExpiresAt.Equal(live.ExpiresAt) {
		t.Errorf("expected expires_at %v, got %v", live.ExpiresAt, got.ExpiresAt)
	}

	list, err := s.ListInvestigations(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListInvestigations: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 live investigations, got %d", len(list))
	}

	n, err := s.PurgeExpired(ctx, testNow)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged record, got %d", n)
	}

	n, err = s.PurgeExpired(ctx, testNow.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("PurgeExpired later: %v", err)
	}
	if n != 1 {
		t.Errorf("expected the live record to be purged later, got %d", n)
	}
	if _, err := s.GetInvestigation(ctx, "forever"); err != nil {
		t.Errorf("record without expiry must survive purge: %v", err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, err := s.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != len(sqliteMigrations) {
		t.Errorf("expected schema version %d, got %d", len(sqliteMigrations), v)
	}
	if s.Dialect() != "sqlite" {
		t.Errorf("expected sqlite dialect, got %s", s.Dialect())
	}
}

// ─── Audit ────────────────────────────────────────────────────────────────────

func TestAuditEventAppendAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	events := []*AuditRecord{
		{CorrelationID: "c1", InvestigationID: "inv-1", EventType: "turn.applied", Turn: 1, Result: "success", Timestamp: testNow},
		{CorrelationID: "c2", InvestigationID: "inv-1", EventType: "phase.transitioned", Turn: 2, Result: "success", Metadata: `{"to":2}`, Timestamp: testNow.Add(time.Minute)},
		{CorrelationID: "c3", InvestigationID: "inv-2", EventType: "turn.failed", Turn: 1, Result: "failure", Timestamp: testNow.Add(2 * time.Minute)},
	}
	for _, ev := range events {
		if err := s.AppendAuditEvent(ctx, ev); err != nil {
			t.Fatalf("AppendAuditEvent: %v", err)
		}
	}

	all, err := s.QueryAuditEvents(ctx, AuditQuery{})
	if err != nil {
		t.Fatalf("QueryAuditEvents: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].CorrelationID != "c3" {
		t.Errorf("expected newest first, got %s", all[0].CorrelationID)
	}
	if all[2].Metadata != "{}" {
		t.Errorf("expected default metadata {}, got %s", all[2].Metadata)
	}

	byInv, err := s.QueryAuditEvents(ctx, AuditQuery{InvestigationID: "inv-1"})
	if err != nil {
		t.Fatalf("QueryAuditEvents by investigation: %v", err)
	}
	if len(byInv) != 2 {
		t.Errorf("expected 2 events for inv-1, got %d", len(byInv))
	}

	byType, err := s.QueryAuditEvents(ctx, AuditQuery{EventType: "turn.failed"})
	if err != nil {
		t.Fatalf("QueryAuditEvents by type: %v", err)
	}
	if len(byType) != 1 || byType[0].Result != "failure" {
		t.Errorf("expected one failed turn, got %+v", byType)
	}

	window, err := s.QueryAuditEvents(ctx, AuditQuery{From: testNow.Add(30 * time.Second), To: testNow.Add(90 * time.Second)})
	if err != nil {
		t.Fatalf("QueryAuditEvents by window: %v", err)
	}
	if len(window) != 1 || window[0].CorrelationID != "c2" {
		t.Errorf("expected only c2 in window, got %+v", window)
	}

	limited, err := s.QueryAuditEvents(ctx, AuditQuery{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("QueryAuditEvents limited: %v", err)
	}
	if len(limited) != 1 || limited[0].CorrelationID != "c2" {
		t.Errorf("expected c2 at offset 1, got %+v", limited)
	}
}

func TestRebindPostgres(t *testing.T) {
	s := &sqlStore{dialect: "postgres"}
	got := s.rebind(`SELECT * FROM t WHERE a = ? AND b = ?`)
	want := `SELECT * FROM t WHERE a = $1 AND b = $2`
	if got != want {
		t.Errorf("rebind: want %q, got %q", want, got)
	}

	lite := &sqlStore{dialect: "sqlite"}
	if q := lite.rebind(`a = ?`); q != `a = ?` {
		t.Errorf("sqlite rebind must be identity, got %q", q)
	}
}
