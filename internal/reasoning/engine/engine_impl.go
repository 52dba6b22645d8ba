package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kubilitics/kubilitics-investigator/internal/artifact"
	"github.com/kubilitics/kubilitics-investigator/internal/audit"
	"github.com/kubilitics/kubilitics-investigator/internal/cache"
	"github.com/kubilitics/kubilitics-investigator/internal/db"
	"github.com/kubilitics/kubilitics-investigator/internal/integration/reasoning"
	"github.com/kubilitics/kubilitics-investigator/internal/metrics"
	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/investigation"
	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/lifecycle"
)

// Config tunes the engine.
type Config struct {
	// Workers bounds AdvanceBatch parallelism.
	Workers int
	// EventBuffer is the channel size of each subscriber.
	EventBuffer int
	// StateTTL sets expires_at to the write time plus StateTTL. Zero keeps
	// records forever.
	StateTTL time.Duration
	// ClassifyParallelism bounds concurrent classification calls within one
	// turn.
	ClassifyParallelism int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{Workers: 8, EventBuffer: 64, ClassifyParallelism: 4}
}

// Deps are the engine's collaborators. Store is required; the rest are
// optional.
type Deps struct {
	Store db.Store
	// Cache is ignored when Store is shared between processes (the postgres
	// dialect), since invalidation is process-local.
	Cache      *cache.SnapshotCache
	Artifacts  artifact.Store
	Classifier reasoning.Classifier
	Audit      audit.Logger
	Logger     *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// engineImpl is the concrete Engine.
type engineImpl struct {
	cfg        Config
	store      db.Store
	cache      *cache.SnapshotCache
	artifacts  artifact.Store
	classifier reasoning.Classifier
	auditLog   audit.Logger
	logger     *zap.Logger
	now        func() time.Time
	controller *lifecycle.Controller
	locks      *keyedMutex

	// Subscribers (investigation ID → list of subscribers)
	subsMu      sync.Mutex
	subscribers map[string][]*Subscriber
	closed      bool
}

// NewEngine creates an Engine.
func NewEngine(deps Deps, cfg Config) (Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.ClassifyParallelism <= 0 {
		cfg.ClassifyParallelism = def.ClassifyParallelism
	}
	e := &engineImpl{
		cfg:         cfg,
		store:       deps.Store,
		cache:       deps.Cache,
		artifacts:   deps.Artifacts,
		classifier:  deps.Classifier,
		auditLog:    deps.Audit,
		logger:      deps.Logger,
		now:         deps.Now,
		controller:  lifecycle.NewController(),
		locks:       newKeyedMutex(),
		subscribers: make(map[string][]*Subscriber),
	}
	if e.auditLog == nil {
		e.auditLog = audit.NewNopLogger()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.cache != nil && deps.Store.Dialect() == "postgres" {
		e.logger.Info("snapshot cache disabled for shared state store", zap.String("dialect", "postgres"))
		e.cache = nil
	}
	return e, nil
}

// ─── Subscribers ──────────────────────────────────────────────────────────────

// Subscribe registers a channel to receive turn events. The channel is
// closed by Unsubscribe or Close.
func (e *engineImpl) Subscribe(investigationID string) *Subscriber {
	sub := &Subscriber{Ch: make(chan TurnEvent, e.cfg.EventBuffer)}
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	if e.closed {
		close(sub.Ch)
		return sub
	}
	e.subscribers[investigationID] = append(e.subscribers[investigationID], sub)
	return sub
}

func (e *engineImpl) Unsubscribe(investigationID string, sub *Subscriber) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	subs := e.subscribers[investigationID]
	for i, s := range subs {
		if s == sub {
			e.subscribers[investigationID] = append(subs[:i:i], subs[i+1:]...)
			close(s.Ch)
			break
		}
	}
	if len(e.subscribers[investigationID]) == 0 {
		delete(e.subscribers, investigationID)
	}
}

// publish sends an event to all subscribers of the given investigation.
// Sends never block; the lock keeps Unsubscribe from closing a channel
// mid-send.
func (e *engineImpl) publish(id string, ev TurnEvent) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, s := range e.subscribers[id] {
		select {
		case s.Ch <- ev:
		default:
			metrics.EventsDropped.Inc()
		}
	}
}

func (e *engineImpl) Close() {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, subs := range e.subscribers {
		for _, s := range subs {
			close(s.Ch)
		}
		delete(e.subscribers, id)
	}
}

// ─── Public interface ─────────────────────────────────────────────────────────

// Create opens a new investigation in Phase 0.
func (e *engineImpl) Create(ctx context.Context, problem string) (*investigation.Investigation, error) {
	inv := investigation.New(uuid.NewString(), strings.TrimSpace(problem), e.now())
	if err := e.save(ctx, inv); err != nil {
		return nil, err
	}

	metrics.InvestigationsCreated.Inc()
	_ = e.auditLog.LogInvestigationCreated(ctx, inv.ID)
	e.logger.Info("investigation created", zap.String("investigation_id", inv.ID))
	return inv, nil
}

// Get loads one investigation.
func (e *engineImpl) Get(ctx context.Context, id string) (*investigation.Investigation, error) {
	return e.load(ctx, id)
}

// List returns live investigations, newest first.
func (e *engineImpl) List(ctx context.Context, limit, offset int) ([]Summary, error) {
	start := time.Now()
	recs, err := e.store.ListInvestigations(ctx, limit, offset)
	metrics.StoreDuration.WithLabelValues("list").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: list investigations: %w", ErrServiceUnavailable, err)
	}
	out := make([]Summary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toSummary(rec))
	}
	return out, nil
}

// Purge deletes expired investigations and drops the snapshot cache.
func (e *engineImpl) Purge(ctx context.Context) (int64, error) {
	n, err := e.store.PurgeExpired(ctx, e.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	if e.cache != nil {
		e.cache.Purge()
	}
	return n, nil
}

// Turn applies one turn.
func (e *engineImpl) Turn(ctx context.Context, req TurnRequest) (*TurnOutcome, error) {
	start := time.Now()
	defer func() { metrics.TurnDuration.Observe(time.Since(start).Seconds()) }()

	if req.InvestigationID == "" {
		return nil, fmt.Errorf("%w: investigation id is required", lifecycle.ErrInvalidTurn)
	}
	in := req.Input
	if in.TurnID == "" {
		in.TurnID = uuid.NewString()
	}

	unlock := e.locks.Lock(req.InvestigationID)
	defer unlock()

	inv, err := e.load(ctx, req.InvestigationID)
	if err != nil {
		e.turnFailed(ctx, req.InvestigationID, in.TurnID, err)
		return nil, err
	}

	if in.TurnID == inv.LastTurnID {
		metrics.TurnsTotal.WithLabelValues("replayed").Inc()
		return &TurnOutcome{
			Investigation: inv,
			Result:        &investigation.TurnResult{TurnID: in.TurnID, Turn: inv.Turn, Replayed: true},
		}, nil
	}

	if !inv.IsTerminal() {
		if err := e.enrich(ctx, inv, &in, req.Uploads); err != nil {
			e.turnFailed(ctx, inv.ID, in.TurnID, err)
			return nil, err
		}
	}

	next, res, err := e.controller.Advance(inv, in)
	if err != nil {
		if errors.Is(err, investigation.ErrTerminal) {
			metrics.TurnsTotal.WithLabelValues("terminal").Inc()
			e.turnFailed(ctx, inv.ID, in.TurnID, err)
			return &TurnOutcome{Investigation: inv, Result: res}, err
		}
		metrics.TurnsTotal.WithLabelValues("rejected").Inc()
		e.turnFailed(ctx, inv.ID, in.TurnID, err)
		return nil, err
	}
	if next == inv {
		// Phase 6 with nothing to apply.
		metrics.TurnsTotal.WithLabelValues("terminal").Inc()
		return &TurnOutcome{Investigation: inv, Result: res}, nil
	}

	// Cancellation before the save leaves the stored aggregate untouched.
	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
		e.turnFailed(ctx, inv.ID, in.TurnID, err)
		return nil, err
	}
	if err := e.save(ctx, next); err != nil {
		e.turnFailed(ctx, inv.ID, in.TurnID, err)
		return nil, err
	}

	metrics.TurnsTotal.WithLabelValues("applied").Inc()
	e.record(ctx, next, res)
	e.publish(next.ID, turnEvent(next, res, e.now()))
	return &TurnOutcome{Investigation: next, Result: res}, nil
}

// AdvanceBatch applies turns with at most cfg.Workers running at once.
func (e *engineImpl) AdvanceBatch(ctx context.Context, reqs []TurnRequest) []BatchResult {
	results := make([]BatchResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, req := range reqs {
		g.Go(func() error {
			out, err := e.Turn(ctx, req)
			results[i] = BatchResult{InvestigationID: req.InvestigationID, Outcome: out, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ─── Turn pipeline ────────────────────────────────────────────────────────────

// enrich stores uploads and classifies unclassified evidence. It mutates only
// the turn input.
func (e *engineImpl) enrich(ctx context.Context, inv *investigation.Investigation, in *investigation.TurnInput, uploads []Upload) error {
	if len(uploads) > 0 {
		if e.artifacts == nil {
			return fmt.Errorf("%w: artifact store is not configured", ErrServiceUnavailable)
		}
		evidence := make([]investigation.EvidenceSubmission, 0, len(in.Evidence)+len(uploads))
		evidence = append(evidence, in.Evidence...)
		for _, up := range uploads {
			ref, err := e.artifacts.Put(ctx, up.Content)
			if err != nil {
				return fmt.Errorf("%w: store artifact: %w", ErrServiceUnavailable, err)
			}
			evidence = append(evidence, investigation.EvidenceSubmission{Text: up.Note, ContentRef: ref})
		}
		in.Evidence = evidence
	}

	if e.classifier == nil || len(in.Evidence) == 0 {
		return nil
	}

	// Classify into a copy so a failed turn leaves the caller's input as is.
	evidence := append([]investigation.EvidenceSubmission(nil), in.Evidence...)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ClassifyParallelism)
	for i := range evidence {
		// Empty submissions are left for the controller to reject.
		if evidence[i].Classification != nil || (evidence[i].Text == "" && evidence[i].ContentRef == "") {
			continue
		}
		g.Go(func() error {
			c, err := e.classifier.Classify(gctx, reasoning.RequestFor(inv, evidence[i]))
			if err != nil {
				metrics.ClassifyRequests.WithLabelValues("error").Inc()
				return err
			}
			metrics.ClassifyRequests.WithLabelValues("ok").Inc()
			evidence[i].Classification = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: classify evidence: %w", ErrServiceUnavailable, err)
	}
	in.Evidence = evidence
	return nil
}

func (e *engineImpl) load(ctx context.Context, id string) (*investigation.Investigation, error) {
	if e.cache != nil {
		if data, ok := e.cache.Get(id); ok {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			if inv, err := investigation.Unmarshal(data); err == nil {
				return inv, nil
			}
			e.cache.Invalidate(id)
		} else {
			metrics.CacheLookups.WithLabelValues("miss").Inc()
		}
	}

	start := time.Now()
	rec, err := e.store.GetInvestigation(ctx, id)
	metrics.StoreDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load investigation: %w", ErrServiceUnavailable, err)
	}
	inv, err := investigation.Unmarshal(rec.State)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Put(id, rec.State)
	}
	return inv, nil
}

func (e *engineImpl) save(ctx context.Context, inv *investigation.Investigation) error {
	rec, err := toRecord(inv, e.cfg.StateTTL, e.now())
	if err != nil {
		return err
	}
	start := time.Now()
	err = e.store.SaveInvestigation(ctx, rec)
	metrics.StoreDuration.WithLabelValues("save").Observe(time.Since(start).Seconds())
	if err != nil {
		if e.cache != nil {
			e.cache.Invalidate(inv.ID)
		}
		if errors.Is(err, db.ErrConflict) {
			metrics.TurnsTotal.WithLabelValues("conflict").Inc()
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return fmt.Errorf("%w: save investigation: %w", ErrServiceUnavailable, err)
	}
	if e.cache != nil {
		e.cache.Put(inv.ID, rec.State)
	}
	return nil
}

func (e *engineImpl) turnFailed(ctx context.Context, id, turnID string, err error) {
	if errors.Is(err, ErrServiceUnavailable) {
		metrics.TurnsTotal.WithLabelValues("unavailable").Inc()
	}
	e.logger.Warn("turn failed",
		zap.String("investigation_id", id),
		zap.String("turn_id", turnID),
		zap.Error(err))
	_ = e.auditLog.LogTurnFailed(ctx, id, turnID, err)
}

// record mirrors a turn result into the audit trail and metrics.
func (e *engineImpl) record(ctx context.Context, inv *investigation.Investigation, res *investigation.TurnResult) {
	at := inv.UpdatedAt
	event := func(t audit.EventType) *audit.Event {
		return audit.NewEvent(t).
			WithCorrelationID(audit.GetCorrelationID(ctx)).
			WithInvestigation(inv.ID, res.Turn, res.TurnID).
			WithTimestamp(at).
			WithResult(audit.ResultSuccess)
	}

	_ = e.auditLog.Log(ctx, event(audit.EventTurnApplied).
		WithDescription(fmt.Sprintf("Turn %d applied in phase %s", res.Turn, inv.CurrentPhase)).
		WithMetadata("phase", inv.CurrentPhase.String()).
		WithMetadata("made_progress", res.MadeProgress))

	for _, tr := range res.Transitions {
		metrics.PhaseTransitions.WithLabelValues(tr.From.String(), tr.To.String()).Inc()
		_ = e.auditLog.Log(ctx, event(audit.EventPhaseTransitioned).
			WithDescription(fmt.Sprintf("%s → %s", tr.From, tr.To)).
			WithMetadata("from", tr.From.String()).
			WithMetadata("to", tr.To.String()).
			WithMetadata("trigger", tr.Trigger).
			WithMetadata("loop_back", tr.LoopBack))
	}
	if d := res.DegradedEntered; d != nil {
		metrics.DegradedEntered.WithLabelValues(string(d.Type)).Inc()
		_ = e.auditLog.Log(ctx, event(audit.EventDegradedEntered).
			WithDescription(d.Reason).
			WithMetadata("type", string(d.Type)))
	}
	if d := res.DegradedExited; d != nil {
		_ = e.auditLog.Log(ctx, event(audit.EventDegradedExited).
			WithDescription(d.Reason).
			WithMetadata("type", string(d.Type)))
	}
	if esc := res.Escalation; esc != nil {
		metrics.EscalationsTotal.WithLabelValues(string(esc.Source)).Inc()
		_ = e.auditLog.Log(ctx, event(audit.EventEscalationRaised).
			WithDescription(esc.Reason).
			WithMetadata("source", string(esc.Source)))
	}
	for _, id := range res.RetiredHypotheses {
		metrics.HypothesesRetired.Inc()
		_ = e.auditLog.Log(ctx, event(audit.EventHypothesisRetired).
			WithDescription(fmt.Sprintf("Hypothesis %s retired", id)).
			WithMetadata("hypothesis_id", id))
	}
	if res.RootCauseSet && inv.RootCause != nil {
		rc := inv.RootCause
		metrics.RootCausesConcluded.WithLabelValues(string(rc.Basis)).Inc()
		_ = e.auditLog.Log(ctx, event(audit.EventRootCauseConcluded).
			WithDescription(rc.Statement).
			WithMetadata("hypothesis_id", rc.HypothesisID).
			WithMetadata("basis", string(rc.Basis)).
			WithMetadata("confidence", rc.Confidence))
	}
}

// ─── Record conversion ────────────────────────────────────────────────────────

// The expiry clock starts at the write, not at the turn's logical time.
func toRecord(inv *investigation.Investigation, ttl time.Duration, written time.Time) (*db.InvestigationRecord, error) {
	state, err := investigation.Marshal(inv)
	if err != nil {
		return nil, err
	}
	rec := &db.InvestigationRecord{
		ID:         inv.ID,
		Phase:      int(inv.CurrentPhase),
		Status:     string(inv.Status),
		Strategy:   string(inv.StrategyValue()),
		Turn:       inv.Turn,
		LastTurnID: inv.LastTurnID,
		State:      state,
		CreatedAt:  inv.CreatedAt,
		UpdatedAt:  inv.UpdatedAt,
	}
	if ttl > 0 {
		rec.ExpiresAt = written.Add(ttl).UTC()
	}
	return rec, nil
}

func toSummary(rec *db.InvestigationRecord) Summary {
	s := Summary{
		ID:        rec.ID,
		Phase:     investigation.Phase(rec.Phase),
		PhaseName: investigation.Phase(rec.Phase).String(),
		Status:    rec.Status,
		Strategy:  rec.Strategy,
		Turn:      rec.Turn,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if !rec.ExpiresAt.IsZero() {
		exp := rec.ExpiresAt
		s.ExpiresAt = &exp
	}
	return s
}

func turnEvent(inv *investigation.Investigation, res *investigation.TurnResult, now time.Time) TurnEvent {
	typ := "turn"
	if inv.IsTerminal() {
		typ = "closed"
	}
	return TurnEvent{
		InvestigationID:   inv.ID,
		Type:              typ,
		TurnID:            res.TurnID,
		Turn:              res.Turn,
		Phase:             inv.CurrentPhase,
		Status:            inv.Status,
		Result:            res,
		WorkingConclusion: inv.WorkingConclusion,
		Timestamp:         now.UTC(),
	}
}
