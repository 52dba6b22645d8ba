// Package engine runs investigation turns for the host.
//
// The lifecycle controller is pure: given an aggregate and a turn input it
// returns the next aggregate. The engine owns everything around it:
//
//	Turn request
//	  → lock the investigation (turns on one id are strictly sequential)
//	  → load the aggregate (snapshot cache, then State Store)
//	  → replay check (last applied turn id returns the stored aggregate)
//	  → store uploaded artifacts, classify evidence via the Reasoning Service
//	  → lifecycle.Controller.Advance
//	  → save, refresh cache, publish a TurnEvent, audit, metrics
//
// Any failure before the save abandons the turn. Nothing is written, and the
// caller retries with the same turn id.
//
// Concurrency:
//   - Turns for different investigations run in parallel (AdvanceBatch bounds
//     them with a worker limit)
//   - Turns for the same investigation serialize on a keyed lock
//   - Subscribers receive events on buffered channels; a slow subscriber
//     loses events instead of blocking the turn
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/investigation"
)

var (
	// ErrServiceUnavailable wraps reasoning, artifact and state-store
	// failures. When it is returned no state has been mutated.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrNotFound is returned for an unknown or expired investigation.
	ErrNotFound = errors.New("investigation not found")

	// ErrConflict is returned when another writer saved a newer turn of the
	// same investigation first. The turn was not applied; retrying it runs
	// against the newer state.
	ErrConflict = errors.New("investigation was modified concurrently")
)

// Engine is the host-facing investigation API.
type Engine interface {
	// Create opens a new investigation in Phase 0.
	Create(ctx context.Context, problem string) (*investigation.Investigation, error)

	// Get loads one investigation.
	Get(ctx context.Context, id string) (*investigation.Investigation, error)

	// List returns live investigations, newest first.
	List(ctx context.Context, limit, offset int) ([]Summary, error)

	// Turn applies one turn. On a Phase 6 rejection the outcome is returned
	// together with an error matching investigation.ErrTerminal.
	Turn(ctx context.Context, req TurnRequest) (*TurnOutcome, error)

	// AdvanceBatch applies many turns with bounded parallelism. Results are
	// in request order.
	AdvanceBatch(ctx context.Context, reqs []TurnRequest) []BatchResult

	// Purge deletes expired investigations.
	Purge(ctx context.Context) (int64, error)

	// Subscribe registers for the turn events of one investigation.
	Subscribe(investigationID string) *Subscriber

	// Unsubscribe removes sub and closes its channel.
	Unsubscribe(investigationID string, sub *Subscriber)

	// Close closes every subscriber channel.
	Close()
}

// TurnRequest is one turn for one investigation.
type TurnRequest struct {
	InvestigationID string                  `json:"investigation_id"`
	Input           investigation.TurnInput `json:"input"`
	// Uploads are raw evidence documents. Each is stored in the artifact
	// store and submitted as evidence by reference.
	Uploads []Upload `json:"uploads,omitempty"`
}

// Upload is one raw evidence document.
type Upload struct {
	Content []byte `json:"content"`
	Note    string `json:"note,omitempty"`
}

// TurnOutcome is the result of an applied (or replayed) turn.
type TurnOutcome struct {
	Investigation *investigation.Investigation `json:"investigation"`
	Result        *investigation.TurnResult    `json:"result"`
}

// BatchResult pairs an outcome with its error.
type BatchResult struct {
	InvestigationID string       `json:"investigation_id"`
	Outcome         *TurnOutcome `json:"outcome,omitempty"`
	Err             error        `json:"-"`
}

// Summary is the list view of one investigation.
type Summary struct {
	ID        string              `json:"id"`
	Phase     investigation.Phase `json:"phase"`
	PhaseName string              `json:"phase_name"`
	Status    string              `json:"status"`
	Strategy  string              `json:"strategy,omitempty"`
	Turn      int                 `json:"turn"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	ExpiresAt *time.Time          `json:"expires_at,omitempty"`
}

// TurnEvent is streamed to subscribers after each applied turn.
type TurnEvent struct {
	InvestigationID   string                           `json:"investigation_id"`
	Type              string                           `json:"type"` // "turn" | "closed"
	TurnID            string                           `json:"turn_id"`
	Turn              int                              `json:"turn"`
	Phase             investigation.Phase              `json:"phase"`
	Status            investigation.CaseStatus         `json:"status"`
	Result            *investigation.TurnResult        `json:"result,omitempty"`
	WorkingConclusion *investigation.WorkingConclusion `json:"working_conclusion,omitempty"`
	Timestamp         time.Time                        `json:"timestamp"`
}

// Subscriber receives turn events in real time.
type Subscriber struct {
	Ch chan TurnEvent
}
