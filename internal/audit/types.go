package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Investigation events
	EventInvestigationCreated EventType = "investigation.created"
	EventTurnApplied          EventType = "turn.applied"
	EventTurnFailed           EventType = "turn.failed"
	EventPhaseTransitioned    EventType = "phase.transitioned"
	EventDegradedEntered      EventType = "degraded.entered"
	EventDegradedExited       EventType = "degraded.exited"
	EventEscalationRaised     EventType = "escalation.raised"
	EventHypothesisRetired    EventType = "hypothesis.retired"
	EventRootCauseConcluded   EventType = "root_cause.concluded"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPending Result = "pending"
	ResultDenied  Result = "denied"
)

// Event represents a single audit event
type Event struct {
	// Core fields
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Investigation context
	InvestigationID string `json:"investigation_id,omitempty"`
	Turn            int    `json:"turn,omitempty"`
	TurnID          string `json:"turn_id,omitempty"`

	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// Error information
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultPending,
		Metadata:  make(map[string]any),
	}
}

// WithCorrelationID sets the correlation ID for event tracking
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithInvestigation ties the event to one turn of an investigation.
func (e *Event) WithInvestigation(id string, turn int, turnID string) *Event {
	e.InvestigationID = id
	e.Turn = turn
	e.TurnID = turnID
	return e
}

// WithTimestamp overrides the event time.
func (e *Event) WithTimestamp(at time.Time) *Event {
	if !at.IsZero() {
		e.Timestamp = at.UTC()
	}
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError sets error information
func (e *Event) WithError(err error, code string) *Event {
	if err != nil {
		e.Error = err.Error()
		e.ErrorCode = code
		e.Result = ResultFailure
	}
	return e
}

// WithDuration sets the duration in milliseconds
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.DurationMs = duration.Milliseconds()
	return e
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value any) *Event {
	e.Metadata[key] = value
	return e
}
