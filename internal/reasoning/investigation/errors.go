package investigation

import (
	"errors"
	"fmt"
)

var (
	// ErrGuardViolation matches every GuardError.
	ErrGuardViolation = errors.New("guard violation")

	// ErrTerminal is returned for any diagnostic work attempted in Phase 6.
	ErrTerminal = errors.New("investigation is closed; open a new investigation to continue diagnosing")
)

// GuardCode classifies a rejected transition.
type GuardCode string

const (
	GuardUnmet                GuardCode = "GUARD_UNMET"
	GuardInvalidEdge          GuardCode = "INVALID_EDGE"
	GuardUrgentContract       GuardCode = "URGENT_STRATEGY_CONTRACT"
	GuardTerminalPhase        GuardCode = "TERMINAL_PHASE"
	GuardLoopBackLimit        GuardCode = "LOOPBACK_LIMIT"
	GuardConfirmationRequired GuardCode = "CONFIRMATION_REQUIRED"
)

// GuardError is a programming-contract error: the caller asked for a
// transition whose guard does not hold.
type GuardError struct {
	From   Phase
	To     Phase
	Code   GuardCode
	Reason string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("transition %s→%s rejected (%s): %s", e.From, e.To, e.Code, e.Reason)
}

// Is lets errors.Is match ErrGuardViolation, and ErrTerminal for the
// terminal-phase code.
func (e *GuardError) Is(target error) bool {
	if target == ErrGuardViolation {
		return true
	}
	return target == ErrTerminal && e.Code == GuardTerminalPhase
}
