package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors for the supervision core. Workspace and protocol failures
// keep their own typed errors (workspace.Error, protocol.Error) and are
// wrapped, so errors.As still reaches them through any of these.
var (
	// ErrTimeout reports that the execution exceeded its wall-clock budget.
	ErrTimeout = errors.New("agent: timeout exceeded")

	// ErrUnsupported reports an operation the binding does not implement.
	ErrUnsupported = errors.New("agent: operation not supported")

	// ErrSessionNotFound reports an unknown session id.
	ErrSessionNotFound = errors.New("agent: session not found")
)

// SpawnError reports that the child could not be launched or wired up.
type SpawnError struct {
	AgentType string
	Detail    string
	Err       error
}

func (e *SpawnError) Error() string {
	msg := fmt.Sprintf("agent %q: spawn failed", e.AgentType)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// NotAvailableError reports a failed availability precheck.
type NotAvailableError struct {
	AgentType string
	Status    AvailabilityStatus
}

func (e *NotAvailableError) Error() string {
	msg := fmt.Sprintf("agent %q: not available (%s)", e.AgentType, e.Status.State)
	if e.Status.Reason != "" {
		msg += ": " + e.Status.Reason
	}
	return msg
}

// UnsupportedFollowUp is the error bindings without SessionContinuation
// return from SpawnFollowUp.
func UnsupportedFollowUp(agentType string) error {
	return fmt.Errorf("agent %q: session continuation: %w", agentType, ErrUnsupported)
}
