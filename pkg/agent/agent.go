// Package agent defines the polymorphic executor contract all agent bindings
// implement, the spawned-agent handle that supervises one child process, and
// the high-level runner that ties executors, sessions, and workspaces
// together.
package agent

import (
	"context"

	"github.com/agusx1211/liteagent/pkg/logs"
)

// Capability declares an optional behaviour a binding supports.
type Capability string

const (
	// CapSessionContinuation: the binding can resume a prior session.
	CapSessionContinuation Capability = "session_continuation"
	// CapBidirectionalControl: the binding speaks the stdio control protocol.
	CapBidirectionalControl Capability = "bidirectional_control"
	// CapWorkspaceIsolation: the binding honors workspace configs.
	CapWorkspaceIsolation Capability = "workspace_isolation"
	// CapRequiresSetup: the binding needs installation or authentication.
	CapRequiresSetup Capability = "requires_setup"
)

// HasCapability reports whether caps contains c.
func HasCapability(caps []Capability, c Capability) bool {
	for _, have := range caps {
		if have == c {
			return true
		}
	}
	return false
}

// AvailabilityState is the coarse availability classification.
type AvailabilityState string

const (
	StateAvailable                 AvailabilityState = "available"
	StateInstalledNotAuthenticated AvailabilityState = "installed_not_authenticated"
	StateNotFound                  AvailabilityState = "not_found"
	StateRequiresSetup             AvailabilityState = "requires_setup"
)

// AvailabilityStatus reports whether a binding's CLI can be used right now.
type AvailabilityStatus struct {
	State        AvailabilityState `json:"state"`
	Reason       string            `json:"reason,omitempty"`
	Instructions string            `json:"instructions,omitempty"`
}

// Available builds an available status.
func Available() AvailabilityStatus {
	return AvailabilityStatus{State: StateAvailable}
}

// NotFound builds a not-found status with a reason.
func NotFound(reason string) AvailabilityStatus {
	return AvailabilityStatus{State: StateNotFound, Reason: reason}
}

// RequiresSetup builds a requires-setup status with instructions.
func RequiresSetup(instructions string) AvailabilityStatus {
	return AvailabilityStatus{State: StateRequiresSetup, Instructions: instructions}
}

// IsAvailable reports whether the binding is ready to spawn.
func (s AvailabilityStatus) IsAvailable() bool {
	return s.State == StateAvailable
}

// Executor is the contract every agent binding implements.
//
// Spawn must return with the child already running and its stdio wired into
// the returned handle's log store. NormalizeLogs converts the binding's raw
// passthrough lines into unified entries; parse failures become Error entries
// in the output, never hard failures.
type Executor interface {
	// AgentType is the stable tag identifying the binding (e.g. "claude").
	AgentType() string

	// Capabilities declares which optional behaviours apply.
	Capabilities() []Capability

	// CheckAvailability resolves the binding's CLI and reports its status.
	CheckAvailability(ctx context.Context) AvailabilityStatus

	// Spawn launches a new execution with the initial input.
	Spawn(ctx context.Context, cfg Config, input string) (*SpawnedAgent, error)

	// SpawnFollowUp resumes a prior session with follow-up input. Bindings
	// without CapSessionContinuation return UnsupportedFollowUp.
	SpawnFollowUp(ctx context.Context, cfg Config, input, priorSessionID string) (*SpawnedAgent, error)

	// NormalizeLogs converts raw child output lines into normalized entries.
	// The returned channel closes when lines closes.
	NormalizeLogs(lines <-chan []byte) <-chan logs.Entry
}

// NormalizeWith adapts a per-line parse function into the NormalizeLogs
// channel shape shared by the bindings.
func NormalizeWith(lines <-chan []byte, parse func(line []byte) []logs.Entry) <-chan logs.Entry {
	out := make(chan logs.Entry, 64)
	go func() {
		defer close(out)
		for line := range lines {
			for _, entry := range parse(line) {
				out <- entry
			}
		}
	}()
	return out
}
