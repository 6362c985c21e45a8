// Package session tracks agent sessions and their executions in memory and
// binds each session to its log store. Nothing here is persisted; state
// lives exactly as long as the process.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agusx1211/liteagent/pkg/logs"
)

// Status is a session's overall state.
type Status string

const (
	StatusActive    Status = "active"
	StatusIdle      Status = "idle"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ExecutionStatus is one invocation's state.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Execution is one agent CLI invocation within a session.
type Execution struct {
	ID          string          `json:"id"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at,omitzero"`
	Status      ExecutionStatus `json:"status"`
	ExitCode    *int            `json:"exit_code,omitempty"`
	Input       string          `json:"input"`
}

// Session is a logical conversation scope. Its agent type is immutable after
// creation and its execution list is append-only.
type Session struct {
	ID         string      `json:"id"`
	AgentType  string      `json:"agent_type"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Status     Status      `json:"status"`
	Executions []Execution `json:"executions"`

	// AgentSessionID is the CLI-reported session id captured from the
	// child's init event, used by follow-up spawns to resume.
	AgentSessionID string `json:"agent_session_id,omitempty"`
}

// Manager is the in-memory session registry. A sync.RWMutex guards the maps:
// readers share it, but a waiting writer blocks new readers, so the lock does
// not prefer readers. Log stores are handed out by shared reference so
// readers outlive the lock.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	stores   map[string]*logs.Store
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		stores:   make(map[string]*logs.Store),
	}
}

// Create allocates a new session for the agent type, with a fresh log store.
func (m *Manager) Create(agentType string) Session {
	now := time.Now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		AgentType: agentType,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    StatusActive,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.stores[s.ID] = logs.NewStore()
	m.mu.Unlock()

	return *s
}

// Get returns a copy of the session.
func (m *Manager) Get(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return copySession(s), true
}

// List returns copies of all sessions.
func (m *Manager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, copySession(s))
	}
	return out
}

// LogStore returns the session's log store by shared reference.
func (m *Manager) LogStore(id string) (*logs.Store, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	store, ok := m.stores[id]
	return store, ok
}

// AddExecution appends a Running execution. At most one execution per
// session may be running at any instant.
func (m *Manager) AddExecution(sessionID, input string) (Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Execution{}, fmt.Errorf("session %s: not found", sessionID)
	}
	for _, e := range s.Executions {
		if e.Status == ExecutionRunning {
			return Execution{}, fmt.Errorf("session %s: execution %s already running", sessionID, e.ID)
		}
	}

	exec := Execution{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    ExecutionRunning,
		Input:     input,
	}
	s.Executions = append(s.Executions, exec)
	s.Status = StatusActive
	s.UpdatedAt = time.Now().UTC()
	return exec, nil
}

// CompleteExecution marks an execution terminal with its classification and,
// when known, the exit code. The session status follows the execution's.
func (m *Manager) CompleteExecution(sessionID, executionID string, status ExecutionStatus, exitCode *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: not found", sessionID)
	}

	for i := range s.Executions {
		if s.Executions[i].ID != executionID {
			continue
		}
		s.Executions[i].Status = status
		s.Executions[i].ExitCode = exitCode
		if status != ExecutionRunning {
			s.Executions[i].CompletedAt = time.Now().UTC()
		}
		s.UpdatedAt = time.Now().UTC()

		switch status {
		case ExecutionCompleted:
			s.Status = StatusCompleted
		case ExecutionFailed:
			s.Status = StatusFailed
		case ExecutionCancelled:
			s.Status = StatusCancelled
		}
		return nil
	}
	return fmt.Errorf("session %s: execution %s not found", sessionID, executionID)
}

// UpdateStatus sets the session's overall status.
func (m *Manager) UpdateStatus(sessionID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: not found", sessionID)
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// SetAgentSessionID records the CLI-reported session id.
func (m *Manager) SetAgentSessionID(sessionID, agentSessionID string) {
	if agentSessionID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.AgentSessionID = agentSessionID
		s.UpdatedAt = time.Now().UTC()
	}
}

// Delete removes a session and its log store.
func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return fmt.Errorf("session %s: not found", sessionID)
	}
	delete(m.sessions, sessionID)
	delete(m.stores, sessionID)
	return nil
}

// CleanupOlderThan deletes sessions untouched for longer than age and
// returns how many were removed.
func (m *Manager) CleanupOlderThan(age time.Duration) int {
	cutoff := time.Now().UTC().Add(-age)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			delete(m.stores, id)
			removed++
		}
	}
	return removed
}

func copySession(s *Session) Session {
	cp := *s
	cp.Executions = append([]Execution(nil), s.Executions...)
	return cp
}
