package agent

import (
	"strings"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Executor)
)

// Register adds or replaces an executor in the global registry, keyed by its
// agent type. Bindings register themselves; consumers look them up by tag.
func Register(executor Executor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(executor.AgentType())] = executor
}

// Get looks up an executor by agent type.
func Get(agentType string) (Executor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := registry[strings.ToLower(strings.TrimSpace(agentType))]
	return e, ok
}

// All returns a copy of the current registry.
func All() map[string]Executor {
	registryMu.RLock()
	defer registryMu.RUnlock()
	cp := make(map[string]Executor, len(registry))
	for k, v := range registry {
		cp[k] = v
	}
	return cp
}
