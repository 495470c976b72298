package mcp

import (
	"sort"
	"sync"
)

// AllWorkflows subscribes a session to the events of every workflow.
const AllWorkflows = "*"

// SessionRegistry maps workflow names to the MCP sessions subscribed to
// their events. Populated by events.subscribe.
type SessionRegistry struct {
	mu   sync.RWMutex
	subs map[string]map[string]struct{} // workflow → session IDs
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{subs: make(map[string]map[string]struct{})}
}

// Register subscribes sessionID to workflow. Registering twice is a no-op.
func (r *SessionRegistry) Register(workflow, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[workflow]
	if !ok {
		set = make(map[string]struct{})
		r.subs[workflow] = set
	}
	set[sessionID] = struct{}{}
}

// SessionsFor returns the sessions subscribed to workflow, including
// wildcard subscribers, sorted and without duplicates.
func (r *SessionRegistry) SessionsFor(workflow string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, key := range []string{workflow, AllWorkflows} {
		for sid := range r.subs[key] {
			seen[sid] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for sid := range seen {
		out = append(out, sid)
	}
	sort.Strings(out)
	return out
}

// Remove deletes every subscription of sessionID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for wf, set := range r.subs {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.subs, wf)
		}
	}
}
