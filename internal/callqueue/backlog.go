package callqueue

import (
	"sort"
	"sync"
)

// Backlog is the set of agents told to work abandoned calls instead of the
// live queue. Membership is advisory; assignment does not consult it.
type Backlog struct {
	agents map[string]string // agentID -> call the agent was pointed at
	mu     sync.RWMutex
}

// NewBacklog creates an empty backlog
func NewBacklog() *Backlog {
	return &Backlog{agents: make(map[string]string)}
}

// Add puts the agent on the backlog for callID. Adding again updates the call.
func (b *Backlog) Add(agentID, callID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.agents[agentID] = callID
}

// Remove takes the agent off the backlog and reports whether it was there
func (b *Backlog) Remove(agentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.agents[agentID]
	delete(b.agents, agentID)
	return ok
}

// Contains reports whether the agent is on the backlog
func (b *Backlog) Contains(agentID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.agents[agentID]
	return ok
}

// List returns the backlog agent ids in order
func (b *Backlog) List() []string {
	b.mu.RLock()
	ids := make([]string, 0, len(b.agents))
	for id := range b.agents {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
