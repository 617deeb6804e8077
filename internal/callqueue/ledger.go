package callqueue

import (
	"sort"
	"sync"

	"github.com/dennisdiepolder/monti/callcenter/internal/types"
	"github.com/google/uuid"
)

// Ledger keeps an audit trail of queue entries and their assignments.
// Queue order never comes from here; it always comes from Call.CreatedAt.
type Ledger struct {
	entries map[string]*types.LedgerEntry // callID -> entry
	mu      sync.RWMutex
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]*types.LedgerEntry)}
}

// Add records a call entering the queue
func (l *Ledger) Add(call *types.Call) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[call.ID] = &types.LedgerEntry{
		ID:            uuid.New().String(),
		CallID:        call.ID,
		CustomerPhone: call.CustomerPhone,
		Issue:         call.Issue,
		QueuedAt:      call.CreatedAt,
		Status:        types.LedgerQueued,
	}
}

// MarkAssigned links a ledger entry to the agent that took the call
func (l *Ledger) MarkAssigned(callID, agentID string, at int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[callID]
	if !ok {
		return
	}
	entry.Status = types.LedgerAssigned
	entry.AssignedAgentID = agentID
	entry.AssignedAt = types.Int64Ptr(at)
}

// MarkCompleted closes a ledger entry
func (l *Ledger) MarkCompleted(callID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.entries[callID]; ok {
		entry.Status = types.LedgerCompleted
	}
}

// Get returns a copy of the entry for a call
func (l *Ledger) Get(callID string) (types.LedgerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.entries[callID]
	if !ok {
		return types.LedgerEntry{}, false
	}
	return *entry, true
}

// Entries returns copies of all entries, oldest first
func (l *Ledger) Entries() []types.LedgerEntry {
	l.mu.RLock()
	result := make([]types.LedgerEntry, 0, len(l.entries))
	for _, entry := range l.entries {
		result = append(result, *entry)
	}
	l.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].QueuedAt < result[j].QueuedAt
	})
	return result
}
