package types

// LedgerStatus is the audit state of a queue ledger entry
type LedgerStatus string

const (
	LedgerQueued    LedgerStatus = "queued"
	LedgerAssigned  LedgerStatus = "assigned"
	LedgerCompleted LedgerStatus = "completed"
)

// LedgerEntry records when a queued call was assigned and to whom
type LedgerEntry struct {
	ID              string       `json:"id"`
	CallID          string       `json:"callId"`
	CustomerPhone   string       `json:"customerPhone"`
	Issue           string       `json:"issue,omitempty"`
	QueuedAt        int64        `json:"queuedAt"`
	AssignedAt      *int64       `json:"assignedAt,omitempty"`
	AssignedAgentID string       `json:"assignedAgentId,omitempty"`
	Status          LedgerStatus `json:"status"`
}
