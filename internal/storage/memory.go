package storage

import (
	"sort"
	"sync"

	"github.com/dennisdiepolder/monti/callcenter/internal/domain"
	"github.com/dennisdiepolder/monti/callcenter/internal/types"
)

type callRow struct {
	call *types.Call
	seq  uint64 // insertion order, breaks CreatedAt ties
}

// MemoryCallStore is the authoritative in-process CallStore
type MemoryCallStore struct {
	calls       map[string]*callRow
	transcripts map[string]types.Transcript
	turns       map[string][]types.Turn
	seq         uint64
	mu          sync.RWMutex
}

// NewMemoryCallStore creates an empty store
func NewMemoryCallStore() *MemoryCallStore {
	return &MemoryCallStore{
		calls:       make(map[string]*callRow),
		transcripts: make(map[string]types.Transcript),
		turns:       make(map[string][]types.Turn),
	}
}

// Insert adds a new call; ids must be unique
func (s *MemoryCallStore) Insert(call *types.Call) error {
	if call == nil || call.ID == "" {
		return domain.NewInvalidArgumentError("call id is required")
	}
	if call.CustomerPhone == "" {
		return domain.NewInvalidArgumentError("customerPhone is required")
	}
	if call.Status == types.CallStatusActive && (call.AgentID == nil || call.StartTime == nil) {
		return domain.NewInvalidArgumentError("active call requires agentId and startTime")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.calls[call.ID]; exists {
		return domain.NewInvalidArgumentError("call " + call.ID + " already exists")
	}
	s.seq++
	s.calls[call.ID] = &callRow{call: call.Clone(), seq: s.seq}
	return nil
}

// Get returns a copy of the call
func (s *MemoryCallStore) Get(callID string) (*types.Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.calls[callID]
	if !ok {
		return nil, domain.NewNotFoundError("call", callID)
	}
	return row.call.Clone(), nil
}

// Transition atomically moves a call to a new status and applies fields
func (s *MemoryCallStore) Transition(callID string, to types.CallStatus, fields types.TransitionFields, now int64) (*types.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.calls[callID]
	if !ok {
		return nil, domain.NewNotFoundError("call", callID)
	}
	call := row.call
	if !types.CanTransition(call.Status, to) {
		return nil, domain.NewInvalidTransitionError(callID, call.Status, to)
	}
	if to == types.CallStatusActive && (fields.AgentID == nil || fields.StartTime == nil) {
		return nil, domain.NewInvalidArgumentError("activating a call requires agentId and startTime")
	}

	call.Status = to
	if fields.AgentID != nil {
		call.AgentID = types.StringPtr(*fields.AgentID)
	}
	if fields.StartTime != nil {
		call.StartTime = types.Int64Ptr(*fields.StartTime)
	}
	if fields.EndTime != nil {
		call.EndTime = types.Int64Ptr(*fields.EndTime)
	}
	if fields.WaitTimeSeconds != nil {
		call.WaitTimeSeconds = *fields.WaitTimeSeconds
	}
	if fields.Kind != "" {
		call.Kind = fields.Kind
	}
	if to == types.CallStatusAbandoned {
		call.AgentID = nil
	}
	call.UpdatedAt = now

	return call.Clone(), nil
}

// Reactivate turns an ABANDONED call into an ACTIVE callback, keeping its id
func (s *MemoryCallStore) Reactivate(callID, agentID string, now int64) (*types.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.calls[callID]
	if !ok {
		return nil, domain.NewNotFoundError("call", callID)
	}
	call := row.call
	if call.Status != types.CallStatusAbandoned {
		return nil, domain.NewInvalidTransitionError(callID, call.Status, types.CallStatusActive)
	}

	call.Status = types.CallStatusActive
	call.Kind = types.CallKindCallback
	call.AgentID = types.StringPtr(agentID)
	call.StartTime = types.Int64Ptr(now)
	call.EndTime = nil
	call.ExpectedDurationSeconds = nil
	call.GenerationStatus = types.GenerationPending
	call.GenerationAttempts = 0
	call.UpdatedAt = now

	return call.Clone(), nil
}

// ListByStatus returns copies of calls in status; QUEUED calls are oldest first
func (s *MemoryCallStore) ListByStatus(status types.CallStatus) []*types.Call {
	s.mu.RLock()
	rows := make([]*callRow, 0)
	for _, row := range s.calls {
		if row.call.Status == status {
			rows = append(rows, &callRow{call: row.call.Clone(), seq: row.seq})
		}
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].call.CreatedAt != rows[j].call.CreatedAt {
			return rows[i].call.CreatedAt < rows[j].call.CreatedAt
		}
		return rows[i].seq < rows[j].seq
	})

	result := make([]*types.Call, len(rows))
	for i, row := range rows {
		result[i] = row.call
	}
	return result
}

// SetExpectedDuration records the predicted duration; only ACTIVE calls accept it
func (s *MemoryCallStore) SetExpectedDuration(callID string, seconds, now int64) error {
	if seconds <= 0 {
		return domain.NewInvalidArgumentError("expected duration must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.calls[callID]
	if !ok {
		return domain.NewNotFoundError("call", callID)
	}
	if row.call.Status != types.CallStatusActive {
		return domain.NewInvalidTransitionError(callID, row.call.Status, types.CallStatusActive)
	}
	row.call.ExpectedDurationSeconds = types.Int64Ptr(seconds)
	row.call.UpdatedAt = now
	return nil
}

// SetGeneration records provisioning progress
func (s *MemoryCallStore) SetGeneration(callID string, status types.GenerationStatus, attempts int, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.calls[callID]
	if !ok {
		return domain.NewNotFoundError("call", callID)
	}
	row.call.GenerationStatus = status
	row.call.GenerationAttempts = attempts
	row.call.UpdatedAt = now
	return nil
}

// SaveTranscript upserts the transcript of a call
func (s *MemoryCallStore) SaveTranscript(transcript types.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calls[transcript.CallID]; !ok {
		return domain.NewNotFoundError("call", transcript.CallID)
	}
	s.transcripts[transcript.CallID] = transcript
	return nil
}

// GetTranscript returns the stored transcript of a call
func (s *MemoryCallStore) GetTranscript(callID string) (*types.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transcripts[callID]
	if !ok {
		return nil, domain.NewNotFoundError("transcript", callID)
	}
	return &t, nil
}

// SaveTurns replaces the conversation turns of a call
func (s *MemoryCallStore) SaveTurns(callID string, turns []types.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calls[callID]; !ok {
		return domain.NewNotFoundError("call", callID)
	}
	cp := make([]types.Turn, len(turns))
	copy(cp, turns)
	s.turns[callID] = cp
	return nil
}

// GetTurns returns the conversation turns of a call
func (s *MemoryCallStore) GetTurns(callID string) []types.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.turns[callID]
	cp := make([]types.Turn, len(turns))
	copy(cp, turns)
	return cp
}
