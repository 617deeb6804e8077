package callqueue

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/callcenter/internal/domain"
	"github.com/dennisdiepolder/monti/callcenter/internal/metrics"
	"github.com/dennisdiepolder/monti/callcenter/internal/storage"
	"github.com/dennisdiepolder/monti/callcenter/internal/types"
	"github.com/dennisdiepolder/monti/callcenter/pkg/phone"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultBurstCap bounds how many agents one provisioning pass may add
const DefaultBurstCap = 5

// callsPerNewAgent is the queue depth that justifies one extra agent
const callsPerNewAgent = 2.5

// Manager maintains the set of calls waiting for an agent. Assignment is
// pull-based: enqueueing never assigns eagerly.
type Manager struct {
	store   storage.CallStore
	archive storage.Archive
	ledger  *Ledger
	backlog *Backlog
	sl      *SLTracker
	region  string
	now     func() time.Time
	metrics *metrics.Metrics
	events  types.EventSink
	logger  zerolog.Logger

	// popMu serializes select-and-activate of the queue head
	popMu sync.Mutex
}

// NewManager creates a queue manager over store
func NewManager(store storage.CallStore, logger zerolog.Logger) *Manager {
	return &Manager{
		store:   store,
		ledger:  NewLedger(),
		backlog: NewBacklog(),
		sl:      NewSLTracker(20),
		region:  phone.DefaultRegion,
		now:     time.Now,
		events:  types.NopSink{},
		logger:  logger.With().Str("component", "call_queue").Logger(),
	}
}

// SetArchive sets where abandoned calls are archived
func (m *Manager) SetArchive(archive storage.Archive) {
	m.archive = archive
}

// SetMetrics attaches collectors
func (m *Manager) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

// SetEventSink sets where lifecycle events go
func (m *Manager) SetEventSink(sink types.EventSink) {
	if sink == nil {
		sink = types.NopSink{}
	}
	m.events = sink
}

// SetClock overrides the time source
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// SetPhoneRegion sets the default region for parsing national numbers
func (m *Manager) SetPhoneRegion(region string) {
	m.region = region
}

// SetServiceLevelThreshold resets the service level tracker with a new threshold
func (m *Manager) SetServiceLevelThreshold(seconds int) {
	m.sl = NewSLTracker(seconds)
}

// Store returns the underlying call store
func (m *Manager) Store() storage.CallStore {
	return m.store
}

// Ledger returns the assignment audit ledger
func (m *Manager) Ledger() *Ledger {
	return m.ledger
}

// Backlog returns the set of agents working abandoned calls
func (m *Manager) Backlog() *Backlog {
	return m.backlog
}

// CreateCall inserts a call record. It is QUEUED unless spec names an agent
// (then ACTIVE) or explicitly asks for ABANDONED.
func (m *Manager) CreateCall(spec types.CallSpec) (*types.Call, error) {
	customerPhone, err := phone.NormalizeOrKeep(spec.CustomerPhone, m.region)
	if err != nil {
		return nil, domain.NewInvalidArgumentError("customerPhone is required")
	}

	ts := m.now().Unix()
	call := &types.Call{
		ID:                      spec.ID,
		CustomerPhone:           customerPhone,
		Status:                  types.CallStatusQueued,
		Kind:                    spec.Kind,
		Issue:                   spec.Issue,
		WaitTimeSeconds:         spec.WaitTimeSeconds,
		ExpectedDurationSeconds: spec.ExpectedDurationSeconds,
		GenerationStatus:        types.GenerationPending,
		CreatedAt:               ts,
		UpdatedAt:               ts,
	}
	if call.ID == "" {
		call.ID = "CALL-" + uuid.New().String()
	}
	if call.Kind == "" {
		call.Kind = types.CallKindRegular
	}

	switch {
	case spec.AgentID != "":
		call.Status = types.CallStatusActive
		call.AgentID = types.StringPtr(spec.AgentID)
		call.StartTime = spec.StartTime
		if call.StartTime == nil {
			call.StartTime = types.Int64Ptr(ts)
		}
	case spec.Status == types.CallStatusAbandoned:
		call.Status = types.CallStatusAbandoned
		call.EndTime = types.Int64Ptr(ts)
	case spec.Status != "" && spec.Status != types.CallStatusQueued:
		return nil, domain.NewInvalidArgumentError("calls can only be created QUEUED, ACTIVE or ABANDONED")
	}

	if err := m.store.Insert(call); err != nil {
		return nil, err
	}
	return call.Clone(), nil
}

// Enqueue creates a QUEUED call
func (m *Manager) Enqueue(customerPhone, issue string) (*types.Call, error) {
	call, err := m.CreateCall(types.CallSpec{CustomerPhone: customerPhone, Issue: issue})
	if err != nil {
		return nil, err
	}

	m.ledger.Add(call)
	m.metrics.RecordCallEnqueued()
	m.metrics.SetQueueDepth(m.Depth())
	m.events.Publish(types.LifecycleEvent{Type: types.EventCallQueued, CallID: call.ID, Timestamp: m.now()})

	m.logger.Debug().
		Str("call_id", call.ID).
		Str("issue", issue).
		Msg("call enqueued")

	return call, nil
}

// Waiting returns queued calls, oldest first
func (m *Manager) Waiting() []*types.Call {
	return m.store.ListByStatus(types.CallStatusQueued)
}

// PeekOldest returns the FIFO head without removing it, or nil
func (m *Manager) PeekOldest() *types.Call {
	waiting := m.Waiting()
	if len(waiting) == 0 {
		return nil
	}
	return waiting[0]
}

// Depth returns the number of queued calls
func (m *Manager) Depth() int {
	return len(m.Waiting())
}

// PopOldest atomically activates the oldest queued call for agentID.
// It returns nil when the queue is empty.
func (m *Manager) PopOldest(agentID string) (*types.Call, error) {
	m.popMu.Lock()
	defer m.popMu.Unlock()

	for _, head := range m.Waiting() {
		call, err := m.activate(head, agentID)
		if domain.IsInvalidTransition(err) {
			// abandoned between listing and activation
			continue
		}
		if err != nil {
			return nil, err
		}
		return call, nil
	}
	return nil, nil
}

// Dequeue takes a specific call out of the queue, either onto agentID (ACTIVE) or ABANDONED.
// An agent already holding an ACTIVE call is rejected. Registry state is the
// caller's job; Engine.AssignCall does both under the agent lock.
// Records are never deleted.
func (m *Manager) Dequeue(callID string, to types.CallStatus, agentID string) (*types.Call, error) {
	switch to {
	case types.CallStatusActive:
		if agentID == "" {
			return nil, domain.NewInvalidArgumentError("agentId is required to activate a call")
		}
		m.popMu.Lock()
		defer m.popMu.Unlock()

		call, err := m.store.Get(callID)
		if err != nil {
			return nil, err
		}
		if busy := m.activeCallOf(agentID); busy != "" {
			return nil, domain.NewInvalidArgumentError(fmt.Sprintf("agent %s is already on call %s", agentID, busy))
		}
		return m.activate(call, agentID)
	case types.CallStatusAbandoned:
		return m.Abandon(callID)
	default:
		return nil, domain.NewInvalidArgumentError("calls leave the queue as ACTIVE or ABANDONED")
	}
}

// activeCallOf returns the id of the agent's ACTIVE call, or ""
func (m *Manager) activeCallOf(agentID string) string {
	for _, call := range m.store.ListByStatus(types.CallStatusActive) {
		if call.Agent() == agentID {
			return call.ID
		}
	}
	return ""
}

func (m *Manager) activate(call *types.Call, agentID string) (*types.Call, error) {
	ts := m.now().Unix()
	wait := ts - call.CreatedAt
	if wait < 0 {
		wait = 0
	}

	activated, err := m.store.Transition(call.ID, types.CallStatusActive, types.TransitionFields{
		AgentID:         types.StringPtr(agentID),
		StartTime:       types.Int64Ptr(ts),
		WaitTimeSeconds: types.Int64Ptr(wait),
	}, ts)
	if err != nil {
		return nil, err
	}

	m.ledger.MarkAssigned(call.ID, agentID, ts)
	m.sl.RecordAnswer(wait)
	m.metrics.SetQueueDepth(m.Depth())
	return activated, nil
}

// Abandon moves a queued call to ABANDONED and records how long it waited
func (m *Manager) Abandon(callID string) (*types.Call, error) {
	call, err := m.store.Get(callID)
	if err != nil {
		return nil, err
	}

	ts := m.now().Unix()
	wait := ts - call.CreatedAt
	abandoned, err := m.store.Transition(callID, types.CallStatusAbandoned, types.TransitionFields{
		EndTime:         types.Int64Ptr(ts),
		WaitTimeSeconds: types.Int64Ptr(wait),
	}, ts)
	if err != nil {
		return nil, err
	}

	m.ledger.MarkCompleted(callID)
	m.metrics.RecordAbandoned()
	m.metrics.SetQueueDepth(m.Depth())
	m.events.Publish(types.LifecycleEvent{Type: types.EventCallAbandoned, CallID: callID, Timestamp: m.now()})
	storage.ArchiveAsync(m.archive, types.NewCallRecord(abandoned, ""), m.logger)

	m.logger.Debug().
		Str("call_id", callID).
		Int64("wait_time", wait).
		Msg("call abandoned")

	return abandoned, nil
}

// RecordAbandoned stores a call that was abandoned before it reached this service
func (m *Manager) RecordAbandoned(customerPhone, issue string, waitTime int64) (*types.Call, error) {
	if waitTime < 0 {
		return nil, domain.NewInvalidArgumentError("waitTime cannot be negative")
	}
	if issue == "" {
		issue = "Unknown issue"
	}

	call, err := m.CreateCall(types.CallSpec{
		CustomerPhone:   customerPhone,
		Issue:           issue,
		Status:          types.CallStatusAbandoned,
		WaitTimeSeconds: waitTime,
	})
	if err != nil {
		return nil, err
	}

	m.metrics.RecordAbandoned()
	m.events.Publish(types.LifecycleEvent{Type: types.EventCallAbandoned, CallID: call.ID, Timestamp: m.now()})
	storage.ArchiveAsync(m.archive, types.NewCallRecord(call, ""), m.logger)
	return call, nil
}

// Abandoned lists abandoned calls, oldest first
func (m *Manager) Abandoned() []*types.Call {
	return m.store.ListByStatus(types.CallStatusAbandoned)
}

// AverageWaitTime is floor(mean(now - createdAt)) over queued calls, 0 when empty
func (m *Manager) AverageWaitTime() int64 {
	waiting := m.Waiting()
	if len(waiting) == 0 {
		return 0
	}

	ts := m.now().Unix()
	var total int64
	for _, call := range waiting {
		total += ts - call.CreatedAt
	}
	return int64(math.Floor(float64(total) / float64(len(waiting))))
}

// ServiceLevel returns the answer-speed snapshot
func (m *Manager) ServiceLevel() ServiceLevel {
	return m.sl.Snapshot()
}

// BurstSize returns how many agents to add for the current depth
func (m *Manager) BurstSize(burstCap int) int {
	return BurstSize(m.Depth(), burstCap)
}

// BurstSize is ceil(depth / 2.5) bounded by burstCap (DefaultBurstCap when <= 0)
func BurstSize(depth, burstCap int) int {
	if depth <= 0 {
		return 0
	}
	if burstCap <= 0 {
		burstCap = DefaultBurstCap
	}
	n := int(math.Ceil(float64(depth) / callsPerNewAgent))
	if n > burstCap {
		n = burstCap
	}
	return n
}

// CompleteLedger marks the ledger entry of an ended call
func (m *Manager) CompleteLedger(callID string) {
	m.ledger.MarkCompleted(callID)
}
