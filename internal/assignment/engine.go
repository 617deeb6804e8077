package assignment

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/dennisdiepolder/monti/callcenter/internal/agents"
	"github.com/dennisdiepolder/monti/callcenter/internal/callqueue"
	"github.com/dennisdiepolder/monti/callcenter/internal/domain"
	"github.com/dennisdiepolder/monti/callcenter/internal/metrics"
	"github.com/dennisdiepolder/monti/callcenter/internal/storage"
	"github.com/dennisdiepolder/monti/callcenter/internal/types"
	"github.com/dennisdiepolder/monti/callcenter/internal/voice"
	"github.com/rs/zerolog"
)

// Close reasons recorded in metrics and logs
const (
	CloseReasonManual     = "manual"
	CloseReasonExpired    = "expired"
	CloseReasonSignaled   = "signaled"
	CloseReasonReassigned = "reassigned"
	CloseReasonReconciled = "reconciled"
)

// voiceEndTimeout bounds hanging up the platform call behind a closed call
const voiceEndTimeout = 10 * time.Second

// Dispatcher starts conversation provisioning for a freshly activated call.
// Dispatch must not block.
type Dispatcher interface {
	Dispatch(call *types.Call)
}

// SignalCounter reports how many agents have a pending hangup
type SignalCounter interface {
	SignaledCount() int
}

// ReleaseResult describes what happened when an agent's call was ended and
// the agent was offered the next queued call
type ReleaseResult struct {
	AgentID      string `json:"agentId"`
	ClosedCallID string `json:"closedCallId,omitempty"`
	Closed       bool   `json:"closed"`
	NextCallID   string `json:"nextCallId,omitempty"`
}

// Engine matches free agents to queued calls. Every mutation of an agent and
// its calls happens under that agent's lock; popping the queue head is
// additionally serialized by the queue manager.
type Engine struct {
	agents     *agents.Registry
	queue      *callqueue.Manager
	store      storage.CallStore
	archive    storage.Archive
	dispatcher Dispatcher
	signals    SignalCounter
	events     types.EventSink
	metrics    *metrics.Metrics
	voice      voice.Provider
	sessions   *voice.Sessions
	locks      *keyedMutex
	burstCap   int
	now        func() time.Time
	intN       func(n int) int
	logger     zerolog.Logger
}

// NewEngine creates an assignment engine
func NewEngine(registry *agents.Registry, queue *callqueue.Manager, logger zerolog.Logger) *Engine {
	return &Engine{
		agents:   registry,
		queue:    queue,
		store:    queue.Store(),
		events:   types.NopSink{},
		locks:    newKeyedMutex(),
		burstCap: callqueue.DefaultBurstCap,
		now:      time.Now,
		intN:     rand.IntN,
		logger:   logger.With().Str("component", "assignment").Logger(),
	}
}

// SetDispatcher sets the provisioning dispatcher
func (e *Engine) SetDispatcher(d Dispatcher) {
	e.dispatcher = d
}

// SetArchive sets where ended calls are archived
func (e *Engine) SetArchive(archive storage.Archive) {
	e.archive = archive
}

// SetSignalCounter lets stats include pending hangups
func (e *Engine) SetSignalCounter(c SignalCounter) {
	e.signals = c
}

// SetEventSink sets where lifecycle events go
func (e *Engine) SetEventSink(sink types.EventSink) {
	if sink == nil {
		sink = types.NopSink{}
	}
	e.events = sink
}

// SetMetrics attaches collectors
func (e *Engine) SetMetrics(mt *metrics.Metrics) {
	e.metrics = mt
}

// SetVoice lets closing a call hang up the agent's live voice session
func (e *Engine) SetVoice(p voice.Provider, sessions *voice.Sessions) {
	e.voice = p
	e.sessions = sessions
}

// SetBurstCap bounds AddCapacity
func (e *Engine) SetBurstCap(n int) {
	if n > 0 {
		e.burstCap = n
	}
}

// SetClock overrides the time source
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Registry returns the agent registry
func (e *Engine) Registry() *agents.Registry {
	return e.agents
}

// Queue returns the queue manager
func (e *Engine) Queue() *callqueue.Manager {
	return e.queue
}

// AssignNext closes the agent's current call, if any, and activates the oldest
// queued call on it. ok is false when the queue was empty; the agent is then IDLE.
func (e *Engine) AssignNext(ctx context.Context, agentID string, withProvisioning bool) (string, bool, error) {
	unlock := e.locks.Lock(agentID)
	if _, err := e.agents.Get(agentID); err != nil {
		unlock()
		return "", false, err
	}

	if current := e.currentCallLocked(ctx, agentID); current != nil {
		if _, _, err := e.closeLocked(ctx, current.ID, CloseReasonReassigned); err != nil {
			unlock()
			return "", false, err
		}
	}

	call, err := e.assignLocked(agentID)
	unlock()
	if err != nil || call == nil {
		return "", false, err
	}

	if withProvisioning {
		e.dispatch(call)
	}
	return call.ID, true, nil
}

// AssignCall activates a specific queued call on an agent that holds no
// active call. The agent must be closed or released first.
func (e *Engine) AssignCall(ctx context.Context, agentID, callID string, withProvisioning bool) (*types.Call, error) {
	unlock := e.locks.Lock(agentID)
	if _, err := e.agents.Get(agentID); err != nil {
		unlock()
		return nil, err
	}
	if current := e.currentCallLocked(ctx, agentID); current != nil {
		unlock()
		return nil, domain.NewInvalidArgumentError(fmt.Sprintf("agent %s is already on call %s", agentID, current.ID))
	}

	call, err := e.queue.Dequeue(callID, types.CallStatusActive, agentID)
	if err != nil {
		unlock()
		return nil, err
	}
	err = e.recordAssigned(agentID, call)
	unlock()
	if err != nil {
		return nil, err
	}

	if withProvisioning {
		e.dispatch(call)
	}
	return call, nil
}

// CloseCall ends an ACTIVE call and frees its agent. Closing a call that is
// already terminal is a no-op reported as closed=false.
func (e *Engine) CloseCall(ctx context.Context, callID string) (string, bool, error) {
	return e.CloseCallWithReason(ctx, callID, CloseReasonManual)
}

// CloseCallWithReason is CloseCall with the reason recorded in metrics
func (e *Engine) CloseCallWithReason(ctx context.Context, callID, reason string) (string, bool, error) {
	call, err := e.store.Get(callID)
	if err != nil {
		return "", false, err
	}
	if call.Status.Terminal() {
		return call.Agent(), false, nil
	}
	if call.Status != types.CallStatusActive {
		return "", false, domain.NewInvalidTransitionError(callID, call.Status, types.CallStatusEnded)
	}

	agentID := call.Agent()
	unlock := e.locks.Lock(agentID)
	defer unlock()

	return e.closeLocked(ctx, callID, reason)
}

// CloseAgentCall ends the agent's current call, if it has one
func (e *Engine) CloseAgentCall(ctx context.Context, agentID string) (string, bool, error) {
	unlock := e.locks.Lock(agentID)
	defer unlock()

	if _, err := e.agents.Get(agentID); err != nil {
		return "", false, err
	}
	current := e.currentCallLocked(ctx, agentID)
	if current == nil {
		return "", false, nil
	}
	_, closed, err := e.closeLocked(ctx, current.ID, CloseReasonManual)
	return current.ID, closed, err
}

// CloseAndReassign ends callID and, only when this invocation performed the
// close, hands its agent the next queued call. Concurrent callers racing on
// the same call therefore trigger exactly one reassignment.
func (e *Engine) CloseAndReassign(ctx context.Context, callID, reason string) (ReleaseResult, error) {
	call, err := e.store.Get(callID)
	if err != nil {
		return ReleaseResult{}, err
	}
	agentID := call.Agent()
	result := ReleaseResult{AgentID: agentID, ClosedCallID: callID}
	if call.Status.Terminal() {
		return result, nil
	}
	if call.Status != types.CallStatusActive || agentID == "" {
		return result, domain.NewInvalidTransitionError(callID, call.Status, types.CallStatusEnded)
	}

	unlock := e.locks.Lock(agentID)
	_, closed, err := e.closeLocked(ctx, callID, reason)
	if err != nil || !closed {
		unlock()
		return result, err
	}
	result.Closed = true

	next, err := e.assignLocked(agentID)
	unlock()
	if err != nil {
		return result, err
	}
	if next != nil {
		result.NextCallID = next.ID
		e.dispatch(next)
	}
	return result, nil
}

// ReleaseAgent ends whatever call the agent holds right now and reassigns it.
// An agent with no active call is left untouched.
func (e *Engine) ReleaseAgent(ctx context.Context, agentID, reason string) (ReleaseResult, error) {
	result := ReleaseResult{AgentID: agentID}

	unlock := e.locks.Lock(agentID)
	if _, err := e.agents.Get(agentID); err != nil {
		unlock()
		return result, err
	}
	current := e.currentCallLocked(ctx, agentID)
	if current == nil {
		unlock()
		return result, nil
	}

	result.ClosedCallID = current.ID
	_, closed, err := e.closeLocked(ctx, current.ID, reason)
	if err != nil || !closed {
		unlock()
		return result, err
	}
	result.Closed = true

	next, err := e.assignLocked(agentID)
	unlock()
	if err != nil {
		return result, err
	}
	if next != nil {
		result.NextCallID = next.ID
		e.dispatch(next)
	}
	return result, nil
}

// CurrentCall returns the agent's ACTIVE call or nil
func (e *Engine) CurrentCall(agentID string) *types.Call {
	active := e.activeCallsFor(agentID)
	if len(active) == 0 {
		return nil
	}
	return active[0]
}

// Stats summarizes queue and agent state for dashboards
func (e *Engine) Stats() types.Stats {
	total, active, idle := e.agents.Counts()
	stats := types.Stats{
		WaitingCalls:    e.queue.Depth(),
		ActiveCalls:     len(e.store.ListByStatus(types.CallStatusActive)),
		TotalAgents:     total,
		ActiveAgents:    active,
		IdleAgents:      idle,
		AverageWaitTime: e.queue.AverageWaitTime(),
		AbandonedCalls:  len(e.queue.Abandoned()),
		ServiceLevelPct: e.queue.ServiceLevel().CurrentSL,
	}
	if e.signals != nil {
		stats.SignaledAgents = e.signals.SignaledCount()
	}
	e.metrics.SetAgents(active, idle)
	return stats
}

// assignLocked pops the queue head onto agentID. Caller holds the agent lock.
func (e *Engine) assignLocked(agentID string) (*types.Call, error) {
	call, err := e.queue.PopOldest(agentID)
	if err != nil {
		return nil, err
	}
	if call == nil {
		if err := e.agents.SetAvailability(agentID, types.AvailabilityIdle); err != nil {
			return nil, err
		}
		e.logger.Debug().Str("agent_id", agentID).Msg("queue empty, agent idle")
		return nil, nil
	}

	if err := e.recordAssigned(agentID, call); err != nil {
		return nil, err
	}
	return call, nil
}

// recordAssigned marks the agent busy once call is ACTIVE on it. Caller holds
// the agent lock.
func (e *Engine) recordAssigned(agentID string, call *types.Call) error {
	if err := e.agents.MarkAssigned(agentID); err != nil {
		return err
	}

	kind, _, _ := types.ParseAgentID(agentID)
	e.metrics.RecordAssignment(string(kind), string(call.Kind), call.WaitTimeSeconds)
	e.events.Publish(types.LifecycleEvent{
		Type:      types.EventCallAssigned,
		CallID:    call.ID,
		AgentID:   agentID,
		Timestamp: e.now(),
	})

	e.logger.Info().
		Str("agent_id", agentID).
		Str("call_id", call.ID).
		Int64("wait_time", call.WaitTimeSeconds).
		Msg("call assigned")

	return nil
}

// closeLocked ends an ACTIVE call. Caller holds the owning agent's lock.
func (e *Engine) closeLocked(ctx context.Context, callID, reason string) (string, bool, error) {
	ts := e.now().Unix()
	ended, err := e.store.Transition(callID, types.CallStatusEnded, types.TransitionFields{
		EndTime: types.Int64Ptr(ts),
	}, ts)
	if domain.IsInvalidTransition(err) {
		// someone else closed it first
		call, getErr := e.store.Get(callID)
		if getErr != nil {
			return "", false, getErr
		}
		if call.Status.Terminal() {
			return call.Agent(), false, nil
		}
		return "", false, err
	}
	if err != nil {
		return "", false, err
	}

	agentID := ended.Agent()
	if agentID != "" && len(e.activeCallsFor(agentID)) == 0 {
		if err := e.agents.SetAvailability(agentID, types.AvailabilityIdle); err != nil && !domain.IsNotFound(err) {
			return agentID, true, err
		}
	}

	e.endVoiceSession(agentID, callID)
	e.queue.CompleteLedger(callID)
	e.metrics.RecordCallClosed(reason)
	e.events.Publish(types.LifecycleEvent{
		Type:      types.EventCallEnded,
		CallID:    callID,
		AgentID:   agentID,
		Timestamp: e.now(),
	})
	e.archiveCall(ended)

	e.logger.Info().
		Str("call_id", callID).
		Str("agent_id", agentID).
		Str("reason", reason).
		Msg("call closed")

	return agentID, true, nil
}

// endVoiceSession hangs up the agent's bound voice call in the background
func (e *Engine) endVoiceSession(agentID, callID string) {
	if e.sessions == nil || e.voice == nil || agentID == "" {
		return
	}
	handle, ok := e.sessions.Take(agentID)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), voiceEndTimeout)
		defer cancel()
		if err := e.voice.EndCall(ctx, handle); err != nil {
			e.logger.Warn().Err(err).
				Str("agent_id", agentID).
				Str("call_id", callID).
				Msg("failed to end voice call")
		}
	}()
}

// currentCallLocked returns the agent's active call. An agent holding more
// than one is repaired by keeping the oldest and ending the rest.
func (e *Engine) currentCallLocked(ctx context.Context, agentID string) *types.Call {
	active := e.activeCallsFor(agentID)
	if len(active) == 0 {
		return nil
	}
	if len(active) > 1 {
		extra := make([]string, 0, len(active)-1)
		for _, call := range active[1:] {
			extra = append(extra, call.ID)
		}
		e.logger.Error().
			Str("agent_id", agentID).
			Str("kept_call_id", active[0].ID).
			Strs("ended_call_ids", extra).
			Msg("agent held more than one active call, reconciling")

		for _, id := range extra {
			if _, _, err := e.closeLocked(ctx, id, CloseReasonReconciled); err != nil {
				e.logger.Error().Err(err).Str("call_id", id).Msg("failed to end duplicate call")
			}
		}
		e.metrics.RecordReconciliation()
	}
	return active[0]
}

// activeCallsFor lists the agent's ACTIVE calls, oldest start first
func (e *Engine) activeCallsFor(agentID string) []*types.Call {
	var result []*types.Call
	for _, call := range e.store.ListByStatus(types.CallStatusActive) {
		if call.Agent() == agentID {
			result = append(result, call)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return startOf(result[i]) < startOf(result[j])
	})
	return result
}

func startOf(call *types.Call) int64 {
	if call.StartTime == nil {
		return call.CreatedAt
	}
	return *call.StartTime
}

func (e *Engine) dispatch(call *types.Call) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.Dispatch(call)
}

func (e *Engine) archiveCall(call *types.Call) {
	if e.archive == nil {
		return
	}
	summary := ""
	if transcript, err := e.store.GetTranscript(call.ID); err == nil {
		summary = transcript.Summary
	}
	storage.ArchiveAsync(e.archive, types.NewCallRecord(call, summary), e.logger)
}
