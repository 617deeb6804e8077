package assignment

import (
	"context"
	"fmt"

	"github.com/dennisdiepolder/monti/callcenter/internal/domain"
	"github.com/dennisdiepolder/monti/callcenter/internal/types"
)

// AgentAssignment pairs a created agent with the call it picked up, if any
type AgentAssignment struct {
	Agent  *types.Agent `json:"agent"`
	CallID string       `json:"callId,omitempty"`
}

// CallbackMode selects where a callback agent comes from
type CallbackMode string

const (
	// CallbackExisting reuses a free agent, humans first
	CallbackExisting CallbackMode = "existing"
	// CallbackNew provisions a fresh automated agent
	CallbackNew CallbackMode = "new"
)

// ParseCallbackMode defaults to CallbackExisting for an empty string
func ParseCallbackMode(s string) (CallbackMode, error) {
	switch CallbackMode(s) {
	case "", CallbackExisting:
		return CallbackExisting, nil
	case CallbackNew:
		return CallbackNew, nil
	}
	return "", domain.NewInvalidArgumentError(fmt.Sprintf("invalid callback mode %q", s))
}

// CreateAgent registers an agent and immediately offers it the queue head
func (e *Engine) CreateAgent(ctx context.Context, kind types.AgentKind) (AgentAssignment, error) {
	agent, err := e.agents.Create(kind)
	if err != nil {
		return AgentAssignment{}, err
	}
	e.metrics.RecordAgentCreated(string(kind))
	e.events.Publish(types.LifecycleEvent{Type: types.EventAgentCreated, AgentID: agent.ID, Timestamp: e.now()})

	callID, _, err := e.AssignNext(ctx, agent.ID, true)
	if err != nil {
		return AgentAssignment{Agent: agent}, fmt.Errorf("failed to assign new agent %s: %w", agent.ID, err)
	}

	refreshed, err := e.agents.Get(agent.ID)
	if err != nil {
		return AgentAssignment{}, err
	}
	return AgentAssignment{Agent: refreshed, CallID: callID}, nil
}

// AddCapacity creates a burst of automated agents sized to the queue depth.
// Each new agent is assigned as it is created.
func (e *Engine) AddCapacity(ctx context.Context) ([]AgentAssignment, error) {
	depth := e.queue.Depth()
	if depth == 0 {
		return nil, domain.NewCapacityExhaustedError("no calls waiting")
	}

	n := e.queue.BurstSize(e.burstCap)
	created := make([]AgentAssignment, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		result, err := e.CreateAgent(ctx, types.AgentKindAutomated)
		if err != nil {
			return created, err
		}
		created = append(created, result)
	}

	e.logger.Info().
		Int("queue_depth", depth).
		Int("agents_added", len(created)).
		Msg("capacity added")

	return created, nil
}

// TriggerCallback reactivates an ABANDONED call on an agent. The call keeps
// its id and becomes a CALLBACK.
func (e *Engine) TriggerCallback(ctx context.Context, callID string, mode CallbackMode) (*types.Call, error) {
	call, err := e.store.Get(callID)
	if err != nil {
		return nil, err
	}
	if call.Status != types.CallStatusAbandoned {
		return nil, domain.NewInvalidTransitionError(callID, call.Status, types.CallStatusActive)
	}

	var (
		agentID string
		unlock  func()
	)
	switch mode {
	case CallbackExisting:
		agentID, unlock = e.lockFreeAgent()
		if unlock == nil {
			return nil, domain.NewCapacityExhaustedError("no free agent for callback")
		}
	case CallbackNew:
		// Born ACTIVE so lockFreeAgent never offers it to another callback
		agent, err := e.agents.CreateWithAvailability(types.AgentKindAutomated, types.AvailabilityActive)
		if err != nil {
			return nil, err
		}
		e.metrics.RecordAgentCreated(string(agent.Kind))
		e.events.Publish(types.LifecycleEvent{Type: types.EventAgentCreated, AgentID: agent.ID, Timestamp: e.now()})
		agentID = agent.ID
		unlock = e.locks.Lock(agentID)
		if len(e.activeCallsFor(agentID)) > 0 {
			unlock()
			return nil, domain.NewCapacityExhaustedError("callback agent " + agentID + " is already busy")
		}
	default:
		return nil, domain.NewInvalidArgumentError(fmt.Sprintf("invalid callback mode %q", mode))
	}

	activated, err := e.store.Reactivate(callID, agentID, e.now().Unix())
	if err != nil {
		if mode == CallbackNew {
			if idleErr := e.agents.SetAvailability(agentID, types.AvailabilityIdle); idleErr != nil {
				e.logger.Warn().Err(idleErr).Str("agent_id", agentID).Msg("failed to idle unused callback agent")
			}
		}
		unlock()
		return nil, err
	}
	if err := e.agents.MarkAssigned(agentID); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	kind, _, _ := types.ParseAgentID(agentID)
	e.metrics.RecordAssignment(string(kind), string(activated.Kind), activated.WaitTimeSeconds)
	e.events.Publish(types.LifecycleEvent{
		Type:      types.EventCallback,
		CallID:    callID,
		AgentID:   agentID,
		Timestamp: e.now(),
	})

	e.logger.Info().
		Str("call_id", callID).
		Str("agent_id", agentID).
		Str("mode", string(mode)).
		Msg("callback started")

	e.dispatch(activated)
	return activated, nil
}

// lockFreeAgent locks the first IDLE agent without an active call, humans
// first. It returns a nil unlock when every agent is busy.
func (e *Engine) lockFreeAgent() (string, func()) {
	for _, candidate := range e.agents.List(types.AgentFilter{Availability: types.AvailabilityIdle}) {
		unlock := e.locks.Lock(candidate.ID)
		agent, err := e.agents.Get(candidate.ID)
		if err == nil && agent.IsFree() && len(e.activeCallsFor(agent.ID)) == 0 {
			return agent.ID, unlock
		}
		unlock()
	}
	return "", nil
}
