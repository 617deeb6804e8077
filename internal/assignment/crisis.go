package assignment

import (
	"context"
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/callcenter/internal/types"
	"github.com/google/uuid"
)

var crisisIssues = []string{
	"Database failover incident",
	"API service unavailable",
	"Payment processing failures",
	"Authentication service down",
	"Connection pool exhaustion",
	"Data sync failure",
	"High latency issues",
	"Query timeout errors",
}

// OccupiedCall is a long-running call created to keep a human busy
type OccupiedCall struct {
	CallID    string `json:"callId"`
	AgentID   string `json:"agentId"`
	StartTime int64  `json:"startTime"`
}

// OccupationStatus reports how many humans are on a call
type OccupationStatus struct {
	TotalHumanAgents   int            `json:"totalHumanAgents"`
	AgentsWithCalls    int            `json:"agentsWithCalls"`
	AgentsWithoutCalls int            `json:"agentsWithoutCalls"`
	WithoutCallsList   []*types.Agent `json:"agentsWithoutCallsList"`
}

// OccupyAll gives every human agent without a call a synthetic call that
// started 30-40 minutes ago and is expected to run 45-60 minutes.
func (e *Engine) OccupyAll(ctx context.Context) ([]OccupiedCall, error) {
	humans := e.agents.List(types.AgentFilter{Kind: types.AgentKindHuman})
	created := make([]OccupiedCall, 0, len(humans))

	for _, agent := range humans {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		occupied, ok, err := e.occupy(ctx, agent.ID)
		if err != nil {
			e.logger.Warn().Err(err).Str("agent_id", agent.ID).Msg("failed to occupy agent")
			continue
		}
		if ok {
			created = append(created, occupied)
		}
	}

	e.logger.Info().
		Int("human_agents", len(humans)).
		Int("calls_created", len(created)).
		Msg("occupied human agents")

	return created, nil
}

func (e *Engine) occupy(ctx context.Context, agentID string) (OccupiedCall, bool, error) {
	unlock := e.locks.Lock(agentID)
	defer unlock()

	if e.currentCallLocked(ctx, agentID) != nil {
		return OccupiedCall{}, false, nil
	}

	now := e.now()
	start := now.Add(-time.Duration(30+e.intN(10)) * time.Minute).Unix()
	expected := int64((45 + e.intN(15)) * 60)

	call, err := e.queue.CreateCall(types.CallSpec{
		ID:                      fmt.Sprintf("CALL-%s-%s", agentID, uuid.NewString()),
		CustomerPhone:           fmt.Sprintf("+1%d", 1000000000+e.intN(9000000000)),
		Issue:                   crisisIssues[e.intN(len(crisisIssues))],
		Kind:                    types.CallKindRegular,
		AgentID:                 agentID,
		StartTime:               types.Int64Ptr(start),
		ExpectedDurationSeconds: types.Int64Ptr(expected),
	})
	if err != nil {
		return OccupiedCall{}, false, err
	}
	if err := e.agents.SetAvailability(agentID, types.AvailabilityActive); err != nil {
		return OccupiedCall{}, false, err
	}

	e.events.Publish(types.LifecycleEvent{
		Type:      types.EventCallAssigned,
		CallID:    call.ID,
		AgentID:   agentID,
		Timestamp: now,
	})
	return OccupiedCall{CallID: call.ID, AgentID: agentID, StartTime: start}, true, nil
}

// OccupationStatus counts human agents with and without an active call
func (e *Engine) OccupationStatus() OccupationStatus {
	humans := e.agents.List(types.AgentFilter{Kind: types.AgentKindHuman})

	busy := make(map[string]bool)
	for _, call := range e.store.ListByStatus(types.CallStatusActive) {
		if id := call.Agent(); id != "" {
			busy[id] = true
		}
	}

	status := OccupationStatus{
		TotalHumanAgents: len(humans),
		WithoutCallsList: make([]*types.Agent, 0),
	}
	for _, agent := range humans {
		if busy[agent.ID] {
			status.AgentsWithCalls++
			continue
		}
		status.AgentsWithoutCalls++
		status.WithoutCallsList = append(status.WithoutCallsList, agent)
	}
	return status
}
