package types

import "time"

// EventType names a lifecycle event pushed to dashboards
type EventType string

const (
	EventCallQueued      EventType = "call_queued"
	EventCallAssigned    EventType = "call_assigned"
	EventCallEnded       EventType = "call_ended"
	EventCallAbandoned   EventType = "call_abandoned"
	EventCallback        EventType = "callback_started"
	EventCallProvisioned EventType = "call_provisioned"
	EventAgentCreated    EventType = "agent_created"
	EventAgentSignaled   EventType = "agent_signaled"
	EventAgentUnsignaled EventType = "agent_unsignaled"
	EventStatsSnapshot   EventType = "stats_snapshot"
)

// LifecycleEvent is broadcast to dashboard clients whenever state changes
type LifecycleEvent struct {
	Type      EventType `json:"type"`
	CallID    string    `json:"callId,omitempty"`
	AgentID   string    `json:"agentId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats is the polling summary of the call center
type Stats struct {
	WaitingCalls    int     `json:"waitingCallsCount"`
	ActiveCalls     int     `json:"activeCallsCount"`
	TotalAgents     int     `json:"totalAgents"`
	ActiveAgents    int     `json:"activeAgentsCount"`
	IdleAgents      int     `json:"idleAgentsCount"`
	AverageWaitTime int64   `json:"averageWaitTime"`
	SignaledAgents  int     `json:"signaledAgentsCount"`
	AbandonedCalls  int     `json:"abandonedCallsCount"`
	ServiceLevelPct float64 `json:"serviceLevel"`
}

// StatsMessage wraps a Stats snapshot for the dashboard stream
type StatsMessage struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Stats     Stats     `json:"stats"`
}

// EventSink receives lifecycle events
type EventSink interface {
	Publish(event LifecycleEvent)
}

// NopSink discards events
type NopSink struct{}

// Publish implements EventSink
func (NopSink) Publish(LifecycleEvent) {}
