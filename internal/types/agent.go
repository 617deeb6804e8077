package types

import (
	"fmt"
	"strconv"
	"strings"
)

// AgentKind distinguishes scarce human capacity from elastic automated capacity
type AgentKind string

const (
	AgentKindHuman     AgentKind = "HUMAN"
	AgentKindAutomated AgentKind = "AUTOMATED"
)

// Availability represents whether an agent is on a call
type Availability string

const (
	AvailabilityActive Availability = "ACTIVE" // busy on a call
	AvailabilityIdle   Availability = "IDLE"   // free
)

// AllAgentKinds lists every agent kind in preference order
var AllAgentKinds = []AgentKind{AgentKindHuman, AgentKindAutomated}

// agentIDPrefix maps kinds to their id prefix
var agentIDPrefix = map[AgentKind]string{
	AgentKindHuman:     "HUMAN",
	AgentKindAutomated: "AI",
}

// Valid reports whether k is a known kind
func (k AgentKind) Valid() bool {
	_, ok := agentIDPrefix[k]
	return ok
}

// Prefix returns the id prefix for the kind
func (k AgentKind) Prefix() string {
	return agentIDPrefix[k]
}

// ParseAgentKind accepts the kind name or its id prefix ("AI", "HUMAN", "AUTOMATED")
func ParseAgentKind(s string) (AgentKind, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HUMAN":
		return AgentKindHuman, true
	case "AI", "AUTOMATED":
		return AgentKindAutomated, true
	}
	return "", false
}

// Agent is a worker able to handle one call at a time
type Agent struct {
	ID           string       `json:"id"`
	Kind         AgentKind    `json:"type"`
	Availability Availability `json:"status"`
	CallsHandled int          `json:"callsHandled"`
	CreatedAt    int64        `json:"createdAt"`
	UpdatedAt    int64        `json:"updatedAt"`
}

// Ordinal returns the numeric part of the agent id, or 0 if it cannot be parsed
func (a *Agent) Ordinal() int {
	_, n, ok := ParseAgentID(a.ID)
	if !ok {
		return 0
	}
	return n
}

// IsFree reports whether the agent can take a call
func (a *Agent) IsFree() bool {
	return a.Availability == AvailabilityIdle
}

// FormatAgentID builds an id like "HUMAN-001" or "AI-012"
func FormatAgentID(kind AgentKind, ordinal int) string {
	return fmt.Sprintf("%s-%03d", kind.Prefix(), ordinal)
}

// ParseAgentID splits an agent id into kind and ordinal
func ParseAgentID(id string) (AgentKind, int, bool) {
	prefix, num, found := strings.Cut(id, "-")
	if !found {
		return "", 0, false
	}
	kind, ok := ParseAgentKind(prefix)
	if !ok {
		return "", 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 {
		return "", 0, false
	}
	return kind, n, true
}

// AgentFilter narrows an agent listing; zero values match everything
type AgentFilter struct {
	Kind         AgentKind
	Availability Availability
}

// Matches reports whether the agent passes the filter
func (f AgentFilter) Matches(a *Agent) bool {
	if f.Kind != "" && a.Kind != f.Kind {
		return false
	}
	if f.Availability != "" && a.Availability != f.Availability {
		return false
	}
	return true
}
