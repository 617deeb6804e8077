package agents

import (
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/callcenter/internal/domain"
	"github.com/dennisdiepolder/monti/callcenter/internal/types"
	"github.com/rs/zerolog"
)

// Registry owns every agent row. Agents are never deleted, only toggled.
type Registry struct {
	agents  map[string]*types.Agent // agentID -> agent
	ordinal map[types.AgentKind]int // highest ordinal handed out per kind
	mu      sync.RWMutex
	now     func() time.Time
	logger  zerolog.Logger
}

// NewRegistry creates an empty agent registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		agents:  make(map[string]*types.Agent),
		ordinal: make(map[types.AgentKind]int),
		now:     time.Now,
		logger:  logger.With().Str("component", "agent_registry").Logger(),
	}
}

// SetClock overrides the time source
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Create allocates the next sequential id for kind and stores an IDLE agent
func (r *Registry) Create(kind types.AgentKind) (*types.Agent, error) {
	return r.CreateWithAvailability(kind, types.AvailabilityIdle)
}

// CreateWithAvailability is Create for callers that already hold a call for the agent
func (r *Registry) CreateWithAvailability(kind types.AgentKind, availability types.Availability) (*types.Agent, error) {
	if !kind.Valid() {
		return nil, domain.NewInvalidArgumentError("invalid agent type: " + string(kind))
	}
	if availability != types.AvailabilityActive && availability != types.AvailabilityIdle {
		return nil, domain.NewInvalidArgumentError("invalid agent status: " + string(availability))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.ordinal[kind]++
	ts := r.now().Unix()
	agent := &types.Agent{
		ID:           types.FormatAgentID(kind, r.ordinal[kind]),
		Kind:         kind,
		Availability: availability,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	r.agents[agent.ID] = agent

	r.logger.Info().
		Str("agent_id", agent.ID).
		Str("kind", string(kind)).
		Str("status", string(availability)).
		Msg("agent created")

	cp := *agent
	return &cp, nil
}

// Get returns a copy of the agent
func (r *Registry) Get(agentID string) (*types.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return nil, domain.NewNotFoundError("agent", agentID)
	}
	cp := *agent
	return &cp, nil
}

// SetAvailability updates an agent's status; setting the current status is a no-op
func (r *Registry) SetAvailability(agentID string, availability types.Availability) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return domain.NewNotFoundError("agent", agentID)
	}
	if agent.Availability == availability {
		return nil
	}

	agent.Availability = availability
	agent.UpdatedAt = r.now().Unix()

	r.logger.Debug().
		Str("agent_id", agentID).
		Str("status", string(availability)).
		Msg("agent availability changed")
	return nil
}

// MarkAssigned sets the agent ACTIVE and counts the handled call
func (r *Registry) MarkAssigned(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return domain.NewNotFoundError("agent", agentID)
	}
	agent.Availability = types.AvailabilityActive
	agent.CallsHandled++
	agent.UpdatedAt = r.now().Unix()
	return nil
}

// List returns copies of the agents matching filter, humans first then by ordinal
func (r *Registry) List(filter types.AgentFilter) []*types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*types.Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		if !filter.Matches(agent) {
			continue
		}
		cp := *agent
		result = append(result, &cp)
	}
	sortAgents(result)
	return result
}

// FindFree returns the first IDLE agent, preferring HUMAN with the lowest ordinal.
// It returns nil when nobody is free.
func (r *Registry) FindFree() *types.Agent {
	free := r.List(types.AgentFilter{Availability: types.AvailabilityIdle})
	if len(free) == 0 {
		return nil
	}
	return free[0]
}

// Counts returns the total, ACTIVE and IDLE agent counts
func (r *Registry) Counts() (total, active, idle int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, agent := range r.agents {
		total++
		if agent.Availability == types.AvailabilityActive {
			active++
		} else {
			idle++
		}
	}
	return total, active, idle
}

// kindRank orders kinds so that humans are saturated before automated agents
func kindRank(kind types.AgentKind) int {
	for i, k := range types.AllAgentKinds {
		if k == kind {
			return i
		}
	}
	return len(types.AllAgentKinds)
}

func sortAgents(list []*types.Agent) {
	sort.Slice(list, func(i, j int) bool {
		ri, rj := kindRank(list[i].Kind), kindRank(list[j].Kind)
		if ri != rj {
			return ri < rj
		}
		return list[i].Ordinal() < list[j].Ordinal()
	})
}
