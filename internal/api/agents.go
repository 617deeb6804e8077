package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dennisdiepolder/monti/callcenter/internal/domain"
	"github.com/dennisdiepolder/monti/callcenter/internal/signal"
	"github.com/dennisdiepolder/monti/callcenter/internal/types"
	"github.com/go-chi/chi/v5"
)

// CreateAgentRequest is the body of POST /api/agents
type CreateAgentRequest struct {
	Type string `json:"type" validate:"required,oneof=HUMAN AI AUTOMATED human ai automated"`
}

// AgentDetail is an agent with its current call and pending hangup
type AgentDetail struct {
	*types.Agent
	CurrentCall   *types.Call          `json:"currentCall"`
	Signaled      bool                 `json:"signaled"`
	PendingSignal *signal.SignalResult `json:"pendingSignal,omitempty"`
}

// ListAgents handles GET /api/agents?type=&status=
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	var filter types.AgentFilter

	if t := r.URL.Query().Get("type"); t != "" {
		kind, ok := types.ParseAgentKind(t)
		if !ok {
			h.writeError(w, r, domain.NewInvalidArgumentError(fmt.Sprintf("invalid agent type %q", t)))
			return
		}
		filter.Kind = kind
	}
	if s := r.URL.Query().Get("status"); s != "" {
		switch availability := types.Availability(strings.ToUpper(s)); availability {
		case types.AvailabilityActive, types.AvailabilityIdle:
			filter.Availability = availability
		default:
			h.writeError(w, r, domain.NewInvalidArgumentError(fmt.Sprintf("invalid agent status %q", s)))
			return
		}
	}

	list := h.registry.List(filter)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents": list,
		"total":  len(list),
	})
}

// GetAgent handles GET /api/agents/{agentId}
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.registry.Get(chi.URLParam(r, "agentId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	detail := AgentDetail{
		Agent:       agent,
		CurrentCall: h.engine.CurrentCall(agent.ID),
	}
	if pending, ok := h.pendingSignal(agent.ID); ok {
		detail.Signaled = true
		detail.PendingSignal = &pending
	}
	writeJSON(w, http.StatusOK, detail)
}

// CreateAgent handles POST /api/agents. The new agent immediately picks up
// the oldest waiting call, if any.
func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	kind, _ := types.ParseAgentKind(req.Type)

	result, err := h.engine.CreateAgent(r.Context(), kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info().
		Str("agent_id", result.Agent.ID).
		Str("call_id", result.CallID).
		Msg("agent created via API")

	writeJSON(w, http.StatusCreated, result)
}

// AssignNext handles POST /api/agents/{agentId}/assign
func (h *Handler) AssignNext(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	callID, ok, err := h.engine.AssignNext(r.Context(), agentID, true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := map[string]interface{}{
		"agentId":  agentID,
		"assigned": ok,
		"callId":   nil,
	}
	if ok {
		resp["callId"] = callID
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddCapacity handles POST /api/agents/capacity
func (h *Handler) AddCapacity(w http.ResponseWriter, r *http.Request) {
	created, err := h.engine.AddCapacity(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info().Int("created", len(created)).Msg("capacity added via API")

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"created": created,
		"count":   len(created),
	})
}

// OccupyAll handles POST /api/agents/occupy-all
func (h *Handler) OccupyAll(w http.ResponseWriter, r *http.Request) {
	occupied, err := h.engine.OccupyAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info().Int("occupied", len(occupied)).Msg("human agents occupied via API")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":       fmt.Sprintf("occupied %d agents", len(occupied)),
		"occupiedCount": len(occupied),
		"calls":         occupied,
	})
}

// OccupationStatus handles GET /api/agents/occupy-all
func (h *Handler) OccupationStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.OccupationStatus())
}

func (h *Handler) pendingSignal(agentID string) (signal.SignalResult, bool) {
	if h.signals == nil {
		return signal.SignalResult{}, false
	}
	for _, p := range h.signals.Pending() {
		if p.AgentID == agentID {
			return p, true
		}
	}
	return signal.SignalResult{}, false
}
