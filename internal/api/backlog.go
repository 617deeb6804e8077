package api

import (
	"net/http"

	"github.com/dennisdiepolder/monti/callcenter/internal/domain"
)

// BacklogRequest is the body of POST /api/agents/backlog
type BacklogRequest struct {
	CallID  string `json:"callId" validate:"required"`
	AgentID string `json:"agentId" validate:"required"`
}

// AddToBacklog handles POST /api/agents/backlog
func (h *Handler) AddToBacklog(w http.ResponseWriter, r *http.Request) {
	var req BacklogRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.registry.Get(req.AgentID); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.store.Get(req.CallID); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.queue.Backlog().Add(req.AgentID, req.CallID)
	next := h.queue.PeekOldest()

	h.logger.Info().
		Str("agent_id", req.AgentID).
		Str("call_id", req.CallID).
		Msg("agent assigned to backlog")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agentId":         req.AgentID,
		"callId":          req.CallID,
		"queueLength":     h.queue.Depth(),
		"hasPendingCalls": next != nil,
		"nextCall":        next,
	})
}

// GetBacklog handles GET /api/agents/backlog?agentId=
func (h *Handler) GetBacklog(w http.ResponseWriter, r *http.Request) {
	backlog := h.queue.Backlog()
	if agentID := r.URL.Query().Get("agentId"); agentID != "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"agentId":     agentID,
			"isInBacklog": backlog.Contains(agentID),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agentsInBacklog": backlog.List(),
	})
}

// RemoveFromBacklog handles DELETE /api/agents/backlog?agentId=
func (h *Handler) RemoveFromBacklog(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")
	if agentID == "" {
		h.writeError(w, r, domain.NewInvalidArgumentError("agentId is required"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agentId": agentID,
		"removed": h.queue.Backlog().Remove(agentID),
	})
}
