package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Signal handles POST /api/agents/{agentId}/signal. Signaling twice is not
// an error: the pending hangup comes back with alreadySignaled set.
func (h *Handler) Signal(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	result, err := h.signals.Signal(r.Context(), agentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Unsignal handles DELETE /api/agents/{agentId}/signal
func (h *Handler) Unsignal(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if _, err := h.registry.Get(agentID); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agentId":   agentID,
		"cancelled": h.signals.Unsignal(r.Context(), agentID),
	})
}

// GetSignal handles GET /api/agents/{agentId}/signal
func (h *Handler) GetSignal(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if _, err := h.registry.Get(agentID); err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := map[string]interface{}{
		"agentId":  agentID,
		"signaled": false,
	}
	if pending, ok := h.pendingSignal(agentID); ok {
		resp["signaled"] = true
		resp["hangupDelaySeconds"] = pending.DelaySeconds
		resp["fireAt"] = pending.FireAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSignals handles GET /api/signals
func (h *Handler) ListSignals(w http.ResponseWriter, r *http.Request) {
	pending := h.signals.Pending()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"signals": pending,
		"count":   len(pending),
	})
}
