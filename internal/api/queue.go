package api

import (
	"net/http"
)

// GetQueue handles GET /api/queue
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	waiting := h.queue.Waiting()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"depth":           len(waiting),
		"waiting":         waiting,
		"averageWaitTime": h.queue.AverageWaitTime(),
		"serviceLevel":    h.queue.ServiceLevel(),
	})
}

// Sweep handles POST /api/sweep, running an expiry pass immediately
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	closed := h.sweeper.Sweep(r.Context(), h.now())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"closed": closed,
		"count":  len(closed),
	})
}

// GetStats handles GET /api/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Stats())
}
