package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dennisdiepolder/monti/callcenter/internal/domain"
	"github.com/dennisdiepolder/monti/callcenter/internal/types"
	"github.com/go-chi/chi/v5"
)

const dateLayout = "2006-01-02"

// dateParam reads ?date=YYYY-MM-DD, defaulting to today in UTC
func (h *Handler) dateParam(r *http.Request) (string, error) {
	date := r.URL.Query().Get("date")
	if date == "" {
		return h.now().UTC().Format(dateLayout), nil
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return "", domain.NewInvalidArgumentError(fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", date))
	}
	return date, nil
}

// ListRecords handles GET /api/records?date=YYYY-MM-DD
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	date, err := h.dateParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	records, err := h.archive.GetCallRecords(r.Context(), date)
	if err != nil {
		h.logger.Error().Err(err).Str("date", date).Msg("failed to get call records")
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []types.CallRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":    date,
		"records": records,
		"total":   len(records),
	})
}

// AgentHistory handles GET /api/agents/{agentId}/history?date=YYYY-MM-DD
func (h *Handler) AgentHistory(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if _, err := h.registry.Get(agentID); err != nil {
		h.writeError(w, r, err)
		return
	}

	date, err := h.dateParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	records, err := h.archive.GetAgentCallsByDate(r.Context(), agentID, date)
	if err != nil {
		h.logger.Error().Err(err).
			Str("agent_id", agentID).
			Str("date", date).
			Msg("failed to get agent calls")
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []types.CallRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agentId": agentID,
		"date":    date,
		"records": records,
		"total":   len(records),
	})
}
