package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dennisdiepolder/monti/callcenter/internal/assignment"
	"github.com/dennisdiepolder/monti/callcenter/internal/domain"
	"github.com/dennisdiepolder/monti/callcenter/internal/types"
	"github.com/go-chi/chi/v5"
)

// CreateCallRequest is the body of POST /api/calls
type CreateCallRequest struct {
	CustomerPhone string `json:"customerPhone" validate:"required,max=32"`
	Issue         string `json:"issue" validate:"max=200"`
}

// AbandonedCallRequest is the body of POST /api/calls/abandoned
type AbandonedCallRequest struct {
	CustomerPhone string `json:"customerPhone" validate:"required,max=32"`
	Issue         string `json:"issue" validate:"max=200"`
	WaitTime      int64  `json:"waitTime" validate:"gte=0"`
}

// AssignCallRequest is the body of POST /api/calls/{callId}/assign
type AssignCallRequest struct {
	AgentID string `json:"agentId" validate:"required"`
}

// CallbackRequest is the body of POST /api/calls/{callId}/callback
type CallbackRequest struct {
	Mode string `json:"mode" validate:"omitempty,oneof=existing new"`
}

// ListCalls handles GET /api/calls?status=
func (h *Handler) ListCalls(w http.ResponseWriter, r *http.Request) {
	statuses := []types.CallStatus{
		types.CallStatusQueued,
		types.CallStatusActive,
		types.CallStatusEnded,
		types.CallStatusAbandoned,
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := types.CallStatus(strings.ToUpper(s))
		if !status.Valid() {
			h.writeError(w, r, domain.NewInvalidArgumentError(fmt.Sprintf("invalid call status %q", s)))
			return
		}
		statuses = []types.CallStatus{status}
	}

	calls := make([]*types.Call, 0)
	for _, status := range statuses {
		calls = append(calls, h.store.ListByStatus(status)...)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"calls": calls,
		"total": len(calls),
	})
}

// GetCall handles GET /api/calls/{callId}
func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	call, err := h.store.Get(chi.URLParam(r, "callId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// CreateCall handles POST /api/calls. The call waits in the queue until an
// agent pulls it.
func (h *Handler) CreateCall(w http.ResponseWriter, r *http.Request) {
	var req CreateCallRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	call, err := h.queue.Enqueue(req.CustomerPhone, req.Issue)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, call)
}

// EndCall handles POST /api/calls/{callId}/end. The freed agent is offered
// the next waiting call. Ending an already finished call is a no-op.
func (h *Handler) EndCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callId")

	result, err := h.engine.CloseAndReassign(r.Context(), callID, assignment.CloseReasonManual)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info().
		Str("call_id", callID).
		Str("agent_id", result.AgentID).
		Bool("closed", result.Closed).
		Str("next_call_id", result.NextCallID).
		Msg("call ended via API")

	writeJSON(w, http.StatusOK, result)
}

// AbandonCall handles POST /api/calls/{callId}/abandon
func (h *Handler) AbandonCall(w http.ResponseWriter, r *http.Request) {
	call, err := h.queue.Abandon(chi.URLParam(r, "callId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// AssignCall handles POST /api/calls/{callId}/assign
func (h *Handler) AssignCall(w http.ResponseWriter, r *http.Request) {
	var req AssignCallRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	call, err := h.engine.AssignCall(r.Context(), req.AgentID, chi.URLParam(r, "callId"), true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// Callback handles POST /api/calls/{callId}/callback
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	mode, err := assignment.ParseCallbackMode(req.Mode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	call, err := h.engine.TriggerCallback(r.Context(), chi.URLParam(r, "callId"), mode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info().
		Str("call_id", call.ID).
		Str("agent_id", call.Agent()).
		Str("mode", string(mode)).
		Msg("callback started via API")

	writeJSON(w, http.StatusOK, call)
}

// Regenerate handles POST /api/calls/{callId}/regenerate
func (h *Handler) Regenerate(w http.ResponseWriter, r *http.Request) {
	if h.regenerator == nil {
		h.writeError(w, r, domain.NewCapacityExhaustedError("conversation provisioning is disabled"))
		return
	}

	callID := chi.URLParam(r, "callId")
	if err := h.regenerator.Regenerate(r.Context(), callID); err != nil {
		h.writeError(w, r, err)
		return
	}

	call, err := h.store.Get(callID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// GetTranscript handles GET /api/calls/{callId}/transcript
func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callId")
	if _, err := h.store.Get(callID); err != nil {
		h.writeError(w, r, err)
		return
	}

	transcript, err := h.store.GetTranscript(callID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transcript)
}

// GetProgress handles GET /api/calls/{callId}/progress
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	call, err := h.store.Get(chi.URLParam(r, "callId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	now := h.now().Unix()
	if call.EndTime != nil {
		now = *call.EndTime
	}

	turns := h.store.GetTurns(call.ID)
	elapsed := call.Elapsed(now)
	progress := types.Progress{
		CallID:         call.ID,
		CurrentTurn:    types.CurrentTurnIndex(turns, elapsed),
		TotalTurns:     len(turns),
		ElapsedSeconds: elapsed,
		Turns:          turns,
	}
	if remaining, ok := call.Remaining(now); ok {
		if remaining < 0 {
			remaining = 0
		}
		progress.RemainingSeconds = &remaining
	}
	writeJSON(w, http.StatusOK, progress)
}

// ListAbandoned handles GET /api/calls/abandoned
func (h *Handler) ListAbandoned(w http.ResponseWriter, r *http.Request) {
	calls := h.queue.Abandoned()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"calls": calls,
		"total": len(calls),
	})
}

// RecordAbandoned handles POST /api/calls/abandoned
func (h *Handler) RecordAbandoned(w http.ResponseWriter, r *http.Request) {
	var req AbandonedCallRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	call, err := h.queue.RecordAbandoned(req.CustomerPhone, req.Issue, req.WaitTime)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, call)
}

// FinishingSoon handles GET /api/calls/finishing-soon
func (h *Handler) FinishingSoon(w http.ResponseWriter, r *http.Request) {
	calls := h.sweeper.FinishingSoon(h.now(), h.window)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"calls":         calls,
		"count":         len(calls),
		"windowSeconds": int64(h.window.Seconds()),
	})
}
