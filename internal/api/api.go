package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/dennisdiepolder/monti/callcenter/internal/agents"
	"github.com/dennisdiepolder/monti/callcenter/internal/assignment"
	"github.com/dennisdiepolder/monti/callcenter/internal/callqueue"
	"github.com/dennisdiepolder/monti/callcenter/internal/domain"
	"github.com/dennisdiepolder/monti/callcenter/internal/signal"
	"github.com/dennisdiepolder/monti/callcenter/internal/storage"
	"github.com/dennisdiepolder/monti/callcenter/internal/sweeper"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// Regenerator provisions an active call's conversation again
type Regenerator interface {
	Regenerate(ctx context.Context, callID string) error
}

// Deps are the components the REST API drives
type Deps struct {
	Engine              *assignment.Engine
	Signals             *signal.Controller
	Sweeper             *sweeper.Sweeper
	Regenerator         Regenerator
	Archive             storage.Archive
	FinishingSoonWindow time.Duration
}

// Handler serves the call center REST API
type Handler struct {
	engine      *assignment.Engine
	registry    *agents.Registry
	queue       *callqueue.Manager
	store       storage.CallStore
	signals     *signal.Controller
	sweeper     *sweeper.Sweeper
	regenerator Regenerator
	archive     storage.Archive
	window      time.Duration
	validator   *validator.Validate
	now         func() time.Time
	logger      zerolog.Logger
}

// NewHandler creates the API handler
func NewHandler(deps Deps, logger zerolog.Logger) *Handler {
	window := deps.FinishingSoonWindow
	if window <= 0 {
		window = sweeper.DefaultFinishingSoonWindow
	}
	archive := deps.Archive
	if archive == nil {
		archive = storage.NewNoopArchive()
	}
	return &Handler{
		engine:      deps.Engine,
		registry:    deps.Engine.Registry(),
		queue:       deps.Engine.Queue(),
		store:       deps.Engine.Queue().Store(),
		signals:     deps.Signals,
		sweeper:     deps.Sweeper,
		regenerator: deps.Regenerator,
		archive:     archive,
		window:      window,
		validator:   newValidator(),
		now:         time.Now,
		logger:      logger.With().Str("component", "api").Logger(),
	}
}

// SetClock overrides the time source
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
}

// Routes returns the /api router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/agents", func(r chi.Router) {
		r.Get("/", h.ListAgents)
		r.Post("/", h.CreateAgent)
		r.Post("/capacity", h.AddCapacity)
		r.Get("/occupy-all", h.OccupationStatus)
		r.Post("/occupy-all", h.OccupyAll)
		r.Get("/backlog", h.GetBacklog)
		r.Post("/backlog", h.AddToBacklog)
		r.Delete("/backlog", h.RemoveFromBacklog)

		r.Route("/{agentId}", func(r chi.Router) {
			r.Get("/", h.GetAgent)
			r.Post("/assign", h.AssignNext)
			r.Post("/signal", h.Signal)
			r.Delete("/signal", h.Unsignal)
			r.Get("/signal", h.GetSignal)
			r.Get("/history", h.AgentHistory)
		})
	})

	r.Get("/signals", h.ListSignals)

	r.Route("/calls", func(r chi.Router) {
		r.Get("/", h.ListCalls)
		r.Post("/", h.CreateCall)
		r.Get("/abandoned", h.ListAbandoned)
		r.Post("/abandoned", h.RecordAbandoned)
		r.Get("/finishing-soon", h.FinishingSoon)

		r.Route("/{callId}", func(r chi.Router) {
			r.Get("/", h.GetCall)
			r.Post("/end", h.EndCall)
			r.Post("/assign", h.AssignCall)
			r.Post("/abandon", h.AbandonCall)
			r.Post("/callback", h.Callback)
			r.Post("/regenerate", h.Regenerate)
			r.Get("/transcript", h.GetTranscript)
			r.Get("/progress", h.GetProgress)
		})
	})

	r.Get("/records", h.ListRecords)
	r.Get("/queue", h.GetQueue)
	r.Post("/sweep", h.Sweep)
	r.Get("/stats", h.GetStats)

	return r
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP status codes
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"

	var de *domain.DomainError
	if errors.As(err, &de) {
		code = de.Code
		switch de.Code {
		case domain.ErrCodeNotFound:
			status = http.StatusNotFound
		case domain.ErrCodeInvalidArgument:
			status = http.StatusBadRequest
		case domain.ErrCodeInvalidTransition:
			status = http.StatusConflict
		case domain.ErrCodeCapacityExhausted:
			status = http.StatusServiceUnavailable
		}
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		msg = "internal error"
	} else if de != nil {
		msg = de.Message
	}

	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

// decode reads a JSON body into dst and validates its struct tags. An empty
// body is treated as an empty object.
func (h *Handler) decode(r *http.Request, dst interface{}) error {
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
		if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return domain.NewInvalidArgumentError("invalid request body")
		}
	}
	if err := h.validator.Struct(dst); err != nil {
		return domain.NewInvalidArgumentError(validationMessage(err))
	}
	return nil
}

// validationMessage flattens validator errors into one line
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
