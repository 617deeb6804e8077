package websocket

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dennisdiepolder/monti/callcenter/internal/config"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler handles WebSocket upgrade requests for the dashboard stream
type Handler struct {
	hub      *Hub
	config   *config.Config
	upgrader websocket.Upgrader
	snapshot func() interface{}
	logger   zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:    hub,
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		logger: logger,
	}
}

// SetSnapshot sets the message sent to every client right after it connects
func (h *Handler) SetSnapshot(snapshot func() interface{}) {
	h.snapshot = snapshot
}

// ServeHTTP handles WebSocket upgrade requests. An optional events query
// parameter (comma separated) sets the initial event filter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP connection to WebSocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewClient(h.hub, conn, h.config, h.logger)
	if events := r.URL.Query().Get("events"); events != "" {
		client.Subscribe(parseEventTypes(strings.Split(events, ",")))
	}

	// Queue the snapshot before the pumps start so it is the first frame
	if h.snapshot != nil {
		if data, err := json.Marshal(h.snapshot()); err == nil {
			client.send <- data
		} else {
			h.logger.Error().Err(err).Msg("failed to marshal dashboard snapshot")
		}
	}

	if !h.hub.join(client) {
		conn.Close()
		return
	}

	client.Start()
}

// originChecker allows requests without an Origin header, any origin when
// "*" is configured, and otherwise only the listed origins
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		set[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}
