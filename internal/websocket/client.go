package websocket

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/callcenter/internal/config"
	"github.com/dennisdiepolder/monti/callcenter/internal/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client is a middleman between the websocket connection and the hub
type Client struct {
	// Unique client ID
	id string

	// The hub this client belongs to
	hub *Hub

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	// Event types the dashboard asked for; empty means everything
	events   map[types.EventType]bool
	eventsMu sync.RWMutex

	// Configuration
	config *config.Config

	// Logger
	logger zerolog.Logger
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, cfg *config.Config, logger zerolog.Logger) *Client {
	clientID := uuid.New().String()
	return &Client{
		id:     clientID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		config: cfg,
		logger: logger.With().Str("client_id", clientID).Logger(),
	}
}

// subscribeRequest is the only message a dashboard sends. It replaces the
// client's event filter; an empty list restores the full stream.
type subscribeRequest struct {
	Subscribe []string `json:"subscribe"`
}

// Subscribe limits the lifecycle events sent to this client
func (c *Client) Subscribe(kinds []types.EventType) {
	events := make(map[types.EventType]bool, len(kinds))
	for _, kind := range kinds {
		events[kind] = true
	}

	c.eventsMu.Lock()
	c.events = events
	c.eventsMu.Unlock()
}

// accepts reports whether a message of the given kind passes the filter.
// Untyped messages always pass.
func (c *Client) accepts(kind types.EventType) bool {
	if kind == "" {
		return true
	}
	c.eventsMu.RLock()
	defer c.eventsMu.RUnlock()
	return len(c.events) == 0 || c.events[kind]
}

// parseEventTypes normalizes event names from a query string or subscribe message
func parseEventTypes(names []string) []types.EventType {
	kinds := make([]types.EventType, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			kinds = append(kinds, types.EventType(name))
		}
	}
	return kinds
}

// readPump keeps the connection alive and applies subscribe requests from
// the dashboard.
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error().Err(err).Msg("websocket read error")
			}
			break
		}

		var req subscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.logger.Debug().Str("message", string(message)).Msg("ignoring malformed message from dashboard")
			continue
		}
		kinds := parseEventTypes(req.Subscribe)
		c.Subscribe(kinds)
		c.logger.Debug().Int("event_types", len(kinds)).Msg("dashboard subscription updated")
	}
}

// writePump pumps messages from the hub to the websocket connection. Each
// hub message goes out as its own text frame so dashboards can parse
// frames as single JSON documents.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
