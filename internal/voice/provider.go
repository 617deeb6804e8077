package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBaseURL is the voice platform REST endpoint
const DefaultBaseURL = "https://api.vapi.ai"

// CallRequest describes an outbound automated voice call
type CallRequest struct {
	AgentID       string
	CallID        string
	CustomerPhone string
	Issue         string
}

// Provider places and ends automated voice calls
type Provider interface {
	PlaceCall(ctx context.Context, req CallRequest) (string, error)
	EndCall(ctx context.Context, handle string) error
}

// NewProvider returns an HTTP provider when apiKey is set and a no-op one otherwise
func NewProvider(baseURL, apiKey string, logger zerolog.Logger) Provider {
	if apiKey == "" {
		logger.Info().Msg("voice API key not set, using mock voice provider")
		return NewNoopProvider()
	}
	return NewHTTPProvider(baseURL, apiKey)
}

// HTTPProvider talks to the voice platform REST API with a bearer key
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPProvider creates a REST provider
func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type createCallRequest struct {
	Customer *customer         `json:"customer,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type customer struct {
	Number string `json:"number"`
}

type callResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// PlaceCall creates a call and returns the platform call id
func (p *HTTPProvider) PlaceCall(ctx context.Context, req CallRequest) (string, error) {
	body := createCallRequest{
		Metadata: map[string]string{
			"agentId": req.AgentID,
			"callId":  req.CallID,
			"issue":   req.Issue,
		},
	}
	if req.CustomerPhone != "" {
		body.Customer = &customer{Number: req.CustomerPhone}
	}

	var resp callResponse
	if err := p.do(ctx, http.MethodPost, "/call", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("voice API returned a call without id")
	}
	return resp.ID, nil
}

// EndCall ends a call, falling back to DELETE when PATCH is rejected
func (p *HTTPProvider) EndCall(ctx context.Context, handle string) error {
	path := "/call/" + handle
	patchErr := p.do(ctx, http.MethodPatch, path, map[string]string{"status": "ended"}, nil)
	if patchErr == nil {
		return nil
	}
	if err := p.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("end call %s: %w (patch: %v)", handle, err, patchErr)
	}
	return nil
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	url := p.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s returned status %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// NoopProvider hands out local handles without contacting anything
type NoopProvider struct {
	now func() time.Time
}

// NewNoopProvider creates a mock provider
func NewNoopProvider() *NoopProvider {
	return &NoopProvider{now: time.Now}
}

// PlaceCall returns a local handle
func (p *NoopProvider) PlaceCall(_ context.Context, req CallRequest) (string, error) {
	return fmt.Sprintf("call_%s_%d", req.CallID, p.now().UnixMilli()), nil
}

// EndCall always succeeds
func (p *NoopProvider) EndCall(_ context.Context, _ string) error {
	return nil
}

// Sessions maps automated agents to their live voice call handle
type Sessions struct {
	handles map[string]string // agentID -> handle
	mu      sync.Mutex
}

// NewSessions creates an empty session map
func NewSessions() *Sessions {
	return &Sessions{handles: make(map[string]string)}
}

// Bind records the handle of the agent's current voice call
func (s *Sessions) Bind(agentID, handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[agentID] = handle
}

// Get returns the agent's handle
func (s *Sessions) Get(agentID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[agentID]
	return h, ok
}

// Take removes and returns the agent's handle
func (s *Sessions) Take(agentID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[agentID]
	delete(s.handles, agentID)
	return h, ok
}
