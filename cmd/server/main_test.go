package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dennisdiepolder/monti/callcenter/internal/config"
	"github.com/dennisdiepolder/monti/callcenter/internal/storage"
	"github.com/rs/zerolog"
)

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	healthHandler(rec, req)

	// Check status code
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	// Check content type
	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}

	var response map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if response["status"] != "ok" {
		t.Errorf("expected status ok, got %s", response["status"])
	}
	if response["service"] != "callcenter" {
		t.Errorf("expected service callcenter, got %s", response["service"])
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Port:                 "0",
		AllowedOrigins:       []string{"http://localhost:3000"},
		LogLevel:             "info",
		WSReadTimeout:        60 * time.Second,
		WSWriteTimeout:       10 * time.Second,
		PingPeriod:           54 * time.Second,
		PongWait:             60 * time.Second,
		WriteWait:            10 * time.Second,
		MaxMessageSize:       512,
		DashboardInterval:    time.Second,
		SweepInterval:        time.Hour,
		SignalMinDelay:       time.Hour,
		SignalMaxDelay:       time.Hour,
		FinishingSoonWindow:  2 * time.Minute,
		CapacityBurstMax:     5,
		ServiceLevelSeconds:  20,
		PhoneRegion:          "US",
		ProvisionMaxAttempts: 1,
		ProvisionBaseDelay:   time.Millisecond,
		ProvisionTimeout:     time.Second,
		Dynamo:               storage.DynamoConfig{Mode: storage.DynamoModeNone},
	}
}

func request(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAppRoutes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	if err := a.start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer a.stop()

	if rec := request(t, a.router, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("expected health 200, got %d", rec.Code)
	}

	rec := request(t, a.router, http.MethodPost, "/api/calls", `{"customerPhone":"+1 415 555 0100","issue":"Query timeout errors"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = request(t, a.router, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to parse stats: %v", err)
	}

	rec = request(t, a.router, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "callcenter_calls_enqueued_total 1") {
		t.Error("expected enqueued counter in metrics output")
	}
	if !strings.Contains(body, `route="/api/calls`) {
		t.Error("expected route-labelled request counter in metrics output")
	}

	if rec := request(t, a.router, http.MethodGet, "/api/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown route, got %d", rec.Code)
	}
}

func TestAppRedisMarkers(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}

	rec := request(t, a.router, http.MethodPost, "/api/agents", `{"type":"HUMAN"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var agent struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &agent); err != nil {
		t.Fatalf("failed to parse agent: %v", err)
	}

	rec = request(t, a.router, http.MethodPost, "/api/agents/"+agent.ID+"/signal", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if keys := mr.Keys(); len(keys) != 1 {
		t.Fatalf("expected one marker in redis, got %v", keys)
	}

	// Shutdown cancels the pending hangup and releases its marker
	cancel()
	a.stop()

	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("expected markers released on stop, got %v", keys)
	}
}

func TestAppRedisUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.RedisURL = "redis://127.0.0.1:1"

	if _, err := newApp(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Error("expected error when redis is unreachable")
	}
}
