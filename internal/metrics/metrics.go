package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CallsEnqueued       prometheus.Counter
	CallsAssigned       *prometheus.CounterVec
	CallsClosed         *prometheus.CounterVec
	CallsAbandoned      prometheus.Counter
	QueueWaitSeconds    prometheus.Histogram
	QueueDepth          prometheus.Gauge
	AgentsByStatus      *prometheus.GaugeVec
	AgentsCreated       *prometheus.CounterVec
	Signals             *prometheus.CounterVec
	SweepDuration       prometheus.Histogram
	SweepClosed         prometheus.Counter
	Provisioning        *prometheus.CounterVec
	ProvisioningTries   prometheus.Histogram
	Reconciliations     prometheus.Counter
	WebSocketClients    prometheus.Gauge
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CallsEnqueued: f.NewCounter(prometheus.CounterOpts{
			Name: "callcenter_calls_enqueued_total",
			Help: "Total number of calls placed in the queue",
		}),
		CallsAssigned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callcenter_calls_assigned_total",
			Help: "Total number of calls assigned to an agent",
		}, []string{"agent_kind", "call_kind"}),
		CallsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callcenter_calls_closed_total",
			Help: "Total number of active calls ended",
		}, []string{"reason"}),
		CallsAbandoned: f.NewCounter(prometheus.CounterOpts{
			Name: "callcenter_calls_abandoned_total",
			Help: "Total number of queued calls abandoned",
		}),
		QueueWaitSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "callcenter_queue_wait_seconds",
			Help:    "Time calls spent queued before assignment",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300, 600},
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "callcenter_queue_depth",
			Help: "Current number of queued calls",
		}),
		AgentsByStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "callcenter_agents",
			Help: "Current number of agents by availability",
		}, []string{"status"}),
		AgentsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callcenter_agents_created_total",
			Help: "Total number of agents created",
		}, []string{"kind"}),
		Signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callcenter_signals_total",
			Help: "Hangup signal outcomes",
		}, []string{"outcome"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "callcenter_sweep_duration_seconds",
			Help:    "Time taken by an expiry sweep",
			Buckets: prometheus.DefBuckets,
		}),
		SweepClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "callcenter_sweep_closed_total",
			Help: "Total number of calls closed by expiry sweeps",
		}),
		Provisioning: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callcenter_provisioning_total",
			Help: "Conversation provisioning outcomes",
		}, []string{"outcome"}),
		ProvisioningTries: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "callcenter_provisioning_attempts",
			Help:    "Attempts used per provisioning request",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		Reconciliations: f.NewCounter(prometheus.CounterOpts{
			Name: "callcenter_reconciliations_total",
			Help: "Double-booked agents repaired by closing surplus calls",
		}),
		WebSocketClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "callcenter_websocket_clients",
			Help: "Connected dashboard clients",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callcenter_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callcenter_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry for tests and custom handlers
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordCallEnqueued counts a new queued call
func (m *Metrics) RecordCallEnqueued() {
	if m == nil {
		return
	}
	m.CallsEnqueued.Inc()
}

// RecordAssignment counts an assignment and observes how long the call waited
func (m *Metrics) RecordAssignment(agentKind, callKind string, waitSeconds int64) {
	if m == nil {
		return
	}
	m.CallsAssigned.WithLabelValues(agentKind, callKind).Inc()
	m.QueueWaitSeconds.Observe(float64(waitSeconds))
}

// RecordCallClosed counts an ended call by reason
func (m *Metrics) RecordCallClosed(reason string) {
	if m == nil {
		return
	}
	m.CallsClosed.WithLabelValues(reason).Inc()
}

// RecordAbandoned counts an abandoned call
func (m *Metrics) RecordAbandoned() {
	if m == nil {
		return
	}
	m.CallsAbandoned.Inc()
}

// SetQueueDepth updates the queue depth gauge
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// SetAgents updates the agent availability gauges
func (m *Metrics) SetAgents(active, idle int) {
	if m == nil {
		return
	}
	m.AgentsByStatus.WithLabelValues("ACTIVE").Set(float64(active))
	m.AgentsByStatus.WithLabelValues("IDLE").Set(float64(idle))
}

// RecordAgentCreated counts a new agent
func (m *Metrics) RecordAgentCreated(kind string) {
	if m == nil {
		return
	}
	m.AgentsCreated.WithLabelValues(kind).Inc()
}

// RecordSignal counts a signal outcome: scheduled, duplicate, fired or cancelled
func (m *Metrics) RecordSignal(outcome string) {
	if m == nil {
		return
	}
	m.Signals.WithLabelValues(outcome).Inc()
}

// RecordSweep observes a sweep pass
func (m *Metrics) RecordSweep(duration time.Duration, closed int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(duration.Seconds())
	m.SweepClosed.Add(float64(closed))
}

// RecordProvisioning counts a provisioning outcome and the attempts it took
func (m *Metrics) RecordProvisioning(outcome string, attempts int) {
	if m == nil {
		return
	}
	m.Provisioning.WithLabelValues(outcome).Inc()
	m.ProvisioningTries.Observe(float64(attempts))
}

// RecordReconciliation counts a repaired double booking
func (m *Metrics) RecordReconciliation() {
	if m == nil {
		return
	}
	m.Reconciliations.Inc()
}

// RecordWebSocketConnect increments connected dashboard clients
func (m *Metrics) RecordWebSocketConnect() {
	if m == nil {
		return
	}
	m.WebSocketClients.Inc()
}

// RecordWebSocketDisconnect decrements connected dashboard clients
func (m *Metrics) RecordWebSocketDisconnect() {
	if m == nil {
		return
	}
	m.WebSocketClients.Dec()
}

// RecordHTTPRequest records a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
