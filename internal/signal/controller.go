package signal

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/callcenter/internal/agents"
	"github.com/dennisdiepolder/monti/callcenter/internal/assignment"
	"github.com/dennisdiepolder/monti/callcenter/internal/metrics"
	"github.com/dennisdiepolder/monti/callcenter/internal/types"
	"github.com/dennisdiepolder/monti/callcenter/internal/voice"
	"github.com/rs/zerolog"
)

// Default hangup delay range
const (
	DefaultMinDelay = 10 * time.Second
	DefaultMaxDelay = 30 * time.Second
)

// fireTimeout bounds the close-and-reassign work done when a timer fires
const fireTimeout = 30 * time.Second

// Releaser ends an agent's current call and offers it the next one
type Releaser interface {
	ReleaseAgent(ctx context.Context, agentID, reason string) (assignment.ReleaseResult, error)
}

// Timer is a cancellable scheduled task
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SignalResult describes a pending hangup
type SignalResult struct {
	AgentID         string    `json:"agentId"`
	DelaySeconds    int       `json:"hangupDelaySeconds"`
	FireAt          time.Time `json:"fireAt"`
	AlreadySignaled bool      `json:"alreadySignaled"`
}

type pendingSignal struct {
	result    SignalResult
	timer     Timer
	gen       uint64
	reserving bool // marker acquire in flight, no timer yet
	firing    bool
}

// Controller schedules delayed hangups. Each agent has at most one pending
// timer; firing closes the agent's call, reassigns the agent and clears the
// marker.
type Controller struct {
	releaser  Releaser
	agents    *agents.Registry
	markers   MarkerStore
	voice     voice.Provider
	sessions  *voice.Sessions
	scheduler Scheduler
	delay     func() time.Duration
	now       func() time.Time
	events    types.EventSink
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	pending map[string]*pendingSignal // agentID -> pending hangup
	gen     uint64
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates a signal controller with in-memory markers and the default delay range
func NewController(releaser Releaser, registry *agents.Registry, logger zerolog.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		releaser:  releaser,
		agents:    registry,
		markers:   NewMemoryMarkers(),
		voice:     voice.NewNoopProvider(),
		sessions:  voice.NewSessions(),
		scheduler: realScheduler{},
		delay:     RandomDelay(DefaultMinDelay, DefaultMaxDelay),
		now:       time.Now,
		events:    types.NopSink{},
		logger:    logger.With().Str("component", "signal").Logger(),
		pending:   make(map[string]*pendingSignal),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetMarkers replaces the marker store
func (c *Controller) SetMarkers(m MarkerStore) {
	c.markers = m
}

// SetVoice sets the provider used to hang up automated agents' calls
func (c *Controller) SetVoice(p voice.Provider, sessions *voice.Sessions) {
	c.voice = p
	c.sessions = sessions
}

// SetScheduler replaces the timer source
func (c *Controller) SetScheduler(s Scheduler) {
	c.scheduler = s
}

// SetDelay replaces the delay function
func (c *Controller) SetDelay(delay func() time.Duration) {
	c.delay = delay
}

// SetEventSink sets where lifecycle events go
func (c *Controller) SetEventSink(sink types.EventSink) {
	if sink == nil {
		sink = types.NopSink{}
	}
	c.events = sink
}

// SetMetrics attaches collectors
func (c *Controller) SetMetrics(mt *metrics.Metrics) {
	c.metrics = mt
}

// RandomDelay returns whole-second delays uniformly drawn from [lo, hi]
func RandomDelay(lo, hi time.Duration) func() time.Duration {
	if hi < lo {
		hi = lo
	}
	span := int((hi - lo) / time.Second)
	return func() time.Duration {
		return lo + time.Duration(rand.IntN(span+1))*time.Second
	}
}

// Signal schedules a hangup for the agent's current call. A second signal
// before the timer fires returns the pending state with AlreadySignaled set.
// The marker store is called without holding the controller lock.
func (c *Controller) Signal(ctx context.Context, agentID string) (SignalResult, error) {
	if _, err := c.agents.Get(agentID); err != nil {
		return SignalResult{}, err
	}

	c.mu.Lock()
	if p, ok := c.pending[agentID]; ok {
		res := p.result
		res.AlreadySignaled = true
		c.mu.Unlock()
		c.metrics.RecordSignal("duplicate")
		return res, nil
	}
	if err := c.ctx.Err(); err != nil {
		c.mu.Unlock()
		return SignalResult{}, err
	}

	d := c.delay()
	c.gen++
	gen := c.gen
	p := &pendingSignal{
		result: SignalResult{
			AgentID:      agentID,
			DelaySeconds: int(d / time.Second),
			FireAt:       c.now().Add(d),
		},
		gen:       gen,
		reserving: true,
	}
	c.pending[agentID] = p
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	acquired, err := c.markers.Acquire(ctx, agentID, d+time.Minute)

	c.mu.Lock()
	if err != nil || !acquired || c.ctx.Err() != nil {
		delete(c.pending, agentID)
		stopped := c.ctx.Err()
		c.mu.Unlock()

		switch {
		case err != nil:
			return SignalResult{}, fmt.Errorf("failed to mark agent %s as signaled: %w", agentID, err)
		case !acquired:
			// another replica owns the hangup
			c.metrics.RecordSignal("duplicate")
			return SignalResult{AgentID: agentID, AlreadySignaled: true}, nil
		default:
			if relErr := c.markers.Release(context.Background(), agentID); relErr != nil {
				c.logger.Error().Err(relErr).Str("agent_id", agentID).Msg("failed to release signal marker")
			}
			return SignalResult{}, stopped
		}
	}

	p.reserving = false
	p.timer = c.scheduler.AfterFunc(d, func() { c.fire(agentID, gen) })
	result := p.result
	c.mu.Unlock()

	c.metrics.RecordSignal("scheduled")
	c.events.Publish(types.LifecycleEvent{Type: types.EventAgentSignaled, AgentID: agentID, Timestamp: c.now()})

	c.logger.Info().
		Str("agent_id", agentID).
		Dur("delay", d).
		Msg("hangup scheduled")

	return result, nil
}

// Unsignal cancels a pending hangup. It returns false when nothing was
// pending or the timer already fired.
func (c *Controller) Unsignal(ctx context.Context, agentID string) bool {
	c.mu.Lock()
	p, ok := c.pending[agentID]
	if !ok || p.firing || p.reserving {
		c.mu.Unlock()
		return false
	}
	p.timer.Stop()
	delete(c.pending, agentID)
	c.mu.Unlock()

	if err := c.markers.Release(ctx, agentID); err != nil {
		c.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to release signal marker")
	}

	c.metrics.RecordSignal("cancelled")
	c.events.Publish(types.LifecycleEvent{Type: types.EventAgentUnsignaled, AgentID: agentID, Timestamp: c.now()})
	c.logger.Info().Str("agent_id", agentID).Msg("hangup cancelled")
	return true
}

// IsSignaled reports whether the agent has a pending hangup
func (c *Controller) IsSignaled(agentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[agentID]
	return ok && !p.reserving
}

// Pending lists pending hangups, soonest first
func (c *Controller) Pending() []SignalResult {
	c.mu.Lock()
	result := make([]SignalResult, 0, len(c.pending))
	for _, p := range c.pending {
		if !p.reserving {
			result = append(result, p.result)
		}
	}
	c.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].FireAt.Equal(result[j].FireAt) {
			return result[i].AgentID < result[j].AgentID
		}
		return result[i].FireAt.Before(result[j].FireAt)
	})
	return result
}

// SignaledCount returns the number of pending hangups
func (c *Controller) SignaledCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.pending {
		if !p.reserving {
			n++
		}
	}
	return n
}

// SignalAll signals every busy agent of kind
func (c *Controller) SignalAll(ctx context.Context, kind types.AgentKind) ([]SignalResult, error) {
	busy := c.agents.List(types.AgentFilter{Kind: kind, Availability: types.AvailabilityActive})
	results := make([]SignalResult, 0, len(busy))
	for _, agent := range busy {
		res, err := c.Signal(ctx, agent.ID)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Stop cancels every pending timer and waits for in-flight hangups
func (c *Controller) Stop() {
	c.cancel()

	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id, p := range c.pending {
		if !p.firing && !p.reserving {
			p.timer.Stop()
			delete(c.pending, id)
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, id := range ids {
		if err := c.markers.Release(ctx, id); err != nil {
			c.logger.Error().Err(err).Str("agent_id", id).Msg("failed to release signal marker")
		}
	}
	c.logger.Info().Int("cancelled", len(ids)).Msg("signal controller stopped")
}

func (c *Controller) fire(agentID string, gen uint64) {
	c.mu.Lock()
	p, ok := c.pending[agentID]
	if !ok || p.gen != gen || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	p.firing = true
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, fireTimeout)
	defer cancel()

	if kind, _, ok := types.ParseAgentID(agentID); ok && kind == types.AgentKindAutomated {
		if handle, ok := c.sessions.Take(agentID); ok {
			if err := c.voice.EndCall(ctx, handle); err != nil {
				c.logger.Warn().Err(err).Str("agent_id", agentID).Msg("failed to end voice call")
			}
		}
	}

	result, err := c.releaser.ReleaseAgent(ctx, agentID, assignment.CloseReasonSignaled)
	if err != nil {
		c.metrics.RecordSignal("failed")
		c.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to hang up signaled agent")
	} else {
		c.metrics.RecordSignal("fired")
		c.logger.Info().
			Str("agent_id", agentID).
			Str("closed_call_id", result.ClosedCallID).
			Bool("closed", result.Closed).
			Str("next_call_id", result.NextCallID).
			Msg("signaled hangup completed")
	}

	c.mu.Lock()
	if cur, ok := c.pending[agentID]; ok && cur.gen == gen {
		delete(c.pending, agentID)
	}
	c.mu.Unlock()

	if err := c.markers.Release(ctx, agentID); err != nil {
		c.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to release signal marker")
	}
	c.events.Publish(types.LifecycleEvent{Type: types.EventAgentUnsignaled, AgentID: agentID, Timestamp: c.now()})
}
