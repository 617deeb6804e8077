package signal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/callcenter/internal/agents"
	"github.com/dennisdiepolder/monti/callcenter/internal/assignment"
	"github.com/dennisdiepolder/monti/callcenter/internal/callqueue"
	"github.com/dennisdiepolder/monti/callcenter/internal/domain"
	"github.com/dennisdiepolder/monti/callcenter/internal/storage"
	"github.com/dennisdiepolder/monti/callcenter/internal/types"
	"github.com/dennisdiepolder/monti/callcenter/internal/voice"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualScheduler records scheduled tasks so tests decide when they fire
type manualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{d: d, f: f}
	s.tasks = append(s.tasks, t)
	return t
}

// fireAll runs every task that was not stopped
func (s *manualScheduler) fireAll() {
	s.mu.Lock()
	tasks := append([]*manualTimer(nil), s.tasks...)
	s.mu.Unlock()
	for _, t := range tasks {
		if !t.stopped {
			t.stopped = true
			t.f()
		}
	}
}

func (s *manualScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

type countingReleaser struct {
	mu    sync.Mutex
	calls []string
}

func (r *countingReleaser) ReleaseAgent(_ context.Context, agentID, _ string) (assignment.ReleaseResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, agentID)
	return assignment.ReleaseResult{AgentID: agentID}, nil
}

type recordingVoice struct {
	mu    sync.Mutex
	ended []string
}

func (v *recordingVoice) PlaceCall(context.Context, voice.CallRequest) (string, error) {
	return "vc", nil
}

func (v *recordingVoice) EndCall(_ context.Context, handle string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ended = append(v.ended, handle)
	return nil
}

// gatedMarkers blocks Acquire until release is closed
type gatedMarkers struct {
	entered chan struct{}
	release chan struct{}
	inner   MarkerStore
}

func (m *gatedMarkers) Acquire(ctx context.Context, agentID string, ttl time.Duration) (bool, error) {
	m.entered <- struct{}{}
	<-m.release
	return m.inner.Acquire(ctx, agentID, ttl)
}

func (m *gatedMarkers) Release(ctx context.Context, agentID string) error {
	return m.inner.Release(ctx, agentID)
}

func newTestController(t *testing.T, releaser Releaser, registry *agents.Registry) (*Controller, *manualScheduler) {
	t.Helper()
	c := NewController(releaser, registry, zerolog.Nop())
	sched := &manualScheduler{}
	c.SetScheduler(sched)
	c.SetDelay(func() time.Duration { return 15 * time.Second })
	t.Cleanup(c.Stop)
	return c, sched
}

func TestSignal_SchedulesOneTimer(t *testing.T) {
	registry := agents.NewRegistry(zerolog.Nop())
	agent, _ := registry.Create(types.AgentKindHuman)
	releaser := &countingReleaser{}
	c, sched := newTestController(t, releaser, registry)
	ctx := context.Background()

	first, err := c.Signal(ctx, agent.ID)
	require.NoError(t, err)
	assert.False(t, first.AlreadySignaled)
	assert.Equal(t, 15, first.DelaySeconds)
	assert.True(t, c.IsSignaled(agent.ID))

	second, err := c.Signal(ctx, agent.ID)
	require.NoError(t, err)
	assert.True(t, second.AlreadySignaled)
	assert.Equal(t, first.FireAt, second.FireAt)

	assert.Equal(t, 1, sched.count())
	assert.Equal(t, 1, c.SignaledCount())

	sched.fireAll()
	assert.Equal(t, []string{agent.ID}, releaser.calls)
	assert.False(t, c.IsSignaled(agent.ID))
	assert.Empty(t, c.Pending())
}

func TestSignal_UnknownAgent(t *testing.T) {
	registry := agents.NewRegistry(zerolog.Nop())
	c, _ := newTestController(t, &countingReleaser{}, registry)

	_, err := c.Signal(context.Background(), "HUMAN-404")
	assert.True(t, domain.IsNotFound(err))
}

func TestUnsignal_CancelsPendingTimer(t *testing.T) {
	registry := agents.NewRegistry(zerolog.Nop())
	agent, _ := registry.Create(types.AgentKindHuman)
	releaser := &countingReleaser{}
	c, sched := newTestController(t, releaser, registry)
	ctx := context.Background()

	assert.False(t, c.Unsignal(ctx, agent.ID))

	_, err := c.Signal(ctx, agent.ID)
	require.NoError(t, err)
	assert.True(t, c.Unsignal(ctx, agent.ID))
	assert.False(t, c.IsSignaled(agent.ID))

	sched.fireAll()
	assert.Empty(t, releaser.calls)

	// the marker was released so the agent can be signaled again
	res, err := c.Signal(ctx, agent.ID)
	require.NoError(t, err)
	assert.False(t, res.AlreadySignaled)
}

func TestSignal_StaleTimerDoesNotFireNewSignal(t *testing.T) {
	registry := agents.NewRegistry(zerolog.Nop())
	agent, _ := registry.Create(types.AgentKindHuman)
	releaser := &countingReleaser{}
	c, sched := newTestController(t, releaser, registry)
	ctx := context.Background()

	_, err := c.Signal(ctx, agent.ID)
	require.NoError(t, err)
	stale := sched.tasks[0]
	require.True(t, c.Unsignal(ctx, agent.ID))
	_, err = c.Signal(ctx, agent.ID)
	require.NoError(t, err)

	// a cancelled timer that runs anyway must not act on the new signal
	stale.f()
	assert.Empty(t, releaser.calls)
	assert.True(t, c.IsSignaled(agent.ID))
}

func TestSignal_SlowMarkerStoreDoesNotBlockReaders(t *testing.T) {
	registry := agents.NewRegistry(zerolog.Nop())
	slow, _ := registry.Create(types.AgentKindHuman)
	other, _ := registry.Create(types.AgentKindHuman)
	c, sched := newTestController(t, &countingReleaser{}, registry)

	markers := &gatedMarkers{
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
		inner:   NewMemoryMarkers(),
	}
	c.SetMarkers(markers)
	ctx := context.Background()

	done := make(chan SignalResult, 1)
	go func() {
		res, err := c.Signal(ctx, slow.ID)
		assert.NoError(t, err)
		done <- res
	}()
	<-markers.entered

	// readers and duplicate signals answer while Acquire is blocked
	assert.False(t, c.IsSignaled(slow.ID))
	assert.Empty(t, c.Pending())
	assert.Equal(t, 0, c.SignaledCount())
	assert.False(t, c.Unsignal(ctx, slow.ID))
	dup, err := c.Signal(ctx, slow.ID)
	require.NoError(t, err)
	assert.True(t, dup.AlreadySignaled)

	close(markers.release)
	res := <-done
	assert.False(t, res.AlreadySignaled)
	assert.True(t, c.IsSignaled(slow.ID))
	assert.Equal(t, 1, sched.count())

	_, err = c.Signal(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, c.SignaledCount())
}

func TestSignal_FailedAcquireLeavesNothingPending(t *testing.T) {
	registry := agents.NewRegistry(zerolog.Nop())
	agent, _ := registry.Create(types.AgentKindHuman)
	c, sched := newTestController(t, &countingReleaser{}, registry)

	inner := NewMemoryMarkers()
	ctx := context.Background()
	acquired, err := inner.Acquire(ctx, agent.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	c.SetMarkers(inner)

	res, err := c.Signal(ctx, agent.ID)
	require.NoError(t, err)
	assert.True(t, res.AlreadySignaled)
	assert.False(t, c.IsSignaled(agent.ID))
	assert.Equal(t, 0, sched.count())

	require.NoError(t, inner.Release(ctx, agent.ID))
	res, err = c.Signal(ctx, agent.ID)
	require.NoError(t, err)
	assert.False(t, res.AlreadySignaled)
	assert.Equal(t, 1, sched.count())
}

func TestSignal_EndsVoiceCallForAutomatedAgent(t *testing.T) {
	registry := agents.NewRegistry(zerolog.Nop())
	ai, _ := registry.Create(types.AgentKindAutomated)
	human, _ := registry.Create(types.AgentKindHuman)
	c, sched := newTestController(t, &countingReleaser{}, registry)

	v := &recordingVoice{}
	sessions := voice.NewSessions()
	sessions.Bind(ai.ID, "vc_ai")
	sessions.Bind(human.ID, "vc_human")
	c.SetVoice(v, sessions)

	ctx := context.Background()
	_, err := c.Signal(ctx, ai.ID)
	require.NoError(t, err)
	_, err = c.Signal(ctx, human.ID)
	require.NoError(t, err)
	sched.fireAll()

	assert.Equal(t, []string{"vc_ai"}, v.ended)
	_, ok := sessions.Get(ai.ID)
	assert.False(t, ok)
}

func TestSignalAll(t *testing.T) {
	registry := agents.NewRegistry(zerolog.Nop())
	registry.CreateWithAvailability(types.AgentKindHuman, types.AvailabilityActive)
	registry.CreateWithAvailability(types.AgentKindHuman, types.AvailabilityActive)
	registry.Create(types.AgentKindHuman)
	registry.CreateWithAvailability(types.AgentKindAutomated, types.AvailabilityActive)
	c, _ := newTestController(t, &countingReleaser{}, registry)

	results, err := c.SignalAll(context.Background(), types.AgentKindHuman)
	require.NoError(t, err)
	require.Len(t, results, 2)

	pending := c.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "HUMAN-001", pending[0].AgentID)
	assert.Equal(t, "HUMAN-002", pending[1].AgentID)
}

func TestStop_CancelsPendingTimers(t *testing.T) {
	registry := agents.NewRegistry(zerolog.Nop())
	agent, _ := registry.Create(types.AgentKindHuman)
	releaser := &countingReleaser{}
	c := NewController(releaser, registry, zerolog.Nop())
	sched := &manualScheduler{}
	c.SetScheduler(sched)

	_, err := c.Signal(context.Background(), agent.ID)
	require.NoError(t, err)

	c.Stop()
	assert.Equal(t, 0, c.SignaledCount())
	assert.True(t, sched.tasks[0].stopped)

	sched.tasks[0].f()
	assert.Empty(t, releaser.calls)

	_, err = c.Signal(context.Background(), agent.ID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sched.count())
}

func TestRandomDelay(t *testing.T) {
	delay := RandomDelay(10*time.Second, 30*time.Second)
	for i := 0; i < 200; i++ {
		d := delay()
		assert.GreaterOrEqual(t, d, 10*time.Second)
		assert.LessOrEqual(t, d, 30*time.Second)
		assert.Zero(t, d%time.Second)
	}

	assert.Equal(t, 5*time.Second, RandomDelay(5*time.Second, time.Second)())
}

func TestSignal_ClosesCallAndAssignsNext(t *testing.T) {
	store := storage.NewMemoryCallStore()
	registry := agents.NewRegistry(zerolog.Nop())
	queue := callqueue.NewManager(store, zerolog.Nop())
	engine := assignment.NewEngine(registry, queue, zerolog.Nop())
	c, sched := newTestController(t, engine, registry)
	ctx := context.Background()

	p1, err := queue.Enqueue("+15550000001", "first")
	require.NoError(t, err)
	p2, err := queue.Enqueue("+15550000002", "second")
	require.NoError(t, err)
	h1, _ := registry.Create(types.AgentKindHuman)

	callID, ok, err := engine.AssignNext(ctx, h1.ID, false)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, p1.ID, callID)

	_, err = c.Signal(ctx, h1.ID)
	require.NoError(t, err)
	_, err = c.Signal(ctx, h1.ID)
	require.NoError(t, err)
	sched.fireAll()

	got1, _ := store.Get(p1.ID)
	got2, _ := store.Get(p2.ID)
	agent, _ := registry.Get(h1.ID)
	assert.Equal(t, types.CallStatusEnded, got1.Status)
	assert.Equal(t, types.CallStatusActive, got2.Status)
	assert.Equal(t, h1.ID, got2.Agent())
	assert.Equal(t, types.AvailabilityActive, agent.Availability)
	assert.Len(t, store.ListByStatus(types.CallStatusEnded), 1)
}

func TestSignal_FiresAfterExpiryIsNoop(t *testing.T) {
	store := storage.NewMemoryCallStore()
	registry := agents.NewRegistry(zerolog.Nop())
	queue := callqueue.NewManager(store, zerolog.Nop())
	engine := assignment.NewEngine(registry, queue, zerolog.Nop())
	c, sched := newTestController(t, engine, registry)
	ctx := context.Background()

	p1, _ := queue.Enqueue("+15550000001", "first")
	h1, _ := registry.Create(types.AgentKindHuman)
	_, _, err := engine.AssignNext(ctx, h1.ID, false)
	require.NoError(t, err)

	_, err = c.Signal(ctx, h1.ID)
	require.NoError(t, err)

	// the call expires before the hangup fires
	_, err = engine.CloseAndReassign(ctx, p1.ID, assignment.CloseReasonExpired)
	require.NoError(t, err)
	p2, _ := queue.Enqueue("+15550000002", "arrives later")

	sched.fireAll()

	got2, _ := store.Get(p2.ID)
	assert.Equal(t, types.CallStatusQueued, got2.Status)
	assert.False(t, c.IsSignaled(h1.ID))
}
