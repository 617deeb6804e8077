package callqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/callcenter/internal/domain"
	"github.com/dennisdiepolder/monti/callcenter/internal/storage"
	"github.com/dennisdiepolder/monti/callcenter/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := NewManager(storage.NewMemoryCallStore(), zerolog.Nop())
	m.SetClock(clock.Now)
	return m, clock
}

func TestEnqueue_NormalizesPhoneAndQueues(t *testing.T) {
	m, _ := newTestManager(t)

	call, err := m.Enqueue("(650) 253-0000", "Billing question")
	require.NoError(t, err)

	assert.Equal(t, types.CallStatusQueued, call.Status)
	assert.Equal(t, "+16502530000", call.CustomerPhone)
	assert.Equal(t, types.CallKindRegular, call.Kind)
	assert.Nil(t, call.AgentID)
	assert.Contains(t, call.ID, "CALL-")
	assert.Equal(t, 1, m.Depth())

	entry, ok := m.Ledger().Get(call.ID)
	require.True(t, ok)
	assert.Equal(t, types.LedgerQueued, entry.Status)
}

func TestEnqueue_RejectsEmptyPhone(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Enqueue("   ", "issue")
	assert.True(t, domain.IsInvalidArgument(err))
	assert.Equal(t, 0, m.Depth())
}

func TestPopOldest_FIFO(t *testing.T) {
	m, clock := newTestManager(t)

	first, err := m.Enqueue("+15550000001", "a")
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := m.Enqueue("+15550000002", "b")
	require.NoError(t, err)
	clock.Advance(time.Second)

	assert.Equal(t, first.ID, m.PeekOldest().ID)

	got, err := m.PopOldest("HUMAN-001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, types.CallStatusActive, got.Status)
	assert.Equal(t, "HUMAN-001", got.Agent())
	assert.Equal(t, int64(2), got.WaitTimeSeconds)
	require.NotNil(t, got.StartTime)

	got, err = m.PopOldest("HUMAN-002")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	got, err = m.PopOldest("HUMAN-003")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPopOldest_SameTimestampKeepsInsertionOrder(t *testing.T) {
	m, _ := newTestManager(t)

	ids := make([]string, 5)
	for i := range ids {
		call, err := m.Enqueue("+15550000001", "same second")
		require.NoError(t, err)
		ids[i] = call.ID
	}

	for i := range ids {
		call, err := m.PopOldest("HUMAN-001")
		require.NoError(t, err)
		assert.Equal(t, ids[i], call.ID)
	}
}

func TestPopOldest_ConcurrentPopsNeverShareACall(t *testing.T) {
	m, _ := newTestManager(t)

	const calls = 20
	for i := 0; i < calls; i++ {
		_, err := m.Enqueue("+15550000001", "load")
		require.NoError(t, err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	for i := 0; i < calls*2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			call, err := m.PopOldest(types.FormatAgentID(types.AgentKindHuman, n+1))
			if err != nil || call == nil {
				return
			}
			mu.Lock()
			seen[call.ID]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(t, seen, calls)
	for id, n := range seen {
		assert.Equal(t, 1, n, "call %s popped more than once", id)
	}
	assert.Equal(t, 0, m.Depth())
}

func TestPopOldest_SkipsAbandonedHead(t *testing.T) {
	m, clock := newTestManager(t)

	head, _ := m.Enqueue("+15550000001", "a")
	clock.Advance(time.Second)
	next, _ := m.Enqueue("+15550000002", "b")

	_, err := m.Abandon(head.ID)
	require.NoError(t, err)

	got, err := m.PopOldest("HUMAN-001")
	require.NoError(t, err)
	assert.Equal(t, next.ID, got.ID)
}

func TestAbandon(t *testing.T) {
	m, clock := newTestManager(t)

	call, _ := m.Enqueue("+15550000001", "waiting")
	clock.Advance(45 * time.Second)

	abandoned, err := m.Abandon(call.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CallStatusAbandoned, abandoned.Status)
	assert.Equal(t, int64(45), abandoned.WaitTimeSeconds)
	assert.Nil(t, abandoned.AgentID)
	assert.Len(t, m.Abandoned(), 1)

	_, err = m.Abandon(call.ID)
	assert.True(t, domain.IsInvalidTransition(err))

	_, err = m.Abandon("CALL-missing")
	assert.True(t, domain.IsNotFound(err))
}

func TestDequeue(t *testing.T) {
	m, _ := newTestManager(t)

	call, _ := m.Enqueue("+15550000001", "a")

	_, err := m.Dequeue(call.ID, types.CallStatusActive, "")
	assert.True(t, domain.IsInvalidArgument(err))

	_, err = m.Dequeue(call.ID, types.CallStatusEnded, "")
	assert.True(t, domain.IsInvalidArgument(err))

	got, err := m.Dequeue(call.ID, types.CallStatusActive, "AI-001")
	require.NoError(t, err)
	assert.Equal(t, "AI-001", got.Agent())

	_, err = m.Dequeue(call.ID, types.CallStatusAbandoned, "")
	assert.True(t, domain.IsInvalidTransition(err))
}

func TestDequeue_RejectsBusyAgent(t *testing.T) {
	m, _ := newTestManager(t)

	first, _ := m.Enqueue("+15550000001", "a")
	second, _ := m.Enqueue("+15550000002", "b")

	_, err := m.Dequeue(first.ID, types.CallStatusActive, "AI-001")
	require.NoError(t, err)

	_, err = m.Dequeue(second.ID, types.CallStatusActive, "AI-001")
	assert.True(t, domain.IsInvalidArgument(err))

	active := m.Store().ListByStatus(types.CallStatusActive)
	require.Len(t, active, 1)
	assert.Equal(t, first.ID, active[0].ID)
	assert.Equal(t, 1, m.Depth())

	got, err := m.Dequeue(second.ID, types.CallStatusActive, "HUMAN-001")
	require.NoError(t, err)
	assert.Equal(t, "HUMAN-001", got.Agent())
}

func TestRecordAbandoned(t *testing.T) {
	m, _ := newTestManager(t)

	call, err := m.RecordAbandoned("+15550000001", "", 90)
	require.NoError(t, err)
	assert.Equal(t, types.CallStatusAbandoned, call.Status)
	assert.Equal(t, "Unknown issue", call.Issue)
	assert.Equal(t, int64(90), call.WaitTimeSeconds)
	assert.Equal(t, 0, m.Depth())

	_, err = m.RecordAbandoned("+15550000001", "x", -1)
	assert.True(t, domain.IsInvalidArgument(err))
}

func TestCreateCall_WithAgentStartsActive(t *testing.T) {
	m, _ := newTestManager(t)

	call, err := m.CreateCall(types.CallSpec{
		CustomerPhone:           "+15550000001",
		AgentID:                 "HUMAN-001",
		ExpectedDurationSeconds: types.Int64Ptr(300),
	})
	require.NoError(t, err)
	assert.Equal(t, types.CallStatusActive, call.Status)
	require.NotNil(t, call.StartTime)

	_, err = m.CreateCall(types.CallSpec{CustomerPhone: "+15550000001", Status: types.CallStatusEnded})
	assert.True(t, domain.IsInvalidArgument(err))
}

func TestAverageWaitTime(t *testing.T) {
	m, clock := newTestManager(t)

	assert.Equal(t, int64(0), m.AverageWaitTime())

	_, _ = m.Enqueue("+15550000001", "a")
	clock.Advance(10 * time.Second)
	_, _ = m.Enqueue("+15550000002", "b")
	clock.Advance(5 * time.Second)

	// waits are 15 and 5
	assert.Equal(t, int64(10), m.AverageWaitTime())

	_, _ = m.Enqueue("+15550000003", "c")
	// waits are 15, 5 and 0
	assert.Equal(t, int64(6), m.AverageWaitTime())
}

func TestBurstSize(t *testing.T) {
	tests := []struct {
		depth, cap, want int
	}{
		{0, 5, 0},
		{1, 5, 1},
		{2, 5, 1},
		{3, 5, 2},
		{5, 5, 2},
		{6, 5, 3},
		{10, 5, 4},
		{13, 5, 5},
		{40, 5, 5},
		{40, 0, DefaultBurstCap},
		{40, 8, 8},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, BurstSize(tt.depth, tt.cap), "depth=%d cap=%d", tt.depth, tt.cap)
	}
}

func TestServiceLevel(t *testing.T) {
	m, clock := newTestManager(t)
	m.SetServiceLevelThreshold(20)

	assert.Equal(t, 100.0, m.ServiceLevel().CurrentSL)

	_, _ = m.Enqueue("+15550000001", "fast")
	clock.Advance(5 * time.Second)
	_, err := m.PopOldest("HUMAN-001")
	require.NoError(t, err)

	_, _ = m.Enqueue("+15550000002", "slow")
	clock.Advance(30 * time.Second)
	_, err = m.PopOldest("HUMAN-002")
	require.NoError(t, err)

	sl := m.ServiceLevel()
	assert.Equal(t, 2, sl.TotalAnswered)
	assert.Equal(t, 1, sl.AnsweredInSL)
	assert.InDelta(t, 50.0, sl.CurrentSL, 0.001)
}

func TestLedgerTracksAssignment(t *testing.T) {
	m, _ := newTestManager(t)

	call, _ := m.Enqueue("+15550000001", "a")
	_, err := m.PopOldest("HUMAN-007")
	require.NoError(t, err)

	entry, ok := m.Ledger().Get(call.ID)
	require.True(t, ok)
	assert.Equal(t, types.LedgerAssigned, entry.Status)
	assert.Equal(t, "HUMAN-007", entry.AssignedAgentID)

	m.CompleteLedger(call.ID)
	entry, _ = m.Ledger().Get(call.ID)
	assert.Equal(t, types.LedgerCompleted, entry.Status)
	assert.Len(t, m.Ledger().Entries(), 1)
}
