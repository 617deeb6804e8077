package sweeper

import (
	"context"
	"sort"
	"time"

	"github.com/dennisdiepolder/monti/callcenter/internal/assignment"
	"github.com/dennisdiepolder/monti/callcenter/internal/metrics"
	"github.com/dennisdiepolder/monti/callcenter/internal/storage"
	"github.com/dennisdiepolder/monti/callcenter/internal/types"
	"github.com/rs/zerolog"
)

// DefaultFinishingSoonWindow is how close to its predicted end a call must be
// to be reported as finishing soon
const DefaultFinishingSoonWindow = 120 * time.Second

// Releaser ends a call and hands its agent the next queued call
type Releaser interface {
	CloseAndReassign(ctx context.Context, callID, reason string) (assignment.ReleaseResult, error)
}

// FinishingCall is an active call about to reach its predicted duration
type FinishingCall struct {
	Call             *types.Call `json:"call"`
	RemainingSeconds int64       `json:"remainingSeconds"`
}

// Sweeper closes calls that ran past their predicted duration
type Sweeper struct {
	store    storage.CallStore
	releaser Releaser
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New creates a sweeper
func New(store storage.CallStore, releaser Releaser, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		releaser: releaser,
		logger:   logger.With().Str("component", "sweeper").Logger(),
	}
}

// SetMetrics attaches collectors
func (s *Sweeper) SetMetrics(mt *metrics.Metrics) {
	s.metrics = mt
}

// Sweep closes every ACTIVE call whose remaining time is <= 0 and reassigns
// its agent. Calls without a start time, prediction or agent are skipped.
// It returns the ids this invocation closed; concurrent sweeps never report
// the same call twice.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) []string {
	started := time.Now()
	closed := make([]string, 0)
	ts := now.Unix()

	for _, call := range s.store.ListByStatus(types.CallStatusActive) {
		if ctx.Err() != nil {
			break
		}
		if call.AgentID == nil {
			continue
		}
		remaining, ok := call.Remaining(ts)
		if !ok || remaining > 0 {
			continue
		}

		result, err := s.releaser.CloseAndReassign(ctx, call.ID, assignment.CloseReasonExpired)
		if err != nil {
			s.logger.Error().Err(err).Str("call_id", call.ID).Msg("failed to close expired call")
			continue
		}
		if !result.Closed {
			continue
		}
		closed = append(closed, call.ID)

		s.logger.Info().
			Str("call_id", call.ID).
			Str("agent_id", result.AgentID).
			Int64("overdue_seconds", -remaining).
			Str("next_call_id", result.NextCallID).
			Msg("expired call closed")
	}

	s.metrics.RecordSweep(time.Since(started), len(closed))
	return closed
}

// FinishingSoon lists ACTIVE calls with 0 < remaining < window, nearest first
func (s *Sweeper) FinishingSoon(now time.Time, window time.Duration) []FinishingCall {
	if window <= 0 {
		window = DefaultFinishingSoonWindow
	}
	limit := int64(window / time.Second)
	ts := now.Unix()

	result := make([]FinishingCall, 0)
	for _, call := range s.store.ListByStatus(types.CallStatusActive) {
		remaining, ok := call.Remaining(ts)
		if !ok || remaining <= 0 || remaining >= limit {
			continue
		}
		result = append(result, FinishingCall{Call: call, RemainingSeconds: remaining})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].RemainingSeconds < result[j].RemainingSeconds
	})
	return result
}
