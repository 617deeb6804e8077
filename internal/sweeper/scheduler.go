package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs Sweep on a fixed interval
type Scheduler struct {
	sweeper  *Sweeper
	cron     *cron.Cron
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewScheduler creates a scheduler; overlapping runs are skipped
func NewScheduler(s *Sweeper, interval time.Duration, logger zerolog.Logger) *Scheduler {
	l := logger.With().Str("component", "sweep_scheduler").Logger()
	return &Scheduler{
		sweeper:  s,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{l}))),
		interval: interval,
		now:      time.Now,
		logger:   l,
	}
}

// Start registers the sweep job and starts the cron runner. The runner stops
// when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		closed := s.sweeper.Sweep(ctx, s.now())
		if len(closed) > 0 {
			s.logger.Debug().Int("closed", len(closed)).Msg("sweep completed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info().Dur("interval", s.interval).Msg("sweep scheduler started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the runner and waits for a running sweep to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("sweep scheduler stopped")
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
