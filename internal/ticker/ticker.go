package ticker

import (
	"context"
	"time"

	"github.com/dennisdiepolder/monti/callcenter/internal/types"
	"github.com/rs/zerolog"
)

// StatsSource produces the current call center summary
type StatsSource interface {
	Stats() types.Stats
}

// Broadcaster fans messages out to dashboard clients
type Broadcaster interface {
	BroadcastJSON(v interface{})
	ClientCount() int
}

// Ticker periodically broadcasts stats snapshots to the dashboard hub
type Ticker struct {
	hub      Broadcaster
	stats    StatsSource
	interval time.Duration
	logger   zerolog.Logger
}

// NewTicker creates a new Ticker
func NewTicker(hub Broadcaster, stats StatsSource, interval time.Duration, logger zerolog.Logger) *Ticker {
	return &Ticker{
		hub:      hub,
		stats:    stats,
		interval: interval,
		logger:   logger,
	}
}

// Snapshot builds the stats message for now
func (t *Ticker) Snapshot(now time.Time) types.StatsMessage {
	return types.StatsMessage{
		Type:      types.EventStatsSnapshot,
		Timestamp: now.UTC(),
		Stats:     t.stats.Stats(),
	}
}

// Start begins broadcasting stats snapshots until ctx is done
func (t *Ticker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info().Dur("interval", t.interval).Msg("ticker started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("ticker stopped")
			return

		case now := <-ticker.C:
			// Skip the snapshot work while nobody is watching
			if t.hub.ClientCount() == 0 {
				continue
			}

			message := t.Snapshot(now)
			t.hub.BroadcastJSON(message)
			t.logger.Debug().
				Int("waiting_calls", message.Stats.WaitingCalls).
				Int("clients", t.hub.ClientCount()).
				Msg("broadcasted stats snapshot")
		}
	}
}
