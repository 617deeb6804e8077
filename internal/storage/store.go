package storage

import (
	"context"
	"time"

	"github.com/dennisdiepolder/monti/callcenter/internal/types"
	"github.com/rs/zerolog"
)

// CallStore is the persistence contract for live call rows. Transition is a
// compare-and-swap on the current status: it only succeeds when the lifecycle
// allows moving from the stored status to the requested one.
type CallStore interface {
	Insert(call *types.Call) error
	Get(callID string) (*types.Call, error)
	Transition(callID string, to types.CallStatus, fields types.TransitionFields, now int64) (*types.Call, error)
	Reactivate(callID, agentID string, now int64) (*types.Call, error)
	ListByStatus(status types.CallStatus) []*types.Call
	SetExpectedDuration(callID string, seconds, now int64) error
	SetGeneration(callID string, status types.GenerationStatus, attempts int, now int64) error
	SaveTranscript(transcript types.Transcript) error
	GetTranscript(callID string) (*types.Transcript, error)
	SaveTurns(callID string, turns []types.Turn) error
	GetTurns(callID string) []types.Turn
}

// Archive stores terminal call records outside the process
type Archive interface {
	SaveCallRecord(ctx context.Context, record types.CallRecord) error
	GetCallRecords(ctx context.Context, dateKey string) ([]types.CallRecord, error)
	GetAgentCallsByDate(ctx context.Context, agentID, dateKey string) ([]types.CallRecord, error)
}

// NoopArchive is used when DynamoDB is disabled
type NoopArchive struct{}

func NewNoopArchive() *NoopArchive { return &NoopArchive{} }

func (a *NoopArchive) SaveCallRecord(_ context.Context, _ types.CallRecord) error { return nil }
func (a *NoopArchive) GetCallRecords(_ context.Context, _ string) ([]types.CallRecord, error) {
	return nil, nil
}
func (a *NoopArchive) GetAgentCallsByDate(_ context.Context, _, _ string) ([]types.CallRecord, error) {
	return nil, nil
}

// ArchiveAsync persists a terminal call record without blocking the caller
func ArchiveAsync(archive Archive, record types.CallRecord, logger zerolog.Logger) {
	if archive == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := archive.SaveCallRecord(ctx, record); err != nil {
			logger.Error().Err(err).Str("call_id", record.CallID).Msg("failed to archive call record")
		}
	}()
}
