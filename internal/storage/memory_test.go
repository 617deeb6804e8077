package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dennisdiepolder/monti/callcenter/internal/domain"
	"github.com/dennisdiepolder/monti/callcenter/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queuedCall(id string, createdAt int64) *types.Call {
	return &types.Call{
		ID:            id,
		CustomerPhone: "+14155550100",
		Status:        types.CallStatusQueued,
		Kind:          types.CallKindRegular,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func TestInsertValidation(t *testing.T) {
	s := NewMemoryCallStore()

	err := s.Insert(&types.Call{ID: "CALL-1", Status: types.CallStatusQueued})
	assert.True(t, domain.IsInvalidArgument(err), "missing phone must be rejected")

	err = s.Insert(&types.Call{ID: "CALL-2", CustomerPhone: "+1", Status: types.CallStatusActive})
	assert.True(t, domain.IsInvalidArgument(err), "active without agent must be rejected")

	require.NoError(t, s.Insert(queuedCall("CALL-3", 10)))
	assert.True(t, domain.IsInvalidArgument(s.Insert(queuedCall("CALL-3", 11))), "duplicate id")
}

func TestTransitionStateMachine(t *testing.T) {
	tests := []struct {
		name string
		path []types.CallStatus
		ok   []bool
	}{
		{"queued active ended", []types.CallStatus{types.CallStatusActive, types.CallStatusEnded}, []bool{true, true}},
		{"queued abandoned", []types.CallStatus{types.CallStatusAbandoned}, []bool{true}},
		{"queued ended", []types.CallStatus{types.CallStatusEnded}, []bool{false}},
		{"abandoned active", []types.CallStatus{types.CallStatusAbandoned, types.CallStatusActive}, []bool{true, false}},
		{"ended twice", []types.CallStatus{types.CallStatusActive, types.CallStatusEnded, types.CallStatusEnded}, []bool{true, true, false}},
		{"back to queued", []types.CallStatus{types.CallStatusActive, types.CallStatusQueued}, []bool{true, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMemoryCallStore()
			require.NoError(t, s.Insert(queuedCall("CALL-1", 100)))

			for i, to := range tt.path {
				fields := types.TransitionFields{}
				if to == types.CallStatusActive {
					fields.AgentID = types.StringPtr("HUMAN-001")
					fields.StartTime = types.Int64Ptr(200)
				}
				_, err := s.Transition("CALL-1", to, fields, 200)
				if tt.ok[i] {
					assert.NoError(t, err, "step %d to %s", i, to)
				} else {
					assert.True(t, domain.IsInvalidTransition(err), "step %d to %s: %v", i, to, err)
				}
			}
		})
	}
}

func TestTransitionActiveRequiresAgentAndStart(t *testing.T) {
	s := NewMemoryCallStore()
	require.NoError(t, s.Insert(queuedCall("CALL-1", 100)))

	_, err := s.Transition("CALL-1", types.CallStatusActive, types.TransitionFields{}, 150)
	assert.True(t, domain.IsInvalidArgument(err))

	got, _ := s.Get("CALL-1")
	assert.Equal(t, types.CallStatusQueued, got.Status, "failed transition must not mutate")
}

func TestTransitionUnknownCall(t *testing.T) {
	s := NewMemoryCallStore()
	_, err := s.Transition("nope", types.CallStatusEnded, types.TransitionFields{}, 1)
	assert.True(t, domain.IsNotFound(err))
}

func TestConcurrentTransitionOnlyOneWins(t *testing.T) {
	s := NewMemoryCallStore()
	require.NoError(t, s.Insert(queuedCall("CALL-1", 100)))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fields := types.TransitionFields{AgentID: types.StringPtr("AI-001"), StartTime: types.Int64Ptr(101)}
			if _, err := s.Transition("CALL-1", types.CallStatusActive, fields, 101); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestListByStatusQueuedIsFIFO(t *testing.T) {
	s := NewMemoryCallStore()
	require.NoError(t, s.Insert(queuedCall("B", 200)))
	require.NoError(t, s.Insert(queuedCall("A", 100)))
	require.NoError(t, s.Insert(queuedCall("C", 200))) // same second as B, inserted later

	queued := s.ListByStatus(types.CallStatusQueued)
	require.Len(t, queued, 3)
	assert.Equal(t, "A", queued[0].ID)
	assert.Equal(t, "B", queued[1].ID)
	assert.Equal(t, "C", queued[2].ID)

	assert.Empty(t, s.ListByStatus(types.CallStatusActive))
}

func TestReactivateKeepsID(t *testing.T) {
	s := NewMemoryCallStore()
	require.NoError(t, s.Insert(queuedCall("CALL-1", 100)))

	_, err := s.Reactivate("CALL-1", "AI-001", 150)
	assert.True(t, domain.IsInvalidTransition(err), "queued call is not a callback candidate")

	_, err = s.Transition("CALL-1", types.CallStatusAbandoned, types.TransitionFields{EndTime: types.Int64Ptr(120)}, 120)
	require.NoError(t, err)

	call, err := s.Reactivate("CALL-1", "AI-001", 150)
	require.NoError(t, err)
	assert.Equal(t, "CALL-1", call.ID)
	assert.Equal(t, types.CallStatusActive, call.Status)
	assert.Equal(t, types.CallKindCallback, call.Kind)
	assert.Equal(t, "AI-001", call.Agent())
	assert.Equal(t, int64(150), *call.StartTime)
	assert.Nil(t, call.EndTime)
	assert.Nil(t, call.ExpectedDurationSeconds)
}

func TestSetExpectedDurationOnlyWhileActive(t *testing.T) {
	s := NewMemoryCallStore()
	require.NoError(t, s.Insert(queuedCall("CALL-1", 100)))

	assert.True(t, domain.IsInvalidTransition(s.SetExpectedDuration("CALL-1", 300, 110)))

	fields := types.TransitionFields{AgentID: types.StringPtr("HUMAN-001"), StartTime: types.Int64Ptr(120)}
	_, err := s.Transition("CALL-1", types.CallStatusActive, fields, 120)
	require.NoError(t, err)

	require.NoError(t, s.SetExpectedDuration("CALL-1", 300, 130))
	assert.True(t, domain.IsInvalidArgument(s.SetExpectedDuration("CALL-1", 0, 130)))

	got, _ := s.Get("CALL-1")
	assert.Equal(t, int64(300), *got.ExpectedDurationSeconds)
}

func TestTranscriptsAndTurns(t *testing.T) {
	s := NewMemoryCallStore()
	require.NoError(t, s.Insert(queuedCall("CALL-1", 100)))

	_, err := s.GetTranscript("CALL-1")
	assert.True(t, domain.IsNotFound(err))

	require.NoError(t, s.SaveTranscript(types.Transcript{CallID: "CALL-1", Transcript: "Agent: hi", Summary: "greeting"}))
	require.NoError(t, s.SaveTranscript(types.Transcript{CallID: "CALL-1", Transcript: "Agent: hello", Summary: "greeting"}))
	got, err := s.GetTranscript("CALL-1")
	require.NoError(t, err)
	assert.Equal(t, "Agent: hello", got.Transcript)

	turns := []types.Turn{{Role: types.TurnRoleAgent, Content: "hi", EstimatedDuration: 5}}
	require.NoError(t, s.SaveTurns("CALL-1", turns))
	turns[0].Content = "mutated"
	assert.Equal(t, "hi", s.GetTurns("CALL-1")[0].Content)

	assert.True(t, domain.IsNotFound(s.SaveTurns("missing", turns)))
}

func TestGetReturnsIndependentCopy(t *testing.T) {
	s := NewMemoryCallStore()
	require.NoError(t, s.Insert(queuedCall("CALL-1", 100)))

	got, _ := s.Get("CALL-1")
	got.Status = types.CallStatusEnded

	again, _ := s.Get("CALL-1")
	assert.Equal(t, types.CallStatusQueued, again.Status)
}

func TestParseDynamoMode(t *testing.T) {
	assert.Equal(t, DynamoModeLocal, ParseDynamoMode("local"))
	assert.Equal(t, DynamoModeAWS, ParseDynamoMode(" AWS "))
	assert.Equal(t, DynamoModeNone, ParseDynamoMode(""))
	assert.Equal(t, DynamoModeNone, ParseDynamoMode("postgres"))
}

func TestNewArchiveDisabled(t *testing.T) {
	archive, err := NewArchive(context.Background(), DynamoConfig{Mode: DynamoModeNone}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &NoopArchive{}, archive)

	records, err := archive.GetCallRecords(context.Background(), "2026-01-01")
	assert.NoError(t, err)
	assert.Empty(t, records)
}
