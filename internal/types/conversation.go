package types

// TurnRole identifies the speaker of a conversation turn
type TurnRole string

const (
	TurnRoleAgent    TurnRole = "agent"
	TurnRoleCustomer TurnRole = "customer"
)

// Turn is one utterance with its timing prediction
type Turn struct {
	Role                       TurnRole `json:"role"`
	Content                    string   `json:"content"`
	EstimatedDuration          int64    `json:"estimatedDuration"`          // seconds for this turn
	PredictedRemainingDuration int64    `json:"predictedRemainingDuration"` // seconds left after this turn
}

// Transcript holds the generated text for a call
type Transcript struct {
	CallID     string `json:"callId"`
	Transcript string `json:"transcript"`
	Summary    string `json:"summary"`
}

// Progress describes how far a call has advanced through its turns
type Progress struct {
	CallID           string `json:"callId"`
	CurrentTurn      int    `json:"currentTurn"`
	TotalTurns       int    `json:"totalTurns"`
	ElapsedSeconds   int64  `json:"elapsedSeconds"`
	RemainingSeconds *int64 `json:"remainingSeconds"`
	Turns            []Turn `json:"turns"`
}

// CurrentTurnIndex returns the index of the turn being spoken after elapsed seconds.
// It returns len(turns) once every turn has been spoken.
func CurrentTurnIndex(turns []Turn, elapsed int64) int {
	var cumulative int64
	for i, t := range turns {
		cumulative += t.EstimatedDuration
		if elapsed < cumulative {
			return i
		}
	}
	return len(turns)
}
