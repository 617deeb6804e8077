package provisioner

import (
	"context"
	"math"
	"strings"

	"github.com/dennisdiepolder/monti/callcenter/internal/types"
)

// Turn duration bounds, in seconds
const (
	minTurnSeconds = 5
	maxTurnSeconds = 15
	wordsPerSecond = 2.5
)

// Fallback expected duration range for conversations without a usable prediction
const (
	FallbackMinSeconds = 600
	FallbackMaxSeconds = 900
)

// Conversation is a generated support dialogue with its timing prediction
type Conversation struct {
	Turns                      []types.Turn `json:"turns"`
	Transcript                 string       `json:"transcript"`
	Summary                    string       `json:"summary"`
	EstimatedTotalDuration     int64        `json:"estimatedTotalDuration"`
	PredictedRemainingDuration int64        `json:"predictedRemainingDuration"`
}

// ExpectedDuration is the predicted remaining time, falling back to the sum
// of turn durations. It is 0 when neither is known.
func (c *Conversation) ExpectedDuration() int64 {
	if c.PredictedRemainingDuration > 0 {
		return c.PredictedRemainingDuration
	}
	return c.EstimatedTotalDuration
}

// Provisioner produces the conversation a call will play out
type Provisioner interface {
	Provision(ctx context.Context, issue string) (*Conversation, error)
}

// EstimateTurnDuration guesses speaking time from word count: 2.5 words a
// second, clamped to [5, 15] seconds
func EstimateTurnDuration(content string) int64 {
	words := len(strings.Fields(content))
	est := int64(math.Ceil(float64(words) / wordsPerSecond))
	if est < minTurnSeconds {
		return minTurnSeconds
	}
	if est > maxTurnSeconds {
		return maxTurnSeconds
	}
	return est
}

// ParseTranscript splits "Agent: ..." / "Customer: ..." lines into turns.
// Every turn carries the same predicted remaining duration.
func ParseTranscript(transcript string, predictedRemaining int64) []types.Turn {
	turns := make([]types.Turn, 0)
	for _, line := range strings.Split(transcript, "\n") {
		line = strings.TrimSpace(line)

		var role types.TurnRole
		var content string
		switch {
		case strings.HasPrefix(line, "Agent:"):
			role = types.TurnRoleAgent
			content = strings.TrimSpace(strings.TrimPrefix(line, "Agent:"))
		case strings.HasPrefix(line, "Customer:"):
			role = types.TurnRoleCustomer
			content = strings.TrimSpace(strings.TrimPrefix(line, "Customer:"))
		default:
			continue
		}

		turns = append(turns, types.Turn{
			Role:                       role,
			Content:                    content,
			EstimatedDuration:          EstimateTurnDuration(content),
			PredictedRemainingDuration: predictedRemaining,
		})
	}
	return turns
}

// RenderTranscript joins turns back into the line format ParseTranscript reads
func RenderTranscript(turns []types.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		speaker := "Customer"
		if t.Role == types.TurnRoleAgent {
			speaker = "Agent"
		}
		lines = append(lines, speaker+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}

// totalDuration sums turn durations
func totalDuration(turns []types.Turn) int64 {
	var total int64
	for _, t := range turns {
		total += t.EstimatedDuration
	}
	return total
}
