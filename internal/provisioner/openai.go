package provisioner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dennisdiepolder/monti/callcenter/internal/types"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

const conversationPrompt = `You write realistic phone conversations between a support agent and a customer.
The customer is calling about: %s
The call is already in progress. Write the next 6 to 12 turns, alternating between agent and customer.
Respond with JSON only, in this shape:
{"turns":[{"role":"agent"|"customer","content":"...","estimatedDuration":<seconds to speak this turn>,"predictedRemainingDuration":<seconds left in the call after this turn>}]}`

const summaryPrompt = "Summarize this support call in one or two sentences.\n\n%s"

// OpenAIConfig configures the OpenAI provisioner
type OpenAIConfig struct {
	APIKey      string
	Model       string  // default: gpt-4o-mini
	BaseURL     string  // optional, for proxies and tests
	Temperature float32 // default: 0.8
	MaxTokens   int     // default: 1500
}

// OpenAIProvisioner generates conversations with a chat completion model
type OpenAIProvisioner struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      zerolog.Logger
}

// NewOpenAIProvisioner creates an OpenAI backed provisioner
func NewOpenAIProvisioner(cfg OpenAIConfig, logger zerolog.Logger) *OpenAIProvisioner {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.8
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1500
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvisioner{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger.With().Str("component", "openai_provisioner").Logger(),
	}
}

type generatedConversation struct {
	Turns []types.Turn `json:"turns"`
}

// Provision implements Provisioner
func (p *OpenAIProvisioner) Provision(ctx context.Context, issue string) (*Conversation, error) {
	start := time.Now()

	content, err := p.complete(ctx, fmt.Sprintf(conversationPrompt, issue), true)
	if err != nil {
		return nil, fmt.Errorf("failed to generate conversation: %w", err)
	}

	var generated generatedConversation
	if err := json.Unmarshal([]byte(content), &generated); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	turns, err := normalizeTurns(generated.Turns)
	if err != nil {
		return nil, err
	}

	conv := &Conversation{
		Turns:                      turns,
		Transcript:                 RenderTranscript(turns),
		EstimatedTotalDuration:     totalDuration(turns),
		PredictedRemainingDuration: turns[len(turns)-1].PredictedRemainingDuration,
	}

	// A missing summary does not fail the conversation
	summary, err := p.complete(ctx, fmt.Sprintf(summaryPrompt, conv.Transcript), false)
	if err != nil {
		p.logger.Warn().Err(err).Str("issue", issue).Msg("failed to summarize conversation")
		summary = issue
	}
	conv.Summary = strings.TrimSpace(summary)

	p.logger.Debug().
		Str("issue", issue).
		Int("turns", len(turns)).
		Int64("predicted_remaining", conv.PredictedRemainingDuration).
		Dur("duration", time.Since(start)).
		Msg("conversation generated")

	return conv, nil
}

func (p *OpenAIProvisioner) complete(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response from openai")
	}
	return resp.Choices[0].Message.Content, nil
}

// normalizeTurns drops unusable turns and fills in missing durations
func normalizeTurns(raw []types.Turn) ([]types.Turn, error) {
	turns := make([]types.Turn, 0, len(raw))
	for _, t := range raw {
		t.Role = types.TurnRole(strings.ToLower(string(t.Role)))
		t.Content = strings.TrimSpace(t.Content)
		if t.Content == "" || (t.Role != types.TurnRoleAgent && t.Role != types.TurnRoleCustomer) {
			continue
		}
		if t.EstimatedDuration <= 0 {
			t.EstimatedDuration = EstimateTurnDuration(t.Content)
		}
		if t.PredictedRemainingDuration < 0 {
			t.PredictedRemainingDuration = 0
		}
		turns = append(turns, t)
	}
	if len(turns) == 0 {
		return nil, errors.New("generated conversation has no usable turns")
	}
	return turns, nil
}
