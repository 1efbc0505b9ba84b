package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/linanwx/clawlink/logger"
)

const anthropicAPIBase = "https://api.anthropic.com"

// AnthropicEngine generates text through the Anthropic messages API.
type AnthropicEngine struct {
	loadState
	client anthropic.Client
}

// NewAnthropic creates an engine.
func NewAnthropic(apiKey, apiBase string) (*AnthropicEngine, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}
	if strings.TrimSpace(apiBase) == "" {
		apiBase = anthropicAPIBase
	}
	client := anthropic.NewClient(
		option.WithBaseURL(apiBase),
		option.WithAPIKey(apiKey),
	)
	return &AnthropicEngine{client: client}, nil
}

// Load probes the model with a one-token request; the API has no model
// lookup that also checks access.
func (e *AnthropicEngine) Load(ctx context.Context, modelID string) error {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return &ModelLoadError{Model: modelID, Err: fmt.Errorf("model id is required")}
	}
	_, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return &ModelLoadError{Model: modelID, Err: err}
	}
	e.set(modelID)
	logger.Info("inference model loaded", "provider", "anthropic", "model", modelID)
	return nil
}

func (e *AnthropicEngine) Generate(ctx context.Context, prompt string, cfg GenerateConfig) (string, error) {
	model := e.LoadedModel()
	if model == "" {
		return "", ErrModelNotLoaded
	}
	cfg = normalizeConfig(cfg)
	start := time.Now()

	msg, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(cfg.MaxTokens),
		Temperature: anthropic.Float(cfg.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		logger.Error("anthropic request error", "model", model, "err", err)
		return "", fmt.Errorf("anthropic generate: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	logger.Info("anthropic response",
		"model", model,
		"inputTokens", msg.Usage.InputTokens,
		"outputTokens", msg.Usage.OutputTokens,
		"outputChars", b.Len(),
		"latencyMs", time.Since(start).Milliseconds(),
	)
	return b.String(), nil
}
