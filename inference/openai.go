package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linanwx/clawlink/logger"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const openAIAPIBase = "https://api.openai.com/v1"

// OpenAIEngine generates text through the OpenAI chat completions API.
type OpenAIEngine struct {
	loadState
	client openai.Client
}

// NewOpenAI creates an engine. Loading a model verifies it exists.
func NewOpenAI(apiKey, apiBase string) (*OpenAIEngine, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if strings.TrimSpace(apiBase) == "" {
		apiBase = openAIAPIBase
	}
	client := openai.NewClient(
		option.WithBaseURL(apiBase),
		option.WithAPIKey(apiKey),
	)
	return &OpenAIEngine{client: client}, nil
}

func (e *OpenAIEngine) Load(ctx context.Context, modelID string) error {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return &ModelLoadError{Model: modelID, Err: fmt.Errorf("model id is required")}
	}
	if _, err := e.client.Models.Get(ctx, modelID); err != nil {
		return &ModelLoadError{Model: modelID, Err: err}
	}
	e.set(modelID)
	logger.Info("inference model loaded", "provider", "openai", "model", modelID)
	return nil
}

func (e *OpenAIEngine) Generate(ctx context.Context, prompt string, cfg GenerateConfig) (string, error) {
	model := e.LoadedModel()
	if model == "" {
		return "", ErrModelNotLoaded
	}
	cfg = normalizeConfig(cfg)
	start := time.Now()

	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature:         openai.Float(cfg.Temperature),
		MaxCompletionTokens: openai.Int(int64(cfg.MaxTokens)),
	})
	if err != nil {
		logger.Error("openai request error", "model", model, "err", err)
		return "", fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai generate: empty response")
	}

	text := resp.Choices[0].Message.Content
	logger.Info("openai response",
		"model", model,
		"promptTokens", resp.Usage.PromptTokens,
		"completionTokens", resp.Usage.CompletionTokens,
		"outputChars", len(text),
		"latencyMs", time.Since(start).Milliseconds(),
	)
	return text, nil
}
