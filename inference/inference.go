// Package inference defines the language-model engine consumed by the client
// and adapters for hosted providers.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrModelNotLoaded is returned by Generate before a model was loaded.
var ErrModelNotLoaded = errors.New("model not loaded")

// ModelLoadError wraps a failure to load a model.
type ModelLoadError struct {
	Model string
	Err   error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Model, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// GenerateConfig tunes a single generation.
type GenerateConfig struct {
	Temperature float64
	MaxTokens   int
}

// DefaultGenerateConfig mirrors the on-device defaults.
func DefaultGenerateConfig() GenerateConfig {
	return GenerateConfig{Temperature: 0.7, MaxTokens: 512}
}

// Engine accepts a prompt and returns generated text. It is either loaded
// with a model or unloaded.
type Engine interface {
	IsLoaded() bool
	LoadedModel() string
	Load(ctx context.Context, modelID string) error
	Unload()
	Generate(ctx context.Context, prompt string, cfg GenerateConfig) (string, error)
}

// Options selects and configures an engine.
type Options struct {
	Provider string
	APIKey   string
	APIBase  string
}

// New builds the engine for opts.Provider. An empty provider returns nil.
func New(opts Options) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "":
		return nil, nil
	case "openai":
		return NewOpenAI(opts.APIKey, opts.APIBase)
	case "anthropic":
		return NewAnthropic(opts.APIKey, opts.APIBase)
	}
	return nil, fmt.Errorf("unsupported inference provider: %s", opts.Provider)
}

// loadState tracks the loaded model for an engine.
type loadState struct {
	mu    sync.RWMutex
	model string
}

func (s *loadState) IsLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model != ""
}

func (s *loadState) LoadedModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

func (s *loadState) Unload() {
	s.mu.Lock()
	s.model = ""
	s.mu.Unlock()
}

func (s *loadState) set(model string) {
	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
}

func normalizeConfig(cfg GenerateConfig) GenerateConfig {
	def := DefaultGenerateConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Temperature < 0 {
		cfg.Temperature = def.Temperature
	}
	return cfg
}
