package inference

import (
	"context"
	"errors"
	"testing"
)

func TestNewSelectsProvider(t *testing.T) {
	t.Parallel()

	e, err := New(Options{})
	if err != nil || e != nil {
		t.Fatalf("New(empty) = %v, %v; want nil, nil", e, err)
	}
	if _, err := New(Options{Provider: "mlx"}); err == nil {
		t.Fatalf("New(unknown) should fail")
	}
	if _, err := New(Options{Provider: "openai"}); err == nil {
		t.Fatalf("New(openai without key) should fail")
	}

	e, err = New(Options{Provider: "OpenAI", APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New(openai) error = %v", err)
	}
	if _, ok := e.(*OpenAIEngine); !ok {
		t.Fatalf("New(openai) = %T", e)
	}
	e, err = New(Options{Provider: "anthropic", APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("New(anthropic) error = %v", err)
	}
	if _, ok := e.(*AnthropicEngine); !ok {
		t.Fatalf("New(anthropic) = %T", e)
	}
}

func TestGenerateBeforeLoadFails(t *testing.T) {
	t.Parallel()

	e, err := NewOpenAI("sk-test", "http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}
	if e.IsLoaded() {
		t.Fatalf("new engine should be unloaded")
	}
	if _, err := e.Generate(context.Background(), "hi", DefaultGenerateConfig()); !errors.Is(err, ErrModelNotLoaded) {
		t.Fatalf("Generate() error = %v, want ErrModelNotLoaded", err)
	}
}

func TestLoadFailureWrapsModelLoadError(t *testing.T) {
	t.Parallel()

	e, err := NewAnthropic("sk-ant-test", "http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("NewAnthropic() error = %v", err)
	}
	err = e.Load(context.Background(), "")
	var loadErr *ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Load(empty) error = %v, want ModelLoadError", err)
	}
	if e.IsLoaded() {
		t.Fatalf("failed load should leave engine unloaded")
	}
}
