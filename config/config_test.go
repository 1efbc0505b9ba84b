package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileMissingReturnsDefaults(t *testing.T) {
	t.Setenv(EnvServerURL, "")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.MaxReconnectAttempts != 5 || cfg.Server.MaxBackoff != 30 {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Server.TokenService != "openclaw" {
		t.Fatalf("token service = %q", cfg.Server.TokenService)
	}
	if cfg.Queue.Key != "offlineFunctionQueue" || cfg.Storage.Driver != "file" {
		t.Fatalf("unexpected defaults: %+v %+v", cfg.Queue, cfg.Storage)
	}
	if !cfg.LoggingEnabled() || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadFileAppliesDefaultsAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "server:\n  url: ws://example.test/ws\n  keepalive: \"off\"\nstorage:\n  driver: SQLite\ninference:\n  provider: openai\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv(EnvServerURL, "wss://override.test/ws")
	t.Setenv(EnvOpenAIKey, "sk-env")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.URL != "wss://override.test/ws" {
		t.Fatalf("env override not applied: %s", cfg.Server.URL)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("driver = %q", cfg.Storage.Driver)
	}
	if cfg.Inference.APIKey != "sk-env" || cfg.Inference.MaxTokens != 512 {
		t.Fatalf("unexpected inference: %+v", cfg.Inference)
	}
	if cfg.KeepaliveSpec() != "" {
		t.Fatalf("keepalive should be disabled")
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Stdout || !cfg.LoggingEnabled() {
		t.Fatalf("unexpected logging: %+v", cfg.Logging)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"http url": func(c *Config) { c.Server.URL = "http://example.test" },
		"driver":   func(c *Config) { c.Storage.Driver = "redis" },
		"provider": func(c *Config) { c.Inference.Provider = "llama" },
		"schedule": func(c *Config) { c.Schedules = []ScheduleConfig{{ID: "x"}} },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestSaveAndResolvePaths(t *testing.T) {
	dir := t.TempDir()
	SetConfigDir(dir)
	t.Cleanup(func() { SetConfigDir("") })
	t.Setenv(EnvServerURL, "")

	cfg := DefaultConfig()
	cfg.Server.URL = "ws://localhost:8080/ws"
	cfg.Schedules = []ScheduleConfig{{ID: "h", Expr: "@hourly", Function: "health"}}
	if err := cfg.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Server.URL != cfg.Server.URL || len(loaded.Schedules) != 1 {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}

	storage, err := loaded.StoragePath()
	if err != nil || storage != filepath.Join(dir, "data") {
		t.Fatalf("storage path = %q, %v", storage, err)
	}
	loaded.Storage.Path = "/var/lib/clawlink"
	if p, _ := loaded.StoragePath(); p != "/var/lib/clawlink" {
		t.Fatalf("absolute path not kept: %q", p)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	t.Setenv(EnvServerURL, "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  url: ws://a.test\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan *Config, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, func(c *Config) { got <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("server:\n  url: ws://b.test\n"), 0o600); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}

	select {
	case cfg := <-got:
		if cfg.Server.URL != "ws://b.test" {
			t.Fatalf("reloaded url = %q", cfg.Server.URL)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watch did not report the change")
	}
	cancel()
	<-done
}
