package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/linanwx/clawlink/bus"
	"github.com/linanwx/clawlink/config"
	"github.com/linanwx/clawlink/inference"
	"github.com/linanwx/clawlink/internal/health"
	"github.com/linanwx/clawlink/logger"
	"github.com/linanwx/clawlink/protocol"
	"github.com/linanwx/clawlink/queue"
	"github.com/linanwx/clawlink/registry"
	"github.com/linanwx/clawlink/secret"
	"github.com/linanwx/clawlink/session"
	"github.com/linanwx/clawlink/storage"
	"github.com/linanwx/clawlink/transport"
)

// clientRuntime holds the collaborators every command builds from config.
type clientRuntime struct {
	cfg     *config.Config
	store   storage.Store
	secrets *secret.Store
	engine  inference.Engine
	reg     *registry.Registry
	queue   *queue.Queue
	bus     *bus.Bus
	session *session.Session
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w\nRun 'clawlink onboard' to initialize", err)
	}
	return cfg, nil
}

// openSecrets opens the storage backend and the encrypted secret store on
// top of it.
func openSecrets(cfg *config.Config) (storage.Store, *secret.Store, error) {
	storePath, err := cfg.StoragePath()
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.Open(cfg.Storage.Driver, storePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	keyPath, err := cfg.KeyPath()
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	secrets, err := secret.Open(store, os.Getenv(config.EnvSecretPassphrase), keyPath)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to open secret store: %w", err)
	}
	return store, secrets, nil
}

func buildRuntime(cfg *config.Config) (*clientRuntime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	store, secrets, err := openSecrets(cfg)
	if err != nil {
		return nil, err
	}

	engine, err := inference.New(inference.Options{
		Provider: cfg.Inference.Provider,
		APIKey:   cfg.Inference.APIKey,
		APIBase:  cfg.Inference.APIBase,
	})
	if err != nil {
		logger.Warn("inference engine unavailable", "provider", cfg.Inference.Provider, "err", err)
		engine = nil
	}

	q := queue.New(store, queue.Options{Key: cfg.Queue.Key, MaxRetries: cfg.Queue.MaxRetries})
	q.Load()

	tr := transport.New(transport.Options{
		Token:          tokenSource(cfg, secrets),
		ConnectTimeout: time.Duration(cfg.Server.ConnectTimeout) * time.Second,
		MaxAttempts:    cfg.Server.MaxReconnectAttempts,
		MaxBackoff:     time.Duration(cfg.Server.MaxBackoff) * time.Second,
	})

	rt := &clientRuntime{
		cfg:     cfg,
		store:   store,
		secrets: secrets,
		engine:  engine,
		reg:     registry.New(),
		queue:   q,
		bus:     bus.NewBus(64),
	}
	rt.session = session.New(session.Options{
		Transport: tr,
		Registry:  rt.reg,
		Queue:     q,
		Bus:       rt.bus,
		Engine:    engine,
		Model:     cfg.Inference.Model,
	})

	err = rt.reg.RegisterBuiltins(registry.Builtins{
		Tasks:  registry.NewTaskBook(),
		Engine: engine,
		Generate: inference.GenerateConfig{
			Temperature: cfg.Inference.Temperature,
			MaxTokens:   cfg.Inference.MaxTokens,
		},
		Health: func() (protocol.Value, error) {
			return health.Collect(health.Options{Session: rt.session, Engine: engine}).Value()
		},
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to register functions: %w", err)
	}
	return rt, nil
}

// tokenSource prefers the environment and falls back to secure storage. A
// missing token dials without an Authorization header.
func tokenSource(cfg *config.Config, secrets *secret.Store) transport.TokenSource {
	return func() (string, error) {
		if v := strings.TrimSpace(os.Getenv(config.EnvToken)); v != "" {
			return v, nil
		}
		token, err := secrets.Token(cfg.Server.TokenService)
		if errors.Is(err, secret.ErrNotFound) {
			return "", nil
		}
		return token, err
	}
}

// waitConnected blocks until the session reports connected, a terminal
// error, or the timeout. It wakes on state transitions rather than polling.
func (rt *clientRuntime) waitConnected(timeout time.Duration) error {
	changed := make(chan struct{}, 1)
	stop := rt.session.Transport().State().Observe(func(_, _ transport.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		state := rt.session.State()
		switch state.Kind {
		case transport.KindConnected:
			return nil
		case transport.KindError:
			if state.Message == transport.ErrMaxReconnect.Error() {
				return transport.ErrMaxReconnect
			}
		}
		select {
		case <-changed:
		case <-timer.C:
			if msg := rt.session.LastError(); msg != "" {
				return fmt.Errorf("not connected after %s: %s", timeout, msg)
			}
			return fmt.Errorf("not connected after %s", timeout)
		}
	}
}

func (rt *clientRuntime) Close() {
	if rt.session != nil {
		rt.session.Close()
	}
	rt.bus.Close()
	if err := rt.store.Close(); err != nil {
		logger.Warn("failed to close storage", "err", err)
	}
}
