// Package config handles configuration loading and saving.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/linanwx/clawlink/logger"
)

const (
	configFileName = "config.yaml"
	configDirName  = ".clawlink"
)

var configDirOverride string

// SetConfigDir overrides the config directory for the current process.
// Empty value clears the override.
func SetConfigDir(dir string) {
	configDirOverride = strings.TrimSpace(dir)
}

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server" yaml:"server"`
	Storage   StorageConfig    `json:"storage" yaml:"storage"`
	Queue     QueueConfig      `json:"queue" yaml:"queue"`
	Inference InferenceConfig  `json:"inference,omitempty" yaml:"inference,omitempty"`
	Logging   LoggingConfig    `json:"logging,omitempty" yaml:"logging,omitempty"`
	Schedules []ScheduleConfig `json:"schedules,omitempty" yaml:"schedules,omitempty"`
}

// ServerConfig describes the command server connection.
type ServerConfig struct {
	URL                  string `json:"url" yaml:"url"`                                   // ws:// or wss://
	ConnectTimeout       int    `json:"connectTimeout" yaml:"connectTimeout"`             // seconds
	MaxReconnectAttempts int    `json:"maxReconnectAttempts" yaml:"maxReconnectAttempts"` // defaults to 5
	MaxBackoff           int    `json:"maxBackoff" yaml:"maxBackoff"`                     // seconds, defaults to 30
	TokenService         string `json:"tokenService" yaml:"tokenService"`                 // secure storage service name
	Keepalive            string `json:"keepalive" yaml:"keepalive"`                       // cron spec, "off" disables
}

// StorageConfig selects the stable storage backend.
type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"` // file or sqlite
	Path   string `json:"path" yaml:"path"`     // relative to the config dir
}

// QueueConfig tunes the offline queue.
type QueueConfig struct {
	Key        string `json:"key" yaml:"key"`
	MaxRetries int    `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"` // 0 = unlimited
}

// InferenceConfig selects the language model engine. An empty provider
// disables generate_text.
type InferenceConfig struct {
	Provider    string  `json:"provider,omitempty" yaml:"provider,omitempty"` // openai, anthropic
	APIKey      string  `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	APIBase     string  `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	Model       string  `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"` // defaults to 0.7
	MaxTokens   int     `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`     // defaults to 512
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Level   string `json:"level,omitempty" yaml:"level,omitempty"`   // debug, info, warn, error
	Stdout  bool   `json:"stdout,omitempty" yaml:"stdout,omitempty"` // log to stdout
	File    string `json:"file,omitempty" yaml:"file,omitempty"`     // log file path
}

// ScheduleConfig is a recurring local function call.
type ScheduleConfig struct {
	ID         string         `json:"id" yaml:"id"`
	Expr       string         `json:"expr" yaml:"expr"`
	Function   string         `json:"function" yaml:"function"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// ConfigDir returns the configuration directory, ~/.clawlink unless
// overridden.
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, configDirName), nil
}

// ConfigPath returns the path of config.yaml.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// Load reads config.yaml, applies defaults and environment overrides. A
// missing file yields the defaults.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads the config at path.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.applyDefaults()
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to config.yaml.
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// SaveFile writes the config to path through a temp file.
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Validate checks values defaults cannot repair.
func (c *Config) Validate() error {
	if u := c.Server.URL; u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		return fmt.Errorf("server.url must start with ws:// or wss://, got %q", u)
	}
	switch strings.ToLower(c.Storage.Driver) {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver)
	}
	switch strings.ToLower(c.Inference.Provider) {
	case "", "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported inference.provider %q", c.Inference.Provider)
	}
	for _, s := range c.Schedules {
		if s.ID == "" || s.Expr == "" || s.Function == "" {
			return fmt.Errorf("schedule entries need id, expr and function")
		}
	}
	return nil
}

// StoragePath resolves Storage.Path against the config dir.
func (c *Config) StoragePath() (string, error) {
	return c.resolve(c.Storage.Path)
}

// KeyPath is the random secret key file used when no passphrase is set.
func (c *Config) KeyPath() (string, error) {
	return c.resolve("secret.key")
}

// CronStorePath is where persisted scheduled calls live.
func (c *Config) CronStorePath() (string, error) {
	return c.resolve("cron.yaml")
}

func (c *Config) resolve(p string) (string, error) {
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, p[2:]), nil
	}
	if filepath.IsAbs(p) {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, p), nil
}

// LoggingEnabled reports whether logging is on.
func (c *Config) LoggingEnabled() bool {
	return c.Logging.Enabled == nil || *c.Logging.Enabled
}

// BuildLoggerConfig converts the logging section for logger.Init.
func (c *Config) BuildLoggerConfig() logger.Config {
	return logger.Config{
		Enabled: c.LoggingEnabled(),
		Level:   c.Logging.Level,
		Stdout:  c.Logging.Stdout,
		File:    c.Logging.File,
	}
}

// KeepaliveSpec returns the keepalive cron spec, empty when disabled.
func (c *Config) KeepaliveSpec() string {
	if strings.EqualFold(strings.TrimSpace(c.Server.Keepalive), "off") {
		return ""
	}
	return c.Server.Keepalive
}
