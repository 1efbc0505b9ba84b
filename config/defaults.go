package config

import (
	"os"
	"strings"
)

const (
	defaultConnectTimeout = 30
	defaultMaxAttempts    = 5
	defaultMaxBackoff     = 30
	defaultTokenService   = "openclaw"
	defaultKeepalive      = "@every 30s"
	defaultStorageDriver  = "file"
	defaultStoragePath    = "data"
	defaultQueueKey       = "offlineFunctionQueue"
	defaultTemperature    = 0.7
	defaultMaxTokens      = 512
)

// Environment overrides.
const (
	EnvServerURL        = "CLAWLINK_SERVER_URL"
	EnvToken            = "CLAWLINK_TOKEN"
	EnvSecretPassphrase = "CLAWLINK_SECRET_PASSPHRASE"
	EnvOpenAIKey        = "OPENAI_API_KEY"
	EnvAnthropicKey     = "ANTHROPIC_API_KEY"
)

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ConnectTimeout:       defaultConnectTimeout,
			MaxReconnectAttempts: defaultMaxAttempts,
			MaxBackoff:           defaultMaxBackoff,
			TokenService:         defaultTokenService,
			Keepalive:            defaultKeepalive,
		},
		Storage: StorageConfig{
			Driver: defaultStorageDriver,
			Path:   defaultStoragePath,
		},
		Queue: QueueConfig{
			Key: defaultQueueKey,
		},
		Inference: InferenceConfig{
			Temperature: defaultTemperature,
			MaxTokens:   defaultMaxTokens,
		},
		Logging: defaultLoggingConfig(),
	}
}

func defaultLoggingConfig() LoggingConfig {
	enabled := true
	return LoggingConfig{
		Enabled: &enabled,
		Level:   "info",
		Stdout:  true,
		File:    "logs/clawlink.log",
	}
}

func (c *Config) applyDefaults() {
	if c.Server.ConnectTimeout <= 0 {
		c.Server.ConnectTimeout = defaultConnectTimeout
	}
	if c.Server.MaxReconnectAttempts <= 0 {
		c.Server.MaxReconnectAttempts = defaultMaxAttempts
	}
	if c.Server.MaxBackoff <= 0 {
		c.Server.MaxBackoff = defaultMaxBackoff
	}
	if c.Server.TokenService == "" {
		c.Server.TokenService = defaultTokenService
	}
	if c.Server.Keepalive == "" {
		c.Server.Keepalive = defaultKeepalive
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = defaultStorageDriver
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
	if c.Queue.Key == "" {
		c.Queue.Key = defaultQueueKey
	}
	if c.Inference.Temperature == 0 {
		c.Inference.Temperature = defaultTemperature
	}
	if c.Inference.MaxTokens <= 0 {
		c.Inference.MaxTokens = defaultMaxTokens
	}

	def := defaultLoggingConfig()
	if c.Logging == (LoggingConfig{}) {
		c.Logging = def
		return
	}

	hasAny := c.Logging.Level != "" || c.Logging.File != "" || c.Logging.Stdout
	if c.Logging.Enabled == nil && hasAny {
		enabled := true
		c.Logging.Enabled = &enabled
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Level
	}
	if !c.Logging.Stdout && c.Logging.File == "" {
		c.Logging.Stdout = def.Stdout
	}
	if c.Logging.Enabled == nil {
		c.Logging.Enabled = def.Enabled
	}
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvServerURL)); v != "" {
		c.Server.URL = v
	}
	if c.Inference.APIKey != "" {
		return
	}
	switch strings.ToLower(c.Inference.Provider) {
	case "openai":
		c.Inference.APIKey = os.Getenv(EnvOpenAIKey)
	case "anthropic":
		c.Inference.APIKey = os.Getenv(EnvAnthropicKey)
	}
}
