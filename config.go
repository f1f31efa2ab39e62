package tangguh

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file-loadable mirror of the option surface. Durations are
// in milliseconds to keep YAML plain.
type Config struct {
	ServerURL   string `yaml:"server_url"`
	FallbackURL string `yaml:"fallback_url"`

	EnableStreaming    bool `yaml:"enable_streaming"`
	EnableFallback     bool `yaml:"enable_fallback"`
	EnableReconnection bool `yaml:"enable_reconnection"`
	EnableCaching      bool `yaml:"enable_caching"`

	Reconnect struct {
		MaxAttempts       int     `yaml:"max_attempts"`
		InitialDelayMs    int     `yaml:"initial_delay_ms"`
		MaxDelayMs        int     `yaml:"max_delay_ms"`
		BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	} `yaml:"reconnect"`

	Cache struct {
		MaxEntries   int `yaml:"max_entries"`
		DefaultTTLMs int `yaml:"default_ttl_ms"`
	} `yaml:"cache"`

	Request struct {
		TimeoutMs      int `yaml:"timeout_ms"`
		MaxRetries     int `yaml:"max_retries"`
		PriorityLevels int `yaml:"priority_levels"`
	} `yaml:"request"`

	Probe struct {
		IntervalMs int    `yaml:"interval_ms"`
		Method     string `yaml:"method"`
	} `yaml:"probe"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns a Config matching the constructor defaults.
func DefaultConfig() Config {
	cfg := Config{
		EnableStreaming:    true,
		EnableFallback:     true,
		EnableReconnection: true,
		EnableCaching:      true,
	}
	cfg.Reconnect.MaxAttempts = 10
	cfg.Reconnect.InitialDelayMs = 1000
	cfg.Reconnect.MaxDelayMs = 30000
	cfg.Reconnect.BackoffMultiplier = 1.5
	cfg.Cache.MaxEntries = 256
	cfg.Cache.DefaultTTLMs = 300000
	cfg.Request.TimeoutMs = 30000
	cfg.Request.MaxRetries = 3
	cfg.Request.PriorityLevels = 3
	cfg.Probe.Method = "ping"
	return cfg
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// FromConfig converts a Config into a single Option applying the whole
// surface.
func FromConfig(cfg Config) Option {
	return func(c *Client) {
		if cfg.EnableStreaming {
			c.serverURL = cfg.ServerURL
		}
		if cfg.EnableFallback {
			c.fallbackURL = cfg.FallbackURL
		}

		c.enableReconnect = cfg.EnableReconnection
		if cfg.EnableReconnection {
			c.reconnectCfg = ReconnectConfig{
				MaxAttempts:  cfg.Reconnect.MaxAttempts,
				InitialDelay: time.Duration(cfg.Reconnect.InitialDelayMs) * time.Millisecond,
				MaxDelay:     time.Duration(cfg.Reconnect.MaxDelayMs) * time.Millisecond,
				Multiplier:   cfg.Reconnect.BackoffMultiplier,
			}
		}

		if cfg.EnableCaching {
			c.cacheMaxEntries = cfg.Cache.MaxEntries
			c.cacheTTL = time.Duration(cfg.Cache.DefaultTTLMs) * time.Millisecond
			c.cache = NewLRUCache(cfg.Cache.MaxEntries)
		}

		if cfg.Request.TimeoutMs > 0 {
			c.timeout = time.Duration(cfg.Request.TimeoutMs) * time.Millisecond
		}
		if cfg.Request.MaxRetries >= 0 {
			c.maxRetries = cfg.Request.MaxRetries
		}
		if cfg.Request.PriorityLevels > 0 {
			c.priorityLevels = cfg.Request.PriorityLevels
		}

		if cfg.Probe.IntervalMs > 0 {
			c.probeInterval = time.Duration(cfg.Probe.IntervalMs) * time.Millisecond
			if cfg.Probe.Method != "" {
				c.probeMethod = cfg.Probe.Method
			}
		}

		if cfg.LogLevel != "" {
			if c.debug == nil {
				c.debug = DefaultDebugConfig()
			}
			c.debug.Enabled = true
			c.logger = NewConsoleZerologLogger(cfg.LogLevel)
		}
	}
}
