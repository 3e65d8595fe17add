package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Config struct {
	LogLines          int    `json:"log_lines"`
	LogsDir           string `json:"logs_dir"`
	RecentDir         string `json:"recent_dir"`
	LogLevel          string `json:"log_level"`
	ReceiveTimeoutMs  int    `json:"receive_timeout_ms"`
	ResponseTimeoutMs int    `json:"response_timeout_ms"`
	ReadBuffer        int    `json:"read_buffer"`
	MetricsAddr       string `json:"metrics_addr"`
}

var (
	defaultConfig *Config
	once          sync.Once
)

func Default() *Config {
	return &Config{
		LogLines:          1000,
		LogsDir:           "logs",
		RecentDir:         "recent",
		LogLevel:          "info",
		ReceiveTimeoutMs:  30000,
		ResponseTimeoutMs: 30000,
		ReadBuffer:        4096,
	}
}

func (c *Config) ReceiveTimeout() time.Duration {
	return time.Duration(c.ReceiveTimeoutMs) * time.Millisecond
}

// ResponseTimeout is zero when responders should wait forever.
func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.ResponseTimeoutMs) * time.Millisecond
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		// Try default locations
		defaultPaths := []string{
			"devsim.json",
			".devsim.json",
			filepath.Join(os.Getenv("HOME"), ".config", "devsim", "config.json"),
		}

		for _, p := range defaultPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}

		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults replaces zero values, except response_timeout_ms where a
// negative value disables the responder timeout.
func (c *Config) applyDefaults() {
	def := Default()
	if c.LogLines <= 0 {
		c.LogLines = def.LogLines
	}
	if c.LogsDir == "" {
		c.LogsDir = def.LogsDir
	}
	if c.RecentDir == "" {
		c.RecentDir = def.RecentDir
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.ReceiveTimeoutMs <= 0 {
		c.ReceiveTimeoutMs = def.ReceiveTimeoutMs
	}
	if c.ResponseTimeoutMs == 0 {
		c.ResponseTimeoutMs = def.ResponseTimeoutMs
	} else if c.ResponseTimeoutMs < 0 {
		c.ResponseTimeoutMs = 0
	}
	if c.ReadBuffer <= 0 {
		c.ReadBuffer = def.ReadBuffer
	}
}

// LoadDefault loads the config once and caches it
func LoadDefault() (*Config, error) {
	var err error
	once.Do(func() {
		defaultConfig, err = Load("")
	})
	if err != nil {
		return Default(), err
	}
	return defaultConfig, nil
}
