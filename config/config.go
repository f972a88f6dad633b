package config

import (
	"sync"
	"time"
)

// Config carries the agent connection settings shared across the
// exporter. It is installed once at startup and read-only afterwards.
type Config struct {
	AgentScheme  string
	AgentPort    string
	AgentPath    string
	AgentTimeout time.Duration
	SSLVerify    bool
	User         string
	Pass         string
}

var (
	mu     sync.Mutex
	config *Config
)

// NewConfig installs c as the process wide configuration. Only the
// first call wins, later calls are ignored.
func NewConfig(c *Config) {
	mu.Lock()
	defer mu.Unlock()
	if config != nil {
		return
	}
	if c == nil {
		c = &Config{}
	}
	config = c
}

// GetConfig returns the process wide configuration, installing an empty
// one when NewConfig was never called.
func GetConfig() *Config {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		config = &Config{}
	}
	return config
}
