// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backend names accepted by CHATD_STORE.
const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
)

// Config carries every runtime knob of the chat server. Values come from the
// environment; an optional .env file is loaded by the command before Parse.
type Config struct {
	Addr  string `env:"CHATD_ADDR"  envDefault:":8080"`
	Store string `env:"CHATD_STORE" envDefault:"memory"`

	MongoURI      string        `env:"MONGODB_URI"`
	MongoDatabase string        `env:"MONGODB_DATABASE"    envDefault:"chatd"`
	PollInterval  time.Duration `env:"STORE_POLL_INTERVAL" envDefault:"2s"`

	JWTSecret string        `env:"JWT_SECRET"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	WindowSize    int           `env:"CHAT_WINDOW_SIZE"    envDefault:"30"`
	CacheCapacity int           `env:"CHAT_CACHE_CAPACITY" envDefault:"32"`
	RosterLimit   int           `env:"CHAT_ROSTER_LIMIT"   envDefault:"100"`
	ReadDebounce  time.Duration `env:"CHAT_READ_DEBOUNCE"  envDefault:"400ms"`

	SendPerMinute      int `env:"SEND_RATE_PER_MINUTE"  envDefault:"60"`
	SendBurst          int `env:"SEND_BURST"            envDefault:"10"`
	MaxSessionsPerUser int `env:"MAX_SESSIONS_PER_USER" envDefault:"8"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	switch c.Store {
	case StoreMemory:
	case StoreMongo:
		if c.MongoURI == "" {
			return errors.New("MONGODB_URI must be set when CHATD_STORE is mongo")
		}
	default:
		return fmt.Errorf("unknown CHATD_STORE %q, want %s or %s", c.Store, StoreMemory, StoreMongo)
	}
	for _, n := range []struct {
		name  string
		value int
	}{
		{"CHAT_WINDOW_SIZE", c.WindowSize},
		{"CHAT_CACHE_CAPACITY", c.CacheCapacity},
		{"CHAT_ROSTER_LIMIT", c.RosterLimit},
		{"SEND_RATE_PER_MINUTE", c.SendPerMinute},
		{"SEND_BURST", c.SendBurst},
		{"MAX_SESSIONS_PER_USER", c.MaxSessionsPerUser},
	} {
		if n.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", n.name, n.value)
		}
	}
	if c.ReadDebounce < 0 {
		return fmt.Errorf("CHAT_READ_DEBOUNCE must not be negative, got %s", c.ReadDebounce)
	}
	return nil
}
