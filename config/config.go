// Package config holds env-driven configuration for the sigil binaries.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Server configures the development auth backend.
type Server struct {
	ListenAddr string        `env:"SIGIL_LISTEN_ADDR"  envDefault:":9000"`
	RedisURL   string        `env:"SIGIL_REDIS_URL"    envDefault:"redis://localhost:6379/0"`
	// SigningKey is a hex-encoded SEC1 EC private key for session tokens.
	// A fresh key is generated when empty, invalidating tokens on restart.
	SigningKey  string        `env:"SIGIL_SIGNING_KEY"`
	VerifyDelay time.Duration `env:"SIGIL_VERIFY_DELAY" envDefault:"5s"`
	Debug       bool          `env:"SIGIL_DEBUG"        envDefault:"false"`
}

// Client configures the orchestrator-side binaries.
type Client struct {
	BackendURL   string        `env:"SIGIL_BACKEND_URL"   envDefault:"http://localhost:9000"`
	Scope        string        `env:"SIGIL_SCOPE"         envDefault:"default"`
	TypingWindow time.Duration `env:"SIGIL_TYPING_WINDOW" envDefault:"1s"`
	ChallengeTTL time.Duration `env:"SIGIL_CHALLENGE_TTL" envDefault:"30s"`
	PollInitial  time.Duration `env:"SIGIL_POLL_INITIAL"  envDefault:"2s"`
	PollMax      time.Duration `env:"SIGIL_POLL_MAX"      envDefault:"15s"`
	PollElapsed  time.Duration `env:"SIGIL_POLL_TIMEOUT"  envDefault:"2m"`
}

// LoadServer parses server configuration from the environment.
func LoadServer() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// LoadClient parses client configuration from the environment.
func LoadClient() (Client, error) {
	var cfg Client
	if err := env.Parse(&cfg); err != nil {
		return Client{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
