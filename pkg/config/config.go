// Package config loads A2A Settlement Exchange settings from the
// environment. Everything except the API key has a working sandbox default.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Networks the exchange operates. The selector is a closed set; anything else
// is a configuration error.
const (
	NetworkSandbox = "sandbox"
	NetworkMainnet = "mainnet"
	NetworkDevnet  = "devnet"
)

type Config struct {
	ExchangeURL    string `env:"A2ASE_EXCHANGE_URL" envDefault:"https://sandbox.a2a-se.dev"`
	APIKey         string `env:"A2ASE_API_KEY"`
	Network        string `env:"A2ASE_NETWORK" envDefault:"sandbox"`
	TimeoutSeconds int    `env:"A2ASE_TIMEOUT" envDefault:"30"`
	AutoRegister   bool   `env:"A2ASE_AUTO_REGISTER" envDefault:"true"`

	// DatabaseURL is only needed when the transcript archive is in use.
	DatabaseURL string `env:"DATABASE_URL"`

	// Tracing is opt-in; see pkg/telemetry.
	OTelEndpoint string `env:"A2ASE_OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"A2ASE_OTEL_ENABLED" envDefault:"true"`
}

// Load reads configuration from the environment, after loading a .env file
// when one is present (missing .env is not an error).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the closed network set and timeout bounds. The API key is
// deliberately not checked here; exchange.Initialize enforces it so the
// failure surfaces as an auth error at the settlement boundary.
func (c *Config) Validate() error {
	switch c.Network {
	case NetworkSandbox, NetworkMainnet, NetworkDevnet:
	default:
		return fmt.Errorf("config: network must be one of sandbox, mainnet, devnet; got %q", c.Network)
	}
	if c.TimeoutSeconds < 1 || c.TimeoutSeconds > 300 {
		return fmt.Errorf("config: A2ASE_TIMEOUT must be between 1 and 300 seconds; got %d", c.TimeoutSeconds)
	}
	return nil
}

// Timeout returns the HTTP timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
