package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full runtime configuration, loaded from the environment
// with a CHATPULSE prefix. A .env file in the working directory is applied
// first when present.
type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Relay     RelayConfig
}

type HTTPConfig struct {
	Host         string        `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	Port         int           `envconfig:"HTTP_PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
}

type DatabaseConfig struct {
	Path           string        `envconfig:"DATABASE_PATH" default:"./chatpulse.db"`
	MaxConnections int           `envconfig:"DATABASE_MAX_CONNECTIONS" default:"10"`
	WriteTimeout   time.Duration `envconfig:"DATABASE_WRITE_TIMEOUT" default:"30s"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `envconfig:"WEBSOCKET_PING_INTERVAL" default:"30s"`
	ReadTimeout  time.Duration `envconfig:"WEBSOCKET_READ_TIMEOUT" default:"60s"`
	WriteTimeout time.Duration `envconfig:"WEBSOCKET_WRITE_TIMEOUT" default:"10s"`
	BufferSize   int           `envconfig:"WEBSOCKET_BUFFER_SIZE" default:"100"`
}

type AuthConfig struct {
	Secret   string        `envconfig:"AUTH_SECRET" default:"dev-only-secret-change-me"`
	TokenTTL time.Duration `envconfig:"AUTH_TOKEN_TTL" default:"720h"`
}

type RelayConfig struct {
	EventRateLimit  int           `envconfig:"RELAY_EVENT_RATE_LIMIT" default:"600"`
	EventRateWindow time.Duration `envconfig:"RELAY_EVENT_RATE_WINDOW" default:"1m"`
}

// Load reads configuration from .env (if present) and the environment.
func Load() (*Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("CHATPULSE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}
	if c.Database.WriteTimeout <= 0 {
		return fmt.Errorf("database write timeout must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket intervals must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		return fmt.Errorf("WebSocket ping interval must be shorter than the read timeout")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth secret cannot be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token TTL must be positive")
	}
	if c.Relay.EventRateLimit <= 0 || c.Relay.EventRateWindow <= 0 {
		return fmt.Errorf("relay rate limit settings must be positive")
	}
	return nil
}
