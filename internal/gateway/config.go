package gateway

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway's file configuration. Database credentials stay in
// the environment; the file carries tuning knobs that differ per deployment.
type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		ReadTimeout    duration `yaml:"read_timeout"`
		WriteTimeout   duration `yaml:"write_timeout"`
		IdleTimeout    duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`

	WebSocket struct {
		PingInterval   duration `yaml:"ping_interval"`
		ReadTimeout    duration `yaml:"read_timeout"`
		WriteTimeout   duration `yaml:"write_timeout"`
		MaxMessageSize int64    `yaml:"max_message_size"`
	} `yaml:"websocket"`
}

// duration lets yaml carry values like "30s".
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = duration(parsed)
	return nil
}

func (d duration) Std() time.Duration { return time.Duration(d) }

// DefaultGatewayConfig returns the config used when no file is present.
func DefaultGatewayConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Server.ReadTimeout = duration(10 * time.Second)
	cfg.Server.WriteTimeout = duration(10 * time.Second)
	cfg.Server.IdleTimeout = duration(120 * time.Second)
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.WebSocket.PingInterval = duration(30 * time.Second)
	cfg.WebSocket.ReadTimeout = duration(60 * time.Second)
	cfg.WebSocket.WriteTimeout = duration(10 * time.Second)
	cfg.WebSocket.MaxMessageSize = 4096
	return cfg
}

// LoadConfig reads a yaml config file, falling back to defaults for any
// field left unset.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultGatewayConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ConnectionConfigFrom maps the file config onto WebSocket settings.
func (c *Config) ConnectionConfigFrom() ConnectionConfig {
	cfg := DefaultConnectionConfig()
	if c.WebSocket.PingInterval > 0 {
		cfg.PingInterval = c.WebSocket.PingInterval.Std()
	}
	if c.WebSocket.ReadTimeout > 0 {
		cfg.ReadTimeout = c.WebSocket.ReadTimeout.Std()
	}
	if c.WebSocket.WriteTimeout > 0 {
		cfg.WriteTimeout = c.WebSocket.WriteTimeout.Std()
	}
	if c.WebSocket.MaxMessageSize > 0 {
		cfg.MaxMessageSize = c.WebSocket.MaxMessageSize
	}
	return cfg
}
