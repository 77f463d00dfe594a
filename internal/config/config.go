// Package config loads process settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"

	"github.com/andy6609/termtalk/internal/chat"
)

// Server holds the relay settings.
type Server struct {
	Addr           string        `env:"CHAT_ADDR,default=127.0.0.1:8080"`
	MetricsAddr    string        `env:"CHAT_METRICS_ADDR,default=:9090"`
	IdleTimeout    time.Duration `env:"CHAT_IDLE_TIMEOUT,default=15s"`
	MaxMissedPings int           `env:"CHAT_MAX_MISSED_PINGS,default=3"`
	WriteTimeout   time.Duration `env:"CHAT_WRITE_TIMEOUT,default=10s"`
	LoginTimeout   time.Duration `env:"CHAT_LOGIN_TIMEOUT,default=30s"`
	MaxLineBytes   int           `env:"CHAT_MAX_LINE_BYTES,default=4096"`
	QueueSize      int           `env:"CHAT_QUEUE_SIZE,default=32"`
	LogLevel       string        `env:"LOG_LEVEL,default=info"`
	LogFile        string        `env:"CHAT_LOG_FILE,default=server.log"`
}

// Client holds the peer settings.
type Client struct {
	ServerAddr string `env:"CHAT_SERVER_ADDR,default=127.0.0.1:8080"`
	LogLevel   string `env:"LOG_LEVEL,default=info"`
	LogFile    string `env:"CHAT_CLIENT_LOG_FILE,default=client.log"`
	NoColor    bool   `env:"NO_COLOR,default=false"`
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
}

func LoadServer() (Server, error) {
	loadDotEnv()
	var cfg Server
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Server{}, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func (c Server) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("CHAT_ADDR must not be empty")
	case c.IdleTimeout <= 0:
		return fmt.Errorf("CHAT_IDLE_TIMEOUT must be positive, got %s", c.IdleTimeout)
	case c.QueueSize <= 0:
		return fmt.Errorf("CHAT_QUEUE_SIZE must be positive, got %d", c.QueueSize)
	case c.WriteTimeout < 0:
		return fmt.Errorf("CHAT_WRITE_TIMEOUT must not be negative, got %s", c.WriteTimeout)
	case c.LoginTimeout <= 0:
		return fmt.Errorf("CHAT_LOGIN_TIMEOUT must be positive, got %s", c.LoginTimeout)
	case c.MaxLineBytes <= 0:
		return fmt.Errorf("CHAT_MAX_LINE_BYTES must be positive, got %d", c.MaxLineBytes)
	}
	return nil
}

// Options maps the settings onto the relay.
func (c Server) Options() chat.Options {
	return chat.Options{
		Addr:      c.Addr,
		QueueSize: c.QueueSize,
		Session: chat.SessionConfig{
			IdleTimeout:    c.IdleTimeout,
			MaxMissedPings: c.MaxMissedPings,
			WriteTimeout:   c.WriteTimeout,
			LoginTimeout:   c.LoginTimeout,
			MaxLineBytes:   c.MaxLineBytes,
		},
	}
}

func LoadClient() (Client, error) {
	loadDotEnv()
	var cfg Client
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Client{}, fmt.Errorf("config error: %w", err)
	}
	if cfg.ServerAddr == "" {
		return Client{}, fmt.Errorf("CHAT_SERVER_ADDR must not be empty")
	}
	return cfg, nil
}
