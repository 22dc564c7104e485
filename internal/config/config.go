package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerURL  string `env:"DUEL_SERVER_URL" envDefault:"http://localhost:3001"`
	PlayerName string `env:"DUEL_PLAYER_NAME" envDefault:"Player"`

	ConnectTimeout    time.Duration `env:"DUEL_CONNECT_TIMEOUT" envDefault:"10s"`
	ReconnectAttempts int           `env:"DUEL_RECONNECT_ATTEMPTS" envDefault:"5"`
	ReconnectDelay    time.Duration `env:"DUEL_RECONNECT_DELAY" envDefault:"1s"`
	CreateJoinGrace   time.Duration `env:"DUEL_CREATE_JOIN_GRACE" envDefault:"15s"`
	OperationGrace    time.Duration `env:"DUEL_OPERATION_GRACE" envDefault:"5s"`

	LogLevel string `env:"DUEL_LOG_LEVEL" envDefault:"info"`
	LogDev   bool   `env:"DUEL_LOG_DEV" envDefault:"false"`

	StatusAddr string `env:"DUEL_STATUS_ADDR"`
	HistoryDSN string `env:"DUEL_HISTORY_DSN"`

	DevServerAddr string        `env:"DUEL_DEVSERVER_ADDR" envDefault:":3001"`
	CountdownFrom int           `env:"DUEL_COUNTDOWN_FROM" envDefault:"3"`
	CountdownTick time.Duration `env:"DUEL_COUNTDOWN_TICK" envDefault:"1s"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load dotenv: %w", err)
	}
	return parse(env.Options{})
}

// FromMap builds a Config from an explicit environment, ignoring the process
// environment. Used by tests and embedders.
func FromMap(environment map[string]string) (Config, error) {
	return parse(env.Options{Environment: environment})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid server url %q", c.ServerURL)
	}
	if c.ReconnectAttempts < 0 {
		return fmt.Errorf("reconnect attempts must be >= 0, got %d", c.ReconnectAttempts)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	return nil
}

// WebSocketURL derives the ws(s) endpoint from the HTTP server URL.
func (c Config) WebSocketURL() string {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	if c.PlayerName != "" {
		q.Set("name", c.PlayerName)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// RoomsURL is the directory snapshot endpoint.
func (c Config) RoomsURL() string {
	return strings.TrimSuffix(c.ServerURL, "/") + "/api/rooms"
}
