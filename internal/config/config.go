package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the relay's process settings. Every field has a default
// that reproduces the plain relay: no connection cap, no idle timeout, no
// rate limit and an in-memory activity feed.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`
	// Path is where upgrades are served when the HTTP server is shared
	// with the operational endpoints.
	Path     string `env:"WS_PATH" envDefault:"/"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	RedisAddr string `env:"REDIS_ADDR"`

	MaxConns        int           `env:"MAX_CONNS" envDefault:"0"`
	// IdleTimeout only counts inbound messages and the relay never pings,
	// so a user waiting for invites is reaped like a dead one. Leave it
	// unset wherever presence matters.
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"0s"`
	ConnRateLimit   int           `env:"CONN_RATE_LIMIT" envDefault:"0"`
	ConnRateWindow  time.Duration `env:"CONN_RATE_WINDOW" envDefault:"1m"`
	ActivitySize    int           `env:"ACTIVITY_SIZE" envDefault:"500"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Addr returns the listen address for Port.
func (c Config) Addr() string {
	return ":" + c.Port
}

// Default returns the configuration with every default applied and the
// environment ignored.
func Default() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load reads the optional dotenv files (".env" when none are given) and
// then parses the environment. Missing dotenv files are not an error.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load dotenv: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env parsing cannot.
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("config: PORT is required")
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("config: WS_PATH %q must start with /", c.Path)
	}
	if c.MaxConns < 0 || c.ConnRateLimit < 0 {
		return errors.New("config: MAX_CONNS and CONN_RATE_LIMIT must not be negative")
	}
	if c.ConnRateLimit > 0 && c.ConnRateWindow <= 0 {
		return errors.New("config: CONN_RATE_WINDOW must be positive when CONN_RATE_LIMIT is set")
	}
	if c.ActivitySize <= 0 {
		return fmt.Errorf("config: ACTIVITY_SIZE must be positive, got %d", c.ActivitySize)
	}
	return nil
}

// SetupLogger installs the process-wide slog handler at the named level.
func SetupLogger(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
