package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server      ServerConfig      `toml:"server"`
	Mods        ModsConfig        `toml:"mods"`
	Loop        LoopConfig        `toml:"loop"`
	Logging     LoggingConfig     `toml:"logging"`
	Diagnostics DiagnosticsConfig `toml:"diagnostics"`
	Console     ConsoleConfig     `toml:"console"`
	Tracing     TracingConfig     `toml:"tracing"`
}

type ServerConfig struct {
	Name      string `toml:"name" env:"MODBUS_NAME"`
	StartTime int64  // set at boot, not from config
}

type ModsConfig struct {
	Dir   string `toml:"dir" env:"MODBUS_MODS_DIR"`
	Watch bool   `toml:"watch" env:"MODBUS_MODS_WATCH"` // reload mods when their files change
}

type LoopConfig struct {
	TickRate time.Duration `toml:"tick_rate" env:"MODBUS_TICK_RATE"`
}

type LoggingConfig struct {
	Level  string `toml:"level" env:"MODBUS_LOG_LEVEL"`
	Format string `toml:"format" env:"MODBUS_LOG_FORMAT"` // "json" or "console"
}

// DiagnosticsConfig controls persisting bus diagnostics to a database.
type DiagnosticsConfig struct {
	Enabled         bool          `toml:"enabled" env:"MODBUS_DIAG_ENABLED"`
	Driver          string        `toml:"driver" env:"MODBUS_DIAG_DRIVER"` // "postgres" or "sqlite"
	DSN             string        `toml:"dsn" env:"MODBUS_DIAG_DSN"`
	Level           string        `toml:"level" env:"MODBUS_DIAG_LEVEL"`
	BufferSize      int           `toml:"buffer_size"`
	FlushInterval   int           `toml:"flush_interval"` // ticks
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

type ConsoleConfig struct {
	Enabled     bool   `toml:"enabled" env:"MODBUS_CONSOLE"`
	Prompt      string `toml:"prompt"`
	HistoryFile string `toml:"history_file"`
}

// TracingConfig enables OTLP/HTTP trace export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string `toml:"endpoint" env:"MODBUS_OTEL_ENDPOINT"`
	ServiceName string `toml:"service_name"`
}

// Load reads the TOML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Loop.TickRate <= 0 {
		return fmt.Errorf("loop.tick_rate must be positive, got %s", c.Loop.TickRate)
	}
	if c.Diagnostics.Enabled {
		switch c.Diagnostics.Driver {
		case "postgres", "sqlite":
		default:
			return fmt.Errorf("diagnostics.driver %q: want postgres or sqlite", c.Diagnostics.Driver)
		}
		if c.Diagnostics.DSN == "" {
			return fmt.Errorf("diagnostics.dsn is required when diagnostics are enabled")
		}
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "modbus",
		},
		Mods: ModsConfig{
			Dir:   "mods",
			Watch: false,
		},
		Loop: LoopConfig{
			TickRate: 100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Diagnostics: DiagnosticsConfig{
			Enabled:         false,
			Driver:          "sqlite",
			DSN:             "data/diagnostics.db",
			Level:           "info",
			BufferSize:      4096,
			FlushInterval:   50, // 50 ticks × 100ms = 5 seconds
			MaxOpenConns:    4,
			MaxIdleConns:    1,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Console: ConsoleConfig{
			Enabled:     true,
			Prompt:      "modbus> ",
			HistoryFile: ".modbus_history",
		},
		Tracing: TracingConfig{
			ServiceName: "modbus",
		},
	}
}
