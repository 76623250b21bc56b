// Package config defines the runtime configuration for logsock and the
// layered loaders that fill it: defaults, a YAML file, environment
// variables and finally CLI flags.
package config

import (
	"fmt"
	"time"

	errs "logsock/internal/errors"
	"logsock/util"
)

// Config holds every tuneable for a logsock server.
type Config struct {
	// ── Listener ─────────────────────────────────────────────────────
	BindAddress  string `yaml:"bind"`
	Port         int    `yaml:"port"`
	BindAttempts int    `yaml:"bind-attempts"`

	// ── Shared log ───────────────────────────────────────────────────
	Backend      string `yaml:"backend"` // file, wal or memory
	DataFile     string `yaml:"data-file"`
	WALDir       string `yaml:"wal-dir"`
	KeepOpen     bool   `yaml:"keep-open"`
	Truncate     bool   `yaml:"truncate"`
	Fsync        bool   `yaml:"fsync"`
	RemoveOnExit bool   `yaml:"remove-on-exit"`

	// ── Tasks ────────────────────────────────────────────────────────
	TimestampInterval time.Duration `yaml:"timestamp-interval"`
	IdleTimeout       time.Duration `yaml:"idle-timeout"`
	DrainTimeout      time.Duration `yaml:"drain-timeout"` // 0 = wait forever

	// ── Output ───────────────────────────────────────────────────────
	MetricsAddr string `yaml:"metrics-addr"`
	Verbose     int    `yaml:"verbose"`

	// ConfigFile is the YAML file the values were loaded from, if any.
	ConfigFile string `yaml:"-"`
}

// Address returns the listen address, "host:port".
func (c *Config) Address() string {
	return util.FormatAddr(c.BindAddress, c.Port)
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return &errs.ConfigError{
			Field:   "port",
			Value:   c.Port,
			Message: "out of range 0-65535",
			Hint:    fmt.Sprintf("the conventional port is %d", DefaultPort),
		}
	}
	if c.BindAttempts < 1 {
		return &errs.ConfigError{
			Field:   "bind-attempts",
			Value:   c.BindAttempts,
			Message: "must be at least 1",
		}
	}

	switch c.Backend {
	case BackendFile:
		if c.DataFile == "" {
			return &errs.ConfigError{
				Field:   "data-file",
				Message: "required with --backend=file",
				Hint:    "try --data-file " + DefaultDataFile,
			}
		}
	case BackendWAL:
		if c.WALDir == "" {
			return &errs.ConfigError{
				Field:   "wal-dir",
				Message: "required with --backend=wal",
			}
		}
	case BackendMemory:
		if c.RemoveOnExit {
			return &errs.ConfigError{
				Field:   "remove-on-exit",
				Value:   true,
				Message: "has no effect with --backend=memory",
			}
		}
	default:
		return &errs.ConfigError{
			Field:   "backend",
			Value:   c.Backend,
			Message: "unknown backend",
			Hint:    "use one of: file, wal, memory",
		}
	}

	if c.TimestampInterval <= 0 {
		return &errs.ConfigError{
			Field:   "timestamp-interval",
			Value:   c.TimestampInterval,
			Message: "must be positive",
			Hint:    "e.g. --timestamp-interval 10s",
		}
	}
	if c.IdleTimeout < 0 {
		return &errs.ConfigError{Field: "idle-timeout", Value: c.IdleTimeout, Message: "must not be negative"}
	}
	if c.DrainTimeout < 0 {
		return &errs.ConfigError{Field: "drain-timeout", Value: c.DrainTimeout, Message: "must not be negative"}
	}
	return nil
}
