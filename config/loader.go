package config

// loader.go - configuration loading from YAML files and environment.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables
//   3. YAML config file
//   4. Defaults   (defaults.go)

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ── YAML file ────────────────────────────────────────────────────────

var envVarPattern = regexp.MustCompile(`\${([^}]+)}`)

// LoadFile overlays the YAML document at path onto cfg.  Keys absent
// from the file keep their current value.  ${VAR} references are
// expanded and an unset variable is an error.
func LoadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	expanded, err := ExpandEnvStrict(string(raw))
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ConfigFile = path
	return nil
}

// ExpandEnvStrict expands ${VAR} references, failing on any variable
// that is not set.
func ExpandEnvStrict(s string) (string, error) {
	for _, m := range envVarPattern.FindAllStringSubmatch(s, -1) {
		if _, ok := os.LookupEnv(m[1]); !ok {
			return "", fmt.Errorf("environment variable %s is not set", m[1])
		}
	}
	return os.ExpandEnv(s), nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the LOGSOCK_ prefix.  Boolean values
// accept "1", "true", "yes" and "0", "false", "no" (case-insensitive).
// Durations accept Go syntax ("1500ms") or a bare number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty,
// parseable env vars override the existing value.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("LOGSOCK_BIND"); v != "" {
		cfg.BindAddress = v
	}
	if v, ok := envInt("LOGSOCK_PORT"); ok {
		cfg.Port = v
	}
	if v, ok := envInt("LOGSOCK_BIND_ATTEMPTS"); ok {
		cfg.BindAttempts = v
	}

	// Shared log
	if v := os.Getenv("LOGSOCK_BACKEND"); v != "" {
		cfg.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("LOGSOCK_DATA_FILE"); v != "" {
		cfg.DataFile = v
	}
	if v := os.Getenv("LOGSOCK_WAL_DIR"); v != "" {
		cfg.WALDir = v
	}
	envBool("LOGSOCK_KEEP_OPEN", &cfg.KeepOpen)
	envBool("LOGSOCK_TRUNCATE", &cfg.Truncate)
	envBool("LOGSOCK_FSYNC", &cfg.Fsync)
	envBool("LOGSOCK_REMOVE_ON_EXIT", &cfg.RemoveOnExit)

	// Tasks
	envDuration("LOGSOCK_TIMESTAMP_INTERVAL", &cfg.TimestampInterval)
	envDuration("LOGSOCK_IDLE_TIMEOUT", &cfg.IdleTimeout)
	envDuration("LOGSOCK_DRAIN_TIMEOUT", &cfg.DrainTimeout)

	// Output
	if v := os.Getenv("LOGSOCK_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v, ok := envInt("LOGSOCK_VERBOSE"); ok && v >= 0 {
		cfg.Verbose = v
	}
}

// EnvConfigFile returns the config file named by LOGSOCK_CONFIG.
func EnvConfigFile() string { return os.Getenv("LOGSOCK_CONFIG") }

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string, dst *bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		*dst = true
	case "0", "false", "no":
		*dst = false
	}
}

func envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if sec, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(sec) * time.Second
	}
}
