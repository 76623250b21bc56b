package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultPort is the TCP port the server listens on.
	DefaultPort = 9000

	// DefaultDataFile is where the file backend keeps the log.
	DefaultDataFile = "/var/tmp/aesdsocketdata"

	// DefaultWALDir is where the wal backend keeps its segments.
	DefaultWALDir = "/var/tmp/aesdsocketdata.wal"

	// DefaultTimestampInterval is how often the timer task stamps the log.
	DefaultTimestampInterval = 10 * time.Second

	// DefaultBindAttempts bounds how many times an address-in-use bind
	// is retried before startup fails.
	DefaultBindAttempts = 10

	// DefaultKeepOpen holds one file handle for the process lifetime.
	DefaultKeepOpen = true

	// DefaultFsync syncs the log to disk after each append.
	DefaultFsync = true
)

// Supported log backends.
const (
	BackendFile   = "file"
	BackendWAL    = "wal"
	BackendMemory = "memory"
)

// Default returns a Config populated with every default.
func Default() *Config {
	return &Config{
		Port:              DefaultPort,
		BindAttempts:      DefaultBindAttempts,
		Backend:           BackendFile,
		DataFile:          DefaultDataFile,
		WALDir:            DefaultWALDir,
		KeepOpen:          DefaultKeepOpen,
		Fsync:             DefaultFsync,
		TimestampInterval: DefaultTimestampInterval,
		Verbose:           1,
	}
}
