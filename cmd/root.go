// Package cmd wires up the CLI flags and starts the logsock server.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"logsock/config"
	"logsock/internal/core"
	"logsock/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X logsock/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// stdout receives --dry-run and --version output.  Tests swap it.
var stdout io.Writer = os.Stdout //nolint:gochecknoglobals

// Execute parses args, layers the configuration and runs the server
// until ctx is cancelled.
func Execute(ctx context.Context, args []string) error {
	cfg := config.Default()
	fs := flag.NewFlagSet("logsock", flag.ContinueOnError)

	// ── listener ─────────────────────────────────────────────────
	fs.StringVarP(&cfg.BindAddress, "bind", "b", cfg.BindAddress, "Address to bind (empty = all interfaces)")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "TCP port to listen on")
	fs.IntVar(&cfg.BindAttempts, "bind-attempts", cfg.BindAttempts, "Bind attempts while the address is in use")

	// ── shared log ───────────────────────────────────────────────
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "Log backend: file, wal or memory")
	fs.StringVarP(&cfg.DataFile, "data-file", "f", cfg.DataFile, "Log file (file backend)")
	fs.StringVar(&cfg.WALDir, "wal-dir", cfg.WALDir, "Segment directory (wal backend)")
	fs.BoolVar(&cfg.KeepOpen, "keep-open", cfg.KeepOpen, "Hold one file handle for the server lifetime")
	fs.BoolVar(&cfg.Truncate, "truncate", cfg.Truncate, "Discard existing log content at startup")
	fs.BoolVar(&cfg.Fsync, "fsync", cfg.Fsync, "Sync to disk after every append")
	fs.BoolVar(&cfg.RemoveOnExit, "remove-on-exit", cfg.RemoveOnExit, "Delete the log at shutdown")

	// ── tasks ────────────────────────────────────────────────────
	fs.DurationVarP(&cfg.TimestampInterval, "timestamp-interval", "i", cfg.TimestampInterval, "Interval between timestamp records")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Close sessions idle this long (0 = never)")
	fs.DurationVar(&cfg.DrainTimeout, "drain-timeout", cfg.DrainTimeout, "Abort sessions still open this long after shutdown (0 = wait)")

	// ── output ───────────────────────────────────────────────────
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve /metrics, /stats and /health on this address")
	var verbosity int
	var quiet bool
	fs.CountVarP(&verbosity, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&quiet, "quiet", "q", false, "Only log errors")
	var logTimestamps bool
	fs.BoolVar(&logTimestamps, "log-timestamps", false, "Prefix log lines with the time of day")

	var configPath string
	var showVersion, showHelp, dryRun bool
	fs.StringVarP(&configPath, "config", "c", "", "YAML config file (env LOGSOCK_CONFIG)")
	fs.BoolVar(&dryRun, "dry-run", false, "Print the effective configuration and exit")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "logsock %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q (use --help for usage)", fs.Arg(0))
	}

	// ── layer: defaults < file < env < flags ─────────────────────
	if err := layer(fs, cfg, configPath); err != nil {
		return err
	}
	cfg.Verbose += verbosity
	if quiet {
		cfg.Verbose = int(util.LogQuiet)
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}

	if dryRun {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = stdout.Write(out)
		return err
	}

	// ── build and run ────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	if logTimestamps {
		logger.SetTimestamps(true)
	}
	if cfg.ConfigFile != "" {
		logger.Verbose("loaded config from %s", cfg.ConfigFile)
	}

	srv, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

// layer rebuilds cfg from defaults, the config file and the
// environment, then reapplies every flag given on the command line.
// The flag set stays bound to cfg, so Set writes straight into it.
func layer(fs *flag.FlagSet, cfg *config.Config, configPath string) error {
	type setting struct{ name, value string }
	var explicit []setting
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "dry-run", "version", "help", "verbose", "quiet", "log-timestamps":
			return
		}
		explicit = append(explicit, setting{f.Name, f.Value.String()})
	})

	*cfg = *config.Default()

	if configPath == "" {
		configPath = config.EnvConfigFile()
	}
	if configPath != "" {
		if err := config.LoadFile(configPath, cfg); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)

	for _, s := range explicit {
		if err := fs.Set(s.name, s.value); err != nil {
			return fmt.Errorf("--%s: %w", s.name, err)
		}
	}
	return nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `logsock – concurrent TCP append-log server v%s

Every newline-terminated packet a client sends is appended to a shared
log, and the whole log is sent back.  A timestamp record is appended on
a fixed interval.

Usage:
  logsock [options]

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  LOGSOCK_CONFIG, LOGSOCK_PORT, LOGSOCK_BIND, LOGSOCK_DATA_FILE, ...
  (every option, upper-cased with a LOGSOCK_ prefix)

Examples:
  logsock                                     Listen on :%d, log to %s
  logsock -p 9100 --backend wal --wal-dir /var/lib/logsock
  logsock --truncate --remove-on-exit -vv     Scratch log, verbose
  logsock -c /etc/logsock.yaml --metrics-addr :9101
  echo "hello" | nc localhost %d              Append a packet
`, config.DefaultPort, config.DefaultDataFile, config.DefaultPort)
}
