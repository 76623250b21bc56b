package core

import (
	"fmt"

	"logsock/config"
	"logsock/internal/metrics"
	"logsock/internal/sharedlog"
	"logsock/util"
)

// Build constructs a Server from cfg: it opens the configured store,
// wraps it in the shared log and, when a metrics address is set,
// prepares the metrics HTTP server.  cfg must already be validated.
func Build(cfg *config.Config, logger *util.Logger) (*Server, error) {
	m := metrics.New()

	store, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	log, err := sharedlog.New(store, m)
	if err != nil {
		store.Close() //nolint:errcheck
		return nil, err
	}

	srv := &Server{
		Config:  cfg,
		Log:     log,
		Logger:  logger,
		Metrics: m,
	}
	if cfg.MetricsAddr != "" {
		srv.MetricsServer = metrics.NewServer(cfg.MetricsAddr, m, logger)
	}
	return srv, nil
}

// ── store selection ──────────────────────────────────────────────────

// OpenStore opens the backing store named by cfg.Backend.
func OpenStore(cfg *config.Config) (sharedlog.Store, error) {
	switch cfg.Backend {
	case config.BackendFile:
		fs, err := sharedlog.OpenFile(sharedlog.FileOptions{
			Path:          cfg.DataFile,
			KeepOpen:      cfg.KeepOpen,
			Truncate:      cfg.Truncate,
			Fsync:         cfg.Fsync,
			RemoveOnClose: cfg.RemoveOnExit,
		})
		if err != nil {
			return nil, err
		}
		return fs, nil
	case config.BackendWAL:
		ws, err := sharedlog.OpenWAL(sharedlog.WALOptions{
			Dir:           cfg.WALDir,
			Truncate:      cfg.Truncate,
			Fsync:         cfg.Fsync,
			RemoveOnClose: cfg.RemoveOnExit,
		})
		if err != nil {
			return nil, err
		}
		return ws, nil
	case config.BackendMemory:
		return sharedlog.NewMemoryStore(nil), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
