package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rampart-fw/rampart/internal/brand"
	"github.com/rampart-fw/rampart/internal/config"
	"github.com/rampart-fw/rampart/internal/ctlplane"
	"github.com/rampart-fw/rampart/internal/engine"
	"github.com/rampart-fw/rampart/internal/lkg"
	"github.com/rampart-fw/rampart/internal/logging"
	"github.com/rampart-fw/rampart/internal/metrics"
	"github.com/rampart-fw/rampart/internal/reload"
)

// RunStart runs the daemon in the foreground until SIGINT or SIGTERM.
func RunStart(configFile string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(logCfg(cfg))
	logging.SetDefault(logger)
	logger.Info("starting", "name", brand.Name, "version", brand.VersionString(), "config", configFile)

	if err := os.MkdirAll(brand.GetStateDir(), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidCleanup, err := writePIDFile()
	if err != nil {
		return err
	}
	defer pidCleanup()

	backend, err := openBackend(logger)
	if err != nil {
		return err
	}

	store := lkg.NewStore(cfg.LKGFile, logger)
	eng := engine.New(backend, store, logger, engine.WithMaxRules(cfg.MaxRules))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hot reload is optional: no policy file, no watcher.
	var reloader *reload.Controller
	if _, statErr := os.Stat(cfg.PolicyFile); statErr == nil {
		reloader, err = reload.NewController(reload.Config{
			Path:     cfg.PolicyFile,
			Debounce: cfg.Debounce(),
		}, eng, logger)
		if err != nil {
			return fmt.Errorf("failed to start hot-reload controller: %w", err)
		}
		go func() {
			if werr := reloader.Watch(ctx); werr != nil {
				logger.Error("hot-reload watcher stopped", "error", werr)
			}
		}()
		defer reloader.Stop()

		// Bring the host to the on-disk policy at boot.
		reloader.ApplyNow()
	} else {
		logger.Warn("policy file absent, hot reload disabled", "path", cfg.PolicyFile)
	}

	server := ctlplane.NewServer(ctlplane.ServerConfig{
		SocketPath:        cfg.SocketPath,
		MaxPolicyBytes:    cfg.MaxPolicyBytes,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, eng, reloader, logger)
	if err := server.Start(); err != nil {
		return err
	}
	defer server.Stop()

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Listen, logger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			logger.Info("SIGHUP received, re-applying policy file")
			if reloader != nil {
				reloader.ApplyNow()
			}
		default:
			logger.Info("shutting down", "signal", sig.String())
			return nil
		}
	}
	return nil
}

func logCfg(cfg *config.Config) logging.Config {
	lc := logging.DefaultConfig()
	if cfg.Log == nil {
		return lc
	}
	switch cfg.Log.Level {
	case "debug":
		lc.Level = logging.LevelDebug
	case "warn":
		lc.Level = logging.LevelWarn
	case "error":
		lc.Level = logging.LevelError
	}
	lc.JSON = cfg.Log.JSON
	return lc
}

func serveMetrics(listen string, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logger.Info("metrics listening", "addr", listen)
	if err := http.ListenAndServe(listen, mux); err != nil {
		logger.Error("metrics listener failed", "error", err)
	}
}
