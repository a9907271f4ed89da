package cmd

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/engine"
	"grimm.is/warden/internal/events"
	"grimm.is/warden/internal/identity"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/policy"
	"grimm.is/warden/internal/state"
)

// RunStart runs the control plane in the foreground until SIGINT or
// SIGTERM. stateDir, when non-empty, overrides the configured state
// database location.
func RunStart(configFile, stateDir string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}

	log := buildLogger(cfg)
	logging.SetDefault(log)
	log.Info("starting", "product", brand.Name, "version", brand.Version, "config", configFile)

	statePath := cfg.State.Path
	if stateDir != "" {
		statePath = filepath.Join(stateDir, brand.StateFileName)
	}
	if dir := filepath.Dir(statePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	store, err := state.Open(state.DefaultOptions(statePath))
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	ids, err := identity.NewDirectory(store)
	if err != nil {
		return err
	}

	hub := events.NewHub()
	matcher := policy.NewMatcher(ids, cfg.Environment, matcherTagTypes(cfg), nil, log.WithComponent("matcher"))

	eng, err := engine.New(engine.Options{
		Store:   store,
		Matcher: matcher,
		Hub:     hub,
		Logger:  log.WithComponent("engine"),
	})
	if err != nil {
		return err
	}
	if err := eng.Load(); err != nil {
		return err
	}
	eng.Start()
	defer eng.Stop()

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Listen, log)
	}
	go logEvents(hub, log.WithComponent("events"))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info("shutting down", "signal", s.String())
	return nil
}

// buildLogger constructs the process logger from the logging block.
func buildLogger(cfg *config.Config) *logging.Logger {
	lc := logging.DefaultConfig()
	if cfg.Logging != nil {
		lc.JSON = cfg.Logging.JSON
		switch cfg.Logging.Level {
		case "debug":
			lc.Level = logging.LevelDebug
		case "warn":
			lc.Level = logging.LevelWarn
		case "error":
			lc.Level = logging.LevelError
		}
	}
	return logging.New(lc)
}

// matcherTagTypes converts configured tag namespaces to matcher form.
func matcherTagTypes(cfg *config.Config) []policy.TagType {
	out := make([]policy.TagType, 0, len(cfg.TagTypes))
	for _, tt := range cfg.TagTypes {
		out = append(out, policy.TagType{
			Name:         tt.Name,
			Prefix:       tt.Prefix,
			AlarmIDField: tt.AlarmIDField,
		})
	}
	return out
}

func serveMetrics(listen string, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info("metrics listening", "addr", listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server failed", "error", err)
	}
}

// logEvents mirrors the event stream into the log at debug level.
func logEvents(hub *events.Hub, log *logging.Logger) {
	for e := range hub.Subscribe(256) {
		log.Debug("event", "type", string(e.Type), "source", e.Source)
	}
}
