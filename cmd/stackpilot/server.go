package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/stackpilot/stackpilot/internal/core/lifecycle"
	"github.com/stackpilot/stackpilot/internal/shell/api"
	"github.com/stackpilot/stackpilot/internal/shell/artifacts"
	"github.com/stackpilot/stackpilot/internal/shell/capability"
	"github.com/stackpilot/stackpilot/internal/shell/coordinator"
	"github.com/stackpilot/stackpilot/internal/shell/engine"
	"github.com/stackpilot/stackpilot/internal/shell/events"
	"github.com/stackpilot/stackpilot/internal/shell/probes"
	"github.com/stackpilot/stackpilot/internal/shell/store"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitHTTPServerError = 3
)

// =============================================================================
// Server
// =============================================================================

// Server is the composition root: it wires the journal, the event bus,
// the state machine, the coordinator, the probe engine, and the HTTP API.
type Server struct {
	config      *Config
	httpServer  *http.Server
	journal     *store.Journal
	coordinator *coordinator.Coordinator
	probeEngine *probes.Engine
	host        *capability.Host
	logger      *slog.Logger
}

// NewServer creates a server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Journal.DSN), 0o755); err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
	}
	journal, err := store.NewJournal(cfg.Journal.DSN, cfg.Journal.MaxRows, logger)
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
	}

	// The committed configuration wins over file/env defaults: an
	// UpdateConfiguration from a previous run is already persisted.
	deployCfg := cfg.Deployment
	if stored, err := journal.LoadConfig(context.Background()); err == nil {
		deployCfg = stored
		logger.Info("restored committed deployment configuration", "project", stored.ProjectName)
	} else if !errors.Is(err, store.ErrNoConfig) {
		journal.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
	}
	if err := deployCfg.Validate(); err != nil {
		journal.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}

	bus := events.NewBus(logger)
	journal.AttachBus(bus)

	machine := lifecycle.NewMachine(lifecycle.DefaultLogCapacity)
	bus.Subscribe(events.Output, func(evt events.Event) {
		if p, ok := evt.Payload.(events.OutputPayload); ok {
			machine.Observe(p.Chunk)
		}
	})

	runner := engine.NewRunner(logger, nil, func(source, stream, line string) {
		bus.Publish(events.Output, events.OutputPayload{Source: source, Chunk: line})
	})
	compose := engine.NewCompose(runner, deployCfg.ProjectName,
		filepath.Join(deployCfg.DeployDir, deployCfg.DescriptorFile))

	coord := coordinator.New(deployCfg, machine, bus,
		artifacts.NewGenerator(logger), compose, journal, logger)

	host := capability.NewHost(logger)
	probeEngine := probes.NewEngine(host, coord, coord.Config, probes.EngineConfig{
		Interval:     cfg.Probes.Interval,
		InitialDelay: cfg.Probes.InitialDelay,
		AutoRecover:  deployCfg.AutoRecover,
	}, logger)

	handler := api.NewHandler(coord, probeEngine, journal, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:      cfg,
		httpServer:  httpServer,
		journal:     journal,
		coordinator: coord,
		probeEngine: probeEngine,
		host:        host,
		logger:      logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	s.probeEngine.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return &ServerError{Op: "Start", Err: err, ExitCode: ExitHTTPServerError}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server. The deployed stack keeps
// running - stopping it is an explicit operator action, not a side
// effect of restarting this process.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.probeEngine.Stop()
	s.coordinator.Close()

	if err := s.host.Close(); err != nil {
		s.logger.Error("capability provider close error", "error", err)
	}
	if err := s.journal.Close(); err != nil {
		s.logger.Error("journal close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
