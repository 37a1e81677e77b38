// Package coordinator drives the deployment lifecycle end to end:
// artifact generation, engine orchestration, the wait-for-healthy loop,
// continuous monitoring, and configuration updates. It owns the single
// process-wide deployment status and publishes every change on the bus.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stackpilot/stackpilot/internal/core/config"
	"github.com/stackpilot/stackpilot/internal/core/health"
	"github.com/stackpilot/stackpilot/internal/core/lifecycle"
	"github.com/stackpilot/stackpilot/internal/shell/artifacts"
	"github.com/stackpilot/stackpilot/internal/shell/events"
)

// =============================================================================
// Errors
// =============================================================================

// ErrHealthTimeout is returned when required services do not all report
// healthy within the configured wait-for-healthy bound.
var ErrHealthTimeout = errors.New("services did not become healthy in time")

// ErrStopFailed wraps a stop failure during restart; the deploy half is
// not attempted.
var ErrStopFailed = errors.New("stop failed")

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Orchestrator is the engine verb surface the coordinator drives.
// Satisfied by engine.Compose.
type Orchestrator interface {
	SetDescriptor(projectName, descriptorPath string)
	Pull(ctx context.Context) error
	Up(ctx context.Context) error
	Down(ctx context.Context, deleteVolumes bool) error
	Logs(ctx context.Context, service string, lines int) (string, error)
	ServiceStates(ctx context.Context, required []string) (map[string]health.ServiceHealth, error)
}

// Generator materializes deployment artifacts. Satisfied by
// artifacts.Generator.
type Generator interface {
	Generate(ctx context.Context, cfg config.DeploymentConfig) (artifacts.Paths, error)
}

// ConfigStore persists the committed configuration. May be nil, in
// which case updates apply in memory only.
type ConfigStore interface {
	Save(ctx context.Context, cfg config.DeploymentConfig) error
}

// =============================================================================
// Coordinator
// =============================================================================

// Status is a read-only snapshot of the deployment.
type Status struct {
	Lifecycle lifecycle.Snapshot              `json:"lifecycle"`
	Services  map[string]health.ServiceHealth `json:"services"`
	Config    config.DeploymentConfig         `json:"config"`
}

// Coordinator serializes lifecycle operations. Construct one per
// process and pass it by handle.
type Coordinator struct {
	machine   *lifecycle.Machine
	bus       *events.Bus
	generator Generator
	orch      Orchestrator
	confStore ConfigStore
	logger    *slog.Logger
	now       func() time.Time

	// opMu serializes Deploy/Stop/Restart/UpdateConfiguration.
	opMu sync.Mutex

	// mu guards cfg, serviceHealth and the monitor handle.
	mu            sync.Mutex
	cfg           config.DeploymentConfig
	serviceHealth map[string]health.ServiceHealth
	monitorCancel context.CancelFunc
	monitorWG     sync.WaitGroup
}

// New creates a coordinator. confStore may be nil.
func New(cfg config.DeploymentConfig, machine *lifecycle.Machine, bus *events.Bus,
	generator Generator, orch Orchestrator, confStore ConfigStore, logger *slog.Logger) *Coordinator {

	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		machine:       machine,
		bus:           bus,
		generator:     generator,
		orch:          orch,
		confStore:     confStore,
		logger:        logger.With("component", "coordinator"),
		now:           time.Now,
		cfg:           cfg,
		serviceHealth: make(map[string]health.ServiceHealth),
	}
}

// Config returns a copy of the current configuration.
func (c *Coordinator) Config() config.DeploymentConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// ServiceStates exposes the cached per-service map to the probe engine
// without forcing another ps round-trip source.
func (c *Coordinator) ServiceStates(ctx context.Context, required []string) (map[string]health.ServiceHealth, error) {
	return c.orch.ServiceStates(ctx, required)
}

// Status returns a deep-copied snapshot.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	services := make(map[string]health.ServiceHealth, len(c.serviceHealth))
	for k, v := range c.serviceHealth {
		services[k] = v
	}
	return Status{
		Lifecycle: c.machine.Snapshot(),
		Services:  services,
		Config:    c.cfg,
	}
}

// =============================================================================
// Lifecycle Operations
// =============================================================================

// Deploy runs the full deployment sequence with the current
// configuration. Already-started services are not rolled back on
// failure; status moves to error with the captured message instead.
func (c *Coordinator) Deploy(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.deployWith(ctx, c.Config())
}

func (c *Coordinator) deployWith(ctx context.Context, cfg config.DeploymentConfig) error {
	c.signal(lifecycle.SignalStartRequested, "deployment requested")

	paths, err := c.generator.Generate(ctx, cfg)
	if err != nil {
		return c.fail(fmt.Errorf("generate artifacts: %w", err))
	}
	c.orch.SetDescriptor(cfg.ProjectName, paths.Descriptor)

	if err := c.orch.Pull(ctx); err != nil {
		return c.fail(fmt.Errorf("pull images: %w", err))
	}
	if err := c.orch.Up(ctx); err != nil {
		return c.fail(fmt.Errorf("start services: %w", err))
	}
	c.signal(lifecycle.SignalEngineStarted, "services started")

	c.signal(lifecycle.SignalCheckingHealth, "waiting for services to become healthy")
	if err := c.waitForHealthy(ctx, cfg); err != nil {
		return c.fail(err)
	}
	c.signal(lifecycle.SignalServicesReady, "all services healthy")

	c.startMonitor(cfg)
	c.logger.Info("deployment complete", "project", cfg.ProjectName)
	return nil
}

// Stop halts monitoring and brings the stack down, keeping volumes.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stop(ctx)
}

func (c *Coordinator) stop(ctx context.Context) error {
	c.signal(lifecycle.SignalStopRequested, "stop requested")
	c.stopMonitor()

	if err := c.orch.Down(ctx, false); err != nil {
		return c.fail(fmt.Errorf("stop services: %w", err))
	}

	c.mu.Lock()
	c.serviceHealth = make(map[string]health.ServiceHealth)
	c.mu.Unlock()
	c.publishServiceHealth(nil)

	c.signal(lifecycle.SignalEngineStopped, "services stopped")
	return nil
}

// Restart is stop-then-deploy. A stop failure aborts without deploying.
func (c *Coordinator) Restart(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.stop(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStopFailed, err)
	}
	return c.deployWith(ctx, c.Config())
}

// UpdateConfiguration stages the merged configuration, redeploys with
// it, and commits only on success. On any failure the prior
// configuration remains current.
func (c *Coordinator) UpdateConfiguration(ctx context.Context, partial config.Partial) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	staged := c.Config().Merge(partial)
	if err := staged.Validate(); err != nil {
		return fmt.Errorf("staged configuration invalid: %w", err)
	}

	c.signal(lifecycle.SignalConfigUpdate, "updating configuration")

	if c.machine.State().IsRunning() {
		if err := c.stop(ctx); err != nil {
			return err
		}
	}

	if err := c.deployWith(ctx, staged); err != nil {
		return fmt.Errorf("deploy with staged configuration: %w", err)
	}

	c.mu.Lock()
	c.cfg = staged
	c.mu.Unlock()

	if c.confStore != nil {
		if err := c.confStore.Save(ctx, staged); err != nil {
			c.logger.Error("persist committed configuration", "error", err)
		}
	}
	c.logger.Info("configuration updated", "project", staged.ProjectName)
	return nil
}

// Close stops continuous monitoring without touching the running
// stack. Used at process shutdown - the deployment outlives us.
func (c *Coordinator) Close() {
	c.stopMonitor()
}

// Logs returns raw service logs bounded by lines. Empty service means
// all services.
func (c *Coordinator) Logs(ctx context.Context, service string, lines int) (string, error) {
	return c.orch.Logs(ctx, service, lines)
}

// =============================================================================
// Wait-For-Healthy Loop
// =============================================================================

// waitForHealthy polls per-service health until every required service
// reports healthy or the timeout elapses. The timeout error fires at or
// after the bound but before bound+interval.
func (c *Coordinator) waitForHealthy(ctx context.Context, cfg config.DeploymentConfig) error {
	deadline := c.now().Add(cfg.HealthTimeout)
	required := cfg.RequiredServices()

	for {
		states, err := c.orch.ServiceStates(ctx, required)
		if err != nil {
			c.logger.Warn("service poll failed", "error", err)
		} else {
			c.recordServiceHealth(states)
			if health.AllHealthy(states) {
				return nil
			}
		}

		if !c.now().Before(deadline) {
			return fmt.Errorf("%w (waited %s)", ErrHealthTimeout, cfg.HealthTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}
}

// =============================================================================
// Continuous Monitoring
// =============================================================================

// startMonitor launches the fixed-interval per-service poll. Any
// previous monitor is stopped first so reconfiguration cannot leak one.
func (c *Coordinator) startMonitor(cfg config.DeploymentConfig) {
	c.stopMonitor()

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.monitorCancel = cancel
	c.mu.Unlock()

	c.monitorWG.Add(1)
	go func() {
		defer c.monitorWG.Done()
		ticker := time.NewTicker(cfg.MonitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.monitorOnce(ctx, cfg)
			}
		}
	}()
}

func (c *Coordinator) stopMonitor() {
	c.mu.Lock()
	cancel := c.monitorCancel
	c.monitorCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.monitorWG.Wait()
	}
}

func (c *Coordinator) monitorOnce(ctx context.Context, cfg config.DeploymentConfig) {
	states, err := c.orch.ServiceStates(ctx, cfg.RequiredServices())
	if err != nil {
		c.logger.Warn("monitor poll failed", "error", err)
		return
	}
	c.recordServiceHealth(states)

	state := c.machine.State()
	switch {
	case !health.AllHealthy(states) && state.IsRunning() && state != lifecycle.StateRunningUnhealthy:
		c.signal(lifecycle.SignalServicesUnhealthy, "one or more services unhealthy")
	case health.AllHealthy(states) && state == lifecycle.StateRunningUnhealthy:
		c.signal(lifecycle.SignalServicesReady, "all services healthy again")
	}
}

// recordServiceHealth stores the map and publishes the health event.
func (c *Coordinator) recordServiceHealth(states map[string]health.ServiceHealth) {
	c.mu.Lock()
	c.serviceHealth = states
	c.mu.Unlock()
	c.publishServiceHealth(states)
}

// =============================================================================
// Signals and Events
// =============================================================================

// signal feeds the machine and publishes status-changed with the typed
// signal riding alongside the message.
func (c *Coordinator) signal(sig lifecycle.Signal, message string) {
	state, changed := c.machine.Apply(sig, message)
	if changed {
		c.logger.Info("state changed", "state", state, "signal", sig)
	}
	c.bus.Publish(events.StatusChanged, events.StatusPayload{
		Signal:  sig,
		Message: message,
		Status:  c.machine.Snapshot(),
	})
}

func (c *Coordinator) fail(err error) error {
	c.signal(lifecycle.SignalFailed, err.Error())
	return err
}

func (c *Coordinator) publishServiceHealth(states map[string]health.ServiceHealth) {
	copied := make(map[string]health.ServiceHealth, len(states))
	for k, v := range states {
		copied[k] = v
	}
	c.bus.Publish(events.HealthStatusChanged, events.HealthPayload{Services: copied})
}
