package probes

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stackpilot/stackpilot/internal/core/config"
	"github.com/stackpilot/stackpilot/internal/core/health"
	"github.com/stackpilot/stackpilot/internal/shell/capability"
)

// =============================================================================
// Rate Limits
// =============================================================================

// Wall-clock windows guarding the scheduler against thrashing. The run
// cool-down also answers hot re-queries from the cache.
const (
	runCooldown  = 10 * time.Second
	startWindow  = 5 * time.Second
	stopCooldown = 3 * time.Second
)

// EngineConfig configures the probe scheduler.
type EngineConfig struct {
	// Interval is the time between full probe cycles. Default: 60s.
	Interval time.Duration

	// InitialDelay is the pause between the installation fast path and
	// the first full cycle. Default: 2s.
	InitialDelay time.Duration

	// AutoRecover enables the remediation table on critical status.
	AutoRecover bool
}

// DefaultEngineConfig returns the default scheduler configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Interval:     60 * time.Second,
		InitialDelay: 2 * time.Second,
	}
}

// Subscriber receives aggregated status snapshots after each cycle.
type Subscriber func(health.Status)

// =============================================================================
// Engine
// =============================================================================

// Engine schedules the probe battery and fans results out to subscribers.
// One instance per process, constructed explicitly and passed by handle.
type Engine struct {
	provider capability.Provider
	services ServiceStater // may be nil before a deployment exists
	config   func() config.DeploymentConfig
	cfg      EngineConfig
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	inFlight    bool
	cached      *health.Status
	lastRunAt   time.Time
	lastStartAt time.Time
	lastStopAt  time.Time
	subscribers []Subscriber

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine creates a probe engine. configFn must return the current
// deployment configuration snapshot; services may be nil until the
// coordinator binds a compose surface.
func NewEngine(provider capability.Provider, services ServiceStater,
	configFn func() config.DeploymentConfig, cfg EngineConfig, logger *slog.Logger) *Engine {

	if cfg.Interval == 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		provider: provider,
		services: services,
		config:   configFn,
		cfg:      cfg,
		logger:   logger.With("component", "probe_engine"),
		now:      time.Now,
	}
}

// SetServiceStater binds the per-service poller. Called by the
// coordinator once a compose surface exists.
func (e *Engine) SetServiceStater(s ServiceStater) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.services = s
}

// =============================================================================
// Running Checks
// =============================================================================

// RunChecks executes one full probe cycle. Concurrent callers and
// callers inside the cool-down window get the cached status instead of
// a fresh sweep. Never returns an error: degraded capabilities surface
// as skip or fail entries in the result.
func (e *Engine) RunChecks(ctx context.Context) health.Status {
	e.mu.Lock()
	if e.inFlight || (e.cached != nil && e.now().Sub(e.lastRunAt) < runCooldown) {
		cached := e.cachedLocked()
		e.mu.Unlock()
		return cached
	}
	e.inFlight = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inFlight = false
		e.mu.Unlock()
	}()

	checks := e.runBattery(ctx)
	status := health.Aggregate(checks, e.now().UTC())

	e.mu.Lock()
	e.cached = &status
	e.lastRunAt = e.now()
	subs := make([]Subscriber, len(e.subscribers))
	copy(subs, e.subscribers)
	e.mu.Unlock()

	e.logger.Debug("probe cycle complete",
		"status", status.Status, "score", status.OverallHealth, "checks", len(status.Checks))

	notify(subs, status, e.logger)

	if status.Status == health.StatusCritical && e.cfg.AutoRecover {
		e.autoRecover(ctx, status)
	}
	return status
}

// TriggerCheck requests an out-of-band run, still subject to the
// cool-down window. Used for external signals like network reconnect.
func (e *Engine) TriggerCheck(ctx context.Context) health.Status {
	return e.RunChecks(ctx)
}

// Status returns the last cached status without probing.
func (e *Engine) Status() health.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cachedLocked()
}

func (e *Engine) cachedLocked() health.Status {
	if e.cached != nil {
		return *e.cached
	}
	return health.Status{Status: health.StatusUnknown, Timestamp: e.now().UTC()}
}

// =============================================================================
// Scheduler
// =============================================================================

// Start launches the periodic scheduler: an immediate installation
// fast path, a full cycle after a short delay, then fixed-interval
// cycles. A second Start within the start window, or inside the stop
// cool-down, is a no-op - at most one timer loop runs.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	now := e.now()
	if e.running ||
		(!e.lastStartAt.IsZero() && now.Sub(e.lastStartAt) < startWindow) ||
		(!e.lastStopAt.IsZero() && now.Sub(e.lastStopAt) < stopCooldown) {
		e.mu.Unlock()
		e.logger.Debug("start suppressed by rate limit")
		return
	}
	e.running = true
	e.lastStartAt = now
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.loop(loopCtx)
	e.logger.Info("probe scheduler started", "interval", e.cfg.Interval)
}

// Stop cancels the scheduler loop and waits for it to exit. A new Start
// is honoured only after the stop cool-down.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()

	e.mu.Lock()
	e.running = false
	e.lastStopAt = e.now()
	e.mu.Unlock()
	e.logger.Info("probe scheduler stopped")
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	e.installationFastPath(ctx)

	select {
	case <-ctx.Done():
		return
	case <-time.After(e.cfg.InitialDelay):
	}
	e.RunChecks(ctx)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunChecks(ctx)
		}
	}
}

// installationFastPath runs only the installation probes so subscribers
// hear about a missing engine before the first full cycle completes.
func (e *Engine) installationFastPath(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	checks := e.installationChecks(e.config())
	if !hasCriticalFail(checks) {
		return
	}
	status := health.Aggregate(checks, e.now().UTC())
	e.logger.Warn("installation validation failed", "score", status.OverallHealth)

	e.mu.Lock()
	subs := make([]Subscriber, len(e.subscribers))
	copy(subs, e.subscribers)
	e.mu.Unlock()
	notify(subs, status, e.logger)
}

// =============================================================================
// Subscribers
// =============================================================================

// Subscribe appends fn to the ordered subscriber list. If a cached
// status exists it is delivered immediately.
func (e *Engine) Subscribe(fn Subscriber) {
	e.mu.Lock()
	e.subscribers = append(e.subscribers, fn)
	cached := e.cached
	e.mu.Unlock()

	if cached != nil {
		notify([]Subscriber{fn}, *cached, e.logger)
	}
}

// notify delivers in subscription order, recovering per subscriber so
// one panic cannot block the rest.
func notify(subs []Subscriber, status health.Status, logger *slog.Logger) {
	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("health subscriber panicked", "panic", r)
				}
			}()
			fn(status)
		}()
	}
}
