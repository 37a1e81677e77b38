// Package probes runs the fixed health-probe battery on a schedule and
// folds results into a single aggregated status. Probes never let an
// error escape: an unavailable capability degrades to a skip entry and
// a broken probe degrades to a fail entry.
package probes

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/stackpilot/stackpilot/internal/core/config"
	"github.com/stackpilot/stackpilot/internal/core/descriptor"
	"github.com/stackpilot/stackpilot/internal/core/health"
	"github.com/stackpilot/stackpilot/internal/shell/artifacts"
)

// =============================================================================
// Check IDs
// =============================================================================

// Stable check identifiers. The auto-recovery table and API consumers
// key off these, so renaming one is a breaking change.
const (
	CheckEngineInstalled = "engine-installed"
	CheckDeployDir       = "deploy-dir"
	CheckConfigValid     = "config-valid"
	CheckEngineRunning   = "engine-running"
	CheckEngineVersion   = "engine-version"
	CheckNetworkOnline   = "network-online"
	CheckDiskSpace       = "disk-space"
	CheckArtifacts       = "artifacts-present"
	CheckTLSMaterial     = "tls-material"
	serviceCheckPrefix   = "service-"
)

// Disk thresholds for the storage probe.
const (
	diskFailBelow = 1 << 30 // 1 GiB
	diskWarnBelow = 5 << 30 // 5 GiB
)

// ServiceStater reports per-service health; satisfied by engine.Compose.
type ServiceStater interface {
	ServiceStates(ctx context.Context, required []string) (map[string]health.ServiceHealth, error)
}

// =============================================================================
// Battery Execution
// =============================================================================

// runBattery executes the full probe battery honouring the short-circuit
// policy: runtime probes only without a critical installation failure,
// service probes only when the engine-running probe passed.
func (e *Engine) runBattery(ctx context.Context) []health.Check {
	cfg := e.config()

	checks := e.installationChecks(cfg)
	checks = append(checks, e.configurationChecks(cfg)...)

	if hasCriticalFail(checks) {
		checks = append(checks, skipRuntimeChecks("skipped: installation failure")...)
		checks = append(checks, e.skipServiceChecks(cfg, "skipped: installation failure")...)
		return checks
	}

	runtime := e.runtimeChecks(ctx, cfg)
	checks = append(checks, runtime...)

	if !checkPassed(runtime, CheckEngineRunning) {
		checks = append(checks, e.skipServiceChecks(cfg, "skipped: engine not running")...)
		return checks
	}

	checks = append(checks, e.serviceChecks(ctx, cfg)...)
	return checks
}

func (e *Engine) installationChecks(cfg config.DeploymentConfig) []health.Check {
	var checks []health.Check

	checks = append(checks, e.runProbe(CheckEngineInstalled, "Container engine installed",
		health.PriorityCritical, health.CategoryInstallation, func() (health.CheckStatus, string) {
			bin, err := e.provider.EngineInstalled()
			if err != nil {
				return health.CheckFail, "engine binary not found on search path"
			}
			return health.CheckPass, "found at " + bin
		}))

	checks = append(checks, e.runProbe(CheckDeployDir, "Deploy directory writable",
		health.PriorityCritical, health.CategoryInstallation, func() (health.CheckStatus, string) {
			if err := e.provider.DirWritable(cfg.DeployDir); err != nil {
				return health.CheckFail, err.Error()
			}
			return health.CheckPass, cfg.DeployDir
		}))

	return checks
}

func (e *Engine) configurationChecks(cfg config.DeploymentConfig) []health.Check {
	var checks []health.Check

	checks = append(checks, e.runProbe(CheckConfigValid, "Configuration valid",
		health.PriorityHigh, health.CategoryConfiguration, func() (health.CheckStatus, string) {
			if err := cfg.Validate(); err != nil {
				return health.CheckFail, err.Error()
			}
			return health.CheckPass, "configuration validates"
		}))

	descriptorPath := filepath.Join(cfg.DeployDir, cfg.DescriptorFile)
	checks = append(checks, e.runProbe(CheckArtifacts, "Deployment artifacts present",
		health.PriorityMedium, health.CategoryConfiguration, func() (health.CheckStatus, string) {
			if !e.provider.FileExists(descriptorPath) {
				return health.CheckWarn, "descriptor not generated yet"
			}
			return health.CheckPass, descriptorPath
		}))

	certDir := filepath.Join(cfg.DeployDir, artifacts.CertsDir)
	checks = append(checks, e.runProbe(CheckTLSMaterial, "TLS material present",
		health.PriorityLow, health.CategoryConfiguration, func() (health.CheckStatus, string) {
			if !e.provider.FileExists(filepath.Join(certDir, descriptor.CertFileName)) ||
				!e.provider.FileExists(filepath.Join(certDir, descriptor.KeyFileName)) {
				return health.CheckWarn, "certificate pair not generated yet"
			}
			return health.CheckPass, "certificate pair present"
		}))

	return checks
}

func (e *Engine) runtimeChecks(ctx context.Context, cfg config.DeploymentConfig) []health.Check {
	var checks []health.Check

	checks = append(checks, e.runProbe(CheckEngineRunning, "Engine daemon running",
		health.PriorityCritical, health.CategoryRuntime, func() (health.CheckStatus, string) {
			if err := e.provider.EngineRunning(ctx); err != nil {
				return health.CheckFail, err.Error()
			}
			return health.CheckPass, "daemon answers"
		}))

	checks = append(checks, e.runProbe(CheckEngineVersion, "Engine version",
		health.PriorityLow, health.CategoryRuntime, func() (health.CheckStatus, string) {
			ver, err := e.provider.EngineVersion(ctx)
			if err != nil {
				return health.CheckSkip, "version unavailable"
			}
			return health.CheckPass, ver
		}))

	checks = append(checks, e.runProbe(CheckNetworkOnline, "Network online",
		health.PriorityMedium, health.CategoryRuntime, func() (health.CheckStatus, string) {
			if !e.provider.NetworkOnline(ctx) {
				return health.CheckWarn, "no outbound connectivity; image pulls will fail"
			}
			return health.CheckPass, "outbound connectivity ok"
		}))

	checks = append(checks, e.runProbe(CheckDiskSpace, "Disk space",
		health.PriorityHigh, health.CategoryStorage, func() (health.CheckStatus, string) {
			free, err := e.provider.DiskFree(cfg.DeployDir)
			if err != nil {
				return health.CheckSkip, "disk usage unavailable"
			}
			switch {
			case free < diskFailBelow:
				return health.CheckFail, fmt.Sprintf("%.1f GiB free", gib(free))
			case free < diskWarnBelow:
				return health.CheckWarn, fmt.Sprintf("%.1f GiB free", gib(free))
			default:
				return health.CheckPass, fmt.Sprintf("%.1f GiB free", gib(free))
			}
		}))

	return checks
}

func (e *Engine) serviceChecks(ctx context.Context, cfg config.DeploymentConfig) []health.Check {
	required := cfg.RequiredServices()
	e.mu.Lock()
	services := e.services
	e.mu.Unlock()
	if services == nil {
		return e.skipServiceChecks(cfg, "service polling unavailable")
	}

	states, err := services.ServiceStates(ctx, required)
	if err != nil {
		return e.skipServiceChecks(cfg, "service polling failed: "+err.Error())
	}

	checks := make([]health.Check, 0, len(required))
	for _, name := range required {
		state := states[name]
		status := health.CheckFail
		switch state.Status {
		case health.ServiceHealthy:
			status = health.CheckPass
		case health.ServiceStarting:
			status = health.CheckWarn
		}
		checks = append(checks, health.Check{
			ID:       serviceCheckPrefix + name,
			Name:     "Service " + name,
			Status:   status,
			Message:  state.Message,
			Priority: health.PriorityHigh,
			Category: health.CategoryServices,
		})
	}
	return checks
}

func (e *Engine) skipServiceChecks(cfg config.DeploymentConfig, reason string) []health.Check {
	var checks []health.Check
	for _, name := range cfg.RequiredServices() {
		checks = append(checks, health.Check{
			ID:       serviceCheckPrefix + name,
			Name:     "Service " + name,
			Status:   health.CheckSkip,
			Message:  reason,
			Priority: health.PriorityHigh,
			Category: health.CategoryServices,
		})
	}
	return checks
}

// runProbe times a probe and converts a panic into a fail entry so one
// broken probe cannot abort the cycle.
func (e *Engine) runProbe(id, name string, priority health.Priority, category health.Category,
	probe func() (health.CheckStatus, string)) (check health.Check) {

	start := time.Now()
	check = health.Check{ID: id, Name: name, Priority: priority, Category: category}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("probe panicked", "check", id, "panic", r)
			check.Status = health.CheckFail
			check.Message = fmt.Sprintf("probe panicked: %v", r)
		}
		check.Duration = time.Since(start)
	}()

	check.Status, check.Message = probe()
	return check
}

// =============================================================================
// Helpers
// =============================================================================

func hasCriticalFail(checks []health.Check) bool {
	for _, c := range checks {
		if c.Priority == health.PriorityCritical && c.Status == health.CheckFail {
			return true
		}
	}
	return false
}

func checkPassed(checks []health.Check, id string) bool {
	for _, c := range checks {
		if c.ID == id {
			return c.Status == health.CheckPass
		}
	}
	return false
}

// skipRuntimeChecks keeps the real priority and category of each runtime
// probe so skip entries weigh the same as the probes they replace.
func skipRuntimeChecks(reason string) []health.Check {
	meta := []struct {
		id       string
		name     string
		priority health.Priority
		category health.Category
	}{
		{CheckEngineRunning, "Engine daemon running", health.PriorityCritical, health.CategoryRuntime},
		{CheckEngineVersion, "Engine version", health.PriorityLow, health.CategoryRuntime},
		{CheckNetworkOnline, "Network online", health.PriorityMedium, health.CategoryRuntime},
		{CheckDiskSpace, "Disk space", health.PriorityHigh, health.CategoryStorage},
	}
	checks := make([]health.Check, 0, len(meta))
	for _, m := range meta {
		checks = append(checks, health.Check{
			ID:       m.id,
			Name:     m.name,
			Status:   health.CheckSkip,
			Message:  reason,
			Priority: m.priority,
			Category: m.category,
		})
	}
	return checks
}

func gib(b uint64) float64 {
	return float64(b) / (1 << 30)
}
