package probes

import (
	"context"

	"github.com/stackpilot/stackpilot/internal/core/health"
)

// =============================================================================
// Auto-Recovery
// =============================================================================

// remediation attempts to fix one failed check. Failures are logged,
// never escalated.
type remediation func(e *Engine, ctx context.Context) error

// remediations maps check ids to fixes. Unknown ids no-op. Kept small
// deliberately: anything beyond recreating local state belongs to the
// operator.
var remediations = map[string]remediation{
	CheckDeployDir: func(e *Engine, _ context.Context) error {
		return e.provider.DirWritable(e.config().DeployDir)
	},
	CheckArtifacts: func(e *Engine, _ context.Context) error {
		return e.provider.DirWritable(e.config().DeployDir)
	},
	CheckEngineRunning: func(e *Engine, _ context.Context) error {
		// Nothing safe to do automatically; surface a hint instead.
		e.logger.Warn("engine daemon not running; start the container engine to restore service checks")
		return nil
	},
}

// autoRecover runs the remediation table over failed checks. Called
// only when the aggregated status is critical and recovery is enabled.
func (e *Engine) autoRecover(ctx context.Context, status health.Status) {
	for _, check := range status.Checks {
		if check.Status != health.CheckFail {
			continue
		}
		fix, ok := remediations[check.ID]
		if !ok {
			continue
		}
		if err := fix(e, ctx); err != nil {
			e.logger.Warn("auto-recovery failed", "check", check.ID, "error", err)
			continue
		}
		e.logger.Info("auto-recovery applied", "check", check.ID)
	}
}
