// Package artifacts materializes the generated deployment files on disk:
// the descriptor, the database bootstrap script, the proxy configuration,
// the environment file, and the TLS material. Generation is idempotent -
// content files are rewritten only when their content changed, and
// certificates are never regenerated while both halves exist.
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/stackpilot/stackpilot/internal/core/config"
	"github.com/stackpilot/stackpilot/internal/core/descriptor"
)

// =============================================================================
// Generated File Names
// =============================================================================

// Filenames inside the deploy dir. The descriptor references these by
// relative path, so they must stay in lockstep with RenderDescriptor.
const (
	InitScriptFile = "db-init.sql"
	ProxyConfFile  = "proxy.conf"
	EnvFile        = "stackpilot.env"
	CertsDir       = "certs"
)

// Paths lists the absolute locations of every generated artifact.
type Paths struct {
	Descriptor string
	InitScript string
	ProxyConf  string
	Env        string
	CertFile   string
	KeyFile    string
}

// =============================================================================
// Generator
// =============================================================================

// Generator writes deployment artifacts into the deploy dir.
type Generator struct {
	logger *slog.Logger
}

// NewGenerator creates an artifact generator.
func NewGenerator(logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{logger: logger.With("component", "artifacts")}
}

// Generate renders and writes every artifact for cfg, returning their
// paths. Content files are only rewritten when changed so mtimes stay
// meaningful; TLS material is created once and then left alone.
func (g *Generator) Generate(ctx context.Context, cfg config.DeploymentConfig) (Paths, error) {
	if err := cfg.Validate(); err != nil {
		return Paths{}, err
	}
	if err := ctx.Err(); err != nil {
		return Paths{}, err
	}

	if err := os.MkdirAll(cfg.DeployDir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create deploy dir %s: %w", cfg.DeployDir, err)
	}

	paths := Paths{
		Descriptor: filepath.Join(cfg.DeployDir, cfg.DescriptorFile),
		InitScript: filepath.Join(cfg.DeployDir, InitScriptFile),
		ProxyConf:  filepath.Join(cfg.DeployDir, ProxyConfFile),
		Env:        filepath.Join(cfg.DeployDir, EnvFile),
		CertFile:   filepath.Join(cfg.DeployDir, CertsDir, descriptor.CertFileName),
		KeyFile:    filepath.Join(cfg.DeployDir, CertsDir, descriptor.KeyFileName),
	}

	desc, err := descriptor.RenderDescriptor(cfg)
	if err != nil {
		return Paths{}, fmt.Errorf("render descriptor: %w", err)
	}
	initScript, err := descriptor.RenderInitScript(cfg.Database.Name, cfg.Database.User, cfg.Database.Password)
	if err != nil {
		return Paths{}, fmt.Errorf("render init script: %w", err)
	}

	files := []struct {
		path    string
		content string
		mode    os.FileMode
	}{
		{paths.Descriptor, desc, 0o644},
		{paths.InitScript, initScript, 0o600},
		{paths.ProxyConf, descriptor.RenderProxyConfig(cfg), 0o644},
		{paths.Env, descriptor.RenderEnvFile(cfg), 0o600},
	}
	for _, f := range files {
		changed, err := writeIfChanged(f.path, []byte(f.content), f.mode)
		if err != nil {
			return Paths{}, err
		}
		if changed {
			g.logger.Info("artifact written", "path", f.path)
		}
	}

	if err := g.ensureCertificate(cfg, paths); err != nil {
		return Paths{}, err
	}

	return paths, nil
}

// ensureCertificate creates the self-signed pair only when either half
// is missing. Regenerating on every deploy would invalidate certificates
// users have pinned or replaced.
func (g *Generator) ensureCertificate(cfg config.DeploymentConfig, paths Paths) error {
	if fileExists(paths.CertFile) && fileExists(paths.KeyFile) {
		return nil
	}

	if err := os.MkdirAll(filepath.Join(cfg.DeployDir, CertsDir), 0o755); err != nil {
		return fmt.Errorf("create certs dir: %w", err)
	}

	certPEM, keyPEM, err := selfSignedCertificate(cfg.ProjectName)
	if err != nil {
		return fmt.Errorf("generate certificate: %w", err)
	}
	if err := os.WriteFile(paths.CertFile, certPEM, 0o644); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	if err := os.WriteFile(paths.KeyFile, keyPEM, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	g.logger.Info("self-signed certificate generated", "cert", paths.CertFile)
	return nil
}

// writeIfChanged writes content to path unless identical bytes are
// already there. Returns whether a write happened.
func writeIfChanged(path string, content []byte, mode os.FileMode) (bool, error) {
	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, content) {
		return false, nil
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
