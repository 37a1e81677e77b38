// Package capability answers questions about the host environment: is
// the engine installed, is the daemon reachable, is there disk to spare.
// The probe battery consumes this through the Provider interface so
// tests can substitute a fake host.
package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/client"
	"golang.org/x/sys/unix"

	"github.com/stackpilot/stackpilot/internal/shell/engine"
)

// =============================================================================
// Errors
// =============================================================================

// ErrDaemonUnreachable is returned when the engine binary exists but the
// daemon does not answer.
var ErrDaemonUnreachable = errors.New("engine daemon unreachable")

// =============================================================================
// Provider Interface
// =============================================================================

// Provider exposes host capability checks. All methods are safe for
// concurrent use.
type Provider interface {
	// FileExists reports whether path exists and is a regular file.
	FileExists(path string) bool
	// DirWritable reports whether dir exists (or can be created) and
	// accepts writes.
	DirWritable(dir string) error
	// DiskFree returns free bytes on the filesystem holding path.
	DiskFree(path string) (uint64, error)
	// NetworkOnline reports whether an outbound TCP connection succeeds.
	NetworkOnline(ctx context.Context) bool
	// EngineInstalled returns the resolved engine binary path.
	EngineInstalled() (string, error)
	// EngineRunning reports whether the engine daemon answers a ping.
	EngineRunning(ctx context.Context) error
	// EngineVersion returns the daemon's reported server version.
	EngineVersion(ctx context.Context) (string, error)
}

// =============================================================================
// Host Provider
// =============================================================================

// networkProbeAddrs are dialed in order until one answers. Plain TCP,
// no HTTP: we only care about reachability.
var networkProbeAddrs = []string{
	"1.1.1.1:443",
	"8.8.8.8:443",
}

const networkProbeTimeout = 3 * time.Second

// Host is the production Provider backed by the local filesystem and
// the engine daemon's API socket.
type Host struct {
	logger *slog.Logger

	mu  sync.Mutex
	cli *client.Client // nil until first daemon call succeeds creating it
}

// NewHost creates a host capability provider. The daemon client is
// created lazily so a missing engine does not fail construction.
func NewHost(logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{logger: logger.With("component", "capability")}
}

func (h *Host) FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (h *Host) DirWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	probe := filepath.Join(dir, ".write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("write probe in %s: %w", dir, err)
	}
	os.Remove(probe)
	return nil
}

func (h *Host) DiskFree(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

func (h *Host) NetworkOnline(ctx context.Context) bool {
	dialer := net.Dialer{Timeout: networkProbeTimeout}
	for _, addr := range networkProbeAddrs {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return true
		}
	}
	return false
}

func (h *Host) EngineInstalled() (string, error) {
	return engine.LookupBinary("docker")
}

func (h *Host) EngineRunning(ctx context.Context) error {
	cli, err := h.daemon()
	if err != nil {
		return err
	}
	if _, err := cli.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnreachable, err)
	}
	return nil
}

func (h *Host) EngineVersion(ctx context.Context) (string, error) {
	cli, err := h.daemon()
	if err != nil {
		return "", err
	}
	ver, err := cli.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDaemonUnreachable, err)
	}
	return ver.Version, nil
}

// daemon lazily creates the SDK client from the environment.
func (h *Host) daemon() (*client.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cli != nil {
		return h.cli, nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDaemonUnreachable, err)
	}
	h.cli = cli
	return cli, nil
}

// Close releases the daemon client if one was created.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cli != nil {
		return h.cli.Close()
	}
	return nil
}
