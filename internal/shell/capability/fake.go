package capability

import (
	"context"
	"sync"
)

// =============================================================================
// Fake Provider
// =============================================================================

// Fake is an in-memory Provider for tests. Zero value reports a fully
// healthy host; flip fields to simulate degradation.
type Fake struct {
	mu sync.Mutex

	MissingFiles map[string]bool // paths that report absent
	WritableErr  error
	FreeBytes    uint64
	DiskErr      error
	Offline      bool
	InstallErr   error
	BinaryPath   string
	RunningErr   error
	Version      string
	VersionErr   error
}

// NewFake returns a fake host with generous defaults.
func NewFake() *Fake {
	return &Fake{
		MissingFiles: make(map[string]bool),
		FreeBytes:    50 << 30,
		BinaryPath:   "/usr/bin/docker",
		Version:      "28.5.2",
	}
}

func (f *Fake) FileExists(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.MissingFiles[path]
}

func (f *Fake) DirWritable(dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.WritableErr
}

func (f *Fake) DiskFree(path string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.FreeBytes, f.DiskErr
}

func (f *Fake) NetworkOnline(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.Offline
}

func (f *Fake) EngineInstalled() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.BinaryPath, f.InstallErr
}

func (f *Fake) EngineRunning(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.RunningErr
}

func (f *Fake) EngineVersion(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Version, f.VersionErr
}
