// Package engine invokes the container-engine CLI as child processes.
// It owns binary resolution across common install locations, line-wise
// output streaming, and exit-code handling. Retry policy deliberately
// does not live here - that belongs to the coordinator.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// =============================================================================
// Errors
// =============================================================================

// ErrEngineNotFound is returned when the engine binary cannot be resolved
// on the augmented search path.
var ErrEngineNotFound = errors.New("container engine binary not found")

// ProcessError is a non-zero exit from an engine child process. Stderr is
// captured so callers can surface the engine's own message.
type ProcessError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	cmd := strings.Join(e.Args, " ")
	if e.Stderr != "" {
		return fmt.Sprintf("%s: exit %d: %s", cmd, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s: exit %d", cmd, e.ExitCode)
}

// =============================================================================
// Binary Resolution
// =============================================================================

// extraSearchPaths covers install locations that are commonly missing
// from the inherited PATH when launched outside a login shell.
var extraSearchPaths = []string{
	"/usr/local/bin",
	"/opt/homebrew/bin",
	"/usr/bin",
	"/bin",
	"/usr/sbin",
	"/opt/docker/bin",
	"/Applications/Docker.app/Contents/Resources/bin",
}

// AugmentedPath returns the inherited PATH extended with the extra
// search locations, deduplicated, original entries first.
func AugmentedPath() string {
	seen := make(map[string]bool)
	var parts []string
	for _, p := range strings.Split(os.Getenv("PATH"), string(os.PathListSeparator)) {
		if p != "" && !seen[p] {
			seen[p] = true
			parts = append(parts, p)
		}
	}
	for _, p := range extraSearchPaths {
		if !seen[p] {
			seen[p] = true
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, string(os.PathListSeparator))
}

// LookupBinary resolves a binary name on the augmented path.
func LookupBinary(name string) (string, error) {
	for _, dir := range strings.Split(AugmentedPath(), string(os.PathListSeparator)) {
		candidate := dir + string(os.PathSeparator) + name
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrEngineNotFound, name)
}

// =============================================================================
// Runner
// =============================================================================

// OutputFunc receives streamed output lines. source names the operation
// ("pull", "up", ...), stream is "stdout" or "stderr".
type OutputFunc func(source, stream, line string)

// Runner executes engine commands as child processes.
type Runner struct {
	engineBinary string // resolved lazily when empty
	logger       *slog.Logger
	sink         io.Writer  // log sink for raw output, may be nil
	onOutput     OutputFunc // event surface, may be nil
	mu           sync.Mutex
}

// NewRunner creates a runner. sink and onOutput may be nil.
func NewRunner(logger *slog.Logger, sink io.Writer, onOutput OutputFunc) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		logger:   logger.With("component", "engine_runner"),
		sink:     sink,
		onOutput: onOutput,
	}
}

// engine resolves and caches the engine binary path.
func (r *Runner) engine() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engineBinary != "" {
		return r.engineBinary, nil
	}
	bin, err := LookupBinary("docker")
	if err != nil {
		return "", err
	}
	r.engineBinary = bin
	return bin, nil
}

// Run executes the engine binary with the given arguments, streaming
// output as it arrives. It returns captured stdout and fails with a
// *ProcessError on non-zero exit.
func (r *Runner) Run(ctx context.Context, source string, args ...string) (string, error) {
	bin, err := r.engine()
	if err != nil {
		return "", err
	}
	return r.exec(ctx, source, bin, args...)
}

// RunShell executes a raw shell command through /bin/sh on the augmented
// path. Used by execRaw only; everything else goes through Run.
func (r *Runner) RunShell(ctx context.Context, source, command string) (string, error) {
	return r.exec(ctx, source, "/bin/sh", "-c", command)
}

func (r *Runner) exec(ctx context.Context, source, bin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = append(os.Environ(), "PATH="+AugmentedPath())

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("stderr pipe: %w", err)
	}

	r.logger.Debug("executing", "source", source, "bin", bin, "args", args)

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", bin, err)
	}

	var stdout, stderr strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.stream(source, "stdout", stdoutPipe, &stdout)
	}()
	go func() {
		defer wg.Done()
		r.stream(source, "stderr", stderrPipe, &stderr)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	if waitErr == nil {
		return stdout.String(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return stdout.String(), &ProcessError{
			Args:     append([]string{bin}, args...),
			ExitCode: exitErr.ExitCode(),
			Stderr:   tail(stderr.String(), 20),
		}
	}
	return stdout.String(), fmt.Errorf("wait %s: %w", bin, waitErr)
}

// stream copies lines to the capture buffer, the log sink, and the
// output callback.
func (r *Runner) stream(source, name string, pipe io.Reader, capture *strings.Builder) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		capture.WriteString(line)
		capture.WriteByte('\n')
		if r.sink != nil {
			fmt.Fprintf(r.sink, "[%s/%s] %s\n", source, name, line)
		}
		if r.onOutput != nil {
			r.onOutput(source, name, line)
		}
	}
}

// tail returns the last n lines of s, trimmed.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
