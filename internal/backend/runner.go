package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"
)

const (
	defaultTimeout = 5 * time.Minute
	terminateGrace = 5 * time.Second
	readBufferSize = 32 * 1024
)

// CommandFunc builds the command for one child process. Implementations must
// bind ctx to the command (exec.CommandContext) so that cancellation and the
// timeout reach the child.
type CommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Timeout time.Duration
	// MaxConcurrent caps simultaneously running children. Zero means unbounded.
	MaxConcurrent int
	Env           map[string]string
	Command       CommandFunc
}

// Runner spawns CLI processes, one per execution.
type Runner struct {
	timeout time.Duration
	env     map[string]string
	command CommandFunc
	slots   *semaphore.Weighted
}

// Invocation describes a single CLI execution.
type Invocation struct {
	Backend string
	Path    string
	Args    []string
	Dir     string
}

// ProbeResult is the captured output of a short auxiliary command.
type ProbeResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// NewRunner constructs a runner.
func NewRunner(opts RunnerOptions) *Runner {
	r := &Runner{
		timeout: opts.Timeout,
		env:     opts.Env,
		command: opts.Command,
	}
	if r.timeout <= 0 {
		r.timeout = defaultTimeout
	}
	if r.command == nil {
		r.command = exec.CommandContext
	}
	if opts.MaxConcurrent > 0 {
		r.slots = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	return r
}

// Timeout returns the per-execution deadline.
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// Run executes inv, collecting stdout and stderr. A zero exit status returns
// stdout; anything else is classified into an *Error.
func (r *Runner) Run(ctx context.Context, inv Invocation) (string, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, r.timeout, ErrTimeout)
	defer cancel()

	release, err := r.acquire(ctx, inv.Backend)
	if err != nil {
		return "", err
	}
	defer release()

	var stdout, stderr bytes.Buffer
	cmd := r.newCmd(ctx, inv)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("spawning backend", "backend", inv.Backend, "path", inv.Path, "args", len(inv.Args), "dir", inv.Dir)
	if err := cmd.Start(); err != nil {
		slog.Error("backend spawn failed", "backend", inv.Backend, "err", err)
		return "", newSpawnError(inv.Backend, err)
	}

	err = cmd.Wait()
	reapGroup(cmd, inv.Backend)
	if err != nil {
		if ctx.Err() != nil {
			return "", interruption(ctx, inv.Backend)
		}
		slog.Error("backend execution failed", "backend", inv.Backend, "err", err, "stderr", stderr.String())
		return "", newExecutionError(inv.Backend, stderr.String(), err)
	}
	return stdout.String(), nil
}

// Stream executes inv and hands every stdout read to onFragment in arrival
// order. Fragments are never filtered beyond dropping empty reads, and a
// multi-byte rune split across reads is carried into the next fragment.
// If onFragment fails the child is terminated and that error is returned.
func (r *Runner) Stream(ctx context.Context, inv Invocation, onFragment func(string) error) error {
	ctx, cancel := context.WithTimeoutCause(ctx, r.timeout, ErrTimeout)
	defer cancel()

	release, err := r.acquire(ctx, inv.Backend)
	if err != nil {
		return err
	}
	defer release()

	cmd := r.newCmd(ctx, inv)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attach %s stdout: %w", inv.Backend, err)
	}
	stderr := &stderrLog{backend: inv.Backend}
	cmd.Stderr = stderr

	slog.Debug("spawning backend stream", "backend", inv.Backend, "path", inv.Path, "args", len(inv.Args), "dir", inv.Dir)
	if err := cmd.Start(); err != nil {
		slog.Error("backend spawn failed", "backend", inv.Backend, "err", err)
		return newSpawnError(inv.Backend, err)
	}

	// Descendants that inherited stdout can hold the pipe open after the
	// child is signalled, so the read end is closed once the grace expires.
	stopClose := context.AfterFunc(ctx, func() {
		time.AfterFunc(terminateGrace, func() { _ = stdout.Close() })
	})
	defer stopClose()

	consumerErr := pump(stdout, onFragment)
	if consumerErr != nil {
		cancel()
	}
	waitErr := cmd.Wait()
	reapGroup(cmd, inv.Backend)

	switch {
	case consumerErr != nil:
		return consumerErr
	case waitErr == nil:
		return nil
	case ctx.Err() != nil:
		return interruption(ctx, inv.Backend)
	default:
		return newExecutionError(inv.Backend, stderr.String(), waitErr)
	}
}

// Probe runs a short auxiliary command (version checks, model discovery)
// outside the concurrency limit. A non-zero exit status is reported in the
// result rather than as an error.
func (r *Runner) Probe(ctx context.Context, timeout time.Duration, backend, path string, args ...string) (ProbeResult, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, timeout, ErrTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := r.newCmd(ctx, Invocation{Backend: backend, Path: path, Args: args})
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return ProbeResult{}, newSpawnError(backend, err)
	}

	result := ProbeResult{}
	err := cmd.Wait()
	reapGroup(cmd, backend)
	if err != nil {
		if ctx.Err() != nil {
			return ProbeResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}, interruption(ctx, backend)
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return ProbeResult{}, fmt.Errorf("wait for %s probe: %w", backend, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	return result, nil
}

func (r *Runner) newCmd(ctx context.Context, inv Invocation) *exec.Cmd {
	cmd := r.command(ctx, inv.Path, inv.Args...)
	cmd.Dir = inv.Dir
	if len(r.env) > 0 {
		cmd.Env = BuildCommandEnv(cmd.Env, r.env)
	}
	isolateGroup(cmd)
	cmd.Cancel = func() error {
		return signalGroup(cmd, syscall.SIGTERM)
	}
	cmd.WaitDelay = terminateGrace
	return cmd
}

// reapGroup kills whatever is left of the child's process group once the
// child itself has been waited for.
func reapGroup(cmd *exec.Cmd, backend string) {
	if err := signalGroup(cmd, syscall.SIGKILL); err != nil {
		slog.Debug("backend process group kill failed", "backend", backend, "err", err)
	}
}

func (r *Runner) acquire(ctx context.Context, backend string) (func(), error) {
	if r.slots == nil {
		return func() {}, nil
	}
	if err := r.slots.Acquire(ctx, 1); err != nil {
		return nil, interruption(ctx, backend)
	}
	return func() { r.slots.Release(1) }, nil
}

// interruption maps a finished context to the error the caller should see:
// the timeout classification, or the caller's own cancellation.
func interruption(ctx context.Context, backend string) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrTimeout) {
		slog.Warn("backend timed out", "backend", backend)
		return newTimeoutError(backend)
	}
	slog.Info("backend execution cancelled", "backend", backend, "cause", cause)
	return fmt.Errorf("%s execution cancelled: %w", backend, cause)
}

// signalProcess sends sig, treating an already exited process as success.
func signalProcess(proc *os.Process, sig os.Signal) error {
	if proc == nil {
		return nil
	}
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func pump(r io.Reader, onFragment func(string) error) error {
	buf := make([]byte, readBufferSize)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			complete, rest := splitUTF8(pending)
			if len(complete) > 0 {
				if cbErr := onFragment(string(complete)); cbErr != nil {
					return cbErr
				}
			}
			pending = append(pending[:0], rest...)
		}
		if err != nil {
			if len(pending) > 0 {
				return onFragment(string(pending))
			}
			return nil
		}
	}
}

// splitUTF8 separates a trailing incomplete rune from b.
func splitUTF8(b []byte) (complete, rest []byte) {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < utf8.RuneSelf {
			break
		}
		if utf8.RuneStart(c) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i], b[len(b)-i:]
			}
			break
		}
	}
	return b, nil
}

// stderrLog keeps stderr for error reporting and logs it as it arrives.
type stderrLog struct {
	backend string
	mu      sync.Mutex
	buf     bytes.Buffer
}

func (s *stderrLog) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slog.Warn("backend stderr", "backend", s.backend, "output", string(p))
	return s.buf.Write(p)
}

func (s *stderrLog) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
