// Package action runs template actions as subprocesses and enforces their
// cancellation policy.
package action

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/kilnhq/kiln/internal/log"
	"github.com/kilnhq/kiln/internal/template"
)

const (
	// maxStderrBytes caps the amount of stderr captured from action execution.
	maxStderrBytes = 64 * 1024

	// DefaultGracePeriod is the time we wait after the cancel notification
	// (SIGTERM) before sending SIGKILL.
	DefaultGracePeriod = 5 * time.Second
)

// Command describes one resolved action invocation. All placeholder
// substitution happens before a Command is constructed.
type Command struct {
	Program string
	Args    []string
	Dir     string
	Env     []string

	// CancelMode is NOTIFY_THEN_TERMINATE or TERMINATE.
	CancelMode string
	// GracePeriod bounds the wait between notify and terminate. Zero means
	// DefaultGracePeriod.
	GracePeriod time.Duration
	// Timeout bounds total execution. Zero means no timeout.
	Timeout time.Duration

	// Stdout, when set, receives the process stdout as it is produced in
	// addition to the captured result. The daemon uses this to scan renderer
	// output live.
	Stdout io.Writer
}

// Result captures the outcome of one action invocation.
type Result struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Cancelled bool
	TimedOut  bool
	Duration  time.Duration
}

// Runner executes commands. The interface exists so the session controller
// can be tested without spawning processes.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ProcessRunner runs commands as real subprocesses.
type ProcessRunner struct {
	logger *slog.Logger
}

// NewProcessRunner creates a ProcessRunner.
func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{logger: log.WithComponent("action")}
}

// Run starts the command and blocks until it exits, is cancelled through ctx,
// or times out. Cancellation follows the command's policy: under
// NOTIFY_THEN_TERMINATE exactly one SIGTERM is sent, the grace period
// elapses, then at most one SIGKILL; under TERMINATE the process is killed
// immediately. A non-zero exit is not an error here; callers decide what a
// failing action means.
func (r *ProcessRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	start := time.Now()

	// Manage termination ourselves instead of exec.CommandContext, so the
	// notify/grace/kill sequence stays under our control.
	proc := exec.Command(cmd.Program, cmd.Args...)
	proc.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		proc.Env = cmd.Env
	}

	grace := cmd.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	// The action gets its own process group so the notify/terminate signals
	// reach everything it forked, not just the direct child.
	proc.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// An orphaned descendant inheriting our output pipes must not stall Wait
	// past the grace window after the child itself has exited.
	proc.WaitDelay = grace

	var stdout, stderr bytes.Buffer
	if cmd.Stdout != nil {
		proc.Stdout = io.MultiWriter(&stdout, cmd.Stdout)
	} else {
		proc.Stdout = &stdout
	}
	proc.Stderr = &stderr

	r.logger.Debug("starting action",
		"program", cmd.Program, "args", cmd.Args, "cancel_mode", cmd.CancelMode)

	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- proc.Wait()
	}()

	var timeoutCh <-chan time.Time
	if cmd.Timeout > 0 {
		timer := time.NewTimer(cmd.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case err := <-waitErr:
		return r.finish(&stdout, &stderr, start, proc, err)

	case <-timeoutCh:
		r.logger.Warn("action timed out, cancelling", "program", cmd.Program, "timeout", cmd.Timeout)
		res := r.cancel(proc, cmd, grace, waitErr, &stdout, &stderr, start)
		res.TimedOut = true
		return res, context.DeadlineExceeded

	case <-ctx.Done():
		r.logger.Info("cancellation requested", "program", cmd.Program, "cancel_mode", cmd.CancelMode)
		res := r.cancel(proc, cmd, grace, waitErr, &stdout, &stderr, start)
		res.Cancelled = true
		return res, ctx.Err()
	}
}

// cancel applies the cancellation policy to a running process and waits for
// it to die.
func (r *ProcessRunner) cancel(
	proc *exec.Cmd,
	cmd Command,
	grace time.Duration,
	waitErr chan error,
	stdout, stderr *bytes.Buffer,
	start time.Time,
) *Result {
	if cmd.CancelMode == template.CancelTerminate {
		if err := signalGroup(proc, syscall.SIGKILL); err != nil {
			r.logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
		return r.snapshot(stdout, stderr, start, proc)
	}

	// NOTIFY_THEN_TERMINATE: one notify, bounded grace, at most one kill.
	if err := signalGroup(proc, syscall.SIGTERM); err != nil {
		r.logger.Error("failed to send SIGTERM", "error", err)
	}

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()

	select {
	case <-waitErr:
		r.logger.Info("action exited after SIGTERM", "program", cmd.Program)
	case <-graceTimer.C:
		r.logger.Warn("action did not exit within grace period, sending SIGKILL",
			"program", cmd.Program, "grace", grace)
		if err := signalGroup(proc, syscall.SIGKILL); err != nil {
			r.logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}

	return r.snapshot(stdout, stderr, start, proc)
}

// signalGroup delivers sig to the action's whole process group, falling back
// to the direct child if the group is already gone.
func signalGroup(proc *exec.Cmd, sig syscall.Signal) error {
	if proc.Process == nil {
		return nil
	}
	if err := syscall.Kill(-proc.Process.Pid, sig); err != nil {
		return proc.Process.Signal(sig)
	}
	return nil
}

func (r *ProcessRunner) finish(stdout, stderr *bytes.Buffer, start time.Time, proc *exec.Cmd, err error) (*Result, error) {
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   truncateStderr(stderr.String()),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			r.logger.Warn("action exited non-zero", "exit_code", res.ExitCode)
			return res, nil
		}
		if errors.Is(err, exec.ErrWaitDelay) {
			// The child exited but something it forked kept the output pipes
			// open past the grace window. The child's own exit is the result.
			if proc.ProcessState != nil {
				res.ExitCode = proc.ProcessState.ExitCode()
			}
			r.logger.Warn("action left output pipes open after exiting", "exit_code", res.ExitCode)
			return res, nil
		}
		return res, fmt.Errorf("wait for process: %w", err)
	}

	return res, nil
}

func (r *ProcessRunner) snapshot(stdout, stderr *bytes.Buffer, start time.Time, proc *exec.Cmd) *Result {
	res := &Result{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   truncateStderr(stderr.String()),
		Duration: time.Since(start),
	}
	if proc.ProcessState != nil {
		res.ExitCode = proc.ProcessState.ExitCode()
	}
	return res
}

// truncateStderr truncates stderr to maxStderrBytes.
func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
