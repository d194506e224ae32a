package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kilnhq/kiln/internal/action"
	"github.com/kilnhq/kiln/internal/daemon"
	"github.com/kilnhq/kiln/internal/events"
	"github.com/kilnhq/kiln/internal/frames"
	"github.com/kilnhq/kiln/internal/history"
	"github.com/kilnhq/kiln/internal/interp"
	"github.com/kilnhq/kiln/internal/log"
	"github.com/kilnhq/kiln/internal/template"
)

// progressPattern matches the progress lines `kiln daemon run` prints while a
// frame renders.
var progressPattern = regexp.MustCompile(`\[PROGRESS\] ([0-9]+) percent`)

// Options configure one session run.
type Options struct {
	Template     *template.Template
	TemplatePath string

	// Parameters are the submitted job parameter values; declared defaults
	// fill the gaps.
	Parameters map[string]string

	// WorkingDirectory is the session-scoped directory embedded files and the
	// connection file live in. Empty means a fresh temporary directory.
	WorkingDirectory string

	// PathMappingRulesFile resolves {{Session.PathMappingRulesFile}}.
	PathMappingRulesFile string

	// GracePeriod bounds the notify-to-terminate window on cancellation.
	// Zero means the runner default.
	GracePeriod time.Duration
}

// TaskResult is the outcome of one frame task.
type TaskResult struct {
	Frame    int
	ExitCode int
	Status   history.Status
	Error    string
}

// Summary is the outcome of a whole session. Failures after launch are
// reported here, not as a Run error: the session itself completed its
// lifecycle even when tasks did not.
type Summary struct {
	SessionID        string
	Status           history.Status
	WorkingDirectory string
	Frames           []int
	Tasks            []TaskResult
	Error            string
}

// Controller owns one enter/exit cycle and the task loop inside it.
type Controller struct {
	opts   Options
	runner ActionRunner
	hub    *events.Hub
	store  *history.Store
	logger *slog.Logger

	id string
}

// New builds a controller for one session. hub and store may be nil when
// event streaming or history recording is not wanted.
func New(opts Options, runner ActionRunner, hub *events.Hub, store *history.Store) (*Controller, error) {
	if opts.Template == nil {
		return nil, fmt.Errorf("template is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("action runner is required")
	}
	if len(opts.Template.Steps) != 1 {
		return nil, fmt.Errorf("template %q declares %d steps, exactly one is supported",
			opts.Template.Name, len(opts.Template.Steps))
	}

	id := uuid.NewString()
	return &Controller{
		opts:   opts,
		runner: runner,
		hub:    hub,
		store:  store,
		logger: log.WithSession(id),
		id:     id,
	}, nil
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.id }

// Run executes the session: validate, enter the environment, run one task per
// frame, exit the environment. The returned error covers pre-launch rejection
// (parameter validation, frame parsing, working directory setup) and plumbing
// failures; task and environment outcomes land in the Summary. Cancellation
// is not an error: the summary status is cancelled and err is nil.
func (c *Controller) Run(ctx context.Context) (*Summary, error) {
	params, err := c.opts.Template.ResolveValues(c.opts.Parameters)
	if err != nil {
		return nil, err
	}
	if err := c.opts.Template.ValidateValues(params); err != nil {
		return nil, err
	}

	step := &c.opts.Template.Steps[0]
	frameList, err := c.resolveFrames(step, params)
	if err != nil {
		return nil, err
	}

	workdir := c.opts.WorkingDirectory
	if workdir == "" {
		workdir, err = os.MkdirTemp("", "kiln-session-")
		if err != nil {
			return nil, fmt.Errorf("create session directory: %w", err)
		}
	} else if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	ictx := &interp.Context{
		Params:               params,
		EnvFiles:             map[string]string{},
		WorkingDirectory:     workdir,
		PathMappingRulesFile: c.opts.PathMappingRulesFile,
	}

	summary := &Summary{
		SessionID:        c.id,
		Status:           history.StatusSucceeded,
		WorkingDirectory: workdir,
		Frames:           frameList,
	}

	c.recordSessionStart(ctx, params)
	c.publish(events.TypeSessionStarted, map[string]any{
		"session_id": c.id,
		"job":        c.opts.Template.Name,
		"frames":     frameList,
	})
	c.logger.Info("session started", "job", c.opts.Template.Name,
		"frames", len(frameList), "working_directory", workdir)

	var env *template.Environment
	if len(step.StepEnvironments) > 0 {
		env = &step.StepEnvironments[0]
	}

	entered := true
	if env != nil {
		entered = c.enterEnvironment(ctx, env, ictx, summary)
	}

	if entered {
		c.runTasks(ctx, step, ictx, summary)
	}

	// The exit action runs on every path, including enter failure and
	// cancellation: stopping a daemon that never started is a no-op on the
	// daemon side.
	if env != nil {
		c.exitEnvironment(ctx, env, ictx, summary)
	}

	c.finish(ctx, summary)
	return summary, nil
}

// resolveFrames expands the step's Frame axis into the task list.
func (c *Controller) resolveFrames(step *template.Step, params map[string]string) ([]int, error) {
	defs := step.ParameterSpace.TaskParameterDefinitions
	if len(defs) != 1 {
		return nil, fmt.Errorf("step %q declares %d task axes, exactly one is supported",
			step.Name, len(defs))
	}

	expr, err := interp.Apply(defs[0].Range, &interp.Context{Params: params})
	if err != nil {
		return nil, fmt.Errorf("resolve task range: %w", err)
	}
	list, err := frames.Parse(expr)
	if err != nil {
		return nil, &template.ParameterError{Name: "Frames", Reason: err.Error()}
	}
	return list, nil
}

// enterEnvironment materializes the environment's embedded files and runs
// onEnter. Returns true when tasks may proceed.
func (c *Controller) enterEnvironment(ctx context.Context, env *template.Environment, ictx *interp.Context, summary *Summary) bool {
	if err := c.writeEmbeddedFiles(env.Script.EmbeddedFiles, ictx); err != nil {
		summary.Status = history.StatusFailed
		summary.Error = err.Error()
		return false
	}

	enter := env.Script.Actions.OnEnter
	if enter == nil {
		return true
	}

	c.logger.Info("entering environment", "environment", env.Name)
	res, err := c.runAction(ctx, enter, ictx, nil)

	// The runner reports ctx.Err alongside a cancelled result, so check for
	// cancellation before treating the error as a failure.
	switch {
	case res != nil && res.Cancelled:
		summary.Status = history.StatusCancelled
	case err != nil:
		summary.Status = history.StatusFailed
		summary.Error = fmt.Sprintf("environment %s enter: %v", env.Name, err)
	case res.ExitCode != 0:
		summary.Status = history.StatusFailed
		summary.Error = fmt.Sprintf("environment %s enter exited with code %d: %s",
			env.Name, res.ExitCode, lastLine(res.Stderr))
	}

	entered := summary.Status == history.StatusSucceeded
	c.publish(events.TypeEnvEntered, map[string]any{
		"session_id":  c.id,
		"environment": env.Name,
		"ok":          entered,
	})
	if !entered {
		c.logger.Error("environment enter failed", "environment", env.Name, "error", summary.Error)
	}
	return entered
}

// runTasks executes one task per frame, sequentially, honoring the strict
// error checking policy.
func (c *Controller) runTasks(ctx context.Context, step *template.Step, ictx *interp.Context, summary *Summary) {
	strict := ictx.Params["StrictErrorChecking"] == "true"
	axis := step.ParameterSpace.TaskParameterDefinitions[0].Name

	for _, frame := range summary.Frames {
		if ctx.Err() != nil {
			summary.Status = history.StatusCancelled
			return
		}

		task := c.runTask(ctx, step, ictx, axis, frame)
		summary.Tasks = append(summary.Tasks, task)

		if task.Status == history.StatusCancelled {
			summary.Status = history.StatusCancelled
			return
		}
		if task.Status == history.StatusFailed {
			summary.Status = history.StatusFailed
			if summary.Error == "" {
				summary.Error = task.Error
			}
			if strict {
				c.logger.Warn("strict error checking: abandoning remaining frames",
					"failed_frame", frame)
				return
			}
		}
	}
}

// runTask materializes the step's embedded files for one frame and runs the
// onRun action.
func (c *Controller) runTask(ctx context.Context, step *template.Step, ictx *interp.Context, axis string, frame int) TaskResult {
	task := TaskResult{Frame: frame, Status: history.StatusSucceeded}
	taskID := uuid.NewString()
	logger := c.logger.With("frame", frame)

	c.recordTaskStart(ctx, taskID, frame)
	c.publish(events.TypeTaskStarted, map[string]any{
		"session_id": c.id,
		"task_id":    taskID,
		"frame":      frame,
	})

	taskCtx := *ictx
	taskCtx.TaskParams = map[string]string{axis: strconv.Itoa(frame)}

	run := step.Script.Actions.OnRun
	err := c.writeEmbeddedFiles(step.Script.EmbeddedFiles, &taskCtx)
	if err == nil && run == nil {
		err = fmt.Errorf("step %q has no onRun action", step.Name)
	}

	// Surface progress lines the run command prints as live task events.
	scanner := action.NewLineScanner(func(line string) {
		if m := progressPattern.FindStringSubmatch(line); m != nil {
			if pct, aerr := strconv.Atoi(m[1]); aerr == nil {
				c.publish(events.TypeTaskProgress, map[string]any{
					"session_id": c.id,
					"task_id":    taskID,
					"frame":      frame,
					"percent":    pct,
				})
			}
		}
	})

	var res *action.Result
	if err == nil {
		logger.Info("task started")
		res, err = c.runAction(ctx, run, &taskCtx, scanner)
		scanner.Flush()
	}

	switch {
	case res != nil && res.Cancelled:
		task.Status = history.StatusCancelled
	case err != nil:
		task.Status = history.StatusFailed
		task.Error = fmt.Sprintf("frame %d: %v", frame, err)
	case res.ExitCode == daemon.ExitLicenseFailure:
		task.Status = history.StatusFailed
		task.ExitCode = res.ExitCode
		task.Error = fmt.Sprintf("frame %d: renderer license failure", frame)
	case res.ExitCode != 0:
		task.Status = history.StatusFailed
		task.ExitCode = res.ExitCode
		task.Error = fmt.Sprintf("frame %d exited with code %d: %s",
			frame, res.ExitCode, lastLine(res.Stderr))
	}

	c.recordTaskEnd(ctx, taskID, task)
	c.publish(events.TypeTaskFinished, map[string]any{
		"session_id": c.id,
		"task_id":    taskID,
		"frame":      frame,
		"status":     task.Status,
		"exit_code":  task.ExitCode,
	})

	if task.Error != "" {
		logger.Error("task failed", "error", task.Error)
	} else {
		logger.Info("task finished", "status", task.Status)
	}
	return task
}

// exitEnvironment runs onExit. It deliberately ignores the incoming context's
// cancellation: cleanup must complete even while the session is unwinding.
func (c *Controller) exitEnvironment(ctx context.Context, env *template.Environment, ictx *interp.Context, summary *Summary) {
	exit := env.Script.Actions.OnExit
	if exit == nil {
		return
	}

	c.logger.Info("exiting environment", "environment", env.Name)
	res, err := c.runAction(context.WithoutCancel(ctx), exit, ictx, nil)

	ok := err == nil && !res.Cancelled && res.ExitCode == 0
	if !ok {
		// Exit failure never masks the task outcome, but a clean session
		// that failed to release its daemon is itself failed.
		msg := ""
		if err != nil {
			msg = fmt.Sprintf("environment %s exit: %v", env.Name, err)
		} else {
			msg = fmt.Sprintf("environment %s exit exited with code %d: %s",
				env.Name, res.ExitCode, lastLine(res.Stderr))
		}
		c.logger.Error("environment exit failed", "environment", env.Name, "error", msg)
		if summary.Status == history.StatusSucceeded {
			summary.Status = history.StatusFailed
			summary.Error = msg
		}
	}

	c.publish(events.TypeEnvExited, map[string]any{
		"session_id":  c.id,
		"environment": env.Name,
		"ok":          ok,
	})
}

// writeEmbeddedFiles interpolates and materializes embedded documents under
// the working directory, registering each path for {{Env.File.X}} lookups.
func (c *Controller) writeEmbeddedFiles(files []template.EmbeddedFile, ictx *interp.Context) error {
	for _, f := range files {
		data, err := interp.Apply(f.Data, ictx)
		if err != nil {
			return fmt.Errorf("embedded file %s: %w", f.Name, err)
		}

		filename := f.Filename
		if filename == "" {
			filename = f.Name
		}
		path := filepath.Join(ictx.WorkingDirectory, filename)
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			return fmt.Errorf("write embedded file %s: %w", f.Name, err)
		}
		ictx.EnvFiles[f.Name] = path
	}
	return nil
}

// runAction interpolates and dispatches one action. stdout, when non-nil,
// receives the action's standard output live.
func (c *Controller) runAction(ctx context.Context, act *template.Action, ictx *interp.Context, stdout io.Writer) (*action.Result, error) {
	program, err := interp.Apply(act.Command, ictx)
	if err != nil {
		return nil, err
	}
	args, err := interp.ApplyAll(act.Args, ictx)
	if err != nil {
		return nil, err
	}

	var timeout time.Duration
	if act.TimeoutHints != nil && act.TimeoutHints.Seconds > 0 {
		timeout = time.Duration(act.TimeoutHints.Seconds) * time.Second
	}

	return c.runner.Run(ctx, action.Command{
		Program:     program,
		Args:        args,
		Dir:         ictx.WorkingDirectory,
		CancelMode:  act.CancelMode(),
		GracePeriod: c.opts.GracePeriod,
		Timeout:     timeout,
		Stdout:      stdout,
	})
}

func (c *Controller) finish(ctx context.Context, summary *Summary) {
	c.recordSessionEnd(ctx, summary)
	c.publish(events.TypeSessionFinished, map[string]any{
		"session_id": c.id,
		"status":     summary.Status,
		"error":      summary.Error,
	})
	c.logger.Info("session finished", "status", summary.Status,
		"tasks", len(summary.Tasks))
}

func (c *Controller) publish(eventType string, data any) {
	if c.hub != nil {
		c.hub.Publish(eventType, data)
	}
}

func (c *Controller) recordSessionStart(ctx context.Context, params map[string]string) {
	if c.store == nil {
		return
	}
	err := c.store.CreateSession(ctx, history.SessionRecord{
		ID:           c.id,
		JobName:      c.opts.Template.Name,
		TemplatePath: c.opts.TemplatePath,
		Frames:       params["Frames"],
		Status:       history.StatusRunning,
	})
	if err != nil {
		c.logger.Warn("failed to record session start", "error", err)
	}
}

func (c *Controller) recordSessionEnd(ctx context.Context, summary *Summary) {
	if c.store == nil {
		return
	}
	var lastErr *string
	if summary.Error != "" {
		lastErr = &summary.Error
	}
	err := c.store.CompleteSession(context.WithoutCancel(ctx), c.id, summary.Status, lastErr)
	if err != nil {
		c.logger.Warn("failed to record session end", "error", err)
	}
}

func (c *Controller) recordTaskStart(ctx context.Context, taskID string, frame int) {
	if c.store == nil {
		return
	}
	err := c.store.CreateTask(ctx, history.TaskRecord{
		ID:        taskID,
		SessionID: c.id,
		Frame:     frame,
		Status:    history.StatusRunning,
	})
	if err != nil {
		c.logger.Warn("failed to record task start", "error", err)
	}
}

func (c *Controller) recordTaskEnd(ctx context.Context, taskID string, task TaskResult) {
	if c.store == nil {
		return
	}
	var exitCode *int
	if task.ExitCode != 0 {
		exitCode = &task.ExitCode
	}
	var lastErr *string
	if task.Error != "" {
		lastErr = &task.Error
	}
	err := c.store.CompleteTask(context.WithoutCancel(ctx), taskID, task.Status, exitCode, lastErr)
	if err != nil {
		c.logger.Warn("failed to record task end", "error", err)
	}
}

// lastLine extracts the trailing non-empty line of captured output for error
// messages.
func lastLine(s string) string {
	end := len(s)
	for end > 0 && (s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	start := end
	for start > 0 && s[start-1] != '\n' {
		start--
	}
	if start == end {
		return "(no output)"
	}
	return s[start:end]
}
