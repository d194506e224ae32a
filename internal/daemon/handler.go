package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"sync"

	"github.com/kilnhq/kiln/internal/action"
	"github.com/kilnhq/kiln/internal/log"
	"github.com/kilnhq/kiln/internal/pathmap"
	"github.com/kilnhq/kiln/internal/template"
)

const (
	// DefaultKickExecutable is the renderer binary resolved from PATH unless
	// KILN_KICK_EXECUTABLE overrides it.
	DefaultKickExecutable = "kick"
	EnvKickExecutable     = "KILN_KICK_EXECUTABLE"
)

var (
	progressPattern    = regexp.MustCompile(`\[PROGRESS\] ([0-9]+) percent`)
	finishedPattern    = regexp.MustCompile(`Finished Rendering Frame ([0-9]+)`)
	errorPattern       = regexp.MustCompile(`Exception:|Error:|Warning`)
	licenseFailPattern = regexp.MustCompile(`(?i)license.{0,60}fail`)
)

// RenderReport is the outcome of one frame render.
type RenderReport struct {
	Frame          int    `json:"frame"`
	ExitCode       int    `json:"exit_code"`
	Progress       int    `json:"progress"`
	LicenseFailure bool   `json:"license_failure"`
	ErrorLine      string `json:"error_line,omitempty"`
	Cancelled      bool   `json:"cancelled,omitempty"`
}

// Failed reports whether the render must be treated as a task failure under
// the given policy.
func (r *RenderReport) Failed(init *InitData) bool {
	if r.Cancelled {
		return true
	}
	if r.LicenseFailure {
		return init.ErrorOnLicenseFail
	}
	if r.ExitCode != 0 {
		return true
	}
	if init.StrictErrorChecking && r.ErrorLine != "" {
		return true
	}
	return false
}

// Renderer drives one kick subprocess per frame. Renders are serialized: the
// daemon is the single shared resource and concurrent run requests queue on
// its mutex.
type Renderer struct {
	kick   string
	init   *InitData
	rules  *pathmap.Rules
	runner action.Runner
	logger *slog.Logger

	mu sync.Mutex
}

// NewRenderer validates the init data against the local filesystem (after
// path mapping) and returns a renderer ready to serve frames.
func NewRenderer(init *InitData, rules *pathmap.Rules, runner action.Runner) (*Renderer, error) {
	if rules == nil {
		rules = &pathmap.Rules{}
	}

	mapped := *init
	mapped.SceneFile = rules.Apply(init.SceneFile)
	mapped.OutputFilePath = rules.Apply(init.OutputFilePath)

	if _, err := os.Stat(mapped.SceneFile); err != nil {
		return nil, fmt.Errorf("scene file %q does not exist", mapped.SceneFile)
	}

	kick := os.Getenv(EnvKickExecutable)
	if kick == "" {
		kick = DefaultKickExecutable
	}

	return &Renderer{
		kick:   kick,
		init:   &mapped,
		rules:  rules,
		runner: runner,
		logger: log.WithComponent("renderer"),
	}, nil
}

// InitData returns the renderer's (path-mapped) init data.
func (r *Renderer) InitData() *InitData {
	return r.init
}

// RenderFrame blocks until kick finishes rendering the frame, the context is
// cancelled, or the process dies. A non-nil report is always returned; the
// error is reserved for infrastructure failures (spawn, I/O). onProgress,
// when non-nil, receives percentages as kick reports them.
func (r *Renderer) RenderFrame(ctx context.Context, frame int, onProgress func(percent int)) (*RenderReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := &RenderReport{Frame: frame}
	logger := r.logger.With("frame", frame)

	scanner := action.NewLineScanner(func(line string) {
		if m := progressPattern.FindStringSubmatch(line); m != nil {
			if pct, err := strconv.Atoi(m[1]); err == nil {
				report.Progress = pct
				if onProgress != nil {
					onProgress(pct)
				}
			}
			return
		}
		if finishedPattern.MatchString(line) {
			report.Progress = 100
			if onProgress != nil {
				onProgress(100)
			}
			return
		}
		if licenseFailPattern.MatchString(line) {
			report.LicenseFailure = true
			logger.Warn("renderer reported license failure", "line", line)
			return
		}
		if r.init.StrictErrorChecking && report.ErrorLine == "" && errorPattern.MatchString(line) {
			report.ErrorLine = line
			logger.Warn("renderer reported error output", "line", line)
		}
	})

	args := []string{
		"-nstdin",
		"-dw",
		"-dp",
		"-i", r.init.SceneFile,
		"-o", r.init.OutputFilePath,
		"-frame", strconv.Itoa(frame),
		"-v", "6",
		"-set", "options.abort_on_license_fail", strconv.FormatBool(r.init.ErrorOnLicenseFail),
	}

	logger.Info("starting render", "kick", r.kick)

	res, err := r.runner.Run(ctx, action.Command{
		Program:    r.kick,
		Args:       args,
		CancelMode: template.CancelNotifyThenTerminate,
		Stdout:     scanner,
	})
	if err != nil && res == nil {
		return report, fmt.Errorf("render frame %d: %w", frame, err)
	}

	scanner.Flush()
	if res != nil {
		report.ExitCode = res.ExitCode
		report.Cancelled = res.Cancelled

		// Stderr also carries renderer diagnostics.
		if licenseFailPattern.MatchString(res.Stderr) {
			report.LicenseFailure = true
		}
	}

	logger.Info("render finished",
		"exit_code", report.ExitCode,
		"license_failure", report.LicenseFailure,
		"cancelled", report.Cancelled)

	return report, nil
}
