// Package doctor validates a kiln installation: configuration, renderer
// availability, history storage, path mapping rules and job templates.
package doctor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kilnhq/kiln/internal/config"
	"github.com/kilnhq/kiln/internal/daemon"
	"github.com/kilnhq/kiln/internal/history"
	"github.com/kilnhq/kiln/internal/pathmap"
	"github.com/kilnhq/kiln/internal/template"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates kiln's configuration and its environment.
type Doctor struct {
	cfg *config.Config

	// TemplatePaths are job templates to load and integrity-check. Optional.
	TemplatePaths []string
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.checkRenderer(r)
	d.checkHistory(r)
	d.checkPathMappingRules(r)
	d.checkTemplates(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// checkRenderer verifies the renderer binary can be found. A missing binary
// is a warning, not an error: submission-side hosts never run it.
func (d *Doctor) checkRenderer(r *Result) {
	kick := os.Getenv(daemon.EnvKickExecutable)
	field := "env." + daemon.EnvKickExecutable
	if kick == "" {
		kick = d.cfg.Daemon.KickExecutable
		field = "daemon.kick_executable"
	}
	if kick == "" {
		kick = daemon.DefaultKickExecutable
		field = ""
	}

	if strings.ContainsRune(kick, os.PathSeparator) {
		info, err := os.Stat(kick)
		if err != nil {
			d.addWarning(r, "renderer", field, fmt.Sprintf("renderer binary %q not found", kick))
			return
		}
		if info.IsDir() || info.Mode()&0o111 == 0 {
			d.addError(r, "renderer", field, fmt.Sprintf("renderer binary %q is not executable", kick))
		}
		return
	}

	if _, err := exec.LookPath(kick); err != nil {
		d.addWarning(r, "renderer", field, fmt.Sprintf("renderer binary %q not found on PATH", kick))
	}
}

// checkHistory verifies the history database location is usable.
func (d *Doctor) checkHistory(r *Result) {
	path := d.cfg.History.Path
	if path == "off" {
		d.addWarning(r, "history", "history.path", "history recording is disabled")
		return
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.addError(r, "history", "history.path",
			fmt.Sprintf("history directory %q is not creatable: %v", dir, err))
		return
	}

	// Opening the database also applies pending schema migrations, which is
	// exactly what a run would do.
	db, err := history.OpenSQLite(context.Background(), path)
	if err != nil {
		d.addError(r, "history", "history.path",
			fmt.Sprintf("history database %q cannot be opened: %v", path, err))
		return
	}
	defer func(db *sql.DB) { _ = db.Close() }(db)
}

// checkPathMappingRules parses the configured rules file, when one is set.
func (d *Doctor) checkPathMappingRules(r *Result) {
	path := d.cfg.PathMappingRulesFile
	if path == "" {
		return
	}
	rules, err := pathmap.Load(path)
	if err != nil {
		d.addError(r, "pathmap", "path_mapping_rules", err.Error())
		return
	}
	if len(rules.Rules) == 0 {
		d.addWarning(r, "pathmap", "path_mapping_rules",
			fmt.Sprintf("rules file %q contains no rules", path))
	}
}

// checkTemplates loads each template and verifies its checksum manifest.
func (d *Doctor) checkTemplates(r *Result) {
	for _, path := range d.TemplatePaths {
		if err := template.VerifyIntegrity(path); err != nil {
			d.addError(r, "template", path, err.Error())
			continue
		}
		if _, err := template.Load(path); err != nil {
			d.addError(r, "template", path, err.Error())
			continue
		}
		if _, err := os.Stat(filepath.Join(filepath.Dir(path), ".checksums")); os.IsNotExist(err) {
			d.addWarning(r, "template", path,
				"template is not locked; run 'kiln template lock' to pin it")
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Environment healthy.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Environment healthy (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Environment unhealthy (%d error(s), %d warning(s))\n",
			len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
