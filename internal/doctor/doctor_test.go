package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kilnhq/kiln/internal/config"
	"github.com/kilnhq/kiln/internal/daemon"
	"github.com/kilnhq/kiln/internal/template"
)

const doctorTemplate = `specificationVersion: jobtemplate-2023-09
name: doctor check
parameterDefinitions:
  - name: Frames
    type: STRING
    default: "1"
steps:
  - name: Render
    parameterSpace:
      taskParameterDefinitions:
        - name: Frame
          type: INT
          range: "{{Param.Frames}}"
    script:
      actions:
        onRun:
          command: /bin/true
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
	return cfg
}

func issueFields(issues []Issue) []string {
	var fields []string
	for _, i := range issues {
		fields = append(fields, i.Category+":"+i.Field)
	}
	return fields
}

func TestHealthyEnvironment(t *testing.T) {
	cfg := testConfig(t)

	// Point the renderer at something guaranteed to exist.
	t.Setenv(daemon.EnvKickExecutable, "/bin/true")

	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", r.Warnings)
	}
	if got := FormatHuman(r); !strings.Contains(got, "healthy") {
		t.Errorf("unexpected report: %q", got)
	}
}

func TestMissingRendererIsWarning(t *testing.T) {
	cfg := testConfig(t)
	cfg.Daemon.KickExecutable = filepath.Join(t.TempDir(), "no-such-kick")
	t.Setenv(daemon.EnvKickExecutable, "")

	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("missing renderer must not be an error: %v", r.Errors)
	}
	if len(r.Warnings) == 0 {
		t.Fatalf("expected a renderer warning")
	}
	if r.Warnings[0].Category != "renderer" {
		t.Errorf("expected renderer warning, got %v", r.Warnings[0])
	}
}

func TestHistoryDisabledIsWarning(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Path = "off"
	t.Setenv(daemon.EnvKickExecutable, "/bin/true")

	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got %v", r.Errors)
	}
	if len(r.Warnings) != 1 || r.Warnings[0].Category != "history" {
		t.Errorf("expected one history warning, got %v", r.Warnings)
	}
}

func TestBadPathMappingRulesIsError(t *testing.T) {
	cfg := testConfig(t)
	t.Setenv(daemon.EnvKickExecutable, "/bin/true")

	rules := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(rules, []byte("path_mapping_rules:\n  - source_path: /only/source\n"), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	cfg.PathMappingRulesFile = rules

	r := New(cfg).Validate()
	if r.Valid {
		t.Fatalf("expected invalid result for incomplete rule")
	}
	if r.Errors[0].Category != "pathmap" {
		t.Errorf("expected pathmap error, got %v", issueFields(r.Errors))
	}
}

func TestTemplateChecks(t *testing.T) {
	cfg := testConfig(t)
	t.Setenv(daemon.EnvKickExecutable, "/bin/true")

	dir := t.TempDir()
	path := filepath.Join(dir, "job.yaml")
	if err := os.WriteFile(path, []byte(doctorTemplate), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	d := New(cfg)
	d.TemplatePaths = []string{path}

	// Unlocked template: valid, but flagged.
	r := d.Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got %v", r.Errors)
	}
	found := false
	for _, w := range r.Warnings {
		if w.Category == "template" && strings.Contains(w.Message, "not locked") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected unlocked-template warning, got %v", r.Warnings)
	}

	// Locked template: clean.
	if _, err := template.Lock(dir, []string{"job.yaml"}); err != nil {
		t.Fatalf("lock: %v", err)
	}
	r = d.Validate()
	if !r.Valid || len(r.Warnings) != 0 {
		t.Fatalf("locked template should be clean, got errors %v warnings %v", r.Errors, r.Warnings)
	}

	// Tampered template: error.
	if err := os.WriteFile(path, []byte(doctorTemplate+"# edited\n"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	r = d.Validate()
	if r.Valid {
		t.Fatalf("tampered template must fail validation")
	}
	if r.Errors[0].Category != "template" {
		t.Errorf("expected template error, got %v", issueFields(r.Errors))
	}
}
