package template

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses a job template from a file, applies ${ENV}
// interpolation, and validates its structure. Parameter values are validated
// separately (see ValidateValues) because they arrive at submission time.
func Load(templatePath string) (*Template, error) {
	absPath, err := filepath.Abs(templatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve template path %q: %w", templatePath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("template file not found: %s\n"+
			"Hint: Check the path or run with --template flag", absPath)
	}

	interpolated := interpolateEnv(string(data))

	var tmpl Template
	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolated)))
	dec.KnownFields(true)
	if err := dec.Decode(&tmpl); err != nil {
		return nil, fmt.Errorf("failed to parse template YAML %s: %w", absPath, err)
	}

	if err := validateStructure(&tmpl); err != nil {
		return nil, fmt.Errorf("invalid template %s: %w", absPath, err)
	}

	return &tmpl, nil
}

// interpolateEnv replaces ${VAR} references with environment variable values.
// Unknown variables are left in place so later validation surfaces them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validateStructure checks template shape: names present, known types, one
// step with a Frame axis, actions declared, embedded file references unique.
func validateStructure(t *Template) error {
	if t.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("template declares no steps")
	}

	names := make(map[string]bool)
	for i, p := range t.ParameterDefinitions {
		if p.Name == "" {
			return fmt.Errorf("parameterDefinitions[%d]: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("parameterDefinitions[%d]: duplicate parameter %q", i, p.Name)
		}
		names[p.Name] = true

		switch p.Type {
		case TypePath, TypeString, TypeInt:
		default:
			return fmt.Errorf("parameter %q: unknown type %q", p.Name, p.Type)
		}
		if p.DataFlow != "" && p.Type != TypePath {
			return fmt.Errorf("parameter %q: dataFlow is only valid for PATH parameters", p.Name)
		}
		if p.DataFlow != "" && p.DataFlow != DataFlowIn && p.DataFlow != DataFlowOut {
			return fmt.Errorf("parameter %q: unknown dataFlow %q", p.Name, p.DataFlow)
		}
	}

	for si, step := range t.Steps {
		if step.Name == "" {
			return fmt.Errorf("steps[%d]: name is required", si)
		}
		if len(step.ParameterSpace.TaskParameterDefinitions) == 0 {
			return fmt.Errorf("step %q: parameterSpace declares no task axes", step.Name)
		}
		if step.Script.Actions.OnRun == nil {
			return fmt.Errorf("step %q: script declares no onRun action", step.Name)
		}
		if err := validateAction(step.Script.Actions.OnRun, fmt.Sprintf("step %q onRun", step.Name)); err != nil {
			return err
		}

		fileNames := make(map[string]bool)
		for _, f := range step.Script.EmbeddedFiles {
			if f.Name == "" {
				return fmt.Errorf("step %q: embedded file without a name", step.Name)
			}
			if fileNames[f.Name] {
				return fmt.Errorf("step %q: duplicate embedded file %q", step.Name, f.Name)
			}
			fileNames[f.Name] = true
		}

		for _, env := range step.StepEnvironments {
			if env.Name == "" {
				return fmt.Errorf("step %q: environment without a name", step.Name)
			}
			if env.Script.Actions.OnEnter == nil {
				return fmt.Errorf("environment %q: script declares no onEnter action", env.Name)
			}
			if err := validateAction(env.Script.Actions.OnEnter, fmt.Sprintf("environment %q onEnter", env.Name)); err != nil {
				return err
			}
			if env.Script.Actions.OnExit != nil {
				if err := validateAction(env.Script.Actions.OnExit, fmt.Sprintf("environment %q onExit", env.Name)); err != nil {
					return err
				}
			}
			for _, f := range env.Script.EmbeddedFiles {
				if f.Name == "" {
					return fmt.Errorf("environment %q: embedded file without a name", env.Name)
				}
				if fileNames[f.Name] {
					return fmt.Errorf("environment %q: duplicate embedded file %q", env.Name, f.Name)
				}
				fileNames[f.Name] = true
			}
		}
	}

	return nil
}

func validateAction(a *Action, where string) error {
	if a.Command == "" {
		return fmt.Errorf("%s: command is required", where)
	}
	switch a.CancelMode() {
	case CancelNotifyThenTerminate, CancelTerminate:
	default:
		return fmt.Errorf("%s: unknown cancelation mode %q", where, a.Cancelation.Mode)
	}
	return nil
}
