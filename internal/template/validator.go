package template

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kilnhq/kiln/internal/frames"
)

// ParameterError reports which parameter failed validation and why. The job
// is rejected before any process launches.
type ParameterError struct {
	Name   string
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("parameter %q: %s", e.Name, e.Reason)
}

// ResolveValues merges submitted values over declared defaults. Every
// submitted name must be declared, and every declared parameter must end up
// with a value.
func (t *Template) ResolveValues(submitted map[string]string) (map[string]string, error) {
	for name := range submitted {
		if _, ok := t.Parameter(name); !ok {
			return nil, &ParameterError{Name: name, Reason: "not declared in the job template"}
		}
	}

	values := make(map[string]string, len(t.ParameterDefinitions))
	for _, def := range t.ParameterDefinitions {
		if v, ok := submitted[def.Name]; ok {
			values[def.Name] = v
			continue
		}
		if def.Default != "" {
			values[def.Name] = def.Default
			continue
		}
		return nil, &ParameterError{Name: def.Name, Reason: "no value submitted and no default declared"}
	}
	return values, nil
}

// ValidateValues checks resolved parameter values against their definitions:
// IN paths must exist, OUT path directories must be writable or creatable,
// frame ranges must parse, and constrained values must satisfy allowedValues
// and minLength. The first failing parameter is reported.
func (t *Template) ValidateValues(values map[string]string) error {
	for _, def := range t.ParameterDefinitions {
		value, ok := values[def.Name]
		if !ok {
			return &ParameterError{Name: def.Name, Reason: "missing value"}
		}
		if err := validateValue(&def, value); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(def *ParameterDefinition, value string) error {
	if def.MinLength > 0 && len(value) < def.MinLength {
		return &ParameterError{
			Name:   def.Name,
			Reason: fmt.Sprintf("value is shorter than the minimum length %d", def.MinLength),
		}
	}

	if len(def.AllowedValues) > 0 {
		found := false
		for _, allowed := range def.AllowedValues {
			if value == allowed {
				found = true
				break
			}
		}
		if !found {
			return &ParameterError{
				Name:   def.Name,
				Reason: fmt.Sprintf("value %q is not one of the allowed values %v", value, def.AllowedValues),
			}
		}
	}

	switch def.Type {
	case TypeInt:
		if _, err := strconv.Atoi(value); err != nil {
			return &ParameterError{Name: def.Name, Reason: fmt.Sprintf("value %q is not an integer", value)}
		}

	case TypePath:
		if err := validatePath(def, value); err != nil {
			return err
		}

	case TypeString:
		// The Frames parameter is a STRING carrying a frame range expression;
		// recognize it by name the way the submitter-side templates do.
		if def.Name == "Frames" {
			if _, err := frames.Parse(value); err != nil {
				return &ParameterError{Name: def.Name, Reason: err.Error()}
			}
		}
	}

	return nil
}

func validatePath(def *ParameterDefinition, value string) error {
	switch def.DataFlow {
	case DataFlowIn:
		info, err := os.Stat(value)
		if err != nil {
			return &ParameterError{Name: def.Name, Reason: fmt.Sprintf("input path %q does not exist", value)}
		}
		if def.ObjectType == "FILE" && info.IsDir() {
			return &ParameterError{Name: def.Name, Reason: fmt.Sprintf("input path %q is a directory, expected a file", value)}
		}

	case DataFlowOut:
		// Output must name a location we can produce into: the parent
		// directory must exist or be creatable, and must be writable.
		dir := value
		if def.ObjectType == "FILE" {
			dir = filepath.Dir(value)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &ParameterError{Name: def.Name, Reason: fmt.Sprintf("output directory %q is not creatable: %v", dir, err)}
		}
		probe, err := os.CreateTemp(dir, ".kiln-write-probe-*")
		if err != nil {
			return &ParameterError{Name: def.Name, Reason: fmt.Sprintf("output directory %q is not writable: %v", dir, err)}
		}
		probeName := probe.Name()
		_ = probe.Close()
		_ = os.Remove(probeName)
	}

	return nil
}
