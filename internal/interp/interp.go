// Package interp substitutes job template placeholders such as {{Param.Frames}}
// or {{Session.WorkingDirectory}} before commands are constructed. Keeping
// substitution here means command-invocation code only ever sees resolved
// strings.
package interp

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z][A-Za-z0-9_]*(?:\.[A-Za-z][A-Za-z0-9_]*)*)\s*\}\}`)

// Context holds the values placeholders resolve against. Params are job-level
// parameter values, TaskParams are per-task values (e.g. Frame), EnvFiles are
// embedded file paths materialized for the current environment.
type Context struct {
	Params               map[string]string
	TaskParams           map[string]string
	EnvFiles             map[string]string
	WorkingDirectory     string
	PathMappingRulesFile string
}

// Apply substitutes every placeholder in s. An unresolvable placeholder is an
// error: a template must declare everything it references.
func Apply(s string, ctx *Context) (string, error) {
	var firstErr error

	out := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		ref := placeholderPattern.FindStringSubmatch(match)[1]
		val, err := resolve(ref, ctx)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return val
	})

	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// ApplyAll substitutes placeholders in each element of args.
func ApplyAll(args []string, ctx *Context) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		resolved, err := Apply(a, ctx)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = resolved
	}
	return out, nil
}

func resolve(ref string, ctx *Context) (string, error) {
	parts := strings.Split(ref, ".")

	switch parts[0] {
	case "Param":
		if len(parts) != 2 {
			return "", fmt.Errorf("malformed placeholder {{%s}}", ref)
		}
		if v, ok := ctx.Params[parts[1]]; ok {
			return v, nil
		}
		return "", fmt.Errorf("placeholder {{%s}}: parameter %q is not declared", ref, parts[1])

	case "Task":
		if len(parts) != 3 || parts[1] != "Param" {
			return "", fmt.Errorf("malformed placeholder {{%s}}", ref)
		}
		if v, ok := ctx.TaskParams[parts[2]]; ok {
			return v, nil
		}
		return "", fmt.Errorf("placeholder {{%s}}: task parameter %q is not declared", ref, parts[2])

	case "Env":
		if len(parts) != 3 || parts[1] != "File" {
			return "", fmt.Errorf("malformed placeholder {{%s}}", ref)
		}
		if v, ok := ctx.EnvFiles[parts[2]]; ok {
			return v, nil
		}
		return "", fmt.Errorf("placeholder {{%s}}: embedded file %q is not declared", ref, parts[2])

	case "Session":
		if len(parts) != 2 {
			return "", fmt.Errorf("malformed placeholder {{%s}}", ref)
		}
		switch parts[1] {
		case "WorkingDirectory":
			return ctx.WorkingDirectory, nil
		case "PathMappingRulesFile":
			return ctx.PathMappingRulesFile, nil
		}
		return "", fmt.Errorf("placeholder {{%s}}: unknown session value %q", ref, parts[1])
	}

	return "", fmt.Errorf("placeholder {{%s}}: unknown namespace %q", ref, parts[0])
}
