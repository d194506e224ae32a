// Package template defines the job template schema consumed by the session
// engine: parameter definitions, steps, step environments, and the daemon
// control actions they declare.
package template

// Template represents a complete job template document.
type Template struct {
	SpecificationVersion string                `yaml:"specificationVersion,omitempty"`
	Name                 string                `yaml:"name"`
	ParameterDefinitions []ParameterDefinition `yaml:"parameterDefinitions"`
	Steps                []Step                `yaml:"steps"`
}

// Parameter types.
const (
	TypePath   = "PATH"
	TypeString = "STRING"
	TypeInt    = "INT"
)

// Data flow directions for PATH parameters. IN paths are consumed inputs,
// OUT paths are produced artifacts.
const (
	DataFlowIn  = "IN"
	DataFlowOut = "OUT"
)

// ParameterDefinition declares one job parameter.
type ParameterDefinition struct {
	Name          string         `yaml:"name"`
	Type          string         `yaml:"type"`
	ObjectType    string         `yaml:"objectType,omitempty"` // FILE or DIRECTORY, PATH only
	DataFlow      string         `yaml:"dataFlow,omitempty"`   // IN or OUT, PATH only
	Default       string         `yaml:"default,omitempty"`
	AllowedValues []string       `yaml:"allowedValues,omitempty"`
	MinLength     int            `yaml:"minLength,omitempty"`
	Description   string         `yaml:"description,omitempty"`
	UserInterface *UserInterface `yaml:"userInterface,omitempty"`
}

// UserInterface carries submitter UI hints. The engine never interprets these
// beyond parsing them.
type UserInterface struct {
	Control    string `yaml:"control,omitempty"`
	Label      string `yaml:"label,omitempty"`
	GroupLabel string `yaml:"groupLabel,omitempty"`
	FileFilter string `yaml:"fileFilter,omitempty"`
}

// Step is a named unit of work with a task parameter space and optional
// step-scoped environments.
type Step struct {
	Name             string         `yaml:"name"`
	ParameterSpace   ParameterSpace `yaml:"parameterSpace"`
	StepEnvironments []Environment  `yaml:"stepEnvironments,omitempty"`
	Script           StepScript     `yaml:"script"`
}

// ParameterSpace declares the task axes of a step. This engine supports the
// single Frame axis ranging over the parsed Frames expression.
type ParameterSpace struct {
	TaskParameterDefinitions []TaskParameterDefinition `yaml:"taskParameterDefinitions"`
}

// TaskParameterDefinition declares one task axis.
type TaskParameterDefinition struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Range string `yaml:"range"` // a parameter interpolation, e.g. "{{Param.Frames}}"
}

// Environment is a step-scoped resource entered once before any task of the
// step runs and exited once after the last task finishes or the step is
// cancelled.
type Environment struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Script      EnvironmentScript `yaml:"script"`
}

// EnvironmentScript declares the enter/exit actions of an environment and the
// files it embeds.
type EnvironmentScript struct {
	EmbeddedFiles []EmbeddedFile     `yaml:"embeddedFiles,omitempty"`
	Actions       EnvironmentActions `yaml:"actions"`
}

// EnvironmentActions holds the environment lifecycle actions.
type EnvironmentActions struct {
	OnEnter *Action `yaml:"onEnter,omitempty"`
	OnExit  *Action `yaml:"onExit,omitempty"`
}

// StepScript declares the per-task action and the files it embeds.
type StepScript struct {
	EmbeddedFiles []EmbeddedFile `yaml:"embeddedFiles,omitempty"`
	Actions       StepActions    `yaml:"actions"`
}

// StepActions holds the task lifecycle actions.
type StepActions struct {
	OnRun *Action `yaml:"onRun,omitempty"`
}

// EmbeddedFile is a document materialized to the session working directory
// before its owning action runs. Its path is addressable as {{Env.File.Name}}.
type EmbeddedFile struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // TEXT
	Filename string `yaml:"filename,omitempty"`
	Data     string `yaml:"data"`
}

// Cancellation modes.
const (
	CancelNotifyThenTerminate = "NOTIFY_THEN_TERMINATE"
	CancelTerminate           = "TERMINATE"
)

// Action is one command invocation with a cancellation policy.
type Action struct {
	Command      string        `yaml:"command"`
	Args         []string      `yaml:"args,omitempty"`
	Cancelation  *Cancelation  `yaml:"cancelation,omitempty"`
	TimeoutHints *TimeoutHints `yaml:"timeout,omitempty"`
}

// Cancelation describes how a running action is cancelled.
type Cancelation struct {
	Mode string `yaml:"mode"`
}

// TimeoutHints are optional per-action timeout overrides; the engine supplies
// defaults when absent.
type TimeoutHints struct {
	Seconds int `yaml:"seconds"`
}

// CancelMode returns the action's cancellation mode, defaulting to
// NOTIFY_THEN_TERMINATE.
func (a *Action) CancelMode() string {
	if a == nil || a.Cancelation == nil || a.Cancelation.Mode == "" {
		return CancelNotifyThenTerminate
	}
	return a.Cancelation.Mode
}

// Parameter returns the declared parameter with the given name.
func (t *Template) Parameter(name string) (*ParameterDefinition, bool) {
	for i := range t.ParameterDefinitions {
		if t.ParameterDefinitions[i].Name == name {
			return &t.ParameterDefinitions[i], true
		}
	}
	return nil, false
}
