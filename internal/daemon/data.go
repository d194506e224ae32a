// Package daemon implements both halves of the daemon control protocol: the
// long-lived render daemon that owns kick subprocesses, and the start/run/stop
// client commands that address it through a connection file.
package daemon

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// InitData is the session-scoped document written once per environment entry
// (init-data.yaml).
type InitData struct {
	SceneFile           string `yaml:"scene_file"`
	OutputFilePath      string `yaml:"output_file_path"`
	ErrorOnLicenseFail  bool   `yaml:"error_on_arnold_license_fail"`
	StrictErrorChecking bool   `yaml:"strict_error_checking"`
}

// RunData is the per-task document written once per frame (run-data.yaml).
type RunData struct {
	Frame *int `yaml:"frame"`
}

// ParseInitData decodes and validates an init-data document.
func ParseInitData(data []byte) (*InitData, error) {
	var init InitData
	if err := yaml.Unmarshal(data, &init); err != nil {
		return nil, fmt.Errorf("parse init data: %w", err)
	}
	if init.SceneFile == "" {
		return nil, fmt.Errorf("init data: scene_file is required")
	}
	if init.OutputFilePath == "" {
		return nil, fmt.Errorf("init data: output_file_path is required")
	}
	return &init, nil
}

// ParseRunData decodes and validates a run-data document.
func ParseRunData(data []byte) (*RunData, error) {
	var run RunData
	if err := yaml.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("parse run data: %w", err)
	}
	if run.Frame == nil {
		return nil, fmt.Errorf("run data: frame is required")
	}
	if *run.Frame < 0 {
		return nil, fmt.Errorf("run data: frame %d is negative", *run.Frame)
	}
	return &run, nil
}

// ReadDataURI loads the bytes behind an init/run data reference. Supported
// forms: a "file://" URI, a plain filesystem path, or an inline "data:"
// payload.
func ReadDataURI(uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "file://"):
		return os.ReadFile(strings.TrimPrefix(uri, "file://"))
	case strings.HasPrefix(uri, "data:"):
		return []byte(strings.TrimPrefix(uri, "data:")), nil
	default:
		return os.ReadFile(uri)
	}
}
