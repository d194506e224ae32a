package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testContext() *Context {
	return &Context{
		Params: map[string]string{
			"ArnoldSceneFile": "/scenes/shot010.ass",
			"Frames":          "1-3",
		},
		TaskParams: map[string]string{
			"Frame": "7",
		},
		EnvFiles: map[string]string{
			"initData": "/tmp/session/init-data.yaml",
		},
		WorkingDirectory:     "/tmp/session",
		PathMappingRulesFile: "/tmp/session/path-mapping.yaml",
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
		hasError bool
	}{
		{"param", "{{Param.ArnoldSceneFile}}", "/scenes/shot010.ass", false},
		{"task param", "frame-{{Task.Param.Frame}}", "frame-7", false},
		{"env file", "file://{{Env.File.initData}}", "file:///tmp/session/init-data.yaml", false},
		{"session working dir", "{{Session.WorkingDirectory}}/out", "/tmp/session/out", false},
		{"session path mapping", "{{Session.PathMappingRulesFile}}", "/tmp/session/path-mapping.yaml", false},
		{"whitespace inside braces", "{{ Param.Frames }}", "1-3", false},
		{"multiple placeholders", "{{Param.Frames}}:{{Task.Param.Frame}}", "1-3:7", false},
		{"no placeholders", "daemon start", "daemon start", false},
		{"undeclared param", "{{Param.Missing}}", "", true},
		{"undeclared task param", "{{Task.Param.Missing}}", "", true},
		{"undeclared env file", "{{Env.File.runData}}", "", true},
		{"unknown session value", "{{Session.Hostname}}", "", true},
		{"unknown namespace", "{{Job.Name}}", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.in, testContext())
			if tt.hasError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestApplyAll(t *testing.T) {
	ctx := testContext()

	args, err := ApplyAll([]string{
		"daemon",
		"run",
		"--connection-file",
		"{{Session.WorkingDirectory}}/connection.json",
		"--run-data",
		"file://{{Env.File.initData}}",
	}, ctx)
	assert.NoError(t, err)
	assert.Equal(t, []string{
		"daemon",
		"run",
		"--connection-file",
		"/tmp/session/connection.json",
		"--run-data",
		"file:///tmp/session/init-data.yaml",
	}, args)

	_, err = ApplyAll([]string{"ok", "{{Param.Nope}}"}, ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "argument 1")
}
