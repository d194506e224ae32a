package template

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const arnoldTemplate = `specificationVersion: jobtemplate-2023-09
name: Arnold Render Job
parameterDefinitions:
  - name: ArnoldSceneFile
    type: PATH
    objectType: FILE
    dataFlow: IN
    description: The Arnold scene file to render.
    userInterface:
      control: CHOOSE_INPUT_FILE
      label: Arnold Scene File
  - name: Frames
    type: STRING
    default: "1"
    minLength: 1
    description: The frames to render, e.g. 1-3,8,11-15.
  - name: OutputFilePath
    type: PATH
    objectType: DIRECTORY
    dataFlow: OUT
    description: The directory rendered images are written to.
  - name: ArnoldErrorOnLicenseFailure
    type: STRING
    default: "false"
    allowedValues: ["true", "false"]
    description: Whether to abort the render on a license failure.
  - name: StrictErrorChecking
    type: STRING
    default: "true"
    allowedValues: ["true", "false"]
    description: Fail the step when the renderer reports errors.
steps:
  - name: Render
    parameterSpace:
      taskParameterDefinitions:
        - name: Frame
          type: INT
          range: "{{Param.Frames}}"
    stepEnvironments:
      - name: Arnold
        description: Runs the renderer daemon for the duration of the step.
        script:
          embeddedFiles:
            - name: initData
              filename: init-data.yaml
              type: TEXT
              data: |
                scene_file: '{{Param.ArnoldSceneFile}}'
                output_file_path: '{{Param.OutputFilePath}}'
                error_on_arnold_license_fail: {{Param.ArnoldErrorOnLicenseFailure}}
                strict_error_checking: {{Param.StrictErrorChecking}}
          actions:
            onEnter:
              command: kiln
              args:
                - daemon
                - start
                - --path-mapping-rules
                - "file://{{Session.PathMappingRulesFile}}"
                - --connection-file
                - "{{Session.WorkingDirectory}}/connection.json"
                - --init-data
                - "file://{{Env.File.initData}}"
              cancelation:
                mode: NOTIFY_THEN_TERMINATE
            onExit:
              command: kiln
              args:
                - daemon
                - stop
                - --connection-file
                - "{{Session.WorkingDirectory}}/connection.json"
              cancelation:
                mode: NOTIFY_THEN_TERMINATE
    script:
      embeddedFiles:
        - name: runData
          filename: run-data.yaml
          type: TEXT
          data: "frame: {{Task.Param.Frame}}"
      actions:
        onRun:
          command: kiln
          args:
            - daemon
            - run
            - --connection-file
            - "{{Session.WorkingDirectory}}/connection.json"
            - --run-data
            - "file://{{Env.File.runData}}"
          cancelation:
            mode: NOTIFY_THEN_TERMINATE
`

func writeTemplate(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job-template.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}
	return path
}

func TestLoadArnoldTemplate(t *testing.T) {
	path := writeTemplate(t, arnoldTemplate)

	tmpl, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Arnold Render Job", tmpl.Name)
	assert.Len(t, tmpl.ParameterDefinitions, 5)
	require.Len(t, tmpl.Steps, 1)

	step := tmpl.Steps[0]
	assert.Equal(t, "Render", step.Name)
	require.Len(t, step.ParameterSpace.TaskParameterDefinitions, 1)
	assert.Equal(t, "Frame", step.ParameterSpace.TaskParameterDefinitions[0].Name)
	assert.Equal(t, "{{Param.Frames}}", step.ParameterSpace.TaskParameterDefinitions[0].Range)

	require.Len(t, step.StepEnvironments, 1)
	env := step.StepEnvironments[0]
	assert.Equal(t, "Arnold", env.Name)
	require.NotNil(t, env.Script.Actions.OnEnter)
	require.NotNil(t, env.Script.Actions.OnExit)
	assert.Equal(t, CancelNotifyThenTerminate, env.Script.Actions.OnEnter.CancelMode())

	require.NotNil(t, step.Script.Actions.OnRun)
	assert.Equal(t, "kiln", step.Script.Actions.OnRun.Command)

	scene, ok := tmpl.Parameter("ArnoldSceneFile")
	require.True(t, ok)
	assert.Equal(t, DataFlowIn, scene.DataFlow)
}

func TestLoadEnvInterpolation(t *testing.T) {
	t.Setenv("KILN_TEST_TEMPLATE_NAME", "Interpolated Job")

	content := strings.Replace(arnoldTemplate,
		"name: Arnold Render Job",
		"name: ${KILN_TEST_TEMPLATE_NAME}", 1)
	path := writeTemplate(t, content)

	tmpl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Interpolated Job", tmpl.Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "template file not found")
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	content := strings.Replace(arnoldTemplate,
		"name: Arnold Render Job",
		"name: Arnold Render Job\nunexpectedField: true", 1)
	path := writeTemplate(t, content)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateStructure(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s string) string
		wantErr string
	}{
		{
			name:    "missing onRun",
			mutate:  func(s string) string { return strings.Replace(s, "onRun:", "onRunX:", 1) },
			wantErr: "",
		},
		{
			name: "duplicate parameter",
			mutate: func(s string) string {
				return strings.Replace(s,
					"  - name: Frames",
					"  - name: ArnoldSceneFile\n    type: STRING\n  - name: Frames", 1)
			},
			wantErr: "duplicate parameter",
		},
		{
			name: "bad cancelation mode",
			mutate: func(s string) string {
				return strings.Replace(s, "mode: NOTIFY_THEN_TERMINATE", "mode: ASK_NICELY", 1)
			},
			wantErr: "unknown cancelation mode",
		},
		{
			name: "dataFlow on STRING parameter",
			mutate: func(s string) string {
				return strings.Replace(s,
					"    type: STRING\n    default: \"1\"",
					"    type: STRING\n    dataFlow: IN\n    default: \"1\"", 1)
			},
			wantErr: "dataFlow is only valid for PATH",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemplate(t, tt.mutate(arnoldTemplate))
			_, err := Load(path)
			assert.Error(t, err)
			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
