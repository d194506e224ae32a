package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnhq/kiln/internal/action"
	"github.com/kilnhq/kiln/internal/pathmap"
)

// writeFakeKick installs a shell script standing in for the kick binary and
// points the renderer at it for the duration of the test.
func writeFakeKick(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kick")
	if err := os.WriteFile(path, []byte("#!/bin/bash\n"+body), 0o755); err != nil {
		t.Fatalf("failed to write fake kick: %v", err)
	}
	t.Setenv(EnvKickExecutable, path)
	return path
}

func testInitData(t *testing.T) *InitData {
	t.Helper()
	dir := t.TempDir()
	scene := filepath.Join(dir, "shot010.ass")
	require.NoError(t, os.WriteFile(scene, []byte("# ass scene"), 0o644))
	return &InitData{
		SceneFile:      scene,
		OutputFilePath: filepath.Join(dir, "renders"),
	}
}

func TestNewRendererMissingScene(t *testing.T) {
	writeFakeKick(t, "exit 0\n")
	_, err := NewRenderer(&InitData{
		SceneFile:      filepath.Join(t.TempDir(), "gone.ass"),
		OutputFilePath: t.TempDir(),
	}, nil, action.NewProcessRunner())
	assert.ErrorContains(t, err, "does not exist")
}

func TestNewRendererAppliesPathMapping(t *testing.T) {
	writeFakeKick(t, "exit 0\n")

	local := t.TempDir()
	scene := filepath.Join(local, "shot010.ass")
	require.NoError(t, os.WriteFile(scene, []byte(""), 0o644))

	rules := &pathmap.Rules{Rules: []pathmap.Rule{
		{SourcePathFormat: "POSIX", SourcePath: "/prod/assets", DestinationPath: local},
	}}

	r, err := NewRenderer(&InitData{
		SceneFile:      "/prod/assets/shot010.ass",
		OutputFilePath: "/prod/assets/renders",
	}, rules, action.NewProcessRunner())
	require.NoError(t, err)

	assert.Equal(t, scene, r.InitData().SceneFile)
	assert.Equal(t, filepath.Join(local, "renders"), r.InitData().OutputFilePath)
}

func TestRenderFrameSuccess(t *testing.T) {
	writeFakeKick(t, `echo "[PROGRESS] 25 percent"
echo "[PROGRESS] 75 percent"
echo "Finished Rendering Frame 3"
exit 0
`)

	init := testInitData(t)
	r, err := NewRenderer(init, nil, action.NewProcessRunner())
	require.NoError(t, err)

	var seen []int
	report, err := r.RenderFrame(context.Background(), 3, func(pct int) {
		seen = append(seen, pct)
	})
	require.NoError(t, err)

	assert.Equal(t, 0, report.ExitCode)
	assert.Equal(t, 100, report.Progress)
	assert.False(t, report.LicenseFailure)
	assert.False(t, report.Failed(init))
	assert.Equal(t, []int{25, 75, 100}, seen)
}

func TestRenderFrameBuildsKickArguments(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	writeFakeKick(t, `echo "$@" > `+argsFile+`
exit 0
`)

	init := testInitData(t)
	init.ErrorOnLicenseFail = true
	r, err := NewRenderer(init, nil, action.NewProcessRunner())
	require.NoError(t, err)

	_, err = r.RenderFrame(context.Background(), 7, nil)
	require.NoError(t, err)

	b, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	got := strings.TrimSpace(string(b))

	want := strings.Join([]string{
		"-nstdin", "-dw", "-dp",
		"-i", init.SceneFile,
		"-o", init.OutputFilePath,
		"-frame", "7",
		"-v", "6",
		"-set", "options.abort_on_license_fail", "true",
	}, " ")
	assert.Equal(t, want, got)
}

func TestRenderFrameLicenseFailure(t *testing.T) {
	writeFakeKick(t, `echo "[ass] license authentication failed for arnold" >&2
exit 0
`)

	init := testInitData(t)
	r, err := NewRenderer(init, nil, action.NewProcessRunner())
	require.NoError(t, err)

	report, err := r.RenderFrame(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.True(t, report.LicenseFailure)

	// Permissive policy: a watermark render is still a success.
	assert.False(t, report.Failed(init))

	init.ErrorOnLicenseFail = true
	assert.True(t, report.Failed(init))
}

func TestRenderFrameStrictErrorChecking(t *testing.T) {
	body := `echo "Error: [polymesh] degenerate normals"
echo "Finished Rendering Frame 1"
exit 0
`

	init := testInitData(t)
	init.StrictErrorChecking = true
	writeFakeKick(t, body)
	r, err := NewRenderer(init, nil, action.NewProcessRunner())
	require.NoError(t, err)

	report, err := r.RenderFrame(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Contains(t, report.ErrorLine, "degenerate normals")
	assert.True(t, report.Failed(init))

	init.StrictErrorChecking = false
	r, err = NewRenderer(init, nil, action.NewProcessRunner())
	require.NoError(t, err)

	report, err = r.RenderFrame(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Empty(t, report.ErrorLine)
	assert.False(t, report.Failed(init))
}

func TestRenderFrameNonZeroExitFails(t *testing.T) {
	writeFakeKick(t, "exit 9\n")

	init := testInitData(t)
	r, err := NewRenderer(init, nil, action.NewProcessRunner())
	require.NoError(t, err)

	report, err := r.RenderFrame(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 9, report.ExitCode)
	assert.True(t, report.Failed(init))
}
