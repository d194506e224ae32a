package daemon

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestServer runs a daemon in-process and blocks until its connection
// file is published. Returns the connection file path and the Run error
// channel.
func startTestServer(t *testing.T, opts ServerOptions) (string, chan error) {
	t.Helper()

	s, err := NewServer(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := ReadConnectionFile(opts.ConnectionFile)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond, "daemon never published its connection file")

	return opts.ConnectionFile, errCh
}

func testServerOptions(t *testing.T, kickBody string) ServerOptions {
	t.Helper()
	writeFakeKick(t, kickBody)

	dir := t.TempDir()
	scene := filepath.Join(dir, "shot010.ass")
	require.NoError(t, os.WriteFile(scene, []byte("# ass scene"), 0o644))

	initPath := filepath.Join(dir, "init-data.yaml")
	require.NoError(t, os.WriteFile(initPath, []byte(
		"scene_file: "+scene+"\noutput_file_path: "+filepath.Join(dir, "renders")+"\n"), 0o644))

	return ServerOptions{
		ConnectionFile: filepath.Join(dir, "connection.json"),
		InitDataURI:    "file://" + initPath,
	}
}

func TestServerRunAndStop(t *testing.T) {
	connPath, errCh := startTestServer(t, testServerOptions(t, `echo "[PROGRESS] 50 percent"
echo "Finished Rendering Frame 12"
exit 0
`))

	client, err := NewClient(connPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, client.Health(ctx))

	var progress []int
	report, code, err := client.Run(ctx, []byte("frame: 12\n"), func(pct int) {
		progress = append(progress, pct)
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, 12, report.Frame)
	assert.Equal(t, 100, report.Progress)
	assert.Equal(t, []int{50, 100}, progress)

	require.NoError(t, Stop(ctx, connPath))

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not exit after stop")
	}

	_, err = os.Stat(connPath)
	assert.True(t, os.IsNotExist(err), "connection file should be removed on exit")
}

func TestServerRunReportsFailureExitCode(t *testing.T) {
	connPath, _ := startTestServer(t, testServerOptions(t, "exit 5\n"))

	client, err := NewClient(connPath)
	require.NoError(t, err)

	report, code, err := client.Run(context.Background(), []byte("frame: 1\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, ExitRenderFailure, code)
	assert.Equal(t, 5, report.ExitCode)
}

func TestServerRejectsBadRunData(t *testing.T) {
	connPath, _ := startTestServer(t, testServerOptions(t, "exit 0\n"))

	client, err := NewClient(connPath)
	require.NoError(t, err)

	_, _, err = client.Run(context.Background(), []byte("no frame here\n"), nil)
	assert.Error(t, err)
}

func TestServerStopIsIdempotentUnderConcurrency(t *testing.T) {
	connPath, errCh := startTestServer(t, testServerOptions(t, "exit 0\n"))

	conn, err := ReadConnectionFile(connPath)
	require.NoError(t, err)

	// Every concurrent stop must be acknowledged; none may crash the handler.
	const stops = 16
	codes := make(chan int, stops)
	var wg sync.WaitGroup
	for i := 0; i < stops; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPost, "http://"+conn.Address+"/stop", nil)
			if err != nil {
				codes <- -1
				return
			}
			req.Header.Set("Authorization", "Bearer "+conn.Token)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				codes <- -1
				return
			}
			_ = resp.Body.Close()
			codes <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(codes)

	for code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not exit after stop")
	}
}

func TestServerRejectsBadToken(t *testing.T) {
	connPath, _ := startTestServer(t, testServerOptions(t, "exit 0\n"))

	conn, err := ReadConnectionFile(connPath)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, "http://"+conn.Address+"/run", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong-token")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStopWithMissingConnectionFileIsNoOp(t *testing.T) {
	err := Stop(context.Background(), filepath.Join(t.TempDir(), "connection.json"))
	assert.NoError(t, err)
}

func TestStopRemovesStaleConnectionFile(t *testing.T) {
	// A PID that is guaranteed dead: run a process to completion first.
	proc := exec.Command("/bin/true")
	require.NoError(t, proc.Run())

	connPath := filepath.Join(t.TempDir(), "connection.json")
	require.NoError(t, WriteConnectionFile(connPath, &ConnectionFile{
		PID:     proc.Process.Pid,
		Address: "127.0.0.1:1",
		Token:   "tok",
	}))

	require.NoError(t, Stop(context.Background(), connPath))

	_, err := os.Stat(connPath)
	assert.True(t, os.IsNotExist(err))
}
