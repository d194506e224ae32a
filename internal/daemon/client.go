package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/kilnhq/kiln/internal/lock"
	"github.com/kilnhq/kiln/internal/log"
)

// Exit codes reported by "kiln daemon run" so the caller can distinguish
// render failures from plumbing failures.
const (
	ExitRenderFailure  = 102
	ExitLicenseFailure = 104
)

// DefaultStartTimeout bounds how long "daemon start" waits for the background
// process to publish its connection file and answer a health check.
const DefaultStartTimeout = 30 * time.Second

// Client talks to a running daemon through its connection file.
type Client struct {
	conn *ConnectionFile
	http *http.Client
}

// NewClient reads the connection file and returns a client bound to that
// daemon instance.
func NewClient(connectionFile string) (*Client, error) {
	conn, err := ReadConnectionFile(connectionFile)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn: conn,
		http: &http.Client{}, // no client timeout: renders are long
	}, nil
}

// Health reports whether the daemon answers on its published address.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"http://"+c.conn.Address+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %s", resp.Status)
	}
	return nil
}

// Run submits one run-data document and blocks until the frame finishes,
// forwarding streamed progress percentages to onProgress when non-nil.
// The returned exit code follows the convention above: 0 on success,
// ExitLicenseFailure when the render was rejected for licensing, and
// ExitRenderFailure for any other failed render.
func (c *Client) Run(ctx context.Context, runData []byte, onProgress func(percent int)) (*RenderReport, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://"+c.conn.Address+"/run", bytes.NewReader(runData))
	if err != nil {
		return nil, 1, err
	}
	req.Header.Set("Authorization", "Bearer "+c.conn.Token)
	req.Header.Set("Content-Type", "application/x-yaml")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 1, fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 1, fmt.Errorf("run request failed: %s: %s",
			resp.Status, readErrorBody(resp.Body))
	}

	var final *RunMessage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg RunMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, 1, fmt.Errorf("decode run response: %w", err)
		}
		switch {
		case msg.Progress != nil:
			if onProgress != nil {
				onProgress(*msg.Progress)
			}
		case msg.Report != nil:
			m := msg
			final = &m
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 1, fmt.Errorf("read run response: %w", err)
	}
	if final == nil {
		return nil, 1, fmt.Errorf("run response ended without a report")
	}

	switch {
	case !final.Failed:
		return final.Report, 0, nil
	case final.Report.LicenseFailure:
		return final.Report, ExitLicenseFailure, nil
	default:
		return final.Report, ExitRenderFailure, nil
	}
}

// Stop asks the daemon to shut down and waits for its process to exit.
func (c *Client) Stop(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://"+c.conn.Address+"/stop", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.conn.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stop request failed: %s: %s",
			resp.Status, readErrorBody(resp.Body))
	}

	// Wait for the daemon to actually go away so callers can clean up the
	// session directory afterwards. Either signal suffices: the process
	// exited, or its listener stopped answering.
	deadline := time.Now().Add(shutdownTimeout)
	for time.Now().Before(deadline) {
		if !lock.PIDAlive(c.conn.PID) {
			return nil
		}
		if err := c.Health(ctx); err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("daemon pid %d did not exit within %s", c.conn.PID, shutdownTimeout)
}

// Stop shuts down the daemon behind the given connection file. A missing or
// stale connection file is logged and treated as success: the desired end
// state, no daemon running, already holds.
func Stop(ctx context.Context, connectionFile string) error {
	logger := log.WithComponent("daemon")

	client, err := NewClient(connectionFile)
	if os.IsNotExist(err) {
		logger.Warn("connection file not found, nothing to stop", "path", connectionFile)
		return nil
	}
	if err != nil {
		return err
	}

	if !lock.PIDAlive(client.conn.PID) {
		logger.Warn("daemon process already gone, removing stale connection file",
			"pid", client.conn.PID, "path", connectionFile)
		return RemoveConnectionFile(connectionFile)
	}

	if err := client.Stop(ctx); err != nil {
		return err
	}
	logger.Info("daemon stopped", "pid", client.conn.PID)
	return nil
}

// StartOptions configure a background daemon launch.
type StartOptions struct {
	ConnectionFile      string
	InitDataURI         string
	PathMappingRulesURI string
	Timeout             time.Duration
}

// Start launches the daemon as a detached background process and blocks until
// it publishes its connection file and answers a health check. The foreground
// serve loop it re-executes is "kiln daemon _serve".
func Start(ctx context.Context, opts StartOptions) error {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultStartTimeout
	}

	if conn, err := ReadConnectionFile(opts.ConnectionFile); err == nil {
		if lock.PIDAlive(conn.PID) {
			return fmt.Errorf("daemon already running (pid %d)", conn.PID)
		}
		// Leftover from a crashed daemon.
		if err := RemoveConnectionFile(opts.ConnectionFile); err != nil {
			return err
		}
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable: %w", err)
	}

	args := []string{"daemon", "_serve",
		"--connection-file", opts.ConnectionFile,
		"--init-data", opts.InitDataURI,
	}
	if opts.PathMappingRulesURI != "" {
		args = append(args, "--path-mapping-rules", opts.PathMappingRulesURI)
	}

	// The daemon gets its own log file: holding the launcher's output pipes
	// open for its whole lifetime would stall whatever spawned the launcher.
	logFile, err := os.OpenFile(opts.ConnectionFile+".log",
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(self, args...)
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}
	// The daemon outlives this process.
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("detach daemon: %w", err)
	}

	logger := log.WithComponent("daemon")
	logger.Info("waiting for daemon to become ready",
		"connection_file", opts.ConnectionFile, "timeout", opts.Timeout)

	deadline := time.Now().Add(opts.Timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}

		client, err := NewClient(opts.ConnectionFile)
		if err != nil {
			continue // not published yet
		}
		if err := client.Health(ctx); err != nil {
			continue
		}
		logger.Info("daemon ready", "pid", client.conn.PID, "address", client.conn.Address)
		return nil
	}
	return fmt.Errorf("daemon did not become ready within %s", opts.Timeout)
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 2048))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return string(bytes.TrimSpace(b))
}
