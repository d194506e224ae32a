package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ConnectionFile is the file-based handle binding the environment lifecycle
// to the task lifecycle. It is created when the daemon becomes ready, read by
// run/stop, and removed when the daemon exits.
type ConnectionFile struct {
	PID       int       `json:"pid"`
	Address   string    `json:"address"` // host:port of the control API
	Token     string    `json:"token"`   // bearer token for control requests
	StartedAt time.Time `json:"started_at"`
}

// WriteConnectionFile atomically writes the connection file. The rename makes
// readers see either nothing or a complete document.
func WriteConnectionFile(path string, conn *ConnectionFile) error {
	data, err := json.MarshalIndent(conn, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal connection file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create connection directory: %w", err)
	}

	tmp := path + ".tmp"
	// Restrictive permissions: the file holds the control token.
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write connection file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish connection file: %w", err)
	}
	return nil
}

// ReadConnectionFile loads a connection file. os.IsNotExist on the returned
// error distinguishes "daemon never started" from a malformed handle.
func ReadConnectionFile(path string) (*ConnectionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var conn ConnectionFile
	if err := json.Unmarshal(data, &conn); err != nil {
		return nil, fmt.Errorf("parse connection file %s: %w", path, err)
	}
	if conn.Address == "" {
		return nil, fmt.Errorf("connection file %s has no address", path)
	}
	return &conn, nil
}

// RemoveConnectionFile deletes the handle; missing is fine.
func RemoveConnectionFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove connection file: %w", err)
	}
	return nil
}
