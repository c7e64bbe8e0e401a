// Package store persists the daemon's runtime status and watches files the
// daemon depends on.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmylchreest/xsnotify/internal/relay"
)

// CurrentSchemaVersion is the current version of the status schema.
const CurrentSchemaVersion = 1

// ErrNoStatus is returned by LoadStatus when no daemon has written a status file.
var ErrNoStatus = errors.New("no status file")

// Status is the daemon's self-reported state, written to
// ~/.local/state/xsnotify/status.json while it runs.
type Status struct {
	PID       int       `json:"pid"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Stopped   bool      `json:"stopped"`

	Strategy    string `json:"strategy"`
	OverlayAddr string `json:"overlay_addr"`
	ConfigPath  string `json:"config_path,omitempty"`

	Relay relay.Snapshot `json:"relay"`

	// Version for compatibility
	SchemaVersion int `json:"schema_version"`
}

// Stale reports whether a running daemon has stopped refreshing the file,
// meaning it most likely died without a clean shutdown.
func (s *Status) Stale(now time.Time, interval time.Duration) bool {
	return !s.Stopped && now.Sub(s.UpdatedAt) > 3*interval
}

// statusFileMutex protects concurrent access to the status file.
var statusFileMutex sync.RWMutex

// LoadStatus loads the status file from disk.
func LoadStatus(path string) (*Status, error) {
	statusFileMutex.RLock()
	defer statusFileMutex.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoStatus
		}
		return nil, fmt.Errorf("failed to read status file: %w", err)
	}

	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status file %s: %w", path, err)
	}

	if status.SchemaVersion == 0 {
		status.SchemaVersion = CurrentSchemaVersion
	}

	return &status, nil
}

// SaveStatus writes the status file atomically.
func SaveStatus(path string, status *Status) error {
	statusFileMutex.Lock()
	defer statusFileMutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	if status.SchemaVersion == 0 {
		status.SchemaVersion = CurrentSchemaVersion
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}

	// Write atomically via temp file
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write status file: %w", err)
	}

	return os.Rename(tmpPath, path)
}
