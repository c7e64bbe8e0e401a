// Package input provides polling sources over a notification daemon's history.
package input

import (
	"log/slog"
	"os/exec"

	"github.com/jmylchreest/xsnotify/internal/relay"
)

// DetectDaemon returns the name of the first available notification daemon.
// Returns empty string if none found.
func DetectDaemon() string {
	if _, err := exec.LookPath("dunstctl"); err == nil {
		return "dunst"
	}
	return ""
}

// NewPoller creates a relay.Poller for the specified daemon.
// If source is empty, attempts to auto-detect.
func NewPoller(source string, logger *slog.Logger) (relay.Poller, error) {
	if source == "" {
		source = DetectDaemon()
	}

	switch source {
	case "dunst":
		return NewDunstAdapter().WithLogger(logger), nil
	default:
		return nil, &AdapterError{
			Source:  source,
			Message: "unknown or unavailable notification daemon",
		}
	}
}

// AdapterError represents an adapter-related error.
type AdapterError struct {
	Source  string
	Message string
	Err     error
}

func (e *AdapterError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}
