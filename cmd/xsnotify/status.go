package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/xsnotify/internal/config"
	"github.com/jmylchreest/xsnotify/internal/daemon"
	"github.com/jmylchreest/xsnotify/internal/relay"
	"github.com/jmylchreest/xsnotify/internal/store"
)

var statusOpts struct {
	format string
	path   string
}

// WaybarStatus represents the Waybar custom module JSON format.
type WaybarStatus struct {
	Text    string `json:"text"`
	Alt     string `json:"alt,omitempty"`
	Tooltip string `json:"tooltip,omitempty"`
	Class   string `json:"class,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the running relay",
	Long: `Show the relay status written by a running xsnotify.

The relay refreshes its status file every few seconds. A file that has not
been refreshed for a while is reported as stale, which usually means the
relay was killed.

Formats:
  text    human readable summary (default)
  json    the raw status file
  waybar  Waybar custom module JSON:

  "custom/xsnotify": {
    "exec": "xsnotify status --format waybar",
    "interval": 5,
    "return-type": "json"
  }`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&statusOpts.format, "format", "f", "text",
		"Output format (text, json, waybar)")
	statusCmd.Flags().StringVar(&statusOpts.path, "status-file", "",
		"Path to status file (default: ~/.local/state/xsnotify/status.json)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	path := statusOpts.path
	if path == "" {
		path = config.StatusPath()
	}

	s, err := store.LoadStatus(path)
	if err != nil && !errors.Is(err, store.ErrNoStatus) {
		return err
	}

	out := cmd.OutOrStdout()
	now := time.Now()

	switch statusOpts.format {
	case "text":
		return writeStatusText(out, s, now)
	case "json":
		if s == nil {
			return errors.New("xsnotify has not run yet")
		}
		return writeJSON(out, s)
	case "waybar":
		return writeJSON(out, waybarStatus(s, now))
	default:
		return fmt.Errorf("unknown format %q (expected text, json or waybar)", statusOpts.format)
	}
}

// relayState summarises a status file as running, stale, stopped or
// not-running (no file).
func relayState(s *store.Status, now time.Time) string {
	switch {
	case s == nil:
		return "not-running"
	case s.Stopped:
		return "stopped"
	case s.Stale(now, daemon.DefaultStatusInterval):
		return "stale"
	default:
		return "running"
	}
}

func writeStatusText(w io.Writer, s *store.Status, now time.Time) error {
	state := relayState(s, now)
	if s == nil {
		_, err := fmt.Fprintln(w, "xsnotify has not run yet")
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "State:     %s (pid %d, version %s)\n", state, s.PID, s.Version)
	fmt.Fprintf(&b, "Started:   %s\n", humanize.Time(s.StartedAt))
	fmt.Fprintf(&b, "Updated:   %s\n", humanize.Time(s.UpdatedAt))
	fmt.Fprintf(&b, "Strategy:  %s\n", s.Strategy)
	fmt.Fprintf(&b, "Overlay:   %s\n", s.OverlayAddr)
	if s.ConfigPath != "" {
		fmt.Fprintf(&b, "Config:    %s\n", s.ConfigPath)
	}

	r := s.Relay
	fmt.Fprintf(&b, "\nCaptured:  %s (skipped %s)\n", humanize.Comma(int64(r.Captured)), humanize.Comma(int64(r.Skipped)))
	fmt.Fprintf(&b, "Queued:    %s (dropped %s, waiting %s)\n",
		humanize.Comma(int64(r.Queued)), humanize.Comma(int64(r.Dropped)), humanize.Comma(int64(r.QueueDepth)))
	fmt.Fprintf(&b, "Sent:      %s (lost %s)\n", humanize.Comma(int64(r.Sent)), humanize.Comma(int64(r.Lost)))

	for _, l := range r.Loops {
		fmt.Fprintf(&b, "\n%s loop: %s, %s\n", l.Name, l.State, english.Plural(int(l.Restarts), "restart", "restarts"))
		if l.Panics > 0 {
			fmt.Fprintf(&b, "  panics:     %d\n", l.Panics)
		}
		if l.LastErr != "" {
			fmt.Fprintf(&b, "  last error: %s (%s)\n", l.LastErr, humanize.Time(l.LastErrAt))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// waybarStatus shows the number of delivered notifications, classed by the
// relay state. A loop that is restarting marks the module as degraded.
func waybarStatus(s *store.Status, now time.Time) WaybarStatus {
	state := relayState(s, now)
	if s == nil {
		return WaybarStatus{Text: "", Alt: state, Class: state, Tooltip: "xsnotify is not running"}
	}

	class := state
	if state == "running" && restarting(s.Relay) {
		class = "degraded"
	}

	tooltip := fmt.Sprintf("%s → %s\nSent: %d, skipped: %d, lost: %d",
		s.Strategy, s.OverlayAddr, s.Relay.Sent, s.Relay.Skipped, s.Relay.Lost)
	for _, l := range s.Relay.Loops {
		if l.LastErr != "" {
			tooltip += fmt.Sprintf("\n%s: %s", l.Name, l.LastErr)
		}
	}

	return WaybarStatus{
		Text:    fmt.Sprintf("%d", s.Relay.Sent),
		Alt:     class,
		Tooltip: tooltip,
		Class:   class,
	}
}

func restarting(snap relay.Snapshot) bool {
	for _, l := range snap.Loops {
		if l.State == relay.LoopRestarting {
			return true
		}
	}
	return false
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
