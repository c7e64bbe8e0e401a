package input

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/xsnotify/internal/model"
	"github.com/jmylchreest/xsnotify/internal/relay"
)

// DunstAdapter samples notifications from dunstctl history.
type DunstAdapter struct {
	logger *slog.Logger
	// history returns the raw dunstctl history JSON.
	history func(ctx context.Context) ([]byte, error)
	now     func() time.Time
}

// NewDunstAdapter creates a new DunstAdapter.
func NewDunstAdapter() *DunstAdapter {
	return &DunstAdapter{
		logger:  slog.Default(),
		history: dunstctlHistory,
		now:     time.Now,
	}
}

// WithLogger sets the adapter's logger.
func (a *DunstAdapter) WithLogger(logger *slog.Logger) *DunstAdapter {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// Open takes the current history as a baseline. Only notifications that
// appear after Open are returned by Sample.
//
// dunstctl history lists closed notifications only, so a notification is
// sampled once dunst closes it: after its timeout expires, or for critical
// notifications once the user dismisses it.
func (a *DunstAdapter) Open(ctx context.Context) (relay.Sampler, error) {
	entries, err := a.fetch(ctx)
	if err != nil {
		return nil, err
	}

	s := &dunstSampler{adapter: a, seen: make(map[int]struct{}, len(entries))}
	s.remember(entries)
	a.logger.Debug("dunst history baseline", "entries", len(entries), "last_id", s.highest)
	return s, nil
}

func (a *DunstAdapter) fetch(ctx context.Context) ([]DunstEntry, error) {
	output, err := a.history(ctx)
	if err != nil {
		return nil, &AdapterError{
			Source:  "dunst",
			Message: "failed to execute dunstctl history",
			Err:     err,
		}
	}
	return ParseDunstHistory(output)
}

func dunstctlHistory(ctx context.Context) ([]byte, error) {
	return exec.CommandContext(ctx, "dunstctl", "history").Output()
}

// dunstSampler tracks which history IDs it has returned. IDs are not
// returned in order: a long-lived notification enters the history after
// newer ones that closed sooner.
type dunstSampler struct {
	adapter *DunstAdapter
	seen    map[int]struct{}
	highest int
}

// Sample returns history entries not seen before, oldest first.
func (s *dunstSampler) Sample(ctx context.Context) ([]model.NotificationEvent, error) {
	entries, err := s.adapter.fetch(ctx)
	if err != nil {
		return nil, err
	}

	if s.restarted(entries) {
		s.adapter.logger.Info("dunst history reset, rebasing", "last_id", s.highest, "newest", maxID(entries))
		clear(s.seen)
		s.highest = 0
	}

	oldest := minID(entries)
	fresh := slices.DeleteFunc(entries, func(e DunstEntry) bool {
		_, ok := s.seen[e.ID]
		return ok
	})
	slices.SortFunc(fresh, func(a, b DunstEntry) int { return a.ID - b.ID })

	events := make([]model.NotificationEvent, 0, len(fresh))
	for _, e := range fresh {
		ev, err := e.Event()
		if err != nil {
			return events, err
		}
		events = append(events, ev)
		s.remember([]DunstEntry{e})
	}
	s.prune(oldest)
	return events, nil
}

// restarted reports whether dunst started over with new IDs: every entry is
// unseen and older than the newest one seen.
func (s *dunstSampler) restarted(entries []DunstEntry) bool {
	if len(entries) == 0 || maxID(entries) >= s.highest {
		return false
	}
	for _, e := range entries {
		if _, ok := s.seen[e.ID]; ok {
			return false
		}
	}
	return true
}

func (s *dunstSampler) remember(entries []DunstEntry) {
	for _, e := range entries {
		s.seen[e.ID] = struct{}{}
		s.highest = max(s.highest, e.ID)
	}
}

// prune forgets IDs older than anything left in the history. They can no
// longer be returned. An empty history (oldest 0) keeps everything.
func (s *dunstSampler) prune(oldest int) {
	for id := range s.seen {
		if id < oldest {
			delete(s.seen, id)
		}
	}
}

func (s *dunstSampler) Close() error { return nil }

func minID(entries []DunstEntry) int {
	if len(entries) == 0 {
		return 0
	}
	lowest := entries[0].ID
	for _, e := range entries {
		lowest = min(lowest, e.ID)
	}
	return lowest
}

func maxID(entries []DunstEntry) int {
	highest := 0
	for _, e := range entries {
		highest = max(highest, e.ID)
	}
	return highest
}

// DunstEntry is one notification from dunstctl history.
type DunstEntry struct {
	ID        int
	AppName   string
	Summary   string
	Body      string
	Timestamp time.Time
}

// Event converts the entry into a captured notification event.
func (e DunstEntry) Event() (model.NotificationEvent, error) {
	return model.NewEventAt(e.AppName, e.Summary, e.Body, e.Timestamp)
}

// dunstHistory represents the top-level dunstctl history JSON structure.
type dunstHistory struct {
	Type string         `json:"type"`
	Data [][]dunstEntry `json:"data"`
}

// dunstEntry represents a single notification in dunstctl history.
type dunstEntry struct {
	ID        dunstValue `json:"id"`
	AppName   dunstValue `json:"appname"`
	Summary   dunstValue `json:"summary"`
	Body      dunstValue `json:"body"`
	Timestamp dunstValue `json:"timestamp"`
}

// dunstValue represents a typed value in dunst JSON.
// dunst uses {"type": "INT", "data": 123} format.
type dunstValue struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// String returns the value as a string.
func (v dunstValue) String() string {
	switch d := v.Data.(type) {
	case string:
		return d
	case float64:
		return strconv.FormatFloat(d, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(d, 10)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", d)
	}
}

// Int returns the value as an int.
func (v dunstValue) Int() int {
	return int(v.Int64())
}

// Int64 returns the value as an int64.
func (v dunstValue) Int64() int64 {
	switch d := v.Data.(type) {
	case float64:
		return int64(d)
	case int64:
		return d
	case string:
		i, _ := strconv.ParseInt(d, 10, 64)
		return i
	default:
		return 0
	}
}

// ParseDunstHistory parses dunstctl history JSON output.
func ParseDunstHistory(data []byte) ([]DunstEntry, error) {
	var history dunstHistory
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, &AdapterError{
			Source:  "dunst",
			Message: "failed to parse dunstctl history JSON",
			Err:     err,
		}
	}

	boot := bootTime()

	var entries []DunstEntry
	// dunst uses nested arrays: data is [[entry1, entry2, ...]]
	for _, group := range history.Data {
		for _, entry := range group {
			id := entry.ID.Int()
			if id <= 0 {
				continue
			}
			entries = append(entries, DunstEntry{
				ID:        id,
				AppName:   model.Sanitize(entry.AppName.String()),
				Summary:   model.Sanitize(entry.Summary.String()),
				Body:      model.Sanitize(entry.Body.String()),
				Timestamp: convertDunstTimestamp(entry.Timestamp.Int64(), boot),
			})
		}
	}

	return entries, nil
}

// convertDunstTimestamp converts a dunst timestamp to wall-clock time.
// Dunst timestamps are microseconds since boot.
func convertDunstTimestamp(dunstTimestamp int64, boot time.Time) time.Time {
	if dunstTimestamp == 0 || boot.IsZero() {
		return time.Now()
	}
	return boot.Add(time.Duration(dunstTimestamp) * time.Microsecond)
}

// bootTime derives the system boot time from /proc/uptime.
// Returns the zero time if uptime is unavailable.
func bootTime() time.Time {
	uptimeData, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return time.Time{}
	}

	fields := strings.Fields(string(uptimeData))
	if len(fields) == 0 {
		return time.Time{}
	}
	uptime, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return time.Time{}
	}

	return time.Now().Add(-time.Duration(uptime * float64(time.Second)))
}
