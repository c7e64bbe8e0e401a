// Package settings edits the on-disk configuration one field at a time.
package settings

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jmylchreest/xsnotify/internal/config"
)

// ErrMalformedNumber is returned when numeric input cannot be parsed.
var ErrMalformedNumber = errors.New("malformed number")

// Editor applies single-field changes to a configuration and saves the file
// after every successful change. A rejected change leaves the previous value
// in place.
type Editor struct {
	cfg  *config.Config
	path string
}

// NewEditor edits a copy of cfg. An empty path disables saving.
func NewEditor(cfg *config.Config, path string) *Editor {
	return &Editor{cfg: cfg.Clone(), path: path}
}

// Open loads the config file at path for editing, creating it with defaults
// if it does not exist.
func Open(path string) (*Editor, error) {
	if _, err := config.EnsureDefault(path); err != nil {
		return nil, err
	}
	cfg, err := config.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewEditor(cfg, path), nil
}

// Config returns a copy of the edited configuration.
func (e *Editor) Config() *config.Config {
	return e.cfg.Clone()
}

// Path returns the file changes are saved to.
func (e *Editor) Path() string { return e.path }

// Validate reports problems with the configuration as a whole, such as a
// minimum timeout above the maximum.
func (e *Editor) Validate() error {
	return e.cfg.Validate()
}

// SetPort sets the overlay port from a decimal string.
func (e *Editor) SetPort(v string) error {
	n, err := parseInt("port", v)
	if err != nil {
		return err
	}
	return e.apply("port", func(c *config.Config) { c.Port = n })
}

// SetHost sets the overlay host.
func (e *Editor) SetHost(v string) error {
	return e.apply("host", func(c *config.Config) { c.Host = strings.TrimSpace(v) })
}

// SetStrategy sets the notification strategy. Case and surrounding space are ignored.
func (e *Editor) SetStrategy(v string) error {
	return e.apply("notification_strategy", func(c *config.Config) {
		c.NotificationStrategy = config.Strategy(strings.ToLower(strings.TrimSpace(v)))
	})
}

// SetPollingRate sets the polling interval in milliseconds.
func (e *Editor) SetPollingRate(v string) error {
	n, err := parseInt("polling_rate", v)
	if err != nil {
		return err
	}
	return e.apply("polling_rate", func(c *config.Config) { c.PollingRate = n })
}

// SetDynamicTimeout turns reading-time based timeouts on or off.
func (e *Editor) SetDynamicTimeout(enabled bool) error {
	return e.apply("dynamic_timeout", func(c *config.Config) { c.DynamicTimeout = enabled })
}

// SetDefaultTimeout sets the fixed timeout in seconds.
func (e *Editor) SetDefaultTimeout(v string) error {
	f, err := parseFloat("default_timeout", v)
	if err != nil {
		return err
	}
	return e.apply("default_timeout", func(c *config.Config) { c.DefaultTimeout = f })
}

// SetReadingSpeed sets the reading speed in words per minute.
func (e *Editor) SetReadingSpeed(v string) error {
	f, err := parseFloat("reading_speed", v)
	if err != nil {
		return err
	}
	return e.apply("reading_speed", func(c *config.Config) { c.ReadingSpeed = f })
}

// SetMinTimeout sets the lower bound of dynamic timeouts in seconds.
func (e *Editor) SetMinTimeout(v string) error {
	f, err := parseFloat("min_timeout", v)
	if err != nil {
		return err
	}
	return e.apply("min_timeout", func(c *config.Config) { c.MinTimeout = f })
}

// SetMaxTimeout sets the upper bound of dynamic timeouts in seconds.
func (e *Editor) SetMaxTimeout(v string) error {
	f, err := parseFloat("max_timeout", v)
	if err != nil {
		return err
	}
	return e.apply("max_timeout", func(c *config.Config) { c.MaxTimeout = f })
}

// AddSkippedApp adds app to skipped_apps. Blank names and duplicates are ignored.
func (e *Editor) AddSkippedApp(app string) error {
	next := e.cfg.Clone()
	if !next.AddSkippedApp(strings.TrimSpace(app)) {
		return nil
	}
	return e.commit(next)
}

// RemoveSkippedApp removes app from skipped_apps. Removing an absent app is a no-op.
func (e *Editor) RemoveSkippedApp(app string) error {
	next := e.cfg.Clone()
	if !next.RemoveSkippedApp(app) {
		return nil
	}
	return e.commit(next)
}

// apply changes one field. The change is rejected when it makes that field
// invalid; cross-field problems are left to Validate so that related fields
// can be edited in any order.
func (e *Editor) apply(field string, mutate func(c *config.Config)) error {
	next := e.cfg.Clone()
	mutate(next)
	if err := fieldError(next.Validate(), field); err != nil {
		return err
	}
	return e.commit(next)
}

func (e *Editor) commit(next *config.Config) error {
	if e.path != "" {
		if err := next.Save(e.path); err != nil {
			return err
		}
	}
	e.cfg = next
	return nil
}

// fieldError returns the validation error for field, if any.
func fieldError(err error, field string) error {
	if err == nil {
		return nil
	}

	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	for _, e := range errs {
		var ve *config.ValidationError
		if errors.As(e, &ve) && ve.Field == field {
			return ve
		}
	}
	return nil
}

func parseInt(field, v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: %w %q", field, ErrMalformedNumber, v)
	}
	return n, nil
}

func parseFloat(field, v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s: %w %q", field, ErrMalformedNumber, v)
	}
	return f, nil
}
