package config

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// ValidationError describes one invalid configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks if the configuration is valid. All problems are reported,
// joined into a single error.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, invalid("port", "must be between 1 and 65535, got %d", c.Port))
	}
	if c.Host == "" {
		errs = append(errs, invalid("host", "must not be empty"))
	}
	if !slices.Contains(ValidStrategies(), c.NotificationStrategy) {
		errs = append(errs, invalid("notification_strategy", "invalid strategy %q, must be one of: %v",
			c.NotificationStrategy, ValidStrategies()))
	}
	if c.PollingRate <= 0 {
		errs = append(errs, invalid("polling_rate", "must be greater than 0, got %d", c.PollingRate))
	}

	timeoutsOK := true
	for _, t := range []struct {
		field string
		value float64
	}{
		{"default_timeout", c.DefaultTimeout},
		{"min_timeout", c.MinTimeout},
		{"max_timeout", c.MaxTimeout},
	} {
		if err := checkTimeout(t.field, t.value); err != nil {
			errs = append(errs, err)
			timeoutsOK = false
		}
	}
	if timeoutsOK && c.MaxTimeout < c.MinTimeout {
		errs = append(errs, invalid("max_timeout", "must be at least min_timeout (%g), got %g",
			c.MinTimeout, c.MaxTimeout))
	}

	if err := finite("reading_speed", c.ReadingSpeed); err != nil {
		errs = append(errs, err)
	} else if c.ReadingSpeed <= 0 {
		errs = append(errs, invalid("reading_speed", "must be greater than 0, got %g", c.ReadingSpeed))
	}

	if err := finite("restart_limit", c.RestartLimit); err != nil {
		errs = append(errs, err)
	} else if c.RestartLimit < 0 {
		errs = append(errs, invalid("restart_limit", "must not be negative, got %g", c.RestartLimit))
	}

	if c.Queue.MaxDepth < 0 {
		errs = append(errs, invalid("queue.max_depth", "must not be negative, got %d", c.Queue.MaxDepth))
	}
	if c.Queue.DropPolicy != DropOldest && c.Queue.DropPolicy != DropNewest {
		errs = append(errs, invalid("queue.drop_policy", "invalid policy %q, must be %q or %q",
			c.Queue.DropPolicy, DropOldest, DropNewest))
	}

	if err := finite("overlay.opacity", c.Overlay.Opacity); err != nil {
		errs = append(errs, err)
	} else if c.Overlay.Opacity < 0 || c.Overlay.Opacity > 1 {
		errs = append(errs, invalid("overlay.opacity", "must be between 0.0 and 1.0, got %g", c.Overlay.Opacity))
	}
	if err := finite("overlay.volume", c.Overlay.Volume); err != nil {
		errs = append(errs, err)
	} else if c.Overlay.Volume < 0 || c.Overlay.Volume > 1 {
		errs = append(errs, invalid("overlay.volume", "must be between 0.0 and 1.0, got %g", c.Overlay.Volume))
	}
	if err := finite("overlay.height", c.Overlay.Height); err != nil {
		errs = append(errs, err)
	} else if c.Overlay.Height <= 0 {
		errs = append(errs, invalid("overlay.height", "must be greater than 0, got %g", c.Overlay.Height))
	}

	return errors.Join(errs...)
}

// finite rejects NaN and infinities, which TOML accepts as nan and inf.
func finite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid(field, "must be a finite number, got %g", v)
	}
	return nil
}

// checkTimeout requires a finite, non-negative number of seconds that fits
// in a time.Duration.
func checkTimeout(field string, v float64) error {
	if err := finite(field, v); err != nil {
		return err
	}
	if v < 0 {
		return invalid(field, "must not be negative, got %g", v)
	}
	if v > MaxTimeoutSeconds {
		return invalid(field, "must be at most %g seconds, got %g", MaxTimeoutSeconds, v)
	}
	return nil
}
