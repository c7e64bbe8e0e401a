// Package config handles configuration file loading, layering and validation.
//
// A Config is built once at startup from defaults, the TOML file, an optional
// env file, XSNOTIF_* environment variables and command-line flags (in
// increasing order of precedence). It is never mutated after Load returns;
// picking up a new configuration requires a process restart.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Default configuration values.
const (
	DefaultPort             = 42069
	DefaultHost             = "localhost"
	DefaultStrategy         = StrategyListener
	DefaultPollingRate      = 250 // milliseconds
	DefaultDynamicTimeout   = true
	DefaultDefaultTimeout   = 5.0   // seconds
	DefaultReadingSpeed     = 238.0 // words per minute
	DefaultMinTimeout       = 2.0   // seconds
	DefaultMaxTimeout       = 120.0 // seconds
	DefaultOverlayHeight    = 175.0
	DefaultOverlayOpacity   = 1.0
	DefaultOverlayVolume    = 0.7
	DefaultOverlayAudioPath = "default"
	DefaultOverlayIcon      = "default"

	appDirName = "xsnotify"
)

//go:embed default_config.toml
var defaultConfigTOML []byte

// Strategy selects how notifications are captured.
type Strategy string

const (
	// StrategyListener waits for the source to push each notification.
	StrategyListener Strategy = "listener"
	// StrategyPolling samples the source every polling_rate milliseconds.
	StrategyPolling Strategy = "polling"
)

// ValidStrategies returns all valid strategy values.
func ValidStrategies() []Strategy {
	return []Strategy{StrategyListener, StrategyPolling}
}

// DropPolicy decides which directive is discarded when a bounded queue is full.
type DropPolicy string

const (
	DropOldest DropPolicy = "drop-oldest"
	DropNewest DropPolicy = "drop-newest"
)

// Config is the xsnotify configuration snapshot.
type Config struct {
	Port                 int      `toml:"port"`
	Host                 string   `toml:"host"`
	NotificationStrategy Strategy `toml:"notification_strategy"`
	PollingRate          int      `toml:"polling_rate"` // milliseconds

	DynamicTimeout bool    `toml:"dynamic_timeout"`
	DefaultTimeout float64 `toml:"default_timeout"` // seconds
	ReadingSpeed   float64 `toml:"reading_speed"`   // words per minute
	MinTimeout     float64 `toml:"min_timeout"`     // seconds
	MaxTimeout     float64 `toml:"max_timeout"`     // seconds

	SkippedApps []string `toml:"skipped_apps"`

	// RestartLimit caps loop restarts per second. 0 restarts immediately, forever.
	RestartLimit       float64 `toml:"restart_limit"`
	ExitOnConfigChange bool    `toml:"exit_on_config_change"`

	Queue   QueueConfig   `toml:"queue"`
	Overlay OverlayConfig `toml:"overlay"`
}

// QueueConfig controls the relay queue between the source and sink loops.
type QueueConfig struct {
	MaxDepth         int        `toml:"max_depth"`   // 0 = unbounded
	DropPolicy       DropPolicy `toml:"drop_policy"` // only used when max_depth > 0
	RequeueOnFailure bool       `toml:"requeue_on_failure"`
}

// OverlayConfig holds presentation settings forwarded with every directive.
type OverlayConfig struct {
	Height    float64 `toml:"height"`
	Opacity   float64 `toml:"opacity"` // 0.0-1.0
	Volume    float64 `toml:"volume"`  // 0.0-1.0
	AudioPath string  `toml:"audio_path"`
	Icon      string  `toml:"icon"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Port:                 DefaultPort,
		Host:                 DefaultHost,
		NotificationStrategy: DefaultStrategy,
		PollingRate:          DefaultPollingRate,
		DynamicTimeout:       DefaultDynamicTimeout,
		DefaultTimeout:       DefaultDefaultTimeout,
		ReadingSpeed:         DefaultReadingSpeed,
		MinTimeout:           DefaultMinTimeout,
		MaxTimeout:           DefaultMaxTimeout,
		SkippedApps:          []string{},
		Queue: QueueConfig{
			DropPolicy: DropOldest,
		},
		Overlay: OverlayConfig{
			Height:    DefaultOverlayHeight,
			Opacity:   DefaultOverlayOpacity,
			Volume:    DefaultOverlayVolume,
			AudioPath: DefaultOverlayAudioPath,
			Icon:      DefaultOverlayIcon,
		},
	}
}

// DefaultFile returns the bundled default configuration file contents.
func DefaultFile() []byte {
	return slices.Clone(defaultConfigTOML)
}

// ConfigDir returns the xsnotify config directory.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config.
func ConfigDir() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, appDirName)
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// EnvFilePath returns the path to the optional env file.
func EnvFilePath() string {
	return filepath.Join(ConfigDir(), "xsnotify.env")
}

// StateDir returns the xsnotify state directory.
// Uses XDG_STATE_HOME if set, otherwise ~/.local/state.
func StateDir() string {
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		stateHome = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateHome, appDirName)
}

// StatusPath returns the path to the relay status file.
func StatusPath() string {
	return filepath.Join(StateDir(), "status.json")
}

// EnsureDefault writes the bundled default config to path if no file exists
// there yet. It reports whether a file was written.
func EnsureDefault(path string) (bool, error) {
	if path == "" {
		path = ConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, defaultConfigTOML, 0644); err != nil {
		return false, fmt.Errorf("failed to write default config: %w", err)
	}
	return true, nil
}

// ReadFile parses the TOML file at path on top of the defaults. A missing
// file yields the defaults. The result is not validated.
func ReadFile(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.normalize()

	return cfg, nil
}

// Save writes the configuration to path atomically.
// Creates parent directories if needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.SkippedApps = slices.Clone(c.SkippedApps)
	if clone.SkippedApps == nil {
		clone.SkippedApps = []string{}
	}
	return &clone
}

// IsSkipped reports whether notifications from app are dropped.
// Matching is exact and case-sensitive.
func (c *Config) IsSkipped(app string) bool {
	return slices.Contains(c.SkippedApps, app)
}

// AddSkippedApp appends app to the skip list unless it is blank or already
// present. It reports whether the list changed.
func (c *Config) AddSkippedApp(app string) bool {
	if app == "" || c.IsSkipped(app) {
		return false
	}
	c.SkippedApps = append(c.SkippedApps, app)
	return true
}

// RemoveSkippedApp removes every occurrence of app from the skip list while
// keeping the order of the rest. Removing an absent app is a no-op.
func (c *Config) RemoveSkippedApp(app string) bool {
	before := len(c.SkippedApps)
	c.SkippedApps = slices.DeleteFunc(c.SkippedApps, func(s string) bool { return s == app })
	return len(c.SkippedApps) != before
}

// PollingInterval returns polling_rate as a duration.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.PollingRate) * time.Millisecond
}

// DefaultTimeoutDuration returns default_timeout as a duration.
func (c *Config) DefaultTimeoutDuration() time.Duration {
	return Seconds(c.DefaultTimeout)
}

// MinTimeoutDuration returns min_timeout as a duration.
func (c *Config) MinTimeoutDuration() time.Duration {
	return Seconds(c.MinTimeout)
}

// MaxTimeoutDuration returns max_timeout as a duration.
func (c *Config) MaxTimeoutDuration() time.Duration {
	return Seconds(c.MaxTimeout)
}

// MaxTimeoutSeconds is the longest timeout, in seconds, a time.Duration can hold.
const MaxTimeoutSeconds = float64(math.MaxInt64 / int64(time.Second))

// Seconds converts fractional seconds to a duration. Values outside the
// range of time.Duration saturate; NaN converts to 0.
func Seconds(s float64) time.Duration {
	ns := s * float64(time.Second)
	switch {
	case math.IsNaN(ns):
		return 0
	case ns >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	case ns <= math.MinInt64:
		return time.Duration(math.MinInt64)
	}
	return time.Duration(ns)
}

// normalize fixes up values the TOML decoder may leave in an equivalent but
// different shape.
func (c *Config) normalize() {
	c.NotificationStrategy = Strategy(strings.ToLower(strings.TrimSpace(string(c.NotificationStrategy))))
	if c.SkippedApps == nil {
		c.SkippedApps = []string{}
	}
	if c.Queue.DropPolicy == "" {
		c.Queue.DropPolicy = DropOldest
	}
}
