package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to the upper-cased config key to form the
// environment variable name (e.g. XSNOTIF_POLLING_RATE).
const EnvPrefix = "XSNOTIF_"

// LoadOptions selects the sources merged by Load.
type LoadOptions struct {
	// Path is the TOML config file. Empty uses ConfigPath().
	Path string
	// EnvFile is a dotenv file consulted after the real environment.
	// Empty uses EnvFilePath(); a missing file is ignored.
	EnvFile string
	// LookupEnv reads the process environment. Nil uses os.LookupEnv.
	LookupEnv func(key string) (string, bool)
	// Flags holds command-line flags registered with RegisterFlags.
	// Only flags explicitly set on the command line are applied.
	Flags *pflag.FlagSet
}

// setting binds a top-level config key to its env variable and flag.
type setting struct {
	key  string
	set  func(c *Config, v string) error
	flag func(fs *pflag.FlagSet, name string)
}

var settings = []setting{
	{
		key: "port",
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			c.Port = n
			return err
		},
		flag: func(fs *pflag.FlagSet, name string) { fs.IntP(name, "p", DefaultPort, "Overlay port") },
	},
	{
		key: "host",
		set: func(c *Config, v string) error {
			c.Host = v
			return nil
		},
		flag: func(fs *pflag.FlagSet, name string) { fs.String(name, DefaultHost, "Overlay host") },
	},
	{
		key: "notification_strategy",
		set: func(c *Config, v string) error {
			c.NotificationStrategy = Strategy(strings.ToLower(v))
			return nil
		},
		flag: func(fs *pflag.FlagSet, name string) {
			fs.StringP(name, "n", string(DefaultStrategy), "Notification capture strategy (listener, polling)")
		},
	},
	{
		key: "polling_rate",
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			c.PollingRate = n
			return err
		},
		flag: func(fs *pflag.FlagSet, name string) {
			fs.Int(name, DefaultPollingRate, "Polling interval in milliseconds (polling strategy)")
		},
	},
	{
		key: "dynamic_timeout",
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			c.DynamicTimeout = b
			return err
		},
		flag: func(fs *pflag.FlagSet, name string) {
			fs.BoolP(name, "d", DefaultDynamicTimeout, "Scale display time with the amount of text")
		},
	},
	{
		key: "default_timeout",
		set: floatSetter(func(c *Config) *float64 { return &c.DefaultTimeout }),
		flag: func(fs *pflag.FlagSet, name string) {
			fs.Float64(name, DefaultDefaultTimeout, "Display time in seconds when dynamic timeout is off")
		},
	},
	{
		key: "reading_speed",
		set: floatSetter(func(c *Config) *float64 { return &c.ReadingSpeed }),
		flag: func(fs *pflag.FlagSet, name string) {
			fs.Float64(name, DefaultReadingSpeed, "Reading speed in words per minute")
		},
	},
	{
		key: "min_timeout",
		set: floatSetter(func(c *Config) *float64 { return &c.MinTimeout }),
		flag: func(fs *pflag.FlagSet, name string) {
			fs.Float64(name, DefaultMinTimeout, "Minimum display time in seconds")
		},
	},
	{
		key: "max_timeout",
		set: floatSetter(func(c *Config) *float64 { return &c.MaxTimeout }),
		flag: func(fs *pflag.FlagSet, name string) {
			fs.Float64(name, DefaultMaxTimeout, "Maximum display time in seconds")
		},
	},
	{
		key: "skipped_apps",
		set: func(c *Config, v string) error {
			c.SkippedApps = splitList(v)
			return nil
		},
		flag: func(fs *pflag.FlagSet, name string) {
			fs.StringSlice(name, nil, "Applications whose notifications are never relayed")
		},
	},
	{
		key: "restart_limit",
		set: floatSetter(func(c *Config) *float64 { return &c.RestartLimit }),
		flag: func(fs *pflag.FlagSet, name string) {
			fs.Float64(name, 0, "Maximum loop restarts per second (0 = unlimited)")
		},
	},
}

func floatSetter(field func(c *Config) *float64) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

// splitList parses a comma separated list, dropping blanks and duplicates.
func splitList(v string) []string {
	apps := []string{}
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !slices.Contains(apps, s) {
			apps = append(apps, s)
		}
	}
	return apps
}

// FlagName returns the command-line flag name for a config key.
func FlagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// EnvName returns the environment variable name for a config key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(key)
}

// RegisterFlags adds one flag per overridable config key to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	for _, s := range settings {
		s.flag(fs, FlagName(s.key))
	}
}

// Load builds the configuration snapshot from all layers and validates it.
// Precedence, highest first: flags, environment, env file, config file, defaults.
func Load(opts LoadOptions) (*Config, error) {
	cfg, err := ReadFile(opts.Path)
	if err != nil {
		return nil, err
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = EnvFilePath()
	}
	fileEnv, err := readEnvFile(envFile)
	if err != nil {
		return nil, err
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if err := applyEnv(cfg, func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}); err != nil {
		return nil, err
	}

	if opts.Flags != nil {
		if err := applyFlags(cfg, opts.Flags); err != nil {
			return nil, err
		}
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// readEnvFile parses a dotenv file without touching the process environment.
func readEnvFile(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat env file: %w", err)
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse env file %s: %w", path, err)
	}
	return values, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, s := range settings {
		name := EnvName(s.key)
		v, ok := lookup(name)
		if !ok {
			continue
		}
		if err := s.set(cfg, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("failed to parse %s=%q: %w", name, v, err)
		}
	}
	return nil
}

func applyFlags(cfg *Config, fs *pflag.FlagSet) error {
	byFlag := make(map[string]setting, len(settings))
	for _, s := range settings {
		byFlag[FlagName(s.key)] = s
	}

	var firstErr error
	fs.Visit(func(f *pflag.Flag) {
		s, ok := byFlag[f.Name]
		if !ok || firstErr != nil {
			return
		}

		v := f.Value.String()
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			v = strings.Join(sv.GetSlice(), ",")
		}
		if err := s.set(cfg, v); err != nil {
			firstErr = fmt.Errorf("failed to parse --%s=%q: %w", f.Name, v, err)
		}
	})
	return firstErr
}
