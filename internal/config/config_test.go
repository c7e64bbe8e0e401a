package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 42069, cfg.Port)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, StrategyListener, cfg.NotificationStrategy)
	assert.Equal(t, 250, cfg.PollingRate)
	assert.True(t, cfg.DynamicTimeout)
	assert.Equal(t, 5.0, cfg.DefaultTimeout)
	assert.Equal(t, 238.0, cfg.ReadingSpeed)
	assert.Equal(t, 2.0, cfg.MinTimeout)
	assert.Equal(t, 120.0, cfg.MaxTimeout)
	assert.Empty(t, cfg.SkippedApps)
	assert.NotNil(t, cfg.SkippedApps)
	assert.Equal(t, 0, cfg.Queue.MaxDepth)
	assert.Equal(t, DropOldest, cfg.Queue.DropPolicy)
	assert.False(t, cfg.Queue.RequeueOnFailure)
	assert.NoError(t, cfg.Validate())
}

func TestDefaultFile_MatchesDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, toml.Unmarshal(DefaultFile(), &cfg))
	cfg.normalize()

	assert.Equal(t, *DefaultConfig(), cfg)
}

func TestEnsureDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	written, err := EnsureDefault(path)
	require.NoError(t, err)
	assert.True(t, written)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultFile(), data)

	// An existing file is left alone
	require.NoError(t, os.WriteFile(path, []byte("port = 1234\n"), 0644))
	written, err = EnsureDefault(path)
	require.NoError(t, err)
	assert.False(t, written)

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "port = 1234\n", string(data))
}

func TestReadFile_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := ReadFile("/nonexistent/path/config.toml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestReadFile_ParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
port = 42070
host = "192.168.1.20"
notification_strategy = "polling"
polling_rate = 500
dynamic_timeout = false
default_timeout = 8.5
reading_speed = 300.0
min_timeout = 1.0
max_timeout = 60.0
skipped_apps = ["VRCX", "Spotify"]

[queue]
max_depth = 100
drop_policy = "drop-newest"
requeue_on_failure = true

[overlay]
volume = 0.2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 42070, cfg.Port)
	assert.Equal(t, "192.168.1.20", cfg.Host)
	assert.Equal(t, StrategyPolling, cfg.NotificationStrategy)
	assert.Equal(t, 500, cfg.PollingRate)
	assert.False(t, cfg.DynamicTimeout)
	assert.Equal(t, 8.5, cfg.DefaultTimeout)
	assert.Equal(t, 300.0, cfg.ReadingSpeed)
	assert.Equal(t, 1.0, cfg.MinTimeout)
	assert.Equal(t, 60.0, cfg.MaxTimeout)
	assert.Equal(t, []string{"VRCX", "Spotify"}, cfg.SkippedApps)
	assert.Equal(t, 100, cfg.Queue.MaxDepth)
	assert.Equal(t, DropNewest, cfg.Queue.DropPolicy)
	assert.True(t, cfg.Queue.RequeueOnFailure)
	assert.Equal(t, 0.2, cfg.Overlay.Volume)

	// Unset overlay fields keep their defaults
	assert.Equal(t, DefaultOverlayOpacity, cfg.Overlay.Opacity)
}

func TestReadFile_NormalizesStrategy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("notification_strategy = \" Polling \"\n"), 0644))

	cfg, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, StrategyPolling, cfg.NotificationStrategy)
	assert.NoError(t, cfg.Validate())
}

func TestReadFile_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`this is not valid toml [`), 0644))

	_, err := ReadFile(path)
	assert.Error(t, err)
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "config.toml")

	cfg := DefaultConfig()
	cfg.Port = 2000
	cfg.Host = "testing"
	cfg.NotificationStrategy = StrategyPolling
	cfg.PollingRate = 100
	cfg.DynamicTimeout = false
	cfg.DefaultTimeout = 10
	cfg.ReadingSpeed = 200
	cfg.MinTimeout = 5
	cfg.MaxTimeout = 30
	cfg.SkippedApps = []string{"VRCX", "Discord"}
	cfg.RestartLimit = 2.5
	cfg.ExitOnConfigChange = true
	cfg.Queue = QueueConfig{MaxDepth: 10, DropPolicy: DropNewest, RequeueOnFailure: true}
	cfg.Overlay.Volume = 0.35

	require.NoError(t, cfg.Save(path))

	loaded, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	// No temp file left behind
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestConfig_SaveRoundTripDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	require.NoError(t, DefaultConfig().Save(path))
	loaded, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), loaded)
}

func TestConfig_Clone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SkippedApps = []string{"VRCX"}

	clone := cfg.Clone()
	clone.SkippedApps[0] = "changed"
	clone.Port = 1

	assert.Equal(t, []string{"VRCX"}, cfg.SkippedApps)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestConfig_SkippedApps(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.AddSkippedApp("VRCX"))
	assert.False(t, cfg.AddSkippedApp("VRCX"), "duplicates are ignored")
	assert.False(t, cfg.AddSkippedApp(""), "blank names are ignored")

	// Removing an app that is not present is a no-op
	assert.False(t, cfg.RemoveSkippedApp("Discord"))
	assert.Equal(t, []string{"VRCX"}, cfg.SkippedApps)

	assert.True(t, cfg.IsSkipped("VRCX"))
	assert.False(t, cfg.IsSkipped("vrcx"), "matching is case-sensitive")

	cfg.AddSkippedApp("Discord")
	cfg.AddSkippedApp("Spotify")
	assert.True(t, cfg.RemoveSkippedApp("Discord"))
	assert.Equal(t, []string{"VRCX", "Spotify"}, cfg.SkippedApps)
}

func TestConfig_Durations(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "250ms", cfg.PollingInterval().String())
	assert.Equal(t, "5s", cfg.DefaultTimeoutDuration().String())
	assert.Equal(t, "2s", cfg.MinTimeoutDuration().String())
	assert.Equal(t, "2m0s", cfg.MaxTimeoutDuration().String())
	assert.Equal(t, "1.5s", Seconds(1.5).String())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"port zero", func(c *Config) { c.Port = 0 }, "port"},
		{"port too large", func(c *Config) { c.Port = 70000 }, "port"},
		{"empty host", func(c *Config) { c.Host = "" }, "host"},
		{"unknown strategy", func(c *Config) { c.NotificationStrategy = "push" }, "notification_strategy"},
		{"zero polling rate", func(c *Config) { c.PollingRate = 0 }, "polling_rate"},
		{"negative default timeout", func(c *Config) { c.DefaultTimeout = -1 }, "default_timeout"},
		{"zero reading speed", func(c *Config) { c.ReadingSpeed = 0 }, "reading_speed"},
		{"negative min timeout", func(c *Config) { c.MinTimeout = -1 }, "min_timeout"},
		{"max below min", func(c *Config) { c.MinTimeout = 10; c.MaxTimeout = 5 }, "max_timeout"},
		{"negative restart limit", func(c *Config) { c.RestartLimit = -1 }, "restart_limit"},
		{"negative queue depth", func(c *Config) { c.Queue.MaxDepth = -1 }, "queue.max_depth"},
		{"unknown drop policy", func(c *Config) { c.Queue.DropPolicy = "drop-all" }, "queue.drop_policy"},
		{"opacity out of range", func(c *Config) { c.Overlay.Opacity = 1.5 }, "overlay.opacity"},
		{"volume out of range", func(c *Config) { c.Overlay.Volume = -0.1 }, "overlay.volume"},
		{"zero height", func(c *Config) { c.Overlay.Height = 0 }, "overlay.height"},
		{"nan default timeout", func(c *Config) { c.DefaultTimeout = math.NaN() }, "default_timeout"},
		{"infinite max timeout", func(c *Config) { c.MaxTimeout = math.Inf(1) }, "max_timeout"},
		{"max timeout overflows duration", func(c *Config) { c.MaxTimeout = 1e11 }, "max_timeout"},
		{"default timeout overflows duration", func(c *Config) { c.DefaultTimeout = 1e11 }, "default_timeout"},
		{"nan min timeout", func(c *Config) { c.MinTimeout = math.NaN() }, "min_timeout"},
		{"nan reading speed", func(c *Config) { c.ReadingSpeed = math.NaN() }, "reading_speed"},
		{"infinite reading speed", func(c *Config) { c.ReadingSpeed = math.Inf(1) }, "reading_speed"},
		{"nan restart limit", func(c *Config) { c.RestartLimit = math.NaN() }, "restart_limit"},
		{"nan opacity", func(c *Config) { c.Overlay.Opacity = math.NaN() }, "overlay.opacity"},
		{"nan volume", func(c *Config) { c.Overlay.Volume = math.NaN() }, "overlay.volume"},
		{"infinite height", func(c *Config) { c.Overlay.Height = math.Inf(1) }, "overlay.height"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestConfig_ValidateLargestTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTimeout = MaxTimeoutSeconds
	assert.NoError(t, cfg.Validate())
	assert.Greater(t, cfg.MaxTimeoutDuration(), time.Duration(0))
}

func TestSeconds_Saturates(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want time.Duration
	}{
		{"fraction", 0.25, 250 * time.Millisecond},
		{"too large", 1e11, time.Duration(math.MaxInt64)},
		{"infinite", math.Inf(1), time.Duration(math.MaxInt64)},
		{"too small", -1e11, time.Duration(math.MinInt64)},
		{"negative infinite", math.Inf(-1), time.Duration(math.MinInt64)},
		{"nan", math.NaN(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Seconds(tt.in))
		})
	}
}

func TestConfig_ValidateMinEqualsMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinTimeout = 5
	cfg.MaxTimeout = 5
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	envFile := filepath.Join(dir, "xsnotify.env")

	require.NoError(t, os.WriteFile(path, []byte("port = 1000\nhost = \"file-host\"\nreading_speed = 100.0\n"), 0644))
	require.NoError(t, os.WriteFile(envFile, []byte("XSNOTIF_PORT=2000\nXSNOTIF_HOST=envfile-host\n"), 0644))

	env := map[string]string{"XSNOTIF_PORT": "3000"}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--port", "4000"}))

	cfg, err := Load(LoadOptions{Path: path, EnvFile: envFile, LookupEnv: lookup, Flags: fs})
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Port, "flag beats env")
	assert.Equal(t, "envfile-host", cfg.Host, "env file beats config file")
	assert.Equal(t, 100.0, cfg.ReadingSpeed, "config file beats defaults")
	assert.Equal(t, DefaultMaxTimeout, cfg.MaxTimeout, "defaults fill the rest")

	// Without the flag the real environment wins
	cfg, err = Load(LoadOptions{Path: path, EnvFile: envFile, LookupEnv: lookup})
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)

	// Without the environment the env file wins
	delete(env, "XSNOTIF_PORT")
	cfg, err = Load(LoadOptions{Path: path, EnvFile: envFile, LookupEnv: lookup})
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Port)
}

func TestLoad_UnsetFlagsDoNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("dynamic_timeout = false\nport = 1000\n"), 0644))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--host", "flag-host"}))

	cfg, err := Load(LoadOptions{
		Path:      path,
		EnvFile:   filepath.Join(dir, "missing.env"),
		LookupEnv: func(string) (string, bool) { return "", false },
		Flags:     fs,
	})
	require.NoError(t, err)
	assert.False(t, cfg.DynamicTimeout)
	assert.Equal(t, 1000, cfg.Port)
	assert.Equal(t, "flag-host", cfg.Host)
}

func TestLoad_ListsAndBools(t *testing.T) {
	dir := t.TempDir()
	env := map[string]string{
		"XSNOTIF_SKIPPED_APPS":          "VRCX, Spotify,,VRCX",
		"XSNOTIF_DYNAMIC_TIMEOUT":       "false",
		"XSNOTIF_NOTIFICATION_STRATEGY": "POLLING",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg, err := Load(LoadOptions{
		Path:      filepath.Join(dir, "config.toml"),
		EnvFile:   filepath.Join(dir, "missing.env"),
		LookupEnv: lookup,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"VRCX", "Spotify"}, cfg.SkippedApps)
	assert.False(t, cfg.DynamicTimeout)
	assert.Equal(t, StrategyPolling, cfg.NotificationStrategy)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--skipped-apps", "Discord", "--skipped-apps", "Steam", "--dynamic-timeout=true"}))

	cfg, err = Load(LoadOptions{
		Path:      filepath.Join(dir, "config.toml"),
		EnvFile:   filepath.Join(dir, "missing.env"),
		LookupEnv: lookup,
		Flags:     fs,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Discord", "Steam"}, cfg.SkippedApps)
	assert.True(t, cfg.DynamicTimeout)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	noEnv := func(string) (string, bool) { return "", false }

	t.Run("malformed env value", func(t *testing.T) {
		_, err := Load(LoadOptions{
			Path:    filepath.Join(dir, "config.toml"),
			EnvFile: filepath.Join(dir, "missing.env"),
			LookupEnv: func(key string) (string, bool) {
				if key == "XSNOTIF_PORT" {
					return "not-a-number", true
				}
				return "", false
			},
		})
		assert.ErrorContains(t, err, "XSNOTIF_PORT")
	})

	t.Run("invalid merged config", func(t *testing.T) {
		path := filepath.Join(dir, "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte("min_timeout = 10.0\nmax_timeout = 1.0\n"), 0644))

		_, err := Load(LoadOptions{Path: path, EnvFile: filepath.Join(dir, "missing.env"), LookupEnv: noEnv})
		require.Error(t, err)

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "max_timeout", verr.Field)
	})

	t.Run("non-finite and oversized timeouts", func(t *testing.T) {
		for content, field := range map[string]string{
			"max_timeout = 1e11\n":                             "max_timeout",
			"max_timeout = inf\n":                              "max_timeout",
			"dynamic_timeout = false\ndefault_timeout = nan\n": "default_timeout",
			"reading_speed = nan\n":                            "reading_speed",
		} {
			path := filepath.Join(dir, "nonfinite.toml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))

			_, err := Load(LoadOptions{Path: path, EnvFile: filepath.Join(dir, "missing.env"), LookupEnv: noEnv})
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "content %q", content)
			assert.Equal(t, field, verr.Field, "content %q", content)
		}
	})

	t.Run("unparsable file", func(t *testing.T) {
		path := filepath.Join(dir, "broken.toml")
		require.NoError(t, os.WriteFile(path, []byte("port = [\n"), 0644))

		_, err := Load(LoadOptions{Path: path, EnvFile: filepath.Join(dir, "missing.env"), LookupEnv: noEnv})
		assert.Error(t, err)
	})
}

func TestNames(t *testing.T) {
	assert.Equal(t, "polling-rate", FlagName("polling_rate"))
	assert.Equal(t, "XSNOTIF_POLLING_RATE", EnvName("polling_rate"))
}

func TestConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/xsnotify/config.toml", ConfigPath())
	assert.Equal(t, "/custom/config/xsnotify/xsnotify.env", EnvFilePath())
}

func TestStatusPath(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/custom/state")
	assert.Equal(t, "/custom/state/xsnotify/status.json", StatusPath())
}
