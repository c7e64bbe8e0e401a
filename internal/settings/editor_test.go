package settings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/xsnotify/internal/config"
)

func newTestEditor(t *testing.T) (*Editor, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	e, err := Open(path)
	require.NoError(t, err)
	return e, path
}

func reload(t *testing.T, path string) *config.Config {
	t.Helper()
	cfg, err := config.ReadFile(path)
	require.NoError(t, err)
	return cfg
}

func TestOpen_CreatesDefaults(t *testing.T) {
	e, path := newTestEditor(t)
	assert.Equal(t, path, e.Path())
	assert.Equal(t, config.DefaultConfig(), e.Config())
	assert.Equal(t, config.DefaultConfig(), reload(t, path))
}

func TestEditor_Updates(t *testing.T) {
	e, path := newTestEditor(t)

	require.NoError(t, e.SetPort("2000"))
	assert.Equal(t, 2000, e.Config().Port)

	require.NoError(t, e.SetHost("testing"))
	assert.Equal(t, "testing", e.Config().Host)

	require.NoError(t, e.SetPollingRate("100"))
	assert.Equal(t, 100, e.Config().PollingRate)

	require.NoError(t, e.SetDynamicTimeout(false))
	assert.False(t, e.Config().DynamicTimeout)

	require.NoError(t, e.SetDefaultTimeout("10"))
	assert.Equal(t, 10.0, e.Config().DefaultTimeout)

	require.NoError(t, e.SetReadingSpeed("200"))
	assert.Equal(t, 200.0, e.Config().ReadingSpeed)

	require.NoError(t, e.SetMinTimeout("5"))
	assert.Equal(t, 5.0, e.Config().MinTimeout)

	require.NoError(t, e.SetMaxTimeout("30"))
	assert.Equal(t, 30.0, e.Config().MaxTimeout)

	require.NoError(t, e.SetStrategy("Polling"))
	assert.Equal(t, config.StrategyPolling, e.Config().NotificationStrategy)

	require.NoError(t, e.AddSkippedApp("VRCX"))
	require.NoError(t, e.AddSkippedApp("Discord"))
	require.NoError(t, e.RemoveSkippedApp("Discord"))
	assert.Equal(t, []string{"VRCX"}, e.Config().SkippedApps)

	// Every change was saved.
	assert.Equal(t, e.Config(), reload(t, path))
}

func TestEditor_RejectsMalformedNumbers(t *testing.T) {
	e, path := newTestEditor(t)

	tests := []struct {
		name string
		set  func(string) error
	}{
		{"port", e.SetPort},
		{"polling rate", e.SetPollingRate},
		{"default timeout", e.SetDefaultTimeout},
		{"reading speed", e.SetReadingSpeed},
		{"min timeout", e.SetMinTimeout},
		{"max timeout", e.SetMaxTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, input := range []string{"", "abc", "12x", "1,5"} {
				err := tt.set(input)
				assert.ErrorIs(t, err, ErrMalformedNumber, "input %q", input)
			}
		})
	}

	assert.Equal(t, config.DefaultConfig(), e.Config())
	assert.Equal(t, config.DefaultConfig(), reload(t, path))
}

func TestEditor_RejectsNonFiniteNumbers(t *testing.T) {
	e, path := newTestEditor(t)

	setters := map[string]func(string) error{
		"default timeout": e.SetDefaultTimeout,
		"reading speed":   e.SetReadingSpeed,
		"min timeout":     e.SetMinTimeout,
		"max timeout":     e.SetMaxTimeout,
	}

	for name, set := range setters {
		t.Run(name, func(t *testing.T) {
			for _, input := range []string{"NaN", "nan", "Inf", "+inf", "-Infinity"} {
				assert.ErrorIs(t, set(input), ErrMalformedNumber, "input %q", input)
			}
		})
	}

	assert.Equal(t, config.DefaultConfig(), e.Config())
	assert.Equal(t, config.DefaultConfig(), reload(t, path))
}

func TestEditor_RejectsInvalidValues(t *testing.T) {
	e, _ := newTestEditor(t)

	tests := []struct {
		name  string
		apply func() error
		field string
	}{
		{"port zero", func() error { return e.SetPort("0") }, "port"},
		{"port too large", func() error { return e.SetPort("70000") }, "port"},
		{"empty host", func() error { return e.SetHost("  ") }, "host"},
		{"unknown strategy", func() error { return e.SetStrategy("carrier-pigeon") }, "notification_strategy"},
		{"zero polling rate", func() error { return e.SetPollingRate("0") }, "polling_rate"},
		{"zero reading speed", func() error { return e.SetReadingSpeed("0") }, "reading_speed"},
		{"negative default timeout", func() error { return e.SetDefaultTimeout("-1") }, "default_timeout"},
		{"negative min timeout", func() error { return e.SetMinTimeout("-2") }, "min_timeout"},
		{"max below min", func() error { return e.SetMaxTimeout("1") }, "max_timeout"},
		{"max timeout overflows duration", func() error { return e.SetMaxTimeout("1e11") }, "max_timeout"},
		{"default timeout overflows duration", func() error { return e.SetDefaultTimeout("1e11") }, "default_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.apply()
			var ve *config.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	assert.Equal(t, config.DefaultConfig(), e.Config())
}

func TestEditor_CrossFieldEditsAllowed(t *testing.T) {
	e, _ := newTestEditor(t)

	// Raising the minimum above the current maximum is allowed so the
	// maximum can be raised next.
	require.NoError(t, e.SetMinTimeout("150"))
	assert.Error(t, e.Validate())

	require.NoError(t, e.SetMaxTimeout("180"))
	assert.NoError(t, e.Validate())
}

func TestEditor_SkippedAppsNoOps(t *testing.T) {
	e, _ := newTestEditor(t)

	require.NoError(t, e.AddSkippedApp("VRCX"))
	require.NoError(t, e.AddSkippedApp("VRCX"))
	require.NoError(t, e.AddSkippedApp("   "))
	require.NoError(t, e.RemoveSkippedApp("Steam"))

	assert.Equal(t, []string{"VRCX"}, e.Config().SkippedApps)
}

func TestEditor_NoPath(t *testing.T) {
	e := NewEditor(config.DefaultConfig(), "")
	require.NoError(t, e.SetPort("1234"))
	assert.Equal(t, 1234, e.Config().Port)
}

func TestEditor_DoesNotAliasInput(t *testing.T) {
	cfg := config.DefaultConfig()
	e := NewEditor(cfg, "")
	require.NoError(t, e.AddSkippedApp("VRCX"))
	assert.Empty(t, cfg.SkippedApps)
}
