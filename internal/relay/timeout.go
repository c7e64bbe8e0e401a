package relay

import (
	"strings"
	"time"

	"github.com/jmylchreest/xsnotify/internal/config"
	"github.com/jmylchreest/xsnotify/internal/model"
)

// Evaluate turns a captured notification into a display directive.
// It returns false when the notification's application is in skipped_apps.
// Evaluate performs no I/O and has no side effects.
func Evaluate(ev model.NotificationEvent, cfg *config.Config) (model.DisplayDirective, bool) {
	if cfg.IsSkipped(ev.SourceApp) {
		return model.DisplayDirective{}, false
	}

	return model.DisplayDirective{
		EventID:    ev.ID,
		SourceApp:  ev.SourceApp,
		Title:      ev.Title,
		Body:       ev.Body,
		Timeout:    DisplayTimeout(ev.Text(), cfg),
		TargetHost: cfg.Host,
		TargetPort: cfg.Port,
	}, true
}

// DisplayTimeout returns how long text should stay on screen.
// Without dynamic timeout this is always default_timeout. With it, the
// reading time estimate is clamped into [min_timeout, max_timeout].
func DisplayTimeout(text string, cfg *config.Config) time.Duration {
	if !cfg.DynamicTimeout {
		return cfg.DefaultTimeoutDuration()
	}

	estimate := ReadingTime(text, cfg.ReadingSpeed)
	return clamp(estimate, cfg.MinTimeoutDuration(), cfg.MaxTimeoutDuration())
}

// ReadingTime estimates how long text takes to read at wordsPerMinute.
// Appending text never shortens the estimate.
func ReadingTime(text string, wordsPerMinute float64) time.Duration {
	if wordsPerMinute <= 0 {
		return 0
	}
	words := len(strings.Fields(text))
	return config.Seconds(float64(words) * 60 / wordsPerMinute)
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		d = lo
	}
	if d > hi {
		d = hi
	}
	return d
}
