package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/xsnotify/internal/config"
	"github.com/jmylchreest/xsnotify/internal/model"
)

// Subscription delivers notifications pushed by the platform, one at a time.
type Subscription interface {
	// Next blocks until a notification arrives, the subscription breaks,
	// or ctx is done.
	Next(ctx context.Context) (model.NotificationEvent, error)
	Close() error
}

// Listener opens push subscriptions to the notification system.
type Listener interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// Sampler returns notifications that appeared since its previous call.
type Sampler interface {
	Sample(ctx context.Context) ([]model.NotificationEvent, error)
	Close() error
}

// Poller opens samplers over the notification history.
type Poller interface {
	Open(ctx context.Context) (Sampler, error)
}

// Sources holds the capture mechanisms available on this platform.
// Only the one matching notification_strategy is used.
type Sources struct {
	Listener Listener
	Poller   Poller
}

// ErrNoSource is returned when the configured strategy has no implementation.
var ErrNoSource = errors.New("no notification source for strategy")

// batcher yields the next batch of captured notifications. Each
// notification strategy provides one.
type batcher interface {
	next(ctx context.Context) ([]model.NotificationEvent, error)
	Close() error
}

type listenBatcher struct {
	sub Subscription
}

func (b *listenBatcher) next(ctx context.Context) ([]model.NotificationEvent, error) {
	ev, err := b.sub.Next(ctx)
	if err != nil {
		return nil, err
	}
	return []model.NotificationEvent{ev}, nil
}

func (b *listenBatcher) Close() error { return b.sub.Close() }

type pollBatcher struct {
	sampler  Sampler
	interval time.Duration
	timer    *time.Timer
}

func (b *pollBatcher) next(ctx context.Context) ([]model.NotificationEvent, error) {
	if b.timer == nil {
		b.timer = time.NewTimer(b.interval)
	} else {
		b.timer.Reset(b.interval)
	}

	select {
	case <-b.timer.C:
	case <-ctx.Done():
		b.timer.Stop()
		return nil, ctx.Err()
	}
	return b.sampler.Sample(ctx)
}

func (b *pollBatcher) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	return b.sampler.Close()
}

// SourceLoop captures notifications, evaluates them against the config and
// pushes the resulting directives onto the queue.
type SourceLoop struct {
	cfg    *config.Config
	queue  *Queue
	logger *slog.Logger
	open   func(ctx context.Context) (batcher, error)

	captured atomic.Uint64
	skipped  atomic.Uint64
	queued   atomic.Uint64
}

// NewSourceLoop resolves the configured strategy against the available sources.
func NewSourceLoop(cfg *config.Config, sources Sources, queue *Queue, logger *slog.Logger) (*SourceLoop, error) {
	if logger == nil {
		logger = slog.Default()
	}

	l := &SourceLoop{cfg: cfg, queue: queue, logger: logger}

	switch cfg.NotificationStrategy {
	case config.StrategyListener:
		if sources.Listener == nil {
			return nil, fmt.Errorf("%w %q", ErrNoSource, cfg.NotificationStrategy)
		}
		l.open = func(ctx context.Context) (batcher, error) {
			sub, err := sources.Listener.Subscribe(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to subscribe to notifications: %w", err)
			}
			return &listenBatcher{sub: sub}, nil
		}
	case config.StrategyPolling:
		if sources.Poller == nil {
			return nil, fmt.Errorf("%w %q", ErrNoSource, cfg.NotificationStrategy)
		}
		interval := cfg.PollingInterval()
		l.open = func(ctx context.Context) (batcher, error) {
			sampler, err := sources.Poller.Open(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to open notification history: %w", err)
			}
			return &pollBatcher{sampler: sampler, interval: interval}, nil
		}
	default:
		return nil, fmt.Errorf("%w %q", ErrNoSource, cfg.NotificationStrategy)
	}

	return l, nil
}

// Run opens the source and relays notifications until the source fails or
// ctx is done. It never returns nil.
func (l *SourceLoop) Run(ctx context.Context) error {
	b, err := l.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			l.logger.Debug("failed to close notification source", "error", err)
		}
	}()

	l.logger.Debug("notification source opened", "strategy", l.cfg.NotificationStrategy)

	for {
		events, err := b.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read notifications: %w", err)
		}
		for _, ev := range events {
			l.handle(ev)
		}
	}
}

func (l *SourceLoop) handle(ev model.NotificationEvent) {
	l.captured.Add(1)

	if err := ev.Validate(); err != nil {
		l.skipped.Add(1)
		l.logger.Debug("ignoring malformed notification",
			"app", ev.SourceApp, "id", ev.ID, "error", err)
		return
	}

	d, ok := Evaluate(ev, l.cfg)
	if !ok {
		l.skipped.Add(1)
		l.logger.Debug("skipping notification", "app", ev.SourceApp, "id", ev.ID)
		return
	}

	queued, evicted := l.queue.Push(d)
	if !queued {
		l.logger.Warn("queue full, dropped notification",
			"app", d.SourceApp, "id", d.EventID, "policy", l.queue.policy)
		return
	}
	l.queued.Add(1)
	if evicted {
		l.logger.Warn("queue full, dropped oldest directive",
			"policy", l.queue.policy, "depth", l.queue.Len())
	}
	l.logger.Debug("queued notification",
		"app", d.SourceApp, "id", d.EventID, "timeout", d.Timeout)
}
