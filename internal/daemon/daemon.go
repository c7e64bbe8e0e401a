package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jmylchreest/xsnotify/internal/config"
	"github.com/jmylchreest/xsnotify/internal/relay"
	"github.com/jmylchreest/xsnotify/internal/store"
)

// DefaultStatusInterval is how often the status file is refreshed.
const DefaultStatusInterval = 2 * time.Second

// ErrConfigChanged is returned by Run when the daemon stopped because its
// configuration file changed and exit_on_config_change is set.
var ErrConfigChanged = errors.New("configuration file changed")

// Options configures a Daemon.
type Options struct {
	// Config is the immutable configuration snapshot.
	Config *config.Config
	// ConfigPath is watched for changes. Empty disables watching.
	ConfigPath string
	// StatusPath receives the status file. Empty disables it.
	StatusPath string
	// StatusInterval overrides DefaultStatusInterval.
	StatusInterval time.Duration
	Version        string

	Sources relay.Sources
	Sink    relay.OverlaySink

	Logger *slog.Logger
	// Notify reports lifecycle changes to the service manager.
	// Nil uses systemd's sd_notify.
	Notify func(state string) error
}

// Daemon runs the relay for the lifetime of the process.
type Daemon struct {
	opts       Options
	logger     *slog.Logger
	supervisor *relay.Supervisor
	startedAt  time.Time
}

// New creates a daemon and its relay supervisor.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errors.New("daemon requires a configuration")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	if opts.Notify == nil {
		opts.Notify = sdNotify
	}

	sup, err := relay.NewSupervisor(opts.Config, opts.Sources, opts.Sink, relay.WithLogger(opts.Logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create relay: %w", err)
	}

	return &Daemon{opts: opts, logger: opts.Logger, supervisor: sup}, nil
}

// Supervisor returns the relay supervisor.
func (d *Daemon) Supervisor() *relay.Supervisor { return d.supervisor }

// Run blocks until ctx is done, or until the configuration file changes
// when exit_on_config_change is set, in which case it returns ErrConfigChanged.
func (d *Daemon) Run(ctx context.Context) error {
	d.startedAt = time.Now()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if d.opts.ConfigPath != "" {
		watcher, err := store.WatchFile(d.opts.ConfigPath, func() { d.configChanged(cancel) }, d.logger)
		if err != nil {
			d.logger.Warn("config file watching disabled", "path", d.opts.ConfigPath, "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	var wg sync.WaitGroup
	if d.opts.StatusPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.publishStatus(ctx)
		}()
	}

	d.logger.Info("xsnotify started",
		"version", d.opts.Version,
		"strategy", d.opts.Config.NotificationStrategy,
		"overlay", overlayAddr(d.opts.Config))
	d.notify(stateReady)

	_ = d.supervisor.Run(ctx)

	d.notify(stateStopping)
	wg.Wait()
	if d.opts.StatusPath != "" {
		d.writeStatus(true)
	}

	if errors.Is(context.Cause(ctx), ErrConfigChanged) {
		return ErrConfigChanged
	}
	return nil
}

func (d *Daemon) configChanged(cancel context.CancelCauseFunc) {
	if d.opts.Config.ExitOnConfigChange {
		d.logger.Info("configuration file changed, exiting so the service manager restarts xsnotify",
			"path", d.opts.ConfigPath)
		cancel(ErrConfigChanged)
		return
	}
	d.logger.Warn("configuration file changed, restart xsnotify to apply it", "path", d.opts.ConfigPath)
}

// publishStatus refreshes the status file until ctx is done.
func (d *Daemon) publishStatus(ctx context.Context) {
	ticker := time.NewTicker(d.opts.StatusInterval)
	defer ticker.Stop()

	d.writeStatus(false)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.writeStatus(false)
		}
	}
}

// Status returns the daemon's current status.
func (d *Daemon) Status(stopped bool) *store.Status {
	return &store.Status{
		PID:         os.Getpid(),
		Version:     d.opts.Version,
		StartedAt:   d.startedAt,
		UpdatedAt:   time.Now(),
		Stopped:     stopped,
		Strategy:    string(d.opts.Config.NotificationStrategy),
		OverlayAddr: overlayAddr(d.opts.Config),
		ConfigPath:  d.opts.ConfigPath,
		Relay:       d.supervisor.Snapshot(),
	}
}

func (d *Daemon) writeStatus(stopped bool) {
	if err := store.SaveStatus(d.opts.StatusPath, d.Status(stopped)); err != nil {
		d.logger.Warn("failed to write status file", "path", d.opts.StatusPath, "error", err)
	}
}

func (d *Daemon) notify(state string) {
	if err := d.opts.Notify(state); err != nil {
		d.logger.Debug("service manager notification failed", "state", state, "error", err)
	}
}

func overlayAddr(cfg *config.Config) string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}
