// Package main provides the CLI entrypoint for xsnotify.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/xsnotify/internal/adapter/input"
	"github.com/jmylchreest/xsnotify/internal/config"
	"github.com/jmylchreest/xsnotify/internal/daemon"
	"github.com/jmylchreest/xsnotify/internal/dbus"
	"github.com/jmylchreest/xsnotify/internal/overlay"
	"github.com/jmylchreest/xsnotify/internal/relay"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// Global configuration and state
var (
	globalOpts struct {
		verbose    bool
		logJSON    bool
		configPath string
		envFile    string
	}
	rootOpts struct {
		source string
	}
	logger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "xsnotify",
	Short: "Relay desktop notifications to XSOverlay",
	Long: `xsnotify forwards Linux desktop notifications to XSOverlay so they
show up inside VR.

Running xsnotify without a subcommand starts the relay. Notifications are
captured from the session D-Bus (listener strategy) or by polling the
notification daemon's history (polling strategy), filtered by skipped_apps
and sent to the overlay with a timeout based on how long they take to read.

Configuration is read from ~/.config/xsnotify/config.toml, an optional
xsnotify.env file next to it, XSNOTIF_* environment variables and the flags
below, in increasing order of precedence.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogger(os.Stderr)
	},
	RunE: runRelay,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("xsnotify failed", "error", err)
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.verbose, "verbose", "v", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&globalOpts.logJSON, "log-json", false,
		"Log as JSON instead of text")
	rootCmd.PersistentFlags().StringVar(&globalOpts.configPath, "config", "",
		"Path to config file (default: ~/.config/xsnotify/config.toml)")
	rootCmd.PersistentFlags().StringVar(&globalOpts.envFile, "env-file", "",
		"Path to env file (default: ~/.config/xsnotify/xsnotify.env)")

	// Relay flags override the config file for this run only.
	config.RegisterFlags(rootCmd.Flags())
	rootCmd.Flags().StringVar(&rootOpts.source, "source", "",
		"Notification daemon to poll with the polling strategy (dunst; auto-detects if empty)")
}

// setupLogger configures the global slog logger. Terminals get colored
// output; everything else (journald, pipes) gets plain text or JSON.
func setupLogger(w io.Writer) {
	level := slog.LevelInfo
	if globalOpts.verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	switch {
	case globalOpts.logJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case isTerminal(w):
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// configPath returns the config file in use.
func configPath() string {
	if globalOpts.configPath != "" {
		return globalOpts.configPath
	}
	return config.ConfigPath()
}

func runRelay(cmd *cobra.Command, args []string) error {
	path := configPath()
	created, err := config.EnsureDefault(path)
	if err != nil {
		return err
	}
	if created {
		logger.Info("wrote default configuration", "path", path)
	}

	cfg, err := config.Load(config.LoadOptions{
		Path:    path,
		EnvFile: globalOpts.envFile,
		Flags:   cmd.Flags(),
	})
	if err != nil {
		return err
	}

	sources, err := newSources(cfg)
	if err != nil {
		return err
	}

	d, err := daemon.New(daemon.Options{
		Config:     cfg,
		ConfigPath: path,
		StatusPath: config.StatusPath(),
		Version:    version,
		Sources:    sources,
		Sink:       overlay.NewSink(cfg, logger),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = d.Run(ctx)
	if errors.Is(err, daemon.ErrConfigChanged) {
		// A clean exit lets the service manager restart us with the new file.
		return nil
	}
	return err
}

// newSources builds the capture source for the configured strategy.
func newSources(cfg *config.Config) (relay.Sources, error) {
	switch cfg.NotificationStrategy {
	case config.StrategyPolling:
		poller, err := input.NewPoller(rootOpts.source, logger)
		if err != nil {
			return relay.Sources{}, fmt.Errorf("polling strategy unavailable: %w", err)
		}
		return relay.Sources{Poller: poller}, nil
	default:
		return relay.Sources{Listener: dbus.NewMonitor(logger)}, nil
	}
}
