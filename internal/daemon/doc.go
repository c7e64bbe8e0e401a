// Package daemon provides the main orchestration for xsnotify.
// It runs the relay supervisor, publishes a status file, watches the
// configuration file and reports readiness to systemd.
package daemon
