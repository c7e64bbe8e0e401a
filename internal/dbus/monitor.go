package dbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/jmylchreest/xsnotify/internal/model"
	"github.com/jmylchreest/xsnotify/internal/relay"
)

// ErrConnectionClosed is returned by Next once the bus connection is gone.
var ErrConnectionClosed = errors.New("session bus connection closed")

const monitorRule = "type='method_call',interface='" + notificationsInterface + "',member='" + notifyMember + "'"

// Monitor passively observes D-Bus notification traffic without claiming ownership.
// This allows running alongside another notification daemon (like dunst).
type Monitor struct {
	logger *slog.Logger
	// connect opens a private session bus connection.
	connect func() (*dbus.Conn, error)
	now     func() time.Time
}

// NewMonitor creates a new notification monitor.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger:  logger,
		connect: func() (*dbus.Conn, error) { return dbus.ConnectSessionBus() },
		now:     time.Now,
	}
}

// Subscribe connects to the session bus and starts monitoring Notify calls.
// Every subscription owns its own connection, so closing one never affects
// a later resubscription.
func (m *Monitor) Subscribe(ctx context.Context) (relay.Subscription, error) {
	conn, err := m.connect()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	if err := m.becomeMonitor(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	ch := make(chan *dbus.Message, 100)
	conn.Eavesdrop(ch)

	return &subscription{conn: conn, messages: ch, logger: m.logger, now: m.now}, nil
}

// becomeMonitor switches conn into monitoring mode, falling back to an
// eavesdropping match rule on buses without the Monitoring interface.
func (m *Monitor) becomeMonitor(ctx context.Context, conn *dbus.Conn) error {
	err := conn.BusObject().CallWithContext(ctx,
		"org.freedesktop.DBus.Monitoring.BecomeMonitor",
		0,
		[]string{monitorRule},
		uint32(0),
	).Err
	if err == nil {
		m.logger.Debug("started D-Bus monitor using BecomeMonitor")
		return nil
	}

	m.logger.Warn("BecomeMonitor not available, trying AddMatch", "error", err)

	err = conn.BusObject().CallWithContext(ctx,
		"org.freedesktop.DBus.AddMatch",
		0,
		monitorRule+",eavesdrop='true'",
	).Err
	if err != nil {
		return fmt.Errorf("failed to add match rule (eavesdrop may require permissions): %w", err)
	}

	m.logger.Debug("started D-Bus monitor using AddMatch with eavesdrop")
	return nil
}

type subscription struct {
	conn     *dbus.Conn
	messages chan *dbus.Message
	logger   *slog.Logger
	now      func() time.Time
}

// Next returns the next observed notification. Malformed calls are logged
// and skipped.
func (s *subscription) Next(ctx context.Context) (model.NotificationEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return model.NotificationEvent{}, ctx.Err()
		case <-s.conn.Context().Done():
			return model.NotificationEvent{}, ErrConnectionClosed
		case msg, ok := <-s.messages:
			if !ok {
				return model.NotificationEvent{}, ErrConnectionClosed
			}
			if !isNotifyCall(msg) {
				continue
			}

			n, err := ParseNotify(msg.Body)
			if err != nil {
				s.logger.Warn("ignoring notification", "error", err)
				continue
			}

			ev, err := n.Event(s.now())
			if err != nil {
				return model.NotificationEvent{}, err
			}

			s.logger.Debug("captured notification",
				"app", ev.SourceApp,
				"summary", ev.Title,
				"id", ev.ID)
			return ev, nil
		}
	}
}

func (s *subscription) Close() error {
	return s.conn.Close()
}
