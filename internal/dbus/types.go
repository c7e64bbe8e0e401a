package dbus

import (
	"errors"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/jmylchreest/xsnotify/internal/model"
)

const (
	notificationsInterface = "org.freedesktop.Notifications"
	notifyMember           = "Notify"
)

// ErrMalformedNotify is returned for Notify calls whose arguments do not
// match the (susssasa{sv}i) signature.
var ErrMalformedNotify = errors.New("malformed Notify call")

// DBusNotification represents an observed D-Bus Notify call.
// It contains the raw parameters from the org.freedesktop.Notifications.Notify method.
type DBusNotification struct {
	AppName       string
	ReplacesID    uint32
	AppIcon       string
	Summary       string
	Body          string
	Actions       []string // Alternating key, label pairs
	Hints         map[string]dbus.Variant
	ExpireTimeout int32 // -1 = server default, 0 = never expire
}

// ParseNotify decodes the arguments of a Notify call.
// Notify(app_name, replaces_id, app_icon, summary, body, actions, hints, expire_timeout)
func ParseNotify(body []interface{}) (*DBusNotification, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("%w: expected 8 arguments, got %d", ErrMalformedNotify, len(body))
	}

	n := &DBusNotification{}

	var ok bool
	if n.AppName, ok = body[0].(string); !ok {
		return nil, fmt.Errorf("%w: invalid app_name type %T", ErrMalformedNotify, body[0])
	}
	if n.ReplacesID, ok = body[1].(uint32); !ok {
		return nil, fmt.Errorf("%w: invalid replaces_id type %T", ErrMalformedNotify, body[1])
	}
	if n.AppIcon, ok = body[2].(string); !ok {
		return nil, fmt.Errorf("%w: invalid app_icon type %T", ErrMalformedNotify, body[2])
	}
	if n.Summary, ok = body[3].(string); !ok {
		return nil, fmt.Errorf("%w: invalid summary type %T", ErrMalformedNotify, body[3])
	}
	if n.Body, ok = body[4].(string); !ok {
		return nil, fmt.Errorf("%w: invalid body type %T", ErrMalformedNotify, body[4])
	}

	// Optional arguments keep their zero value when mistyped.
	if actions, ok := body[5].([]string); ok {
		n.Actions = actions
	}
	if hints, ok := body[6].(map[string]dbus.Variant); ok {
		n.Hints = hints
	}
	if timeout, ok := body[7].(int32); ok {
		n.ExpireTimeout = timeout
	}

	return n, nil
}

// isNotifyCall reports whether msg is an org.freedesktop.Notifications.Notify call.
func isNotifyCall(msg *dbus.Message) bool {
	if msg == nil || msg.Type != dbus.TypeMethodCall {
		return false
	}
	iface, ok := msg.Headers[dbus.FieldInterface]
	if !ok || iface.Value() != notificationsInterface {
		return false
	}
	member, ok := msg.Headers[dbus.FieldMember]
	return ok && member.Value() == notifyMember
}

// hintString returns a string-typed hint, or "" when absent.
func (n *DBusNotification) hintString(key string) string {
	if v, ok := n.Hints[key]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

// DesktopEntry extracts the desktop-entry hint.
func (n *DBusNotification) DesktopEntry() string {
	return n.hintString("desktop-entry")
}

// SourceApp returns the name the notification is attributed to. Some clients
// send an empty app_name and only identify themselves via desktop-entry.
func (n *DBusNotification) SourceApp() string {
	if n.AppName != "" {
		return n.AppName
	}
	return n.DesktopEntry()
}

// Event converts the call into a captured notification event.
func (n *DBusNotification) Event(receivedAt time.Time) (model.NotificationEvent, error) {
	return model.NewEventAt(n.SourceApp(), n.Summary, n.Body, receivedAt)
}
