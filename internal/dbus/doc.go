// Package dbus captures desktop notifications by monitoring
// org.freedesktop.Notifications.Notify calls on the session bus. It only
// observes traffic, so it runs alongside whatever notification daemon owns
// the bus name.
package dbus
