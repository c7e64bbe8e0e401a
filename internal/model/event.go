// Package model defines the core data structures for xsnotify.
package model

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// NotificationEvent is a single notification captured from the local source,
// before filtering or timeout assignment. It is never modified after creation.
type NotificationEvent struct {
	ID         string    `json:"id"`
	SourceApp  string    `json:"source_app"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// DisplayDirective is one unit of work for the overlay sink: a filtered,
// timing-annotated notification addressed to a display endpoint.
type DisplayDirective struct {
	EventID    string        `json:"event_id"`
	SourceApp  string        `json:"source_app"`
	Title      string        `json:"title"`
	Body       string        `json:"body"`
	Timeout    time.Duration `json:"timeout"`
	TargetHost string        `json:"target_host"`
	TargetPort int           `json:"target_port"`
}

// Validation errors.
var (
	ErrEmptyID        = errors.New("id cannot be empty")
	ErrEmptyContent   = errors.New("title and body cannot both be empty")
	ErrInvalidTimeout = errors.New("timeout must not be negative")
	ErrEmptyHost      = errors.New("target host cannot be empty")
	ErrInvalidPort    = errors.New("target port must be between 1 and 65535")
)

// NewEvent creates a NotificationEvent with a generated ULID, stamped with the
// current time. Control characters in the text fields are replaced.
func NewEvent(sourceApp, title, body string) (NotificationEvent, error) {
	return NewEventAt(sourceApp, title, body, time.Now())
}

// NewEventAt is NewEvent with an explicit receive time.
func NewEventAt(sourceApp, title, body string, receivedAt time.Time) (NotificationEvent, error) {
	id, err := ulid.New(ulid.Timestamp(receivedAt), rand.Reader)
	if err != nil {
		return NotificationEvent{}, fmt.Errorf("failed to generate ULID: %w", err)
	}

	return NotificationEvent{
		ID:         id.String(),
		SourceApp:  Sanitize(sourceApp),
		Title:      Sanitize(title),
		Body:       Sanitize(body),
		ReceivedAt: receivedAt,
	}, nil
}

// Validate checks that the event has all required fields.
func (e NotificationEvent) Validate() error {
	if e.ID == "" {
		return ErrEmptyID
	}
	if e.Title == "" && e.Body == "" {
		return ErrEmptyContent
	}
	return nil
}

// Text returns the title and body joined the way they are read on screen.
func (e NotificationEvent) Text() string {
	switch {
	case e.Title == "":
		return e.Body
	case e.Body == "":
		return e.Title
	default:
		return e.Title + " " + e.Body
	}
}

// Validate checks that the directive can be transmitted.
func (d DisplayDirective) Validate() error {
	if d.Timeout < 0 {
		return ErrInvalidTimeout
	}
	if d.TargetHost == "" {
		return ErrEmptyHost
	}
	if d.TargetPort < 1 || d.TargetPort > 65535 {
		return ErrInvalidPort
	}
	return nil
}

// Address returns the host:port pair the directive is addressed to.
func (d DisplayDirective) Address() string {
	return net.JoinHostPort(d.TargetHost, strconv.Itoa(d.TargetPort))
}

// Sanitize removes control characters (keeping newlines and tabs) and trims
// surrounding whitespace.
func Sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r < 32 && r != '\n' && r != '\t' {
			result.WriteRune(' ')
		} else {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}
