// Package overlay delivers display directives to an XSOverlay instance over
// its UDP notification API.
package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/jmylchreest/xsnotify/internal/config"
	"github.com/jmylchreest/xsnotify/internal/model"
	"github.com/jmylchreest/xsnotify/internal/relay"
)

// MessageTypeNotification asks XSOverlay to show a notification popup.
const MessageTypeNotification = 1

// MaxPayloadSize caps the encoded size of one notification datagram. Longer
// messages have their content, then their title, shortened to fit.
const MaxPayloadSize = 32 * 1024

const ellipsis = "…"

// DefaultWriteTimeout bounds a single send when the caller's context has no deadline.
const DefaultWriteTimeout = 5 * time.Second

// Message is the JSON payload understood by XSOverlay.
type Message struct {
	MessageType   int     `json:"messageType"`
	Index         int     `json:"index"`
	Timeout       float64 `json:"timeout"`
	Height        float64 `json:"height"`
	Opacity       float64 `json:"opacity"`
	Volume        float64 `json:"volume"`
	AudioPath     string  `json:"audioPath"`
	Title         string  `json:"title"`
	Content       string  `json:"content"`
	UseBase64Icon bool    `json:"useBase64Icon"`
	Icon          string  `json:"icon"`
	SourceApp     string  `json:"sourceApp"`
}

// NewMessage builds the popup payload for d using the overlay appearance settings.
func NewMessage(d model.DisplayDirective, opts config.OverlayConfig) Message {
	return Message{
		MessageType: MessageTypeNotification,
		Timeout:     d.Timeout.Seconds(),
		Height:      opts.Height,
		Opacity:     opts.Opacity,
		Volume:      opts.Volume,
		AudioPath:   opts.AudioPath,
		Title:       d.Title,
		Content:     d.Body,
		Icon:        opts.Icon,
		SourceApp:   d.SourceApp,
	}
}

// Encode marshals m, shortening the content and then the title until the
// payload is at most maxSize bytes. A message that cannot be made to fit, or
// cannot be encoded at all, is rejected with relay.ErrRejected.
func (m Message) Encode(maxSize int) ([]byte, error) {
	for {
		payload, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("failed to encode overlay message: %w: %w", relay.ErrRejected, err)
		}

		excess := len(payload) - maxSize
		switch {
		case excess <= 0:
			return payload, nil
		case m.Content != "":
			m.Content = truncate(m.Content, excess)
		case m.Title != "":
			m.Title = truncate(m.Title, excess)
		default:
			return nil, fmt.Errorf("%w: message is %d bytes, limit is %d",
				relay.ErrRejected, len(payload), maxSize)
		}
	}
}

// truncate removes at least n bytes from the end of s, cutting on a rune
// boundary and marking the cut with an ellipsis.
func truncate(s string, n int) string {
	keep := len(s) - n - len(ellipsis)
	if keep <= 0 {
		return ""
	}
	for keep > 0 && !utf8.RuneStart(s[keep]) {
		keep--
	}
	return s[:keep] + ellipsis
}

// Sink dials the overlay address from the configuration.
type Sink struct {
	addr   string
	opts   config.OverlayConfig
	logger *slog.Logger
	dialer net.Dialer
}

// NewSink creates a sink addressed to cfg.Host:cfg.Port.
func NewSink(cfg *config.Config, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		addr:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		opts:   cfg.Overlay,
		logger: logger,
	}
}

// Addr returns the overlay address.
func (s *Sink) Addr() string { return s.addr }

// Dial resolves the overlay address and opens a UDP socket to it.
func (s *Sink) Dial(ctx context.Context) (relay.Conn, error) {
	c, err := s.dialer.DialContext(ctx, "udp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial overlay at %s: %w", s.addr, err)
	}
	s.logger.Debug("overlay socket opened", "addr", c.RemoteAddr().String())
	return &conn{c: c, opts: s.opts}, nil
}

type conn struct {
	c    net.Conn
	opts config.OverlayConfig
}

// Send writes one notification datagram. Directives the overlay can never
// accept are reported as relay.ErrRejected.
func (c *conn) Send(ctx context.Context, d model.DisplayDirective) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid directive %s: %w: %w", d.EventID, relay.ErrRejected, err)
	}

	payload, err := NewMessage(d, c.opts).Encode(MaxPayloadSize)
	if err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultWriteTimeout)
	}
	if err := c.c.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if _, err := c.c.Write(payload); err != nil {
		if errors.Is(err, syscall.EMSGSIZE) {
			return fmt.Errorf("overlay at %s refused a %d byte message: %w: %w",
				d.Address(), len(payload), relay.ErrRejected, err)
		}
		return fmt.Errorf("failed to write to overlay: %w", err)
	}
	return nil
}

func (c *conn) Close() error {
	return c.c.Close()
}
