package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmylchreest/xsnotify/internal/model"
)

// ErrRejected marks a directive the overlay can never accept, such as one that
// fails validation or cannot be encoded into a single message. Retrying it
// cannot succeed, so the sink discards it and keeps the connection.
var ErrRejected = errors.New("directive rejected")

// Conn is an established channel to the overlay.
type Conn interface {
	Send(ctx context.Context, d model.DisplayDirective) error
	Close() error
}

// OverlaySink connects to the remote overlay.
type OverlaySink interface {
	Dial(ctx context.Context) (Conn, error)
}

// SinkLoop sends queued directives to the overlay in FIFO order.
type SinkLoop struct {
	sink    OverlaySink
	queue   *Queue
	requeue bool
	logger  *slog.Logger

	sent atomic.Uint64
	lost atomic.Uint64
}

// NewSinkLoop creates a sink loop. With requeue set, a directive whose send
// fails is returned to the head of the queue instead of being discarded.
func NewSinkLoop(sink OverlaySink, queue *Queue, requeue bool, logger *slog.Logger) *SinkLoop {
	if logger == nil {
		logger = slog.Default()
	}
	return &SinkLoop{sink: sink, queue: queue, requeue: requeue, logger: logger}
}

// Run connects to the overlay and drains the queue until sending fails or
// ctx is done. It never returns nil.
func (l *SinkLoop) Run(ctx context.Context) error {
	conn, err := l.sink.Dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to connect to overlay: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			l.logger.Debug("failed to close overlay connection", "error", err)
		}
	}()

	l.logger.Debug("connected to overlay")

	for {
		d, err := l.queue.Pop(ctx)
		if err != nil {
			return err
		}

		if err := conn.Send(ctx, d); err != nil {
			if errors.Is(err, ErrRejected) {
				l.lost.Add(1)
				l.logger.Warn("overlay rejected directive, discarding",
					"id", d.EventID, "app", d.SourceApp, "error", err)
				continue
			}

			switch {
			case !l.requeue:
				l.lost.Add(1)
				l.logger.Warn("directive lost", "id", d.EventID, "app", d.SourceApp)
			case l.queue.PushFront(d):
				l.logger.Debug("requeued undelivered directive", "id", d.EventID)
			default:
				// Counted as dropped by the queue.
				l.logger.Warn("queue full, undelivered directive dropped",
					"id", d.EventID, "app", d.SourceApp)
			}
			return fmt.Errorf("failed to send directive %s: %w", d.EventID, err)
		}

		l.sent.Add(1)
		l.logger.Debug("sent directive to overlay",
			"app", d.SourceApp, "id", d.EventID, "addr", d.Address(), "timeout", d.Timeout)
	}
}
