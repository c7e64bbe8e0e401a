package relay

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jmylchreest/xsnotify/internal/config"
	"github.com/jmylchreest/xsnotify/internal/model"
)

// Queue is a FIFO of display directives shared by the source and sink loops.
// Push never blocks. Pop blocks until a directive is available or the
// context is done. By default the queue is unbounded.
type Queue struct {
	mu       sync.Mutex
	items    []model.DisplayDirective
	ready    chan struct{}
	maxDepth int
	policy   config.DropPolicy

	dropped atomic.Uint64
}

// NewQueue creates an empty queue. A maxDepth of 0 means unbounded; otherwise
// policy decides which directive is discarded when the queue is full.
func NewQueue(maxDepth int, policy config.DropPolicy) *Queue {
	if policy == "" {
		policy = config.DropOldest
	}
	return &Queue{
		ready:    make(chan struct{}, 1),
		maxDepth: maxDepth,
		policy:   policy,
	}
}

// Push appends d to the tail. queued reports whether d was accepted and
// evicted whether a bounded queue discarded a directive to stay within its
// depth. Under drop-newest a full queue rejects d itself; under drop-oldest
// it evicts the head to make room.
func (q *Queue) Push(d model.DisplayDirective) (queued, evicted bool) {
	q.mu.Lock()
	if q.full() {
		evicted = true
		q.dropped.Add(1)
		if q.policy == config.DropNewest {
			q.mu.Unlock()
			return false, true
		}
		q.items[0] = model.DisplayDirective{}
		q.items = q.items[1:]
	}
	q.items = append(q.items, d)
	q.mu.Unlock()

	q.signal()
	return true, evicted
}

// PushFront returns d to the head of the queue so it is the next directive
// popped. It is used to requeue a directive whose delivery failed. It
// returns false when a full drop-oldest queue discarded d, which is then
// counted as dropped.
func (q *Queue) PushFront(d model.DisplayDirective) bool {
	q.mu.Lock()
	if q.full() {
		q.dropped.Add(1)
		if q.policy == config.DropOldest {
			// d is older than everything queued.
			q.mu.Unlock()
			return false
		}
		q.items[len(q.items)-1] = model.DisplayDirective{}
		q.items = q.items[:len(q.items)-1]
	}
	q.items = append(q.items, model.DisplayDirective{})
	copy(q.items[1:], q.items)
	q.items[0] = d
	q.mu.Unlock()

	q.signal()
	return true
}

// Pop removes and returns the head of the queue, waiting for one to arrive
// if the queue is empty.
func (q *Queue) Pop(ctx context.Context) (model.DisplayDirective, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			d := q.items[0]
			q.items[0] = model.DisplayDirective{}
			q.items = q.items[1:]
			if len(q.items) == 0 {
				// Release the backing array once drained.
				q.items = nil
			}
			q.mu.Unlock()
			return d, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return model.DisplayDirective{}, ctx.Err()
		}
	}
}

// Len returns the number of queued directives.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many directives a bounded queue has discarded, including
// ones rejected by Push or PushFront before they were queued.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

func (q *Queue) full() bool {
	return q.maxDepth > 0 && len(q.items) >= q.maxDepth
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
