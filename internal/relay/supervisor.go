package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jmylchreest/xsnotify/internal/config"
)

// Loop names as reported in logs and snapshots.
const (
	SourceLoopName = "source"
	SinkLoopName   = "sink"
)

// LoopState is the lifecycle state of a supervised loop.
type LoopState string

const (
	LoopIdle       LoopState = "idle"
	LoopRunning    LoopState = "running"
	LoopRestarting LoopState = "restarting"
	LoopStopped    LoopState = "stopped"
)

// errLoopExited replaces a nil error from a loop that returned on its own.
var errLoopExited = errors.New("loop exited")

// PanicError is a recovered panic from a loop iteration.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// runner is one iteration of a supervised loop.
type runner interface {
	Run(ctx context.Context) error
}

// LoopStats is a point-in-time view of one supervised loop.
type LoopStats struct {
	Name        string        `json:"name"`
	State       LoopState     `json:"state"`
	Restarts    uint64        `json:"restarts"`
	Panics      uint64        `json:"panics"`
	LastStartAt time.Time     `json:"last_start_at"`
	LastErrAt   time.Time     `json:"last_err_at,omitzero"`
	LastErr     string        `json:"last_err,omitempty"`
	LastRuntime time.Duration `json:"last_runtime"`
}

// Snapshot is a point-in-time view of the relay.
type Snapshot struct {
	Loops      []LoopStats `json:"loops"`
	QueueDepth int         `json:"queue_depth"`
	Captured   uint64      `json:"captured"`
	Skipped    uint64      `json:"skipped"`
	Queued     uint64      `json:"queued"`
	Dropped    uint64      `json:"dropped"`
	Sent       uint64      `json:"sent"`
	Lost       uint64      `json:"lost"`
}

type loopStats struct {
	mu sync.Mutex
	LoopStats
}

// Supervisor runs the source and sink loops, restarting each one whenever it
// fails. The loops share a Queue and never wait on each other.
type Supervisor struct {
	queue  *Queue
	source *SourceLoop
	sink   *SinkLoop
	logger *slog.Logger

	restartLimit rate.Limit

	stats map[string]*loopStats
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithLogger sets the logger. Nil uses slog.Default().
func WithLogger(logger *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithQueue replaces the queue built from the config.
func WithQueue(q *Queue) SupervisorOption {
	return func(s *Supervisor) { s.queue = q }
}

// NewSupervisor builds the queue and both loops from cfg. cfg must not be
// modified afterwards.
func NewSupervisor(cfg *config.Config, sources Sources, sink OverlaySink, opts ...SupervisorOption) (*Supervisor, error) {
	s := &Supervisor{
		logger: slog.Default(),
		stats: map[string]*loopStats{
			SourceLoopName: {LoopStats: LoopStats{Name: SourceLoopName, State: LoopIdle}},
			SinkLoopName:   {LoopStats: LoopStats{Name: SinkLoopName, State: LoopIdle}},
		},
	}
	for _, o := range opts {
		o(s)
	}
	if s.queue == nil {
		s.queue = NewQueue(cfg.Queue.MaxDepth, cfg.Queue.DropPolicy)
	}
	if cfg.RestartLimit > 0 {
		s.restartLimit = rate.Limit(cfg.RestartLimit)
	}

	source, err := NewSourceLoop(cfg, sources, s.queue, s.logger.With("loop", SourceLoopName))
	if err != nil {
		return nil, err
	}
	s.source = source
	s.sink = NewSinkLoop(sink, s.queue, cfg.Queue.RequeueOnFailure, s.logger.With("loop", SinkLoopName))

	return s, nil
}

// Queue returns the queue shared by both loops.
func (s *Supervisor) Queue() *Queue { return s.queue }

// Run starts both loops and blocks until ctx is done and both have stopped.
func (s *Supervisor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.supervise(ctx, SourceLoopName, s.source)
	}()
	go func() {
		defer wg.Done()
		s.supervise(ctx, SinkLoopName, s.sink)
	}()

	s.logger.Info("relay started")
	wg.Wait()
	s.logger.Info("relay stopped", "pending", s.queue.Len())
	return ctx.Err()
}

func (s *Supervisor) supervise(ctx context.Context, name string, r runner) {
	st := s.stats[name]
	defer st.set(func(ls *LoopStats) { ls.State = LoopStopped })

	// Each loop gets its own limiter so one crashing loop cannot starve
	// the other's restarts.
	var limiter *rate.Limiter
	if s.restartLimit > 0 {
		limiter = rate.NewLimiter(s.restartLimit, 1)
	}

	for restarts := 0; ; restarts++ {
		if ctx.Err() != nil {
			return
		}

		startedAt := time.Now()
		st.set(func(ls *LoopStats) {
			ls.State = LoopRunning
			ls.LastStartAt = startedAt
		})

		err := runRecovered(ctx, r)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errLoopExited
		}

		var perr *PanicError
		isPanic := errors.As(err, &perr)
		st.set(func(ls *LoopStats) {
			ls.State = LoopRestarting
			ls.Restarts++
			if isPanic {
				ls.Panics++
			}
			ls.LastErr = err.Error()
			ls.LastErrAt = time.Now()
			ls.LastRuntime = time.Since(startedAt)
		})

		if isPanic {
			s.logger.Error("relay loop panicked, restarting",
				"loop", name, "panic", perr.Value, "stack", perr.Stack)
		} else {
			s.logger.Error("relay loop died unexpectedly, restarting",
				"loop", name, "error", err, "restarts", restarts+1)
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}
	}
}

// runRecovered runs one loop iteration, converting a panic into an error.
func runRecovered(ctx context.Context, r runner) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p, Stack: string(debug.Stack())}
		}
	}()
	return r.Run(ctx)
}

// Snapshot returns the current loop states and relay counters.
func (s *Supervisor) Snapshot() Snapshot {
	return Snapshot{
		Loops: []LoopStats{
			s.stats[SourceLoopName].get(),
			s.stats[SinkLoopName].get(),
		},
		QueueDepth: s.queue.Len(),
		Captured:   s.source.captured.Load(),
		Skipped:    s.source.skipped.Load(),
		Queued:     s.source.queued.Load(),
		Dropped:    s.queue.Dropped(),
		Sent:       s.sink.sent.Load(),
		Lost:       s.sink.lost.Load(),
	}
}

func (st *loopStats) set(fn func(*LoopStats)) {
	st.mu.Lock()
	fn(&st.LoopStats)
	st.mu.Unlock()
}

func (st *loopStats) get() LoopStats {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.LoopStats
}
