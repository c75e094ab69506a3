package harness

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/flux-loadgen/internal/fanout"
	"github.com/skypro1111/flux-loadgen/internal/worker"
)

// Status is the harness lifecycle phase.
type Status int32

const (
	StatusIdle Status = iota
	StatusRunning
	StatusShuttingDown
	StatusJoined
	StatusForcedExit
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusShuttingDown:
		return "shutting_down"
	case StatusJoined:
		return "joined"
	case StatusForcedExit:
		return "forced_exit"
	default:
		return "unknown"
	}
}

// Cause is what triggered the shutdown.
type Cause string

const (
	CauseSourceExhausted Cause = "source_exhausted"
	CauseInterrupt       Cause = "interrupt"
)

// Options configures a harness.
type Options struct {
	// DrainTimeout is the per-worker inactivity window. Workers that hear
	// nothing for this long finish on their own, so the hard join deadline
	// sits beyond it.
	DrainTimeout time.Duration

	// JoinDeadline is the extra margin past DrainTimeout before the
	// harness gives up on stuck workers and terminates the process.
	JoinDeadline time.Duration

	Logger *slog.Logger

	// Exit is called when workers fail to join within the deadline.
	// Defaults to os.Exit; tests inject their own.
	Exit func(code int)

	// OnWorkerDone, when set, is called as each worker finishes.
	OnWorkerDone func(failed bool)
}

// Harness owns all workers of one load-test run.
type Harness struct {
	runID string
	fan   *fanout.Channel
	opts  Options

	wg      sync.WaitGroup
	mu      sync.Mutex
	workers []*worker.Worker
	errs    []error

	status atomic.Int32
}

// New creates a harness over the given fanout channel. The run id tags every
// log line of the run.
func New(fan *fanout.Channel, opts Options) *Harness {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	if opts.JoinDeadline <= 0 {
		opts.JoinDeadline = 2 * time.Second
	}
	return &Harness{
		runID: uuid.NewString(),
		fan:   fan,
		opts:  opts,
	}
}

// RunID returns the unique id of this run.
func (h *Harness) RunID() string {
	return h.runID
}

// Status returns the current lifecycle phase.
func (h *Harness) Status() Status {
	return Status(h.status.Load())
}

// Spawn starts w in its own goroutine and tracks it for join.
func (h *Harness) Spawn(ctx context.Context, w *worker.Worker) {
	h.mu.Lock()
	h.workers = append(h.workers, w)
	h.mu.Unlock()

	h.status.Store(int32(StatusRunning))

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		err := w.Run(ctx)
		if err != nil {
			h.opts.Logger.Error("worker failed", "run_id", h.runID, "error", err)
			h.mu.Lock()
			h.errs = append(h.errs, err)
			h.mu.Unlock()
		}
		if h.opts.OnWorkerDone != nil {
			h.opts.OnWorkerDone(err != nil)
		}
	}()
}

// Errors returns the errors collected from failed workers so far.
func (h *Harness) Errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

// TriggerAndJoin starts the shutdown sequence: the fanout closes so every
// worker drains and finishes, then all workers are awaited. The wait covers
// the full per-worker drain window plus the join margin, so a worker that
// legitimately runs out its inactivity timeout still joins cleanly. Workers
// still running past that are logged and the process is terminated through
// Options.Exit; a drain must never leave the harness hanging on one wedged
// connection.
func (h *Harness) TriggerAndJoin(cause Cause) {
	h.status.Store(int32(StatusShuttingDown))
	h.opts.Logger.Info("shutting down", "run_id", h.runID, "cause", string(cause))

	h.fan.Close()

	joined := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(joined)
	}()

	deadline := h.opts.DrainTimeout + h.opts.JoinDeadline

	select {
	case <-joined:
		h.status.Store(int32(StatusJoined))
		h.opts.Logger.Info("all workers finished", "run_id", h.runID)
	case <-time.After(deadline):
		h.mu.Lock()
		var stuck []int
		for _, w := range h.workers {
			switch w.State() {
			case worker.StateClosed, worker.StateFailed:
			default:
				stuck = append(stuck, w.ID())
			}
		}
		h.mu.Unlock()

		h.status.Store(int32(StatusForcedExit))
		h.opts.Logger.Warn("join deadline exceeded, terminating",
			"run_id", h.runID,
			"deadline", deadline,
			"stuck_workers", stuck)
		h.opts.Exit(0)
	}
}
