package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/skypro1111/flux-loadgen/internal/events"
	"github.com/skypro1111/flux-loadgen/internal/fanout"
	"github.com/skypro1111/flux-loadgen/internal/session"
	"github.com/skypro1111/flux-loadgen/internal/stats"
)

// State is the lifecycle phase of a worker.
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateDraining
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Conn is the service connection a worker drives. *session.Session satisfies
// it; tests substitute fakes.
type Conn interface {
	SendBinary(data []byte) error
	SendCloseStream() error
	Recv(timeout time.Duration) ([]byte, error)
	RequestID() string
	Close() error
}

// DialFunc opens a connection to the service.
type DialFunc func(ctx context.Context) (Conn, error)

// Options configures a worker.
type Options struct {
	InactivityTimeout time.Duration
	Verbose           bool
	Logger            *slog.Logger
}

// Worker is one simulated client connection.
type Worker struct {
	id    int
	dial  DialFunc
	sub   *fanout.Subscription
	stats *stats.ConnectionStats
	opts  Options

	state atomic.Int32
}

// New creates a worker that will stream frames from sub over a connection
// obtained from dial, recording counters into st.
func New(id int, dial DialFunc, sub *fanout.Subscription, st *stats.ConnectionStats, opts Options) *Worker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = 10 * time.Second
	}
	return &Worker{
		id:    id,
		dial:  dial,
		sub:   sub,
		stats: st,
		opts:  opts,
	}
}

// ID returns the worker's connection id.
func (w *Worker) ID() int {
	return w.id
}

// State returns the worker's current lifecycle phase.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Run drives the connection until the audio stream ends, the service goes
// quiet, or something breaks. It always consumes the subscription to the
// end so the fanout never backs up on a dead worker.
func (w *Worker) Run(ctx context.Context) error {
	logger := w.opts.Logger.With("worker", w.id)

	w.setState(StateConnecting)
	conn, err := w.dial(ctx)
	if err != nil {
		w.setState(StateFailed)
		w.sub.Cancel()
		return fmt.Errorf("worker %d: %w", w.id, err)
	}
	defer conn.Close()

	if rid := conn.RequestID(); rid != "" {
		logger.Info("connected", "request_id", rid)
	} else {
		logger.Info("connected")
	}
	w.setState(StateStreaming)

	recvDone := make(chan error, 1)
	recvClosed := make(chan struct{})
	go w.recvLoop(conn, logger, recvDone, recvClosed)

	// Stop pulling frames once the receive side has finished, whatever
	// the reason; the service is no longer listening.
	sendCtx, cancelSend := context.WithCancel(ctx)
	defer cancelSend()
	go func() {
		<-recvClosed
		cancelSend()
	}()

	if err := w.sendLoop(sendCtx, conn); err != nil {
		w.setState(StateFailed)
		conn.Close()
		<-recvClosed
		w.sub.Cancel()
		return fmt.Errorf("worker %d: %w", w.id, err)
	}

	w.setState(StateDraining)
	select {
	case <-recvClosed:
		// The receive side already ended; nothing to flush.
	default:
		if err := conn.SendCloseStream(); err != nil {
			logger.Warn("failed to signal end of stream", "error", err)
		}
	}

	recvErr := <-recvDone
	w.sub.Cancel()
	if recvErr != nil {
		w.setState(StateFailed)
		return fmt.Errorf("worker %d: %w", w.id, recvErr)
	}

	w.setState(StateClosed)
	logger.Info("finished",
		"bytes_sent", w.stats.BytesSent.Load(),
		"bytes_received", w.stats.BytesReceived.Load(),
		"frames_dropped", w.stats.FramesDropped.Load())
	return nil
}

// sendLoop streams fanout frames until the channel closes or the context is
// cancelled. Only transport errors are returned; normal endings yield nil.
// Cancellation is checked before each pull so a shutdown stops the loop even
// while the subscription still holds a backlog.
func (w *Worker) sendLoop(ctx context.Context, conn Conn) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		frame, dropped, err := w.sub.Next(ctx)
		w.stats.RecordDropped(dropped)
		if dropped > 0 {
			w.opts.Logger.Warn("dropped frames on lag", "worker", w.id, "count", dropped)
		}
		if err != nil {
			if errors.Is(err, fanout.ErrClosed) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		if err := conn.SendBinary(frame.Data); err != nil {
			return err
		}
		w.stats.RecordSent(len(frame.Data))
	}
}

// recvLoop reads service messages until the connection closes or goes quiet
// for the inactivity window. Silence counts as a normal ending.
func (w *Worker) recvLoop(conn Conn, logger *slog.Logger, done chan<- error, closed chan<- struct{}) {
	defer close(closed)

	for {
		msg, err := conn.Recv(w.opts.InactivityTimeout)
		if err != nil {
			switch {
			case errors.Is(err, session.ErrTimeout):
				logger.Debug("no activity from service, finishing",
					"timeout", w.opts.InactivityTimeout)
				done <- nil
			case errors.Is(err, session.ErrClosed):
				logger.Debug("service closed the connection")
				done <- nil
			default:
				if w.State() == StateFailed {
					// The send side already tore the connection down.
					done <- nil
				} else {
					done <- err
				}
			}
			return
		}

		ev := events.Classify(msg)
		w.stats.RecordReceived(ev.Kind, len(msg))

		if w.opts.Verbose {
			if tr := events.Transcript(msg); tr != "" {
				logger.Info("event", "kind", ev.Kind.String(), "type", ev.Type, "text", tr)
			} else {
				logger.Info("event", "kind", ev.Kind.String(), "type", ev.Type)
			}
		}
	}
}
