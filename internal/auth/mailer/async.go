package mailer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/metrics"
)

const (
	DefaultSendTimeout = 30 * time.Second
	DefaultQueueSize   = 256
	DefaultWorkers     = 4
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("mailer: closed")

type queued struct {
	ctx context.Context
	msg Message
}

// Async hands messages to next through a bounded queue drained by a fixed
// set of workers, so callers never wait on delivery. When the queue is
// full the oldest message is dropped. Delivery failures are logged and
// counted, never returned.
type Async struct {
	next    Dispatcher
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	workers int

	mu     sync.RWMutex
	queue  chan queued
	closed bool

	dropped atomic.Uint64
	wg      sync.WaitGroup
}

// AsyncOption configures an Async.
type AsyncOption func(*Async)

// WithQueueSize sets the queue capacity. Values below 1 are ignored.
func WithQueueSize(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.queue = make(chan queued, n)
		}
	}
}

// WithWorkers sets how many sends run at once. Values below 1 are ignored.
func WithWorkers(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithSendTimeout bounds each delivery.
func WithSendTimeout(d time.Duration) AsyncOption {
	return func(a *Async) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAsync wraps next and starts the workers. A nil logger falls back to
// slog.Default. Call Close to flush the queue and stop them.
func NewAsync(next Dispatcher, logger *slog.Logger, m *metrics.Metrics, opts ...AsyncOption) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		next:    next,
		logger:  logger,
		metrics: m,
		timeout: DefaultSendTimeout,
		workers: DefaultWorkers,
		queue:   make(chan queued, DefaultQueueSize),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.wg.Add(a.workers)
	for range a.workers {
		go a.run()
	}
	return a
}

// Send queues msg and returns immediately. The request context is
// detached so a finished HTTP request does not cancel the send.
func (a *Async) Send(ctx context.Context, msg Message) error {
	q := queued{ctx: context.WithoutCancel(ctx), msg: msg}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}

	for {
		select {
		case a.queue <- q:
			return nil
		default:
		}

		// Full: evict the oldest message, unless a worker got there first.
		select {
		case old := <-a.queue:
			a.dropped.Add(1)
			a.metrics.IncEmailDropped(string(old.msg.Kind))
			a.logger.WarnContext(ctx, "email queue full, oldest message dropped",
				slog.String("kind", string(old.msg.Kind)),
			)
		default:
		}
	}
}

// Dropped reports how many messages were evicted from a full queue.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Close stops accepting messages and waits until everything queued has
// been handed to the dispatcher. It is safe to call more than once.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	a.wg.Wait()
}

func (a *Async) run() {
	defer a.wg.Done()
	for q := range a.queue {
		a.deliver(q)
	}
}

func (a *Async) deliver(q queued) {
	ctx, cancel := context.WithTimeout(q.ctx, a.timeout)
	defer cancel()

	if err := a.next.Send(ctx, q.msg); err != nil {
		a.metrics.IncEmailFailure(string(q.msg.Kind))
		a.logger.ErrorContext(ctx, "failed to send email",
			slog.String("kind", string(q.msg.Kind)),
			slog.Any("error", err),
		)
	}
}
