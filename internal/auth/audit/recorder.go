// Package audit records security events without ever making the caller
// wait on storage.
//
// Events are queued in memory and persisted by a single background
// worker. The queue is bounded; when it is full the oldest queued event
// is dropped so the most recent activity always survives a burst.
package audit

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/metrics"
	"github.com/aussiebroadwan/authcore/pkg/idx"
	"github.com/mssola/useragent"
)

const (
	DefaultQueueSize     = 1024
	DefaultInsertTimeout = 5 * time.Second
)

// Sink persists one event. The store's AuditEvents repository satisfies it.
type Sink interface {
	InsertAuditEvent(ctx context.Context, e domain.AuditEvent) error
}

// Recorder is an asynchronous, bounded audit writer.
type Recorder struct {
	sink          Sink
	logger        *slog.Logger
	metrics       *metrics.Metrics
	insertTimeout time.Duration
	now           func() time.Time

	mu     sync.Mutex
	cond   *sync.Cond
	ring   []domain.AuditEvent
	head   int
	count  int
	closed bool

	dropped atomic.Uint64
	done    chan struct{}
}

// Option configures the Recorder.
type Option func(*Recorder)

// WithQueueSize sets the queue capacity. Values below 1 are ignored.
func WithQueueSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.ring = make([]domain.AuditEvent, n)
		}
	}
}

// WithLogger sets a logger for persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithInsertTimeout bounds each write to the sink.
func WithInsertTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.insertTimeout = d
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder starts the background worker. Call Close to flush and stop it.
func NewRecorder(sink Sink, opts ...Option) *Recorder {
	r := &Recorder{
		sink:          sink,
		logger:        slog.Default(),
		insertTimeout: DefaultInsertTimeout,
		now:           time.Now,
		ring:          make([]domain.AuditEvent, DefaultQueueSize),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cond = sync.NewCond(&r.mu)

	go r.run()
	return r
}

// Record queues e for persistence. It never blocks on storage and never
// fails; a full queue evicts its oldest event instead.
func (r *Recorder) Record(ctx context.Context, e domain.AuditEvent) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	if e.ID == "" {
		e.ID = idx.NewAt(e.CreatedAt).String()
	}
	if e.Category == "" {
		e.Category = e.Type.Category()
	}
	if e.UserAgent != "" {
		if _, ok := e.Metadata["device"]; !ok {
			meta := make(map[string]string, len(e.Metadata)+1)
			for k, v := range e.Metadata {
				meta[k] = v
			}
			meta["device"] = DescribeDevice(e.UserAgent)
			e.Metadata = meta
		}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.WarnContext(ctx, "audit recorder closed, event discarded", slog.String("type", string(e.Type)))
		return
	}
	if r.count == len(r.ring) {
		r.ring[r.head] = domain.AuditEvent{}
		r.head = (r.head + 1) % len(r.ring)
		r.count--
		r.dropped.Add(1)
		r.metrics.IncAuditDropped()
	}
	r.ring[(r.head+r.count)%len(r.ring)] = e
	r.count++
	depth := r.count
	r.mu.Unlock()

	r.cond.Signal()
	r.metrics.SetAuditQueueDepth(depth)
}

// Dropped reports how many events were evicted from a full queue.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Len reports the number of events waiting to be persisted.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close stops accepting events, persists everything still queued and
// waits for the worker to exit. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cond.Broadcast()

	<-r.done
	return nil
}

// next blocks until an event is available. It returns false once the
// recorder is closed and the queue is empty.
func (r *Recorder) next() (domain.AuditEvent, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.count == 0 && !r.closed {
		r.cond.Wait()
	}
	if r.count == 0 {
		return domain.AuditEvent{}, 0, false
	}

	e := r.ring[r.head]
	r.ring[r.head] = domain.AuditEvent{}
	r.head = (r.head + 1) % len(r.ring)
	r.count--
	return e, r.count, true
}

func (r *Recorder) run() {
	defer close(r.done)

	for {
		e, depth, ok := r.next()
		if !ok {
			return
		}
		r.metrics.SetAuditQueueDepth(depth)
		r.persist(e)
	}
}

func (r *Recorder) persist(e domain.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.insertTimeout)
	defer cancel()

	start := time.Now()
	err := r.sink.InsertAuditEvent(ctx, e)
	r.metrics.ObserveAuditPersist(time.Since(start).Seconds())
	if err != nil {
		r.metrics.IncAuditPersistFailure()
		r.logger.Error("failed to persist audit event",
			slog.String("audit_id", e.ID),
			slog.String("type", string(e.Type)),
			slog.Any("error", err),
		)
	}
}

// DescribeDevice turns a User-Agent header into "Browser on OS".
func DescribeDevice(userAgent string) string {
	if userAgent == "" {
		return "Unknown Device"
	}

	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	os := ua.OS()

	if ua.Mobile() {
		if platform := ua.Platform(); platform != "" {
			os = platform
		}
	}
	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + os)
}
