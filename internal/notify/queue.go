package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrQueueFull   = errors.New("notify: queue full")
	ErrQueueClosed = errors.New("notify: queue closed")
)

// Queue delivers events to a slower Notifier on its own goroutine. Notify
// only enqueues, so a sink that retries for tens of seconds never holds up
// the caller. Each delivery runs under its own timeout.
type Queue struct {
	next    Notifier
	timeout time.Duration
	events  chan Event
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewQueue starts the delivery goroutine. Call Close to stop it.
func NewQueue(next Notifier, size int, timeout time.Duration, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 256
	}
	q := &Queue{
		next:    next,
		timeout: timeout,
		events:  make(chan Event, size),
		log:     logger,
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) Notify(_ context.Context, ev Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.events <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and waits until the queued ones have been
// delivered or ctx is done.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for ev := range q.events {
		q.deliver(ev)
	}
}

func (q *Queue) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if err := q.next.Notify(ctx, ev); err != nil {
		q.log.Warn("notification delivery failed", "kind", ev.Kind, "user", ev.UserID, "err", err)
	}
}
