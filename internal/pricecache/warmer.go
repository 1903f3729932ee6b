package pricecache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Warmer refreshes a Cache on a fixed interval so interactive reads
// usually find it fresh.
type Warmer struct {
	cache        *Cache
	interval     time.Duration
	initialDelay time.Duration
	log          *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewWarmer creates a warmer that first fires after initialDelay and then
// every interval.
func NewWarmer(cache *Cache, interval, initialDelay time.Duration, logger *slog.Logger) *Warmer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Warmer{
		cache:        cache,
		interval:     interval,
		initialDelay: initialDelay,
		log:          logger,
	}
}

func (w *Warmer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})

	go w.loop(w.stopCh, w.done)
	w.log.Info("price warmer started", "interval", w.interval.String(), "initial_delay", w.initialDelay.String())
}

// Stop halts the loop and waits for an in-flight refresh to return.
func (w *Warmer) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	done := w.done
	w.running = false
	w.mu.Unlock()

	<-done
	w.log.Info("price warmer stopped")
}

func (w *Warmer) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Warmer) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(w.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), w.interval)
			w.cache.Refresh(ctx)
			cancel()
			timer.Reset(w.interval)
		}
	}
}
