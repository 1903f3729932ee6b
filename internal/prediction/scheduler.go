package prediction

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fakecrypto/game-engine/internal/metrics"
	"github.com/fakecrypto/game-engine/internal/model"
)

const resolveTimeout = 30 * time.Second

// Scheduler triggers resolution of open predictions. Each scheduled
// prediction gets a timer for its deadline; a poll loop over the persisted
// deadlines picks up anything a timer missed, including predictions left
// open by a previous process. Resolutions run one at a time on the loop
// goroutine.
type Scheduler struct {
	svc          *Service
	pollInterval time.Duration
	log          *slog.Logger

	due chan string

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewScheduler creates a scheduler and attaches it to svc so newly opened
// predictions are armed.
func NewScheduler(svc *Service, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	s := &Scheduler{
		svc:          svc,
		pollInterval: pollInterval,
		log:          svc.log,
		due:          make(chan string, 256),
		timers:       make(map[string]*time.Timer),
	}
	svc.sched = s
	return s
}

// Schedule arms a timer for p's deadline. A deadline already in the past
// fires immediately. Scheduling the same prediction twice keeps one timer.
func (s *Scheduler) Schedule(p model.Prediction) {
	wait := p.DueAt.Sub(s.svc.now())
	if wait < 0 {
		wait = 0
	}

	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if _, ok := s.timers[p.ID]; ok {
		return
	}
	id := p.ID
	s.timers[id] = time.AfterFunc(wait, func() {
		s.timersMu.Lock()
		delete(s.timers, id)
		s.timersMu.Unlock()

		select {
		case s.due <- id:
		default:
			// Queue full; the poll loop will find it.
		}
	})
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	return len(s.timers)
}

// Rehydrate arms every prediction still open in the store, relative to its
// original deadline. Call it once at startup.
func (s *Scheduler) Rehydrate(ctx context.Context) (int, error) {
	open, err := s.svc.book.OpenPredictions(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range open {
		s.Schedule(p)
	}
	metrics.OpenPredictions.Set(float64(len(open)))
	if len(open) > 0 {
		s.log.Info("rehydrated open predictions", "count", len(open))
	}
	return len(open), nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(s.stopCh, s.done)
	s.log.Info("prediction scheduler started", "poll_interval", s.pollInterval.String())
}

// Stop halts the loop, waits for an in-flight resolution and disarms all
// timers. Open predictions stay in the store for the next Rehydrate.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	done := s.done
	s.running = false
	s.mu.Unlock()

	<-done

	s.timersMu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.timersMu.Unlock()
	s.log.Info("prediction scheduler stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case id := <-s.due:
			s.resolve(id)
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Scheduler) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	due, err := s.svc.book.DuePredictions(ctx, s.svc.now())
	cancel()
	if err != nil {
		s.log.Error("failed to list due predictions", "err", err)
		return
	}
	for _, p := range due {
		s.resolve(p.ID)
	}
}

func (s *Scheduler) resolve(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	s.svc.Resolve(ctx, id)
}
