package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/dallo7/korosho/pkg/logger"
)

// Sweeper drops expired entries from a process-local store and reports how
// many it removed.
type Sweeper interface {
	Sweep(now time.Time) int
}

type task struct {
	name     string
	sweeper  Sweeper
	interval time.Duration
	nextRun  time.Time
}

// Scheduler runs registered sweepers on their own intervals.
type Scheduler struct {
	tasks  map[string]*task
	mu     sync.Mutex
	logger logger.Logger
	now    func() time.Time
	tick   time.Duration
	stop   chan struct{}
	once   sync.Once
}

func NewScheduler(log logger.Logger) *Scheduler {
	return &Scheduler{
		tasks:  make(map[string]*task),
		logger: log,
		now:    time.Now,
		tick:   time.Second,
		stop:   make(chan struct{}),
	}
}

// Register schedules s to run every interval, replacing any task of the same name.
func (s *Scheduler) Register(name string, sweeper Sweeper, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[name] = &task{
		name:     name,
		sweeper:  sweeper,
		interval: interval,
		nextRun:  s.now().Add(interval),
	}
	s.logger.Info("Scheduled sweeper", map[string]interface{}{
		"name":     name,
		"interval": interval.String(),
	})
}

// Start runs due tasks until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunDue()
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
	}()
	s.logger.Info("Scheduler started", map[string]interface{}{"tasks": s.Len()})
}

func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// RunDue runs every task whose next run has passed and returns how many ran.
func (s *Scheduler) RunDue() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ran := 0
	for _, t := range s.tasks {
		if now.Before(t.nextRun) {
			continue
		}
		removed := t.sweeper.Sweep(now)
		if removed > 0 {
			s.logger.Debug("Swept expired entries", map[string]interface{}{
				"name":    t.name,
				"removed": removed,
			})
		}
		t.nextRun = now.Add(t.interval)
		ran++
	}
	return ran
}
