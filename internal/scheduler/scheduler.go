// Package scheduler runs named, cancelable tasks on a Clock.
//
// A repeating task re-arms its timer only after its body returns, so at most
// one run of a task is ever in progress. Every task carries a cancellation
// flag that is checked right before the body runs; canceling or replacing a
// task turns an already-due run into a no-op.
package scheduler

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/telhawk-beacon/internal/clock"
)

// Well-known task names.
const (
	TaskFlush         = "flush"
	TaskCadence       = "cadence"
	TaskNetworkPause  = "network-pause"
	TaskNetworkResume = "network-resume"
)

type task struct {
	name     string
	interval time.Duration
	fn       func()
	canceled atomic.Bool

	mu    sync.Mutex
	timer clock.Timer
}

// Scheduler owns a set of named tasks.
type Scheduler struct {
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]*task
}

// New creates a Scheduler driven by c.
func New(c clock.Clock, logger *slog.Logger) *Scheduler {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		clock:  c,
		logger: logger,
		tasks:  make(map[string]*task),
	}
}

// Every runs fn every interval until canceled. Any existing task with the
// same name is canceled first.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) {
	if interval <= 0 {
		s.logger.Warn("refusing to schedule task with non-positive interval",
			"task", name, "interval", interval)
		return
	}
	s.schedule(&task{name: name, interval: interval, fn: fn}, interval)
}

// After runs fn once after delay unless canceled. Any existing task with the
// same name is canceled first.
func (s *Scheduler) After(name string, delay time.Duration, fn func()) {
	s.schedule(&task{name: name, fn: fn}, delay)
}

func (s *Scheduler) schedule(t *task, delay time.Duration) {
	s.mu.Lock()
	if old, ok := s.tasks[t.name]; ok {
		old.cancel()
	}
	s.tasks[t.name] = t
	s.mu.Unlock()

	s.arm(t, delay)
}

func (s *Scheduler) arm(t *task, delay time.Duration) {
	if t.canceled.Load() {
		return
	}
	timer := s.clock.AfterFunc(delay, func() { s.run(t) })

	t.mu.Lock()
	t.timer = timer
	t.mu.Unlock()

	// cancel may have raced the assignment above
	if t.canceled.Load() {
		timer.Stop()
	}
}

func (s *Scheduler) run(t *task) {
	if t.canceled.Load() {
		return
	}

	t.fn()

	if t.interval == 0 {
		s.mu.Lock()
		if s.tasks[t.name] == t {
			delete(s.tasks, t.name)
		}
		s.mu.Unlock()
		t.canceled.Store(true)
		return
	}
	s.arm(t, t.interval)
}

// Cancel stops the named task. It reports whether a live task was found.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	t, ok := s.tasks[name]
	delete(s.tasks, name)
	s.mu.Unlock()

	if !ok {
		return false
	}
	t.cancel()
	return true
}

// Active reports whether the named task is scheduled.
func (s *Scheduler) Active(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	return ok && !t.canceled.Load()
}

// Stop cancels every task.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = make(map[string]*task)
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
}

func (t *task) cancel() {
	t.canceled.Store(true)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
}
