package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/keybox-sentinel/interfaces"
)

// DefaultRecheckInterval is how long a due job waits before its constraints are checked again.
const DefaultRecheckInterval = time.Minute

// TimerScheduler implements interfaces.JobScheduler with in-process timers.
//
// Each name owns one slot. Enqueue replaces whatever is pending in the slot; a job
// that already started is not affected and runs to completion. When a job is due
// its constraints are checked through the probe; if they do not hold the job stays
// in its slot and is checked again after the recheck interval.
type TimerScheduler struct {
	probe   ConditionProbe
	recheck time.Duration
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	slots   map[string]*pendingJob
	nextID  uint64
	stopped bool
	running sync.WaitGroup
}

type pendingJob struct {
	id          uint64
	due         time.Time
	timer       *time.Timer
	constraints interfaces.Constraints
	job         interfaces.Job
}

// NewTimerScheduler creates a scheduler. A nil probe treats every constraint as met.
func NewTimerScheduler(probe ConditionProbe, recheck time.Duration, log *slog.Logger) *TimerScheduler {
	if probe == nil {
		probe = AlwaysConnected
	}
	if recheck <= 0 {
		recheck = DefaultRecheckInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &TimerScheduler{
		probe:   probe,
		recheck: recheck,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		slots:   make(map[string]*pendingJob),
	}
}

// Enqueue schedules job under name after delay, replacing any pending job of that name.
func (s *TimerScheduler) Enqueue(name string, delay time.Duration, constraints interfaces.Constraints, job interfaces.Job) {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		s.log.Warn("Scheduler stopped, dropping job", slog.String("job", name))
		return
	}

	if prev, ok := s.slots[name]; ok {
		prev.timer.Stop()
	}

	s.nextID++
	id := s.nextID
	p := &pendingJob{
		id:          id,
		due:         time.Now().Add(delay),
		constraints: constraints,
		job:         job,
	}
	p.timer = time.AfterFunc(delay, func() { s.fire(name, id) })
	s.slots[name] = p

	s.log.Debug("Job scheduled",
		slog.String("job", name),
		slog.Duration("delay", delay),
		slog.String("network", string(constraints.Network)))
}

// Cancel drops the pending job of name, if any.
func (s *TimerScheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.slots[name]; ok {
		p.timer.Stop()
		delete(s.slots, name)
		s.log.Debug("Job cancelled", slog.String("job", name))
	}
}

// Pending returns when the pending job of name is next due.
func (s *TimerScheduler) Pending(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.slots[name]
	if !ok {
		return time.Time{}, false
	}
	return p.due, true
}

// Stop drops all pending jobs and waits for running ones to return. Running jobs
// are not interrupted; their context is cancelled only after they finish.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for name, p := range s.slots {
		p.timer.Stop()
		delete(s.slots, name)
	}
	s.mu.Unlock()

	s.running.Wait()
	s.cancel()
}

func (s *TimerScheduler) fire(name string, id uint64) {
	s.mu.Lock()
	p, ok := s.slots[name]
	if !ok || p.id != id || s.stopped {
		s.mu.Unlock()
		return
	}
	constraints := p.constraints
	s.mu.Unlock()

	err := s.probe.Check(s.ctx, constraints)

	s.mu.Lock()
	p, ok = s.slots[name]
	if !ok || p.id != id || s.stopped {
		// Replaced or cancelled while probing.
		s.mu.Unlock()
		return
	}

	if err != nil {
		p.due = time.Now().Add(s.recheck)
		p.timer = time.AfterFunc(s.recheck, func() { s.fire(name, id) })
		s.mu.Unlock()
		s.log.Info("Job deferred", slog.String("job", name), "err", err)
		return
	}

	delete(s.slots, name)
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Job panicked", slog.String("job", name), slog.Any("panic", r))
		}
	}()

	s.log.Debug("Job started", slog.String("job", name))
	p.job(s.ctx)
}
