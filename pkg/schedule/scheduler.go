// Package schedule runs background jobs that mutate state
// independently of client requests: fixed-cadence repeat jobs and
// calendar-based cron jobs. All jobs pause while no connections are
// live so the host process can hibernate, and resume on the first new
// connection.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler is one job execution. A returned error is handled per the
// job's retry policy and never stops the schedule by itself.
type Handler func(ctx context.Context, job *Job) error

// RepeatConfig configures a fixed-cadence job.
type RepeatConfig struct {
	// Interval is the firing cadence. Required.
	Interval time.Duration

	// Predicate, when set, gates each firing on current state; a false
	// result skips the tick without counting as a failure.
	Predicate func() bool

	// Handler runs on each firing. Required.
	Handler Handler

	// MaxRetries bounds immediate retries after a failed firing.
	MaxRetries int

	// RetryBackoff is the delay before the first retry, doubling per
	// attempt. Default 1s when MaxRetries > 0.
	RetryBackoff time.Duration

	// PauseOnError pauses the job after retries are exhausted instead
	// of continuing with the next tick.
	PauseOnError bool

	// TrackRate enables events/second tracking, exposed via Job.Rate
	// for the handler's own use.
	TrackRate bool
}

// CronConfig configures a calendar-based job.
type CronConfig struct {
	// Schedule is a five-field cron expression. Required.
	Schedule string

	// Handler runs on each firing.
	Handler Handler

	// ForEachSession, when set, runs once per known session instead of
	// (or in addition to) Handler.
	ForEachSession func(ctx context.Context, sessionID string) error

	// PauseOnError pauses the job after a failed firing.
	PauseOnError bool
}

// SessionLister enumerates known sessions for per-session cron jobs.
type SessionLister interface {
	ForEachSessionID(fn func(sessionID string))
}

// Scheduler owns the job table and the hibernation switch. It is
// process-scoped state created by New, never a package singleton.
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	active bool
	closed bool

	sessions SessionLister
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// New creates a scheduler. Jobs start paused until Resume (or a
// presence transition) activates them.
func New(sessions SessionLister, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:     make(map[string]*Job),
		sessions: sessions,
		logger:   logger.With("component", "schedule"),
	}
}

// Repeat registers a fixed-cadence job. Duplicate ids fail fast.
func (s *Scheduler) Repeat(id string, config RepeatConfig) (*Job, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("schedule: job %q: interval required", id)
	}
	if config.Handler == nil {
		return nil, fmt.Errorf("schedule: job %q: handler required", id)
	}
	if config.MaxRetries > 0 && config.RetryBackoff == 0 {
		config.RetryBackoff = time.Second
	}

	j := &Job{
		id:        id,
		scheduler: s,
		repeat:    &config,
		paused:    true,
		wake:      make(chan struct{}, 1),
		trigger:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if config.TrackRate {
		j.rate = newRateTracker(10 * time.Second)
	}
	if err := s.add(j); err != nil {
		return nil, err
	}
	s.wg.Add(1)
	go j.runRepeat()
	return j, nil
}

// Cron registers a calendar-based job. Duplicate ids fail fast.
func (s *Scheduler) Cron(id string, config CronConfig) (*Job, error) {
	if config.Handler == nil && config.ForEachSession == nil {
		return nil, fmt.Errorf("schedule: job %q: handler or forEachSession required", id)
	}
	sched, err := parseCron(config.Schedule)
	if err != nil {
		return nil, err
	}
	if config.ForEachSession != nil && s.sessions == nil {
		return nil, fmt.Errorf("schedule: job %q: forEachSession requires a session lister", id)
	}

	j := &Job{
		id:        id,
		scheduler: s,
		cron:      &config,
		cronSched: sched,
		paused:    true,
		wake:      make(chan struct{}, 1),
		trigger:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if err := s.add(j); err != nil {
		return nil, err
	}
	s.wg.Add(1)
	go j.runCron()
	return j, nil
}

func (s *Scheduler) add(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("schedule: scheduler closed")
	}
	if _, exists := s.jobs[j.id]; exists {
		return fmt.Errorf("schedule: duplicate job id %q", j.id)
	}
	s.jobs[j.id] = j
	if s.active {
		j.Resume()
	}
	return nil
}

// Job returns a registered job by id.
func (s *Scheduler) Job(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// SetActive flips the hibernation switch: false pauses every job (zero
// live connections), true resumes them. Transitions are idempotent; the
// hub serializes its presence callbacks, so this is race-free against
// concurrent connect/disconnect.
func (s *Scheduler) SetActive(active bool) {
	s.mu.Lock()
	if s.active == active || s.closed {
		s.mu.Unlock()
		return
	}
	s.active = active
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		if active {
			j.Resume()
		} else {
			j.Pause()
		}
	}
	if active {
		s.logger.Info("scheduler resumed", "jobs", len(jobs))
	} else {
		s.logger.Info("scheduler hibernating", "jobs", len(jobs))
	}
}

// Active reports whether jobs are currently running.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Close stops every job and waits for in-flight handlers to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		j.Stop()
	}
	s.wg.Wait()
}
