package schedule

import (
	"context"
	"sync"
	"time"
)

// Job is one scheduled unit of background work. All controls are safe
// for concurrent use.
type Job struct {
	id        string
	scheduler *Scheduler

	repeat    *RepeatConfig
	cron      *CronConfig
	cronSched *cronSchedule

	mu     sync.Mutex
	paused bool

	// wake nudges a paused loop to re-check its state.
	wake chan struct{}

	// trigger forces one immediate firing regardless of cadence.
	trigger chan struct{}

	done     chan struct{}
	stopOnce sync.Once

	rate *rateTracker
}

// ID returns the job id.
func (j *Job) ID() string { return j.id }

// Pause suspends firing. Idempotent.
func (j *Job) Pause() {
	j.mu.Lock()
	j.paused = true
	j.mu.Unlock()
	j.nudge()
}

// Resume restarts firing. Idempotent.
func (j *Job) Resume() {
	j.mu.Lock()
	j.paused = false
	j.mu.Unlock()
	j.nudge()
}

// Paused reports whether the job is currently suspended.
func (j *Job) Paused() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.paused
}

// Trigger forces one firing as soon as the loop observes it, even
// while paused.
func (j *Job) Trigger() {
	select {
	case j.trigger <- struct{}{}:
	default:
	}
}

// Stop terminates the job permanently. Idempotent.
func (j *Job) Stop() {
	j.stopOnce.Do(func() { close(j.done) })
}

// Rate returns the job's recent firing throughput in events/second.
// Zero unless TrackRate was enabled.
func (j *Job) Rate() float64 {
	if j.rate == nil {
		return 0
	}
	return j.rate.perSecond()
}

func (j *Job) nudge() {
	select {
	case j.wake <- struct{}{}:
	default:
	}
}

// runRepeat is the loop for fixed-cadence jobs.
func (j *Job) runRepeat() {
	defer j.scheduler.wg.Done()
	ticker := time.NewTicker(j.repeat.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-j.trigger:
			j.fireRepeat()
		case <-ticker.C:
			if j.Paused() {
				continue
			}
			j.fireRepeat()
		case <-j.wake:
		}
	}
}

func (j *Job) fireRepeat() {
	if j.repeat.Predicate != nil && !j.repeat.Predicate() {
		return
	}
	if j.rate != nil {
		j.rate.record()
	}

	err := j.invoke(j.repeat.Handler)
	if err == nil {
		return
	}

	// Bounded retry with doubling backoff, then the configured
	// terminal policy: log-and-continue by default, pause on request.
	backoff := j.repeat.RetryBackoff
	for attempt := 1; attempt <= j.repeat.MaxRetries; attempt++ {
		select {
		case <-j.done:
			return
		case <-time.After(backoff):
		}
		backoff *= 2

		j.scheduler.logger.Warn("job retrying",
			"job", j.id, "attempt", attempt, "error", err)
		if err = j.invoke(j.repeat.Handler); err == nil {
			return
		}
	}

	j.scheduler.logger.Error("job failed", "job", j.id, "error", err)
	if j.repeat.PauseOnError {
		j.Pause()
	}
}

// runCron is the loop for calendar-based jobs.
func (j *Job) runCron() {
	defer j.scheduler.wg.Done()

	for {
		next := j.cronSched.next(time.Now())
		if next.IsZero() {
			j.scheduler.logger.Error("cron schedule never fires", "job", j.id)
			return
		}
		timer := time.NewTimer(time.Until(next))

		select {
		case <-j.done:
			timer.Stop()
			return
		case <-j.trigger:
			timer.Stop()
			j.fireCron()
		case <-j.wake:
			timer.Stop()
		case <-timer.C:
			if j.Paused() {
				continue
			}
			j.fireCron()
		}
	}
}

func (j *Job) fireCron() {
	if j.cron.Handler != nil {
		if err := j.invoke(j.cron.Handler); err != nil {
			j.scheduler.logger.Error("cron job failed", "job", j.id, "error", err)
			if j.cron.PauseOnError {
				j.Pause()
			}
			return
		}
	}
	if j.cron.ForEachSession != nil {
		j.scheduler.sessions.ForEachSessionID(func(sessionID string) {
			if err := j.invokeSession(sessionID); err != nil {
				// A failure for one session never skips the rest.
				j.scheduler.logger.Error("cron job failed for session",
					"job", j.id, "session_id", sessionID, "error", err)
			}
		})
	}
}

// invoke runs a handler with panic isolation; a panicking job must not
// take down the scheduler.
func (j *Job) invoke(h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{job: j.id, value: r}
		}
	}()
	return h(context.Background(), j)
}

func (j *Job) invokeSession(sessionID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{job: j.id, value: r}
		}
	}()
	return j.cron.ForEachSession(context.Background(), sessionID)
}

type panicError struct {
	job   string
	value any
}

func (e panicError) Error() string {
	return "schedule: job panicked"
}

// rateTracker measures throughput over a sliding window.
type rateTracker struct {
	mu     sync.Mutex
	window time.Duration
	times  []time.Time
}

func newRateTracker(window time.Duration) *rateTracker {
	return &rateTracker{window: window}
}

func (r *rateTracker) record() {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.times = append(r.times, now)
	r.trim(now)
}

func (r *rateTracker) perSecond() float64 {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trim(now)
	if len(r.times) == 0 {
		return 0
	}
	return float64(len(r.times)) / r.window.Seconds()
}

func (r *rateTracker) trim(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.times) && r.times[i].Before(cutoff) {
		i++
	}
	r.times = r.times[i:]
}
