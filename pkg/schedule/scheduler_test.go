package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type staticSessions []string

func (s staticSessions) ForEachSessionID(fn func(string)) {
	for _, id := range s {
		fn(id)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
}

func TestRepeatFiresWhileActive(t *testing.T) {
	s := New(nil, nil)
	defer s.Close()

	var fired atomic.Int64
	_, err := s.Repeat("tick", RepeatConfig{
		Interval: 5 * time.Millisecond,
		Handler: func(ctx context.Context, job *Job) error {
			fired.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Repeat: %v", err)
	}

	// Jobs start paused until a connection shows up.
	time.Sleep(25 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Fatalf("job fired %d times while idle, want 0", n)
	}

	s.SetActive(true)
	waitFor(t, 2*time.Second, func() bool { return fired.Load() >= 2 })
}

func TestHibernationPausesWithinOneTick(t *testing.T) {
	s := New(nil, nil)
	defer s.Close()

	var fired atomic.Int64
	s.Repeat("tick", RepeatConfig{
		Interval: 5 * time.Millisecond,
		Handler: func(ctx context.Context, job *Job) error {
			fired.Add(1)
			return nil
		},
	})

	s.SetActive(true)
	waitFor(t, 2*time.Second, func() bool { return fired.Load() >= 1 })

	s.SetActive(false)
	// Allow at most one in-flight tick to drain, then the count must
	// hold still.
	time.Sleep(10 * time.Millisecond)
	frozen := fired.Load()
	time.Sleep(50 * time.Millisecond)
	if got := fired.Load(); got != frozen {
		t.Errorf("job fired %d more times after hibernation", got-frozen)
	}
}

func TestSetActiveIdempotent(t *testing.T) {
	s := New(nil, nil)
	defer s.Close()

	s.Repeat("tick", RepeatConfig{
		Interval: time.Hour,
		Handler:  func(ctx context.Context, job *Job) error { return nil },
	})

	for i := 0; i < 5; i++ {
		s.SetActive(true)
	}
	if !s.Active() {
		t.Error("not active after SetActive(true)")
	}
	for i := 0; i < 5; i++ {
		s.SetActive(false)
	}
	if s.Active() {
		t.Error("active after SetActive(false)")
	}
}

func TestPredicateGatesFiring(t *testing.T) {
	s := New(nil, nil)
	defer s.Close()

	var allowed atomic.Bool
	var fired atomic.Int64
	s.Repeat("gated", RepeatConfig{
		Interval:  5 * time.Millisecond,
		Predicate: func() bool { return allowed.Load() },
		Handler: func(ctx context.Context, job *Job) error {
			fired.Add(1)
			return nil
		},
	})
	s.SetActive(true)

	time.Sleep(30 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("predicate did not gate firing")
	}

	allowed.Store(true)
	waitFor(t, 2*time.Second, func() bool { return fired.Load() >= 1 })
}

func TestRetryWithBackoffThenContinue(t *testing.T) {
	s := New(nil, nil)
	defer s.Close()

	var calls atomic.Int64
	job, err := s.Repeat("flaky", RepeatConfig{
		Interval:     time.Hour,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		Handler: func(ctx context.Context, j *Job) error {
			if calls.Add(1) <= 2 {
				return errors.New("transient")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Repeat: %v", err)
	}

	s.SetActive(true)
	job.Trigger()

	// First call fails, first retry fails, second retry succeeds.
	waitFor(t, 2*time.Second, func() bool { return calls.Load() == 3 })
	if job.Paused() {
		t.Error("job paused without PauseOnError")
	}
}

func TestPauseOnErrorAfterRetriesExhausted(t *testing.T) {
	s := New(nil, nil)
	defer s.Close()

	var calls atomic.Int64
	job, _ := s.Repeat("doomed", RepeatConfig{
		Interval:     time.Hour,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
		PauseOnError: true,
		Handler: func(ctx context.Context, j *Job) error {
			calls.Add(1)
			return errors.New("permanent")
		},
	})

	s.SetActive(true)
	job.Trigger()

	waitFor(t, 2*time.Second, func() bool { return job.Paused() })
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 (original + 1 retry)", calls.Load())
	}
}

func TestJobPanicDoesNotKillScheduler(t *testing.T) {
	s := New(nil, nil)
	defer s.Close()

	var after atomic.Int64
	bad, _ := s.Repeat("bad", RepeatConfig{
		Interval: time.Hour,
		Handler:  func(ctx context.Context, j *Job) error { panic("oops") },
	})
	good, _ := s.Repeat("good", RepeatConfig{
		Interval: time.Hour,
		Handler: func(ctx context.Context, j *Job) error {
			after.Add(1)
			return nil
		},
	})

	s.SetActive(true)
	bad.Trigger()
	good.Trigger()
	waitFor(t, 2*time.Second, func() bool { return after.Load() >= 1 })
}

func TestDuplicateJobIDFailsFast(t *testing.T) {
	s := New(nil, nil)
	defer s.Close()

	h := func(ctx context.Context, j *Job) error { return nil }
	if _, err := s.Repeat("x", RepeatConfig{Interval: time.Hour, Handler: h}); err != nil {
		t.Fatalf("first Repeat: %v", err)
	}
	if _, err := s.Repeat("x", RepeatConfig{Interval: time.Hour, Handler: h}); err == nil {
		t.Error("duplicate job id accepted")
	}
	if _, err := s.Cron("x", CronConfig{Schedule: "* * * * *", Handler: h}); err == nil {
		t.Error("duplicate job id accepted across job kinds")
	}
}

func TestCronForEachSession(t *testing.T) {
	s := New(staticSessions{"a", "b", "c"}, nil)
	defer s.Close()

	var visits atomic.Int64
	job, err := s.Cron("nightly", CronConfig{
		Schedule: "0 0 * * *",
		ForEachSession: func(ctx context.Context, sessionID string) error {
			visits.Add(1)
			if sessionID == "b" {
				return errors.New("b is broken")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Cron: %v", err)
	}

	s.SetActive(true)
	job.Trigger()

	// One failing session never skips the rest.
	waitFor(t, 2*time.Second, func() bool { return visits.Load() == 3 })
}

func TestRateTracking(t *testing.T) {
	s := New(nil, nil)
	defer s.Close()

	job, _ := s.Repeat("rated", RepeatConfig{
		Interval:  time.Hour,
		TrackRate: true,
		Handler: func(ctx context.Context, j *Job) error {
			return nil
		},
	})
	s.SetActive(true)
	for i := 0; i < 5; i++ {
		job.Trigger()
		time.Sleep(5 * time.Millisecond)
	}
	waitFor(t, 2*time.Second, func() bool { return job.Rate() > 0 })
}

func TestCloseStopsJobs(t *testing.T) {
	s := New(nil, nil)
	var fired atomic.Int64
	s.Repeat("tick", RepeatConfig{
		Interval: 5 * time.Millisecond,
		Handler: func(ctx context.Context, j *Job) error {
			fired.Add(1)
			return nil
		},
	})
	s.SetActive(true)
	waitFor(t, 2*time.Second, func() bool { return fired.Load() >= 1 })

	s.Close()
	frozen := fired.Load()
	time.Sleep(30 * time.Millisecond)
	if got := fired.Load(); got != frozen {
		t.Errorf("jobs still firing after Close")
	}
}

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		t       time.Time
		matches bool
	}{
		{"* * * * *", time.Date(2026, 8, 28, 12, 30, 0, 0, time.UTC), true},
		{"0 0 * * *", time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), true},
		{"0 0 * * *", time.Date(2026, 8, 28, 0, 1, 0, 0, time.UTC), false},
		{"*/15 * * * *", time.Date(2026, 8, 28, 12, 45, 0, 0, time.UTC), true},
		{"*/15 * * * *", time.Date(2026, 8, 28, 12, 44, 0, 0, time.UTC), false},
		{"0 9-17 * * *", time.Date(2026, 8, 28, 13, 0, 0, 0, time.UTC), true},
		{"0 9-17 * * *", time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC), false},
		// 2026-08-30 is a Sunday.
		{"0 0 * * 0", time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), true},
		{"0 0 * * 1-5", time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), false},
		{"30 6 1,15 * *", time.Date(2026, 9, 15, 6, 30, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		sched, err := parseCron(tt.expr)
		if err != nil {
			t.Errorf("%q: %v", tt.expr, err)
			continue
		}
		if got := sched.matches(tt.t); got != tt.matches {
			t.Errorf("%q at %v: matches = %v, want %v", tt.expr, tt.t, got, tt.matches)
		}
	}
}

func TestParseCronRejectsGarbage(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "61 * * * *", "* 25 * * *", "a * * * *", "*/0 * * * *"} {
		if _, err := parseCron(expr); err == nil {
			t.Errorf("%q: expected parse error", expr)
		}
	}
}

func TestCronNext(t *testing.T) {
	sched, err := parseCron("0 3 * * *")
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	want := time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC)
	if got := sched.next(from); !got.Equal(want) {
		t.Errorf("next = %v, want %v", got, want)
	}
}
