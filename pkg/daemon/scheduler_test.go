package daemon

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestCronParse(t *testing.T) {
	for _, expr := range []string{"@every 10m", "@daily", "0 30 3 * * *"} {
		schedule, err := cronParser.Parse(expr)
		if err != nil {
			t.Fatalf("failed to parse cron expression %q: %v", expr, err)
		}

		next1 := schedule.Next(time.Now())
		next2 := schedule.Next(next1)
		if !next2.After(next1) {
			t.Fatalf("%q: expected next2 to be after next1, got next1=%v next2=%v", expr, next1, next2)
		}
	}
}

func TestNewJobInvalidSchedule(t *testing.T) {
	if _, err := NewJob("bad", "every tuesday", func() error { return nil }, nil); err == nil {
		t.Fatalf("expected an error for an invalid schedule")
	}
}

func TestJobStatus(t *testing.T) {
	j, err := NewJob("test", "@every 1m", func() error { return nil }, nil)
	if err != nil {
		t.Fatalf("NewJob returned error: %v", err)
	}

	next, running := j.Status()
	if running {
		t.Fatalf("job should not be running")
	}
	if next.IsZero() {
		t.Fatalf("next run should be set")
	}

	j.Start()
	_, running = j.Status()
	if !running {
		t.Fatalf("job should be running after Start")
	}
	j.Stop()
	j.Stop() // idempotent
}

func TestJobRunCycle(t *testing.T) {
	taskCh := make(chan struct{}, 1)
	var preChecks int32

	task := func() error {
		select {
		case taskCh <- struct{}{}:
		default:
		}
		return nil
	}
	preCheck := func() error {
		// Fails twice before letting the task run.
		if atomic.AddInt32(&preChecks, 1) <= 2 {
			return errors.New("not ready")
		}
		return nil
	}

	j, err := NewJob("test", "@every 1h", task, preCheck)
	if err != nil {
		t.Fatalf("NewJob returned error: %v", err)
	}
	j.preCheckInterval = 10 * time.Millisecond

	j.mu.Lock()
	j.nextRun = time.Now().Add(50 * time.Millisecond)
	j.mu.Unlock()

	j.Start()
	defer j.Stop()

	select {
	case <-taskCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not execute in time")
	}

	if got := atomic.LoadInt32(&preChecks); got != 3 {
		t.Fatalf("expected 3 prechecks, got %d", got)
	}

	// The next run moves to the following hour.
	time.Sleep(10 * time.Millisecond)
	next, _ := j.Status()
	if time.Until(next) < 30*time.Minute {
		t.Fatalf("expected next run about an hour away, got %v", next)
	}
}

func TestJobPreCheckFailure(t *testing.T) {
	taskCh := make(chan struct{}, 1)
	var preChecks int32

	task := func() error {
		taskCh <- struct{}{}
		return nil
	}
	preCheck := func() error {
		atomic.AddInt32(&preChecks, 1)
		return errors.New("boom")
	}

	j, err := NewJob("test", "@every 1h", task, preCheck)
	if err != nil {
		t.Fatalf("NewJob returned error: %v", err)
	}
	j.preCheckInterval = time.Millisecond

	j.mu.Lock()
	j.nextRun = time.Now()
	j.mu.Unlock()

	j.Start()
	defer j.Stop()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&preChecks) < preCheckMaxTimes+1 {
		select {
		case <-deadline:
			t.Fatalf("expected %d prechecks, got %d", preCheckMaxTimes+1, atomic.LoadInt32(&preChecks))
		case <-time.After(5 * time.Millisecond):
		}
	}

	select {
	case <-taskCh:
		t.Fatalf("task should not execute when precheck fails")
	case <-time.After(50 * time.Millisecond):
	}

	if got := atomic.LoadInt32(&preChecks); got != preCheckMaxTimes+1 {
		t.Fatalf("prechecks should stop after giving up, got %d", got)
	}
}
