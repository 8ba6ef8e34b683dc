package idle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestClockIdleAfterThreshold(t *testing.T) {
	c := NewClock(10*time.Millisecond, 10*time.Millisecond)
	if c.Idle() {
		t.Error("fresh clock should not be idle")
	}
	time.Sleep(15 * time.Millisecond)
	if !c.Idle() {
		t.Error("clock should be idle after the quiet threshold")
	}
}

func TestClockTouchResets(t *testing.T) {
	c := NewClock(10*time.Millisecond, 10*time.Millisecond)
	time.Sleep(15 * time.Millisecond)
	c.Touch()
	if c.Idle() {
		t.Error("touched clock should not be idle")
	}
}

func TestClockBusySuppressesIdle(t *testing.T) {
	c := NewClock(5*time.Millisecond, 5*time.Millisecond)
	c.SetBusy(true)
	time.Sleep(10 * time.Millisecond)
	if c.Idle() {
		t.Error("busy host must never report idle")
	}
	c.SetBusy(false)
	if !c.Idle() {
		t.Error("idle should report once busy clears")
	}
}

func TestClockThresholdWithinBounds(t *testing.T) {
	c := NewClock(50*time.Millisecond, 100*time.Millisecond)
	for i := 0; i < 50; i++ {
		c.Touch()
		c.mu.Lock()
		th := c.threshold
		c.mu.Unlock()
		if th < 50*time.Millisecond || th >= 100*time.Millisecond {
			t.Fatalf("threshold %v outside [50ms, 100ms)", th)
		}
	}
}

func TestSchedulerFiresOnLull(t *testing.T) {
	clock := NewClock(50*time.Millisecond, 50*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	var fired int32
	s := NewScheduler(clock, func(context.Context, time.Duration) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}, time.Hour) // Long poll: only the immediate first check runs.

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&fired) == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done

	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Errorf("trigger fired %d times, want 1 (first check is immediate)", got)
	}
	if clock.Idle() {
		t.Error("successful trigger should reset the clock")
	}
}

func TestSchedulerFirstTickFiresImmediately(t *testing.T) {
	// Fresh clock with an hour-long quiet window: only the first-tick rule
	// can fire within the test's deadline.
	clock := NewClock(time.Hour, time.Hour)

	var fired int32
	s := NewScheduler(clock, func(context.Context, time.Duration) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&fired) == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done

	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Errorf("first tick fired %d times, want 1", got)
	}
}

func TestSchedulerFirstTickDeferredWhileBusy(t *testing.T) {
	clock := NewClock(time.Hour, time.Hour)
	clock.SetBusy(true)

	var fired int32
	s := NewScheduler(clock, func(context.Context, time.Duration) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}, 2*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 0 {
		t.Fatalf("opener fired %d times while busy", got)
	}

	// The flag survives busy polls; the opener fires once busy clears.
	clock.SetBusy(false)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&fired) == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done

	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Errorf("opener fired %d times after busy cleared, want 1", got)
	}
}

func TestSchedulerFailedTriggerRetries(t *testing.T) {
	clock := NewClock(time.Millisecond, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	var fired int32
	s := NewScheduler(clock, func(context.Context, time.Duration) error {
		atomic.AddInt32(&fired, 1)
		return errors.New("provider down")
	}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&fired) < 2 {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done

	if got := atomic.LoadInt32(&fired); got < 2 {
		t.Errorf("trigger fired %d times, want retry after failure", got)
	}
}

func TestSchedulerDisabled(t *testing.T) {
	clock := NewClock(time.Millisecond, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	var fired int32
	s := NewScheduler(clock, func(context.Context, time.Duration) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}, 2*time.Millisecond)
	s.SetEnabled(false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if got := atomic.LoadInt32(&fired); got != 0 {
		t.Errorf("disabled scheduler fired %d times", got)
	}
}
