// Package idle notices lulls in chat activity and prompts the host to fill
// them with unsolicited small talk.
package idle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lumen-live/cohost/internal/util"
)

// DefaultPollInterval is how often the scheduler checks for a lull.
const DefaultPollInterval = 10 * time.Second

// Clock tracks the time of the last interaction and decides when the stream
// has gone quiet. Each quiet threshold is drawn at random from [min, max) so
// idle chatter does not fire on a fixed beat.
type Clock struct {
	minQuiet time.Duration
	maxQuiet time.Duration

	mu        sync.Mutex
	last      time.Time
	threshold time.Duration
	busy      bool
}

// NewClock creates a Clock with the given quiet-window bounds. The first
// threshold is drawn immediately.
func NewClock(minQuiet, maxQuiet time.Duration) *Clock {
	if maxQuiet < minQuiet {
		maxQuiet = minQuiet
	}
	c := &Clock{minQuiet: minQuiet, maxQuiet: maxQuiet, last: time.Now()}
	c.threshold = util.RandomDuration(minQuiet, maxQuiet)
	return c
}

// Touch records an interaction and draws a fresh quiet threshold.
func (c *Clock) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = time.Now()
	c.threshold = util.RandomDuration(c.minQuiet, c.maxQuiet)
}

// SetBusy marks the host as occupied. A busy host never goes idle no matter
// how long chat stays quiet.
func (c *Clock) SetBusy(busy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = busy
}

// Busy reports whether the host is currently occupied.
func (c *Clock) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Idle reports whether the quiet threshold has elapsed since the last
// interaction and the host is free.
func (c *Clock) Idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return false
	}
	return time.Since(c.last) >= c.threshold
}

// Quiet returns how long chat has been silent.
func (c *Clock) Quiet() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.last)
}

// Trigger is called when a lull is detected; it produces the unsolicited
// turn. A failed trigger does not reset the clock, so the next poll retries.
type Trigger func(ctx context.Context, quiet time.Duration) error

// Scheduler polls the clock and fires the trigger on lulls. The very first
// tick fires regardless of elapsed time, so a stream that starts quiet gets
// an opener right away instead of after a full quiet window.
type Scheduler struct {
	clock   *Clock
	trigger Trigger
	poll    time.Duration
	enabled bool
	first   bool
	mu      sync.Mutex
}

// NewScheduler creates a Scheduler polling clock every poll interval.
func NewScheduler(clock *Clock, trigger Trigger, poll time.Duration) *Scheduler {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Scheduler{clock: clock, trigger: trigger, poll: poll, enabled: true, first: true}
}

// SetEnabled turns idle chatter on or off at runtime.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// Enabled reports whether idle chatter is active.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Run polls until ctx is cancelled. The first check happens immediately.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("idle.Scheduler: started", "poll", s.poll)
	t := time.NewTicker(s.poll)
	defer t.Stop()
	for {
		s.check(ctx)
		select {
		case <-ctx.Done():
			slog.Info("idle.Scheduler: stopped")
			return
		case <-t.C:
		}
	}
}

func (s *Scheduler) check(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	first := s.takeFirst()
	if !first && !s.clock.Idle() {
		return
	}
	quiet := s.clock.Quiet()
	if first {
		slog.Info("idle.Scheduler: first tick, opening unprompted")
	} else {
		slog.Debug("idle.Scheduler: lull detected", "quiet", quiet)
	}
	if err := s.trigger(ctx, quiet); err != nil {
		slog.Warn("idle.Scheduler: trigger failed", "error", err)
		return
	}
	s.clock.Touch()
}

// takeFirst consumes the first-run flag. A busy host keeps the flag so the
// opener is deferred to the next poll rather than skipped.
func (s *Scheduler) takeFirst() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.first || s.clock.Busy() {
		return false
	}
	s.first = false
	return true
}
