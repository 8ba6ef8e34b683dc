package expression

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// recorder counts trigger invocations per expression name.
type recorder struct {
	mu    sync.Mutex
	fired []string
	err   error
}

func (r *recorder) trigger(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.fired = append(r.fired, name)
	return nil
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.fired {
		if f == name {
			n++
		}
	}
	return n
}

func boolPtr(b bool) *bool { return &b }

func newTestSM(r *recorder, cfg Config) *StateMachine {
	return NewStateMachine(cfg, r.trigger)
}

func TestToggle_NoRefireWhenStateMatches(t *testing.T) {
	r := &recorder{}
	sm := newTestSM(r, Config{})
	ctx := context.Background()

	if err := sm.Apply(ctx, "blush", boolPtr(true)); err != nil {
		t.Fatal(err)
	}
	if err := sm.Apply(ctx, "blush", boolPtr(true)); err != nil {
		t.Fatal(err)
	}
	if got := r.count("blush"); got != 1 {
		t.Errorf("double ON fired %d times, want 1", got)
	}

	if err := sm.Apply(ctx, "blush", boolPtr(false)); err != nil {
		t.Fatal(err)
	}
	if err := sm.Apply(ctx, "blush", boolPtr(true)); err != nil {
		t.Fatal(err)
	}
	if got := r.count("blush"); got != 3 {
		t.Errorf("ON/OFF/ON fired %d times, want 3", got)
	}
}

func TestOneShot_NeverStored(t *testing.T) {
	r := &recorder{}
	sm := newTestSM(r, Config{OneShot: []string{"wave"}})
	ctx := context.Background()

	sm.Apply(ctx, "wave", boolPtr(true))
	sm.Apply(ctx, "wave", boolPtr(true))
	if got := r.count("wave"); got != 2 {
		t.Errorf("one-shot fired %d times, want 2 (no state suppression)", got)
	}
	if _, stored := sm.Active()["wave"]; stored {
		t.Error("one-shot expression must not be stored")
	}
}

func TestNilDesired_FiresUnconditionally(t *testing.T) {
	r := &recorder{}
	sm := newTestSM(r, Config{})
	ctx := context.Background()

	sm.Apply(ctx, "nod", nil)
	sm.Apply(ctx, "nod", nil)
	if got := r.count("nod"); got != 2 {
		t.Errorf("bare trigger fired %d times, want 2", got)
	}
}

func TestTimed_AutoRevert(t *testing.T) {
	r := &recorder{}
	sm := newTestSM(r, Config{Timed: map[string]time.Duration{"tongue": 30 * time.Millisecond}})
	ctx := context.Background()

	sm.Apply(ctx, "tongue", boolPtr(true))
	time.Sleep(100 * time.Millisecond)

	if got := r.count("tongue"); got != 2 {
		t.Errorf("expected ON + auto-off = 2 triggers, got %d", got)
	}
	if sm.Active()["tongue"] {
		t.Error("timed expression should be off after auto-revert")
	}
}

func TestTimed_ManualOffCancelsAutoRevert(t *testing.T) {
	r := &recorder{}
	sm := newTestSM(r, Config{Timed: map[string]time.Duration{"tongue": 50 * time.Millisecond}})
	ctx := context.Background()

	sm.Apply(ctx, "tongue", boolPtr(true))
	sm.Apply(ctx, "tongue", boolPtr(false))

	time.Sleep(120 * time.Millisecond)
	// ON + manual OFF; the auto-off must not add a third trigger.
	if got := r.count("tongue"); got != 2 {
		t.Errorf("expected 2 triggers after manual off, got %d", got)
	}
}

func TestTimed_ReOnRestartsDelay(t *testing.T) {
	r := &recorder{}
	sm := newTestSM(r, Config{Timed: map[string]time.Duration{"tongue": 60 * time.Millisecond}})
	ctx := context.Background()

	sm.Apply(ctx, "tongue", boolPtr(true))
	time.Sleep(30 * time.Millisecond)
	sm.Apply(ctx, "tongue", boolPtr(false))
	sm.Apply(ctx, "tongue", boolPtr(true)) // fresh delay starts here
	time.Sleep(40 * time.Millisecond)

	// Old timer would have fired by now if it survived; the new one has not.
	if !sm.Active()["tongue"] {
		t.Error("expression reverted early; stale timer fired")
	}
	time.Sleep(60 * time.Millisecond)
	if sm.Active()["tongue"] {
		t.Error("expression should have auto-reverted by now")
	}
}

func TestFan_AlwaysFlips(t *testing.T) {
	r := &recorder{}
	sm := newTestSM(r, Config{FanName: "fan", FanOpen: true})
	ctx := context.Background()

	sm.Apply(ctx, "fan", boolPtr(true)) // explicit desired state is ignored
	if sm.Active()["fan"] {
		t.Error("fan should have flipped to closed")
	}
	sm.Apply(ctx, "fan", nil)
	if !sm.Active()["fan"] {
		t.Error("fan should have flipped back to open")
	}
	if got := r.count("fan"); got != 2 {
		t.Errorf("fan fired %d times, want 2", got)
	}
}

func TestIgnored_DroppedSilently(t *testing.T) {
	r := &recorder{}
	sm := newTestSM(r, Config{Ignored: []string{"expression1"}})
	ctx := context.Background()

	if err := sm.Apply(ctx, "expression1", boolPtr(true)); err != nil {
		t.Fatal(err)
	}
	if got := r.count("expression1"); got != 0 {
		t.Errorf("ignored expression fired %d times, want 0", got)
	}
	if strings.Contains(sm.Summary(), "expression1") {
		t.Error("ignored expression leaked into summary")
	}
}

func TestTriggerFailure_StateUnchanged(t *testing.T) {
	r := &recorder{err: errors.New("host offline")}
	sm := newTestSM(r, Config{})
	ctx := context.Background()

	if err := sm.Apply(ctx, "blush", boolPtr(true)); err == nil {
		t.Fatal("expected trigger error")
	}
	if sm.Active()["blush"] {
		t.Error("state must not change when the trigger fails")
	}
}

func TestHandleText_ParsesMarkup(t *testing.T) {
	r := &recorder{}
	sm := newTestSM(r, Config{OneShot: []string{"wave"}})

	sm.HandleText(context.Background(), `hello <"wave"> there <"blush":on> bye`)
	if got := r.count("wave"); got != 1 {
		t.Errorf("wave fired %d times, want 1", got)
	}
	if !sm.Active()["blush"] {
		t.Error("blush should be on after markup")
	}
}

func TestSummary(t *testing.T) {
	r := &recorder{}
	sm := newTestSM(r, Config{FanName: "fan", FanOpen: true})
	ctx := context.Background()

	if got := sm.Summary(); got != "[State] fan:open" {
		t.Errorf("unexpected summary: %q", got)
	}
	sm.Apply(ctx, "blush", boolPtr(true))
	got := sm.Summary()
	if !strings.Contains(got, "blush:on") || !strings.Contains(got, "fan:open") {
		t.Errorf("unexpected summary: %q", got)
	}
}

func TestStripMarkup(t *testing.T) {
	in := `hi <"wave"> and <"blush" : on> end`
	got := StripMarkup(in)
	if strings.Contains(got, "<") || strings.Contains(got, ">") {
		t.Errorf("markup left in output: %q", got)
	}
}
