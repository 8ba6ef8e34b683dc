// Package expression tracks the avatar's visual expression state so triggers
// are idempotent: toggles are never re-fired for a state they are already in,
// timed expressions auto-revert, and the model can be told what is currently
// active so it does not redundantly re-issue directives.
package expression

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// TriggerFunc fires one expression trigger on the avatar host. The state
// machine is host-protocol-agnostic; the host adapter supplies this.
type TriggerFunc func(ctx context.Context, name string) error

// markupRE matches inline avatar markup like <"脸红":on> or <"挥手">.
var markupRE = regexp.MustCompile(`<\s*"([^"]+)"\s*(?::\s*(on|off))?\s*>`)

// Config declares the lifecycle category of each expression name. Names not
// listed anywhere default to toggleable.
type Config struct {
	// OneShot expressions fire immediately and store no state.
	OneShot []string
	// Timed expressions auto-revert to off after their delay.
	Timed map[string]time.Duration
	// Ignored names are dropped silently: never triggered, stored or reported.
	Ignored []string
	// FanName is the exclusive open/close prop. The host only exposes a
	// toggle for it, so every trigger flips the stored boolean.
	FanName string
	// FanOpen is the initial state of the fan prop.
	FanOpen bool
}

// StateMachine owns all mutable expression state. All mutation goes through a
// single mutex so timer cancellation is synchronous with state changes.
type StateMachine struct {
	trigger TriggerFunc

	oneShot map[string]struct{}
	timed   map[string]time.Duration
	ignored map[string]struct{}
	fanName string

	mu      sync.Mutex
	state   map[string]bool
	timers  map[string]*time.Timer
	fanOpen bool
}

// NewStateMachine creates a state machine that fires triggers through fn.
func NewStateMachine(cfg Config, fn TriggerFunc) *StateMachine {
	sm := &StateMachine{
		trigger: fn,
		oneShot: make(map[string]struct{}),
		timed:   make(map[string]time.Duration),
		ignored: make(map[string]struct{}),
		fanName: cfg.FanName,
		state:   make(map[string]bool),
		timers:  make(map[string]*time.Timer),
		fanOpen: cfg.FanOpen,
	}
	for _, n := range cfg.OneShot {
		sm.oneShot[n] = struct{}{}
	}
	for n, d := range cfg.Timed {
		sm.timed[n] = d
	}
	for _, n := range cfg.Ignored {
		sm.ignored[n] = struct{}{}
	}
	slog.Debug("expression.NewStateMachine: configured",
		"one_shot", len(sm.oneShot), "timed", len(sm.timed), "ignored", len(sm.ignored), "fan", cfg.FanName)
	return sm
}

// HandleText parses every avatar markup token in text and applies it in order.
// Errors from individual triggers are logged and do not stop later tokens.
func (sm *StateMachine) HandleText(ctx context.Context, text string) {
	for _, m := range markupRE.FindAllStringSubmatch(text, -1) {
		name := m[1]
		var desired *bool
		if m[2] != "" {
			on := m[2] == "on"
			desired = &on
		}
		if err := sm.Apply(ctx, name, desired); err != nil {
			slog.Warn("expression.HandleText: trigger failed", "expression", name, "error", err)
		}
	}
}

// Apply requests an expression change. desired is nil when the token carried
// no explicit on/off, which fires the trigger unconditionally (one-shot
// semantics). Returns the trigger error, if any; state is only mutated when
// the trigger succeeds.
func (sm *StateMachine) Apply(ctx context.Context, name string, desired *bool) error {
	if _, drop := sm.ignored[name]; drop {
		return nil
	}

	if name == sm.fanName && sm.fanName != "" {
		return sm.flipFan(ctx)
	}

	if _, oneShot := sm.oneShot[name]; oneShot || desired == nil {
		slog.Debug("expression.Apply: one-shot trigger", "expression", name)
		return sm.trigger(ctx, name)
	}

	return sm.setToggle(ctx, name, *desired)
}

// flipFan triggers the exclusive prop and flips the stored boolean. The host
// only exposes a toggle, so an explicit desired state cannot be honored.
func (sm *StateMachine) flipFan(ctx context.Context) error {
	if err := sm.trigger(ctx, sm.fanName); err != nil {
		return err
	}
	sm.mu.Lock()
	sm.fanOpen = !sm.fanOpen
	open := sm.fanOpen
	sm.mu.Unlock()
	slog.Debug("expression.Apply: fan flipped", "open", open)
	return nil
}

// setToggle applies toggleable (and timed) semantics: a request equal to the
// current state is a no-op, a change fires the trigger and flips stored state.
func (sm *StateMachine) setToggle(ctx context.Context, name string, on bool) error {
	sm.mu.Lock()
	if sm.state[name] == on {
		sm.mu.Unlock()
		slog.Debug("expression.Apply: already in desired state", "expression", name, "on", on)
		return nil
	}
	sm.mu.Unlock()

	if err := sm.trigger(ctx, name); err != nil {
		return err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state[name] = on

	// Any pending auto-off belongs to the previous ON; it must not survive
	// this mutation.
	if t, ok := sm.timers[name]; ok {
		t.Stop()
		delete(sm.timers, name)
	}
	if on {
		if delay, timed := sm.timed[name]; timed {
			sm.timers[name] = time.AfterFunc(delay, func() { sm.autoOff(name) })
			slog.Debug("expression.Apply: auto-off scheduled", "expression", name, "delay", delay)
		}
	}
	return nil
}

// autoOff reverts a timed expression once its delay elapses. A manual OFF that
// raced ahead of us already cleared the state, in which case this is a no-op.
func (sm *StateMachine) autoOff(name string) {
	sm.mu.Lock()
	if !sm.state[name] {
		sm.mu.Unlock()
		return
	}
	sm.state[name] = false
	delete(sm.timers, name)
	sm.mu.Unlock()

	if err := sm.trigger(context.Background(), name); err != nil {
		slog.Warn("expression.autoOff: trigger failed", "expression", name, "error", err)
		return
	}
	slog.Info("expression.autoOff: timed expression reverted", "expression", name)
}

// Active returns a snapshot of every stored toggle state plus the fan prop.
func (sm *StateMachine) Active() map[string]bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make(map[string]bool, len(sm.state)+1)
	for n, on := range sm.state {
		out[n] = on
	}
	if sm.fanName != "" {
		out[sm.fanName] = sm.fanOpen
	}
	return out
}

// Summary renders a compact human-readable line of current states, suitable
// for a system turn in the next model prompt.
func (sm *StateMachine) Summary() string {
	states := sm.Active()
	if len(states) == 0 {
		return "[State] none"
	}

	names := make([]string, 0, len(states))
	for n := range states {
		names = append(names, n)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, n := range names {
		if n == sm.fanName {
			if states[n] {
				parts = append(parts, fmt.Sprintf("%s:open", n))
			} else {
				parts = append(parts, fmt.Sprintf("%s:closed", n))
			}
			continue
		}
		if states[n] {
			parts = append(parts, fmt.Sprintf("%s:on", n))
		} else {
			parts = append(parts, fmt.Sprintf("%s:off", n))
		}
	}
	return "[State] " + strings.Join(parts, "; ")
}

// StripMarkup removes every avatar markup token from text so the tokens are
// never spoken or captioned.
func StripMarkup(text string) string {
	return markupRE.ReplaceAllString(text, "")
}
