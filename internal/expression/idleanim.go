package expression

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultIdleDelay is how long after the last utterance the idle pose fires.
const DefaultIdleDelay = 3500 * time.Millisecond

// Animator drives the model's idle pose. Schedule arms a timer that fires the
// idle hotkey after a short delay; Cancel disarms it and optionally fires the
// interrupt hotkey so the model snaps back to attention.
type Animator struct {
	trigger       TriggerFunc
	delay         time.Duration
	idleHotkey    string
	interruptName string

	mu    sync.Mutex
	timer *time.Timer
}

// NewAnimator creates an Animator firing hotkeys through trigger. idleHotkey
// poses the model for standby, interruptHotkey breaks the pose.
func NewAnimator(trigger TriggerFunc, delay time.Duration, idleHotkey, interruptHotkey string) *Animator {
	if delay <= 0 {
		delay = DefaultIdleDelay
	}
	return &Animator{
		trigger:       trigger,
		delay:         delay,
		idleHotkey:    idleHotkey,
		interruptName: interruptHotkey,
	}
}

// Schedule arms the idle timer, replacing any pending one.
func (a *Animator) Schedule() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.delay, func() {
		if err := a.trigger(context.Background(), a.idleHotkey); err != nil {
			slog.Warn("expression.Animator: idle pose failed", "hotkey", a.idleHotkey, "error", err)
			return
		}
		slog.Debug("expression.Animator: idle pose", "hotkey", a.idleHotkey)
	})
}

// Cancel disarms a pending idle timer and fires the interrupt hotkey so an
// already-posed model wakes up.
func (a *Animator) Cancel() {
	a.Disarm()
	if err := a.trigger(context.Background(), a.interruptName); err != nil {
		slog.Warn("expression.Animator: interrupt failed", "hotkey", a.interruptName, "error", err)
		return
	}
	slog.Debug("expression.Animator: idle pose interrupted", "hotkey", a.interruptName)
}

// Disarm stops a pending idle timer without touching the model.
func (a *Animator) Disarm() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
