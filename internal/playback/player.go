// Package playback serializes all music playback across the on-demand and
// ambient lanes, guaranteeing at most one audio-player process at a time.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// Player plays one audio URL or path to completion. Play blocks until the
// item finishes or Stop terminates it early. Implementations must refuse to
// start a second process while one is running.
type Player interface {
	Play(ctx context.Context, url string) error
	Stop()
}

// ProcessPlayer plays audio by spawning one external player process per item
// (ffplay by default) and awaiting its exit. The process handle is the single
// source of truth: every exit path clears it, so a process can never be
// orphaned.
type ProcessPlayer struct {
	binary string
	volume int // 0-100

	mu      sync.Mutex
	cmd     *exec.Cmd
	stopped bool
}

// NewProcessPlayer creates a ProcessPlayer using ffplay at the given volume (0-100).
func NewProcessPlayer(volume int) *ProcessPlayer {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	return &ProcessPlayer{binary: "ffplay", volume: volume}
}

// Play spawns the player process for url and waits for it to exit. A non-zero
// exit caused by Stop is not an error; any other failure is returned so the
// caller can treat the track as unavailable.
func (p *ProcessPlayer) Play(ctx context.Context, url string) error {
	p.mu.Lock()
	if p.cmd != nil {
		p.mu.Unlock()
		return errors.New("audio player already running; refusing to start a second process")
	}
	cmd := exec.CommandContext(ctx, p.binary,
		"-nodisp", "-autoexit", "-loglevel", "quiet",
		"-volume", strconv.Itoa(p.volume), url)
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("start audio player: %w", err)
	}
	p.cmd = cmd
	p.stopped = false
	p.mu.Unlock()

	slog.Debug("ProcessPlayer: playing", "url", url, "pid", cmd.Process.Pid)
	err := cmd.Wait()

	p.mu.Lock()
	wasStopped := p.stopped
	p.cmd = nil
	p.stopped = false
	p.mu.Unlock()

	if err != nil && !wasStopped {
		return fmt.Errorf("audio player exited: %w", err)
	}
	return nil
}

// Stop terminates the in-flight player process, if any. Termination racing a
// natural completion is tolerated; stopping an idle player is a no-op.
func (p *ProcessPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	p.stopped = true
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Debug("ProcessPlayer: kill failed, process likely finished", "error", err)
	}
}
