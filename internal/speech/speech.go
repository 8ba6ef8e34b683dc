// Package speech turns reply text into spoken audio and serializes utterances
// so the voice never talks over itself.
package speech

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lumen-live/cohost/internal/playback"
)

// Synthesizer renders text to an audio file on disk and cleans it up after
// playback.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
	Cleanup(path string) error
}

// Speaker speaks text out loud. Utterances are serialized under a speech
// lock that is independent of music playback, so speech and music can
// overlap but two utterances cannot.
type Speaker struct {
	synth  Synthesizer
	player playback.Player

	mu sync.Mutex
}

// NewSpeaker creates a Speaker. The player must be dedicated to speech; music
// lanes use their own.
func NewSpeaker(synth Synthesizer, player playback.Player) *Speaker {
	return &Speaker{synth: synth, player: player}
}

// Say synthesizes text and plays it to completion. Empty text is a no-op.
// Synthesis failures are logged and swallowed so a TTS outage never breaks
// the reply flow.
func (s *Speaker) Say(ctx context.Context, text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		slog.Warn("speech.Speaker.Say: synthesis failed", "error", err)
		return
	}
	defer func() {
		if err := s.synth.Cleanup(path); err != nil {
			slog.Debug("speech.Speaker.Say: cleanup failed", "path", path, "error", err)
		}
	}()

	if err := s.player.Play(ctx, path); err != nil {
		slog.Warn("speech.Speaker.Say: playback failed", "path", path, "error", err)
	}
}

// Interrupt stops the current utterance, if any.
func (s *Speaker) Interrupt() {
	s.player.Stop()
}
