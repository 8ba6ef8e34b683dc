package directive

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/lumen-live/cohost/internal/models"
)

// Music is the playback surface the dispatcher drives.
type Music interface {
	// RequestSong resolves and enqueues an on-demand track.
	RequestSong(ctx context.Context, song, artist string) error
	// StartAmbient enables the looping background-music lane.
	StartAmbient()
	// StopAmbient disables the background-music lane and stops any ambient playback.
	StopAmbient()
	// SetAmbientPlaylist switches the ambient lane to another playlist.
	SetAmbientPlaylist(id int64)
}

// Expressions is the avatar state machine surface the dispatcher drives.
type Expressions interface {
	Apply(ctx context.Context, name string, desired *bool) error
}

// IdleAnimation controls the post-speech idle-animation timer (distinct from
// the conversational idle scheduler).
type IdleAnimation interface {
	Schedule()
	Cancel()
}

// Dispatcher executes directive side effects in the order the tokens appear
// in the reply text. A failing side effect is logged and never aborts the
// remaining directives or the sanitization pass.
type Dispatcher struct {
	music Music
	expr  Expressions
	idle  IdleAnimation
}

// NewDispatcher creates a Dispatcher. Any collaborator may be nil, in which
// case its directives are logged and skipped.
func NewDispatcher(music Music, expr Expressions, idle IdleAnimation) *Dispatcher {
	return &Dispatcher{music: music, expr: expr, idle: idle}
}

// Dispatch parses the raw reply and executes every directive left-to-right.
// It returns the parsed directives for observability.
func (d *Dispatcher) Dispatch(ctx context.Context, reply string) []models.Directive {
	directives := Parse(reply)
	for _, dir := range directives {
		d.dispatchOne(ctx, dir)
	}
	return directives
}

func (d *Dispatcher) dispatchOne(ctx context.Context, dir models.Directive) {
	switch dir.Kind {
	case models.DirectiveMusic:
		d.handleMusic(ctx, dir.Payload)
	case models.DirectiveBGM:
		d.handleBGM(dir.Payload)
	case models.DirectiveVoice:
		// Narration payload is handled by sanitization; nothing to do here.
	case models.DirectiveExpression:
		if d.expr == nil {
			slog.Debug("Dispatcher: no expression controller wired", "payload", dir.Payload)
			return
		}
		if err := d.expr.Apply(ctx, dir.Payload, nil); err != nil {
			slog.Warn("Dispatcher: expression directive failed", "expression", dir.Payload, "error", err)
		}
	case models.DirectiveIdle:
		d.handleIdle(dir.Payload)
	case models.DirectiveEmotion:
		// The TTS layer reads emotion from the raw reply; record it only.
		slog.Info("Dispatcher: emotion hint", "emotion", dir.Payload)
	case models.DirectiveUnknown:
		slog.Debug("Dispatcher: unrecognized action, left as plain text", "action", dir.Action, "payload", dir.Payload)
	}
}

func (d *Dispatcher) handleMusic(ctx context.Context, payload string) {
	if d.music == nil {
		slog.Debug("Dispatcher: no music controller wired", "payload", payload)
		return
	}
	switch strings.ToLower(payload) {
	case "none", "off", "stop":
		d.music.StopAmbient()
		return
	}

	song, artist := payload, ""
	if i := strings.Index(payload, "."); i >= 0 {
		song = strings.TrimSpace(payload[:i])
		artist = strings.TrimSpace(payload[i+1:])
	}
	if err := d.music.RequestSong(ctx, song, artist); err != nil {
		slog.Warn("Dispatcher: song request failed", "song", song, "artist", artist, "error", err)
	}
}

func (d *Dispatcher) handleBGM(payload string) {
	if d.music == nil {
		slog.Debug("Dispatcher: no music controller wired", "payload", payload)
		return
	}
	raw := strings.TrimSpace(payload)

	// Control keywords must be quoted: *[BGM]:"open"* / *[BGM]:"close"*.
	if quoted, ok := unquote(raw); ok {
		switch strings.ToLower(quoted) {
		case "open", "on", "start":
			d.music.StartAmbient()
		case "close", "off", "stop":
			d.music.StopAmbient()
		default:
			slog.Debug("Dispatcher: unknown quoted bgm keyword", "keyword", quoted)
		}
		return
	}

	// Unquoted payload switches the ambient playlist.
	if id, ok := ParsePlaylistID(raw); ok {
		d.music.SetAmbientPlaylist(id)
		slog.Info("Dispatcher: ambient playlist switched", "playlist_id", id)
		return
	}
	slog.Debug("Dispatcher: bgm payload not a playlist id", "payload", raw)
}

func (d *Dispatcher) handleIdle(payload string) {
	if d.idle == nil {
		slog.Debug("Dispatcher: no idle animator wired", "payload", payload)
		return
	}
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case "start":
		d.idle.Schedule()
	case "stop":
		d.idle.Cancel()
	default:
		slog.Debug("Dispatcher: unknown idle keyword", "payload", payload)
	}
}

func unquote(s string) (string, bool) {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1], true
		}
	}
	return "", false
}

var playlistIDRE = regexp.MustCompile(`id=(\d+)`)

// ParsePlaylistID extracts a playlist id from a bare number or a playlist URL
// ("https://.../playlist?id=123"). A leading @ from chat-client quoting is
// tolerated.
func ParsePlaylistID(raw string) (int64, bool) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "@"))
	if raw == "" {
		return 0, false
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return id, true
	}
	if m := playlistIDRE.FindStringSubmatch(raw); m != nil {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			return id, true
		}
	}
	return 0, false
}
