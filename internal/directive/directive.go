// Package directive parses the inline control tokens a generated reply may
// carry (e.g. *[Music]:song.artist*), executes their side effects in text
// order, and produces the clean text that is safe to speak and caption.
package directive

import (
	"regexp"
	"strings"

	"github.com/lumen-live/cohost/internal/expression"
	"github.com/lumen-live/cohost/internal/models"
)

// actionRE matches one directive token of the shape *[Action]:Content*.
var actionRE = regexp.MustCompile(`\*\[([A-Za-z]+)\]:([^*]+?)\*`)

// starWrapRE matches generic emphasis wrapping *text* (directive-shaped
// matches are filtered out in code; Go's RE2 has no lookahead).
var starWrapRE = regexp.MustCompile(`\*([^*]+?)\*`)

// Parse scans the reply left-to-right and returns every directive token as a
// tagged variant, preserving text order.
func Parse(reply string) []models.Directive {
	matches := actionRE.FindAllStringSubmatch(reply, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]models.Directive, 0, len(matches))
	for _, m := range matches {
		action := strings.ToLower(m[1])
		out = append(out, models.Directive{
			Kind:    kindOf(action),
			Action:  action,
			Payload: strings.TrimSpace(m[2]),
			Raw:     m[0],
		})
	}
	return out
}

func kindOf(action string) models.DirectiveKind {
	switch action {
	case "music":
		return models.DirectiveMusic
	case "bgm":
		return models.DirectiveBGM
	case "voice":
		return models.DirectiveVoice
	case "expression", "emoji":
		return models.DirectiveExpression
	case "idle":
		return models.DirectiveIdle
	case "emotion":
		return models.DirectiveEmotion
	default:
		return models.DirectiveUnknown
	}
}

// Sanitize strips control tokens from the reply and returns the clean text
// for speech and captions. Known directives vanish, voice tokens are replaced
// by their payload, unknown action tokens are left verbatim, generic
// *emphasis* is unwrapped, and avatar markup is removed.
func Sanitize(reply string) string {
	text := actionRE.ReplaceAllStringFunc(reply, func(tok string) string {
		m := actionRE.FindStringSubmatch(tok)
		kind := kindOf(strings.ToLower(m[1]))
		switch kind {
		case models.DirectiveUnknown:
			return tok
		case models.DirectiveVoice:
			return strings.TrimSpace(m[2])
		default:
			return ""
		}
	})

	text = starWrapRE.ReplaceAllStringFunc(text, func(tok string) string {
		inner := tok[1 : len(tok)-1]
		// Unknown directive tokens survived the first pass; keep them intact.
		if actionRE.MatchString(tok) {
			return tok
		}
		return inner
	})

	text = expression.StripMarkup(text)

	return strings.TrimSpace(collapseWS(text))
}

var wsRE = regexp.MustCompile(`[ \t]+`)

func collapseWS(s string) string {
	return wsRE.ReplaceAllString(s, " ")
}
