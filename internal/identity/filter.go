// Package identity decides whether an inbound chat event originated from the
// bot's own account, so the co-host never replies to its own echoed messages.
//
// Two mechanisms cooperate: sender matching (exact uid, full display name, or
// fuzzy masked-name matching) and echo caches of every message/emoji the bot
// has sent this session.
package identity

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// fillerRunes are the characters chat platforms substitute for masked name
// characters, plus decorative punctuation seen trailing masked names.
const fillerRunes = "*＊★☆．。.！!?,，·、… "

var whitespaceRE = regexp.MustCompile(`\s+`)

// Normalize applies NFKC normalization and collapses runs of whitespace.
// Both sides of every identity comparison go through this.
func Normalize(s string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(norm.NFKC.String(s), " "))
}

// MaskName reproduces the platform's display-name masking: single-rune names
// are left alone, two-rune names keep the first rune, longer names keep the
// first and last rune with stars between.
func MaskName(name string) string {
	runes := []rune(name)
	switch {
	case len(runes) == 0:
		return ""
	case len(runes) == 1:
		return name
	case len(runes) == 2:
		return string(runes[0]) + "*"
	default:
		return string(runes[0]) + strings.Repeat("*", len(runes)-2) + string(runes[len(runes)-1])
	}
}

// Filter implements self-detection for inbound events. It is safe for
// concurrent use; the caches are append-only for the session.
type Filter struct {
	selfUID  int64
	selfName string // normalized full display name
	mask     string // normalized masked display name

	mu sync.Mutex
	// recent is a bounded most-recent-N ring of normalized outbound texts,
	// kept for cheap debug inspection of the latest sends.
	recent []string
	limit  int
	// all is the unbounded per-session set, consulted together with the ring
	// so correctness survives ring overflow.
	all map[string]struct{}
}

// NewFilter creates a Filter for the configured self account. The masked name
// is derived from the full name with MaskName. recentLimit bounds the
// most-recent ring; values < 1 fall back to a small default.
func NewFilter(selfUID int64, selfName string, recentLimit int) *Filter {
	if recentLimit < 1 {
		recentLimit = 20
	}
	f := &Filter{
		selfUID:  selfUID,
		selfName: Normalize(selfName),
		mask:     Normalize(MaskName(selfName)),
		limit:    recentLimit,
		all:      make(map[string]struct{}),
	}
	slog.Debug("identity.NewFilter: configured", "uid", selfUID, "mask", f.mask, "recent_limit", recentLimit)
	return f
}

// IsSelf reports whether the event sender is the bot's own account.
//
// Order of checks: exact uid, normalized full name, exact masked name, then
// the fuzzy rule: same first rune with every remaining rune drawn from the
// filler set. The fuzzy rule tolerates the varying mask widths the platform
// uses for different name lengths, and is known to false-positive on short
// genuine names sharing the first character; ambiguity is resolved as
// "not self" everywhere else, this heuristic is the one deliberate exception.
func (f *Filter) IsSelf(senderID int64, displayName string) bool {
	name := Normalize(displayName)

	if f.selfUID != 0 && senderID == f.selfUID {
		slog.Debug("identity.IsSelf: uid match", "uid", senderID)
		return true
	}
	if f.selfName != "" && name == f.selfName {
		slog.Debug("identity.IsSelf: full name match", "name", name)
		return true
	}
	if f.mask == "" || name == "" {
		return false
	}
	if name == f.mask {
		slog.Debug("identity.IsSelf: masked name match", "name", name)
		return true
	}

	nameRunes := []rune(name)
	maskRunes := []rune(f.mask)
	if nameRunes[0] != maskRunes[0] || len(nameRunes) < 2 {
		return false
	}
	for _, r := range nameRunes[1:] {
		if !strings.ContainsRune(fillerRunes, r) {
			return false
		}
	}
	slog.Debug("identity.IsSelf: fuzzy mask match", "name", name)
	return true
}

// RecordOutbound records a message or emoji the bot is about to send. Callers
// must record before the network call so the platform echo cannot race past
// the cache.
func (f *Filter) RecordOutbound(text string) {
	key := Normalize(text)
	if key == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recent = append(f.recent, key)
	if len(f.recent) > f.limit {
		f.recent = f.recent[len(f.recent)-f.limit:]
	}
	f.all[key] = struct{}{}
}

// SeenOwn reports whether the normalized text matches any message or emoji the
// bot has sent this session. This catches echoes whose sender id the platform
// reports as 0/unknown.
func (f *Filter) SeenOwn(text string) bool {
	key := Normalize(text)
	if key == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.recent {
		if m == key {
			return true
		}
	}
	_, ok := f.all[key]
	return ok
}
