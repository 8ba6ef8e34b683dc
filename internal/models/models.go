// Package models defines the core data types shared across cohost components.
package models

// EventKind classifies an inbound livestream event.
type EventKind string

const (
	// EventMessage is a plain chat message from a viewer.
	EventMessage EventKind = "message"
	// EventGift is a gift sent by a viewer.
	EventGift EventKind = "gift"
	// EventEntry is a viewer entering the room.
	EventEntry EventKind = "entry"
)

// Event is a discrete inbound chat/gift/entry event delivered by the stream source.
// The source is responsible for the wire protocol; cohost only consumes these.
type Event struct {
	SenderID    int64     `json:"sender_id"`
	DisplayName string    `json:"display_name"`
	Kind        EventKind `json:"kind"`
	// Payload is the message text for EventMessage, the gift name for
	// EventGift, and unused for EventEntry.
	Payload   string `json:"payload"`
	GiftCount int    `json:"gift_count,omitempty"`
}

// Chat roles used in ReplyRequest turns.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is a single role/content turn in a reply request.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ReplyRequest carries one reply-generation request through the provider router.
// It is constructed per turn and never persisted.
type ReplyRequest struct {
	Turns []ChatTurn
	// ModelHint restricts the router to the named provider when set.
	ModelHint   string
	MaxTokens   int
	Temperature float64
}

// DirectiveKind is the tagged variant of a parsed control directive.
type DirectiveKind int

const (
	// DirectiveUnknown is an action token the dispatcher does not recognize.
	// It is logged and left in the reply text as-is.
	DirectiveUnknown DirectiveKind = iota
	// DirectiveMusic requests an on-demand track or stops ambient music.
	DirectiveMusic
	// DirectiveBGM toggles ambient music or reconfigures the ambient playlist.
	DirectiveBGM
	// DirectiveVoice carries narration text; no side effect, payload is kept.
	DirectiveVoice
	// DirectiveExpression forwards an expression keyword to the avatar state machine.
	DirectiveExpression
	// DirectiveIdle starts or stops the idle-animation timer.
	DirectiveIdle
	// DirectiveEmotion is an emotion hint consumed by the TTS layer; logged only.
	DirectiveEmotion
)

// String returns the variant name for logging.
func (k DirectiveKind) String() string {
	switch k {
	case DirectiveMusic:
		return "music"
	case DirectiveBGM:
		return "bgm"
	case DirectiveVoice:
		return "voice"
	case DirectiveExpression:
		return "expression"
	case DirectiveIdle:
		return "idle"
	case DirectiveEmotion:
		return "emotion"
	default:
		return "unknown"
	}
}

// Directive is one inline control token parsed out of a generated reply,
// e.g. *[Music]:song.artist*. Parsed transiently; not persisted beyond dispatch.
type Directive struct {
	Kind DirectiveKind
	// Action is the raw action keyword as written in the reply (lowercased).
	Action string
	// Payload is the trimmed content after the colon.
	Payload string
	// Raw is the full matched token, used to leave unknown actions untouched.
	Raw string
}

// PlaybackOrigin distinguishes the two playback lanes.
type PlaybackOrigin int

const (
	// OriginOnDemand is a viewer/model requested track; it pre-empts ambient.
	OriginOnDemand PlaybackOrigin = iota
	// OriginAmbient is the looping background-music lane.
	OriginAmbient
)

// String returns the lane name for logging.
func (o PlaybackOrigin) String() string {
	if o == OriginOnDemand {
		return "on_demand"
	}
	return "ambient"
}

// PlaybackItem is one queued audio item. Ownership transfers to the playback
// scheduler on enqueue; ambient items are re-enqueued at the tail after play.
type PlaybackItem struct {
	URL    string
	Origin PlaybackOrigin
}

// Exchange is one completed audience interaction kept in conversation history.
// Reply stores the sanitized text so directives never leak into later prompts.
type Exchange struct {
	User    string
	Message string
	Reply   string
}
