// Package pipeline coordinates one live session: inbound audience events flow
// through the echo filter, the reply router, directive dispatch, captions and
// speech, in that order.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/lumen-live/cohost/internal/directive"
	"github.com/lumen-live/cohost/internal/expression"
	"github.com/lumen-live/cohost/internal/identity"
	"github.com/lumen-live/cohost/internal/idle"
	"github.com/lumen-live/cohost/internal/models"
)

// apologyReply is spoken when every provider fails; the audience never sees a
// raw error.
const apologyReply = "哎呀，我刚刚走神了，可以再说一遍吗？"

// DefaultHistoryLimit bounds the in-memory conversation history.
const DefaultHistoryLimit = 20

// idleOpeners are canned lines for lulls with no conversation to riff on.
var idleOpeners = []string{
	"好像没有人说话呢，那我自己找点话题好啦～",
	"直播间好安静呀，大家都在忙什么呢？",
	"没人聊天的话，我就随便聊聊今天的趣事吧！",
}

// Replier produces one reply for a prompt. The provider router satisfies it.
type Replier interface {
	Generate(ctx context.Context, req models.ReplyRequest) (string, error)
}

// SpeechOut voices a reply. Speech failures are the implementation's problem;
// Say never blocks the pipeline with an error.
type SpeechOut interface {
	Say(ctx context.Context, text string)
}

// CaptionSink shows a reply on the stream overlay.
type CaptionSink interface {
	Push(speaker, text string)
}

// Sender posts text back to the chat room (the echo the identity filter
// guards against).
type Sender interface {
	Send(ctx context.Context, text string) error
}

// ExchangeLog persists completed exchanges.
type ExchangeLog interface {
	AddExchange(ctx context.Context, ex models.Exchange) error
}

// Poser controls the avatar's idle pose timer around spoken replies.
type Poser interface {
	Schedule()
	Cancel()
}

// Source delivers audience events. Implementations own the wire protocol.
type Source interface {
	Events() <-chan models.Event
}

// Config carries the coordinator's collaborators and tunables. Router, State,
// Filter and Clock are required; everything else may be nil.
type Config struct {
	Router     Replier
	Dispatcher *directive.Dispatcher
	State      *expression.StateMachine
	Filter     *identity.Filter
	Clock      *idle.Clock
	Speaker    SpeechOut
	Captions   CaptionSink
	Sender     Sender
	Log        ExchangeLog
	Poser      Poser

	Persona      string
	HostName     string
	HistoryLimit int
	AutoSend     bool
	MaxTokens    int
	Temperature  float64
}

// Coordinator runs the reply pipeline for one session. All session state
// lives here; two sessions never share.
type Coordinator struct {
	cfg Config

	mu         sync.Mutex
	history    []models.Exchange
	popularity int
}

// NewCoordinator creates a Coordinator from cfg.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.HostName == "" {
		cfg.HostName = "主播"
	}
	return &Coordinator{cfg: cfg}
}

// SetPopularity updates the room's popularity figure used in scene hints.
func (c *Coordinator) SetPopularity(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.popularity = n
}

// Run consumes events from src until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, src Source) {
	slog.Info("pipeline.Coordinator: session started", "host", c.cfg.HostName)
	for {
		select {
		case <-ctx.Done():
			slog.Info("pipeline.Coordinator: session ended")
			return
		case ev, ok := <-src.Events():
			if !ok {
				slog.Info("pipeline.Coordinator: event source closed")
				return
			}
			c.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent processes one audience event end to end. It never lets a
// collaborator failure escape; the pipeline always returns to ready.
func (c *Coordinator) HandleEvent(ctx context.Context, ev models.Event) {
	if ev.Kind == models.EventMessage {
		if c.cfg.Filter.IsSelf(ev.SenderID, ev.DisplayName) {
			slog.Debug("pipeline.Coordinator.HandleEvent: own message dropped", "sender", ev.DisplayName)
			return
		}
		if c.cfg.Filter.SeenOwn(ev.Payload) {
			slog.Debug("pipeline.Coordinator.HandleEvent: echoed outbound text dropped", "text", ev.Payload)
			return
		}
	}

	c.cfg.Clock.SetBusy(true)
	defer func() {
		c.cfg.Clock.SetBusy(false)
		c.cfg.Clock.Touch()
	}()

	prompt := c.eventText(ev)
	slog.Info("pipeline.Coordinator.HandleEvent: handling event", "kind", ev.Kind, "sender", ev.DisplayName)
	c.respond(ctx, ev.DisplayName, prompt, true)
}

// IdleTurn produces an unsolicited line during a lull. It is wired as the
// idle scheduler's trigger; returning an error makes the scheduler retry on
// the next poll.
func (c *Coordinator) IdleTurn(ctx context.Context, quiet time.Duration) error {
	c.cfg.Clock.SetBusy(true)
	defer c.cfg.Clock.SetBusy(false)

	prompt := c.idlePrompt(quiet)
	raw, err := c.cfg.Router.Generate(ctx, c.buildRequest("", prompt))
	if err != nil {
		return fmt.Errorf("idle turn: %w", err)
	}
	c.deliver(ctx, "", prompt, raw)
	return nil
}

// respond generates a reply for prompt and delivers it. When apologize is set
// a total provider failure produces the apology line instead of silence.
func (c *Coordinator) respond(ctx context.Context, user, prompt string, apologize bool) {
	raw, err := c.cfg.Router.Generate(ctx, c.buildRequest(user, prompt))
	if err != nil {
		slog.Error("pipeline.Coordinator.respond: all providers failed", "error", err, "prompt", prompt)
		if !apologize {
			return
		}
		raw = apologyReply
	}
	c.deliver(ctx, user, prompt, raw)
}

// deliver runs the post-generation half of the pipeline: avatar markup,
// directives, captions, speech, history, outbound emoji.
func (c *Coordinator) deliver(ctx context.Context, user, prompt, raw string) {
	c.cfg.State.HandleText(ctx, raw)
	if c.cfg.Dispatcher != nil {
		c.cfg.Dispatcher.Dispatch(ctx, raw)
	}

	clean := directive.Sanitize(raw)
	if clean == "" {
		slog.Debug("pipeline.Coordinator.deliver: reply was directives only", "raw", raw)
		return
	}

	if c.cfg.Poser != nil {
		c.cfg.Poser.Cancel()
	}
	if c.cfg.Captions != nil {
		c.cfg.Captions.Push(c.cfg.HostName, clean)
	}
	if c.cfg.Speaker != nil {
		c.cfg.Speaker.Say(ctx, cleanForSpeech(clean))
	}
	if c.cfg.Poser != nil {
		c.cfg.Poser.Schedule()
	}

	c.recordExchange(ctx, models.Exchange{User: user, Message: prompt, Reply: clean})
	c.sendEmoji(ctx, raw)
}

// sendEmoji extracts a trailing emoji or kaomoji from the reply and posts it
// to chat. The text is recorded in the echo caches before the send so the
// echo can never race the filter.
func (c *Coordinator) sendEmoji(ctx context.Context, raw string) {
	if !c.cfg.AutoSend || c.cfg.Sender == nil {
		return
	}
	emoji := ExtractEmoji(raw)
	if emoji == "" {
		return
	}
	c.cfg.Filter.RecordOutbound(emoji)
	if err := c.cfg.Sender.Send(ctx, emoji); err != nil {
		slog.Warn("pipeline.Coordinator.sendEmoji: send failed", "emoji", emoji, "error", err)
		return
	}
	slog.Debug("pipeline.Coordinator.sendEmoji: sent", "emoji", emoji)
}

func (c *Coordinator) recordExchange(ctx context.Context, ex models.Exchange) {
	c.mu.Lock()
	c.history = append(c.history, ex)
	if len(c.history) > c.cfg.HistoryLimit {
		c.history = c.history[len(c.history)-c.cfg.HistoryLimit:]
	}
	c.mu.Unlock()

	if c.cfg.Log != nil {
		if err := c.cfg.Log.AddExchange(ctx, ex); err != nil {
			slog.Warn("pipeline.Coordinator.recordExchange: persist failed", "error", err)
		}
	}
}

// buildRequest assembles the provider request: persona, avatar state, scene
// hint, history, then the current prompt.
func (c *Coordinator) buildRequest(user, prompt string) models.ReplyRequest {
	var turns []models.ChatTurn
	if c.cfg.Persona != "" {
		turns = append(turns, models.ChatTurn{Role: models.RoleSystem, Content: c.cfg.Persona})
	}
	if summary := c.cfg.State.Summary(); summary != "" {
		turns = append(turns, models.ChatTurn{Role: models.RoleSystem, Content: summary})
	}
	turns = append(turns, models.ChatTurn{Role: models.RoleSystem, Content: c.sceneHint()})

	c.mu.Lock()
	for _, ex := range c.history {
		turns = append(turns,
			models.ChatTurn{Role: models.RoleUser, Content: fmt.Sprintf("%s: %s", ex.User, ex.Message)},
			models.ChatTurn{Role: models.RoleAssistant, Content: ex.Reply},
		)
	}
	c.mu.Unlock()

	current := prompt
	if user != "" {
		current = fmt.Sprintf("%s: %s", user, prompt)
	}
	turns = append(turns, models.ChatTurn{Role: models.RoleUser, Content: current})

	return models.ReplyRequest{
		Turns:       turns,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
}

func (c *Coordinator) sceneHint() string {
	c.mu.Lock()
	popularity := c.popularity
	c.mu.Unlock()

	var daypart string
	switch hour := time.Now().Hour(); {
	case hour < 6:
		daypart = "深夜"
	case hour < 12:
		daypart = "上午"
	case hour < 18:
		daypart = "下午"
	default:
		daypart = "晚上"
	}
	quiet := int(c.cfg.Clock.Quiet().Seconds())
	return fmt.Sprintf("[场景] 现在是%s，人气值%d，距离上一条弹幕%d秒。", daypart, popularity, quiet)
}

// eventText renders an event as the audience-side prompt line.
func (c *Coordinator) eventText(ev models.Event) string {
	switch ev.Kind {
	case models.EventGift:
		count := ev.GiftCount
		if count <= 0 {
			count = 1
		}
		return fmt.Sprintf("送出了 %s x%d", ev.Payload, count)
	case models.EventEntry:
		return "进入了直播间"
	default:
		return ev.Payload
	}
}

func (c *Coordinator) idlePrompt(quiet time.Duration) string {
	c.mu.Lock()
	history := make([]models.Exchange, len(c.history))
	copy(history, c.history)
	c.mu.Unlock()

	if len(history) == 0 {
		return idleOpeners[rand.IntN(len(idleOpeners))]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[空闲] 已经%d秒没有弹幕了。最近聊过：", int(quiet.Seconds()))
	start := len(history) - 3
	if start < 0 {
		start = 0
	}
	for _, ex := range history[start:] {
		fmt.Fprintf(&b, "「%s: %s」", ex.User, ex.Message)
	}
	b.WriteString("请自然地接着闲聊或者开个新话题，不要重复之前说过的话。")
	return b.String()
}
