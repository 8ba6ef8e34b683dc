package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lumen-live/cohost/internal/directive"
	"github.com/lumen-live/cohost/internal/expression"
	"github.com/lumen-live/cohost/internal/identity"
	"github.com/lumen-live/cohost/internal/idle"
	"github.com/lumen-live/cohost/internal/models"
)

type scriptedReplier struct {
	mu      sync.Mutex
	replies []string
	err     error
	reqs    []models.ReplyRequest
}

func (r *scriptedReplier) Generate(_ context.Context, req models.ReplyRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return "", r.err
	}
	if len(r.replies) == 0 {
		return "好的！", nil
	}
	reply := r.replies[0]
	r.replies = r.replies[1:]
	return reply, nil
}

type recordingSpeaker struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordingSpeaker) Say(_ context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, text)
}

type recordingCaptions struct {
	mu    sync.Mutex
	texts []string
}

func (c *recordingCaptions) Push(_, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *recordingSender) Send(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

type recordingPoser struct {
	mu    sync.Mutex
	calls []string
}

func (p *recordingPoser) Schedule() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "schedule")
}

func (p *recordingPoser) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "cancel")
}

func noopTrigger(context.Context, string) error { return nil }

func newTestCoordinator(replier Replier) (*Coordinator, *recordingSpeaker, *recordingCaptions, *recordingSender, *identity.Filter) {
	speaker := &recordingSpeaker{}
	captions := &recordingCaptions{}
	sender := &recordingSender{}
	filter := identity.NewFilter(42, "王思", 5)
	state := expression.NewStateMachine(expression.Config{}, noopTrigger)
	c := NewCoordinator(Config{
		Router:     replier,
		Dispatcher: directive.NewDispatcher(nil, state, nil),
		State:      state,
		Filter:     filter,
		Clock:      idle.NewClock(time.Minute, time.Minute),
		Speaker:    speaker,
		Captions:   captions,
		Sender:     sender,
		Persona:    "你是测试主播。",
		HostName:   "小思",
		AutoSend:   true,
	})
	return c, speaker, captions, sender, filter
}

func TestHandleEventRepliesAndDelivers(t *testing.T) {
	replier := &scriptedReplier{replies: []string{"你好呀，欢迎！"}}
	c, speaker, captions, _, _ := newTestCoordinator(replier)

	c.HandleEvent(context.Background(), models.Event{
		SenderID: 7, DisplayName: "小明", Kind: models.EventMessage, Payload: "主播好",
	})

	if len(captions.texts) != 1 || captions.texts[0] != "你好呀，欢迎！" {
		t.Errorf("captions = %v", captions.texts)
	}
	if len(speaker.lines) != 1 || speaker.lines[0] != "你好呀，欢迎！" {
		t.Errorf("spoken = %v", speaker.lines)
	}

	// The prompt carries persona, scene hint and the event line.
	req := replier.reqs[0]
	if req.Turns[0].Role != models.RoleSystem || req.Turns[0].Content != "你是测试主播。" {
		t.Errorf("first turn = %+v, want persona", req.Turns[0])
	}
	last := req.Turns[len(req.Turns)-1]
	if last.Content != "小明: 主播好" {
		t.Errorf("last turn = %q", last.Content)
	}
}

func TestDeliverBracketsIdlePose(t *testing.T) {
	replier := &scriptedReplier{replies: []string{"我在呢！"}}
	c, _, _, _, _ := newTestCoordinator(replier)
	poser := &recordingPoser{}
	c.cfg.Poser = poser

	c.HandleEvent(context.Background(), models.Event{
		SenderID: 7, DisplayName: "小明", Kind: models.EventMessage, Payload: "在吗",
	})

	if got := poser.calls; len(got) != 2 || got[0] != "cancel" || got[1] != "schedule" {
		t.Errorf("poser calls = %v, want [cancel schedule]", got)
	}
}

func TestHandleEventDropsOwnMessages(t *testing.T) {
	replier := &scriptedReplier{}
	c, _, captions, _, _ := newTestCoordinator(replier)

	// Exact uid match and masked-name match are both the host.
	c.HandleEvent(context.Background(), models.Event{SenderID: 42, DisplayName: "王思", Kind: models.EventMessage, Payload: "echo"})
	c.HandleEvent(context.Background(), models.Event{SenderID: 0, DisplayName: "王*", Kind: models.EventMessage, Payload: "echo"})

	if len(replier.reqs) != 0 {
		t.Errorf("router consulted %d times for own messages, want 0", len(replier.reqs))
	}
	if len(captions.texts) != 0 {
		t.Errorf("captions = %v, want none", captions.texts)
	}
}

func TestHandleEventDropsEchoedOutbound(t *testing.T) {
	replier := &scriptedReplier{}
	c, _, _, _, filter := newTestCoordinator(replier)

	filter.RecordOutbound("🎉")
	c.HandleEvent(context.Background(), models.Event{SenderID: 9, DisplayName: "路人", Kind: models.EventMessage, Payload: "🎉"})

	if len(replier.reqs) != 0 {
		t.Errorf("router consulted for an echoed message")
	}
}

func TestHandleEventApologizesOnTotalFailure(t *testing.T) {
	replier := &scriptedReplier{err: errors.New("all providers down")}
	c, speaker, _, _, _ := newTestCoordinator(replier)

	c.HandleEvent(context.Background(), models.Event{SenderID: 7, DisplayName: "小明", Kind: models.EventMessage, Payload: "在吗"})

	if len(speaker.lines) != 1 || speaker.lines[0] != apologyReply {
		t.Errorf("spoken = %v, want the apology line", speaker.lines)
	}
}

func TestHandleEventGiftAndEntryPrompts(t *testing.T) {
	replier := &scriptedReplier{replies: []string{"谢谢礼物！", "欢迎进来玩！"}}
	c, _, _, _, _ := newTestCoordinator(replier)

	c.HandleEvent(context.Background(), models.Event{SenderID: 7, DisplayName: "土豪", Kind: models.EventGift, Payload: "火箭", GiftCount: 3})
	c.HandleEvent(context.Background(), models.Event{SenderID: 8, DisplayName: "新人", Kind: models.EventEntry})

	giftTurn := replier.reqs[0].Turns[len(replier.reqs[0].Turns)-1].Content
	if giftTurn != "土豪: 送出了 火箭 x3" {
		t.Errorf("gift turn = %q", giftTurn)
	}
	entryTurn := replier.reqs[1].Turns[len(replier.reqs[1].Turns)-1].Content
	if entryTurn != "新人: 进入了直播间" {
		t.Errorf("entry turn = %q", entryTurn)
	}
}

func TestHandleEventSanitizesDirectives(t *testing.T) {
	replier := &scriptedReplier{replies: []string{`好的马上放歌 *[Music]:晴天.周杰伦* <"脸红"> 喜欢吗`}}
	c, speaker, captions, _, _ := newTestCoordinator(replier)

	c.HandleEvent(context.Background(), models.Event{SenderID: 7, DisplayName: "小明", Kind: models.EventMessage, Payload: "来首晴天"})

	want := "好的马上放歌 喜欢吗"
	if len(captions.texts) != 1 || captions.texts[0] != want {
		t.Errorf("caption = %v, want %q", captions.texts, want)
	}
	if len(speaker.lines) != 1 || speaker.lines[0] != want {
		t.Errorf("spoken = %v, want %q", speaker.lines, want)
	}
}

func TestHandleEventAutoSendsTrailingEmoji(t *testing.T) {
	replier := &scriptedReplier{replies: []string{"今天也要加油哦！🎉"}}
	c, _, _, sender, filter := newTestCoordinator(replier)

	c.HandleEvent(context.Background(), models.Event{SenderID: 7, DisplayName: "小明", Kind: models.EventMessage, Payload: "加油"})

	if len(sender.sent) != 1 || sender.sent[0] != "🎉" {
		t.Errorf("sent = %v, want [🎉]", sender.sent)
	}
	// Recorded before the send: the echo is already filtered.
	if !filter.SeenOwn("🎉") {
		t.Error("outbound emoji not recorded in echo caches")
	}
}

func TestHandleEventHistoryBounded(t *testing.T) {
	replier := &scriptedReplier{}
	c, _, _, _, _ := newTestCoordinator(replier)
	c.cfg.HistoryLimit = 3

	for i := 0; i < 6; i++ {
		c.HandleEvent(context.Background(), models.Event{SenderID: 7, DisplayName: "小明", Kind: models.EventMessage, Payload: "消息"})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) != 3 {
		t.Errorf("history length = %d, want 3", len(c.history))
	}
}

func TestIdleTurnUsesHistoryAndPropagatesFailure(t *testing.T) {
	replier := &scriptedReplier{replies: []string{"回复一", "闲聊内容"}}
	c, speaker, _, _, _ := newTestCoordinator(replier)

	c.HandleEvent(context.Background(), models.Event{SenderID: 7, DisplayName: "小明", Kind: models.EventMessage, Payload: "聊点什么"})

	if err := c.IdleTurn(context.Background(), 90*time.Second); err != nil {
		t.Fatalf("IdleTurn failed: %v", err)
	}
	idleReq := replier.reqs[1]
	prompt := idleReq.Turns[len(idleReq.Turns)-1].Content
	if !strings.Contains(prompt, "小明: 聊点什么") {
		t.Errorf("idle prompt missed recent history: %q", prompt)
	}
	if len(speaker.lines) != 2 {
		t.Errorf("spoken lines = %v", speaker.lines)
	}

	// Idle turns report failure instead of apologizing to an empty room.
	replier.err = errors.New("providers down")
	if err := c.IdleTurn(context.Background(), time.Minute); err == nil {
		t.Error("expected error from failed idle turn")
	}
	if len(speaker.lines) != 2 {
		t.Errorf("failed idle turn spoke: %v", speaker.lines)
	}
}

func TestCoordinatorBusyDuringHandling(t *testing.T) {
	clockSeen := make(chan bool, 1)
	clock := idle.NewClock(time.Nanosecond, time.Nanosecond)
	state := expression.NewStateMachine(expression.Config{}, noopTrigger)

	var c *Coordinator
	blocking := &blockingReplier{probe: func() {
		clockSeen <- clock.Idle()
	}}
	c = NewCoordinator(Config{
		Router: blocking,
		State:  state,
		Filter: identity.NewFilter(1, "主播", 5),
		Clock:  clock,
	})

	time.Sleep(time.Millisecond) // Let the tiny threshold elapse.
	c.HandleEvent(context.Background(), models.Event{SenderID: 7, DisplayName: "x", Kind: models.EventMessage, Payload: "hi"})

	if idleDuringReply := <-clockSeen; idleDuringReply {
		t.Error("clock reported idle while a reply was being generated")
	}
	if clock.Idle() {
		t.Error("clock not reset after the event completed")
	}
}

type blockingReplier struct {
	probe func()
}

func (b *blockingReplier) Generate(context.Context, models.ReplyRequest) (string, error) {
	b.probe()
	return "ok", nil
}

func TestExtractEmoji(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"今天也要加油哦！🎉", "🎉"},
		{"好耶！\n🎉✨", "🎉✨"},
		{"晚安啦(｡･ω･｡)", "(｡･ω･｡)"},
		{"纯文本没有表情", ""},
		{"中间有🎉但不在结尾", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ExtractEmoji(tc.in); got != tc.want {
			t.Errorf("ExtractEmoji(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCleanForSpeech(t *testing.T) {
	in := "<think>内部推理</think>大家好呀（挥手）今天天气不错🎉"
	want := "大家好呀今天天气不错"
	if got := cleanForSpeech(in); got != want {
		t.Errorf("cleanForSpeech = %q, want %q", got, want)
	}
}
