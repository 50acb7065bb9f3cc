package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ziadkadry99/chatpilot/internal/config"
	"github.com/ziadkadry99/chatpilot/internal/llm"
	"github.com/ziadkadry99/chatpilot/internal/wassenger"
)

type engineHarness struct {
	engine    *Engine
	messenger *fakeMessenger
	provider  *scriptedProvider
	events    *recorder
	cfg       *config.Config
}

func newHarness(t *testing.T, mutate func(*config.Config)) *engineHarness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Bot.FormatMarkdown = false
	if mutate != nil {
		mutate(cfg)
	}
	h := &engineHarness{
		messenger: &fakeMessenger{},
		provider:  &scriptedProvider{},
		events:    &recorder{},
		cfg:       cfg,
	}
	h.engine = New(cfg, wassenger.Device{ID: "dev1", Phone: "+15550000000"}, Deps{
		Messenger: h.messenger,
		Provider:  h.provider,
		Observer:  h.events,
		Logger:    testLogger(),
	})
	return h
}

func (h *engineHarness) process(t *testing.T, msg *wassenger.Message) error {
	t.Helper()
	return h.engine.ProcessMessage(context.Background(), &wassenger.WebhookEvent{
		Event:  wassenger.EventMessageInNew,
		Device: wassenger.Device{ID: "dev1"},
		Data:   msg,
	})
}

// inbound builds a text message from a chat that has already been greeted.
func inbound(id, body string) *wassenger.Message {
	last := time.Now().Add(-time.Hour)
	return &wassenger.Message{
		ID:         id,
		Type:       wassenger.TypeText,
		Flow:       wassenger.FlowInbound,
		FromNumber: "+15551234567",
		Body:       body,
		Date:       time.Now(),
		Chat: &wassenger.Chat{
			ID:                    "15551234567@c.us",
			Type:                  wassenger.ChatTypeChat,
			Contact:               wassenger.Contact{Phone: "+15551234567"},
			LastOutboundMessageAt: &last,
		},
	}
}

func TestEngineSkipsIneligibleMessages(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Filters.NumbersBlacklist = []string{"+15551234567"}
	})

	msgs := []*wassenger.Message{inbound("1", "hello"), inbound("2", "hello"), inbound("3", "hello")}
	msgs[1].Chat.Owner = &wassenger.Owner{Agent: "agent-1"}
	msgs[2].FromNumber = "+15550000000"

	for _, m := range msgs {
		if err := h.process(t, m); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if n := len(h.messenger.sentMessages()); n != 0 {
		t.Errorf("expected no sends, got %d", n)
	}
	if h.provider.calls() != 0 {
		t.Errorf("expected no model calls, got %d", h.provider.calls())
	}
	for _, k := range h.events.kinds() {
		if k != EventSkipped {
			t.Errorf("unexpected event %s", k)
		}
	}
}

func TestEngineSendsWelcomeToNewChat(t *testing.T) {
	h := newHarness(t, nil)
	msg := inbound("1", "hi there")
	msg.Chat.LastOutboundMessageAt = nil

	if err := h.process(t, msg); err != nil {
		t.Fatalf("process: %v", err)
	}
	sent := h.messenger.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sent))
	}
	want := h.cfg.Bot.WelcomeMessage + "\n\n" + h.cfg.Bot.DefaultMessage
	if sent[0].Message != want {
		t.Errorf("welcome = %q, want %q", sent[0].Message, want)
	}
	if h.provider.calls() != 0 {
		t.Error("welcome must not call the model")
	}
	if !h.events.has(EventWelcomeSent) {
		t.Errorf("expected welcome event, got %v", h.events.kinds())
	}
}

func TestEngineHandoffRequest(t *testing.T) {
	// Default config: a handoff on a brand-new chat wins over the welcome.
	h := newHarness(t, nil)
	h.messenger.members = []wassenger.TeamMember{
		{ID: "agent-1", Role: "agent", Status: wassenger.MemberActive, Availability: wassenger.Availability{Mode: wassenger.AvailabilityAuto}},
	}
	msg := inbound("1", "human")
	msg.Chat.LastOutboundMessageAt = nil

	if err := h.process(t, msg); err != nil {
		t.Fatalf("process: %v", err)
	}
	sent := h.messenger.sentMessages()
	if len(sent) != 1 || sent[0].Message != h.cfg.Bot.AssignedMessage {
		t.Fatalf("expected a single ack, got %+v", sent)
	}
	if len(h.messenger.owners) != 1 || h.messenger.owners[0] != "agent-1" {
		t.Errorf("expected one assignment to agent-1, got %v", h.messenger.owners)
	}
	if h.provider.calls() != 0 {
		t.Errorf("expected no model calls, got %d", h.provider.calls())
	}
	if !h.events.has(EventEscalated) {
		t.Errorf("expected escalated event, got %v", h.events.kinds())
	}
	// The ack is plain: only the assignment labels were written.
	if len(h.messenger.labels) != 1 || !contains(h.messenger.labels[0], "from-bot") || contains(h.messenger.labels[0], "bot") {
		t.Errorf("unexpected label updates %v", h.messenger.labels)
	}
}

func TestEngineHandoffWithoutMembersStillAcknowledges(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.process(t, inbound("1", "I want to talk with a person")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if n := len(h.messenger.sentMessages()); n != 1 {
		t.Fatalf("expected ack, got %d sends", n)
	}
	if !h.events.has(EventEscalationFailed) {
		t.Errorf("expected escalation_failed, got %v", h.events.kinds())
	}
}

func TestEngineUnsupportedImage(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Media.ImageInput = false
	})
	msg := inbound("1", "")
	msg.Type = wassenger.TypeImage
	msg.Media = &wassenger.Media{ID: "file-1", Type: "image"}

	if err := h.process(t, msg); err != nil {
		t.Fatalf("process: %v", err)
	}
	sent := h.messenger.sentMessages()
	if len(sent) != 1 || sent[0].Message != h.cfg.Bot.UnsupportedMedia {
		t.Fatalf("expected unsupported media reply, got %+v", sent)
	}
	if h.provider.calls() != 0 {
		t.Errorf("expected no model calls, got %d", h.provider.calls())
	}
	if !h.events.has(EventUnsupportedMedia) {
		t.Errorf("expected unsupported_media event, got %v", h.events.kinds())
	}
}

func TestEngineEmptyMessageGetsUnknownReply(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.process(t, inbound("1", "   ")); err != nil {
		t.Fatalf("process: %v", err)
	}
	sent := h.messenger.sentMessages()
	want := h.cfg.Bot.UnknownCommandMessage + "\n\n" + h.cfg.Bot.DefaultMessage
	if len(sent) != 1 || sent[0].Message != want {
		t.Fatalf("expected unknown command reply, got %+v", sent)
	}
	if h.provider.calls() != 0 {
		t.Error("expected no model calls")
	}
}

func TestEngineGeneratesReply(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.responses = []*llm.CompletionResponse{{Content: "Our plans start at $10.", InputTokens: 50, OutputTokens: 8}}
	h.messenger.history = []wassenger.Message{
		{ID: "old-1", Flow: wassenger.FlowInbound, Body: "earlier question", Date: time.Now().Add(-2 * time.Hour)},
		{ID: "old-2", Flow: wassenger.FlowOutbound, Body: "earlier answer", Date: time.Now().Add(-time.Hour)},
	}

	if err := h.process(t, inbound("1", "What are your prices?")); err != nil {
		t.Fatalf("process: %v", err)
	}
	sent := h.messenger.sentMessages()
	if len(sent) != 1 || sent[0].Message != "Our plans start at $10." {
		t.Fatalf("unexpected sends %+v", sent)
	}
	if sent[0].Phone != "+15551234567" || sent[0].Device != "dev1" {
		t.Errorf("unexpected recipient %+v", sent[0])
	}

	req := h.provider.requests[0]
	if req.Messages[0].Role != llm.RoleSystem {
		t.Errorf("first message should be the system prompt, got %s", req.Messages[0].Role)
	}
	var bodies []string
	for _, m := range req.Messages[1:] {
		bodies = append(bodies, m.Content)
	}
	joined := strings.Join(bodies, "|")
	if joined != "earlier question|earlier answer|What are your prices?" {
		t.Errorf("unexpected context %q", joined)
	}
	if req.User != "dev1_15551234567@c.us" {
		t.Errorf("user tag = %q", req.User)
	}

	// Bot labels and metadata are applied after a successful reply.
	if len(h.messenger.labels) != 1 || !contains(h.messenger.labels[0], "bot") {
		t.Errorf("expected bot label, got %v", h.messenger.labels)
	}
	if len(h.messenger.metadata) != 1 || h.messenger.metadata[0][0].Key != "bot_start" {
		t.Errorf("expected bot_start metadata, got %v", h.messenger.metadata)
	}
	if !h.events.has(EventReplySent) {
		t.Errorf("expected reply_sent, got %v", h.events.kinds())
	}
}

func TestEngineBackfillsHistoryOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.messenger.history = []wassenger.Message{{ID: "old", Flow: wassenger.FlowInbound, Body: "before", Date: time.Now().Add(-time.Hour)}}

	for i := 0; i < 3; i++ {
		if err := h.process(t, inbound(fmt.Sprint(i), "question")); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if h.messenger.fetches != 1 {
		t.Errorf("expected one backfill, got %d", h.messenger.fetches)
	}
	// backfilled + 3 inbound + 3 outbound
	if n := h.engine.history.Len("15551234567@c.us"); n != 7 {
		t.Errorf("history length = %d, want 7", n)
	}
}

func TestEngineSendFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Quota.Enabled = true
	})
	h.messenger.sendErr = wassenger.ErrSendFailed

	err := h.process(t, inbound("1", "hello"))
	if err == nil {
		t.Fatal("expected error")
	}
	if h.engine.quota.Count("15551234567@c.us") != 0 {
		t.Error("quota must not be charged for a failed send")
	}
	if len(h.messenger.labels) != 0 || len(h.messenger.metadata) != 0 {
		t.Error("markers must not be applied for a failed send")
	}
	if !h.events.has(EventSendFailed) {
		t.Errorf("expected send_failed, got %v", h.events.kinds())
	}
}

func TestEngineQuota(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Quota.Enabled = true
		c.Quota.MaxMessages = 2
		c.Quota.Window = time.Hour
	})
	h.messenger.members = []wassenger.TeamMember{
		{ID: "agent-1", Role: "agent", Status: wassenger.MemberActive, Availability: wassenger.Availability{Mode: wassenger.AvailabilityAuto}},
	}
	clock := time.Now()
	h.engine.quota.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		if err := h.process(t, inbound(fmt.Sprint(i), "question")); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if n := len(h.messenger.sentMessages()); n != 2 {
		t.Fatalf("expected 2 replies within quota, got %d", n)
	}

	// Third message exceeds the quota: the chat is flagged and escalated silently.
	if err := h.process(t, inbound("2", "question")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if n := len(h.messenger.sentMessages()); n != 2 {
		t.Errorf("expected no reply over quota, got %d sends", n)
	}
	if len(h.messenger.owners) != 1 {
		t.Errorf("expected escalation, got owners %v", h.messenger.owners)
	}
	if !h.events.has(EventQuotaExceeded) {
		t.Errorf("expected quota_exceeded, got %v", h.events.kinds())
	}
	if !hasMetadata(h.messenger.metadata, "bot_quota_exceeded", "true") {
		t.Errorf("expected quota flag, got %v", h.messenger.metadata)
	}

	// Already flagged: nothing happens.
	flagged := inbound("3", "question")
	flagged.Chat.Contact.Metadata = []wassenger.MetadataEntry{{Key: "bot_quota_exceeded", Value: "true"}}
	if err := h.process(t, flagged); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(h.messenger.owners) != 1 || len(h.messenger.sentMessages()) != 2 {
		t.Error("flagged chat must not be escalated or answered again")
	}

	// After the window the bot answers again and clears the flag.
	clock = clock.Add(time.Hour + time.Minute)
	resumed := inbound("4", "question")
	resumed.Chat.Contact.Metadata = []wassenger.MetadataEntry{{Key: "bot_quota_exceeded", Value: "true"}}
	if err := h.process(t, resumed); err != nil {
		t.Fatalf("process: %v", err)
	}
	if n := len(h.messenger.sentMessages()); n != 3 {
		t.Errorf("expected reply after window, got %d sends", n)
	}
	if !hasMetadata(h.messenger.metadata, "bot_quota_exceeded", "false") {
		t.Errorf("expected quota flag cleared, got %v", h.messenger.metadata)
	}
}

func TestEngineQuotaForcesEscalationWhenAssignmentDisabled(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Assignment.Enabled = false
		c.Quota.Enabled = true
		c.Quota.MaxMessages = 1
		c.Quota.Window = time.Hour
	})
	h.messenger.members = []wassenger.TeamMember{
		{ID: "agent-1", Role: "agent", Status: wassenger.MemberActive, Availability: wassenger.Availability{Mode: wassenger.AvailabilityAuto}},
	}

	if err := h.process(t, inbound("1", "question")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := h.process(t, inbound("2", "question")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(h.messenger.owners) != 1 || h.messenger.owners[0] != "agent-1" {
		t.Errorf("expected forced assignment to agent-1, got %v", h.messenger.owners)
	}
	if !h.events.has(EventEscalated) {
		t.Errorf("expected escalated event, got %v", h.events.kinds())
	}

	// A customer asking for a human still respects the disabled switch.
	h.messenger.owners = nil
	if err := h.process(t, inbound("3", "human")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(h.messenger.owners) != 0 {
		t.Errorf("expected no assignment on request while disabled, got %v", h.messenger.owners)
	}
}

func TestEngineFlaggedQuotaSkipsMediaDownload(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Quota.Enabled = true
		c.Quota.MaxMessages = 1
		c.Quota.Window = time.Hour
	})
	if err := h.process(t, inbound("1", "question")); err != nil {
		t.Fatalf("process: %v", err)
	}

	msg := inbound("2", "")
	msg.Type = wassenger.TypeImage
	msg.Media = &wassenger.Media{ID: "file-1", Type: "image"}
	msg.Chat.Contact.Metadata = []wassenger.MetadataEntry{{Key: "bot_quota_exceeded", Value: "true"}}
	if err := h.process(t, msg); err != nil {
		t.Fatalf("process: %v", err)
	}
	if h.messenger.downloads != 0 {
		t.Errorf("expected no media download over quota, got %d", h.messenger.downloads)
	}
	if n := len(h.messenger.sentMessages()); n != 1 {
		t.Errorf("expected only the first reply, got %d sends", n)
	}
}

func TestEngineSerializesSameChat(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.repeat = &llm.CompletionResponse{Content: "answer"}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := inbound(fmt.Sprint(i), fmt.Sprintf("question %d", i))
			msg.Date = time.Time{}
			if err := h.process(t, msg); err != nil {
				t.Errorf("process: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if n := len(h.messenger.sentMessages()); n != 5 {
		t.Fatalf("expected 5 replies, got %d", n)
	}
	if h.messenger.fetches != 1 {
		t.Errorf("expected a single backfill, got %d", h.messenger.fetches)
	}
	// Each generation saw every earlier exchange of the chat.
	for i, req := range h.provider.requests {
		turns := 0
		for _, m := range req.Messages {
			if m.Role == llm.RoleUser {
				turns++
			}
		}
		if turns != i+1 {
			t.Errorf("request %d saw %d user turns, want %d", i, turns, i+1)
		}
	}
}

func TestEngineSubmitAndWait(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 3; i++ {
		h.engine.Submit(&wassenger.WebhookEvent{Data: inbound(fmt.Sprint(i), "question")})
	}
	h.engine.Wait()
	if n := len(h.messenger.sentMessages()); n != 3 {
		t.Errorf("expected 3 replies after Wait, got %d", n)
	}
}

func TestMetadataRulesResolveNow(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 30, 0, 0, time.FixedZone("X", 3600))
	rules := MetadataRules([]config.MetadataEntry{
		{Key: "bot_start", Value: config.NowPlaceholder},
		{Key: "source", Value: "chatbot"},
	}, func() time.Time { return fixed })

	if got := rules[0].Value(); got != "2024-05-01T11:30:00Z" {
		t.Errorf("now placeholder = %q", got)
	}
	if got := rules[1].Value(); got != "chatbot" {
		t.Errorf("literal = %q", got)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func hasMetadata(calls [][]wassenger.MetadataEntry, key, value string) bool {
	for _, entries := range calls {
		for _, e := range entries {
			if e.Key == key && e.Value == value {
				return true
			}
		}
	}
	return false
}
