package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ziadkadry99/chatpilot/internal/config"
	"github.com/ziadkadry99/chatpilot/internal/llm"
	"github.com/ziadkadry99/chatpilot/internal/wassenger"
)

const (
	quotaFlagSet     = "true"
	quotaFlagCleared = "false"
)

// Deps are the collaborators of an Engine. Transcriber, Synthesizer,
// Knowledge, Audio and Observer are optional.
type Deps struct {
	Messenger   Messenger
	Provider    llm.Provider
	Transcriber llm.Transcriber
	Synthesizer llm.Synthesizer
	Knowledge   Knowledge
	Tools       *ToolRegistry
	Audio       AudioStore
	Observer    Observer
	Logger      *logrus.Entry
}

// Engine processes inbound messages for one device.
type Engine struct {
	cfg       *config.Config
	device    wassenger.Device
	messenger Messenger
	observer  Observer
	log       *logrus.Entry
	now       func() time.Time

	filter       Filter
	quota        *QuotaTracker
	history      *HistoryStore
	normalizer   *Normalizer
	orchestrator *Orchestrator
	escalator    *Escalator
	dispatcher   *Dispatcher
	tools        *ToolRegistry
	queue        *chatQueue
}

// New wires an Engine from configuration.
func New(cfg *config.Config, device wassenger.Device, deps Deps) *Engine {
	log := deps.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	tools := deps.Tools
	if tools == nil {
		tools = NewToolRegistry()
	}
	observer := deps.Observer
	if observer == nil {
		observer = Observers(nil)
	}

	e := &Engine{
		cfg:       cfg,
		device:    device,
		messenger: deps.Messenger,
		observer:  observer,
		log:       log,
		now:       time.Now,
		tools:     tools,
		history:   NewHistoryStore(),
		queue:     newChatQueue(),
	}
	now := func() time.Time { return e.now() }

	e.filter = Filter{
		SelfNumber:   device.Phone,
		SkipLabels:   cfg.Filters.SkipChatWithLabels,
		Whitelist:    cfg.Filters.NumbersWhitelist,
		Blacklist:    cfg.Filters.NumbersBlacklist,
		SkipArchived: cfg.Filters.SkipArchivedChats,
	}
	if cfg.Quota.Enabled {
		e.quota = NewQuotaTracker(cfg.Quota.Window, cfg.Quota.MaxMessages)
	}

	var transcriber llm.Transcriber
	if cfg.Media.AudioInput {
		transcriber = deps.Transcriber
	}
	e.normalizer = NewNormalizer(deps.Messenger, transcriber, NormalizerOptions{
		AudioInput:         cfg.Media.AudioInput,
		MaxAudioDuration:   cfg.Media.MaxAudioDuration,
		TranscriptionModel: cfg.Media.TranscriptionModel,
		ImageInput:         cfg.Media.ImageInput,
		MaxImageSize:       cfg.Media.MaxImageSize,
		MaxBodyLength:      cfg.Bot.MaxBodyLength,
		AudioNotSupported:  cfg.Bot.AudioNotSupported,
		UnsupportedMedia:   cfg.Bot.UnsupportedMedia,
	}, log)

	instructions := cfg.Bot.Instructions
	e.orchestrator = NewOrchestrator(deps.Provider, tools, deps.Knowledge, OrchestratorOptions{
		Model:         cfg.LLM.Model,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		MaxToolRounds: cfg.LLM.MaxToolRounds,
		Instructions:  func() string { return expandNow(instructions, now) },
		FallbackReply: cfg.Bot.UnknownCommandMessage,
	}, log)

	e.escalator = NewEscalator(deps.Messenger, EscalationOptions{
		Enabled:         cfg.Assignment.Enabled,
		OnlyOnline:      cfg.Assignment.OnlyOnline,
		OnlineWindow:    cfg.Assignment.OnlineWindow,
		SkipRoles:       cfg.Assignment.SkipRoles,
		Whitelist:       cfg.Assignment.TeamWhitelist,
		Blacklist:       cfg.Assignment.TeamBlacklist,
		BotLabels:       cfg.Labels.OnBotChats,
		AssignLabels:    cfg.Labels.OnUserAssignment,
		RemoveBotLabels: cfg.Labels.RemoveAfterAssignment,
		Metadata:        MetadataRules(cfg.Metadata.OnAssignment, now),
	}, log)

	var synthesizer llm.Synthesizer
	if cfg.Media.AudioOutput {
		synthesizer = deps.Synthesizer
	}
	e.dispatcher = NewDispatcher(deps.Messenger, synthesizer, deps.Audio, e.history, e.quota, DispatchOptions{
		AudioOutput:     cfg.Media.AudioOutput,
		AlwaysVoice:     cfg.Media.AlwaysVoice,
		MaxSpeechLength: cfg.Media.MaxSpeechLength,
		Voice:           cfg.Media.Voice,
		SpeechModel:     cfg.Media.SpeechModel,
		PublicURL:       cfg.WebhookURL,
		BotLabels:       cfg.Labels.OnBotChats,
		Metadata:        MetadataRules(cfg.Metadata.OnBotChats, now),
		FormatMarkdown:  cfg.Bot.FormatMarkdown,
	}, log)
	e.dispatcher.now = now

	return e
}

// MetadataRules turns configured entries into rules. Values containing
// config.NowPlaceholder are resolved at write time.
func MetadataRules(entries []config.MetadataEntry, now func() time.Time) []MetadataRule {
	rules := make([]MetadataRule, 0, len(entries))
	for _, entry := range entries {
		value := entry.Value
		rules = append(rules, MetadataRule{
			Key:   entry.Key,
			Value: func() string { return expandNow(value, now) },
		})
	}
	return rules
}

func expandNow(s string, now func() time.Time) string {
	if !strings.Contains(s, config.NowPlaceholder) {
		return s
	}
	return strings.ReplaceAll(s, config.NowPlaceholder, now().UTC().Format(time.RFC3339))
}

// Tools returns the tool registry offered to the model.
func (e *Engine) Tools() *ToolRegistry {
	return e.tools
}

// Device returns the device the engine answers for.
func (e *Engine) Device() wassenger.Device {
	return e.device
}

// Submit processes an event in the background. Events for the same chat are
// handled one at a time in arrival order.
func (e *Engine) Submit(ev *wassenger.WebhookEvent) {
	if ev == nil || ev.Data == nil {
		return
	}
	e.queue.Go(queueKey(ev.Data), func() {
		if err := e.process(context.Background(), ev); err != nil {
			e.log.WithError(err).WithField("chat", chatID(ev.Data)).Error("failed to process message")
		}
	})
}

// ProcessMessage handles an event and waits for it, queued behind any work
// already scheduled for the same chat.
func (e *Engine) ProcessMessage(ctx context.Context, ev *wassenger.WebhookEvent) error {
	if ev == nil || ev.Data == nil {
		return fmt.Errorf("event has no message")
	}
	done := make(chan error, 1)
	e.queue.Go(queueKey(ev.Data), func() {
		done <- e.process(ctx, ev)
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until all submitted events are processed.
func (e *Engine) Wait() {
	e.queue.Wait()
}

func queueKey(msg *wassenger.Message) string {
	if id := chatID(msg); id != "" {
		return id
	}
	return msg.FromNumber
}

func (e *Engine) process(ctx context.Context, ev *wassenger.WebhookEvent) error {
	msg := ev.Data
	deviceID := ev.Device.ID
	if deviceID == "" {
		deviceID = e.device.ID
	}

	if ok, reason := e.filter.Check(msg); !ok {
		e.log.WithFields(logrus.Fields{
			"chat":   chatID(msg),
			"from":   msg.FromNumber,
			"reason": reason,
		}).Debug("skipping message")
		e.emit(ctx, EventSkipped, deviceID, msg, reason, nil)
		return nil
	}

	chat := msg.Chat
	log := e.log.WithFields(logrus.Fields{"chat": chat.ID, "type": msg.Type})
	log.WithField("body", truncate(msg.Body, 80)).Info("new inbound message")

	if IsHandoffRequest(strings.TrimSpace(msg.Body)) {
		return e.handoff(ctx, deviceID, msg)
	}

	if e.cfg.Bot.SendWelcome && (chat.LastOutboundMessageAt == nil || msg.Meta.IsFirstMessage) {
		text := e.cfg.Bot.WelcomeMessage + "\n\n" + e.cfg.Bot.DefaultMessage
		return e.reply(ctx, deviceID, msg, Reply{Text: text}, EventWelcomeSent, "welcome message", nil)
	}

	// Exhausted chats must not download or transcribe media.
	if e.quota != nil {
		if exceeded := e.checkQuota(ctx, deviceID, msg, log); exceeded {
			return nil
		}
	}

	turn := e.normalizer.Normalize(ctx, deviceID, msg)

	if turn.FromAudio && IsHandoffRequest(turn.Body) {
		return e.handoff(ctx, deviceID, msg)
	}

	if turn.Reply != "" {
		return e.reply(ctx, deviceID, msg, Reply{Text: turn.Reply}, EventUnsupportedMedia, "unsupported content", nil)
	}
	if !turn.Usable() {
		text := e.cfg.Bot.UnknownCommandMessage + "\n\n" + e.cfg.Bot.DefaultMessage
		return e.reply(ctx, deviceID, msg, Reply{Text: text}, EventReplySent, "empty message", nil)
	}

	return e.generate(ctx, deviceID, msg, turn, log)
}

// handoff escalates on the customer's request and acknowledges it even when
// nobody could be assigned.
func (e *Engine) handoff(ctx context.Context, deviceID string, msg *wassenger.Message) error {
	e.escalate(ctx, deviceID, msg, "requested by user", false)
	return e.reply(ctx, deviceID, msg, Reply{Text: e.cfg.Bot.AssignedMessage, Plain: true}, "", "", nil)
}

// checkQuota enforces the per-chat quota and reports whether the message
// must not be answered.
func (e *Engine) checkQuota(ctx context.Context, deviceID string, msg *wassenger.Message, log *logrus.Entry) bool {
	chat := msg.Chat
	key := e.cfg.Quota.MetadataKey
	flag, _ := chat.Contact.MetadataValue(key)
	flagged := flag == quotaFlagSet

	if e.quota.HasQuota(chat.ID) {
		if flagged {
			e.setQuotaFlag(ctx, deviceID, chat, quotaFlagCleared, log)
		}
		return false
	}

	if flagged {
		log.Debug("quota exceeded and already escalated")
		e.emit(ctx, EventSkipped, deviceID, msg, "quota exceeded", nil)
		return true
	}

	log.WithField("count", e.quota.Count(chat.ID)).Info("quota exceeded, escalating chat")
	e.emit(ctx, EventQuotaExceeded, deviceID, msg, "quota exceeded", map[string]any{
		"count":  e.quota.Count(chat.ID),
		"window": e.cfg.Quota.Window.String(),
	})
	e.setQuotaFlag(ctx, deviceID, chat, quotaFlagSet, log)
	e.escalate(ctx, deviceID, msg, "quota exceeded", true)
	return true
}

func (e *Engine) setQuotaFlag(ctx context.Context, deviceID string, chat *wassenger.Chat, value string, log *logrus.Entry) {
	entry := wassenger.MetadataEntry{Key: e.cfg.Quota.MetadataKey, Value: value}
	if err := e.messenger.PatchContactMetadata(ctx, deviceID, chat.ID, []wassenger.MetadataEntry{entry}); err != nil {
		log.WithError(err).Warn("failed to update quota flag")
		return
	}
	chat.Contact.Metadata = mergeMetadata(chat.Contact.Metadata, []wassenger.MetadataEntry{entry})
}

// escalate hands the chat to a team member. force bypasses the
// assignment.enabled switch.
func (e *Engine) escalate(ctx context.Context, deviceID string, msg *wassenger.Message, reason string, force bool) {
	member, err := e.escalator.Escalate(ctx, deviceID, msg, force)
	if err != nil {
		level := logrus.WarnLevel
		if errors.Is(err, ErrAssignmentDisabled) {
			level = logrus.DebugLevel
		}
		e.log.WithError(err).WithField("chat", msg.Chat.ID).Log(level, "unable to assign chat")
		e.emit(ctx, EventEscalationFailed, deviceID, msg, err.Error(), map[string]any{"reason": reason})
		return
	}
	e.emit(ctx, EventEscalated, deviceID, msg, "assigned to "+member.ID, map[string]any{
		"reason": reason,
		"member": member.ID,
		"name":   member.DisplayName,
	})
}

func (e *Engine) generate(ctx context.Context, deviceID string, msg *wassenger.Message, turn Turn, log *logrus.Entry) error {
	chat := msg.Chat
	e.ensureHistory(ctx, deviceID, chat.ID, log)

	date := msg.Date
	if date.IsZero() {
		date = e.now()
	}
	e.history.Append(chat.ID, ConversationMessage{
		ID:    msg.ID,
		Flow:  wassenger.FlowInbound,
		Role:  llm.RoleUser,
		Body:  turn.Body,
		Date:  date,
		Image: turn.Image,
	})

	windowOpts := WindowOptions{
		HistoryWindow: e.cfg.Bot.HistoryWindow,
		ContextSize:   e.cfg.Bot.ContextSize,
		ImageInput:    e.cfg.Media.ImageInput,
		MaxImageSize:  e.cfg.Media.MaxImageSize,
	}
	window := BuildWindow(e.history.Messages(chat.ID), windowOpts)

	current := llm.Message{Role: llm.RoleUser, Content: strings.TrimSpace(turn.Body)}
	if turn.Image != nil && imageAllowed(turn.Image, windowOpts) {
		current = imageMessage(turn.Image.URL, current.Content)
	}

	res, err := e.orchestrator.Generate(ctx, GenerateRequest{
		Window:       window,
		Turn:         current,
		UseKnowledge: msg.Type == wassenger.TypeText || msg.Type == "" || turn.FromAudio,
		Invocation: Invocation{
			DeviceID: deviceID,
			ChatID:   chat.ID,
			Phone:    chat.Contact.Phone,
			Message:  msg,
		},
	})
	if err != nil {
		log.WithError(err).Error("generation failed")
		e.emit(ctx, EventGenerationFailed, deviceID, msg, err.Error(), nil)
	}

	for _, run := range res.ToolRuns {
		detail := map[string]any{"tool": run.Name, "call_id": run.CallID, "ok": run.Err == nil}
		if run.Err != nil {
			detail["error"] = run.Err.Error()
		}
		e.emit(ctx, EventToolCalled, deviceID, msg, run.Name, detail)
	}

	detail := map[string]any{
		"rounds":        res.Rounds,
		"fallback":      res.Fallback,
		"input_tokens":  res.Usage.InputTokens,
		"output_tokens": res.Usage.OutputTokens,
		"model":         e.cfg.LLM.Model,
	}
	return e.reply(ctx, deviceID, msg, Reply{Text: res.Reply, FromAudio: turn.FromAudio}, EventReplySent, "generated reply", detail)
}

func (e *Engine) ensureHistory(ctx context.Context, deviceID, chatID string, log *logrus.Entry) {
	if e.history.Loaded(chatID) {
		return
	}
	log.Info("fetching previous messages")
	msgs, err := e.messenger.FetchRecentMessages(ctx, deviceID, chatID, e.cfg.Bot.HistoryBackfill)
	if err != nil {
		log.WithError(err).Warn("failed to fetch chat history")
		return
	}
	entries := make([]ConversationMessage, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, FromPlatform(m))
	}
	e.history.Backfill(chatID, entries...)
}

// reply dispatches and emits kind on success. An empty kind emits nothing.
func (e *Engine) reply(ctx context.Context, deviceID string, msg *wassenger.Message, r Reply, kind EventKind, summary string, detail map[string]any) error {
	delivery, err := e.dispatcher.Dispatch(ctx, deviceID, msg, r)
	if err != nil {
		e.emit(ctx, EventSendFailed, deviceID, msg, err.Error(), nil)
		return fmt.Errorf("sending reply: %w", err)
	}
	if kind == "" {
		return nil
	}
	if delivery.Voice && kind == EventReplySent {
		kind = EventVoiceSent
	}
	if detail == nil {
		detail = map[string]any{}
	}
	detail["message_id"] = delivery.ID
	detail["reply"] = truncate(delivery.Text, 200)
	e.emit(ctx, kind, deviceID, msg, summary, detail)
	return nil
}

func (e *Engine) emit(ctx context.Context, kind EventKind, deviceID string, msg *wassenger.Message, summary string, detail map[string]any) {
	ev := Event{
		Kind:     kind,
		ChatID:   chatID(msg),
		DeviceID: deviceID,
		Phone:    senderNumber(msg),
		Summary:  summary,
		Detail:   detail,
		Time:     e.now(),
	}
	e.observer.Observe(ctx, ev)
}
