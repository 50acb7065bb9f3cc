package bot

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ziadkadry99/chatpilot/internal/llm"
	"github.com/ziadkadry99/chatpilot/internal/wassenger"
)

// DispatchOptions configures outbound replies. PublicURL is the externally
// reachable base URL serving /files/{id}; voice replies are only possible
// when it is set.
type DispatchOptions struct {
	AudioOutput     bool
	AlwaysVoice     bool
	MaxSpeechLength int
	Voice           string
	SpeechModel     string
	PublicURL       string
	BotLabels       []string
	Metadata        []MetadataRule
	FormatMarkdown  bool
}

// Reply is one outbound message. FromAudio marks an answer to a voice
// message. Plain skips the bot-managed labels and metadata.
type Reply struct {
	Text      string
	FromAudio bool
	Plain     bool
}

// Delivery describes a sent reply.
type Delivery struct {
	ID    string
	Voice bool
	Text  string
}

// Dispatcher sends replies and records them into chat state.
type Dispatcher struct {
	messenger   Messenger
	synthesizer llm.Synthesizer
	audio       AudioStore
	history     *HistoryStore
	quota       *QuotaTracker
	opts        DispatchOptions
	log         *logrus.Entry
	now         func() time.Time
}

// NewDispatcher creates a Dispatcher. synthesizer, audio and quota may be nil.
func NewDispatcher(messenger Messenger, synthesizer llm.Synthesizer, audio AudioStore, history *HistoryStore, quota *QuotaTracker, opts DispatchOptions, log *logrus.Entry) *Dispatcher {
	return &Dispatcher{
		messenger:   messenger,
		synthesizer: synthesizer,
		audio:       audio,
		history:     history,
		quota:       quota,
		opts:        opts,
		log:         log,
		now:         time.Now,
	}
}

// Dispatch sends reply to the chat of msg. When the send fails after all
// retries, chat state is left untouched and the error is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID string, msg *wassenger.Message, reply Reply) (*Delivery, error) {
	chat := msg.Chat
	log := d.log.WithField("chat", chat.ID)

	body := reply.Text
	if d.opts.FormatMarkdown {
		body = FormatWhatsApp(body)
	}

	req := wassenger.SendRequest{Phone: chat.Contact.Phone, Device: deviceID}
	voice := false
	if d.wantsVoice(reply, body) {
		if url, err := d.synthesize(ctx, body); err != nil {
			log.WithError(err).Warn("speech synthesis failed, replying with text")
		} else {
			req.Media = &wassenger.SendMedia{URL: url, Format: "native"}
			voice = true
		}
	}
	if !voice {
		req.Message = body
	}

	res, err := d.messenger.SendMessage(ctx, req)
	if err != nil {
		return nil, err
	}

	d.history.Append(chat.ID, ConversationMessage{
		ID:   res.ID,
		Flow: wassenger.FlowOutbound,
		Role: llm.RoleAssistant,
		Body: body,
		Date: d.now(),
	})
	if d.quota != nil {
		d.quota.Record(chat.ID)
	}
	if !reply.Plain {
		d.applyMarkers(ctx, deviceID, chat, log)
	}
	return &Delivery{ID: res.ID, Voice: voice, Text: body}, nil
}

func (d *Dispatcher) wantsVoice(reply Reply, body string) bool {
	if !d.opts.AudioOutput || d.synthesizer == nil || d.audio == nil || d.opts.PublicURL == "" {
		return false
	}
	if !reply.FromAudio && !d.opts.AlwaysVoice {
		return false
	}
	return d.opts.MaxSpeechLength <= 0 || len([]rune(body)) <= d.opts.MaxSpeechLength
}

func (d *Dispatcher) synthesize(ctx context.Context, text string) (string, error) {
	audio, err := d.synthesizer.Synthesize(ctx, llm.SpeechRequest{
		Text:   text,
		Voice:  d.opts.Voice,
		Model:  d.opts.SpeechModel,
		Format: "mp3",
	})
	if err != nil {
		return "", err
	}
	id, err := d.audio.Save(audio, "mp3")
	if err != nil {
		return "", err
	}
	return strings.TrimRight(d.opts.PublicURL, "/") + "/files/" + id, nil
}

// applyMarkers adds the bot-managed labels and metadata that are missing.
// Failures are logged only.
func (d *Dispatcher) applyMarkers(ctx context.Context, deviceID string, chat *wassenger.Chat, log *logrus.Entry) {
	var missing []string
	for _, l := range d.opts.BotLabels {
		if l != "" && !chat.HasLabel(l) && !slices.Contains(missing, l) {
			missing = append(missing, l)
		}
	}
	if len(missing) > 0 {
		labels := append(slices.Clone(chat.Labels), missing...)
		if err := d.messenger.PatchChatLabels(ctx, deviceID, chat.ID, labels); err != nil {
			log.WithError(err).Warn("failed to set bot labels")
		} else {
			chat.Labels = labels
		}
	}

	if entries := resolveMetadata(d.opts.Metadata, &chat.Contact); len(entries) > 0 {
		if err := d.messenger.PatchContactMetadata(ctx, deviceID, chat.ID, entries); err != nil {
			log.WithError(err).Warn("failed to set bot metadata")
			return
		}
		chat.Contact.Metadata = mergeMetadata(chat.Contact.Metadata, entries)
	}
}

func mergeMetadata(current, updates []wassenger.MetadataEntry) []wassenger.MetadataEntry {
	out := slices.Clone(current)
	for _, u := range updates {
		idx := slices.IndexFunc(out, func(e wassenger.MetadataEntry) bool { return e.Key == u.Key })
		if idx >= 0 {
			out[idx].Value = u.Value
			continue
		}
		out = append(out, u)
	}
	return out
}
