package bot

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"github.com/ziadkadry99/chatpilot/internal/llm"
	"github.com/ziadkadry99/chatpilot/internal/wassenger"
)

// Turn is the normalized content of one inbound message.
type Turn struct {
	// Body is the text the model sees.
	Body string
	// Image is set for image messages the model may look at.
	Image *ImageRef
	// FromAudio marks a transcribed voice message.
	FromAudio bool
	// Reply, when set, is sent to the user instead of generating a response.
	Reply string
}

// Usable reports whether the turn carries anything to generate from.
func (t Turn) Usable() bool {
	return t.Body != "" || t.Image != nil
}

// NormalizerOptions controls media handling.
type NormalizerOptions struct {
	AudioInput         bool
	MaxAudioDuration   int
	TranscriptionModel string
	ImageInput         bool
	MaxImageSize       int64
	MaxBodyLength      int
	AudioNotSupported  string
	UnsupportedMedia   string
}

// Normalizer maps inbound message types to text, a transcription or an
// image reference.
type Normalizer struct {
	messenger   Messenger
	transcriber llm.Transcriber
	opts        NormalizerOptions
	log         *logrus.Entry
}

// NewNormalizer creates a Normalizer. transcriber may be nil, which disables
// audio input.
func NewNormalizer(messenger Messenger, transcriber llm.Transcriber, opts NormalizerOptions, log *logrus.Entry) *Normalizer {
	return &Normalizer{messenger: messenger, transcriber: transcriber, opts: opts, log: log}
}

// Normalize builds the turn for msg.
func (n *Normalizer) Normalize(ctx context.Context, deviceID string, msg *wassenger.Message) Turn {
	turn := n.normalize(ctx, deviceID, msg)
	turn.Body = truncate(strings.TrimSpace(turn.Body), n.opts.MaxBodyLength)
	return turn
}

func (n *Normalizer) normalize(ctx context.Context, deviceID string, msg *wassenger.Message) Turn {
	switch msg.Type {
	case wassenger.TypeAudio:
		return n.audio(ctx, deviceID, msg)
	case wassenger.TypeImage:
		return n.image(ctx, deviceID, msg)
	case wassenger.TypeVideo, wassenger.TypeDocument:
		if caption := mediaCaption(msg); caption != "" {
			return Turn{Body: caption}
		}
		return Turn{Reply: n.opts.UnsupportedMedia}
	case wassenger.TypeLocation:
		if msg.Location != nil {
			return Turn{Body: strings.TrimSpace(fmt.Sprintf("Location: %s %s", msg.Location.Name, msg.Location.Address))}
		}
	case wassenger.TypePoll:
		if msg.Poll != nil {
			return Turn{Body: formatPoll(msg.Poll)}
		}
	case wassenger.TypeEvent:
		if msg.Event != nil {
			return Turn{Body: formatEvent(msg.Event)}
		}
	case wassenger.TypeContacts:
		if len(msg.Contacts) > 0 {
			return Turn{Body: formatContacts(msg.Contacts)}
		}
	}
	return Turn{Body: msg.Body}
}

func (n *Normalizer) audio(ctx context.Context, deviceID string, msg *wassenger.Message) Turn {
	log := n.log.WithField("chat", chatID(msg))
	if !n.opts.AudioInput || n.transcriber == nil || msg.Media == nil {
		return Turn{Reply: n.opts.AudioNotSupported}
	}
	if n.opts.MaxAudioDuration > 0 && msg.Media.Meta.Duration > n.opts.MaxAudioDuration {
		log.WithField("duration", msg.Media.Meta.Duration).Debug("audio too long to transcribe")
		return Turn{Reply: n.opts.AudioNotSupported}
	}

	data, _, err := n.messenger.DownloadMedia(ctx, deviceID, msg.Media.ID)
	if err != nil {
		log.WithError(err).Warn("failed to download audio")
		return Turn{Reply: n.opts.AudioNotSupported}
	}
	ext := msg.Media.Extension
	if ext == "" {
		ext = strings.TrimPrefix(mimetype.Detect(data).Extension(), ".")
	}
	text, err := n.transcriber.Transcribe(ctx, llm.TranscriptionRequest{
		Filename: "audio." + strings.TrimPrefix(ext, "."),
		Data:     data,
		Model:    n.opts.TranscriptionModel,
	})
	if err != nil || strings.TrimSpace(text) == "" {
		log.WithError(err).Warn("failed to transcribe audio")
		return Turn{Reply: n.opts.AudioNotSupported}
	}
	log.WithField("length", len(text)).Debug("audio transcribed")
	return Turn{Body: text, FromAudio: true}
}

func (n *Normalizer) image(ctx context.Context, deviceID string, msg *wassenger.Message) Turn {
	caption := mediaCaption(msg)
	fallback := Turn{Body: caption}
	if caption == "" {
		fallback = Turn{Reply: n.opts.UnsupportedMedia}
	}

	if !n.opts.ImageInput || msg.Media == nil {
		return fallback
	}
	if n.opts.MaxImageSize > 0 && msg.Media.Size > n.opts.MaxImageSize {
		n.log.WithFields(logrus.Fields{"chat": chatID(msg), "size": msg.Media.Size}).Debug("image too large")
		return fallback
	}

	data, contentType, err := n.messenger.DownloadMedia(ctx, deviceID, msg.Media.ID)
	if err != nil {
		n.log.WithError(err).WithField("chat", chatID(msg)).Warn("failed to download image")
		return fallback
	}
	if n.opts.MaxImageSize > 0 && int64(len(data)) > n.opts.MaxImageSize {
		return fallback
	}
	return Turn{
		Body:  caption,
		Image: &ImageRef{URL: dataURL(data, msg.Media.Mime, contentType), Size: int64(len(data))},
	}
}

func dataURL(data []byte, candidates ...string) string {
	mime := ""
	for _, c := range candidates {
		if strings.HasPrefix(c, "image/") {
			mime = strings.TrimSpace(strings.Split(c, ";")[0])
			break
		}
	}
	if mime == "" {
		mime = mimetype.Detect(data).String()
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func mediaCaption(msg *wassenger.Message) string {
	if msg.Media != nil && strings.TrimSpace(msg.Media.Caption) != "" {
		return msg.Media.Caption
	}
	return msg.Body
}

func formatPoll(p *wassenger.Poll) string {
	var sb strings.Builder
	sb.WriteString("Poll: " + p.Name)
	for _, o := range p.Options {
		sb.WriteString("\n- " + o.Name)
	}
	return sb.String()
}

func formatEvent(e *wassenger.Event) string {
	lines := []string{"Event: " + e.Name}
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, label+value)
		}
	}
	add("Description: ", e.Description)
	add("Date: ", e.Date)
	add("Location: ", e.Location)
	add("Call link: ", e.Call)
	return strings.Join(lines, "\n")
}

func formatContacts(contacts []wassenger.SharedContact) string {
	lines := []string{"Contacts:"}
	for _, c := range contacts {
		phones := c.Phones
		if len(phones) == 0 && c.Phone != "" {
			phones = []string{c.Phone}
		}
		line := "- " + c.Name
		if len(phones) > 0 {
			line += ": " + strings.Join(phones, ", ")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func chatID(msg *wassenger.Message) string {
	if msg.Chat != nil {
		return msg.Chat.ID
	}
	return ""
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
