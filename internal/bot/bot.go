// Package bot decides, per inbound WhatsApp message, whether and how the
// chatbot replies. It owns conversation history, quotas, tool calling and
// the handoff of chats to human team members.
package bot

import (
	"context"
	"errors"
	"time"

	"github.com/ziadkadry99/chatpilot/internal/wassenger"
)

var (
	// ErrNoEligibleMember is returned when no team member can take over a chat.
	ErrNoEligibleMember = errors.New("no eligible team member")

	// ErrAssignmentDisabled is returned when chat assignment is turned off.
	ErrAssignmentDisabled = errors.New("chat assignment is disabled")
)

// Messenger is the subset of the messaging platform the engine talks to.
// *wassenger.Client implements it.
type Messenger interface {
	SendMessage(ctx context.Context, req wassenger.SendRequest) (*wassenger.SendResult, error)
	FetchRecentMessages(ctx context.Context, deviceID, chatID string, limit int) ([]wassenger.Message, error)
	PatchChatLabels(ctx context.Context, deviceID, chatID string, labels []string) error
	PatchContactMetadata(ctx context.Context, deviceID, chatID string, entries []wassenger.MetadataEntry) error
	PatchChatOwner(ctx context.Context, deviceID, chatID, agentID string) error
	TeamMembers(ctx context.Context, deviceID string) ([]wassenger.TeamMember, error)
	DownloadMedia(ctx context.Context, deviceID, mediaID string) ([]byte, string, error)
}

// Knowledge answers retrieval lookups. An empty string means no match.
type Knowledge interface {
	Query(ctx context.Context, text string) (string, error)
}

// AudioStore keeps synthesized audio until the messaging platform fetches it.
type AudioStore interface {
	Save(data []byte, ext string) (string, error)
}

// EventKind names a decision taken by the engine.
type EventKind string

const (
	EventSkipped          EventKind = "skipped"
	EventWelcomeSent      EventKind = "welcome_sent"
	EventReplySent        EventKind = "reply_sent"
	EventVoiceSent        EventKind = "voice_sent"
	EventEscalated        EventKind = "escalated"
	EventEscalationFailed EventKind = "escalation_failed"
	EventQuotaExceeded    EventKind = "quota_exceeded"
	EventToolCalled       EventKind = "tool_called"
	EventSendFailed       EventKind = "send_failed"
	EventGenerationFailed EventKind = "generation_failed"
	EventUnsupportedMedia EventKind = "unsupported_media"
)

// Event describes one engine decision for observers such as the audit trail
// and metrics.
type Event struct {
	Kind     EventKind
	ChatID   string
	DeviceID string
	Phone    string
	Summary  string
	Detail   map[string]any
	Time     time.Time
}

// Observer receives engine events. Implementations must not block.
type Observer interface {
	Observe(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

func (f ObserverFunc) Observe(ctx context.Context, e Event) { f(ctx, e) }

// Observers fans an event out to several observers.
type Observers []Observer

func (o Observers) Observe(ctx context.Context, e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ctx, e)
		}
	}
}

// MetadataRule is a contact metadata entry whose value is resolved right
// before it is written.
type MetadataRule struct {
	Key   string
	Value func() string
}

// resolveMetadata evaluates rules and drops entries that are empty or already
// present on the contact with the same value.
func resolveMetadata(rules []MetadataRule, contact *wassenger.Contact) []wassenger.MetadataEntry {
	var entries []wassenger.MetadataEntry
	for _, r := range rules {
		if r.Key == "" || r.Value == nil {
			continue
		}
		value := r.Value()
		if value == "" {
			continue
		}
		if contact != nil {
			if current, ok := contact.MetadataValue(r.Key); ok && current == value {
				continue
			}
		}
		entries = append(entries, wassenger.MetadataEntry{Key: r.Key, Value: value})
	}
	return entries
}
