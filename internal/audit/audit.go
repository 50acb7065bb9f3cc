// Package audit keeps a persistent trail of the decisions the bot takes.
package audit

import (
	"time"

	"github.com/ziadkadry99/chatpilot/internal/bot"
)

// Kind is the decision recorded by an entry. It mirrors bot.EventKind.
type Kind = bot.EventKind

// Entry is a single audit trail record.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      Kind           `json:"kind"`
	DeviceID  string         `json:"device_id,omitempty"`
	ChatID    string         `json:"chat_id,omitempty"`
	Phone     string         `json:"phone,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// FromEvent converts a bot event into an entry.
func FromEvent(e bot.Event) Entry {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return Entry{
		Timestamp: ts,
		Kind:      e.Kind,
		DeviceID:  e.DeviceID,
		ChatID:    e.ChatID,
		Phone:     e.Phone,
		Summary:   e.Summary,
		Detail:    e.Detail,
	}
}
