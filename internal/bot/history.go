package bot

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ziadkadry99/chatpilot/internal/llm"
	"github.com/ziadkadry99/chatpilot/internal/wassenger"
)

// ImageRef points at an image the model can look at.
type ImageRef struct {
	URL  string
	Size int64
}

// ConversationMessage is one entry of a chat's history.
type ConversationMessage struct {
	ID    string
	Flow  string
	Role  llm.Role
	Body  string
	Date  time.Time
	Image *ImageRef
}

// HistoryStore keeps per-chat conversation history for the lifetime of the
// process. It is never persisted.
type HistoryStore struct {
	mu    sync.RWMutex
	chats map[string]*chatHistory
}

type chatHistory struct {
	loaded bool
	msgs   map[string]ConversationMessage
}

// NewHistoryStore creates an empty store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{chats: make(map[string]*chatHistory)}
}

// Loaded reports whether the chat was backfilled from the platform since
// startup.
func (h *HistoryStore) Loaded(chatID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.chats[chatID]
	return ok && c.loaded
}

// Backfill stores messages fetched from the platform and marks the chat as
// loaded, even when msgs is empty.
func (h *HistoryStore) Backfill(chatID string, msgs ...ConversationMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.chat(chatID)
	c.loaded = true
	c.add(msgs)
}

// Append adds or replaces messages by ID.
func (h *HistoryStore) Append(chatID string, msgs ...ConversationMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chat(chatID).add(msgs)
}

func (h *HistoryStore) chat(chatID string) *chatHistory {
	c, ok := h.chats[chatID]
	if !ok {
		c = &chatHistory{msgs: make(map[string]ConversationMessage)}
		h.chats[chatID] = c
	}
	return c
}

func (c *chatHistory) add(msgs []ConversationMessage) {
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		c.msgs[m.ID] = m
	}
}

// Messages returns a copy of the chat's messages in chronological order.
func (h *HistoryStore) Messages(chatID string) []ConversationMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.chats[chatID]
	if !ok {
		return nil
	}
	out := make([]ConversationMessage, 0, len(c.msgs))
	for _, m := range c.msgs {
		out = append(out, m)
	}
	sortByDate(out)
	return out
}

// Len returns the number of stored messages for the chat.
func (h *HistoryStore) Len(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.chats[chatID]; ok {
		return len(c.msgs)
	}
	return 0
}

func sortByDate(msgs []ConversationMessage) {
	slices.SortStableFunc(msgs, func(a, b ConversationMessage) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// FromPlatform converts a platform message into a history entry.
func FromPlatform(m wassenger.Message) ConversationMessage {
	role := llm.RoleAssistant
	if m.Flow == wassenger.FlowInbound {
		role = llm.RoleUser
	}
	body := m.Body
	if body == "" && m.Media != nil {
		body = m.Media.Caption
	}
	return ConversationMessage{
		ID:   m.ID,
		Flow: m.Flow,
		Role: role,
		Body: body,
		Date: m.Date,
	}
}

// WindowOptions sizes the model-facing context.
type WindowOptions struct {
	HistoryWindow int
	ContextSize   int
	ImageInput    bool
	MaxImageSize  int64
}

// BuildWindow turns stored history into model messages: the most recent
// HistoryWindow entries in chronological order, with empty entries dropped,
// capped to the last ContextSize.
func BuildWindow(msgs []ConversationMessage, opts WindowOptions) []llm.Message {
	sorted := slices.Clone(msgs)
	sortByDate(sorted)
	slices.Reverse(sorted)
	if opts.HistoryWindow > 0 && len(sorted) > opts.HistoryWindow {
		sorted = sorted[:opts.HistoryWindow]
	}
	slices.Reverse(sorted)

	window := make([]llm.Message, 0, len(sorted))
	for _, m := range sorted {
		role := m.Role
		if m.Flow == wassenger.FlowInbound {
			role = llm.RoleUser
		} else if role == "" || role == llm.RoleUser {
			role = llm.RoleAssistant
		}
		msg := llm.Message{Role: role, Content: strings.TrimSpace(m.Body)}

		if role == llm.RoleUser && m.Image != nil && imageAllowed(m.Image, opts) {
			msg = imageMessage(m.Image.URL, msg.Content)
		}
		if !msg.HasContent() {
			continue
		}
		window = append(window, msg)
	}

	if opts.ContextSize > 0 && len(window) > opts.ContextSize {
		window = window[len(window)-opts.ContextSize:]
	}
	return window
}

func imageAllowed(img *ImageRef, opts WindowOptions) bool {
	if !opts.ImageInput || img.URL == "" {
		return false
	}
	return opts.MaxImageSize <= 0 || img.Size <= opts.MaxImageSize
}

// imageMessage builds a multimodal user message with an optional caption.
func imageMessage(url, caption string) llm.Message {
	parts := []llm.ContentPart{}
	if caption != "" {
		parts = append(parts, llm.ContentPart{Type: llm.PartText, Text: caption})
	}
	parts = append(parts, llm.ContentPart{Type: llm.PartImage, ImageURL: url})
	return llm.Message{Role: llm.RoleUser, Parts: parts}
}

// AppendTurn adds the current turn unless the window already ends with it.
func AppendTurn(window []llm.Message, turn llm.Message) []llm.Message {
	if !turn.HasContent() {
		return window
	}
	if n := len(window); n > 0 && sameMessage(window[n-1], turn) {
		return window
	}
	return append(window, turn)
}

func sameMessage(a, b llm.Message) bool {
	if a.Role != b.Role || strings.TrimSpace(a.Content) != strings.TrimSpace(b.Content) {
		return false
	}
	return slices.Equal(a.Parts, b.Parts)
}
