package bot

import (
	"github.com/ziadkadry99/chatpilot/internal/wassenger"
)

// Filter decides whether an inbound message may receive an automated reply.
type Filter struct {
	SelfNumber   string
	SkipLabels   []string
	Whitelist    []string
	Blacklist    []string
	SkipArchived bool
}

// CanReply reports whether the bot may answer msg.
func (f Filter) CanReply(msg *wassenger.Message) bool {
	ok, _ := f.Check(msg)
	return ok
}

// Check is CanReply plus the reason for a rejection. Checks run in a fixed
// order and the first decisive one wins.
func (f Filter) Check(msg *wassenger.Message) (bool, string) {
	if msg == nil || msg.Chat == nil {
		return false, "missing chat"
	}
	chat := msg.Chat

	if chat.Owner != nil && chat.Owner.Agent != "" {
		return false, "chat assigned to a team member"
	}

	from := senderNumber(msg)
	if f.SelfNumber != "" && (from == f.SelfNumber || msg.FromNumber == f.SelfNumber) {
		return false, "message from own number"
	}

	if chat.Type != wassenger.ChatTypeChat {
		return false, "not a direct chat"
	}

	for _, label := range f.SkipLabels {
		if chat.HasLabel(label) {
			return false, "chat has skip label " + label
		}
	}

	// Without a sender number the whitelist cannot apply.
	if len(f.Whitelist) > 0 && from != "" {
		if matchesNumber(f.Whitelist, from) {
			return true, ""
		}
		return false, "number not whitelisted"
	}

	if matchesNumber(f.Blacklist, from) {
		return false, "number blacklisted"
	}

	if isBlocked(chat.Status) || isBlocked(chat.WaStatus) || isBlocked(chat.Contact.Status) {
		return false, "chat is banned or blocked"
	}

	if f.SkipArchived && (chat.Status == wassenger.StatusArchived || chat.WaStatus == wassenger.StatusArchived) {
		return false, "chat is archived"
	}

	return true, ""
}

func senderNumber(msg *wassenger.Message) string {
	if msg.Chat != nil && msg.Chat.FromNumber != "" {
		return msg.Chat.FromNumber
	}
	return msg.FromNumber
}

// matchesNumber accepts an exact match or one where the sender carries a
// single extra leading character such as "+".
func matchesNumber(numbers []string, from string) bool {
	if from == "" {
		return false
	}
	for _, n := range numbers {
		if n == "" {
			continue
		}
		if n == from || from[1:] == n {
			return true
		}
	}
	return false
}

func isBlocked(status string) bool {
	return status == wassenger.StatusBanned || status == wassenger.StatusBlocked
}
