package bot

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ziadkadry99/chatpilot/internal/wassenger"
)

var handoffPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^human|person|help|stop$`),
	regexp.MustCompile(`(?i)^human`),
}

// IsHandoffRequest reports whether the user asked to talk to a person.
func IsHandoffRequest(body string) bool {
	body = strings.TrimSpace(body)
	if body == "" {
		return false
	}
	for _, re := range handoffPatterns {
		if re.MatchString(body) {
			return true
		}
	}
	return false
}

// EscalationOptions controls who may take over a chat and what changes on
// assignment.
type EscalationOptions struct {
	Enabled         bool
	OnlyOnline      bool
	OnlineWindow    time.Duration
	SkipRoles       []string
	Whitelist       []string
	Blacklist       []string
	BotLabels       []string
	AssignLabels    []string
	RemoveBotLabels bool
	Metadata        []MetadataRule
}

// Escalator hands chats over to human team members.
type Escalator struct {
	messenger Messenger
	opts      EscalationOptions
	log       *logrus.Entry
	now       func() time.Time
	pick      func(n int) int
}

// NewEscalator creates an Escalator that picks members uniformly at random.
func NewEscalator(messenger Messenger, opts EscalationOptions, log *logrus.Entry) *Escalator {
	if opts.OnlineWindow <= 0 {
		opts.OnlineWindow = 30 * time.Minute
	}
	return &Escalator{
		messenger: messenger,
		opts:      opts,
		log:       log,
		now:       time.Now,
		pick:      rand.IntN,
	}
}

// Eligible filters members down to those who may receive a chat.
func (e *Escalator) Eligible(members []wassenger.TeamMember) []wassenger.TeamMember {
	now := e.now()
	var out []wassenger.TeamMember
	for _, m := range members {
		if m.Status != wassenger.MemberActive {
			continue
		}
		if slices.Contains(e.opts.Blacklist, m.ID) {
			continue
		}
		if len(e.opts.Whitelist) > 0 && !slices.Contains(e.opts.Whitelist, m.ID) {
			continue
		}
		if e.opts.OnlyOnline && !isOnline(m, now, e.opts.OnlineWindow) {
			continue
		}
		if slices.Contains(e.opts.SkipRoles, m.Role) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func isOnline(m wassenger.TeamMember, now time.Time, window time.Duration) bool {
	if m.Availability.Mode != wassenger.AvailabilityAuto || m.LastSeenAt == nil {
		return false
	}
	return now.Sub(*m.LastSeenAt) <= window
}

// Select picks an eligible member for the device.
func (e *Escalator) Select(ctx context.Context, deviceID string) (*wassenger.TeamMember, error) {
	members, err := e.messenger.TeamMembers(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("loading team members: %w", err)
	}
	eligible := e.Eligible(members)
	if len(eligible) == 0 {
		return nil, ErrNoEligibleMember
	}
	m := eligible[e.pick(len(eligible))]
	return &m, nil
}

// LabelDelta returns the chat labels after assignment and whether they
// differ from current.
func (e *Escalator) LabelDelta(current []string) ([]string, bool) {
	next := make([]string, 0, len(current)+len(e.opts.AssignLabels))
	for _, l := range current {
		if e.opts.RemoveBotLabels && slices.Contains(e.opts.BotLabels, l) {
			continue
		}
		next = append(next, l)
	}
	for _, l := range e.opts.AssignLabels {
		if !slices.Contains(next, l) {
			next = append(next, l)
		}
	}
	return next, !slices.Equal(next, current)
}

// Escalate assigns the chat of msg to a team member. Labels are updated
// first, then the owner, then the assignment metadata. A forced escalation
// ignores the Enabled switch.
func (e *Escalator) Escalate(ctx context.Context, deviceID string, msg *wassenger.Message, force bool) (*wassenger.TeamMember, error) {
	if !e.opts.Enabled && !force {
		return nil, ErrAssignmentDisabled
	}
	chat := msg.Chat
	log := e.log.WithField("chat", chat.ID)

	member, err := e.Select(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	if labels, changed := e.LabelDelta(chat.Labels); changed {
		log.WithField("labels", labels).Info("updating labels for assignment")
		if err := e.messenger.PatchChatLabels(ctx, deviceID, chat.ID, labels); err != nil {
			return nil, err
		}
		chat.Labels = labels
	}

	log.WithFields(logrus.Fields{"member": member.ID, "name": member.DisplayName}).Info("assigning chat to team member")
	if err := e.messenger.PatchChatOwner(ctx, deviceID, chat.ID, member.ID); err != nil {
		return nil, err
	}
	chat.Owner = &wassenger.Owner{Agent: member.ID}

	if entries := resolveMetadata(e.opts.Metadata, &chat.Contact); len(entries) > 0 {
		if err := e.messenger.PatchContactMetadata(ctx, deviceID, chat.ID, entries); err != nil {
			log.WithError(err).Warn("failed to set assignment metadata")
		}
	}
	return member, nil
}
