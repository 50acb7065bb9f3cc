package wassenger

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// labelColors is the palette accepted by the labels API.
var labelColors = []string{
	"tomato", "orange", "sunflower", "bubble",
	"rose", "poppy", "rouge", "raspberry",
	"purple", "lavender", "violet", "pool",
	"emerald", "kelly", "apple", "turquoise",
	"aqua", "gold", "latte", "cocoa",
}

// TeamMembers returns the device's team, served from cache while fresh.
func (c *Client) TeamMembers(ctx context.Context, deviceID string) ([]TeamMember, error) {
	if members, ok := c.members.get(deviceID); ok {
		return members, nil
	}
	var members []TeamMember
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/devices/%s/team", deviceID), nil, &members); err != nil {
		return nil, fmt.Errorf("fetching team members: %w", err)
	}
	c.members.set(deviceID, members)
	return members, nil
}

// ValidateMembers checks that every id refers to an existing team member.
func (c *Client) ValidateMembers(ctx context.Context, deviceID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	members, err := c.TeamMembers(ctx, deviceID)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(members))
	for _, m := range members {
		known[m.ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			return fmt.Errorf("team member %s does not exist", id)
		}
	}
	return nil
}

// Labels returns the device's labels. force bypasses the cache.
func (c *Client) Labels(ctx context.Context, deviceID string, force bool) ([]Label, error) {
	if !force {
		if labels, ok := c.labels.get(deviceID); ok {
			return labels, nil
		}
	}
	var labels []Label
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/devices/%s/labels", deviceID), nil, &labels); err != nil {
		return nil, fmt.Errorf("fetching labels: %w", err)
	}
	c.labels.set(deviceID, labels)
	return labels, nil
}

// CreateLabel creates a label with a random palette color.
func (c *Client) CreateLabel(ctx context.Context, deviceID, name string) error {
	label := Label{
		Name:        strings.TrimSpace(truncate(name, 30)),
		Color:       labelColors[rand.IntN(len(labelColors))],
		Description: "Automatically created label for the chatbot",
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/devices/%s/labels", deviceID), label, nil); err != nil {
		return fmt.Errorf("creating label %q: %w", name, err)
	}
	return nil
}

// EnsureLabels creates any of the named labels missing on the device and
// refreshes the label cache when something was created. Individual creation
// failures are logged and skipped.
func (c *Client) EnsureLabels(ctx context.Context, deviceID string, names []string) error {
	labels, err := c.Labels(ctx, deviceID, false)
	if err != nil {
		return err
	}
	existing := make(map[string]bool, len(labels))
	for _, l := range labels {
		existing[l.Name] = true
	}

	created := 0
	seen := make(map[string]bool)
	for _, name := range names {
		if name == "" || existing[name] || seen[name] {
			continue
		}
		seen[name] = true
		c.log.WithField("label", name).Info("creating missing label")
		if err := c.CreateLabel(ctx, deviceID, name); err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{"label": name}).Warn("failed to create label")
			continue
		}
		created++
	}

	if created > 0 {
		if _, err := c.Labels(ctx, deviceID, true); err != nil {
			return err
		}
	}
	return nil
}
