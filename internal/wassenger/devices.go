package wassenger

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var deviceIDPattern = regexp.MustCompile(`^[a-fA-F0-9]{24}$`)

// Devices lists the WhatsApp numbers available to the API key.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var devices []Device
	if err := c.do(ctx, http.MethodGet, "/devices", nil, &devices); err != nil {
		return nil, fmt.Errorf("fetching devices: %w", err)
	}
	return devices, nil
}

// LoadDevice returns the configured device, or the first operative one when
// deviceID is empty.
func (c *Client) LoadDevice(ctx context.Context, deviceID string) (*Device, error) {
	if deviceID != "" && !deviceIDPattern.MatchString(deviceID) {
		return nil, fmt.Errorf("invalid WhatsApp device ID %q: must be a 24 characters hexadecimal value", deviceID)
	}

	devices, err := c.Devices(ctx)
	if err != nil {
		return nil, err
	}

	for i := range devices {
		d := &devices[i]
		if deviceID != "" && d.ID == deviceID {
			return d, nil
		}
		if deviceID == "" && d.Status == DeviceOperative {
			return d, nil
		}
	}

	if deviceID != "" {
		return nil, fmt.Errorf("device %s not found", deviceID)
	}
	return nil, fmt.Errorf("no operative WhatsApp device found: connect a number at https://app.wassenger.com")
}

// RegisterWebhook makes sure a webhook pointing at baseURL/webhook exists
// for the device. Stale webhooks previously registered under the same base
// URL are removed first.
func (c *Client) RegisterWebhook(ctx context.Context, baseURL, deviceID string) (*Webhook, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	target := baseURL + "/webhook"

	var hooks []Webhook
	if err := c.do(ctx, http.MethodGet, "/webhooks", nil, &hooks); err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}

	for i := range hooks {
		h := &hooks[i]
		if h.URL == target && h.Device == deviceID && h.Status == "active" && contains(h.Events, EventMessageInNew) {
			return h, nil
		}
	}

	for _, h := range hooks {
		if strings.HasPrefix(h.URL, baseURL) {
			if err := c.do(ctx, http.MethodDelete, "/webhooks/"+h.ID, nil, nil); err != nil {
				return nil, fmt.Errorf("deleting stale webhook %s: %w", h.ID, err)
			}
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}

	hook := Webhook{
		URL:    target,
		Name:   "Chatbot",
		Events: []string{EventMessageInNew},
		Device: deviceID,
	}
	var created Webhook
	if err := c.do(ctx, http.MethodPost, "/webhooks", hook, &created); err != nil {
		return nil, fmt.Errorf("registering webhook: %w", err)
	}
	return &created, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
