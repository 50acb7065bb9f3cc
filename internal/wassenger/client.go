// Package wassenger is a client for the Wassenger WhatsApp REST API.
package wassenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.wassenger.com/v1"

// ErrSendFailed is returned by SendMessage once all attempts are exhausted.
var ErrSendFailed = errors.New("wassenger: message send failed")

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wassenger api returned status %d: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	CacheTTL    time.Duration
	SendRetries int
	HTTPClient  *http.Client
	Logger      *logrus.Entry
}

// Client talks to the Wassenger API. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	retries int
	http    *http.Client
	log     *logrus.Entry

	members *ttlCache[[]TeamMember]
	labels  *ttlCache[[]Label]
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	if opts.SendRetries <= 0 {
		opts.SendRetries = 3
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = logrus.NewEntry(l)
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		retries: opts.SendRetries,
		http:    opts.HTTPClient,
		log:     opts.Logger,
		members: newTTLCache[[]TeamMember](opts.CacheTTL),
		labels:  newTTLCache[[]Label](opts.CacheTTL),
	}
}

// do performs a JSON request. body may be nil; out may be nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: data}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// SendMessage delivers a message, retrying immediately on failure. After the
// configured number of attempts it returns an error wrapping ErrSendFailed
// and the last failure.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	req.Enqueue = "never"

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		var res SendResult
		err := c.do(ctx, http.MethodPost, "/messages", req, &res)
		if err == nil {
			c.log.WithFields(logrus.Fields{
				"phone":  req.Phone,
				"id":     res.ID,
				"status": res.Status,
			}).Info("message sent")
			return &res, nil
		}
		lastErr = err
		c.log.WithError(err).WithFields(logrus.Fields{
			"phone":   req.Phone,
			"attempt": attempt,
		}).Warn("failed to send message")
		if ctx.Err() != nil {
			break
		}
	}

	c.log.WithError(lastErr).WithField("phone", req.Phone).Error("giving up sending message")
	return nil, fmt.Errorf("%w: %w", ErrSendFailed, lastErr)
}

// FetchRecentMessages returns the latest messages of a chat.
func (c *Client) FetchRecentMessages(ctx context.Context, deviceID, chatID string, limit int) ([]Message, error) {
	path := fmt.Sprintf("/chat/%s/messages/?chat=%s&limit=%d", deviceID, chatID, limit)
	var msgs []Message
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, fmt.Errorf("fetching chat messages: %w", err)
	}
	return msgs, nil
}

// PatchChatLabels replaces the labels of a chat.
func (c *Client) PatchChatLabels(ctx context.Context, deviceID, chatID string, labels []string) error {
	path := fmt.Sprintf("/chat/%s/chats/%s/labels", deviceID, chatID)
	if err := c.do(ctx, http.MethodPatch, path, labels, nil); err != nil {
		return fmt.Errorf("updating chat labels: %w", err)
	}
	return nil
}

// PatchContactMetadata upserts contact metadata entries. Keys are capped at
// 30 characters and values at 1000.
func (c *Client) PatchContactMetadata(ctx context.Context, deviceID, chatID string, entries []MetadataEntry) error {
	payload := make([]MetadataEntry, 0, len(entries))
	for _, e := range entries {
		payload = append(payload, MetadataEntry{
			Key:   strings.TrimSpace(truncate(e.Key, 30)),
			Value: strings.TrimSpace(truncate(e.Value, 1000)),
		})
	}
	path := fmt.Sprintf("/chat/%s/contacts/%s/metadata", deviceID, chatID)
	if err := c.do(ctx, http.MethodPatch, path, payload, nil); err != nil {
		return fmt.Errorf("updating contact metadata: %w", err)
	}
	return nil
}

// PatchChatOwner assigns a chat to a team member.
func (c *Client) PatchChatOwner(ctx context.Context, deviceID, chatID, agentID string) error {
	path := fmt.Sprintf("/chat/%s/chats/%s/owner", deviceID, chatID)
	if err := c.do(ctx, http.MethodPatch, path, map[string]string{"agent": agentID}, nil); err != nil {
		return fmt.Errorf("assigning chat owner: %w", err)
	}
	return nil
}

// DownloadMedia fetches the raw bytes of a message file and its content type.
func (c *Client) DownloadMedia(ctx context.Context, deviceID, mediaID string) ([]byte, string, error) {
	path := fmt.Sprintf("/chat/%s/files/%s/download", deviceID, mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("downloading media: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading media: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, "", &APIError{StatusCode: resp.StatusCode, Body: data}
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
