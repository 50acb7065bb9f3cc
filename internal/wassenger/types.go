package wassenger

import "time"

// EventMessageInNew is the webhook event for new inbound messages.
const EventMessageInNew = "message:in:new"

// Message types delivered by the platform.
const (
	TypeText     = "text"
	TypeAudio    = "audio"
	TypeImage    = "image"
	TypeVideo    = "video"
	TypeDocument = "document"
	TypeLocation = "location"
	TypePoll     = "poll"
	TypeEvent    = "event"
	TypeContacts = "contacts"
)

// Message flows.
const (
	FlowInbound  = "inbound"
	FlowOutbound = "outbound"
)

// Chat types and statuses.
const (
	ChatTypeChat     = "chat"
	ChatTypeGroup    = "group"
	ChatTypeChannel  = "channel"
	StatusBanned     = "banned"
	StatusBlocked    = "blocked"
	StatusArchived   = "archived"
	MemberActive     = "active"
	DeviceOperative  = "operative"
	AvailabilityAuto = "auto"
)

// WebhookEvent is the envelope delivered to the webhook endpoint.
type WebhookEvent struct {
	ID     string   `json:"id"`
	Event  string   `json:"event"`
	Device Device   `json:"device"`
	Data   *Message `json:"data"`
}

// Device is a WhatsApp number connected to the platform.
type Device struct {
	ID     string `json:"id"`
	Phone  string `json:"phone"`
	Alias  string `json:"alias,omitempty"`
	Status string `json:"status,omitempty"`
}

// Message is an inbound or outbound chat message.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Flow       string          `json:"flow"`
	Status     string          `json:"status,omitempty"`
	FromNumber string          `json:"fromNumber,omitempty"`
	ToNumber   string          `json:"toNumber,omitempty"`
	Date       time.Time       `json:"date"`
	Body       string          `json:"body,omitempty"`
	Chat       *Chat           `json:"chat,omitempty"`
	Media      *Media          `json:"media,omitempty"`
	Location   *Location       `json:"location,omitempty"`
	Poll       *Poll           `json:"poll,omitempty"`
	Event      *Event          `json:"event,omitempty"`
	Contacts   []SharedContact `json:"contacts,omitempty"`
	Meta       MessageMeta     `json:"meta"`
}

// MessageMeta carries platform-computed flags.
type MessageMeta struct {
	IsFirstMessage bool `json:"isFirstMessage,omitempty"`
}

// Chat is a conversation thread with one external contact.
type Chat struct {
	ID                    string     `json:"id"`
	Type                  string     `json:"type"`
	Status                string     `json:"status,omitempty"`
	WaStatus              string     `json:"waStatus,omitempty"`
	Labels                []string   `json:"labels,omitempty"`
	Owner                 *Owner     `json:"owner,omitempty"`
	Contact               Contact    `json:"contact"`
	FromNumber            string     `json:"fromNumber,omitempty"`
	LastOutboundMessageAt *time.Time `json:"lastOutboundMessageAt,omitempty"`
}

// HasLabel reports whether the chat carries the label.
func (c *Chat) HasLabel(label string) bool {
	for _, l := range c.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Owner is the team member assigned to a chat.
type Owner struct {
	Agent string `json:"agent,omitempty"`
}

// Contact is the external party of a chat.
type Contact struct {
	ID       string          `json:"id,omitempty"`
	Phone    string          `json:"phone"`
	Name     string          `json:"name,omitempty"`
	Status   string          `json:"status,omitempty"`
	Metadata []MetadataEntry `json:"metadata,omitempty"`
}

// MetadataValue returns the value stored under key and whether it exists.
func (c *Contact) MetadataValue(key string) (string, bool) {
	for _, m := range c.Metadata {
		if m.Key == key {
			return m.Value, true
		}
	}
	return "", false
}

// MetadataEntry is a contact metadata key/value pair.
type MetadataEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Media describes a file attached to a message.
type Media struct {
	ID        string    `json:"id"`
	Type      string    `json:"type,omitempty"`
	Mime      string    `json:"mime,omitempty"`
	Size      int64     `json:"size,omitempty"`
	Extension string    `json:"extension,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	Meta      MediaMeta `json:"meta"`
}

// MediaMeta holds media properties such as audio duration in seconds.
type MediaMeta struct {
	Duration int `json:"duration,omitempty"`
}

// Location is a shared geographic location.
type Location struct {
	Name        string    `json:"name,omitempty"`
	Address     string    `json:"address,omitempty"`
	Coordinates []float64 `json:"coordinates,omitempty"`
}

// Poll is a shared poll.
type Poll struct {
	Name    string       `json:"name"`
	Options []PollOption `json:"options"`
}

// PollOption is a single poll choice.
type PollOption struct {
	Name string `json:"name"`
}

// Event is a shared calendar event.
type Event struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Date        string `json:"date,omitempty"`
	Location    string `json:"location,omitempty"`
	Call        string `json:"call,omitempty"`
}

// SharedContact is a contact card attached to a message.
type SharedContact struct {
	Name   string   `json:"name"`
	Phone  string   `json:"phone,omitempty"`
	Phones []string `json:"phones,omitempty"`
}

// TeamMember is a human agent that can own chats.
type TeamMember struct {
	ID           string       `json:"id"`
	DisplayName  string       `json:"displayName,omitempty"`
	Email        string       `json:"email,omitempty"`
	Role         string       `json:"role"`
	Status       string       `json:"status"`
	Availability Availability `json:"availability"`
	LastSeenAt   *time.Time   `json:"lastSeenAt,omitempty"`
}

// Availability is a member's presence setting.
type Availability struct {
	Mode string `json:"mode"`
}

// Label is a chat label defined on a device.
type Label struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// SendRequest is an outbound message.
type SendRequest struct {
	Phone   string     `json:"phone"`
	Message string     `json:"message,omitempty"`
	Media   *SendMedia `json:"media,omitempty"`
	Device  string     `json:"device,omitempty"`
	Enqueue string     `json:"enqueue,omitempty"`
}

// SendMedia references a file by public URL.
type SendMedia struct {
	URL    string `json:"url"`
	Format string `json:"format,omitempty"`
}

// SendResult is the platform response to a send.
type SendResult struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	DeliveryStatus string    `json:"deliveryStatus,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Webhook is a registered webhook endpoint.
type Webhook struct {
	ID     string   `json:"id,omitempty"`
	URL    string   `json:"url"`
	Name   string   `json:"name,omitempty"`
	Events []string `json:"events"`
	Device string   `json:"device,omitempty"`
	Status string   `json:"status,omitempty"`
}
