package llm

// Role represents the role of a message sender in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a multimodal content block.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image_url"
)

// ContentPart is one block of a multimodal message.
type ContentPart struct {
	Type     PartType
	Text     string
	ImageURL string // http(s) or data: URL
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// Message represents a single message in a conversation. Parts, when set,
// replaces Content with multimodal blocks.
type Message struct {
	Role       Role
	Content    string
	Parts      []ContentPart
	ToolCalls  []ToolCall
	ToolCallID string
}

// HasContent reports whether the message carries any text or parts.
func (m Message) HasContent() bool {
	return m.Content != "" || len(m.Parts) > 0 || len(m.ToolCalls) > 0
}

// ToolDefinition declares a function the model may call.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema object
	Strict      bool
}

// CompletionRequest contains the parameters for an LLM completion request.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
	JSONMode    bool
	User        string
}

// CompletionResponse contains the top candidate of an LLM completion.
type CompletionResponse struct {
	Content      string
	ToolCalls    []ToolCall
	InputTokens  int
	OutputTokens int
	Model        string
	FinishReason string
}

// Finish reasons reported by the backend.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// TranscriptionRequest is an audio clip to convert to text.
type TranscriptionRequest struct {
	Filename string // used by the backend to infer the format
	Data     []byte
	Model    string
	Language string
}

// SpeechRequest is text to synthesize into audio.
type SpeechRequest struct {
	Text   string
	Voice  string
	Model  string
	Format string // mp3, opus, aac, flac, wav
}
