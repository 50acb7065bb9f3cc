package config

import "time"

// Default bot messages.
const (
	DefaultInstructions = `You are a smart virtual customer support assistant who works for Wassenger.
You can identify yourself as Milo, the Wassenger chatbot assistant.
You will be chatting with random customers who may contact you with general queries about the product.
Wassenger is a cloud solution that offers WhatsApp API and multi-user live communication services designed for businesses and developers.
Wassenger also enables customers to automate WhatsApp communication and build chatbots.
You are an expert customer support agent.
Be polite. Be helpful. Be emphatic. Be concise.
Politely reject any queries that are not related to customer support tasks or Wassenger services itself.
Stick strictly to your role as a customer support virtual assistant for Wassenger.
Always speak in the language the user prefers or uses.
If you can't help with something, ask the user to type *HUMAN* in order to talk with customer support.
Do not use Markdown formatted and rich text, only raw text and emojis.
Be concise, always respond in less than 200 words.`

	DefaultWelcomeMessage = `Hey there 👋 Welcome to this ChatGPT-powered AI chatbot demo using *Wassenger API*! I can also speak many languages 😁`

	DefaultMessage = `Don't be shy 😁 try asking anything to the AI chatbot, using natural language!

Example queries:

1️⃣ Explain me what is Wassenger
2️⃣ Can I use Wassenger to send automatic messages?
3️⃣ Can I schedule messages using Wassenger?
4️⃣ Is there a free trial available?

Type *human* to talk with a person. The chat will be assigned to an available member of the team.

Give it a try! 😁`

	DefaultUnknownCommandMessage = `I'm sorry, I was unable to understand your message. Can you please elaborate more?

If you would like to chat with a human, just reply with *human*.`

	DefaultAudioNotSupported = `Audio messages are not supported, please send a text message instead.`

	DefaultUnsupportedMedia = `This type of message cannot be processed. Please send a text message instead.`

	DefaultAssignedMessage = `This chat was assigned to a member of our support team. You will be contacted shortly.`
)

// NowPlaceholder is replaced with the current RFC3339 time when a metadata
// entry is applied.
const NowPlaceholder = "{{now}}"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:      8080,
		DataDir:   ".chatpilot",
		LogLevel:  "info",
		LogFormat: "text",
		Wassenger: WassengerConfig{
			APIURL:      "https://api.wassenger.com/v1",
			CacheTTL:    10 * time.Minute,
			SendRetries: 3,
			Timeout:     30 * time.Second,
		},
		LLM: LLMConfig{
			Provider:      ProviderOpenAI,
			Model:         "gpt-4o",
			Temperature:   0.2,
			MaxTokens:     1000,
			MaxToolRounds: 10,
		},
		Bot: BotConfig{
			Instructions:          DefaultInstructions,
			WelcomeMessage:        DefaultWelcomeMessage,
			DefaultMessage:        DefaultMessage,
			UnknownCommandMessage: DefaultUnknownCommandMessage,
			AudioNotSupported:     DefaultAudioNotSupported,
			UnsupportedMedia:      DefaultUnsupportedMedia,
			AssignedMessage:       DefaultAssignedMessage,
			MaxBodyLength:         1000,
			HistoryBackfill:       25,
			HistoryWindow:         40,
			ContextSize:           20,
			SendWelcome:           true,
			FormatMarkdown:        true,
		},
		Filters: FilterConfig{
			SkipChatWithLabels: []string{"no-bot"},
			SkipArchivedChats:  true,
		},
		Labels: LabelConfig{
			OnBotChats:            []string{"bot"},
			OnUserAssignment:      []string{"from-bot"},
			RemoveAfterAssignment: true,
		},
		Metadata: MetadataConfig{
			OnBotChats:   []MetadataEntry{{Key: "bot_start", Value: NowPlaceholder}},
			OnAssignment: []MetadataEntry{{Key: "bot_stop", Value: NowPlaceholder}},
		},
		Assignment: AssignmentConfig{
			Enabled:      true,
			OnlineWindow: 30 * time.Minute,
			SkipRoles:    []string{"admin"},
		},
		Quota: QuotaConfig{
			Window:      24 * time.Hour,
			MaxMessages: 100,
			MetadataKey: "bot_quota_exceeded",
		},
		Media: MediaConfig{
			AudioInput:         true,
			MaxAudioDuration:   120,
			MaxSpeechLength:    500,
			Voice:              "nova",
			SpeechModel:        "tts-1",
			TranscriptionModel: "whisper-1",
			ImageInput:         true,
			MaxImageSize:       2 << 20,
		},
		Knowledge: KnowledgeConfig{
			EmbeddingModel: "text-embedding-3-small",
			Results:        3,
			MinSimilarity:  0.3,
			Include:        []string{"**/*.md", "**/*.txt"},
		},
		Audit: AuditConfig{
			Enabled: true,
		},
		Server: ServerConfig{
			RateLimit: "60-M",
		},
	}
}
