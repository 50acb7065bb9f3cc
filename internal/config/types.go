package config

import "time"

// ProviderType identifies a generative backend.
type ProviderType string

const (
	ProviderOpenAI     ProviderType = "openai"
	ProviderOpenRouter ProviderType = "openrouter"
)

// Config is the top-level chatpilot configuration, corresponding to chatpilot.yml.
type Config struct {
	Port       int    `yaml:"port" koanf:"port"`
	WebhookURL string `yaml:"webhook_url" koanf:"webhook_url"`
	Production bool   `yaml:"production" koanf:"production"`
	DataDir    string `yaml:"data_dir" koanf:"data_dir"`
	LogLevel   string `yaml:"log_level" koanf:"log_level"`
	LogFormat  string `yaml:"log_format" koanf:"log_format"`

	Wassenger  WassengerConfig  `yaml:"wassenger" koanf:"wassenger"`
	LLM        LLMConfig        `yaml:"llm" koanf:"llm"`
	Bot        BotConfig        `yaml:"bot" koanf:"bot"`
	Filters    FilterConfig     `yaml:"filters" koanf:"filters"`
	Labels     LabelConfig      `yaml:"labels" koanf:"labels"`
	Metadata   MetadataConfig   `yaml:"metadata" koanf:"metadata"`
	Assignment AssignmentConfig `yaml:"assignment" koanf:"assignment"`
	Quota      QuotaConfig      `yaml:"quota" koanf:"quota"`
	Media      MediaConfig      `yaml:"media" koanf:"media"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge" koanf:"knowledge"`
	Audit      AuditConfig      `yaml:"audit" koanf:"audit"`
	Server     ServerConfig     `yaml:"server" koanf:"server"`
}

// WassengerConfig holds messaging platform API settings.
type WassengerConfig struct {
	APIKey      string        `yaml:"api_key" koanf:"api_key"`
	APIURL      string        `yaml:"api_url" koanf:"api_url"`
	Device      string        `yaml:"device" koanf:"device"`
	CacheTTL    time.Duration `yaml:"cache_ttl" koanf:"cache_ttl"`
	SendRetries int           `yaml:"send_retries" koanf:"send_retries"`
	Timeout     time.Duration `yaml:"timeout" koanf:"timeout"`
}

// LLMConfig holds generative backend settings.
type LLMConfig struct {
	Provider          ProviderType `yaml:"provider" koanf:"provider"`
	Model             string       `yaml:"model" koanf:"model"`
	APIKey            string       `yaml:"api_key" koanf:"api_key"`
	Temperature       float64      `yaml:"temperature" koanf:"temperature"`
	MaxTokens         int          `yaml:"max_tokens" koanf:"max_tokens"`
	MaxToolRounds     int          `yaml:"max_tool_rounds" koanf:"max_tool_rounds"`
	RequestsPerMinute int          `yaml:"requests_per_minute" koanf:"requests_per_minute"`
}

// BotConfig holds the messages and context sizing used by the engine.
type BotConfig struct {
	Instructions          string `yaml:"instructions" koanf:"instructions"`
	WelcomeMessage        string `yaml:"welcome_message" koanf:"welcome_message"`
	DefaultMessage        string `yaml:"default_message" koanf:"default_message"`
	UnknownCommandMessage string `yaml:"unknown_command_message" koanf:"unknown_command_message"`
	AudioNotSupported     string `yaml:"audio_not_supported_message" koanf:"audio_not_supported_message"`
	UnsupportedMedia      string `yaml:"unsupported_media_message" koanf:"unsupported_media_message"`
	AssignedMessage       string `yaml:"assigned_message" koanf:"assigned_message"`
	MaxBodyLength         int    `yaml:"max_body_length" koanf:"max_body_length"`
	HistoryBackfill       int    `yaml:"history_backfill" koanf:"history_backfill"`
	HistoryWindow         int    `yaml:"history_window" koanf:"history_window"`
	ContextSize           int    `yaml:"context_size" koanf:"context_size"`
	SendWelcome           bool   `yaml:"send_welcome" koanf:"send_welcome"`
	FormatMarkdown        bool   `yaml:"format_markdown" koanf:"format_markdown"`
}

// FilterConfig controls which chats are eligible for automated replies.
type FilterConfig struct {
	SkipChatWithLabels []string `yaml:"skip_chat_with_labels" koanf:"skip_chat_with_labels"`
	NumbersWhitelist   []string `yaml:"numbers_whitelist" koanf:"numbers_whitelist"`
	NumbersBlacklist   []string `yaml:"numbers_blacklist" koanf:"numbers_blacklist"`
	SkipArchivedChats  bool     `yaml:"skip_archived_chats" koanf:"skip_archived_chats"`
}

// LabelConfig lists chat labels managed by the bot.
type LabelConfig struct {
	OnBotChats            []string `yaml:"on_bot_chats" koanf:"on_bot_chats"`
	OnUserAssignment      []string `yaml:"on_user_assignment" koanf:"on_user_assignment"`
	RemoveAfterAssignment bool     `yaml:"remove_after_assignment" koanf:"remove_after_assignment"`
}

// MetadataEntry is a contact metadata key/value. The value may contain the
// {{now}} placeholder, which is resolved when the entry is applied.
type MetadataEntry struct {
	Key   string `yaml:"key" koanf:"key"`
	Value string `yaml:"value" koanf:"value"`
}

// MetadataConfig lists contact metadata written by the bot.
type MetadataConfig struct {
	OnBotChats   []MetadataEntry `yaml:"on_bot_chats" koanf:"on_bot_chats"`
	OnAssignment []MetadataEntry `yaml:"on_assignment" koanf:"on_assignment"`
}

// AssignmentConfig controls escalation to human team members.
type AssignmentConfig struct {
	Enabled       bool          `yaml:"enabled" koanf:"enabled"`
	OnlyOnline    bool          `yaml:"only_online" koanf:"only_online"`
	OnlineWindow  time.Duration `yaml:"online_window" koanf:"online_window"`
	SkipRoles     []string      `yaml:"skip_roles" koanf:"skip_roles"`
	TeamWhitelist []string      `yaml:"team_whitelist" koanf:"team_whitelist"`
	TeamBlacklist []string      `yaml:"team_blacklist" koanf:"team_blacklist"`
}

// QuotaConfig bounds how many automated replies a chat receives per window.
type QuotaConfig struct {
	Enabled     bool          `yaml:"enabled" koanf:"enabled"`
	Window      time.Duration `yaml:"window" koanf:"window"`
	MaxMessages int           `yaml:"max_messages" koanf:"max_messages"`
	MetadataKey string        `yaml:"metadata_key" koanf:"metadata_key"`
}

// MediaConfig controls audio and image handling.
type MediaConfig struct {
	AudioInput         bool   `yaml:"audio_input" koanf:"audio_input"`
	AudioOutput        bool   `yaml:"audio_output" koanf:"audio_output"`
	AlwaysVoice        bool   `yaml:"always_voice" koanf:"always_voice"`
	MaxAudioDuration   int    `yaml:"max_audio_duration" koanf:"max_audio_duration"`
	MaxSpeechLength    int    `yaml:"max_speech_length" koanf:"max_speech_length"`
	Voice              string `yaml:"voice" koanf:"voice"`
	SpeechModel        string `yaml:"speech_model" koanf:"speech_model"`
	TranscriptionModel string `yaml:"transcription_model" koanf:"transcription_model"`
	ImageInput         bool   `yaml:"image_input" koanf:"image_input"`
	MaxImageSize       int64  `yaml:"max_image_size" koanf:"max_image_size"`
	TempDir            string `yaml:"temp_dir" koanf:"temp_dir"`
}

// KnowledgeConfig controls the retrieval collaborator.
type KnowledgeConfig struct {
	Enabled        bool     `yaml:"enabled" koanf:"enabled"`
	Dir            string   `yaml:"dir" koanf:"dir"`
	EmbeddingModel string   `yaml:"embedding_model" koanf:"embedding_model"`
	Results        int      `yaml:"results" koanf:"results"`
	MinSimilarity  float32  `yaml:"min_similarity" koanf:"min_similarity"`
	Include        []string `yaml:"include" koanf:"include"`
}

// AuditConfig controls the audit trail database.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled" koanf:"enabled"`
	Path    string `yaml:"path" koanf:"path"`
}

// ServerConfig holds HTTP server options.
type ServerConfig struct {
	AllowAllOrigins bool   `yaml:"allow_all_origins" koanf:"allow_all_origins"`
	RateLimit       string `yaml:"rate_limit" koanf:"rate_limit"`
}
