package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides. Nested keys are
// separated by a double underscore: CHATPILOT_LLM__MODEL -> llm.model.
const EnvPrefix = "CHATPILOT_"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (CHATPILOT_*). A .env file in the working
// directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.applyEnvFallbacks()
	cfg.applyDerived()
	return cfg, nil
}

// applyEnvFallbacks fills unset credentials from their conventional
// environment variables.
func (c *Config) applyEnvFallbacks() {
	fill := func(dst *string, name string) {
		if *dst == "" {
			*dst = os.Getenv(name)
		}
	}
	fill(&c.Wassenger.APIKey, "WASSENGER_API_KEY")
	fill(&c.Wassenger.Device, "DEVICE")
	fill(&c.WebhookURL, "WEBHOOK_URL")
	fill(&c.LLM.APIKey, APIKeyEnvVar(c.LLM.Provider))
	if url := os.Getenv("API_URL"); url != "" {
		c.Wassenger.APIURL = url
	}
	if port := os.Getenv("PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil {
			c.Port = p
		}
	}
}

// applyDerived resolves paths that default to locations under DataDir.
func (c *Config) applyDerived() {
	if c.Media.TempDir == "" {
		c.Media.TempDir = filepath.Join(c.DataDir, "files")
	}
	if c.Knowledge.Dir == "" {
		c.Knowledge.Dir = filepath.Join(c.DataDir, "knowledge")
	}
	if c.Audit.Path == "" {
		c.Audit.Path = filepath.Join(c.DataDir, "audit.db")
	}
	c.WebhookURL = strings.TrimRight(c.WebhookURL, "/")
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

var (
	deviceIDPattern = regexp.MustCompile(`^[a-fA-F0-9]{24}$`)
	memberIDPattern = regexp.MustCompile(`^[a-fA-F0-9]{24}$`)
)

// validProviders is the set of recognized provider values.
var validProviders = map[ProviderType]bool{
	ProviderOpenAI:     true,
	ProviderOpenRouter: true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if len(c.Wassenger.APIKey) < 60 {
		return fmt.Errorf("wassenger.api_key is missing or invalid: obtain it at https://app.wassenger.com/apikeys")
	}
	if c.Wassenger.APIURL == "" {
		return fmt.Errorf("wassenger.api_url is required")
	}
	if c.Wassenger.Device != "" && !deviceIDPattern.MatchString(c.Wassenger.Device) {
		return fmt.Errorf("invalid wassenger.device %q: must be a 24 characters hexadecimal value", c.Wassenger.Device)
	}
	if c.Wassenger.SendRetries < 1 {
		return fmt.Errorf("wassenger.send_retries must be at least 1")
	}

	if !validProviders[c.LLM.Provider] {
		return fmt.Errorf("invalid llm.provider %q: must be one of openai, openrouter", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.Provider == ProviderOpenAI && len(c.LLM.APIKey) < 45 {
		return fmt.Errorf("llm.api_key is missing or invalid: obtain it at https://platform.openai.com/account/api-keys")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if c.LLM.MaxToolRounds < 1 {
		return fmt.Errorf("llm.max_tool_rounds must be at least 1")
	}
	if c.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("llm.requests_per_minute must be non-negative")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Bot.MaxBodyLength <= 0 {
		return fmt.Errorf("bot.max_body_length must be positive")
	}
	if c.Bot.ContextSize <= 0 || c.Bot.HistoryWindow <= 0 {
		return fmt.Errorf("bot.context_size and bot.history_window must be positive")
	}

	for _, id := range append(append([]string{}, c.Assignment.TeamWhitelist...), c.Assignment.TeamBlacklist...) {
		if !memberIDPattern.MatchString(id) {
			return fmt.Errorf("team member id %q in assignment whitelist/blacklist must be a 24 characters hexadecimal value", id)
		}
	}

	if c.Quota.Enabled {
		if c.Quota.Window <= 0 {
			return fmt.Errorf("quota.window must be positive")
		}
		if c.Quota.MaxMessages <= 0 {
			return fmt.Errorf("quota.max_messages must be positive")
		}
	}

	if c.Media.MaxImageSize < 0 || c.Media.MaxAudioDuration < 0 || c.Media.MaxSpeechLength < 0 {
		return fmt.Errorf("media limits must be non-negative")
	}

	return nil
}

// APIKeyEnvVar returns the conventional environment variable name for
// the API key of the given provider.
func APIKeyEnvVar(provider ProviderType) string {
	switch provider {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderOpenRouter:
		return "OPENROUTER_API_KEY"
	default:
		return ""
	}
}
