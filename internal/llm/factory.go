package llm

import "fmt"

// NewProvider creates a new LLM provider based on the given provider type and model.
// Supported provider types: "openai", "openrouter".
func NewProvider(providerType, apiKey, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key for provider %s is not set", providerType)
	}
	switch providerType {
	case "openai":
		return NewOpenAIProvider(apiKey, model), nil
	case "openrouter":
		return NewOpenRouterProvider(apiKey, model), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
}
