package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard and saves the result
// to the given path.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to chatpilot! Let's configure your WhatsApp chatbot.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Wassenger API key.
	apiKeyPrompt := promptui.Prompt{
		Label:    "Wassenger API key",
		Mask:     '*',
		Default:  os.Getenv("WASSENGER_API_KEY"),
		Validate: minLength(60),
	}
	apiKey, err := apiKeyPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("wassenger api key: %w", err)
	}
	cfg.Wassenger.APIKey = apiKey

	// 2. Device.
	devicePrompt := promptui.Prompt{
		Label: "WhatsApp device ID (leave blank to use the first operative device)",
		Validate: func(s string) error {
			if s != "" && !deviceIDPattern.MatchString(s) {
				return fmt.Errorf("must be a 24 characters hexadecimal value")
			}
			return nil
		},
	}
	device, err := devicePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}
	cfg.Wassenger.Device = strings.TrimSpace(device)

	// 3. Provider selection.
	providerPrompt := promptui.Select{
		Label: "Select LLM provider",
		Items: []string{string(ProviderOpenAI), string(ProviderOpenRouter)},
	}
	_, providerStr, err := providerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider selection: %w", err)
	}
	cfg.LLM.Provider = ProviderType(providerStr)

	modelPrompt := promptui.Prompt{
		Label:   "Model",
		Default: cfg.LLM.Model,
	}
	model, err := modelPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	cfg.LLM.Model = model

	// 4. Port.
	portPrompt := promptui.Prompt{
		Label:   "HTTP port",
		Default: strconv.Itoa(cfg.Port),
		Validate: func(s string) error {
			p, err := strconv.Atoi(s)
			if err != nil || p <= 0 || p > 65535 {
				return fmt.Errorf("invalid port")
			}
			return nil
		},
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	cfg.Port, _ = strconv.Atoi(portStr)

	// 5. Public webhook URL.
	webhookPrompt := promptui.Prompt{
		Label: "Public webhook base URL (leave blank to register it manually)",
	}
	webhookURL, err := webhookPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("webhook url: %w", err)
	}
	cfg.WebhookURL = strings.TrimRight(strings.TrimSpace(webhookURL), "/")

	// Keys are read from the environment at runtime rather than written to disk.
	if envVar := APIKeyEnvVar(cfg.LLM.Provider); envVar != "" && os.Getenv(envVar) == "" {
		fmt.Printf("\nNote: Set %s in your environment before running chatpilot serve.\n", envVar)
	}

	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}

func minLength(n int) promptui.ValidateFunc {
	return func(s string) error {
		if len(strings.TrimSpace(s)) < n {
			return fmt.Errorf("must be at least %d characters", n)
		}
		return nil
	}
}
