package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ziadkadry99/chatpilot/internal/config"
	"github.com/ziadkadry99/chatpilot/internal/embeddings"
	"github.com/ziadkadry99/chatpilot/internal/knowledge"
	"github.com/ziadkadry99/chatpilot/internal/llm"
	"github.com/ziadkadry99/chatpilot/internal/logging"
	"github.com/ziadkadry99/chatpilot/internal/wassenger"
)

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `chatpilot init` to create a config file", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logrus.Logger {
	return logging.New(cfg.LogLevel, cfg.LogFormat)
}

func newWassengerClient(cfg *config.Config, log *logrus.Logger) *wassenger.Client {
	return wassenger.New(wassenger.Options{
		BaseURL:     cfg.Wassenger.APIURL,
		APIKey:      cfg.Wassenger.APIKey,
		Timeout:     cfg.Wassenger.Timeout,
		CacheTTL:    cfg.Wassenger.CacheTTL,
		SendRetries: cfg.Wassenger.SendRetries,
		Logger:      logging.Component(log, "wassenger"),
	})
}

// createBackendFromConfig creates the generative backend, rate limited when
// llm.requests_per_minute is set.
func createBackendFromConfig(cfg *config.Config) (llm.Backend, error) {
	provider, err := llm.NewProvider(string(cfg.LLM.Provider), cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		return nil, fmt.Errorf("creating llm provider: %w", err)
	}
	return llm.NewRateLimitedBackend(provider, cfg.LLM.RequestsPerMinute), nil
}

// createEmbedderFromConfig creates the embedder used by the knowledge base.
// OpenRouter has no embeddings endpoint, so it reuses the OpenAI key from
// the environment.
func createEmbedderFromConfig(cfg *config.Config) (embeddings.Embedder, error) {
	apiKey := cfg.LLM.APIKey
	if cfg.LLM.Provider != config.ProviderOpenAI {
		apiKey = os.Getenv(config.APIKeyEnvVar(config.ProviderOpenAI))
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for embeddings when provider is %s", cfg.LLM.Provider)
		}
	}
	return embeddings.NewOpenAIEmbedder(apiKey, "", cfg.Knowledge.EmbeddingModel), nil
}

func newKnowledgeStore(cfg *config.Config) (*knowledge.Store, error) {
	embedder, err := createEmbedderFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return knowledge.NewStore(embedder, knowledge.Options{
		Results:       cfg.Knowledge.Results,
		MinSimilarity: cfg.Knowledge.MinSimilarity,
	})
}

// loadKnowledge returns the ingested knowledge base, or nil when it is
// disabled or has not been ingested yet.
func loadKnowledge(cfg *config.Config, log *logrus.Entry) (*knowledge.Store, error) {
	if !cfg.Knowledge.Enabled {
		return nil, nil
	}
	if !knowledge.Exists(cfg.Knowledge.Dir) {
		log.WithField("dir", cfg.Knowledge.Dir).Warn("knowledge base not found, run `chatpilot ingest` first")
		return nil, nil
	}
	store, err := newKnowledgeStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Load(cfg.Knowledge.Dir); err != nil {
		return nil, err
	}
	log.WithField("documents", store.Count()).Info("knowledge base loaded")
	return store, nil
}
