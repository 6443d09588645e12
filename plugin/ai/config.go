package ai

import (
	"errors"
	"fmt"

	"github.com/hrygo/tablesense/internal/profile"
)

// Config represents AI configuration.
type Config struct {
	Embedding EmbeddingConfig
	LLM       LLMConfig
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Provider   string // local, openai, siliconflow, gemini
	Model      string // text-embedding-3-small
	Dimensions int    // 256 for local feature hashing
	APIKey     string
	BaseURL    string
	CacheSize  int // LRU entries, 0 disables caching
}

// LLMConfig represents LLM configuration.
type LLMConfig struct {
	Provider          string // openai, deepseek, siliconflow, gemini
	Model             string // gpt-4o-mini
	APIKey            string
	BaseURL           string
	MaxTokens         int     // default: 2048
	Temperature       float32 // default: 0
	MaxRetries        int     // default: 3
	RequestsPerSecond float64 // 0 disables client-side rate limiting
}

const (
	defaultLocalDimensions = 256
	defaultCacheSize       = 1024
)

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{}

	// Embedding configuration
	cfg.Embedding = EmbeddingConfig{
		Provider:   p.AIEmbeddingProvider,
		Model:      p.AIEmbeddingModel,
		Dimensions: 1536,
		CacheSize:  defaultCacheSize,
	}

	switch p.AIEmbeddingProvider {
	case "siliconflow":
		cfg.Embedding.APIKey = p.AISiliconFlowAPIKey
		cfg.Embedding.BaseURL = p.AISiliconFlowBaseURL
		cfg.Embedding.Dimensions = 1024
	case "openai":
		cfg.Embedding.APIKey = p.AIOpenAIAPIKey
		cfg.Embedding.BaseURL = p.AIOpenAIBaseURL
	case "gemini":
		cfg.Embedding.APIKey = p.AIGeminiAPIKey
		cfg.Embedding.Model = "gemini-embedding-001"
		cfg.Embedding.Dimensions = 768
	case "local", "":
		cfg.Embedding.Provider = "local"
		cfg.Embedding.Dimensions = defaultLocalDimensions
	}

	// LLM configuration
	cfg.LLM = LLMConfig{
		Provider:          p.AILLMProvider,
		Model:             p.AILLMModel,
		APIKey:            p.LLMAPIKey(),
		MaxTokens:         2048,
		MaxRetries:        3,
		RequestsPerSecond: p.AIRequestsPerSecond,
	}

	switch p.AILLMProvider {
	case "deepseek":
		cfg.LLM.BaseURL = p.AIDeepSeekBaseURL
	case "siliconflow":
		cfg.LLM.BaseURL = p.AISiliconFlowBaseURL
	case "openai":
		cfg.LLM.BaseURL = p.AIOpenAIBaseURL
	}

	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Embedding.Provider == "" {
		return errors.New("embedding provider is required")
	}

	if c.Embedding.Provider != "local" && c.Embedding.APIKey == "" {
		return errors.New("embedding API key is required")
	}

	if c.LLM.Provider == "" {
		return errors.New("LLM provider is required")
	}

	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key is required for provider %s", c.LLM.Provider)
	}

	return nil
}
