package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the analyst server and CLI.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory (uploads, long-term memory snapshots, sqlite db)
	Data string
	// DSN points to where tablesense stores its history and semantic memory
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// AI Configuration
	AILLMProvider        string // TABLESENSE_AI_LLM_PROVIDER (default: openai)
	AILLMModel           string // TABLESENSE_AI_LLM_MODEL (default: gpt-4o-mini)
	AIEmbeddingProvider  string // TABLESENSE_AI_EMBEDDING_PROVIDER (default: local)
	AIEmbeddingModel     string // TABLESENSE_AI_EMBEDDING_MODEL (default: text-embedding-3-small)
	AIOpenAIAPIKey       string // TABLESENSE_AI_OPENAI_API_KEY
	AIOpenAIBaseURL      string // TABLESENSE_AI_OPENAI_BASE_URL (default: https://api.openai.com/v1)
	AIDeepSeekAPIKey     string // TABLESENSE_AI_DEEPSEEK_API_KEY
	AIDeepSeekBaseURL    string // TABLESENSE_AI_DEEPSEEK_BASE_URL (default: https://api.deepseek.com)
	AISiliconFlowAPIKey  string // TABLESENSE_AI_SILICONFLOW_API_KEY
	AISiliconFlowBaseURL string // TABLESENSE_AI_SILICONFLOW_BASE_URL (default: https://api.siliconflow.cn/v1)
	AIGeminiAPIKey       string // TABLESENSE_AI_GEMINI_API_KEY
	AIRequestsPerSecond  float64

	// Memory configuration
	MemoryMaxTokens      int // model context budget used to derive the short-term char budget
	MemoryMaxItems       int
	MemorySummarizeEvery int
	LongTermMemory       bool // enable the semantic long-term store
}

// Prompt scaffolding reserves safetyMarginTokens; the rest is converted at ~4 chars per token.
const (
	safetyMarginTokens = 5000
	charsPerToken      = 4
)

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// MemoryCharBudget converts the model token budget into the short-term memory char budget.
func (p *Profile) MemoryCharBudget() int {
	tokens := p.MemoryMaxTokens
	if tokens <= safetyMarginTokens {
		tokens = 16000
	}
	return (tokens - safetyMarginTokens) * charsPerToken
}

// LLMAPIKey returns the API key for the configured LLM provider.
func (p *Profile) LLMAPIKey() string {
	switch p.AILLMProvider {
	case "deepseek":
		return p.AIDeepSeekAPIKey
	case "siliconflow":
		return p.AISiliconFlowAPIKey
	case "gemini":
		return p.AIGeminiAPIKey
	default:
		return p.AIOpenAIAPIKey
	}
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv fills any field still at its zero value from TABLESENSE_* environment variables.
// Flags bound through viper take precedence because they are applied first.
func (p *Profile) FromEnv() {
	setString := func(dst *string, key, defaultValue string) {
		if *dst == "" {
			*dst = getEnvOrDefault(key, defaultValue)
		}
	}
	setInt := func(dst *int, key string, defaultValue int) {
		if *dst != 0 {
			return
		}
		*dst = defaultValue
		if raw := os.Getenv(key); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil {
				*dst = v
			} else {
				slog.Warn("ignoring malformed integer env", "key", key, "value", raw)
			}
		}
	}

	setString(&p.AILLMProvider, "TABLESENSE_AI_LLM_PROVIDER", "openai")
	setString(&p.AILLMModel, "TABLESENSE_AI_LLM_MODEL", "gpt-4o-mini")
	setString(&p.AIEmbeddingProvider, "TABLESENSE_AI_EMBEDDING_PROVIDER", "local")
	setString(&p.AIEmbeddingModel, "TABLESENSE_AI_EMBEDDING_MODEL", "text-embedding-3-small")
	setString(&p.AIOpenAIAPIKey, "TABLESENSE_AI_OPENAI_API_KEY", "")
	setString(&p.AIOpenAIBaseURL, "TABLESENSE_AI_OPENAI_BASE_URL", "https://api.openai.com/v1")
	setString(&p.AIDeepSeekAPIKey, "TABLESENSE_AI_DEEPSEEK_API_KEY", "")
	setString(&p.AIDeepSeekBaseURL, "TABLESENSE_AI_DEEPSEEK_BASE_URL", "https://api.deepseek.com")
	setString(&p.AISiliconFlowAPIKey, "TABLESENSE_AI_SILICONFLOW_API_KEY", "")
	setString(&p.AISiliconFlowBaseURL, "TABLESENSE_AI_SILICONFLOW_BASE_URL", "https://api.siliconflow.cn/v1")
	setString(&p.AIGeminiAPIKey, "TABLESENSE_AI_GEMINI_API_KEY", "")

	setInt(&p.MemoryMaxTokens, "TABLESENSE_MEMORY_MAX_TOKENS", 16000)
	setInt(&p.MemoryMaxItems, "TABLESENSE_MEMORY_MAX_ITEMS", 8)
	setInt(&p.MemorySummarizeEvery, "TABLESENSE_MEMORY_SUMMARIZE_EVERY", 3)

	if p.AIRequestsPerSecond == 0 {
		if raw := os.Getenv("TABLESENSE_AI_RPS"); raw != "" {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				p.AIRequestsPerSecond = v
			}
		}
	}
	if !p.LongTermMemory {
		p.LongTermMemory = os.Getenv("TABLESENSE_LONG_TERM_MEMORY") == "true"
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if err := os.MkdirAll(dataDir, 0o770); err != nil {
		return "", errors.Wrapf(err, "unable to create data folder %s", dataDir)
	}
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Data == "" {
		if p.Mode == "prod" && runtime.GOOS != "windows" {
			p.Data = "/var/opt/tablesense"
		} else {
			p.Data = "./data"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q: only sqlite and postgres are supported", p.Driver)
	}
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("tablesense_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for the postgres driver")
	}

	return nil
}

// UploadDir is where uploaded datasets are kept.
func (p *Profile) UploadDir() string {
	return filepath.Join(p.Data, "uploads")
}

// MemoryDir is where per-dataset long-term memory snapshots are kept.
func (p *Profile) MemoryDir() string {
	return filepath.Join(p.Data, "memory")
}
