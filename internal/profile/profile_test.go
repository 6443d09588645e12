package profile

import (
	"os"
	"path/filepath"
	"testing"
)

// TestAIProfileDefaults 测试 AI 配置的默认值
func TestAIProfileDefaults(t *testing.T) {
	clearEnvVars()

	profile := &Profile{}
	profile.FromEnv()

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"AILLMProvider default", "openai", profile.AILLMProvider},
		{"AILLMModel default", "gpt-4o-mini", profile.AILLMModel},
		{"AIEmbeddingProvider default", "local", profile.AIEmbeddingProvider},
		{"AIEmbeddingModel default", "text-embedding-3-small", profile.AIEmbeddingModel},
		{"AIOpenAIBaseURL default", "https://api.openai.com/v1", profile.AIOpenAIBaseURL},
		{"AIDeepSeekBaseURL default", "https://api.deepseek.com", profile.AIDeepSeekBaseURL},
		{"AISiliconFlowBaseURL default", "https://api.siliconflow.cn/v1", profile.AISiliconFlowBaseURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}

	if profile.MemoryMaxItems != 8 {
		t.Errorf("MemoryMaxItems: expected 8, got %d", profile.MemoryMaxItems)
	}
	if profile.MemorySummarizeEvery != 3 {
		t.Errorf("MemorySummarizeEvery: expected 3, got %d", profile.MemorySummarizeEvery)
	}
	if profile.LongTermMemory {
		t.Error("LongTermMemory should be disabled by default")
	}
}

// TestAIProfileFromEnv 测试从环境变量读取 AI 配置
func TestAIProfileFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) string
		expected string
	}{
		{
			name:     "TABLESENSE_AI_LLM_PROVIDER",
			envVar:   "TABLESENSE_AI_LLM_PROVIDER",
			envValue: "gemini",
			field:    func(p *Profile) string { return p.AILLMProvider },
			expected: "gemini",
		},
		{
			name:     "TABLESENSE_AI_DEEPSEEK_API_KEY",
			envVar:   "TABLESENSE_AI_DEEPSEEK_API_KEY",
			envValue: "deepseek-key",
			field:    func(p *Profile) string { return p.AIDeepSeekAPIKey },
			expected: "deepseek-key",
		},
		{
			name:     "TABLESENSE_AI_OPENAI_BASE_URL",
			envVar:   "TABLESENSE_AI_OPENAI_BASE_URL",
			envValue: "https://custom.openai.proxy/v1",
			field:    func(p *Profile) string { return p.AIOpenAIBaseURL },
			expected: "https://custom.openai.proxy/v1",
		},
		{
			name:     "TABLESENSE_AI_EMBEDDING_PROVIDER",
			envVar:   "TABLESENSE_AI_EMBEDDING_PROVIDER",
			envValue: "siliconflow",
			field:    func(p *Profile) string { return p.AIEmbeddingProvider },
			expected: "siliconflow",
		},
		{
			name:     "TABLESENSE_LONG_TERM_MEMORY",
			envVar:   "TABLESENSE_LONG_TERM_MEMORY",
			envValue: "true",
			field:    func(p *Profile) string { return boolToString(p.LongTermMemory) },
			expected: "true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars()
			t.Setenv(tt.envVar, tt.envValue)

			profile := &Profile{}
			profile.FromEnv()

			actual := tt.field(profile)
			if actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, actual)
			}
		})
	}
}

func TestFromEnvKeepsExplicitValues(t *testing.T) {
	clearEnvVars()
	t.Setenv("TABLESENSE_AI_LLM_MODEL", "from-env")
	t.Setenv("TABLESENSE_MEMORY_MAX_ITEMS", "not-a-number")

	profile := &Profile{AILLMModel: "from-flag"}
	profile.FromEnv()

	if profile.AILLMModel != "from-flag" {
		t.Errorf("expected flag value to win, got %q", profile.AILLMModel)
	}
	if profile.MemoryMaxItems != 8 {
		t.Errorf("malformed env should fall back to default, got %d", profile.MemoryMaxItems)
	}
}

func TestMemoryCharBudget(t *testing.T) {
	tests := []struct {
		tokens   int
		expected int
	}{
		{16000, 44000},
		{32000, 108000},
		{120000, 460000},
		{0, 44000},
	}
	for _, tt := range tests {
		p := &Profile{MemoryMaxTokens: tt.tokens}
		if got := p.MemoryCharBudget(); got != tt.expected {
			t.Errorf("MemoryCharBudget(%d): expected %d, got %d", tt.tokens, tt.expected, got)
		}
	}
}

func TestLLMAPIKey(t *testing.T) {
	p := &Profile{
		AIOpenAIAPIKey:      "openai",
		AIDeepSeekAPIKey:    "deepseek",
		AISiliconFlowAPIKey: "siliconflow",
		AIGeminiAPIKey:      "gemini",
	}
	for _, provider := range []string{"openai", "deepseek", "siliconflow", "gemini"} {
		p.AILLMProvider = provider
		if got := p.LLMAPIKey(); got != provider {
			t.Errorf("LLMAPIKey(%s): got %q", provider, got)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Run("sqlite defaults", func(t *testing.T) {
		dir := t.TempDir()
		p := &Profile{Mode: "bogus", Data: filepath.Join(dir, "nested")}
		if err := p.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if p.Mode != "demo" {
			t.Errorf("expected demo mode, got %q", p.Mode)
		}
		if p.Driver != "sqlite" {
			t.Errorf("expected sqlite driver, got %q", p.Driver)
		}
		if p.DSN != filepath.Join(dir, "nested", "tablesense_demo.db") {
			t.Errorf("unexpected DSN %q", p.DSN)
		}
		if _, err := os.Stat(p.Data); err != nil {
			t.Errorf("data dir not created: %v", err)
		}
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		p := &Profile{Mode: "dev", Data: t.TempDir(), Driver: "postgres"}
		if err := p.Validate(); err == nil {
			t.Error("expected error for postgres without dsn")
		}
	})

	t.Run("unknown driver", func(t *testing.T) {
		p := &Profile{Mode: "dev", Data: t.TempDir(), Driver: "mysql"}
		if err := p.Validate(); err == nil {
			t.Error("expected error for unsupported driver")
		}
	})
}

// Helper functions

func clearEnvVars() {
	envVars := []string{
		"TABLESENSE_AI_LLM_PROVIDER",
		"TABLESENSE_AI_LLM_MODEL",
		"TABLESENSE_AI_EMBEDDING_PROVIDER",
		"TABLESENSE_AI_EMBEDDING_MODEL",
		"TABLESENSE_AI_OPENAI_API_KEY",
		"TABLESENSE_AI_OPENAI_BASE_URL",
		"TABLESENSE_AI_DEEPSEEK_API_KEY",
		"TABLESENSE_AI_DEEPSEEK_BASE_URL",
		"TABLESENSE_AI_SILICONFLOW_API_KEY",
		"TABLESENSE_AI_SILICONFLOW_BASE_URL",
		"TABLESENSE_AI_GEMINI_API_KEY",
		"TABLESENSE_AI_RPS",
		"TABLESENSE_MEMORY_MAX_TOKENS",
		"TABLESENSE_MEMORY_MAX_ITEMS",
		"TABLESENSE_MEMORY_SUMMARIZE_EVERY",
		"TABLESENSE_LONG_TERM_MEMORY",
	}
	for _, envVar := range envVars {
		os.Unsetenv(envVar)
	}
}

func boolToString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
