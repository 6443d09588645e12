// Package timeout defines centralized timeout constants for AI operations.
// Package timeout 定义 AI 操作的集中式超时常量。
package timeout

import "time"

// AI operation timeout constants.
// AI 操作超时常量。
const (
	// LLMCallTimeout bounds a single analyst prompt round trip, retries included.
	// LLMCallTimeout 是单次 LLM 调用（含重试）的超时时间。
	LLMCallTimeout = 2 * time.Minute

	// SummarizeTimeout bounds background short-term memory summarization.
	// SummarizeTimeout 是后台短期记忆摘要的超时时间。
	SummarizeTimeout = 1 * time.Minute

	// SandboxTimeout bounds execution of a generated snippet.
	// SandboxTimeout 是沙箱代码执行的超时时间。
	SandboxTimeout = 30 * time.Second

	// EmbeddingTimeout is the timeout for embedding generation.
	// EmbeddingTimeout 是向量生成的超时时间。
	EmbeddingTimeout = 30 * time.Second

	// SandboxMaxSteps caps interpreter steps per snippet.
	// SandboxMaxSteps 是单段代码允许执行的最大步数。
	SandboxMaxSteps = 50_000_000

	// MaxTruncateLength is the maximum length for truncating strings in logs.
	// MaxTruncateLength 是日志中字符串截断的最大长度。
	MaxTruncateLength = 200
)
