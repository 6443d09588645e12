// Package memory provides the two memory layers of an analyst session: a bounded
// short-term conversation buffer and a semantic long-term store.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hrygo/tablesense/plugin/ai"
)

// Turn is one question/answer exchange. Immutable once appended.
type Turn struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// Summarizer condenses a conversation transcript into a few sentences.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

const summarizePrompt = `You are a concise assistant that summarizes a conversation between a user and a data analysis agent.
Given the following recent Q/A pairs, produce a one-to-three sentence summary capturing:
- the user's main recurring goals
- any persistent context (column names, data shapes, filters used)
- anything the agent should remember for future follow-ups.

Conversation:
%s

Reply with the summary only. It will be prepended to future prompts as context.`

// LLMSummarizer asks an LLM for the summary.
type LLMSummarizer struct {
	LLM ai.LLMService
}

func (s LLMSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	out, err := s.LLM.Chat(ctx, []ai.Message{ai.UserMessage(fmt.Sprintf(summarizePrompt, transcript))})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// WriteError reports a failed long-term memory write. It is logged, never
// returned to a turn.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("memory %s failed: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
