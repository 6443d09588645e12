package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// LLMService is the LLM service interface.
type LLMService interface {
	// Chat performs synchronous chat.
	Chat(ctx context.Context, messages []Message) (string, error)
}

// ErrEmptyResponse is returned when a provider answers without any content.
var ErrEmptyResponse = errors.New("empty response")

// NewLLMService creates a new LLMService for the configured provider.
func NewLLMService(ctx context.Context, cfg *LLMConfig) (LLMService, error) {
	retry := newRetrier(cfg.MaxRetries, cfg.RequestsPerSecond)

	switch cfg.Provider {
	case "openai", "deepseek", "siliconflow":
		// DeepSeek and SiliconFlow are compatible with OpenAI API
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		return &openaiLLM{
			client:      openai.NewClientWithConfig(clientConfig),
			model:       cfg.Model,
			maxTokens:   cfg.MaxTokens,
			temperature: cfg.Temperature,
			retry:       retry,
		}, nil

	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		return &geminiLLM{
			client:      client,
			model:       cfg.Model,
			maxTokens:   int32(cfg.MaxTokens),
			temperature: cfg.Temperature,
			retry:       retry,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

type openaiLLM struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	retry       *retrier
}

func (s *openaiLLM) Chat(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    convertMessages(messages),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}

	var result string
	err := s.retry.do(ctx, "chat", func() error {
		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return ErrEmptyResponse
		}
		result = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to complete chat: %w", err)
	}
	return result, nil
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	llmMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		}
		llmMessages[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return llmMessages
}

type geminiLLM struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
	retry       *retrier
}

func (s *geminiLLM) Chat(ctx context.Context, messages []Message) (string, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: s.maxTokens,
		Temperature:     genai.Ptr(s.temperature),
	}

	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(strings.Join(system, "\n\n"))},
		}
	}

	var result string
	err := s.retry.do(ctx, "chat", func() error {
		resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, config)
		if err != nil {
			return err
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return ErrEmptyResponse
		}
		var sb strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
		result = sb.String()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("gemini api error: %w", err)
	}
	return result, nil
}

// SystemPrompt is a helper for creating system prompts.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage is a helper for creating user messages.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// AssistantMessage is a helper for creating assistant messages.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// LLMFunc adapts a plain function to LLMService.
type LLMFunc func(ctx context.Context, messages []Message) (string, error)

// Chat implements LLMService.
func (f LLMFunc) Chat(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}
