// Package agent implements the tabular analyst: it turns a question about a
// dataset into an LLM prompt, interprets the response and runs it.
package agent

import "fmt"

// ErrorKind classifies a failed turn.
type ErrorKind int

const (
	// ErrLLMCall is a network, auth or quota failure talking to the model.
	ErrLLMCall ErrorKind = iota + 1
	// ErrResponseParse means no usable action could be recovered from the response.
	ErrResponseParse
	// ErrFilter is a malformed filter expression or an unknown column.
	ErrFilter
	// ErrSandboxExecution is a snippet that failed while running.
	ErrSandboxExecution
	// ErrMemoryWrite is an embedding or persistence failure. It is logged and
	// never surfaces as an answer.
	ErrMemoryWrite
)

func (k ErrorKind) String() string {
	switch k {
	case ErrLLMCall:
		return "llm_call"
	case ErrResponseParse:
		return "response_parse"
	case ErrFilter:
		return "filter"
	case ErrSandboxExecution:
		return "sandbox_execution"
	case ErrMemoryWrite:
		return "memory_write"
	default:
		return "unknown"
	}
}

// TurnError is a failure caught at the analyst boundary.
type TurnError struct {
	Kind  ErrorKind
	Cause error
}

func (e *TurnError) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *TurnError) Unwrap() error {
	return e.Cause
}

// Message is the answer text shown to the user. Every failure kind has a
// fixed prefix so callers can tell failures from answers.
func (e *TurnError) Message() string {
	cause := ""
	if e.Cause != nil {
		cause = e.Cause.Error()
	}
	switch e.Kind {
	case ErrLLMCall:
		return "Error calling LLM: " + cause
	case ErrSandboxExecution:
		return "Error executing code: " + cause
	case ErrFilter:
		return "Error applying filter: " + cause
	case ErrResponseParse:
		if e.Cause == nil {
			return msgUninterpretable
		}
		return "Could not parse rows returned by agent: " + cause
	case ErrMemoryWrite:
		return "Error writing memory: " + cause
	default:
		return "Error: " + cause
	}
}
