// Package llm defines the response-generation collaborator contract.
package llm

import (
	"context"

	"github.com/chriscow/voiceloop-go/pkg/ai"
)

// LLM-specific error variables for callers that branch on stage failures.
var (
	ErrRecoverable = ai.ErrRecoverable
	ErrFatal       = ai.ErrFatal
)

// MessageRole represents the role of a message in a chat conversation.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message represents a single message in a chat conversation.
type Message struct {
	Role    MessageRole
	Content string
}

// ChatRequest contains parameters for a chat completion request.
type ChatRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// ChatResponse contains the response from a chat completion request.
type ChatResponse struct {
	Message      Message
	TokensUsed   int
	FinishReason string
}

// Capabilities describes an LLM provider.
type Capabilities struct {
	MaxTokens          int
	SupportedModels    []string
	SupportsSystemRole bool
}

// LLM is the response-generation collaborator. Implementations must honor
// ctx cancellation and classify failures with the pkg/ai sentinels.
type LLM interface {
	// Chat performs a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() Capabilities
}
