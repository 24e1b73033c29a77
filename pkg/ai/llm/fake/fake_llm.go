// Package fake provides a deterministic LLM implementation for testing.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/chriscow/voiceloop-go/pkg/ai/llm"
)

// FakeLLM echoes a deterministic response derived from the last user
// message. An injected error, when set, is returned instead.
type FakeLLM struct {
	mu     sync.Mutex
	prefix string
	err    error
	calls  int
}

// NewFakeLLM creates a fake LLM provider. Responses are "echo: <last user message>".
func NewFakeLLM() *FakeLLM {
	return &FakeLLM{prefix: "echo: "}
}

// SetError makes subsequent Chat calls fail with err. Pass nil to clear.
func (f *FakeLLM) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls reports how many times Chat ran.
func (f *FakeLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Chat returns a deterministic completion.
func (f *FakeLLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	prefix := f.prefix
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return llm.ChatResponse{}, err
	}
	if err != nil {
		return llm.ChatResponse{}, err
	}

	var last string
	for _, m := range req.Messages {
		if m.Role == llm.RoleUser {
			last = m.Content
		}
	}
	if last == "" {
		return llm.ChatResponse{}, fmt.Errorf("no user message in request")
	}

	return llm.ChatResponse{
		Message:      llm.Message{Role: llm.RoleAssistant, Content: prefix + last},
		TokensUsed:   len(last),
		FinishReason: "stop",
	}, nil
}

// Capabilities returns the fake provider's capabilities.
func (f *FakeLLM) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		MaxTokens:          4096,
		SupportedModels:    []string{"fake"},
		SupportsSystemRole: true,
	}
}
