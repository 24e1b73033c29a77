package openai

import (
	"context"
	"fmt"

	gopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/chriscow/voiceloop-go/pkg/ai/llm"
)

// ChatLLM implements llm.LLM using the chat completions endpoint.
type ChatLLM struct {
	client *gopenai.Client
	model  string
	logger *zap.Logger
}

// NewChatLLM creates a chat-completion-backed responder. An empty model
// selects gpt-4o-mini.
func NewChatLLM(client *gopenai.Client, model string, logger *zap.Logger) *ChatLLM {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &ChatLLM{client: client, model: model, logger: logger.Named("chat")}
}

// Chat performs a chat completion request.
func (c *ChatLLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	messages := make([]gopenai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = gopenai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}

	resp, err := c.client.CreateChatCompletion(ctx, gopenai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		c.logger.Warn("chat completion failed", zap.Error(err))
		return llm.ChatResponse{}, classify(err, "generate")
	}
	if len(resp.Choices) == 0 {
		return llm.ChatResponse{}, fmt.Errorf("chat completion returned no choices")
	}

	choice := resp.Choices[0]
	return llm.ChatResponse{
		Message:      llm.Message{Role: llm.MessageRole(choice.Message.Role), Content: choice.Message.Content},
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(choice.FinishReason),
	}, nil
}

// Capabilities returns the provider's capabilities.
func (c *ChatLLM) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		MaxTokens:          16384,
		SupportedModels:    []string{"gpt-4o", "gpt-4o-mini", "gpt-3.5-turbo"},
		SupportsSystemRole: true,
	}
}
