// Package openai implements the three model collaborators against the
// OpenAI API: Whisper transcription, chat-completion response generation,
// and speech synthesis.
package openai

import (
	"context"
	"errors"
	"net/http"

	gopenai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/voiceloop-go/pkg/ai"
)

// classify maps an API failure onto the orchestrator error taxonomy.
func classify(err error, stage string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ai.NewTimeoutError(err, stage+" deadline exceeded")
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *gopenai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized,
			apiErr.HTTPStatusCode == http.StatusForbidden,
			apiErr.HTTPStatusCode == http.StatusBadRequest:
			return ai.NewFatalError(err, "")
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests,
			apiErr.HTTPStatusCode >= http.StatusInternalServerError:
			return ai.NewUnavailableError(err, "")
		}
	}
	// Transport-level failures reaching the collaborator count as outages.
	return ai.NewUnavailableError(err, "")
}
