// Package tts defines the speech-synthesis collaborator contract.
package tts

import (
	"context"

	"github.com/chriscow/voiceloop-go/pkg/ai"
	"github.com/chriscow/voiceloop-go/pkg/rtc"
)

// TTS-specific error variables for callers that branch on stage failures.
var (
	ErrRecoverable = ai.ErrRecoverable
	ErrFatal       = ai.ErrFatal
)

// SynthesizeRequest contains parameters for text-to-speech synthesis.
type SynthesizeRequest struct {
	Text     string
	Voice    string
	Language string
	Speed    float32
}

// Capabilities describes a TTS provider.
type Capabilities struct {
	Streaming          bool
	SupportedLanguages []string
	SupportedVoices    []string
	SampleRates        []int
}

// TTS is the speech-synthesis collaborator. Synthesize returns a channel of
// audio chunks so streaming providers can emit partial results as they
// arrive; non-streaming providers send a single chunk. The channel is closed
// when synthesis completes or ctx is cancelled. A synthesis failure after
// the channel is returned surfaces by closing the channel early; callers
// that need the distinction should use the error from the initial call.
type TTS interface {
	Synthesize(ctx context.Context, req SynthesizeRequest) (<-chan rtc.AudioChunk, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() Capabilities
}
