// Package stt defines the speech-to-text collaborator contract.
// Providers convert a finalized turn's audio segment into a transcript.
package stt

import (
	"context"

	"github.com/chriscow/voiceloop-go/pkg/ai"
	"github.com/chriscow/voiceloop-go/pkg/rtc"
)

// STT-specific error variables for callers that branch on stage failures.
var (
	ErrRecoverable = ai.ErrRecoverable
	ErrFatal       = ai.ErrFatal
)

// Transcript is the result of transcribing one audio segment.
type Transcript struct {
	Text       string
	Language   string
	Confidence float64 // 0-1, provider-defined
}

// Capabilities describes an STT provider.
type Capabilities struct {
	SupportedLanguages []string
	SampleRates        []int
}

// STT is the speech-to-text collaborator. Implementations must honor ctx
// cancellation and classify failures with the pkg/ai sentinels.
type STT interface {
	// Transcribe converts a contiguous run of audio chunks into text.
	// The chunks share one sample rate and channel count.
	Transcribe(ctx context.Context, segment []rtc.AudioChunk) (Transcript, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() Capabilities
}
