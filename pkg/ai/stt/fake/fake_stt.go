// Package fake provides a deterministic STT implementation for testing.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/chriscow/voiceloop-go/pkg/ai/stt"
	"github.com/chriscow/voiceloop-go/pkg/rtc"
)

// DefaultTranscript is used when no transcript is provided.
const DefaultTranscript = "this is a fake transcript"

// FakeSTT returns a fixed transcript for every segment. Deterministic: the
// same input always yields the same output. An injected error, when set,
// is returned instead.
type FakeSTT struct {
	mu         sync.Mutex
	transcript string
	err        error
	calls      int
}

// NewFakeSTT creates a fake STT provider with a fixed transcript.
func NewFakeSTT(transcript string) *FakeSTT {
	if transcript == "" {
		transcript = DefaultTranscript
	}
	return &FakeSTT{transcript: transcript}
}

// SetError makes subsequent Transcribe calls fail with err. Pass nil to clear.
func (f *FakeSTT) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls reports how many times Transcribe ran.
func (f *FakeSTT) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Transcribe returns the configured transcript.
func (f *FakeSTT) Transcribe(ctx context.Context, segment []rtc.AudioChunk) (stt.Transcript, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	text := f.transcript
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	if len(segment) == 0 {
		return stt.Transcript{}, fmt.Errorf("empty segment")
	}
	return stt.Transcript{Text: text, Language: "en", Confidence: 0.95}, nil
}

// Capabilities returns the fake provider's capabilities.
func (f *FakeSTT) Capabilities() stt.Capabilities {
	return stt.Capabilities{
		SupportedLanguages: []string{"en"},
		SampleRates:        []int{16000, 48000},
	}
}
