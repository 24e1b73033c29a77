// Package fake provides a deterministic end-of-turn scorer for testing.
package fake

import (
	"context"
	"sync"

	"github.com/chriscow/voiceloop-go/pkg/rtc"
)

// FakeScorer returns a fixed confidence, or a configured error.
type FakeScorer struct {
	mu         sync.Mutex
	confidence float64
	err        error
	calls      int
}

// NewFakeScorer creates a scorer that always reports confidence.
func NewFakeScorer(confidence float64) *FakeScorer {
	return &FakeScorer{confidence: confidence}
}

// SetConfidence changes the reported confidence.
func (f *FakeScorer) SetConfidence(c float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confidence = c
}

// SetError makes subsequent calls fail with err. Pass nil to clear.
func (f *FakeScorer) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls reports how many times ScoreEndOfTurn ran.
func (f *FakeScorer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ScoreEndOfTurn returns the configured confidence or error.
func (f *FakeScorer) ScoreEndOfTurn(ctx context.Context, segment []rtc.AudioChunk) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.confidence, nil
}
