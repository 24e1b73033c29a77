// Package echo implements self-echo detection for shared-channel capture:
// a rolling window of recently emitted synthesized audio, a temporal gate
// active while output is streaming, correlation scoring of provisional
// input against the window, and an adaptive correlation threshold.
package echo

import (
	"sync"
	"time"

	"github.com/chriscow/voiceloop-go/pkg/rtc"
)

type windowEntry struct {
	samples    []float64 // normalized to [-1, 1]
	sampleRate int
	emittedAt  time.Time
}

// Window is a ring of recently emitted output audio, bounded by a time
// span. The pipeline coordinator appends on emission; the detector reads.
type Window struct {
	mu      sync.Mutex
	span    time.Duration
	entries []windowEntry
}

// NewWindow creates a window covering the last span of emitted audio.
func NewWindow(span time.Duration) *Window {
	if span <= 0 {
		span = 5 * time.Second
	}
	return &Window{span: span}
}

// Append records an emitted output chunk and evicts entries older than the
// window span.
func (w *Window) Append(chunk rtc.AudioChunk, now time.Time) {
	raw := chunk.Int16Samples()
	samples := make([]float64, len(raw))
	for i, s := range raw {
		samples[i] = float64(s) / 32768.0
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, windowEntry{
		samples:    samples,
		sampleRate: chunk.SampleRate,
		emittedAt:  now,
	})
	w.evict(now)
}

// Len reports how many emitted chunks the window currently holds.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// snapshot returns the live entries, evicting stale ones first.
func (w *Window) snapshot(now time.Time) []windowEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(now)
	out := make([]windowEntry, len(w.entries))
	copy(out, w.entries)
	return out
}

func (w *Window) evict(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.entries) && w.entries[i].emittedAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}
