// Package turn implements conversational turn segmentation over a stream of
// audio chunks. Two strategies are provided: a baseline that combines a
// buffer target with trailing-silence detection, and a semantic strategy
// that asks an end-of-turn scorer per chunk and falls back to baseline when
// the scorer fails.
package turn

import (
	"time"

	"github.com/google/uuid"

	"github.com/chriscow/voiceloop-go/pkg/rtc"
)

// FinalizeReason records which rule closed a turn.
type FinalizeReason string

const (
	ReasonBufferTarget FinalizeReason = "buffer_target"
	ReasonSilence      FinalizeReason = "silence"
	ReasonSemantic     FinalizeReason = "semantic"
	ReasonMaxDuration  FinalizeReason = "max_duration"
	ReasonFlush        FinalizeReason = "flush"
)

// Turn is an ordered, contiguous run of audio chunks bounded by a start and
// an end decision. Once finalized the chunk sequence is frozen; the engine
// never appends to a finalized turn.
type Turn struct {
	ID         string
	SessionID  string
	Reason     FinalizeReason
	Transcript string // set by the pipeline after transcription

	chunks    []rtc.AudioChunk
	finalized bool
}

func newTurn(sessionID string) *Turn {
	return &Turn{ID: uuid.NewString(), SessionID: sessionID}
}

func (t *Turn) append(c rtc.AudioChunk) {
	if t.finalized {
		panic("turn: append after finalize")
	}
	t.chunks = append(t.chunks, c)
}

func (t *Turn) finalize(reason FinalizeReason) {
	t.finalized = true
	t.Reason = reason
}

// Finalized reports whether the turn's chunk sequence is frozen.
func (t *Turn) Finalized() bool { return t.finalized }

// Chunks returns the turn's audio. Callers must not mutate the slice.
func (t *Turn) Chunks() []rtc.AudioChunk { return t.chunks }

// Duration is the total audio duration across all chunks.
func (t *Turn) Duration() time.Duration {
	var d time.Duration
	for _, c := range t.chunks {
		d += c.Duration()
	}
	return d
}

// TotalSamples is the per-channel sample count across all chunks.
func (t *Turn) TotalSamples() int {
	var n int
	for _, c := range t.chunks {
		n += c.Samples()
	}
	return n
}
