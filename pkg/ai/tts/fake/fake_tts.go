// Package fake provides a deterministic TTS implementation for testing.
package fake

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/chriscow/voiceloop-go/pkg/ai/tts"
	"github.com/chriscow/voiceloop-go/pkg/rtc"
)

// FakeTTS streams a deterministic sine tone whose length scales with the
// input text. The same text always produces byte-identical chunks.
type FakeTTS struct {
	mu  sync.Mutex
	err error

	// ChunkMillis controls the size of each emitted chunk. Default 20ms.
	ChunkMillis int
	// SampleRate of generated audio. Default 16000.
	SampleRate int
}

// NewFakeTTS creates a fake TTS provider.
func NewFakeTTS() *FakeTTS {
	return &FakeTTS{ChunkMillis: 20, SampleRate: 16000}
}

// SetError makes subsequent Synthesize calls fail with err. Pass nil to clear.
func (f *FakeTTS) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Synthesize emits 10ms of 440Hz tone per input character, in fixed-size
// chunks, honoring ctx cancellation between chunks.
func (f *FakeTTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (<-chan rtc.AudioChunk, error) {
	f.mu.Lock()
	err := f.err
	chunkMillis := f.ChunkMillis
	sampleRate := f.SampleRate
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	totalMillis := len(req.Text) * 10
	if totalMillis == 0 {
		totalMillis = chunkMillis
	}
	samplesPerChunk := sampleRate * chunkMillis / 1000
	chunkCount := (totalMillis + chunkMillis - 1) / chunkMillis

	out := make(chan rtc.AudioChunk, 4)
	go func() {
		defer close(out)
		for i := 0; i < chunkCount; i++ {
			data := make([]byte, samplesPerChunk*2)
			for j := 0; j < samplesPerChunk; j++ {
				n := i*samplesPerChunk + j
				s := int16(math.Sin(2*math.Pi*440*float64(n)/float64(sampleRate)) * 0.3 * 32767)
				binary.LittleEndian.PutUint16(data[j*2:], uint16(s))
			}
			chunk := rtc.AudioChunk{
				Data:       data,
				SampleRate: sampleRate,
				Channels:   1,
				Seq:        uint64(i),
				CapturedAt: time.Time{},
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Capabilities returns the fake provider's capabilities.
func (f *FakeTTS) Capabilities() tts.Capabilities {
	return tts.Capabilities{
		Streaming:          true,
		SupportedLanguages: []string{"en"},
		SupportedVoices:    []string{"fake-voice"},
		SampleRates:        []int{16000},
	}
}
