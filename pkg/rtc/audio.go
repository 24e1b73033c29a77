// Package rtc defines the raw audio types shared across the orchestrator.
package rtc

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// AudioChunk is one ingested slab of raw PCM audio.
// Len(Data) must be a multiple of Channels * 2 (16-bit samples).
// All fields are immutable after creation.
type AudioChunk struct {
	Data       []byte // 16-bit PCM, little-endian
	SampleRate int    // e.g. 16 000 or 48 000
	Channels   int    // 1 or 2
	Seq        uint64 // monotonic per session
	SessionID  string
	CapturedAt time.Time
}

// NewAudioChunk validates the PCM payload and constructs a chunk.
func NewAudioChunk(data []byte, sampleRate, channels int, seq uint64, sessionID string, capturedAt time.Time) (AudioChunk, error) {
	if sampleRate <= 0 {
		return AudioChunk{}, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if channels != 1 && channels != 2 {
		return AudioChunk{}, fmt.Errorf("invalid channel count %d", channels)
	}
	if len(data) == 0 || len(data)%(channels*2) != 0 {
		return AudioChunk{}, fmt.Errorf("PCM payload length %d is not a multiple of %d-byte sample frames",
			len(data), channels*2)
	}
	return AudioChunk{
		Data:       data,
		SampleRate: sampleRate,
		Channels:   channels,
		Seq:        seq,
		SessionID:  sessionID,
		CapturedAt: capturedAt,
	}, nil
}

// Samples returns the per-channel sample count.
func (c AudioChunk) Samples() int {
	return len(c.Data) / (c.Channels * 2)
}

// Duration returns the playback duration of the chunk.
func (c AudioChunk) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(c.Samples()) * time.Second / time.Duration(c.SampleRate)
}

// Clone deep-copies the chunk so callers can retain it past buffer reuse.
func (c AudioChunk) Clone() AudioChunk {
	data := make([]byte, len(c.Data))
	copy(data, c.Data)
	out := c
	out.Data = data
	return out
}

// Int16Samples decodes the little-endian PCM payload.
func (c AudioChunk) Int16Samples() []int16 {
	out := make([]int16, len(c.Data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(c.Data[i*2:]))
	}
	return out
}

// EnergyDB computes the RMS energy of 16-bit PCM in decibels relative to
// full scale. Empty or near-silent payloads report -100 dB.
func EnergyDB(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return -100
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(n))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
