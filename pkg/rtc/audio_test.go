package rtc

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestNewAudioChunk_Validation(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		sampleRate int
		channels   int
		expectErr  bool
	}{
		{name: "valid mono", data: make([]byte, 320), sampleRate: 16000, channels: 1, expectErr: false},
		{name: "valid stereo", data: make([]byte, 640), sampleRate: 48000, channels: 2, expectErr: false},
		{name: "empty payload", data: nil, sampleRate: 16000, channels: 1, expectErr: true},
		{name: "odd length", data: make([]byte, 321), sampleRate: 16000, channels: 1, expectErr: true},
		{name: "stereo misaligned", data: make([]byte, 322), sampleRate: 16000, channels: 2, expectErr: true},
		{name: "zero sample rate", data: make([]byte, 320), sampleRate: 0, channels: 1, expectErr: true},
		{name: "bad channels", data: make([]byte, 320), sampleRate: 16000, channels: 3, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAudioChunk(tt.data, tt.sampleRate, tt.channels, 0, "s1", time.Now())
			if (err != nil) != tt.expectErr {
				t.Fatalf("NewAudioChunk error = %v, expectErr = %v", err, tt.expectErr)
			}
		})
	}
}

func TestAudioChunk_Duration(t *testing.T) {
	// 320 bytes = 160 mono samples = 10ms at 16kHz
	chunk, err := NewAudioChunk(make([]byte, 320), 16000, 1, 0, "s1", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if got := chunk.Duration(); got != 10*time.Millisecond {
		t.Fatalf("Duration() = %v, want 10ms", got)
	}
	if got := chunk.Samples(); got != 160 {
		t.Fatalf("Samples() = %d, want 160", got)
	}
}

func TestAudioChunk_CloneIsDeep(t *testing.T) {
	data := make([]byte, 320)
	data[0] = 0x7f
	chunk, err := NewAudioChunk(data, 16000, 1, 3, "s1", time.Now())
	if err != nil {
		t.Fatal(err)
	}

	clone := chunk.Clone()
	data[0] = 0x00

	if clone.Data[0] != 0x7f {
		t.Fatal("Clone shares backing array with original")
	}
	if clone.Seq != chunk.Seq || clone.SessionID != chunk.SessionID {
		t.Fatal("Clone dropped metadata")
	}
}

func TestEnergyDB(t *testing.T) {
	silence := make([]byte, 640)
	if got := EnergyDB(silence); got != -100 {
		t.Fatalf("EnergyDB(silence) = %v, want -100", got)
	}

	// Full-scale sine should land near 0 dB minus the RMS factor (~-3 dB).
	tone := make([]byte, 640)
	for i := 0; i < 320; i++ {
		s := int16(math.Sin(2*math.Pi*440*float64(i)/16000) * 32000)
		binary.LittleEndian.PutUint16(tone[i*2:], uint16(s))
	}
	got := EnergyDB(tone)
	if got < -6 || got > 0 {
		t.Fatalf("EnergyDB(full-scale tone) = %v, want within (-6, 0)", got)
	}

	if got := EnergyDB(nil); got != -100 {
		t.Fatalf("EnergyDB(nil) = %v, want -100", got)
	}
}
