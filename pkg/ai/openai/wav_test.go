package openai

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/chriscow/voiceloop-go/pkg/rtc"
)

func chunk(t *testing.T, data []byte, rate, channels int) rtc.AudioChunk {
	t.Helper()
	c, err := rtc.NewAudioChunk(data, rate, channels, 0, "s1", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestEncodeWAV(t *testing.T) {
	seg := []rtc.AudioChunk{
		chunk(t, make([]byte, 320), 16000, 1),
		chunk(t, make([]byte, 320), 16000, 1),
	}
	wav, err := encodeWAV(seg)
	if err != nil {
		t.Fatal(err)
	}

	if string(wav[:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(wav[24:]); got != 16000 {
		t.Fatalf("sample rate in header = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:]); got != 640 {
		t.Fatalf("data size in header = %d, want 640", got)
	}
	if len(wav) != 44+640 {
		t.Fatalf("total length = %d, want 684", len(wav))
	}
}

func TestEncodeWAV_RejectsMixedFormats(t *testing.T) {
	seg := []rtc.AudioChunk{
		chunk(t, make([]byte, 320), 16000, 1),
		chunk(t, make([]byte, 320), 48000, 1),
	}
	if _, err := encodeWAV(seg); err == nil {
		t.Fatal("expected error for mixed sample rates")
	}
}

func TestEncodeWAV_EmptySegment(t *testing.T) {
	if _, err := encodeWAV(nil); err == nil {
		t.Fatal("expected error for empty segment")
	}
}
