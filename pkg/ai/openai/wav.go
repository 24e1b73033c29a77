package openai

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/chriscow/voiceloop-go/pkg/rtc"
)

// encodeWAV wraps a contiguous run of PCM chunks in a RIFF/WAVE container,
// which is what the transcription endpoint expects for raw audio.
func encodeWAV(segment []rtc.AudioChunk) ([]byte, error) {
	if len(segment) == 0 {
		return nil, fmt.Errorf("empty segment")
	}
	sampleRate := segment[0].SampleRate
	channels := segment[0].Channels

	var pcm bytes.Buffer
	for _, c := range segment {
		if c.SampleRate != sampleRate || c.Channels != channels {
			return nil, fmt.Errorf("segment mixes audio formats: %dHz/%dch vs %dHz/%dch",
				sampleRate, channels, c.SampleRate, c.Channels)
		}
		pcm.Write(c.Data)
	}

	dataSize := uint32(pcm.Len())
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, dataSize+36)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16)) // fmt chunk size
	binary.Write(&buf, binary.LittleEndian, uint16(1))  // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*2)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))            // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))                    // bits per sample
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(pcm.Bytes())
	return buf.Bytes(), nil
}
