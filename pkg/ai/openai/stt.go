package openai

import (
	"bytes"
	"context"
	"fmt"

	gopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/chriscow/voiceloop-go/pkg/ai/stt"
	"github.com/chriscow/voiceloop-go/pkg/rtc"
)

// WhisperSTT implements stt.STT using the Whisper transcription endpoint.
type WhisperSTT struct {
	client *gopenai.Client
	model  string
	logger *zap.Logger
}

// NewWhisperSTT creates a Whisper-backed transcriber.
func NewWhisperSTT(client *gopenai.Client, logger *zap.Logger) *WhisperSTT {
	return &WhisperSTT{
		client: client,
		model:  gopenai.Whisper1,
		logger: logger.Named("whisper"),
	}
}

// Transcribe converts one turn's audio into text.
func (w *WhisperSTT) Transcribe(ctx context.Context, segment []rtc.AudioChunk) (stt.Transcript, error) {
	wav, err := encodeWAV(segment)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("encode segment: %w", err)
	}

	resp, err := w.client.CreateTranscription(ctx, gopenai.AudioRequest{
		Model:    w.model,
		Format:   gopenai.AudioResponseFormatJSON,
		Reader:   bytes.NewReader(wav),
		FilePath: "turn.wav", // the API requires a filename hint
	})
	if err != nil {
		w.logger.Warn("transcription failed", zap.Error(err))
		return stt.Transcript{}, classify(err, "transcribe")
	}

	// Derive confidence from no-speech probability when segments are present.
	confidence := 0.95
	if len(resp.Segments) > 0 {
		total := 0.0
		for _, seg := range resp.Segments {
			total += 1.0 - seg.NoSpeechProb
		}
		confidence = total / float64(len(resp.Segments))
	}

	w.logger.Debug("transcription complete",
		zap.Int("segment_chunks", len(segment)),
		zap.Int("text_len", len(resp.Text)))

	return stt.Transcript{Text: resp.Text, Language: resp.Language, Confidence: confidence}, nil
}

// Capabilities returns the provider's capabilities.
func (w *WhisperSTT) Capabilities() stt.Capabilities {
	return stt.Capabilities{
		SupportedLanguages: []string{"en", "es", "de", "fr", "ja", "zh"},
		SampleRates:        []int{16000, 24000, 48000},
	}
}
