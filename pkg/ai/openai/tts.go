package openai

import (
	"context"
	"errors"
	"io"
	"time"

	gopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/chriscow/voiceloop-go/pkg/ai/tts"
	"github.com/chriscow/voiceloop-go/pkg/rtc"
)

// The speech endpoint returns 24kHz 16-bit mono PCM.
const speechSampleRate = 24000

// SpeechTTS implements tts.TTS using the speech endpoint. The response body
// is read incrementally and re-chunked so downstream streaming starts before
// the full synthesis arrives.
type SpeechTTS struct {
	client *gopenai.Client
	model  gopenai.SpeechModel
	logger *zap.Logger

	// chunkBytes is the emission granularity. Default is 100ms of audio.
	chunkBytes int
}

// NewSpeechTTS creates a speech-endpoint-backed synthesizer.
func NewSpeechTTS(client *gopenai.Client, logger *zap.Logger) *SpeechTTS {
	return &SpeechTTS{
		client:     client,
		model:      gopenai.TTSModel1,
		logger:     logger.Named("speech"),
		chunkBytes: speechSampleRate * 2 / 10,
	}
}

// Synthesize converts text to a stream of PCM chunks.
func (s *SpeechTTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (<-chan rtc.AudioChunk, error) {
	voice := req.Voice
	if voice == "" {
		voice = string(gopenai.VoiceAlloy)
	}
	speed := req.Speed
	if speed == 0 {
		speed = 1.0
	}

	body, err := s.client.CreateSpeech(ctx, gopenai.CreateSpeechRequest{
		Model:          s.model,
		Input:          req.Text,
		Voice:          gopenai.SpeechVoice(voice),
		ResponseFormat: gopenai.SpeechResponseFormatPcm,
		Speed:          float64(speed),
	})
	if err != nil {
		s.logger.Warn("synthesis failed", zap.Error(err))
		return nil, classify(err, "synthesize")
	}

	out := make(chan rtc.AudioChunk, 4)
	go func() {
		defer close(out)
		defer body.Close()

		var seq uint64
		buf := make([]byte, s.chunkBytes)
		for {
			n, err := io.ReadFull(body, buf)
			if n > 0 {
				// Trim a trailing odd byte so chunks stay sample-aligned.
				if n%2 != 0 {
					n--
				}
				data := make([]byte, n)
				copy(data, buf[:n])
				chunk := rtc.AudioChunk{
					Data:       data,
					SampleRate: speechSampleRate,
					Channels:   1,
					Seq:        seq,
					CapturedAt: time.Now(),
				}
				seq++
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					s.logger.Warn("synthesis stream truncated", zap.Error(err))
				}
				return
			}
		}
	}()
	return out, nil
}

// Capabilities returns the provider's capabilities.
func (s *SpeechTTS) Capabilities() tts.Capabilities {
	return tts.Capabilities{
		Streaming:          true,
		SupportedLanguages: []string{"en"},
		SupportedVoices:    []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"},
		SampleRates:        []int{speechSampleRate},
	}
}
