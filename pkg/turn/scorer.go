package turn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chriscow/voiceloop-go/pkg/ai"
	"github.com/chriscow/voiceloop-go/pkg/rtc"
)

// Scorer produces a confidence (0-1) that the speaker has finished their
// turn, given the audio accumulated so far. Implementations must return
// quickly; the engine calls this on the ingestion path.
type Scorer interface {
	ScoreEndOfTurn(ctx context.Context, segment []rtc.AudioChunk) (float64, error)
}

// RemoteScorer calls an external end-of-turn inference endpoint. The request
// carries the raw PCM window; the response carries the probability.
type RemoteScorer struct {
	endpoint   string
	httpClient *http.Client
}

// NewRemoteScorer creates a scorer against an HTTP inference endpoint.
func NewRemoteScorer(endpoint string, timeout time.Duration) *RemoteScorer {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RemoteScorer{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type scoreResponse struct {
	Probability float64 `json:"eou_probability"`
	Error       string  `json:"error,omitempty"`
}

// ScoreEndOfTurn posts the accumulated PCM and decodes the probability.
func (s *RemoteScorer) ScoreEndOfTurn(ctx context.Context, segment []rtc.AudioChunk) (float64, error) {
	if len(segment) == 0 {
		return 0, fmt.Errorf("empty segment")
	}

	var pcm bytes.Buffer
	for _, c := range segment {
		pcm.Write(c.Data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, &pcm)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Sample-Rate", fmt.Sprintf("%d", segment[0].SampleRate))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, ai.NewUnavailableError(err, "turn scorer unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, ai.NewUnavailableError(fmt.Errorf("HTTP %d: %s", resp.StatusCode, body), "turn scorer error")
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return 0, ai.NewUnavailableError(fmt.Errorf("remote error: %s", out.Error), "")
	}
	if out.Probability < 0 || out.Probability > 1 {
		return 0, fmt.Errorf("invalid probability %f", out.Probability)
	}
	return out.Probability, nil
}
