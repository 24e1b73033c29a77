package echo

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chriscow/voiceloop-go/pkg/rtc"
)

// Decision is the detector's verdict on one provisional chunk.
type Decision int

const (
	// Admit hands the chunk to the segmentation engine as real input.
	Admit Decision = iota
	// DiscardEcho drops the chunk as re-ingested output.
	DiscardEcho
)

func (d Decision) String() string {
	if d == DiscardEcho {
		return "discard_echo"
	}
	return "admit"
}

// Config controls echo detection.
type Config struct {
	// GateMargin extends the temporal gate past the end of output
	// streaming to absorb platform round-trip delay.
	GateMargin time.Duration

	// Threshold is the starting normalized correlation above which
	// provisional audio is discarded as echo.
	Threshold float64

	// MinThreshold and MaxThreshold bound adaptive adjustment.
	MinThreshold float64
	MaxThreshold float64

	// AdaptStep is how far one feedback event nudges the threshold.
	AdaptStep float64

	// MaxLag bounds the time-shift scanned during correlation, covering
	// loopback delay. LagStep is the scan granularity.
	MaxLag  time.Duration
	LagStep time.Duration
}

// DefaultConfig returns detection defaults.
func DefaultConfig() Config {
	return Config{
		GateMargin:   300 * time.Millisecond,
		Threshold:    0.75,
		MinThreshold: 0.5,
		MaxThreshold: 0.95,
		AdaptStep:    0.02,
		MaxLag:       500 * time.Millisecond,
		LagStep:      10 * time.Millisecond,
	}
}

// Detector classifies provisional input chunks against a session's output
// window. One detector per session; safe for use from the ingestion
// goroutine with gate updates arriving from the pipeline goroutine.
type Detector struct {
	cfg    Config
	window *Window
	logger *zap.Logger

	mu        sync.Mutex
	streaming bool
	gateUntil time.Time
	threshold float64
}

// NewDetector creates a detector over the given output window.
func NewDetector(cfg Config, window *Window, logger *zap.Logger) *Detector {
	return &Detector{
		cfg:       cfg,
		window:    window,
		logger:    logger.Named("echo"),
		threshold: cfg.Threshold,
	}
}

// SetStreaming marks whether the session's run is streaming output. While
// streaming (and for GateMargin afterwards) arriving audio is provisional.
func (d *Detector) SetStreaming(active bool, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.streaming && !active {
		d.gateUntil = now.Add(d.cfg.GateMargin)
	}
	d.streaming = active
}

// Gated reports whether the temporal gate currently applies.
func (d *Detector) Gated(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming || now.Before(d.gateUntil)
}

// Threshold returns the current correlation threshold.
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// Process classifies one arriving chunk. Outside the temporal gate the
// chunk is admitted without scoring. Inside it, the chunk is correlated
// against the output window; correlation at or above the threshold
// discards it as echo. Scoring failures favor admission: dropping real
// speech is worse than accepting an echo.
func (d *Detector) Process(chunk rtc.AudioChunk, now time.Time) Decision {
	if !d.Gated(now) {
		return Admit
	}

	score, ok := d.correlate(chunk, now)
	if !ok {
		d.logger.Warn("correlation scoring failed, admitting audio",
			zap.Uint64("seq", chunk.Seq))
		return Admit
	}

	if score >= d.Threshold() {
		d.logger.Debug("discarding echo",
			zap.Float64("correlation", score),
			zap.Uint64("seq", chunk.Seq))
		return DiscardEcho
	}
	return Admit
}

// FeedbackFalseSuppression reports that real speech was discarded; the
// threshold is raised so less audio is suppressed.
func (d *Detector) FeedbackFalseSuppression() {
	d.adjust(d.cfg.AdaptStep)
}

// FeedbackFalseAdmission reports that echo slipped through as speech; the
// threshold is lowered so more audio is suppressed.
func (d *Detector) FeedbackFalseAdmission() {
	d.adjust(-d.cfg.AdaptStep)
}

func (d *Detector) adjust(delta float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.threshold + delta
	if t < d.cfg.MinThreshold {
		t = d.cfg.MinThreshold
	}
	if t > d.cfg.MaxThreshold {
		t = d.cfg.MaxThreshold
	}
	if t != d.threshold {
		d.logger.Info("echo threshold adjusted",
			zap.Float64("from", d.threshold), zap.Float64("to", t))
		d.threshold = t
	}
}

// correlate returns the best normalized correlation between the chunk and
// any window entry across the bounded lag scan. ok is false on numeric
// failure or when no comparable entry exists at the chunk's sample rate.
func (d *Detector) correlate(chunk rtc.AudioChunk, now time.Time) (float64, bool) {
	entries := d.window.snapshot(now)
	if len(entries) == 0 {
		// Nothing emitted recently; nothing to correlate against.
		return 0, true
	}

	raw := chunk.Int16Samples()
	input := make([]float64, len(raw))
	for i, s := range raw {
		input[i] = float64(s) / 32768.0
	}

	best := 0.0
	compared := false
	for _, e := range entries {
		if e.sampleRate != chunk.SampleRate {
			continue
		}
		compared = true
		maxLag := int(d.cfg.MaxLag.Seconds() * float64(e.sampleRate))
		step := int(d.cfg.LagStep.Seconds() * float64(e.sampleRate))
		if step <= 0 {
			step = 1
		}
		for lag := 0; lag <= maxLag; lag += step {
			if lag >= len(e.samples) {
				break
			}
			score := normalizedCorrelation(input, e.samples[lag:])
			if math.IsNaN(score) || math.IsInf(score, 0) {
				return 0, false
			}
			if score > best {
				best = score
			}
		}
	}
	if !compared {
		// Sample-rate mismatch between capture and playback; admit and
		// let the operator fix the deployment.
		d.logger.Warn("no window entry matches input sample rate",
			zap.Int("sample_rate", chunk.SampleRate))
		return 0, true
	}
	return best, true
}

// normalizedCorrelation computes |a·b| / (|a||b|) over the common prefix.
// Returns 0 when the overlap is too short to be meaningful.
func normalizedCorrelation(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 100 {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom < 1e-10 {
		return 0
	}
	return math.Abs(dot) / denom
}
