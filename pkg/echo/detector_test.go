package echo

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/chriscow/voiceloop-go/pkg/rtc"
)

const testRate = 16000

// toneChunk generates durMs of a tone at the given frequency.
func toneChunk(t *testing.T, freq float64, durMs int) rtc.AudioChunk {
	t.Helper()
	samples := testRate * durMs / 1000
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		s := int16(math.Sin(2*math.Pi*freq*float64(i)/testRate) * 16000)
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	c, err := rtc.NewAudioChunk(data, testRate, 1, 0, "s1", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func newTestDetector(t *testing.T) (*Detector, *Window) {
	t.Helper()
	w := NewWindow(5 * time.Second)
	d := NewDetector(DefaultConfig(), w, zaptest.NewLogger(t))
	return d, w
}

func TestReplayedOutputIsDiscardedAsEcho(t *testing.T) {
	d, w := newTestDetector(t)
	now := time.Now()

	out := toneChunk(t, 440, 200)
	w.Append(out, now)
	d.SetStreaming(true, now)

	// Zero channel distortion: the exact bytes come back as input.
	replay := out.Clone()
	if got := d.Process(replay, now.Add(50*time.Millisecond)); got != DiscardEcho {
		t.Fatalf("Process(replayed output) = %s, want discard_echo", got)
	}
}

func TestUnrelatedSpeechIsAdmittedDuringGate(t *testing.T) {
	d, w := newTestDetector(t)
	now := time.Now()

	w.Append(toneChunk(t, 440, 200), now)
	d.SetStreaming(true, now)

	// A different frequency does not correlate with the emitted tone.
	speech := toneChunk(t, 1333, 200)
	if got := d.Process(speech, now.Add(50*time.Millisecond)); got != Admit {
		t.Fatalf("Process(unrelated speech) = %s, want admit", got)
	}
}

func TestGateLiftsAfterMargin(t *testing.T) {
	d, w := newTestDetector(t)
	now := time.Now()

	out := toneChunk(t, 440, 200)
	w.Append(out, now)
	d.SetStreaming(true, now)
	d.SetStreaming(false, now)

	if !d.Gated(now.Add(100 * time.Millisecond)) {
		t.Fatal("gate must hold through the trailing margin")
	}
	if d.Gated(now.Add(400 * time.Millisecond)) {
		t.Fatal("gate must lift after the 300ms margin")
	}

	// Past the gate even an exact replay is admitted without scoring;
	// direct-path audio is the segmentation engine's problem then.
	if got := d.Process(out.Clone(), now.Add(400*time.Millisecond)); got != Admit {
		t.Fatalf("Process(after gate) = %s, want admit", got)
	}
}

func TestEmptyWindowAdmits(t *testing.T) {
	d, _ := newTestDetector(t)
	now := time.Now()
	d.SetStreaming(true, now)

	if got := d.Process(toneChunk(t, 440, 100), now); got != Admit {
		t.Fatalf("Process(no emitted audio) = %s, want admit", got)
	}
}

func TestSampleRateMismatchAdmits(t *testing.T) {
	d, w := newTestDetector(t)
	now := time.Now()

	out := toneChunk(t, 440, 200)
	w.Append(out, now)
	d.SetStreaming(true, now)

	mismatched, err := rtc.NewAudioChunk(out.Data, 48000, 1, 0, "s1", now)
	if err != nil {
		t.Fatal(err)
	}
	if got := d.Process(mismatched, now); got != Admit {
		t.Fatalf("Process(rate mismatch) = %s, want admit", got)
	}
}

func TestWindowEviction(t *testing.T) {
	w := NewWindow(1 * time.Second)
	now := time.Now()

	w.Append(toneChunk(t, 440, 100), now.Add(-2*time.Second))
	w.Append(toneChunk(t, 440, 100), now)
	if got := len(w.snapshot(now)); got != 1 {
		t.Fatalf("window entries = %d, want 1 after eviction", got)
	}
}

func TestAdaptiveThresholdBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threshold = 0.75
	cfg.MinThreshold = 0.7
	cfg.MaxThreshold = 0.8
	cfg.AdaptStep = 0.04
	d := NewDetector(cfg, NewWindow(time.Second), zaptest.NewLogger(t))

	d.FeedbackFalseAdmission()
	if got := d.Threshold(); math.Abs(got-0.71) > 1e-9 {
		t.Fatalf("threshold = %v, want 0.71", got)
	}
	// Repeated feedback pins at the lower bound.
	for i := 0; i < 10; i++ {
		d.FeedbackFalseAdmission()
	}
	if got := d.Threshold(); got != 0.7 {
		t.Fatalf("threshold = %v, want clamped at 0.7", got)
	}

	for i := 0; i < 10; i++ {
		d.FeedbackFalseSuppression()
	}
	if got := d.Threshold(); got != 0.8 {
		t.Fatalf("threshold = %v, want clamped at 0.8", got)
	}
}

func TestTranscriptSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{name: "identical", a: "hello there general", b: "hello there general", min: 1, max: 1},
		{name: "case and spacing", a: "Hello   THERE", b: "hello there", min: 1, max: 1},
		{name: "disjoint", a: "alpha beta", b: "gamma delta", min: 0, max: 0},
		{name: "partial", a: "turn on the lights", b: "the lights are on now", min: 0.4, max: 0.7},
		{name: "empty", a: "", b: "whatever", min: 0, max: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TranscriptSimilarity(tt.a, tt.b)
			if got < tt.min || got > tt.max {
				t.Fatalf("TranscriptSimilarity(%q, %q) = %v, want in [%v, %v]", tt.a, tt.b, got, tt.min, tt.max)
			}
		})
	}
}
