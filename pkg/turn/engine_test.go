package turn

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/chriscow/voiceloop-go/pkg/turn/fake"
	"github.com/chriscow/voiceloop-go/pkg/rtc"
)

const testRate = 16000

// speechChunk generates 20ms of loud tone.
func speechChunk(t *testing.T, seq uint64) rtc.AudioChunk {
	t.Helper()
	samples := testRate / 50
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		s := int16(math.Sin(2*math.Pi*220*float64(i)/testRate) * 16000)
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	c, err := rtc.NewAudioChunk(data, testRate, 1, seq, "s1", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// silenceChunk generates 20ms of silence.
func silenceChunk(t *testing.T, seq uint64) rtc.AudioChunk {
	t.Helper()
	c, err := rtc.NewAudioChunk(make([]byte, testRate/50*2), testRate, 1, seq, "s1", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BufferTarget = 2000 * time.Millisecond
	cfg.SilenceTimeout = 1000 * time.Millisecond
	cfg.MinSpeech = 500 * time.Millisecond
	cfg.PreSpeech = 0
	return cfg
}

// feed pushes n chunks from gen, returning the first finalized turn and how
// many chunks were consumed to get it.
func feed(t *testing.T, e *Engine, n int, seq *uint64, gen func(*testing.T, uint64) rtc.AudioChunk) (*Turn, int) {
	t.Helper()
	for i := 0; i < n; i++ {
		out := e.Push(context.Background(), gen(t, *seq))
		*seq++
		if out != nil {
			return out, i + 1
		}
	}
	return nil, n
}

func TestBaseline_BufferTargetFinalizes(t *testing.T) {
	e := NewEngine("s1", testConfig(), nil, zaptest.NewLogger(t))

	var seq uint64
	// 2000ms of speech = 100 chunks of 20ms.
	turn, consumed := feed(t, e, 150, &seq, speechChunk)
	if turn == nil {
		t.Fatal("no turn finalized during continuous speech")
	}
	if consumed != 100 {
		t.Fatalf("finalized after %d chunks, want 100 (2000ms)", consumed)
	}
	if turn.Reason != ReasonBufferTarget {
		t.Fatalf("reason = %s, want buffer_target", turn.Reason)
	}
	if !turn.Finalized() || len(turn.Chunks()) == 0 {
		t.Fatal("finalized turn must be frozen and non-empty")
	}
}

func TestBaseline_SilenceTimeoutFinalizes(t *testing.T) {
	cfg := testConfig()
	cfg.BufferTarget = 10 * time.Second // keep the target out of the way
	e := NewEngine("s1", cfg, nil, zaptest.NewLogger(t))

	var seq uint64
	// 800ms speech, then silence. Finalizes once trailing silence reaches 1000ms.
	if turn, _ := feed(t, e, 40, &seq, speechChunk); turn != nil {
		t.Fatal("turn finalized during speech")
	}
	turn, consumed := feed(t, e, 80, &seq, silenceChunk)
	if turn == nil {
		t.Fatal("no turn finalized after silence timeout")
	}
	if consumed != 50 {
		t.Fatalf("finalized after %d silence chunks, want 50 (1000ms)", consumed)
	}
	if turn.Reason != ReasonSilence {
		t.Fatalf("reason = %s, want silence", turn.Reason)
	}
}

// With buffer_target=2000ms and 3000ms of speech, the target fires first, so
// the turn closes at or before the later silence crossing.
func TestBaseline_SpeechThenSilenceClosesNoLaterThanSilenceCrossing(t *testing.T) {
	e := NewEngine("s1", testConfig(), nil, zaptest.NewLogger(t))

	var seq uint64
	var finalizedAt time.Duration
	elapsed := time.Duration(0)
	for i := 0; i < 150; i++ { // 3000ms speech
		out := e.Push(context.Background(), speechChunk(t, seq))
		seq++
		elapsed += 20 * time.Millisecond
		if out != nil && finalizedAt == 0 {
			finalizedAt = elapsed
		}
	}
	for i := 0; i < 60; i++ { // 1200ms silence
		out := e.Push(context.Background(), silenceChunk(t, seq))
		seq++
		elapsed += 20 * time.Millisecond
		if out != nil && finalizedAt == 0 {
			finalizedAt = elapsed
		}
	}

	silenceCrossing := 3000*time.Millisecond + 1000*time.Millisecond
	if finalizedAt == 0 {
		t.Fatal("no turn finalized")
	}
	if finalizedAt > silenceCrossing {
		t.Fatalf("finalized at %v, want at or before %v", finalizedAt, silenceCrossing)
	}
}

func TestBaseline_ShortBurstDiscarded(t *testing.T) {
	cfg := testConfig()
	cfg.BufferTarget = 10 * time.Second
	e := NewEngine("s1", cfg, nil, zaptest.NewLogger(t))

	var seq uint64
	// 200ms speech < 500ms minimum, then ample silence.
	if turn, _ := feed(t, e, 10, &seq, speechChunk); turn != nil {
		t.Fatal("turn finalized during burst")
	}
	if turn, _ := feed(t, e, 100, &seq, silenceChunk); turn != nil {
		t.Fatal("sub-minimum burst should be discarded, not finalized")
	}
}

func TestBaseline_MaxDurationCap(t *testing.T) {
	cfg := testConfig()
	cfg.BufferTarget = time.Hour
	cfg.SilenceTimeout = time.Hour
	cfg.MaxTurnDuration = 1000 * time.Millisecond
	e := NewEngine("s1", cfg, nil, zaptest.NewLogger(t))

	var seq uint64
	turn, consumed := feed(t, e, 200, &seq, speechChunk)
	if turn == nil {
		t.Fatal("max duration cap never fired")
	}
	if consumed != 50 {
		t.Fatalf("cap fired after %d chunks, want 50 (1000ms)", consumed)
	}
	if turn.Reason != ReasonMaxDuration {
		t.Fatalf("reason = %s, want max_duration", turn.Reason)
	}
}

func TestPreSpeechBufferRetained(t *testing.T) {
	cfg := testConfig()
	cfg.PreSpeech = 100 * time.Millisecond
	e := NewEngine("s1", cfg, nil, zaptest.NewLogger(t))

	var seq uint64
	// 400ms leading silence, only the last 100ms should be retained.
	if turn, _ := feed(t, e, 20, &seq, silenceChunk); turn != nil {
		t.Fatal("turn started during silence")
	}
	turn, _ := feed(t, e, 150, &seq, speechChunk)
	if turn == nil {
		t.Fatal("no turn finalized")
	}
	// Pre-speech counts toward the 2000ms target: 5 retained silence chunks
	// (100ms) plus 95 speech chunks.
	if got := len(turn.Chunks()); got != 100 {
		t.Fatalf("chunks = %d, want 100 (95 speech + 5 pre-speech)", got)
	}
	if turn.Chunks()[0].Seq != 15 {
		t.Fatalf("first chunk seq = %d, want 15", turn.Chunks()[0].Seq)
	}
}

func TestSemantic_FinalizesOnConfidence(t *testing.T) {
	scorer := fake.NewFakeScorer(0.95)
	cfg := testConfig()
	cfg.Strategy = StrategySemantic
	cfg.SemanticMinAudio = 500 * time.Millisecond
	e := NewEngine("s1", cfg, scorer, zaptest.NewLogger(t))

	var seq uint64
	turn, consumed := feed(t, e, 100, &seq, speechChunk)
	if turn == nil {
		t.Fatal("semantic strategy never finalized")
	}
	// First scored chunk is the one that crosses 500ms: chunk 25.
	if consumed != 25 {
		t.Fatalf("finalized after %d chunks, want 25", consumed)
	}
	if turn.Reason != ReasonSemantic {
		t.Fatalf("reason = %s, want semantic", turn.Reason)
	}
	if scorer.Calls() != 1 {
		t.Fatalf("scorer calls = %d, want 1", scorer.Calls())
	}
}

func TestSemantic_LowConfidenceKeepsAccumulating(t *testing.T) {
	scorer := fake.NewFakeScorer(0.1)
	cfg := testConfig()
	cfg.Strategy = StrategySemantic
	cfg.MaxTurnDuration = 1000 * time.Millisecond
	e := NewEngine("s1", cfg, scorer, zaptest.NewLogger(t))

	var seq uint64
	turn, consumed := feed(t, e, 150, &seq, speechChunk)
	if turn == nil {
		t.Fatal("max duration cap never fired")
	}
	if turn.Reason != ReasonMaxDuration {
		t.Fatalf("reason = %s, want max_duration backstop", turn.Reason)
	}
	if consumed != 50 {
		t.Fatalf("finalized after %d chunks, want 50", consumed)
	}
}

func TestSemantic_ScorerOutageDemotesToBaseline(t *testing.T) {
	scorer := fake.NewFakeScorer(0.9)
	scorer.SetError(errors.New("scorer down"))

	cfg := testConfig()
	cfg.Strategy = StrategySemantic
	e := NewEngine("s1", cfg, scorer, zaptest.NewLogger(t))

	var seq uint64
	turn, _ := feed(t, e, 150, &seq, speechChunk)
	if turn == nil {
		t.Fatal("demoted session must keep finalizing turns via baseline")
	}
	if turn.Reason != ReasonBufferTarget {
		t.Fatalf("reason = %s, want buffer_target from baseline fallback", turn.Reason)
	}
	if !e.Demoted() {
		t.Fatal("engine should report demotion")
	}
	if e.Strategy() != StrategyBaseline {
		t.Fatalf("effective strategy = %s, want baseline", e.Strategy())
	}

	// Demotion is sticky: a recovered scorer is not consulted again.
	scorer.SetError(nil)
	callsBefore := scorer.Calls()
	turn2, _ := feed(t, e, 150, &seq, speechChunk)
	if turn2 == nil {
		t.Fatal("no turn after demotion")
	}
	if scorer.Calls() != callsBefore {
		t.Fatal("demoted engine consulted the scorer again")
	}
}

func TestFlush(t *testing.T) {
	cfg := testConfig()
	cfg.BufferTarget = 10 * time.Second
	e := NewEngine("s1", cfg, nil, zaptest.NewLogger(t))

	var seq uint64
	// Accumulate 800ms of speech, then flush.
	if turn, _ := feed(t, e, 40, &seq, speechChunk); turn != nil {
		t.Fatal("turn finalized early")
	}
	turn := e.Flush()
	if turn == nil {
		t.Fatal("flush should finalize a sufficient partial turn")
	}
	if turn.Reason != ReasonFlush {
		t.Fatalf("reason = %s, want flush", turn.Reason)
	}

	// A flush with nothing accumulated returns nil.
	if e.Flush() != nil {
		t.Fatal("empty flush must return nil")
	}

	// A flush below the speech minimum is discarded.
	if turn, _ := feed(t, e, 5, &seq, speechChunk); turn != nil {
		t.Fatal("turn finalized early")
	}
	if e.Flush() != nil {
		t.Fatal("sub-minimum flush must be discarded")
	}
}

func TestFinalizedTurnIsFrozen(t *testing.T) {
	e := NewEngine("s1", testConfig(), nil, zaptest.NewLogger(t))

	var seq uint64
	turn, _ := feed(t, e, 150, &seq, speechChunk)
	if turn == nil {
		t.Fatal("no turn")
	}
	samples := turn.TotalSamples()
	chunks := len(turn.Chunks())

	defer func() {
		if recover() == nil {
			t.Fatal("append to a finalized turn must panic")
		}
		if turn.TotalSamples() != samples || len(turn.Chunks()) != chunks {
			t.Fatal("finalized turn mutated")
		}
	}()
	turn.append(speechChunk(t, 999))
}
