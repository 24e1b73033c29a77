package turn

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chriscow/voiceloop-go/pkg/rtc"
)

// Strategy selects the turn-detection algorithm for a session.
type Strategy string

const (
	StrategyBaseline Strategy = "baseline"
	StrategySemantic Strategy = "semantic"
)

// Config controls segmentation behavior.
type Config struct {
	Strategy Strategy

	// Baseline knobs.
	BufferTarget      time.Duration // finalize when this much audio accumulates
	SilenceTimeout    time.Duration // trailing silence that closes a turn
	MinSpeech         time.Duration // shorter bursts are discarded as noise
	PreSpeech         time.Duration // leading audio retained before speech onset
	SpeechThresholdDB float64       // energy above this counts as speech

	// Semantic knobs.
	SemanticMinAudio  time.Duration // accumulate at least this much before scoring
	SemanticThreshold float64       // finalize at or above this confidence

	// Applies to both strategies.
	MaxTurnDuration time.Duration
}

// DefaultConfig returns segmentation defaults tuned for 16kHz speech.
func DefaultConfig() Config {
	return Config{
		Strategy:          StrategyBaseline,
		BufferTarget:      2000 * time.Millisecond,
		SilenceTimeout:    1000 * time.Millisecond,
		MinSpeech:         500 * time.Millisecond,
		PreSpeech:         300 * time.Millisecond,
		SpeechThresholdDB: -30,
		SemanticMinAudio:  500 * time.Millisecond,
		SemanticThreshold: 0.8,
		MaxTurnDuration:   30 * time.Second,
	}
}

// Engine segments one session's audio stream into turns. Not safe for
// concurrent use; the owning session calls it from its ingestion goroutine.
//
// Time is measured in audio duration, not wall clock, so identical input
// produces identical segmentation.
type Engine struct {
	cfg    Config
	scorer Scorer
	logger *zap.Logger

	sessionID string
	current   *Turn

	speechDur       time.Duration
	trailingSilence time.Duration

	preSpeech    []rtc.AudioChunk
	preSpeechDur time.Duration

	demoted bool
}

// NewEngine creates a segmentation engine. scorer may be nil, which forces
// the baseline strategy regardless of cfg.Strategy.
func NewEngine(sessionID string, cfg Config, scorer Scorer, logger *zap.Logger) *Engine {
	e := &Engine{
		cfg:       cfg,
		scorer:    scorer,
		logger:    logger.Named("turn").With(zap.String("session_id", sessionID)),
		sessionID: sessionID,
	}
	if cfg.Strategy == StrategySemantic && scorer == nil {
		e.logger.Warn("semantic strategy requested without a scorer, using baseline")
		e.demoted = true
	}
	return e
}

// Strategy returns the currently effective strategy, accounting for demotion.
func (e *Engine) Strategy() Strategy {
	if e.cfg.Strategy == StrategySemantic && !e.demoted {
		return StrategySemantic
	}
	return StrategyBaseline
}

// Demoted reports whether a semantic session has fallen back to baseline.
func (e *Engine) Demoted() bool { return e.demoted }

// Push feeds one chunk into the engine. It returns a finalized turn when a
// boundary is detected, else nil. A returned turn always has at least one
// chunk.
func (e *Engine) Push(ctx context.Context, chunk rtc.AudioChunk) *Turn {
	speech := rtc.EnergyDB(chunk.Data) >= e.cfg.SpeechThresholdDB

	if e.current == nil {
		if !speech {
			e.bufferPreSpeech(chunk)
			return nil
		}
		e.startTurn(chunk)
	} else {
		e.current.append(chunk)
		if speech {
			e.trailingSilence = 0
			e.speechDur += chunk.Duration()
		} else {
			e.trailingSilence += chunk.Duration()
		}
	}

	if e.cfg.MaxTurnDuration > 0 && e.current.Duration() >= e.cfg.MaxTurnDuration {
		return e.finalizeCurrent(ReasonMaxDuration)
	}

	if e.Strategy() == StrategySemantic {
		return e.pushSemantic(ctx)
	}
	return e.pushBaseline()
}

// Flush closes a partially accumulated turn, as on a stop control. The turn
// is returned only when it carries enough speech to be worth transcribing.
func (e *Engine) Flush() *Turn {
	if e.current == nil {
		return nil
	}
	if e.speechDur < e.cfg.MinSpeech {
		e.logger.Debug("flush discarded short turn",
			zap.Duration("speech", e.speechDur))
		e.reset()
		return nil
	}
	return e.finalizeCurrent(ReasonFlush)
}

func (e *Engine) pushBaseline() *Turn {
	if e.current.Duration() >= e.cfg.BufferTarget {
		return e.finalizeCurrent(ReasonBufferTarget)
	}
	if e.trailingSilence >= e.cfg.SilenceTimeout {
		if e.speechDur < e.cfg.MinSpeech {
			// Noise burst followed by silence. Drop it.
			e.logger.Debug("discarding sub-minimum speech burst",
				zap.Duration("speech", e.speechDur))
			e.reset()
			return nil
		}
		return e.finalizeCurrent(ReasonSilence)
	}
	return nil
}

func (e *Engine) pushSemantic(ctx context.Context) *Turn {
	if e.current.Duration() < e.cfg.SemanticMinAudio {
		return nil
	}

	confidence, err := e.scorer.ScoreEndOfTurn(ctx, e.current.Chunks())
	if err != nil {
		// Sticky demotion: the session finishes its lifetime on baseline.
		e.demoted = true
		e.logger.Warn("turn scorer failed, session demoted to baseline", zap.Error(err))
		return e.pushBaseline()
	}

	if confidence >= e.cfg.SemanticThreshold {
		e.logger.Debug("semantic end of turn", zap.Float64("confidence", confidence))
		return e.finalizeCurrent(ReasonSemantic)
	}
	return nil
}

func (e *Engine) startTurn(chunk rtc.AudioChunk) {
	e.current = newTurn(e.sessionID)
	for _, c := range e.preSpeech {
		e.current.append(c)
	}
	e.preSpeech = nil
	e.preSpeechDur = 0
	e.current.append(chunk)
	e.speechDur = chunk.Duration()
	e.trailingSilence = 0
}

func (e *Engine) bufferPreSpeech(chunk rtc.AudioChunk) {
	if e.cfg.PreSpeech <= 0 {
		return
	}
	e.preSpeech = append(e.preSpeech, chunk)
	e.preSpeechDur += chunk.Duration()
	for len(e.preSpeech) > 0 && e.preSpeechDur > e.cfg.PreSpeech {
		e.preSpeechDur -= e.preSpeech[0].Duration()
		e.preSpeech = e.preSpeech[1:]
	}
}

func (e *Engine) finalizeCurrent(reason FinalizeReason) *Turn {
	t := e.current
	t.finalize(reason)
	e.reset()
	e.logger.Debug("turn finalized",
		zap.String("turn_id", t.ID),
		zap.String("reason", string(reason)),
		zap.Duration("duration", t.Duration()),
		zap.Int("chunks", len(t.Chunks())))
	return t
}

func (e *Engine) reset() {
	e.current = nil
	e.speechDur = 0
	e.trailingSilence = 0
}
