package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chriscow/voiceloop-go/internal/metrics"
	"github.com/chriscow/voiceloop-go/pkg/ai"
	"github.com/chriscow/voiceloop-go/pkg/ai/llm"
	"github.com/chriscow/voiceloop-go/pkg/ai/stt"
	"github.com/chriscow/voiceloop-go/pkg/ai/tts"
	"github.com/chriscow/voiceloop-go/pkg/echo"
	"github.com/chriscow/voiceloop-go/pkg/rtc"
)

// Sink receives a run's observable side effects in emission order. All
// methods are called from the run's goroutine.
type Sink interface {
	// OnStateChange fires after every state transition.
	OnStateChange(run *Run, state State)
	// OnTranscript delivers the turn's transcript.
	OnTranscript(run *Run, text string)
	// OnResponse delivers the generated response text.
	OnResponse(run *Run, text string)
	// OnOutput delivers one synthesized audio chunk. The chunk has already
	// been appended to the session's echo window.
	OnOutput(run *Run, chunk rtc.AudioChunk)
}

// Config controls coordinator behavior.
type Config struct {
	// StageTimeout bounds each model call.
	StageTimeout time.Duration
	// Retry applies to the transcribe and generate stages. Synthesize is
	// never retried: a transcript and response already exist, so failure
	// degrades to a text-only completion instead.
	Retry ai.RetryConfig
	// Voice and Language are passed to synthesis.
	Voice    string
	Language string
}

// DefaultConfig returns coordinator defaults.
func DefaultConfig() Config {
	return Config{
		StageTimeout: 30 * time.Second,
		Retry:        ai.DefaultRetryConfig,
	}
}

// Coordinator executes pipeline runs against shared model collaborators.
// The collaborators are process-wide handles holding no per-session state;
// one coordinator serves all sessions.
type Coordinator struct {
	cfg     Config
	stt     stt.STT
	llm     llm.LLM
	tts     tts.TTS
	limiter *Limiter
	logger  *zap.Logger
}

// NewCoordinator creates a coordinator over shared model handles.
func NewCoordinator(cfg Config, s stt.STT, l llm.LLM, t tts.TTS, limiter *Limiter, logger *zap.Logger) (*Coordinator, error) {
	if s == nil || l == nil || t == nil {
		return nil, fmt.Errorf("all three model collaborators are required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("limiter is required")
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 30 * time.Second
	}
	return &Coordinator{
		cfg:     cfg,
		stt:     s,
		llm:     l,
		tts:     t,
		limiter: limiter,
		logger:  logger.Named("pipeline"),
	}, nil
}

// Execute drives one run to a terminal state. history is the session's
// conversation context; window is the session's echo window, nil in DIRECT
// mode. Execute blocks until the run terminates; callers run it on its own
// goroutine so ingestion never waits on a model call.
//
// A cancelled run stops consuming collaborator results at its cancellation
// point: late results are discarded, and no output is emitted or appended
// to the echo window afterwards.
func (c *Coordinator) Execute(ctx context.Context, run *Run, history []llm.Message, window *echo.Window, sink Sink) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	run.mu.Lock()
	run.cancel = cancel
	early := run.cancelled
	run.mu.Unlock()
	if early {
		// A barge-in can land before this goroutine registers the
		// cancel func; honor the latched request before any stage runs.
		cancel()
		c.terminate(run, StateCancelled, sink)
		return
	}

	if err := c.limiter.Acquire(runCtx); err != nil {
		if errors.Is(err, context.Canceled) {
			c.terminate(run, StateCancelled, sink)
			return
		}
		c.finishError(run, err, sink)
		return
	}
	defer c.limiter.Release()

	transcript, err := c.transcribe(runCtx, run, sink)
	if err != nil {
		c.finishError(run, err, sink)
		return
	}
	run.Turn.Transcript = transcript
	sink.OnTranscript(run, transcript)

	response, err := c.generate(runCtx, run, history, transcript, sink)
	if err != nil {
		c.finishError(run, err, sink)
		return
	}
	sink.OnResponse(run, response)

	c.synthesizeAndStream(runCtx, run, response, window, sink)
}

func (c *Coordinator) transcribe(ctx context.Context, run *Run, sink Sink) (string, error) {
	if !run.setState(StateTranscribing) {
		return "", context.Canceled
	}
	sink.OnStateChange(run, StateTranscribing)

	var transcript string
	start := time.Now()
	err := ai.Retry(ctx, c.cfg.Retry, func() error {
		stageCtx, cancel := context.WithTimeout(ctx, c.cfg.StageTimeout)
		defer cancel()
		result, err := c.stt.Transcribe(stageCtx, run.Turn.Chunks())
		if err != nil {
			return c.classifyStage(ctx, err)
		}
		transcript = result.Text
		return nil
	})
	metrics.StageDuration.WithLabelValues("transcribe").Observe(time.Since(start).Seconds())
	return transcript, err
}

func (c *Coordinator) generate(ctx context.Context, run *Run, history []llm.Message, transcript string, sink Sink) (string, error) {
	if !run.setState(StateGenerating) {
		return "", context.Canceled
	}
	sink.OnStateChange(run, StateGenerating)

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: transcript})

	var response string
	start := time.Now()
	err := ai.Retry(ctx, c.cfg.Retry, func() error {
		stageCtx, cancel := context.WithTimeout(ctx, c.cfg.StageTimeout)
		defer cancel()
		resp, err := c.llm.Chat(stageCtx, llm.ChatRequest{Messages: messages})
		if err != nil {
			return c.classifyStage(ctx, err)
		}
		response = resp.Message.Content
		return nil
	})
	metrics.StageDuration.WithLabelValues("generate").Observe(time.Since(start).Seconds())
	return response, err
}

func (c *Coordinator) synthesizeAndStream(ctx context.Context, run *Run, response string, window *echo.Window, sink Sink) {
	if !run.setState(StateSynthesizing) {
		return
	}
	sink.OnStateChange(run, StateSynthesizing)

	stageCtx, cancel := context.WithTimeout(ctx, c.cfg.StageTimeout)
	defer cancel()

	start := time.Now()
	chunks, err := c.tts.Synthesize(stageCtx, tts.SynthesizeRequest{
		Text:     response,
		Voice:    c.cfg.Voice,
		Language: c.cfg.Language,
	})
	metrics.StageDuration.WithLabelValues("synthesize").Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			c.terminate(run, StateCancelled, sink)
			return
		}
		// The transcript and response already exist; complete degraded
		// with the text the peer already received rather than failing.
		c.logger.Warn("synthesis failed, completing with text-only fallback",
			zap.String("run_id", run.ID), zap.Error(err))
		run.markDegraded()
		c.terminate(run, StateCompleted, sink)
		return
	}

	if !run.setState(StateStreamingOutput) {
		return
	}
	sink.OnStateChange(run, StateStreamingOutput)

	for chunk := range chunks {
		// Cancellation point: once cancelled, nothing further is emitted
		// and the echo window is left untouched.
		if ctx.Err() != nil {
			c.terminate(run, StateCancelled, sink)
			return
		}
		if window != nil {
			window.Append(chunk, time.Now())
		}
		run.countOutput()
		sink.OnOutput(run, chunk)
	}

	if ctx.Err() != nil {
		c.terminate(run, StateCancelled, sink)
		return
	}
	c.terminate(run, StateCompleted, sink)
}

func (c *Coordinator) finishError(run *Run, err error, sink Sink) {
	if errors.Is(err, context.Canceled) {
		c.terminate(run, StateCancelled, sink)
		return
	}
	run.mu.Lock()
	run.err = err
	run.mu.Unlock()
	c.terminate(run, StateFailed, sink)
}

func (c *Coordinator) terminate(run *Run, state State, sink Sink) {
	if run.setState(state) {
		sink.OnStateChange(run, state)
	}
}

// classifyStage maps a raw stage failure for retry handling. A deadline
// overrun on the stage context (not a run cancellation) becomes a model
// timeout, which the retry policy treats as recoverable.
func (c *Coordinator) classifyStage(runCtx context.Context, err error) error {
	if runCtx.Err() != nil {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ai.NewTimeoutError(err, "stage deadline exceeded")
	}
	return err
}
