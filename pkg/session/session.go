// Package session owns per-connection state: capture mode selection, the
// echo filter, turn segmentation, and dispatch of finalized turns into the
// pipeline. Each session is a single goroutine that exclusively holds its
// state; the gateway talks to it only through method calls that hand work
// to that goroutine.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chriscow/voiceloop-go/internal/metrics"
	"github.com/chriscow/voiceloop-go/pkg/ai"
	"github.com/chriscow/voiceloop-go/pkg/ai/llm"
	"github.com/chriscow/voiceloop-go/pkg/echo"
	"github.com/chriscow/voiceloop-go/pkg/pipeline"
	"github.com/chriscow/voiceloop-go/pkg/rtc"
	"github.com/chriscow/voiceloop-go/pkg/turn"
)

// Text event roles delivered to the peer.
const (
	RoleTranscript = "transcript"
	RoleResponse   = "response"
)

// falseAdmissionSimilarity is the transcript/response overlap at which an
// admitted turn is treated as echo that slipped past correlation.
const falseAdmissionSimilarity = 0.8

// Emitter delivers a session's outbound events to the peer. Implementations
// must be safe for concurrent use; pipeline runs call it from their own
// goroutines. Close is invoked when the session tears itself down (idle
// timeout), not when the gateway initiated the teardown.
type Emitter interface {
	SendAudio(chunk rtc.AudioChunk) error
	SendText(role, text string) error
	SendError(code, message string) error
	Close() error
}

// Config controls session behavior.
type Config struct {
	Mode               Mode
	ModeSwitchCooldown time.Duration
	IdleTimeout        time.Duration // zero disables idle reaping

	SystemPrompt string
	HistoryLimit int // max retained history messages, system prompt excluded

	Turn           turn.Config
	Echo           echo.Config
	EchoWindowSpan time.Duration
}

// DefaultConfig returns session defaults.
func DefaultConfig() Config {
	return Config{
		Mode:               ModeAuto,
		ModeSwitchCooldown: 2 * time.Second,
		IdleTimeout:        5 * time.Minute,
		HistoryLimit:       16,
		Turn:               turn.DefaultConfig(),
		Echo:               echo.DefaultConfig(),
		EchoWindowSpan:     5 * time.Second,
	}
}

type ctrlKind int

const (
	ctrlStart ctrlKind = iota
	ctrlStop
	ctrlSetMode
	ctrlParticipants
)

type ctrlMsg struct {
	kind         ctrlKind
	mode         Mode
	participants int
	done         chan struct{}
}

// Session is the per-connection actor. All state below mu is mutated only
// on the session goroutine or under mu where pipeline-run callbacks need it.
type Session struct {
	ID string

	cfg         Config
	logger      *zap.Logger
	emitter     Emitter
	coordinator *pipeline.Coordinator

	engine   *turn.Engine
	window   *echo.Window
	detector *echo.Detector

	ctx    context.Context
	cancel context.CancelFunc

	audioCh chan rtc.AudioChunk
	ctrlCh  chan ctrlMsg
	done    chan struct{}

	// Goroutine-owned; read via accessors under mu.
	effective      Mode
	participants   int
	lastModeSwitch time.Time
	lastActivity   time.Time
	activeRun      *pipeline.Run

	mu           sync.Mutex
	history      []llm.Message
	lastResponse string

	runs sync.WaitGroup
}

// New creates a session and starts its goroutine. scorer may be nil to force
// baseline segmentation.
func New(id string, cfg Config, coordinator *pipeline.Coordinator, scorer turn.Scorer, emitter Emitter, logger *zap.Logger) *Session {
	if cfg.ModeSwitchCooldown <= 0 {
		cfg.ModeSwitchCooldown = 2 * time.Second
	}
	if cfg.EchoWindowSpan <= 0 {
		cfg.EchoWindowSpan = 5 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 16
	}

	ctx, cancel := context.WithCancel(context.Background())
	log := logger.Named("session").With(zap.String("session_id", id))
	window := echo.NewWindow(cfg.EchoWindowSpan)

	s := &Session{
		ID:           id,
		cfg:          cfg,
		logger:       log,
		emitter:      emitter,
		coordinator:  coordinator,
		engine:       turn.NewEngine(id, cfg.Turn, scorer, logger),
		window:       window,
		detector:     echo.NewDetector(cfg.Echo, window, log),
		ctx:          ctx,
		cancel:       cancel,
		audioCh:      make(chan rtc.AudioChunk),
		ctrlCh:       make(chan ctrlMsg),
		done:         make(chan struct{}),
		effective:    initialMode(cfg.Mode),
		lastActivity: time.Now(),
	}
	go s.loop()
	return s
}

func initialMode(configured Mode) Mode {
	if configured == ModeAuto {
		return ModeDirect
	}
	return configured
}

// PushAudio hands one inbound chunk to the session goroutine. It returns
// once the chunk has been processed, or immediately if the session is gone.
// Segmentation is cheap; model work is dispatched asynchronously, so this
// never waits on a transcribe/generate/synthesize call.
func (s *Session) PushAudio(chunk rtc.AudioChunk) {
	select {
	case s.audioCh <- chunk:
	case <-s.done:
	}
}

// Start marks the beginning of a capture interval.
func (s *Session) Start() { s.control(ctrlMsg{kind: ctrlStart}) }

// Stop flushes the segmentation engine: an accumulated partial turn is
// finalized if it carries enough speech, otherwise dropped.
func (s *Session) Stop() { s.control(ctrlMsg{kind: ctrlStop}) }

// SetMode applies a mode override from the peer or operator.
func (s *Session) SetMode(m Mode) { s.control(ctrlMsg{kind: ctrlSetMode, mode: m}) }

// SetParticipants records the channel's current non-system participant
// count. Under AUTO the capture mode is re-evaluated, subject to cooldown.
func (s *Session) SetParticipants(n int) {
	s.control(ctrlMsg{kind: ctrlParticipants, participants: n})
}

func (s *Session) control(msg ctrlMsg) {
	msg.done = make(chan struct{})
	select {
	case s.ctrlCh <- msg:
		<-msg.done
	case <-s.done:
	}
}

// Mode returns the currently effective capture mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effective
}

// ActiveRun returns the session's current pipeline run, terminal or not,
// or nil if none has started.
func (s *Session) ActiveRun() *pipeline.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRun
}

// Close tears the session down: the active run is cancelled and the
// goroutine exits. Safe to call more than once.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

// Done is closed when the session goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) loop() {
	defer close(s.done)
	defer s.teardown()

	tick := time.NewTicker(idleCheckInterval(s.cfg.IdleTimeout))
	defer tick.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk := <-s.audioCh:
			s.handleAudio(chunk)
		case msg := <-s.ctrlCh:
			s.handleControl(msg)
			close(msg.done)
		case now := <-tick.C:
			if s.cfg.IdleTimeout > 0 && now.Sub(s.lastActivity) > s.cfg.IdleTimeout {
				s.logger.Info("session idle, tearing down",
					zap.Duration("idle_timeout", s.cfg.IdleTimeout))
				if err := s.emitter.Close(); err != nil {
					s.logger.Warn("emitter close failed", zap.Error(err))
				}
				return
			}
		}
	}
}

func idleCheckInterval(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return time.Minute
	}
	interval := timeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	return interval
}

// teardown cancels the active run and waits for its goroutine, so no
// callback fires after the session is gone.
func (s *Session) teardown() {
	s.cancel()
	s.mu.Lock()
	run := s.activeRun
	s.mu.Unlock()
	if run != nil && !run.State().Terminal() {
		run.Cancel()
	}
	s.runs.Wait()
}

func (s *Session) handleAudio(chunk rtc.AudioChunk) {
	s.lastActivity = time.Now()
	metrics.AudioChunksIngested.Inc()

	if s.Mode() == ModeShared {
		if s.detector.Process(chunk, time.Now()) == echo.DiscardEcho {
			metrics.EchoDiscarded.Inc()
			return
		}
	}

	t := s.engine.Push(s.ctx, chunk)
	if t == nil {
		return
	}
	metrics.TurnsFinalized.WithLabelValues(string(t.Reason)).Inc()
	s.dispatch(t)
}

func (s *Session) handleControl(msg ctrlMsg) {
	s.lastActivity = time.Now()
	switch msg.kind {
	case ctrlStart:
		s.logger.Info("capture started")
	case ctrlStop:
		if t := s.engine.Flush(); t != nil {
			metrics.TurnsFinalized.WithLabelValues(string(t.Reason)).Inc()
			s.dispatch(t)
		}
	case ctrlSetMode:
		s.applyModeOverride(msg.mode)
	case ctrlParticipants:
		s.participants = msg.participants
		if s.cfg.Mode == ModeAuto {
			s.evaluateAutoMode()
		}
	}
}

// applyModeOverride handles an explicit set_mode control. Explicit overrides
// take effect immediately; the cooldown only damps AUTO oscillation.
func (s *Session) applyModeOverride(m Mode) {
	s.cfg.Mode = m
	target := m
	if m == ModeAuto {
		target = desiredMode(s.participants)
	}
	if target != s.Mode() {
		s.switchMode(target)
	}
}

func (s *Session) evaluateAutoMode() {
	target := desiredMode(s.participants)
	if target == s.Mode() {
		return
	}
	if since := time.Since(s.lastModeSwitch); since < s.cfg.ModeSwitchCooldown {
		s.logger.Debug("mode switch deferred by cooldown",
			zap.String("target", string(target)),
			zap.Duration("since_last_switch", since))
		return
	}
	s.switchMode(target)
}

func (s *Session) switchMode(target Mode) {
	s.mu.Lock()
	s.effective = target
	s.mu.Unlock()
	s.lastModeSwitch = time.Now()
	metrics.ModeSwitches.WithLabelValues(string(target)).Inc()
	s.logger.Info("capture mode switched",
		zap.String("mode", string(target)),
		zap.Int("participants", s.participants))
}

// dispatch starts a pipeline run for a finalized turn. A run still in
// flight is cancelled first: the speaker has moved on, so the stale
// response must not play.
func (s *Session) dispatch(t *turn.Turn) {
	s.mu.Lock()
	prev := s.activeRun
	s.mu.Unlock()
	if prev != nil && !prev.State().Terminal() {
		s.logger.Info("barge-in, cancelling active run", zap.String("run_id", prev.ID))
		metrics.BargeIns.Inc()
		prev.Cancel()
	}

	run := pipeline.NewRun(t, s.logger)
	s.mu.Lock()
	s.activeRun = run
	s.mu.Unlock()
	metrics.RunsActive.Inc()

	history := s.historySnapshot()
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.coordinator.Execute(s.ctx, run, history, s.window, s)
	}()
}

func (s *Session) historySnapshot() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]llm.Message, 0, len(s.history)+1)
	if s.cfg.SystemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: s.cfg.SystemPrompt})
	}
	return append(msgs, s.history...)
}

func (s *Session) appendHistory(msg llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msg)
	if over := len(s.history) - s.cfg.HistoryLimit; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}

// OnStateChange implements pipeline.Sink. Only the session's current run
// may toggle the echo gate; a barged-in run reaching its terminal state
// must not drop the gate out from under its successor.
func (s *Session) OnStateChange(run *pipeline.Run, state pipeline.State) {
	s.mu.Lock()
	current := s.activeRun == run
	s.mu.Unlock()

	switch {
	case state == pipeline.StateStreamingOutput:
		if current {
			s.detector.SetStreaming(true, time.Now())
		}
	case state.Terminal():
		if current {
			s.detector.SetStreaming(false, time.Now())
		}
		metrics.RunsActive.Dec()
		metrics.RunsTerminal.WithLabelValues(state.String()).Inc()
		if err := run.Err(); errors.Is(err, ai.ErrResourceExhausted) {
			metrics.RunsRejected.Inc()
			if serr := s.emitter.SendError("resource_exhausted", "pipeline busy, turn rejected"); serr != nil {
				s.logger.Warn("error event delivery failed", zap.Error(serr))
			}
		}
	}
}

// OnTranscript implements pipeline.Sink.
func (s *Session) OnTranscript(run *pipeline.Run, text string) {
	if err := s.emitter.SendText(RoleTranscript, text); err != nil {
		s.logger.Warn("transcript delivery failed", zap.Error(err))
	}
	s.appendHistory(llm.Message{Role: llm.RoleUser, Content: text})

	// An admitted turn that closely repeats the last synthesized response
	// is echo the correlation layer missed.
	s.mu.Lock()
	last := s.lastResponse
	s.mu.Unlock()
	if s.Mode() == ModeShared && last != "" {
		if sim := echo.TranscriptSimilarity(text, last); sim >= falseAdmissionSimilarity {
			s.logger.Warn("transcript repeats recent response, treating as echo false admission",
				zap.Float64("similarity", sim))
			s.detector.FeedbackFalseAdmission()
		}
	}
}

// OnResponse implements pipeline.Sink.
func (s *Session) OnResponse(run *pipeline.Run, text string) {
	if err := s.emitter.SendText(RoleResponse, text); err != nil {
		s.logger.Warn("response delivery failed", zap.Error(err))
	}
	s.appendHistory(llm.Message{Role: llm.RoleAssistant, Content: text})
	s.mu.Lock()
	s.lastResponse = text
	s.mu.Unlock()
}

// OnOutput implements pipeline.Sink.
func (s *Session) OnOutput(run *pipeline.Run, chunk rtc.AudioChunk) {
	if err := s.emitter.SendAudio(chunk); err != nil {
		s.logger.Warn("audio delivery failed", zap.Error(err))
	}
}
