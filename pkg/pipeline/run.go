// Package pipeline drives a finalized turn through the sequential
// transcribe→generate→synthesize model chain, with cancellation, bounded
// retries, and a process-wide concurrency cap.
package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chriscow/voiceloop-go/pkg/turn"
)

// State is a pipeline run's position in its lifecycle.
type State int32

const (
	StateQueued State = iota
	StateTranscribing
	StateGenerating
	StateSynthesizing
	StateStreamingOutput
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateTranscribing:
		return "transcribing"
	case StateGenerating:
		return "generating"
	case StateSynthesizing:
		return "synthesizing"
	case StateStreamingOutput:
		return "streaming_output"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Run is one execution of the model chain for one finalized turn.
// A session holds at most one non-terminal run at any instant.
type Run struct {
	ID        string
	SessionID string
	Turn      *turn.Turn

	logger *zap.Logger

	mu       sync.Mutex
	state    State
	err      error
	degraded bool
	outputs  int

	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}
	doneOnce  sync.Once
}

// NewRun creates a run for a finalized turn.
func NewRun(t *turn.Turn, logger *zap.Logger) *Run {
	r := &Run{
		ID:        uuid.NewString(),
		SessionID: t.SessionID,
		Turn:      t,
		done:      make(chan struct{}),
	}
	r.logger = logger.Named("run").With(
		zap.String("run_id", r.ID),
		zap.String("session_id", r.SessionID))
	return r
}

// State returns the run's current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the failure that terminated the run, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Degraded reports whether the run completed with a text-only fallback
// because synthesis failed.
func (r *Run) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

// Outputs reports how many audio chunks the run emitted.
func (r *Run) Outputs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outputs
}

// Cancel requests cooperative cancellation: barge-in or session teardown.
// Safe to call at any time, including before Execute has registered the
// run's cancel func and after the run terminates. A Cancel that lands
// before registration is latched and honored when the run starts.
func (r *Run) Cancel() {
	r.mu.Lock()
	r.cancelled = true
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// setState moves the run forward. Transitions out of a terminal state are
// ignored, which guarantees exactly one terminal-transition log entry.
func (r *Run) setState(to State) bool {
	r.mu.Lock()
	from := r.state
	if from.Terminal() {
		r.mu.Unlock()
		return false
	}
	r.state = to
	r.mu.Unlock()

	if to.Terminal() {
		r.logger.Info("run reached terminal state",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
		r.doneOnce.Do(func() { close(r.done) })
	} else {
		r.logger.Debug("run state transition",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
	return true
}

func (r *Run) markDegraded() {
	r.mu.Lock()
	r.degraded = true
	r.mu.Unlock()
}

func (r *Run) countOutput() {
	r.mu.Lock()
	r.outputs++
	r.mu.Unlock()
}
