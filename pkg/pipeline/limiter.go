package pipeline

import (
	"context"
	"sync"

	"github.com/chriscow/voiceloop-go/pkg/ai"
)

// OverflowPolicy decides what happens to a finalized turn arriving while
// the process-wide run cap is saturated.
type OverflowPolicy string

const (
	// PolicyReject fails the acquisition with ErrResourceExhausted.
	PolicyReject OverflowPolicy = "reject"
	// PolicyQueue waits for a slot, up to a bounded queue depth.
	PolicyQueue OverflowPolicy = "queue"
)

// Limiter bounds the number of concurrently executing pipeline runs across
// all sessions so model-service load stays predictable.
type Limiter struct {
	sem    chan struct{}
	policy OverflowPolicy

	mu       sync.Mutex
	queued   int
	maxQueue int
}

// NewLimiter creates a limiter for max concurrent runs. queueDepth bounds
// waiting acquisitions under PolicyQueue and is ignored under PolicyReject.
func NewLimiter(max int, policy OverflowPolicy, queueDepth int) *Limiter {
	if max <= 0 {
		max = 4
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	return &Limiter{
		sem:      make(chan struct{}, max),
		policy:   policy,
		maxQueue: queueDepth,
	}
}

// Acquire claims a run slot. Under PolicyReject a saturated limiter fails
// immediately with ErrResourceExhausted; under PolicyQueue the caller waits
// unless the queue is already at depth. A turn is never silently dropped:
// the caller always gets a slot or an error to signal back.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	default:
	}

	if l.policy != PolicyQueue {
		return ai.ErrResourceExhausted
	}

	l.mu.Lock()
	if l.queued >= l.maxQueue {
		l.mu.Unlock()
		return ai.ErrResourceExhausted
	}
	l.queued++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.queued--
		l.mu.Unlock()
	}()

	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a run slot.
func (l *Limiter) Release() {
	select {
	case <-l.sem:
	default:
		// Release without acquire is a caller bug; don't deadlock on it.
	}
}

// InFlight reports how many slots are currently held.
func (l *Limiter) InFlight() int {
	return len(l.sem)
}
