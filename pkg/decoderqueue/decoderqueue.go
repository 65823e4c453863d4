// Package decoderqueue implements the ordered pending-decoder sequence and
// single "current" slot of spec.md §4.3, mutated only under a short mutex
// never held across decoder I/O. The pending sequence is backed by
// gammazero/deque, a perfect fit for the append/pop-front access pattern
// spec.md describes and a dependency adopted from the retrieval pack's
// drgolem/go-flac/examples/flac2raw module graph.
package decoderqueue

import (
	"sync"

	"github.com/gammazero/deque"

	"github.com/drgolem/gapless/pkg/decoderstate"
)

// Queue holds the ordered sequence of pending DecoderStates plus the one
// currently decoding/rendering. All methods are safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	pending deque.Deque[*decoderstate.State]
	current *decoderstate.State
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends state to the end of the pending sequence.
func (q *Queue) Enqueue(state *decoderstate.State) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending.PushBack(state)
}

// PopNext removes and returns the first pending DecoderState, or nil if
// the pending sequence is empty. It does not touch Current.
func (q *Queue) PopNext() *decoderstate.State {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending.Len() == 0 {
		return nil
	}
	return q.pending.PopFront()
}

// Clear empties the pending sequence without touching Current.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending.Clear()
}

// PendingLen reports how many decoders are waiting, not counting Current.
func (q *Queue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// Current returns the currently decoding/rendering DecoderState, or nil.
func (q *Queue) Current() *decoderstate.State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// SetCurrent replaces the current DecoderState.
func (q *Queue) SetCurrent(state *decoderstate.State) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = state
}
