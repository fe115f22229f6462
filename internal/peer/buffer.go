package peer

import (
	"sync"

	"github.com/aryan25798/NovaChat-sub003/internal/signal"
)

// CandidateBuffer queues remote ICE candidates that arrive before the remote
// description is set. Candidates are flushed once, in arrival order. The
// buffer is scoped to a single call attempt and discarded with it, so stale
// candidates never leak into a later call.
type CandidateBuffer struct {
	mu      sync.Mutex
	pending []signal.Candidate
}

// Push appends unconditionally.
func (b *CandidateBuffer) Push(cand signal.Candidate) {
	b.mu.Lock()
	b.pending = append(b.pending, cand)
	b.mu.Unlock()
}

// Flush applies every buffered candidate via apply, in arrival order, and
// clears the buffer. Apply errors are returned after the full drain; a bad
// candidate must not block the ones behind it.
func (b *CandidateBuffer) Flush(apply func(signal.Candidate) error) (int, error) {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	var firstErr error
	for _, cand := range pending {
		if err := apply(cand); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return len(pending), firstErr
}

// Len reports the number of buffered candidates.
func (b *CandidateBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
