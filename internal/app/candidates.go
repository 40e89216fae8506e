package app

import (
	"errors"
	"sync"

	"github.com/dkeye/one2one/internal/core"
	"github.com/dkeye/one2one/internal/domain"
)

// CandidateBuffer keeps remote ICE candidates that arrived before the
// session's endpoint could take them, in arrival order.
type CandidateBuffer struct {
	mu     sync.Mutex
	queues map[domain.SessionID][]core.Candidate
}

func NewCandidateBuffer() *CandidateBuffer {
	return &CandidateBuffer{queues: make(map[domain.SessionID][]core.Candidate)}
}

func (b *CandidateBuffer) Enqueue(sid domain.SessionID, c core.Candidate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[sid] = append(b.queues[sid], c)
}

// DrainTo applies every buffered candidate to ep in arrival order and leaves
// the queue empty. A failing candidate does not stop the rest.
func (b *CandidateBuffer) DrainTo(sid domain.SessionID, ep core.Endpoint) (int, error) {
	b.mu.Lock()
	pending := b.queues[sid]
	if _, ok := b.queues[sid]; ok {
		b.queues[sid] = nil
	}
	b.mu.Unlock()

	var errs []error
	for _, c := range pending {
		if err := ep.AddICECandidate(c); err != nil {
			errs = append(errs, err)
		}
	}
	return len(pending), errors.Join(errs...)
}

// Clear drops everything buffered for sid.
func (b *CandidateBuffer) Clear(sid domain.SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, sid)
}

func (b *CandidateBuffer) Len(sid domain.SessionID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[sid])
}
