package app

import (
	"sync"

	"github.com/dkeye/one2one/internal/app/call"
	"github.com/dkeye/one2one/internal/domain"
)

// CallRegistry maps a session to the pipeline it takes part in.
// Both members of a pair map to the same *call.Pipeline.
type CallRegistry struct {
	mu    sync.RWMutex
	calls map[domain.SessionID]*call.Pipeline
}

func NewCallRegistry() *CallRegistry {
	return &CallRegistry{calls: make(map[domain.SessionID]*call.Pipeline)}
}

func (r *CallRegistry) Bind(sid domain.SessionID, p *call.Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[sid] = p
}

func (r *CallRegistry) Get(sid domain.SessionID) (*call.Pipeline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.calls[sid]
	return p, ok
}

func (r *CallRegistry) Remove(sid domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, sid)
}

// RemoveIf removes sid only while it still maps to p.
func (r *CallRegistry) RemoveIf(sid domain.SessionID, p *call.Pipeline) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.calls[sid]; ok && cur == p {
		delete(r.calls, sid)
		return true
	}
	return false
}

// Owns reports whether sid is currently bound to p.
func (r *CallRegistry) Owns(sid domain.SessionID, p *call.Pipeline) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.calls[sid] == p
}

func (r *CallRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// Pipelines returns every distinct live pipeline.
func (r *CallRegistry) Pipelines() []*call.Pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[*call.Pipeline]struct{}, len(r.calls))
	out := make([]*call.Pipeline, 0, len(r.calls))
	for _, p := range r.calls {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func (r *CallRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.calls)
}
