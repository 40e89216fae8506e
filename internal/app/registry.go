package app

import (
	"sort"
	"sync"

	"github.com/dkeye/one2one/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry indexes registered sessions by connection id and by display name.
// Eviction of a previous name holder is the orchestrator's job; the registry
// only keeps both indexes consistent.
type Registry struct {
	mu     sync.RWMutex
	byID   map[domain.SessionID]*domain.Session
	byName map[string]*domain.Session
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[domain.SessionID]*domain.Session),
		byName: make(map[string]*domain.Session),
	}
}

// Register inserts s, overwriting any entry with the same id or name.
func (r *Registry) Register(s *domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byID[s.ID]; ok && prev.Name != s.Name && r.byName[prev.Name] == prev {
		delete(r.byName, prev.Name)
	}
	r.byID[s.ID] = s
	r.byName[s.Name] = s
	log.Info().Str("module", "app.registry").Str("sid", string(s.ID)).Str("name", s.Name).Msg("registered session")
}

// Unregister removes the session with id. The name index entry is removed only
// while it still points to that same session.
func (r *Registry) Unregister(id domain.SessionID) (*domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)
	if r.byName[s.Name] == s {
		delete(r.byName, s.Name)
	}
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Str("name", s.Name).Msg("unregistered session")
	return s, true
}

func (r *Registry) ByID(id domain.SessionID) (*domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

func (r *Registry) ByName(name string) (*domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// WaitingFor lists, ordered by id, every session other than except that
// announced name as the callee it waits for.
func (r *Registry) WaitingFor(name string, except domain.SessionID) []*domain.Session {
	if name == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Session
	for _, s := range r.byID {
		if s.CalleeHint == name && s.ID != except {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// SessionDTO is a read-only view for APIs.
type SessionDTO struct {
	ID   domain.SessionID `json:"id"`
	Name string           `json:"name"`
	Peer string           `json:"peer,omitempty"`
}

func (r *Registry) Snapshot() []SessionDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionDTO, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, SessionDTO{ID: s.ID, Name: s.Name, Peer: s.Peer})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
