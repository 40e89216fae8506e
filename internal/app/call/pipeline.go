// Package call builds and tears down the engine-side resources of one call:
// a pair of participants or a single loopback participant.
package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/one2one/internal/app/telemetry"
	"github.com/dkeye/one2one/internal/core"
	"github.com/dkeye/one2one/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultAutoRelease = time.Hour

var (
	ErrReleased        = errors.New("pipeline released")
	ErrUnknownEndpoint = errors.New("no endpoint for session")
)

type Kind int

const (
	KindPair Kind = iota
	KindLoopback
)

type Role string

const (
	RoleCaller   Role = "caller"
	RoleCallee   Role = "callee"
	RoleLoopback Role = "loopback"
)

// Participant describes one session taking part in a pipeline.
type Participant struct {
	SID         domain.SessionID
	Name        string
	Role        Role
	RecorderURI string
	// Fields are merged into every log record about this participant.
	Fields map[string]any
}

type Config struct {
	AutoRelease   time.Duration
	StatsInterval time.Duration
	GatherTimeout time.Duration
}

// Hooks connect a pipeline to the control flow that owns session state.
type Hooks struct {
	// Serialize runs fn on the owning control flow and waits for it.
	Serialize func(fn func()) error
	// Drain applies candidates buffered for sid to ep. It always runs inside Serialize.
	Drain func(sid domain.SessionID, ep core.Endpoint)
	// Expired is called from the auto-release timer goroutine.
	Expired func(p *Pipeline)
}

// Pipeline is the set of engine resources implementing one active call.
// Ownership is joint: a Release from either participant's teardown path
// releases it for both.
type Pipeline struct {
	kind         Kind
	engine       core.MediaEngine
	notifier     core.Notifier
	cfg          Config
	hooks        Hooks
	participants []Participant
	bandwidth    int

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	media     core.MediaPipeline
	endpoints map[domain.SessionID]core.Endpoint
	recorders []core.Recorder
	unsubs    []func()
	poller    *telemetry.Poller
	relay     *telemetry.Relay
	timer     *time.Timer

	released    atomic.Bool
	releaseOnce sync.Once
}

// NewPair prepares a pipeline for caller and callee. Nothing is allocated until Build.
func NewPair(engine core.MediaEngine, notifier core.Notifier, cfg Config, hooks Hooks, caller, callee Participant, bandwidth int) *Pipeline {
	caller.Role, callee.Role = RoleCaller, RoleCallee
	return newPipeline(KindPair, engine, notifier, cfg, hooks, bandwidth, caller, callee)
}

// NewLoopback prepares a pipeline whose single endpoint is connected to itself.
func NewLoopback(engine core.MediaEngine, notifier core.Notifier, cfg Config, hooks Hooks, p Participant) *Pipeline {
	p.Role = RoleLoopback
	return newPipeline(KindLoopback, engine, notifier, cfg, hooks, 0, p)
}

func newPipeline(kind Kind, engine core.MediaEngine, notifier core.Notifier, cfg Config, hooks Hooks, bandwidth int, parts ...Participant) *Pipeline {
	if cfg.AutoRelease <= 0 {
		cfg.AutoRelease = DefaultAutoRelease
	}
	if hooks.Serialize == nil {
		hooks.Serialize = func(fn func()) error { fn(); return nil }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		kind:         kind,
		engine:       engine,
		notifier:     notifier,
		cfg:          cfg,
		hooks:        hooks,
		participants: parts,
		bandwidth:    bandwidth,
		ctx:          ctx,
		cancel:       cancel,
		endpoints:    make(map[domain.SessionID]core.Endpoint, len(parts)),
	}
}

func (p *Pipeline) Kind() Kind { return p.kind }

func (p *Pipeline) Participants() []Participant { return p.participants }

// Other returns the participant that is not sid, if any.
func (p *Pipeline) Other(sid domain.SessionID) (Participant, bool) {
	for _, part := range p.participants {
		if part.SID != sid {
			return part, true
		}
	}
	return Participant{}, false
}

func (p *Pipeline) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.media == nil {
		return "unknown"
	}
	return p.media.ID()
}

func (p *Pipeline) Released() bool { return p.released.Load() }

// Endpoint returns sid's endpoint once it is reachable for direct candidate delivery.
func (p *Pipeline) Endpoint(sid domain.SessionID) (core.Endpoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released.Load() {
		return nil, false
	}
	ep, ok := p.endpoints[sid]
	return ep, ok
}

// Release tears everything down. It is idempotent and safe to call
// concurrently with Build; late callbacks observe Released and do nothing.
func (p *Pipeline) Release() {
	p.releaseOnce.Do(func() {
		p.mu.Lock()
		p.released.Store(true)
		p.cancel()
		if p.timer != nil {
			p.timer.Stop()
		}
		if p.poller != nil {
			p.poller.Stop()
		}
		if p.relay != nil {
			p.relay.Close()
		}
		unsubs := p.unsubs
		recorders := p.recorders
		media := p.media
		p.unsubs, p.recorders = nil, nil
		clear(p.endpoints)
		p.mu.Unlock()

		for _, unsub := range unsubs {
			unsub()
		}
		for _, rec := range recorders {
			if err := rec.Stop(); err != nil {
				log.Warn().Err(err).Str("module", "call").Str("recorder", rec.ID()).Msg("stop recorder")
			}
		}
		if media != nil {
			if err := media.Release(); err != nil {
				log.Warn().Err(err).Str("module", "call").Str("pipeline", media.ID()).Msg("release pipeline")
			}
			log.Info().Str("module", "call").Str("pipeline", media.ID()).Msg("pipeline released")
		}
	})
}

// adopt runs fn under the lock unless the pipeline is already released.
func (p *Pipeline) adopt(fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released.Load() {
		return false
	}
	fn()
	return true
}
