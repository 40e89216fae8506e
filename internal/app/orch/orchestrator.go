// Package orch drives the call state machine. All session, call and
// candidate state is mutated from a single loop; engine work runs in
// goroutines and posts its result back to that loop.
package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/one2one/internal/app"
	"github.com/dkeye/one2one/internal/app/call"
	"github.com/dkeye/one2one/internal/core"
	"github.com/dkeye/one2one/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrStopped = errors.New("orchestrator stopped")

type Config struct {
	// RecordsPath prefixes every recorder URI, e.g. "file:///tmp/one2one_records/".
	RecordsPath string
	Pipeline    call.Config
}

type Orchestrator struct {
	Sessions   *app.Registry
	Calls      *app.CallRegistry
	Candidates *app.CandidateBuffer
	Engine     core.MediaEngine
	Notifier   core.Notifier
	Config     Config

	tasks chan func()
	done  chan struct{}
	ctx   context.Context
	now   func() time.Time
}

func New(engine core.MediaEngine, notifier core.Notifier, cfg Config) *Orchestrator {
	return &Orchestrator{
		Sessions:   app.NewRegistry(),
		Calls:      app.NewCallRegistry(),
		Candidates: app.NewCandidateBuffer(),
		Engine:     engine,
		Notifier:   notifier,
		Config:     cfg,
		tasks:      make(chan func(), 256),
		done:       make(chan struct{}),
		ctx:        context.Background(),
		now:        time.Now,
	}
}

// Run processes posted work until ctx is done, then releases every live pipeline.
func (o *Orchestrator) Run(ctx context.Context) {
	o.ctx = ctx
	log.Info().Str("module", "orch").Msg("orchestrator started")
	for {
		select {
		case fn := <-o.tasks:
			fn()
		case <-ctx.Done():
			o.shutdown()
			close(o.done)
			return
		}
	}
}

func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Dispatch queues an inbound message from sid.
func (o *Orchestrator) Dispatch(sid domain.SessionID, msg core.Message) {
	o.post(func() { o.handle(sid, msg) })
}

// Disconnect queues the teardown of a closed connection.
func (o *Orchestrator) Disconnect(sid domain.SessionID) {
	o.post(func() { o.disconnect(sid) })
}

// Sync waits until everything queued before it has been handled.
func (o *Orchestrator) Sync() error {
	return o.exec(func() {})
}

// Status queries engine diagnostics directly; it touches no session state.
func (o *Orchestrator) Status(ctx context.Context) (core.EngineInfo, error) {
	return o.Engine.Info(ctx)
}

// SessionList snapshots the registered sessions from the loop.
func (o *Orchestrator) SessionList() ([]app.SessionDTO, error) {
	var out []app.SessionDTO
	err := o.exec(func() { out = o.Sessions.Snapshot() })
	return out, err
}

func (o *Orchestrator) post(fn func()) bool {
	select {
	case o.tasks <- fn:
		return true
	case <-o.done:
		return false
	}
}

// exec runs fn on the loop and waits for it. Never call it from the loop.
func (o *Orchestrator) exec(fn func()) error {
	finished := make(chan struct{})
	if !o.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-o.done:
		return ErrStopped
	}
}

func (o *Orchestrator) handle(sid domain.SessionID, msg core.Message) {
	switch msg.ID {
	case core.KindRegister:
		o.register(sid, msg)
	case core.KindCall:
		o.call(sid, msg)
	case core.KindIncomingCallResponse:
		o.incomingCallResponse(sid, msg)
	case core.KindLoopbackCall:
		o.loopbackCall(sid, msg)
	case core.KindStop:
		o.stop(sid)
	case core.KindOnICECandidate:
		o.onICECandidate(sid, msg)
	case core.KindStatus:
		o.status(sid)
	case core.KindNoop:
	default:
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("kind", msg.ID).Msg("invalid message")
		_ = o.notify(sid, core.NewNotice(core.KindError, "Invalid message "+string(msg.Raw)))
	}
}

// notify is best-effort: failures are logged and handed back only so that a
// caller which must react (incomingCall) can do so.
func (o *Orchestrator) notify(sid domain.SessionID, msg core.Outbound) error {
	if err := o.Notifier.Notify(sid, msg); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("kind", msg.MessageID()).Msg("delivery failed")
		return domain.DeliveryError(err)
	}
	return nil
}

func (o *Orchestrator) hooks() call.Hooks {
	return call.Hooks{
		Serialize: o.exec,
		Drain: func(sid domain.SessionID, ep core.Endpoint) {
			n, err := o.Candidates.DrainTo(sid, ep)
			if err != nil {
				log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("apply buffered candidates")
			}
			if n > 0 {
				log.Debug().Str("module", "orch").Str("sid", string(sid)).Int("count", n).Msg("drained candidates")
			}
		},
		Expired: func(p *call.Pipeline) {
			if !o.post(func() { o.expire(p) }) {
				p.Release()
			}
		},
	}
}

func (o *Orchestrator) shutdown() {
	pipelines := o.Calls.Pipelines()
	for _, p := range pipelines {
		p.Release()
	}
	o.Calls.Clear()
	log.Info().Str("module", "orch").Int("pipelines", len(pipelines)).Msg("orchestrator stopped")
}

// userLog tags e with the session identity and its opts.user fields.
func userLog(e *zerolog.Event, s *domain.Session) *zerolog.Event {
	return e.Str("module", "orch").Str("sid", string(s.ID)).Str("name", s.Name).Fields(map[string]any(s.Opts.User()))
}
