package orch

import (
	"github.com/dkeye/one2one/internal/core"
	"github.com/dkeye/one2one/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) register(sid domain.SessionID, msg core.Message) {
	s, err := domain.NewSession(sid, msg.Name, msg.Callee, msg.Opts)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("kms user register error")
		_ = o.notify(sid, core.RegisterRejected(err.Error()))
		return
	}

	// A connection registering again gives up whatever call it had.
	if _, ok := o.Sessions.ByID(sid); ok {
		o.stop(sid)
	}
	if prev, ok := o.Sessions.ByName(s.Name); ok && prev.ID != sid {
		o.evict(prev)
	}

	o.Sessions.Register(s)
	if err := o.notify(sid, core.RegisterAccepted()); err != nil {
		return
	}
	userLog(log.Info(), s).Str("callee", s.CalleeHint).Msg("kms user registered")

	for _, waiting := range o.Sessions.WaitingFor(s.Name, sid) {
		_ = o.notify(waiting.ID, core.NewNotice(core.KindCalleeReady, ""))
	}
	if s.CalleeHint != "" && s.CalleeHint != s.Name {
		if _, ok := o.Sessions.ByName(s.CalleeHint); ok {
			_ = o.notify(sid, core.NewNotice(core.KindCalleeReady, ""))
		}
	}
}

// evict removes the previous holder of a name after telling it so.
func (o *Orchestrator) evict(prev *domain.Session) {
	_ = o.notify(prev.ID, core.NewNotice(core.KindUnregister, ""))
	o.stop(prev.ID)
	o.Sessions.Unregister(prev.ID)
	o.Candidates.Clear(prev.ID)
	userLog(log.Info(), prev).Msg("kms user evicted")
}

func (o *Orchestrator) disconnect(sid domain.SessionID) {
	o.stop(sid)
	s, ok := o.Sessions.Unregister(sid)
	o.Candidates.Clear(sid)
	if ok {
		userLog(log.Info(), s).Msg("kms user unregistered")
	}
}
