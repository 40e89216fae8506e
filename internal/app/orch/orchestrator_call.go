package orch

import (
	"net/url"
	"strconv"
	"time"

	"github.com/dkeye/one2one/internal/app/call"
	"github.com/dkeye/one2one/internal/core"
	"github.com/dkeye/one2one/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	msgDeclined = "user declined"
	msgSelfCall = "cannot call yourself"
	msgReset    = "reset communication"
	msgHangUp   = "remote user hanged out"
)

type pairResult struct {
	callerAnswer string
	calleeAnswer string
	err          error
}

func (o *Orchestrator) call(sid domain.SessionID, msg core.Message) {
	o.Candidates.Clear(sid)
	caller, ok := o.Sessions.ByID(sid)
	if !ok {
		return
	}
	callee, ok := o.Sessions.ByName(msg.To)
	if !ok {
		err := domain.CalleeNotFound(msg.To)
		userLog(log.Info(), caller).Err(err).Msg("call rejected")
		_ = o.notify(sid, core.CallRejected(err.Error()))
		return
	}
	if callee.ID == sid {
		_ = o.notify(sid, core.CallRejected(msgSelfCall))
		return
	}
	from := msg.From
	if from == "" {
		from = caller.Name
	}

	o.stop(sid)
	o.stop(callee.ID)
	caller.SetPendingCall(callee.Name, msg.SDPOffer, msg.Bandwidth)
	callee.SetPeer(caller.Name)
	userLog(log.Info(), caller).Str("to", callee.Name).Int("bandwidth", msg.Bandwidth).Msg("start call")

	if err := o.notify(callee.ID, core.NewIncomingCall(from)); err != nil {
		caller.ClearPeer()
		callee.ClearPeer()
		_ = o.notify(sid, core.CallRejected("Error "+err.Error()))
		return
	}
	userLog(log.Info(), callee).Str("from", from).Msg("incoming call")
}

func (o *Orchestrator) incomingCallResponse(sid domain.SessionID, msg core.Message) {
	o.Candidates.Clear(sid)
	callee, ok := o.Sessions.ByID(sid)
	if !ok {
		return
	}
	caller, ok := o.Sessions.ByName(msg.From)
	if !ok || caller.ID == sid {
		err := domain.UnknownPeer(msg.From)
		callee.ClearPeer()
		_ = o.notify(sid, core.NewNotice(core.KindStopCommunication, err.Error()))
		return
	}

	if msg.CallResponse != core.CallAccept {
		_ = o.notify(caller.ID, core.CallRejected(msgDeclined))
		o.stop(sid)
		caller.ClearPeer()
		callee.ClearPeer()
		o.Candidates.Clear(caller.ID)
		userLog(log.Info(), callee).Str("from", caller.Name).Msg("call rejected")
		return
	}

	o.stop(caller.ID)
	o.stop(sid)
	caller.SetPeer(callee.Name)
	callee.SetPeer(caller.Name)
	callee.SDPOffer = msg.SDPOffer

	at := o.now()
	p := call.NewPair(o.Engine, o.Notifier, o.Config.Pipeline, o.hooks(),
		o.participant(caller, call.RoleCaller, at),
		o.participant(callee, call.RoleCallee, at),
		caller.Bandwidth)
	o.Calls.Bind(caller.ID, p)
	o.Calls.Bind(callee.ID, p)

	ctx := o.ctx
	callerID, calleeID := caller.ID, callee.ID
	callerOffer, calleeOffer := caller.SDPOffer, msg.SDPOffer
	go func() {
		var res pairResult
		res.err = p.Build(ctx)
		if res.err == nil {
			res.callerAnswer, res.err = p.GenerateAnswer(ctx, callerID, callerOffer)
		}
		if res.err == nil {
			res.calleeAnswer, res.err = p.GenerateAnswer(ctx, calleeID, calleeOffer)
		}
		if !o.post(func() { o.finishPair(p, callerID, calleeID, res) }) {
			p.Release()
		}
	}()
}

func (o *Orchestrator) finishPair(p *call.Pipeline, callerID, calleeID domain.SessionID, res pairResult) {
	if !o.Calls.Owns(callerID, p) && !o.Calls.Owns(calleeID, p) {
		// Stopped while being set up; the stop path already notified both.
		p.Release()
		return
	}
	if res.err == nil && p.Released() {
		res.err = domain.NewEngineError("generate answer", call.ErrReleased)
	}
	if res.err != nil {
		o.failPair(p, callerID, calleeID, res.err)
		return
	}
	_ = o.notify(calleeID, core.NewStartCommunication(res.calleeAnswer))
	_ = o.notify(callerID, core.CallAccepted(res.callerAnswer))
	log.Info().Str("module", "orch").Str("pipeline", p.ID()).
		Str("caller", string(callerID)).Str("callee", string(calleeID)).Msg("pipeline created")
}

func (o *Orchestrator) failPair(p *call.Pipeline, callerID, calleeID domain.SessionID, err error) {
	p.Release()
	for _, sid := range []domain.SessionID{callerID, calleeID} {
		o.Calls.RemoveIf(sid, p)
		o.Candidates.Clear(sid)
		if s, ok := o.Sessions.ByID(sid); ok {
			s.ClearPeer()
		}
	}
	_ = o.notify(callerID, core.CallRejected(err.Error()))
	_ = o.notify(calleeID, core.NewNotice(core.KindStopCommunication, err.Error()))
	log.Error().Err(err).Str("module", "orch").Str("caller", string(callerID)).Str("callee", string(calleeID)).Msg("pipeline error")
}

func (o *Orchestrator) loopbackCall(sid domain.SessionID, msg core.Message) {
	o.Candidates.Clear(sid)
	s, ok := o.Sessions.ByID(sid)
	if !ok {
		return
	}
	o.stop(sid)
	s.SDPOffer = msg.SDPOffer

	part := o.participant(s, call.RoleLoopback, o.now())
	if err := o.checkRecorderURI(part.RecorderURI); err != nil {
		err = domain.NewEngineError("create recorder", err)
		userLog(log.Warn(), s).Err(err).Str("uri", part.RecorderURI).Msg("pipeline error")
		_ = o.notify(sid, core.LoopbackRejected(err.Error()))
		return
	}

	p := call.NewLoopback(o.Engine, o.Notifier, o.Config.Pipeline, o.hooks(), part)
	o.Calls.Bind(sid, p)

	ctx := o.ctx
	offer := msg.SDPOffer
	go func() {
		var answer string
		err := p.Build(ctx)
		if err == nil {
			answer, err = p.GenerateAnswer(ctx, sid, offer)
		}
		if !o.post(func() { o.finishLoopback(p, sid, answer, err) }) {
			p.Release()
		}
	}()
}

func (o *Orchestrator) finishLoopback(p *call.Pipeline, sid domain.SessionID, answer string, err error) {
	if !o.Calls.Owns(sid, p) {
		p.Release()
		return
	}
	if err == nil && p.Released() {
		err = domain.NewEngineError("generate answer", call.ErrReleased)
	}
	if err != nil {
		p.Release()
		o.Calls.RemoveIf(sid, p)
		o.Candidates.Clear(sid)
		_ = o.notify(sid, core.LoopbackRejected(err.Error()))
		log.Error().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("pipeline error")
		return
	}
	_ = o.notify(sid, core.LoopbackAccepted(answer))
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("pipeline", p.ID()).Msg("pipeline.test created")
}

// stop tears down sid's call, if any, for both participants.
func (o *Orchestrator) stop(sid domain.SessionID) {
	p, ok := o.Calls.Get(sid)
	if !ok {
		return
	}
	o.Calls.Remove(sid)
	p.Release()
	o.Candidates.Clear(sid)
	if s, ok := o.Sessions.ByID(sid); ok {
		s.ClearPeer()
	}

	if other, ok := p.Other(sid); ok {
		o.Calls.RemoveIf(other.SID, p)
		o.Candidates.Clear(other.SID)
		if s, ok := o.Sessions.ByID(other.SID); ok {
			s.ClearPeer()
			_ = o.notify(other.SID, core.NewNotice(core.KindStopCommunication, msgHangUp))
		}
	}
	_ = o.notify(sid, core.NewNotice(core.KindResetCommunication, msgReset))
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("pipeline", p.ID()).Msg("stop call")
}

// expire handles an auto-release timer. Registry entries are touched only
// while they still point at p.
func (o *Orchestrator) expire(p *call.Pipeline) {
	for _, part := range p.Participants() {
		if o.Calls.Owns(part.SID, p) {
			o.stop(part.SID)
			break
		}
	}
	p.Release()
}

// checkRecorderURI keeps client supplied recorder URIs below RecordsPath.
func (o *Orchestrator) checkRecorderURI(uri string) error {
	dir, err := core.RecordsDir(o.Config.RecordsPath)
	if err != nil {
		return err
	}
	_, err = core.RecordPathWithin(dir, uri)
	return err
}

func (o *Orchestrator) participant(s *domain.Session, role call.Role, at time.Time) call.Participant {
	name := url.PathEscape(s.Name)
	stamp := "t" + strconv.FormatInt(at.UnixMilli(), 10)
	var uri string
	switch role {
	case call.RoleCaller:
		uri = o.Config.RecordsPath + name + stamp + "_caller"
	case call.RoleCallee:
		uri = o.Config.RecordsPath + name + stamp + "_callee"
	default:
		uri = o.Config.RecordsPath + "user" + name + stamp
		if custom := s.Opts.RecorderURI(); custom != "" {
			uri = custom
		}
	}
	return call.Participant{SID: s.ID, Name: s.Name, Role: role, RecorderURI: uri, Fields: s.Opts.User()}
}
