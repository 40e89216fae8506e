package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/one2one/internal/core"
	"github.com/dkeye/one2one/internal/domain"
	"github.com/rs/zerolog/log"
)

// Relay subscribes to every target endpoint. Each event is logged on behalf of
// the endpoint's owner; health events are also sent to all participants.
type Relay struct {
	notifier core.Notifier
	targets  []Target

	mu     sync.Mutex
	unsubs []func()
	closed atomic.Bool
}

func NewRelay(notifier core.Notifier, targets ...Target) *Relay {
	return &Relay{notifier: notifier, targets: targets}
}

func (r *Relay) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.targets {
		unsub := t.Endpoint.Subscribe(func(ev core.Event) { r.handle(t, ev) })
		r.unsubs = append(r.unsubs, unsub)
	}
}

// Close unsubscribes from all endpoints. Events racing with Close are dropped.
func (r *Relay) Close() {
	if r.closed.Swap(true) {
		return
	}
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

func (r *Relay) handle(owner Target, ev core.Event) {
	if r.closed.Load() {
		return
	}
	msg, data := LogRecord(ev)
	log.Info().
		Str("module", "telemetry").
		Str("sid", string(owner.SID)).
		Str("role", owner.Role).
		Fields(owner.Fields).
		Interface("data", data).
		Msg(msg)

	for _, out := range Notifications(ev, owner.SID, r.recipients()) {
		if err := r.notifier.Notify(out.To, out.Msg); err != nil {
			log.Debug().Err(err).Str("module", "telemetry").Str("sid", string(out.To)).Msg("event delivery failed")
		}
	}
}

func (r *Relay) recipients() []domain.SessionID {
	out := make([]domain.SessionID, 0, len(r.targets))
	for _, t := range r.targets {
		if len(out) > 0 && out[len(out)-1] == t.SID {
			continue
		}
		out = append(out, t.SID)
	}
	return out
}

// Outbound is one notification addressed to one participant.
type Outbound struct {
	To  domain.SessionID
	Msg core.Outbound
}

// Notifications maps a health event of owner's endpoint to the messages every
// recipient gets. Other event kinds produce nothing.
func Notifications(ev core.Event, owner domain.SessionID, recipients []domain.SessionID) []Outbound {
	var kind string
	switch ev.Kind {
	case core.EventConnectionState:
		kind = core.KindConnectionState
	case core.EventMediaState:
		kind = core.KindMediaState
	case core.EventMediaFlowIn:
		kind = core.KindMediaFlowIn
	case core.EventMediaFlowOut:
		kind = core.KindMediaFlowOut
	default:
		return nil
	}

	out := make([]Outbound, 0, len(recipients))
	for _, to := range recipients {
		msg := core.StateChange{
			Header: core.Header{ID: kind},
			State:  ev.State,
			My:     to == owner,
		}
		if ev.Kind == core.EventMediaFlowIn || ev.Kind == core.EventMediaFlowOut {
			msg.Type = ev.MediaType
		}
		out = append(out, Outbound{To: to, Msg: msg})
	}
	return out
}

// LogRecord returns the log message and payload describing ev.
func LogRecord(ev core.Event) (string, map[string]any) {
	data := map[string]any{"source": ev.Source}
	switch ev.Kind {
	case core.EventICEComponentState:
		data["state"] = ev.State
	case core.EventCandidatePairSelected:
		delete(data, "source")
		data["local"] = ev.LocalCandidate
		data["remote"] = ev.RemoteCandidate
	case core.EventICECandidate:
		if ev.Candidate != nil {
			data["candidate"] = ev.Candidate.Candidate
		}
	case core.EventGatheringDone:
	case core.EventConnectionState, core.EventMediaState:
		data["newState"] = ev.State
		data["oldState"] = ev.OldState
	case core.EventMediaFlowIn, core.EventMediaFlowOut:
		data["mediaType"] = ev.MediaType
		data["state"] = ev.State
	}
	return ev.Kind.String(), data
}
