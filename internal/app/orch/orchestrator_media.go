package orch

import (
	"github.com/dkeye/one2one/internal/core"
	"github.com/dkeye/one2one/internal/domain"
	"github.com/rs/zerolog/log"
)

// onICECandidate applies a remote candidate to sid's endpoint when one is
// reachable and buffers it otherwise.
func (o *Orchestrator) onICECandidate(sid domain.SessionID, msg core.Message) {
	if msg.Candidate == nil {
		return
	}
	c := *msg.Candidate
	if p, ok := o.Calls.Get(sid); ok {
		if ep, ok := p.Endpoint(sid); ok {
			if err := ep.AddICECandidate(c); err != nil {
				log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("add candidate")
			}
			return
		}
	}
	o.Candidates.Enqueue(sid, c)
}

// status answers from a goroutine so a slow engine never stalls the loop.
func (o *Orchestrator) status(sid domain.SessionID) {
	ctx := o.ctx
	go func() {
		info, err := o.Engine.Info(ctx)
		if err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("engine status")
		}
		_ = o.notify(sid, core.NewStatusResponse(info, err))
	}()
}
