package call

import (
	"context"
	"time"

	"github.com/dkeye/one2one/internal/app/telemetry"
	"github.com/dkeye/one2one/internal/core"
	"github.com/dkeye/one2one/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultGatherTimeout = 10 * time.Second

// Build allocates the engine pipeline, one recorder and one endpoint per
// participant, drains buffered candidates, connects the endpoints, starts
// recording, attaches telemetry and arms the auto-release timer. Stages run
// strictly in order; on any failure everything allocated so far is released
// and a single *domain.EngineError is returned.
func (p *Pipeline) Build(ctx context.Context) error {
	ctx, cancel := p.bind(ctx)
	defer cancel()

	stage, err := p.build(ctx)
	if err != nil {
		p.Release()
		log.Warn().Err(err).Str("module", "call").Str("stage", stage).Msg("pipeline setup failed")
		return domain.NewEngineError(stage, err)
	}
	return nil
}

func (p *Pipeline) build(ctx context.Context) (string, error) {
	media, err := p.engine.CreatePipeline(ctx)
	if err != nil {
		return "create pipeline", err
	}
	if !p.adopt(func() { p.media = media }) {
		if err := media.Release(); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("release late pipeline")
		}
		return "create pipeline", ErrReleased
	}

	eps := make([]core.Endpoint, len(p.participants))
	recs := make([]core.Recorder, len(p.participants))
	for i, part := range p.participants {
		rec, err := media.CreateRecorder(ctx, part.RecorderURI)
		if err != nil {
			return "create recorder", err
		}
		if !p.adopt(func() { p.recorders = append(p.recorders, rec) }) {
			return "create recorder", ErrReleased
		}
		recs[i] = rec

		ep, err := media.CreateEndpoint(ctx, core.EndpointOptions{
			Label:        string(part.Role) + ":" + part.Name,
			MaxBandwidth: p.bandwidth,
		})
		if err != nil {
			return "create endpoint", err
		}
		unsub := ep.Subscribe(p.forwardCandidates(part.SID))
		if !p.adopt(func() { p.unsubs = append(p.unsubs, unsub) }) {
			unsub()
			return "create endpoint", ErrReleased
		}

		// Making the endpoint reachable and draining the buffer happen in one
		// step on the owning control flow so that no candidate overtakes
		// an older buffered one.
		attached := false
		err = p.hooks.Serialize(func() {
			attached = p.adopt(func() { p.endpoints[part.SID] = ep })
			if attached && p.hooks.Drain != nil {
				p.hooks.Drain(part.SID, ep)
			}
		})
		if err != nil {
			return "drain candidates", err
		}
		if !attached {
			return "drain candidates", ErrReleased
		}
		eps[i] = ep
	}

	switch p.kind {
	case KindPair:
		if err := eps[0].Connect(ctx, eps[1]); err != nil {
			return "connect endpoints", err
		}
		if err := eps[1].Connect(ctx, eps[0]); err != nil {
			return "connect endpoints", err
		}
	case KindLoopback:
		if err := eps[0].Connect(ctx, eps[0]); err != nil {
			return "connect endpoints", err
		}
	}

	for i, rec := range recs {
		if err := rec.Record(ctx, eps[i]); err != nil {
			return "start recording", err
		}
		log.Info().Str("module", "call").Str("sid", string(p.participants[i].SID)).Str("recorder", rec.ID()).Msg("start record")
	}

	targets := make([]telemetry.Target, len(p.participants))
	for i, part := range p.participants {
		targets[i] = telemetry.Target{SID: part.SID, Role: string(part.Role), Endpoint: eps[i], Fields: part.Fields}
	}
	ok := p.adopt(func() {
		p.relay = telemetry.NewRelay(p.notifier, targets...)
		p.relay.Start()
		p.poller = telemetry.NewPoller(p.cfg.StatsInterval, p.notifier, targets...)
		p.poller.Start(p.ctx)
		p.timer = time.AfterFunc(p.cfg.AutoRelease, p.expire)
	})
	if !ok {
		return "attach telemetry", ErrReleased
	}
	return "", nil
}

// GenerateAnswer feeds offer to sid's endpoint and triggers candidate
// gathering alongside. Gathering failures are logged, not returned.
func (p *Pipeline) GenerateAnswer(ctx context.Context, sid domain.SessionID, offer string) (string, error) {
	ep, ok := p.Endpoint(sid)
	if !ok {
		if p.Released() {
			return "", domain.NewEngineError("generate answer", ErrReleased)
		}
		return "", domain.NewEngineError("generate answer", ErrUnknownEndpoint)
	}
	ctx, cancel := p.bind(ctx)
	defer cancel()

	go p.gather(sid, ep)

	answer, err := ep.ProcessOffer(ctx, offer)
	if err != nil {
		return "", domain.NewEngineError("process offer", err)
	}
	return answer, nil
}

func (p *Pipeline) gather(sid domain.SessionID, ep core.Endpoint) {
	timeout := p.cfg.GatherTimeout
	if timeout <= 0 {
		timeout = DefaultGatherTimeout
	}
	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	if err := ep.GatherCandidates(ctx); err != nil && !p.Released() {
		log.Warn().Err(err).Str("module", "call").Str("sid", string(sid)).Msg("gather candidates")
	}
}

func (p *Pipeline) forwardCandidates(sid domain.SessionID) func(core.Event) {
	return func(ev core.Event) {
		if ev.Kind != core.EventICECandidate || ev.Candidate == nil || p.Released() {
			return
		}
		if err := p.notifier.Notify(sid, core.NewICECandidate(*ev.Candidate)); err != nil {
			log.Debug().Err(err).Str("module", "call").Str("sid", string(sid)).Msg("candidate delivery failed")
		}
	}
}

func (p *Pipeline) expire() {
	if p.Released() {
		return
	}
	log.Info().Str("module", "call").Str("pipeline", p.ID()).Dur("after", p.cfg.AutoRelease).Msg("auto-release")
	if p.hooks.Expired != nil {
		p.hooks.Expired(p)
		return
	}
	p.Release()
}

// bind derives a context that is also cancelled by Release.
func (p *Pipeline) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
