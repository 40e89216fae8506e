// Package telemetry samples endpoint statistics and relays endpoint events
// of a live call to its participants.
package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dkeye/one2one/internal/core"
	"github.com/dkeye/one2one/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const DefaultInterval = 10 * time.Second

// Target is one participant endpoint watched by a Poller or a Relay.
type Target struct {
	SID      domain.SessionID
	Role     string
	Endpoint core.Endpoint
	// Fields are merged into every log record about this participant.
	Fields map[string]any
}

// Poller periodically asks every target endpoint for its RTP counters and
// sends the samples, with per-record byte deltas, to all targets.
type Poller struct {
	interval time.Duration
	notifier core.Notifier
	targets  []Target

	// last is touched only by the polling goroutine.
	last map[string]uint64

	cancel  context.CancelFunc
	stopped atomic.Bool
	done    chan struct{}
}

func NewPoller(interval time.Duration, notifier core.Notifier, targets ...Target) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		interval: interval,
		notifier: notifier,
		targets:  targets,
		last:     make(map[string]uint64),
		done:     make(chan struct{}),
	}
}

func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
}

// Stop cancels the pending tick. A tick already in flight delivers nothing.
func (p *Poller) Stop() {
	p.stopped.Store(true)
	if p.cancel != nil {
		p.cancel()
	}
}

// Done is closed once the polling goroutine has exited.
func (p *Poller) Done() <-chan struct{} { return p.done }

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

type statsResult struct {
	stats []core.Stat
	err   error
}

func (p *Poller) tick(ctx context.Context) {
	results := make([]statsResult, len(p.targets))
	var wg conc.WaitGroup
	for i, t := range p.targets {
		wg.Go(func() {
			stats, err := t.Endpoint.Stats(ctx)
			results[i] = statsResult{stats: stats, err: err}
		})
	}
	wg.Wait()

	if p.stopped.Load() || ctx.Err() != nil {
		return
	}
	for i, t := range p.targets {
		p.deliver(t, results[i])
	}
}

func (p *Poller) deliver(owner Target, res statsResult) {
	if res.err != nil {
		log.Warn().Err(res.err).
			Str("module", "telemetry").
			Str("sid", string(owner.SID)).
			Str("role", owner.Role).
			Fields(owner.Fields).
			Interface("data", nil).
			Msg("stats")
		p.send(owner.SID, core.NewStats(true, nil))
		return
	}

	samples := p.samples(owner.SID, res.stats)
	for _, t := range p.targets {
		p.send(t.SID, core.NewStats(t.SID == owner.SID, samples))
	}
	log.Info().
		Str("module", "telemetry").
		Str("sid", string(owner.SID)).
		Str("role", owner.Role).
		Fields(owner.Fields).
		Interface("data", samples).
		Msg("stats")
}

// samples converts cumulative counters into samples and stores the new
// baselines. A record seen for the first time has BytesTransferred 0, and
// so does a record whose counter went backwards.
func (p *Poller) samples(owner domain.SessionID, stats []core.Stat) []core.StatSample {
	out := make([]core.StatSample, 0, len(stats))
	for _, s := range stats {
		key := string(owner) + "/" + s.ID
		var delta uint64
		if prev, ok := p.last[key]; ok && s.Bytes >= prev {
			delta = s.Bytes - prev
		}
		p.last[key] = s.Bytes
		out = append(out, core.StatSample{
			ID:               s.ID,
			Type:             s.Type,
			Bytes:            s.Bytes,
			BytesTransferred: delta,
			PacketsLost:      s.PacketsLost,
			Packets:          s.Packets,
		})
	}
	return out
}

func (p *Poller) send(sid domain.SessionID, msg core.Outbound) {
	if err := p.notifier.Notify(sid, msg); err != nil {
		log.Debug().Err(err).Str("module", "telemetry").Str("sid", string(sid)).Msg("stats delivery failed")
	}
}
