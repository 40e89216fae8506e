package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/one2one/internal/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Pipeline struct {
	id     string
	engine *Engine

	mu        sync.Mutex
	endpoints []*Endpoint
	recorders []*Recorder
	released  bool
}

func (p *Pipeline) ID() string { return p.id }

func (p *Pipeline) CreateEndpoint(ctx context.Context, opts core.EndpointOptions) (core.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil, ErrPipelineReleased
	}
	pc, err := p.engine.api.NewPeerConnection(p.engine.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	ep := newEndpoint(p.id+"/endpoint/"+uuid.NewString(), opts, pc)
	p.endpoints = append(p.endpoints, ep)
	return ep, nil
}

func (p *Pipeline) CreateRecorder(ctx context.Context, uri string) (core.Recorder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := newRecorder(p.id+"/recorder/"+uuid.NewString(), p.engine.recordsDir, uri)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil, ErrPipelineReleased
	}
	p.recorders = append(p.recorders, rec)
	return rec, nil
}

// Release stops every recorder and closes every endpoint of the pipeline.
func (p *Pipeline) Release() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.released = true
	recorders, endpoints := p.recorders, p.endpoints
	p.recorders, p.endpoints = nil, nil
	p.mu.Unlock()

	var errs []error
	for _, rec := range recorders {
		errs = append(errs, rec.Stop())
	}
	for _, ep := range endpoints {
		errs = append(errs, ep.Close())
	}
	p.engine.forget(p.id)
	log.Debug().Str("module", "rtc").Str("pipeline", p.id).Int("endpoints", len(endpoints)).Msg("pipeline closed")
	return errors.Join(errs...)
}

func (p *Pipeline) children() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.endpoints)+len(p.recorders))
	for _, ep := range p.endpoints {
		out = append(out, ep.id)
	}
	for _, rec := range p.recorders {
		out = append(out, rec.id)
	}
	return out
}
