// Package coretest provides in-memory implementations of the core contracts
// for tests: a scriptable media engine and a recording notifier.
package coretest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/one2one/internal/core"
)

// Failure injection points of Engine.
const (
	StagePipeline = "pipeline"
	StageRecorder = "recorder"
	StageEndpoint = "endpoint"
	StageConnect  = "connect"
	StageRecord   = "record"
	StageOffer    = "offer"
	StageGather   = "gather"
	StageStats    = "stats"
	StageInfo     = "info"
)

var ErrInjected = errors.New("injected failure")

// Engine is an in-memory core.MediaEngine.
type Engine struct {
	mu        sync.Mutex
	fail      map[string]error
	failAt    map[string]int
	calls     map[string]int
	pipelines []*Pipeline
	endpoints []*Endpoint

	// Gate, when set, blocks CreatePipeline until it is closed or ctx ends.
	Gate chan struct{}
}

func NewEngine() *Engine {
	return &Engine{
		fail:   make(map[string]error),
		failAt: make(map[string]int),
		calls:  make(map[string]int),
	}
}

// FailOn makes every call of stage fail with err.
func (e *Engine) FailOn(stage string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail[stage] = err
}

// FailAt makes only the n-th (1-based) call of stage fail.
func (e *Engine) FailAt(stage string, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failAt[stage] = n
}

func (e *Engine) check(stage string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[stage]++
	if err := e.fail[stage]; err != nil {
		return err
	}
	if n, ok := e.failAt[stage]; ok && e.calls[stage] == n {
		return fmt.Errorf("%s #%d: %w", stage, n, ErrInjected)
	}
	return nil
}

func (e *Engine) CreatePipeline(ctx context.Context) (core.MediaPipeline, error) {
	if e.Gate != nil {
		select {
		case <-e.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := e.check(StagePipeline); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p := &Pipeline{id: fmt.Sprintf("pipeline-%d", len(e.pipelines)+1), engine: e}
	e.pipelines = append(e.pipelines, p)
	return p, nil
}

func (e *Engine) Info(context.Context) (core.EngineInfo, error) {
	if err := e.check(StageInfo); err != nil {
		return core.EngineInfo{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	info := core.EngineInfo{Version: "fake"}
	for _, p := range e.pipelines {
		if p.Released() {
			continue
		}
		info.Pipelines = append(info.Pipelines, core.PipelineInfo{ID: p.id})
	}
	info.PipelinesNumber = len(info.Pipelines)
	return info, nil
}

func (e *Engine) Pipelines() []*Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.pipelines)
}

func (e *Engine) Endpoints() []*Endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.endpoints)
}

// Created is the number of pipelines the engine allocated.
func (e *Engine) Created() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pipelines)
}

// Live is the number of allocated pipelines not yet released.
func (e *Engine) Live() int {
	n := 0
	for _, p := range e.Pipelines() {
		if !p.Released() {
			n++
		}
	}
	return n
}

// Pipeline is an in-memory core.MediaPipeline.
type Pipeline struct {
	id     string
	engine *Engine

	mu        sync.Mutex
	endpoints []*Endpoint
	recorders []*Recorder
	releases  int
}

func (p *Pipeline) ID() string { return p.id }

func (p *Pipeline) CreateEndpoint(_ context.Context, opts core.EndpointOptions) (core.Endpoint, error) {
	if err := p.engine.check(StageEndpoint); err != nil {
		return nil, err
	}
	p.mu.Lock()
	ep := &Endpoint{
		id:     fmt.Sprintf("%s/endpoint-%d", p.id, len(p.endpoints)+1),
		opts:   opts,
		engine: p.engine,
		subs:   make(map[int]func(core.Event)),
	}
	p.endpoints = append(p.endpoints, ep)
	p.mu.Unlock()

	p.engine.mu.Lock()
	p.engine.endpoints = append(p.engine.endpoints, ep)
	p.engine.mu.Unlock()
	return ep, nil
}

func (p *Pipeline) CreateRecorder(_ context.Context, uri string) (core.Recorder, error) {
	if err := p.engine.check(StageRecorder); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rec := &Recorder{id: fmt.Sprintf("%s/recorder-%d", p.id, len(p.recorders)+1), uri: uri, engine: p.engine}
	p.recorders = append(p.recorders, rec)
	return rec, nil
}

func (p *Pipeline) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases++
	for _, ep := range p.endpoints {
		ep.markReleased()
	}
	return nil
}

func (p *Pipeline) Released() bool { return p.Releases() > 0 }

func (p *Pipeline) Releases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releases
}

func (p *Pipeline) Endpoints() []*Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.endpoints)
}

func (p *Pipeline) Recorders() []*Recorder {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.recorders)
}

// Endpoint is an in-memory core.Endpoint.
type Endpoint struct {
	id     string
	opts   core.EndpointOptions
	engine *Engine

	mu         sync.Mutex
	candidates []core.Candidate
	offers     []string
	sinks      []string
	stats      []core.Stat
	subs       map[int]func(core.Event)
	nextSub    int
	released   bool
}

func (e *Endpoint) ID() string { return e.id }
func (e *Endpoint) Options() core.EndpointOptions { return e.opts }

func (e *Endpoint) AddICECandidate(c core.Candidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append(e.candidates, c)
	return nil
}

func (e *Endpoint) ProcessOffer(_ context.Context, offer string) (string, error) {
	if err := e.engine.check(StageOffer); err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offers = append(e.offers, offer)
	return "answer:" + offer, nil
}

func (e *Endpoint) GatherCandidates(context.Context) error {
	return e.engine.check(StageGather)
}

func (e *Endpoint) Connect(_ context.Context, sink core.Endpoint) error {
	if err := e.engine.check(StageConnect); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, sink.ID())
	return nil
}

func (e *Endpoint) Stats(context.Context) ([]core.Stat, error) {
	if err := e.engine.check(StageStats); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.stats), nil
}

func (e *Endpoint) Subscribe(fn func(core.Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

// Emit delivers ev to every current subscriber.
func (e *Endpoint) Emit(ev core.Event) {
	e.mu.Lock()
	subs := make([]func(core.Event), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()
	if ev.Source == "" {
		ev.Source = e.id
	}
	for _, fn := range subs {
		fn(ev)
	}
}

func (e *Endpoint) SetStats(stats ...core.Stat) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats = stats
}

func (e *Endpoint) Candidates() []core.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.candidates)
}

func (e *Endpoint) Offers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.offers)
}

func (e *Endpoint) Sinks() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.sinks)
}

func (e *Endpoint) Subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

func (e *Endpoint) Released() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}

func (e *Endpoint) markReleased() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.released = true
}

// Recorder is an in-memory core.Recorder.
type Recorder struct {
	id     string
	uri    string
	engine *Engine

	mu        sync.Mutex
	source    string
	recording bool
	stopped   bool
}

func (r *Recorder) ID() string  { return r.id }
func (r *Recorder) URI() string { return r.uri }

func (r *Recorder) Record(_ context.Context, src core.Endpoint) error {
	if err := r.engine.check(StageRecord); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source = src.ID()
	r.recording = true
	return nil
}

func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	r.stopped = true
	return nil
}

func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *Recorder) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}
