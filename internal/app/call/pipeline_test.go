package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/one2one/internal/core"
	"github.com/dkeye/one2one/internal/core/coretest"
	"github.com/dkeye/one2one/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = Participant{SID: "A", Name: "alice", RecorderURI: "file:///tmp/r/alice_caller"}
	bob   = Participant{SID: "B", Name: "bob", RecorderURI: "file:///tmp/r/bob_callee"}
)

type drainLog struct {
	mu   sync.Mutex
	sids []domain.SessionID
}

func (d *drainLog) hooks() Hooks {
	return Hooks{Drain: func(sid domain.SessionID, _ core.Endpoint) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.sids = append(d.sids, sid)
	}}
}

func (d *drainLog) drained() []domain.SessionID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.SessionID(nil), d.sids...)
}

func newPair(engine *coretest.Engine, n *coretest.Notifier, hooks Hooks) *Pipeline {
	return NewPair(engine, n, Config{StatsInterval: time.Hour}, hooks, alice, bob, 500)
}

func TestBuildPair(t *testing.T) {
	engine, n := coretest.NewEngine(), coretest.NewNotifier()
	var d drainLog
	p := newPair(engine, n, d.hooks())
	t.Cleanup(p.Release)

	require.NoError(t, p.Build(context.Background()))

	require.Equal(t, 1, engine.Created())
	mp := engine.Pipelines()[0]
	assert.Equal(t, mp.ID(), p.ID())
	eps := mp.Endpoints()
	require.Len(t, eps, 2)
	assert.Equal(t, core.EndpointOptions{Label: "caller:alice", MaxBandwidth: 500}, eps[0].Options())
	assert.Equal(t, core.EndpointOptions{Label: "callee:bob", MaxBandwidth: 500}, eps[1].Options())
	assert.Equal(t, []string{eps[1].ID()}, eps[0].Sinks())
	assert.Equal(t, []string{eps[0].ID()}, eps[1].Sinks())

	recs := mp.Recorders()
	require.Len(t, recs, 2)
	assert.Equal(t, alice.RecorderURI, recs[0].URI())
	assert.Equal(t, bob.RecorderURI, recs[1].URI())
	assert.True(t, recs[0].Recording())
	assert.True(t, recs[1].Recording())

	assert.Equal(t, []domain.SessionID{"A", "B"}, d.drained())
	ep, ok := p.Endpoint("B")
	require.True(t, ok)
	assert.Equal(t, eps[1].ID(), ep.ID())
	assert.Equal(t, KindPair, p.Kind())
}

func TestBuildLoopbackConnectsToItself(t *testing.T) {
	engine, n := coretest.NewEngine(), coretest.NewNotifier()
	p := NewLoopback(engine, n, Config{}, Hooks{}, alice)
	t.Cleanup(p.Release)

	require.NoError(t, p.Build(context.Background()))

	eps := engine.Endpoints()
	require.Len(t, eps, 1)
	assert.Equal(t, []string{eps[0].ID()}, eps[0].Sinks())
	assert.Equal(t, RoleLoopback, p.Participants()[0].Role)
	_, ok := p.Other("A")
	assert.False(t, ok)
}

func TestGenerateAnswer(t *testing.T) {
	engine, n := coretest.NewEngine(), coretest.NewNotifier()
	p := newPair(engine, n, Hooks{})
	t.Cleanup(p.Release)
	require.NoError(t, p.Build(context.Background()))

	answer, err := p.GenerateAnswer(context.Background(), "A", "offer-a")
	require.NoError(t, err)
	assert.Equal(t, "answer:offer-a", answer)

	_, err = p.GenerateAnswer(context.Background(), "X", "offer-x")
	assert.ErrorIs(t, err, ErrUnknownEndpoint)
	assert.ErrorIs(t, err, domain.ErrEngine)
}

func TestGenerateAnswerEngineFailure(t *testing.T) {
	engine, n := coretest.NewEngine(), coretest.NewNotifier()
	engine.FailOn(coretest.StageOffer, coretest.ErrInjected)
	p := newPair(engine, n, Hooks{})
	t.Cleanup(p.Release)
	require.NoError(t, p.Build(context.Background()))

	_, err := p.GenerateAnswer(context.Background(), "B", "offer-b")
	var ee *domain.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "process offer", ee.Stage)
	assert.ErrorIs(t, err, coretest.ErrInjected)
}

func TestGatherFailureDoesNotFailAnswer(t *testing.T) {
	engine, n := coretest.NewEngine(), coretest.NewNotifier()
	engine.FailOn(coretest.StageGather, coretest.ErrInjected)
	p := newPair(engine, n, Hooks{})
	t.Cleanup(p.Release)
	require.NoError(t, p.Build(context.Background()))

	answer, err := p.GenerateAnswer(context.Background(), "A", "o")
	require.NoError(t, err)
	assert.Equal(t, "answer:o", answer)
}

func TestBuildFailureReleasesEverything(t *testing.T) {
	for _, stage := range []string{
		coretest.StagePipeline,
		coretest.StageRecorder,
		coretest.StageEndpoint,
		coretest.StageConnect,
		coretest.StageRecord,
	} {
		t.Run(stage, func(t *testing.T) {
			engine, n := coretest.NewEngine(), coretest.NewNotifier()
			engine.FailOn(stage, coretest.ErrInjected)
			p := newPair(engine, n, Hooks{})

			err := p.Build(context.Background())

			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrEngine)
			assert.ErrorIs(t, err, coretest.ErrInjected)
			assert.True(t, p.Released())
			assert.Zero(t, engine.Live())
			for _, mp := range engine.Pipelines() {
				assert.Equal(t, 1, mp.Releases())
				for _, rec := range mp.Recorders() {
					assert.True(t, rec.Stopped())
				}
				for _, ep := range mp.Endpoints() {
					assert.Zero(t, ep.Subscribers())
				}
			}
		})
	}
}

func TestBuildFailureOnSecondEndpoint(t *testing.T) {
	engine, n := coretest.NewEngine(), coretest.NewNotifier()
	engine.FailAt(coretest.StageEndpoint, 2)
	var d drainLog
	p := newPair(engine, n, d.hooks())

	err := p.Build(context.Background())

	var ee *domain.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "create endpoint", ee.Stage)
	assert.Equal(t, 1, engine.Created())
	assert.Zero(t, engine.Live())
	assert.Len(t, engine.Endpoints(), 1)
	assert.Equal(t, []domain.SessionID{"A"}, d.drained())
	_, ok := p.Endpoint("A")
	assert.False(t, ok)
}

func TestBuildFailsWhenSerializeFails(t *testing.T) {
	engine, n := coretest.NewEngine(), coretest.NewNotifier()
	stopped := errors.New("loop stopped")
	p := newPair(engine, n, Hooks{Serialize: func(func()) error { return stopped }})

	err := p.Build(context.Background())

	assert.ErrorIs(t, err, stopped)
	assert.Zero(t, engine.Live())
}

func TestReleaseDuringBuild(t *testing.T) {
	engine, n := coretest.NewEngine(), coretest.NewNotifier()
	var p *Pipeline
	p = newPair(engine, n, Hooks{Serialize: func(fn func()) error {
		p.Release()
		fn()
		return nil
	}})

	err := p.Build(context.Background())

	assert.ErrorIs(t, err, ErrReleased)
	assert.Equal(t, 1, engine.Created())
	assert.Zero(t, engine.Live())
	_, err = p.GenerateAnswer(context.Background(), "A", "o")
	assert.ErrorIs(t, err, ErrReleased)
}

func TestReleaseWhileCreatingPipeline(t *testing.T) {
	engine, n := coretest.NewEngine(), coretest.NewNotifier()
	engine.Gate = make(chan struct{})
	p := newPair(engine, n, Hooks{})

	errc := make(chan error, 1)
	go func() { errc <- p.Build(context.Background()) }()
	p.Release()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("build did not observe release")
	}
	assert.Zero(t, engine.Created())
}

func TestReleaseIsIdempotent(t *testing.T) {
	engine, n := coretest.NewEngine(), coretest.NewNotifier()
	p := newPair(engine, n, Hooks{})
	require.NoError(t, p.Build(context.Background()))

	p.Release()
	p.Release()

	mp := engine.Pipelines()[0]
	assert.Equal(t, 1, mp.Releases())
	for _, rec := range mp.Recorders() {
		assert.True(t, rec.Stopped())
	}
	for _, ep := range mp.Endpoints() {
		assert.Zero(t, ep.Subscribers())
	}
	_, ok := p.Endpoint("A")
	assert.False(t, ok)
}

func TestOutgoingCandidatesReachOwner(t *testing.T) {
	engine, n := coretest.NewEngine(), coretest.NewNotifier()
	p := newPair(engine, n, Hooks{})
	require.NoError(t, p.Build(context.Background()))

	c := core.Candidate{Candidate: "candidate:9 1 udp 1 192.0.2.9 9 typ host"}
	engine.Endpoints()[1].Emit(core.Event{Kind: core.EventICECandidate, Candidate: &c})

	msg, ok := n.Last("B", core.KindICECandidate)
	require.True(t, ok)
	assert.Equal(t, c, msg.(core.ICECandidate).Candidate)
	assert.Zero(t, n.Count("A", core.KindICECandidate))

	p.Release()
	n.Reset()
	engine.Endpoints()[1].Emit(core.Event{Kind: core.EventICECandidate, Candidate: &c})
	assert.Empty(t, n.All())
}

func TestAutoRelease(t *testing.T) {
	engine, n := coretest.NewEngine(), coretest.NewNotifier()
	p := NewPair(engine, n, Config{AutoRelease: 10 * time.Millisecond, StatsInterval: time.Hour}, Hooks{}, alice, bob, 0)
	require.NoError(t, p.Build(context.Background()))

	require.Eventually(t, p.Released, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, engine.Live())
}

func TestAutoReleaseHook(t *testing.T) {
	engine, n := coretest.NewEngine(), coretest.NewNotifier()
	expired := make(chan *Pipeline, 1)
	p := NewPair(engine, n, Config{AutoRelease: 10 * time.Millisecond, StatsInterval: time.Hour},
		Hooks{Expired: func(p *Pipeline) { expired <- p }}, alice, bob, 0)
	require.NoError(t, p.Build(context.Background()))

	select {
	case got := <-expired:
		assert.Same(t, p, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	assert.False(t, p.Released(), "the hook owns teardown")
	p.Release()
}

func TestReleaseStopsTimer(t *testing.T) {
	engine, n := coretest.NewEngine(), coretest.NewNotifier()
	fired := make(chan struct{}, 1)
	p := NewPair(engine, n, Config{AutoRelease: 20 * time.Millisecond, StatsInterval: time.Hour},
		Hooks{Expired: func(*Pipeline) { fired <- struct{}{} }}, alice, bob, 0)
	require.NoError(t, p.Build(context.Background()))
	p.Release()

	select {
	case <-fired:
		t.Fatal("timer fired after release")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestOther(t *testing.T) {
	p := newPair(coretest.NewEngine(), coretest.NewNotifier(), Hooks{})
	other, ok := p.Other("A")
	require.True(t, ok)
	assert.Equal(t, bob.Name, other.Name)
	assert.Equal(t, RoleCallee, other.Role)
	assert.Equal(t, "unknown", p.ID())
}
