package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/one2one/internal/core"
	"github.com/dkeye/one2one/internal/core/coretest"
	"github.com/dkeye/one2one/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine   *coretest.Engine
	notifier *coretest.Notifier
	caller   *coretest.Endpoint
	callee   *coretest.Endpoint
	targets  []Target
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{engine: coretest.NewEngine(), notifier: coretest.NewNotifier()}
	mp, err := f.engine.CreatePipeline(ctx)
	require.NoError(t, err)
	a, err := mp.CreateEndpoint(ctx, core.EndpointOptions{})
	require.NoError(t, err)
	b, err := mp.CreateEndpoint(ctx, core.EndpointOptions{})
	require.NoError(t, err)
	f.caller, f.callee = a.(*coretest.Endpoint), b.(*coretest.Endpoint)
	f.targets = []Target{
		{SID: "A", Role: "caller", Endpoint: f.caller},
		{SID: "B", Role: "callee", Endpoint: f.callee},
	}
	return f
}

func lastStats(t *testing.T, n *coretest.Notifier, sid domain.SessionID) core.Stats {
	t.Helper()
	msg, ok := n.Last(sid, core.KindStats)
	require.True(t, ok)
	return msg.(core.Stats)
}

func TestPollerDeltas(t *testing.T) {
	f := newFixture(t)
	p := NewPoller(time.Hour, f.notifier, f.targets...)
	ctx := context.Background()

	f.caller.SetStats(core.Stat{ID: "v", Type: "video_inbound-rtp", Bytes: 1000, Packets: 10})
	p.tick(ctx)

	// Each target's report goes to both participants.
	assert.Equal(t, 2, f.notifier.Count("A", core.KindStats))
	assert.Equal(t, 2, f.notifier.Count("B", core.KindStats))

	f.notifier.Reset()
	f.caller.SetStats(core.Stat{ID: "v", Type: "video_inbound-rtp", Bytes: 1500, Packets: 15})
	f.callee.SetStats(core.Stat{ID: "a", Type: "audio_inbound-rtp", Bytes: 70})
	p.tick(ctx)

	var mine, theirs *core.Stats
	for _, m := range f.notifier.To("A") {
		st := m.(core.Stats)
		if st.My {
			mine = &st
		} else {
			theirs = &st
		}
	}
	require.NotNil(t, mine)
	require.NotNil(t, theirs)
	require.Len(t, mine.Stats, 1)
	assert.Equal(t, uint64(1500), mine.Stats[0].Bytes)
	assert.Equal(t, uint64(500), mine.Stats[0].BytesTransferred)
	require.Len(t, theirs.Stats, 1)
	assert.Equal(t, "a", theirs.Stats[0].ID)
	assert.Zero(t, theirs.Stats[0].BytesTransferred, "first sample of a record is the baseline")
}

func TestPollerSamplesCounterReset(t *testing.T) {
	p := NewPoller(0, coretest.NewNotifier())
	assert.Equal(t, DefaultInterval, p.interval)

	first := p.samples("A", []core.Stat{{ID: "x", Bytes: 900}})
	assert.Zero(t, first[0].BytesTransferred)
	second := p.samples("A", []core.Stat{{ID: "x", Bytes: 100}})
	assert.Zero(t, second[0].BytesTransferred)
	third := p.samples("A", []core.Stat{{ID: "x", Bytes: 350}})
	assert.Equal(t, uint64(250), third[0].BytesTransferred)

	other := p.samples("B", []core.Stat{{ID: "x", Bytes: 5000}})
	assert.Zero(t, other[0].BytesTransferred, "baselines are kept per owner")
}

func TestPollerFailureSendsEmptyStatsToOwner(t *testing.T) {
	f := newFixture(t)
	f.engine.FailOn(coretest.StageStats, coretest.ErrInjected)
	p := NewPoller(time.Hour, f.notifier, f.targets...)

	p.tick(context.Background())

	st := lastStats(t, f.notifier, "A")
	assert.True(t, st.My)
	assert.Nil(t, st.Stats)
	assert.Equal(t, 1, f.notifier.Count("A", core.KindStats))
	assert.Equal(t, 1, f.notifier.Count("B", core.KindStats))
}

func TestPollerStoppedTickDeliversNothing(t *testing.T) {
	f := newFixture(t)
	p := NewPoller(time.Hour, f.notifier, f.targets...)
	p.Stop()
	p.tick(context.Background())
	assert.Empty(t, f.notifier.All())
}

func TestPollerRunsUntilStopped(t *testing.T) {
	f := newFixture(t)
	p := NewPoller(5*time.Millisecond, f.notifier, f.targets...)
	p.Start(context.Background())

	require.Eventually(t, func() bool { return f.notifier.Count("A", core.KindStats) >= 4 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not exit")
	}
	n := len(f.notifier.All())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, len(f.notifier.All()))
}

func TestNotificationsTagOwnership(t *testing.T) {
	ev := core.Event{Kind: core.EventMediaFlowIn, State: core.FlowStateFlowing, MediaType: "VIDEO"}
	out := Notifications(ev, "A", []domain.SessionID{"A", "B"})
	require.Len(t, out, 2)
	assert.Equal(t, Outbound{To: "A", Msg: core.StateChange{
		Header: core.Header{ID: core.KindMediaFlowIn}, State: core.FlowStateFlowing, Type: "VIDEO", My: true,
	}}, out[0])
	assert.False(t, out[1].Msg.(core.StateChange).My)

	conn := Notifications(core.Event{Kind: core.EventConnectionState, State: core.MediaStateConnected}, "B", []domain.SessionID{"A", "B"})
	require.Len(t, conn, 2)
	assert.Empty(t, conn[0].Msg.(core.StateChange).Type)
	assert.True(t, conn[1].Msg.(core.StateChange).My)

	assert.Empty(t, Notifications(core.Event{Kind: core.EventICECandidate}, "A", []domain.SessionID{"A"}))
	assert.Empty(t, Notifications(core.Event{Kind: core.EventCandidatePairSelected}, "A", []domain.SessionID{"A"}))
}

func TestRelayFansOutHealthEvents(t *testing.T) {
	f := newFixture(t)
	r := NewRelay(f.notifier, f.targets...)
	r.Start()
	assert.Equal(t, 1, f.caller.Subscribers())

	f.callee.Emit(core.Event{Kind: core.EventMediaState, State: core.MediaStateConnected})
	a, ok := f.notifier.Last("A", core.KindMediaState)
	require.True(t, ok)
	assert.False(t, a.(core.StateChange).My)
	b, ok := f.notifier.Last("B", core.KindMediaState)
	require.True(t, ok)
	assert.True(t, b.(core.StateChange).My)

	f.notifier.Reset()
	f.caller.Emit(core.Event{Kind: core.EventICEComponentState, State: "connected"})
	assert.Empty(t, f.notifier.All(), "component state is only logged")

	r.Close()
	r.Close()
	assert.Zero(t, f.caller.Subscribers())
	assert.Zero(t, f.callee.Subscribers())
	f.caller.Emit(core.Event{Kind: core.EventConnectionState, State: core.MediaStateDisconnected})
	assert.Empty(t, f.notifier.All())
}

func TestRelayLoopbackHasSingleRecipient(t *testing.T) {
	f := newFixture(t)
	r := NewRelay(f.notifier, Target{SID: "L", Role: "loopback", Endpoint: f.caller})
	r.Start()
	defer r.Close()

	f.caller.Emit(core.Event{Kind: core.EventConnectionState, State: core.MediaStateConnected})
	assert.Equal(t, 1, f.notifier.Count("L", core.KindConnectionState))
}

func TestLogRecordNamesEvent(t *testing.T) {
	c := core.Candidate{Candidate: "candidate:1"}
	msg, data := LogRecord(core.Event{Kind: core.EventICECandidate, Source: "ep", Candidate: &c})
	assert.Equal(t, "IceCandidateFound", msg)
	assert.Equal(t, "ep", data["source"])
}
