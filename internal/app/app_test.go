package app

import (
	"errors"
	"testing"

	"github.com/dkeye/one2one/internal/app/call"
	"github.com/dkeye/one2one/internal/core"
	"github.com/dkeye/one2one/internal/core/coretest"
	"github.com/dkeye/one2one/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func session(t *testing.T, id domain.SessionID, name, callee string) *domain.Session {
	t.Helper()
	s, err := domain.NewSession(id, name, callee, nil)
	require.NoError(t, err)
	return s
}

func TestRegistryIndexes(t *testing.T) {
	r := NewRegistry()
	alice := session(t, "A", "alice", "bob")
	r.Register(alice)

	got, ok := r.ByID("A")
	require.True(t, ok)
	assert.Same(t, alice, got)
	got, ok = r.ByName("alice")
	require.True(t, ok)
	assert.Same(t, alice, got)

	assert.Equal(t, []*domain.Session{alice}, r.WaitingFor("bob", "B"))
	assert.Empty(t, r.WaitingFor("bob", "A"))
	assert.Empty(t, r.WaitingFor("", "B"))

	removed, ok := r.Unregister("A")
	require.True(t, ok)
	assert.Same(t, alice, removed)
	_, ok = r.ByName("alice")
	assert.False(t, ok)
	_, ok = r.Unregister("A")
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestRegistryWaitingForListsEveryMatch(t *testing.T) {
	r := NewRegistry()
	c := session(t, "C", "carol", "bob")
	a := session(t, "A", "alice", "bob")
	r.Register(c)
	r.Register(a)
	r.Register(session(t, "B", "bob", "bob"))

	assert.Equal(t, []*domain.Session{a, c}, r.WaitingFor("bob", "B"))
}

func TestRegistryRenameDropsOldName(t *testing.T) {
	r := NewRegistry()
	r.Register(session(t, "A", "alice", ""))
	r.Register(session(t, "A", "alicia", ""))

	_, ok := r.ByName("alice")
	assert.False(t, ok)
	_, ok = r.ByName("alicia")
	assert.True(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryUnregisterKeepsNewNameHolder(t *testing.T) {
	r := NewRegistry()
	r.Register(session(t, "A", "alice", ""))
	second := session(t, "B", "alice", "")
	r.Register(second)

	r.Unregister("A")

	got, ok := r.ByName("alice")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestRegistrySnapshotSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(session(t, "B", "bob", ""))
	alice := session(t, "A", "alice", "")
	alice.SetPeer("bob")
	r.Register(alice)

	assert.Equal(t, []SessionDTO{
		{ID: "A", Name: "alice", Peer: "bob"},
		{ID: "B", Name: "bob"},
	}, r.Snapshot())
}

type failingEndpoint struct {
	*coretest.Endpoint
	got []core.Candidate
}

func (f *failingEndpoint) AddICECandidate(c core.Candidate) error {
	f.got = append(f.got, c)
	if c.Candidate == "bad" {
		return errors.New("rejected")
	}
	return nil
}

func TestCandidateBufferDrainKeepsOrder(t *testing.T) {
	b := NewCandidateBuffer()
	for _, c := range []string{"c1", "bad", "c3"} {
		b.Enqueue("A", core.Candidate{Candidate: c})
	}
	b.Enqueue("B", core.Candidate{Candidate: "other"})
	require.Equal(t, 3, b.Len("A"))

	ep := &failingEndpoint{}
	n, err := b.DrainTo("A", ep)

	assert.Equal(t, 3, n)
	assert.Error(t, err)
	assert.Equal(t, []core.Candidate{{Candidate: "c1"}, {Candidate: "bad"}, {Candidate: "c3"}}, ep.got)
	assert.Zero(t, b.Len("A"))
	assert.Equal(t, 1, b.Len("B"))

	n, err = b.DrainTo("A", ep)
	assert.Zero(t, n)
	assert.NoError(t, err)
}

func TestCandidateBufferClear(t *testing.T) {
	b := NewCandidateBuffer()
	b.Enqueue("A", core.Candidate{Candidate: "c1"})
	b.Clear("A")
	assert.Zero(t, b.Len("A"))
}

func TestCallRegistry(t *testing.T) {
	engine, n := coretest.NewEngine(), coretest.NewNotifier()
	p1 := call.NewPair(engine, n, call.Config{}, call.Hooks{},
		call.Participant{SID: "A"}, call.Participant{SID: "B"}, 0)
	p2 := call.NewLoopback(engine, n, call.Config{}, call.Hooks{}, call.Participant{SID: "C"})

	r := NewCallRegistry()
	r.Bind("A", p1)
	r.Bind("B", p1)
	r.Bind("C", p2)
	assert.Equal(t, 3, r.Len())
	assert.ElementsMatch(t, []*call.Pipeline{p1, p2}, r.Pipelines())
	assert.True(t, r.Owns("A", p1))
	assert.False(t, r.Owns("A", p2))

	assert.False(t, r.RemoveIf("A", p2))
	assert.True(t, r.RemoveIf("A", p1))
	_, ok := r.Get("A")
	assert.False(t, ok)

	r.Remove("B")
	assert.Equal(t, 1, r.Len())
	r.Clear()
	assert.Zero(t, r.Len())
}

func TestSimplePolicy(t *testing.T) {
	var p SimplePolicy
	assert.Equal(t, CloseConnection, p.OnDeliveryFailure("A", domain.DeliveryError(core.ErrBackpressure)))
	assert.Equal(t, DropMessage, p.OnDeliveryFailure("A", core.ErrConnClosed))
}
