package rtc

import (
	"context"
	"testing"

	"github.com/dkeye/one2one/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(webrtc.Configuration{}, "file://"+t.TempDir()+"/")
	require.NoError(t, err)
	return e
}

func TestEngineInfoTracksPipelines(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	p, err := e.CreatePipeline(ctx)
	require.NoError(t, err)
	ep, err := p.CreateEndpoint(ctx, core.EndpointOptions{Label: "caller:alice"})
	require.NoError(t, err)

	info, err := e.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, Version, info.Version)
	require.Equal(t, 1, info.PipelinesNumber)
	assert.Equal(t, p.ID(), info.Pipelines[0].ID)
	assert.Equal(t, []string{ep.ID()}, info.Pipelines[0].Children)

	require.NoError(t, p.Release())
	require.NoError(t, p.Release())

	info, err = e.Info(ctx)
	require.NoError(t, err)
	assert.Zero(t, info.PipelinesNumber)

	_, err = p.CreateEndpoint(ctx, core.EndpointOptions{})
	assert.ErrorIs(t, err, ErrPipelineReleased)
}

func TestEndpointHoldsCandidatesUntilOffer(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	p, err := e.CreatePipeline(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Release() })

	raw, err := p.CreateEndpoint(ctx, core.EndpointOptions{})
	require.NoError(t, err)
	ep := raw.(*Endpoint)

	mid := "0"
	require.NoError(t, ep.AddICECandidate(core.Candidate{Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host", SDPMid: &mid}))
	require.NoError(t, ep.AddICECandidate(core.Candidate{Candidate: "candidate:2 1 udp 2130706431 192.0.2.2 50001 typ host", SDPMid: &mid}))

	ep.candMu.Lock()
	defer ep.candMu.Unlock()
	assert.Len(t, ep.pending, 2)
	assert.False(t, ep.remoteSet)
}

func TestConnectAddsTracksToSink(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	p, err := e.CreatePipeline(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Release() })

	a, err := p.CreateEndpoint(ctx, core.EndpointOptions{})
	require.NoError(t, err)
	b, err := p.CreateEndpoint(ctx, core.EndpointOptions{})
	require.NoError(t, err)

	require.NoError(t, a.Connect(ctx, b))

	src, dst := a.(*Endpoint), b.(*Endpoint)
	assert.Len(t, dst.pc.GetTransceivers(), 2)
	assert.Equal(t, 1, src.relays[webrtc.RTPCodecTypeAudio].Len())
	assert.Equal(t, 1, src.relays[webrtc.RTPCodecTypeVideo].Len())
}

type otherEndpoint struct{ core.Endpoint }

func TestConnectRejectsForeignEndpoint(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	p, err := e.CreatePipeline(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Release() })

	a, err := p.CreateEndpoint(ctx, core.EndpointOptions{})
	require.NoError(t, err)
	assert.ErrorIs(t, a.Connect(ctx, otherEndpoint{}), ErrForeignEndpoint)
}

func TestProcessOfferAnswersWithBandwidthCeiling(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	p, err := e.CreatePipeline(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Release() })

	ep, err := p.CreateEndpoint(ctx, core.EndpointOptions{MaxBandwidth: 300})
	require.NoError(t, err)
	require.NoError(t, ep.Connect(ctx, ep))

	client, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	_, err = client.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio)
	require.NoError(t, err)
	_, err = client.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo)
	require.NoError(t, err)
	offer, err := client.CreateOffer(nil)
	require.NoError(t, err)

	answer, err := ep.ProcessOffer(ctx, offer.SDP)
	require.NoError(t, err)
	assert.Contains(t, answer, "b=AS:300")
	assert.Contains(t, answer, "b=TIAS:300000")

	src := ep.(*Endpoint)
	src.candMu.Lock()
	assert.True(t, src.remoteSet)
	src.candMu.Unlock()
}
