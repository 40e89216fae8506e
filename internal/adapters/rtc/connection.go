package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/one2one/internal/core"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Endpoint is one PeerConnection inside a pipeline. Remote candidates that
// arrive before the offer are held until the remote description is set.
type Endpoint struct {
	id           string
	label        string
	maxBandwidth int
	pc           *webrtc.PeerConnection
	logger       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	candMu    sync.Mutex
	pending   []webrtc.ICECandidateInit
	remoteSet bool

	mu        sync.Mutex
	subs      map[int]func(core.Event)
	nextSub   int
	connState string
	media     bool

	relays map[webrtc.RTPCodecType]*Relay
}

func newEndpoint(id string, opts core.EndpointOptions, pc *webrtc.PeerConnection) *Endpoint {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Endpoint{
		id:           id,
		label:        opts.Label,
		maxBandwidth: opts.MaxBandwidth,
		pc:           pc,
		logger:       log.With().Str("module", "rtc").Str("endpoint", id).Str("label", opts.Label).Logger(),
		ctx:          ctx,
		cancel:       cancel,
		subs:         make(map[int]func(core.Event)),
		connState:    core.MediaStateDisconnected,
		relays: map[webrtc.RTPCodecType]*Relay{
			webrtc.RTPCodecTypeAudio: NewRelay(webrtc.RTPCodecTypeAudio),
			webrtc.RTPCodecTypeVideo: NewRelay(webrtc.RTPCodecTypeVideo),
		},
	}
	e.bind()
	return e
}

func (e *Endpoint) ID() string { return e.id }

func (e *Endpoint) bind() {
	e.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		e.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
		e.emit(core.Event{Kind: core.EventICEComponentState, State: s.String()})
	})

	e.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			e.emit(core.Event{Kind: core.EventGatheringDone})
			return
		}
		init := c.ToJSON()
		e.emit(core.Event{Kind: core.EventICECandidate, Candidate: &init})
	})

	e.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		e.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		state := connectionState(s)
		if state == "" {
			return
		}
		e.mu.Lock()
		old := e.connState
		e.connState = state
		e.mu.Unlock()
		if old != state {
			e.emit(core.Event{Kind: core.EventConnectionState, State: state, OldState: old})
		}
	})

	e.pc.SCTP().Transport().ICETransport().OnSelectedCandidatePairChange(func(pair *webrtc.ICECandidatePair) {
		ev := core.Event{Kind: core.EventCandidatePairSelected}
		if pair.Local != nil {
			ev.LocalCandidate = pair.Local.String()
		}
		if pair.Remote != nil {
			ev.RemoteCandidate = pair.Remote.String()
		}
		e.emit(ev)
	})

	e.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("codec", track.Codec().MimeType).
			Msg("OnTrack received")
		e.onTrack(track)
	})
}

func connectionState(s webrtc.PeerConnectionState) string {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return core.MediaStateConnected
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		return core.MediaStateDisconnected
	}
	return ""
}

func (e *Endpoint) onTrack(track *webrtc.TrackRemote) {
	e.mu.Lock()
	first := !e.media
	e.media = true
	e.mu.Unlock()
	if first {
		e.emit(core.Event{Kind: core.EventMediaState, State: core.MediaStateConnected, OldState: core.MediaStateDisconnected})
	}

	relay, ok := e.relays[track.Kind()]
	if !ok {
		return
	}
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		e.requestKeyframe(track.SSRC())
	}
	kind := track.Kind().String()
	logger := e.logger.With().Str("kind", kind).Logger()
	go relay.loop(e.ctx, track, &logger, func(state string) {
		e.emit(core.Event{Kind: core.EventMediaFlowIn, State: state, MediaType: mediaType(kind)})
	})
}

// Connect adds an audio and a video track to sink and forwards this
// endpoint's incoming media into them. It must run before sink answers.
func (e *Endpoint) Connect(ctx context.Context, sink core.Endpoint) error {
	dst, ok := sink.(*Endpoint)
	if !ok {
		return fmt.Errorf("%w: %T", ErrForeignEndpoint, sink)
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if err := ctx.Err(); err != nil {
			return err
		}
		track, err := webrtc.NewTrackLocalStaticRTP(capability(kind), kind.String(), e.id)
		if err != nil {
			return fmt.Errorf("new %s track: %w", kind, err)
		}
		sender, err := dst.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", kind, err)
		}
		go e.readSenderRTCP(sender)

		mt := mediaType(kind.String())
		e.relays[kind].AddOutTrack(dst.id, NewOutTrack(track, func() {
			dst.emit(core.Event{Kind: core.EventMediaFlowOut, State: core.FlowStateFlowing, MediaType: mt})
		}))
	}
	e.logger.Info().Str("sink", dst.id).Msg("connected")
	return nil
}

// readSenderRTCP drains RTCP of an outgoing track and turns keyframe
// requests from the receiving peer into requests to this endpoint's sender.
func (e *Endpoint) readSenderRTCP(sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				if ssrc, ok := e.relays[webrtc.RTPCodecTypeVideo].SSRC(); ok {
					e.requestKeyframe(ssrc)
				}
			}
		}
	}
}

func (e *Endpoint) requestKeyframe(ssrc webrtc.SSRC) {
	err := e.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}})
	if err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Debug().Err(err).Msg("send PLI")
	}
}

func (e *Endpoint) AddICECandidate(c core.Candidate) error {
	e.candMu.Lock()
	defer e.candMu.Unlock()
	if !e.remoteSet {
		e.pending = append(e.pending, c)
		return nil
	}
	return e.pc.AddICECandidate(c)
}

func (e *Endpoint) flushPending() error {
	e.candMu.Lock()
	defer e.candMu.Unlock()
	e.remoteSet = true
	var errs []error
	for _, c := range e.pending {
		errs = append(errs, e.pc.AddICECandidate(c))
	}
	e.pending = nil
	return errors.Join(errs...)
}

func (e *Endpoint) ProcessOffer(ctx context.Context, offer string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := e.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	if err := e.flushPending(); err != nil {
		e.logger.Warn().Err(err).Msg("apply pending candidates")
	}
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	sdp := answer.SDP
	if local := e.pc.LocalDescription(); local != nil {
		sdp = local.SDP
	}
	if e.maxBandwidth > 0 {
		return LimitBandwidth(sdp, e.maxBandwidth)
	}
	return sdp, nil
}

func (e *Endpoint) GatherCandidates(ctx context.Context) error {
	select {
	case <-webrtc.GatheringCompletePromise(e.pc):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Endpoint) Stats(ctx context.Context) ([]core.Stat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
		return nil, ErrEndpointClosed
	}
	return convertStats(e.pc.GetStats()), nil
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

func (e *Endpoint) emit(ev core.Event) {
	ev.Source = e.id
	e.mu.Lock()
	subs := make([]func(core.Event), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (e *Endpoint) Close() error {
	e.cancel()
	for _, r := range e.relays {
		r.markAllDelete()
	}
	if err := e.pc.Close(); err != nil {
		e.logger.Error().Err(err).Msg("close error")
		return err
	}
	e.logger.Info().Msg("closed")
	return nil
}

func capability(kind webrtc.RTPCodecType) webrtc.RTPCodecCapability {
	if kind == webrtc.RTPCodecTypeVideo {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

func mediaType(kind string) string {
	if kind == "video" {
		return "VIDEO"
	}
	return "AUDIO"
}
