package rtc

import (
	"context"
	"maps"
	"sync"

	"github.com/dkeye/one2one/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Relay forwards one kind of incoming media of an endpoint to every
// attached OutTrack: sink endpoints and recorders.
type Relay struct {
	kind webrtc.RTPCodecType

	mu        sync.RWMutex
	src       *webrtc.TrackRemote
	outTracks map[string]*OutTrack
}

func NewRelay(kind webrtc.RTPCodecType) *Relay {
	return &Relay{
		kind:      kind,
		outTracks: make(map[string]*OutTrack),
	}
}

// loop reads RTP packets from src and forwards them to all OutTracks.
// flow receives FLOWING on the first packet and NOT_FLOWING on exit.
func (r *Relay) loop(ctx context.Context, src *webrtc.TrackRemote, logger *zerolog.Logger, flow func(state string)) {
	r.mu.Lock()
	r.src = src
	r.mu.Unlock()

	flowing := false
	defer func() {
		if flowing {
			flow(core.FlowStateNotFlowing)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("relay ctx done")
			return
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("relay read RTP stopped")
			return
		}
		if !flowing {
			flowing = true
			flow(core.FlowStateFlowing)
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	var dirty []string
	for id, ot := range snapshot {
		if ot.GetState() == TrackStateDelete {
			dirty = append(dirty, id)
			continue
		}
		if err := ot.Write(pkt); err != nil {
			logger.Warn().Err(err).Str("dst", id).Msg("relay write RTP error, marking outtrack as delete")
			ot.MarkDelete()
			dirty = append(dirty, id)
		}
	}

	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		if ot, ok := r.outTracks[id]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, id)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

// AddOutTrack attaches ot under id, replacing a previous one.
func (r *Relay) AddOutTrack(id string, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.outTracks[id]; ok {
		old.MarkDelete()
	}
	r.outTracks[id] = ot
}

func (r *Relay) RemoveOutTrack(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ot, ok := r.outTracks[id]; ok {
		ot.MarkDelete()
		delete(r.outTracks, id)
	}
}

func (r *Relay) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outTracks)
}

// SSRC of the source track, once media has arrived.
func (r *Relay) SSRC() (webrtc.SSRC, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.src == nil {
		return 0, false
	}
	return r.src.SSRC(), true
}
