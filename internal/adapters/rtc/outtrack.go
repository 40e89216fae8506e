package rtc

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateDelete
)

// RTPWriter is anything media can be forwarded to: a local track or a file sink.
type RTPWriter interface {
	WriteRTP(*rtp.Packet) error
}

// OutTrack is a single forwarding target of a Relay.
type OutTrack struct {
	w       RTPWriter
	onFirst func()
	wrote   atomic.Bool
	state   atomic.Int32 // Zero by default (TrackStateOk)
}

// NewOutTrack wraps w; onFirst, if set, runs after the first successful write.
func NewOutTrack(w RTPWriter, onFirst func()) *OutTrack {
	return &OutTrack{w: w, onFirst: onFirst}
}

func (ot *OutTrack) Write(pkt *rtp.Packet) error {
	if err := ot.w.WriteRTP(pkt); err != nil {
		return err
	}
	if ot.onFirst != nil && !ot.wrote.Swap(true) {
		ot.onFirst()
	}
	return nil
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}
