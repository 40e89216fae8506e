package rtc

import (
	"errors"
	"sync"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	mu   sync.Mutex
	seqs []uint16
	err  error
}

func (w *captureWriter) WriteRTP(p *rtp.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.seqs = append(w.seqs, p.SequenceNumber)
	return nil
}

func (w *captureWriter) got() []uint16 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]uint16(nil), w.seqs...)
}

func TestRelayForwardsToEveryOutTrack(t *testing.T) {
	logger := zerolog.Nop()
	r := NewRelay(webrtc.RTPCodecTypeVideo)
	a, b := &captureWriter{}, &captureWriter{}
	firsts := 0
	r.AddOutTrack("a", NewOutTrack(a, func() { firsts++ }))
	r.AddOutTrack("b", NewOutTrack(b, nil))

	for seq := uint16(1); seq <= 3; seq++ {
		r.forward(&rtp.Packet{Header: rtp.Header{SequenceNumber: seq}}, &logger)
	}

	assert.Equal(t, []uint16{1, 2, 3}, a.got())
	assert.Equal(t, []uint16{1, 2, 3}, b.got())
	assert.Equal(t, 1, firsts)
}

func TestRelayDropsFailingAndDeletedTracks(t *testing.T) {
	logger := zerolog.Nop()
	r := NewRelay(webrtc.RTPCodecTypeAudio)
	ok := &captureWriter{}
	broken := &captureWriter{err: errors.New("closed pipe")}
	r.AddOutTrack("ok", NewOutTrack(ok, nil))
	r.AddOutTrack("broken", NewOutTrack(broken, nil))
	gone := NewOutTrack(&captureWriter{}, nil)
	r.AddOutTrack("gone", gone)
	gone.MarkDelete()

	r.forward(&rtp.Packet{Header: rtp.Header{SequenceNumber: 7}}, &logger)

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []uint16{7}, ok.got())
}

func TestRelayRemoveOutTrack(t *testing.T) {
	r := NewRelay(webrtc.RTPCodecTypeAudio)
	ot := NewOutTrack(&captureWriter{}, nil)
	r.AddOutTrack("x", ot)
	r.RemoveOutTrack("x")
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, TrackStateDelete, ot.GetState())

	_, ok := r.SSRC()
	require.False(t, ok)
}
