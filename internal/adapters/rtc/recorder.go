package rtc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dkeye/one2one/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnsupportedURI  = core.ErrUnsupportedURI
	ErrRecorderStopped = errors.New("recorder stopped")
)

// Recorder writes the video of its source endpoint to <path>.ivf and the
// audio to <path>.ogg.
type Recorder struct {
	id   string
	uri  string
	path string

	mu      sync.Mutex
	src     *Endpoint
	sinks   []*fileSink
	stopped bool
}

// newRecorder accepts only file:// URIs that stay below dir.
func newRecorder(id, dir, uri string) (*Recorder, error) {
	path, err := core.RecordPathWithin(dir, uri)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create records dir: %w", err)
	}
	return &Recorder{id: id, uri: uri, path: path}, nil
}

func (r *Recorder) ID() string { return r.id }

func (r *Recorder) Record(ctx context.Context, src core.Endpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ep, ok := src.(*Endpoint)
	if !ok {
		return fmt.Errorf("%w: %T", ErrForeignEndpoint, src)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrRecorderStopped
	}
	if r.src != nil {
		return nil
	}

	ivf, err := ivfwriter.New(r.path + ".ivf")
	if err != nil {
		return fmt.Errorf("open video file: %w", err)
	}
	ogg, err := oggwriter.New(r.path+".ogg", 48000, 2)
	if err != nil {
		_ = ivf.Close()
		return fmt.Errorf("open audio file: %w", err)
	}
	video, audio := &fileSink{f: ivf}, &fileSink{f: ogg}
	ep.relays[webrtc.RTPCodecTypeVideo].AddOutTrack(r.id, NewOutTrack(video, nil))
	ep.relays[webrtc.RTPCodecTypeAudio].AddOutTrack(r.id, NewOutTrack(audio, nil))
	r.src = ep
	r.sinks = []*fileSink{video, audio}
	log.Info().Str("module", "rtc").Str("recorder", r.id).Str("path", r.path).Msg("recording")
	return nil
}

func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil
	}
	r.stopped = true
	if r.src != nil {
		for _, relay := range r.src.relays {
			relay.RemoveOutTrack(r.id)
		}
	}
	var errs []error
	for _, s := range r.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

type mediaFile interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// fileSink serializes writes against Close; relays write from their own goroutine.
type fileSink struct {
	mu     sync.Mutex
	f      mediaFile
	closed bool
}

func (s *fileSink) WriteRTP(pkt *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrRecorderStopped
	}
	return s.f.WriteRTP(pkt)
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}
