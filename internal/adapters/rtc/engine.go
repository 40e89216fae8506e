// Package rtc is the in-process media engine built on pion. A pipeline is a
// set of PeerConnections that forward RTP to each other and to recorders.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/one2one/internal/core"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const Version = "pion/webrtc/v4"

var (
	ErrPipelineReleased = errors.New("pipeline released")
	ErrForeignEndpoint  = errors.New("endpoint belongs to another engine")
	ErrEndpointClosed   = errors.New("endpoint closed")
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// WebRTCConfig builds a configuration from STUN/TURN URLs; none means the default STUN server.
func WebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		return DefaultWebRTCConfig()
	}
	return webrtc.Configuration{ICEServers: []webrtc.ICEServer{{URLs: iceServers}}}
}

type Engine struct {
	api    *webrtc.API
	config webrtc.Configuration

	// recordsDir is the only directory recorders may write below.
	recordsDir string

	mu        sync.RWMutex
	pipelines map[string]*Pipeline
}

// NewEngine builds the pion API. recordsPath is the file:// prefix every
// recorder URI must stay under.
func NewEngine(config webrtc.Configuration, recordsPath string) (*Engine, error) {
	dir, err := core.RecordsDir(recordsPath)
	if err != nil {
		return nil, err
	}
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	return &Engine{
		api:        webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(registry)),
		config:     config,
		recordsDir: dir,
		pipelines:  make(map[string]*Pipeline),
	}, nil
}

func (e *Engine) CreatePipeline(ctx context.Context) (core.MediaPipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := &Pipeline{id: uuid.NewString(), engine: e}
	e.mu.Lock()
	e.pipelines[p.id] = p
	e.mu.Unlock()
	log.Debug().Str("module", "rtc").Str("pipeline", p.id).Msg("pipeline created")
	return p, nil
}

func (e *Engine) Info(ctx context.Context) (core.EngineInfo, error) {
	if err := ctx.Err(); err != nil {
		return core.EngineInfo{}, err
	}
	e.mu.RLock()
	pipelines := make([]*Pipeline, 0, len(e.pipelines))
	for _, p := range e.pipelines {
		pipelines = append(pipelines, p)
	}
	e.mu.RUnlock()
	slices.SortFunc(pipelines, func(a, b *Pipeline) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})

	info := core.EngineInfo{Version: Version, PipelinesNumber: len(pipelines), Pipelines: make([]core.PipelineInfo, 0, len(pipelines))}
	for _, p := range pipelines {
		info.Pipelines = append(info.Pipelines, core.PipelineInfo{ID: p.id, Children: p.children()})
	}
	return info, nil
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pipelines, id)
}
