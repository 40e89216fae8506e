package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Candidate is a connectivity (ICE) candidate exchanged over signaling.
type Candidate = webrtc.ICECandidateInit

// MediaEngine is the external media server. The broker never processes media itself.
type MediaEngine interface {
	CreatePipeline(ctx context.Context) (MediaPipeline, error)
	// Info returns engine-level diagnostics for status queries.
	Info(ctx context.Context) (EngineInfo, error)
}

// MediaPipeline owns the engine-side elements of one call.
// Release must free every endpoint and recorder created through it.
type MediaPipeline interface {
	ID() string
	CreateEndpoint(ctx context.Context, opts EndpointOptions) (Endpoint, error)
	CreateRecorder(ctx context.Context, uri string) (Recorder, error)
	Release() error
}

type EndpointOptions struct {
	// Label shows up in engine diagnostics.
	Label string
	// MaxBandwidth is a ceiling in kbps, 0 means unlimited.
	MaxBandwidth int
}

// Endpoint is the engine-side media terminus of one participant.
type Endpoint interface {
	ID() string
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(Candidate) error
	// ProcessOffer applies a remote offer and returns the SDP answer.
	ProcessOffer(ctx context.Context, offer string) (string, error)
	// GatherCandidates blocks until local candidate gathering is complete.
	GatherCandidates(ctx context.Context) error
	// Connect forwards media received by this endpoint into sink.
	Connect(ctx context.Context, sink Endpoint) error
	Stats(ctx context.Context) ([]Stat, error)
	// Subscribe registers fn for every lifecycle event of the endpoint.
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Recorder is a recording sink fed by one endpoint.
type Recorder interface {
	ID() string
	Record(ctx context.Context, src Endpoint) error
	Stop() error
}

type EngineInfo struct {
	Version         string         `json:"version"`
	PipelinesNumber int            `json:"pipelinesNumber"`
	Pipelines       []PipelineInfo `json:"pipelines"`
}

type PipelineInfo struct {
	ID       string   `json:"id"`
	Children []string `json:"childs"`
}
