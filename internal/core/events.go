package core

type EventKind int

const (
	EventICEComponentState EventKind = iota
	EventCandidatePairSelected
	EventICECandidate
	EventGatheringDone
	EventConnectionState
	EventMediaState
	EventMediaFlowIn
	EventMediaFlowOut
)

func (k EventKind) String() string {
	switch k {
	case EventICEComponentState:
		return "IceComponentStateChange"
	case EventCandidatePairSelected:
		return "NewCandidatePairSelected"
	case EventICECandidate:
		return "IceCandidateFound"
	case EventGatheringDone:
		return "IceGatheringDone"
	case EventConnectionState:
		return "ConnectionStateChanged"
	case EventMediaState:
		return "MediaStateChanged"
	case EventMediaFlowIn:
		return "MediaFlowInStateChange"
	case EventMediaFlowOut:
		return "MediaFlowOutStateChange"
	default:
		return "Unknown"
	}
}

// Event is a lifecycle or quality event raised by an Endpoint.
// Only the fields meaningful for Kind are set.
type Event struct {
	Kind      EventKind
	Source    string
	State     string
	OldState  string
	MediaType string

	Candidate       *Candidate
	LocalCandidate  string
	RemoteCandidate string
}

const (
	MediaStateConnected    = "CONNECTED"
	MediaStateDisconnected = "DISCONNECTED"
	FlowStateFlowing       = "FLOWING"
	FlowStateNotFlowing    = "NOT_FLOWING"
)
