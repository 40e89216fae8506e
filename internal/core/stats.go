package core

// Stat is one cumulative RTP counter record reported by an endpoint.
type Stat struct {
	ID          string
	Type        string
	Bytes       uint64
	Packets     uint64
	PacketsLost int64
}

// StatSample is a Stat enriched with the delta since the previous poll.
type StatSample struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	Bytes            uint64 `json:"bytes"`
	BytesTransferred uint64 `json:"bytesTransferred"`
	PacketsLost      int64  `json:"packetsLost"`
	Packets          uint64 `json:"packets"`
}
