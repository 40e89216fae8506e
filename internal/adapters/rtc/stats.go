package rtc

import (
	"sort"

	"github.com/dkeye/one2one/internal/core"
	"github.com/pion/webrtc/v4"
)

// convertStats keeps the RTP stream records of a report, sorted by id.
func convertStats(report webrtc.StatsReport) []core.Stat {
	out := make([]core.Stat, 0, len(report))
	for _, s := range report {
		switch st := s.(type) {
		case webrtc.InboundRTPStreamStats:
			out = append(out, inbound(st))
		case *webrtc.InboundRTPStreamStats:
			out = append(out, inbound(*st))
		case webrtc.OutboundRTPStreamStats:
			out = append(out, outbound(st))
		case *webrtc.OutboundRTPStreamStats:
			out = append(out, outbound(*st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func inbound(st webrtc.InboundRTPStreamStats) core.Stat {
	return core.Stat{
		ID:          st.ID,
		Type:        st.Kind + "_" + string(st.Type),
		Bytes:       st.BytesReceived,
		Packets:     uint64(st.PacketsReceived),
		PacketsLost: int64(st.PacketsLost),
	}
}

func outbound(st webrtc.OutboundRTPStreamStats) core.Stat {
	return core.Stat{
		ID:      st.ID,
		Type:    st.Kind + "_" + string(st.Type),
		Bytes:   st.BytesSent,
		Packets: uint64(st.PacketsSent),
	}
}
