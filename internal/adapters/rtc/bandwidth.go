package rtc

import (
	"fmt"
	"slices"

	"github.com/pion/sdp/v3"
)

// LimitBandwidth advertises a ceiling of kbps on every video section of an
// SDP, as b=AS (kbps) and b=TIAS (bps).
func LimitBandwidth(raw string, kbps int) (string, error) {
	if kbps <= 0 {
		return raw, nil
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return "", fmt.Errorf("parse sdp: %w", err)
	}
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media != "video" {
			continue
		}
		m.Bandwidth = slices.DeleteFunc(m.Bandwidth, func(b sdp.Bandwidth) bool {
			return b.Type == "AS" || b.Type == "TIAS"
		})
		m.Bandwidth = append(m.Bandwidth,
			sdp.Bandwidth{Type: "AS", Bandwidth: uint64(kbps)},
			sdp.Bandwidth{Type: "TIAS", Bandwidth: uint64(kbps) * 1000},
		)
	}
	out, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal sdp: %w", err)
	}
	return string(out), nil
}
