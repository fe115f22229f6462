package ice

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// FilterDialable drops TURN entries that lack complete credentials. The
// credential endpoint may describe TURN servers whose credentials are minted
// per request; if an entry slips through without them, pion refuses to build
// the PeerConnection, so such entries are removed rather than passed along.
func FilterDialable(servers []webrtc.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, server := range servers {
		if !hasTURNURL(server) {
			out = append(out, server)
			continue
		}
		if strings.TrimSpace(server.Username) == "" {
			continue
		}
		cred, ok := server.Credential.(string)
		if !ok || strings.TrimSpace(cred) == "" {
			continue
		}
		out = append(out, server)
	}
	return out
}

func hasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		url := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			return true
		}
	}
	return false
}
