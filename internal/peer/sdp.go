package peer

import "strings"

const (
	opusDTX            = "usedtx=1"
	opusMinPtime       = "minptime=10"
	opusMaxAvgBitrate  = "maxaveragebitrate=64000"
	opusFECParam       = "useinbandfec=1"
	sdpLineSeparator   = "\r\n"
	fmtpAttributePrefx = "a=fmtp:"
)

// PatchVoiceSDP tunes the opus fmtp parameters of an offer for voice calls:
// DTX keeps the uplink quiet during silence, a 10ms minimum packet time keeps
// latency down and the average bitrate is capped at 64kbps. The patch is
// textual because the parameters are negotiated inside the fmtp line, not
// through any session API. Idempotent, so re-offers (ICE restarts) can pass
// through it again safely.
func PatchVoiceSDP(sdp string) string {
	lines := strings.Split(sdp, sdpLineSeparator)
	for i, line := range lines {
		if !strings.HasPrefix(line, fmtpAttributePrefx) || !strings.Contains(line, opusFECParam) {
			continue
		}
		for _, param := range []string{opusDTX, opusMinPtime, opusMaxAvgBitrate} {
			if !hasFmtpParam(line, param) {
				line += ";" + param
			}
		}
		lines[i] = line
	}
	return strings.Join(lines, sdpLineSeparator)
}

// hasFmtpParam matches on the parameter key so an existing minptime=20 is
// left alone rather than doubled up.
func hasFmtpParam(line, param string) bool {
	key := param[:strings.IndexByte(param, '=')+1]
	return strings.Contains(line, key)
}
