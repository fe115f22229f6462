package peer

import (
	"strings"
	"testing"
)

const sampleOfferSDP = "v=0\r\n" +
	"o=- 123 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=fmtp:111 minptime=10;useinbandfec=1\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"a=rtpmap:96 VP8/90000\r\n" +
	"a=fmtp:96 max-fr=30\r\n"

func TestPatchVoiceSDPAddsOpusParams(t *testing.T) {
	got := PatchVoiceSDP(sampleOfferSDP)

	var fmtpLine string
	for _, line := range strings.Split(got, "\r\n") {
		if strings.HasPrefix(line, "a=fmtp:111") {
			fmtpLine = line
		}
	}
	if fmtpLine == "" {
		t.Fatal("patched SDP lost the opus fmtp line")
	}
	for _, param := range []string{"usedtx=1", "maxaveragebitrate=64000", "useinbandfec=1"} {
		if !strings.Contains(fmtpLine, param) {
			t.Fatalf("fmtp line %q missing %q", fmtpLine, param)
		}
	}
	// The existing minptime must be kept, not duplicated.
	if strings.Count(fmtpLine, "minptime=") != 1 {
		t.Fatalf("fmtp line %q should carry exactly one minptime", fmtpLine)
	}
}

func TestPatchVoiceSDPLeavesVideoAlone(t *testing.T) {
	got := PatchVoiceSDP(sampleOfferSDP)
	for _, line := range strings.Split(got, "\r\n") {
		if strings.HasPrefix(line, "a=fmtp:96") && line != "a=fmtp:96 max-fr=30" {
			t.Fatalf("video fmtp line was modified: %q", line)
		}
	}
}

func TestPatchVoiceSDPIdempotent(t *testing.T) {
	once := PatchVoiceSDP(sampleOfferSDP)
	twice := PatchVoiceSDP(once)
	if once != twice {
		t.Fatalf("second patch changed the SDP:\nfirst:  %q\nsecond: %q", once, twice)
	}
}

func TestPatchVoiceSDPKeepsExistingMinPtime(t *testing.T) {
	in := "a=fmtp:111 minptime=20;useinbandfec=1"
	got := PatchVoiceSDP(in)
	if !strings.Contains(got, "minptime=20") {
		t.Fatalf("existing minptime overwritten: %q", got)
	}
	if strings.Contains(got, "minptime=10") {
		t.Fatalf("minptime duplicated: %q", got)
	}
}
