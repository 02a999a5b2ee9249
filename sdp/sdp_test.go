package sdp_test

import (
	"strings"
	"testing"

	"github.com/ghettovoice/sipua/sdp"
)

func TestNewAudioOfferRender(t *testing.T) {
	t.Parallel()

	offer := sdp.NewAudioOffer("12345", "192.0.2.10", 40000)
	out := string(offer.Render())

	for _, want := range []string{
		"v=0\r\n",
		"o=- 12345 12345 IN IP4 192.0.2.10\r\n",
		"c=IN IP4 192.0.2.10\r\n",
		"m=audio 40000 RTP/AVP 0 8\r\n",
		"a=rtpmap:0 PCMU/8000\r\n",
		"a=rtpmap:8 PCMA/8000\r\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered offer misses %q:\n%s", want, out)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	offer := sdp.NewAudioOffer("999", "198.51.100.7", 42000, sdp.PCMU)
	parsed, err := sdp.Parse(offer.Render())
	if err != nil {
		t.Fatalf("sdp.Parse() error = %v, want nil", err)
	}

	if parsed.Address != "198.51.100.7" {
		t.Errorf("Address = %q", parsed.Address)
	}
	if len(parsed.Media) != 1 {
		t.Fatalf("len(Media) = %d, want 1", len(parsed.Media))
	}
	m := parsed.Media[0]
	if m.Type != "audio" || m.Port != 42000 || m.Proto != "RTP/AVP" {
		t.Errorf("media = %+v", m)
	}
	if len(m.Codecs) != 1 || m.Codecs[0].Name != "PCMU" || m.Codecs[0].Rate != 8000 {
		t.Errorf("codecs = %+v", m.Codecs)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	cases := []string{
		"not sdp at all",
		"v=0\r\ns=x\r\n", // no media
		"v=0\r\nm=audio nan RTP/AVP 0\r\n",
	}
	for _, tc := range cases {
		if _, err := sdp.Parse([]byte(tc)); err == nil {
			t.Errorf("sdp.Parse(%q) error = nil, want error", tc)
		}
	}
}
