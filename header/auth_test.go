package header_test

import (
	"strings"
	"testing"

	"github.com/ghettovoice/sipua/header"
)

func TestParseWWWAuthenticate(t *testing.T) {
	t.Parallel()

	hdr, err := header.ParseWWWAuthenticate(
		`Digest realm="atlanta.example", nonce="84a4cc6f3082121f32b42a2187831a9e", qop="auth,auth-int", opaque="", algorithm=MD5`,
	)
	if err != nil {
		t.Fatalf("header.ParseWWWAuthenticate() error = %v, want nil", err)
	}
	if hdr.Scheme != "Digest" {
		t.Errorf("Scheme = %q, want Digest", hdr.Scheme)
	}
	if realm, _ := hdr.Get("realm"); realm != "atlanta.example" {
		t.Errorf("realm = %q", realm)
	}
	if nonce, _ := hdr.Get("nonce"); nonce != "84a4cc6f3082121f32b42a2187831a9e" {
		t.Errorf("nonce = %q", nonce)
	}
	if qop, _ := hdr.Get("qop"); qop != "auth,auth-int" {
		t.Errorf("qop = %q", qop)
	}
	if alg, _ := hdr.Get("algorithm"); alg != "MD5" {
		t.Errorf("algorithm = %q", alg)
	}
}

func TestAuthorizationRender(t *testing.T) {
	t.Parallel()

	av := header.AuthValue{Scheme: "Digest"}
	av.Set("username", "bob")
	av.Set("realm", "atlanta.example")
	av.Set("nonce", "abc")
	av.Set("uri", "sip:atlanta.example")
	av.Set("response", "deadbeef")
	av.Set("qop", "auth")
	av.Set("nc", "00000001")
	av.Set("cnonce", "0a1b2c3d")
	hdr := &header.Authorization{AuthValue: av}

	got := hdr.RenderValue()
	if !strings.HasPrefix(got, `Digest username="bob", realm="atlanta.example", nonce="abc", uri="sip:atlanta.example", response="deadbeef"`) {
		t.Errorf("RenderValue() = %q, unexpected parameter order", got)
	}
	// qop is an unquoted token in credentials, nc follows it
	if !strings.Contains(got, "qop=auth, nc=00000001") {
		t.Errorf("RenderValue() = %q, want unquoted qop then nc", got)
	}
	if !strings.Contains(got, `cnonce="0a1b2c3d"`) {
		t.Errorf("RenderValue() = %q, want quoted cnonce", got)
	}
}

func TestChallengeRenderQuotesQop(t *testing.T) {
	t.Parallel()

	av := header.AuthValue{Scheme: "Digest"}
	av.Set("realm", "x")
	av.Set("nonce", "abc")
	av.Set("qop", "auth,auth-int")
	hdr := &header.WWWAuthenticate{AuthValue: av}

	if got := hdr.RenderValue(); !strings.Contains(got, `qop="auth,auth-int"`) {
		t.Errorf("RenderValue() = %q, want quoted qop in challenge", got)
	}
}

func TestAuthRoundTrip(t *testing.T) {
	t.Parallel()

	in := `Digest username="user", realm="x", nonce="abc", uri="sip:demo.example:5060", response="c54a9e56a334eddaa75004439824c538", algorithm=MD5`
	hdr, err := header.ParseAuthorization(in)
	if err != nil {
		t.Fatalf("header.ParseAuthorization() error = %v, want nil", err)
	}
	hdr2, err := header.ParseAuthorization(hdr.RenderValue())
	if err != nil {
		t.Fatalf("re-parse error = %v, want nil", err)
	}
	if !hdr.Equal(hdr2) {
		t.Errorf("round-trip mismatch: %q vs %q", hdr.RenderValue(), hdr2.RenderValue())
	}
}
