package header_test

import (
	"testing"

	"github.com/ghettovoice/sipua/header"
)

func TestCanonicName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want header.Name
	}{
		{"via", "Via"},
		{"v", "Via"},
		{"i", "Call-ID"},
		{"call-id", "Call-ID"},
		{"cseq", "CSeq"},
		{"m", "Contact"},
		{"f", "From"},
		{"t", "To"},
		{"l", "Content-Length"},
		{"c", "Content-Type"},
		{"s", "Subject"},
		{"k", "Supported"},
		{"www-authenticate", "WWW-Authenticate"},
		{"x-custom-header", "X-Custom-Header"},
	}
	for _, tc := range cases {
		if got := header.CanonicName(tc.in); got != tc.want {
			t.Errorf("CanonicName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseDispatch(t *testing.T) {
	t.Parallel()

	hdrs, err := header.Parse("v", "SIP/2.0/UDP host.example;branch=z9hG4bK1")
	if err != nil {
		t.Fatalf("header.Parse() error = %v, want nil", err)
	}
	if _, ok := hdrs[0].(header.Via); !ok {
		t.Fatalf("compact Via parsed as %T, want header.Via", hdrs[0])
	}

	hdrs, err = header.Parse("X-Asterisk-Info", "some opaque value")
	if err != nil {
		t.Fatalf("header.Parse() error = %v, want nil", err)
	}
	anyHdr, ok := hdrs[0].(*header.Any)
	if !ok {
		t.Fatalf("unknown header parsed as %T, want *header.Any", hdrs[0])
	}
	if anyHdr.Value != "some opaque value" {
		t.Errorf("unknown header value = %q, want verbatim", anyHdr.Value)
	}
}

func TestParseCSeq(t *testing.T) {
	t.Parallel()

	cseq, err := header.ParseCSeq("4711 INVITE")
	if err != nil {
		t.Fatalf("header.ParseCSeq() error = %v, want nil", err)
	}
	if cseq.Seq != 4711 || cseq.Method != "INVITE" {
		t.Errorf("cseq = %v", cseq)
	}

	if _, err := header.ParseCSeq("INVITE"); err == nil {
		t.Error("header.ParseCSeq(INVITE) error = nil, want error")
	}
	if _, err := header.ParseCSeq("x INVITE"); err == nil {
		t.Error("header.ParseCSeq(x INVITE) error = nil, want error")
	}
}
