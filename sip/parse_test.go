package sip_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/ghettovoice/sipua/sip"
)

const inviteWire = "INVITE sip:bob@biloxi.example SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP pc33.atlanta.example;branch=z9hG4bK776asdhds\r\n" +
	"Max-Forwards: 70\r\n" +
	"To: <sip:bob@biloxi.example>\r\n" +
	"From: \"Alice\" <sip:alice@atlanta.example>;tag=1928301774\r\n" +
	"Call-ID: a84b4c76e66710@pc33.atlanta.example\r\n" +
	"CSeq: 314159 INVITE\r\n" +
	"Contact: <sip:alice@pc33.atlanta.example>\r\n" +
	"X-Asterisk-Info: retained verbatim\r\n" +
	"Content-Type: application/sdp\r\n" +
	"Content-Length: 4\r\n" +
	"\r\n" +
	"v=0\n"

func TestParseMessageRequest(t *testing.T) {
	t.Parallel()

	msg, err := sip.ParseMessage([]byte(inviteWire))
	if err != nil {
		t.Fatalf("sip.ParseMessage() error = %v, want nil", err)
	}
	req, ok := msg.(*sip.Request)
	if !ok {
		t.Fatalf("parsed %T, want *sip.Request", msg)
	}

	if req.Method != sip.RequestMethodInvite {
		t.Errorf("Method = %q, want INVITE", req.Method)
	}
	if req.URI.User != "bob" || req.URI.Addr.Host != "biloxi.example" {
		t.Errorf("URI = %v", req.URI)
	}
	if hop, ok := req.Headers.FirstViaHop(); !ok {
		t.Error("missing Via hop")
	} else if branch, _ := hop.Branch(); branch != "z9hG4bK776asdhds" {
		t.Errorf("branch = %q", branch)
	}
	if cseq, _ := req.Headers.CSeq(); cseq.Seq != 314159 {
		t.Errorf("CSeq = %v", cseq)
	}
	if from, _ := req.Headers.From(); from.DisplayName != "Alice" {
		t.Errorf("From display name = %q", from.DisplayName)
	}
	if string(req.Body) != "v=0\n" {
		t.Errorf("Body = %q, want %q", req.Body, "v=0\n")
	}

	// unknown header retained verbatim
	custom := req.Headers.Get("X-Asterisk-Info")
	if len(custom) != 1 || custom[0].RenderValue() != "retained verbatim" {
		t.Errorf("X-Asterisk-Info = %v", custom)
	}
}

func TestParseMessageResponse(t *testing.T) {
	t.Parallel()

	wire := "SIP/2.0 180 Ringing\r\n" +
		"Via: SIP/2.0/UDP pc33.atlanta.example;branch=z9hG4bK776asdhds\r\n" +
		"To: <sip:bob@biloxi.example>;tag=a6c85cf\r\n" +
		"From: <sip:alice@atlanta.example>;tag=1928301774\r\n" +
		"Call-ID: a84b4c76e66710@pc33.atlanta.example\r\n" +
		"CSeq: 314159 INVITE\r\n" +
		"Content-Length: 0\r\n" +
		"\r\n"

	msg, err := sip.ParseMessage([]byte(wire))
	if err != nil {
		t.Fatalf("sip.ParseMessage() error = %v, want nil", err)
	}
	res, ok := msg.(*sip.Response)
	if !ok {
		t.Fatalf("parsed %T, want *sip.Response", msg)
	}
	if res.Status != sip.ResponseStatusRinging {
		t.Errorf("Status = %d, want 180", res.Status)
	}
	if to, _ := res.Headers.To(); to != nil {
		if tag, _ := to.Tag(); tag != "a6c85cf" {
			t.Errorf("To tag = %q", tag)
		}
	}
}

func TestParseMessageCompactForms(t *testing.T) {
	t.Parallel()

	wire := "OPTIONS sip:bob@biloxi.example SIP/2.0\r\n" +
		"v: SIP/2.0/UDP host.example;branch=z9hG4bK1\r\n" +
		"t: <sip:bob@biloxi.example>\r\n" +
		"f: <sip:alice@atlanta.example>;tag=88\r\n" +
		"i: compact@host.example\r\n" +
		"CSeq: 1 OPTIONS\r\n" +
		"m: <sip:alice@host.example>\r\n" +
		"l: 0\r\n" +
		"\r\n"

	msg, err := sip.ParseMessage([]byte(wire))
	if err != nil {
		t.Fatalf("sip.ParseMessage() error = %v, want nil", err)
	}

	hdrs := msg.GetHeaders()
	if callID, ok := hdrs.CallID(); !ok || callID != "compact@host.example" {
		t.Errorf("CallID = %q, %v", callID, ok)
	}
	if _, ok := hdrs.Contact(); !ok {
		t.Error("missing Contact parsed from compact form")
	}

	// compact forms are never emitted outbound
	rendered := msg.Render(nil)
	for _, name := range []string{"Via:", "To:", "From:", "Call-ID:", "Contact:", "Content-Length:"} {
		if !strings.Contains(rendered, name) {
			t.Errorf("rendered message misses canonical %q header:\n%s", name, rendered)
		}
	}
}

func TestParseMessageContinuationLine(t *testing.T) {
	t.Parallel()

	wire := "OPTIONS sip:bob@biloxi.example SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP host.example\r\n" +
		" ;branch=z9hG4bK1\r\n" +
		"To: <sip:bob@biloxi.example>\r\n" +
		"From: <sip:alice@atlanta.example>;tag=88\r\n" +
		"Call-ID: cont@host.example\r\n" +
		"CSeq: 1 OPTIONS\r\n" +
		"Content-Length: 0\r\n" +
		"\r\n"

	msg, err := sip.ParseMessage([]byte(wire))
	if err != nil {
		t.Fatalf("sip.ParseMessage() error = %v, want nil", err)
	}
	hop, ok := msg.GetHeaders().FirstViaHop()
	if !ok {
		t.Fatal("missing Via hop")
	}
	if branch, _ := hop.Branch(); branch != "z9hG4bK1" {
		t.Errorf("branch from folded Via = %q, want z9hG4bK1", branch)
	}
}

// The parser and renderer reach a fixed point: rendering a parsed
// message and parsing it back yields the identical wire form.
func TestParseRenderRoundTrip(t *testing.T) {
	t.Parallel()

	msg, err := sip.ParseMessage([]byte(inviteWire))
	if err != nil {
		t.Fatalf("sip.ParseMessage() error = %v, want nil", err)
	}
	first := msg.Render(nil)

	msg2, err := sip.ParseMessage([]byte(first))
	if err != nil {
		t.Fatalf("re-parse error = %v, want nil", err)
	}
	second := msg2.Render(nil)

	if first != second {
		t.Errorf("round-trip mismatch:\n%q\nvs\n%q", first, second)
	}
	if !strings.HasSuffix(strings.SplitN(first, "\r\n\r\n", 2)[0]+"\r\n", "Content-Length: 4\r\n") {
		t.Errorf("Content-Length not rendered last:\n%q", first)
	}
	if !strings.HasPrefix(first, "INVITE sip:bob@biloxi.example SIP/2.0\r\nVia:") {
		t.Errorf("Via not rendered first:\n%q", first)
	}
}

func TestParseMessageErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		wire string
		kind sip.ParseErrorKind
	}{
		{
			"malformed start line",
			"NOT-SIP\r\n\r\n",
			sip.ParseErrorStartLine,
		},
		{
			"truncated body",
			"OPTIONS sip:b@h.example SIP/2.0\r\n" +
				"Via: SIP/2.0/UDP h.example;branch=z9hG4bK1\r\n" +
				"To: <sip:b@h.example>\r\nFrom: <sip:a@h.example>;tag=1\r\n" +
				"Call-ID: x@h.example\r\nCSeq: 1 OPTIONS\r\n" +
				"Content-Length: 10\r\n\r\nshort",
			sip.ParseErrorBody,
		},
		{
			"missing mandatory headers",
			"OPTIONS sip:b@h.example SIP/2.0\r\n" +
				"Via: SIP/2.0/UDP h.example;branch=z9hG4bK1\r\n" +
				"Content-Length: 0\r\n\r\n",
			sip.ParseErrorHeaders,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := sip.ParseMessage([]byte(tc.wire))
			if err == nil {
				t.Fatal("sip.ParseMessage() error = nil, want error")
			}
			if !errors.Is(err, sip.ErrParse) {
				t.Fatalf("error %v does not wrap sip.ErrParse", err)
			}
			var perr *sip.ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("error %T is not *sip.ParseError", err)
			}
			if perr.Kind != tc.kind {
				t.Errorf("Kind = %q, want %q", perr.Kind, tc.kind)
			}
		})
	}
}
