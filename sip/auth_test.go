package sip_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/ghettovoice/sipua/header"
	"github.com/ghettovoice/sipua/sip"
	"github.com/ghettovoice/sipua/uri"
)

func newChallengeRes(t *testing.T, status sip.ResponseStatus, challenge string) *sip.Response {
	t.Helper()

	req := newOutReq(t, sip.RequestMethodRegister, "z9hG4bKauth1")
	res := sip.NewResponse(req.Request, status)
	switch status {
	case sip.ResponseStatusUnauthorized:
		hdr, err := header.ParseWWWAuthenticate(challenge)
		if err != nil {
			t.Fatalf("header.ParseWWWAuthenticate() error = %v, want nil", err)
		}
		res.Headers.Append(hdr)
	case sip.ResponseStatusProxyAuthenticationRequired:
		hdr, err := header.ParseProxyAuthenticate(challenge)
		if err != nil {
			t.Fatalf("header.ParseProxyAuthenticate() error = %v, want nil", err)
		}
		res.Headers.Append(hdr)
	}
	return res
}

func TestChallengeFromResponse(t *testing.T) {
	t.Parallel()

	res := newChallengeRes(t, sip.ResponseStatusUnauthorized,
		`Digest realm="x", nonce="abc", qop="auth", opaque="xyz"`)

	ch, err := sip.ChallengeFromResponse(res)
	if err != nil {
		t.Fatalf("sip.ChallengeFromResponse() error = %v, want nil", err)
	}
	if ch.Realm != "x" || ch.Nonce != "abc" || ch.Opaque != "xyz" {
		t.Errorf("challenge = %+v", ch)
	}
	if ch.Algorithm != "MD5" {
		t.Errorf("Algorithm = %q, want default MD5", ch.Algorithm)
	}
	if !ch.SupportsQopAuth() {
		t.Error("SupportsQopAuth() = false")
	}
	if ch.Proxy {
		t.Error("Proxy = true for 401")
	}
}

func TestChallengeFromResponseUnsupported(t *testing.T) {
	t.Parallel()

	cases := []string{
		`Basic realm="x"`,
		`Digest realm="x", nonce="abc", algorithm=SHA-256`,
		`Digest nonce="abc"`,
	}
	for _, tc := range cases {
		res := newChallengeRes(t, sip.ResponseStatusUnauthorized, tc)
		if _, err := sip.ChallengeFromResponse(res); !errors.Is(err, sip.ErrUnsupportedChallenge) {
			t.Errorf("challenge %q: error = %v, want ErrUnsupportedChallenge", tc, err)
		}
	}
}

func TestAuthorizeRequestLegacy(t *testing.T) {
	t.Parallel()

	creds := &sip.CredentialStore{}
	creds.Put(sip.Credential{Realm: "x", Username: "user", Password: "pass"})
	az := sip.NewAuthorizer(creds)

	target, _ := uri.Parse("sip:demo.example:5060")
	req := newOutReq(t, sip.RequestMethodRegister, "z9hG4bKoriginal1234").Request
	req.URI = target

	origBranch := "z9hG4bKoriginal1234"

	if err := az.AuthorizeRequest(req, sip.Challenge{
		Scheme: "Digest", Realm: "x", Nonce: "abc", Algorithm: "MD5",
	}); err != nil {
		t.Fatalf("az.AuthorizeRequest() error = %v, want nil", err)
	}

	hdrs := req.Headers.Get("Authorization")
	if len(hdrs) != 1 {
		t.Fatalf("len(Authorization) = %d, want 1", len(hdrs))
	}
	value := hdrs[0].RenderValue()
	// response computed per RFC 2617 without qop
	if !strings.Contains(value, `response="c54a9e56a334eddaa75004439824c538"`) {
		t.Errorf("Authorization = %q, wrong digest response", value)
	}
	if !strings.Contains(value, `uri="sip:demo.example:5060"`) {
		t.Errorf("Authorization = %q, wrong digest uri", value)
	}
	if strings.Contains(value, "qop=") {
		t.Errorf("Authorization = %q carries qop for a legacy challenge", value)
	}

	// fresh branch, CSeq incremented, Call-ID and From tag untouched
	hop, _ := req.Headers.FirstViaHop()
	branch, _ := hop.Branch()
	if branch == origBranch || !strings.HasPrefix(branch, sip.MagicCookie) {
		t.Errorf("branch = %q, want fresh z9hG4bK branch", branch)
	}
	if cseq, _ := req.Headers.CSeq(); cseq.Seq != 2 {
		t.Errorf("CSeq = %d, want 2", cseq.Seq)
	}
	if callID, _ := req.Headers.CallID(); callID != "callid-1@atlanta.example" {
		t.Errorf("Call-ID changed to %q", callID)
	}
	from, _ := req.Headers.From()
	if tag, _ := from.Tag(); tag != "fromtag1" {
		t.Errorf("From tag changed to %q", tag)
	}
}

func TestAuthorizeRequestQop(t *testing.T) {
	t.Parallel()

	creds := &sip.CredentialStore{}
	creds.Put(sip.Credential{Realm: "x", Username: "user", Password: "pass"})
	az := sip.NewAuthorizer(creds)

	target, _ := uri.Parse("sip:demo.example:5060")
	req := newOutReq(t, sip.RequestMethodRegister, "z9hG4bKqop1").Request
	req.URI = target

	if err := az.AuthorizeRequest(req, sip.Challenge{
		Scheme: "Digest", Realm: "x", Nonce: "abc", Algorithm: "MD5", Qop: []string{"auth"},
	}); err != nil {
		t.Fatalf("az.AuthorizeRequest() error = %v, want nil", err)
	}

	value := req.Headers.Get("Authorization")[0].RenderValue()
	if !strings.Contains(value, "qop=auth") {
		t.Errorf("Authorization = %q, missing qop", value)
	}
	if !strings.Contains(value, "nc=00000001") {
		t.Errorf("Authorization = %q, missing first nonce count", value)
	}
	if !strings.Contains(value, "cnonce=") {
		t.Errorf("Authorization = %q, missing cnonce", value)
	}

	// a second request against the same nonce increments nc
	req2 := newOutReq(t, sip.RequestMethodRegister, "z9hG4bKqop2").Request
	req2.URI = target.Clone()
	if err := az.AuthorizeRequest(req2, sip.Challenge{
		Scheme: "Digest", Realm: "x", Nonce: "abc", Algorithm: "MD5", Qop: []string{"auth"},
	}); err != nil {
		t.Fatalf("az.AuthorizeRequest() error = %v, want nil", err)
	}
	if value := req2.Headers.Get("Authorization")[0].RenderValue(); !strings.Contains(value, "nc=00000002") {
		t.Errorf("Authorization = %q, want nc=00000002", value)
	}
}

func TestAuthorizeRequestNoCredential(t *testing.T) {
	t.Parallel()

	az := sip.NewAuthorizer(&sip.CredentialStore{})
	req := newOutReq(t, sip.RequestMethodRegister, "z9hG4bKnocred").Request

	err := az.AuthorizeRequest(req, sip.Challenge{Scheme: "Digest", Realm: "unknown", Nonce: "abc"})
	if !errors.Is(err, sip.ErrNoCredential) {
		t.Fatalf("error = %v, want ErrNoCredential", err)
	}
}

func TestAuthorizeRequestProxy(t *testing.T) {
	t.Parallel()

	creds := &sip.CredentialStore{}
	creds.Put(sip.Credential{Realm: "proxy.example", Username: "user", Password: "pass"})
	az := sip.NewAuthorizer(creds)

	req := newOutReq(t, sip.RequestMethodInvite, "z9hG4bKproxy").Request
	if err := az.AuthorizeRequest(req, sip.Challenge{
		Scheme: "Digest", Realm: "proxy.example", Nonce: "n1", Proxy: true,
	}); err != nil {
		t.Fatalf("az.AuthorizeRequest() error = %v, want nil", err)
	}

	if len(req.Headers.Get("Proxy-Authorization")) != 1 {
		t.Error("missing Proxy-Authorization header for proxy challenge")
	}
	if len(req.Headers.Get("Authorization")) != 0 {
		t.Error("unexpected Authorization header for proxy challenge")
	}
}
