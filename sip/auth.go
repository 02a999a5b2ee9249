package sip

import (
	"crypto/md5" //nolint:gosec // Digest MD5 is mandated by RFC 3261
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/header"
	"github.com/ghettovoice/sipua/internal/util"
)

// Challenge is a parsed WWW-Authenticate or Proxy-Authenticate value.
type Challenge struct {
	Scheme    string
	Realm     string
	Nonce     string
	Opaque    string
	Algorithm string
	Qop       []string
	// Proxy is true for a Proxy-Authenticate challenge (407).
	Proxy bool
}

// SupportsQopAuth reports whether the challenge offers qop=auth.
func (ch Challenge) SupportsQopAuth() bool {
	for _, qop := range ch.Qop {
		if util.EqFold(qop, "auth") {
			return true
		}
	}
	return false
}

// ChallengeFromResponse extracts the Digest challenge from a 401 or 407
// response. Non-Digest or non-MD5 challenges are rejected with
// [ErrUnsupportedChallenge].
func ChallengeFromResponse(res *Response) (Challenge, error) {
	var (
		ch Challenge
		av header.AuthValue
	)
	switch res.Status {
	case ResponseStatusUnauthorized:
		hdr, ok := res.Headers.WWWAuthenticate()
		if !ok {
			return ch, errtrace.Wrap(errorWrap(ErrUnsupportedChallenge, "401 without WWW-Authenticate"))
		}
		av = hdr.AuthValue
	case ResponseStatusProxyAuthenticationRequired:
		hdr, ok := res.Headers.ProxyAuthenticate()
		if !ok {
			return ch, errtrace.Wrap(errorWrap(ErrUnsupportedChallenge, "407 without Proxy-Authenticate"))
		}
		av = hdr.AuthValue
		ch.Proxy = true
	default:
		return ch, errtrace.Wrap(NewInvalidArgumentError("response %d is not a challenge", res.Status))
	}

	if !util.EqFold(av.Scheme, "Digest") {
		return ch, errtrace.Wrap(errorWrap(ErrUnsupportedChallenge, "scheme %q", av.Scheme))
	}

	ch.Scheme = av.Scheme
	ch.Realm, _ = av.Get("realm")
	ch.Nonce, _ = av.Get("nonce")
	ch.Opaque, _ = av.Get("opaque")
	ch.Algorithm, _ = av.Get("algorithm")
	if ch.Algorithm == "" {
		ch.Algorithm = "MD5"
	}
	if qop, ok := av.Get("qop"); ok && qop != "" {
		for _, opt := range strings.Split(qop, ",") {
			ch.Qop = append(ch.Qop, strings.TrimSpace(opt))
		}
	}

	if !util.EqFold(ch.Algorithm, "MD5") {
		return ch, errtrace.Wrap(errorWrap(ErrUnsupportedChallenge, "algorithm %q", ch.Algorithm))
	}
	if ch.Realm == "" || ch.Nonce == "" {
		return ch, errtrace.Wrap(errorWrap(ErrUnsupportedChallenge, "missing realm or nonce"))
	}
	return ch, nil
}

// Credential is a (realm, username, password) triple.
type Credential struct {
	Realm    string `json:"realm"`
	Username string `json:"username"`
	Password string `json:"-"`
}

// CredentialStore maps a realm to at most one credential.
// It is safe for concurrent use.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// Put registers the credential for its realm, replacing any previous one.
func (cs *CredentialStore) Put(cred Credential) {
	cs.mu.Lock()
	if cs.creds == nil {
		cs.creds = make(map[string]Credential)
	}
	cs.creds[util.LCase(cred.Realm)] = cred
	cs.mu.Unlock()
}

// Get returns the credential registered for the realm.
func (cs *CredentialStore) Get(realm string) (Credential, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	cred, ok := cs.creds[util.LCase(realm)]
	return cred, ok
}

// Del removes the credential registered for the realm.
func (cs *CredentialStore) Del(realm string) {
	cs.mu.Lock()
	delete(cs.creds, util.LCase(realm))
	cs.mu.Unlock()
}

// Authorizer answers Digest challenges per RFC 3261 Section 22 and
// RFC 2617. Nonce counts are kept per (realm, nonce) pair.
type Authorizer struct {
	creds *CredentialStore

	mu  sync.Mutex
	ncs map[string]uint32
}

// NewAuthorizer creates an [Authorizer] answering with credentials from
// the given store.
func NewAuthorizer(creds *CredentialStore) *Authorizer {
	return &Authorizer{
		creds: creds,
		ncs:   make(map[string]uint32),
	}
}

// AuthorizeRequest rewrites req in place so it answers the challenge:
// an Authorization (or Proxy-Authorization for a proxy challenge)
// header is set, the top Via branch is replaced with a fresh one and
// the CSeq number is incremented. Call-ID and From tag are preserved
// untouched.
func (az *Authorizer) AuthorizeRequest(req *Request, ch Challenge) error {
	cred, ok := az.creds.Get(ch.Realm)
	if !ok {
		return errtrace.Wrap(errorWrap(ErrNoCredential, "%q", ch.Realm))
	}
	if ch.Algorithm == "" {
		ch.Algorithm = "MD5"
	}

	// the digest URI is the Request-URI of the retried request verbatim
	digestURI := req.URI.Render(nil)

	av := header.AuthValue{Scheme: "Digest"}
	av.Set("username", cred.Username)
	av.Set("realm", ch.Realm)
	av.Set("nonce", ch.Nonce)
	av.Set("uri", digestURI)
	av.Set("algorithm", ch.Algorithm)
	if ch.Opaque != "" {
		av.Set("opaque", ch.Opaque)
	}

	var response string
	if ch.SupportsQopAuth() {
		nc := az.nextNonceCount(ch.Realm, ch.Nonce)
		cnonce := util.RandHexString(8)
		response = digestResponse(cred, ch, string(req.Method), digestURI, nc, cnonce)
		av.Set("qop", "auth")
		av.Set("nc", fmt.Sprintf("%08x", nc))
		av.Set("cnonce", cnonce)
	} else {
		response = digestResponse(cred, ch, string(req.Method), digestURI, 0, "")
	}
	av.Set("response", response)

	if ch.Proxy {
		req.Headers.Set(&header.ProxyAuthorization{AuthValue: av})
	} else {
		req.Headers.Set(&header.Authorization{AuthValue: av})
	}

	if hop, ok := req.Headers.FirstViaHop(); ok {
		hop.SetBranch(GenerateBranch())
	}
	if cseq, ok := req.Headers.CSeq(); ok {
		cseq.Seq++
		req.Headers.Set(cseq)
	}
	return nil
}

func (az *Authorizer) nextNonceCount(realm, nonce string) uint32 {
	key := util.LCase(realm) + "|" + nonce
	az.mu.Lock()
	defer az.mu.Unlock()
	az.ncs[key]++
	return az.ncs[key]
}

// digestResponse computes the Digest response value:
//
//	HA1 = MD5(username ":" realm ":" password)
//	HA2 = MD5(method ":" uri)
//	with qop:    MD5(HA1 ":" nonce ":" nc ":" cnonce ":" qop ":" HA2)
//	without qop: MD5(HA1 ":" nonce ":" HA2)
func digestResponse(cred Credential, ch Challenge, method, uri string, nc uint32, cnonce string) string {
	ha1 := md5Hex(cred.Username + ":" + ch.Realm + ":" + cred.Password)
	ha2 := md5Hex(method + ":" + uri)
	if cnonce != "" {
		return md5Hex(fmt.Sprintf("%s:%s:%08x:%s:auth:%s", ha1, ch.Nonce, nc, cnonce, ha2))
	}
	return md5Hex(ha1 + ":" + ch.Nonce + ":" + ha2)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // Digest MD5 is mandated by RFC 3261
	return hex.EncodeToString(sum[:])
}
