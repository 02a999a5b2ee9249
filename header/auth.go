package header

import (
	"io"
	"slices"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/errorutil"
	"github.com/ghettovoice/sipua/internal/ioutil"
	"github.com/ghettovoice/sipua/internal/syntax"
	"github.com/ghettovoice/sipua/internal/util"
)

// AuthValue is the shared representation of the WWW-Authenticate,
// Proxy-Authenticate, Authorization and Proxy-Authorization header
// values: an auth scheme followed by comma-separated parameters.
type AuthValue struct {
	Scheme string `json:"scheme"`
	Params Values `json:"params,omitempty"`
}

// preferred rendering order for digest parameters, remaining keys follow
// in alphabetical order.
var authParamOrder = []string{
	"username", "realm", "nonce", "uri", "response",
	"algorithm", "cnonce", "opaque", "qop", "nc",
}

// parameters rendered as quoted strings. qop is special: quoted in
// challenges (a list of options), unquoted token in credentials.
var quotedAuthParams = map[string]bool{
	"username": true,
	"realm":    true,
	"nonce":    true,
	"uri":      true,
	"response": true,
	"cnonce":   true,
	"opaque":   true,
	"domain":   true,
}

// Get returns the named parameter.
func (av AuthValue) Get(key string) (string, bool) {
	return av.Params.Last(key)
}

// Set sets the named parameter.
func (av *AuthValue) Set(key, value string) {
	if av.Params == nil {
		av.Params = make(Values)
	}
	av.Params.Set(key, value)
}

func (av AuthValue) clone() AuthValue {
	av.Params = av.Params.Clone()
	return av
}

func (av AuthValue) equal(other AuthValue) bool {
	return util.EqFold(av.Scheme, other.Scheme) && compareParams(av.Params, other.Params)
}

func (av AuthValue) isValid() bool { return syntax.IsToken(av.Scheme) && len(av.Params) > 0 }

func (av AuthValue) render(w io.Writer, quoteQop bool) (int, error) {
	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)
	cw.Fprint(av.Scheme, " ")

	keys := make([]string, 0, len(av.Params))
	for k := range av.Params {
		keys = append(keys, util.LCase(k))
	}
	slices.SortFunc(keys, func(a, b string) int {
		ai := slices.Index(authParamOrder, a)
		bi := slices.Index(authParamOrder, b)
		switch {
		case ai < 0 && bi < 0:
			return strings.Compare(a, b)
		case ai < 0:
			return 1
		case bi < 0:
			return -1
		default:
			return ai - bi
		}
	})

	for i, k := range keys {
		if i > 0 {
			cw.Fprint(", ")
		}
		v, _ := av.Params.Last(k)
		if quotedAuthParams[k] || (k == "qop" && quoteQop) {
			v = syntax.Quote(v)
		}
		cw.Fprint(k, "=", v)
	}
	return errtrace.Wrap2(cw.Result())
}

// ParseAuthValue parses an auth scheme with its parameter list.
func ParseAuthValue(s string) (AuthValue, error) {
	var av AuthValue
	scheme, rest, ok := strings.Cut(util.TrimSP(s), " ")
	if !ok || !syntax.IsToken(scheme) {
		return av, errtrace.Wrap(errorutil.NewInvalidArgumentError("malformed auth value %q", s))
	}
	av.Scheme = scheme
	av.Params = make(Values)
	for _, kv := range syntax.SplitUnquoted(rest, ',') {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		av.Params.Set(strings.TrimSpace(k), syntax.Unquote(strings.TrimSpace(v)))
	}
	if len(av.Params) == 0 {
		return av, errtrace.Wrap(errorutil.NewInvalidArgumentError("auth value %q without parameters", s))
	}
	return av, nil
}

// WWWAuthenticate represents the WWW-Authenticate header field carrying
// an authentication challenge from a user agent server.
type WWWAuthenticate struct{ AuthValue }

func (*WWWAuthenticate) CanonicName() Name { return "WWW-Authenticate" }

func (*WWWAuthenticate) CompactName() Name { return "WWW-Authenticate" }

func (hdr *WWWAuthenticate) RenderTo(w io.Writer, opts *RenderOptions) (int, error) {
	if hdr == nil {
		return 0, nil
	}
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

func (hdr *WWWAuthenticate) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderToString(func(w io.Writer) (int, error) { return hdr.RenderTo(w, opts) })
}

func (hdr *WWWAuthenticate) RenderValue() string {
	return renderToString(func(w io.Writer) (int, error) { return hdr.AuthValue.render(w, true) })
}

func (hdr *WWWAuthenticate) String() string { return hdr.RenderValue() }

func (hdr *WWWAuthenticate) Clone() Header {
	if hdr == nil {
		return (*WWWAuthenticate)(nil)
	}
	return &WWWAuthenticate{hdr.AuthValue.clone()}
}

func (hdr *WWWAuthenticate) Equal(val any) bool {
	other, ok := val.(*WWWAuthenticate)
	if !ok || hdr == nil || other == nil {
		return ok && hdr == other
	}
	return hdr.AuthValue.equal(other.AuthValue)
}

func (hdr *WWWAuthenticate) IsValid() bool { return hdr != nil && hdr.AuthValue.isValid() }

// ParseWWWAuthenticate parses a WWW-Authenticate header value.
func ParseWWWAuthenticate(s string) (*WWWAuthenticate, error) {
	av, err := ParseAuthValue(s)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return &WWWAuthenticate{av}, nil
}

// ProxyAuthenticate represents the Proxy-Authenticate header field
// carrying an authentication challenge from a proxy.
type ProxyAuthenticate struct{ AuthValue }

func (*ProxyAuthenticate) CanonicName() Name { return "Proxy-Authenticate" }

func (*ProxyAuthenticate) CompactName() Name { return "Proxy-Authenticate" }

func (hdr *ProxyAuthenticate) RenderTo(w io.Writer, opts *RenderOptions) (int, error) {
	if hdr == nil {
		return 0, nil
	}
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

func (hdr *ProxyAuthenticate) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderToString(func(w io.Writer) (int, error) { return hdr.RenderTo(w, opts) })
}

func (hdr *ProxyAuthenticate) RenderValue() string {
	return renderToString(func(w io.Writer) (int, error) { return hdr.AuthValue.render(w, true) })
}

func (hdr *ProxyAuthenticate) String() string { return hdr.RenderValue() }

func (hdr *ProxyAuthenticate) Clone() Header {
	if hdr == nil {
		return (*ProxyAuthenticate)(nil)
	}
	return &ProxyAuthenticate{hdr.AuthValue.clone()}
}

func (hdr *ProxyAuthenticate) Equal(val any) bool {
	other, ok := val.(*ProxyAuthenticate)
	if !ok || hdr == nil || other == nil {
		return ok && hdr == other
	}
	return hdr.AuthValue.equal(other.AuthValue)
}

func (hdr *ProxyAuthenticate) IsValid() bool { return hdr != nil && hdr.AuthValue.isValid() }

// ParseProxyAuthenticate parses a Proxy-Authenticate header value.
func ParseProxyAuthenticate(s string) (*ProxyAuthenticate, error) {
	av, err := ParseAuthValue(s)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return &ProxyAuthenticate{av}, nil
}

// Authorization represents the Authorization header field carrying
// credentials for a user agent server.
type Authorization struct{ AuthValue }

func (*Authorization) CanonicName() Name { return "Authorization" }

func (*Authorization) CompactName() Name { return "Authorization" }

func (hdr *Authorization) RenderTo(w io.Writer, opts *RenderOptions) (int, error) {
	if hdr == nil {
		return 0, nil
	}
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

func (hdr *Authorization) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderToString(func(w io.Writer) (int, error) { return hdr.RenderTo(w, opts) })
}

func (hdr *Authorization) RenderValue() string {
	return renderToString(func(w io.Writer) (int, error) { return hdr.AuthValue.render(w, false) })
}

func (hdr *Authorization) String() string { return hdr.RenderValue() }

func (hdr *Authorization) Clone() Header {
	if hdr == nil {
		return (*Authorization)(nil)
	}
	return &Authorization{hdr.AuthValue.clone()}
}

func (hdr *Authorization) Equal(val any) bool {
	other, ok := val.(*Authorization)
	if !ok || hdr == nil || other == nil {
		return ok && hdr == other
	}
	return hdr.AuthValue.equal(other.AuthValue)
}

func (hdr *Authorization) IsValid() bool { return hdr != nil && hdr.AuthValue.isValid() }

// ParseAuthorization parses an Authorization header value.
func ParseAuthorization(s string) (*Authorization, error) {
	av, err := ParseAuthValue(s)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return &Authorization{av}, nil
}

// ProxyAuthorization represents the Proxy-Authorization header field
// carrying credentials for a proxy.
type ProxyAuthorization struct{ AuthValue }

func (*ProxyAuthorization) CanonicName() Name { return "Proxy-Authorization" }

func (*ProxyAuthorization) CompactName() Name { return "Proxy-Authorization" }

func (hdr *ProxyAuthorization) RenderTo(w io.Writer, opts *RenderOptions) (int, error) {
	if hdr == nil {
		return 0, nil
	}
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

func (hdr *ProxyAuthorization) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderToString(func(w io.Writer) (int, error) { return hdr.RenderTo(w, opts) })
}

func (hdr *ProxyAuthorization) RenderValue() string {
	return renderToString(func(w io.Writer) (int, error) { return hdr.AuthValue.render(w, false) })
}

func (hdr *ProxyAuthorization) String() string { return hdr.RenderValue() }

func (hdr *ProxyAuthorization) Clone() Header {
	if hdr == nil {
		return (*ProxyAuthorization)(nil)
	}
	return &ProxyAuthorization{hdr.AuthValue.clone()}
}

func (hdr *ProxyAuthorization) Equal(val any) bool {
	other, ok := val.(*ProxyAuthorization)
	if !ok || hdr == nil || other == nil {
		return ok && hdr == other
	}
	return hdr.AuthValue.equal(other.AuthValue)
}

func (hdr *ProxyAuthorization) IsValid() bool { return hdr != nil && hdr.AuthValue.isValid() }

// ParseProxyAuthorization parses a Proxy-Authorization header value.
func ParseProxyAuthorization(s string) (*ProxyAuthorization, error) {
	av, err := ParseAuthValue(s)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return &ProxyAuthorization{av}, nil
}
