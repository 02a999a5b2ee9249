// Package header implements typed SIP message headers.
//
// Each header type provides parsing from its wire value and rendering in
// the canonical RFC 3261 Section 20 form. Unknown headers round-trip
// verbatim through [Any].
package header

import (
	"io"
	"net/textproto"
	"slices"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/ioutil"
	"github.com/ghettovoice/sipua/internal/syntax"
	"github.com/ghettovoice/sipua/internal/types"
	"github.com/ghettovoice/sipua/internal/util"
)

// Addr represents a network address consisting of a host and optional port.
type Addr = types.Addr

// Host creates an Addr from a hostname without a port.
func Host(host string) Addr { return types.Host(host) }

// HostPort creates an Addr from a hostname and port.
func HostPort(host string, port uint16) Addr { return types.HostPort(host, port) }

// Values represents header parameters as a multi-value map.
type Values = types.Values

// ProtoInfo represents SIP protocol information (name and version).
type ProtoInfo = types.ProtoInfo

// TransportProto represents a transport protocol (UDP, TCP).
type TransportProto = types.TransportProto

// RequestMethod represents a SIP request method.
type RequestMethod = types.RequestMethod

// RenderOptions contains options for rendering headers and URIs.
type RenderOptions = types.RenderOptions

// Header represents a generic SIP header.
type Header interface {
	types.Renderer
	CanonicName() Name
	// CompactName returns the compact header name, or the canonical name
	// when no compact form is defined.
	CompactName() Name
	// RenderValue returns the header value without the name prefix.
	RenderValue() string
	Clone() Header
	Equal(val any) bool
	IsValid() bool
}

// Name represents a SIP header name.
type Name string

// ToCanonic converts the Name to its canonical form.
func (n Name) ToCanonic() Name { return CanonicName(n) }

// IsValid checks whether the Name is syntactically valid.
func (n Name) IsValid() bool { return syntax.IsToken(n) }

// Equal compares this Name with another for equality.
func (n Name) Equal(val any) bool {
	var other Name
	switch v := val.(type) {
	case Name:
		other = v
	case *Name:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return CanonicName(n) == CanonicName(other)
}

var hdrNames = map[string]Name{
	"c":                "Content-Type",
	"e":                "Content-Encoding",
	"f":                "From",
	"i":                "Call-ID",
	"k":                "Supported",
	"l":                "Content-Length",
	"m":                "Contact",
	"s":                "Subject",
	"t":                "To",
	"v":                "Via",
	"Call-Id":          "Call-ID",
	"Cseq":             "CSeq",
	"Www-Authenticate": "WWW-Authenticate",
}

// CanonicName converts name to the canonical form.
// The canonicalization converts the first letter and any letter following
// a hyphen to upper case; the rest are converted to lowercase. Compact
// names are expanded to their full canonical form, e.g. "c" converts to
// "Content-Type".
func CanonicName[T ~string](name T) Name {
	name = util.TrimSP(name)
	if n, ok := hdrNames[string(name)]; ok {
		return n
	}

	name = T(textproto.CanonicalMIMEHeaderKey(string(name)))
	if n, ok := hdrNames[string(name)]; ok {
		return n
	}
	return Name(name)
}

func hdrName(hdr Header, opts *RenderOptions) Name {
	if opts != nil && opts.Compact {
		return hdr.CompactName()
	}
	return hdr.CanonicName()
}

func renderHdr(w io.Writer, hdr Header, opts *RenderOptions) (num int, err error) {
	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)
	cw.Fprint(hdrName(hdr, opts), ": ", hdr.RenderValue())
	return errtrace.Wrap2(cw.Result())
}

func renderToString(fn func(w io.Writer) (int, error)) string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	fn(sb) //nolint:errcheck
	return sb.String()
}

// renderParams writes parameters as ";name=value" in alphabetical order,
// quoting values that contain separators.
func renderParams(cw *ioutil.CountingWriter, params Values) {
	if len(params) == 0 {
		return
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, util.LCase(k))
	}
	slices.Sort(keys)
	for _, k := range keys {
		cw.Fprint(";", k)
		v, _ := params.Last(k)
		if v == "" {
			continue
		}
		if syntax.NeedsQuoting(v) {
			v = syntax.Quote(v)
		}
		cw.Fprint("=", v)
	}
}

// ParseParams parses a ";"-separated parameter list into Values.
// Quoted values are unquoted; a parameter without "=" maps to an empty value.
func ParseParams(s string) Values {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	vals := make(Values)
	for _, kv := range syntax.SplitUnquoted(s, ';') {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		vals.Append(strings.TrimSpace(k), syntax.Unquote(strings.TrimSpace(v)))
	}
	return vals
}

func compareParams(params1, params2 Values) bool {
	if len(params1) != len(params2) {
		return false
	}
	for k := range params1 {
		v1, _ := params1.Last(k)
		v2, ok := params2.Last(k)
		if !ok || v1 != v2 {
			return false
		}
	}
	return true
}

// A HeaderParser parses a raw header value into one or more typed headers.
type HeaderParser func(value string) ([]Header, error)

func one(hdr Header, err error) ([]Header, error) {
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return []Header{hdr}, nil
}

var hdrParsers = map[Name]HeaderParser{
	"Via":                func(v string) ([]Header, error) { return one(sliceHdr(ParseVia(v))) },
	"From":               func(v string) ([]Header, error) { return one(ParseFrom(v)) },
	"To":                 func(v string) ([]Header, error) { return one(ParseTo(v)) },
	"Contact":            func(v string) ([]Header, error) { return one(sliceHdr(ParseContact(v))) },
	"Route":              func(v string) ([]Header, error) { return one(sliceHdr(ParseRoute(v))) },
	"Record-Route":       func(v string) ([]Header, error) { return one(sliceHdr(ParseRecordRoute(v))) },
	"Call-ID":            func(v string) ([]Header, error) { return one(ParseCallID(v)) },
	"CSeq":               func(v string) ([]Header, error) { return one(ParseCSeq(v)) },
	"Max-Forwards":       func(v string) ([]Header, error) { return one(ParseMaxForwards(v)) },
	"Content-Length":     func(v string) ([]Header, error) { return one(ParseContentLength(v)) },
	"Content-Type":       func(v string) ([]Header, error) { return one(ParseContentType(v)) },
	"Expires":            func(v string) ([]Header, error) { return one(ParseExpires(v)) },
	"WWW-Authenticate":   func(v string) ([]Header, error) { return one(ParseWWWAuthenticate(v)) },
	"Proxy-Authenticate": func(v string) ([]Header, error) { return one(ParseProxyAuthenticate(v)) },
	"Authorization":      func(v string) ([]Header, error) { return one(ParseAuthorization(v)) },
	"Proxy-Authorization": func(v string) ([]Header, error) {
		return one(ParseProxyAuthorization(v))
	},
}

// sliceHdr narrows a concrete multi-entry header to the Header interface.
func sliceHdr[H Header](hdr H, err error) (Header, error) {
	return hdr, errtrace.Wrap(err)
}

// Parse parses a raw header line value into typed headers.
// name may be a compact or non-canonical form. Unknown header names
// produce an [Any] header retaining the value verbatim.
func Parse(name, value string) ([]Header, error) {
	cname := CanonicName(name)
	if p, ok := hdrParsers[cname]; ok {
		return errtrace.Wrap2(p(value))
	}
	return []Header{&Any{HeaderName: cname, Value: value}}, nil
}
