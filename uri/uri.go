// Package uri implements SIP and SIPS URIs as described in RFC 3261 Section 19.1.
package uri

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/errorutil"
	"github.com/ghettovoice/sipua/internal/ioutil"
	"github.com/ghettovoice/sipua/internal/syntax"
	"github.com/ghettovoice/sipua/internal/types"
	"github.com/ghettovoice/sipua/internal/util"
)

// Addr represents a network address consisting of a host and optional port.
type Addr = types.Addr

// Values represents URI parameters or headers as a multi-value map.
type Values = types.Values

// SIP represents a SIP or SIPS URI.
type SIP struct {
	User    string `json:"user,omitempty"`
	Addr    Addr   `json:"addr"`
	Params  Values `json:"params,omitempty"`
	Headers Values `json:"headers,omitempty"`
	Secured bool   `json:"secured,omitempty"`
}

// Scheme returns "sip" or "sips".
func (u *SIP) Scheme() string {
	if u != nil && u.Secured {
		return "sips"
	}
	return "sip"
}

// Clone returns a deep copy of the URI.
func (u *SIP) Clone() *SIP {
	if u == nil {
		return nil
	}
	u2 := *u
	u2.Params = u.Params.Clone()
	u2.Headers = u.Headers.Clone()
	return &u2
}

// RenderTo writes the URI to the given writer.
func (u *SIP) RenderTo(w io.Writer, _ *types.RenderOptions) (num int, err error) {
	if u == nil {
		return 0, nil
	}

	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)
	cw.Fprint(u.Scheme(), ":")
	if u.User != "" {
		cw.Fprint(u.User, "@")
	}
	cw.Fprint(u.Addr)
	u.renderParams(cw)
	u.renderHeaders(cw)
	return errtrace.Wrap2(cw.Result())
}

func (u *SIP) renderParams(cw *ioutil.CountingWriter) {
	if len(u.Params) == 0 {
		return
	}

	keys := make([]string, 0, len(u.Params))
	for k := range u.Params {
		keys = append(keys, util.LCase(k))
	}
	slices.Sort(keys)
	for _, k := range keys {
		cw.Fprint(";", k)
		if v, _ := u.Params.Last(k); v != "" {
			cw.Fprint("=", v)
		}
	}
}

func (u *SIP) renderHeaders(cw *ioutil.CountingWriter) {
	if len(u.Headers) == 0 {
		return
	}

	keys := make([]string, 0, len(u.Headers))
	for k := range u.Headers {
		keys = append(keys, util.LCase(k))
	}
	slices.Sort(keys)
	cw.Fprint("?")
	var i int
	for _, k := range keys {
		for _, v := range u.Headers.Get(k) {
			if i > 0 {
				cw.Fprint("&")
			}
			cw.Fprint(k, "=", v)
			i++
		}
	}
}

// Render returns the string representation of the URI.
func (u *SIP) Render(opts *types.RenderOptions) string {
	if u == nil {
		return ""
	}
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	u.RenderTo(sb, opts) //nolint:errcheck
	return sb.String()
}

func (u *SIP) String() string { return u.Render(nil) }

// Format implements [fmt.Formatter] for custom formatting.
func (u *SIP) Format(f fmt.State, verb rune) {
	switch verb {
	case 's':
		fmt.Fprint(f, u.String())
		return
	case 'q':
		fmt.Fprint(f, strconv.Quote(u.String()))
		return
	default:
		if !f.Flag('+') && !f.Flag('#') {
			fmt.Fprint(f, u.String())
			return
		}

		type hideMethods SIP
		type SIP hideMethods
		fmt.Fprintf(f, fmt.FormatString(f, verb), (*SIP)(u))
		return
	}
}

// Equal compares this URI with another per RFC 3261 Section 19.1.4.
// Usernames are case-sensitive, hosts are not. Any parameter appearing
// in both URIs must match; the special params user, ttl, method and
// transport must appear in both or neither.
func (u *SIP) Equal(val any) bool {
	var other *SIP
	switch v := val.(type) {
	case SIP:
		other = &v
	case *SIP:
		other = v
	default:
		return false
	}
	if u == nil || other == nil {
		return u == other
	}
	if u.Secured != other.Secured || u.User != other.User || !u.Addr.Equal(other.Addr) {
		return false
	}
	return u.compareParams(other.Params)
}

var specURIParams = map[string]bool{
	"user":      true,
	"ttl":       true,
	"method":    true,
	"transport": true,
}

func (u *SIP) compareParams(params Values) bool {
	for k := range u.Params {
		if params.Has(k) {
			v1, _ := u.Params.Last(k)
			v2, _ := params.Last(k)
			if !util.EqFold(v1, v2) {
				return false
			}
		} else if specURIParams[util.LCase(k)] {
			return false
		}
	}
	for k := range params {
		if !u.Params.Has(k) && specURIParams[util.LCase(k)] {
			return false
		}
	}
	return true
}

// IsValid checks whether the URI has the minimal valid form.
func (u *SIP) IsValid() bool {
	return u != nil && u.Addr.IsValid()
}

// Transport returns the transport URI parameter, if present.
func (u *SIP) Transport() (string, bool) {
	if u == nil {
		return "", false
	}
	return u.Params.Last("transport")
}

// Parse parses a SIP or SIPS URI from the given input.
func Parse[T ~string | ~[]byte](s T) (*SIP, error) {
	str := strings.TrimSpace(string(s))

	u := new(SIP)
	switch {
	case strings.HasPrefix(str, "sips:"):
		u.Secured = true
		str = str[len("sips:"):]
	case strings.HasPrefix(str, "sip:"):
		str = str[len("sip:"):]
	default:
		return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError("unsupported URI scheme in %q", str))
	}

	if at := strings.LastIndexByte(str, '@'); at >= 0 {
		user := str[:at]
		if pw := strings.IndexByte(user, ':'); pw >= 0 {
			user = user[:pw]
		}
		u.User = user
		str = str[at+1:]
	}

	// split off headers, then params
	if q := strings.IndexByte(str, '?'); q >= 0 {
		u.Headers = make(Values)
		for _, kv := range strings.Split(str[q+1:], "&") {
			if kv == "" {
				continue
			}
			k, v, _ := strings.Cut(kv, "=")
			u.Headers.Append(k, v)
		}
		str = str[:q]
	}

	hostport, params := syntax.CutParams(str)
	if params != "" {
		u.Params = make(Values)
		for _, kv := range syntax.SplitUnquoted(params, ';') {
			if kv == "" {
				continue
			}
			k, v, _ := strings.Cut(kv, "=")
			u.Params.Append(k, v)
		}
	}

	addr, err := types.ParseAddr(hostport)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if addr.Host == "" {
		return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError("missing host in %q", string(s)))
	}
	u.Addr = addr
	return u, nil
}
