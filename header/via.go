package header

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

// MagicCookie marks an RFC 3261 compliant branch parameter.
const MagicCookie = "z9hG4bK"

// Via represents the Via header field.
// The Via header field indicates the path taken by the request so far
// and the path that should be followed in routing responses.
type Via []ViaHop

// CanonicName returns the canonical name of the header.
func (Via) CanonicName() Name { return "Via" }

// CompactName returns the compact name of the header.
func (Via) CompactName() Name { return "v" }

// RenderTo writes the header to the provided writer.
func (hdr Via) RenderTo(w io.Writer, opts *RenderOptions) (num int, err error) {
	if hdr == nil {
		return 0, nil
	}
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

// Render returns the string representation of the header.
func (hdr Via) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderToString(func(w io.Writer) (int, error) { return hdr.RenderTo(w, opts) })
}

// RenderValue returns the header value without the name prefix.
func (hdr Via) RenderValue() string {
	return renderToString(func(w io.Writer) (int, error) {
		cw := ioutil.GetCountingWriter(w)
		defer ioutil.FreeCountingWriter(cw)
		for i := range hdr {
			if i > 0 {
				cw.Fprint(", ")
			}
			cw.Fprint(hdr[i])
		}
		return cw.Result()
	})
}

// String returns the string representation of the header value.
func (hdr Via) String() string { return hdr.RenderValue() }

// Clone returns a copy of the header.
func (hdr Via) Clone() Header {
	if hdr == nil {
		return Via(nil)
	}
	h2 := make(Via, len(hdr))
	for i := range hdr {
		h2[i] = hdr[i].clone()
	}
	return h2
}

// Equal compares this header with another for equality.
func (hdr Via) Equal(val any) bool {
	var other Via
	switch v := val.(type) {
	case Via:
		other = v
	case *Via:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return slices.EqualFunc(hdr, other, func(hop1, hop2 ViaHop) bool { return hop1.Equal(hop2) })
}

// IsValid checks whether the header is syntactically valid.
func (hdr Via) IsValid() bool {
	return len(hdr) > 0 && !slices.ContainsFunc(hdr, func(hop ViaHop) bool { return !hop.IsValid() })
}

// ViaHop represents a single segment of the Via header.
type ViaHop struct {
	// Proto is the sent-protocol name and version, normally SIP/2.0.
	Proto ProtoInfo `json:"proto"`
	// Transport is the transport protocol the request was sent over.
	Transport TransportProto `json:"transport"`
	// SentBy is the host and optional port the request was sent from.
	SentBy Addr `json:"sent_by"`
	// Params holds the Via parameters (branch, received, rport, ...).
	Params Values `json:"params,omitempty"`
}

func (hop ViaHop) clone() ViaHop {
	hop.Params = hop.Params.Clone()
	return hop
}

// Branch returns the branch parameter of the hop.
func (hop ViaHop) Branch() (string, bool) {
	return hop.Params.Last("branch")
}

// SetBranch sets the branch parameter of the hop.
func (hop *ViaHop) SetBranch(branch string) {
	if hop.Params == nil {
		hop.Params = make(Values)
	}
	hop.Params.Set("branch", branch)
}

// Received returns the received parameter of the hop.
func (hop ViaHop) Received() (string, bool) {
	return hop.Params.Last("received")
}

// IsCompliant reports whether the hop branch carries the RFC 3261 magic cookie.
func (hop ViaHop) IsCompliant() bool {
	branch, ok := hop.Branch()
	return ok && strings.HasPrefix(branch, MagicCookie)
}

func (hop ViaHop) String() string {
	return renderToString(func(w io.Writer) (int, error) {
		cw := ioutil.GetCountingWriter(w)
		defer ioutil.FreeCountingWriter(cw)
		cw.Fprint(hop.Proto, "/", hop.Transport, " ", hop.SentBy)
		renderParams(cw, hop.Params)
		return cw.Result()
	})
}

func (hop ViaHop) Format(f fmt.State, verb rune) {
	switch verb {
	case 's':
		fmt.Fprint(f, hop.String())
		return
	case 'q':
		fmt.Fprint(f, strconv.Quote(hop.String()))
		return
	default:
		if !f.Flag('+') && !f.Flag('#') {
			fmt.Fprint(f, hop.String())
			return
		}

		type hideMethods ViaHop
		type ViaHop hideMethods
		fmt.Fprintf(f, fmt.FormatString(f, verb), ViaHop(hop))
		return
	}
}

// Equal compares this hop with another for equality.
func (hop ViaHop) Equal(val any) bool {
	var other ViaHop
	switch v := val.(type) {
	case ViaHop:
		other = v
	case *ViaHop:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return hop.Proto.Equal(other.Proto) &&
		hop.Transport.Equal(other.Transport) &&
		hop.SentBy.Equal(other.SentBy) &&
		compareParams(hop.Params, other.Params)
}

// IsValid checks whether the hop is syntactically valid.
func (hop ViaHop) IsValid() bool {
	return hop.Proto.IsValid() && hop.Transport.IsValid() && hop.SentBy.IsValid()
}

// ParseVia parses a Via header value, possibly carrying several
// comma-separated hops.
func ParseVia(s string) (Via, error) {
	var hdr Via
	for _, ent := range syntax.SplitUnquoted(s, ',') {
		ent = strings.TrimSpace(ent)
		if ent == "" {
			continue
		}
		hop, err := parseViaHop(ent)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		hdr = append(hdr, hop)
	}
	if len(hdr) == 0 {
		return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError("empty Via value"))
	}
	return hdr, nil
}

func parseViaHop(s string) (ViaHop, error) {
	var hop ViaHop

	sentProto, rest, ok := strings.Cut(s, " ")
	if !ok {
		return hop, errtrace.Wrap(errorutil.NewInvalidArgumentError("malformed Via hop %q", s))
	}

	protoParts := strings.Split(sentProto, "/")
	if len(protoParts) != 3 {
		return hop, errtrace.Wrap(errorutil.NewInvalidArgumentError("malformed Via sent-protocol %q", sentProto))
	}
	hop.Proto = ProtoInfo{Name: protoParts[0], Version: protoParts[1]}
	hop.Transport = TransportProto(util.UCase(protoParts[2]))

	sentBy, params := syntax.CutParams(strings.TrimSpace(rest))
	addr, err := types.ParseAddr(strings.TrimSpace(sentBy))
	if err != nil {
		return hop, errtrace.Wrap(err)
	}
	hop.SentBy = addr
	hop.Params = ParseParams(params)
	return hop, nil
}
