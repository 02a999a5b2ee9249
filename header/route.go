package header

import (
	"io"
	"slices"

	"braces.dev/errtrace"
)

// Route represents the Route header field, forcing routing of a request
// through the listed set of proxies.
type Route []NameAddr

// CanonicName returns the canonical name of the header.
func (Route) CanonicName() Name { return "Route" }

// CompactName returns the compact name of the header.
func (Route) CompactName() Name { return "Route" }

func (hdr Route) RenderTo(w io.Writer, opts *RenderOptions) (int, error) {
	if hdr == nil {
		return 0, nil
	}
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

func (hdr Route) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderToString(func(w io.Writer) (int, error) { return hdr.RenderTo(w, opts) })
}

func (hdr Route) RenderValue() string { return renderNameAddrList(hdr) }

func (hdr Route) String() string { return hdr.RenderValue() }

func (hdr Route) Clone() Header { return Route(cloneNameAddrs(hdr)) }

func (hdr Route) Equal(val any) bool {
	var other Route
	switch v := val.(type) {
	case Route:
		other = v
	case *Route:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return equalNameAddrs(hdr, other)
}

func (hdr Route) IsValid() bool {
	return len(hdr) > 0 && !slices.ContainsFunc(hdr, func(na NameAddr) bool { return !na.IsValid() })
}

// ParseRoute parses a Route header value.
func ParseRoute(s string) (Route, error) {
	list, err := parseNameAddrList(s)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return Route(list), nil
}

// RecordRoute represents the Record-Route header field, inserted by
// proxies that want to stay on the path of subsequent requests.
type RecordRoute []NameAddr

// CanonicName returns the canonical name of the header.
func (RecordRoute) CanonicName() Name { return "Record-Route" }

// CompactName returns the compact name of the header.
func (RecordRoute) CompactName() Name { return "Record-Route" }

func (hdr RecordRoute) RenderTo(w io.Writer, opts *RenderOptions) (int, error) {
	if hdr == nil {
		return 0, nil
	}
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

func (hdr RecordRoute) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderToString(func(w io.Writer) (int, error) { return hdr.RenderTo(w, opts) })
}

func (hdr RecordRoute) RenderValue() string { return renderNameAddrList(hdr) }

func (hdr RecordRoute) String() string { return hdr.RenderValue() }

func (hdr RecordRoute) Clone() Header { return RecordRoute(cloneNameAddrs(hdr)) }

func (hdr RecordRoute) Equal(val any) bool {
	var other RecordRoute
	switch v := val.(type) {
	case RecordRoute:
		other = v
	case *RecordRoute:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return equalNameAddrs(hdr, other)
}

func (hdr RecordRoute) IsValid() bool {
	return len(hdr) > 0 && !slices.ContainsFunc(hdr, func(na NameAddr) bool { return !na.IsValid() })
}

// Reversed returns the entries in reverse order, as used when building
// a dialog route set on the UAC side.
func (hdr RecordRoute) Reversed() []NameAddr {
	if hdr == nil {
		return nil
	}
	rev := cloneNameAddrs(hdr)
	slices.Reverse(rev)
	return rev
}

// ParseRecordRoute parses a Record-Route header value.
func ParseRecordRoute(s string) (RecordRoute, error) {
	list, err := parseNameAddrList(s)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return RecordRoute(list), nil
}
