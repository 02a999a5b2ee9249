package header

import (
	"io"
	"slices"

	"braces.dev/errtrace"
)

// Contact represents the Contact header field.
// It provides one or more URIs where the user agent can be reached
// for subsequent requests.
type Contact []NameAddr

// CanonicName returns the canonical name of the header.
func (Contact) CanonicName() Name { return "Contact" }

// CompactName returns the compact name of the header.
func (Contact) CompactName() Name { return "m" }

func (hdr Contact) RenderTo(w io.Writer, opts *RenderOptions) (int, error) {
	if hdr == nil {
		return 0, nil
	}
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

func (hdr Contact) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderToString(func(w io.Writer) (int, error) { return hdr.RenderTo(w, opts) })
}

func (hdr Contact) RenderValue() string { return renderNameAddrList(hdr) }

func (hdr Contact) String() string { return hdr.RenderValue() }

func (hdr Contact) Clone() Header { return Contact(cloneNameAddrs(hdr)) }

func (hdr Contact) Equal(val any) bool {
	var other Contact
	switch v := val.(type) {
	case Contact:
		other = v
	case *Contact:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return equalNameAddrs(hdr, other)
}

func (hdr Contact) IsValid() bool {
	return len(hdr) > 0 && !slices.ContainsFunc(hdr, func(na NameAddr) bool { return !na.IsValid() })
}

// First returns the first contact entry.
func (hdr Contact) First() (NameAddr, bool) {
	if len(hdr) == 0 {
		return NameAddr{}, false
	}
	return hdr[0], true
}

// ParseContact parses a Contact header value, possibly carrying several
// comma-separated entries.
func ParseContact(s string) (Contact, error) {
	list, err := parseNameAddrList(s)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return Contact(list), nil
}
