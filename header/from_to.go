package header

import (
	"io"

	"braces.dev/errtrace"
)

// From represents the From header field, identifying the logical
// initiator of the request.
type From NameAddr

// CanonicName returns the canonical name of the header.
func (From) CanonicName() Name { return "From" }

// CompactName returns the compact name of the header.
func (From) CompactName() Name { return "f" }

func (hdr *From) RenderTo(w io.Writer, opts *RenderOptions) (int, error) {
	if hdr == nil {
		return 0, nil
	}
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

func (hdr *From) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderToString(func(w io.Writer) (int, error) { return hdr.RenderTo(w, opts) })
}

func (hdr *From) RenderValue() string { return NameAddr(*hdr).String() }

func (hdr *From) String() string { return hdr.RenderValue() }

func (hdr *From) Clone() Header {
	if hdr == nil {
		return (*From)(nil)
	}
	h2 := From(NameAddr(*hdr).clone())
	return &h2
}

func (hdr *From) Equal(val any) bool {
	var other *From
	switch v := val.(type) {
	case From:
		other = &v
	case *From:
		other = v
	default:
		return false
	}
	if hdr == nil || other == nil {
		return hdr == other
	}
	return NameAddr(*hdr).Equal(NameAddr(*other))
}

func (hdr *From) IsValid() bool { return hdr != nil && NameAddr(*hdr).IsValid() }

// Tag returns the tag parameter.
func (hdr *From) Tag() (string, bool) { return NameAddr(*hdr).Tag() }

// SetTag sets the tag parameter.
func (hdr *From) SetTag(tag string) { (*NameAddr)(hdr).SetTag(tag) }

// ParseFrom parses a From header value.
func ParseFrom(s string) (*From, error) {
	na, err := ParseNameAddr(s)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	hdr := From(na)
	return &hdr, nil
}

// To represents the To header field, specifying the logical recipient
// of the request.
type To NameAddr

// CanonicName returns the canonical name of the header.
func (To) CanonicName() Name { return "To" }

// CompactName returns the compact name of the header.
func (To) CompactName() Name { return "t" }

func (hdr *To) RenderTo(w io.Writer, opts *RenderOptions) (int, error) {
	if hdr == nil {
		return 0, nil
	}
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

func (hdr *To) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderToString(func(w io.Writer) (int, error) { return hdr.RenderTo(w, opts) })
}

func (hdr *To) RenderValue() string { return NameAddr(*hdr).String() }

func (hdr *To) String() string { return hdr.RenderValue() }

func (hdr *To) Clone() Header {
	if hdr == nil {
		return (*To)(nil)
	}
	h2 := To(NameAddr(*hdr).clone())
	return &h2
}

func (hdr *To) Equal(val any) bool {
	var other *To
	switch v := val.(type) {
	case To:
		other = &v
	case *To:
		other = v
	default:
		return false
	}
	if hdr == nil || other == nil {
		return hdr == other
	}
	return NameAddr(*hdr).Equal(NameAddr(*other))
}

func (hdr *To) IsValid() bool { return hdr != nil && NameAddr(*hdr).IsValid() }

// Tag returns the tag parameter.
func (hdr *To) Tag() (string, bool) { return NameAddr(*hdr).Tag() }

// SetTag sets the tag parameter.
func (hdr *To) SetTag(tag string) { (*NameAddr)(hdr).SetTag(tag) }

// ParseTo parses a To header value.
func ParseTo(s string) (*To, error) {
	na, err := ParseNameAddr(s)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	hdr := To(na)
	return &hdr, nil
}
