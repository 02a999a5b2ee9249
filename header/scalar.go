package header

import (
	"io"
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/errorutil"
	"github.com/ghettovoice/sipua/internal/syntax"
	"github.com/ghettovoice/sipua/internal/util"
)

// CallID represents the Call-ID header field, a globally unique
// identifier grouping a series of messages.
type CallID string

func (CallID) CanonicName() Name { return "Call-ID" }

func (CallID) CompactName() Name { return "i" }

func (hdr CallID) RenderTo(w io.Writer, opts *RenderOptions) (int, error) {
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

func (hdr CallID) Render(opts *RenderOptions) string {
	return renderToString(func(w io.Writer) (int, error) { return hdr.RenderTo(w, opts) })
}

func (hdr CallID) RenderValue() string { return string(hdr) }

func (hdr CallID) String() string { return string(hdr) }

func (hdr CallID) Clone() Header { return hdr }

func (hdr CallID) Equal(val any) bool {
	var other CallID
	switch v := val.(type) {
	case CallID:
		other = v
	case *CallID:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return hdr == other
}

func (hdr CallID) IsValid() bool { return hdr != "" && !strings.ContainsAny(string(hdr), " \t") }

// ParseCallID parses a Call-ID header value.
func ParseCallID(s string) (CallID, error) {
	hdr := CallID(util.TrimSP(s))
	if !hdr.IsValid() {
		return "", errtrace.Wrap(errorutil.NewInvalidArgumentError("invalid Call-ID %q", s))
	}
	return hdr, nil
}

// MaxForwards represents the Max-Forwards header field, limiting the
// number of hops a request can transit.
type MaxForwards uint32

func (MaxForwards) CanonicName() Name { return "Max-Forwards" }

func (MaxForwards) CompactName() Name { return "Max-Forwards" }

func (hdr MaxForwards) RenderTo(w io.Writer, opts *RenderOptions) (int, error) {
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

func (hdr MaxForwards) Render(opts *RenderOptions) string {
	return renderToString(func(w io.Writer) (int, error) { return hdr.RenderTo(w, opts) })
}

func (hdr MaxForwards) RenderValue() string { return strconv.FormatUint(uint64(hdr), 10) }

func (hdr MaxForwards) String() string { return hdr.RenderValue() }

func (hdr MaxForwards) Clone() Header { return hdr }

func (hdr MaxForwards) Equal(val any) bool {
	var other MaxForwards
	switch v := val.(type) {
	case MaxForwards:
		other = v
	case *MaxForwards:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return hdr == other
}

func (MaxForwards) IsValid() bool { return true }

// ParseMaxForwards parses a Max-Forwards header value.
func ParseMaxForwards(s string) (MaxForwards, error) {
	n, err := strconv.ParseUint(util.TrimSP(s), 10, 32)
	if err != nil {
		return 0, errtrace.Wrap(errorutil.NewInvalidArgumentError("invalid Max-Forwards %q", s))
	}
	return MaxForwards(n), nil
}

// ContentLength represents the Content-Length header field.
type ContentLength uint32

func (ContentLength) CanonicName() Name { return "Content-Length" }

func (ContentLength) CompactName() Name { return "l" }

func (hdr ContentLength) RenderTo(w io.Writer, opts *RenderOptions) (int, error) {
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

func (hdr ContentLength) Render(opts *RenderOptions) string {
	return renderToString(func(w io.Writer) (int, error) { return hdr.RenderTo(w, opts) })
}

func (hdr ContentLength) RenderValue() string { return strconv.FormatUint(uint64(hdr), 10) }

func (hdr ContentLength) String() string { return hdr.RenderValue() }

func (hdr ContentLength) Clone() Header { return hdr }

func (hdr ContentLength) Equal(val any) bool {
	var other ContentLength
	switch v := val.(type) {
	case ContentLength:
		other = v
	case *ContentLength:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return hdr == other
}

func (ContentLength) IsValid() bool { return true }

// ParseContentLength parses a Content-Length header value.
func ParseContentLength(s string) (ContentLength, error) {
	n, err := strconv.ParseUint(util.TrimSP(s), 10, 32)
	if err != nil {
		return 0, errtrace.Wrap(errorutil.NewInvalidArgumentError("invalid Content-Length %q", s))
	}
	return ContentLength(n), nil
}

// ContentType represents the Content-Type header field.
type ContentType string

func (ContentType) CanonicName() Name { return "Content-Type" }

func (ContentType) CompactName() Name { return "c" }

func (hdr ContentType) RenderTo(w io.Writer, opts *RenderOptions) (int, error) {
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

func (hdr ContentType) Render(opts *RenderOptions) string {
	return renderToString(func(w io.Writer) (int, error) { return hdr.RenderTo(w, opts) })
}

func (hdr ContentType) RenderValue() string { return string(hdr) }

func (hdr ContentType) String() string { return string(hdr) }

func (hdr ContentType) Clone() Header { return hdr }

func (hdr ContentType) Equal(val any) bool {
	var other ContentType
	switch v := val.(type) {
	case ContentType:
		other = v
	case *ContentType:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return util.EqFold(hdr, other)
}

func (hdr ContentType) IsValid() bool {
	t, sub, ok := strings.Cut(string(hdr), "/")
	return ok && syntax.IsToken(t) && sub != ""
}

// ParseContentType parses a Content-Type header value.
func ParseContentType(s string) (ContentType, error) {
	hdr := ContentType(util.TrimSP(s))
	if !hdr.IsValid() {
		return "", errtrace.Wrap(errorutil.NewInvalidArgumentError("invalid Content-Type %q", s))
	}
	return hdr, nil
}

// Expires represents the Expires header field, giving the relative time
// after which the message or registration expires.
type Expires uint32

func (Expires) CanonicName() Name { return "Expires" }

func (Expires) CompactName() Name { return "Expires" }

func (hdr Expires) RenderTo(w io.Writer, opts *RenderOptions) (int, error) {
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

func (hdr Expires) Render(opts *RenderOptions) string {
	return renderToString(func(w io.Writer) (int, error) { return hdr.RenderTo(w, opts) })
}

func (hdr Expires) RenderValue() string { return strconv.FormatUint(uint64(hdr), 10) }

func (hdr Expires) String() string { return hdr.RenderValue() }

func (hdr Expires) Clone() Header { return hdr }

func (hdr Expires) Equal(val any) bool {
	var other Expires
	switch v := val.(type) {
	case Expires:
		other = v
	case *Expires:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return hdr == other
}

func (Expires) IsValid() bool { return true }

// ParseExpires parses an Expires header value.
func ParseExpires(s string) (Expires, error) {
	n, err := strconv.ParseUint(util.TrimSP(s), 10, 32)
	if err != nil {
		return 0, errtrace.Wrap(errorutil.NewInvalidArgumentError("invalid Expires %q", s))
	}
	return Expires(n), nil
}

// UserAgent represents the User-Agent header field.
type UserAgent string

func (UserAgent) CanonicName() Name { return "User-Agent" }

func (UserAgent) CompactName() Name { return "User-Agent" }

func (hdr UserAgent) RenderTo(w io.Writer, opts *RenderOptions) (int, error) {
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

func (hdr UserAgent) Render(opts *RenderOptions) string {
	return renderToString(func(w io.Writer) (int, error) { return hdr.RenderTo(w, opts) })
}

func (hdr UserAgent) RenderValue() string { return string(hdr) }

func (hdr UserAgent) String() string { return string(hdr) }

func (hdr UserAgent) Clone() Header { return hdr }

func (hdr UserAgent) Equal(val any) bool {
	var other UserAgent
	switch v := val.(type) {
	case UserAgent:
		other = v
	case *UserAgent:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return hdr == other
}

func (hdr UserAgent) IsValid() bool { return hdr != "" }
