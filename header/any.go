package header

import (
	"io"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/util"
)

// Any represents a header without a dedicated type.
// Its value is retained verbatim and round-trips intact.
type Any struct {
	HeaderName Name   `json:"name"`
	Value      string `json:"value"`
}

// CanonicName returns the canonical name of the header.
func (hdr *Any) CanonicName() Name { return hdr.HeaderName.ToCanonic() }

// CompactName returns the canonical name, generic headers carry no
// compact form of their own.
func (hdr *Any) CompactName() Name { return hdr.CanonicName() }

func (hdr *Any) RenderTo(w io.Writer, opts *RenderOptions) (int, error) {
	if hdr == nil {
		return 0, nil
	}
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

func (hdr *Any) Render(opts *RenderOptions) string {
	if hdr == nil {
		return ""
	}
	return renderToString(func(w io.Writer) (int, error) { return hdr.RenderTo(w, opts) })
}

func (hdr *Any) RenderValue() string { return hdr.Value }

func (hdr *Any) String() string { return hdr.Value }

func (hdr *Any) Clone() Header {
	if hdr == nil {
		return (*Any)(nil)
	}
	h2 := *hdr
	return &h2
}

func (hdr *Any) Equal(val any) bool {
	var other *Any
	switch v := val.(type) {
	case Any:
		other = &v
	case *Any:
		other = v
	default:
		return false
	}
	if hdr == nil || other == nil {
		return hdr == other
	}
	return hdr.HeaderName.Equal(other.HeaderName) && util.TrimSP(hdr.Value) == util.TrimSP(other.Value)
}

func (hdr *Any) IsValid() bool { return hdr != nil && hdr.HeaderName.IsValid() }
