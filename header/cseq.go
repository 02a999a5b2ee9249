package header

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/errorutil"
	"github.com/ghettovoice/sipua/internal/util"
)

// CSeq represents the CSeq header field: a sequence number and the
// request method, ordering transactions within a dialog.
type CSeq struct {
	Seq    uint32        `json:"seq"`
	Method RequestMethod `json:"method"`
}

// CanonicName returns the canonical name of the header.
func (CSeq) CanonicName() Name { return "CSeq" }

// CompactName returns the compact name of the header.
func (CSeq) CompactName() Name { return "CSeq" }

func (hdr CSeq) RenderTo(w io.Writer, opts *RenderOptions) (int, error) {
	return errtrace.Wrap2(renderHdr(w, hdr, opts))
}

func (hdr CSeq) Render(opts *RenderOptions) string {
	return renderToString(func(w io.Writer) (int, error) { return hdr.RenderTo(w, opts) })
}

func (hdr CSeq) RenderValue() string {
	return strconv.FormatUint(uint64(hdr.Seq), 10) + " " + string(hdr.Method)
}

func (hdr CSeq) String() string { return hdr.RenderValue() }

func (hdr CSeq) Format(f fmt.State, verb rune) {
	switch verb {
	case 's':
		fmt.Fprint(f, hdr.String())
		return
	case 'q':
		fmt.Fprint(f, strconv.Quote(hdr.String()))
		return
	default:
		type hideMethods CSeq
		type CSeq hideMethods
		fmt.Fprintf(f, fmt.FormatString(f, verb), CSeq(hdr))
		return
	}
}

func (hdr CSeq) Clone() Header { return hdr }

func (hdr CSeq) Equal(val any) bool {
	var other CSeq
	switch v := val.(type) {
	case CSeq:
		other = v
	case *CSeq:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return hdr.Seq == other.Seq && hdr.Method.Equal(other.Method)
}

func (hdr CSeq) IsValid() bool { return hdr.Method.IsValid() }

// ParseCSeq parses a CSeq header value.
func ParseCSeq(s string) (CSeq, error) {
	seqStr, method, ok := strings.Cut(util.TrimSP(s), " ")
	if !ok {
		return CSeq{}, errtrace.Wrap(errorutil.NewInvalidArgumentError("malformed CSeq %q", s))
	}
	seq, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		return CSeq{}, errtrace.Wrap(errorutil.NewInvalidArgumentError("invalid CSeq number %q", seqStr))
	}
	hdr := CSeq{
		Seq:    uint32(seq),
		Method: RequestMethod(util.UCase(util.TrimSP(method))),
	}
	if !hdr.IsValid() {
		return CSeq{}, errtrace.Wrap(errorutil.NewInvalidArgumentError("invalid CSeq method in %q", s))
	}
	return hdr, nil
}
