package header

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/errorutil"
	"github.com/ghettovoice/sipua/internal/ioutil"
	"github.com/ghettovoice/sipua/internal/syntax"
	"github.com/ghettovoice/sipua/uri"
)

// NameAddr represents an address specification shared by the From, To,
// Contact, Route and Record-Route header fields: an optional display
// name, a SIP URI and header parameters.
type NameAddr struct {
	DisplayName string   `json:"display_name,omitempty"`
	URI         *uri.SIP `json:"uri"`
	Params      Values   `json:"params,omitempty"`
}

func (na NameAddr) clone() NameAddr {
	na.URI = na.URI.Clone()
	na.Params = na.Params.Clone()
	return na
}

func (na NameAddr) String() string {
	return renderToString(func(w io.Writer) (int, error) {
		cw := ioutil.GetCountingWriter(w)
		defer ioutil.FreeCountingWriter(cw)
		if na.DisplayName != "" {
			cw.Fprint(syntax.Quote(na.DisplayName), " ")
		}
		cw.Fprint("<", na.URI, ">")
		renderParams(cw, na.Params)
		return cw.Result()
	})
}

func (na NameAddr) Format(f fmt.State, verb rune) {
	switch verb {
	case 's':
		fmt.Fprint(f, na.String())
		return
	case 'q':
		fmt.Fprint(f, strconv.Quote(na.String()))
		return
	default:
		if !f.Flag('+') && !f.Flag('#') {
			fmt.Fprint(f, na.String())
			return
		}

		type hideMethods NameAddr
		type NameAddr hideMethods
		fmt.Fprintf(f, fmt.FormatString(f, verb), NameAddr(na))
		return
	}
}

// Equal compares this address with another for equality.
func (na NameAddr) Equal(val any) bool {
	var other NameAddr
	switch v := val.(type) {
	case NameAddr:
		other = v
	case *NameAddr:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return na.URI.Equal(other.URI) && compareParams(na.Params, other.Params)
}

// IsValid checks whether the address is syntactically valid.
func (na NameAddr) IsValid() bool { return na.URI.IsValid() }

// Tag returns the tag parameter of the address.
func (na NameAddr) Tag() (string, bool) {
	return na.Params.Last("tag")
}

// SetTag sets the tag parameter of the address.
func (na *NameAddr) SetTag(tag string) {
	if na.Params == nil {
		na.Params = make(Values)
	}
	na.Params.Set("tag", tag)
}

// ParseNameAddr parses a single name-addr or addr-spec with trailing
// header parameters.
func ParseNameAddr(s string) (NameAddr, error) {
	var na NameAddr
	s = strings.TrimSpace(s)
	if s == "" {
		return na, errtrace.Wrap(errorutil.NewInvalidArgumentError("empty address value"))
	}

	if lt := strings.IndexByte(s, '<'); lt >= 0 {
		gt := strings.IndexByte(s[lt:], '>')
		if gt < 0 {
			return na, errtrace.Wrap(errorutil.NewInvalidArgumentError("unbalanced angle brackets in %q", s))
		}
		gt += lt

		if disp := strings.TrimSpace(s[:lt]); disp != "" {
			na.DisplayName = syntax.Unquote(disp)
		}

		u, err := uri.Parse(s[lt+1 : gt])
		if err != nil {
			return na, errtrace.Wrap(err)
		}
		na.URI = u
		if rest := strings.TrimPrefix(strings.TrimSpace(s[gt+1:]), ";"); rest != "" {
			na.Params = ParseParams(rest)
		}
		return na, nil
	}

	// addr-spec form: trailing ;-params belong to the header, not the URI
	spec, params := syntax.CutParams(s)
	u, err := uri.Parse(strings.TrimSpace(spec))
	if err != nil {
		return na, errtrace.Wrap(err)
	}
	na.URI = u
	na.Params = ParseParams(params)
	return na, nil
}

func parseNameAddrList(s string) ([]NameAddr, error) {
	var list []NameAddr
	for _, ent := range syntax.SplitUnquoted(s, ',') {
		ent = strings.TrimSpace(ent)
		if ent == "" {
			continue
		}
		na, err := ParseNameAddr(ent)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		list = append(list, na)
	}
	if len(list) == 0 {
		return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError("empty address list"))
	}
	return list, nil
}

func renderNameAddrList(list []NameAddr) string {
	return renderToString(func(w io.Writer) (int, error) {
		cw := ioutil.GetCountingWriter(w)
		defer ioutil.FreeCountingWriter(cw)
		for i := range list {
			if i > 0 {
				cw.Fprint(", ")
			}
			cw.Fprint(list[i])
		}
		return cw.Result()
	})
}

func cloneNameAddrs(list []NameAddr) []NameAddr {
	if list == nil {
		return nil
	}
	l2 := make([]NameAddr, len(list))
	for i := range list {
		l2[i] = list[i].clone()
	}
	return l2
}

func equalNameAddrs(l1, l2 []NameAddr) bool {
	if len(l1) != len(l2) {
		return false
	}
	for i := range l1 {
		if !l1[i].Equal(l2[i]) {
			return false
		}
	}
	return true
}
