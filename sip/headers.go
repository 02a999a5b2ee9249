package sip

import (
	"io"
	"iter"
	"slices"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/header"
	"github.com/ghettovoice/sipua/internal/ioutil"
)

// Headers is an ordered SIP header collection.
//
// Headers preserves the insertion order of entries with one rendering
// exception mandated by the transaction layer: Via headers are always
// rendered first and Content-Length is rendered last. Name comparison is
// ASCII case-insensitive and compact names are folded to their canonical
// form.
type Headers struct {
	hdrs []header.Header
}

// NewHeaders creates a header collection from the given headers.
func NewHeaders(hdrs ...header.Header) Headers {
	return Headers{hdrs: hdrs}
}

// Len returns the number of header entries.
func (hs *Headers) Len() int {
	if hs == nil {
		return 0
	}
	return len(hs.hdrs)
}

// All iterates over all header entries in insertion order.
func (hs *Headers) All() iter.Seq[header.Header] {
	return func(yield func(header.Header) bool) {
		if hs == nil {
			return
		}
		for _, h := range hs.hdrs {
			if !yield(h) {
				return
			}
		}
	}
}

// Append adds headers to the end of the collection.
func (hs *Headers) Append(hdrs ...header.Header) {
	hs.hdrs = append(hs.hdrs, hdrs...)
}

// Prepend adds a header to the front of the collection.
func (hs *Headers) Prepend(hdr header.Header) {
	hs.hdrs = append([]header.Header{hdr}, hs.hdrs...)
}

// Set replaces all headers sharing hdr's name with hdr, keeping the
// position of the first occurrence. Missing headers are appended.
func (hs *Headers) Set(hdr header.Header) {
	name := hdr.CanonicName()
	out := make([]header.Header, 0, len(hs.hdrs)+1)
	idx := -1
	for _, h := range hs.hdrs {
		if h.CanonicName().Equal(name) {
			if idx < 0 {
				idx = len(out)
			}
			continue
		}
		out = append(out, h)
	}
	if idx < 0 {
		out = append(out, hdr)
	} else {
		out = slices.Insert(out, idx, hdr)
	}
	hs.hdrs = out
}

// Del removes all headers with the given name.
func (hs *Headers) Del(name header.Name) {
	hs.hdrs = slices.DeleteFunc(hs.hdrs, func(h header.Header) bool {
		return h.CanonicName().Equal(name)
	})
}

// Get returns all headers with the given name in insertion order.
func (hs *Headers) Get(name header.Name) []header.Header {
	if hs == nil {
		return nil
	}
	var out []header.Header
	for _, h := range hs.hdrs {
		if h.CanonicName().Equal(name) {
			out = append(out, h)
		}
	}
	return out
}

// First returns the first header with the given name.
func (hs *Headers) First(name header.Name) (header.Header, bool) {
	if hs == nil {
		return nil, false
	}
	for _, h := range hs.hdrs {
		if h.CanonicName().Equal(name) {
			return h, true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the collection.
func (hs *Headers) Clone() Headers {
	if hs == nil || hs.hdrs == nil {
		return Headers{}
	}
	hdrs := make([]header.Header, len(hs.hdrs))
	for i, h := range hs.hdrs {
		hdrs[i] = h.Clone()
	}
	return Headers{hdrs: hdrs}
}

// RenderTo writes all headers as CRLF-terminated lines: Via headers
// first, then the remaining headers in insertion order, Content-Length
// last.
func (hs *Headers) RenderTo(w io.Writer, opts *RenderOptions) (num int, err error) {
	return errtrace.Wrap2(hs.renderLines(w, opts, true))
}

// renderLines writes the header lines. When withContentLength is false
// the Content-Length entry is skipped so the message renderer can emit
// the computed value instead.
func (hs *Headers) renderLines(w io.Writer, opts *RenderOptions, withContentLength bool) (num int, err error) {
	if hs == nil {
		return 0, nil
	}

	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)

	renderLine := func(h header.Header) {
		cw.Call(func(w io.Writer) (int, error) { return h.RenderTo(w, opts) })
		cw.Fprint("\r\n")
	}

	for _, h := range hs.hdrs {
		if h.CanonicName() == "Via" {
			renderLine(h)
		}
	}
	var contentLength header.Header
	for _, h := range hs.hdrs {
		switch h.CanonicName() {
		case "Via":
		case "Content-Length":
			contentLength = h
		default:
			renderLine(h)
		}
	}
	if withContentLength && contentLength != nil {
		renderLine(contentLength)
	}
	return errtrace.Wrap2(cw.Result())
}

/* Typed getters for the headers the core routes on. */

// Via returns the first Via header entry.
func (hs *Headers) Via() (header.Via, bool) {
	h, ok := hs.First("Via")
	if !ok {
		return nil, false
	}
	via, ok := h.(header.Via)
	return via, ok
}

// FirstViaHop returns a pointer to the first hop of the top Via header.
// The hop may be mutated in place.
func (hs *Headers) FirstViaHop() (*header.ViaHop, bool) {
	via, ok := hs.Via()
	if !ok || len(via) == 0 {
		return nil, false
	}
	return &via[0], true
}

// From returns the From header.
func (hs *Headers) From() (*header.From, bool) {
	h, ok := hs.First("From")
	if !ok {
		return nil, false
	}
	from, ok := h.(*header.From)
	return from, ok
}

// To returns the To header.
func (hs *Headers) To() (*header.To, bool) {
	h, ok := hs.First("To")
	if !ok {
		return nil, false
	}
	to, ok := h.(*header.To)
	return to, ok
}

// CallID returns the Call-ID header.
func (hs *Headers) CallID() (header.CallID, bool) {
	h, ok := hs.First("Call-ID")
	if !ok {
		return "", false
	}
	callID, ok := h.(header.CallID)
	return callID, ok
}

// CSeq returns the CSeq header.
func (hs *Headers) CSeq() (header.CSeq, bool) {
	h, ok := hs.First("CSeq")
	if !ok {
		return header.CSeq{}, false
	}
	cseq, ok := h.(header.CSeq)
	return cseq, ok
}

// Contact returns the first Contact header entry.
func (hs *Headers) Contact() (header.Contact, bool) {
	h, ok := hs.First("Contact")
	if !ok {
		return nil, false
	}
	contact, ok := h.(header.Contact)
	return contact, ok
}

// MaxForwards returns the Max-Forwards header.
func (hs *Headers) MaxForwards() (header.MaxForwards, bool) {
	h, ok := hs.First("Max-Forwards")
	if !ok {
		return 0, false
	}
	mf, ok := h.(header.MaxForwards)
	return mf, ok
}

// ContentLength returns the Content-Length header.
func (hs *Headers) ContentLength() (header.ContentLength, bool) {
	h, ok := hs.First("Content-Length")
	if !ok {
		return 0, false
	}
	cl, ok := h.(header.ContentLength)
	return cl, ok
}

// ContentType returns the Content-Type header.
func (hs *Headers) ContentType() (header.ContentType, bool) {
	h, ok := hs.First("Content-Type")
	if !ok {
		return "", false
	}
	ct, ok := h.(header.ContentType)
	return ct, ok
}

// Routes returns all Route entries flattened in order.
func (hs *Headers) Routes() []header.NameAddr {
	var out []header.NameAddr
	for _, h := range hs.Get("Route") {
		if r, ok := h.(header.Route); ok {
			out = append(out, r...)
		}
	}
	return out
}

// RecordRoutes returns all Record-Route entries flattened in order.
func (hs *Headers) RecordRoutes() []header.NameAddr {
	var out []header.NameAddr
	for _, h := range hs.Get("Record-Route") {
		if r, ok := h.(header.RecordRoute); ok {
			out = append(out, r...)
		}
	}
	return out
}

// WWWAuthenticate returns the WWW-Authenticate header.
func (hs *Headers) WWWAuthenticate() (*header.WWWAuthenticate, bool) {
	h, ok := hs.First("WWW-Authenticate")
	if !ok {
		return nil, false
	}
	ch, ok := h.(*header.WWWAuthenticate)
	return ch, ok
}

// ProxyAuthenticate returns the Proxy-Authenticate header.
func (hs *Headers) ProxyAuthenticate() (*header.ProxyAuthenticate, bool) {
	h, ok := hs.First("Proxy-Authenticate")
	if !ok {
		return nil, false
	}
	ch, ok := h.(*header.ProxyAuthenticate)
	return ch, ok
}
