package sip

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/header"
	"github.com/ghettovoice/sipua/internal/types"
	"github.com/ghettovoice/sipua/uri"
)

// ErrParse marks message parsing errors. Use [errors.Is] to detect it
// and [errors.As] with [*ParseError] to access the error details.
const ErrParse Error = "parse error"

// ParseErrorKind classifies message parsing failures.
type ParseErrorKind string

const (
	// ParseErrorStartLine indicates a malformed Request-Line or Status-Line.
	ParseErrorStartLine ParseErrorKind = "start_line"
	// ParseErrorHeader indicates a malformed header line.
	ParseErrorHeader ParseErrorKind = "header"
	// ParseErrorBody indicates a truncated or overlong body.
	ParseErrorBody ParseErrorKind = "body"
	// ParseErrorHeaders indicates a missing mandatory header.
	ParseErrorHeaders ParseErrorKind = "headers"
)

// ParseError describes a message parsing failure with the byte offset
// where it was detected.
type ParseError struct {
	Kind   ParseErrorKind
	Offset int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s at byte %d: %s", e.Kind, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrParse, e.Err} }

func newParseError(kind ParseErrorKind, offset int, err error) error {
	return &ParseError{Kind: kind, Offset: offset, Err: err} //errtrace:skip
}

const (
	crlf     = "\r\n"
	hdrsStop = "\r\n\r\n"
)

// ParseMessage parses a buffer holding exactly one SIP message: the
// start line, the CRLF-terminated header block and Content-Length bytes
// of body. Header lines beginning with SP or HTAB continue the previous
// line; compact header names are accepted and folded to their canonical
// form; unknown headers are retained verbatim.
func ParseMessage(data []byte) (Message, error) {
	hdrsEnd := bytes.Index(data, []byte(hdrsStop))
	if hdrsEnd < 0 {
		return nil, errtrace.Wrap(newParseError(ParseErrorBody, len(data), Error("missing header-body separator")))
	}
	body := data[hdrsEnd+len(hdrsStop):]

	lineEnd := bytes.Index(data, []byte(crlf))
	startLine := string(data[:lineEnd])

	msg, err := parseStartLine(startLine)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	hdrs := msg.GetHeaders()
	if err := parseHeaderLines(data[lineEnd+len(crlf):hdrsEnd], lineEnd+len(crlf), hdrs); err != nil {
		return nil, errtrace.Wrap(err)
	}

	if cl, ok := hdrs.ContentLength(); ok && int(cl) != len(body) {
		return nil, errtrace.Wrap(newParseError(
			ParseErrorBody,
			hdrsEnd+len(hdrsStop),
			Error(fmt.Sprintf("Content-Length %d disagrees with body length %d", cl, len(body))),
		))
	}

	if err := msg.Validate(); err != nil {
		return nil, errtrace.Wrap(newParseError(ParseErrorHeaders, lineEnd+len(crlf), err))
	}

	switch m := msg.(type) {
	case *Request:
		if len(body) > 0 {
			m.Body = body
		}
	case *Response:
		if len(body) > 0 {
			m.Body = body
		}
	}
	return msg, nil
}

func parseStartLine(line string) (Message, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, errtrace.Wrap(newParseError(ParseErrorStartLine, 0, Error(fmt.Sprintf("malformed start line %q", line))))
	}

	if proto, ok := parseProto(parts[0]); ok {
		// Status-Line
		code, err := strconv.ParseUint(parts[1], 10, 16)
		if err != nil {
			return nil, errtrace.Wrap(newParseError(ParseErrorStartLine, len(parts[0])+1, Error(fmt.Sprintf("invalid status code %q", parts[1]))))
		}
		status := ResponseStatus(code)
		if !status.IsValid() {
			return nil, errtrace.Wrap(newParseError(ParseErrorStartLine, len(parts[0])+1, Error(fmt.Sprintf("status code %d out of range", code))))
		}
		return &Response{
			Status: status,
			Reason: ResponseReason(parts[2]),
			Proto:  proto,
		}, nil
	}

	// Request-Line
	method := RequestMethod(parts[0])
	if !method.IsValid() {
		return nil, errtrace.Wrap(newParseError(ParseErrorStartLine, 0, Error(fmt.Sprintf("invalid method %q", parts[0]))))
	}
	proto, ok := parseProto(parts[2])
	if !ok {
		return nil, errtrace.Wrap(newParseError(ParseErrorStartLine, len(parts[0])+len(parts[1])+2, Error(fmt.Sprintf("invalid protocol %q", parts[2]))))
	}
	target, err := uri.Parse(parts[1])
	if err != nil {
		return nil, errtrace.Wrap(newParseError(ParseErrorStartLine, len(parts[0])+1, err))
	}
	return &Request{
		Method: method.ToUpper(),
		URI:    target,
		Proto:  proto,
	}, nil
}

func parseProto(s string) (ProtoInfo, bool) {
	name, version, ok := strings.Cut(s, "/")
	if !ok || name != "SIP" || version == "" {
		return ProtoInfo{}, false
	}
	return ProtoInfo{Name: name, Version: version}, true
}

func parseHeaderLines(block []byte, baseOffset int, hdrs *Headers) error {
	var (
		logical string
		offset  = baseOffset
		lineOff = baseOffset
	)

	flush := func() error {
		if logical == "" {
			return nil
		}
		name, value, ok := strings.Cut(logical, ":")
		if !ok {
			return errtrace.Wrap(newParseError(ParseErrorHeader, lineOff, Error(fmt.Sprintf("header line %q without colon", logical))))
		}
		parsed, err := header.Parse(strings.TrimSpace(name), strings.TrimSpace(value))
		if err != nil {
			return errtrace.Wrap(newParseError(ParseErrorHeader, lineOff, err))
		}
		hdrs.Append(parsed...)
		logical = ""
		return nil
	}

	for line := range bytes.Lines(block) {
		text := strings.TrimRight(string(line), crlf)
		if len(text) > 0 && (text[0] == ' ' || text[0] == '\t') {
			// continuation of the previous header line
			logical += " " + strings.TrimLeft(text, " \t")
			offset += len(line)
			continue
		}
		if err := flush(); err != nil {
			return errtrace.Wrap(err)
		}
		lineOff = offset
		logical = text
		offset += len(line)
	}
	return errtrace.Wrap(flush())
}

// ParseAddr parses a network address from the given input.
func ParseAddr[T ~string | ~[]byte](s T) (Addr, error) {
	return errtrace.Wrap2(types.ParseAddr(s))
}
