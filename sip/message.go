package sip

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/header"
	"github.com/ghettovoice/sipua/internal/ioutil"
	"github.com/ghettovoice/sipua/internal/util"
	"github.com/ghettovoice/sipua/uri"
)

// Message represents a SIP message: a request or a response.
type Message interface {
	// StartLine returns the rendered message start line.
	StartLine() string
	// GetHeaders returns the message header collection.
	GetHeaders() *Headers
	// GetBody returns the message body.
	GetBody() []byte
	// RenderTo writes the message in RFC 3261 wire form.
	RenderTo(w io.Writer, opts *RenderOptions) (int, error)
	// Render returns the message in RFC 3261 wire form.
	Render(opts *RenderOptions) string
	// Validate checks the mandatory headers the core routes on.
	Validate() error
}

// Request represents a SIP request message.
type Request struct {
	Method  RequestMethod `json:"method"`
	URI     *uri.SIP      `json:"uri"`
	Proto   ProtoInfo     `json:"proto"`
	Headers Headers       `json:"headers"`
	Body    []byte        `json:"body,omitempty"`
}

// NewRequest creates a new request with the SIP/2.0 protocol version.
func NewRequest(method RequestMethod, target *uri.SIP, hdrs ...header.Header) *Request {
	return &Request{
		Method:  method.ToUpper(),
		URI:     target,
		Proto:   Proto20,
		Headers: NewHeaders(hdrs...),
	}
}

// SetBody sets the request body along with its Content-Type and
// Content-Length headers.
func (req *Request) SetBody(contentType header.ContentType, body []byte) {
	req.Body = body
	if contentType != "" {
		req.Headers.Set(contentType)
	}
	req.Headers.Set(header.ContentLength(len(body)))
}

// GetHeaders returns the request header collection.
func (req *Request) GetHeaders() *Headers {
	if req == nil {
		return nil
	}
	return &req.Headers
}

// GetBody returns the request body.
func (req *Request) GetBody() []byte {
	if req == nil {
		return nil
	}
	return req.Body
}

// IsInvite reports whether the request method is INVITE.
func (req *Request) IsInvite() bool { return req.Method.Equal(RequestMethodInvite) }

// IsAck reports whether the request method is ACK.
func (req *Request) IsAck() bool { return req.Method.Equal(RequestMethodAck) }

// StartLine returns the rendered Request-Line.
func (req *Request) StartLine() string {
	if req == nil {
		return ""
	}
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	req.renderStartLine(sb)
	return sb.String()
}

func (req *Request) renderStartLine(w io.Writer) (int, error) {
	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)
	cw.Fprint(req.Method, " ")
	cw.Call(func(w io.Writer) (int, error) { return req.URI.RenderTo(w, nil) })
	cw.Fprint(" ", req.Proto)
	return errtrace.Wrap2(cw.Result())
}

// RenderTo writes the request in RFC 3261 wire form. The emitted
// Content-Length always equals the body byte count.
func (req *Request) RenderTo(w io.Writer, opts *RenderOptions) (num int, err error) {
	if req == nil {
		return 0, nil
	}
	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)
	cw.Call(req.renderStartLine)
	cw.Fprint("\r\n")
	cw.Call(func(w io.Writer) (int, error) { return req.Headers.renderLines(w, opts, false) })
	cw.Fprint("Content-Length: ", len(req.Body), "\r\n\r\n")
	cw.Write(req.Body)
	return errtrace.Wrap2(cw.Result())
}

// Render returns the request in RFC 3261 wire form.
func (req *Request) Render(opts *RenderOptions) string {
	if req == nil {
		return ""
	}
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	req.RenderTo(sb, opts) //nolint:errcheck
	return sb.String()
}

// String returns a short string representation of the request.
func (req *Request) String() string {
	if req == nil {
		return "<nil>"
	}
	return req.StartLine()
}

// Format implements [fmt.Formatter] for custom formatting.
func (req *Request) Format(f fmt.State, verb rune) {
	switch verb {
	case 's':
		if f.Flag('+') {
			req.RenderTo(f, nil) //nolint:errcheck
			return
		}
		fmt.Fprint(f, req.String())
		return
	case 'q':
		fmt.Fprint(f, strconv.Quote(req.String()))
		return
	default:
		type hideMethods Request
		type Request hideMethods
		fmt.Fprintf(f, fmt.FormatString(f, verb), (*Request)(req))
		return
	}
}

// LogValue implements [slog.LogValuer] for structured logging.
func (req *Request) LogValue() slog.Value {
	if req == nil {
		return slog.Value{}
	}
	attrs := make([]slog.Attr, 0, 4)
	attrs = append(attrs, slog.String("method", string(req.Method)), slog.Any("uri", req.URI))
	if callID, ok := req.Headers.CallID(); ok {
		attrs = append(attrs, slog.String("call_id", string(callID)))
	}
	if cseq, ok := req.Headers.CSeq(); ok {
		attrs = append(attrs, slog.String("cseq", cseq.String()))
	}
	return slog.GroupValue(attrs...)
}

// Clone returns a deep copy of the request.
func (req *Request) Clone() *Request {
	if req == nil {
		return nil
	}
	req2 := &Request{
		Method:  req.Method,
		URI:     req.URI.Clone(),
		Proto:   req.Proto,
		Headers: req.Headers.Clone(),
	}
	if req.Body != nil {
		req2.Body = make([]byte, len(req.Body))
		copy(req2.Body, req.Body)
	}
	return req2
}

// Validate checks the mandatory request headers.
func (req *Request) Validate() error {
	if req == nil || !req.Method.IsValid() || !req.URI.IsValid() {
		return errtrace.Wrap(NewInvalidArgumentError(ErrInvalidMessage))
	}
	if err := validateHeaders(&req.Headers); err != nil {
		return errtrace.Wrap(err)
	}
	if cseq, ok := req.Headers.CSeq(); ok && !cseq.Method.Equal(req.Method) {
		return errtrace.Wrap(errorWrap(ErrProtocolViolation, "CSeq method %q does not match request method %q", cseq.Method, req.Method))
	}
	return nil
}

// Response represents a SIP response message.
type Response struct {
	Status  ResponseStatus `json:"status"`
	Reason  ResponseReason `json:"reason"`
	Proto   ProtoInfo      `json:"proto"`
	Headers Headers        `json:"headers"`
	Body    []byte         `json:"body,omitempty"`
}

// NewResponse creates a response to the given request per RFC 3261
// Section 8.2.6: Via, From, To, Call-ID and CSeq are copied from the
// request.
func NewResponse(req *Request, status ResponseStatus, hdrs ...header.Header) *Response {
	res := &Response{
		Status: status,
		Reason: status.Reason(),
		Proto:  Proto20,
	}
	for _, name := range []header.Name{"Via", "From", "To", "Call-ID", "CSeq"} {
		for _, h := range req.Headers.Get(name) {
			res.Headers.Append(h.Clone())
		}
	}
	res.Headers.Append(hdrs...)
	return res
}

// GetHeaders returns the response header collection.
func (res *Response) GetHeaders() *Headers {
	if res == nil {
		return nil
	}
	return &res.Headers
}

// GetBody returns the response body.
func (res *Response) GetBody() []byte {
	if res == nil {
		return nil
	}
	return res.Body
}

// SetBody sets the response body along with its Content-Type and
// Content-Length headers.
func (res *Response) SetBody(contentType header.ContentType, body []byte) {
	res.Body = body
	if contentType != "" {
		res.Headers.Set(contentType)
	}
	res.Headers.Set(header.ContentLength(len(body)))
}

// StartLine returns the rendered Status-Line.
func (res *Response) StartLine() string {
	if res == nil {
		return ""
	}
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	res.renderStartLine(sb)
	return sb.String()
}

func (res *Response) renderStartLine(w io.Writer) (int, error) {
	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)
	cw.Fprint(res.Proto, " ", uint(res.Status), " ", res.Reason)
	return errtrace.Wrap2(cw.Result())
}

// RenderTo writes the response in RFC 3261 wire form. The emitted
// Content-Length always equals the body byte count.
func (res *Response) RenderTo(w io.Writer, opts *RenderOptions) (num int, err error) {
	if res == nil {
		return 0, nil
	}
	cw := ioutil.GetCountingWriter(w)
	defer ioutil.FreeCountingWriter(cw)
	cw.Call(res.renderStartLine)
	cw.Fprint("\r\n")
	cw.Call(func(w io.Writer) (int, error) { return res.Headers.renderLines(w, opts, false) })
	cw.Fprint("Content-Length: ", len(res.Body), "\r\n\r\n")
	cw.Write(res.Body)
	return errtrace.Wrap2(cw.Result())
}

// Render returns the response in RFC 3261 wire form.
func (res *Response) Render(opts *RenderOptions) string {
	if res == nil {
		return ""
	}
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	res.RenderTo(sb, opts) //nolint:errcheck
	return sb.String()
}

// String returns a short string representation of the response.
func (res *Response) String() string {
	if res == nil {
		return "<nil>"
	}
	return res.StartLine()
}

// Format implements [fmt.Formatter] for custom formatting.
func (res *Response) Format(f fmt.State, verb rune) {
	switch verb {
	case 's':
		if f.Flag('+') {
			res.RenderTo(f, nil) //nolint:errcheck
			return
		}
		fmt.Fprint(f, res.String())
		return
	case 'q':
		fmt.Fprint(f, strconv.Quote(res.String()))
		return
	default:
		type hideMethods Response
		type Response hideMethods
		fmt.Fprintf(f, fmt.FormatString(f, verb), (*Response)(res))
		return
	}
}

// LogValue implements [slog.LogValuer] for structured logging.
func (res *Response) LogValue() slog.Value {
	if res == nil {
		return slog.Value{}
	}
	attrs := make([]slog.Attr, 0, 4)
	attrs = append(attrs, slog.Uint64("status", uint64(res.Status)), slog.String("reason", string(res.Reason)))
	if callID, ok := res.Headers.CallID(); ok {
		attrs = append(attrs, slog.String("call_id", string(callID)))
	}
	if cseq, ok := res.Headers.CSeq(); ok {
		attrs = append(attrs, slog.String("cseq", cseq.String()))
	}
	return slog.GroupValue(attrs...)
}

// Clone returns a deep copy of the response.
func (res *Response) Clone() *Response {
	if res == nil {
		return nil
	}
	res2 := &Response{
		Status:  res.Status,
		Reason:  res.Reason,
		Proto:   res.Proto,
		Headers: res.Headers.Clone(),
	}
	if res.Body != nil {
		res2.Body = make([]byte, len(res.Body))
		copy(res2.Body, res.Body)
	}
	return res2
}

// Validate checks the mandatory response headers.
func (res *Response) Validate() error {
	if res == nil || !res.Status.IsValid() {
		return errtrace.Wrap(NewInvalidArgumentError(ErrInvalidMessage))
	}
	return errtrace.Wrap(validateHeaders(&res.Headers))
}

func validateHeaders(hs *Headers) error {
	if _, ok := hs.FirstViaHop(); !ok {
		return errtrace.Wrap(errorWrap(ErrProtocolViolation, "missing Via header"))
	}
	if _, ok := hs.From(); !ok {
		return errtrace.Wrap(errorWrap(ErrProtocolViolation, "missing From header"))
	}
	if _, ok := hs.To(); !ok {
		return errtrace.Wrap(errorWrap(ErrProtocolViolation, "missing To header"))
	}
	if _, ok := hs.CallID(); !ok {
		return errtrace.Wrap(errorWrap(ErrProtocolViolation, "missing Call-ID header"))
	}
	if _, ok := hs.CSeq(); !ok {
		return errtrace.Wrap(errorWrap(ErrProtocolViolation, "missing CSeq header"))
	}
	return nil
}

func errorWrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)) //errtrace:skip
}

// InboundRequest is a request received from a transport along with the
// peer it arrived from.
type InboundRequest struct {
	*Request
	Peer Addr `json:"peer"`
}

// InboundResponse is a response received from a transport along with the
// peer it arrived from.
type InboundResponse struct {
	*Response
	Peer Addr `json:"peer"`
}

// OutboundRequest is a request to be sent along with its destination.
type OutboundRequest struct {
	*Request
	Peer Addr `json:"peer"`
}

// Clone returns a deep copy of the outbound request.
func (req *OutboundRequest) Clone() *OutboundRequest {
	if req == nil {
		return nil
	}
	return &OutboundRequest{Request: req.Request.Clone(), Peer: req.Peer}
}

// OutboundResponse is a response to be sent along with its destination.
type OutboundResponse struct {
	*Response
	Peer Addr `json:"peer"`
}

// Clone returns a deep copy of the outbound response.
func (res *OutboundResponse) Clone() *OutboundResponse {
	if res == nil {
		return nil
	}
	return &OutboundResponse{Response: res.Response.Clone(), Peer: res.Peer}
}
