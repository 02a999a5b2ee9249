package sip

import (
	"context"
	"time"

	"github.com/ghettovoice/sipua/internal/types"
)

// Transport configuration variables.
var (
	// MTU bounds the size of a message sent over an unreliable transport.
	MTU uint = 1500
	// MaxMsgSize bounds the read buffer of a streamed transport.
	MaxMsgSize uint = 65535
)

const msgSendTimeout = time.Minute

var zeroTime time.Time

// ErrNoTarget is returned when no destination for the message is resolved.
const ErrNoTarget Error = "no target resolved"

// Transport moves serialized SIP messages between the user agent and a
// peer. One transport instance exists per (local address, protocol)
// tuple.
type Transport interface {
	// Proto returns the transport protocol.
	Proto() TransportProto
	// LocalAddr returns the transport local address.
	LocalAddr() Addr
	// Reliable reports whether the transport guarantees delivery order.
	Reliable() bool
	// SendRequest serializes and sends a request to its peer address.
	SendRequest(ctx context.Context, req *OutboundRequest, opts *SendRequestOptions) error
	// SendResponse serializes and sends a response to its peer address.
	SendResponse(ctx context.Context, res *OutboundResponse, opts *SendResponseOptions) error
	// OnRequest registers an inbound request callback.
	OnRequest(fn TransportRequestHandler) (cancel func())
	// OnResponse registers an inbound response callback.
	OnResponse(fn TransportResponseHandler) (cancel func())
	// OnClose registers a callback invoked when the transport shuts down.
	OnClose(fn func()) (cancel func())
	// Close shuts the transport down, cancelling all serving loops.
	Close() error
}

type TransportRequestHandler = func(ctx context.Context, tp Transport, req *InboundRequest)

type TransportResponseHandler = func(ctx context.Context, tp Transport, res *InboundResponse)

// IsReliableTransport reports whether tp guarantees delivery.
func IsReliableTransport(tp Transport) bool {
	return tp != nil && tp.Reliable()
}

// SendRequestOptions are options for sending a request.
type SendRequestOptions struct {
	// Timeout is the timeout for the request sending process.
	// If zero, a 1m default is used.
	Timeout time.Duration `json:"timeout,omitempty"`
	// RenderCompact indicates whether the message should be rendered
	// with compact header names.
	RenderCompact bool `json:"render_compact,omitempty"`
}

func (o *SendRequestOptions) timeout() time.Duration {
	if o == nil || o.Timeout == 0 {
		return msgSendTimeout
	}
	return o.Timeout
}

func (o *SendRequestOptions) rendOpts() *RenderOptions {
	if o == nil {
		return nil
	}
	return &RenderOptions{Compact: o.RenderCompact}
}

func cloneSendReqOpts(opts *SendRequestOptions) *SendRequestOptions {
	if opts == nil {
		return nil
	}
	newOpts := *opts
	return &newOpts
}

// SendResponseOptions are options for sending a response.
type SendResponseOptions struct {
	// Timeout is the timeout for the response sending process.
	// If zero, a 1m default is used.
	Timeout time.Duration `json:"timeout,omitempty"`
	// RenderCompact indicates whether the message should be rendered
	// with compact header names.
	RenderCompact bool `json:"render_compact,omitempty"`
}

func (o *SendResponseOptions) timeout() time.Duration {
	if o == nil || o.Timeout == 0 {
		return msgSendTimeout
	}
	return o.Timeout
}

func (o *SendResponseOptions) rendOpts() *RenderOptions {
	if o == nil {
		return nil
	}
	return &RenderOptions{Compact: o.RenderCompact}
}

func cloneSendResOpts(opts *SendResponseOptions) *SendResponseOptions {
	if opts == nil {
		return nil
	}
	newOpts := *opts
	return &newOpts
}

const srvTranspCtxKey types.ContextKey = "server_transport"

// ContextWithTransport attaches the transport an inbound message arrived
// on to the context.
func ContextWithTransport(ctx context.Context, tp Transport) context.Context {
	return context.WithValue(ctx, srvTranspCtxKey, tp)
}

// TransportFromContext returns the transport an inbound message arrived on.
func TransportFromContext(ctx context.Context) (Transport, bool) {
	tp, ok := ctx.Value(srvTranspCtxKey).(Transport)
	return tp, ok
}

// ResponsePeer resolves the peer address a response to req should be
// sent to, per RFC 3261 Section 18.2.2: the received/rport parameters of
// the top Via override its sent-by address.
func ResponsePeer(req *InboundRequest) Addr {
	hop, ok := req.Headers.FirstViaHop()
	if !ok {
		return req.Peer
	}

	addr := hop.SentBy
	if received, ok := hop.Received(); ok && received != "" {
		addr.Host = received
	}
	if rport, ok := hop.Params.Last("rport"); ok && rport != "" {
		if p, err := ParseAddr(":" + rport); err == nil && p.Port != 0 {
			addr.Port = p.Port
		}
	} else if addr.Port == 0 {
		addr.Port = 5060
	}
	if addr.Host == "" {
		return req.Peer
	}
	return addr
}
