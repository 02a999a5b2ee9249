package sip

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ghettovoice/sipua/internal/types"
	"github.com/ghettovoice/sipua/log"
)

// TransportOptions are common options for the built-in transports.
type TransportOptions struct {
	// Log is the logger used by the transport.
	// If nil, the [log.Default] is used.
	Log *slog.Logger
}

func (o *TransportOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// transportBase carries the callback registries and close handling
// shared by the UDP and TCP transports.
type transportBase struct {
	log *slog.Logger

	onReq   types.CallbackManager[TransportRequestHandler]
	onRes   types.CallbackManager[TransportResponseHandler]
	onClose types.CallbackManager[func()]

	closing   atomic.Bool
	closeOnce sync.Once
}

func (tp *transportBase) OnRequest(fn TransportRequestHandler) (cancel func()) {
	return tp.onReq.Add(fn)
}

func (tp *transportBase) OnResponse(fn TransportResponseHandler) (cancel func()) {
	return tp.onRes.Add(fn)
}

func (tp *transportBase) OnClose(fn func()) (cancel func()) {
	return tp.onClose.Add(fn)
}

func (tp *transportBase) fireClose() {
	for fn := range tp.onClose.All() {
		fn()
	}
}

// dispatch parses an inbound packet and fans it out to the registered
// request or response handlers. Malformed input is logged and dropped.
func (tp *transportBase) dispatch(impl Transport, data []byte, peer Addr) {
	msg, err := ParseMessage(data)
	if err != nil {
		tp.log.LogAttrs(context.Background(), slog.LevelDebug,
			"discarding malformed inbound message",
			slog.Any("peer", peer),
			slog.Any("error", err),
		)
		return
	}

	ctx := ContextWithTransport(context.Background(), impl)
	switch m := msg.(type) {
	case *Request:
		req := &InboundRequest{Request: m, Peer: peer}
		for fn := range tp.onReq.All() {
			fn(ctx, impl, req)
		}
	case *Response:
		res := &InboundResponse{Response: m, Peer: peer}
		for fn := range tp.onRes.All() {
			fn(ctx, impl, res)
		}
	}
}
