package sip

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"braces.dev/errtrace"
)

// UDPTransport moves SIP messages over UDP datagrams.
type UDPTransport struct {
	transportBase
	conn      net.PacketConn
	localAddr Addr
}

// NewUDPTransport creates a transport bound to the given local address
// (e.g. "0.0.0.0:5060") and starts its serving loop.
func NewUDPTransport(localAddr string, opts *TransportOptions) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp", localAddr)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return NewUDPTransportFromConn(conn, opts)
}

// NewUDPTransportFromConn wraps an existing packet connection.
func NewUDPTransportFromConn(conn net.PacketConn, opts *TransportOptions) (*UDPTransport, error) {
	if conn == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid connection"))
	}

	local, err := ParseAddr(conn.LocalAddr().String())
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	tp := &UDPTransport{
		conn:      conn,
		localAddr: local,
	}
	tp.log = opts.log().With(slog.Any("transport", tp))
	go tp.serve()
	return tp, nil
}

// Proto returns the transport protocol.
func (*UDPTransport) Proto() TransportProto { return TransportProtoUDP }

// LocalAddr returns the transport local address.
func (tp *UDPTransport) LocalAddr() Addr { return tp.localAddr }

// Reliable reports whether the transport guarantees delivery order.
func (*UDPTransport) Reliable() bool { return false }

// LogValue implements [slog.LogValuer].
func (tp *UDPTransport) LogValue() slog.Value {
	if tp == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Any("proto", tp.Proto()),
		slog.Any("local_addr", tp.localAddr),
	)
}

func (tp *UDPTransport) serve() {
	buf := make([]byte, MaxMsgSize)
	for {
		num, raddr, err := tp.conn.ReadFrom(buf)
		if err != nil {
			if tp.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			tp.log.LogAttrs(context.Background(), slog.LevelWarn,
				"failed to read inbound datagram",
				slog.Any("error", err),
			)
			continue
		}

		peer, err := ParseAddr(raddr.String())
		if err != nil {
			continue
		}
		data := make([]byte, num)
		copy(data, buf[:num])
		tp.dispatch(tp, data, peer)
	}
}

// SendRequest serializes and sends a request to its peer address.
func (tp *UDPTransport) SendRequest(ctx context.Context, req *OutboundRequest, opts *SendRequestOptions) error {
	if req == nil || req.Request == nil {
		return errtrace.Wrap(NewInvalidArgumentError("invalid request"))
	}
	return errtrace.Wrap(tp.write(ctx, req.Render(opts.rendOpts()), req.Peer))
}

// SendResponse serializes and sends a response to its peer address.
func (tp *UDPTransport) SendResponse(ctx context.Context, res *OutboundResponse, opts *SendResponseOptions) error {
	if res == nil || res.Response == nil {
		return errtrace.Wrap(NewInvalidArgumentError("invalid response"))
	}
	return errtrace.Wrap(tp.write(ctx, res.Render(opts.rendOpts()), res.Peer))
}

func (tp *UDPTransport) write(ctx context.Context, data string, peer Addr) error {
	if tp.closing.Load() {
		return errtrace.Wrap(ErrTransportClosed)
	}
	if peer.IsZero() {
		return errtrace.Wrap(ErrNoTarget)
	}
	if uint(len(data)) > MTU {
		return errtrace.Wrap(ErrMessageTooLarge)
	}

	raddr, err := net.ResolveUDPAddr("udp", peer.String())
	if err != nil {
		return errtrace.Wrap(err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		tp.conn.SetWriteDeadline(deadline) //nolint:errcheck
		defer tp.conn.SetWriteDeadline(zeroTime)
	}
	if _, err := tp.conn.WriteTo([]byte(data), raddr); err != nil {
		return errtrace.Wrap(err)
	}

	tp.log.LogAttrs(ctx, slog.LevelDebug,
		"outbound datagram sent",
		slog.Any("peer", peer),
		slog.Int("size", len(data)),
	)
	return nil
}

// Close shuts the transport down.
func (tp *UDPTransport) Close() error {
	var err error
	tp.closeOnce.Do(func() {
		tp.closing.Store(true)
		err = tp.conn.Close()
		tp.fireClose()
	})
	return errtrace.Wrap(err)
}
