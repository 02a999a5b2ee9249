package sip

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/util"
)

// TCPTransport moves SIP messages over TCP streams. Connections are
// accepted from an optional listener and dialed on demand for outbound
// messages; inbound messages are framed by the Content-Length header as
// required by RFC 3261 Section 18.3.
type TCPTransport struct {
	transportBase
	ls        net.Listener
	localAddr Addr

	mu    sync.Mutex
	conns map[string]net.Conn
}

// NewTCPTransport creates a transport listening on the given local
// address and starts its accept loop.
func NewTCPTransport(localAddr string, opts *TransportOptions) (*TCPTransport, error) {
	ls, err := net.Listen("tcp", localAddr)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	local, err := ParseAddr(ls.Addr().String())
	if err != nil {
		ls.Close() //nolint:errcheck
		return nil, errtrace.Wrap(err)
	}

	tp := &TCPTransport{
		ls:        ls,
		localAddr: local,
		conns:     make(map[string]net.Conn),
	}
	tp.log = opts.log().With(slog.Any("transport", tp))
	go tp.serve()
	return tp, nil
}

// Proto returns the transport protocol.
func (*TCPTransport) Proto() TransportProto { return TransportProtoTCP }

// LocalAddr returns the transport local address.
func (tp *TCPTransport) LocalAddr() Addr { return tp.localAddr }

// Reliable reports whether the transport guarantees delivery order.
func (*TCPTransport) Reliable() bool { return true }

// LogValue implements [slog.LogValuer].
func (tp *TCPTransport) LogValue() slog.Value {
	if tp == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Any("proto", tp.Proto()),
		slog.Any("local_addr", tp.localAddr),
	)
}

func (tp *TCPTransport) serve() {
	for {
		conn, err := tp.ls.Accept()
		if err != nil {
			if tp.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			tp.log.LogAttrs(context.Background(), slog.LevelWarn,
				"failed to accept inbound connection",
				slog.Any("error", err),
			)
			continue
		}
		tp.trackConn(conn)
		go tp.serveConn(conn)
	}
}

func (tp *TCPTransport) trackConn(conn net.Conn) {
	tp.mu.Lock()
	tp.conns[conn.RemoteAddr().String()] = conn
	tp.mu.Unlock()
}

func (tp *TCPTransport) dropConn(conn net.Conn) {
	tp.mu.Lock()
	delete(tp.conns, conn.RemoteAddr().String())
	tp.mu.Unlock()
	conn.Close() //nolint:errcheck
}

func (tp *TCPTransport) serveConn(conn net.Conn) {
	defer tp.dropConn(conn)

	peer, err := ParseAddr(conn.RemoteAddr().String())
	if err != nil {
		return
	}

	rdr := bufio.NewReaderSize(conn, int(MaxMsgSize))
	for {
		data, err := readStreamMessage(rdr)
		if err != nil {
			if !tp.closing.Load() && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
				tp.log.LogAttrs(context.Background(), slog.LevelDebug,
					"closing stream connection",
					slog.Any("peer", peer),
					slog.Any("error", err),
				)
			}
			return
		}
		tp.dispatch(tp, data, peer)
	}
}

// readStreamMessage reads one SIP message from a stream: the header
// block up to the blank line, then Content-Length bytes of body.
// Streamed messages without a Content-Length header are rejected.
func readStreamMessage(rdr *bufio.Reader) ([]byte, error) {
	var buf bytes.Buffer
	var contentLength = -1
	for {
		line, err := rdr.ReadString('\n')
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		buf.WriteString(line)
		if uint(buf.Len()) > MaxMsgSize {
			return nil, errtrace.Wrap(ErrMessageTooLarge)
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		if name, value, ok := strings.Cut(trimmed, ":"); ok {
			switch util.LCase(strings.TrimSpace(name)) {
			case "content-length", "l":
				n, err := strconv.Atoi(strings.TrimSpace(value))
				if err != nil {
					return nil, errtrace.Wrap(fmt.Errorf("invalid Content-Length: %w", err))
				}
				contentLength = n
			}
		}
	}
	if contentLength < 0 {
		return nil, errtrace.Wrap(errorWrap(ErrInvalidMessage, "streamed message without Content-Length"))
	}
	if uint(buf.Len()+contentLength) > MaxMsgSize {
		return nil, errtrace.Wrap(ErrMessageTooLarge)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(rdr, body); err != nil {
		return nil, errtrace.Wrap(err)
	}
	buf.Write(body)
	return bytes.Clone(buf.Bytes()), nil
}

func (tp *TCPTransport) getConn(ctx context.Context, peer Addr) (net.Conn, error) {
	key := peer.String()
	tp.mu.Lock()
	conn, ok := tp.conns[key]
	tp.mu.Unlock()
	if ok {
		return conn, nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", key)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	tp.trackConn(conn)
	go tp.serveConn(conn)
	return conn, nil
}

// SendRequest serializes and sends a request to its peer address.
func (tp *TCPTransport) SendRequest(ctx context.Context, req *OutboundRequest, opts *SendRequestOptions) error {
	if req == nil || req.Request == nil {
		return errtrace.Wrap(NewInvalidArgumentError("invalid request"))
	}
	return errtrace.Wrap(tp.write(ctx, req.Render(opts.rendOpts()), req.Peer))
}

// SendResponse serializes and sends a response to its peer address.
func (tp *TCPTransport) SendResponse(ctx context.Context, res *OutboundResponse, opts *SendResponseOptions) error {
	if res == nil || res.Response == nil {
		return errtrace.Wrap(NewInvalidArgumentError("invalid response"))
	}
	return errtrace.Wrap(tp.write(ctx, res.Render(opts.rendOpts()), res.Peer))
}

func (tp *TCPTransport) write(ctx context.Context, data string, peer Addr) error {
	if tp.closing.Load() {
		return errtrace.Wrap(ErrTransportClosed)
	}
	if peer.IsZero() {
		return errtrace.Wrap(ErrNoTarget)
	}

	conn, err := tp.getConn(ctx, peer)
	if err != nil {
		return errtrace.Wrap(err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline) //nolint:errcheck
		defer conn.SetWriteDeadline(zeroTime)
	}
	if _, err := conn.Write([]byte(data)); err != nil {
		tp.dropConn(conn)
		return errtrace.Wrap(err)
	}

	tp.log.LogAttrs(ctx, slog.LevelDebug,
		"outbound message sent",
		slog.Any("peer", peer),
		slog.Int("size", len(data)),
	)
	return nil
}

// Close shuts the transport down, dropping all open connections.
func (tp *TCPTransport) Close() error {
	var err error
	tp.closeOnce.Do(func() {
		tp.closing.Store(true)
		err = tp.ls.Close()

		tp.mu.Lock()
		for _, conn := range tp.conns {
			conn.Close() //nolint:errcheck
		}
		clear(tp.conns)
		tp.mu.Unlock()

		tp.fireClose()
	})
	return errtrace.Wrap(err)
}
