package sip_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ghettovoice/sipua/header"
	"github.com/ghettovoice/sipua/internal/types"
	"github.com/ghettovoice/sipua/sip"
	"github.com/ghettovoice/sipua/uri"
)

// stubTransport captures outbound messages for assertions and lets the
// test inject nothing back; responses are fed straight into the
// transaction under test.
type stubTransport struct {
	proto    sip.TransportProto
	local    sip.Addr
	reliable bool

	mu       sync.Mutex
	sentReqs []*sip.OutboundRequest
	sentRess []*sip.OutboundResponse
	reqCh    chan *sip.OutboundRequest
	resCh    chan *sip.OutboundResponse

	onReq   types.CallbackManager[sip.TransportRequestHandler]
	onRes   types.CallbackManager[sip.TransportResponseHandler]
	onClose types.CallbackManager[func()]
	closed  bool
}

func newStubTransport(proto sip.TransportProto, reliable bool) *stubTransport {
	return &stubTransport{
		proto:    proto,
		local:    sip.HostPort("192.0.2.10", 5070),
		reliable: reliable,
		reqCh:    make(chan *sip.OutboundRequest, 64),
		resCh:    make(chan *sip.OutboundResponse, 64),
	}
}

func (tp *stubTransport) Proto() sip.TransportProto { return tp.proto }

func (tp *stubTransport) LocalAddr() sip.Addr { return tp.local }

func (tp *stubTransport) Reliable() bool { return tp.reliable }

func (tp *stubTransport) SendRequest(_ context.Context, req *sip.OutboundRequest, _ *sip.SendRequestOptions) error {
	tp.mu.Lock()
	if tp.closed {
		tp.mu.Unlock()
		return sip.ErrTransportClosed
	}
	tp.sentReqs = append(tp.sentReqs, req)
	tp.mu.Unlock()
	tp.reqCh <- req
	return nil
}

func (tp *stubTransport) SendResponse(_ context.Context, res *sip.OutboundResponse, _ *sip.SendResponseOptions) error {
	tp.mu.Lock()
	if tp.closed {
		tp.mu.Unlock()
		return sip.ErrTransportClosed
	}
	tp.sentRess = append(tp.sentRess, res)
	tp.mu.Unlock()
	tp.resCh <- res
	return nil
}

func (tp *stubTransport) OnRequest(fn sip.TransportRequestHandler) (cancel func()) {
	return tp.onReq.Add(fn)
}

func (tp *stubTransport) OnResponse(fn sip.TransportResponseHandler) (cancel func()) {
	return tp.onRes.Add(fn)
}

func (tp *stubTransport) OnClose(fn func()) (cancel func()) {
	return tp.onClose.Add(fn)
}

func (tp *stubTransport) Close() error {
	tp.mu.Lock()
	if tp.closed {
		tp.mu.Unlock()
		return nil
	}
	tp.closed = true
	tp.mu.Unlock()
	for fn := range tp.onClose.All() {
		fn()
	}
	return nil
}

// recvRequest injects an inbound request through the registered handlers.
func (tp *stubTransport) recvRequest(ctx context.Context, req *sip.InboundRequest) {
	for fn := range tp.onReq.All() {
		fn(ctx, tp, req)
	}
}

// recvResponse injects an inbound response through the registered handlers.
func (tp *stubTransport) recvResponse(ctx context.Context, res *sip.InboundResponse) {
	for fn := range tp.onRes.All() {
		fn(ctx, tp, res)
	}
}

func (tp *stubTransport) waitSendReq(t *testing.T, timeout time.Duration) *sip.OutboundRequest {
	t.Helper()
	select {
	case req := <-tp.reqCh:
		return req
	case <-time.After(timeout):
		t.Fatal("no request sent within timeout")
		return nil
	}
}

func (tp *stubTransport) waitSendRes(t *testing.T, timeout time.Duration) *sip.OutboundResponse {
	t.Helper()
	select {
	case res := <-tp.resCh:
		return res
	case <-time.After(timeout):
		t.Fatal("no response sent within timeout")
		return nil
	}
}

func (tp *stubTransport) ensureNoSendReq(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case req := <-tp.reqCh:
		t.Fatalf("unexpected %q request sent", req.Method)
	case <-time.After(timeout):
	}
}

func (tp *stubTransport) drainSendReqs() {
	for {
		select {
		case <-tp.reqCh:
		default:
			return
		}
	}
}

func (tp *stubTransport) sentRequests() []*sip.OutboundRequest {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	out := make([]*sip.OutboundRequest, len(tp.sentReqs))
	copy(out, tp.sentReqs)
	return out
}

var testPeer = sip.HostPort("192.0.2.20", 5060)

// newOutReq builds a valid outbound request for the given method.
func newOutReq(t *testing.T, method sip.RequestMethod, branch string) *sip.OutboundRequest {
	t.Helper()

	target, err := uri.Parse("sip:bob@biloxi.example")
	if err != nil {
		t.Fatalf("uri.Parse() error = %v, want nil", err)
	}

	hop := header.ViaHop{
		Proto:     sip.Proto20,
		Transport: "UDP",
		SentBy:    sip.HostPort("192.0.2.10", 5070),
	}
	hop.SetBranch(branch)

	from := &header.From{URI: &uri.SIP{User: "alice", Addr: sip.Host("atlanta.example")}}
	from.SetTag("fromtag1")
	to := &header.To{URI: target.Clone()}

	req := sip.NewRequest(method, target,
		header.Via{hop},
		from,
		to,
		header.CallID("callid-1@atlanta.example"),
		header.CSeq{Seq: 1, Method: method.ToUpper()},
		header.MaxForwards(70),
		header.Contact{{URI: &uri.SIP{User: "alice", Addr: sip.HostPort("192.0.2.10", 5070)}}},
	)
	req.Headers.Set(header.ContentLength(0))
	return &sip.OutboundRequest{Request: req, Peer: testPeer}
}

// newInRes builds an inbound response answering req, optionally tagging To.
func newInRes(t *testing.T, req *sip.OutboundRequest, status sip.ResponseStatus, toTag string) *sip.InboundResponse {
	t.Helper()

	res := sip.NewResponse(req.Request, status)
	if toTag != "" {
		to, _ := res.Headers.To()
		to.SetTag(toTag)
	}
	res.Headers.Append(header.Contact{{URI: &uri.SIP{User: "bob", Addr: sip.HostPort("192.0.2.20", 5080)}}})
	return &sip.InboundResponse{Response: res, Peer: testPeer}
}

// newInReq builds a valid inbound request.
func newInReq(t *testing.T, method sip.RequestMethod, branch string) *sip.InboundRequest {
	t.Helper()
	out := newOutReq(t, method, branch)
	return &sip.InboundRequest{Request: out.Request, Peer: testPeer}
}

func assertResponseStatus(t *testing.T, ch <-chan *sip.InboundResponse, want sip.ResponseStatus) {
	t.Helper()
	select {
	case res := <-ch:
		if res.Status != want {
			t.Fatalf("delivered response status = %d, want %d", res.Status, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("no response with status %d delivered", want)
	}
}

func waitForState(t *testing.T, state func() sip.TransactionState, want sip.TransactionState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if state() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %q, want %q within %v", state(), want, timeout)
}
