package sip_test

import (
	"context"
	"testing"
	"time"

	"github.com/ghettovoice/sipua/sip"
)

func TestUDPTransportLoopback(t *testing.T) {
	t.Parallel()

	tp1, err := sip.NewUDPTransport("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("sip.NewUDPTransport() error = %v, want nil", err)
	}
	defer tp1.Close() //nolint:errcheck

	tp2, err := sip.NewUDPTransport("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("sip.NewUDPTransport() error = %v, want nil", err)
	}
	defer tp2.Close() //nolint:errcheck

	if tp1.Reliable() {
		t.Error("UDP transport reports reliable")
	}

	recvd := make(chan *sip.InboundRequest, 1)
	tp2.OnRequest(func(_ context.Context, _ sip.Transport, req *sip.InboundRequest) {
		recvd <- req
	})

	out := newOutReq(t, sip.RequestMethodOptions, "z9hG4bK.udp1")
	out.Peer = tp2.LocalAddr()
	if err := tp1.SendRequest(t.Context(), out, nil); err != nil {
		t.Fatalf("tp1.SendRequest() error = %v, want nil", err)
	}

	select {
	case req := <-recvd:
		if req.Method != sip.RequestMethodOptions {
			t.Errorf("received %q, want OPTIONS", req.Method)
		}
		if branch := mustBranch(t, req.Request); branch != "z9hG4bK.udp1" {
			t.Errorf("received branch = %q", branch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request not received")
	}
}

func TestUDPTransportClosed(t *testing.T) {
	t.Parallel()

	tp, err := sip.NewUDPTransport("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("sip.NewUDPTransport() error = %v, want nil", err)
	}

	closed := make(chan struct{})
	tp.OnClose(func() { close(closed) })

	if err := tp.Close(); err != nil {
		t.Fatalf("tp.Close() error = %v, want nil", err)
	}
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("OnClose callback not invoked")
	}

	out := newOutReq(t, sip.RequestMethodOptions, "z9hG4bK.udp2")
	out.Peer = sip.HostPort("127.0.0.1", 5060)
	if err := tp.SendRequest(t.Context(), out, nil); err == nil {
		t.Fatal("SendRequest on closed transport error = nil, want error")
	}
}

func TestTCPTransportLoopback(t *testing.T) {
	t.Parallel()

	tp1, err := sip.NewTCPTransport("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("sip.NewTCPTransport() error = %v, want nil", err)
	}
	defer tp1.Close() //nolint:errcheck

	tp2, err := sip.NewTCPTransport("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("sip.NewTCPTransport() error = %v, want nil", err)
	}
	defer tp2.Close() //nolint:errcheck

	if !tp2.Reliable() {
		t.Error("TCP transport reports unreliable")
	}

	recvd := make(chan *sip.InboundRequest, 2)
	tp2.OnRequest(func(_ context.Context, _ sip.Transport, req *sip.InboundRequest) {
		recvd <- req
	})

	// two messages over one stream exercise the Content-Length framing
	out1 := newOutReq(t, sip.RequestMethodOptions, "z9hG4bK.tcp1")
	out1.Peer = tp2.LocalAddr()
	body := []byte("v=0\r\n")
	out1.Request.SetBody("application/sdp", body)
	out2 := newOutReq(t, sip.RequestMethodOptions, "z9hG4bK.tcp2")
	out2.Peer = tp2.LocalAddr()

	if err := tp1.SendRequest(t.Context(), out1, nil); err != nil {
		t.Fatalf("tp1.SendRequest() error = %v, want nil", err)
	}
	if err := tp1.SendRequest(t.Context(), out2, nil); err != nil {
		t.Fatalf("tp1.SendRequest() error = %v, want nil", err)
	}

	for i, wantBranch := range []string{"z9hG4bK.tcp1", "z9hG4bK.tcp2"} {
		select {
		case req := <-recvd:
			if branch := mustBranch(t, req.Request); branch != wantBranch {
				t.Errorf("message %d branch = %q, want %q", i, branch, wantBranch)
			}
			if i == 0 && string(req.Body) != string(body) {
				t.Errorf("message %d body = %q, want %q", i, req.Body, body)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d not received", i)
		}
	}
}

func mustBranch(t *testing.T, req *sip.Request) string {
	t.Helper()
	hop, ok := req.Headers.FirstViaHop()
	if !ok {
		t.Fatal("missing Via hop")
	}
	branch, _ := hop.Branch()
	return branch
}
