package sip_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ghettovoice/sipua/sip"
)

// Small T1 keeps the tests fast; see sip.NewTimings for the knobs.
func testTimings(t1 time.Duration) sip.TimingConfig {
	return sip.NewTimings(t1, 4*t1, 2*t1, 8*t1)
}

func TestInviteClientTransaction_Accepted(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(sip.TransportProtoUDP, false)
	req := newOutReq(t, sip.RequestMethodInvite, "z9hG4bK.ict-accepted")

	tx, err := sip.NewInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: testTimings(50 * time.Millisecond)})
	if err != nil {
		t.Fatalf("sip.NewInviteClientTransaction() error = %v, want nil", err)
	}

	sent := tp.waitSendReq(t, 100*time.Millisecond)
	if sent.Method != sip.RequestMethodInvite {
		t.Fatalf("initial send method = %q, want INVITE", sent.Method)
	}
	if got, want := tx.State(), sip.TransactionStateCalling; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	ctx := t.Context()
	resCh := make(chan *sip.InboundResponse, 4)
	tx.OnResponse(func(_ context.Context, _ sip.ClientTransaction, res *sip.InboundResponse) {
		resCh <- res
	})

	if err := tx.RecvResponse(ctx, newInRes(t, req, sip.ResponseStatusRinging, "totag1")); err != nil {
		t.Fatalf("tx.RecvResponse(180) error = %v, want nil", err)
	}
	if got, want := tx.State(), sip.TransactionStateProceeding; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
	assertResponseStatus(t, resCh, sip.ResponseStatusRinging)
	tp.drainSendReqs()

	// 2xx passes to the TU and terminates the transaction immediately;
	// the ACK belongs to the dialog layer
	if err := tx.RecvResponse(ctx, newInRes(t, req, sip.ResponseStatusOK, "totag1")); err != nil {
		t.Fatalf("tx.RecvResponse(200) error = %v, want nil", err)
	}
	assertResponseStatus(t, resCh, sip.ResponseStatusOK)
	waitForState(t, tx.State, sip.TransactionStateTerminated, time.Second)
	tp.ensureNoSendReq(t, 100*time.Millisecond)
}

func TestInviteClientTransaction_Rejected(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(sip.TransportProtoUDP, false)
	req := newOutReq(t, sip.RequestMethodInvite, "z9hG4bK.ict-rejected")
	timings := testTimings(50 * time.Millisecond)

	tx, err := sip.NewInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: timings})
	if err != nil {
		t.Fatalf("sip.NewInviteClientTransaction() error = %v, want nil", err)
	}
	tp.waitSendReq(t, 100*time.Millisecond)

	ctx := t.Context()
	decline := newInRes(t, req, sip.ResponseStatusDecline, "totag1")
	if err := tx.RecvResponse(ctx, decline); err != nil {
		t.Fatalf("tx.RecvResponse(603) error = %v, want nil", err)
	}
	if got, want := tx.State(), sip.TransactionStateCompleted; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	ack := tp.waitSendReq(t, 100*time.Millisecond)
	if ack.Method != sip.RequestMethodAck {
		t.Fatalf("sent %q, want ACK", ack.Method)
	}
	// ACK answers on the INVITE branch with the INVITE CSeq number
	hop, _ := ack.Request.Headers.FirstViaHop()
	if branch, _ := hop.Branch(); branch != "z9hG4bK.ict-rejected" {
		t.Errorf("ACK branch = %q, want the INVITE branch", branch)
	}
	if cseq, _ := ack.Request.Headers.CSeq(); cseq.Seq != 1 || cseq.Method != sip.RequestMethodAck {
		t.Errorf("ACK CSeq = %v", cseq)
	}

	// a retransmitted final response triggers another ACK
	if err := tx.RecvResponse(ctx, newInRes(t, req, sip.ResponseStatusDecline, "totag1")); err != nil {
		t.Fatalf("tx.RecvResponse(603 retransmit) error = %v, want nil", err)
	}
	if retrans := tp.waitSendReq(t, 100*time.Millisecond); retrans.Method != sip.RequestMethodAck {
		t.Fatalf("sent %q, want ACK retransmit", retrans.Method)
	}

	waitForState(t, tx.State, sip.TransactionStateTerminated, timings.TimeD()+500*time.Millisecond)
}

// Timer A doubles from T1 while calling; timer B gives up at 64*T1.
func TestInviteClientTransaction_RetransmitsAndTimesOut(t *testing.T) {
	t.Parallel()

	t1 := 30 * time.Millisecond
	tp := newStubTransport(sip.TransportProtoUDP, false)
	req := newOutReq(t, sip.RequestMethodInvite, "z9hG4bK.ict-timeout")

	tx, err := sip.NewInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: testTimings(t1)})
	if err != nil {
		t.Fatalf("sip.NewInviteClientTransaction() error = %v, want nil", err)
	}

	waitForState(t, tx.State, sip.TransactionStateTerminated, 64*t1+time.Second)

	if err := tx.Err(); !errors.Is(err, sip.ErrTransactionTimedOut) {
		t.Fatalf("tx.Err() = %v, want ErrTransactionTimedOut", err)
	}

	// initial send plus retransmissions at T1, 2*T1, 4*T1, ...
	sent := tp.sentRequests()
	if len(sent) < 4 {
		t.Fatalf("sent %d requests, want several retransmissions", len(sent))
	}
	for _, req := range sent {
		if req.Method != sip.RequestMethodInvite {
			t.Fatalf("retransmitted %q, want INVITE", req.Method)
		}
	}
}

// Over a reliable transport timer A never runs.
func TestInviteClientTransaction_NoRetransmitOnReliable(t *testing.T) {
	t.Parallel()

	t1 := 30 * time.Millisecond
	tp := newStubTransport(sip.TransportProtoTCP, true)
	req := newOutReq(t, sip.RequestMethodInvite, "z9hG4bK.ict-reliable")

	tx, err := sip.NewInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: testTimings(t1)})
	if err != nil {
		t.Fatalf("sip.NewInviteClientTransaction() error = %v, want nil", err)
	}
	defer tx.Terminate(t.Context()) //nolint:errcheck

	tp.waitSendReq(t, 100*time.Millisecond)
	tp.ensureNoSendReq(t, 4*t1)
}

func TestInviteClientTransaction_TransportLost(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(sip.TransportProtoUDP, false)
	req := newOutReq(t, sip.RequestMethodInvite, "z9hG4bK.ict-tplost")

	tx, err := sip.NewInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: testTimings(50 * time.Millisecond)})
	if err != nil {
		t.Fatalf("sip.NewInviteClientTransaction() error = %v, want nil", err)
	}
	tp.waitSendReq(t, 100*time.Millisecond)

	tp.Close() //nolint:errcheck

	waitForState(t, tx.State, sip.TransactionStateTerminated, time.Second)
	if err := tx.Err(); !errors.Is(err, sip.ErrTransportLost) {
		t.Fatalf("tx.Err() = %v, want ErrTransportLost", err)
	}
}
