package sip_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ghettovoice/sipua/sip"
)

func TestInviteServerTransaction_Rejected(t *testing.T) {
	t.Parallel()

	t1 := 50 * time.Millisecond
	timings := testTimings(t1)
	tp := newStubTransport(sip.TransportProtoUDP, false)
	req := newInReq(t, sip.RequestMethodInvite, "z9hG4bK.ist-rejected")

	tx, err := sip.NewInviteServerTransaction(req, tp, &sip.ServerTransactionOptions{Timings: timings})
	if err != nil {
		t.Fatalf("sip.NewInviteServerTransaction() error = %v, want nil", err)
	}
	if got, want := tx.State(), sip.TransactionStateProceeding; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	ctx := t.Context()

	// provisional keeps the transaction proceeding
	if err := tx.Respond(ctx, sip.NewResponse(req.Request, sip.ResponseStatusRinging)); err != nil {
		t.Fatalf("tx.Respond(180) error = %v, want nil", err)
	}
	if res := tp.waitSendRes(t, 100*time.Millisecond); res.Status != sip.ResponseStatusRinging {
		t.Fatalf("sent %d, want 180", res.Status)
	}
	if got, want := tx.State(), sip.TransactionStateProceeding; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	// an INVITE retransmission triggers a provisional retransmit
	if err := tx.RecvRequest(ctx, req); err != nil {
		t.Fatalf("tx.RecvRequest(INVITE retransmit) error = %v, want nil", err)
	}
	if res := tp.waitSendRes(t, 100*time.Millisecond); res.Status != sip.ResponseStatusRinging {
		t.Fatalf("retransmitted %d, want 180", res.Status)
	}

	// the rejecting final moves to completed, timer G retransmits it
	if err := tx.Respond(ctx, sip.NewResponse(req.Request, sip.ResponseStatusBusyHere)); err != nil {
		t.Fatalf("tx.Respond(486) error = %v, want nil", err)
	}
	if res := tp.waitSendRes(t, 100*time.Millisecond); res.Status != sip.ResponseStatusBusyHere {
		t.Fatalf("sent %d, want 486", res.Status)
	}
	if got, want := tx.State(), sip.TransactionStateCompleted; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
	if res := tp.waitSendRes(t, 4*t1); res.Status != sip.ResponseStatusBusyHere {
		t.Fatalf("timer G retransmitted %d, want 486", res.Status)
	}

	// the ACK confirms, timer I terminates
	ack := newInReq(t, sip.RequestMethodAck, "z9hG4bK.ist-rejected")
	if err := tx.RecvRequest(ctx, ack); err != nil {
		t.Fatalf("tx.RecvRequest(ACK) error = %v, want nil", err)
	}
	if got, want := tx.State(), sip.TransactionStateConfirmed; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
	waitForState(t, tx.State, sip.TransactionStateTerminated, timings.TimeI()+500*time.Millisecond)
}

func TestInviteServerTransaction_NoAck(t *testing.T) {
	t.Parallel()

	t1 := 20 * time.Millisecond
	tp := newStubTransport(sip.TransportProtoUDP, false)
	req := newInReq(t, sip.RequestMethodInvite, "z9hG4bK.ist-noack")

	tx, err := sip.NewInviteServerTransaction(req, tp, &sip.ServerTransactionOptions{Timings: testTimings(t1)})
	if err != nil {
		t.Fatalf("sip.NewInviteServerTransaction() error = %v, want nil", err)
	}

	if err := tx.Respond(t.Context(), sip.NewResponse(req.Request, sip.ResponseStatusBusyHere)); err != nil {
		t.Fatalf("tx.Respond(486) error = %v, want nil", err)
	}

	waitForState(t, tx.State, sip.TransactionStateTerminated, 64*t1+time.Second)
	if err := tx.Err(); !errors.Is(err, sip.ErrNoAck) {
		t.Fatalf("tx.Err() = %v, want ErrNoAck", err)
	}
}

// A 2xx terminates the transaction at once, the dialog layer owns its
// retransmission.
func TestInviteServerTransaction_Accepted(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(sip.TransportProtoUDP, false)
	req := newInReq(t, sip.RequestMethodInvite, "z9hG4bK.ist-accepted")

	tx, err := sip.NewInviteServerTransaction(req, tp, &sip.ServerTransactionOptions{Timings: testTimings(50 * time.Millisecond)})
	if err != nil {
		t.Fatalf("sip.NewInviteServerTransaction() error = %v, want nil", err)
	}

	res := sip.NewResponse(req.Request, sip.ResponseStatusOK)
	if to, ok := res.Headers.To(); ok {
		to.SetTag("srvtag1")
	}
	if err := tx.Respond(t.Context(), res); err != nil {
		t.Fatalf("tx.Respond(200) error = %v, want nil", err)
	}

	if sent := tp.waitSendRes(t, 100*time.Millisecond); sent.Status != sip.ResponseStatusOK {
		t.Fatalf("sent %d, want 200", sent.Status)
	}
	waitForState(t, tx.State, sip.TransactionStateTerminated, time.Second)
}

func TestInviteServerTransaction_Cancel(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(sip.TransportProtoUDP, false)
	req := newInReq(t, sip.RequestMethodInvite, "z9hG4bK.ist-cancel")

	tx, err := sip.NewInviteServerTransaction(req, tp, &sip.ServerTransactionOptions{Timings: testTimings(50 * time.Millisecond)})
	if err != nil {
		t.Fatalf("sip.NewInviteServerTransaction() error = %v, want nil", err)
	}
	defer tx.Terminate(t.Context()) //nolint:errcheck

	cancelled := make(chan struct{})
	tx.OnCancel(func(_ context.Context, _ sip.ServerTransaction, _ *sip.InboundRequest) {
		close(cancelled)
	})

	cancel := newInReq(t, sip.RequestMethodCancel, "z9hG4bK.ist-cancel")
	if err := tx.RecvRequest(t.Context(), cancel); err != nil {
		t.Fatalf("tx.RecvRequest(CANCEL) error = %v, want nil", err)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("OnCancel callback not invoked")
	}
}
