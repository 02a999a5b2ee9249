package sip_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ghettovoice/sipua/sip"
)

func TestNonInviteClientTransaction_Completed(t *testing.T) {
	t.Parallel()

	t1 := 50 * time.Millisecond
	timings := testTimings(t1)
	tp := newStubTransport(sip.TransportProtoUDP, false)
	req := newOutReq(t, sip.RequestMethodOptions, "z9hG4bK.nict-ok")

	tx, err := sip.NewNonInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: timings})
	if err != nil {
		t.Fatalf("sip.NewNonInviteClientTransaction() error = %v, want nil", err)
	}

	if sent := tp.waitSendReq(t, 100*time.Millisecond); sent.Method != sip.RequestMethodOptions {
		t.Fatalf("initial send method = %q, want OPTIONS", sent.Method)
	}
	if got, want := tx.State(), sip.TransactionStateTrying; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	ctx := t.Context()
	resCh := make(chan *sip.InboundResponse, 2)
	tx.OnResponse(func(_ context.Context, _ sip.ClientTransaction, res *sip.InboundResponse) {
		resCh <- res
	})

	if err := tx.RecvResponse(ctx, newInRes(t, req, sip.ResponseStatusOK, "totag1")); err != nil {
		t.Fatalf("tx.RecvResponse(200) error = %v, want nil", err)
	}
	assertResponseStatus(t, resCh, sip.ResponseStatusOK)
	if got, want := tx.State(), sip.TransactionStateCompleted; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	// timer K absorbs retransmissions, then the transaction dies
	waitForState(t, tx.State, sip.TransactionStateTerminated, timings.TimeK()+500*time.Millisecond)
}

func TestNonInviteClientTransaction_ProceedingThenFinal(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(sip.TransportProtoUDP, false)
	req := newOutReq(t, sip.RequestMethodRegister, "z9hG4bK.nict-prov")

	tx, err := sip.NewNonInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: testTimings(50 * time.Millisecond)})
	if err != nil {
		t.Fatalf("sip.NewNonInviteClientTransaction() error = %v, want nil", err)
	}
	tp.waitSendReq(t, 100*time.Millisecond)

	ctx := t.Context()
	if err := tx.RecvResponse(ctx, newInRes(t, req, sip.ResponseStatusTrying, "")); err != nil {
		t.Fatalf("tx.RecvResponse(100) error = %v, want nil", err)
	}
	if got, want := tx.State(), sip.TransactionStateProceeding; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	if err := tx.RecvResponse(ctx, newInRes(t, req, sip.ResponseStatusNotFound, "totag1")); err != nil {
		t.Fatalf("tx.RecvResponse(404) error = %v, want nil", err)
	}
	if got, want := tx.State(), sip.TransactionStateCompleted; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
	tx.Terminate(ctx) //nolint:errcheck
}

// Timer E doubles capped at T2; timer F gives up at 64*T1.
func TestNonInviteClientTransaction_TimesOut(t *testing.T) {
	t.Parallel()

	t1 := 30 * time.Millisecond
	tp := newStubTransport(sip.TransportProtoUDP, false)
	req := newOutReq(t, sip.RequestMethodOptions, "z9hG4bK.nict-timeout")

	tx, err := sip.NewNonInviteClientTransaction(req, tp, &sip.ClientTransactionOptions{Timings: testTimings(t1)})
	if err != nil {
		t.Fatalf("sip.NewNonInviteClientTransaction() error = %v, want nil", err)
	}

	waitForState(t, tx.State, sip.TransactionStateTerminated, 64*t1+time.Second)
	if err := tx.Err(); !errors.Is(err, sip.ErrTransactionTimedOut) {
		t.Fatalf("tx.Err() = %v, want ErrTransactionTimedOut", err)
	}
	if len(tp.sentRequests()) < 3 {
		t.Fatalf("sent %d requests, want retransmissions before giving up", len(tp.sentRequests()))
	}
}

func TestNonInviteClientTransaction_RejectsInvite(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(sip.TransportProtoUDP, false)
	req := newOutReq(t, sip.RequestMethodInvite, "z9hG4bK.nict-bad")

	if _, err := sip.NewNonInviteClientTransaction(req, tp, nil); !errors.Is(err, sip.ErrMethodNotAllowed) {
		t.Fatalf("error = %v, want ErrMethodNotAllowed", err)
	}
}
