package sip_test

import (
	"testing"
	"time"

	"github.com/ghettovoice/sipua/sip"
)

func TestNonInviteServerTransaction_Completed(t *testing.T) {
	t.Parallel()

	t1 := 50 * time.Millisecond
	timings := testTimings(t1)
	tp := newStubTransport(sip.TransportProtoUDP, false)
	req := newInReq(t, sip.RequestMethodOptions, "z9hG4bK.nist-ok")

	tx, err := sip.NewNonInviteServerTransaction(req, tp, &sip.ServerTransactionOptions{Timings: timings})
	if err != nil {
		t.Fatalf("sip.NewNonInviteServerTransaction() error = %v, want nil", err)
	}
	if got, want := tx.State(), sip.TransactionStateTrying; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	ctx := t.Context()
	if err := tx.Respond(ctx, sip.NewResponse(req.Request, sip.ResponseStatusOK)); err != nil {
		t.Fatalf("tx.Respond(200) error = %v, want nil", err)
	}
	if res := tp.waitSendRes(t, 100*time.Millisecond); res.Status != sip.ResponseStatusOK {
		t.Fatalf("sent %d, want 200", res.Status)
	}
	if got, want := tx.State(), sip.TransactionStateCompleted; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	// a duplicate request while completed retransmits the final response
	if err := tx.RecvRequest(ctx, req); err != nil {
		t.Fatalf("tx.RecvRequest(retransmit) error = %v, want nil", err)
	}
	if res := tp.waitSendRes(t, 100*time.Millisecond); res.Status != sip.ResponseStatusOK {
		t.Fatalf("retransmitted %d, want 200", res.Status)
	}

	// timer J terminates
	waitForState(t, tx.State, sip.TransactionStateTerminated, timings.TimeJ()+time.Second)
}

func TestNonInviteServerTransaction_Provisional(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(sip.TransportProtoUDP, false)
	req := newInReq(t, sip.RequestMethodRegister, "z9hG4bK.nist-prov")

	tx, err := sip.NewNonInviteServerTransaction(req, tp, &sip.ServerTransactionOptions{Timings: testTimings(50 * time.Millisecond)})
	if err != nil {
		t.Fatalf("sip.NewNonInviteServerTransaction() error = %v, want nil", err)
	}
	defer tx.Terminate(t.Context()) //nolint:errcheck

	if err := tx.Respond(t.Context(), sip.NewResponse(req.Request, sip.ResponseStatusTrying)); err != nil {
		t.Fatalf("tx.Respond(100) error = %v, want nil", err)
	}
	if got, want := tx.State(), sip.TransactionStateProceeding; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
}
