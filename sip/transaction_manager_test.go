package sip_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ghettovoice/sipua/sip"
)

func TestTransactionManager_MatchesResponse(t *testing.T) {
	t.Parallel()

	txm := sip.NewTransactionManager(&sip.TransactionManagerOptions{Timings: testTimings(50 * time.Millisecond)})
	tp := newStubTransport(sip.TransportProtoUDP, false)
	ctx := t.Context()
	defer txm.Close(ctx) //nolint:errcheck

	req := newOutReq(t, sip.RequestMethodOptions, "z9hG4bK.txm-match")
	tx, err := txm.NewClientTransaction(ctx, req, tp, nil)
	if err != nil {
		t.Fatalf("txm.NewClientTransaction() error = %v, want nil", err)
	}

	res := newInRes(t, req, sip.ResponseStatusOK, "totag1")
	matched, err := txm.MatchClientTransaction(res)
	if err != nil {
		t.Fatalf("txm.MatchClientTransaction() error = %v, want nil", err)
	}
	if matched != tx {
		t.Fatal("matched a different transaction")
	}

	other := newOutReq(t, sip.RequestMethodOptions, "z9hG4bK.txm-other")
	if _, err := txm.MatchClientTransaction(newInRes(t, other, sip.ResponseStatusOK, "t")); !errors.Is(err, sip.ErrTransactionNotFound) {
		t.Fatalf("error = %v, want ErrTransactionNotFound", err)
	}
}

// A retransmitted request matches the open server transaction and never
// spawns a second one.
func TestTransactionManager_RetransmitDoesNotSpawn(t *testing.T) {
	t.Parallel()

	txm := sip.NewTransactionManager(&sip.TransactionManagerOptions{Timings: testTimings(50 * time.Millisecond)})
	tp := newStubTransport(sip.TransportProtoUDP, false)
	ctx := t.Context()
	defer txm.Close(ctx) //nolint:errcheck

	req := newInReq(t, sip.RequestMethodInvite, "z9hG4bK.txm-retrans")
	tx, err := txm.NewServerTransaction(ctx, req, tp, nil)
	if err != nil {
		t.Fatalf("txm.NewServerTransaction() error = %v, want nil", err)
	}

	matched, err := txm.MatchServerTransaction(req)
	if err != nil {
		t.Fatalf("txm.MatchServerTransaction() error = %v, want nil", err)
	}
	if matched != tx {
		t.Fatal("retransmission matched a different transaction")
	}

	if _, err := txm.NewServerTransaction(ctx, req, tp, nil); !errors.Is(err, sip.ErrTransactionExists) {
		t.Fatalf("second create error = %v, want ErrTransactionExists", err)
	}

	clients, servers := txm.Len()
	if clients != 0 || servers != 1 {
		t.Fatalf("tables = %d clients, %d servers, want 0, 1", clients, servers)
	}
}

// ACK folds into the INVITE server transaction key.
func TestTransactionManager_AckMatchesInvite(t *testing.T) {
	t.Parallel()

	txm := sip.NewTransactionManager(&sip.TransactionManagerOptions{Timings: testTimings(50 * time.Millisecond)})
	tp := newStubTransport(sip.TransportProtoUDP, false)
	ctx := t.Context()
	defer txm.Close(ctx) //nolint:errcheck

	invite := newInReq(t, sip.RequestMethodInvite, "z9hG4bK.txm-ack")
	tx, err := txm.NewServerTransaction(ctx, invite, tp, nil)
	if err != nil {
		t.Fatalf("txm.NewServerTransaction() error = %v, want nil", err)
	}

	ack := newInReq(t, sip.RequestMethodAck, "z9hG4bK.txm-ack")
	matched, err := txm.MatchServerTransaction(ack)
	if err != nil {
		t.Fatalf("txm.MatchServerTransaction(ACK) error = %v, want nil", err)
	}
	if matched != tx {
		t.Fatal("ACK matched a different transaction")
	}
}

// CANCEL matches the transaction it cancels regardless of its method.
func TestTransactionManager_CancelMatchesInvite(t *testing.T) {
	t.Parallel()

	txm := sip.NewTransactionManager(&sip.TransactionManagerOptions{Timings: testTimings(50 * time.Millisecond)})
	tp := newStubTransport(sip.TransportProtoUDP, false)
	ctx := t.Context()
	defer txm.Close(ctx) //nolint:errcheck

	invite := newInReq(t, sip.RequestMethodInvite, "z9hG4bK.txm-cancel")
	tx, err := txm.NewServerTransaction(ctx, invite, tp, nil)
	if err != nil {
		t.Fatalf("txm.NewServerTransaction() error = %v, want nil", err)
	}

	cancel := newInReq(t, sip.RequestMethodCancel, "z9hG4bK.txm-cancel")
	matched, err := txm.MatchServerTransaction(cancel)
	if err != nil {
		t.Fatalf("txm.MatchServerTransaction(CANCEL) error = %v, want nil", err)
	}
	if matched != tx {
		t.Fatal("CANCEL matched a different transaction")
	}
}

// A terminated transaction leaves the table.
func TestTransactionManager_DropsTerminated(t *testing.T) {
	t.Parallel()

	txm := sip.NewTransactionManager(&sip.TransactionManagerOptions{Timings: testTimings(50 * time.Millisecond)})
	tp := newStubTransport(sip.TransportProtoUDP, false)
	ctx := t.Context()
	defer txm.Close(ctx) //nolint:errcheck

	req := newOutReq(t, sip.RequestMethodOptions, "z9hG4bK.txm-drop")
	tx, err := txm.NewClientTransaction(ctx, req, tp, nil)
	if err != nil {
		t.Fatalf("txm.NewClientTransaction() error = %v, want nil", err)
	}
	tx.Terminate(ctx) //nolint:errcheck
	waitForState(t, tx.State, sip.TransactionStateTerminated, time.Second)

	deadline := time.Now().Add(time.Second)
	for {
		clients, _ := txm.Len()
		if clients == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("terminated transaction still tracked")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
