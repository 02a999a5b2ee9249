package sip

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/timeutil"
)

// InviteServerTransaction implements the INVITE server transaction FSM
// of RFC 3261 Section 17.2.1.
//
// A 2xx final response terminates the transaction immediately: its
// retransmission and the matching ACK belong to the dialog layer.
type InviteServerTransaction struct {
	*serverTransact

	tmrG atomic.Pointer[timeutil.Timer]
	tmrH atomic.Pointer[timeutil.Timer]
	tmrI atomic.Pointer[timeutil.Timer]
}

// NewInviteServerTransaction creates an INVITE server transaction in the
// proceeding state. The transaction user decides whether to emit
// 100 Trying.
func NewInviteServerTransaction(req *InboundRequest, tp Transport, opts *ServerTransactionOptions) (*InviteServerTransaction, error) {
	if req == nil || req.Request == nil || !req.Method.Equal(RequestMethodInvite) {
		return nil, errtrace.Wrap(NewInvalidArgumentError(ErrMethodNotAllowed))
	}

	tx := new(InviteServerTransaction)
	srvTx, err := newServerTransact(TransactionTypeServerInvite, tx, req, tp, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	tx.serverTransact = srvTx

	if err := tx.initFSM(TransactionStateProceeding); err != nil {
		return nil, errtrace.Wrap(err)
	}
	tx.log.LogAttrs(tx.ctx, slog.LevelDebug, "transaction proceeding", slog.Any("transaction", tx))
	return tx, nil
}

const (
	txEvtTimerG = "timer_g"
	txEvtTimerH = "timer_h"
	txEvtTimerI = "timer_i"
)

func (tx *InviteServerTransaction) initFSM(start TransactionState) error {
	if err := tx.serverTransact.initFSM(start); err != nil {
		return errtrace.Wrap(err)
	}

	tx.fsm.Configure(TransactionStateProceeding).
		InternalTransition(txEvtSend1xx, tx.actSendRes).
		InternalTransition(txEvtRecvReq, tx.actRetransmitRes).
		Permit(txEvtSend2xx, TransactionStateTerminated).
		Permit(txEvtSend300699, TransactionStateCompleted).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateCompleted).
		OnEntryFrom(txEvtSend300699, tx.actCompleted).
		InternalTransition(txEvtRecvReq, tx.actRetransmitRes).
		InternalTransition(txEvtTimerG, tx.actRetransmitRes).
		Permit(txEvtRecvAck, TransactionStateConfirmed).
		Permit(txEvtTimerH, TransactionStateTerminated).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateConfirmed).
		OnEntry(tx.actConfirmed).
		Permit(txEvtTimerI, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateTerminated).
		OnEntry(tx.actTerminated).
		OnEntryFrom(txEvtSend2xx, tx.actSendRes).
		OnEntryFrom(txEvtTimerH, tx.actNoAck).
		OnEntryFrom(txEvtTranspErr, tx.actTranspErr)

	return nil
}

// actCompleted sends the rejecting final response and arms timers G and H.
func (tx *InviteServerTransaction) actCompleted(ctx context.Context, args ...any) error {
	tx.actSendRes(ctx, args...) //nolint:errcheck

	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction completed", slog.Any("transaction", tx))

	if !IsReliableTransport(tx.tp) {
		tmr := timeutil.AfterFunc(tx.timings.TimeG(), tx.onTimerG)
		tx.tmrG.Store(tmr)

		tx.log.LogAttrs(ctx, slog.LevelDebug,
			"timer G started",
			slog.Any("transaction", tx),
			slog.Time("expires_at", time.Now().Add(tmr.Left())),
		)
	}

	tmr := timeutil.AfterFunc(tx.timings.TimeH(), tx.onTimerH)
	tx.tmrH.Store(tmr)

	tx.log.LogAttrs(ctx, slog.LevelDebug,
		"timer H started",
		slog.Any("transaction", tx),
		slog.Time("expires_at", time.Now().Add(tmr.Left())),
	)
	return nil
}

func (tx *InviteServerTransaction) onTimerG() {
	if tx.State() != TransactionStateCompleted {
		tx.tmrG.Store(nil)
		return
	}

	tx.log.LogAttrs(tx.ctx, slog.LevelDebug, "timer G expired", slog.Any("transaction", tx))

	tx.fsm.FireCtx(tx.ctx, txEvtTimerG) //nolint:errcheck

	if tmr := tx.tmrG.Load(); tmr != nil {
		// back-off doubles from T1, capped at T2
		tmr.Reset(min(2*tmr.Duration(), tx.timings.T2()))
	}
}

func (tx *InviteServerTransaction) onTimerH() {
	tx.tmrH.Store(nil)
	if tx.State() != TransactionStateCompleted {
		return
	}

	tx.log.LogAttrs(tx.ctx, slog.LevelDebug, "timer H expired", slog.Any("transaction", tx))

	tx.fsm.FireCtx(tx.ctx, txEvtTimerH) //nolint:errcheck
}

func (tx *InviteServerTransaction) onTimerI() {
	tx.tmrI.Store(nil)
	if tx.State() != TransactionStateConfirmed {
		return
	}

	tx.log.LogAttrs(tx.ctx, slog.LevelDebug, "timer I expired", slog.Any("transaction", tx))

	tx.fsm.FireCtx(tx.ctx, txEvtTimerI) //nolint:errcheck
}

// actConfirmed absorbs ACK retransmissions for timer I.
func (tx *InviteServerTransaction) actConfirmed(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction confirmed", slog.Any("transaction", tx))
	tx.stopTimer(ctx, &tx.tmrG, "G")
	tx.stopTimer(ctx, &tx.tmrH, "H")

	dur := tx.timings.TimeI()
	if IsReliableTransport(tx.tp) {
		dur = 0
	}
	tmr := timeutil.AfterFunc(dur, tx.onTimerI)
	tx.tmrI.Store(tmr)

	tx.log.LogAttrs(ctx, slog.LevelDebug,
		"timer I started",
		slog.Any("transaction", tx),
		slog.Time("expires_at", time.Now().Add(tmr.Left())),
	)
	return nil
}

func (tx *InviteServerTransaction) actNoAck(ctx context.Context, _ ...any) error {
	tx.setErr(ErrNoAck)
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction gave up waiting for ACK", slog.Any("transaction", tx))
	return nil
}

func (tx *InviteServerTransaction) actTerminated(ctx context.Context, args ...any) error {
	tx.serverTransact.actTerminated(ctx, args...) //nolint:errcheck
	tx.stopTimer(ctx, &tx.tmrG, "G")
	tx.stopTimer(ctx, &tx.tmrH, "H")
	tx.stopTimer(ctx, &tx.tmrI, "I")
	return nil
}

func (tx *InviteServerTransaction) stopTimer(ctx context.Context, slot *atomic.Pointer[timeutil.Timer], name string) {
	if tmr := slot.Swap(nil); tmr != nil && tmr.Stop() {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "timer "+name+" stopped", slog.Any("transaction", tx))
	}
}
