package sip

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/header"
	"github.com/ghettovoice/sipua/internal/timeutil"
)

// InviteClientTransaction implements the INVITE client transaction FSM
// of RFC 3261 Section 17.1.1.
//
// A 2xx response is passed to the transaction user and terminates the
// transaction immediately: the ACK for a 2xx belongs to the dialog
// layer, not to the transaction.
type InviteClientTransaction struct {
	*clientTransact

	tmrA atomic.Pointer[timeutil.Timer]
	tmrB atomic.Pointer[timeutil.Timer]
	tmrD atomic.Pointer[timeutil.Timer]

	ack atomic.Pointer[OutboundRequest]
}

// NewInviteClientTransaction creates and starts an INVITE client
// transaction: the request is sent and timers A and B are armed.
func NewInviteClientTransaction(req *OutboundRequest, tp Transport, opts *ClientTransactionOptions) (*InviteClientTransaction, error) {
	if req == nil || req.Request == nil || !req.Method.Equal(RequestMethodInvite) {
		return nil, errtrace.Wrap(NewInvalidArgumentError(ErrMethodNotAllowed))
	}

	tx := new(InviteClientTransaction)
	clnTx, err := newClientTransact(TransactionTypeClientInvite, tx, req, tp, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	tx.clientTransact = clnTx

	if err := tx.initFSM(TransactionStateCalling); err != nil {
		return nil, errtrace.Wrap(err)
	}
	if err := tx.actCalling(tx.ctx); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return tx, nil
}

const (
	txEvtTimerA = "timer_a"
	txEvtTimerB = "timer_b"
	txEvtTimerD = "timer_d"
)

func (tx *InviteClientTransaction) initFSM(start TransactionState) error {
	if err := tx.clientTransact.initFSM(start); err != nil {
		return errtrace.Wrap(err)
	}

	tx.fsm.Configure(TransactionStateCalling).
		InternalTransition(txEvtTimerA, tx.actSendReq).
		Permit(txEvtRecv1xx, TransactionStateProceeding).
		Permit(txEvtRecv2xx, TransactionStateTerminated).
		Permit(txEvtRecv300699, TransactionStateCompleted).
		Permit(txEvtTimerB, TransactionStateTerminated).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateProceeding).
		OnEntry(tx.actProceeding).
		OnEntryFrom(txEvtRecv1xx, tx.actPassRes).
		InternalTransition(txEvtRecv1xx, tx.actPassRes).
		Permit(txEvtRecv2xx, TransactionStateTerminated).
		Permit(txEvtRecv300699, TransactionStateCompleted).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateCompleted).
		OnEntry(tx.actCompleted).
		OnEntryFrom(txEvtRecv300699, tx.actPassResSendAck).
		InternalTransition(txEvtRecv300699, tx.actSendAck).
		Permit(txEvtTimerD, TransactionStateTerminated).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateTerminated).
		OnEntry(tx.actTerminated).
		OnEntryFrom(txEvtRecv2xx, tx.actPassRes).
		OnEntryFrom(txEvtTimerB, tx.actTimedOut).
		OnEntryFrom(txEvtTranspErr, tx.actTranspErr)

	return nil
}

func (tx *InviteClientTransaction) actCalling(ctx context.Context) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction calling", slog.Any("transaction", tx))

	if err := tx.sendReq(ctx, tx.req); err != nil && IsReliableTransport(tx.tp) {
		return errtrace.Wrap(err)
	}

	if !IsReliableTransport(tx.tp) {
		tmr := timeutil.AfterFunc(tx.timings.TimeA(), tx.onTimerA)
		tx.tmrA.Store(tmr)

		tx.log.LogAttrs(ctx, slog.LevelDebug,
			"timer A started",
			slog.Any("transaction", tx),
			slog.Time("expires_at", time.Now().Add(tmr.Left())),
		)
	}

	tmr := timeutil.AfterFunc(tx.timings.TimeB(), tx.onTimerB)
	tx.tmrB.Store(tmr)

	tx.log.LogAttrs(ctx, slog.LevelDebug,
		"timer B started",
		slog.Any("transaction", tx),
		slog.Time("expires_at", time.Now().Add(tmr.Left())),
	)
	return nil
}

func (tx *InviteClientTransaction) onTimerA() {
	if tx.State() != TransactionStateCalling {
		tx.tmrA.Store(nil)
		return
	}

	tx.log.LogAttrs(tx.ctx, slog.LevelDebug, "timer A expired", slog.Any("transaction", tx))

	tx.fsm.FireCtx(tx.ctx, txEvtTimerA) //nolint:errcheck

	if tmr := tx.tmrA.Load(); tmr != nil {
		tmr.Reset(2 * tmr.Duration())
	}
}

func (tx *InviteClientTransaction) onTimerB() {
	tx.tmrB.Store(nil)
	if tx.State() != TransactionStateCalling {
		return
	}

	tx.log.LogAttrs(tx.ctx, slog.LevelDebug, "timer B expired", slog.Any("transaction", tx))

	tx.fsm.FireCtx(tx.ctx, txEvtTimerB) //nolint:errcheck
}

func (tx *InviteClientTransaction) onTimerD() {
	tx.tmrD.Store(nil)
	if tx.State() != TransactionStateCompleted {
		return
	}

	tx.log.LogAttrs(tx.ctx, slog.LevelDebug, "timer D expired", slog.Any("transaction", tx))

	tx.fsm.FireCtx(tx.ctx, txEvtTimerD) //nolint:errcheck
}

func (tx *InviteClientTransaction) actProceeding(ctx context.Context, args ...any) error {
	tx.clientTransact.actProceeding(ctx, args...) //nolint:errcheck
	tx.stopTimer(ctx, &tx.tmrA, "A")
	return nil
}

func (tx *InviteClientTransaction) actPassResSendAck(ctx context.Context, args ...any) error {
	tx.actPassRes(ctx, args...) //nolint:errcheck
	tx.actSendAck(ctx, args...) //nolint:errcheck
	return nil
}

// actSendAck builds and sends the ACK for a non-2xx final response per
// RFC 3261 Section 17.1.1.3: same branch and CSeq number as the INVITE,
// the To header taken from the answered response.
func (tx *InviteClientTransaction) actSendAck(ctx context.Context, _ ...any) error {
	ack := tx.ack.Load()
	if ack == nil {
		ack = tx.req.Clone()
		ack.Method = RequestMethodAck
		ack.Body = nil

		if via, ok := ack.Headers.Via(); ok && len(via) > 0 {
			ack.Headers.Set(header.Via{via[0]})
		}
		if cseq, ok := ack.Headers.CSeq(); ok {
			cseq.Method = RequestMethodAck
			ack.Headers.Set(cseq)
		}
		if res := tx.LastResponse(); res != nil {
			if to, ok := res.Headers.To(); ok {
				ack.Headers.Set(to.Clone())
			}
		}
		ack.Headers.Set(header.ContentLength(0))

		tx.ack.Store(ack)
	}

	tx.log.LogAttrs(ctx, slog.LevelDebug, "send ACK", slog.Any("transaction", tx), slog.Any("request", ack.Request))

	tx.sendReq(ctx, ack) //nolint:errcheck
	return nil
}

func (tx *InviteClientTransaction) actCompleted(ctx context.Context, args ...any) error {
	tx.clientTransact.actCompleted(ctx, args...) //nolint:errcheck
	tx.stopTimer(ctx, &tx.tmrA, "A")
	tx.stopTimer(ctx, &tx.tmrB, "B")

	// over a reliable transport there are no retransmissions to absorb
	dur := tx.timings.TimeD()
	if IsReliableTransport(tx.tp) {
		dur = 0
	}
	tmr := timeutil.AfterFunc(dur, tx.onTimerD)
	tx.tmrD.Store(tmr)

	tx.log.LogAttrs(ctx, slog.LevelDebug,
		"timer D started",
		slog.Any("transaction", tx),
		slog.Time("expires_at", time.Now().Add(tmr.Left())),
	)
	return nil
}

func (tx *InviteClientTransaction) actTerminated(ctx context.Context, args ...any) error {
	tx.clientTransact.actTerminated(ctx, args...) //nolint:errcheck
	tx.stopTimer(ctx, &tx.tmrA, "A")
	tx.stopTimer(ctx, &tx.tmrB, "B")
	tx.stopTimer(ctx, &tx.tmrD, "D")
	return nil
}

func (tx *InviteClientTransaction) stopTimer(ctx context.Context, slot *atomic.Pointer[timeutil.Timer], name string) {
	if tmr := slot.Swap(nil); tmr != nil && tmr.Stop() {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "timer "+name+" stopped", slog.Any("transaction", tx))
	}
}
