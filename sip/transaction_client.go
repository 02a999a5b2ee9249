package sip

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/types"
	"github.com/ghettovoice/sipua/internal/util"
	"github.com/ghettovoice/sipua/log"
)

// ClientTransaction represents a SIP client transaction.
type ClientTransaction interface {
	Transaction
	// Key returns the transaction key.
	Key() ClientTransactionKey
	// Request returns the request that created the transaction.
	Request() *OutboundRequest
	// LastResponse returns the last response received by the transaction.
	LastResponse() *InboundResponse
	// MatchResponse checks whether the response matches the transaction.
	MatchResponse(res *InboundResponse) error
	// RecvResponse is called on each matching inbound response.
	RecvResponse(ctx context.Context, res *InboundResponse) error
	// OnResponse registers a callback invoked for every response passed
	// to the transaction user.
	OnResponse(fn TransactionResponseHandler) (cancel func())
}

// TransactionResponseHandler is called with each response a client
// transaction passes to the transaction user.
type TransactionResponseHandler = func(ctx context.Context, tx ClientTransaction, res *InboundResponse)

// ClientTransactionOptions contains options for a client transaction.
type ClientTransactionOptions struct {
	// Timings is the SIP timing config used by the transaction timers.
	// The zero value uses the RFC 3261 defaults.
	Timings TimingConfig
	// SendOptions are the options used to send the requests.
	SendOptions *SendRequestOptions
	// Log is the logger. If nil, the [log.Default] is used.
	Log *slog.Logger
}

func (o *ClientTransactionOptions) timings() TimingConfig {
	if o == nil {
		return defTimingCfg
	}
	return o.Timings
}

func (o *ClientTransactionOptions) sendOpts() *SendRequestOptions {
	if o == nil {
		return nil
	}
	return o.SendOptions
}

func (o *ClientTransactionOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// NewClientTransaction creates a client transaction of the kind matching
// the request method.
func NewClientTransaction(req *OutboundRequest, tp Transport, opts *ClientTransactionOptions) (ClientTransaction, error) {
	if req != nil && req.Request != nil && req.Method.Equal(RequestMethodInvite) {
		tx, err := NewInviteClientTransaction(req, tp, opts)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		return tx, nil
	}
	tx, err := NewNonInviteClientTransaction(req, tp, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return tx, nil
}

type clientTransact struct {
	*baseTransact
	key      ClientTransactionKey
	tp       Transport
	timings  TimingConfig
	req      *OutboundRequest
	sendOpts *SendRequestOptions
	lastRes  atomic.Pointer[InboundResponse]

	onRes       types.CallbackManager[TransactionResponseHandler]
	pendingRess types.Deque[*InboundResponse]

	cancTpClose func()
}

func newClientTransact(typ TransactionType, impl ClientTransaction, req *OutboundRequest, tp Transport, opts *ClientTransactionOptions) (*clientTransact, error) {
	if req == nil || req.Request == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid request"))
	}
	if err := req.Validate(); err != nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError(err))
	}
	if tp == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid transport"))
	}

	var key ClientTransactionKey
	if err := key.FillFromMessage(req.Request.GetHeaders()); err != nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError(err))
	}

	tx := &clientTransact{
		key:      key,
		tp:       tp,
		req:      req,
		sendOpts: opts.sendOpts(),
		timings:  opts.timings(),
	}
	tx.baseTransact = newBaseTransact(context.Background(), typ, impl, opts.log())
	tx.cancTpClose = tp.OnClose(func() {
		tx.fsm.Fire(txEvtTranspErr, error(ErrTransportLost)) //nolint:errcheck
	})
	return tx, nil
}

// LogValue implements [slog.LogValuer].
func (tx *clientTransact) LogValue() slog.Value {
	if tx == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Any("key", tx.key),
		slog.Any("type", tx.typ),
		slog.Any("state", tx.State()),
	)
}

// Key returns the transaction key.
func (tx *clientTransact) Key() ClientTransactionKey {
	if tx == nil {
		return ClientTransactionKey{}
	}
	return tx.key
}

// Request returns the request that created the transaction.
func (tx *clientTransact) Request() *OutboundRequest {
	if tx == nil {
		return nil
	}
	return tx.req
}

// LastResponse returns the last response received by the transaction.
func (tx *clientTransact) LastResponse() *InboundResponse {
	if tx == nil {
		return nil
	}
	return tx.lastRes.Load()
}

// MatchResponse checks whether the response matches the client
// transaction per the rules of RFC 3261 Section 17.1.3.
func (tx *clientTransact) MatchResponse(res *InboundResponse) error {
	var resKey ClientTransactionKey
	if err := resKey.FillFromMessage(res.Response.GetHeaders()); err != nil {
		return errtrace.Wrap(NewInvalidArgumentError(err))
	}
	if !tx.key.Equal(resKey) {
		return errtrace.Wrap(ErrTransactionNotMatched)
	}
	return nil
}

// RecvResponse is called on each inbound response received by the
// transport layer.
func (tx *clientTransact) RecvResponse(ctx context.Context, res *InboundResponse) error {
	if err := tx.MatchResponse(res); err != nil {
		return errtrace.Wrap(err)
	}

	switch {
	case res.Status.IsProvisional():
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecv1xx, res))
	case res.Status.IsSuccessful():
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecv2xx, res))
	default:
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecv300699, res))
	}
}

func (tx *clientTransact) sendReq(ctx context.Context, req *OutboundRequest) error {
	if err := tx.tp.SendRequest(ctx, req, tx.sendOpts); err != nil {
		err = fmt.Errorf("send %q request: %w", req.Method, err)
		if !IsReliableTransport(tx.tp) {
			// best effort over UDP, the next retransmit timer re-sends
			tx.log.LogAttrs(ctx, slog.LevelWarn,
				"request send failed",
				slog.Any("transaction", tx.impl),
				slog.Any("error", err),
			)
			return errtrace.Wrap(err)
		}
		tx.fsm.FireCtx(ctx, txEvtTranspErr, err) //nolint:errcheck
		return errtrace.Wrap(err)
	}
	return nil
}

// FSM triggers for inbound responses.
const (
	txEvtRecv1xx    = "recv_1xx"
	txEvtRecv2xx    = "recv_2xx"
	txEvtRecv300699 = "recv_300-699"
)

func (tx *clientTransact) actSendReq(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "send request", slog.Any("transaction", tx.impl), slog.Any("request", tx.req.Request))
	tx.sendReq(ctx, tx.req) //nolint:errcheck
	return nil
}

func (tx *clientTransact) actPassRes(ctx context.Context, args ...any) error {
	res := args[0].(*InboundResponse) //nolint:forcetypeassert
	tx.lastRes.Store(res)

	tx.log.LogAttrs(ctx, slog.LevelDebug, "pass response", slog.Any("transaction", tx.impl), slog.Any("response", res.Response))

	tx.pendingRess.Append(res)
	if tx.onRes.Len() > 0 {
		tx.deliverPendingRess()
	}
	return nil
}

func (tx *clientTransact) deliverPendingRess() {
	resps := tx.pendingRess.Drain()
	if len(resps) == 0 {
		return
	}

	impl := tx.impl.(ClientTransaction) //nolint:forcetypeassert
	for fn := range tx.onRes.All() {
		for _, res := range resps {
			fn(tx.ctx, impl, res)
		}
	}
}

func (tx *clientTransact) actProceeding(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction proceeding", slog.Any("transaction", tx.impl))
	return nil
}

func (tx *clientTransact) actCompleted(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction completed", slog.Any("transaction", tx.impl))
	return nil
}

func (tx *clientTransact) actTimedOut(ctx context.Context, _ ...any) error {
	tx.setErr(ErrTransactionTimedOut)
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction timed out", slog.Any("transaction", tx.impl))
	return nil
}

func (tx *clientTransact) actTerminated(ctx context.Context, args ...any) error {
	if tx.cancTpClose != nil {
		tx.cancTpClose()
	}
	return errtrace.Wrap(tx.baseTransact.actTerminated(ctx, args...))
}

// OnResponse registers a callback invoked for every response passed to
// the transaction user. Responses received before any callback was
// registered are delivered on registration, in order.
func (tx *clientTransact) OnResponse(fn TransactionResponseHandler) (cancel func()) {
	cancel = tx.onRes.Add(fn)
	tx.deliverPendingRess()
	return cancel
}

// ClientTransactionKey is the key of a client transaction. Responses are
// matched on the branch of the top Via and the CSeq method, with ACK
// folding into the INVITE transaction.
type ClientTransactionKey struct {
	// Branch is the branch parameter of the top Via header.
	Branch string `json:"branch"`
	// Method is the request method that created the transaction.
	Method string `json:"method"`
}

// FillFromMessage populates the key fields from the message headers.
func (k *ClientTransactionKey) FillFromMessage(hdrs *Headers) error {
	hop, ok := hdrs.FirstViaHop()
	if !ok {
		return errtrace.Wrap(errorWrap(ErrProtocolViolation, "missing Via header"))
	}
	cseq, ok := hdrs.CSeq()
	if !ok {
		return errtrace.Wrap(errorWrap(ErrProtocolViolation, "missing CSeq header"))
	}

	branch, ok := hop.Branch()
	if !ok || branch == "" {
		return errtrace.Wrap(errorWrap(ErrProtocolViolation, "missing Via branch"))
	}

	k.Branch = branch
	k.Method = string(util.UCase(cseq.Method))
	if k.Method == string(RequestMethodAck) {
		k.Method = string(RequestMethodInvite)
	}
	return nil
}

// Equal checks whether the key is equal to another key.
func (k ClientTransactionKey) Equal(val any) bool {
	var other ClientTransactionKey
	switch v := val.(type) {
	case ClientTransactionKey:
		other = v
	case *ClientTransactionKey:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return k.Branch == other.Branch && util.EqFold(k.Method, other.Method)
}

// IsValid checks whether the key is valid.
func (k ClientTransactionKey) IsValid() bool { return k.Branch != "" && k.Method != "" }

// IsZero checks whether the key is zero.
func (k ClientTransactionKey) IsZero() bool { return k.Branch == "" && k.Method == "" }

// LogValue implements [slog.LogValuer].
func (k ClientTransactionKey) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("branch", k.Branch),
		slog.String("method", k.Method),
	)
}

func (k ClientTransactionKey) String() string {
	return k.Branch + "|" + string(util.UCase(k.Method))
}
