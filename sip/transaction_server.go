package sip

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/types"
	"github.com/ghettovoice/sipua/internal/util"
	"github.com/ghettovoice/sipua/log"
)

// ServerTransaction represents a SIP server transaction.
type ServerTransaction interface {
	Transaction
	// Key returns the transaction key.
	Key() ServerTransactionKey
	// Request returns the request that created the transaction.
	Request() *InboundRequest
	// LastResponse returns the last response sent by the transaction.
	LastResponse() *OutboundResponse
	// Respond sends a response through the transaction.
	Respond(ctx context.Context, res *Response) error
	// MatchRequest checks whether the request matches the transaction.
	MatchRequest(req *InboundRequest) error
	// RecvRequest is called on each matching inbound request, including
	// retransmissions, ACK and CANCEL.
	RecvRequest(ctx context.Context, req *InboundRequest) error
	// OnCancel registers a callback invoked when the transaction is
	// cancelled by the peer.
	OnCancel(fn TransactionCancelHandler) (cancel func())
}

// TransactionCancelHandler is called when a CANCEL matching a server
// transaction is received.
type TransactionCancelHandler = func(ctx context.Context, tx ServerTransaction, cancel *InboundRequest)

// ServerTransactionOptions contains options for a server transaction.
type ServerTransactionOptions struct {
	// Timings is the SIP timing config used by the transaction timers.
	// The zero value uses the RFC 3261 defaults.
	Timings TimingConfig
	// SendOptions are the options used to send the responses.
	SendOptions *SendResponseOptions
	// Log is the logger. If nil, the [log.Default] is used.
	Log *slog.Logger
}

func (o *ServerTransactionOptions) timings() TimingConfig {
	if o == nil {
		return defTimingCfg
	}
	return o.Timings
}

func (o *ServerTransactionOptions) sendOpts() *SendResponseOptions {
	if o == nil {
		return nil
	}
	return o.SendOptions
}

func (o *ServerTransactionOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// NewServerTransaction creates a server transaction of the kind matching
// the request method.
func NewServerTransaction(req *InboundRequest, tp Transport, opts *ServerTransactionOptions) (ServerTransaction, error) {
	if req != nil && req.Request != nil && req.Method.Equal(RequestMethodInvite) {
		tx, err := NewInviteServerTransaction(req, tp, opts)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		return tx, nil
	}
	tx, err := NewNonInviteServerTransaction(req, tp, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return tx, nil
}

type serverTransact struct {
	*baseTransact
	key      ServerTransactionKey
	tp       Transport
	timings  TimingConfig
	req      *InboundRequest
	sendOpts *SendResponseOptions
	lastRes  atomic.Pointer[OutboundResponse]

	onCancel types.CallbackManager[TransactionCancelHandler]

	cancTpClose func()
}

func newServerTransact(typ TransactionType, impl ServerTransaction, req *InboundRequest, tp Transport, opts *ServerTransactionOptions) (*serverTransact, error) {
	if req == nil || req.Request == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid request"))
	}
	if err := req.Validate(); err != nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError(err))
	}
	if tp == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid transport"))
	}

	var key ServerTransactionKey
	if err := key.FillFromRequest(req.Request); err != nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError(err))
	}

	tx := &serverTransact{
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
func (tx *serverTransact) LogValue() slog.Value {
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
func (tx *serverTransact) Key() ServerTransactionKey {
	if tx == nil {
		return ServerTransactionKey{}
	}
	return tx.key
}

// Request returns the request that created the transaction.
func (tx *serverTransact) Request() *InboundRequest {
	if tx == nil {
		return nil
	}
	return tx.req
}

// LastResponse returns the last response sent by the transaction.
func (tx *serverTransact) LastResponse() *OutboundResponse {
	if tx == nil {
		return nil
	}
	return tx.lastRes.Load()
}

// MatchRequest checks whether the request matches the server transaction
// per the rules of RFC 3261 Section 17.2.3, including the ACK folding
// into the INVITE transaction.
func (tx *serverTransact) MatchRequest(req *InboundRequest) error {
	var reqKey ServerTransactionKey
	if err := reqKey.FillFromRequest(req.Request); err != nil {
		return errtrace.Wrap(NewInvalidArgumentError(err))
	}
	if req.Method.Equal(RequestMethodCancel) {
		// a CANCEL matches the transaction its branch and sent-by point
		// at regardless of that transaction's method
		if tx.key.Branch != "" && tx.key.Branch == reqKey.Branch && util.EqFold(tx.key.SentBy, reqKey.SentBy) {
			return nil
		}
		return errtrace.Wrap(ErrTransactionNotMatched)
	}
	if !tx.key.Equal(reqKey) {
		return errtrace.Wrap(ErrTransactionNotMatched)
	}
	return nil
}

// FSM triggers for inbound requests and outbound responses.
const (
	txEvtRecvReq    = "recv_request"
	txEvtRecvAck    = "recv_ack"
	txEvtSend1xx    = "send_1xx"
	txEvtSend2xx    = "send_2xx"
	txEvtSend300699 = "send_300-699"
)

// RecvRequest is called on each inbound request received by the
// transport layer that matched the transaction.
func (tx *serverTransact) RecvRequest(ctx context.Context, req *InboundRequest) error {
	if err := tx.MatchRequest(req); err != nil {
		return errtrace.Wrap(err)
	}

	switch {
	case req.Method.Equal(RequestMethodAck):
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecvAck, req))
	case req.Method.Equal(RequestMethodCancel) && !tx.req.Method.Equal(RequestMethodCancel):
		impl := tx.impl.(ServerTransaction) //nolint:forcetypeassert
		for fn := range tx.onCancel.All() {
			fn(ctx, impl, req)
		}
		return nil
	default:
		// retransmission of the original request
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecvReq, req))
	}
}

// Respond sends a response through the transaction.
func (tx *serverTransact) Respond(ctx context.Context, res *Response) error {
	if res == nil {
		return errtrace.Wrap(NewInvalidArgumentError("invalid response"))
	}

	out := &OutboundResponse{Response: res, Peer: ResponsePeer(tx.req)}
	switch {
	case res.Status.IsProvisional():
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtSend1xx, out))
	case res.Status.IsSuccessful():
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtSend2xx, out))
	default:
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtSend300699, out))
	}
}

// OnCancel registers a callback invoked when the transaction is
// cancelled by the peer.
func (tx *serverTransact) OnCancel(fn TransactionCancelHandler) (cancel func()) {
	return tx.onCancel.Add(fn)
}

func (tx *serverTransact) sendRes(ctx context.Context, res *OutboundResponse) error {
	if err := tx.tp.SendResponse(ctx, res, tx.sendOpts); err != nil {
		err = fmt.Errorf("send %d response: %w", res.Status, err)
		if !IsReliableTransport(tx.tp) {
			tx.log.LogAttrs(ctx, slog.LevelWarn,
				"response send failed",
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

// actSendRes stores and sends an outbound response.
func (tx *serverTransact) actSendRes(ctx context.Context, args ...any) error {
	res := args[0].(*OutboundResponse) //nolint:forcetypeassert
	tx.lastRes.Store(res)

	tx.log.LogAttrs(ctx, slog.LevelDebug, "send response", slog.Any("transaction", tx.impl), slog.Any("response", res.Response))

	tx.sendRes(ctx, res) //nolint:errcheck
	return nil
}

// actRetransmitRes re-sends the last response on a request retransmission.
func (tx *serverTransact) actRetransmitRes(ctx context.Context, _ ...any) error {
	res := tx.lastRes.Load()
	if res == nil {
		return nil
	}

	tx.log.LogAttrs(ctx, slog.LevelDebug, "retransmit response", slog.Any("transaction", tx.impl), slog.Any("response", res.Response))

	tx.sendRes(ctx, res) //nolint:errcheck
	return nil
}

func (tx *serverTransact) actTerminated(ctx context.Context, args ...any) error {
	if tx.cancTpClose != nil {
		tx.cancTpClose()
	}
	return errtrace.Wrap(tx.baseTransact.actTerminated(ctx, args...))
}

// ServerTransactionKey is the key of a server transaction per RFC 3261
// Section 17.2.3: the branch of the top Via, the sent-by it carries and
// the request method, with ACK folding into the INVITE transaction.
// Requests whose branch lacks the magic cookie fall back to the RFC 2543
// matching tuple (Call-ID, From tag, To tag, CSeq and Request-URI).
type ServerTransactionKey struct {
	// Branch is the branch parameter of the top Via header.
	Branch string `json:"branch,omitempty"`
	// SentBy is the sent-by of the top Via header.
	SentBy string `json:"sent_by,omitempty"`
	// Method is the request method, with ACK folded to INVITE.
	Method string `json:"method"`

	// Fallback is the RFC 2543 matching tuple, filled only when the
	// branch lacks the magic cookie.
	Fallback string `json:"fallback,omitempty"`
}

// FillFromRequest populates the key fields from the request.
func (k *ServerTransactionKey) FillFromRequest(req *Request) error {
	hop, ok := req.Headers.FirstViaHop()
	if !ok {
		return errtrace.Wrap(errorWrap(ErrProtocolViolation, "missing Via header"))
	}

	method := util.UCase(req.Method)
	if method.Equal(RequestMethodAck) {
		method = RequestMethodInvite
	}
	k.Method = string(method)

	if branch, ok := hop.Branch(); ok && strings.HasPrefix(branch, MagicCookie) {
		k.Branch = branch
		k.SentBy = hop.SentBy.String()
		return nil
	}

	// RFC 2543 era peer: match on Call-ID, tags, CSeq and Request-URI
	callID, _ := req.Headers.CallID()
	cseq, _ := req.Headers.CSeq()
	var fromTag, toTag string
	if from, ok := req.Headers.From(); ok {
		fromTag, _ = from.Tag()
	}
	if to, ok := req.Headers.To(); ok {
		toTag, _ = to.Tag()
	}
	k.Fallback = fmt.Sprintf("%s|%s|%s|%d|%s", callID, fromTag, toTag, cseq.Seq, req.URI.Render(nil))
	return nil
}

// Equal checks whether the key is equal to another key.
func (k ServerTransactionKey) Equal(val any) bool {
	var other ServerTransactionKey
	switch v := val.(type) {
	case ServerTransactionKey:
		other = v
	case *ServerTransactionKey:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	if !util.EqFold(k.Method, other.Method) {
		return false
	}
	if k.Branch != "" || other.Branch != "" {
		return k.Branch == other.Branch && util.EqFold(k.SentBy, other.SentBy)
	}
	return k.Fallback == other.Fallback
}

// IsValid checks whether the key is valid.
func (k ServerTransactionKey) IsValid() bool {
	return k.Method != "" && (k.Branch != "" || k.Fallback != "")
}

// LogValue implements [slog.LogValuer].
func (k ServerTransactionKey) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("branch", k.Branch),
		slog.String("sent_by", k.SentBy),
		slog.String("method", k.Method),
	)
}

func (k ServerTransactionKey) String() string {
	if k.Branch != "" {
		return k.Branch + "|" + strings.ToLower(k.SentBy) + "|" + string(util.UCase(k.Method))
	}
	return k.Fallback + "|" + string(util.UCase(k.Method))
}
