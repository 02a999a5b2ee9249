package sipua

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/dns"
	"github.com/ghettovoice/sipua/header"
	"github.com/ghettovoice/sipua/internal/errorutil"
	"github.com/ghettovoice/sipua/internal/types"
	"github.com/ghettovoice/sipua/sip"
	"github.com/ghettovoice/sipua/uri"
)

// UserAgent is the facade tying the transport, transaction, dialog and
// authentication layers together. It owns the credential table, the
// flow recorder and the event stream.
//
// Inbound messages are queued to a single dispatcher goroutine and
// processed one at a time. Client operations (Register, Options, Invite,
// Bye, Cancel, Answer) run on the caller's goroutine and transaction and
// dialog timers fire on their own, so the transaction and dialog tables
// are not owned by the dispatcher; the managers guard them with mutexes.
type UserAgent struct {
	name     string
	localURI *uri.SIP
	log      *slog.Logger

	tp       sip.Transport
	txm      *sip.TransactionManager
	dm       *sip.DialogManager
	creds    *sip.CredentialStore
	az       *sip.Authorizer
	flow     *sip.FlowRecorder
	stats    *sip.StatsRecorder
	resolver *dns.Resolver

	onEvent types.CallbackManager[EventHandler]

	events    chan func()
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// New creates a started user agent.
//
// Name goes into the User-Agent header of self-generated requests.
// LocalURI is the address-of-record of the local user, e.g.
// "sip:alice@example.com". Options are optional, default values are
// used if nil (see [Options]).
func New(name, localURI string, opts *Options) (*UserAgent, error) {
	if name == "" {
		return nil, errtrace.Wrap(sip.NewInvalidArgumentError("invalid name"))
	}
	local, err := uri.Parse(localURI)
	if err != nil {
		return nil, errtrace.Wrap(sip.NewInvalidArgumentError(err))
	}

	logger := opts.log().With(slog.String("user_agent", name))

	ua := &UserAgent{
		name:     name,
		localURI: local,
		log:      logger,
		creds:    &sip.CredentialStore{},
		flow:     sip.NewFlowRecorder(),
		stats:    &sip.StatsRecorder{},
		resolver: opts.resolver(),
		events:   make(chan func(), 64),
		done:     make(chan struct{}),
	}
	ua.az = sip.NewAuthorizer(ua.creds)

	tp := opts.transport()
	if tp == nil {
		tp, err = sip.NewUDPTransport(opts.listenAddr(), &sip.TransportOptions{Log: logger})
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
	}
	ua.tp = &observedTransport{Transport: tp, ua: ua}

	ua.txm = sip.NewTransactionManager(&sip.TransactionManagerOptions{
		Timings: opts.timings(),
		Log:     logger,
	})
	ua.dm = sip.NewDialogManager(&sip.DialogManagerOptions{
		Timings: opts.timings(),
		Log:     logger,
	})

	ua.txm.OnNewClientTransaction(func(_ context.Context, tx sip.ClientTransaction) {
		ua.stats.TrackTransaction(tx)
	})
	ua.txm.OnNewServerTransaction(func(_ context.Context, tx sip.ServerTransaction) {
		ua.stats.TrackTransaction(tx)
	})
	ua.dm.OnNewDialog(func(_ context.Context, dlg *sip.Dialog) {
		dlg.OnStateChanged(func(_ context.Context, dlg *sip.Dialog, _, to sip.DialogState) {
			if to == sip.DialogStateTerminated {
				ua.publish(Event{Type: EventDialogTerminated, DialogID: dlg.ID(), Err: dlg.Err()})
			}
		})
	})

	ua.tp.OnRequest(func(ctx context.Context, tp sip.Transport, req *sip.InboundRequest) {
		ua.dispatch(func() { ua.handleRequest(ctx, tp, req) })
	})
	ua.tp.OnResponse(func(ctx context.Context, tp sip.Transport, res *sip.InboundResponse) {
		ua.dispatch(func() { ua.handleResponse(ctx, tp, res) })
	})

	go ua.run()
	return ua, nil
}

// Name returns the user agent name.
func (ua *UserAgent) Name() string { return ua.name }

// Credentials returns the credential table. Credentials live for the
// lifetime of the user agent.
func (ua *UserAgent) Credentials() *sip.CredentialStore { return ua.creds }

// Flow returns the signalling flow recorder.
func (ua *UserAgent) Flow() *sip.FlowRecorder { return ua.flow }

// Stats returns the user agent counters.
func (ua *UserAgent) Stats() *sip.StatsRecorder { return ua.stats }

// Transport returns the user agent transport.
func (ua *UserAgent) Transport() sip.Transport { return ua.tp }

// Dialogs returns the dialog table.
func (ua *UserAgent) Dialogs() *sip.DialogManager { return ua.dm }

// Transactions returns the transaction tables.
func (ua *UserAgent) Transactions() *sip.TransactionManager { return ua.txm }

// OnEvent registers a callback consuming the event stream described in
// [Event].
func (ua *UserAgent) OnEvent(fn EventHandler) (cancel func()) {
	return ua.onEvent.Add(fn)
}

func (ua *UserAgent) publish(evt Event) {
	for fn := range ua.onEvent.All() {
		fn(evt)
	}
}

// run is the dispatcher loop: it consumes queued inbound work one item
// at a time.
func (ua *UserAgent) run() {
	for fn := range ua.events {
		fn()
	}
	close(ua.done)
}

func (ua *UserAgent) dispatch(fn func()) {
	if ua.closing.Load() {
		return
	}
	defer func() {
		// the events channel closes concurrently with late transport
		// callbacks on shutdown
		_ = recover()
	}()
	ua.events <- fn
}

// Close shuts the user agent down: all transactions and dialogs are
// terminated and the transport is closed.
func (ua *UserAgent) Close(ctx context.Context) error {
	ua.closeOnce.Do(func() {
		ua.closing.Store(true)

		var errs []error
		if err := ua.txm.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := ua.dm.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := ua.tp.Close(); err != nil {
			errs = append(errs, err)
		}
		close(ua.events)
		<-ua.done

		if len(errs) > 0 {
			ua.closeErr = errorutil.JoinPrefix("failed to close user agent:", errs...)
		}
	})
	return errtrace.Wrap(ua.closeErr)
}

/* Inbound message handling. */

func (ua *UserAgent) handleRequest(ctx context.Context, tp sip.Transport, req *sip.InboundRequest) {
	ua.stats.RecordRequestReceived()
	ua.flow.OnRecv(req.Request, req.Peer)

	if tx, err := ua.txm.MatchServerTransaction(req); err == nil {
		if err := tx.RecvRequest(ctx, req); err != nil {
			ua.log.LogAttrs(ctx, slog.LevelDebug,
				"discarding inbound request due to transaction mismatch",
				slog.Any("request", req.Request),
				slog.Any("error", err),
			)
		}
		if req.Method.Equal(sip.RequestMethodCancel) {
			// the CANCEL gets its own transaction answering 200
			ua.answerCancel(ctx, tp, req)
		}
		return
	}

	switch {
	case req.Method.Equal(sip.RequestMethodAck):
		// an ACK for a 2xx never matches a transaction, the dialog
		// layer absorbs it
		if _, ok := ua.dm.HandleAck(ctx, req); !ok {
			ua.log.LogAttrs(ctx, slog.LevelDebug, "discarding stray ACK", slog.Any("request", req.Request))
		}
		return

	case req.Method.Equal(sip.RequestMethodCancel):
		// CANCEL for an unknown transaction
		ua.respondStateless(ctx, tp, req, sip.ResponseStatusCallTransactionDoesNotExist)
		return

	case req.Method.Equal(sip.RequestMethodBye):
		ua.handleBye(ctx, tp, req)
		return

	case req.Method.Equal(sip.RequestMethodInvite):
		ua.handleInvite(ctx, tp, req)
		return

	default:
		ua.handleNonInvite(ctx, tp, req)
		return
	}
}

func (ua *UserAgent) handleInvite(ctx context.Context, tp sip.Transport, req *sip.InboundRequest) {
	tx, err := ua.txm.NewServerTransaction(ctx, req, tp, &sip.ServerTransactionOptions{Log: ua.log})
	if err != nil {
		ua.log.LogAttrs(ctx, slog.LevelWarn,
			"failed to open INVITE server transaction",
			slog.Any("request", req.Request),
			slog.Any("error", err),
		)
		ua.respondStateless(ctx, tp, req, sip.ResponseStatusServerInternalError)
		return
	}

	tx.OnCancel(func(ctx context.Context, tx sip.ServerTransaction, _ *sip.InboundRequest) {
		if tx.LastResponse() == nil || tx.LastResponse().Status.IsProvisional() {
			res := sip.NewResponse(tx.Request().Request, sip.ResponseStatusRequestTerminated)
			ua.tagToHeader(res)
			tx.Respond(ctx, res) //nolint:errcheck
		}
	})

	// 100 Trying quenches the peer's retransmissions while the answer
	// is pending
	tx.Respond(ctx, sip.NewResponse(req.Request, sip.ResponseStatusTrying)) //nolint:errcheck

	ua.publish(Event{Type: EventNewRequest, Request: req, Transaction: tx})
}

func (ua *UserAgent) handleNonInvite(ctx context.Context, tp sip.Transport, req *sip.InboundRequest) {
	tx, err := ua.txm.NewServerTransaction(ctx, req, tp, &sip.ServerTransactionOptions{Log: ua.log})
	if err != nil {
		ua.log.LogAttrs(ctx, slog.LevelWarn,
			"failed to open server transaction",
			slog.Any("request", req.Request),
			slog.Any("error", err),
		)
		ua.respondStateless(ctx, tp, req, sip.ResponseStatusServerInternalError)
		return
	}

	if req.Method.Equal(sip.RequestMethodOptions) {
		res := sip.NewResponse(req.Request, sip.ResponseStatusOK)
		ua.tagToHeader(res)
		res.Headers.Append(header.UserAgent(ua.name))
		tx.Respond(ctx, res) //nolint:errcheck
	}

	ua.publish(Event{Type: EventNewRequest, Request: req, Transaction: tx})
}

func (ua *UserAgent) handleBye(ctx context.Context, tp sip.Transport, req *sip.InboundRequest) {
	tx, err := ua.txm.NewServerTransaction(ctx, req, tp, &sip.ServerTransactionOptions{Log: ua.log})
	if err != nil {
		ua.respondStateless(ctx, tp, req, sip.ResponseStatusServerInternalError)
		return
	}

	if _, ok := ua.dm.HandleBye(ctx, req); !ok {
		res := sip.NewResponse(req.Request, sip.ResponseStatusCallTransactionDoesNotExist)
		tx.Respond(ctx, res) //nolint:errcheck
		return
	}
	tx.Respond(ctx, sip.NewResponse(req.Request, sip.ResponseStatusOK)) //nolint:errcheck
}

func (ua *UserAgent) answerCancel(ctx context.Context, tp sip.Transport, req *sip.InboundRequest) {
	tx, err := ua.txm.NewServerTransaction(ctx, req, tp, &sip.ServerTransactionOptions{Log: ua.log})
	if err != nil {
		return
	}
	tx.Respond(ctx, sip.NewResponse(req.Request, sip.ResponseStatusOK)) //nolint:errcheck
}

func (ua *UserAgent) handleResponse(ctx context.Context, _ sip.Transport, res *sip.InboundResponse) {
	ua.stats.RecordResponseReceived()
	ua.flow.OnRecv(res.Response, res.Peer)

	if tx, err := ua.txm.MatchClientTransaction(res); err == nil {
		if err := tx.RecvResponse(ctx, res); err != nil {
			ua.log.LogAttrs(ctx, slog.LevelDebug,
				"silently discarding inbound response",
				slog.Any("response", res.Response),
				slog.Any("error", err),
			)
		}
		return
	}

	// a 2xx retransmission outlives its INVITE transaction and is
	// answered by the dialog layer with another ACK
	if _, ok := ua.dm.HandleInviteResponse(ctx, res); ok {
		return
	}

	ua.log.LogAttrs(ctx, slog.LevelDebug,
		"silently discarding response matching no transaction",
		slog.Any("response", res.Response),
	)
}

func (ua *UserAgent) respondStateless(ctx context.Context, tp sip.Transport, req *sip.InboundRequest, status sip.ResponseStatus) {
	res := sip.NewResponse(req.Request, status)
	out := &sip.OutboundResponse{Response: res, Peer: sip.ResponsePeer(req)}
	if err := tp.SendResponse(ctx, out, nil); err != nil {
		ua.log.LogAttrs(ctx, slog.LevelDebug,
			"failed to send stateless response",
			slog.Any("response", res),
			slog.Any("error", err),
		)
	}
}

func (ua *UserAgent) tagToHeader(res *sip.Response) {
	if to, ok := res.Headers.To(); ok {
		if _, tagged := to.Tag(); !tagged {
			to.SetTag(sip.GenerateTag())
		}
	}
}

/* Request building. */

// contactURI is the reachable address advertised in Contact headers.
func (ua *UserAgent) contactURI() *uri.SIP {
	return &uri.SIP{
		User: ua.localURI.User,
		Addr: ua.tp.LocalAddr(),
	}
}

func (ua *UserAgent) newRequest(method sip.RequestMethod, target *uri.SIP, to *header.To) *sip.Request {
	from := &header.From{URI: ua.localURI.Clone()}
	from.SetTag(sip.GenerateTag())

	hop := header.ViaHop{
		Proto:     sip.Proto20,
		Transport: ua.tp.Proto(),
		SentBy:    ua.tp.LocalAddr(),
	}
	hop.SetBranch(sip.GenerateBranch())

	req := sip.NewRequest(method, target.Clone(),
		header.Via{hop},
		from,
		to,
		header.CallID(sip.GenerateCallID(ua.localURI.Addr.Host)),
		header.CSeq{Seq: 1, Method: method.ToUpper()},
		header.MaxForwards(70),
		header.Contact{{URI: ua.contactURI()}},
		header.UserAgent(ua.name),
	)
	req.Headers.Set(header.ContentLength(0))
	return req
}

// resolvePeer resolves the transport destination of a target URI:
// literal hosts and explicit ports short-circuit, everything else goes
// through the resolver when one is configured.
func (ua *UserAgent) resolvePeer(ctx context.Context, target *uri.SIP) (sip.Addr, error) {
	addr := target.Addr
	if addr.Port != 0 || net.ParseIP(addr.Host) != nil {
		if addr.Port == 0 {
			addr.Port = 5060
		}
		return addr, nil
	}

	if ua.resolver != nil {
		transport, _ := target.Transport()
		tgt, err := ua.resolver.ResolveTarget(ctx, addr.Host, 0, transport)
		if err != nil {
			return sip.Addr{}, errtrace.Wrap(err)
		}
		return sip.HostPort(tgt.Host, tgt.Port), nil
	}

	addr.Port = 5060
	return addr, nil
}

/* Client operations. */

// Register sends a REGISTER for the local address-of-record to the
// registrar at target, answering a Digest challenge when credentials
// are available. Expires of zero unregisters nothing and leaves the
// header out.
func (ua *UserAgent) Register(ctx context.Context, target string, expires uint32) (*sip.InboundResponse, error) {
	registrar, err := uri.Parse(target)
	if err != nil {
		return nil, errtrace.Wrap(sip.NewInvalidArgumentError(err))
	}

	to := &header.To{URI: ua.localURI.Clone()}
	req := ua.newRequest(sip.RequestMethodRegister, registrar, to)
	if expires > 0 {
		req.Headers.Append(header.Expires(expires))
	}

	res, err := ua.do(ctx, req, registrar, nil)
	return res, errtrace.Wrap(err)
}

// Options sends an OPTIONS ping to the target.
func (ua *UserAgent) Options(ctx context.Context, target string) (*sip.InboundResponse, error) {
	targetURI, err := uri.Parse(target)
	if err != nil {
		return nil, errtrace.Wrap(sip.NewInvalidArgumentError(err))
	}

	to := &header.To{URI: targetURI.Clone()}
	req := ua.newRequest(sip.RequestMethodOptions, targetURI, to)

	res, err := ua.do(ctx, req, targetURI, nil)
	return res, errtrace.Wrap(err)
}

// Invite places a call to the target, carrying body (usually an SDP
// offer) with the given content type. On a 2xx the established dialog
// is returned; the ACK has already been emitted by the dialog layer.
func (ua *UserAgent) Invite(ctx context.Context, target string, contentType header.ContentType, body []byte) (*sip.Dialog, *sip.InboundResponse, error) {
	targetURI, err := uri.Parse(target)
	if err != nil {
		return nil, nil, errtrace.Wrap(sip.NewInvalidArgumentError(err))
	}

	to := &header.To{URI: targetURI.Clone()}
	req := ua.newRequest(sip.RequestMethodInvite, targetURI, to)
	if len(body) > 0 {
		req.SetBody(contentType, body)
	}

	var dlg *sip.Dialog
	res, err := ua.do(ctx, req, targetURI, func(ctx context.Context, out *sip.OutboundRequest) {
		// every attempt opens a fresh half dialog; a challenged attempt
		// was terminated by its failure response
		dlg, _ = ua.dm.UACDialog(ctx, out, ua.tp)
	})
	if err != nil {
		return nil, res, errtrace.Wrap(err)
	}
	if !res.Status.IsSuccessful() {
		return nil, res, nil
	}
	return dlg, res, nil
}

// Bye tears the dialog down with a BYE transaction.
func (ua *UserAgent) Bye(ctx context.Context, dialogID string) (*sip.InboundResponse, error) {
	dlg, ok := ua.dm.FindByID(dialogID)
	if !ok {
		return nil, errtrace.Wrap(sip.ErrDialogNotFound)
	}

	out, err := dlg.NewOutboundRequest(sip.RequestMethodBye)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	out.Request.Headers.Append(header.UserAgent(ua.name))

	res, err := ua.doOutbound(ctx, out, nil)

	// BYE ends the dialog no matter how the peer answered
	ua.dm.Terminate(ctx, dialogID, nil) //nolint:errcheck

	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if res.Status == sip.ResponseStatusCallTransactionDoesNotExist {
		return res, errtrace.Wrap(sip.ErrDialogGone)
	}
	return res, nil
}

// Cancel cancels a pending INVITE client transaction per RFC 3261
// Section 9.1: the CANCEL copies the INVITE's Request-URI, branch,
// From, To, Call-ID and CSeq number and runs as its own non-INVITE
// transaction whose response is not surfaced. The INVITE transaction
// then completes normally, typically with 487.
func (ua *UserAgent) Cancel(ctx context.Context, tx sip.ClientTransaction) error {
	invite := tx.Request()
	if invite == nil || !invite.Method.Equal(sip.RequestMethodInvite) {
		return errtrace.Wrap(sip.NewInvalidArgumentError(sip.ErrMethodNotAllowed))
	}

	state := tx.State()
	if state != sip.TransactionStateCalling && state != sip.TransactionStateProceeding {
		return errtrace.Wrap(sip.ErrTransactionNotMatched)
	}

	cancel := sip.NewRequest(sip.RequestMethodCancel, invite.URI.Clone())
	for _, name := range []header.Name{"Via", "From", "To", "Call-ID", "Max-Forwards"} {
		for _, h := range invite.Request.Headers.Get(name) {
			cancel.Headers.Append(h.Clone())
		}
	}
	if cseq, ok := invite.Request.Headers.CSeq(); ok {
		cancel.Headers.Append(header.CSeq{Seq: cseq.Seq, Method: sip.RequestMethodCancel})
	}
	cancel.Headers.Set(header.ContentLength(0))

	out := &sip.OutboundRequest{Request: cancel, Peer: invite.Peer}
	cancelTx, err := ua.txm.NewClientTransaction(ctx, out, ua.tp, &sip.ClientTransactionOptions{Log: ua.log})
	if err != nil {
		return errtrace.Wrap(err)
	}
	// the CANCEL answer is not interesting beyond logging
	cancelTx.OnResponse(func(ctx context.Context, _ sip.ClientTransaction, res *sip.InboundResponse) {
		ua.log.LogAttrs(ctx, slog.LevelDebug, "CANCEL answered", slog.Any("response", res.Response))
	})
	return nil
}

// Answer responds to a pending server transaction. Answering an INVITE
// with a 2xx establishes the UAS side dialog, which owns the 2xx
// retransmission until the peer's ACK arrives.
func (ua *UserAgent) Answer(ctx context.Context, tx sip.ServerTransaction, status sip.ResponseStatus, contentType header.ContentType, body []byte) (*sip.Dialog, error) {
	req := tx.Request()
	res := sip.NewResponse(req.Request, status)
	ua.tagToHeader(res)
	res.Headers.Append(header.Contact{{URI: ua.contactURI()}})
	if len(body) > 0 {
		res.SetBody(contentType, body)
	}

	if err := tx.Respond(ctx, res); err != nil {
		return nil, errtrace.Wrap(err)
	}

	if status.IsSuccessful() && req.Method.Equal(sip.RequestMethodInvite) {
		dlg, err := ua.dm.UASDialog(ctx, req, res, ua.tp)
		return dlg, errtrace.Wrap(err)
	}
	return nil, nil
}

/* The challenge-retry send loop. */

type attemptHook = func(ctx context.Context, out *sip.OutboundRequest)

func (ua *UserAgent) do(ctx context.Context, req *sip.Request, target *uri.SIP, onAttempt attemptHook) (*sip.InboundResponse, error) {
	peer, err := ua.resolvePeer(ctx, target)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return errtrace.Wrap2(ua.doOutbound(ctx, &sip.OutboundRequest{Request: req, Peer: peer}, onAttempt))
}

// doOutbound opens a client transaction, waits for its final response
// and drives the challenge-retry loop: a 401/407 is answered exactly
// once per challenge with a rewritten request carrying a fresh branch,
// an incremented CSeq and the computed credentials; a repeated
// challenge with the same nonce fails with [sip.ErrAuthFailed].
func (ua *UserAgent) doOutbound(ctx context.Context, out *sip.OutboundRequest, onAttempt attemptHook) (*sip.InboundResponse, error) {
	var lastNonce string

	for {
		if onAttempt != nil {
			onAttempt(ctx, out)
		}

		res, err := ua.send(ctx, out)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}

		if res.Status != sip.ResponseStatusUnauthorized &&
			res.Status != sip.ResponseStatusProxyAuthenticationRequired {
			return res, nil
		}

		ch, err := sip.ChallengeFromResponse(res.Response)
		if err != nil {
			return res, errtrace.Wrap(err)
		}
		if ch.Nonce == lastNonce {
			return res, errtrace.Wrap(sip.ErrAuthFailed)
		}
		lastNonce = ch.Nonce

		// rewrite the original request: fresh branch, CSeq+1, computed
		// Authorization; Call-ID and From tag stay untouched
		retry := out.Request.Clone()
		if err := ua.az.AuthorizeRequest(retry, ch); err != nil {
			if errors.Is(err, sip.ErrNoCredential) {
				return res, errtrace.Wrap(errorutil.NewWrapperError(sip.ErrAuthRequired, err))
			}
			return res, errtrace.Wrap(err)
		}
		out = &sip.OutboundRequest{Request: retry, Peer: out.Peer}
	}
}

// send runs one client transaction to its final response.
func (ua *UserAgent) send(ctx context.Context, out *sip.OutboundRequest) (*sip.InboundResponse, error) {
	tx, err := ua.txm.NewClientTransaction(ctx, out, ua.tp, &sip.ClientTransactionOptions{Log: ua.log})
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	isInvite := out.Method.Equal(sip.RequestMethodInvite)
	finalCh := make(chan *sip.InboundResponse, 1)
	cancel := tx.OnResponse(func(ctx context.Context, _ sip.ClientTransaction, res *sip.InboundResponse) {
		if isInvite {
			ua.dm.HandleInviteResponse(ctx, res)
		}
		ua.publish(Event{Type: EventResponseReceived, Response: res})
		if res.Status.IsFinal() {
			select {
			case finalCh <- res:
			default:
			}
		}
	})
	defer cancel()

	select {
	case res := <-finalCh:
		return res, nil
	case <-tx.Done():
		// drain a final response that raced with termination
		select {
		case res := <-finalCh:
			return res, nil
		default:
		}
		err := tx.Err()
		if err == nil {
			err = sip.ErrTransactionNotMatched
		}
		if errors.Is(err, sip.ErrTransactionTimedOut) {
			ua.publish(Event{Type: EventTransactionTimeout, Err: err})
		}
		return nil, errtrace.Wrap(err)
	case <-ctx.Done():
		tx.Terminate(context.WithoutCancel(ctx)) //nolint:errcheck
		return nil, errtrace.Wrap(ctx.Err())
	}
}

// observedTransport feeds the flow recorder and the counters on every
// send, retransmissions included, before delegating to the real
// transport.
type observedTransport struct {
	sip.Transport
	ua *UserAgent
}

func (t *observedTransport) SendRequest(ctx context.Context, req *sip.OutboundRequest, opts *sip.SendRequestOptions) error {
	t.ua.flow.OnSend(req.Request, req.Peer)
	t.ua.stats.RecordRequestSent()
	return errtrace.Wrap(t.Transport.SendRequest(ctx, req, opts))
}

func (t *observedTransport) SendResponse(ctx context.Context, res *sip.OutboundResponse, opts *sip.SendResponseOptions) error {
	t.ua.flow.OnSend(res.Response, res.Peer)
	t.ua.stats.RecordResponseSent()
	return errtrace.Wrap(t.Transport.SendResponse(ctx, res, opts))
}
