package sip

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/header"
	"github.com/ghettovoice/sipua/internal/timeutil"
	"github.com/ghettovoice/sipua/internal/types"
	"github.com/ghettovoice/sipua/log"
)

// DialogHandler is called when a dialog is created.
type DialogHandler = func(ctx context.Context, dlg *Dialog)

// DialogManagerOptions are the options for a [DialogManager].
type DialogManagerOptions struct {
	// Timings is the SIP timing config driving the UAS 2xx
	// retransmission schedule.
	Timings TimingConfig
	// Log is the logger. If nil, the [log.Default] is used.
	Log *slog.Logger
}

func (o *DialogManagerOptions) timings() TimingConfig {
	if o == nil {
		return defTimingCfg
	}
	return o.Timings
}

func (o *DialogManagerOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// DialogManager owns the dialog table. Dialogs are created from an
// outbound INVITE (UAC) or from answering an inbound INVITE with 2xx
// (UAS), promoted by tagged responses and torn down by BYE, 481 or a
// missing ACK.
type DialogManager struct {
	timings TimingConfig
	log     *slog.Logger

	mu   sync.Mutex
	dlgs map[DialogKey]*Dialog

	onNew types.CallbackManager[DialogHandler]
}

// NewDialogManager creates a new [DialogManager].
// Options are optional, if nil, default values are used.
func NewDialogManager(opts *DialogManagerOptions) *DialogManager {
	return &DialogManager{
		timings: opts.timings(),
		log:     opts.log(),
		dlgs:    make(map[DialogKey]*Dialog),
	}
}

// OnNewDialog binds a callback invoked on dialog creation.
func (dm *DialogManager) OnNewDialog(fn DialogHandler) (unbind func()) {
	return dm.onNew.Add(fn)
}

// Find returns the dialog with the given key, trying the full key first
// and the half key (no remote tag) second.
func (dm *DialogManager) Find(key DialogKey) (*Dialog, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dlg, ok := dm.dlgs[key]; ok {
		return dlg, true
	}
	dlg, ok := dm.dlgs[key.half()]
	return dlg, ok
}

// FindByID returns the dialog with the given id string.
func (dm *DialogManager) FindByID(id string) (*Dialog, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for key, dlg := range dm.dlgs {
		if key.String() == id {
			return dlg, true
		}
	}
	return nil, false
}

// Len returns the number of tracked dialogs.
func (dm *DialogManager) Len() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.dlgs)
}

func (dm *DialogManager) track(ctx context.Context, dlg *Dialog) {
	dm.mu.Lock()
	dm.dlgs[dlg.Key()] = dlg
	dm.mu.Unlock()

	dlg.OnStateChanged(func(_ context.Context, dlg *Dialog, _, to DialogState) {
		if to == DialogStateTerminated {
			dlg.stopRetransmit2xx()
			dm.mu.Lock()
			delete(dm.dlgs, dlg.Key())
			delete(dm.dlgs, dlg.Key().half())
			dm.mu.Unlock()
		}
	})

	for fn := range dm.onNew.All() {
		fn(ctx, dlg)
	}
}

// rekey moves a dialog to its promoted key once the remote tag is known.
func (dm *DialogManager) rekey(dlg *Dialog, remoteTag string) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	delete(dm.dlgs, dlg.Key())
	dlg.mu.Lock()
	dlg.key.RemoteTag = remoteTag
	key := dlg.key
	dlg.mu.Unlock()
	dm.dlgs[key] = dlg
}

// UACDialog creates a half dialog from an outbound INVITE.
func (dm *DialogManager) UACDialog(ctx context.Context, invite *OutboundRequest, tp Transport) (*Dialog, error) {
	from, _ := invite.Headers.From()
	to, _ := invite.Headers.To()
	callID, _ := invite.Headers.CallID()
	cseq, _ := invite.Headers.CSeq()
	if from == nil || to == nil || callID == "" {
		return nil, errtrace.Wrap(NewInvalidArgumentError(ErrInvalidMessage))
	}
	localTag, ok := from.Tag()
	if !ok {
		return nil, errtrace.Wrap(errorWrap(ErrProtocolViolation, "INVITE without From tag"))
	}

	key := DialogKey{CallID: string(callID), LocalTag: localTag}
	dlg := newDialog(key, true, dm.log)
	dlg.tp = tp
	dlg.localURI = from.URI.Clone()
	dlg.remoteURI = to.URI.Clone()
	dlg.localSeq = cseq.Seq
	dlg.inviteSeq = cseq.Seq
	dlg.secure = invite.URI.Secured
	dlg.invitePeer = invite.Peer

	dm.track(ctx, dlg)

	dm.log.LogAttrs(ctx, slog.LevelDebug, "half dialog created", slog.Any("dialog", dlg))
	return dlg, nil
}

// HandleInviteResponse feeds a response to INVITE into the dialog table:
// a tagged 1xx keeps the dialog early, a 2xx confirms it and emits the
// ACK, a 2xx retransmission re-emits the same ACK, a final failure
// removes the half dialog. It reports whether a dialog consumed the
// response.
func (dm *DialogManager) HandleInviteResponse(ctx context.Context, res *InboundResponse) (*Dialog, bool) {
	if cseq, ok := res.Headers.CSeq(); !ok || !cseq.Method.Equal(RequestMethodInvite) {
		return nil, false
	}

	from, _ := res.Headers.From()
	to, _ := res.Headers.To()
	callID, _ := res.Headers.CallID()
	if from == nil || to == nil || callID == "" {
		return nil, false
	}
	localTag, _ := from.Tag()
	remoteTag, _ := to.Tag()

	dlg, ok := dm.Find(DialogKey{CallID: string(callID), LocalTag: localTag, RemoteTag: remoteTag})
	if !ok {
		return nil, false
	}

	switch {
	case res.Status.IsProvisional():
		// a 1xx without a To tag leaves the dialog half
		if remoteTag != "" && dlg.Key().IsHalf() {
			dm.rekey(dlg, remoteTag)
			dm.log.LogAttrs(ctx, slog.LevelDebug, "dialog early", slog.Any("dialog", dlg))
		}
		return dlg, true

	case res.Status.IsSuccessful():
		if remoteTag != "" && dlg.Key().IsHalf() {
			dm.rekey(dlg, remoteTag)
		}
		dlg.confirmUAC(ctx, res)
		return dlg, true

	default:
		dm.log.LogAttrs(ctx, slog.LevelDebug,
			"dialog removed on INVITE failure",
			slog.Any("dialog", dlg),
			slog.Any("status", res.Status),
		)
		dlg.terminate(ctx, nil)
		return dlg, true
	}
}

// UASDialog creates a dialog on answering an inbound INVITE with a 2xx.
// The dialog owns the 2xx retransmission until the ACK arrives.
func (dm *DialogManager) UASDialog(ctx context.Context, invite *InboundRequest, res *Response, tp Transport) (*Dialog, error) {
	from, _ := invite.Headers.From()
	callID, _ := invite.Headers.CallID()
	cseq, _ := invite.Headers.CSeq()
	to, _ := res.Headers.To()
	if from == nil || to == nil || callID == "" {
		return nil, errtrace.Wrap(NewInvalidArgumentError(ErrInvalidMessage))
	}
	localTag, ok := to.Tag()
	if !ok {
		return nil, errtrace.Wrap(errorWrap(ErrProtocolViolation, "2xx without To tag"))
	}
	remoteTag, _ := from.Tag()

	key := DialogKey{CallID: string(callID), LocalTag: localTag, RemoteTag: remoteTag}
	dlg := newDialog(key, false, dm.log)
	dlg.tp = tp
	dlg.localURI = to.URI.Clone()
	dlg.remoteURI = from.URI.Clone()
	dlg.remoteSeq = cseq.Seq
	dlg.inviteSeq = cseq.Seq
	dlg.secure = invite.URI.Secured

	// remote target from the Contact of the request, route set from its
	// Record-Route in order
	if contact, ok := invite.Headers.Contact(); ok {
		if first, ok := contact.First(); ok {
			dlg.remoteTarget = first.URI.Clone()
		}
	}
	dlg.routeSet = invite.Headers.RecordRoutes()

	dlg.fsm.FireCtx(ctx, dlgEvtConfirm) //nolint:errcheck
	dm.track(ctx, dlg)

	dlg.startRetransmit2xx(ctx, &OutboundResponse{Response: res, Peer: ResponsePeer(invite)}, dm.timings)

	dm.log.LogAttrs(ctx, slog.LevelDebug, "UAS dialog created", slog.Any("dialog", dlg))
	return dlg, nil
}

// HandleAck routes an inbound ACK to its dialog, stopping the UAS 2xx
// retransmission. It reports whether a dialog consumed the request.
func (dm *DialogManager) HandleAck(ctx context.Context, req *InboundRequest) (*Dialog, bool) {
	dlg, ok := dm.findByRequest(req)
	if !ok {
		return nil, false
	}
	dlg.stopRetransmit2xx()
	dm.log.LogAttrs(ctx, slog.LevelDebug, "ACK received", slog.Any("dialog", dlg))
	return dlg, true
}

// HandleBye terminates the dialog an inbound BYE belongs to.
// It reports whether a dialog consumed the request.
func (dm *DialogManager) HandleBye(ctx context.Context, req *InboundRequest) (*Dialog, bool) {
	dlg, ok := dm.findByRequest(req)
	if !ok {
		return nil, false
	}
	dm.log.LogAttrs(ctx, slog.LevelDebug, "BYE received", slog.Any("dialog", dlg))
	dlg.terminate(ctx, nil)
	return dlg, true
}

// findByRequest locates the dialog of an in-dialog request: the From tag
// of the peer is the remote tag, the To tag is the local tag.
func (dm *DialogManager) findByRequest(req *InboundRequest) (*Dialog, bool) {
	from, _ := req.Headers.From()
	to, _ := req.Headers.To()
	callID, _ := req.Headers.CallID()
	if from == nil || to == nil || callID == "" {
		return nil, false
	}
	remoteTag, _ := from.Tag()
	localTag, _ := to.Tag()
	return dm.Find(DialogKey{CallID: string(callID), LocalTag: localTag, RemoteTag: remoteTag})
}

// Terminate terminates the dialog with the given id.
func (dm *DialogManager) Terminate(ctx context.Context, id string, err error) error {
	dlg, ok := dm.FindByID(id)
	if !ok {
		return errtrace.Wrap(ErrDialogNotFound)
	}
	dlg.terminate(ctx, err)
	return nil
}

// Close terminates all tracked dialogs.
func (dm *DialogManager) Close(ctx context.Context) error {
	dm.mu.Lock()
	dlgs := make([]*Dialog, 0, len(dm.dlgs))
	for _, dlg := range dm.dlgs {
		dlgs = append(dlgs, dlg)
	}
	dm.mu.Unlock()

	for _, dlg := range dlgs {
		dlg.terminate(ctx, nil)
	}
	return nil
}

/* UAC side confirmation and ACK handling. */

// confirmUAC promotes the dialog on a 2xx: the remote target is the
// Contact of the response, the route set is its Record-Route reversed,
// and the ACK is emitted with the INVITE's CSeq number and a fresh
// branch. A retransmitted 2xx re-emits the same ACK.
func (dlg *Dialog) confirmUAC(ctx context.Context, res *InboundResponse) {
	dlg.mu.Lock()
	if dlg.ack != nil {
		ack := dlg.ack
		tp := dlg.tp
		dlg.mu.Unlock()

		dlg.log.LogAttrs(ctx, slog.LevelDebug, "re-emit ACK on 2xx retransmission", slog.Any("dialog", dlg))
		if tp != nil {
			tp.SendRequest(ctx, ack, nil) //nolint:errcheck
		}
		return
	}

	if contact, ok := res.Headers.Contact(); ok {
		if first, ok := contact.First(); ok {
			dlg.remoteTarget = first.URI.Clone()
		}
	}
	if rrs := res.Headers.RecordRoutes(); len(rrs) > 0 {
		slices.Reverse(rrs)
		dlg.routeSet = rrs
	}
	dlg.invitePeer = res.Peer
	dlg.mu.Unlock()

	dlg.fsm.FireCtx(ctx, dlgEvtConfirm) //nolint:errcheck
	dlg.log.LogAttrs(ctx, slog.LevelDebug, "dialog confirmed", slog.Any("dialog", dlg))

	dlg.sendAck(ctx, res)
}

// sendAck builds and sends the ACK for a 2xx: it is a new transaction
// with its own branch, addressed to the remote target through the route
// set, carrying the INVITE's CSeq number.
func (dlg *Dialog) sendAck(ctx context.Context, res *InboundResponse) {
	req, err := dlg.NewRequest(RequestMethodAck)
	if err != nil {
		dlg.log.LogAttrs(ctx, slog.LevelWarn, "failed to build ACK", slog.Any("dialog", dlg), slog.Any("error", err))
		return
	}

	dlg.mu.Lock()
	req.Headers.Set(header.CSeq{Seq: dlg.inviteSeq, Method: RequestMethodAck})
	tp := dlg.tp
	dlg.mu.Unlock()
	if tp == nil {
		return
	}

	hop := header.ViaHop{
		Proto:     Proto20,
		Transport: tp.Proto(),
		SentBy:    tp.LocalAddr(),
	}
	hop.SetBranch(GenerateBranch())
	req.Headers.Prepend(header.Via{hop})
	req.Headers.Set(header.ContentLength(0))

	ack := &OutboundRequest{Request: req, Peer: dlg.requestPeer(res.Peer)}

	dlg.mu.Lock()
	dlg.ack = ack
	dlg.mu.Unlock()

	dlg.log.LogAttrs(ctx, slog.LevelDebug, "send ACK", slog.Any("dialog", dlg), slog.Any("request", req))
	tp.SendRequest(ctx, ack, nil) //nolint:errcheck
}

// requestPeer resolves the next hop of an in-dialog request: the first
// route of the route set when present, the remote target otherwise.
// A hop without a host falls back to the peer the establishing response
// arrived from; a hop without a port takes that peer's port when the
// hosts match and 5060 otherwise.
func (dlg *Dialog) requestPeer(fallback Addr) Addr {
	dlg.mu.Lock()
	defer dlg.mu.Unlock()

	var target Addr
	if len(dlg.routeSet) > 0 {
		target = dlg.routeSet[0].URI.Addr
	} else if dlg.remoteTarget != nil {
		target = dlg.remoteTarget.Addr
	}
	if target.Host == "" {
		return fallback
	}
	if target.Port == 0 {
		if !fallback.IsZero() && fallback.Host == target.Host {
			target.Port = fallback.Port
		} else {
			target.Port = 5060
		}
	}
	return target
}

/* UAS side 2xx retransmission. */

// startRetransmit2xx retransmits the 2xx with the timer G cadence until
// the ACK arrives; after 64*T1 without an ACK the dialog is torn down.
func (dlg *Dialog) startRetransmit2xx(ctx context.Context, res *OutboundResponse, timings TimingConfig) {
	dlg.mu.Lock()
	dlg.uasRes = res
	dlg.mu.Unlock()

	if dlg.tp == nil || IsReliableTransport(dlg.tp) {
		return
	}

	var retrans func()
	interval := timings.T1()
	retrans = func() {
		dlg.mu.Lock()
		res := dlg.uasRes
		tmr := dlg.uasTimer
		tp := dlg.tp
		dlg.mu.Unlock()
		if res == nil || tmr == nil {
			return
		}

		dlg.log.LogAttrs(ctx, slog.LevelDebug, "retransmit 2xx", slog.Any("dialog", dlg))
		tp.SendResponse(ctx, res, nil) //nolint:errcheck

		interval = min(2*interval, timings.T2())
		tmr.Reset(interval)
	}
	dlg.mu.Lock()
	dlg.uasTimer = timeutil.AfterFunc(interval, retrans)
	dlg.uasGiveUp = timeutil.AfterFunc(timings.TimeH(), func() {
		dlg.log.LogAttrs(ctx, slog.LevelDebug, "no ACK for 2xx, tearing down dialog", slog.Any("dialog", dlg))
		dlg.terminate(ctx, ErrNoAck)
	})
	dlg.mu.Unlock()
}

// stopRetransmit2xx stops the UAS 2xx retransmission schedule.
func (dlg *Dialog) stopRetransmit2xx() {
	dlg.mu.Lock()
	tmr := dlg.uasTimer
	giveUp := dlg.uasGiveUp
	dlg.uasTimer = nil
	dlg.uasGiveUp = nil
	dlg.uasRes = nil
	dlg.mu.Unlock()

	if tmr != nil {
		tmr.Stop()
	}
	if giveUp != nil {
		giveUp.Stop()
	}
}
