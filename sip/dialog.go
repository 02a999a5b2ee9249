package sip

import (
	"context"
	"log/slog"
	"sync"

	"braces.dev/errtrace"
	"github.com/qmuntal/stateless"

	"github.com/ghettovoice/sipua/header"
	"github.com/ghettovoice/sipua/internal/timeutil"
	"github.com/ghettovoice/sipua/internal/types"
	"github.com/ghettovoice/sipua/uri"
)

// DialogState represents the state of a SIP dialog.
type DialogState string

// Dialog states per RFC 3261 Section 12.
const (
	DialogStateEarly      DialogState = "early"
	DialogStateConfirmed  DialogState = "confirmed"
	DialogStateTerminated DialogState = "terminated"
)

// DialogKey identifies a dialog by its Call-ID and the local and remote
// tags. A half dialog awaiting the first tagged response carries an
// empty remote tag.
type DialogKey struct {
	CallID    string `json:"call_id"`
	LocalTag  string `json:"local_tag"`
	RemoteTag string `json:"remote_tag,omitempty"`
}

// IsHalf reports whether the key misses the remote tag.
func (k DialogKey) IsHalf() bool { return k.RemoteTag == "" }

func (k DialogKey) String() string {
	return k.CallID + "|" + k.LocalTag + "|" + k.RemoteTag
}

// half returns the key without the remote tag.
func (k DialogKey) half() DialogKey {
	k.RemoteTag = ""
	return k
}

// LogValue implements [slog.LogValuer].
func (k DialogKey) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("call_id", k.CallID),
		slog.String("local_tag", k.LocalTag),
		slog.String("remote_tag", k.RemoteTag),
	)
}

// DialogStateHandler is called on every dialog state change.
type DialogStateHandler = func(ctx context.Context, dlg *Dialog, from, to DialogState)

// Dialog is a peer-to-peer SIP relationship established by a 2xx (or a
// tagged 1xx) response to INVITE. It owns the in-dialog sequencing:
// local CSeq assignment, the route set, the remote target and the ACK
// for the 2xx.
type Dialog struct {
	fsm *stateless.StateMachine
	log *slog.Logger

	mu           sync.Mutex
	key          DialogKey
	uac          bool
	secure       bool
	localURI     *uri.SIP
	remoteURI    *uri.SIP
	localSeq     uint32
	remoteSeq    uint32
	remoteTarget *uri.SIP
	routeSet     []header.NameAddr
	inviteSeq    uint32
	ack          *OutboundRequest
	err          error

	tp         Transport
	invitePeer Addr

	uasRes    *OutboundResponse
	uasTimer  *timeutil.Timer
	uasGiveUp *timeutil.Timer

	onState types.CallbackManager[DialogStateHandler]
}

// Dialog FSM triggers.
const (
	dlgEvtEarly     = "early"
	dlgEvtConfirm   = "confirm"
	dlgEvtTerminate = "terminate"
)

func newDialog(key DialogKey, uac bool, log *slog.Logger) *Dialog {
	dlg := &Dialog{
		key: key,
		uac: uac,
		log: log,
	}

	dlg.fsm = stateless.NewStateMachineWithMode(DialogStateEarly, stateless.FiringQueued)
	dlg.fsm.OnUnhandledTrigger(func(_ context.Context, _ stateless.State, _ stateless.Trigger, _ []string) error {
		return nil
	})
	dlg.fsm.Configure(DialogStateEarly).
		InternalTransition(dlgEvtEarly, func(context.Context, ...any) error { return nil }).
		Permit(dlgEvtConfirm, DialogStateConfirmed).
		Permit(dlgEvtTerminate, DialogStateTerminated)
	dlg.fsm.Configure(DialogStateConfirmed).
		Permit(dlgEvtTerminate, DialogStateTerminated)
	dlg.fsm.OnTransitioned(func(ctx context.Context, tr stateless.Transition) {
		from, _ := tr.Source.(DialogState)
		to, _ := tr.Destination.(DialogState)
		if from == to {
			return
		}
		for fn := range dlg.onState.All() {
			fn(ctx, dlg, from, to)
		}
	})
	return dlg
}

// Key returns the dialog key. The remote tag is filled once the first
// tagged response or request is seen.
func (dlg *Dialog) Key() DialogKey {
	dlg.mu.Lock()
	defer dlg.mu.Unlock()
	return dlg.key
}

// ID returns the dialog id string.
func (dlg *Dialog) ID() string { return dlg.Key().String() }

// State returns the current dialog state.
func (dlg *Dialog) State() DialogState {
	state, _ := dlg.fsm.MustState().(DialogState)
	return state
}

// IsUAC reports whether the local side initiated the dialog.
func (dlg *Dialog) IsUAC() bool { return dlg.uac }

// Err returns the error the dialog terminated with, if any.
func (dlg *Dialog) Err() error {
	dlg.mu.Lock()
	defer dlg.mu.Unlock()
	return dlg.err
}

// RemoteTarget returns the current remote target URI.
func (dlg *Dialog) RemoteTarget() *uri.SIP {
	dlg.mu.Lock()
	defer dlg.mu.Unlock()
	return dlg.remoteTarget.Clone()
}

// RouteSet returns the dialog route set.
func (dlg *Dialog) RouteSet() []header.NameAddr {
	dlg.mu.Lock()
	defer dlg.mu.Unlock()
	out := make([]header.NameAddr, len(dlg.routeSet))
	copy(out, dlg.routeSet)
	return out
}

// LocalSeq returns the last assigned local CSeq number.
func (dlg *Dialog) LocalSeq() uint32 {
	dlg.mu.Lock()
	defer dlg.mu.Unlock()
	return dlg.localSeq
}

// OnStateChanged registers a state change callback.
func (dlg *Dialog) OnStateChanged(fn DialogStateHandler) (cancel func()) {
	return dlg.onState.Add(fn)
}

// LogValue implements [slog.LogValuer].
func (dlg *Dialog) LogValue() slog.Value {
	if dlg == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Any("key", dlg.Key()),
		slog.Any("state", dlg.State()),
	)
}

func (dlg *Dialog) terminate(ctx context.Context, err error) {
	dlg.mu.Lock()
	if dlg.err == nil {
		dlg.err = err
	}
	dlg.mu.Unlock()
	dlg.fsm.FireCtx(ctx, dlgEvtTerminate) //nolint:errcheck
}

// NewRequest builds the next in-dialog request: the Request-URI is the
// remote target, the route set becomes Route headers and the local CSeq
// is incremented for every method except ACK and CANCEL.
func (dlg *Dialog) NewRequest(method RequestMethod) (*Request, error) {
	dlg.mu.Lock()
	defer dlg.mu.Unlock()

	if dlg.remoteTarget == nil {
		return nil, errtrace.Wrap(ErrDialogGone)
	}

	seq := dlg.localSeq
	if !method.Equal(RequestMethodAck) && !method.Equal(RequestMethodCancel) {
		dlg.localSeq++
		seq = dlg.localSeq
	}

	from := header.From{URI: dlg.localURI.Clone()}
	from.SetTag(dlg.key.LocalTag)
	to := header.To{URI: dlg.remoteURI.Clone()}
	if dlg.key.RemoteTag != "" {
		to.SetTag(dlg.key.RemoteTag)
	}

	req := NewRequest(method, dlg.remoteTarget.Clone(),
		&from,
		&to,
		header.CallID(dlg.key.CallID),
		header.CSeq{Seq: seq, Method: method.ToUpper()},
		header.MaxForwards(70),
	)
	if len(dlg.routeSet) > 0 {
		routes := make([]header.NameAddr, len(dlg.routeSet))
		copy(routes, dlg.routeSet)
		req.Headers.Append(header.Route(routes))
	}
	return req, nil
}

// NewOutboundRequest builds the next in-dialog request wrapped with its
// transport envelope: a fresh Via hop over the dialog transport and the
// resolved next-hop peer.
func (dlg *Dialog) NewOutboundRequest(method RequestMethod) (*OutboundRequest, error) {
	req, err := dlg.NewRequest(method)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	dlg.mu.Lock()
	tp := dlg.tp
	fallback := dlg.invitePeer
	dlg.mu.Unlock()
	if tp == nil {
		return nil, errtrace.Wrap(ErrTransportLost)
	}

	hop := header.ViaHop{
		Proto:     Proto20,
		Transport: tp.Proto(),
		SentBy:    tp.LocalAddr(),
	}
	hop.SetBranch(GenerateBranch())
	req.Headers.Prepend(header.Via{hop})
	req.Headers.Set(header.ContentLength(0))

	return &OutboundRequest{Request: req, Peer: dlg.requestPeer(fallback)}, nil
}
