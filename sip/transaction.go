package sip

import (
	"context"
	"log/slog"
	"sync/atomic"

	"braces.dev/errtrace"
	"github.com/qmuntal/stateless"

	"github.com/ghettovoice/sipua/internal/types"
)

// TransactionState represents the state of a SIP transaction FSM.
type TransactionState string

// Transaction states per RFC 3261 Section 17.
const (
	TransactionStateCalling    TransactionState = "calling"
	TransactionStateTrying     TransactionState = "trying"
	TransactionStateProceeding TransactionState = "proceeding"
	TransactionStateCompleted  TransactionState = "completed"
	TransactionStateConfirmed  TransactionState = "confirmed"
	TransactionStateTerminated TransactionState = "terminated"
)

// TransactionType represents the kind of a SIP transaction.
type TransactionType string

// Transaction types.
const (
	TransactionTypeClientInvite    TransactionType = "client_invite"
	TransactionTypeClientNonInvite TransactionType = "client_non_invite"
	TransactionTypeServerInvite    TransactionType = "server_invite"
	TransactionTypeServerNonInvite TransactionType = "server_non_invite"
)

// TransactionStateHandler is called on every transaction state change.
type TransactionStateHandler = func(ctx context.Context, from, to TransactionState)

// Transaction represents a SIP client or server transaction.
type Transaction interface {
	// Type returns the transaction type.
	Type() TransactionType
	// State returns the current transaction state.
	State() TransactionState
	// Context returns the transaction context. It is cancelled when the
	// transaction terminates.
	Context() context.Context
	// Done returns a channel closed on transaction termination.
	Done() <-chan struct{}
	// Err returns the error the transaction terminated with, if any.
	Err() error
	// Terminate forces the transaction into the terminated state.
	Terminate(ctx context.Context) error
	// OnStateChanged registers a state change callback.
	OnStateChanged(fn TransactionStateHandler) (cancel func())
}

// FSM triggers common to all transactions.
const (
	txEvtTerminate = "terminate"
	txEvtTranspErr = "transport_error"
)

type baseTransact struct {
	typ  TransactionType
	impl Transaction
	fsm  *stateless.StateMachine
	ctx  context.Context
	canc context.CancelFunc
	log  *slog.Logger

	onState types.CallbackManager[TransactionStateHandler]
	lastErr  atomic.Pointer[error]
	done     chan struct{}
	doneOnce atomic.Bool
}

func newBaseTransact(ctx context.Context, typ TransactionType, impl Transaction, log *slog.Logger) *baseTransact {
	ctx, canc := context.WithCancel(ctx)
	return &baseTransact{
		typ:  typ,
		impl: impl,
		ctx:  ctx,
		canc: canc,
		log:  log,
		done: make(chan struct{}),
	}
}

func (tx *baseTransact) initFSM(start TransactionState) error {
	tx.fsm = stateless.NewStateMachineWithMode(start, stateless.FiringQueued)
	tx.fsm.OnUnhandledTrigger(func(_ context.Context, _ stateless.State, _ stateless.Trigger, _ []string) error {
		// duplicate timer fires and message retransmits landing in a
		// state that no longer cares are absorbed
		return nil
	})
	tx.fsm.OnTransitioned(func(ctx context.Context, tr stateless.Transition) {
		from, _ := tr.Source.(TransactionState)
		to, _ := tr.Destination.(TransactionState)
		if from == to {
			return
		}
		for fn := range tx.onState.All() {
			fn(ctx, from, to)
		}
		if to == TransactionStateTerminated && tx.doneOnce.CompareAndSwap(false, true) {
			close(tx.done)
			tx.canc()
		}
	})
	return nil
}

// Type returns the transaction type.
func (tx *baseTransact) Type() TransactionType {
	if tx == nil {
		return ""
	}
	return tx.typ
}

// State returns the current transaction state.
func (tx *baseTransact) State() TransactionState {
	if tx == nil {
		return ""
	}
	state, _ := tx.fsm.MustState().(TransactionState)
	return state
}

// Context returns the transaction context.
func (tx *baseTransact) Context() context.Context {
	if tx == nil {
		return context.Background()
	}
	return tx.ctx
}

// Done returns a channel closed on transaction termination.
func (tx *baseTransact) Done() <-chan struct{} { return tx.done }

// Err returns the error the transaction terminated with, if any.
func (tx *baseTransact) Err() error {
	if tx == nil {
		return nil
	}
	if errp := tx.lastErr.Load(); errp != nil {
		return *errp
	}
	return nil
}

func (tx *baseTransact) setErr(err error) {
	if err != nil {
		tx.lastErr.Store(&err)
	}
}

// Terminate forces the transaction into the terminated state.
func (tx *baseTransact) Terminate(ctx context.Context) error {
	return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtTerminate))
}

// OnStateChanged registers a state change callback.
func (tx *baseTransact) OnStateChanged(fn TransactionStateHandler) (cancel func()) {
	return tx.onState.Add(fn)
}

// actTerminated is the common terminal entry action.
func (tx *baseTransact) actTerminated(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction terminated", slog.Any("transaction", tx.impl))
	return nil
}

// actTranspErr records a transport failure before termination.
func (tx *baseTransact) actTranspErr(ctx context.Context, args ...any) error {
	var err error = ErrTransportLost
	if len(args) > 0 {
		if e, ok := args[0].(error); ok && e != nil {
			err = e
		}
	}
	tx.setErr(err)

	tx.log.LogAttrs(ctx, slog.LevelWarn,
		"transaction transport error",
		slog.Any("transaction", tx.impl),
		slog.Any("error", err),
	)
	return nil
}
