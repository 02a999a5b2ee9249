package sip

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/errorutil"
	"github.com/ghettovoice/sipua/internal/types"
	"github.com/ghettovoice/sipua/log"
)

// ErrTransactionManagerClosed is returned by operations on a closed manager.
const ErrTransactionManagerClosed Error = "transaction manager closed"

// ClientTransactionHandler is called when a client transaction is created.
type ClientTransactionHandler = func(ctx context.Context, tx ClientTransaction)

// ServerTransactionHandler is called when a server transaction is created.
type ServerTransactionHandler = func(ctx context.Context, tx ServerTransaction)

// TransactionManagerOptions are the options for a [TransactionManager].
type TransactionManagerOptions struct {
	// Timings is the SIP timing config handed to created transactions.
	Timings TimingConfig
	// Log is the logger. If nil, the [log.Default] is used.
	Log *slog.Logger
}

func (o *TransactionManagerOptions) timings() TimingConfig {
	if o == nil {
		return defTimingCfg
	}
	return o.Timings
}

func (o *TransactionManagerOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// TransactionManager owns the client and server transaction tables:
// it creates transactions, matches inbound messages against them and
// drops transactions that reached the terminated state.
//
// A retransmitted request matches its open transaction and never spawns
// a second one. An ACK for a 2xx and a 2xx retransmission match no
// transaction at all; the caller routes them through the dialog layer.
type TransactionManager struct {
	timings TimingConfig
	log     *slog.Logger

	mu     sync.Mutex
	clnTxs map[string]ClientTransaction
	srvTxs map[string]ServerTransaction

	onNewClnTx types.CallbackManager[ClientTransactionHandler]
	onNewSrvTx types.CallbackManager[ServerTransactionHandler]

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewTransactionManager creates a new [TransactionManager].
// Options are optional, if nil, default values are used.
func NewTransactionManager(opts *TransactionManagerOptions) *TransactionManager {
	return &TransactionManager{
		timings: opts.timings(),
		log:     opts.log(),
		clnTxs:  make(map[string]ClientTransaction),
		srvTxs:  make(map[string]ServerTransaction),
	}
}

// NewClientTransaction opens a client transaction for the request and
// registers it in the table until termination.
func (txm *TransactionManager) NewClientTransaction(ctx context.Context, req *OutboundRequest, tp Transport, opts *ClientTransactionOptions) (ClientTransaction, error) {
	if txm.closing.Load() {
		return nil, errtrace.Wrap(ErrTransactionManagerClosed)
	}

	if opts == nil {
		opts = &ClientTransactionOptions{}
	}
	if opts.Timings.IsZero() {
		opts.Timings = txm.timings
	}

	tx, err := NewClientTransaction(req, tp, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	key := tx.Key().String()
	txm.mu.Lock()
	if _, ok := txm.clnTxs[key]; ok {
		txm.mu.Unlock()
		tx.Terminate(ctx) //nolint:errcheck
		return nil, errtrace.Wrap(ErrTransactionExists)
	}
	txm.clnTxs[key] = tx
	txm.mu.Unlock()

	tx.OnStateChanged(func(_ context.Context, _, to TransactionState) {
		if to == TransactionStateTerminated {
			txm.mu.Lock()
			delete(txm.clnTxs, key)
			txm.mu.Unlock()
		}
	})

	for fn := range txm.onNewClnTx.All() {
		fn(ctx, tx)
	}
	return tx, nil
}

// NewServerTransaction opens a server transaction for the inbound
// request and registers it in the table until termination.
func (txm *TransactionManager) NewServerTransaction(ctx context.Context, req *InboundRequest, tp Transport, opts *ServerTransactionOptions) (ServerTransaction, error) {
	if txm.closing.Load() {
		return nil, errtrace.Wrap(ErrTransactionManagerClosed)
	}

	if opts == nil {
		opts = &ServerTransactionOptions{}
	}
	if opts.Timings.IsZero() {
		opts.Timings = txm.timings
	}

	tx, err := NewServerTransaction(req, tp, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	key := tx.Key().String()
	txm.mu.Lock()
	if _, ok := txm.srvTxs[key]; ok {
		txm.mu.Unlock()
		tx.Terminate(ctx) //nolint:errcheck
		return nil, errtrace.Wrap(ErrTransactionExists)
	}
	txm.srvTxs[key] = tx
	txm.mu.Unlock()

	tx.OnStateChanged(func(_ context.Context, _, to TransactionState) {
		if to == TransactionStateTerminated {
			txm.mu.Lock()
			delete(txm.srvTxs, key)
			txm.mu.Unlock()
		}
	})

	for fn := range txm.onNewSrvTx.All() {
		fn(ctx, tx)
	}
	return tx, nil
}

// MatchServerTransaction looks up the server transaction an inbound
// request belongs to. A CANCEL matches the transaction it cancels
// regardless of that transaction's method.
func (txm *TransactionManager) MatchServerTransaction(req *InboundRequest) (ServerTransaction, error) {
	var key ServerTransactionKey
	if err := key.FillFromRequest(req.Request); err != nil {
		return nil, errtrace.Wrap(err)
	}

	txm.mu.Lock()
	defer txm.mu.Unlock()

	if req.Method.Equal(RequestMethodCancel) {
		// a retransmitted CANCEL matches its own transaction; a first
		// CANCEL matches the transaction it cancels regardless of that
		// transaction's method
		if tx, ok := txm.srvTxs[key.String()]; ok {
			return tx, nil
		}
		for _, tx := range txm.srvTxs {
			txKey := tx.Key()
			if txKey.Branch != "" && txKey.Branch == key.Branch && txKey.SentBy == key.SentBy &&
				txKey.Method != string(RequestMethodCancel) {
				return tx, nil
			}
		}
		return nil, errtrace.Wrap(ErrTransactionNotFound)
	}

	if tx, ok := txm.srvTxs[key.String()]; ok {
		return tx, nil
	}
	return nil, errtrace.Wrap(ErrTransactionNotFound)
}

// MatchClientTransaction looks up the client transaction an inbound
// response belongs to.
func (txm *TransactionManager) MatchClientTransaction(res *InboundResponse) (ClientTransaction, error) {
	var key ClientTransactionKey
	if err := key.FillFromMessage(res.Response.GetHeaders()); err != nil {
		return nil, errtrace.Wrap(err)
	}

	txm.mu.Lock()
	defer txm.mu.Unlock()
	if tx, ok := txm.clnTxs[key.String()]; ok {
		return tx, nil
	}
	return nil, errtrace.Wrap(ErrTransactionNotFound)
}

// ClientTransactionFor returns the open client transaction created by
// the given request.
func (txm *TransactionManager) ClientTransactionFor(req *OutboundRequest) (ClientTransaction, error) {
	var key ClientTransactionKey
	if err := key.FillFromMessage(req.Request.GetHeaders()); err != nil {
		return nil, errtrace.Wrap(err)
	}

	txm.mu.Lock()
	defer txm.mu.Unlock()
	if tx, ok := txm.clnTxs[key.String()]; ok {
		return tx, nil
	}
	return nil, errtrace.Wrap(ErrTransactionNotFound)
}

// OnNewClientTransaction binds a callback invoked on client transaction
// creation.
func (txm *TransactionManager) OnNewClientTransaction(fn ClientTransactionHandler) (unbind func()) {
	return txm.onNewClnTx.Add(fn)
}

// OnNewServerTransaction binds a callback invoked on server transaction
// creation.
func (txm *TransactionManager) OnNewServerTransaction(fn ServerTransactionHandler) (unbind func()) {
	return txm.onNewSrvTx.Add(fn)
}

// Len returns the numbers of open client and server transactions.
func (txm *TransactionManager) Len() (clients, servers int) {
	txm.mu.Lock()
	defer txm.mu.Unlock()
	return len(txm.clnTxs), len(txm.srvTxs)
}

// Close terminates all open transactions.
func (txm *TransactionManager) Close(ctx context.Context) error {
	txm.closeOnce.Do(func() {
		txm.closing.Store(true)
		txm.closeErr = txm.close(ctx)
	})
	return errtrace.Wrap(txm.closeErr)
}

func (txm *TransactionManager) close(ctx context.Context) error {
	txm.mu.Lock()
	clnTxs := make([]ClientTransaction, 0, len(txm.clnTxs))
	for _, tx := range txm.clnTxs {
		clnTxs = append(clnTxs, tx)
	}
	srvTxs := make([]ServerTransaction, 0, len(txm.srvTxs))
	for _, tx := range txm.srvTxs {
		srvTxs = append(srvTxs, tx)
	}
	txm.mu.Unlock()

	var errs []error
	for _, tx := range clnTxs {
		if err := tx.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("terminate client transaction %s: %w", tx.Key(), err))
		}
	}
	for _, tx := range srvTxs {
		if err := tx.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("terminate server transaction %s: %w", tx.Key(), err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errtrace.Wrap(errorutil.JoinPrefix("failed to close transaction manager:", errs...))
}
