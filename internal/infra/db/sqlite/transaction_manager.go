package sqlite

import (
	"context"
	"errors"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"license-activation-server/internal/domain"
	"license-activation-server/internal/domain/ports/repository"
	"license-activation-server/internal/infra/metrics"
)

// Ensure compile-time conformance
var _ repository.TransactionManager = (*TxManager)(nil)

// TxManager implements repository.TransactionManager for the embedded store.
// It takes a connection, opens an IMMEDIATE transaction (claiming the single
// writer slot up front so the transaction can never fail-upgrade mid-way),
// invokes the callback, and commits/rolls back. The connection is passed to
// the callback via the opaque `tx` handle (as *sqlite.Conn).
//
// A transaction that cannot claim the writer slot within the connection's
// busy timeout fails with domain.ErrBusy; nothing the callback did is visible
// to readers in that case or on any other error.
type TxManager struct {
	store *Store
}

func NewTxManager(store *Store) *TxManager {
	return &TxManager{store: store}
}

// WithTx runs fn inside a write transaction and passes the conn via tx.
// If fn returns an error, the transaction is rolled back; otherwise committed.
func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	conn, err := m.store.Take(ctx)
	if err != nil {
		return err
	}
	defer m.store.Put(conn)

	start := time.Now()
	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		if isBusy(err) {
			metrics.IncStoreBusy("tx")
			return domain.ErrBusy
		}
		return err
	}
	defer func() {
		endFn(&err)
		if err == nil {
			metrics.ObserveTxLatency(float64(time.Since(start).Milliseconds()))
		} else if isBusy(err) && !errors.Is(err, domain.ErrBusy) {
			metrics.IncStoreBusy("tx")
			err = domain.ErrBusy
		}
	}()

	err = fn(ctx, conn)
	return err
}

// getConn resolves the executor for a repository call: the write-transaction
// connection when one is threaded through, or a borrowed snapshot-read
// connection when tx is nil. The returned release func must always be called.
func getConn(ctx context.Context, store *Store, tx repository.Tx) (*sqlite.Conn, func(), error) {
	switch v := tx.(type) {
	case *sqlite.Conn:
		return v, func() {}, nil
	case nil:
		conn, err := store.Take(ctx)
		if err != nil {
			return nil, nil, err
		}
		return conn, func() { store.Put(conn) }, nil
	default:
		return nil, nil, domain.ErrInvalidExecContext
	}
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	code := sqlite.ErrCode(err).ToPrimary()
	return code == sqlite.ResultBusy || code == sqlite.ResultLocked
}
