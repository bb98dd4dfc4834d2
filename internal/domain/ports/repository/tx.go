package repository

import (
	"context"
)

type Tx interface{}

// TransactionManager provides a thin abstraction to execute a function within
// a store write transaction, passing the underlying handle via `tx`.
//
// RATIONALE
// - Keeps use-case interfaces clean (no storage types leaking out).
// - Repository methods accept a `tx` handle and detect it implementation-side;
//   they MUST gracefully accept nil (non-transactional snapshot read path).
// - The concrete type of `tx` is infra-defined (a *sqlite.Conn for the
//   embedded store).
//
// The write transaction is exclusive (single logical writer): WithTx may block
// briefly waiting for the writer slot and returns domain.ErrBusy when the slot
// cannot be acquired within the configured bound. On error nothing fn did is
// visible to readers.
type TransactionManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
