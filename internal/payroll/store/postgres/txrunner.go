package postgres

import (
	"context"
	"database/sql"
	"time"

	"payguard/internal/payroll/ports"
	derrors "payguard/pkg/domain-errors"
)

const defaultTxTimeout = 5 * time.Second

// TxRunner implements ports.TxRunner over database/sql transactions.
type TxRunner struct {
	db      *sql.DB
	timeout time.Duration
}

func NewTxRunner(db *sql.DB) *TxRunner {
	return &TxRunner{db: db}
}

func (t *TxRunner) RunInTx(ctx context.Context, fn func(tx ports.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return derrors.Wrap(err, derrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txStores{NewTx(tx)}); err != nil {
		return err
	}

	return tx.Commit()
}

// txStores adapts transaction-bound stores to ports.Tx.
type txStores struct {
	stores *Stores
}

func (b txStores) Ledger() ports.Ledger           { return b.stores.Ledger }
func (b txStores) Audit() ports.AuditLog          { return b.stores.Audit }
func (b txStores) Workers() ports.WorkerDirectory { return b.stores.Workers }
