// Package postgres implements the payroll stores on PostgreSQL via
// database/sql and lib/pq. The idempotency_key UNIQUE constraint and the
// status predicate on UPDATE are the mechanisms behind duplicate-safe
// creation and compare-and-set transitions.
package postgres

import (
	"context"
	"database/sql"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so every store works inside
// and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Schema is the DDL the stores expect. Production migrations are owned by
// the schema tooling outside this repo; tests apply this directly.
const Schema = `
CREATE TABLE IF NOT EXISTS workers (
	id            UUID PRIMARY KEY,
	name          TEXT NOT NULL,
	destination   TEXT NOT NULL,
	amount        BIGINT NOT NULL,
	frequency     TEXT NOT NULL,
	next_due_date TIMESTAMPTZ NOT NULL,
	active        BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS payment_requests (
	id              UUID PRIMARY KEY,
	worker_id       UUID NOT NULL REFERENCES workers (id),
	amount          BIGINT NOT NULL,
	idempotency_key TEXT NOT NULL UNIQUE,
	status          TEXT NOT NULL,
	approvals       TEXT[] NOT NULL DEFAULT '{}',
	failure_reason  TEXT NOT NULL DEFAULT '',
	gateway_ref     TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	decided_at      TIMESTAMPTZ,
	claimed_at      TIMESTAMPTZ,
	processed_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS payment_requests_status_idx ON payment_requests (status);

CREATE TABLE IF NOT EXISTS payment_audit (
	id        BIGSERIAL PRIMARY KEY,
	entity_id UUID NOT NULL,
	seq       BIGINT NOT NULL,
	actor     TEXT NOT NULL,
	action    TEXT NOT NULL,
	status    TEXT NOT NULL,
	detail    TEXT NOT NULL DEFAULT '',
	source_ip TEXT NOT NULL DEFAULT '',
	ts        TIMESTAMPTZ NOT NULL,
	UNIQUE (entity_id, seq)
);
`

// Stores bundles the three postgres stores over one handle.
type Stores struct {
	Ledger  *LedgerStore
	Audit   *AuditStore
	Workers *WorkerStore
}

// New builds stores backed by db.
func New(db *sql.DB) *Stores {
	return &Stores{
		Ledger:  &LedgerStore{db: db},
		Audit:   &AuditStore{db: db},
		Workers: &WorkerStore{db: db},
	}
}

// NewTx builds stores bound to an open transaction. Ledger reads inside a
// transaction lock their row, so the read-modify-write sequences the services
// run in RunInTx serialize against concurrent writers.
func NewTx(tx *sql.Tx) *Stores {
	return &Stores{
		Ledger:  &LedgerStore{db: tx, forUpdate: true},
		Audit:   &AuditStore{db: tx},
		Workers: &WorkerStore{db: tx},
	}
}
