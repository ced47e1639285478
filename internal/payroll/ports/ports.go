// Package ports defines shared interfaces for the payroll module.
// Interfaces live here when consumed by multiple services to avoid
// duplication; implementations live under store/ and gateway/.
package ports

import (
	"context"
	"time"

	"payguard/internal/payroll/models"
	id "payguard/pkg/domain"
)

// Ledger is durable storage for payment requests. Status updates are
// compare-and-set: Update fails with a conflict error when the stored status
// no longer matches expected, which is how concurrent actors lose races.
type Ledger interface {
	// CreateIfAbsent inserts the request unless one with the same
	// idempotency key already exists. It reports whether a row was created;
	// an existing key is a no-op, not an error.
	CreateIfAbsent(ctx context.Context, req *models.PaymentRequest) (created bool, err error)

	// Get returns the request or a not-found error.
	Get(ctx context.Context, paymentID id.PaymentID) (*models.PaymentRequest, error)

	// Update persists req if the stored status still equals expected,
	// otherwise it fails with CodeConflict.
	Update(ctx context.Context, req *models.PaymentRequest, expected models.Status) error

	// ListByStatus returns all requests currently in the given status.
	ListByStatus(ctx context.Context, status models.Status) ([]*models.PaymentRequest, error)

	// ListProcessingOlderThan returns Processing requests claimed before
	// cutoff, for the stuck-claim reconciliation sweep.
	ListProcessingOlderThan(ctx context.Context, cutoff time.Time) ([]*models.PaymentRequest, error)

	// List returns requests matching the filter, newest first.
	List(ctx context.Context, filter HistoryFilter) ([]*models.PaymentRequest, error)
}

// HistoryFilter narrows ledger listings for the history endpoint.
type HistoryFilter struct {
	Status   models.Status // zero value matches all statuses
	WorkerID id.WorkerID   // nil value matches all workers
	Limit    int           // 0 means no limit
}

// WorkerDirectory is the read-only view of the worker collaborator, plus the
// single write it exposes back to the engine.
type WorkerDirectory interface {
	// ListActiveDue returns active workers whose next due date is on or
	// before asOf.
	ListActiveDue(ctx context.Context, asOf time.Time) ([]*models.Worker, error)

	// Get returns the worker or a not-found error.
	Get(ctx context.Context, workerID id.WorkerID) (*models.Worker, error)

	// AdvanceNextDueDate moves the worker's next due date forward. Called
	// only inside the Processing -> Succeeded transaction.
	AdvanceNextDueDate(ctx context.Context, workerID id.WorkerID, next time.Time) error
}

// AuditLog is append-only storage for transition records. Append assigns the
// per-entity sequence number and must share the transaction of the
// transition it records: if the append fails, the transition rolls back.
type AuditLog interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	ListByEntity(ctx context.Context, entityID id.PaymentID) ([]*models.AuditEntry, error)

	// ListAfter returns up to limit entries with ID greater than cursor, in
	// append order. Consumed by the Kafka relay.
	ListAfter(ctx context.Context, cursor int64, limit int) ([]*models.AuditEntry, error)
}

// TransferStatus is the gateway's view of a transfer.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferSucceeded TransferStatus = "succeeded"
	TransferFailed    TransferStatus = "failed"
)

// Transfer is the gateway's record of a money movement.
type Transfer struct {
	Reference string
	Status    TransferStatus
}

// Gateway is the abstract boundary to the external payment provider.
// CreateTransfer must treat idempotencyKey as a dedupe token: resubmitting
// the same key returns the original transfer instead of moving money twice.
type Gateway interface {
	VerifyDestination(ctx context.Context, destination string) error
	CreateTransfer(ctx context.Context, destination string, amount int64, idempotencyKey string) (*Transfer, error)
	QueryTransferStatus(ctx context.Context, reference string) (TransferStatus, error)
	GetBalance(ctx context.Context) (int64, error)
}

// Tx bundles the stores bound to one transaction.
type Tx interface {
	Ledger() Ledger
	Audit() AuditLog
	Workers() WorkerDirectory
}

// TxRunner executes fn atomically: every store call inside fn commits or
// rolls back together. Status CAS, audit append, and due-date advance always
// go through a runner so the audit trail can never diverge from the ledger.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}
