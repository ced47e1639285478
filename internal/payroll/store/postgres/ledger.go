package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"payguard/internal/payroll/models"
	"payguard/internal/payroll/ports"
	id "payguard/pkg/domain"
	derrors "payguard/pkg/domain-errors"
)

// LedgerStore persists payment requests.
type LedgerStore struct {
	db dbtx

	// forUpdate makes Get lock the row for the rest of the transaction.
	// Set on transaction-bound stores: every RunInTx body is a
	// read-modify-write, and the status predicate alone cannot serialize
	// writers that keep the status unchanged (a first approval leaves a
	// request Pending), so the read itself has to take the lock.
	forUpdate bool
}

const paymentColumns = `id, worker_id, amount, idempotency_key, status, approvals,
	failure_reason, gateway_ref, created_at, decided_at, claimed_at, processed_at`

func (s *LedgerStore) CreateIfAbsent(ctx context.Context, req *models.PaymentRequest) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_requests (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (idempotency_key) DO NOTHING
	`,
		uuid.UUID(req.ID), uuid.UUID(req.WorkerID), req.Amount, req.IdempotencyKey,
		string(req.Status), pq.Array(adminStrings(req.Approvals)),
		req.FailureReason, req.GatewayRef, req.CreatedAt,
		nullTime(req.DecidedAt), nullTime(req.ClaimedAt), nullTime(req.ProcessedAt),
	)
	if err != nil {
		return false, fmt.Errorf("create payment request: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create payment request: %w", err)
	}
	return rows == 1, nil
}

func (s *LedgerStore) Get(ctx context.Context, paymentID id.PaymentID) (*models.PaymentRequest, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_requests WHERE id = $1`
	if s.forUpdate {
		query += ` FOR UPDATE`
	}
	row := s.db.QueryRowContext(ctx, query, uuid.UUID(paymentID))

	req, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, derrors.Newf(derrors.CodeNotFound, "payment request %s not found", paymentID)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment request: %w", err)
	}
	return req, nil
}

// Update writes req back with a status predicate: zero rows affected means
// another actor already moved the request on, reported as a conflict.
func (s *LedgerStore) Update(ctx context.Context, req *models.PaymentRequest, expected models.Status) error {
	if req.Status != expected && !models.CanTransition(expected, req.Status) {
		return derrors.Newf(derrors.CodeInternal,
			"illegal transition %s -> %s for payment request %s", expected, req.Status, req.ID)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_requests
		SET status = $1, approvals = $2, failure_reason = $3, gateway_ref = $4,
		    decided_at = $5, claimed_at = $6, processed_at = $7
		WHERE id = $8 AND status = $9
	`,
		string(req.Status), pq.Array(adminStrings(req.Approvals)),
		req.FailureReason, req.GatewayRef,
		nullTime(req.DecidedAt), nullTime(req.ClaimedAt), nullTime(req.ProcessedAt),
		uuid.UUID(req.ID), string(expected),
	)
	if err != nil {
		return fmt.Errorf("update payment request: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update payment request: %w", err)
	}
	if rows == 0 {
		if _, err := s.Get(ctx, req.ID); err != nil {
			return err
		}
		return derrors.Newf(derrors.CodeConflict,
			"payment request %s is no longer %s", req.ID, expected)
	}
	return nil
}

func (s *LedgerStore) ListByStatus(ctx context.Context, status models.Status) ([]*models.PaymentRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payment_requests
		WHERE status = $1 ORDER BY created_at
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list payment requests by status: %w", err)
	}
	return collectPayments(rows)
}

func (s *LedgerStore) ListProcessingOlderThan(ctx context.Context, cutoff time.Time) ([]*models.PaymentRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payment_requests
		WHERE status = $1 AND claimed_at < $2 ORDER BY created_at
	`, string(models.StatusProcessing), cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stuck payment requests: %w", err)
	}
	return collectPayments(rows)
}

func (s *LedgerStore) List(ctx context.Context, filter ports.HistoryFilter) ([]*models.PaymentRequest, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_requests WHERE TRUE`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !filter.WorkerID.IsNil() {
		args = append(args, uuid.UUID(filter.WorkerID))
		query += fmt.Sprintf(" AND worker_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payment requests: %w", err)
	}
	return collectPayments(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*models.PaymentRequest, error) {
	var (
		req       models.PaymentRequest
		reqID     uuid.UUID
		workerID  uuid.UUID
		status    string
		approvals []string
		decided   sql.NullTime
		claimed   sql.NullTime
		processed sql.NullTime
	)
	err := row.Scan(
		&reqID, &workerID, &req.Amount, &req.IdempotencyKey, &status,
		pq.Array(&approvals), &req.FailureReason, &req.GatewayRef,
		&req.CreatedAt, &decided, &claimed, &processed,
	)
	if err != nil {
		return nil, err
	}
	req.ID = id.PaymentID(reqID)
	req.WorkerID = id.WorkerID(workerID)
	req.Status = models.Status(status)
	for _, a := range approvals {
		req.Approvals = append(req.Approvals, id.AdminID(a))
	}
	req.DecidedAt = timePtr(decided)
	req.ClaimedAt = timePtr(claimed)
	req.ProcessedAt = timePtr(processed)
	return &req, nil
}

func collectPayments(rows *sql.Rows) ([]*models.PaymentRequest, error) {
	defer rows.Close()
	var out []*models.PaymentRequest
	for rows.Next() {
		req, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment requests: %w", err)
	}
	return out, nil
}

func adminStrings(admins []id.AdminID) []string {
	out := make([]string, len(admins))
	for i, a := range admins {
		out[i] = string(a)
	}
	return out
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	cp := t.Time
	return &cp
}
