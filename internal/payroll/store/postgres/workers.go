package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"payguard/internal/payroll/models"
	id "payguard/pkg/domain"
	derrors "payguard/pkg/domain-errors"
)

// WorkerStore reads the worker directory. The directory collaborator owns
// worker CRUD; the engine only lists due workers and advances due dates.
type WorkerStore struct {
	db dbtx
}

const workerColumns = `id, name, destination, amount, frequency, next_due_date, active`

func (s *WorkerStore) ListActiveDue(ctx context.Context, asOf time.Time) ([]*models.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+workerColumns+` FROM workers
		WHERE active AND next_due_date <= $1 ORDER BY name
	`, asOf)
	if err != nil {
		return nil, fmt.Errorf("list due workers: %w", err)
	}
	defer rows.Close()

	var out []*models.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workers: %w", err)
	}
	return out, nil
}

func (s *WorkerStore) Get(ctx context.Context, workerID id.WorkerID) (*models.Worker, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+workerColumns+` FROM workers WHERE id = $1
	`, uuid.UUID(workerID))

	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, derrors.Newf(derrors.CodeNotFound, "worker %s not found", workerID)
	}
	if err != nil {
		return nil, fmt.Errorf("get worker: %w", err)
	}
	return w, nil
}

func (s *WorkerStore) AdvanceNextDueDate(ctx context.Context, workerID id.WorkerID, next time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workers SET next_due_date = $1 WHERE id = $2
	`, next, uuid.UUID(workerID))
	if err != nil {
		return fmt.Errorf("advance next due date: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance next due date: %w", err)
	}
	if rows == 0 {
		return derrors.Newf(derrors.CodeNotFound, "worker %s not found", workerID)
	}
	return nil
}

func scanWorker(row rowScanner) (*models.Worker, error) {
	var (
		w         models.Worker
		workerID  uuid.UUID
		frequency string
	)
	err := row.Scan(&workerID, &w.Name, &w.Destination, &w.Amount, &frequency,
		&w.NextDueDate, &w.Active)
	if err != nil {
		return nil, err
	}
	w.ID = id.WorkerID(workerID)
	w.Frequency = models.Frequency(frequency)
	return &w, nil
}
