// Package schedule implements the evaluator that turns due workers into
// Pending payment requests. Creation is idempotent per (worker, due period):
// re-running for the same period, including after a crash mid-run, is a
// no-op thanks to the idempotency-key uniqueness constraint.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"payguard/internal/payroll/models"
	"payguard/internal/payroll/ports"
	"payguard/internal/platform/metrics"
	id "payguard/pkg/domain"
	derrors "payguard/pkg/domain-errors"
	"payguard/pkg/requestcontext"
)

type Service struct {
	tx      ports.TxRunner
	workers ports.WorkerDirectory
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(tx ports.TxRunner, workers ports.WorkerDirectory, opts ...Option) (*Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner is required")
	}
	if workers == nil {
		return nil, fmt.Errorf("worker directory is required")
	}

	svc := &Service{tx: tx, workers: workers, logger: slog.Default()}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// WorkerError is one worker's evaluation failure; it never aborts the run.
type WorkerError struct {
	WorkerID id.WorkerID
	Err      error
}

// Report summarizes one evaluation run.
type Report struct {
	Created []*models.PaymentRequest
	Skipped int // requests that already existed for the period
	Errors  []WorkerError
}

// EvaluateDue creates a Pending payment request for every active worker due
// on or before asOf. Failures are isolated per worker and reported in the
// returned Report.
func (s *Service) EvaluateDue(ctx context.Context, asOf time.Time) (*Report, error) {
	workers, err := s.workers.ListActiveDue(ctx, asOf)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "list due workers")
	}

	report := &Report{}
	for _, worker := range workers {
		created, err := s.evaluateWorker(ctx, worker)
		if err != nil {
			s.logger.WarnContext(ctx, "worker evaluation failed",
				"worker_id", worker.ID,
				"error", err.Error(),
			)
			report.Errors = append(report.Errors, WorkerError{WorkerID: worker.ID, Err: err})
			continue
		}
		if created == nil {
			report.Skipped++
			continue
		}
		report.Created = append(report.Created, created)
		s.metrics.IncPaymentsCreated()
	}

	s.logger.InfoContext(ctx, "schedule evaluation finished",
		"as_of", asOf,
		"created", len(report.Created),
		"skipped", report.Skipped,
		"errors", len(report.Errors),
	)
	return report, nil
}

func (s *Service) evaluateWorker(ctx context.Context, worker *models.Worker) (*models.PaymentRequest, error) {
	if !worker.Frequency.IsValid() {
		return nil, derrors.Newf(derrors.CodeValidation, "unknown payment frequency %q", worker.Frequency)
	}
	if worker.Amount <= 0 {
		return nil, derrors.Newf(derrors.CodeValidation, "non-positive salary amount %d", worker.Amount)
	}
	if worker.Destination == "" {
		return nil, derrors.New(derrors.CodeValidation, "worker has no bank destination")
	}

	now := requestcontext.Now(ctx)
	req := &models.PaymentRequest{
		ID:             id.NewPaymentID(),
		WorkerID:       worker.ID,
		Amount:         worker.Amount,
		IdempotencyKey: models.IdempotencyKey(worker.ID, worker.Frequency, worker.NextDueDate),
		Status:         models.StatusPending,
		CreatedAt:      now,
	}

	var created bool
	err := s.tx.RunInTx(ctx, func(tx ports.Tx) error {
		var err error
		created, err = tx.Ledger().CreateIfAbsent(ctx, req)
		if err != nil || !created {
			return err
		}
		return tx.Audit().Append(ctx, &models.AuditEntry{
			EntityID:  req.ID,
			Actor:     id.ActorScheduler,
			Action:    models.ActionPaymentCreated,
			Status:    models.StatusPending,
			Detail:    fmt.Sprintf("due period %s", models.PeriodLabel(worker.Frequency, worker.NextDueDate)),
			Timestamp: now,
		})
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, nil
	}
	return req, nil
}
