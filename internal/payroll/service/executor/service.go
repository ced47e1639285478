// Package executor drives Approved payment requests to completion against
// the payment gateway. The claim (Approved -> Processing) commits before any
// network call and acts as the mutual-exclusion lock between concurrent
// executor instances; the outcome commits in a second transaction. The
// gateway receives the request's idempotency key as its dedupe token, so a
// crash between the two phases can be retried without paying twice.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"payguard/internal/payroll/models"
	"payguard/internal/payroll/ports"
	"payguard/internal/platform/metrics"
	id "payguard/pkg/domain"
	derrors "payguard/pkg/domain-errors"
	"payguard/pkg/requestcontext"
)

// ReasonGatewayUnresponsive marks failures where every gateway attempt
// exhausted without a definitive answer; resolution is manual.
const ReasonGatewayUnresponsive = "GatewayUnresponsive"

// Config bounds the gateway retry policy and the stuck-claim sweep.
type Config struct {
	MaxAttempts       uint64        // total gateway attempts per call, >= 1
	InitialBackoff    time.Duration // first retry delay, grows exponentially
	ProcessingTimeout time.Duration // Processing older than this is considered stuck
}

type Service struct {
	tx      ports.TxRunner
	ledger  ports.Ledger
	gateway ports.Gateway
	cfg     Config
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

func New(tx ports.TxRunner, ledger ports.Ledger, gateway ports.Gateway, cfg Config, opts ...Option) (*Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1")
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.ProcessingTimeout <= 0 {
		return nil, fmt.Errorf("processing timeout must be positive")
	}

	svc := &Service{tx: tx, ledger: ledger, gateway: gateway, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// ProcessApproved executes every Approved request. Per-request failures are
// isolated; one bad payment never blocks the batch.
func (s *Service) ProcessApproved(ctx context.Context) error {
	approved, err := s.ledger.ListByStatus(ctx, models.StatusApproved)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "list approved requests")
	}
	for _, req := range approved {
		if err := s.Process(ctx, req.ID); err != nil {
			s.logger.WarnContext(ctx, "payment execution failed",
				"payment_id", req.ID,
				"error", err.Error(),
			)
		}
	}
	return nil
}

// Process claims and executes a single Approved request. Losing the claim to
// another instance is a normal outcome and returns nil.
func (s *Service) Process(ctx context.Context, paymentID id.PaymentID) error {
	req, destination, err := s.claim(ctx, paymentID)
	if err != nil || req == nil {
		return err
	}
	s.executeClaimed(ctx, req, destination)
	return nil
}

// claim moves Approved -> Processing in its own transaction, before any
// network traffic, so the ledger lock is never held across a gateway call.
// Requests for deactivated workers are rejected instead of claimed.
func (s *Service) claim(ctx context.Context, paymentID id.PaymentID) (*models.PaymentRequest, string, error) {
	now := requestcontext.Now(ctx)
	var claimed *models.PaymentRequest
	var destination string

	err := s.tx.RunInTx(ctx, func(tx ports.Tx) error {
		req, err := tx.Ledger().Get(ctx, paymentID)
		if err != nil {
			return err
		}
		if req.Status != models.StatusApproved {
			return derrors.Newf(derrors.CodeConflict,
				"payment request %s is %s, not approved", paymentID, req.Status)
		}

		worker, err := tx.Workers().Get(ctx, req.WorkerID)
		if err != nil {
			return err
		}
		if !worker.Active {
			req.Status = models.StatusRejected
			req.DecidedAt = &now
			req.FailureReason = "worker deactivated"
			if err := tx.Ledger().Update(ctx, req, models.StatusApproved); err != nil {
				return err
			}
			return tx.Audit().Append(ctx, &models.AuditEntry{
				EntityID:  paymentID,
				Actor:     id.ActorSystem,
				Action:    models.ActionPaymentRejected,
				Status:    models.StatusRejected,
				Detail:    "worker deactivated",
				Timestamp: now,
			})
		}

		req.Status = models.StatusProcessing
		req.ClaimedAt = &now
		if err := tx.Ledger().Update(ctx, req, models.StatusApproved); err != nil {
			return err
		}
		if err := tx.Audit().Append(ctx, &models.AuditEntry{
			EntityID:  paymentID,
			Actor:     id.ActorExecutor,
			Action:    models.ActionPaymentClaimed,
			Status:    models.StatusProcessing,
			Timestamp: now,
		}); err != nil {
			return err
		}
		claimed = req
		destination = worker.Destination
		return nil
	})
	if derrors.Is(err, derrors.CodeConflict) {
		// Another executor instance won the claim; nothing to do.
		s.metrics.IncClaimConflicts()
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return claimed, destination, nil
}

func (s *Service) executeClaimed(ctx context.Context, req *models.PaymentRequest, destination string) {
	transfer, err := s.createTransfer(ctx, destination, req.Amount, req.IdempotencyKey)
	if err != nil {
		s.finalizeFailed(ctx, req.ID, "", failureReason(err))
		return
	}

	status := transfer.Status
	if status == ports.TransferPending {
		status, err = s.pollStatus(ctx, transfer.Reference)
		if err != nil || status == ports.TransferPending {
			// Never guess success: without a definitive answer from the
			// status query the payment fails for manual resolution.
			s.finalizeFailed(ctx, req.ID, transfer.Reference, ReasonGatewayUnresponsive)
			return
		}
	}

	if status == ports.TransferSucceeded {
		s.finalizeSucceeded(ctx, req.ID, transfer.Reference)
		return
	}
	s.finalizeFailed(ctx, req.ID, transfer.Reference, "gateway reported transfer failed")
}

// failureReason derives the stored failure_reason from a transfer error.
// Definitive gateway rejections keep their message, without the error-code
// prefix the Error string carries; anything else exhausted the retry budget
// with no definitive answer.
func failureReason(err error) string {
	if derrors.Is(err, derrors.CodeGatewayPermanent) {
		var de *derrors.Error
		if errors.As(err, &de) {
			return de.Message()
		}
		return err.Error()
	}
	return ReasonGatewayUnresponsive
}

func (s *Service) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialBackoff
	return backoff.WithContext(backoff.WithMaxRetries(bo, s.cfg.MaxAttempts-1), ctx)
}

func (s *Service) createTransfer(ctx context.Context, destination string, amount int64, idempotencyKey string) (*ports.Transfer, error) {
	return backoff.RetryNotifyWithData(func() (*ports.Transfer, error) {
		transfer, err := s.gateway.CreateTransfer(ctx, destination, amount, idempotencyKey)
		if err != nil {
			if derrors.Is(err, derrors.CodeGatewayPermanent) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return transfer, nil
	}, s.newBackOff(ctx), func(err error, wait time.Duration) {
		s.metrics.IncGatewayRetries()
		s.logger.WarnContext(ctx, "gateway transfer attempt failed, backing off",
			"error", err.Error(),
			"wait", wait,
		)
	})
}

// pollStatus queries the gateway until the transfer settles or attempts run
// out. A transfer still pending after the final attempt is reported as such.
func (s *Service) pollStatus(ctx context.Context, reference string) (ports.TransferStatus, error) {
	status, err := backoff.RetryNotifyWithData(func() (ports.TransferStatus, error) {
		st, err := s.gateway.QueryTransferStatus(ctx, reference)
		if err != nil {
			if derrors.Is(err, derrors.CodeGatewayPermanent) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		if st == ports.TransferPending {
			return "", derrors.New(derrors.CodeGatewayTransient, "transfer still pending")
		}
		return st, nil
	}, s.newBackOff(ctx), func(err error, wait time.Duration) {
		s.metrics.IncGatewayRetries()
		s.logger.InfoContext(ctx, "transfer not settled yet, backing off",
			"reference", reference,
			"wait", wait,
		)
	})
	if err != nil {
		if derrors.Is(err, derrors.CodeGatewayTransient) {
			return ports.TransferPending, nil
		}
		return "", err
	}
	return status, nil
}

// finalizeSucceeded commits Processing -> Succeeded and advances the
// worker's next due date in the same transaction, so two successful
// executions can never both move the schedule.
func (s *Service) finalizeSucceeded(ctx context.Context, paymentID id.PaymentID, reference string) {
	now := requestcontext.Now(ctx)
	err := s.tx.RunInTx(ctx, func(tx ports.Tx) error {
		req, err := tx.Ledger().Get(ctx, paymentID)
		if err != nil {
			return err
		}
		if req.Status != models.StatusProcessing {
			return derrors.Newf(derrors.CodeConflict,
				"payment request %s already finalized as %s", paymentID, req.Status)
		}

		req.Status = models.StatusSucceeded
		req.GatewayRef = reference
		req.ProcessedAt = &now
		if err := tx.Ledger().Update(ctx, req, models.StatusProcessing); err != nil {
			return err
		}
		if err := tx.Audit().Append(ctx, &models.AuditEntry{
			EntityID:  paymentID,
			Actor:     id.ActorExecutor,
			Action:    models.ActionPaymentSucceeded,
			Status:    models.StatusSucceeded,
			Detail:    fmt.Sprintf("gateway reference %s", reference),
			Timestamp: now,
		}); err != nil {
			return err
		}

		worker, err := tx.Workers().Get(ctx, req.WorkerID)
		if err != nil {
			return err
		}
		return tx.Workers().AdvanceNextDueDate(ctx, worker.ID,
			worker.Frequency.Advance(worker.NextDueDate))
	})
	if err != nil {
		if derrors.Is(err, derrors.CodeConflict) {
			return
		}
		s.logger.ErrorContext(ctx, "failed to finalize succeeded payment",
			"payment_id", paymentID,
			"error", err.Error(),
		)
		return
	}
	s.metrics.IncPaymentsSucceeded()
	s.logger.InfoContext(ctx, "payment succeeded",
		"payment_id", paymentID,
		"gateway_reference", reference,
	)
}

// finalizeFailed commits Processing -> Failed. The next due date does not
// move and no replacement request is created automatically; re-triggering a
// failed period is a manual administrative decision.
func (s *Service) finalizeFailed(ctx context.Context, paymentID id.PaymentID, reference, reason string) {
	now := requestcontext.Now(ctx)
	err := s.tx.RunInTx(ctx, func(tx ports.Tx) error {
		req, err := tx.Ledger().Get(ctx, paymentID)
		if err != nil {
			return err
		}
		if req.Status != models.StatusProcessing {
			return derrors.Newf(derrors.CodeConflict,
				"payment request %s already finalized as %s", paymentID, req.Status)
		}

		req.Status = models.StatusFailed
		req.GatewayRef = reference
		req.FailureReason = reason
		if err := tx.Ledger().Update(ctx, req, models.StatusProcessing); err != nil {
			return err
		}
		return tx.Audit().Append(ctx, &models.AuditEntry{
			EntityID:  paymentID,
			Actor:     id.ActorExecutor,
			Action:    models.ActionPaymentFailed,
			Status:    models.StatusFailed,
			Detail:    reason,
			Timestamp: now,
		})
	})
	if err != nil {
		if derrors.Is(err, derrors.CodeConflict) {
			return
		}
		s.logger.ErrorContext(ctx, "failed to finalize failed payment",
			"payment_id", paymentID,
			"error", err.Error(),
		)
		return
	}
	s.metrics.IncPaymentsFailed()
	s.logger.WarnContext(ctx, "payment failed",
		"payment_id", paymentID,
		"reason", reason,
	)
}

// ReconcileStuck resolves Processing requests whose claim outlived the
// processing timeout, usually after a crash between the two phases. The
// gateway's status query decides the outcome; a transfer the gateway never
// saw is resubmitted under the original idempotency key.
func (s *Service) ReconcileStuck(ctx context.Context) error {
	cutoff := requestcontext.Now(ctx).Add(-s.cfg.ProcessingTimeout)
	stuck, err := s.ledger.ListProcessingOlderThan(ctx, cutoff)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "list stuck requests")
	}

	for _, req := range stuck {
		reference := req.GatewayRef
		if reference == "" {
			// The gateway reference is the idempotency key by construction.
			reference = req.IdempotencyKey
		}

		status, err := s.gateway.QueryTransferStatus(ctx, reference)
		if err != nil {
			if derrors.Is(err, derrors.CodeGatewayPermanent) {
				// The gateway never saw this transfer: the crash happened
				// before the network call. Resubmission with the same key is
				// safe.
				s.logger.InfoContext(ctx, "resubmitting transfer unknown to gateway",
					"payment_id", req.ID,
				)
				worker, werr := s.workerDestination(ctx, req.WorkerID)
				if werr != nil {
					s.logger.WarnContext(ctx, "cannot resolve worker for stuck payment",
						"payment_id", req.ID,
						"error", werr.Error(),
					)
					continue
				}
				s.executeClaimed(ctx, req, worker)
				continue
			}
			s.logger.WarnContext(ctx, "gateway status query failed for stuck payment",
				"payment_id", req.ID,
				"error", err.Error(),
			)
			continue
		}

		switch status {
		case ports.TransferSucceeded:
			s.finalizeSucceeded(ctx, req.ID, reference)
		case ports.TransferFailed:
			s.finalizeFailed(ctx, req.ID, reference, "gateway reported transfer failed")
		default:
			// Still settling; leave it for the next sweep.
		}
	}
	return nil
}

func (s *Service) workerDestination(ctx context.Context, workerID id.WorkerID) (string, error) {
	var destination string
	err := s.tx.RunInTx(ctx, func(tx ports.Tx) error {
		worker, err := tx.Workers().Get(ctx, workerID)
		if err != nil {
			return err
		}
		destination = worker.Destination
		return nil
	})
	return destination, err
}
