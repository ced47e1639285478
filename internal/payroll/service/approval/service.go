// Package approval enforces the dual-admin sign-off state machine. Every
// transition appends its audit entry in the same transaction as the status
// change, so the trail can never diverge from the ledger.
package approval

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

// Config is the approval policy. MinApprovers distinct identities from
// AuthorizedAdmins must approve before a request becomes Approved; the
// original deployment runs with exactly two admins and MinApprovers=2.
type Config struct {
	MinApprovers     int
	AuthorizedAdmins []id.AdminID
	ApprovalWindow   time.Duration
}

type Service struct {
	tx      ports.TxRunner
	ledger  ports.Ledger
	workers ports.WorkerDirectory
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	// dispatch, when set, is invoked after a request commits as Approved so
	// the executor can pick it up without waiting for the next sweep.
	dispatch func(id.PaymentID)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithDispatcher(dispatch func(id.PaymentID)) Option {
	return func(s *Service) { s.dispatch = dispatch }
}

func New(tx ports.TxRunner, ledger ports.Ledger, workers ports.WorkerDirectory, cfg Config, opts ...Option) (*Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if workers == nil {
		return nil, fmt.Errorf("worker directory is required")
	}
	if cfg.MinApprovers < 1 {
		return nil, fmt.Errorf("min approvers must be at least 1")
	}
	if len(cfg.AuthorizedAdmins) < cfg.MinApprovers {
		return nil, fmt.Errorf("authorized admin set smaller than min approvers")
	}
	if cfg.ApprovalWindow <= 0 {
		return nil, fmt.Errorf("approval window must be positive")
	}

	svc := &Service{tx: tx, ledger: ledger, workers: workers, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (s *Service) authorized(admin id.AdminID) bool {
	for _, a := range s.cfg.AuthorizedAdmins {
		if a == admin {
			return true
		}
	}
	return false
}

// Approve records admin's approval on a Pending request. The approval that
// reaches the configured minimum flips the request to Approved. A repeat
// approval by the same admin is a no-op so client retries stay harmless; it
// never counts twice.
func (s *Service) Approve(ctx context.Context, paymentID id.PaymentID, admin id.AdminID) (*models.PaymentRequest, error) {
	if admin.IsZero() {
		return nil, derrors.New(derrors.CodeValidation, "admin identity is required")
	}
	if !s.authorized(admin) {
		return nil, derrors.Newf(derrors.CodeValidation, "admin %s is not authorized to approve payments", admin)
	}

	now := requestcontext.Now(ctx)
	var result *models.PaymentRequest
	var approved bool

	err := s.tx.RunInTx(ctx, func(tx ports.Tx) error {
		req, err := tx.Ledger().Get(ctx, paymentID)
		if err != nil {
			return err
		}
		if req.Status != models.StatusPending {
			return derrors.Newf(derrors.CodeAlreadyDecided,
				"payment request %s is already %s", paymentID, req.Status)
		}
		if req.HasApproval(admin) {
			// Idempotent re-submission: return current state, no transition,
			// no audit entry.
			result = req
			return nil
		}

		req.Approvals = append(req.Approvals, admin)
		action := models.ActionApprovalRecorded
		if len(req.Approvals) >= s.cfg.MinApprovers {
			req.Status = models.StatusApproved
			req.DecidedAt = &now
			action = models.ActionPaymentApproved
			approved = true
		}

		if err := tx.Ledger().Update(ctx, req, models.StatusPending); err != nil {
			return err
		}
		if err := tx.Audit().Append(ctx, &models.AuditEntry{
			EntityID:  paymentID,
			Actor:     admin,
			Action:    action,
			Status:    req.Status,
			Detail:    fmt.Sprintf("approvals %d/%d", len(req.Approvals), s.cfg.MinApprovers),
			SourceIP:  requestcontext.ClientIP(ctx),
			Timestamp: now,
		}); err != nil {
			return err
		}
		result = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	if approved {
		s.metrics.IncPaymentsApproved()
		s.logger.InfoContext(ctx, "payment fully approved",
			"payment_id", paymentID,
			"approvals", len(result.Approvals),
		)
		if s.dispatch != nil {
			s.dispatch(paymentID)
		}
	}
	return result, nil
}

// Reject terminates a Pending request. Any single authorized admin may
// reject unilaterally.
func (s *Service) Reject(ctx context.Context, paymentID id.PaymentID, admin id.AdminID, reason string) (*models.PaymentRequest, error) {
	if admin.IsZero() {
		return nil, derrors.New(derrors.CodeValidation, "admin identity is required")
	}
	if !s.authorized(admin) {
		return nil, derrors.Newf(derrors.CodeValidation, "admin %s is not authorized to reject payments", admin)
	}

	now := requestcontext.Now(ctx)
	var result *models.PaymentRequest

	err := s.tx.RunInTx(ctx, func(tx ports.Tx) error {
		req, err := tx.Ledger().Get(ctx, paymentID)
		if err != nil {
			return err
		}
		if req.Status != models.StatusPending {
			return derrors.Newf(derrors.CodeAlreadyDecided,
				"payment request %s is already %s", paymentID, req.Status)
		}

		req.Status = models.StatusRejected
		req.DecidedAt = &now
		req.FailureReason = reason

		if err := tx.Ledger().Update(ctx, req, models.StatusPending); err != nil {
			return err
		}
		if err := tx.Audit().Append(ctx, &models.AuditEntry{
			EntityID:  paymentID,
			Actor:     admin,
			Action:    models.ActionPaymentRejected,
			Status:    models.StatusRejected,
			Detail:    reason,
			SourceIP:  requestcontext.ClientIP(ctx),
			Timestamp: now,
		}); err != nil {
			return err
		}
		result = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncPaymentsRejected()
	return result, nil
}

// SweepPending expires Pending requests older than the approval window and
// rejects Pending requests whose worker was deactivated. It returns how many
// requests were expired and rejected. Races with concurrent admins are
// normal; a lost compare-and-set just means someone else decided first.
func (s *Service) SweepPending(ctx context.Context) (expired, rejected int, err error) {
	pending, err := s.ledger.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return 0, 0, derrors.Wrap(err, derrors.CodeInternal, "list pending requests")
	}

	now := requestcontext.Now(ctx)
	cutoff := now.Add(-s.cfg.ApprovalWindow)

	for _, req := range pending {
		worker, werr := s.workers.Get(ctx, req.WorkerID)
		if werr != nil {
			// Expiry below still applies; only the deactivation check is lost.
			s.logger.WarnContext(ctx, "worker lookup failed during sweep",
				"payment_id", req.ID,
				"worker_id", req.WorkerID,
				"error", werr.Error(),
			)
		}
		switch {
		case werr == nil && !worker.Active:
			if s.sweepTransition(ctx, req.ID, models.StatusRejected,
				models.ActionPaymentRejected, "worker deactivated", now) {
				rejected++
				s.metrics.IncPaymentsRejected()
			}
		case req.CreatedAt.Before(cutoff):
			if s.sweepTransition(ctx, req.ID, models.StatusExpired,
				models.ActionPaymentExpired,
				fmt.Sprintf("approval window of %s elapsed", s.cfg.ApprovalWindow), now) {
				expired++
				s.metrics.IncPaymentsExpired()
			}
		}
	}
	return expired, rejected, nil
}

func (s *Service) sweepTransition(ctx context.Context, paymentID id.PaymentID, to models.Status, action models.Action, detail string, now time.Time) bool {
	err := s.tx.RunInTx(ctx, func(tx ports.Tx) error {
		req, err := tx.Ledger().Get(ctx, paymentID)
		if err != nil {
			return err
		}
		if req.Status != models.StatusPending {
			return derrors.Newf(derrors.CodeConflict,
				"payment request %s already left pending", paymentID)
		}

		req.Status = to
		req.DecidedAt = &now
		req.FailureReason = detail

		if err := tx.Ledger().Update(ctx, req, models.StatusPending); err != nil {
			return err
		}
		return tx.Audit().Append(ctx, &models.AuditEntry{
			EntityID:  paymentID,
			Actor:     id.ActorSystem,
			Action:    action,
			Status:    to,
			Detail:    detail,
			Timestamp: now,
		})
	})
	if err != nil {
		if !derrors.Is(err, derrors.CodeConflict) {
			s.logger.WarnContext(ctx, "sweep transition failed",
				"payment_id", paymentID,
				"error", err.Error(),
			)
		}
		return false
	}
	return true
}
