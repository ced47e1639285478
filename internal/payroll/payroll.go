package payroll

import (
	"log/slog"

	"payguard/internal/payroll/handler"
	"payguard/internal/payroll/ports"
	"payguard/internal/payroll/service/approval"
	"payguard/internal/payroll/service/executor"
	"payguard/internal/payroll/service/schedule"
	"payguard/internal/platform/middleware"
)

// ScheduleService turns due workers into Pending payment requests.
type ScheduleService = schedule.Service

// ApprovalService enforces the dual-admin sign-off policy.
type ApprovalService = approval.Service

// ExecutorService settles Approved requests against the gateway.
type ExecutorService = executor.Service

// Handler wires HTTP endpoints to the payroll services.
type Handler = handler.Handler

// NewScheduleService constructs the schedule evaluator.
func NewScheduleService(tx ports.TxRunner, workers ports.WorkerDirectory, opts ...schedule.Option) (*ScheduleService, error) {
	return schedule.New(tx, workers, opts...)
}

// NewApprovalService constructs the approval service with the given policy.
func NewApprovalService(tx ports.TxRunner, ledger ports.Ledger, workers ports.WorkerDirectory, cfg approval.Config, opts ...approval.Option) (*ApprovalService, error) {
	return approval.New(tx, ledger, workers, cfg, opts...)
}

// NewExecutorService constructs the payment executor.
func NewExecutorService(tx ports.TxRunner, ledger ports.Ledger, gateway ports.Gateway, cfg executor.Config, opts ...executor.Option) (*ExecutorService, error) {
	return executor.New(tx, ledger, gateway, cfg, opts...)
}

// NewHandler constructs an HTTP handler for the admin-facing payment routes.
func NewHandler(
	scheduler handler.Scheduler,
	approver handler.Approver,
	ledger ports.Ledger,
	audit ports.AuditLog,
	balance handler.BalanceReader,
	validator middleware.AdminValidator,
	logger *slog.Logger,
) *Handler {
	return handler.New(scheduler, approver, ledger, audit, balance, validator, logger)
}
