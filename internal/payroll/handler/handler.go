// Package handler is the thin HTTP layer over the payroll services. It
// delegates to domain services without embedding business logic so transport
// concerns stay isolated.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"payguard/internal/payroll/models"
	"payguard/internal/payroll/ports"
	"payguard/internal/payroll/service/schedule"
	"payguard/internal/platform/middleware"
	id "payguard/pkg/domain"
	derrors "payguard/pkg/domain-errors"
	"payguard/pkg/requestcontext"
)

// Scheduler triggers evaluation runs.
type Scheduler interface {
	EvaluateDue(ctx context.Context, asOf time.Time) (*schedule.Report, error)
}

// Approver drives the approval state machine.
type Approver interface {
	Approve(ctx context.Context, paymentID id.PaymentID, admin id.AdminID) (*models.PaymentRequest, error)
	Reject(ctx context.Context, paymentID id.PaymentID, admin id.AdminID, reason string) (*models.PaymentRequest, error)
}

// BalanceReader exposes the gateway balance for the admin dashboard.
type BalanceReader interface {
	GetBalance(ctx context.Context) (int64, error)
}

type Handler struct {
	scheduler Scheduler
	approver  Approver
	ledger    ports.Ledger
	audit     ports.AuditLog
	balance   BalanceReader
	validator middleware.AdminValidator
	logger    *slog.Logger
}

func New(
	scheduler Scheduler,
	approver Approver,
	ledger ports.Ledger,
	audit ports.AuditLog,
	balance BalanceReader,
	validator middleware.AdminValidator,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		scheduler: scheduler,
		approver:  approver,
		ledger:    ledger,
		audit:     audit,
		balance:   balance,
		validator: validator,
		logger:    logger,
	}
}

// Register mounts the admin routes with the shared middleware stack.
func (h *Handler) Register(r chi.Router) {
	admin := chi.NewRouter()
	admin.Use(middleware.Recovery(h.logger))
	admin.Use(middleware.RequestID)
	admin.Use(middleware.Logger(h.logger))
	admin.Use(middleware.ContentTypeJSON)
	admin.Use(middleware.RequireAdmin(h.validator, h.logger))

	admin.Post("/payments/evaluate", h.handleEvaluate)
	admin.Get("/payments/pending", h.handleListPending)
	admin.Get("/payments", h.handleListHistory)
	admin.Post("/payments/{paymentID}/approve", h.handleApprove)
	admin.Post("/payments/{paymentID}/reject", h.handleReject)
	admin.Get("/payments/{paymentID}/audit", h.handleAuditTrail)
	admin.Get("/balance", h.handleBalance)

	r.Mount("/admin", admin)
}

type evaluateRequest struct {
	AsOf string `json:"as_of"` // YYYY-MM-DD; empty means today
}

type evaluateResponse struct {
	Created []*paymentResponse `json:"created"`
	Skipped int                `json:"skipped"`
	Errors  []workerError      `json:"errors"`
}

type workerError struct {
	WorkerID string `json:"worker_id"`
	Error    string `json:"error"`
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req evaluateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, derrors.New(derrors.CodeValidation, "invalid request body"))
			return
		}
	}

	asOf := requestcontext.Now(ctx)
	if req.AsOf != "" {
		parsed, err := time.Parse("2006-01-02", req.AsOf)
		if err != nil {
			writeError(w, derrors.New(derrors.CodeValidation, "as_of must be YYYY-MM-DD"))
			return
		}
		asOf = parsed
	}

	report, err := h.scheduler.EvaluateDue(ctx, asOf)
	if err != nil {
		h.logger.ErrorContext(ctx, "evaluation failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		writeError(w, err)
		return
	}

	resp := evaluateResponse{Skipped: report.Skipped, Created: []*paymentResponse{}, Errors: []workerError{}}
	for _, created := range report.Created {
		resp.Created = append(resp.Created, toPaymentResponse(created))
	}
	for _, we := range report.Errors {
		resp.Errors = append(resp.Errors, workerError{WorkerID: we.WorkerID.String(), Error: we.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListPending(w http.ResponseWriter, r *http.Request) {
	requests, err := h.ledger.ListByStatus(r.Context(), models.StatusPending)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponses(requests))
}

func (h *Handler) handleListHistory(w http.ResponseWriter, r *http.Request) {
	filter := ports.HistoryFilter{Limit: 100}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = models.Status(status)
	}
	if workerID := r.URL.Query().Get("worker_id"); workerID != "" {
		parsed, err := id.ParseWorkerID(workerID)
		if err != nil {
			writeError(w, derrors.New(derrors.CodeValidation, "invalid worker_id"))
			return
		}
		filter.WorkerID = parsed
	}

	requests, err := h.ledger.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponses(requests))
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paymentID, ok := h.paymentID(w, r)
	if !ok {
		return
	}

	result, err := h.approver.Approve(ctx, paymentID, requestcontext.AdminID(ctx))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(result))
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paymentID, ok := h.paymentID(w, r)
	if !ok {
		return
	}

	var req rejectRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, derrors.New(derrors.CodeValidation, "invalid request body"))
			return
		}
	}

	result, err := h.approver.Reject(ctx, paymentID, requestcontext.AdminID(ctx), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(result))
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := h.paymentID(w, r)
	if !ok {
		return
	}

	entries, err := h.audit.ListByEntity(r.Context(), paymentID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditResponse{
			Seq:       e.Seq,
			Actor:     string(e.Actor),
			Action:    string(e.Action),
			Status:    string(e.Status),
			Detail:    e.Detail,
			SourceIP:  e.SourceIP,
			Timestamp: e.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.balance.GetBalance(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *Handler) paymentID(w http.ResponseWriter, r *http.Request) (id.PaymentID, bool) {
	paymentID, err := id.ParsePaymentID(chi.URLParam(r, "paymentID"))
	if err != nil {
		writeError(w, derrors.New(derrors.CodeValidation, "invalid payment id"))
		return id.PaymentID{}, false
	}
	return paymentID, true
}

type paymentResponse struct {
	ID            string     `json:"id"`
	WorkerID      string     `json:"worker_id"`
	Amount        int64      `json:"amount"`
	Status        string     `json:"status"`
	Approvals     []string   `json:"approvals"`
	FailureReason string     `json:"failure_reason,omitempty"`
	GatewayRef    string     `json:"gateway_reference,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

type auditResponse struct {
	Seq       int64     `json:"seq"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	SourceIP  string    `json:"source_ip,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func toPaymentResponse(req *models.PaymentRequest) *paymentResponse {
	approvals := make([]string, 0, len(req.Approvals))
	for _, a := range req.Approvals {
		approvals = append(approvals, string(a))
	}
	return &paymentResponse{
		ID:            req.ID.String(),
		WorkerID:      req.WorkerID.String(),
		Amount:        req.Amount,
		Status:        string(req.Status),
		Approvals:     approvals,
		FailureReason: req.FailureReason,
		GatewayRef:    req.GatewayRef,
		CreatedAt:     req.CreatedAt,
		DecidedAt:     req.DecidedAt,
		ProcessedAt:   req.ProcessedAt,
	}
}

func toPaymentResponses(reqs []*models.PaymentRequest) []*paymentResponse {
	out := make([]*paymentResponse, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, toPaymentResponse(req))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError centralizes domain error translation so every endpoint returns
// the same JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	code := derrors.CodeOf(err)
	message := err.Error()
	var de *derrors.Error
	if errors.As(err, &de) {
		message = de.Message()
	}
	w.WriteHeader(derrors.ToHTTPStatus(code))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   string(code),
		"message": message,
	})
}
