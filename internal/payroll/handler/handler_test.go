package handler

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"

	"payguard/internal/payroll/gateway/gatewaytest"
	"payguard/internal/payroll/models"
	"payguard/internal/payroll/service/approval"
	"payguard/internal/payroll/service/schedule"
	"payguard/internal/payroll/store/memory"
	"payguard/internal/platform/logger"
	"payguard/internal/platform/middleware"
	id "payguard/pkg/domain"
	"payguard/pkg/testutil"
)

const signingKey = "test-signing-key"

type HandlerSuite struct {
	suite.Suite
	store   *memory.Store
	gateway *gatewaytest.Fake
	router  chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.store = memory.New()
	s.gateway = gatewaytest.New()
	log := logger.New()

	scheduleSvc, err := schedule.New(s.store, s.store.Directory())
	s.Require().NoError(err)

	approvalSvc, err := approval.New(s.store, s.store, s.store.Directory(), approval.Config{
		MinApprovers:     2,
		AuthorizedAdmins: []id.AdminID{"admin-a", "admin-b"},
		ApprovalWindow:   72 * time.Hour,
	})
	s.Require().NoError(err)

	h := New(scheduleSvc, approvalSvc, s.store, s.store, s.gateway,
		middleware.NewJWTValidator(signingKey), log)

	s.router = chi.NewRouter()
	h.Register(s.router)
}

func (s *HandlerSuite) token(admin string) string {
	claims := jwt.MapClaims{
		"sub": admin,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	s.Require().NoError(err)
	return signed
}

func (s *HandlerSuite) request(method, path, admin string, body any) *http.Request {
	var req *http.Request
	if body != nil {
		req = testutil.NewJSONRequest(s.T(), method, path, body)
	} else {
		req = testutil.NewRequest(s.T(), method, path)
	}
	if admin != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(admin))
	}
	return req
}

func (s *HandlerSuite) seedWorker() *models.Worker {
	w := &models.Worker{
		ID:          id.NewWorkerID(),
		Name:        "Ada",
		Destination: "RCP_ada",
		Amount:      150000,
		Frequency:   models.FrequencyMonthly,
		NextDueDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Active:      true,
	}
	s.store.PutWorker(w)
	return w
}

func (s *HandlerSuite) evaluate() *paymentResponse {
	rr := testutil.DoRequest(s.router, s.request(http.MethodPost, "/admin/payments/evaluate", "admin-a",
		map[string]string{"as_of": "2025-01-01"}))
	testutil.AssertStatusOK(s.T(), rr)

	resp := testutil.UnmarshalResponse[evaluateResponse](s.T(), rr)
	s.Require().Len(resp.Created, 1)
	return resp.Created[0]
}

// =============================================================================
// Authentication
// =============================================================================

func (s *HandlerSuite) TestRejectsMissingToken() {
	rr := testutil.DoRequest(s.router, s.request(http.MethodGet, "/admin/payments/pending", "", nil))
	testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
}

func (s *HandlerSuite) TestRejectsForgedToken() {
	req := s.request(http.MethodGet, "/admin/payments/pending", "", nil)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "admin-a"}).
		SignedString([]byte("wrong-key"))
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+forged)

	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
}

// =============================================================================
// Evaluate
// =============================================================================

func (s *HandlerSuite) TestEvaluateCreatesPendingPayment() {
	worker := s.seedWorker()

	created := s.evaluate()
	s.Equal(worker.ID.String(), created.WorkerID)
	s.Equal(int64(150000), created.Amount)
	s.Equal(string(models.StatusPending), created.Status)
}

func (s *HandlerSuite) TestEvaluateRejectsBadDate() {
	rr := testutil.DoRequest(s.router, s.request(http.MethodPost, "/admin/payments/evaluate", "admin-a",
		map[string]string{"as_of": "January 1st"}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation")
}

// =============================================================================
// Approve / Reject
// =============================================================================

func (s *HandlerSuite) TestDualApprovalOverHTTP() {
	s.seedWorker()
	created := s.evaluate()

	rr := testutil.DoRequest(s.router, s.request(http.MethodPost,
		fmt.Sprintf("/admin/payments/%s/approve", created.ID), "admin-a", nil))
	testutil.AssertStatusOK(s.T(), rr)
	first := testutil.UnmarshalResponse[paymentResponse](s.T(), rr)
	s.Equal(string(models.StatusPending), first.Status)
	s.Equal([]string{"admin-a"}, first.Approvals)

	rr = testutil.DoRequest(s.router, s.request(http.MethodPost,
		fmt.Sprintf("/admin/payments/%s/approve", created.ID), "admin-b", nil))
	testutil.AssertStatusOK(s.T(), rr)
	second := testutil.UnmarshalResponse[paymentResponse](s.T(), rr)
	s.Equal(string(models.StatusApproved), second.Status)
	s.Equal([]string{"admin-a", "admin-b"}, second.Approvals)
}

func (s *HandlerSuite) TestUnauthorizedAdminCannotApprove() {
	s.seedWorker()
	created := s.evaluate()

	// Valid token, but the subject is not in the authorized approver set.
	rr := testutil.DoRequest(s.router, s.request(http.MethodPost,
		fmt.Sprintf("/admin/payments/%s/approve", created.ID), "not-an-approver", nil))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation")
}

func (s *HandlerSuite) TestRejectTerminatesPayment() {
	s.seedWorker()
	created := s.evaluate()

	rr := testutil.DoRequest(s.router, s.request(http.MethodPost,
		fmt.Sprintf("/admin/payments/%s/reject", created.ID), "admin-b",
		map[string]string{"reason": "wrong amount"}))
	testutil.AssertStatusOK(s.T(), rr)
	rejected := testutil.UnmarshalResponse[paymentResponse](s.T(), rr)
	s.Equal(string(models.StatusRejected), rejected.Status)
	s.Equal("wrong amount", rejected.FailureReason)

	// A decided request cannot be approved.
	rr = testutil.DoRequest(s.router, s.request(http.MethodPost,
		fmt.Sprintf("/admin/payments/%s/approve", created.ID), "admin-a", nil))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "already_decided")
}

func (s *HandlerSuite) TestApproveValidatesPaymentID() {
	rr := testutil.DoRequest(s.router, s.request(http.MethodPost,
		"/admin/payments/not-a-uuid/approve", "admin-a", nil))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation")
}

func (s *HandlerSuite) TestApproveUnknownPaymentIsNotFound() {
	rr := testutil.DoRequest(s.router, s.request(http.MethodPost,
		fmt.Sprintf("/admin/payments/%s/approve", id.NewPaymentID()), "admin-a", nil))
	testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
}

// =============================================================================
// Listings
// =============================================================================

func (s *HandlerSuite) TestListPending() {
	s.seedWorker()
	created := s.evaluate()

	rr := testutil.DoRequest(s.router, s.request(http.MethodGet, "/admin/payments/pending", "admin-a", nil))
	testutil.AssertStatusOK(s.T(), rr)
	pending := testutil.UnmarshalResponse[[]*paymentResponse](s.T(), rr)
	s.Require().Len(*pending, 1)
	s.Equal(created.ID, (*pending)[0].ID)
}

func (s *HandlerSuite) TestHistoryFilters() {
	worker := s.seedWorker()
	s.evaluate()

	s.Run("by status", func() {
		rr := testutil.DoRequest(s.router, s.request(http.MethodGet,
			"/admin/payments?status=pending", "admin-a", nil))
		testutil.AssertStatusOK(s.T(), rr)
		got := testutil.UnmarshalResponse[[]*paymentResponse](s.T(), rr)
		s.Len(*got, 1)
	})

	s.Run("by worker", func() {
		rr := testutil.DoRequest(s.router, s.request(http.MethodGet,
			"/admin/payments?worker_id="+worker.ID.String(), "admin-a", nil))
		testutil.AssertStatusOK(s.T(), rr)
		got := testutil.UnmarshalResponse[[]*paymentResponse](s.T(), rr)
		s.Len(*got, 1)
	})

	s.Run("no matches", func() {
		rr := testutil.DoRequest(s.router, s.request(http.MethodGet,
			"/admin/payments?status=failed", "admin-a", nil))
		testutil.AssertStatusOK(s.T(), rr)
		got := testutil.UnmarshalResponse[[]*paymentResponse](s.T(), rr)
		s.Empty(*got)
	})

	s.Run("bad worker id", func() {
		rr := testutil.DoRequest(s.router, s.request(http.MethodGet,
			"/admin/payments?worker_id=nope", "admin-a", nil))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation")
	})
}

// =============================================================================
// Audit Trail
// =============================================================================

func (s *HandlerSuite) TestAuditTrailOrderedBySeq() {
	s.seedWorker()
	created := s.evaluate()

	for _, admin := range []string{"admin-a", "admin-b"} {
		rr := testutil.DoRequest(s.router, s.request(http.MethodPost,
			fmt.Sprintf("/admin/payments/%s/approve", created.ID), admin, nil))
		testutil.AssertStatusOK(s.T(), rr)
	}

	rr := testutil.DoRequest(s.router, s.request(http.MethodGet,
		fmt.Sprintf("/admin/payments/%s/audit", created.ID), "admin-a", nil))
	testutil.AssertStatusOK(s.T(), rr)
	trail := testutil.UnmarshalResponse[[]auditResponse](s.T(), rr)
	s.Require().Len(*trail, 3)
	for i, entry := range *trail {
		s.Equal(int64(i+1), entry.Seq)
	}
	s.Equal(string(models.ActionPaymentCreated), (*trail)[0].Action)
	s.Equal(string(models.ActionApprovalRecorded), (*trail)[1].Action)
	s.Equal(string(models.ActionPaymentApproved), (*trail)[2].Action)
}

func (s *HandlerSuite) TestAuditTrailRecordsSourceIP() {
	s.seedWorker()
	created := s.evaluate()

	req := s.request(http.MethodPost, fmt.Sprintf("/admin/payments/%s/approve", created.ID), "admin-a", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusOK(s.T(), rr)

	entries, err := s.store.ListByEntity(context.Background(), mustPaymentID(s, created.ID))
	s.NoError(err)
	s.Require().Len(entries, 2)
	s.Equal("203.0.113.7", entries[1].SourceIP)
}

func mustPaymentID(s *HandlerSuite, raw string) id.PaymentID {
	paymentID, err := id.ParsePaymentID(raw)
	s.Require().NoError(err)
	return paymentID
}

// =============================================================================
// Balance
// =============================================================================

func (s *HandlerSuite) TestBalance() {
	s.gateway.Balance = 42_000_00

	rr := testutil.DoRequest(s.router, s.request(http.MethodGet, "/admin/balance", "admin-a", nil))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "balance", float64(42_000_00))
}
