//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"payguard/internal/payroll/models"
	"payguard/internal/payroll/ports"
	"payguard/internal/payroll/service/approval"
	"payguard/internal/payroll/store/postgres"
	id "payguard/pkg/domain"
	derrors "payguard/pkg/domain-errors"
	"payguard/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	stores   *postgres.Stores
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.stores = postgres.New(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(context.Background()))
}

func (s *PostgresStoreSuite) seedWorker() *models.Worker {
	w := &models.Worker{
		ID:          id.NewWorkerID(),
		Name:        "Ada",
		Destination: "RCP_ada",
		Amount:      150000,
		Frequency:   models.FrequencyMonthly,
		NextDueDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Active:      true,
	}
	_, err := s.postgres.DB.ExecContext(context.Background(),
		`INSERT INTO workers (id, name, destination, amount, frequency, next_due_date, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID.String(), w.Name, w.Destination, w.Amount, string(w.Frequency), w.NextDueDate, w.Active)
	s.Require().NoError(err)
	return w
}

func (s *PostgresStoreSuite) seedRequest(worker *models.Worker, status models.Status) *models.PaymentRequest {
	req := &models.PaymentRequest{
		ID:             id.NewPaymentID(),
		WorkerID:       worker.ID,
		Amount:         worker.Amount,
		IdempotencyKey: models.IdempotencyKey(worker.ID, worker.Frequency, worker.NextDueDate),
		Status:         status,
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
	created, err := s.stores.Ledger.CreateIfAbsent(context.Background(), req)
	s.Require().NoError(err)
	s.Require().True(created)
	return req
}

// TestConcurrentCreateIfAbsent verifies that concurrent evaluator runs for the
// same (worker, period) produce exactly one payment request.
func (s *PostgresStoreSuite) TestConcurrentCreateIfAbsent() {
	ctx := context.Background()
	worker := s.seedWorker()
	key := models.IdempotencyKey(worker.ID, worker.Frequency, worker.NextDueDate)
	const goroutines = 20

	var wg sync.WaitGroup
	var createdCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := &models.PaymentRequest{
				ID:             id.NewPaymentID(),
				WorkerID:       worker.ID,
				Amount:         worker.Amount,
				IdempotencyKey: key,
				Status:         models.StatusPending,
				CreatedAt:      time.Now(),
			}
			created, err := s.stores.Ledger.CreateIfAbsent(ctx, req)
			if err == nil && created {
				createdCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), createdCount.Load(), "exactly one create should win")

	pending, err := s.stores.Ledger.ListByStatus(ctx, models.StatusPending)
	s.Require().NoError(err)
	s.Len(pending, 1)
}

// TestConcurrentCompareAndSet verifies that when many actors race a status
// transition, exactly one update lands.
func (s *PostgresStoreSuite) TestConcurrentCompareAndSet() {
	ctx := context.Background()
	worker := s.seedWorker()
	req := s.seedRequest(worker, models.StatusPending)
	const goroutines = 20

	var wg sync.WaitGroup
	var successCount, conflictCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := req.Clone()
			cp.Status = models.StatusApproved
			now := time.Now()
			cp.DecidedAt = &now
			err := s.stores.Ledger.Update(ctx, cp, models.StatusPending)
			switch {
			case err == nil:
				successCount.Add(1)
			case derrors.Is(err, derrors.CodeConflict):
				conflictCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one transition should win")
	s.Equal(int32(goroutines-1), conflictCount.Load())

	got, err := s.stores.Ledger.Get(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, got.Status)
}

// TestConcurrentDistinctAdminApprovals verifies that two first approvals
// racing on the same request both land. The status predicate alone cannot
// catch this race because a first approval leaves the request Pending, so the
// in-transaction read must lock the row.
func (s *PostgresStoreSuite) TestConcurrentDistinctAdminApprovals() {
	ctx := context.Background()
	worker := s.seedWorker()
	req := s.seedRequest(worker, models.StatusPending)

	svc, err := approval.New(postgres.NewTxRunner(s.postgres.DB), s.stores.Ledger, s.stores.Workers,
		approval.Config{
			MinApprovers:     2,
			AuthorizedAdmins: []id.AdminID{"admin-a", "admin-b"},
			ApprovalWindow:   72 * time.Hour,
		})
	s.Require().NoError(err)

	start := make(chan struct{})
	admins := []id.AdminID{"admin-a", "admin-b"}
	errs := make([]error, len(admins))

	var wg sync.WaitGroup
	for i, admin := range admins {
		wg.Add(1)
		go func(i int, admin id.AdminID) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.Approve(ctx, req.ID, admin)
		}(i, admin)
	}
	close(start)
	wg.Wait()

	s.NoError(errs[0])
	s.NoError(errs[1])

	got, err := s.stores.Ledger.Get(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, got.Status)
	s.ElementsMatch(admins, got.Approvals, "neither vote may be lost")

	entries, err := s.stores.Audit.ListByEntity(ctx, req.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(models.ActionApprovalRecorded, entries[0].Action)
	s.Equal(models.ActionPaymentApproved, entries[1].Action)
}

func (s *PostgresStoreSuite) TestLedgerRoundTrip() {
	ctx := context.Background()
	worker := s.seedWorker()
	req := s.seedRequest(worker, models.StatusPending)

	req.Status = models.StatusApproved
	req.Approvals = []id.AdminID{"admin-a", "admin-b"}
	decided := time.Now().UTC().Truncate(time.Microsecond)
	req.DecidedAt = &decided
	s.Require().NoError(s.stores.Ledger.Update(ctx, req, models.StatusPending))

	got, err := s.stores.Ledger.Get(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, got.Status)
	s.Equal([]id.AdminID{"admin-a", "admin-b"}, got.Approvals)
	s.Require().NotNil(got.DecidedAt)
	s.WithinDuration(decided, *got.DecidedAt, time.Millisecond)
}

func (s *PostgresStoreSuite) TestAuditSequencePerEntity() {
	ctx := context.Background()
	worker := s.seedWorker()
	req := s.seedRequest(worker, models.StatusPending)

	for i := 0; i < 3; i++ {
		entry := &models.AuditEntry{
			EntityID:  req.ID,
			Actor:     "admin-a",
			Action:    models.ActionApprovalRecorded,
			Status:    models.StatusPending,
			Timestamp: time.Now(),
		}
		s.Require().NoError(s.stores.Audit.Append(ctx, entry))
		s.Equal(int64(i+1), entry.Seq)
	}

	entries, err := s.stores.Audit.ListByEntity(ctx, req.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 3)
	for i, e := range entries {
		s.Equal(int64(i+1), e.Seq)
	}

	tail, err := s.stores.Audit.ListAfter(ctx, entries[0].ID, 10)
	s.Require().NoError(err)
	s.Len(tail, 2)
}

func (s *PostgresStoreSuite) TestWorkerDirectory() {
	ctx := context.Background()
	worker := s.seedWorker()

	due, err := s.stores.Workers.ListActiveDue(ctx, worker.NextDueDate)
	s.Require().NoError(err)
	s.Require().Len(due, 1)
	s.Equal(worker.ID, due[0].ID)

	next := worker.Frequency.Advance(worker.NextDueDate)
	s.Require().NoError(s.stores.Workers.AdvanceNextDueDate(ctx, worker.ID, next))

	got, err := s.stores.Workers.Get(ctx, worker.ID)
	s.Require().NoError(err)
	s.WithinDuration(next, got.NextDueDate, time.Millisecond)

	// After advancing, the worker is no longer due.
	due, err = s.stores.Workers.ListActiveDue(ctx, worker.NextDueDate)
	s.Require().NoError(err)
	s.Empty(due)
}

func (s *PostgresStoreSuite) TestHistoryFilter() {
	ctx := context.Background()
	worker := s.seedWorker()
	req := s.seedRequest(worker, models.StatusPending)

	got, err := s.stores.Ledger.List(ctx, ports.HistoryFilter{WorkerID: worker.ID, Status: models.StatusPending, Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(req.ID, got[0].ID)
}
