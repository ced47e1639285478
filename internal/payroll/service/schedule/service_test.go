package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"payguard/internal/payroll/models"
	"payguard/internal/payroll/store/memory"
	id "payguard/pkg/domain"
	"payguard/pkg/requestcontext"
)

type ScheduleServiceSuite struct {
	suite.Suite
	store   *memory.Store
	service *Service
	now     time.Time
}

func TestScheduleServiceSuite(t *testing.T) {
	suite.Run(t, new(ScheduleServiceSuite))
}

func (s *ScheduleServiceSuite) SetupTest() {
	s.store = memory.New()
	s.now = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	var err error
	s.service, err = New(s.store, s.store.Directory())
	s.Require().NoError(err)
}

func (s *ScheduleServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *ScheduleServiceSuite) seedWorker(mutate func(*models.Worker)) *models.Worker {
	w := &models.Worker{
		ID:          id.NewWorkerID(),
		Name:        "Ada",
		Destination: "RCP_ada",
		Amount:      150000,
		Frequency:   models.FrequencyMonthly,
		NextDueDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Active:      true,
	}
	if mutate != nil {
		mutate(w)
	}
	s.store.PutWorker(w)
	return w
}

func (s *ScheduleServiceSuite) TestNew() {
	s.Run("nil tx runner returns error", func() {
		_, err := New(nil, s.store.Directory())
		s.Error(err)
	})

	s.Run("nil worker directory returns error", func() {
		_, err := New(s.store, nil)
		s.Error(err)
	})
}

func (s *ScheduleServiceSuite) TestEvaluateDueCreatesPendingRequest() {
	worker := s.seedWorker(nil)

	report, err := s.service.EvaluateDue(s.ctx(), s.now)
	s.NoError(err)
	s.Require().Len(report.Created, 1)
	s.Zero(report.Skipped)
	s.Empty(report.Errors)

	req := report.Created[0]
	s.Equal(worker.ID, req.WorkerID)
	s.Equal(worker.Amount, req.Amount)
	s.Equal(models.StatusPending, req.Status)
	s.Equal(models.IdempotencyKey(worker.ID, worker.Frequency, worker.NextDueDate), req.IdempotencyKey)

	// Creation is audited in the same transaction.
	entries, err := s.store.ListByEntity(context.Background(), req.ID)
	s.NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(models.ActionPaymentCreated, entries[0].Action)
	s.Equal(id.ActorScheduler, entries[0].Actor)
	s.Equal(int64(1), entries[0].Seq)
}

func (s *ScheduleServiceSuite) TestEvaluateDueIsIdempotent() {
	s.seedWorker(nil)

	first, err := s.service.EvaluateDue(s.ctx(), s.now)
	s.Require().NoError(err)
	s.Require().Len(first.Created, 1)

	// Re-running for the same period creates nothing new. This also covers
	// the crash-and-restart case: the idempotency key dedupes, not the clock.
	second, err := s.service.EvaluateDue(s.ctx(), s.now)
	s.NoError(err)
	s.Empty(second.Created)
	s.Equal(1, second.Skipped)

	pending, err := s.store.ListByStatus(context.Background(), models.StatusPending)
	s.NoError(err)
	s.Len(pending, 1)

	// No duplicate audit entry either.
	entries, err := s.store.ListByEntity(context.Background(), first.Created[0].ID)
	s.NoError(err)
	s.Len(entries, 1)
}

func (s *ScheduleServiceSuite) TestEvaluateDueSkipsNotDueAndInactive() {
	s.seedWorker(func(w *models.Worker) {
		w.NextDueDate = s.now.AddDate(0, 1, 0) // not due yet
	})
	s.seedWorker(func(w *models.Worker) {
		w.Name = "Ben"
		w.Active = false
	})

	report, err := s.service.EvaluateDue(s.ctx(), s.now)
	s.NoError(err)
	s.Empty(report.Created)
	s.Zero(report.Skipped)
	s.Empty(report.Errors)
}

func (s *ScheduleServiceSuite) TestEvaluateDueIsolatesWorkerErrors() {
	bad := s.seedWorker(func(w *models.Worker) {
		w.Name = "Broken"
		w.Amount = 0
	})
	good := s.seedWorker(func(w *models.Worker) {
		w.Name = "Zoe"
		w.Destination = "RCP_zoe"
	})

	report, err := s.service.EvaluateDue(s.ctx(), s.now)
	s.NoError(err, "one bad worker never aborts the run")
	s.Require().Len(report.Created, 1)
	s.Equal(good.ID, report.Created[0].WorkerID)
	s.Require().Len(report.Errors, 1)
	s.Equal(bad.ID, report.Errors[0].WorkerID)
}

func (s *ScheduleServiceSuite) TestEvaluateDueValidation() {
	cases := []struct {
		name   string
		mutate func(*models.Worker)
	}{
		{"unknown frequency", func(w *models.Worker) { w.Frequency = "fortnightly-ish" }},
		{"negative amount", func(w *models.Worker) { w.Amount = -1 }},
		{"missing destination", func(w *models.Worker) { w.Destination = "" }},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.SetupTest()
			s.seedWorker(tc.mutate)

			report, err := s.service.EvaluateDue(s.ctx(), s.now)
			s.NoError(err)
			s.Empty(report.Created)
			s.Len(report.Errors, 1)
		})
	}
}
