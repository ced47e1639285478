package memory

import (
	"context"
	"sort"
	"time"

	"payguard/internal/payroll/models"
	id "payguard/pkg/domain"
	derrors "payguard/pkg/domain-errors"
)

func (s *Store) listActiveDue(asOf time.Time) []*models.Worker {
	var out []*models.Worker
	for _, w := range s.workers {
		if w.Active && !w.NextDueDate.After(asOf) {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) getWorker(workerID id.WorkerID) (*models.Worker, error) {
	w, ok := s.workers[workerID]
	if !ok {
		return nil, derrors.Newf(derrors.CodeNotFound, "worker %s not found", workerID)
	}
	cp := *w
	return &cp, nil
}

func (s *Store) advanceNextDueDate(workerID id.WorkerID, next time.Time) error {
	w, ok := s.workers[workerID]
	if !ok {
		return derrors.Newf(derrors.CodeNotFound, "worker %s not found", workerID)
	}
	w.NextDueDate = next
	return nil
}

// PutWorker seeds or replaces a worker record. The worker directory
// collaborator owns worker CRUD; this exists for dev mode and tests.
func (s *Store) PutWorker(w *models.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.workers[w.ID] = &cp
}

// Public locked API (ports.WorkerDirectory).

func (s *Store) ListActiveDue(_ context.Context, asOf time.Time) ([]*models.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listActiveDue(asOf), nil
}

func (s *Store) GetWorker(ctx context.Context, workerID id.WorkerID) (*models.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getWorker(workerID)
}

func (s *Store) AdvanceNextDueDate(_ context.Context, workerID id.WorkerID, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceNextDueDate(workerID, next)
}

// dirView adapts Store to ports.WorkerDirectory outside transactions; the
// method set clashes with the ledger's Get otherwise.
type dirView struct{ s *Store }

// Directory returns the store's worker-directory view.
func (s *Store) Directory() dirView { return dirView{s: s} }

func (d dirView) ListActiveDue(ctx context.Context, asOf time.Time) ([]*models.Worker, error) {
	return d.s.ListActiveDue(ctx, asOf)
}

func (d dirView) Get(ctx context.Context, workerID id.WorkerID) (*models.Worker, error) {
	return d.s.GetWorker(ctx, workerID)
}

func (d dirView) AdvanceNextDueDate(ctx context.Context, workerID id.WorkerID, next time.Time) error {
	return d.s.AdvanceNextDueDate(ctx, workerID, next)
}

type txWorkers txView

func (v *txWorkers) ListActiveDue(_ context.Context, asOf time.Time) ([]*models.Worker, error) {
	return v.store.listActiveDue(asOf), nil
}

func (v *txWorkers) Get(_ context.Context, workerID id.WorkerID) (*models.Worker, error) {
	return v.store.getWorker(workerID)
}

func (v *txWorkers) AdvanceNextDueDate(_ context.Context, workerID id.WorkerID, next time.Time) error {
	return v.store.advanceNextDueDate(workerID, next)
}
