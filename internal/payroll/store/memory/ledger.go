package memory

import (
	"context"
	"sort"
	"time"

	"payguard/internal/payroll/models"
	"payguard/internal/payroll/ports"
	id "payguard/pkg/domain"
	derrors "payguard/pkg/domain-errors"
)

// Unlocked implementations shared by the public API and transaction views.

func (s *Store) createIfAbsent(req *models.PaymentRequest) (bool, error) {
	if _, exists := s.byKey[req.IdempotencyKey]; exists {
		return false, nil
	}
	s.payments[req.ID] = req.Clone()
	s.byKey[req.IdempotencyKey] = req.ID
	return true, nil
}

func (s *Store) get(paymentID id.PaymentID) (*models.PaymentRequest, error) {
	req, ok := s.payments[paymentID]
	if !ok {
		return nil, derrors.Newf(derrors.CodeNotFound, "payment request %s not found", paymentID)
	}
	return req.Clone(), nil
}

func (s *Store) update(req *models.PaymentRequest, expected models.Status) error {
	current, ok := s.payments[req.ID]
	if !ok {
		return derrors.Newf(derrors.CodeNotFound, "payment request %s not found", req.ID)
	}
	if current.Status != expected {
		return derrors.Newf(derrors.CodeConflict,
			"payment request %s is %s, expected %s", req.ID, current.Status, expected)
	}
	if req.Status != expected && !models.CanTransition(expected, req.Status) {
		return derrors.Newf(derrors.CodeInternal,
			"illegal transition %s -> %s for payment request %s", expected, req.Status, req.ID)
	}
	s.payments[req.ID] = req.Clone()
	return nil
}

func (s *Store) listByStatus(status models.Status) []*models.PaymentRequest {
	var out []*models.PaymentRequest
	for _, req := range s.payments {
		if req.Status == status {
			out = append(out, req.Clone())
		}
	}
	sortByCreated(out)
	return out
}

func (s *Store) listProcessingOlderThan(cutoff time.Time) []*models.PaymentRequest {
	var out []*models.PaymentRequest
	for _, req := range s.payments {
		if req.Status == models.StatusProcessing && req.ClaimedAt != nil && req.ClaimedAt.Before(cutoff) {
			out = append(out, req.Clone())
		}
	}
	sortByCreated(out)
	return out
}

func (s *Store) list(filter ports.HistoryFilter) []*models.PaymentRequest {
	var out []*models.PaymentRequest
	for _, req := range s.payments {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if !filter.WorkerID.IsNil() && req.WorkerID != filter.WorkerID {
			continue
		}
		out = append(out, req.Clone())
	}
	// Newest first for history listings.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func sortByCreated(reqs []*models.PaymentRequest) {
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })
}

// Public locked API (ports.Ledger).

func (s *Store) CreateIfAbsent(_ context.Context, req *models.PaymentRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createIfAbsent(req)
}

func (s *Store) Get(_ context.Context, paymentID id.PaymentID) (*models.PaymentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(paymentID)
}

func (s *Store) Update(_ context.Context, req *models.PaymentRequest, expected models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(req, expected)
}

func (s *Store) ListByStatus(_ context.Context, status models.Status) ([]*models.PaymentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listByStatus(status), nil
}

func (s *Store) ListProcessingOlderThan(_ context.Context, cutoff time.Time) ([]*models.PaymentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listProcessingOlderThan(cutoff), nil
}

func (s *Store) List(_ context.Context, filter ports.HistoryFilter) ([]*models.PaymentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(filter), nil
}

// Transaction view (lock already held by RunInTx).

type txLedger txView

func (v *txLedger) CreateIfAbsent(_ context.Context, req *models.PaymentRequest) (bool, error) {
	return v.store.createIfAbsent(req)
}

func (v *txLedger) Get(_ context.Context, paymentID id.PaymentID) (*models.PaymentRequest, error) {
	return v.store.get(paymentID)
}

func (v *txLedger) Update(_ context.Context, req *models.PaymentRequest, expected models.Status) error {
	return v.store.update(req, expected)
}

func (v *txLedger) ListByStatus(_ context.Context, status models.Status) ([]*models.PaymentRequest, error) {
	return v.store.listByStatus(status), nil
}

func (v *txLedger) ListProcessingOlderThan(_ context.Context, cutoff time.Time) ([]*models.PaymentRequest, error) {
	return v.store.listProcessingOlderThan(cutoff), nil
}

func (v *txLedger) List(_ context.Context, filter ports.HistoryFilter) ([]*models.PaymentRequest, error) {
	return v.store.list(filter), nil
}
