// Package memory provides in-memory implementations of the payroll stores
// and a transactional runner over them. It backs unit tests and the
// dev-mode server; postgres is the production backend.
package memory

import (
	"context"
	"sync"

	"payguard/internal/payroll/models"
	"payguard/internal/payroll/ports"
	id "payguard/pkg/domain"
)

// Store holds all payroll state behind one lock so RunInTx can snapshot and
// restore it atomically. It implements ports.Ledger, ports.AuditLog,
// ports.WorkerDirectory, and ports.TxRunner.
type Store struct {
	mu          sync.RWMutex
	payments    map[id.PaymentID]*models.PaymentRequest
	byKey       map[string]id.PaymentID
	workers     map[id.WorkerID]*models.Worker
	audit       []*models.AuditEntry
	nextAuditID int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		payments: make(map[id.PaymentID]*models.PaymentRequest),
		byKey:    make(map[string]id.PaymentID),
		workers:  make(map[id.WorkerID]*models.Worker),
	}
}

// snapshot captures the full state for rollback. Audit entries are immutable
// once appended, so copying the slice header suffices for them.
type snapshot struct {
	payments    map[id.PaymentID]*models.PaymentRequest
	byKey       map[string]id.PaymentID
	workers     map[id.WorkerID]*models.Worker
	audit       []*models.AuditEntry
	nextAuditID int64
}

func (s *Store) take() snapshot {
	snap := snapshot{
		payments:    make(map[id.PaymentID]*models.PaymentRequest, len(s.payments)),
		byKey:       make(map[string]id.PaymentID, len(s.byKey)),
		workers:     make(map[id.WorkerID]*models.Worker, len(s.workers)),
		audit:       s.audit[:len(s.audit):len(s.audit)],
		nextAuditID: s.nextAuditID,
	}
	for k, v := range s.payments {
		snap.payments[k] = v.Clone()
	}
	for k, v := range s.byKey {
		snap.byKey[k] = v
	}
	for k, v := range s.workers {
		w := *v
		snap.workers[k] = &w
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.payments = snap.payments
	s.byKey = snap.byKey
	s.workers = snap.workers
	s.audit = snap.audit
	s.nextAuditID = snap.nextAuditID
}

// RunInTx runs fn against the store under the write lock. If fn returns an
// error, every mutation it made is rolled back, including audit appends.
func (s *Store) RunInTx(ctx context.Context, fn func(tx ports.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.take()
	if err := fn(&txView{store: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// txView exposes the unlocked store methods inside a transaction. The outer
// lock is already held, so the view must not re-enter the locked API.
type txView struct {
	store *Store
}

func (v *txView) Ledger() ports.Ledger           { return (*txLedger)(v) }
func (v *txView) Audit() ports.AuditLog          { return (*txAudit)(v) }
func (v *txView) Workers() ports.WorkerDirectory { return (*txWorkers)(v) }
