package memory

import (
	"context"

	"payguard/internal/payroll/models"
	id "payguard/pkg/domain"
)

func (s *Store) appendAudit(entry *models.AuditEntry) error {
	cp := *entry
	s.nextAuditID++
	cp.ID = s.nextAuditID

	var seq int64
	for _, e := range s.audit {
		if e.EntityID == cp.EntityID && e.Seq > seq {
			seq = e.Seq
		}
	}
	cp.Seq = seq + 1

	s.audit = append(s.audit, &cp)
	entry.ID = cp.ID
	entry.Seq = cp.Seq
	return nil
}

func (s *Store) listByEntity(entityID id.PaymentID) []*models.AuditEntry {
	var out []*models.AuditEntry
	for _, e := range s.audit {
		if e.EntityID == entityID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

func (s *Store) listAfter(cursor int64, limit int) []*models.AuditEntry {
	var out []*models.AuditEntry
	for _, e := range s.audit {
		if e.ID <= cursor {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Public locked API (ports.AuditLog).

func (s *Store) Append(_ context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendAudit(entry)
}

func (s *Store) ListByEntity(_ context.Context, entityID id.PaymentID) ([]*models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listByEntity(entityID), nil
}

func (s *Store) ListAfter(_ context.Context, cursor int64, limit int) ([]*models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listAfter(cursor, limit), nil
}

type txAudit txView

func (v *txAudit) Append(_ context.Context, entry *models.AuditEntry) error {
	return v.store.appendAudit(entry)
}

func (v *txAudit) ListByEntity(_ context.Context, entityID id.PaymentID) ([]*models.AuditEntry, error) {
	return v.store.listByEntity(entityID), nil
}

func (v *txAudit) ListAfter(_ context.Context, cursor int64, limit int) ([]*models.AuditEntry, error) {
	return v.store.listAfter(cursor, limit), nil
}
