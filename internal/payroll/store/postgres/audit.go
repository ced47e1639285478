package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"payguard/internal/payroll/models"
	id "payguard/pkg/domain"
	derrors "payguard/pkg/domain-errors"
)

// AuditStore persists the append-only transition log. The per-entity
// sequence is assigned inside the insert so it stays gapless under the
// serializing transaction that wraps every transition.
type AuditStore struct {
	db dbtx
}

func (s *AuditStore) Append(ctx context.Context, entry *models.AuditEntry) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO payment_audit (entity_id, seq, actor, action, status, detail, source_ip, ts)
		VALUES (
			$1,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM payment_audit WHERE entity_id = $1),
			$2, $3, $4, $5, $6, $7
		)
		RETURNING id, seq
	`,
		uuid.UUID(entry.EntityID), string(entry.Actor), string(entry.Action),
		string(entry.Status), entry.Detail, entry.SourceIP, entry.Timestamp,
	)
	if err := row.Scan(&entry.ID, &entry.Seq); err != nil {
		return derrors.Wrap(err, derrors.CodeAuditWrite, "append audit entry")
	}
	return nil
}

func (s *AuditStore) ListByEntity(ctx context.Context, entityID id.PaymentID) ([]*models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, seq, actor, action, status, detail, source_ip, ts
		FROM payment_audit WHERE entity_id = $1 ORDER BY seq
	`, uuid.UUID(entityID))
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return collectAudit(rows)
}

func (s *AuditStore) ListAfter(ctx context.Context, cursor int64, limit int) ([]*models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, seq, actor, action, status, detail, source_ip, ts
		FROM payment_audit WHERE id > $1 ORDER BY id LIMIT $2
	`, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries after cursor: %w", err)
	}
	return collectAudit(rows)
}

func collectAudit(rows *sql.Rows) ([]*models.AuditEntry, error) {
	defer rows.Close()
	var out []*models.AuditEntry
	for rows.Next() {
		var (
			e        models.AuditEntry
			entityID uuid.UUID
			actor    string
			action   string
			status   string
		)
		if err := rows.Scan(&e.ID, &entityID, &e.Seq, &actor, &action, &status,
			&e.Detail, &e.SourceIP, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.EntityID = id.PaymentID(entityID)
		e.Actor = id.AdminID(actor)
		e.Action = models.Action(action)
		e.Status = models.Status(status)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}
