package repository

import (
	"context"
	"fmt"

	"github.com/xenking/legacyshop/internal/audit"
)

const insertAuditEntrySQL = `INSERT INTO audit_logs (operation, entity_type, entity_id, details)
	VALUES ($1, $2, $3, $4)`

var _ audit.Recorder = (*AuditRepository)(nil)

// AuditRepository appends audit entries to PostgreSQL.
type AuditRepository struct {
	db DB
}

// NewAuditRepository returns an AuditRepository that uses the given
// connection.
func NewAuditRepository(db DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record appends one entry.
func (r *AuditRepository) Record(ctx context.Context, op audit.Operation, entityType, entityID, details string) error {
	_, err := r.db.Exec(ctx, insertAuditEntrySQL, op, entityType, entityID, details)
	if err != nil {
		return fmt.Errorf("recording audit entry %s: %w", op, err)
	}
	return nil
}
