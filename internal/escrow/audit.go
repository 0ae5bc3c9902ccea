package escrow

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
)

// AuditRepository writes the append-only audit trail. Entries go into the
// same database transaction as the action they record, so a failed audit
// write aborts the action.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository builds an audit repository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *AuditRepository) WithTx(tx *gorm.DB) *AuditRepository {
	if tx == nil {
		return r
	}
	return &AuditRepository{db: tx}
}

// Record appends an audit entry.
func (r *AuditRepository) Record(ctx context.Context, entry *models.AuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListByTransaction returns a transaction's audit trail, oldest first.
func (r *AuditRepository) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.AuditEntry, error) {
	var rows []models.AuditEntry
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
