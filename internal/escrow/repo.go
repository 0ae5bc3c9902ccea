package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	"github.com/swapdesk/swapdesk-backend/pkg/enums"
)

// Repository exposes escrow transaction persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds an escrow transaction repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create inserts a new escrow transaction.
func (r *Repository) Create(ctx context.Context, txn *models.Transaction) (*models.Transaction, error) {
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		return nil, err
	}
	return txn, nil
}

// FindByID loads a transaction with its related aggregates.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Preload("Listing").
		Preload("Contract").
		Preload("Reveal").
		First(&txn, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// FindByPaymentReference loads the transaction minted with the reference.
func (r *Repository) FindByPaymentReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		First(&txn, "payment_reference = ?", reference).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// ListByBuyer returns a buyer's transactions, newest first.
func (r *Repository) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Preload("Listing").
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

// List returns transactions, optionally filtered by state, newest first.
func (r *Repository) List(ctx context.Context, state *enums.TransactionState, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Model(&models.Transaction{})
	if state != nil {
		query = query.Where("state = ?", *state)
	}
	var rows []models.Transaction
	err := query.Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// FindPendingBefore returns pending transactions created before the cutoff.
func (r *Repository) FindPendingBefore(ctx context.Context, cutoff time.Time) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("state = ? AND created_at < ?", enums.TransactionStatePending, cutoff).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// Advance moves the transaction from one exact state to another with a
// guarded update, applying extra column writes in the same statement. It
// reports whether this caller won the row; concurrent writers that lost the
// guard see zero rows and must re-read.
func (r *Repository) Advance(ctx context.Context, id uuid.UUID, from, to enums.TransactionState, extra map[string]any) (bool, error) {
	updates := map[string]any{"state": to}
	for column, value := range extra {
		updates[column] = value
	}
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND state = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
