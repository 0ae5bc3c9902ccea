package listings

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	"github.com/swapdesk/swapdesk-backend/pkg/enums"
)

// Repository exposes listing persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a listings repository bound to the provided DB.
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

// Create inserts a new listing.
func (r *Repository) Create(ctx context.Context, listing *models.Listing) (*models.Listing, error) {
	if err := r.db.WithContext(ctx).Create(listing).Error; err != nil {
		return nil, err
	}
	return listing, nil
}

// FindByID loads a listing with its credential record.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	err := r.db.WithContext(ctx).
		Preload("Credential").
		First(&listing, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// ListByState returns listings in the given state, newest first.
func (r *Repository) ListByState(ctx context.Context, state enums.ListingState, limit int) ([]models.Listing, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.Listing
	err := r.db.WithContext(ctx).
		Where("state = ?", state).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListBySeller returns a seller's listings, newest first.
func (r *Repository) ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]models.Listing, error) {
	var rows []models.Listing
	err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

// UpdateState moves a listing between states without a guard. Review flows
// use this; purchase flows must go through Reserve/Release/MarkSold.
func (r *Repository) UpdateState(ctx context.Context, id uuid.UUID, state enums.ListingState) error {
	return r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ?", id).
		Update("state", state).Error
}

// Reserve atomically moves an approved listing to reserved. It reports
// whether this caller won the row; a concurrent purchase that got there
// first leaves RowsAffected at zero.
func (r *Repository) Reserve(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ? AND state = ?", id, enums.ListingStateApproved).
		Update("state", enums.ListingStateReserved)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Release returns a reserved listing to the market.
func (r *Repository) Release(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ? AND state = ?", id, enums.ListingStateReserved).
		Update("state", enums.ListingStateApproved)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkSold finalizes a reserved listing after escrow completes.
func (r *Repository) MarkSold(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ? AND state = ?", id, enums.ListingStateReserved).
		Update("state", enums.ListingStateSold)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
