package vault

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
)

// Repository persists credential records.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a credential record repository.
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

// Create inserts a credential record. Records are immutable after insert.
func (r *Repository) Create(ctx context.Context, record *models.CredentialRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// FindByListingID loads the credential record for a listing.
func (r *Repository) FindByListingID(ctx context.Context, listingID uuid.UUID) (*models.CredentialRecord, error) {
	var record models.CredentialRecord
	err := r.db.WithContext(ctx).First(&record, "listing_id = ?", listingID).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}
