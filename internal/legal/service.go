package legal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/pkg/db"
	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	pkgerrors "github.com/swapdesk/swapdesk-backend/pkg/errors"
)

// Document keys and current versions for the agreements the platform
// requires before money or credentials move.
const (
	DocumentTermsOfSale = "terms_of_sale"
	DocumentEscrowTerms = "escrow_terms"

	CurrentTermsVersion = "2025-03-01"
)

// Service gates escrow actions on recorded legal acceptance.
type Service interface {
	Acknowledge(ctx context.Context, userID uuid.UUID, documentKey, version string) error
	HasAccepted(ctx context.Context, userID uuid.UUID, documentKey, version string) (bool, error)
}

type service struct {
	repo *Repository
}

// NewService constructs the legal acknowledgment service.
func NewService(repo *Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("legal repository is required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Acknowledge(ctx context.Context, userID uuid.UUID, documentKey, version string) error {
	if documentKey == "" || version == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "document key and version are required")
	}
	err := s.repo.Create(ctx, &models.LegalAcknowledgment{
		UserID:         userID,
		DocumentKey:    documentKey,
		Version:        version,
		AcknowledgedAt: time.Now().UTC(),
	})
	if err != nil {
		// Re-acknowledging the same document version is a no-op.
		if db.IsUniqueViolation(err, "idx_legal_ack_user_doc_version", "legal_acknowledgments") {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record acknowledgment")
	}
	return nil
}

func (s *service) HasAccepted(ctx context.Context, userID uuid.UUID, documentKey, version string) (bool, error) {
	accepted, err := s.repo.Exists(ctx, userID, documentKey, version)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check acknowledgment")
	}
	return accepted, nil
}

// Repository persists legal acknowledgments.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a legal acknowledgment repository.
func NewRepository(database *gorm.DB) *Repository {
	return &Repository{db: database}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create inserts an acknowledgment row.
func (r *Repository) Create(ctx context.Context, ack *models.LegalAcknowledgment) error {
	return r.db.WithContext(ctx).Create(ack).Error
}

// Exists reports whether the user accepted the given document version.
func (r *Repository) Exists(ctx context.Context, userID uuid.UUID, documentKey, version string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.LegalAcknowledgment{}).
		Where("user_id = ? AND document_key = ? AND version = ?", userID, documentKey, version).
		Count(&count).Error
	return count > 0, err
}
