package listings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	"github.com/swapdesk/swapdesk-backend/pkg/enums"
	pkgerrors "github.com/swapdesk/swapdesk-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CredentialSealer encrypts listing credentials at submission time.
type CredentialSealer interface {
	Seal(ctx context.Context, tx *gorm.DB, listingID uuid.UUID, input CredentialInput) (*models.CredentialRecord, error)
}

// sellerVerifier authenticates the seller's own account password before any
// credential material is accepted into the vault.
type sellerVerifier interface {
	VerifyCredentials(ctx context.Context, userID uuid.UUID, password string) error
}

// CredentialInput carries the plaintext login material a seller submits.
type CredentialInput struct {
	Username      string  `json:"username" validate:"required"`
	Password      string  `json:"password" validate:"required"`
	RecoveryEmail *string `json:"recovery_email,omitempty"`
	TwoFASecret   *string `json:"twofa_secret,omitempty"`
}

// CreateListingRequest is the seller submission payload. SellerPassword is
// the seller's own account password, re-verified at seal time so a stolen
// session alone cannot plant credentials.
type CreateListingRequest struct {
	Platform       string          `json:"platform" validate:"required"`
	Title          string          `json:"title" validate:"required"`
	Description    string          `json:"description"`
	PriceCents     int             `json:"price_cents" validate:"required,gt=0"`
	SellerPassword string          `json:"seller_password" validate:"required"`
	Credentials    CredentialInput `json:"credentials" validate:"required"`
}

// ReviewRequest is the admin approve/reject payload.
type ReviewRequest struct {
	Approve bool    `json:"approve"`
	Note    *string `json:"note,omitempty"`
}

// ListingDTO is the transport shape; credential material never leaves the
// vault through this type, only presence flags do.
type ListingDTO struct {
	ID               uuid.UUID          `json:"id"`
	SellerID         uuid.UUID          `json:"seller_id"`
	Platform         string             `json:"platform"`
	Title            string             `json:"title"`
	Description      string             `json:"description,omitempty"`
	PriceCents       int                `json:"price_cents"`
	Currency         enums.Currency     `json:"currency"`
	State            enums.ListingState `json:"state"`
	HasRecoveryEmail bool               `json:"has_recovery_email"`
	HasTwoFASecret   bool               `json:"has_twofa_secret"`
}

// Service defines listing lifecycle operations outside the purchase path.
type Service interface {
	Create(ctx context.Context, sellerID uuid.UUID, req CreateListingRequest) (*ListingDTO, error)
	Review(ctx context.Context, listingID uuid.UUID, req ReviewRequest) (*ListingDTO, error)
	Get(ctx context.Context, listingID uuid.UUID) (*ListingDTO, error)
	ListMarket(ctx context.Context, limit int) ([]ListingDTO, error)
	ListMine(ctx context.Context, sellerID uuid.UUID) ([]ListingDTO, error)
}

type service struct {
	repo     *Repository
	tx       txRunner
	sealer   CredentialSealer
	identity sellerVerifier
}

// ServiceParams bundles the dependencies for the listings service.
type ServiceParams struct {
	Repo     *Repository
	Tx       txRunner
	Sealer   CredentialSealer
	Identity sellerVerifier
}

// NewService constructs the listings service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("listings repository is required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	if params.Sealer == nil {
		return nil, fmt.Errorf("credential sealer is required")
	}
	if params.Identity == nil {
		return nil, fmt.Errorf("seller verifier is required")
	}
	return &service{repo: params.Repo, tx: params.Tx, sealer: params.Sealer, identity: params.Identity}, nil
}

func (s *service) Create(ctx context.Context, sellerID uuid.UUID, req CreateListingRequest) (*ListingDTO, error) {
	if strings.TrimSpace(req.Platform) == "" || strings.TrimSpace(req.Title) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "platform and title are required")
	}
	if req.PriceCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must be positive")
	}
	if strings.TrimSpace(req.Credentials.Username) == "" || req.Credentials.Password == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account credentials are required")
	}
	if req.SellerPassword == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller password is required")
	}
	if err := s.identity.VerifyCredentials(ctx, sellerID, req.SellerPassword); err != nil {
		return nil, err
	}

	var created *models.Listing
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		listing, err := repo.Create(ctx, &models.Listing{
			SellerID:    sellerID,
			Platform:    strings.TrimSpace(req.Platform),
			Title:       strings.TrimSpace(req.Title),
			Description: req.Description,
			PriceCents:  req.PriceCents,
			Currency:    enums.CurrencyUSD,
			State:       enums.ListingStatePendingReview,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create listing")
		}
		record, err := s.sealer.Seal(ctx, tx, listing.ID, req.Credentials)
		if err != nil {
			return err
		}
		listing.Credential = record
		created = listing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fromModel(created), nil
}

func (s *service) Review(ctx context.Context, listingID uuid.UUID, req ReviewRequest) (*ListingDTO, error) {
	listing, err := s.findListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.State != enums.ListingStatePendingReview {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "listing is not awaiting review")
	}

	next := enums.ListingStateApproved
	if !req.Approve {
		next = enums.ListingStateRejected
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateState(ctx, listingID, next); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update listing state")
		}
		if !req.Approve && req.Note != nil {
			if err := tx.WithContext(ctx).
				Model(&models.Listing{}).
				Where("id = ?", listingID).
				Update("rejected_note", req.Note).Error; err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record rejection note")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	listing.State = next
	listing.RejectedNote = req.Note
	return fromModel(listing), nil
}

func (s *service) Get(ctx context.Context, listingID uuid.UUID) (*ListingDTO, error) {
	listing, err := s.findListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	return fromModel(listing), nil
}

func (s *service) ListMarket(ctx context.Context, limit int) ([]ListingDTO, error) {
	rows, err := s.repo.ListByState(ctx, enums.ListingStateApproved, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list market")
	}
	return fromModels(rows), nil
}

func (s *service) ListMine(ctx context.Context, sellerID uuid.UUID) ([]ListingDTO, error) {
	rows, err := s.repo.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list seller listings")
	}
	return fromModels(rows), nil
}

func (s *service) findListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	listing, err := s.repo.FindByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load listing")
	}
	return listing, nil
}

func fromModel(l *models.Listing) *ListingDTO {
	if l == nil {
		return nil
	}
	dto := &ListingDTO{
		ID:          l.ID,
		SellerID:    l.SellerID,
		Platform:    l.Platform,
		Title:       l.Title,
		Description: l.Description,
		PriceCents:  l.PriceCents,
		Currency:    l.Currency,
		State:       l.State,
	}
	if l.Credential != nil {
		dto.HasRecoveryEmail = l.Credential.HasRecoveryEmail()
		dto.HasTwoFASecret = l.Credential.HasTwoFASecret()
	}
	return dto
}

func fromModels(rows []models.Listing) []ListingDTO {
	out := make([]ListingDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *fromModel(&rows[i]))
	}
	return out
}
