package contracts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/internal/legal"
	"github.com/swapdesk/swapdesk-backend/pkg/db"
	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	pkgerrors "github.com/swapdesk/swapdesk-backend/pkg/errors"
)

// escrowTerms is the canonical text the buyer signs. The stored hash pins
// each contract to the exact wording in force when it was signed.
const escrowTerms = `By typing your full legal name you agree that: (1) funds are held in ` +
	`escrow until you confirm access to the purchased account; (2) account ` +
	`credentials are revealed to you exactly once; (3) disputes are resolved ` +
	`by SwapDesk under the escrow terms, whose decision is final.`

// Signer records the buyer's typed-name signature for a transaction.
type Signer interface {
	Sign(ctx context.Context, tx *gorm.DB, txn *models.Transaction, buyer *models.User, signedName string) (*models.Contract, error)
	TermsVersion() string
	TermsHash() string
}

type signer struct {
	repo         *Repository
	termsVersion string
	termsHash    string
	now          func() time.Time
}

// NewSigner constructs a contract signer pinned to the current terms.
func NewSigner(repo *Repository) (Signer, error) {
	if repo == nil {
		return nil, fmt.Errorf("contract repository is required")
	}
	sum := sha256.Sum256([]byte(escrowTerms))
	return &signer{
		repo:         repo,
		termsVersion: legal.CurrentTermsVersion,
		termsHash:    hex.EncodeToString(sum[:]),
		now:          time.Now,
	}, nil
}

func (s *signer) TermsVersion() string { return s.termsVersion }
func (s *signer) TermsHash() string    { return s.termsHash }

// Sign validates the typed name against the buyer's legal name and inserts
// the contract inside the caller's transaction. The comparison ignores case
// and surrounding whitespace; anything else is a mismatch.
func (s *signer) Sign(ctx context.Context, tx *gorm.DB, txn *models.Transaction, buyer *models.User, signedName string) (*models.Contract, error) {
	if txn == nil || buyer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction and buyer are required")
	}
	typed := strings.TrimSpace(signedName)
	if typed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "signed name is required")
	}
	if !namesMatch(typed, buyer.LegalName) {
		return nil, pkgerrors.New(pkgerrors.CodeNameMismatch, "signed name does not match legal name on file")
	}

	contract := &models.Contract{
		TransactionID: txn.ID,
		SignedName:    typed,
		TermsVersion:  s.termsVersion,
		TermsHash:     s.termsHash,
		SignedAt:      s.now().UTC(),
	}
	if err := s.repo.WithTx(tx).Create(ctx, contract); err != nil {
		if db.IsUniqueViolation(err, "contracts") {
			return nil, pkgerrors.New(pkgerrors.CodeAlreadySigned, "contract already signed for this transaction")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store contract")
	}
	return contract, nil
}

func namesMatch(typed, legalName string) bool {
	return strings.EqualFold(typed, strings.TrimSpace(legalName))
}

// Repository persists contracts.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a contract repository.
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

// Create inserts a contract row.
func (r *Repository) Create(ctx context.Context, contract *models.Contract) error {
	return r.db.WithContext(ctx).Create(contract).Error
}

// FindByTransactionID loads the contract for a transaction, if one exists.
func (r *Repository) FindByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.Contract, error) {
	var contract models.Contract
	err := r.db.WithContext(ctx).First(&contract, "transaction_id = ?", transactionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &contract, nil
}
