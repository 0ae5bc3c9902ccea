package reveal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/pkg/db"
	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	pkgerrors "github.com/swapdesk/swapdesk-backend/pkg/errors"
)

// leaseStore mirrors the reveal countdown into redis. The database row is
// authoritative; the lease only feeds the client-side timer.
type leaseStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	RevealLeaseKey(transactionID string) string
}

// Manager issues the single permitted reveal window per transaction.
type Manager struct {
	repo   *Repository
	leases leaseStore
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// ManagerParams bundles the dependencies for the reveal manager.
type ManagerParams struct {
	Repo   *Repository
	Leases leaseStore
	TTL    time.Duration
	Logger zerolog.Logger
}

// NewManager constructs the reveal session manager.
func NewManager(params ManagerParams) (*Manager, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("reveal repository is required")
	}
	if params.TTL <= 0 {
		return nil, fmt.Errorf("reveal ttl must be positive")
	}
	return &Manager{
		repo:   params.Repo,
		leases: params.Leases,
		ttl:    params.TTL,
		logger: params.Logger.With().Str("component", "reveal").Logger(),
		now:    time.Now,
	}, nil
}

// Grant records the one-time reveal inside the caller's transaction. The
// unique index on transaction_id is the enforcement point: losing the insert
// race, or granting after any earlier grant, returns ALREADY_REVEALED no
// matter how long ago the window expired.
func (m *Manager) Grant(ctx context.Context, tx *gorm.DB, transactionID, revealedTo uuid.UUID) (*models.RevealEvent, error) {
	now := m.now().UTC()
	event := &models.RevealEvent{
		TransactionID: transactionID,
		RevealedToID:  revealedTo,
		RevealedAt:    now,
		ExpiresAt:     now.Add(m.ttl),
	}
	if err := m.repo.WithTx(tx).Create(ctx, event); err != nil {
		if db.IsUniqueViolation(err, "idx_reveal_events_transaction_id", "reveal_events") {
			return nil, pkgerrors.New(pkgerrors.CodeAlreadyRevealed, "credentials were already revealed for this transaction")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record reveal")
	}
	return event, nil
}

// MirrorLease writes the countdown lease after the grant commits. Failures
// are logged and swallowed; the reveal has already happened.
func (m *Manager) MirrorLease(ctx context.Context, event *models.RevealEvent) {
	if m.leases == nil || event == nil {
		return
	}
	ttl := time.Until(event.ExpiresAt)
	if ttl <= 0 {
		return
	}
	key := m.leases.RevealLeaseKey(event.TransactionID.String())
	if err := m.leases.Set(ctx, key, event.ExpiresAt.UTC().Format(time.RFC3339), ttl); err != nil {
		m.logger.Warn().
			Err(err).
			Str("transaction_id", event.TransactionID.String()).
			Msg("failed to mirror reveal lease")
	}
}

// Status returns the reveal event for a transaction, or nil when none exists.
func (m *Manager) Status(ctx context.Context, transactionID uuid.UUID) (*models.RevealEvent, error) {
	event, err := m.repo.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load reveal")
	}
	return event, nil
}

// Consume marks the reveal as used up at access confirmation.
func (m *Manager) Consume(ctx context.Context, tx *gorm.DB, transactionID uuid.UUID) error {
	if err := m.repo.WithTx(tx).MarkConsumed(ctx, transactionID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "consume reveal")
	}
	return nil
}

// TimeRemaining reports how much of the viewing window is left, clamped at
// zero once the window closes.
func (m *Manager) TimeRemaining(event *models.RevealEvent) time.Duration {
	if event == nil {
		return 0
	}
	remaining := event.ExpiresAt.Sub(m.now().UTC())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Repository persists reveal events.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a reveal event repository.
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

// Create inserts a reveal event.
func (r *Repository) Create(ctx context.Context, event *models.RevealEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// FindByTransactionID loads the reveal event for a transaction, if any.
func (r *Repository) FindByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.RevealEvent, error) {
	var event models.RevealEvent
	err := r.db.WithContext(ctx).First(&event, "transaction_id = ?", transactionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// MarkConsumed flips the consumed flag for a transaction's reveal.
func (r *Repository) MarkConsumed(ctx context.Context, transactionID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.RevealEvent{}).
		Where("transaction_id = ?", transactionID).
		Update("consumed", true).Error
}
