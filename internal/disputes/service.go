package disputes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/internal/escrow"
	"github.com/swapdesk/swapdesk-backend/internal/listings"
	"github.com/swapdesk/swapdesk-backend/internal/reveal"
	"github.com/swapdesk/swapdesk-backend/pkg/config"
	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	"github.com/swapdesk/swapdesk-backend/pkg/enums"
	pkgerrors "github.com/swapdesk/swapdesk-backend/pkg/errors"
	"github.com/swapdesk/swapdesk-backend/pkg/metrics"
	"github.com/swapdesk/swapdesk-backend/pkg/outbox"
	"github.com/swapdesk/swapdesk-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Actor identifies who is acting on a dispute.
type Actor struct {
	ID   uuid.UUID
	Role enums.UserRole
}

// ResolutionDTO reports the outcome of a dispute action.
type ResolutionDTO struct {
	TransactionID uuid.UUID              `json:"transaction_id"`
	State         enums.TransactionState `json:"state"`
	Reason        string                 `json:"reason"`
	ActedAt       time.Time              `json:"acted_at"`
}

// Service freezes and resolves escrow transactions. Every action writes an
// audit entry in the same database transaction; if the audit write fails the
// action does not happen.
type Service interface {
	Raise(ctx context.Context, transactionID uuid.UUID, actor Actor, reason string) (*ResolutionDTO, error)
	ForceRelease(ctx context.Context, transactionID uuid.UUID, actor Actor, reason string) (*ResolutionDTO, error)
	ForceRefund(ctx context.Context, transactionID uuid.UUID, actor Actor, reason string) (*ResolutionDTO, error)
	AuditTrail(ctx context.Context, transactionID uuid.UUID) ([]models.AuditEntry, error)
}

type service struct {
	transactions *escrow.Repository
	audits       *escrow.AuditRepository
	listings     *listings.Repository
	reveals      *reveal.Repository
	tx           txRunner
	events       outboxEmitter
	metrics      *metrics.EscrowMetrics
	cfg          config.EscrowConfig
	logger       zerolog.Logger
	now          func() time.Time
}

// ServiceParams bundles the dependencies for the dispute resolver.
type ServiceParams struct {
	Transactions *escrow.Repository
	Audits       *escrow.AuditRepository
	Listings     *listings.Repository
	Reveals      *reveal.Repository
	Tx           txRunner
	Events       outboxEmitter
	Metrics      *metrics.EscrowMetrics
	Config       config.EscrowConfig
	Logger       zerolog.Logger
}

// NewService constructs the dispute resolver.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Transactions == nil:
		return nil, fmt.Errorf("transaction repository is required")
	case params.Audits == nil:
		return nil, fmt.Errorf("audit repository is required")
	case params.Listings == nil:
		return nil, fmt.Errorf("listings repository is required")
	case params.Reveals == nil:
		return nil, fmt.Errorf("reveal repository is required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner is required")
	case params.Events == nil:
		return nil, fmt.Errorf("outbox emitter is required")
	}
	return &service{
		transactions: params.Transactions,
		audits:       params.Audits,
		listings:     params.Listings,
		reveals:      params.Reveals,
		tx:           params.Tx,
		events:       params.Events,
		metrics:      params.Metrics,
		cfg:          params.Config,
		logger:       params.Logger.With().Str("component", "disputes").Logger(),
		now:          time.Now,
	}, nil
}

// Raise freezes an in-flight escrow. Buyer, seller, or a super admin may
// raise; the reason becomes part of the permanent record.
func (s *service) Raise(ctx context.Context, transactionID uuid.UUID, actor Actor, reason string) (*ResolutionDTO, error) {
	reason, err := s.checkReason(reason)
	if err != nil {
		return nil, err
	}
	txn, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if actor.ID != txn.BuyerID && actor.ID != txn.SellerID && actor.Role != enums.UserRoleSuperAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the transaction parties may raise a dispute")
	}
	if !escrow.CanTransition(txn.State, enums.TransactionStateDisputed) {
		return nil, s.transitionError(txn.State, enums.TransactionStateDisputed)
	}

	now := s.now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won, err := s.transactions.WithTx(tx).Advance(ctx, txn.ID,
			txn.State, enums.TransactionStateDisputed,
			map[string]any{"disputed_at": now, "dispute_reason": reason})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark disputed")
		}
		if !won {
			return s.transitionError(txn.State, enums.TransactionStateDisputed)
		}
		if err := s.audits.WithTx(tx).Record(ctx, &models.AuditEntry{
			TransactionID: txn.ID,
			ActorID:       actor.ID,
			Action:        enums.AuditActionDisputeRaised,
			Reason:        reason,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record dispute audit")
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeRaised,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         &outbox.ActorRef{UserID: actor.ID, Role: string(actor.Role)},
			Data: payloads.DisputeRaisedEvent{
				TransactionID: txn.ID,
				RaisedByID:    actor.ID,
				Reason:        reason,
				DisputedAt:    now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncDispute()
		s.metrics.ObserveTransition(txn.State, enums.TransactionStateDisputed)
	}
	s.logger.Warn().
		Str("transaction_id", txn.ID.String()).
		Str("raised_by", actor.ID.String()).
		Msg("dispute raised")
	return &ResolutionDTO{
		TransactionID: txn.ID,
		State:         enums.TransactionStateDisputed,
		Reason:        reason,
		ActedAt:       now,
	}, nil
}

// ForceRelease settles a dispute in the seller's favor: the escrow completes
// and the listing is sold. Super admin only.
func (s *service) ForceRelease(ctx context.Context, transactionID uuid.UUID, actor Actor, reason string) (*ResolutionDTO, error) {
	return s.resolve(ctx, transactionID, actor, reason, enums.AuditActionForceRelease)
}

// ForceRefund settles a dispute in the buyer's favor: funds return and the
// listing goes back on the market. Super admin only.
func (s *service) ForceRefund(ctx context.Context, transactionID uuid.UUID, actor Actor, reason string) (*ResolutionDTO, error) {
	return s.resolve(ctx, transactionID, actor, reason, enums.AuditActionForceRefund)
}

func (s *service) resolve(ctx context.Context, transactionID uuid.UUID, actor Actor, reason string, action enums.AuditAction) (*ResolutionDTO, error) {
	if actor.Role != enums.UserRoleSuperAdmin {
		return nil, pkgerrors.New(pkgerrors.CodePrivilegeDenied, "dispute resolution requires super admin privileges")
	}
	reason, err := s.checkReason(reason)
	if err != nil {
		return nil, err
	}
	txn, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	target := enums.TransactionStateCompleted
	if action == enums.AuditActionForceRefund {
		target = enums.TransactionStateRefunded
	}
	// pending -> refunded is reserved for the payment window sweep; there
	// is nothing held to release or refund before funds arrive.
	if txn.State == enums.TransactionStatePending {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidStateTransition,
			"no funds are held on a pending transaction")
	}
	if !escrow.CanTransition(txn.State, target) {
		return nil, s.transitionError(txn.State, target)
	}

	now := s.now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		updates := map[string]any{}
		if target == enums.TransactionStateCompleted {
			commission := txn.AmountCents * s.cfg.CommissionPercent / 100
			updates["completed_at"] = now
			updates["commission_cents"] = commission
			updates["payout_cents"] = txn.AmountCents - commission
		} else {
			updates["refunded_at"] = now
		}
		won, err := s.transactions.WithTx(tx).Advance(ctx, txn.ID, txn.State, target, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "apply resolution")
		}
		if !won {
			return s.transitionError(txn.State, target)
		}
		if err := s.audits.WithTx(tx).Record(ctx, &models.AuditEntry{
			TransactionID: txn.ID,
			ActorID:       actor.ID,
			Action:        action,
			Reason:        reason,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record resolution audit")
		}
		if err := s.settleListing(ctx, tx, txn, target, now); err != nil {
			return err
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeResolved,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         &outbox.ActorRef{UserID: actor.ID, Role: string(actor.Role)},
			Data: payloads.DisputeResolvedEvent{
				TransactionID: txn.ID,
				ResolvedByID:  actor.ID,
				Action:        action,
				ResolvedAt:    now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncOverride(action)
		s.metrics.ObserveTransition(txn.State, target)
	}
	s.logger.Warn().
		Str("transaction_id", txn.ID.String()).
		Str("action", action.String()).
		Str("resolved_by", actor.ID.String()).
		Msg("dispute resolved by override")
	return &ResolutionDTO{
		TransactionID: txn.ID,
		State:         target,
		Reason:        reason,
		ActedAt:       now,
	}, nil
}

// settleListing moves the listing to its terminal home: sold on release,
// back to the market on refund. The reveal row, when present, is consumed on
// release so the transaction reads as fully settled.
func (s *service) settleListing(ctx context.Context, tx *gorm.DB, txn *models.Transaction, target enums.TransactionState, now time.Time) error {
	if target == enums.TransactionStateCompleted {
		sold, err := s.listings.WithTx(tx).MarkSold(ctx, txn.ListingID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark listing sold")
		}
		if !sold {
			s.logger.Warn().
				Str("transaction_id", txn.ID.String()).
				Str("listing_id", txn.ListingID.String()).
				Msg("listing was not in reserved state at forced release")
		}
		if txn.Reveal != nil {
			if err := s.reveals.WithTx(tx).MarkConsumed(ctx, txn.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "consume reveal")
			}
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTransactionCompleted,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Data: payloads.TransactionCompletedEvent{
				TransactionID:   txn.ID,
				SellerID:        txn.SellerID,
				AmountCents:     txn.AmountCents,
				CommissionCents: txn.AmountCents * s.cfg.CommissionPercent / 100,
				PayoutCents:     txn.AmountCents - txn.AmountCents*s.cfg.CommissionPercent/100,
				CompletedAt:     now,
			},
		})
	}

	released, err := s.listings.WithTx(tx).Release(ctx, txn.ListingID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release listing")
	}
	if !released {
		s.logger.Warn().
			Str("transaction_id", txn.ID.String()).
			Str("listing_id", txn.ListingID.String()).
			Msg("listing was not in reserved state at forced refund")
	}
	if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventListingReleased,
		AggregateType: enums.AggregateListing,
		AggregateID:   txn.ListingID,
		Data:          payloads.ListingReleasedEvent{ListingID: txn.ListingID, TransactionID: txn.ID},
	}); err != nil {
		return err
	}
	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventTransactionRefunded,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   txn.ID,
		Data: payloads.TransactionRefundedEvent{
			TransactionID: txn.ID,
			BuyerID:       txn.BuyerID,
			AmountCents:   txn.AmountCents,
			RefundedAt:    now,
		},
	})
}

func (s *service) AuditTrail(ctx context.Context, transactionID uuid.UUID) ([]models.AuditEntry, error) {
	entries, err := s.audits.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load audit trail")
	}
	return entries, nil
}

func (s *service) checkReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) < s.cfg.DisputeReasonMinimum {
		return "", pkgerrors.New(pkgerrors.CodeReasonTooShort,
			fmt.Sprintf("reason must be at least %d characters", s.cfg.DisputeReasonMinimum))
	}
	return reason, nil
}

func (s *service) load(ctx context.Context, transactionID uuid.UUID) (*models.Transaction, error) {
	txn, err := s.transactions.FindByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load transaction")
	}
	return txn, nil
}

func (s *service) transitionError(from, to enums.TransactionState) error {
	if from.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeTransactionFinalized, "transaction is finalized")
	}
	return pkgerrors.New(pkgerrors.CodeInvalidStateTransition,
		"cannot move transaction from "+from.String()+" to "+to.String())
}
