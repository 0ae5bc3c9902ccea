package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/internal/escrow"
	"github.com/swapdesk/swapdesk-backend/internal/listings"
	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	"github.com/swapdesk/swapdesk-backend/pkg/enums"
	"github.com/swapdesk/swapdesk-backend/pkg/logger"
	"github.com/swapdesk/swapdesk-backend/pkg/outbox"
	"github.com/swapdesk/swapdesk-backend/pkg/outbox/payloads"
)

const defaultPaymentWindow = 24 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type pendingTransactionReader interface {
	FindPendingBefore(ctx context.Context, cutoff time.Time) ([]models.Transaction, error)
}

type transactionAdvancer interface {
	Advance(ctx context.Context, id uuid.UUID, from, to enums.TransactionState, extra map[string]any) (bool, error)
}

type listingReleaser interface {
	Release(ctx context.Context, id uuid.UUID) (bool, error)
}

type escrowRepoFactory func(tx *gorm.DB) transactionAdvancer

type listingRepoFactory func(tx *gorm.DB) listingReleaser

func defaultEscrowRepo(tx *gorm.DB) transactionAdvancer {
	return escrow.NewRepository(tx)
}

func defaultListingRepo(tx *gorm.DB) listingReleaser {
	return listings.NewRepository(tx)
}

// PaymentWindowJobParams configure the pending purchase sweeper.
type PaymentWindowJobParams struct {
	Logger             *logger.Logger
	DB                 txRunner
	PendingReader      pendingTransactionReader
	Outbox             outboxEmitter
	Window             time.Duration
	EscrowRepoFactory  escrowRepoFactory
	ListingRepoFactory listingRepoFactory
}

// NewPaymentWindowJob builds the cron job that refunds purchases whose
// payment never arrived and puts their listings back on the market.
func NewPaymentWindowJob(params PaymentWindowJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.PendingReader == nil {
		return nil, fmt.Errorf("pending transactions reader required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	window := params.Window
	if window <= 0 {
		window = defaultPaymentWindow
	}
	escrowFactory := params.EscrowRepoFactory
	if escrowFactory == nil {
		escrowFactory = defaultEscrowRepo
	}
	listingFactory := params.ListingRepoFactory
	if listingFactory == nil {
		listingFactory = defaultListingRepo
	}
	return &paymentWindowJob{
		logg:           params.Logger,
		db:             params.DB,
		pendingReader:  params.PendingReader,
		outbox:         params.Outbox,
		window:         window,
		escrowFactory:  escrowFactory,
		listingFactory: listingFactory,
		now:            time.Now,
	}, nil
}

type paymentWindowJob struct {
	logg           *logger.Logger
	db             txRunner
	pendingReader  pendingTransactionReader
	outbox         outboxEmitter
	window         time.Duration
	escrowFactory  escrowRepoFactory
	listingFactory listingRepoFactory
	now            func() time.Time
}

func (j *paymentWindowJob) Name() string { return "payment-window" }

func (j *paymentWindowJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.window)
	stale, err := j.pendingReader.FindPendingBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("query stale pending transactions: %w", err)
	}
	var errs []error
	expired := 0
	for _, txn := range stale {
		won, err := j.expireTransaction(ctx, txn)
		if err != nil {
			errs = append(errs, fmt.Errorf("expire transaction %s: %w", txn.ID, err))
			continue
		}
		if won {
			expired++
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"stale":   len(stale),
		"expired": expired,
	})
	j.logg.Info(logCtx, "payment window sweep complete")
	return multierr.Combine(errs...)
}

// expireTransaction refunds a single stale pending purchase. The guarded
// state update decides the race against a late payment confirmation: if the
// buyer paid between the read and this write, zero rows match and the sweep
// leaves the transaction alone.
func (j *paymentWindowJob) expireTransaction(ctx context.Context, txn models.Transaction) (bool, error) {
	won := false
	if !escrow.CanTransition(enums.TransactionStatePending, enums.TransactionStateRefunded) {
		return false, fmt.Errorf("state machine rejects pending -> refunded")
	}
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		now := j.now().UTC()
		advanced, err := j.escrowFactory(tx).Advance(ctx, txn.ID, enums.TransactionStatePending, enums.TransactionStateRefunded, map[string]any{
			"refunded_at": now,
		})
		if err != nil {
			return err
		}
		if !advanced {
			return nil
		}
		won = true

		released, err := j.listingFactory(tx).Release(ctx, txn.ListingID)
		if err != nil {
			return err
		}
		if !released {
			logCtx := j.logg.WithFields(ctx, map[string]any{
				"transaction_id": txn.ID,
				"listing_id":     txn.ListingID,
			})
			j.logg.Warn(logCtx, "listing was not in reserved state during payment window sweep")
		}

		refundEvent := outbox.DomainEvent{
			EventType:     enums.EventTransactionRefunded,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Version:       1,
			OccurredAt:    now,
			Data: payloads.TransactionRefundedEvent{
				TransactionID: txn.ID,
				BuyerID:       txn.BuyerID,
				AmountCents:   txn.AmountCents,
				RefundedAt:    now,
			},
		}
		if err := j.outbox.Emit(ctx, tx, refundEvent); err != nil {
			return err
		}
		releaseEvent := outbox.DomainEvent{
			EventType:     enums.EventListingReleased,
			AggregateType: enums.AggregateListing,
			AggregateID:   txn.ListingID,
			Version:       1,
			OccurredAt:    now,
			Data: payloads.ListingReleasedEvent{
				ListingID:     txn.ListingID,
				TransactionID: txn.ID,
			},
		}
		return j.outbox.Emit(ctx, tx, releaseEvent)
	})
	return won, err
}
