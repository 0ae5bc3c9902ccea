package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/internal/contracts"
	"github.com/swapdesk/swapdesk-backend/internal/legal"
	"github.com/swapdesk/swapdesk-backend/internal/listings"
	"github.com/swapdesk/swapdesk-backend/internal/vault"
	"github.com/swapdesk/swapdesk-backend/pkg/config"
	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	"github.com/swapdesk/swapdesk-backend/pkg/enums"
	pkgerrors "github.com/swapdesk/swapdesk-backend/pkg/errors"
	"github.com/swapdesk/swapdesk-backend/pkg/metrics"
	"github.com/swapdesk/swapdesk-backend/pkg/outbox"
	"github.com/swapdesk/swapdesk-backend/pkg/outbox/payloads"
	"github.com/swapdesk/swapdesk-backend/pkg/paystack"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type credentialVault interface {
	Open(ctx context.Context, listingID uuid.UUID) (*vault.Credentials, error)
}

type passwordVerifier interface {
	VerifyCredentials(ctx context.Context, userID uuid.UUID, password string) error
}

type userLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type legalChecker interface {
	HasAccepted(ctx context.Context, userID uuid.UUID, documentKey, version string) (bool, error)
}

type checkoutGateway interface {
	InitializeTransaction(ctx context.Context, params paystack.InitializeTransactionParams) (*paystack.InitializedTransaction, error)
}

type amountQuoter interface {
	USDCentsToKobo(amountCents int) (int64, error)
}

type revealGranter interface {
	Grant(ctx context.Context, tx *gorm.DB, transactionID, revealedTo uuid.UUID) (*models.RevealEvent, error)
	MirrorLease(ctx context.Context, event *models.RevealEvent)
	Consume(ctx context.Context, tx *gorm.DB, transactionID uuid.UUID) error
	TimeRemaining(event *models.RevealEvent) time.Duration
}

// Service is the authoritative escrow engine. Every state transition goes
// through here; nothing else writes transaction states.
type Service interface {
	Initiate(ctx context.Context, buyerID, listingID uuid.UUID) (*TransactionDTO, error)
	ConfirmPayment(ctx context.Context, transactionID uuid.UUID, reference string) (*TransactionDTO, error)
	SignContract(ctx context.Context, transactionID, buyerID uuid.UUID, signedName string) (*TransactionDTO, error)
	Reveal(ctx context.Context, transactionID, buyerID uuid.UUID, password string) (*RevealResultDTO, error)
	ConfirmAccess(ctx context.Context, transactionID, buyerID uuid.UUID) (*TransactionDTO, error)
	Get(ctx context.Context, transactionID uuid.UUID) (*TransactionDTO, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]TransactionDTO, error)
	List(ctx context.Context, state *enums.TransactionState, limit int) ([]TransactionDTO, error)
}

type service struct {
	repo     *Repository
	listings *listings.Repository
	audits   *AuditRepository
	tx       txRunner
	vault    credentialVault
	identity passwordVerifier
	users    userLoader
	legals   legalChecker
	reveals  revealGranter
	signer   contracts.Signer
	events   outboxEmitter
	checkout checkoutGateway
	amounts  amountQuoter
	metrics  *metrics.EscrowMetrics
	cfg      config.EscrowConfig
	logger   zerolog.Logger
	now      func() time.Time
}

// ServiceParams bundles the dependencies for the escrow engine.
type ServiceParams struct {
	Repo         *Repository
	ListingsRepo *listings.Repository
	AuditRepo    *AuditRepository
	Tx           txRunner
	Vault        credentialVault
	Identity     passwordVerifier
	Users        userLoader
	Legal        legalChecker
	Reveals      revealGranter
	Signer       contracts.Signer
	Events       outboxEmitter
	Checkout     checkoutGateway
	Amounts      amountQuoter
	Metrics      *metrics.EscrowMetrics
	Config       config.EscrowConfig
	Logger       zerolog.Logger
}

// NewService constructs the escrow engine.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("transaction repository is required")
	case params.ListingsRepo == nil:
		return nil, fmt.Errorf("listings repository is required")
	case params.AuditRepo == nil:
		return nil, fmt.Errorf("audit repository is required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner is required")
	case params.Vault == nil:
		return nil, fmt.Errorf("credential vault is required")
	case params.Identity == nil:
		return nil, fmt.Errorf("password verifier is required")
	case params.Users == nil:
		return nil, fmt.Errorf("user loader is required")
	case params.Legal == nil:
		return nil, fmt.Errorf("legal checker is required")
	case params.Reveals == nil:
		return nil, fmt.Errorf("reveal manager is required")
	case params.Signer == nil:
		return nil, fmt.Errorf("contract signer is required")
	case params.Events == nil:
		return nil, fmt.Errorf("outbox emitter is required")
	case params.Checkout == nil:
		return nil, fmt.Errorf("checkout gateway is required")
	case params.Amounts == nil:
		return nil, fmt.Errorf("amount quoter is required")
	}
	return &service{
		repo:     params.Repo,
		listings: params.ListingsRepo,
		audits:   params.AuditRepo,
		tx:       params.Tx,
		vault:    params.Vault,
		identity: params.Identity,
		users:    params.Users,
		legals:   params.Legal,
		reveals:  params.Reveals,
		signer:   params.Signer,
		events:   params.Events,
		checkout: params.Checkout,
		amounts:  params.Amounts,
		metrics:  params.Metrics,
		cfg:      params.Config,
		logger:   params.Logger.With().Str("component", "escrow").Logger(),
		now:      time.Now,
	}, nil
}

// Initiate reserves the listing and opens a pending escrow transaction in
// one database transaction. Losing the reservation race yields
// LISTING_UNAVAILABLE; the loser's transaction row is never created.
func (s *service) Initiate(ctx context.Context, buyerID, listingID uuid.UUID) (*TransactionDTO, error) {
	accepted, err := s.legals.HasAccepted(ctx, buyerID, legal.DocumentEscrowTerms, legal.CurrentTermsVersion)
	if err != nil {
		return nil, err
	}
	if !accepted {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "escrow terms must be accepted before purchasing")
	}

	listing, err := s.listings.FindByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load listing")
	}
	if listing.SellerID == buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sellers cannot buy their own listing")
	}

	buyer, err := s.users.FindByID(ctx, buyerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load buyer")
	}
	amountKobo, err := s.amounts.USDCentsToKobo(listing.PriceCents)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "quote listing price")
	}

	reference := uuid.NewString()
	var created *models.Transaction
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won, err := s.listings.WithTx(tx).Reserve(ctx, listingID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reserve listing")
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeListingUnavailable, "listing is not available for purchase")
		}
		txn, err := s.repo.WithTx(tx).Create(ctx, &models.Transaction{
			ListingID:        listingID,
			BuyerID:          buyerID,
			SellerID:         listing.SellerID,
			AmountCents:      listing.PriceCents,
			Currency:         listing.Currency,
			State:            enums.TransactionStatePending,
			PaymentReference: &reference,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create transaction")
		}
		created = txn

		s.emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPurchaseInitiated,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         &outbox.ActorRef{UserID: buyerID, Role: string(enums.UserRoleBuyer)},
			Data: payloads.PurchaseInitiatedEvent{
				TransactionID: txn.ID,
				ListingID:     listingID,
				BuyerID:       buyerID,
				SellerID:      listing.SellerID,
				AmountCents:   txn.AmountCents,
			},
		})
		s.emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventListingReserved,
			AggregateType: enums.AggregateListing,
			AggregateID:   listingID,
			Data:          payloads.ListingReservedEvent{ListingID: listingID, TransactionID: txn.ID},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	dto := s.toDTO(created)
	// The hosted session is minted outside the database transaction. A
	// gateway outage leaves the purchase pending without a checkout URL;
	// the payment window sweep reclaims it if no payment ever lands.
	session, err := s.checkout.InitializeTransaction(ctx, paystack.InitializeTransactionParams{
		Email:      buyer.Email,
		AmountKobo: amountKobo,
		Reference:  reference,
		Metadata: map[string]any{
			"transaction_id": created.ID.String(),
			"listing_id":     listingID.String(),
		},
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("transaction_id", created.ID.String()).
			Msg("failed to open hosted checkout session")
	} else {
		dto.CheckoutURL = session.AuthorizationURL
	}

	s.logger.Info().
		Str("transaction_id", created.ID.String()).
		Str("listing_id", listingID.String()).
		Msg("purchase initiated")
	return dto, nil
}

// ConfirmPayment moves pending → funds_held once the gateway reference
// checks out. Re-confirming the same reference after funds are held is a
// read, not a write.
func (s *service) ConfirmPayment(ctx context.Context, transactionID uuid.UUID, reference string) (*TransactionDTO, error) {
	txn, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.PaymentReference == nil || *txn.PaymentReference != reference {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference mismatch")
	}
	if txn.State != enums.TransactionStatePending {
		if CanReconfirm(txn.State) {
			return s.toDTO(txn), nil
		}
		return nil, transitionError(txn.State, enums.TransactionStateFundsHeld)
	}

	now := s.now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won, err := s.repo.WithTx(tx).Advance(ctx, txn.ID,
			enums.TransactionStatePending, enums.TransactionStateFundsHeld,
			map[string]any{"funds_held_at": now})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hold funds")
		}
		if !won {
			// A concurrent confirm won; idempotent outcome.
			return nil
		}
		s.emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFundsHeld,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Data: payloads.FundsHeldEvent{
				TransactionID:    txn.ID,
				PaymentReference: reference,
				AmountCents:      txn.AmountCents,
				FundsHeldAt:      now,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.observeTransition(enums.TransactionStatePending, enums.TransactionStateFundsHeld)
	return s.Get(ctx, transactionID)
}

// SignContract records the buyer's typed-name signature and moves
// funds_held → contract_signed.
func (s *service) SignContract(ctx context.Context, transactionID, buyerID uuid.UUID, signedName string) (*TransactionDTO, error) {
	txn, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can sign the contract")
	}
	if txn.Contract != nil {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadySigned, "contract already signed for this transaction")
	}
	if txn.State != enums.TransactionStateFundsHeld {
		return nil, transitionError(txn.State, enums.TransactionStateContractSigned)
	}

	buyer, err := s.users.FindByID(ctx, buyerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load buyer")
	}

	now := s.now().UTC()
	var contract *models.Contract
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		contract, err = s.signer.Sign(ctx, tx, txn, buyer, signedName)
		if err != nil {
			return err
		}
		won, err := s.repo.WithTx(tx).Advance(ctx, txn.ID,
			enums.TransactionStateFundsHeld, enums.TransactionStateContractSigned,
			map[string]any{"contract_signed_at": now})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark contract signed")
		}
		if !won {
			return transitionError(enums.TransactionStateFundsHeld, enums.TransactionStateContractSigned)
		}
		s.emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventContractSigned,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         &outbox.ActorRef{UserID: buyerID, Role: string(enums.UserRoleBuyer)},
			Data: payloads.ContractSignedEvent{
				TransactionID: txn.ID,
				ContractID:    contract.ID,
				TermsVersion:  contract.TermsVersion,
				SignedAt:      contract.SignedAt,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.observeTransition(enums.TransactionStateFundsHeld, enums.TransactionStateContractSigned)
	return s.Get(ctx, transactionID)
}

// Reveal serves the plaintext credentials exactly once. The buyer re-enters
// their password; the unique reveal row and the contract_signed guard run in
// one database transaction, so a concurrent second call gets
// ALREADY_REVEALED and never sees plaintext.
func (s *service) Reveal(ctx context.Context, transactionID, buyerID uuid.UUID, password string) (*RevealResultDTO, error) {
	started := s.now()
	txn, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can reveal credentials")
	}
	if txn.Reveal != nil {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyRevealed, "credentials were already revealed for this transaction")
	}
	if txn.IsFinalized() {
		return nil, pkgerrors.New(pkgerrors.CodeTransactionFinalized, "transaction is finalized")
	}
	if txn.State != enums.TransactionStateContractSigned {
		return nil, pkgerrors.New(pkgerrors.CodeDecryptionDenied, "credentials are not releasable in the current state")
	}
	if err := s.identity.VerifyCredentials(ctx, buyerID, password); err != nil {
		return nil, err
	}

	creds, err := s.vault.Open(ctx, txn.ListingID)
	if err != nil {
		return nil, err
	}

	var event *models.RevealEvent
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		event, err = s.reveals.Grant(ctx, tx, txn.ID, buyerID)
		if err != nil {
			return err
		}
		won, err := s.repo.WithTx(tx).Advance(ctx, txn.ID,
			enums.TransactionStateContractSigned, enums.TransactionStateCredentialsReleased,
			map[string]any{"credentials_released_at": event.RevealedAt})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release credentials")
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeDecryptionDenied, "credentials are not releasable in the current state")
		}
		if err := s.audits.WithTx(tx).Record(ctx, &models.AuditEntry{
			TransactionID: txn.ID,
			ActorID:       buyerID,
			Action:        enums.AuditActionCredentialsRevealed,
			Reason:        "one-time credential reveal served to buyer",
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record reveal audit")
		}
		s.emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCredentialsRevealed,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         &outbox.ActorRef{UserID: buyerID, Role: string(enums.UserRoleBuyer)},
			Data: payloads.CredentialsRevealedEvent{
				TransactionID: txn.ID,
				RevealedToID:  buyerID,
				RevealedAt:    event.RevealedAt,
				ExpiresAt:     event.ExpiresAt,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.reveals.MirrorLease(ctx, event)
	s.observeTransition(enums.TransactionStateContractSigned, enums.TransactionStateCredentialsReleased)
	if s.metrics != nil {
		s.metrics.IncReveal()
		s.metrics.ObserveRevealDuration(s.now().Sub(started).Seconds())
	}
	s.logger.Info().
		Str("transaction_id", txn.ID.String()).
		Time("expires_at", event.ExpiresAt).
		Msg("credentials revealed")

	return &RevealResultDTO{
		TransactionID: txn.ID,
		Username:      creds.Username,
		Password:      creds.Password,
		RecoveryEmail: creds.RecoveryEmail,
		TwoFASecret:   creds.TwoFASecret,
		ExpiresAt:     event.ExpiresAt,
	}, nil
}

// ConfirmAccess settles the escrow: credentials_released → completed,
// commission and payout fixed, listing sold, reveal consumed.
func (s *service) ConfirmAccess(ctx context.Context, transactionID, buyerID uuid.UUID) (*TransactionDTO, error) {
	txn, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can confirm access")
	}
	if txn.State != enums.TransactionStateCredentialsReleased {
		return nil, transitionError(txn.State, enums.TransactionStateCompleted)
	}
	if txn.Reveal == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidStateTransition, "no credential reveal on record")
	}

	now := s.now().UTC()
	commission := txn.AmountCents * s.cfg.CommissionPercent / 100
	payout := txn.AmountCents - commission
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won, err := s.repo.WithTx(tx).Advance(ctx, txn.ID,
			enums.TransactionStateCredentialsReleased, enums.TransactionStateCompleted,
			map[string]any{
				"completed_at":     now,
				"commission_cents": commission,
				"payout_cents":     payout,
			})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete transaction")
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeTransactionFinalized, "transaction is finalized")
		}
		if err := s.reveals.Consume(ctx, tx, txn.ID); err != nil {
			return err
		}
		sold, err := s.listings.WithTx(tx).MarkSold(ctx, txn.ListingID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark listing sold")
		}
		if !sold {
			s.logger.Warn().
				Str("transaction_id", txn.ID.String()).
				Str("listing_id", txn.ListingID.String()).
				Msg("listing was not in reserved state at completion")
		}
		s.emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAccessConfirmed,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         &outbox.ActorRef{UserID: buyerID, Role: string(enums.UserRoleBuyer)},
			Data:          payloads.AccessConfirmedEvent{TransactionID: txn.ID, ConfirmedAt: now},
		})
		s.emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTransactionCompleted,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Data: payloads.TransactionCompletedEvent{
				TransactionID:   txn.ID,
				SellerID:        txn.SellerID,
				AmountCents:     txn.AmountCents,
				CommissionCents: commission,
				PayoutCents:     payout,
				CompletedAt:     now,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.observeTransition(enums.TransactionStateCredentialsReleased, enums.TransactionStateCompleted)
	s.logger.Info().
		Str("transaction_id", txn.ID.String()).
		Int("payout_cents", payout).
		Msg("escrow completed")
	return s.Get(ctx, transactionID)
}

func (s *service) Get(ctx context.Context, transactionID uuid.UUID) (*TransactionDTO, error) {
	txn, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return s.toDTO(txn), nil
}

func (s *service) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]TransactionDTO, error) {
	rows, err := s.repo.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list purchases")
	}
	return s.toDTOs(rows), nil
}

func (s *service) List(ctx context.Context, state *enums.TransactionState, limit int) ([]TransactionDTO, error) {
	rows, err := s.repo.List(ctx, state, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list transactions")
	}
	return s.toDTOs(rows), nil
}

func (s *service) toDTOs(rows []models.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *s.toDTO(&rows[i]))
	}
	return out
}

func (s *service) load(ctx context.Context, transactionID uuid.UUID) (*models.Transaction, error) {
	txn, err := s.repo.FindByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load transaction")
	}
	return txn, nil
}

// emit queues an outbox event; failures are logged but never abort the
// surrounding transition.
func (s *service) emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) {
	if err := s.events.Emit(ctx, tx, event); err != nil {
		payload, _ := json.Marshal(event.Data)
		s.logger.Error().
			Err(err).
			Str("event_type", string(event.EventType)).
			RawJSON("payload", payload).
			Msg("failed to queue outbox event")
	}
}

func (s *service) observeTransition(from, to enums.TransactionState) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(from, to)
	}
}

// CanReconfirm reports whether a payment confirmation for a held reference
// is an idempotent re-read rather than an error. Any state reachable after
// the payment was applied qualifies, disputed included.
func CanReconfirm(state enums.TransactionState) bool {
	switch state {
	case enums.TransactionStateFundsHeld,
		enums.TransactionStateContractSigned,
		enums.TransactionStateCredentialsReleased,
		enums.TransactionStateDisputed,
		enums.TransactionStateCompleted:
		return true
	default:
		return false
	}
}
