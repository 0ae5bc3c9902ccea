package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/internal/escrow"
	"github.com/swapdesk/swapdesk-backend/pkg/db"
	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	"github.com/swapdesk/swapdesk-backend/pkg/enums"
	pkgerrors "github.com/swapdesk/swapdesk-backend/pkg/errors"
	"github.com/swapdesk/swapdesk-backend/pkg/paystack"
)

// paymentConfirmer is the slice of the escrow engine the webhook needs.
type paymentConfirmer interface {
	ConfirmPayment(ctx context.Context, transactionID uuid.UUID, reference string) (*escrow.TransactionDTO, error)
}

// gatewayEvents maps Paystack event names onto our payment event types.
var gatewayEvents = map[string]enums.PaymentEventType{
	"charge.success":   enums.PaymentEventChargeSuccess,
	"charge.failed":    enums.PaymentEventChargeFailed,
	"refund.processed": enums.PaymentEventRefundSettled,
	"transfer.success": enums.PaymentEventTransferQueued,
}

// Service ingests payment gateway webhooks: verify, log, then drive the
// escrow engine.
type Service interface {
	HandleWebhook(ctx context.Context, signature string, body []byte) error
}

type service struct {
	repo      *Repository
	txns      *escrow.Repository
	confirmer paymentConfirmer
	secretKey string
	logger    zerolog.Logger
}

// ServiceParams bundles the dependencies for the payments service.
type ServiceParams struct {
	Repo      *Repository
	Txns      *escrow.Repository
	Confirmer paymentConfirmer
	SecretKey string
	Logger    zerolog.Logger
}

// NewService constructs the payments webhook service.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("payment event repository is required")
	case params.Txns == nil:
		return nil, fmt.Errorf("transaction repository is required")
	case params.Confirmer == nil:
		return nil, fmt.Errorf("payment confirmer is required")
	case params.SecretKey == "":
		return nil, fmt.Errorf("gateway secret key is required")
	}
	return &service{
		repo:      params.Repo,
		txns:      params.Txns,
		confirmer: params.Confirmer,
		secretKey: params.SecretKey,
		logger:    params.Logger.With().Str("component", "payments").Logger(),
	}, nil
}

// HandleWebhook verifies the delivery, records it exactly once, and on a
// successful charge confirms the matching escrow payment. Replays of an
// already-recorded gateway event are acknowledged without side effects.
func (s *service) HandleWebhook(ctx context.Context, signature string, body []byte) error {
	if !paystack.VerifySignature(s.secretKey, body, signature) {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature verification failed")
	}
	event, err := paystack.ParseWebhook(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook body")
	}
	eventType, known := gatewayEvents[event.Event]
	if !known {
		s.logger.Debug().Str("event", event.Event).Msg("ignoring unhandled gateway event")
		return nil
	}

	txn, err := s.txns.FindByPaymentReference(ctx, event.Data.Reference)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "look up payment reference")
	}

	row := &models.PaymentEvent{
		Type:           eventType,
		Reference:      event.Data.Reference,
		GatewayEventID: gatewayEventID(event),
		Payload:        event.Raw,
	}
	if txn != nil {
		row.TransactionID = &txn.ID
	}
	if err := s.repo.Create(ctx, row); err != nil {
		if db.IsUniqueViolation(err, "idx_payment_events_gateway_event_id", "payment_events") {
			s.logger.Info().
				Str("gateway_event_id", row.GatewayEventID).
				Msg("duplicate webhook delivery ignored")
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payment event")
	}

	if txn == nil {
		s.logger.Warn().
			Str("reference", event.Data.Reference).
			Str("event", event.Event).
			Msg("webhook references unknown transaction")
		return nil
	}

	if eventType == enums.PaymentEventChargeSuccess {
		if _, err := s.confirmer.ConfirmPayment(ctx, txn.ID, event.Data.Reference); err != nil {
			return err
		}
	}
	return nil
}

// gatewayEventID derives the dedupe key. Paystack sends a numeric charge id;
// deliveries without one fall back to event name + reference.
func gatewayEventID(event *paystack.WebhookEvent) string {
	if event.Data.ID != 0 {
		return event.Event + ":" + strconv.FormatInt(event.Data.ID, 10)
	}
	return event.Event + ":" + event.Data.Reference
}

// Repository persists payment events.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a payment event repository.
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

// Create inserts a payment event row.
func (r *Repository) Create(ctx context.Context, event *models.PaymentEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// ListByTransaction returns a transaction's gateway history, oldest first.
func (r *Repository) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.PaymentEvent, error) {
	var rows []models.PaymentEvent
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
