package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	"github.com/swapdesk/swapdesk-backend/pkg/enums"
	"github.com/swapdesk/swapdesk-backend/pkg/logger"
	"github.com/swapdesk/swapdesk-backend/pkg/outbox"
	"github.com/swapdesk/swapdesk-backend/pkg/outbox/payloads"
)

const escrowNotificationConsumer = "escrow-notifications"

type transactionLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer watches escrow lifecycle events and turns each transition into
// in-app notifications for the affected parties. Every stored notification
// also queues a notification_requested outbox event so external channels
// can pick it up later.
type Consumer struct {
	repo         Repository
	txns         transactionLoader
	tx           txRunner
	events       outboxEmitter
	subscription *pubsub.Subscriber
	idempotency  idempotencyChecker
	logg         *logger.Logger
}

// NewConsumer builds an escrow notification consumer.
func NewConsumer(repo Repository, txns transactionLoader, tx txRunner, events outboxEmitter, subscription *pubsub.Subscriber, manager idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if txns == nil {
		return nil, fmt.Errorf("transaction loader required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("escrow subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		txns:         txns,
		tx:           tx,
		events:       events,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg.Attributes["event_type"], msg.ID, msg.Data)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, eventType, messageID string, data []byte) processResult {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})

	parsed, err := enums.ParseOutboxEventType(eventType)
	if err != nil || !notifiedEvents[parsed] {
		c.logg.Info(logCtx, "skipping event without notification plan")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, escrowNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	notifications, err := c.buildNotifications(ctx, parsed, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to build notifications", err)
		_ = c.idempotency.Delete(ctx, escrowNotificationConsumer, eventID)
		return processResult{nack: true}
	}
	if len(notifications) == 0 {
		return processResult{ack: true}
	}

	err = c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := c.repo.WithTx(tx)
		for _, notification := range notifications {
			if err := repo.Create(ctx, notification); err != nil {
				return err
			}
			request := outbox.DomainEvent{
				EventType:     enums.EventNotificationRequested,
				AggregateType: enums.AggregateNotification,
				AggregateID:   notification.ID,
				Data: payloads.NotificationRequestedEvent{
					TransactionID: derefUUID(notification.TransactionID),
					RecipientID:   notification.UserID,
					Type:          notification.Type.String(),
				},
			}
			if err := c.events.Emit(ctx, tx, request); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.logg.Error(logCtx, "failed to store notifications", err)
		_ = c.idempotency.Delete(ctx, escrowNotificationConsumer, eventID)
		return processResult{nack: true}
	}

	c.logg.Info(logCtx, "notifications stored")
	return processResult{ack: true}
}

var notifiedEvents = map[enums.OutboxEventType]bool{
	enums.EventPurchaseInitiated:    true,
	enums.EventFundsHeld:            true,
	enums.EventContractSigned:       true,
	enums.EventCredentialsRevealed:  true,
	enums.EventTransactionCompleted: true,
	enums.EventTransactionRefunded:  true,
	enums.EventDisputeRaised:        true,
	enums.EventDisputeResolved:      true,
}

func (c *Consumer) buildNotifications(ctx context.Context, eventType enums.OutboxEventType, raw json.RawMessage) ([]*models.Notification, error) {
	var ref struct {
		TransactionID uuid.UUID `json:"transaction_id"`
	}
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	if ref.TransactionID == uuid.Nil {
		return nil, fmt.Errorf("payload missing transaction id")
	}

	txn, err := c.txns.FindByID(ctx, ref.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}

	switch eventType {
	case enums.EventPurchaseInitiated:
		return []*models.Notification{
			notify(txn, txn.SellerID, enums.NotificationTypeEscrow,
				"Listing reserved",
				fmt.Sprintf("A buyer opened escrow on your listing for %s.", dollars(txn.AmountCents))),
		}, nil
	case enums.EventFundsHeld:
		return []*models.Notification{
			notify(txn, txn.BuyerID, enums.NotificationTypeEscrow,
				"Payment confirmed",
				"Your payment is held in escrow. Sign the purchase contract to continue."),
			notify(txn, txn.SellerID, enums.NotificationTypeEscrow,
				"Escrow funded",
				fmt.Sprintf("The buyer's payment of %s is secured in escrow.", dollars(txn.AmountCents))),
		}, nil
	case enums.EventContractSigned:
		return []*models.Notification{
			notify(txn, txn.SellerID, enums.NotificationTypeEscrow,
				"Contract signed",
				"The buyer signed the purchase contract. Credentials can now be revealed."),
		}, nil
	case enums.EventCredentialsRevealed:
		return []*models.Notification{
			notify(txn, txn.SellerID, enums.NotificationTypeEscrow,
				"Credentials delivered",
				"The buyer received the account credentials and is verifying access."),
		}, nil
	case enums.EventTransactionCompleted:
		var payload payloads.TransactionCompletedEvent
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("parse completion payload: %w", err)
		}
		return []*models.Notification{
			notify(txn, txn.BuyerID, enums.NotificationTypeEscrow,
				"Purchase complete",
				"You confirmed access. The account is yours."),
			notify(txn, txn.SellerID, enums.NotificationTypePayout,
				"Payout scheduled",
				fmt.Sprintf("Your payout of %s is queued for transfer.", dollars(payload.PayoutCents))),
		}, nil
	case enums.EventTransactionRefunded:
		return []*models.Notification{
			notify(txn, txn.BuyerID, enums.NotificationTypeEscrow,
				"Refund issued",
				fmt.Sprintf("Your escrow payment of %s is being returned.", dollars(txn.AmountCents))),
		}, nil
	case enums.EventDisputeRaised:
		var payload payloads.DisputeRaisedEvent
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("parse dispute payload: %w", err)
		}
		notifications := make([]*models.Notification, 0, 2)
		for _, party := range []uuid.UUID{txn.BuyerID, txn.SellerID} {
			if party == payload.RaisedByID {
				continue
			}
			notifications = append(notifications, notify(txn, party, enums.NotificationTypeDispute,
				"Dispute opened",
				"The transaction is frozen while support reviews a dispute."))
		}
		return notifications, nil
	case enums.EventDisputeResolved:
		return []*models.Notification{
			notify(txn, txn.BuyerID, enums.NotificationTypeDispute,
				"Dispute resolved",
				"Support closed the dispute on your transaction."),
			notify(txn, txn.SellerID, enums.NotificationTypeDispute,
				"Dispute resolved",
				"Support closed the dispute on your transaction."),
		}, nil
	default:
		return nil, nil
	}
}

func notify(txn *models.Transaction, userID uuid.UUID, kind enums.NotificationType, title, message string) *models.Notification {
	transactionID := txn.ID
	link := fmt.Sprintf("/transactions/%s", txn.ID)
	return &models.Notification{
		UserID:        userID,
		TransactionID: &transactionID,
		Type:          kind,
		Title:         title,
		Message:       message,
		Link:          &link,
	}
}

func dollars(cents int) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

func derefUUID(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}
