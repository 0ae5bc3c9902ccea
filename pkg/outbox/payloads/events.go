package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/swapdesk/swapdesk-backend/pkg/enums"
)

// PurchaseInitiatedEvent signals a buyer reserved a listing and opened escrow.
type PurchaseInitiatedEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	ListingID     uuid.UUID `json:"listing_id"`
	BuyerID       uuid.UUID `json:"buyer_id"`
	SellerID      uuid.UUID `json:"seller_id"`
	AmountCents   int       `json:"amount_cents"`
}

// FundsHeldEvent is emitted once the gateway confirms payment into escrow.
type FundsHeldEvent struct {
	TransactionID    uuid.UUID `json:"transaction_id"`
	PaymentReference string    `json:"payment_reference"`
	AmountCents      int       `json:"amount_cents"`
	FundsHeldAt      time.Time `json:"funds_held_at"`
}

// ContractSignedEvent is emitted when the buyer signs the purchase contract.
type ContractSignedEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	ContractID    uuid.UUID `json:"contract_id"`
	TermsVersion  string    `json:"terms_version"`
	SignedAt      time.Time `json:"signed_at"`
}

// CredentialsRevealedEvent marks the one-time plaintext reveal.
type CredentialsRevealedEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	RevealedToID  uuid.UUID `json:"revealed_to_id"`
	RevealedAt    time.Time `json:"revealed_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// AccessConfirmedEvent is emitted when the buyer confirms working access.
type AccessConfirmedEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

// TransactionCompletedEvent carries the final settlement breakdown.
type TransactionCompletedEvent struct {
	TransactionID   uuid.UUID `json:"transaction_id"`
	SellerID        uuid.UUID `json:"seller_id"`
	AmountCents     int       `json:"amount_cents"`
	CommissionCents int       `json:"commission_cents"`
	PayoutCents     int       `json:"payout_cents"`
	CompletedAt     time.Time `json:"completed_at"`
}

// TransactionRefundedEvent is emitted when escrow funds return to the buyer.
type TransactionRefundedEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	BuyerID       uuid.UUID `json:"buyer_id"`
	AmountCents   int       `json:"amount_cents"`
	RefundedAt    time.Time `json:"refunded_at"`
}

// DisputeRaisedEvent signals a party froze the escrow.
type DisputeRaisedEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	RaisedByID    uuid.UUID `json:"raised_by_id"`
	Reason        string    `json:"reason"`
	DisputedAt    time.Time `json:"disputed_at"`
}

// DisputeResolvedEvent records a privileged override decision.
type DisputeResolvedEvent struct {
	TransactionID uuid.UUID         `json:"transaction_id"`
	ResolvedByID  uuid.UUID         `json:"resolved_by_id"`
	Action        enums.AuditAction `json:"action"`
	ResolvedAt    time.Time         `json:"resolved_at"`
}

// ListingReservedEvent marks a listing taken off the market by a purchase.
type ListingReservedEvent struct {
	ListingID     uuid.UUID `json:"listing_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
}

// ListingReleasedEvent marks a listing returned to the market after a refund.
type ListingReleasedEvent struct {
	ListingID     uuid.UUID `json:"listing_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
}

// NotificationRequestedEvent tells downstream systems to alert a user.
type NotificationRequestedEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	RecipientID   uuid.UUID `json:"recipient_id"`
	Type          string    `json:"type"`
}
