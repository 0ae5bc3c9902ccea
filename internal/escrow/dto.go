package escrow

import (
	"time"

	"github.com/google/uuid"

	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	"github.com/swapdesk/swapdesk-backend/pkg/enums"
)

// TransactionDTO is the read surface for an escrow transaction. NextStep and
// CanProceed are derived from the state so clients never hardcode the
// lifecycle.
type TransactionDTO struct {
	ID               uuid.UUID              `json:"id"`
	ListingID        uuid.UUID              `json:"listing_id"`
	BuyerID          uuid.UUID              `json:"buyer_id"`
	SellerID         uuid.UUID              `json:"seller_id"`
	AmountCents      int                    `json:"amount_cents"`
	Currency         enums.Currency         `json:"currency"`
	State            enums.TransactionState `json:"state"`
	PaymentReference *string                `json:"payment_reference,omitempty"`
	CommissionCents  *int                   `json:"commission_cents,omitempty"`
	PayoutCents      *int                   `json:"payout_cents,omitempty"`
	DisputeReason    *string                `json:"dispute_reason,omitempty"`
	CanProceed       bool                   `json:"can_proceed"`
	NextStep         string                 `json:"next_step,omitempty"`
	CheckoutURL      string                 `json:"checkout_url,omitempty"`
	Reveal           *RevealStatusDTO       `json:"reveal,omitempty"`
	FundsHeldAt      *time.Time             `json:"funds_held_at,omitempty"`
	ContractSignedAt *time.Time             `json:"contract_signed_at,omitempty"`
	DisputedAt       *time.Time             `json:"disputed_at,omitempty"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
	RefundedAt       *time.Time             `json:"refunded_at,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// RevealStatusDTO reports the viewing window without any secret material.
type RevealStatusDTO struct {
	RevealedAt           time.Time `json:"revealed_at"`
	ExpiresAt            time.Time `json:"expires_at"`
	TimeRemainingSeconds int       `json:"time_remaining_seconds"`
	Consumed             bool      `json:"consumed"`
}

// RevealResultDTO is returned exactly once, from the reveal operation.
type RevealResultDTO struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Username      string    `json:"username"`
	Password      string    `json:"password"`
	RecoveryEmail *string   `json:"recovery_email,omitempty"`
	TwoFASecret   *string   `json:"twofa_secret,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (s *service) toDTO(txn *models.Transaction) *TransactionDTO {
	dto := &TransactionDTO{
		ID:               txn.ID,
		ListingID:        txn.ListingID,
		BuyerID:          txn.BuyerID,
		SellerID:         txn.SellerID,
		AmountCents:      txn.AmountCents,
		Currency:         txn.Currency,
		State:            txn.State,
		PaymentReference: txn.PaymentReference,
		CommissionCents:  txn.CommissionCents,
		PayoutCents:      txn.PayoutCents,
		DisputeReason:    txn.DisputeReason,
		NextStep:         NextStep(txn.State),
		FundsHeldAt:      txn.FundsHeldAt,
		ContractSignedAt: txn.ContractSignedAt,
		DisputedAt:       txn.DisputedAt,
		CompletedAt:      txn.CompletedAt,
		RefundedAt:       txn.RefundedAt,
		CreatedAt:        txn.CreatedAt,
	}
	dto.CanProceed = dto.NextStep != ""
	if txn.Reveal != nil {
		dto.Reveal = &RevealStatusDTO{
			RevealedAt:           txn.Reveal.RevealedAt,
			ExpiresAt:            txn.Reveal.ExpiresAt,
			TimeRemainingSeconds: int(s.reveals.TimeRemaining(txn.Reveal).Seconds()),
			Consumed:             txn.Reveal.Consumed,
		}
	}
	return dto
}
