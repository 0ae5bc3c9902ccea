package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/pkg/enums"
)

// Transaction is the escrow record tying a buyer, a seller and a reserved
// listing together. State moves strictly forward through the escrow
// lifecycle; completed and refunded rows never change again.
type Transaction struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	ListingID        uuid.UUID              `gorm:"column:listing_id;type:uuid;not null;index"`
	BuyerID          uuid.UUID              `gorm:"column:buyer_id;type:uuid;not null;index"`
	SellerID         uuid.UUID              `gorm:"column:seller_id;type:uuid;not null;index"`
	AmountCents      int                    `gorm:"column:amount_cents;not null"`
	Currency         enums.Currency         `gorm:"column:currency;type:currency_enum;not null;default:'USD'"`
	State            enums.TransactionState `gorm:"column:state;type:transaction_state_enum;not null;default:'pending'"`
	PaymentReference *string                `gorm:"column:payment_reference;uniqueIndex"`
	CommissionCents  *int                   `gorm:"column:commission_cents"`
	PayoutCents      *int                   `gorm:"column:payout_cents"`
	DisputeReason    *string                `gorm:"column:dispute_reason;type:text"`

	FundsHeldAt           *time.Time `gorm:"column:funds_held_at"`
	ContractSignedAt      *time.Time `gorm:"column:contract_signed_at"`
	CredentialsReleasedAt *time.Time `gorm:"column:credentials_released_at"`
	DisputedAt            *time.Time `gorm:"column:disputed_at"`
	CompletedAt           *time.Time `gorm:"column:completed_at"`
	RefundedAt            *time.Time `gorm:"column:refunded_at"`
	CreatedAt             time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;autoUpdateTime"`

	Listing  *Listing     `gorm:"foreignKey:ListingID"`
	Buyer    *User        `gorm:"foreignKey:BuyerID"`
	Seller   *User        `gorm:"foreignKey:SellerID"`
	Contract *Contract    `gorm:"foreignKey:TransactionID"`
	Reveal   *RevealEvent `gorm:"foreignKey:TransactionID"`
}

// IsFinalized reports whether the escrow reached a terminal state.
func (t Transaction) IsFinalized() bool {
	return t.State.IsTerminal()
}

// BeforeCreate assigns the primary key when the caller did not.
func (m *Transaction) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
