package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/pkg/enums"
)

// Listing is an account put up for sale by a seller. Only approved listings
// can be purchased; a reservation moves the row to reserved, and a completed
// escrow moves it to sold.
type Listing struct {
	ID           uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	SellerID     uuid.UUID          `gorm:"column:seller_id;type:uuid;not null;index"`
	Platform     string             `gorm:"column:platform;not null"`
	Title        string             `gorm:"column:title;not null"`
	Description  string             `gorm:"column:description;type:text"`
	PriceCents   int                `gorm:"column:price_cents;not null"`
	Currency     enums.Currency     `gorm:"column:currency;type:currency_enum;not null;default:'USD'"`
	State        enums.ListingState `gorm:"column:state;type:listing_state_enum;not null;default:'draft'"`
	RejectedNote *string            `gorm:"column:rejected_note"`
	CreatedAt    time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time          `gorm:"column:updated_at;autoUpdateTime"`

	Seller     *User             `gorm:"foreignKey:SellerID"`
	Credential *CredentialRecord `gorm:"foreignKey:ListingID"`
}

// BeforeCreate assigns the primary key when the caller did not.
func (m *Listing) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
