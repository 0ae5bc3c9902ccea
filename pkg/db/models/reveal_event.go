package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RevealEvent marks the single permitted plaintext reveal for a transaction.
// The unique index on transaction_id is what makes a second reveal impossible
// even under concurrent requests.
type RevealEvent struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID uuid.UUID `gorm:"column:transaction_id;type:uuid;not null;uniqueIndex"`
	RevealedToID  uuid.UUID `gorm:"column:revealed_to_id;type:uuid;not null"`
	RevealedAt    time.Time `gorm:"column:revealed_at;not null"`
	ExpiresAt     time.Time `gorm:"column:expires_at;not null"`
	Consumed      bool      `gorm:"column:consumed;not null;default:false"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Expired reports whether the viewing window has closed as of now.
func (r RevealEvent) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// BeforeCreate assigns the primary key when the caller did not.
func (m *RevealEvent) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
