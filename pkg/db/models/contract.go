package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Contract records the buyer's typed-name signature over the purchase terms.
// At most one contract exists per transaction.
type Contract struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID uuid.UUID `gorm:"column:transaction_id;type:uuid;not null;uniqueIndex"`
	SignedName    string    `gorm:"column:signed_name;not null"`
	TermsVersion  string    `gorm:"column:terms_version;not null"`
	TermsHash     string    `gorm:"column:terms_hash;not null"`
	SignedAt      time.Time `gorm:"column:signed_at;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate assigns the primary key when the caller did not.
func (m *Contract) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
