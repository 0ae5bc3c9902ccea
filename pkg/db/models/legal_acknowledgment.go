package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LegalAcknowledgment records a user's acceptance of a legal document
// version. A (user, document, version) triple is recorded at most once.
type LegalAcknowledgment struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	UserID         uuid.UUID `gorm:"column:user_id;type:uuid;not null;index;uniqueIndex:idx_legal_ack_user_doc_version"`
	DocumentKey    string    `gorm:"column:document_key;not null;uniqueIndex:idx_legal_ack_user_doc_version"`
	Version        string    `gorm:"column:version;not null;uniqueIndex:idx_legal_ack_user_doc_version"`
	AcknowledgedAt time.Time `gorm:"column:acknowledged_at;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate assigns the primary key when the caller did not.
func (m *LegalAcknowledgment) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
