package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/pkg/enums"
)

// AuditEntry is an append-only record of a privileged or sensitive action.
// Entries are written in the same database transaction as the action they
// describe and are never updated or deleted.
type AuditEntry struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID uuid.UUID         `gorm:"column:transaction_id;type:uuid;not null;index"`
	ActorID       uuid.UUID         `gorm:"column:actor_id;type:uuid;not null"`
	Action        enums.AuditAction `gorm:"column:action;type:audit_action_enum;not null"`
	Reason        string            `gorm:"column:reason;type:text;not null"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate assigns the primary key when the caller did not.
func (m *AuditEntry) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
