package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/pkg/enums"
)

// Notification is an in-app message produced from escrow lifecycle events.
type Notification struct {
	ID            uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	UserID        uuid.UUID              `gorm:"column:user_id;type:uuid;not null;index:idx_notifications_user_created"`
	TransactionID *uuid.UUID             `gorm:"column:transaction_id;type:uuid;index"`
	Type          enums.NotificationType `gorm:"column:type;not null"`
	Title         string                 `gorm:"column:title;not null"`
	Message       string                 `gorm:"column:message;not null"`
	Link          *string                `gorm:"column:link"`
	ReadAt        *time.Time             `gorm:"column:read_at"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime;index:idx_notifications_user_created"`

	User        *User        `gorm:"foreignKey:UserID"`
	Transaction *Transaction `gorm:"foreignKey:TransactionID"`
}

// BeforeCreate assigns the primary key when the caller did not.
func (m *Notification) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
