package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/pkg/enums"
)

// PaymentEvent logs a verified gateway webhook delivery. GatewayEventID is
// unique so replayed deliveries collapse into a single row.
type PaymentEvent struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID  *uuid.UUID             `gorm:"column:transaction_id;type:uuid;index"`
	Type           enums.PaymentEventType `gorm:"column:type;type:payment_event_type_enum;not null"`
	Reference      string                 `gorm:"column:reference;not null;index"`
	GatewayEventID string                 `gorm:"column:gateway_event_id;not null;uniqueIndex"`
	Payload        json.RawMessage        `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate assigns the primary key when the caller did not.
func (m *PaymentEvent) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
