package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// Event types written to the outbox.
const (
	EventSaleCompleted      = "sale.completed"
	EventSaleRefunded       = "sale.refunded"
	EventCashRegisterClosed = "cash_register.closed"
)

// OutboxMessage is written in the same DB transaction as the state change it
// describes and published later by worker.OutboxSender.
type OutboxMessage struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BusinessID uuid.UUID `gorm:"type:uuid;not null"`
	EventType  string    `gorm:"type:varchar(40);not null"`
	MessageKey string    `gorm:"type:varchar(64);not null"`
	Payload    string    `gorm:"type:text;not null"`
	Status     string    `gorm:"type:varchar(10);not null;default:'pending';index"`
	RetryCount int       `gorm:"not null;default:0"`
	CreatedAt  time.Time `gorm:"index"`
	UpdatedAt  time.Time
}

func (OutboxMessage) TableName() string { return "outbox_messages" }
