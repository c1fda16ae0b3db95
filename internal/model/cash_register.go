package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Session states.
const (
	SessionOpen   = "open"
	SessionClosed = "closed"
)

// Movement types.
const (
	MovementIn  = "in"
	MovementOut = "out"
)

// CashRegisterSession is the lifecycle of one physical drawer: open → closed.
// At most one open session per business (partial unique index, see infra.NewDatabase).
// Once closed the record is sealed; every write is conditional on Status=open and Version.
type CashRegisterSession struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BusinessID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	Status        string          `gorm:"type:varchar(10);not null;default:'open'"`
	OpenedAt      time.Time       `gorm:"not null"`
	OpenedBy      uuid.UUID       `gorm:"type:uuid;not null"`
	InitialAmount decimal.Decimal `gorm:"type:decimal(14,4);not null"`
	OpeningNotes  *string

	ClosedAt *time.Time
	ClosedBy *uuid.UUID `gorm:"type:uuid"`
	// ExpectedAmount is computed on close: initial + in - out + cash sales - cash refunds
	ExpectedAmount *decimal.Decimal `gorm:"type:decimal(14,4)"`
	DeclaredAmount *decimal.Decimal `gorm:"type:decimal(14,4)"`
	Difference     *decimal.Decimal `gorm:"type:decimal(14,4)"`
	ClosingNotes   *string

	Version   int `gorm:"not null;default:1"`
	UpdatedAt time.Time

	Movements []CashMovement `gorm:"foreignKey:SessionID"`
}

// IsOpen reports whether the drawer still accepts movements.
func (s *CashRegisterSession) IsOpen() bool { return s.Status == SessionOpen }

// CashMovement is a manual cash in/out. Amount is always positive; Type carries the direction.
// Movements are never modified or deleted.
type CashMovement struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionID uuid.UUID       `gorm:"type:uuid;not null;index"`
	Type      string          `gorm:"type:varchar(5);not null"`
	Amount    decimal.Decimal `gorm:"type:decimal(14,4);not null"`
	Reason    string          `gorm:"not null"`
	Notes     *string
	ActorID   uuid.UUID `gorm:"type:uuid;not null"`
	CreatedAt time.Time
}
