package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Transaction kinds.
const (
	KindSale   = "sale"
	KindRefund = "refund"
)

// Sale sources.
const (
	SourcePOS         = "pos"
	SourceAppointment = "appointment"
)

// Transaction statuses. Refund transactions are always "completed".
const (
	StatusCompleted     = "completed"
	StatusPartialRefund = "partial_refund"
	StatusRefunded      = "refunded"
)

// Payment methods.
const (
	MethodCash     = "cash"
	MethodCard     = "card"
	MethodTransfer = "transfer"
	MethodGateway  = "gateway"
	MethodMixed    = "mixed"
)

// Line item kinds. "custom" marks an ad-hoc line with no catalog reference.
const (
	ItemKindService = "service"
	ItemKindProduct = "product"
	ItemKindCustom  = "custom"
)

// Transaction is a completed money movement scoped to a business.
// The pricing snapshot and line items of a sale never change after creation;
// only RefundedQuantity, TotalRefunded, Status and RefundEvents evolve.
// Version is bumped on every conditional update (optimistic concurrency).
type Transaction struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BusinessID uuid.UUID `gorm:"type:uuid;not null;index:idx_transactions_business_created,priority:1"`
	Kind       string    `gorm:"type:varchar(10);not null"`
	Source     string    `gorm:"type:varchar(20);not null;default:'pos'"`
	Status     string    `gorm:"type:varchar(20);not null"`

	Subtotal              decimal.Decimal `gorm:"type:decimal(14,4);not null"`
	GlobalDiscountPercent decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0"`
	GlobalDiscountAmount  decimal.Decimal `gorm:"type:decimal(14,4);not null;default:0"`
	Tip                   decimal.Decimal `gorm:"type:decimal(14,4);not null;default:0"`
	FinalTotal            decimal.Decimal `gorm:"type:decimal(14,4);not null"`

	PaymentMethod string `gorm:"type:varchar(20);not null"`
	// PaymentReference is the external gateway charge id, when paid through the gateway
	PaymentReference *string `gorm:"type:varchar(120)"`

	TotalRefunded decimal.Decimal `gorm:"type:decimal(14,4);not null;default:0"`

	// RelatedTransactionID points a refund back to its sale
	RelatedTransactionID *uuid.UUID `gorm:"type:uuid;index"`
	AppointmentID        *string    `gorm:"type:varchar(64);index"`
	ClientID             *string    `gorm:"type:varchar(64)"`
	ClientName           *string
	Reason               *string
	Notes                *string

	IdempotencyKey *string `gorm:"type:varchar(100)"`

	CreatedBy uuid.UUID `gorm:"type:uuid;not null"`
	Version   int       `gorm:"not null;default:1"`
	CreatedAt time.Time `gorm:"index:idx_transactions_business_created,priority:2"`
	UpdatedAt time.Time

	Items        []TransactionItem    `gorm:"foreignKey:TransactionID"`
	Payments     []TransactionPayment `gorm:"foreignKey:TransactionID"`
	RefundEvents []RefundEvent        `gorm:"foreignKey:TransactionID"`
}

// IsSale reports whether t is a sale.
func (t *Transaction) IsSale() bool { return t.Kind == KindSale }

// Refundable reports whether the sale can still receive refunds.
func (t *Transaction) Refundable() bool {
	return t.Kind == KindSale && (t.Status == StatusCompleted || t.Status == StatusPartialRefund)
}

// TransactionItem is one ordered line of a transaction.
type TransactionItem struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TransactionID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	Position         int             `gorm:"not null"`
	Kind             string          `gorm:"type:varchar(10);not null"`
	ItemID           *uuid.UUID      `gorm:"type:uuid"`
	Name             string          `gorm:"not null"`
	Quantity         int             `gorm:"not null"`
	UnitPrice        decimal.Decimal `gorm:"type:decimal(14,4);not null"`
	DiscountPercent  decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0"`
	Total            decimal.Decimal `gorm:"type:decimal(14,4);not null"`
	RefundedQuantity int             `gorm:"not null;default:0"`
}

// Remaining returns the quantity still refundable on the line.
func (i *TransactionItem) Remaining() int { return i.Quantity - i.RefundedQuantity }

// TransactionPayment is one leg of a payment. Single-method payments carry one leg.
type TransactionPayment struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TransactionID uuid.UUID       `gorm:"type:uuid;not null;index"`
	Position      int             `gorm:"not null"`
	Method        string          `gorm:"type:varchar(20);not null"`
	Amount        decimal.Decimal `gorm:"type:decimal(14,4);not null"`
}

// RefundEvent is an append-only entry in a sale's refund ledger.
// AffectedItems holds a JSON array of RefundedLine.
type RefundEvent struct {
	ID                  uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TransactionID       uuid.UUID       `gorm:"type:uuid;not null;index"`
	RefundTransactionID uuid.UUID       `gorm:"type:uuid;not null"`
	Amount              decimal.Decimal `gorm:"type:decimal(14,4);not null"`
	AffectedItems       datatypes.JSON  `gorm:"type:jsonb;not null"`
	Reason              string          `gorm:"not null"`
	Method              string          `gorm:"type:varchar(20);not null"`
	ActorID             uuid.UUID       `gorm:"type:uuid;not null"`
	CreatedAt           time.Time
}

// RefundedLine is the per-line snapshot stored in RefundEvent.AffectedItems.
type RefundedLine struct {
	ItemIndex int             `json:"item_index"`
	Quantity  int             `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
}
