package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Catalog statuses.
const (
	CatalogActive   = "active"
	CatalogInactive = "inactive"
)

// Product is a sellable stock item owned by a business.
type Product struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BusinessID uuid.UUID       `gorm:"type:uuid;not null;index"`
	Name       string          `gorm:"not null"`
	SKU        *string         `gorm:"type:varchar(64)"`
	Price      decimal.Decimal `gorm:"type:decimal(14,4);not null"`
	Stock      int             `gorm:"not null;default:0"`
	Status     string          `gorm:"type:varchar(10);not null;default:'active'"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Service is a bookable service (haircut, color, ...). Services carry no stock.
type Service struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BusinessID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	Name            string          `gorm:"not null"`
	Price           decimal.Decimal `gorm:"type:decimal(14,4);not null"`
	DurationMinutes int             `gorm:"not null;default:30"`
	Status          string          `gorm:"type:varchar(10);not null;default:'active'"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
