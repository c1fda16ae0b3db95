package infra

import (
	"fmt"

	"github.com/Gianluca27/turno-facil-sub000/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase establishes a GORM connection backed by pgx, runs AutoMigrate to
// create / update all tables, then applies the idempotent SQL patches that GORM
// cannot express (partial unique indexes).
//
// TranslateError is on so unique violations surface as gorm.ErrDuplicatedKey;
// the repositories rely on it for AlreadyOpen and idempotency replays.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	if err := RunMigrations(db); err != nil {
		return nil, err
	}
	return db, nil
}

// RunMigrations creates the POS tables and applies schema patches.
// Integration tests call it directly against a testcontainers Postgres.
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Product{},
		&model.Service{},
		&model.Transaction{},
		&model.TransactionItem{},
		&model.TransactionPayment{},
		&model.RefundEvent{},
		&model.CashRegisterSession{},
		&model.CashMovement{},
		&model.OutboxMessage{},
	); err != nil {
		return fmt.Errorf("AutoMigrate: %w", err)
	}
	if err := applySchemaPatches(db); err != nil {
		return fmt.Errorf("schema patches: %w", err)
	}
	return nil
}

// applySchemaPatches runs idempotent DDL statements that GORM AutoMigrate cannot
// express. Each statement uses IF NOT EXISTS so re-running on an already-patched
// DB is safe.
func applySchemaPatches(db *gorm.DB) error {
	patches := []struct{ descr, sql string }{
		// At most one open drawer per business. A racing second open fails here
		// and is reported as AlreadyOpen.
		{"one open cash register session per business", `
CREATE UNIQUE INDEX IF NOT EXISTS uq_cash_register_sessions_open
    ON cash_register_sessions (business_id)
    WHERE status = 'open'`},
		// Idempotency keys are unique per business and transaction kind.
		{"transaction idempotency key", `
CREATE UNIQUE INDEX IF NOT EXISTS uq_transactions_idempotency
    ON transactions (business_id, kind, idempotency_key)
    WHERE idempotency_key IS NOT NULL`},
		// Pending outbox scan.
		{"pending outbox", `
CREATE INDEX IF NOT EXISTS idx_outbox_messages_pending
    ON outbox_messages (created_at)
    WHERE status = 'pending'`},
	}
	for _, p := range patches {
		if err := db.Exec(p.sql).Error; err != nil {
			return fmt.Errorf("patch %q: %w", p.descr, err)
		}
	}
	return nil
}
