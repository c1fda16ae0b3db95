package repository

import (
	"context"
	"time"

	"github.com/Gianluca27/turno-facil-sub000/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransactionQuery selects transactions of one business. Zero values mean "no filter".
// From is inclusive, To is inclusive.
type TransactionQuery struct {
	BusinessID    uuid.UUID
	From          *time.Time
	To            *time.Time
	Kinds         []string
	Statuses      []string
	PaymentMethod string
	Page          int
	Limit         int
}

type TransactionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	FindByID(ctx context.Context, businessID, id uuid.UUID) (*model.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, businessID uuid.UUID, kind, key string) (*model.Transaction, error)

	// UpdateRefundStateTx writes status, total_refunded and every line's refunded_quantity,
	// conditional on the sale still being at expectedVersion. On success sale.Version is bumped.
	UpdateRefundStateTx(ctx context.Context, tx *gorm.DB, sale *model.Transaction, expectedVersion int) error
	CreateRefundEventTx(ctx context.Context, tx *gorm.DB, ev *model.RefundEvent) error

	// ListAll returns every match ordered by created_at, ignoring paging (reporting, reconciliation).
	ListAll(ctx context.Context, q TransactionQuery) ([]model.Transaction, error)
	// List pages through matches, newest first.
	List(ctx context.Context, q TransactionQuery) ([]model.Transaction, int64, error)

	DB() *gorm.DB // exposes the DB for transaction creation in service layer
}

type transactionRepo struct{ db *gorm.DB }

func NewTransactionRepository(db *gorm.DB) TransactionRepository { return &transactionRepo{db: db} }

func (r *transactionRepo) DB() *gorm.DB { return r.db }

func (r *transactionRepo) Create(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	return translate(conn(ctx, r.db, tx).Create(t).Error)
}

func (r *transactionRepo) preloaded(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("RefundEvents", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") })
}

func (r *transactionRepo) FindByID(ctx context.Context, businessID, id uuid.UUID) (*model.Transaction, error) {
	var t model.Transaction
	err := r.preloaded(ctx).Where("id = ? AND business_id = ?", id, businessID).First(&t).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (r *transactionRepo) FindByIdempotencyKey(ctx context.Context, businessID uuid.UUID, kind, key string) (*model.Transaction, error) {
	var t model.Transaction
	err := r.preloaded(ctx).
		Where("business_id = ? AND kind = ? AND idempotency_key = ?", businessID, kind, key).
		First(&t).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (r *transactionRepo) UpdateRefundStateTx(ctx context.Context, tx *gorm.DB, sale *model.Transaction, expectedVersion int) error {
	db := conn(ctx, r.db, tx)
	res := db.Model(&model.Transaction{}).
		Where("id = ? AND business_id = ? AND version = ?", sale.ID, sale.BusinessID, expectedVersion).
		Updates(map[string]interface{}{
			"status":         sale.Status,
			"total_refunded": sale.TotalRefunded,
			"version":        gorm.Expr("version + 1"),
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	for _, item := range sale.Items {
		err := db.Model(&model.TransactionItem{}).
			Where("id = ? AND transaction_id = ?", item.ID, sale.ID).
			Update("refunded_quantity", item.RefundedQuantity).Error
		if err != nil {
			return err
		}
	}
	sale.Version = expectedVersion + 1
	return nil
}

func (r *transactionRepo) CreateRefundEventTx(ctx context.Context, tx *gorm.DB, ev *model.RefundEvent) error {
	return conn(ctx, r.db, tx).Create(ev).Error
}

func (r *transactionRepo) filtered(ctx context.Context, q TransactionQuery) *gorm.DB {
	db := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("business_id = ?", q.BusinessID)
	if q.From != nil {
		db = db.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		db = db.Where("created_at <= ?", *q.To)
	}
	if len(q.Kinds) > 0 {
		db = db.Where("kind IN ?", q.Kinds)
	}
	if len(q.Statuses) > 0 {
		db = db.Where("status IN ?", q.Statuses)
	}
	if q.PaymentMethod != "" {
		db = db.Where("payment_method = ?", q.PaymentMethod)
	}
	return db
}

func (r *transactionRepo) ListAll(ctx context.Context, q TransactionQuery) ([]model.Transaction, error) {
	var out []model.Transaction
	err := r.filtered(ctx, q).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (r *transactionRepo) List(ctx context.Context, q TransactionQuery) ([]model.Transaction, int64, error) {
	var out []model.Transaction
	var total int64

	base := r.filtered(ctx, q)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (q.Page - 1) * q.Limit
	err := r.filtered(ctx, q).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Order("created_at DESC").
		Offset(offset).Limit(q.Limit).
		Find(&out).Error
	return out, total, err
}
