package repository

import (
	"context"

	"github.com/Gianluca27/turno-facil-sub000/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CatalogRepository resolves sellable items and mutates product stock.
// Services depend on this interface so tests can run on an in-memory stub.
type CatalogRepository interface {
	FindActiveProduct(ctx context.Context, tx *gorm.DB, businessID, id uuid.UUID) (*model.Product, error)
	FindActiveService(ctx context.Context, businessID, id uuid.UUID) (*model.Service, error)

	// DecrementStockTx is a single compare-and-decrement guarded by stock >= qty.
	// Returns false when the guard did not match (insufficient stock).
	DecrementStockTx(ctx context.Context, tx *gorm.DB, businessID, productID uuid.UUID, qty int) (bool, error)
	IncrementStockTx(ctx context.Context, tx *gorm.DB, businessID, productID uuid.UUID, qty int) error
}

type catalogRepo struct{ db *gorm.DB }

func NewCatalogRepository(db *gorm.DB) CatalogRepository { return &catalogRepo{db: db} }

func (r *catalogRepo) FindActiveProduct(ctx context.Context, tx *gorm.DB, businessID, id uuid.UUID) (*model.Product, error) {
	var p model.Product
	err := conn(ctx, r.db, tx).
		Where("id = ? AND business_id = ? AND status = ?", id, businessID, model.CatalogActive).
		First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *catalogRepo) FindActiveService(ctx context.Context, businessID, id uuid.UUID) (*model.Service, error) {
	var s model.Service
	err := r.db.WithContext(ctx).
		Where("id = ? AND business_id = ? AND status = ?", id, businessID, model.CatalogActive).
		First(&s).Error
	if err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (r *catalogRepo) DecrementStockTx(ctx context.Context, tx *gorm.DB, businessID, productID uuid.UUID, qty int) (bool, error) {
	res := conn(ctx, r.db, tx).Model(&model.Product{}).
		Where("id = ? AND business_id = ? AND stock >= ?", productID, businessID, qty).
		Update("stock", gorm.Expr("stock - ?", qty))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *catalogRepo) IncrementStockTx(ctx context.Context, tx *gorm.DB, businessID, productID uuid.UUID, qty int) error {
	res := conn(ctx, r.db, tx).Model(&model.Product{}).
		Where("id = ? AND business_id = ?", productID, businessID).
		Update("stock", gorm.Expr("stock + ?", qty))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
