package repository

import (
	"context"
	"time"

	"github.com/Gianluca27/turno-facil-sub000/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CashRegisterRepository interface {
	// CreateSession returns ErrDuplicate when the business already has an open session.
	CreateSession(ctx context.Context, s *model.CashRegisterSession) error
	FindOpenByBusiness(ctx context.Context, businessID uuid.UUID) (*model.CashRegisterSession, error)
	FindByID(ctx context.Context, businessID, id uuid.UUID) (*model.CashRegisterSession, error)

	// AppendMovementTx inserts m and bumps the session version, conditional on the
	// session being open at expectedVersion.
	AppendMovementTx(ctx context.Context, tx *gorm.DB, s *model.CashRegisterSession, m *model.CashMovement, expectedVersion int) error
	// TouchOpenSessionTx bumps the version of the business's open session so
	// that a Close racing tx fails its version check. ErrNotFound when none is open.
	TouchOpenSessionTx(ctx context.Context, tx *gorm.DB, businessID uuid.UUID) error
	// CloseTx seals the session, conditional on it being open at expectedVersion.
	CloseTx(ctx context.Context, tx *gorm.DB, s *model.CashRegisterSession, expectedVersion int) error

	ListSessions(ctx context.Context, businessID uuid.UUID, page, limit int) ([]model.CashRegisterSession, int64, error)

	DB() *gorm.DB
}

type cashRegisterRepo struct{ db *gorm.DB }

func NewCashRegisterRepository(db *gorm.DB) CashRegisterRepository {
	return &cashRegisterRepo{db: db}
}

func (r *cashRegisterRepo) DB() *gorm.DB { return r.db }

func (r *cashRegisterRepo) CreateSession(ctx context.Context, s *model.CashRegisterSession) error {
	return translate(r.db.WithContext(ctx).Create(s).Error)
}

func (r *cashRegisterRepo) FindOpenByBusiness(ctx context.Context, businessID uuid.UUID) (*model.CashRegisterSession, error) {
	var s model.CashRegisterSession
	err := r.db.WithContext(ctx).
		Preload("Movements", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("business_id = ? AND status = ?", businessID, model.SessionOpen).
		First(&s).Error
	if err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (r *cashRegisterRepo) FindByID(ctx context.Context, businessID, id uuid.UUID) (*model.CashRegisterSession, error) {
	var s model.CashRegisterSession
	err := r.db.WithContext(ctx).
		Preload("Movements", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ? AND business_id = ?", id, businessID).
		First(&s).Error
	if err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (r *cashRegisterRepo) AppendMovementTx(ctx context.Context, tx *gorm.DB, s *model.CashRegisterSession, m *model.CashMovement, expectedVersion int) error {
	db := conn(ctx, r.db, tx)
	res := db.Model(&model.CashRegisterSession{}).
		Where("id = ? AND status = ? AND version = ?", s.ID, model.SessionOpen, expectedVersion).
		Updates(map[string]interface{}{
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	if err := db.Create(m).Error; err != nil {
		return err
	}
	s.Version = expectedVersion + 1
	return nil
}

func (r *cashRegisterRepo) TouchOpenSessionTx(ctx context.Context, tx *gorm.DB, businessID uuid.UUID) error {
	res := conn(ctx, r.db, tx).Model(&model.CashRegisterSession{}).
		Where("business_id = ? AND status = ?", businessID, model.SessionOpen).
		Updates(map[string]interface{}{
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *cashRegisterRepo) CloseTx(ctx context.Context, tx *gorm.DB, s *model.CashRegisterSession, expectedVersion int) error {
	res := conn(ctx, r.db, tx).Model(&model.CashRegisterSession{}).
		Where("id = ? AND status = ? AND version = ?", s.ID, model.SessionOpen, expectedVersion).
		Updates(map[string]interface{}{
			"status":          model.SessionClosed,
			"closed_at":       s.ClosedAt,
			"closed_by":       s.ClosedBy,
			"expected_amount": s.ExpectedAmount,
			"declared_amount": s.DeclaredAmount,
			"difference":      s.Difference,
			"closing_notes":   s.ClosingNotes,
			"version":         gorm.Expr("version + 1"),
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	s.Status = model.SessionClosed
	s.Version = expectedVersion + 1
	return nil
}

func (r *cashRegisterRepo) ListSessions(ctx context.Context, businessID uuid.UUID, page, limit int) ([]model.CashRegisterSession, int64, error) {
	var out []model.CashRegisterSession
	var total int64

	q := r.db.WithContext(ctx).Model(&model.CashRegisterSession{}).Where("business_id = ?", businessID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("opened_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&out).Error
	return out, total, err
}
