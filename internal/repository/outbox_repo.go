package repository

import (
	"context"

	"github.com/Gianluca27/turno-facil-sub000/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OutboxRepository interface {
	CreateTx(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error
	ListPending(ctx context.Context, limit int) ([]model.OutboxMessage, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	// RecordFailure bumps retry_count and moves the message to failed once maxRetries is reached.
	RecordFailure(ctx context.Context, id uuid.UUID, maxRetries int) error
}

type outboxRepo struct{ db *gorm.DB }

func NewOutboxRepository(db *gorm.DB) OutboxRepository { return &outboxRepo{db: db} }

func (r *outboxRepo) CreateTx(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	return conn(ctx, r.db, tx).Create(msg).Error
}

func (r *outboxRepo) ListPending(ctx context.Context, limit int) ([]model.OutboxMessage, error) {
	var out []model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *outboxRepo) MarkSent(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Update("status", model.OutboxSent).Error
}

func (r *outboxRepo) RecordFailure(ctx context.Context, id uuid.UUID, maxRetries int) error {
	return r.db.WithContext(ctx).Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"status": gorm.Expr("CASE WHEN retry_count + 1 >= ? THEN ? ELSE status END",
				maxRetries, model.OutboxFailed),
		}).Error
}
