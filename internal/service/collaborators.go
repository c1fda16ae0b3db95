package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Gianluca27/turno-facil-sub000/internal/model"
	"github.com/Gianluca27/turno-facil-sub000/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ── Collaborators ─────────────────────────────────────────────────────────────
// Outbound ports implemented in internal/infra and internal/worker.
// Every one of them is optional: a nil collaborator disables the feature.

// ErrLockBusy is returned by a Locker when the key is held by someone else.
var ErrLockBusy = errors.New("lock is held by another request")

// Locker provides short-lived mutual exclusion keyed by string (infra.RedisLocker).
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// PaymentGateway reverses a charge on the external processor (infra.GatewayClient).
type PaymentGateway interface {
	Refund(ctx context.Context, reference string, amount decimal.Decimal) error
}

// RefundReconciler records a gateway refund that failed after the local refund
// committed, so operations can settle it by hand (worker.DLQReconciler).
type RefundReconciler interface {
	ReportFailedRefund(ctx context.Context, saleID, refundID uuid.UUID, reference string, amount decimal.Decimal, reason string)
}

// AppointmentUpdater marks a scheduling appointment as paid (infra.MongoAppointments).
type AppointmentUpdater interface {
	MarkPaid(ctx context.Context, businessID uuid.UUID, appointmentID string, transactionID uuid.UUID, note string) error
}

// runTx executes fn inside a GORM transaction when db is available,
// or calls fn(nil) directly when db is nil (unit test mode).
func runTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	if db == nil {
		return fn(nil)
	}
	return db.WithContext(ctx).Transaction(fn)
}

// ── Outbox ────────────────────────────────────────────────────────────────────

type eventWriter struct {
	repo repository.OutboxRepository
}

// write stores an event row inside tx; worker.OutboxSender publishes it later.
func (w eventWriter) write(ctx context.Context, tx *gorm.DB, businessID uuid.UUID, eventType, key string, payload any) error {
	if w.repo == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return w.repo.CreateTx(ctx, tx, &model.OutboxMessage{
		ID:         uuid.New(),
		BusinessID: businessID,
		EventType:  eventType,
		MessageKey: key,
		Payload:    string(body),
		Status:     model.OutboxPending,
	})
}

// withRetries runs fn until it succeeds, fails with something other than a
// version conflict, or the attempt budget is spent.
func withRetries(attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if !errors.Is(err, repository.ErrVersionConflict) {
			return err
		}
	}
	return ErrConcurrentModification
}
