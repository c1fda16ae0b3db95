package worker

// dlq.go: Dead Letter Queue
// Work that could not be completed automatically is parked here for manual
// reconciliation. Uses a Redis list per source queue: dlq:{original_queue}

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	DLQPrefix = "dlq:"

	// QueueGatewayRefunds holds refunds committed locally but rejected by the payment gateway.
	QueueGatewayRefunds = "pos:gateway_refunds"
)

// DLQEntry wraps a failed job with metadata for debugging.
type DLQEntry struct {
	OriginalQueue string          `json:"original_queue"`
	JobType       string          `json:"job_type"`
	Payload       json.RawMessage `json:"payload"`
	Reason        string          `json:"reason"`
	FailedAt      string          `json:"failed_at"` // ISO 8601
	Attempts      int             `json:"attempts"`
}

// SendToDLQ pushes a failed job to the dead letter queue for manual inspection.
func SendToDLQ(ctx context.Context, rdb *redis.Client, queue string, jobType string, payload json.RawMessage, reason string, attempts int) {
	entry := DLQEntry{
		OriginalQueue: queue,
		JobType:       jobType,
		Payload:       payload,
		Reason:        reason,
		FailedAt:      time.Now().UTC().Format(time.RFC3339),
		Attempts:      attempts,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("dlq: failed to marshal entry")
		return
	}

	dlqKey := DLQPrefix + queue
	if err := rdb.LPush(ctx, dlqKey, data).Err(); err != nil {
		log.Error().Err(err).Str("dlq_key", dlqKey).Msg("dlq: failed to push to DLQ")
		return
	}

	log.Warn().
		Str("queue", queue).
		Str("job_type", jobType).
		Str("reason", reason).
		Int("attempts", attempts).
		Msg("dlq: job moved to dead letter queue")
}

// DLQLength returns the number of entries in a DLQ for monitoring.
func DLQLength(ctx context.Context, rdb *redis.Client, queue string) (int64, error) {
	return rdb.LLen(ctx, DLQPrefix+queue).Result()
}

// FailedRefund is a gateway refund waiting for another attempt.
type FailedRefund struct {
	SaleID      string          `json:"sale_id"`
	RefundID    string          `json:"refund_id"`
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	Attempts    int             `json:"attempts"`
	NextRetryAt time.Time       `json:"next_retry_at"`
	LastError   string          `json:"last_error"`
}

// RedisRefundQueue stores FailedRefund entries in a Redis list.
// Entries are pushed on the left and popped from the right.
type RedisRefundQueue struct {
	rdb *redis.Client
}

func NewRedisRefundQueue(rdb *redis.Client) *RedisRefundQueue {
	return &RedisRefundQueue{rdb: rdb}
}

func (q *RedisRefundQueue) Push(ctx context.Context, f FailedRefund) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, QueueGatewayRefunds, data).Err()
}

// Pop returns nil, nil when the queue is empty.
func (q *RedisRefundQueue) Pop(ctx context.Context) (*FailedRefund, error) {
	data, err := q.rdb.RPop(ctx, QueueGatewayRefunds).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var f FailedRefund
	if err := json.Unmarshal(data, &f); err != nil {
		// A corrupt entry cannot be retried; park the raw bytes.
		SendToDLQ(ctx, q.rdb, QueueGatewayRefunds, "gateway_refund", json.RawMessage(`{}`), "undecodable entry: "+string(data), 0)
		return nil, err
	}
	return &f, nil
}

func (q *RedisRefundQueue) DeadLetter(ctx context.Context, f FailedRefund, reason string) {
	payload, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("sale_id", f.SaleID).Msg("dlq: failed to marshal refund")
		return
	}
	SendToDLQ(ctx, q.rdb, QueueGatewayRefunds, "gateway_refund", payload, reason, f.Attempts)
}

// DLQReconciler implements service.RefundReconciler: it schedules the failed
// gateway refund for RefundRetryCron.
type DLQReconciler struct {
	queue RefundQueue
	now   func() time.Time
}

func NewDLQReconciler(queue RefundQueue) *DLQReconciler {
	return &DLQReconciler{queue: queue, now: time.Now}
}

func (r *DLQReconciler) ReportFailedRefund(ctx context.Context, saleID, refundID uuid.UUID, reference string, amount decimal.Decimal, reason string) {
	entry := FailedRefund{
		SaleID:      saleID.String(),
		RefundID:    refundID.String(),
		Reference:   reference,
		Amount:      amount,
		Attempts:    1,
		NextRetryAt: r.now().Add(computeRetryBackoff(1)),
		LastError:   reason,
	}
	// The request context may be done by now; the entry must still land.
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := r.queue.Push(pushCtx, entry); err != nil {
		log.Error().Err(err).
			Str("sale_id", entry.SaleID).
			Str("refund_id", entry.RefundID).
			Str("amount", amount.String()).
			Msg("dlq: failed to schedule gateway refund retry")
		return
	}
	log.Warn().
		Str("sale_id", entry.SaleID).
		Str("reason", reason).
		Time("next_retry_at", entry.NextRetryAt).
		Msg("dlq: gateway refund scheduled for retry")
}
