package worker

// retry_cron.go
// Background goroutine that periodically re-attempts gateway refunds that
// failed after the local refund committed. Uses the Circuit Breaker state to
// avoid hammering a downed gateway.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gianluca27/turno-facil-sub000/internal/infra"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	retryTickInterval  = 30 * time.Second
	retryBatchSize     = 10
	retryBaseBackoff   = 30 * time.Second
	retryMaxBackoff    = time.Hour
	defaultMaxAttempts = 5
	persistTimeout     = 3 * time.Second
)

// RefundQueue holds gateway refunds waiting for another attempt (RedisRefundQueue).
type RefundQueue interface {
	Push(ctx context.Context, f FailedRefund) error
	Pop(ctx context.Context) (*FailedRefund, error)
	DeadLetter(ctx context.Context, f FailedRefund, reason string)
}

// RefundGateway reverses a charge (infra.GatewayClient).
type RefundGateway interface {
	Refund(ctx context.Context, reference string, amount decimal.Decimal) error
}

// RetryCronConfig holds all dependencies for the retry goroutine.
type RetryCronConfig struct {
	Queue       RefundQueue
	Gateway     RefundGateway
	CB          *infra.CircuitBreaker // optional
	MaxAttempts int
	Interval    time.Duration
}

// RefundRetryCron drains RefundQueue on a ticker.
type RefundRetryCron struct {
	cfg RetryCronConfig
	now func() time.Time
}

func NewRefundRetryCron(cfg RetryCronConfig) *RefundRetryCron {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Interval <= 0 {
		cfg.Interval = retryTickInterval
	}
	return &RefundRetryCron{cfg: cfg, now: time.Now}
}

// Start ticks until ctx is cancelled.
func (c *RefundRetryCron) Start(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	log.Info().Msg("retry_cron: started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("retry_cron: shutting down")
			return
		case <-ticker.C:
			c.ProcessRetries(ctx)
		}
	}
}

func (c *RefundRetryCron) breakerOpen() bool {
	return c.cfg.CB != nil && c.cfg.CB.State() == infra.CBOpen
}

// ProcessRetries handles up to one batch of due entries and returns how many
// refunds the gateway accepted.
func (c *RefundRetryCron) ProcessRetries(ctx context.Context) int {
	if c.breakerOpen() {
		log.Debug().Msg("retry_cron: circuit breaker is open, skipping tick")
		return 0
	}

	now := c.now()
	var deferred []FailedRefund
	succeeded := 0

	// Popped entries live only in memory until they are requeued or
	// dead-lettered, so those writes must survive shutdown.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	for i := 0; i < retryBatchSize; i++ {
		if ctx.Err() != nil {
			break
		}
		// The breaker may trip mid-batch.
		if c.breakerOpen() {
			log.Debug().Msg("retry_cron: circuit breaker opened mid-batch, stopping")
			break
		}
		entry, err := c.cfg.Queue.Pop(ctx)
		if err != nil {
			log.Error().Err(err).Msg("retry_cron: failed to pop retry entry")
			continue
		}
		if entry == nil {
			break
		}
		if entry.NextRetryAt.After(now) {
			deferred = append(deferred, *entry)
			continue
		}

		if err := c.cfg.Gateway.Refund(ctx, entry.Reference, entry.Amount); err != nil {
			if ctx.Err() != nil {
				// shutting down; the attempt does not count
				deferred = append(deferred, *entry)
				break
			}
			entry.Attempts++
			entry.LastError = err.Error()
			if errors.Is(err, infra.ErrGatewayRejected) {
				log.Error().
					Str("sale_id", entry.SaleID).
					Str("refund_id", entry.RefundID).
					Err(err).
					Msg("retry_cron: gateway declined refund, moving to DLQ")
				c.cfg.Queue.DeadLetter(persistCtx, *entry, "declined: "+entry.LastError)
				continue
			}
			if entry.Attempts >= c.cfg.MaxAttempts {
				log.Error().
					Str("sale_id", entry.SaleID).
					Str("refund_id", entry.RefundID).
					Int("attempts", entry.Attempts).
					Msg("retry_cron: max attempts exceeded, moving to DLQ")
				c.cfg.Queue.DeadLetter(persistCtx, *entry,
					fmt.Sprintf("max attempts (%d) exceeded: %s", c.cfg.MaxAttempts, entry.LastError))
				continue
			}
			entry.NextRetryAt = now.Add(computeRetryBackoff(entry.Attempts))
			log.Warn().
				Str("sale_id", entry.SaleID).
				Int("attempts", entry.Attempts).
				Time("next_retry_at", entry.NextRetryAt).
				Msg("retry_cron: gateway refund retry failed, scheduled next attempt")
			deferred = append(deferred, *entry)
			continue
		}

		succeeded++
		log.Info().
			Str("sale_id", entry.SaleID).
			Str("refund_id", entry.RefundID).
			Int("attempts", entry.Attempts).
			Msg("retry_cron: gateway refund settled after retry")
	}

	for _, f := range deferred {
		if err := c.cfg.Queue.Push(persistCtx, f); err != nil {
			log.Error().Err(err).Str("sale_id", f.SaleID).Msg("retry_cron: failed to requeue entry")
		}
	}
	return succeeded
}

// computeRetryBackoff doubles from retryBaseBackoff per attempt, capped at retryMaxBackoff.
func computeRetryBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := retryBaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= retryMaxBackoff {
			return retryMaxBackoff
		}
	}
	return d
}
