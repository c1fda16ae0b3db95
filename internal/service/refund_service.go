package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gianluca27/turno-facil-sub000/internal/model"
	"github.com/Gianluca27/turno-facil-sub000/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Gateway outcome of a refund.
const (
	GatewayNotApplicable = "not_applicable"
	GatewaySucceeded     = "succeeded"
	GatewayFailed        = "failed"
)

// RefundLine asks for quantity units of the sale line at ItemIndex.
type RefundLine struct {
	ItemIndex int
	Quantity  int
}

type RefundInput struct {
	BusinessID     uuid.UUID
	ActorID        uuid.UUID
	SaleID         uuid.UUID
	Reason         string
	Method         string
	Items          []RefundLine // empty means refund everything still outstanding
	IdempotencyKey *string
}

type RefundResult struct {
	RefundAmount      decimal.Decimal
	RefundedItems     []model.RefundedLine
	RefundTransaction *model.Transaction
	Sale              *model.Transaction
	GatewayStatus     string
	Duplicate         bool
}

type RefundOptions struct {
	// ConflictRetries is the optimistic-concurrency attempt budget.
	ConflictRetries int
	// LockTTL bounds the per-sale lock when a Locker is configured.
	LockTTL time.Duration
}

type RefundService interface {
	RefundSale(ctx context.Context, in RefundInput) (*RefundResult, error)
}

type refundService struct {
	repo       repository.TransactionRepository
	inventory  InventoryService
	events     eventWriter
	gateway    PaymentGateway
	reconciler RefundReconciler
	locker     Locker
	opts       RefundOptions
}

func NewRefundService(
	repo repository.TransactionRepository,
	inventory InventoryService,
	outbox repository.OutboxRepository,
	gateway PaymentGateway,
	reconciler RefundReconciler,
	locker Locker,
	opts RefundOptions,
) RefundService {
	if opts.ConflictRetries < 1 {
		opts.ConflictRetries = 3
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	return &refundService{
		repo:       repo,
		inventory:  inventory,
		events:     eventWriter{repo: outbox},
		gateway:    gateway,
		reconciler: reconciler,
		locker:     locker,
		opts:       opts,
	}
}

// ── RefundSale ────────────────────────────────────────────────────────────────
// Read-validate-write runs under a per-sale lock (when available) and a
// version-checked update; a lost race re-reads the sale and tries again.
// The gateway reversal runs after commit and never undoes the local refund.

func (s *refundService) RefundSale(ctx context.Context, in RefundInput) (*RefundResult, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Reason == "" {
		return nil, invalidInput("a refund needs a reason")
	}
	if !validRefundMethod(in.Method) {
		return nil, invalidInput("unknown refund method %q", in.Method)
	}
	for i, l := range in.Items {
		if l.Quantity < 1 {
			return nil, invalidInput("refund line %d: quantity must be at least 1", i)
		}
	}

	if key := trimmed(in.IdempotencyKey); key != nil {
		in.IdempotencyKey = key
		if res, err := s.replay(ctx, in.BusinessID, in.SaleID, *key); err == nil {
			return res, nil
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "pos:lock:sale:"+in.SaleID.String(), s.opts.LockTTL)
		if err != nil {
			if errors.Is(err, ErrLockBusy) {
				return nil, ErrConcurrentModification
			}
			return nil, err
		}
		defer release()
	}

	var res *RefundResult
	err := withRetries(s.opts.ConflictRetries, func() error {
		var err error
		res, err = s.apply(ctx, in)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) && in.IdempotencyKey != nil {
			res, rerr := s.replay(ctx, in.BusinessID, in.SaleID, *in.IdempotencyKey)
			if rerr == nil {
				return res, nil
			}
			if errors.Is(rerr, ErrIdempotencyKeyReused) {
				return nil, rerr
			}
		}
		return nil, err
	}

	log.Info().
		Str("business_id", in.BusinessID.String()).
		Str("sale_id", in.SaleID.String()).
		Str("refund_id", res.RefundTransaction.ID.String()).
		Str("amount", res.RefundAmount.StringFixed(2)).
		Str("status", res.Sale.Status).
		Msg("refund applied")

	res.GatewayStatus = s.reverseOnGateway(ctx, in.Method, res)
	return res, nil
}

// apply is one read-validate-write attempt.
func (s *refundService) apply(ctx context.Context, in RefundInput) (*RefundResult, error) {
	sale, err := s.repo.FindByID(ctx, in.BusinessID, in.SaleID)
	if err != nil {
		return nil, notFoundOr(err, "sale %s", in.SaleID)
	}
	if !sale.Refundable() {
		return nil, ErrNotFound
	}
	expectedVersion := sale.Version

	var lines []model.RefundedLine
	var amount decimal.Decimal
	if len(in.Items) > 0 {
		lines, amount, err = refundItemized(sale, in.Items)
	} else {
		lines, amount = refundRemaining(sale)
	}
	if err != nil {
		return nil, err
	}

	sale.TotalRefunded = sale.TotalRefunded.Add(amount)
	sale.Status = refundStatus(sale)

	refundTx := buildRefundTransaction(sale, in, lines, amount)

	affected, err := json.Marshal(lines)
	if err != nil {
		return nil, err
	}
	ev := model.RefundEvent{
		ID:                  uuid.New(),
		TransactionID:       sale.ID,
		RefundTransactionID: refundTx.ID,
		Amount:              amount,
		AffectedItems:       datatypes.JSON(affected),
		Reason:              in.Reason,
		Method:              in.Method,
		ActorID:             in.ActorID,
		CreatedAt:           time.Now(),
	}

	txErr := runTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		if err := s.repo.UpdateRefundStateTx(ctx, tx, sale, expectedVersion); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, tx, refundTx); err != nil {
			return err
		}
		if err := s.repo.CreateRefundEventTx(ctx, tx, &ev); err != nil {
			return err
		}
		for _, l := range lines {
			item := sale.Items[l.ItemIndex]
			if item.Kind != model.ItemKindProduct || item.ItemID == nil {
				continue
			}
			if err := s.inventory.Release(ctx, tx, sale.BusinessID, *item.ItemID, l.Quantity); err != nil {
				return err
			}
		}
		return s.events.write(ctx, tx, sale.BusinessID, model.EventSaleRefunded, sale.ID.String(), refundEventPayload{
			SaleID:        sale.ID,
			RefundID:      refundTx.ID,
			BusinessID:    sale.BusinessID,
			Amount:        amount,
			Method:        in.Method,
			SaleStatus:    sale.Status,
			TotalRefunded: sale.TotalRefunded,
		})
	})
	if txErr != nil {
		return nil, txErr
	}

	sale.RefundEvents = append(sale.RefundEvents, ev)
	return &RefundResult{
		RefundAmount:      amount,
		RefundedItems:     lines,
		RefundTransaction: refundTx,
		Sale:              sale,
		GatewayStatus:     GatewayNotApplicable,
	}, nil
}

// refundItemized validates and applies the requested lines to sale.Items in memory.
// The amount is capped at what is still unrefunded on the sale so that
// TotalRefunded never exceeds FinalTotal when a global discount was applied.
func refundItemized(sale *model.Transaction, reqs []RefundLine) ([]model.RefundedLine, decimal.Decimal, error) {
	amount := decimal.Zero
	lines := make([]model.RefundedLine, 0, len(reqs))
	for _, r := range reqs {
		if r.ItemIndex < 0 || r.ItemIndex >= len(sale.Items) {
			return nil, decimal.Zero, &RefundLineError{Index: r.ItemIndex, Requested: r.Quantity, kind: ErrInvalidIndex}
		}
		item := &sale.Items[r.ItemIndex]
		available := item.Remaining()
		if r.Quantity > available {
			return nil, decimal.Zero, &RefundLineError{Index: r.ItemIndex, Available: available, Requested: r.Quantity, kind: ErrExceedsAvailable}
		}
		lineAmount := ProportionalRefund(item.Total, item.Quantity, r.Quantity)
		item.RefundedQuantity += r.Quantity
		amount = amount.Add(lineAmount)
		lines = append(lines, model.RefundedLine{ItemIndex: r.ItemIndex, Quantity: r.Quantity, Amount: lineAmount})
	}
	if outstanding := sale.FinalTotal.Sub(sale.TotalRefunded); amount.GreaterThan(outstanding) {
		amount = outstanding
	}
	return lines, amount, nil
}

// refundRemaining marks every line fully refunded; the amount is whatever has
// not been refunded yet.
func refundRemaining(sale *model.Transaction) ([]model.RefundedLine, decimal.Decimal) {
	var lines []model.RefundedLine
	for i := range sale.Items {
		item := &sale.Items[i]
		remaining := item.Remaining()
		if remaining <= 0 {
			continue
		}
		lines = append(lines, model.RefundedLine{
			ItemIndex: i,
			Quantity:  remaining,
			Amount:    ProportionalRefund(item.Total, item.Quantity, remaining),
		})
		item.RefundedQuantity = item.Quantity
	}
	amount := sale.FinalTotal.Sub(sale.TotalRefunded)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return lines, amount
}

// refundStatus derives the sale status from its lines.
func refundStatus(sale *model.Transaction) string {
	all, some := true, false
	for _, item := range sale.Items {
		if item.RefundedQuantity > 0 {
			some = true
		}
		if item.RefundedQuantity < item.Quantity {
			all = false
		}
	}
	switch {
	case all && len(sale.Items) > 0:
		return model.StatusRefunded
	case some:
		return model.StatusPartialRefund
	default:
		return model.StatusCompleted
	}
}

// buildRefundTransaction creates the append-only sibling record. Its pricing
// snapshot is balanced so that FinalTotal equals the refunded amount: any gap
// between the line amounts and the amount shows up as discount or tip.
func buildRefundTransaction(sale *model.Transaction, in RefundInput, lines []model.RefundedLine, amount decimal.Decimal) *model.Transaction {
	id := uuid.New()
	saleID := sale.ID
	reason := in.Reason
	t := &model.Transaction{
		ID:                   id,
		BusinessID:           sale.BusinessID,
		Kind:                 model.KindRefund,
		Source:               sale.Source,
		Status:               model.StatusCompleted,
		PaymentMethod:        in.Method,
		TotalRefunded:        decimal.Zero,
		RelatedTransactionID: &saleID,
		AppointmentID:        sale.AppointmentID,
		ClientID:             sale.ClientID,
		ClientName:           sale.ClientName,
		Reason:               &reason,
		IdempotencyKey:       in.IdempotencyKey,
		CreatedBy:            in.ActorID,
		Version:              1,
		CreatedAt:            time.Now(),
	}

	subtotal := decimal.Zero
	for i, l := range lines {
		orig := sale.Items[l.ItemIndex]
		t.Items = append(t.Items, model.TransactionItem{
			ID:              uuid.New(),
			TransactionID:   id,
			Position:        i,
			Kind:            orig.Kind,
			ItemID:          orig.ItemID,
			Name:            orig.Name,
			Quantity:        l.Quantity,
			UnitPrice:       orig.UnitPrice,
			DiscountPercent: orig.DiscountPercent,
			Total:           l.Amount,
		})
		subtotal = subtotal.Add(l.Amount)
	}

	t.Subtotal = subtotal
	t.GlobalDiscountAmount = decimal.Zero
	t.Tip = decimal.Zero
	switch {
	case amount.LessThan(subtotal):
		t.GlobalDiscountAmount = subtotal.Sub(amount)
		t.GlobalDiscountPercent = t.GlobalDiscountAmount.Div(subtotal).Mul(hundred)
	case amount.GreaterThan(subtotal):
		t.Tip = amount.Sub(subtotal)
	}
	t.FinalTotal = amount
	t.Payments = []model.TransactionPayment{{ID: uuid.New(), TransactionID: id, Position: 0, Method: in.Method, Amount: amount}}
	return t
}

// reverseOnGateway calls the processor after the local refund committed.
// A failure is logged and queued for reconciliation; the refund stands.
func (s *refundService) reverseOnGateway(ctx context.Context, method string, res *RefundResult) string {
	sale := res.Sale
	if method != model.MethodGateway || sale.PaymentReference == nil || s.gateway == nil {
		return GatewayNotApplicable
	}
	if !res.RefundAmount.IsPositive() {
		return GatewayNotApplicable
	}

	err := s.gateway.Refund(ctx, *sale.PaymentReference, res.RefundAmount)
	if err == nil {
		return GatewaySucceeded
	}

	log.Error().Err(err).
		Str("business_id", sale.BusinessID.String()).
		Str("sale_id", sale.ID.String()).
		Str("refund_id", res.RefundTransaction.ID.String()).
		Str("reference", *sale.PaymentReference).
		Str("amount", res.RefundAmount.StringFixed(2)).
		Msg("refund: gateway reversal failed, local refund kept")
	if s.reconciler != nil {
		s.reconciler.ReportFailedRefund(ctx, sale.ID, res.RefundTransaction.ID, *sale.PaymentReference, res.RefundAmount, err.Error())
	}
	return GatewayFailed
}

// replay rebuilds the result of an earlier refund carrying the same idempotency key.
// The key stays bound to the sale it was first used on.
func (s *refundService) replay(ctx context.Context, businessID, saleID uuid.UUID, key string) (*RefundResult, error) {
	refundTx, err := s.repo.FindByIdempotencyKey(ctx, businessID, model.KindRefund, key)
	if err != nil {
		return nil, err
	}
	if refundTx.RelatedTransactionID == nil || *refundTx.RelatedTransactionID != saleID {
		return nil, fmt.Errorf("%w: key %q belongs to a refund of another sale", ErrIdempotencyKeyReused, key)
	}
	res := &RefundResult{
		RefundAmount:      refundTx.FinalTotal,
		RefundTransaction: refundTx,
		GatewayStatus:     GatewayNotApplicable,
		Duplicate:         true,
	}
	sale, err := s.repo.FindByID(ctx, businessID, saleID)
	if err != nil {
		return nil, err
	}
	res.Sale = sale
	for _, ev := range sale.RefundEvents {
		if ev.RefundTransactionID == refundTx.ID {
			_ = json.Unmarshal(ev.AffectedItems, &res.RefundedItems)
			break
		}
	}
	return res, nil
}

func validRefundMethod(m string) bool {
	switch m {
	case model.MethodCash, model.MethodCard, model.MethodTransfer, model.MethodGateway:
		return true
	}
	return false
}

type refundEventPayload struct {
	SaleID        uuid.UUID       `json:"sale_id"`
	RefundID      uuid.UUID       `json:"refund_id"`
	BusinessID    uuid.UUID       `json:"business_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	SaleStatus    string          `json:"sale_status"`
	TotalRefunded decimal.Decimal `json:"total_refunded"`
}
