package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gianluca27/turno-facil-sub000/internal/model"
	"github.com/Gianluca27/turno-facil-sub000/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SaleLine is either a CatalogLine or an AdHocLine.
type SaleLine interface {
	saleLine()
}

// CatalogLine sells an active service or product from the business catalog.
type CatalogLine struct {
	Kind            string // model.ItemKindService | model.ItemKindProduct
	ItemID          uuid.UUID
	Quantity        int
	PriceOverride   *decimal.Decimal
	DiscountPercent decimal.Decimal
}

// AdHocLine is a free-form line with no catalog reference. It never touches stock.
type AdHocLine struct {
	Name            string
	UnitPrice       decimal.Decimal
	Quantity        int
	DiscountPercent decimal.Decimal
}

func (CatalogLine) saleLine() {}
func (AdHocLine) saleLine()   {}

// PaymentLeg is one {method, amount} pair of a mixed payment.
type PaymentLeg struct {
	Method string
	Amount decimal.Decimal
}

type CreateSaleInput struct {
	BusinessID            uuid.UUID
	ActorID               uuid.UUID
	Lines                 []SaleLine
	PaymentMethod         string
	Payments              []PaymentLeg // required for mixed, ignored otherwise
	PaymentReference      *string
	GlobalDiscountPercent decimal.Decimal
	Tip                   decimal.Decimal
	AppointmentID         *string
	ClientID              *string
	ClientName            *string
	Notes                 *string
	IdempotencyKey        *string
}

// SaleResult reports Duplicate=true when the idempotency key matched an earlier sale.
type SaleResult struct {
	Sale      *model.Transaction
	Duplicate bool
}

type SaleFilter struct {
	From          *time.Time
	To            *time.Time
	Kind          string
	Status        string
	PaymentMethod string
	Page          int
	Limit         int
}

type SaleService interface {
	CreateSale(ctx context.Context, in CreateSaleInput) (*SaleResult, error)
	GetSale(ctx context.Context, businessID, id uuid.UUID) (*model.Transaction, error)
	ListSales(ctx context.Context, businessID uuid.UUID, f SaleFilter) ([]model.Transaction, int64, error)
}

type saleService struct {
	repo         repository.TransactionRepository
	catalog      repository.CatalogRepository
	cashRepo     repository.CashRegisterRepository
	inventory    InventoryService
	events       eventWriter
	appointments AppointmentUpdater
}

func NewSaleService(
	repo repository.TransactionRepository,
	catalog repository.CatalogRepository,
	cashRepo repository.CashRegisterRepository,
	inventory InventoryService,
	outbox repository.OutboxRepository,
	appointments AppointmentUpdater,
) SaleService {
	return &saleService{
		repo:         repo,
		catalog:      catalog,
		cashRepo:     cashRepo,
		inventory:    inventory,
		events:       eventWriter{repo: outbox},
		appointments: appointments,
	}
}

// resolvedLine is a sale line after catalog lookup, before any write.
type resolvedLine struct {
	item  model.TransactionItem
	price PricedLine
}

// ── CreateSale ────────────────────────────────────────────────────────────────
//   1. Replay an earlier sale when the idempotency key is known
//   2. Cash (or a cash leg) requires an open register session
//   3. Resolve every line against the catalog (pre-flight, outside TX)
//   4. Price the cart and validate the payment legs
//   5. BEGIN TX: lock the open session for cash, reserve all stock,
//      persist the sale, write sale.completed
//   6. COMMIT, then mark the linked appointment paid

func (s *saleService) CreateSale(ctx context.Context, in CreateSaleInput) (*SaleResult, error) {
	if len(in.Lines) == 0 {
		return nil, invalidInput("a sale needs at least one line")
	}
	if !validSaleMethod(in.PaymentMethod) {
		return nil, invalidInput("unknown payment method %q", in.PaymentMethod)
	}

	// 1. Idempotent replay
	if key := trimmed(in.IdempotencyKey); key != nil {
		in.IdempotencyKey = key
		if res, err := s.replay(ctx, in, *key); err == nil {
			return res, nil
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	// 2. Register check (repeated inside the TX)
	cash := usesCash(in.PaymentMethod, in.Payments)
	if cash {
		if _, err := s.cashRepo.FindOpenByBusiness(ctx, in.BusinessID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrRegisterClosed
			}
			return nil, err
		}
	}

	// 3. Resolve
	resolved := make([]resolvedLine, 0, len(in.Lines))
	for i, line := range in.Lines {
		r, err := s.resolveLine(ctx, in.BusinessID, i, line)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, r)
	}

	// 4. Price and payments
	priced := make([]PricedLine, len(resolved))
	for i, r := range resolved {
		priced[i] = r.price
	}
	totals, err := SaleTotals(priced, in.GlobalDiscountPercent, in.Tip)
	if err != nil {
		return nil, err
	}
	payments, err := paymentLegs(in.PaymentMethod, in.Payments, totals.FinalTotal)
	if err != nil {
		return nil, err
	}

	sale := &model.Transaction{
		ID:                    uuid.New(),
		BusinessID:            in.BusinessID,
		Kind:                  model.KindSale,
		Source:                model.SourcePOS,
		Status:                model.StatusCompleted,
		Subtotal:              totals.Subtotal,
		GlobalDiscountPercent: in.GlobalDiscountPercent,
		GlobalDiscountAmount:  totals.GlobalDiscountAmount,
		Tip:                   totals.Tip,
		FinalTotal:            totals.FinalTotal,
		PaymentMethod:         in.PaymentMethod,
		PaymentReference:      trimmed(in.PaymentReference),
		TotalRefunded:         decimal.Zero,
		AppointmentID:         trimmed(in.AppointmentID),
		ClientID:              in.ClientID,
		ClientName:            in.ClientName,
		Notes:                 in.Notes,
		IdempotencyKey:        in.IdempotencyKey,
		CreatedBy:             in.ActorID,
		Version:               1,
		Payments:              payments,
	}
	if sale.AppointmentID != nil {
		sale.Source = model.SourceAppointment
	}

	var stock []StockRequest
	for i, r := range resolved {
		item := r.item
		item.ID = uuid.New()
		item.TransactionID = sale.ID
		item.Position = i
		item.Total = totals.LineTotals[i]
		sale.Items = append(sale.Items, item)
		if item.Kind == model.ItemKindProduct {
			stock = append(stock, StockRequest{ProductID: *item.ItemID, Quantity: item.Quantity})
		}
	}
	for i := range sale.Payments {
		sale.Payments[i].ID = uuid.New()
		sale.Payments[i].TransactionID = sale.ID
	}

	// 5. ACID transaction
	txErr := runTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		// Holding the session row until commit makes a concurrent Close
		// either wait for this sale or fail its version check and recount.
		if cash {
			if err := s.cashRepo.TouchOpenSessionTx(ctx, tx, in.BusinessID); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return ErrRegisterClosed
				}
				return err
			}
		}
		if err := s.inventory.ReserveAll(ctx, tx, in.BusinessID, stock); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, tx, sale); err != nil {
			return err
		}
		return s.events.write(ctx, tx, in.BusinessID, model.EventSaleCompleted, sale.ID.String(), saleEvent(sale))
	})
	if txErr != nil {
		// lost an idempotency race: the other request committed first
		if errors.Is(txErr, repository.ErrDuplicate) && in.IdempotencyKey != nil {
			res, err := s.replay(ctx, in, *in.IdempotencyKey)
			if err == nil {
				return res, nil
			}
			if errors.Is(err, ErrIdempotencyKeyReused) {
				return nil, err
			}
		}
		return nil, txErr
	}

	log.Info().
		Str("business_id", in.BusinessID.String()).
		Str("sale_id", sale.ID.String()).
		Str("method", sale.PaymentMethod).
		Str("total", sale.FinalTotal.StringFixed(2)).
		Msg("sale created")

	// 6. Appointment link (best effort)
	if sale.AppointmentID != nil && s.appointments != nil {
		note := fmt.Sprintf("Paid %s via %s (transaction %s)", sale.FinalTotal.StringFixed(2), sale.PaymentMethod, sale.ID)
		if err := s.appointments.MarkPaid(ctx, in.BusinessID, *sale.AppointmentID, sale.ID, note); err != nil {
			log.Error().Err(err).
				Str("sale_id", sale.ID.String()).
				Str("appointment_id", *sale.AppointmentID).
				Msg("sale: failed to mark appointment paid")
		}
	}

	return &SaleResult{Sale: sale}, nil
}

// replay returns the earlier sale stored under key. A key is bound to the
// payload it first arrived with: a different method or cart is rejected.
func (s *saleService) replay(ctx context.Context, in CreateSaleInput, key string) (*SaleResult, error) {
	existing, err := s.repo.FindByIdempotencyKey(ctx, in.BusinessID, model.KindSale, key)
	if err != nil {
		return nil, err
	}
	if !sameCart(existing, in) {
		return nil, fmt.Errorf("%w: key %q was used for a different sale", ErrIdempotencyKeyReused, key)
	}
	return &SaleResult{Sale: existing, Duplicate: true}, nil
}

// sameCart compares what the caller controls directly: method, lines and quantities.
func sameCart(t *model.Transaction, in CreateSaleInput) bool {
	if t.PaymentMethod != in.PaymentMethod || len(t.Items) != len(in.Lines) {
		return false
	}
	for i, line := range in.Lines {
		item := t.Items[i]
		switch l := line.(type) {
		case CatalogLine:
			if item.Kind != l.Kind || item.ItemID == nil || *item.ItemID != l.ItemID || item.Quantity != l.Quantity {
				return false
			}
		case AdHocLine:
			if item.Kind != model.ItemKindCustom || item.Name != strings.TrimSpace(l.Name) || item.Quantity != l.Quantity {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (s *saleService) resolveLine(ctx context.Context, businessID uuid.UUID, i int, line SaleLine) (resolvedLine, error) {
	switch l := line.(type) {
	case CatalogLine:
		if l.Quantity < 1 {
			return resolvedLine{}, invalidInput("line %d: quantity must be at least 1", i)
		}
		var name string
		var price decimal.Decimal
		switch l.Kind {
		case model.ItemKindService:
			svc, err := s.catalog.FindActiveService(ctx, businessID, l.ItemID)
			if err != nil {
				return resolvedLine{}, notFoundOr(err, "service %s", l.ItemID)
			}
			name, price = svc.Name, svc.Price
		case model.ItemKindProduct:
			p, err := s.catalog.FindActiveProduct(ctx, nil, businessID, l.ItemID)
			if err != nil {
				return resolvedLine{}, notFoundOr(err, "product %s", l.ItemID)
			}
			name, price = p.Name, p.Price
		default:
			return resolvedLine{}, invalidInput("line %d: unknown item kind %q", i, l.Kind)
		}
		if l.PriceOverride != nil {
			price = *l.PriceOverride
		}
		itemID := l.ItemID
		return resolvedLine{
			item: model.TransactionItem{
				Kind:            l.Kind,
				ItemID:          &itemID,
				Name:            name,
				Quantity:        l.Quantity,
				UnitPrice:       price,
				DiscountPercent: l.DiscountPercent,
			},
			price: PricedLine{UnitPrice: price, Quantity: l.Quantity, DiscountPercent: l.DiscountPercent},
		}, nil

	case AdHocLine:
		name := strings.TrimSpace(l.Name)
		if name == "" {
			return resolvedLine{}, invalidInput("line %d: custom item needs a name", i)
		}
		return resolvedLine{
			item: model.TransactionItem{
				Kind:            model.ItemKindCustom,
				Name:            name,
				Quantity:        l.Quantity,
				UnitPrice:       l.UnitPrice,
				DiscountPercent: l.DiscountPercent,
			},
			price: PricedLine{UnitPrice: l.UnitPrice, Quantity: l.Quantity, DiscountPercent: l.DiscountPercent},
		}, nil

	default:
		return resolvedLine{}, invalidInput("line %d: unsupported line type %T", i, line)
	}
}

// ── Reads ─────────────────────────────────────────────────────────────────────

func (s *saleService) GetSale(ctx context.Context, businessID, id uuid.UUID) (*model.Transaction, error) {
	t, err := s.repo.FindByID(ctx, businessID, id)
	if err != nil {
		return nil, notFoundOr(err, "transaction %s", id)
	}
	return t, nil
}

func (s *saleService) ListSales(ctx context.Context, businessID uuid.UUID, f SaleFilter) ([]model.Transaction, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
	q := repository.TransactionQuery{
		BusinessID:    businessID,
		From:          f.From,
		To:            f.To,
		PaymentMethod: f.PaymentMethod,
		Page:          f.Page,
		Limit:         f.Limit,
	}
	if f.Kind != "" {
		q.Kinds = []string{f.Kind}
	}
	if f.Status != "" {
		q.Statuses = []string{f.Status}
	}
	return s.repo.List(ctx, q)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func validSaleMethod(m string) bool {
	switch m {
	case model.MethodCash, model.MethodCard, model.MethodTransfer, model.MethodGateway, model.MethodMixed:
		return true
	}
	return false
}

func usesCash(method string, legs []PaymentLeg) bool {
	if method == model.MethodCash {
		return true
	}
	if method != model.MethodMixed {
		return false
	}
	for _, l := range legs {
		if l.Method == model.MethodCash {
			return true
		}
	}
	return false
}

// paymentLegs builds the persisted payment record. Single-method payments get
// one leg for the final total; mixed payments need two or more legs summing to it.
func paymentLegs(method string, legs []PaymentLeg, finalTotal decimal.Decimal) ([]model.TransactionPayment, error) {
	if method != model.MethodMixed {
		return []model.TransactionPayment{{Position: 0, Method: method, Amount: finalTotal}}, nil
	}
	if len(legs) < 2 {
		return nil, &PaymentMismatchError{Expected: finalTotal, Reason: "mixed payment needs at least two legs"}
	}

	sum := decimal.Zero
	out := make([]model.TransactionPayment, 0, len(legs))
	for i, l := range legs {
		if l.Method == model.MethodMixed || !validSaleMethod(l.Method) {
			return nil, invalidInput("payment leg %d: invalid method %q", i, l.Method)
		}
		if !l.Amount.IsPositive() {
			return nil, invalidInput("payment leg %d: amount must be greater than zero", i)
		}
		sum = sum.Add(l.Amount)
		out = append(out, model.TransactionPayment{Position: i, Method: l.Method, Amount: l.Amount})
	}
	if !AmountsMatch(sum, finalTotal) {
		return nil, &PaymentMismatchError{Expected: finalTotal, Received: sum}
	}
	return out, nil
}

// cashPortion is the part of a sale settled in cash.
func cashPortion(t *model.Transaction) decimal.Decimal {
	switch t.PaymentMethod {
	case model.MethodCash:
		return t.FinalTotal
	case model.MethodMixed:
		sum := decimal.Zero
		for _, p := range t.Payments {
			if p.Method == model.MethodCash {
				sum = sum.Add(p.Amount)
			}
		}
		return sum
	}
	return decimal.Zero
}

func notFoundOr(err error, format string, args ...any) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

type saleEventPayload struct {
	SaleID        uuid.UUID       `json:"sale_id"`
	BusinessID    uuid.UUID       `json:"business_id"`
	Source        string          `json:"source"`
	PaymentMethod string          `json:"payment_method"`
	FinalTotal    decimal.Decimal `json:"final_total"`
	AppointmentID *string         `json:"appointment_id,omitempty"`
	CreatedBy     uuid.UUID       `json:"created_by"`
}

func saleEvent(t *model.Transaction) saleEventPayload {
	return saleEventPayload{
		SaleID:        t.ID,
		BusinessID:    t.BusinessID,
		Source:        t.Source,
		PaymentMethod: t.PaymentMethod,
		FinalTotal:    t.FinalTotal,
		AppointmentID: t.AppointmentID,
		CreatedBy:     t.CreatedBy,
	}
}
