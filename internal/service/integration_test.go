//go:build integration

package service_test

// Runs the sale, refund and cash register flows against a real Postgres.
// Run with: go test -tags integration ./internal/service/... -v

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Gianluca27/turno-facil-sub000/internal/infra"
	"github.com/Gianluca27/turno-facil-sub000/internal/model"
	"github.com/Gianluca27/turno-facil-sub000/internal/repository"
	"github.com/Gianluca27/turno-facil-sub000/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"
)

type env struct {
	db       *gorm.DB
	biz      uuid.UUID
	actor    uuid.UUID
	sales    service.SaleService
	refunds  service.RefundService
	register service.CashRegisterService
	txRepo   repository.TransactionRepository
	outbox   repository.OutboxRepository
}

func setup(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcPostgres.WithDatabase("pos_test"),
		tcPostgres.WithUsername("pos"),
		tcPostgres.WithPassword("pos"),
		testcontainers.WithWaitStrategy(tcPostgres.BasicWaitStrategies()...),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// NewDatabase runs the migrations and schema patches.
	db, err := infra.NewDatabase(dsn)
	require.NoError(t, err)

	txRepo := repository.NewTransactionRepository(db)
	catalog := repository.NewCatalogRepository(db)
	cashRepo := repository.NewCashRegisterRepository(db)
	outbox := repository.NewOutboxRepository(db)
	inventory := service.NewInventoryService(catalog)

	return &env{
		db:       db,
		biz:      uuid.New(),
		actor:    uuid.New(),
		sales:    service.NewSaleService(txRepo, catalog, cashRepo, inventory, outbox, nil),
		refunds:  service.NewRefundService(txRepo, inventory, outbox, nil, nil, nil, service.RefundOptions{ConflictRetries: 5}),
		register: service.NewCashRegisterService(cashRepo, txRepo, outbox, 3),
		txRepo:   txRepo,
		outbox:   outbox,
	}
}

func (e *env) product(t *testing.T, name, price string, stock int) *model.Product {
	t.Helper()
	p := &model.Product{ID: uuid.New(), BusinessID: e.biz, Name: name, Price: decimal.RequireFromString(price), Stock: stock, Status: model.CatalogActive}
	require.NoError(t, e.db.Create(p).Error)
	return p
}

func (e *env) stock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var p model.Product
	require.NoError(t, e.db.First(&p, "id = ?", id).Error)
	return p.Stock
}

func (e *env) sale(lines ...service.SaleLine) service.CreateSaleInput {
	return service.CreateSaleInput{BusinessID: e.biz, ActorID: e.actor, Lines: lines, PaymentMethod: model.MethodCard}
}

func TestIntegration_SaleRollsBackOnShortStock(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	a := e.product(t, "Shampoo", "10", 5)
	b := e.product(t, "Conditioner", "12", 1)

	_, err := e.sales.CreateSale(ctx, e.sale(
		service.CatalogLine{Kind: model.ItemKindProduct, ItemID: a.ID, Quantity: 2},
		service.CatalogLine{Kind: model.ItemKindProduct, ItemID: b.ID, Quantity: 3},
	))
	assert.True(t, errors.Is(err, service.ErrInsufficientStock))
	assert.Equal(t, 5, e.stock(t, a.ID))
	assert.Equal(t, 1, e.stock(t, b.ID))

	var count int64
	require.NoError(t, e.db.Model(&model.Transaction{}).Where("business_id = ?", e.biz).Count(&count).Error)
	assert.Zero(t, count)
	pending, err := e.outbox.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestIntegration_ConcurrentSalesNeverOversell(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	p := e.product(t, "Last bottle", "20", 3)

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.sales.CreateSale(ctx, e.sale(service.CatalogLine{Kind: model.ItemKindProduct, ItemID: p.ID, Quantity: 1}))
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, ok)
	assert.Equal(t, 0, e.stock(t, p.ID))
}

func TestIntegration_IdempotentSaleAndRefund(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	p := e.product(t, "Gel", "20", 10)

	in := e.sale(service.CatalogLine{Kind: model.ItemKindProduct, ItemID: p.ID, Quantity: 3})
	key := "checkout-42"
	in.IdempotencyKey = &key
	first, err := e.sales.CreateSale(ctx, in)
	require.NoError(t, err)
	again, err := e.sales.CreateSale(ctx, in)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Sale.ID, again.Sale.ID)
	assert.Equal(t, 7, e.stock(t, p.ID))

	refundKey := "refund-42"
	rin := service.RefundInput{
		BusinessID: e.biz, ActorID: e.actor, SaleID: first.Sale.ID,
		Reason: "damaged", Method: model.MethodCard,
		Items:          []service.RefundLine{{ItemIndex: 0, Quantity: 1}},
		IdempotencyKey: &refundKey,
	}
	r1, err := e.refunds.RefundSale(ctx, rin)
	require.NoError(t, err)
	r2, err := e.refunds.RefundSale(ctx, rin)
	require.NoError(t, err)
	assert.True(t, r2.Duplicate)
	assert.Equal(t, r1.RefundTransaction.ID, r2.RefundTransaction.ID)
	assert.Equal(t, 8, e.stock(t, p.ID))

	stored, err := e.txRepo.FindByID(ctx, e.biz, first.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartialRefund, stored.Status)
	assert.True(t, stored.TotalRefunded.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, 1, stored.Items[0].RefundedQuantity)
	require.Len(t, stored.RefundEvents, 1)
	assert.Equal(t, 2, stored.Version)
}

func TestIntegration_ConcurrentRefundsRespectQuantities(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	p := e.product(t, "Wax", "15", 10)
	res, err := e.sales.CreateSale(ctx, e.sale(service.CatalogLine{Kind: model.ItemKindProduct, ItemID: p.ID, Quantity: 2}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.refunds.RefundSale(ctx, service.RefundInput{
				BusinessID: e.biz, ActorID: e.actor, SaleID: res.Sale.ID,
				Reason: "returned", Method: model.MethodCard,
				Items: []service.RefundLine{{ItemIndex: 0, Quantity: 1}},
			})
		}()
	}
	wg.Wait()

	stored, err := e.txRepo.FindByID(ctx, e.biz, res.Sale.ID)
	require.NoError(t, err)
	refunded := stored.Items[0].RefundedQuantity
	assert.LessOrEqual(t, refunded, 2)
	assert.True(t, stored.TotalRefunded.Equal(decimal.NewFromInt(int64(15*refunded))))
	assert.True(t, stored.TotalRefunded.LessThanOrEqual(stored.FinalTotal))
	assert.Len(t, stored.RefundEvents, refunded)
	assert.Equal(t, 8+refunded, e.stock(t, p.ID))
}

func TestIntegration_RegisterLifecycle(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	p := e.product(t, "Gel", "300", 5)

	sess, err := e.register.Open(ctx, service.OpenRegisterInput{BusinessID: e.biz, ActorID: e.actor, InitialAmount: decimal.NewFromInt(1000)})
	require.NoError(t, err)
	_, err = e.register.Open(ctx, service.OpenRegisterInput{BusinessID: e.biz, ActorID: e.actor})
	assert.True(t, errors.Is(err, service.ErrAlreadyOpen))

	_, err = e.register.RecordMovement(ctx, service.MovementInput{BusinessID: e.biz, SessionID: sess.ID, ActorID: e.actor,
		Type: model.MovementIn, Amount: decimal.NewFromInt(200), Reason: "float"})
	require.NoError(t, err)
	_, err = e.register.RecordMovement(ctx, service.MovementInput{BusinessID: e.biz, SessionID: sess.ID, ActorID: e.actor,
		Type: model.MovementOut, Amount: decimal.NewFromInt(50), Reason: "supplies"})
	require.NoError(t, err)

	in := e.sale(service.CatalogLine{Kind: model.ItemKindProduct, ItemID: p.ID, Quantity: 1})
	in.PaymentMethod = model.MethodCash
	_, err = e.sales.CreateSale(ctx, in)
	require.NoError(t, err)

	view, err := e.register.Close(ctx, service.CloseRegisterInput{BusinessID: e.biz, SessionID: sess.ID, ActorID: e.actor,
		DeclaredAmount: decimal.NewFromInt(1450)})
	require.NoError(t, err)
	assert.True(t, view.Breakdown.ExpectedAmount.Equal(decimal.NewFromInt(1450)))
	assert.True(t, view.Session.Difference.IsZero())

	_, err = e.register.RecordMovement(ctx, service.MovementInput{BusinessID: e.biz, SessionID: sess.ID, ActorID: e.actor,
		Type: model.MovementIn, Amount: decimal.NewFromInt(1), Reason: "late"})
	assert.True(t, errors.Is(err, service.ErrNotOpen))

	pending, err := e.outbox.ListPending(ctx, 10)
	require.NoError(t, err)
	var types []string
	for _, m := range pending {
		types = append(types, m.EventType)
	}
	assert.ElementsMatch(t, []string{model.EventSaleCompleted, model.EventCashRegisterClosed}, types)
}
