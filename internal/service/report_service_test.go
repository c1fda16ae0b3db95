package service

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/Gianluca27/turno-facil-sub000/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reportAt(day, hour, minute int) time.Time {
	return time.Date(2026, 4, day, hour, minute, 0, 0, time.UTC)
}

func reportItem(kind string, id *uuid.UUID, name, unit string, qty int, total string) model.TransactionItem {
	return model.TransactionItem{Kind: kind, ItemID: id, Name: name, UnitPrice: dec(unit), Quantity: qty, Total: dec(total)}
}

func reportSales(biz uuid.UUID) []model.Transaction {
	cut, gel := uuid.New(), uuid.New()
	return []model.Transaction{
		{
			ID: uuid.New(), BusinessID: biz, Kind: model.KindSale, Status: model.StatusCompleted,
			PaymentMethod: model.MethodCash, CreatedAt: reportAt(3, 9, 15),
			Items: []model.TransactionItem{
				reportItem(model.ItemKindService, &cut, "Haircut", "50", 1, "50"),
				reportItem(model.ItemKindProduct, &gel, "Gel", "20", 2, "36"),
			},
			Subtotal: dec("86"), GlobalDiscountAmount: dec("0"), Tip: dec("4"), FinalTotal: dec("90"), TotalRefunded: dec("0"),
		},
		{
			ID: uuid.New(), BusinessID: biz, Kind: model.KindSale, Status: model.StatusCompleted,
			PaymentMethod: model.MethodCard, CreatedAt: reportAt(3, 9, 40),
			Items: []model.TransactionItem{
				reportItem(model.ItemKindService, &cut, "Haircut", "50", 1, "50"),
			},
			Subtotal: dec("50"), GlobalDiscountAmount: dec("5"), Tip: dec("0"), FinalTotal: dec("45"), TotalRefunded: dec("0"),
		},
		{
			ID: uuid.New(), BusinessID: biz, Kind: model.KindSale, Status: model.StatusPartialRefund,
			PaymentMethod: model.MethodCard, CreatedAt: reportAt(3, 14, 5),
			Items: []model.TransactionItem{
				reportItem(model.ItemKindCustom, nil, "Beard oil", "15", 1, "15"),
			},
			Subtotal: dec("15"), GlobalDiscountAmount: dec("0"), Tip: dec("0"), FinalTotal: dec("15"), TotalRefunded: dec("5"),
		},
		{
			ID: uuid.New(), BusinessID: biz, Kind: model.KindSale, Status: model.StatusRefunded,
			PaymentMethod: model.MethodTransfer, CreatedAt: reportAt(3, 16, 0),
			Subtotal: dec("70"), GlobalDiscountAmount: dec("0"), Tip: dec("0"), FinalTotal: dec("70"), TotalRefunded: dec("70"),
		},
		{
			ID: uuid.New(), BusinessID: biz, Kind: model.KindRefund, Status: model.StatusCompleted,
			PaymentMethod: model.MethodTransfer, CreatedAt: reportAt(3, 16, 30),
			Subtotal: dec("70"), GlobalDiscountAmount: dec("0"), Tip: dec("0"), FinalTotal: dec("70"), TotalRefunded: dec("0"),
		},
	}
}

func TestSummarize(t *testing.T) {
	s := summarize(reportSales(uuid.New()), reportAt(1, 0, 0), reportAt(30, 0, 0), 2)

	assert.Equal(t, 3, s.Totals.SaleCount)
	assertDec(t, "150", s.Totals.Gross)
	assertDec(t, "4", s.Totals.Tips)
	assertDec(t, "5", s.Totals.Refunded)
	assertDec(t, "145", s.Totals.Net)
	assertDec(t, "9", s.Totals.Discounts) // 5 global + 4 on the gel line

	require.Len(t, s.ByMethod, 2)
	assert.Equal(t, model.MethodCard, s.ByMethod[0].Method)
	assert.Equal(t, 2, s.ByMethod[0].Count)
	assertDec(t, "60", s.ByMethod[0].Total)
	assertDec(t, "90", s.ByMethod[1].Total)

	require.Len(t, s.ByKind, 3)
	assert.Equal(t, model.ItemKindCustom, s.ByKind[0].Kind)
	assert.Equal(t, model.ItemKindProduct, s.ByKind[1].Kind)
	assert.Equal(t, 2, s.ByKind[1].Quantity)
	assert.Equal(t, model.ItemKindService, s.ByKind[2].Kind)
	assertDec(t, "100", s.ByKind[2].Total)

	require.Len(t, s.ByHour, 2)
	assert.Equal(t, 9, s.ByHour[0].Hour)
	assert.Equal(t, 2, s.ByHour[0].Count)
	assertDec(t, "135", s.ByHour[0].Total)
	assert.Equal(t, 14, s.ByHour[1].Hour)

	require.Len(t, s.TopItems, 2)
	assert.Equal(t, "Haircut", s.TopItems[0].Name)
	assert.Equal(t, 2, s.TopItems[0].Quantity)
	assertDec(t, "100", s.TopItems[0].Revenue)
	assert.Equal(t, "Gel", s.TopItems[1].Name)
}

// Every counted sale lands in exactly one method bucket and one hour bucket.
func TestSummarize_BucketsAddUpToGross(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	methods := []string{model.MethodCash, model.MethodCard, model.MethodTransfer, model.MethodGateway, model.MethodMixed}
	statuses := []string{model.StatusCompleted, model.StatusPartialRefund, model.StatusRefunded}

	var sales []model.Transaction
	for i := 0; i < 300; i++ {
		sales = append(sales, model.Transaction{
			ID:            uuid.New(),
			Kind:          model.KindSale,
			Status:        statuses[rng.Intn(len(statuses))],
			PaymentMethod: methods[rng.Intn(len(methods))],
			FinalTotal:    decimal.New(int64(rng.Intn(100000)), -2),
			TotalRefunded: decimal.Zero,
			CreatedAt:     reportAt(rng.Intn(28)+1, rng.Intn(24), rng.Intn(60)),
		})
	}
	s := summarize(sales, reportAt(1, 0, 0), reportAt(30, 0, 0), 5)

	byMethod, byHour, count := decimal.Zero, decimal.Zero, 0
	for _, m := range s.ByMethod {
		byMethod = byMethod.Add(m.Total)
		count += m.Count
	}
	for _, h := range s.ByHour {
		byHour = byHour.Add(h.Total)
	}
	assert.True(t, byMethod.Equal(s.Totals.Gross))
	assert.True(t, byHour.Equal(s.Totals.Gross))
	assert.Equal(t, s.Totals.SaleCount, count)
}

func TestReportSummary_ScopesToBusinessAndWindow(t *testing.T) {
	ctx := context.Background()
	biz := uuid.New()
	repo := newStubTxRepo()
	for _, tx := range reportSales(biz) {
		tx := tx
		require.NoError(t, repo.Create(ctx, nil, &tx))
	}
	foreign := reportSales(uuid.New())[0]
	require.NoError(t, repo.Create(ctx, nil, &foreign))
	late := reportSales(biz)[0]
	late.CreatedAt = reportAt(10, 9, 0)
	require.NoError(t, repo.Create(ctx, nil, &late))

	svc := NewReportService(repo)
	s, err := svc.Summary(ctx, biz, reportAt(3, 0, 0), reportAt(3, 23, 59), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Totals.SaleCount)
	assertDec(t, "150", s.Totals.Gross)
	assert.Len(t, s.TopItems, 3)

	_, err = svc.Summary(ctx, biz, reportAt(4, 0, 0), reportAt(3, 0, 0), 5)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestReportDaily(t *testing.T) {
	ctx := context.Background()
	biz := uuid.New()
	repo := newStubTxRepo()
	add := func(kind string, total string, when time.Time) {
		require.NoError(t, repo.Create(ctx, nil, &model.Transaction{
			ID: uuid.New(), BusinessID: biz, Kind: kind, Status: model.StatusCompleted,
			PaymentMethod: model.MethodCard, FinalTotal: dec(total), CreatedAt: when,
		}))
	}
	add(model.KindSale, "100", reportAt(5, 10, 0))
	add(model.KindRefund, "30", reportAt(5, 18, 0))
	add(model.KindSale, "50", reportAt(6, 11, 0))
	add(model.KindSale, "999", reportAt(9, 11, 0))

	svc := NewReportService(repo)
	days, err := svc.Daily(ctx, biz, reportAt(5, 0, 0), reportAt(6, 23, 59))
	require.NoError(t, err)
	require.Len(t, days, 2)

	assert.Equal(t, "2026-04-05", days[0].Date)
	assert.Equal(t, 1, days[0].SaleCount)
	assert.Equal(t, 1, days[0].RefundCount)
	assertDec(t, "100", days[0].SalesTotal)
	assertDec(t, "30", days[0].RefundTotal)
	assertDec(t, "70", days[0].Net)

	assert.Equal(t, "2026-04-06", days[1].Date)
	assertDec(t, "50", days[1].Net)
	assert.Equal(t, 0, days[1].RefundCount)

	_, err = svc.Daily(ctx, biz, reportAt(6, 0, 0), reportAt(5, 0, 0))
	assert.True(t, errors.Is(err, ErrInvalidInput))
}
