package service

import (
	"context"
	"sort"
	"time"

	"github.com/Gianluca27/turno-facil-sub000/internal/model"
	"github.com/Gianluca27/turno-facil-sub000/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultTopN = 5
	maxTopN     = 50
)

type MethodTotal struct {
	Method string
	Count  int
	Total  decimal.Decimal
}

type KindTotal struct {
	Kind     string
	Quantity int
	Total    decimal.Decimal
}

type HourTotal struct {
	Hour  int
	Count int
	Total decimal.Decimal
}

type TopItem struct {
	Kind     string
	ItemID   *uuid.UUID
	Name     string
	Quantity int
	Revenue  decimal.Decimal
}

type SummaryTotals struct {
	SaleCount int
	Gross     decimal.Decimal
	Discounts decimal.Decimal
	Tips      decimal.Decimal
	Refunded  decimal.Decimal
	Net       decimal.Decimal
}

// Summary covers sales in status completed or partial_refund. Refunded is the
// amount already given back on those same sales, so Net = Gross - Refunded.
type Summary struct {
	From     time.Time
	To       time.Time
	Totals   SummaryTotals
	ByMethod []MethodTotal
	ByKind   []KindTotal
	ByHour   []HourTotal
	TopItems []TopItem
}

// DailyTotal is a cash-flow view of one UTC day: every sale created that day
// and every refund transaction created that day.
type DailyTotal struct {
	Date        string // YYYY-MM-DD
	SaleCount   int
	SalesTotal  decimal.Decimal
	RefundCount int
	RefundTotal decimal.Decimal
	Net         decimal.Decimal
}

type ReportService interface {
	Summary(ctx context.Context, businessID uuid.UUID, from, to time.Time, topN int) (*Summary, error)
	Daily(ctx context.Context, businessID uuid.UUID, from, to time.Time) ([]DailyTotal, error)
}

type reportService struct {
	repo repository.TransactionRepository
}

func NewReportService(repo repository.TransactionRepository) ReportService {
	return &reportService{repo: repo}
}

func (s *reportService) Summary(ctx context.Context, businessID uuid.UUID, from, to time.Time, topN int) (*Summary, error) {
	if to.Before(from) {
		return nil, invalidInput("'to' must not be before 'from'")
	}
	if topN < 1 {
		topN = defaultTopN
	}
	if topN > maxTopN {
		topN = maxTopN
	}

	sales, err := s.repo.ListAll(ctx, repository.TransactionQuery{
		BusinessID: businessID,
		From:       &from,
		To:         &to,
		Kinds:      []string{model.KindSale},
		Statuses:   []string{model.StatusCompleted, model.StatusPartialRefund},
	})
	if err != nil {
		return nil, err
	}
	return summarize(sales, from, to, topN), nil
}

// summarize is the pure aggregation behind Summary.
func summarize(sales []model.Transaction, from, to time.Time, topN int) *Summary {
	out := &Summary{
		From: from,
		To:   to,
		Totals: SummaryTotals{
			Gross:     decimal.Zero,
			Discounts: decimal.Zero,
			Tips:      decimal.Zero,
			Refunded:  decimal.Zero,
		},
	}

	byMethod := map[string]*MethodTotal{}
	byKind := map[string]*KindTotal{}
	byHour := map[int]*HourTotal{}
	type itemKey struct {
		kind string
		id   uuid.UUID
		name string
	}
	items := map[itemKey]*TopItem{}

	for i := range sales {
		t := &sales[i]
		if !t.IsSale() || (t.Status != model.StatusCompleted && t.Status != model.StatusPartialRefund) {
			continue
		}

		out.Totals.SaleCount++
		out.Totals.Gross = out.Totals.Gross.Add(t.FinalTotal)
		out.Totals.Tips = out.Totals.Tips.Add(t.Tip)
		out.Totals.Refunded = out.Totals.Refunded.Add(t.TotalRefunded)
		out.Totals.Discounts = out.Totals.Discounts.Add(t.GlobalDiscountAmount)

		m := byMethod[t.PaymentMethod]
		if m == nil {
			m = &MethodTotal{Method: t.PaymentMethod, Total: decimal.Zero}
			byMethod[t.PaymentMethod] = m
		}
		m.Count++
		m.Total = m.Total.Add(t.FinalTotal)

		hour := t.CreatedAt.UTC().Hour()
		h := byHour[hour]
		if h == nil {
			h = &HourTotal{Hour: hour, Total: decimal.Zero}
			byHour[hour] = h
		}
		h.Count++
		h.Total = h.Total.Add(t.FinalTotal)

		for _, it := range t.Items {
			gross := it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
			out.Totals.Discounts = out.Totals.Discounts.Add(gross.Sub(it.Total))

			k := byKind[it.Kind]
			if k == nil {
				k = &KindTotal{Kind: it.Kind, Total: decimal.Zero}
				byKind[it.Kind] = k
			}
			k.Quantity += it.Quantity
			k.Total = k.Total.Add(it.Total)

			key := itemKey{kind: it.Kind, name: it.Name}
			if it.ItemID != nil {
				key = itemKey{kind: it.Kind, id: *it.ItemID}
			}
			top := items[key]
			if top == nil {
				top = &TopItem{Kind: it.Kind, ItemID: it.ItemID, Name: it.Name, Revenue: decimal.Zero}
				items[key] = top
			}
			top.Quantity += it.Quantity
			top.Revenue = top.Revenue.Add(it.Total)
		}
	}
	out.Totals.Net = out.Totals.Gross.Sub(out.Totals.Refunded)

	for _, m := range byMethod {
		out.ByMethod = append(out.ByMethod, *m)
	}
	sort.Slice(out.ByMethod, func(i, j int) bool { return out.ByMethod[i].Method < out.ByMethod[j].Method })

	for _, k := range byKind {
		out.ByKind = append(out.ByKind, *k)
	}
	sort.Slice(out.ByKind, func(i, j int) bool { return out.ByKind[i].Kind < out.ByKind[j].Kind })

	for _, h := range byHour {
		out.ByHour = append(out.ByHour, *h)
	}
	sort.Slice(out.ByHour, func(i, j int) bool { return out.ByHour[i].Hour < out.ByHour[j].Hour })

	for _, it := range items {
		out.TopItems = append(out.TopItems, *it)
	}
	sort.Slice(out.TopItems, func(i, j int) bool {
		a, b := out.TopItems[i], out.TopItems[j]
		if c := a.Revenue.Cmp(b.Revenue); c != 0 {
			return c > 0
		}
		return a.Name < b.Name
	})
	if len(out.TopItems) > topN {
		out.TopItems = out.TopItems[:topN]
	}
	return out
}

func (s *reportService) Daily(ctx context.Context, businessID uuid.UUID, from, to time.Time) ([]DailyTotal, error) {
	if to.Before(from) {
		return nil, invalidInput("'to' must not be before 'from'")
	}
	txs, err := s.repo.ListAll(ctx, repository.TransactionQuery{
		BusinessID: businessID,
		From:       &from,
		To:         &to,
		Kinds:      []string{model.KindSale, model.KindRefund},
	})
	if err != nil {
		return nil, err
	}

	days := map[string]*DailyTotal{}
	for i := range txs {
		t := &txs[i]
		date := t.CreatedAt.UTC().Format("2006-01-02")
		d := days[date]
		if d == nil {
			d = &DailyTotal{Date: date, SalesTotal: decimal.Zero, RefundTotal: decimal.Zero}
			days[date] = d
		}
		switch t.Kind {
		case model.KindSale:
			d.SaleCount++
			d.SalesTotal = d.SalesTotal.Add(t.FinalTotal)
		case model.KindRefund:
			d.RefundCount++
			d.RefundTotal = d.RefundTotal.Add(t.FinalTotal)
		}
	}

	out := make([]DailyTotal, 0, len(days))
	for _, d := range days {
		d.Net = d.SalesTotal.Sub(d.RefundTotal)
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}
