package dto

import "github.com/shopspring/decimal"

// ReportQuery is bound from query string of GET /v1/reports/*.
type ReportQuery struct {
	From string `form:"from" validate:"required"` // RFC3339 or YYYY-MM-DD
	To   string `form:"to"   validate:"required"` // RFC3339 or YYYY-MM-DD (inclusive day)
	Top  int    `form:"top,default=5" validate:"min=1,max=50"`
}

type SummaryTotalsResponse struct {
	SaleCount int             `json:"sale_count"`
	Gross     decimal.Decimal `json:"gross"`
	Discounts decimal.Decimal `json:"discounts"`
	Tips      decimal.Decimal `json:"tips"`
	Refunded  decimal.Decimal `json:"refunded"`
	Net       decimal.Decimal `json:"net"`
}

type MethodTotalResponse struct {
	Method string          `json:"method"`
	Count  int             `json:"count"`
	Total  decimal.Decimal `json:"total"`
}

type KindTotalResponse struct {
	Kind     string          `json:"kind"`
	Quantity int             `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
}

type HourTotalResponse struct {
	Hour  int             `json:"hour"`
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

type TopItemResponse struct {
	Kind     string          `json:"kind"`
	ItemID   *string         `json:"item_id"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
}

type SummaryResponse struct {
	From     string                `json:"from"`
	To       string                `json:"to"`
	Totals   SummaryTotalsResponse `json:"totals"`
	ByMethod []MethodTotalResponse `json:"by_method"`
	ByKind   []KindTotalResponse   `json:"by_kind"`
	ByHour   []HourTotalResponse   `json:"by_hour"`
	TopItems []TopItemResponse     `json:"top_items"`
}

type DailyTotalResponse struct {
	Date        string          `json:"date"`
	SaleCount   int             `json:"sale_count"`
	SalesTotal  decimal.Decimal `json:"sales_total"`
	RefundCount int             `json:"refund_count"`
	RefundTotal decimal.Decimal `json:"refund_total"`
	Net         decimal.Decimal `json:"net"`
}

type DailyResponse struct {
	From string               `json:"from"`
	To   string               `json:"to"`
	Days []DailyTotalResponse `json:"days"`
}
