package dto

import (
	"encoding/json"
	"time"

	"github.com/Gianluca27/turno-facil-sub000/internal/model"

	"github.com/shopspring/decimal"
)

// ─── Filter / List ──────────────────────────────────────────────────────────

// SaleFilter is bound from query string of GET /v1/sales.
type SaleFilter struct {
	From   string `form:"from"`   // RFC3339 or YYYY-MM-DD
	To     string `form:"to"`     // RFC3339 or YYYY-MM-DD (inclusive day)
	Kind   string `form:"kind"   validate:"omitempty,oneof=sale refund"`
	Status string `form:"status" validate:"omitempty,oneof=completed partial_refund refunded"`
	Method string `form:"method" validate:"omitempty,oneof=cash card transfer gateway mixed"`
	Page   int    `form:"page,default=1"   validate:"min=1"`
	Limit  int    `form:"limit,default=20" validate:"min=1,max=100"`
}

type TransactionListResponse struct {
	Data  []TransactionResponse `json:"data"`
	Total int64                 `json:"total"`
	Page  int                   `json:"page"`
	Limit int                   `json:"limit"`
}

// ─── Request DTOs ────────────────────────────────────────────────────────────

// SaleLineRequest is a catalog line (kind service|product, item_id) or an
// ad-hoc line (kind custom, name, unit_price). For catalog lines unit_price
// overrides the catalog price.
type SaleLineRequest struct {
	Kind            string           `json:"kind"             validate:"required,oneof=service product custom"`
	ItemID          string           `json:"item_id"          validate:"omitempty,uuid"`
	Name            string           `json:"name"             validate:"max=120"`
	Quantity        int              `json:"quantity"         validate:"required,min=1"`
	UnitPrice       *decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal  `json:"discount_percent" validate:"min=0,max=100"`
}

type PaymentLegRequest struct {
	Method string          `json:"method" validate:"required,oneof=cash card transfer gateway"`
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

type CreateSaleRequest struct {
	Items                 []SaleLineRequest   `json:"items"                   validate:"required,min=1,dive"`
	PaymentMethod         string              `json:"payment_method"          validate:"required,oneof=cash card transfer gateway mixed"`
	Payments              []PaymentLegRequest `json:"payments"                validate:"omitempty,dive"`
	PaymentReference      *string             `json:"payment_reference"       validate:"omitempty,max=120"`
	GlobalDiscountPercent decimal.Decimal     `json:"global_discount_percent" validate:"min=0,max=100"`
	Tip                   decimal.Decimal     `json:"tip"                     validate:"min=0"`
	AppointmentID         *string             `json:"appointment_id"          validate:"omitempty,max=64"`
	ClientID              *string             `json:"client_id"               validate:"omitempty,max=64"`
	ClientName            *string             `json:"client_name"             validate:"omitempty,max=120"`
	Notes                 *string             `json:"notes"                   validate:"omitempty,max=500"`
	// IdempotencyKey may also be sent as the Idempotency-Key header, which wins.
	IdempotencyKey *string `json:"idempotency_key" validate:"omitempty,max=100"`
}

type RefundItemRequest struct {
	ItemIndex int `json:"item_index" validate:"min=0"`
	Quantity  int `json:"quantity"   validate:"required,min=1"`
}

type RefundRequest struct {
	Reason         string              `json:"reason"          validate:"required,max=500"`
	Method         string              `json:"method"          validate:"required,oneof=cash card transfer gateway"`
	Items          []RefundItemRequest `json:"items"           validate:"omitempty,dive"`
	IdempotencyKey *string             `json:"idempotency_key" validate:"omitempty,max=100"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type ItemResponse struct {
	Index            int             `json:"index"`
	Kind             string          `json:"kind"`
	ItemID           *string         `json:"item_id"`
	Name             string          `json:"name"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	DiscountPercent  decimal.Decimal `json:"discount_percent"`
	Total            decimal.Decimal `json:"total"`
	RefundedQuantity int             `json:"refunded_quantity"`
}

type PaymentResponse struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

type RefundedLineResponse struct {
	ItemIndex int             `json:"item_index"`
	Quantity  int             `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
}

type RefundEventResponse struct {
	Amount              decimal.Decimal        `json:"amount"`
	AffectedItems       []RefundedLineResponse `json:"affected_items"`
	Reason              string                 `json:"reason"`
	Method              string                 `json:"method"`
	ActorID             string                 `json:"actor_id"`
	RefundTransactionID string                 `json:"refund_transaction_id"`
	CreatedAt           string                 `json:"created_at"`
}

type TransactionResponse struct {
	ID                    string                `json:"id"`
	Kind                  string                `json:"kind"`
	Source                string                `json:"source"`
	Status                string                `json:"status"`
	Items                 []ItemResponse        `json:"items"`
	Subtotal              decimal.Decimal       `json:"subtotal"`
	GlobalDiscountPercent decimal.Decimal       `json:"global_discount_percent"`
	GlobalDiscountAmount  decimal.Decimal       `json:"global_discount_amount"`
	Tip                   decimal.Decimal       `json:"tip"`
	FinalTotal            decimal.Decimal       `json:"final_total"`
	PaymentMethod         string                `json:"payment_method"`
	Payments              []PaymentResponse     `json:"payments"`
	PaymentReference      *string               `json:"payment_reference,omitempty"`
	TotalRefunded         decimal.Decimal       `json:"total_refunded"`
	RefundEvents          []RefundEventResponse `json:"refund_events,omitempty"`
	RelatedTransactionID  *string               `json:"related_transaction_id,omitempty"`
	AppointmentID         *string               `json:"appointment_id,omitempty"`
	ClientID              *string               `json:"client_id,omitempty"`
	ClientName            *string               `json:"client_name,omitempty"`
	Reason                *string               `json:"reason,omitempty"`
	Notes                 *string               `json:"notes,omitempty"`
	CreatedBy             string                `json:"created_by"`
	CreatedAt             string                `json:"created_at"`
}

type CreateSaleResponse struct {
	Transaction TransactionResponse `json:"transaction"`
	Duplicate   bool                `json:"duplicate"`
}

type RefundResponse struct {
	RefundAmount      decimal.Decimal        `json:"refund_amount"`
	RefundedItems     []RefundedLineResponse `json:"refunded_items"`
	RefundTransaction TransactionResponse    `json:"refund_transaction"`
	Sale              *TransactionResponse   `json:"sale,omitempty"`
	GatewayStatus     string                 `json:"gateway_status"`
	Duplicate         bool                   `json:"duplicate"`
}

// ─── Mapping ─────────────────────────────────────────────────────────────────

func NewTransactionResponse(t *model.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:                    t.ID.String(),
		Kind:                  t.Kind,
		Source:                t.Source,
		Status:                t.Status,
		Items:                 make([]ItemResponse, 0, len(t.Items)),
		Subtotal:              t.Subtotal,
		GlobalDiscountPercent: t.GlobalDiscountPercent,
		GlobalDiscountAmount:  t.GlobalDiscountAmount,
		Tip:                   t.Tip,
		FinalTotal:            t.FinalTotal,
		PaymentMethod:         t.PaymentMethod,
		Payments:              make([]PaymentResponse, 0, len(t.Payments)),
		PaymentReference:      t.PaymentReference,
		TotalRefunded:         t.TotalRefunded,
		AppointmentID:         t.AppointmentID,
		ClientID:              t.ClientID,
		ClientName:            t.ClientName,
		Reason:                t.Reason,
		Notes:                 t.Notes,
		CreatedBy:             t.CreatedBy.String(),
		CreatedAt:             t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.RelatedTransactionID != nil {
		id := t.RelatedTransactionID.String()
		resp.RelatedTransactionID = &id
	}
	for i, it := range t.Items {
		item := ItemResponse{
			Index:            i,
			Kind:             it.Kind,
			Name:             it.Name,
			Quantity:         it.Quantity,
			UnitPrice:        it.UnitPrice,
			DiscountPercent:  it.DiscountPercent,
			Total:            it.Total,
			RefundedQuantity: it.RefundedQuantity,
		}
		if it.ItemID != nil {
			id := it.ItemID.String()
			item.ItemID = &id
		}
		resp.Items = append(resp.Items, item)
	}
	for _, p := range t.Payments {
		resp.Payments = append(resp.Payments, PaymentResponse{Method: p.Method, Amount: p.Amount})
	}
	for _, ev := range t.RefundEvents {
		var lines []model.RefundedLine
		_ = json.Unmarshal(ev.AffectedItems, &lines)
		resp.RefundEvents = append(resp.RefundEvents, RefundEventResponse{
			Amount:              ev.Amount,
			AffectedItems:       NewRefundedLines(lines),
			Reason:              ev.Reason,
			Method:              ev.Method,
			ActorID:             ev.ActorID.String(),
			RefundTransactionID: ev.RefundTransactionID.String(),
			CreatedAt:           ev.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return resp
}

func NewRefundedLines(lines []model.RefundedLine) []RefundedLineResponse {
	out := make([]RefundedLineResponse, 0, len(lines))
	for _, l := range lines {
		out = append(out, RefundedLineResponse{ItemIndex: l.ItemIndex, Quantity: l.Quantity, Amount: l.Amount})
	}
	return out
}
