package dto

import (
	"time"

	"github.com/Gianluca27/turno-facil-sub000/internal/model"

	"github.com/shopspring/decimal"
)

// ─── Request DTOs ────────────────────────────────────────────────────────────

type OpenRegisterRequest struct {
	InitialAmount decimal.Decimal `json:"initial_amount" validate:"min=0"`
	Notes         *string         `json:"notes"          validate:"omitempty,max=500"`
}

// MovementRequest leaves amount unchecked here; a non-positive amount is
// rejected by the service as an invalid amount.
type MovementRequest struct {
	Type   string          `json:"type"   validate:"required,oneof=in out"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"required,max=200"`
	Notes  *string         `json:"notes"  validate:"omitempty,max=500"`
}

type CloseRegisterRequest struct {
	DeclaredAmount decimal.Decimal `json:"declared_amount" validate:"min=0"`
	Notes          *string         `json:"notes"           validate:"omitempty,max=500"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type MovementResponse struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Notes     *string         `json:"notes,omitempty"`
	ActorID   string          `json:"actor_id"`
	CreatedAt string          `json:"created_at"`
}

type SessionResponse struct {
	ID             string             `json:"id"`
	Status         string             `json:"status"`
	OpenedAt       string             `json:"opened_at"`
	OpenedBy       string             `json:"opened_by"`
	InitialAmount  decimal.Decimal    `json:"initial_amount"`
	OpeningNotes   *string            `json:"opening_notes,omitempty"`
	Movements      []MovementResponse `json:"movements"`
	ClosedAt       *string            `json:"closed_at"`
	ClosedBy       *string            `json:"closed_by"`
	ExpectedAmount *decimal.Decimal   `json:"expected_amount"`
	DeclaredAmount *decimal.Decimal   `json:"declared_amount"`
	Difference     *decimal.Decimal   `json:"difference"`
	ClosingNotes   *string            `json:"closing_notes,omitempty"`
}

type BreakdownResponse struct {
	InitialAmount  decimal.Decimal `json:"initial_amount"`
	MovementsIn    decimal.Decimal `json:"movements_in"`
	MovementsOut   decimal.Decimal `json:"movements_out"`
	CashSales      decimal.Decimal `json:"cash_sales"`
	CashRefunds    decimal.Decimal `json:"cash_refunds"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	SaleCount      int             `json:"sale_count"`
	RefundCount    int             `json:"refund_count"`
}

type RegisterResponse struct {
	Session   SessionResponse   `json:"session"`
	Breakdown BreakdownResponse `json:"breakdown"`
}

// RegisterStatusResponse is returned by GET /v1/cash-register/status.
type RegisterStatusResponse struct {
	Open      bool               `json:"open"`
	Session   *SessionResponse   `json:"session"`
	Breakdown *BreakdownResponse `json:"breakdown"`
}

type SessionListResponse struct {
	Data  []SessionResponse `json:"data"`
	Total int64             `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

// ─── Mapping ─────────────────────────────────────────────────────────────────

func NewSessionResponse(s *model.CashRegisterSession) SessionResponse {
	resp := SessionResponse{
		ID:             s.ID.String(),
		Status:         s.Status,
		OpenedAt:       s.OpenedAt.UTC().Format(time.RFC3339),
		OpenedBy:       s.OpenedBy.String(),
		InitialAmount:  s.InitialAmount,
		OpeningNotes:   s.OpeningNotes,
		Movements:      make([]MovementResponse, 0, len(s.Movements)),
		ExpectedAmount: s.ExpectedAmount,
		DeclaredAmount: s.DeclaredAmount,
		Difference:     s.Difference,
		ClosingNotes:   s.ClosingNotes,
	}
	if s.ClosedAt != nil {
		t := s.ClosedAt.UTC().Format(time.RFC3339)
		resp.ClosedAt = &t
	}
	if s.ClosedBy != nil {
		by := s.ClosedBy.String()
		resp.ClosedBy = &by
	}
	for i := range s.Movements {
		resp.Movements = append(resp.Movements, NewMovementResponse(&s.Movements[i]))
	}
	return resp
}

func NewMovementResponse(m *model.CashMovement) MovementResponse {
	return MovementResponse{
		ID:        m.ID.String(),
		Type:      m.Type,
		Amount:    m.Amount,
		Reason:    m.Reason,
		Notes:     m.Notes,
		ActorID:   m.ActorID.String(),
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
	}
}
