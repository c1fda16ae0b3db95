package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Gianluca27/turno-facil-sub000/internal/model"
	"github.com/Gianluca27/turno-facil-sub000/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OpenRegisterInput struct {
	BusinessID    uuid.UUID
	ActorID       uuid.UUID
	InitialAmount decimal.Decimal
	Notes         *string
}

type MovementInput struct {
	BusinessID uuid.UUID
	SessionID  uuid.UUID
	ActorID    uuid.UUID
	Type       string // model.MovementIn | model.MovementOut
	Amount     decimal.Decimal
	Reason     string
	Notes      *string
}

type CloseRegisterInput struct {
	BusinessID     uuid.UUID
	SessionID      uuid.UUID
	ActorID        uuid.UUID
	DeclaredAmount decimal.Decimal
	Notes          *string
}

// RegisterBreakdown is the cash figure of a session and how it was reached.
type RegisterBreakdown struct {
	InitialAmount  decimal.Decimal
	MovementsIn    decimal.Decimal
	MovementsOut   decimal.Decimal
	CashSales      decimal.Decimal
	CashRefunds    decimal.Decimal
	ExpectedAmount decimal.Decimal
	SaleCount      int
	RefundCount    int
}

// RegisterView is a session with its live (open) or final (closed) breakdown.
type RegisterView struct {
	Session   *model.CashRegisterSession
	Breakdown RegisterBreakdown
}

type CashRegisterService interface {
	Open(ctx context.Context, in OpenRegisterInput) (*model.CashRegisterSession, error)
	RecordMovement(ctx context.Context, in MovementInput) (*model.CashMovement, error)
	Close(ctx context.Context, in CloseRegisterInput) (*RegisterView, error)
	// Status returns the open session of the business, or nil when the drawer is closed.
	Status(ctx context.Context, businessID uuid.UUID) (*RegisterView, error)
	Get(ctx context.Context, businessID, sessionID uuid.UUID) (*RegisterView, error)
	History(ctx context.Context, businessID uuid.UUID, page, limit int) ([]model.CashRegisterSession, int64, error)
}

type cashRegisterService struct {
	repo    repository.CashRegisterRepository
	txRepo  repository.TransactionRepository
	events  eventWriter
	retries int
	now     func() time.Time
}

func NewCashRegisterService(
	repo repository.CashRegisterRepository,
	txRepo repository.TransactionRepository,
	outbox repository.OutboxRepository,
	conflictRetries int,
) CashRegisterService {
	return &cashRegisterService{
		repo:    repo,
		txRepo:  txRepo,
		events:  eventWriter{repo: outbox},
		retries: conflictRetries,
		now:     time.Now,
	}
}

// ── Open ──────────────────────────────────────────────────────────────────────
// The pre-check gives a clean error in the common case; the partial unique
// index on (business_id) WHERE status='open' settles concurrent opens.

func (s *cashRegisterService) Open(ctx context.Context, in OpenRegisterInput) (*model.CashRegisterSession, error) {
	if in.InitialAmount.IsNegative() {
		return nil, invalidInput("initial amount cannot be negative")
	}
	if existing, err := s.repo.FindOpenByBusiness(ctx, in.BusinessID); err == nil && existing != nil {
		return nil, ErrAlreadyOpen
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	sess := &model.CashRegisterSession{
		ID:            uuid.New(),
		BusinessID:    in.BusinessID,
		Status:        model.SessionOpen,
		OpenedAt:      s.now(),
		OpenedBy:      in.ActorID,
		InitialAmount: in.InitialAmount,
		OpeningNotes:  in.Notes,
		Version:       1,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAlreadyOpen
		}
		return nil, err
	}

	log.Info().
		Str("business_id", in.BusinessID.String()).
		Str("session_id", sess.ID.String()).
		Str("initial", sess.InitialAmount.StringFixed(2)).
		Msg("cash register opened")
	return sess, nil
}

// ── RecordMovement ────────────────────────────────────────────────────────────
// Manual cash in/out. Movements are immutable: no Update/Delete.

func (s *cashRegisterService) RecordMovement(ctx context.Context, in MovementInput) (*model.CashMovement, error) {
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if in.Type != model.MovementIn && in.Type != model.MovementOut {
		return nil, invalidInput("movement type must be %q or %q", model.MovementIn, model.MovementOut)
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Reason == "" {
		return nil, invalidInput("a movement needs a reason")
	}

	var mov *model.CashMovement
	err := withRetries(s.retries, func() error {
		sess, err := s.openSession(ctx, in.BusinessID, in.SessionID)
		if err != nil {
			return err
		}
		mov = &model.CashMovement{
			ID:        uuid.New(),
			SessionID: sess.ID,
			Type:      in.Type,
			Amount:    in.Amount,
			Reason:    in.Reason,
			Notes:     in.Notes,
			ActorID:   in.ActorID,
			CreatedAt: s.now(),
		}
		return runTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
			return s.repo.AppendMovementTx(ctx, tx, sess, mov, sess.Version)
		})
	})
	if err != nil {
		return nil, err
	}
	return mov, nil
}

// ── Close ─────────────────────────────────────────────────────────────────────
// expected = initial + in - out + cash sales - cash refunds over [openedAt, now].
// difference = declared - expected; it is reported, never rejected.

func (s *cashRegisterService) Close(ctx context.Context, in CloseRegisterInput) (*RegisterView, error) {
	if in.DeclaredAmount.IsNegative() {
		return nil, invalidInput("declared amount cannot be negative")
	}

	var view *RegisterView
	err := withRetries(s.retries, func() error {
		sess, err := s.openSession(ctx, in.BusinessID, in.SessionID)
		if err != nil {
			return err
		}
		closedAt := s.now()
		b, err := s.breakdown(ctx, sess, closedAt)
		if err != nil {
			return err
		}

		expected := b.ExpectedAmount
		declared := in.DeclaredAmount
		diff := declared.Sub(expected)
		actor := in.ActorID
		sess.ClosedAt = &closedAt
		sess.ClosedBy = &actor
		sess.ExpectedAmount = &expected
		sess.DeclaredAmount = &declared
		sess.Difference = &diff
		sess.ClosingNotes = in.Notes

		err = runTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
			if err := s.repo.CloseTx(ctx, tx, sess, sess.Version); err != nil {
				return err
			}
			return s.events.write(ctx, tx, sess.BusinessID, model.EventCashRegisterClosed, sess.ID.String(), registerClosedPayload{
				SessionID:  sess.ID,
				BusinessID: sess.BusinessID,
				ClosedBy:   actor,
				Expected:   expected,
				Declared:   declared,
				Difference: diff,
			})
		})
		if err != nil {
			return err
		}
		view = &RegisterView{Session: sess, Breakdown: b}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("business_id", in.BusinessID.String()).
		Str("session_id", in.SessionID.String()).
		Str("expected", view.Breakdown.ExpectedAmount.StringFixed(2)).
		Str("declared", in.DeclaredAmount.StringFixed(2)).
		Str("difference", view.Session.Difference.StringFixed(2)).
		Msg("cash register closed")
	return view, nil
}

// ── Reads ─────────────────────────────────────────────────────────────────────

func (s *cashRegisterService) Status(ctx context.Context, businessID uuid.UUID) (*RegisterView, error) {
	sess, err := s.repo.FindOpenByBusiness(ctx, businessID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	b, err := s.breakdown(ctx, sess, s.now())
	if err != nil {
		return nil, err
	}
	return &RegisterView{Session: sess, Breakdown: b}, nil
}

func (s *cashRegisterService) Get(ctx context.Context, businessID, sessionID uuid.UUID) (*RegisterView, error) {
	sess, err := s.repo.FindByID(ctx, businessID, sessionID)
	if err != nil {
		return nil, notFoundOr(err, "cash register session %s", sessionID)
	}
	until := s.now()
	if sess.ClosedAt != nil {
		until = *sess.ClosedAt
	}
	b, err := s.breakdown(ctx, sess, until)
	if err != nil {
		return nil, err
	}
	return &RegisterView{Session: sess, Breakdown: b}, nil
}

func (s *cashRegisterService) History(ctx context.Context, businessID uuid.UUID, page, limit int) ([]model.CashRegisterSession, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.repo.ListSessions(ctx, businessID, page, limit)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (s *cashRegisterService) openSession(ctx context.Context, businessID, sessionID uuid.UUID) (*model.CashRegisterSession, error) {
	sess, err := s.repo.FindByID(ctx, businessID, sessionID)
	if err != nil {
		return nil, notFoundOr(err, "cash register session %s", sessionID)
	}
	if !sess.IsOpen() {
		return nil, ErrNotOpen
	}
	return sess, nil
}

// breakdown reads the session's movements and the business's transactions in
// [openedAt, until] and computes the expected cash.
func (s *cashRegisterService) breakdown(ctx context.Context, sess *model.CashRegisterSession, until time.Time) (RegisterBreakdown, error) {
	b := RegisterBreakdown{
		InitialAmount: sess.InitialAmount,
		MovementsIn:   decimal.Zero,
		MovementsOut:  decimal.Zero,
		CashSales:     decimal.Zero,
		CashRefunds:   decimal.Zero,
	}
	for _, m := range sess.Movements {
		switch m.Type {
		case model.MovementIn:
			b.MovementsIn = b.MovementsIn.Add(m.Amount)
		case model.MovementOut:
			b.MovementsOut = b.MovementsOut.Add(m.Amount)
		}
	}

	from := sess.OpenedAt
	txs, err := s.txRepo.ListAll(ctx, repository.TransactionQuery{
		BusinessID: sess.BusinessID,
		From:       &from,
		To:         &until,
		Kinds:      []string{model.KindSale, model.KindRefund},
	})
	if err != nil {
		return RegisterBreakdown{}, err
	}
	for i := range txs {
		t := &txs[i]
		switch t.Kind {
		case model.KindSale:
			if cash := cashPortion(t); cash.IsPositive() {
				b.CashSales = b.CashSales.Add(cash)
				b.SaleCount++
			}
		case model.KindRefund:
			if t.PaymentMethod == model.MethodCash {
				b.CashRefunds = b.CashRefunds.Add(t.FinalTotal)
				b.RefundCount++
			}
		}
	}

	b.ExpectedAmount = b.InitialAmount.
		Add(b.MovementsIn).
		Sub(b.MovementsOut).
		Add(b.CashSales).
		Sub(b.CashRefunds)
	return b, nil
}

type registerClosedPayload struct {
	SessionID  uuid.UUID       `json:"session_id"`
	BusinessID uuid.UUID       `json:"business_id"`
	ClosedBy   uuid.UUID       `json:"closed_by"`
	Expected   decimal.Decimal `json:"expected_amount"`
	Declared   decimal.Decimal `json:"declared_amount"`
	Difference decimal.Decimal `json:"difference"`
}
