package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Gianluca27/turno-facil-sub000/internal/model"
	"github.com/Gianluca27/turno-facil-sub000/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ── In-memory CatalogRepository ──────────────────────────────────────────────

type stubCatalogRepo struct {
	mu       sync.Mutex
	products map[uuid.UUID]*model.Product
	services map[uuid.UUID]*model.Service
}

func newStubCatalogRepo() *stubCatalogRepo {
	return &stubCatalogRepo{
		products: make(map[uuid.UUID]*model.Product),
		services: make(map[uuid.UUID]*model.Service),
	}
}

func (r *stubCatalogRepo) addProduct(biz uuid.UUID, name string, price string, stock int) *model.Product {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &model.Product{
		ID:         uuid.New(),
		BusinessID: biz,
		Name:       name,
		Price:      decimal.RequireFromString(price),
		Stock:      stock,
		Status:     model.CatalogActive,
	}
	r.products[p.ID] = p
	return p
}

func (r *stubCatalogRepo) addService(biz uuid.UUID, name string, price string) *model.Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &model.Service{
		ID:         uuid.New(),
		BusinessID: biz,
		Name:       name,
		Price:      decimal.RequireFromString(price),
		Status:     model.CatalogActive,
	}
	r.services[s.ID] = s
	return s
}

func (r *stubCatalogRepo) stock(id uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.products[id].Stock
}

func (r *stubCatalogRepo) FindActiveProduct(_ context.Context, _ *gorm.DB, biz, id uuid.UUID) (*model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok || p.BusinessID != biz || p.Status != model.CatalogActive {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *stubCatalogRepo) FindActiveService(_ context.Context, biz, id uuid.UUID) (*model.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.services[id]
	if !ok || s.BusinessID != biz || s.Status != model.CatalogActive {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *stubCatalogRepo) DecrementStockTx(_ context.Context, _ *gorm.DB, biz, id uuid.UUID, qty int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok || p.BusinessID != biz || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	return true, nil
}

func (r *stubCatalogRepo) IncrementStockTx(_ context.Context, _ *gorm.DB, biz, id uuid.UUID, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok || p.BusinessID != biz {
		return repository.ErrNotFound
	}
	p.Stock += qty
	return nil
}

// ── In-memory TransactionRepository ──────────────────────────────────────────

type stubTxRepo struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*model.Transaction
	clock func() time.Time

	// conflicts makes the next n UpdateRefundStateTx calls lose the version race.
	conflicts int
	// createErr is returned by the next Create call.
	createErr error
}

func newStubTxRepo() *stubTxRepo {
	return &stubTxRepo{byID: make(map[uuid.UUID]*model.Transaction), clock: time.Now}
}

func cloneTx(t *model.Transaction) *model.Transaction {
	cp := *t
	cp.Items = append([]model.TransactionItem(nil), t.Items...)
	cp.Payments = append([]model.TransactionPayment(nil), t.Payments...)
	cp.RefundEvents = append([]model.RefundEvent(nil), t.RefundEvents...)
	return &cp
}

func (r *stubTxRepo) DB() *gorm.DB { return nil }

func (r *stubTxRepo) Create(_ context.Context, _ *gorm.DB, t *model.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		err := r.createErr
		r.createErr = nil
		return err
	}
	if t.IdempotencyKey != nil {
		for _, o := range r.byID {
			if o.BusinessID == t.BusinessID && o.Kind == t.Kind && o.IdempotencyKey != nil && *o.IdempotencyKey == *t.IdempotencyKey {
				return repository.ErrDuplicate
			}
		}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.clock()
	}
	r.byID[t.ID] = cloneTx(t)
	return nil
}

func (r *stubTxRepo) FindByID(_ context.Context, biz, id uuid.UUID) (*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok || t.BusinessID != biz {
		return nil, repository.ErrNotFound
	}
	return cloneTx(t), nil
}

func (r *stubTxRepo) FindByIdempotencyKey(_ context.Context, biz uuid.UUID, kind, key string) (*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.byID {
		if t.BusinessID == biz && t.Kind == kind && t.IdempotencyKey != nil && *t.IdempotencyKey == key {
			return cloneTx(t), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubTxRepo) UpdateRefundStateTx(_ context.Context, _ *gorm.DB, sale *model.Transaction, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[sale.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if r.conflicts > 0 {
		r.conflicts--
		return repository.ErrVersionConflict
	}
	if stored.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	stored.Status = sale.Status
	stored.TotalRefunded = sale.TotalRefunded
	for i := range stored.Items {
		stored.Items[i].RefundedQuantity = sale.Items[i].RefundedQuantity
	}
	stored.Version++
	sale.Version = stored.Version
	return nil
}

func (r *stubTxRepo) CreateRefundEventTx(_ context.Context, _ *gorm.DB, ev *model.RefundEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[ev.TransactionID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.RefundEvents = append(stored.RefundEvents, *ev)
	return nil
}

func (r *stubTxRepo) match(q repository.TransactionQuery) []model.Transaction {
	contains := func(list []string, v string) bool {
		if len(list) == 0 {
			return true
		}
		for _, s := range list {
			if s == v {
				return true
			}
		}
		return false
	}
	var out []model.Transaction
	for _, t := range r.byID {
		if t.BusinessID != q.BusinessID {
			continue
		}
		if q.From != nil && t.CreatedAt.Before(*q.From) {
			continue
		}
		if q.To != nil && t.CreatedAt.After(*q.To) {
			continue
		}
		if !contains(q.Kinds, t.Kind) || !contains(q.Statuses, t.Status) {
			continue
		}
		if q.PaymentMethod != "" && t.PaymentMethod != q.PaymentMethod {
			continue
		}
		out = append(out, *cloneTx(t))
	}
	return out
}

func (r *stubTxRepo) ListAll(_ context.Context, q repository.TransactionQuery) ([]model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.match(q)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *stubTxRepo) List(_ context.Context, q repository.TransactionQuery) ([]model.Transaction, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.match(q)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := int64(len(out))
	start := (q.Page - 1) * q.Limit
	if start >= len(out) {
		return nil, total, nil
	}
	end := start + q.Limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (r *stubTxRepo) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.byID {
		if t.Kind == kind {
			n++
		}
	}
	return n
}

// ── In-memory CashRegisterRepository ─────────────────────────────────────────

type stubCashRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*model.CashRegisterSession
}

func newStubCashRepo() *stubCashRepo {
	return &stubCashRepo{sessions: make(map[uuid.UUID]*model.CashRegisterSession)}
}

func cloneSession(s *model.CashRegisterSession) *model.CashRegisterSession {
	cp := *s
	cp.Movements = append([]model.CashMovement(nil), s.Movements...)
	return &cp
}

func (r *stubCashRepo) DB() *gorm.DB { return nil }

func (r *stubCashRepo) CreateSession(_ context.Context, s *model.CashRegisterSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.sessions {
		if o.BusinessID == s.BusinessID && o.Status == model.SessionOpen {
			return repository.ErrDuplicate
		}
	}
	r.sessions[s.ID] = cloneSession(s)
	return nil
}

func (r *stubCashRepo) FindOpenByBusiness(_ context.Context, biz uuid.UUID) (*model.CashRegisterSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.BusinessID == biz && s.Status == model.SessionOpen {
			return cloneSession(s), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubCashRepo) FindByID(_ context.Context, biz, id uuid.UUID) (*model.CashRegisterSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.BusinessID != biz {
		return nil, repository.ErrNotFound
	}
	return cloneSession(s), nil
}

func (r *stubCashRepo) AppendMovementTx(_ context.Context, _ *gorm.DB, s *model.CashRegisterSession, m *model.CashMovement, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[s.ID]
	if !ok || stored.Status != model.SessionOpen || stored.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	stored.Movements = append(stored.Movements, *m)
	stored.Version++
	s.Version = stored.Version
	return nil
}

func (r *stubCashRepo) TouchOpenSessionTx(_ context.Context, _ *gorm.DB, biz uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.BusinessID == biz && s.Status == model.SessionOpen {
			s.Version++
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *stubCashRepo) CloseTx(_ context.Context, _ *gorm.DB, s *model.CashRegisterSession, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[s.ID]
	if !ok || stored.Status != model.SessionOpen || stored.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	stored.Status = model.SessionClosed
	stored.ClosedAt = s.ClosedAt
	stored.ClosedBy = s.ClosedBy
	stored.ExpectedAmount = s.ExpectedAmount
	stored.DeclaredAmount = s.DeclaredAmount
	stored.Difference = s.Difference
	stored.ClosingNotes = s.ClosingNotes
	stored.Version++
	s.Status = model.SessionClosed
	s.Version = stored.Version
	return nil
}

func (r *stubCashRepo) ListSessions(_ context.Context, biz uuid.UUID, page, limit int) ([]model.CashRegisterSession, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []model.CashRegisterSession
	for _, s := range r.sessions {
		if s.BusinessID == biz {
			all = append(all, *cloneSession(s))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].OpenedAt.After(all[j].OpenedAt) })
	total := int64(len(all))
	start := (page - 1) * limit
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

// ── In-memory OutboxRepository ───────────────────────────────────────────────

type stubOutboxRepo struct {
	mu       sync.Mutex
	messages []model.OutboxMessage
}

func (r *stubOutboxRepo) CreateTx(_ context.Context, _ *gorm.DB, msg *model.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *stubOutboxRepo) ListPending(_ context.Context, limit int) ([]model.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.OutboxMessage
	for _, m := range r.messages {
		if m.Status == model.OutboxPending && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *stubOutboxRepo) MarkSent(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		if r.messages[i].ID == id {
			r.messages[i].Status = model.OutboxSent
		}
	}
	return nil
}

func (r *stubOutboxRepo) RecordFailure(_ context.Context, id uuid.UUID, maxRetries int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		if r.messages[i].ID == id {
			r.messages[i].RetryCount++
			if r.messages[i].RetryCount >= maxRetries {
				r.messages[i].Status = model.OutboxFailed
			}
		}
	}
	return nil
}

func (r *stubOutboxRepo) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m.EventType)
	}
	return out
}

// ── Collaborators ────────────────────────────────────────────────────────────

type stubGateway struct {
	mu    sync.Mutex
	err   error
	calls []decimal.Decimal
}

func (g *stubGateway) Refund(_ context.Context, _ string, amount decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, amount)
	return g.err
}

type stubReconciler struct {
	mu      sync.Mutex
	reports []uuid.UUID
}

func (r *stubReconciler) ReportFailedRefund(_ context.Context, saleID, _ uuid.UUID, _ string, _ decimal.Decimal, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, saleID)
}

type stubAppointments struct {
	err   error
	calls []string
}

func (a *stubAppointments) MarkPaid(_ context.Context, _ uuid.UUID, appointmentID string, _ uuid.UUID, _ string) error {
	a.calls = append(a.calls, appointmentID)
	return a.err
}

// stubLocker is an in-process Locker; a held key fails with ErrLockBusy.
type stubLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newStubLocker() *stubLocker { return &stubLocker{held: make(map[string]bool)} }

func (l *stubLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, ErrLockBusy
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strPtr(s string) *string { return &s }
