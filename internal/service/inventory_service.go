package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gianluca27/turno-facil-sub000/internal/model"
	"github.com/Gianluca27/turno-facil-sub000/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// StockRequest is one product quantity to reserve.
type StockRequest struct {
	ProductID uuid.UUID
	Quantity  int
}

// InventoryService applies and reverses stock decrements for product lines.
// Methods take a live *gorm.DB tx so they join the caller's transaction; nil runs standalone.
type InventoryService interface {
	// Reserve decrements stock atomically and returns the product as it was before.
	Reserve(ctx context.Context, tx *gorm.DB, businessID, productID uuid.UUID, quantity int) (*model.Product, error)
	// Release increments stock. Callers release at most once per refunded quantity.
	Release(ctx context.Context, tx *gorm.DB, businessID, productID uuid.UUID, quantity int) error
	// ReserveAll reserves every request or none: on failure, reservations already
	// taken by this call are released before the error is returned.
	ReserveAll(ctx context.Context, tx *gorm.DB, businessID uuid.UUID, reqs []StockRequest) error
}

type inventoryService struct {
	repo repository.CatalogRepository
}

func NewInventoryService(repo repository.CatalogRepository) InventoryService {
	return &inventoryService{repo: repo}
}

func (s *inventoryService) Reserve(ctx context.Context, tx *gorm.DB, businessID, productID uuid.UUID, quantity int) (*model.Product, error) {
	if quantity < 1 {
		return nil, invalidInput("quantity must be at least 1")
	}
	before, err := s.repo.FindActiveProduct(ctx, tx, businessID, productID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: product %s", ErrNotFound, productID)
		}
		return nil, err
	}

	ok, err := s.repo.DecrementStockTx(ctx, tx, businessID, productID, quantity)
	if err != nil {
		return nil, err
	}
	if !ok {
		available := before.Stock
		// the snapshot may be stale; re-read for an accurate figure
		if current, err := s.repo.FindActiveProduct(ctx, tx, businessID, productID); err == nil {
			available = current.Stock
		}
		return nil, &InsufficientStockError{
			ProductID: productID,
			Name:      before.Name,
			Available: available,
			Requested: quantity,
		}
	}
	return before, nil
}

func (s *inventoryService) Release(ctx context.Context, tx *gorm.DB, businessID, productID uuid.UUID, quantity int) error {
	if quantity < 1 {
		return invalidInput("quantity must be at least 1")
	}
	if err := s.repo.IncrementStockTx(ctx, tx, businessID, productID, quantity); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: product %s", ErrNotFound, productID)
		}
		return err
	}
	return nil
}

func (s *inventoryService) ReserveAll(ctx context.Context, tx *gorm.DB, businessID uuid.UUID, reqs []StockRequest) error {
	merged := mergeStockRequests(reqs)

	var taken []StockRequest
	for _, r := range merged {
		if _, err := s.Reserve(ctx, tx, businessID, r.ProductID, r.Quantity); err != nil {
			s.compensate(ctx, tx, businessID, taken)
			return err
		}
		taken = append(taken, r)
	}
	return nil
}

// compensate releases reservations in reverse order. Errors are logged only:
// the surrounding DB transaction is rolled back anyway when one is present.
func (s *inventoryService) compensate(ctx context.Context, tx *gorm.DB, businessID uuid.UUID, taken []StockRequest) {
	for i := len(taken) - 1; i >= 0; i-- {
		r := taken[i]
		if err := s.repo.IncrementStockTx(ctx, tx, businessID, r.ProductID, r.Quantity); err != nil {
			log.Error().Err(err).
				Str("business_id", businessID.String()).
				Str("product_id", r.ProductID.String()).
				Int("quantity", r.Quantity).
				Msg("inventory: compensation release failed")
		}
	}
}

// mergeStockRequests sums quantities per product, keeping first-seen order.
func mergeStockRequests(reqs []StockRequest) []StockRequest {
	idx := make(map[uuid.UUID]int, len(reqs))
	out := make([]StockRequest, 0, len(reqs))
	for _, r := range reqs {
		if i, ok := idx[r.ProductID]; ok {
			out[i].Quantity += r.Quantity
			continue
		}
		idx[r.ProductID] = len(out)
		out = append(out, r)
	}
	return out
}
