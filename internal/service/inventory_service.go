package service

import (
	"context"
	"fmt"

	"orderhub/internal/model"
	"orderhub/internal/repository"

	"github.com/rs/zerolog"
)

// inventoryService implements InventoryService.
type inventoryService struct {
	productRepo repository.ProductRepository
	logger      zerolog.Logger
}

// NewInventoryService creates a new inventory service.
func NewInventoryService(productRepo repository.ProductRepository, logger zerolog.Logger) InventoryService {
	return &inventoryService{
		productRepo: productRepo,
		logger:      logger.With().Str("service", "inventory").Logger(),
	}
}

// CreateProduct registers a product with its price and opening stock.
func (s *inventoryService) CreateProduct(ctx context.Context, req *model.CreateProductRequest) (*model.StockRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	product := &model.StockRecord{
		Name:          req.Name,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
	}
	if err := s.productRepo.Create(ctx, product); err != nil {
		s.logger.Error().Err(err).Str("name", req.Name).Msg("failed to create product")
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info().
		Int64("product_id", product.ID).
		Str("price", product.Price.StringFixed(2)).
		Int("stock_quantity", product.StockQuantity).
		Msg("product created")

	return product, nil
}

// List retrieves products with pagination.
func (s *inventoryService) List(ctx context.Context, limit, offset int) ([]model.StockRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	products, err := s.productRepo.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error().Err(err).
			Int("limit", limit).
			Int("offset", offset).
			Msg("failed to list products")
		return nil, fmt.Errorf("failed to get products: %w", err)
	}

	s.logger.Debug().
		Int("count", len(products)).
		Int("limit", limit).
		Int("offset", offset).
		Msg("retrieved products")

	return products, nil
}

// Get retrieves a single product by ID.
func (s *inventoryService) Get(ctx context.Context, id int64) (*model.StockRecord, error) {
	if id <= 0 {
		s.logger.Warn().Int64("product_id", id).Msg("invalid product ID")
		return nil, model.ErrProductNotFound
	}

	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Int64("product_id", id).Msg("failed to get product by ID")
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	if product == nil {
		s.logger.Debug().Int64("product_id", id).Msg("product not found")
		return nil, model.ErrProductNotFound
	}

	return product, nil
}

// Deduct removes quantity from stock.
func (s *inventoryService) Deduct(ctx context.Context, id int64, quantity int, reference string) (*model.StockChange, error) {
	if quantity <= 0 {
		return nil, model.ErrInvalidQuantity
	}
	return s.applyDelta(ctx, id, -quantity, reference)
}

// AdjustStock applies a signed delta to stock.
func (s *inventoryService) AdjustStock(ctx context.Context, id int64, delta int, reference string) (*model.StockChange, error) {
	if delta == 0 {
		return nil, model.NewDomainError(model.KindValidation, "quantity_delta must not be zero")
	}
	return s.applyDelta(ctx, id, delta, reference)
}

func (s *inventoryService) applyDelta(ctx context.Context, id int64, delta int, reference string) (*model.StockChange, error) {
	if id <= 0 {
		return nil, model.ErrProductNotFound
	}

	change, err := s.productRepo.ApplyDelta(ctx, id, delta, reference)
	if err != nil {
		switch model.KindOf(err) {
		case model.KindNotFound, model.KindInsufficientStock:
			s.logger.Info().
				Err(err).
				Int64("product_id", id).
				Int("delta", delta).
				Str("reference", reference).
				Msg("stock change rejected")
			return nil, err
		}
		s.logger.Error().Err(err).Int64("product_id", id).Int("delta", delta).Msg("failed to apply stock change")
		return nil, fmt.Errorf("failed to apply stock change: %w", err)
	}

	s.logger.Info().
		Int64("product_id", id).
		Int("delta", delta).
		Int("new_quantity", change.NewQuantity).
		Str("reference", reference).
		Bool("replayed", change.Replayed).
		Msg("stock changed")

	return change, nil
}
