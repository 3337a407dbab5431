package repository

import (
	"context"
	"errors"
	"fmt"

	"orderhub/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// productRepository implements the ProductRepository interface using PostgreSQL.
type productRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewProductRepository creates a new PostgreSQL-backed stock ledger repository.
func NewProductRepository(pool *pgxpool.Pool, logger zerolog.Logger) ProductRepository {
	return &productRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "product").Logger(),
	}
}

// Create inserts a product.
func (r *productRepository) Create(ctx context.Context, p *model.StockRecord) error {
	query := `
		INSERT INTO products (name, price, stock_quantity)
		VALUES ($1, $2::numeric, $3)
		RETURNING id, updated_at
	`

	if err := r.pool.QueryRow(ctx, query, p.Name, p.Price.String(), p.StockQuantity).Scan(&p.ID, &p.UpdatedAt); err != nil {
		r.logger.Error().Err(err).Str("name", p.Name).Msg("failed to create product")
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

// List retrieves products with pagination support.
func (r *productRepository) List(ctx context.Context, limit, offset int) ([]model.StockRecord, error) {
	query := `
		SELECT id, name, price::text, stock_quantity, updated_at
		FROM products
		ORDER BY id
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error().Err(err).
			Int("limit", limit).
			Int("offset", offset).
			Msg("failed to query products")
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []model.StockRecord{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to scan product row")
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating product rows")
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	return products, nil
}

// GetByID retrieves a single product by its ID.
func (r *productRepository) GetByID(ctx context.Context, id int64) (*model.StockRecord, error) {
	query := `
		SELECT id, name, price::text, stock_quantity, updated_at
		FROM products
		WHERE id = $1
	`

	p, err := scanProduct(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug().Int64("product_id", id).Msg("product not found")
			return nil, nil
		}
		r.logger.Error().Err(err).Int64("product_id", id).Msg("failed to query product")
		return nil, fmt.Errorf("failed to query product: %w", err)
	}

	return p, nil
}

// ApplyDelta changes stock within one transaction. The conditional UPDATE is
// the compare-and-decrement: Postgres serializes writers on the product row,
// so two concurrent deductions can never both pass the >= 0 check on stale stock.
func (r *productRepository) ApplyDelta(ctx context.Context, id int64, delta int, reference string) (change *model.StockChange, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to begin transaction")
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				r.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
			}
		}
	}()

	if reference != "" {
		var applied bool
		err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_movements WHERE reference = $1)`, reference).Scan(&applied)
		if err != nil {
			return nil, fmt.Errorf("failed to look up stock movement: %w", err)
		}
		if applied {
			_ = tx.Rollback(ctx)
			return r.replayed(ctx, id, reference)
		}
	}

	var quantity int
	err = tx.QueryRow(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2, updated_at = NOW()
		WHERE id = $1 AND stock_quantity + $2 >= 0
		RETURNING stock_quantity
	`, id, delta).Scan(&quantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyRejection(ctx, tx, id, delta)
		}
		r.logger.Error().Err(err).Int64("product_id", id).Msg("failed to apply stock delta")
		return nil, fmt.Errorf("failed to apply stock delta: %w", err)
	}

	if reference != "" {
		tag, execErr := tx.Exec(ctx, `
			INSERT INTO stock_movements (reference, product_id, delta)
			VALUES ($1, $2, $3)
			ON CONFLICT (reference) DO NOTHING
		`, reference, id, delta)
		if execErr != nil {
			err = fmt.Errorf("failed to record stock movement: %w", execErr)
			return nil, err
		}
		if tag.RowsAffected() == 0 {
			// A concurrent request with the same reference committed first.
			_ = tx.Rollback(ctx)
			return r.replayed(ctx, id, reference)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		r.logger.Error().Err(err).Msg("failed to commit stock delta")
		return nil, fmt.Errorf("failed to commit stock delta: %w", err)
	}

	r.logger.Debug().
		Int64("product_id", id).
		Int("delta", delta).
		Int("new_quantity", quantity).
		Str("reference", reference).
		Msg("stock delta applied")

	return &model.StockChange{ProductID: id, NewQuantity: quantity}, nil
}

func (r *productRepository) replayed(ctx context.Context, id int64, reference string) (*model.StockChange, error) {
	r.logger.Info().
		Int64("product_id", id).
		Str("reference", reference).
		Msg("stock movement already applied, skipping")

	var quantity int
	if err := r.pool.QueryRow(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, id).Scan(&quantity); err != nil {
		return nil, fmt.Errorf("failed to read stock after replay: %w", err)
	}
	return &model.StockChange{ProductID: id, NewQuantity: quantity, Replayed: true}, nil
}

func (r *productRepository) classifyRejection(ctx context.Context, tx pgx.Tx, id int64, delta int) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check product: %w", err)
	}
	if !exists {
		return model.ErrProductNotFound
	}

	r.logger.Warn().
		Int64("product_id", id).
		Int("delta", delta).
		Msg("stock delta rejected, would go negative")
	return model.ErrInsufficientStock
}

func scanProduct(row pgx.Row) (*model.StockRecord, error) {
	var (
		p     model.StockRecord
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &price, &p.StockQuantity, &p.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("failed to parse price: %w", err)
	}
	return &p, nil
}
