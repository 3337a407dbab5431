package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orderhub/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, user_id, status, reservation_status, total_amount::text, reconcile_attempts, created_at, updated_at`

// orderRepository implements the OrderRepository interface using PostgreSQL.
type orderRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool *pgxpool.Pool, logger zerolog.Logger) OrderRepository {
	return &orderRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "order").Logger(),
	}
}

// BeginTx starts a new database transaction.
func (r *orderRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to begin transaction")
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// CreateOrder inserts a new order within the provided transaction.
func (r *orderRepository) CreateOrder(ctx context.Context, tx pgx.Tx, order *model.Order) error {
	query := `
		INSERT INTO orders (user_id, status, reservation_status, total_amount)
		VALUES ($1, $2, $3, $4::numeric)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		order.UserID,
		string(order.Status),
		string(order.Reservation),
		order.TotalAmount.String(),
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		r.logger.Error().
			Err(err).
			Int64("user_id", order.UserID).
			Msg("failed to create order")
		return fmt.Errorf("failed to create order: %w", err)
	}

	r.logger.Debug().
		Int64("order_id", order.ID).
		Msg("order created successfully")

	return nil
}

// CreateOrderLines inserts multiple order lines within the provided transaction.
func (r *orderRepository) CreateOrderLines(ctx context.Context, tx pgx.Tx, lines []model.OrderLine) error {
	if len(lines) == 0 {
		return nil
	}

	query := `
		INSERT INTO order_lines (order_id, product_id, quantity, price_at_purchase, deduction_state)
		VALUES ($1, $2, $3, $4::numeric, $5)
		RETURNING id
	`

	batch := &pgx.Batch{}
	for _, line := range lines {
		batch.Queue(query, line.OrderID, line.ProductID, line.Quantity, line.PriceAtPurchase.String(), string(line.Deduction))
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	for i := range lines {
		if err := results.QueryRow().Scan(&lines[i].ID); err != nil {
			r.logger.Error().
				Err(err).
				Int64("order_id", lines[i].OrderID).
				Int64("product_id", lines[i].ProductID).
				Msg("failed to create order line")
			return fmt.Errorf("failed to create order line: %w", err)
		}
	}

	r.logger.Debug().
		Int("count", len(lines)).
		Msg("order lines created successfully")

	return nil
}

// GetByID retrieves an order by its ID along with its lines.
func (r *orderRepository) GetByID(ctx context.Context, id int64) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug().Int64("order_id", id).Msg("order not found")
			return nil, nil
		}
		r.logger.Error().Err(err).Int64("order_id", id).Msg("failed to query order")
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	orders := []model.Order{*order}
	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}

	return &orders[0], nil
}

// List retrieves orders, newest first.
func (r *orderRepository) List(ctx context.Context, filter OrderFilter) ([]model.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1::bigint IS NULL OR user_id = $1)
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, filter.UserID, filter.Limit, filter.Offset)
	if err != nil {
		r.logger.Error().Err(err).
			Int("limit", filter.Limit).
			Int("offset", filter.Offset).
			Msg("failed to query orders")
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}

	orders, err := r.collectOrders(rows)
	if err != nil {
		return nil, err
	}

	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateStatus moves the order from one status to another.
func (r *orderRepository) UpdateStatus(ctx context.Context, id int64, from, to model.OrderStatus) (bool, error) {
	query := `
		UPDATE orders
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	tag, err := r.pool.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		r.logger.Error().Err(err).Int64("order_id", id).Msg("failed to update order status")
		return false, fmt.Errorf("failed to update order status: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// UpdateReservation records the reservation outcome of an order.
func (r *orderRepository) UpdateReservation(ctx context.Context, id int64, reservation model.ReservationStatus) error {
	query := `
		UPDATE orders
		SET reservation_status = $2, updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.pool.Exec(ctx, query, id, string(reservation)); err != nil {
		r.logger.Error().Err(err).Int64("order_id", id).Msg("failed to update reservation status")
		return fmt.Errorf("failed to update reservation status: %w", err)
	}
	return nil
}

// UpdateLineDeduction records the ledger outcome of a single line.
func (r *orderRepository) UpdateLineDeduction(ctx context.Context, lineID int64, state model.DeductionState) error {
	query := `UPDATE order_lines SET deduction_state = $2 WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, lineID, string(state)); err != nil {
		r.logger.Error().Err(err).Int64("line_id", lineID).Msg("failed to update line deduction state")
		return fmt.Errorf("failed to update line deduction state: %w", err)
	}
	return nil
}

// ListUnsettled retrieves orders awaiting reconciliation, oldest first.
func (r *orderRepository) ListUnsettled(ctx context.Context, maxAttempts int, pendingBefore time.Time, limit int) ([]model.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE reconcile_attempts < $3
		  AND (reservation_status = $1 OR (reservation_status = $2 AND updated_at < $4))
		ORDER BY id
		LIMIT $5
	`

	rows, err := r.pool.Query(ctx, query,
		string(model.ReservationPartial), string(model.ReservationPending), maxAttempts, pendingBefore, limit)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to query unsettled orders")
		return nil, fmt.Errorf("failed to query unsettled orders: %w", err)
	}

	orders, err := r.collectOrders(rows)
	if err != nil {
		return nil, err
	}

	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// IncrementReconcileAttempts bumps the attempt counter.
func (r *orderRepository) IncrementReconcileAttempts(ctx context.Context, id int64) (int, error) {
	query := `
		UPDATE orders
		SET reconcile_attempts = reconcile_attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING reconcile_attempts
	`

	var attempts int
	if err := r.pool.QueryRow(ctx, query, id).Scan(&attempts); err != nil {
		r.logger.Error().Err(err).Int64("order_id", id).Msg("failed to increment reconcile attempts")
		return 0, fmt.Errorf("failed to increment reconcile attempts: %w", err)
	}
	return attempts, nil
}

func (r *orderRepository) collectOrders(rows pgx.Rows) ([]model.Order, error) {
	defer rows.Close()

	orders := []model.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to scan order row")
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating order rows")
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

// attachLines loads the lines of every order in one query.
func (r *orderRepository) attachLines(ctx context.Context, orders []model.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	query := `
		SELECT id, order_id, product_id, quantity, price_at_purchase::text, deduction_state
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		r.logger.Error().Err(err).Int("orders", len(ids)).Msg("failed to query order lines")
		return fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			line  model.OrderLine
			price string
			state string
		)
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.Quantity, &price, &state); err != nil {
			r.logger.Error().Err(err).Msg("failed to scan order line row")
			return fmt.Errorf("failed to scan order line: %w", err)
		}
		if line.PriceAtPurchase, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("failed to parse price_at_purchase: %w", err)
		}
		line.Deduction = model.DeductionState(state)

		i := index[line.OrderID]
		orders[i].Lines = append(orders[i].Lines, line)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating order line rows")
		return fmt.Errorf("error iterating order lines: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		order       model.Order
		status      string
		reservation string
		total       string
	)
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&status,
		&reservation,
		&total,
		&order.ReconcileAttempts,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.Status = model.OrderStatus(status)
	order.Reservation = model.ReservationStatus(reservation)
	if order.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("failed to parse total_amount: %w", err)
	}
	return &order, nil
}
