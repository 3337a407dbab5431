package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orderhub/internal/model"
	"orderhub/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// orderService implements OrderService.
type orderService struct {
	orderRepo repository.OrderRepository
	ledger    StockLedger
	queue     Enqueuer
	events    EventPublisher
	opts      OrderOptions
	reserver  *reserver
	logger    zerolog.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(
	orderRepo repository.OrderRepository,
	ledger StockLedger,
	queue Enqueuer,
	events EventPublisher,
	opts OrderOptions,
	logger zerolog.Logger,
) OrderService {
	logger = logger.With().Str("service", "order").Logger()
	return &orderService{
		orderRepo: orderRepo,
		ledger:    ledger,
		queue:     queue,
		events:    events,
		opts:      opts,
		reserver: &reserver{
			orderRepo: orderRepo,
			ledger:    ledger,
			retry:     opts.Retry,
			logger:    logger,
		},
		logger: logger,
	}
}

// PlaceOrder checks stock, commits the order and then deducts stock line by line.
//
// The order row is the durable record of the reservation intent: once it is
// committed, failures are recorded on the order instead of being returned,
// except a ledger rejection (a lost stock race), which is compensated and
// reported as InsufficientStock.
func (s *orderService) PlaceOrder(ctx context.Context, caller model.Caller, req *model.PlaceOrderRequest) (*model.Order, error) {
	if err := s.validatePlaceOrder(req); err != nil {
		return nil, err
	}

	lines, err := s.priceLines(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	order := &model.Order{
		UserID:      caller.ID,
		Status:      model.StatusCreated,
		Reservation: model.ReservationPending,
		Lines:       lines,
	}
	order.TotalAmount = order.ComputeTotal()

	if err := s.persist(ctx, order); err != nil {
		return nil, err
	}

	// Past the commit point the workflow must run to completion even if the
	// caller goes away.
	sagaCtx := context.WithoutCancel(ctx)

	if err := s.reserveStock(sagaCtx, order); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("order_id", order.ID).
		Int64("user_id", order.UserID).
		Str("total_amount", order.TotalAmount.StringFixed(2)).
		Str("status", string(order.Status)).
		Str("reservation_status", string(order.Reservation)).
		Int("line_count", len(order.Lines)).
		Msg("order placed")

	if !s.queue.Enqueue(order.ID) {
		s.logger.Warn().Int64("order_id", order.ID).Msg("enrichment skipped")
	}
	s.publish(model.EventOrderPlaced, order)

	return order, nil
}

// priceLines reads each product from the ledger in request order and captures its price.
func (s *orderService) priceLines(ctx context.Context, items []model.OrderLineRequest) ([]model.OrderLine, error) {
	lines := make([]model.OrderLine, len(items))
	requested := make(map[int64]int, len(items))

	for i, item := range items {
		record, err := s.ledger.GetStock(ctx, item.ProductID)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Int64("product_id", item.ProductID).
				Msg("stock lookup failed")
			if model.KindOf(err) == model.KindNotFound {
				return nil, model.NewDomainError(model.KindNotFound, fmt.Sprintf("product %d not found", item.ProductID))
			}
			return nil, err
		}

		requested[item.ProductID] += item.Quantity
		if record.StockQuantity < requested[item.ProductID] {
			s.logger.Info().
				Int64("product_id", item.ProductID).
				Int("available", record.StockQuantity).
				Int("requested", requested[item.ProductID]).
				Msg("insufficient stock")
			return nil, model.NewDomainError(model.KindInsufficientStock,
				fmt.Sprintf("insufficient stock for product %d", item.ProductID))
		}

		lines[i] = model.OrderLine{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			PriceAtPurchase: record.Price,
			Deduction:       model.DeductionNotAttempted,
		}
	}

	return lines, nil
}

// persist writes the order and its lines in one transaction.
func (s *orderService) persist(ctx context.Context, order *model.Order) (err error) {
	tx, err := s.orderRepo.BeginTx(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to begin transaction")
		return fmt.Errorf("failed to create order: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
			}
		}
	}()

	if err = s.orderRepo.CreateOrder(ctx, tx, order); err != nil {
		s.logger.Error().Err(err).Int64("user_id", order.UserID).Msg("failed to create order")
		return fmt.Errorf("failed to create order: %w", err)
	}

	for i := range order.Lines {
		order.Lines[i].OrderID = order.ID
	}

	if err = s.orderRepo.CreateOrderLines(ctx, tx, order.Lines); err != nil {
		s.logger.Error().
			Err(err).
			Int64("order_id", order.ID).
			Int("line_count", len(order.Lines)).
			Msg("failed to create order lines")
		return fmt.Errorf("failed to create order lines: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		s.logger.Error().Err(err).Int64("order_id", order.ID).Msg("failed to commit transaction")
		return fmt.Errorf("failed to create order: %w", err)
	}

	return nil
}

// reserveStock runs the deductions of a freshly committed order and records the outcome.
func (s *orderService) reserveStock(ctx context.Context, order *model.Order) error {
	err := s.reserver.reserve(ctx, order)

	switch {
	case err == nil:
		s.reserver.setReservation(ctx, order, model.ReservationComplete)
		if !s.reserver.setStatus(ctx, order, model.StatusConfirmed) {
			s.handleConcurrentCancel(ctx, order)
		}
		return nil

	case isRejection(err):
		s.logger.Warn().
			Err(err).
			Int64("order_id", order.ID).
			Msg("stock deduction rejected, compensating")
		if cErr := s.reserver.releaseAndCancel(ctx, order); cErr != nil {
			s.logger.Error().Err(cErr).Int64("order_id", order.ID).Msg("compensation incomplete, left for reconciliation")
		}
		if model.KindOf(err) == model.KindNotFound {
			return err
		}
		return model.NewDomainError(model.KindInsufficientStock, "insufficient stock")

	default:
		s.logger.Warn().
			Str("event", "stock_deduction_failed").
			Err(err).
			Int64("order_id", order.ID).
			Str("policy", s.opts.PartialFailurePolicy).
			Msg("stock deduction failed after order commit")

		s.reserver.setReservation(ctx, order, model.ReservationPartial)

		switch s.opts.PartialFailurePolicy {
		case PolicyConfirm:
			s.reserver.setStatus(ctx, order, model.StatusConfirmed)
		case PolicyCancel:
			if cErr := s.reserver.releaseAndCancel(ctx, order); cErr != nil {
				s.logger.Error().Err(cErr).Int64("order_id", order.ID).Msg("compensation incomplete, left for reconciliation")
			}
		}
		return nil
	}
}

// handleConcurrentCancel releases stock when the order was cancelled while
// its deductions were being applied.
func (s *orderService) handleConcurrentCancel(ctx context.Context, order *model.Order) {
	current, err := s.orderRepo.GetByID(ctx, order.ID)
	if err != nil || current == nil {
		s.logger.Error().Err(err).Int64("order_id", order.ID).Msg("failed to reload order")
		return
	}

	order.Status = current.Status
	if order.Status == model.StatusCancelled {
		if err := s.reserver.releaseAndCancel(ctx, order); err != nil {
			s.logger.Error().Err(err).Int64("order_id", order.ID).Msg("compensation incomplete, left for reconciliation")
		}
	}
}

// GetOrder retrieves an order visible to caller.
func (s *orderService) GetOrder(ctx context.Context, caller model.Caller, id int64) (*model.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Int64("order_id", id).Msg("failed to get order")
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	if order == nil || !caller.CanView(order.UserID) {
		s.logger.Debug().Int64("order_id", id).Int64("caller_id", caller.ID).Msg("order not found")
		return nil, model.ErrOrderNotFound
	}

	return order, nil
}

// ListOrders retrieves orders visible to caller.
func (s *orderService) ListOrders(ctx context.Context, caller model.Caller, limit, offset int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	filter := repository.OrderFilter{Limit: limit, Offset: offset}
	if !caller.Privileged {
		filter.UserID = &caller.ID
	}

	orders, err := s.orderRepo.List(ctx, filter)
	if err != nil {
		s.logger.Error().Err(err).
			Int("limit", limit).
			Int("offset", offset).
			Msg("failed to list orders")
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	return orders, nil
}

// UpdateStatus moves an order to the named status.
func (s *orderService) UpdateStatus(ctx context.Context, caller model.Caller, id int64, status string) (*model.Order, error) {
	next, err := model.ParseOrderStatus(status)
	if err != nil {
		return nil, err
	}

	order, err := s.GetOrder(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	if order.Status == next {
		return order, nil
	}

	if s.opts.EnforceTransitions && !order.Status.CanTransitionTo(next) {
		s.logger.Info().
			Int64("order_id", id).
			Str("from", string(order.Status)).
			Str("to", string(next)).
			Msg("illegal status transition")
		if order.Status.IsTerminal() {
			return nil, model.NewDomainError(model.KindConflict,
				fmt.Sprintf("order is %s and can no longer change status", order.Status))
		}
		return nil, model.NewDomainError(model.KindConflict,
			fmt.Sprintf("cannot change order status from %s to %s", order.Status, next))
	}

	updated, err := s.orderRepo.UpdateStatus(ctx, id, order.Status, next)
	if err != nil {
		s.logger.Error().Err(err).Int64("order_id", id).Msg("failed to update order status")
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	if !updated {
		return nil, model.NewDomainError(model.KindConflict, "order status was changed by another request")
	}

	s.logger.Info().
		Int64("order_id", id).
		Str("from", string(order.Status)).
		Str("to", string(next)).
		Msg("order status updated")
	order.Status = next

	if next == model.StatusCancelled && holdsStock(order.Reservation) {
		if err := s.reserver.releaseAndCancel(context.WithoutCancel(ctx), order); err != nil {
			s.logger.Error().Err(err).Int64("order_id", id).Msg("compensation incomplete, left for reconciliation")
		}
	}

	s.publish(model.EventOrderStatusChanged, order)
	return order, nil
}

// CancelOrder releases the order's stock and cancels it.
func (s *orderService) CancelOrder(ctx context.Context, id int64) error {
	order, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get order: %w", err)
	}
	if order == nil {
		return model.ErrOrderNotFound
	}

	if order.Status == model.StatusCancelled && !holdsStock(order.Reservation) {
		return nil
	}

	if err := s.reserver.releaseAndCancel(ctx, order); err != nil {
		s.logger.Error().Err(err).Int64("order_id", id).Msg("compensation incomplete, left for reconciliation")
		return err
	}

	s.logger.Info().Int64("order_id", id).Msg("order cancelled and stock released")
	s.publish(model.EventOrderStatusChanged, order)
	return nil
}

// holdsStock reports whether an order in this reservation state may still hold ledger stock.
func holdsStock(reservation model.ReservationStatus) bool {
	switch reservation {
	case model.ReservationComplete, model.ReservationPartial, model.ReservationPending:
		return true
	}
	return false
}

func (s *orderService) publish(eventType string, order *model.Order) {
	s.events.Publish(model.OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		UserID:      order.UserID,
		Status:      order.Status,
		Reservation: order.Reservation,
		At:          time.Now().UTC(),
	})
}

// validatePlaceOrder validates the order request.
func (s *orderService) validatePlaceOrder(req *model.PlaceOrderRequest) error {
	if req == nil || len(req.Items) == 0 {
		return model.ErrEmptyOrder
	}

	for i, item := range req.Items {
		if item.ProductID <= 0 {
			s.logger.Warn().Int("item_index", i).Int64("product_id", item.ProductID).Msg("invalid product id")
			return model.NewDomainError(model.KindValidation, fmt.Sprintf("item %d: %s", i, model.ErrInvalidProductID.Message))
		}

		if item.Quantity <= 0 {
			s.logger.Warn().
				Int("item_index", i).
				Int64("product_id", item.ProductID).
				Int("quantity", item.Quantity).
				Msg("invalid quantity")
			return model.NewDomainError(model.KindValidation, fmt.Sprintf("item %d: %s", i, model.ErrInvalidQuantity.Message))
		}
	}

	return nil
}
