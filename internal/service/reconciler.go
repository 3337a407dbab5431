package service

import (
	"context"
	"time"

	"orderhub/internal/model"
	"orderhub/internal/repository"

	"github.com/rs/zerolog"
)

// ReconcilerOptions configures the background reconciliation loop.
type ReconcilerOptions struct {
	Interval    time.Duration
	MaxAttempts int
	BatchSize   int
	// PendingAfter is how long a PENDING reservation may go without an
	// update before it is treated as abandoned by a crashed workflow.
	PendingAfter time.Duration
	Retry        RetryOptions
}

// Reconciler finishes reservations left PARTIAL by transient ledger failures,
// and PENDING reservations abandoned by a workflow that never finished.
// Open orders get their remaining lines deducted; cancelled orders get their
// held stock released.
type Reconciler struct {
	orderRepo repository.OrderRepository
	events    EventPublisher
	opts      ReconcilerOptions
	reserver  *reserver
	logger    zerolog.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(
	orderRepo repository.OrderRepository,
	ledger StockLedger,
	events EventPublisher,
	opts ReconcilerOptions,
	logger zerolog.Logger,
) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.PendingAfter <= 0 {
		opts.PendingAfter = 5 * time.Minute
	}

	logger = logger.With().Str("component", "reconciler").Logger()
	return &Reconciler{
		orderRepo: orderRepo,
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

// Run reconciles on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.opts.Interval).Msg("reconciler started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation pass failed")
			}
		}
	}
}

// RunOnce processes one batch of unsettled orders and returns how many were settled.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	pendingBefore := time.Now().Add(-r.opts.PendingAfter)
	orders, err := r.orderRepo.ListUnsettled(ctx, r.opts.MaxAttempts, pendingBefore, r.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range orders {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		if r.reconcile(ctx, &orders[i]) {
			settled++
		}
	}

	if len(orders) > 0 {
		r.logger.Info().
			Int("candidates", len(orders)).
			Int("settled", settled).
			Msg("reconciliation pass complete")
	}
	return settled, nil
}

// reconcile drives one order towards a settled reservation. It reports
// whether the reservation was settled.
func (r *Reconciler) reconcile(ctx context.Context, order *model.Order) bool {
	logger := r.logger.With().Int64("order_id", order.ID).Str("status", string(order.Status)).Logger()

	if order.Status == model.StatusCancelled {
		if err := r.reserver.compensate(ctx, order); err != nil {
			logger.Warn().Err(err).Msg("release still failing")
			return r.recordFailure(ctx, order, logger)
		}
		r.reserver.setReservation(ctx, order, model.ReservationReleased)
		logger.Info().Msg("held stock released")
		return true
	}

	err := r.reserver.reserve(ctx, order)
	switch {
	case err == nil:
		r.reserver.setReservation(ctx, order, model.ReservationComplete)
		if order.Status == model.StatusCreated && r.reserver.setStatus(ctx, order, model.StatusConfirmed) {
			r.publish(order)
		}
		logger.Info().Msg("reservation completed")
		return true

	case isRejection(err):
		logger.Warn().Err(err).Msg("stock no longer available, cancelling order")
		if cErr := r.reserver.releaseAndCancel(ctx, order); cErr != nil {
			logger.Error().Err(cErr).Msg("compensation incomplete")
			r.publish(order)
			return false
		}
		r.publish(order)
		return true

	default:
		logger.Warn().Err(err).Msg("stock deduction still failing")
		return r.recordFailure(ctx, order, logger)
	}
}

// recordFailure counts a failed attempt and gives up on the order once the
// attempts are exhausted.
func (r *Reconciler) recordFailure(ctx context.Context, order *model.Order, logger zerolog.Logger) bool {
	attempts, err := r.orderRepo.IncrementReconcileAttempts(ctx, order.ID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to record reconcile attempt")
		return false
	}
	order.ReconcileAttempts = attempts
	if attempts < r.opts.MaxAttempts {
		return false
	}

	if order.Status == model.StatusCreated {
		if err := r.reserver.releaseAndCancel(ctx, order); err == nil {
			logger.Warn().Int("attempts", attempts).Msg("reconciliation exhausted, order cancelled")
			r.publish(order)
			return true
		}
	}

	r.reserver.setReservation(ctx, order, model.ReservationFailed)
	logger.Error().
		Int("attempts", attempts).
		Str("event", "reconciliation_exhausted").
		Msg("reservation could not be settled, manual intervention required")
	return true
}

func (r *Reconciler) publish(order *model.Order) {
	r.events.Publish(model.OrderEvent{
		Type:        model.EventOrderStatusChanged,
		OrderID:     order.ID,
		UserID:      order.UserID,
		Status:      order.Status,
		Reservation: order.Reservation,
		At:          time.Now().UTC(),
	})
}
