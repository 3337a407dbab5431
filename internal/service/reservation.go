package service

import (
	"context"
	"time"

	"orderhub/internal/model"
	"orderhub/internal/repository"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// reserver applies and releases the ledger deductions of an order and keeps
// the per-line deduction state in sync.
//
// Line states: NOT_ATTEMPTED means the ledger was never asked, PENDING means a
// deduction was sent and its outcome is unknown (a transient failure may still
// have been applied), APPLIED means the ledger confirmed it and FAILED means the
// ledger refused it. Every call carries the line's reference, so repeating a
// deduction never deducts twice.
type reserver struct {
	orderRepo repository.OrderRepository
	ledger    StockLedger
	retry     RetryOptions
	logger    zerolog.Logger
}

// isRejection reports whether the ledger definitively refused a delta.
func isRejection(err error) bool {
	switch model.KindOf(err) {
	case model.KindInsufficientStock, model.KindNotFound:
		return true
	}
	return false
}

// reserve deducts every line that is not yet applied, in order. It stops at the
// first line that cannot be deducted and returns that error.
func (r *reserver) reserve(ctx context.Context, order *model.Order) error {
	for i := range order.Lines {
		line := &order.Lines[i]
		if line.Deduction == model.DeductionApplied || line.Deduction == model.DeductionReleased {
			continue
		}

		// Recorded before the call so a crash mid-call leaves the line marked
		// as possibly applied.
		r.setLineState(ctx, line, model.DeductionPending)

		_, err := r.apply(ctx, line.ProductID, -line.Quantity, line.DeductionReference())
		switch {
		case err == nil:
			r.setLineState(ctx, line, model.DeductionApplied)
		case isRejection(err):
			r.setLineState(ctx, line, model.DeductionFailed)
			return err
		default:
			return err
		}
	}
	return nil
}

// compensate credits back every deduction the order may hold. Lines with an
// unknown outcome are settled first by repeating their deduction, so the
// release that follows is exact. Lines never sent to the ledger are marked
// released without a ledger call. It returns the last failure, if any.
func (r *reserver) compensate(ctx context.Context, order *model.Order) error {
	var failed error
	for i := range order.Lines {
		line := &order.Lines[i]

		switch line.Deduction {
		case model.DeductionNotAttempted:
			r.setLineState(ctx, line, model.DeductionReleased)
			continue
		case model.DeductionApplied:
		case model.DeductionPending:
			_, err := r.apply(ctx, line.ProductID, -line.Quantity, line.DeductionReference())
			if isRejection(err) {
				r.setLineState(ctx, line, model.DeductionFailed)
				continue
			}
			if err != nil {
				failed = err
				continue
			}
			r.setLineState(ctx, line, model.DeductionApplied)
		default:
			continue
		}

		if _, err := r.apply(ctx, line.ProductID, line.Quantity, line.ReleaseReference()); err != nil {
			r.logger.Error().
				Err(err).
				Int64("order_id", order.ID).
				Int64("line_id", line.ID).
				Int64("product_id", line.ProductID).
				Msg("failed to release stock")
			failed = err
			continue
		}
		r.setLineState(ctx, line, model.DeductionReleased)
	}
	return failed
}

// apply calls the ledger, retrying transient failures with exponential backoff.
func (r *reserver) apply(ctx context.Context, productID int64, delta int, reference string) (*model.StockChange, error) {
	operation := func() (*model.StockChange, error) {
		change, err := r.ledger.ApplyDelta(ctx, productID, delta, reference)
		if err != nil && model.KindOf(err) != model.KindUpstreamUnavailable {
			return nil, backoff.Permanent(err)
		}
		return change, err
	}

	notify := func(err error, wait time.Duration) {
		r.logger.Warn().
			Err(err).
			Int64("product_id", productID).
			Str("reference", reference).
			Dur("retry_in", wait).
			Msg("ledger call failed, retrying")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), uint64(r.retry.MaxRetries)), ctx)
	return backoff.RetryNotifyWithData(operation, policy, notify)
}

func (r *reserver) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     r.retry.Interval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func (r *reserver) setLineState(ctx context.Context, line *model.OrderLine, state model.DeductionState) {
	if line.Deduction == state {
		return
	}
	line.Deduction = state
	if err := r.orderRepo.UpdateLineDeduction(ctx, line.ID, state); err != nil {
		r.logger.Error().
			Err(err).
			Int64("order_id", line.OrderID).
			Int64("line_id", line.ID).
			Str("state", string(state)).
			Msg("failed to record line deduction state")
	}
}

// setReservation records the reservation outcome on the order.
func (r *reserver) setReservation(ctx context.Context, order *model.Order, reservation model.ReservationStatus) {
	if err := r.orderRepo.UpdateReservation(ctx, order.ID, reservation); err != nil {
		r.logger.Error().
			Err(err).
			Int64("order_id", order.ID).
			Str("reservation_status", string(reservation)).
			Msg("failed to record reservation status")
		return
	}
	order.Reservation = reservation
}

// setStatus moves the order from its current status to next. It reports false
// when the status changed underneath us.
func (r *reserver) setStatus(ctx context.Context, order *model.Order, next model.OrderStatus) bool {
	if order.Status == next {
		return true
	}

	updated, err := r.orderRepo.UpdateStatus(ctx, order.ID, order.Status, next)
	if err != nil {
		r.logger.Error().
			Err(err).
			Int64("order_id", order.ID).
			Str("to", string(next)).
			Msg("failed to record order status")
		return false
	}
	if !updated {
		r.logger.Warn().
			Int64("order_id", order.ID).
			Str("from", string(order.Status)).
			Str("to", string(next)).
			Msg("order status changed concurrently")
		return false
	}

	order.Status = next
	return true
}

// releaseAndCancel compensates the order and cancels it. When compensation is
// incomplete the reservation stays PARTIAL so the reconciler finishes the release.
func (r *reserver) releaseAndCancel(ctx context.Context, order *model.Order) error {
	err := r.compensate(ctx, order)
	if err != nil {
		r.setReservation(ctx, order, model.ReservationPartial)
	} else {
		r.setReservation(ctx, order, model.ReservationReleased)
	}

	if order.Status != model.StatusCancelled {
		r.setStatus(ctx, order, model.StatusCancelled)
	}
	return err
}
