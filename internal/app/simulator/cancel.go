package simulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"mixfleet/internal/domain/orders"
	"mixfleet/internal/domain/trucks"
	"mixfleet/internal/shared/contracts"
	"mixfleet/internal/shared/rabbitmq"
)

// HandleCancelled consumes cancel_queue: redirect the truck bound to a
// cancelled order back toward available, short-circuiting phases that
// no longer matter.
func (s *Service) HandleCancelled(ctx context.Context, body []byte) error {
	env, err := contracts.DecodeEnvelope(body)
	if err != nil {
		return fmt.Errorf("%w: %v", rabbitmq.ErrDrop, err)
	}
	if env.Kind != contracts.KindOrderCancelled {
		return fmt.Errorf("%w: unexpected kind %s", rabbitmq.ErrDrop, env.Kind)
	}

	var p contracts.OrderCancelled
	if err := env.DecodePayload(&p); err != nil {
		return fmt.Errorf("%w: %v", rabbitmq.ErrDrop, err)
	}

	ts, err := s.truckForOrder(ctx, p.OrderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// no truck bound (still pending, or already released)
			s.logger.Debug(ctx, "cancel_no_truck", "Cancelled order has no bound truck", map[string]any{
				"order_id": p.OrderID,
			})
			return nil
		}
		return rabbitmq.Retryable(err)
	}

	// stop the in-flight unit and wait for it to release the truck; a
	// write started before the cancel completes before the unit exits
	if done, active := s.registry.Cancel(ts.TruckID); active {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(30 * time.Second):
			return rabbitmq.Retryable(fmt.Errorf("unit for truck %d did not stop", ts.TruckID))
		}
		// re-read: the unit may have persisted another transition before
		// observing the cancel
		if ts, err = s.truckStatus(ctx, ts.TruckID); err != nil {
			return rabbitmq.Retryable(err)
		}
	}

	s.logger.Info(ctx, "cancel_redirect", "Redirecting truck of cancelled order", map[string]any{
		"order_id": p.OrderID,
		"truck_id": ts.TruckID,
		"state":    string(ts.Status),
	})

	switch {
	case ts.Status == trucks.StateAvailable,
		ts.Status == trucks.StateReturning,
		ts.Status == trucks.StateWashing:
		// already converging to idle; the recovery sweep finishes any
		// interrupted tail
		return nil
	default:
		w := &run{
			truckID:    ts.TruckID,
			orderID:    p.OrderID,
			truckState: ts.Status,
			cancelled:  true,
		}
		if ts.Status.Departed() {
			// travel home takes as long as the outbound leg
			if order, err := s.getOrder(ctx, p.OrderID); err == nil {
				w.distance = order.DistanceMiles
			}
		}
		if !s.registry.Start(s.root, ts.TruckID, func(uctx context.Context) { s.runTail(uctx, w) }) {
			// a tail is already running from a previous delivery of this
			// message
			return nil
		}
		return nil
	}
}

// runTail drives the cancellation tail: straight to washing when the
// truck never left the plant, via returning when it did. Converges on
// available with no order-delivered event.
func (s *Service) runTail(ctx context.Context, w *run) {
	w.cancelled = true

	switch {
	case w.truckState == trucks.StateWashing:
		// wash already recorded; only completion is left
		s.complete(ctx, w)
		return
	case w.truckState == trucks.StateReturning:
		// resume mid-return: finish washing then complete
	case w.truckState.Departed():
		s.emitTruck(ctx, contracts.KindReturnToPlant, contracts.ReturnToPlant{
			TruckID: w.truckID, OrderID: w.orderID,
		})
		if err := s.phaseReturning(ctx, w); err != nil {
			s.stopUnit(ctx, w, err)
			return
		}
	default:
		// assigned or loading: skip the travel phases entirely
	}

	if err := s.phaseWashing(ctx, w); err != nil {
		s.stopUnit(ctx, w, err)
		return
	}
	s.complete(ctx, w)
}

// truckForOrder finds the truck bound to an order.
func (s *Service) truckForOrder(ctx context.Context, orderID int64) (*trucks.TruckStatus, error) {
	var ts *trucks.TruckStatus
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		ts, err = s.trucksRepo.GetStatusForOrder(txCtx, orderID)
		return err
	})
	return ts, err
}

// truckStatus re-reads one status row.
func (s *Service) truckStatus(ctx context.Context, truckID int64) (*trucks.TruckStatus, error) {
	return s.getStatus(ctx, truckID)
}

// getOrder reads one order in its own short tx.
func (s *Service) getOrder(ctx context.Context, orderID int64) (*orders.Order, error) {
	var o *orders.Order
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		o, err = s.ordersRepo.GetByID(txCtx, orderID)
		return err
	})
	return o, err
}
