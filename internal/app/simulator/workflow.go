package simulator

import (
	"context"
	"errors"
	"time"

	"mixfleet/internal/domain/orders"
	"mixfleet/internal/domain/trucks"
	"mixfleet/internal/shared/contracts"
	"mixfleet/internal/shared/rabbitmq"
)

// errConflict means a status guard failed mid-workflow: another actor
// (cancellation handler, recovery sweep) moved the truck. The unit stops
// and leaves the truck to whoever won.
var errConflict = errors.New("truck state moved by another actor")

// Sleeper performs the simulated phase wait. The real one sleeps on a
// timer honoring ctx; tests swap in a no-op.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepWithContext is the production Sleeper.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// run carries one unit's in-memory state between phases. Everything
// durable lives in the store; this is just the cursor.
type run struct {
	truckID     int64
	orderID     int64
	plantID     *int64
	distance    float64
	truckState  trucks.TruckState
	orderStatus orders.OrderStatus
	// cancelled tails never touch the order row and skip delivery events
	cancelled bool
}

// runFrom walks the timed phases beginning at start and finishes with
// completion. Each phase persists first, then broadcasts, then waits,
// then emits its completion event, so observers never see a stale
// status outlive its event.
func (s *Service) runFrom(ctx context.Context, w *run, start trucks.TruckState) {
	st := start
	for {
		var err error
		switch st {
		case trucks.StateLoading:
			err = s.phaseLoading(ctx, w)
		case trucks.StateEnRoute:
			err = s.phaseEnRoute(ctx, w)
		case trucks.StateAtJobSite:
			err = s.phaseAtJobSite(ctx, w)
		case trucks.StateDelivering:
			err = s.phaseDelivering(ctx, w)
		case trucks.StateReturning:
			err = s.phaseReturning(ctx, w)
		case trucks.StateWashing:
			err = s.phaseWashing(ctx, w)
		default:
			s.complete(ctx, w)
			return
		}
		if err != nil {
			s.stopUnit(ctx, w, err)
			return
		}

		next, ok := trucks.NextState(st)
		if !ok {
			s.complete(ctx, w)
			return
		}
		st = next
	}
}

// --- Phases ---

func (s *Service) phaseLoading(ctx context.Context, w *run) error {
	if err := s.advance(ctx, w, trucks.StateLoading, orders.StatusLoading); err != nil {
		return err
	}
	if err := s.sleep(ctx, s.durations.Loading()); err != nil {
		return err
	}
	s.emitTruck(ctx, contracts.KindMaterialsLoaded, contracts.MaterialsLoaded{
		TruckID: w.truckID, OrderID: w.orderID, PlantID: w.plantID,
	})
	return nil
}

func (s *Service) phaseEnRoute(ctx context.Context, w *run) error {
	if err := s.advance(ctx, w, trucks.StateEnRoute, orders.StatusInTransit); err != nil {
		return err
	}
	return s.sleep(ctx, s.durations.Travel(w.distance))
}

// phaseAtJobSite marks the arrival instant: persisted state with zero
// dwell, delivering starts immediately after.
func (s *Service) phaseAtJobSite(ctx context.Context, w *run) error {
	if err := s.advance(ctx, w, trucks.StateAtJobSite, ""); err != nil {
		return err
	}
	s.emitTruck(ctx, contracts.KindArrivedAtJobSite, contracts.ArrivedAtJobSite{
		TruckID: w.truckID, OrderID: w.orderID,
	})
	return nil
}

func (s *Service) phaseDelivering(ctx context.Context, w *run) error {
	if err := s.advance(ctx, w, trucks.StateDelivering, orders.StatusDelivering); err != nil {
		return err
	}
	if err := s.sleep(ctx, s.durations.Delivering()); err != nil {
		return err
	}
	s.emitTruck(ctx, contracts.KindPouringCompleted, contracts.PouringCompleted{
		TruckID: w.truckID, OrderID: w.orderID, PouredYards: trucks.PouredYards,
	})
	return nil
}

func (s *Service) phaseReturning(ctx context.Context, w *run) error {
	if err := s.advance(ctx, w, trucks.StateReturning, ""); err != nil {
		return err
	}
	if err := s.sleep(ctx, s.durations.Travel(w.distance)); err != nil {
		return err
	}
	s.emitTruck(ctx, contracts.KindReturnedToPlant, contracts.ReturnedToPlant{
		TruckID: w.truckID, OrderID: w.orderID,
	})
	return nil
}

func (s *Service) phaseWashing(ctx context.Context, w *run) error {
	if err := s.advance(ctx, w, trucks.StateWashing, ""); err != nil {
		return err
	}
	if err := s.sleep(ctx, s.durations.Washing()); err != nil {
		return err
	}
	s.emitTruck(ctx, contracts.KindWashCompleted, contracts.WashCompleted{
		TruckID: w.truckID, OrderID: w.orderID,
	})
	return nil
}

// complete resets the truck to available and, for real deliveries,
// records the order delivered and announces it.
func (s *Service) complete(ctx context.Context, w *run) {
	orderDelivered := false
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		if err := s.trucksRepo.Release(txCtx, w.truckID); err != nil {
			return err
		}
		if !w.cancelled {
			ok, err := s.ordersRepo.UpdateStatusCAS(txCtx, w.orderID, w.orderStatus, orders.StatusDelivered)
			if err != nil {
				return err
			}
			orderDelivered = ok
		}
		return nil
	})
	if err != nil {
		s.stopUnit(ctx, w, err)
		return
	}

	old := w.truckState
	w.truckState = trucks.StateAvailable
	s.emitStatusChanged(ctx, w, old, trucks.StateAvailable, nil)

	if orderDelivered {
		s.emitOrders(ctx, contracts.KindOrderDelivered, contracts.OrderDelivered{
			OrderID: w.orderID, TruckID: w.truckID,
		})
	}
	s.emitTruck(ctx, contracts.KindTruckIdle, contracts.TruckIdle{TruckID: w.truckID})

	s.logger.Info(ctx, "workflow_completed", "Truck back to available", map[string]any{
		"truck_id": w.truckID,
		"order_id": w.orderID,
		"delivered": orderDelivered,
	})
}

// advance persists the truck transition (and the paired order status
// when there is one) and broadcasts status-changed.
func (s *Service) advance(ctx context.Context, w *run, next trucks.TruckState, orderNext orders.OrderStatus) error {
	orderMoved := false
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		ok, err := s.trucksRepo.UpdateStateCAS(txCtx, w.truckID, w.truckState, next)
		if err != nil {
			return err
		}
		if !ok {
			return errConflict
		}

		if orderNext != "" && !w.cancelled {
			// a lost order CAS means the order was cancelled underneath;
			// keep driving, the cancellation handler owns the redirect
			orderMoved, err = s.ordersRepo.UpdateStatusCAS(txCtx, w.orderID, w.orderStatus, orderNext)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	old := w.truckState
	w.truckState = next
	if orderMoved {
		w.orderStatus = orderNext
	}

	s.emitStatusChanged(ctx, w, old, next, &w.orderID)
	return nil
}

// stopUnit logs why a unit ended early. Persisted state stands; the
// recovery sweep or a competing actor takes it from here.
func (s *Service) stopUnit(ctx context.Context, w *run, err error) {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		s.logger.Debug(ctx, "workflow_cancelled", "Unit stopped at suspension point", map[string]any{
			"truck_id": w.truckID, "order_id": w.orderID, "state": string(w.truckState),
		})
	case errors.Is(err, errConflict):
		s.logger.Warn(ctx, "workflow_conflict", "Truck state moved by another actor, unit yields", map[string]any{
			"truck_id": w.truckID, "state": string(w.truckState),
		})
	default:
		s.logger.Error(ctx, "workflow_failed", "Unit terminated on error", err)
	}
}

// --- Event emission ---

func (s *Service) emitStatusChanged(ctx context.Context, w *run, old, next trucks.TruckState, orderID *int64) {
	payload := contracts.TruckStatusChanged{
		TruckID:   w.truckID,
		OldStatus: string(old),
		NewStatus: string(next),
	}
	if next != trucks.StateAvailable {
		payload.OrderID = orderID
	}
	key := contracts.KindTruckStatusChanged + "." + string(next)
	s.publish(ctx, rabbitmq.TrucksExchange, contracts.KindTruckStatusChanged, key, payload)
}

func (s *Service) emitTruck(ctx context.Context, kind string, payload any) {
	s.publish(ctx, rabbitmq.TrucksExchange, kind, kind, payload)
}

func (s *Service) emitOrders(ctx context.Context, kind string, payload any) {
	s.publish(ctx, rabbitmq.OrdersExchange, kind, kind, payload)
}

func (s *Service) publish(ctx context.Context, exchange, kind, routingKey string, payload any) {
	body, err := contracts.Encode(kind, payload)
	if err != nil {
		s.logger.Error(ctx, "message_encode_failed", "Failed to encode "+kind, err)
		return
	}
	if err := s.publisher.Publish(exchange, routingKey, body); err != nil {
		// persisted state is the source of truth; observers catch up on
		// the next event or via the store
		s.logger.Error(ctx, "rabbitmq_publish_failed", "Failed to publish "+kind, err)
	}
}
