package simulator

import (
	"context"

	"mixfleet/internal/domain/orders"
	"mixfleet/internal/domain/trucks"
	"mixfleet/internal/shared/contracts"
)

// Reconcile re-derives in-flight work from persisted state. Runs at
// startup and on a fixed interval:
//   - trucks stuck mid-cycle with a bound order get a resumption unit
//   - trucks stuck mid-cycle with NO bound order are forced available
//     (data inconsistency, not a normal path)
//   - assigned orders whose truck has no active unit get their workflow
//     started (compensates for a lost truck.assigned message)
func (s *Service) Reconcile(ctx context.Context) error {
	var stuck []trucks.TruckStatus
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		stuck, err = s.trucksRepo.ListInFlight(txCtx)
		return err
	})
	if err != nil {
		return err
	}

	for i := range stuck {
		ts := stuck[i]
		if s.registry.Active(ts.TruckID) {
			continue
		}

		if ts.CurrentOrderID == nil {
			if err := s.forceAvailable(ctx, ts); err != nil {
				s.logger.Error(ctx, "recovery_force_failed", "Could not force orphaned truck available", err)
			}
			continue
		}

		if s.Resume(ts.TruckID) {
			s.logger.Info(ctx, "recovery_resumed", "Started resumption unit for stuck truck", map[string]any{
				"truck_id": ts.TruckID, "order_id": *ts.CurrentOrderID, "state": string(ts.Status),
			})
		}
	}

	return s.reconcileAssigned(ctx)
}

// reconcileAssigned starts workflows for assigned orders nobody is
// driving.
func (s *Service) reconcileAssigned(ctx context.Context) error {
	assigned, err := s.listAssigned(ctx)
	if err != nil {
		return err
	}

	for i := range assigned {
		order := assigned[i]
		if order.TruckID == nil {
			// assigned order without a truck should not exist; the
			// dispatcher writes both sides in one tx
			s.logger.Warn(ctx, "recovery_inconsistent_order", "Assigned order has no truck", map[string]any{
				"order_id": order.ID,
			})
			continue
		}
		if s.registry.Active(*order.TruckID) {
			continue
		}
		if s.StartDelivery(*order.TruckID, order.ID) {
			s.logger.Info(ctx, "recovery_started", "Started workflow for unprocessed assignment", map[string]any{
				"order_id": order.ID, "truck_id": *order.TruckID,
			})
		}
	}
	return nil
}

// forceAvailable resets a truck stuck mid-cycle with no bound order.
func (s *Service) forceAvailable(ctx context.Context, ts trucks.TruckStatus) error {
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		return s.trucksRepo.Release(txCtx, ts.TruckID)
	})
	if err != nil {
		return err
	}

	s.logger.Warn(ctx, "recovery_forced_available", "Truck had no bound order, forced available", map[string]any{
		"truck_id": ts.TruckID, "was": string(ts.Status),
	})
	w := &run{truckID: ts.TruckID, truckState: ts.Status, cancelled: true}
	s.emitStatusChanged(ctx, w, ts.Status, trucks.StateAvailable, nil)
	s.emitTruck(ctx, contracts.KindTruckIdle, contracts.TruckIdle{TruckID: ts.TruckID})
	return nil
}

// listAssigned reads all assigned orders in a short tx.
func (s *Service) listAssigned(ctx context.Context) ([]orders.Order, error) {
	var out []orders.Order
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		out, err = s.ordersRepo.ListAssigned(txCtx)
		return err
	})
	return out, err
}
