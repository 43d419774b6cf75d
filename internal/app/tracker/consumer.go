package tracker

import (
	"context"
	"strings"
	"time"

	"mixfleet/internal/domain/orders"
	"mixfleet/internal/domain/trucks"
	"mixfleet/internal/ports"
	"mixfleet/internal/shared/contracts"
	"mixfleet/internal/shared/rabbitmq"
)

// HandleCompletion consumes order.delivered and finalises the order row.
// The status move is a compare-and-swap, so a redelivered message or a
// workflow that already wrote the terminal state is a no-op.
func (s *Service) HandleCompletion(ctx context.Context, body []byte) error {
	env, err := contracts.DecodeEnvelope(body)
	if err != nil {
		s.logger.Error(ctx, "decode_failed", "Dropping malformed message", err)
		return rabbitmq.ErrDrop
	}
	if env.Kind != contracts.KindOrderDelivered {
		return rabbitmq.ErrDrop
	}
	var p contracts.OrderDelivered
	if err := env.DecodePayload(&p); err != nil {
		s.logger.Error(ctx, "decode_failed", "Dropping malformed delivery payload", err)
		return rabbitmq.ErrDrop
	}

	var applied bool
	err = s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		applied, err = s.ordersRepo.UpdateStatusCAS(txCtx, p.OrderID, orders.StatusDelivering, orders.StatusDelivered)
		return err
	})
	if err != nil {
		return rabbitmq.Retryable(err)
	}

	if applied {
		s.logger.Info(ctx, "order_finalised", "Order marked delivered", map[string]any{
			"order_id": p.OrderID, "truck_id": p.TruckID,
		})
	} else {
		s.logger.Debug(ctx, "order_already_final", "Delivery already recorded, skipping", map[string]any{
			"order_id": p.OrderID,
		})
	}
	return nil
}

// HandleEvent consumes the full order.# and truck.# streams and keeps
// the Redis views current, logging one readable line per event.
func (s *Service) HandleEvent(ctx context.Context, body []byte) error {
	env, err := contracts.DecodeEnvelope(body)
	if err != nil {
		s.logger.Error(ctx, "decode_failed", "Dropping malformed message", err)
		return rabbitmq.ErrDrop
	}

	switch env.Kind {
	case contracts.KindOrderCreated:
		var p contracts.OrderCreated
		if err := env.DecodePayload(&p); err != nil {
			return rabbitmq.ErrDrop
		}
		s.cacheOrder(ctx, p.OrderID, orders.StatusPending, nil, env.CreatedAt)
		s.logger.Info(ctx, "event", "Order placed", map[string]any{
			"order_id": p.OrderID, "customer": p.CustomerName, "distance_miles": p.DistanceMiles,
		})

	case contracts.KindOrderCancelled:
		var p contracts.OrderCancelled
		if err := env.DecodePayload(&p); err != nil {
			return rabbitmq.ErrDrop
		}
		s.cacheOrder(ctx, p.OrderID, orders.StatusCancelled, nil, env.CreatedAt)
		s.logger.Info(ctx, "event", "Order cancelled", map[string]any{
			"order_id": p.OrderID, "reason": p.Reason,
		})

	case contracts.KindOrderDelivered:
		var p contracts.OrderDelivered
		if err := env.DecodePayload(&p); err != nil {
			return rabbitmq.ErrDrop
		}
		s.cacheOrder(ctx, p.OrderID, orders.StatusDelivered, &p.TruckID, env.CreatedAt)
		s.logger.Info(ctx, "event", "Order delivered", map[string]any{
			"order_id": p.OrderID, "truck_id": p.TruckID,
		})

	case contracts.KindTruckAssigned:
		var p contracts.TruckAssigned
		if err := env.DecodePayload(&p); err != nil {
			return rabbitmq.ErrDrop
		}
		s.cacheOrder(ctx, p.OrderID, orders.StatusAssigned, &p.TruckID, env.CreatedAt)
		s.cacheTruck(ctx, p.TruckID, trucks.StateAssigned, &p.OrderID, env.CreatedAt)
		s.logger.Info(ctx, "event", "Truck assigned", map[string]any{
			"truck_id": p.TruckID, "order_id": p.OrderID, "driver": p.DriverName,
		})

	case contracts.KindTruckStatusChanged:
		var p contracts.TruckStatusChanged
		if err := env.DecodePayload(&p); err != nil {
			return rabbitmq.ErrDrop
		}
		state := trucks.TruckState(p.NewStatus)
		if !state.Valid() {
			s.logger.Warn(ctx, "unknown_state", "Status change names an unknown state", map[string]any{
				"truck_id": p.TruckID, "state": p.NewStatus,
			})
			return nil
		}
		s.cacheTruck(ctx, p.TruckID, state, p.OrderID, env.CreatedAt)
		if derived, ok := orderStatusFor(state); ok && p.OrderID != nil {
			s.cacheOrder(ctx, *p.OrderID, derived, &p.TruckID, env.CreatedAt)
		}
		s.logger.Info(ctx, "event", "Truck "+strings.ReplaceAll(p.NewStatus, "_", " "), map[string]any{
			"truck_id": p.TruckID, "from": p.OldStatus,
		})

	case contracts.KindMaterialsLoaded:
		var p contracts.MaterialsLoaded
		if err := env.DecodePayload(&p); err != nil {
			return rabbitmq.ErrDrop
		}
		s.logger.Info(ctx, "event", "Materials loaded", map[string]any{
			"truck_id": p.TruckID, "order_id": p.OrderID,
		})

	case contracts.KindArrivedAtJobSite:
		var p contracts.ArrivedAtJobSite
		if err := env.DecodePayload(&p); err != nil {
			return rabbitmq.ErrDrop
		}
		s.logger.Info(ctx, "event", "Arrived at job site", map[string]any{
			"truck_id": p.TruckID, "order_id": p.OrderID,
		})

	case contracts.KindPouringCompleted:
		var p contracts.PouringCompleted
		if err := env.DecodePayload(&p); err != nil {
			return rabbitmq.ErrDrop
		}
		s.logger.Info(ctx, "event", "Pouring completed", map[string]any{
			"truck_id": p.TruckID, "order_id": p.OrderID, "poured_yards": p.PouredYards,
		})

	case contracts.KindReturnedToPlant, contracts.KindWashCompleted, contracts.KindReturnToPlant:
		s.logger.Debug(ctx, "event", "Lifecycle event", map[string]any{"kind": env.Kind})

	case contracts.KindTruckIdle:
		var p contracts.TruckIdle
		if err := env.DecodePayload(&p); err != nil {
			return rabbitmq.ErrDrop
		}
		s.cacheTruck(ctx, p.TruckID, trucks.StateAvailable, nil, env.CreatedAt)
		s.logger.Info(ctx, "event", "Truck idle", map[string]any{"truck_id": p.TruckID})

	case contracts.KindOrderAssignRequest:
		// dispatcher's concern, nothing to track yet

	default:
		s.logger.Debug(ctx, "event_skipped", "Unhandled event kind", map[string]any{"kind": env.Kind})
	}
	return nil
}

// orderStatusFor maps a truck state to the order status the workflow
// writes alongside it. States with no order-side move return false.
func orderStatusFor(state trucks.TruckState) (orders.OrderStatus, bool) {
	switch state {
	case trucks.StateLoading:
		return orders.StatusLoading, true
	case trucks.StateEnRoute:
		return orders.StatusInTransit, true
	case trucks.StateDelivering:
		return orders.StatusDelivering, true
	default:
		return "", false
	}
}

func (s *Service) cacheTruck(ctx context.Context, truckID int64, state trucks.TruckState, orderID *int64, at time.Time) {
	if s.store == nil {
		return
	}
	view := ports.TruckView{TruckID: truckID, Status: state, OrderID: orderID, UpdatedAt: at}
	if err := s.store.SetTruck(ctx, view); err != nil {
		s.logger.Debug(ctx, "cache_write_failed", "Could not cache truck view", map[string]any{
			"truck_id": truckID, "error": err.Error(),
		})
	}
}

func (s *Service) cacheOrder(ctx context.Context, orderID int64, status orders.OrderStatus, truckID *int64, at time.Time) {
	if s.store == nil {
		return
	}
	view := ports.OrderView{OrderID: orderID, Status: status, TruckID: truckID, UpdatedAt: at}
	if err := s.store.SetOrder(ctx, view); err != nil {
		s.logger.Debug(ctx, "cache_write_failed", "Could not cache order view", map[string]any{
			"order_id": orderID, "error": err.Error(),
		})
	}
}
