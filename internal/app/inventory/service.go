package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mixfleet/internal/ports"
	"mixfleet/internal/shared/contracts"
	"mixfleet/internal/shared/logger"
	"mixfleet/internal/shared/rabbitmq"
)

// YardsPerLoad is the fixed batch size drawn from plant stock for one
// truck loading cycle, applied to each raw material.
const YardsPerLoad int64 = 10

// Service deducts plant inventory when a truck enters its loading
// phase. Deduction is a single guarded update so a concurrent engine
// instance can never drive stock negative.
type Service struct {
	uow        ports.UnitOfWork
	ordersRepo ports.OrderRepository
	plantsRepo ports.PlantRepository
	logger     *logger.Logger
}

func New(uow ports.UnitOfWork, ordersRepo ports.OrderRepository, plantsRepo ports.PlantRepository, log *logger.Logger) *Service {
	return &Service{uow: uow, ordersRepo: ordersRepo, plantsRepo: plantsRepo, logger: log}
}

// HandleMessage consumes truck.status_changed.loading notifications.
func (s *Service) HandleMessage(ctx context.Context, body []byte) error {
	env, err := contracts.DecodeEnvelope(body)
	if err != nil {
		s.logger.Error(ctx, "decode_failed", "Dropping malformed message", err)
		return rabbitmq.ErrDrop
	}
	if env.Kind != contracts.KindTruckStatusChanged {
		return rabbitmq.ErrDrop
	}

	var evt contracts.TruckStatusChanged
	if err := env.DecodePayload(&evt); err != nil {
		s.logger.Error(ctx, "decode_failed", "Dropping malformed status change payload", err)
		return rabbitmq.ErrDrop
	}
	if evt.NewStatus != "loading" {
		// binding is keyed on truck.status_changed.loading, anything
		// else slipped through a topology change
		return nil
	}
	if evt.OrderID == nil {
		s.logger.Warn(ctx, "no_order_bound", "Loading event without an order, skipping deduction", map[string]any{
			"truck_id": evt.TruckID,
		})
		return nil
	}

	return s.DeductForOrder(ctx, *evt.OrderID, evt.TruckID)
}

// DeductForOrder withdraws one load of each material from the plant
// serving the order. A shortfall is logged and acknowledged: stock
// accounting never blocks a delivery already in motion.
func (s *Service) DeductForOrder(ctx context.Context, orderID, truckID int64) error {
	var (
		plantID  int64
		deducted bool
	)
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		order, err := s.ordersRepo.GetByID(txCtx, orderID)
		if err != nil {
			return fmt.Errorf("load order %d: %w", orderID, err)
		}
		if order.PlantID == nil {
			plant, err := s.plantsRepo.DefaultPlant(txCtx)
			if err != nil {
				return fmt.Errorf("resolve default plant: %w", err)
			}
			plantID = plant.ID
		} else {
			plantID = *order.PlantID
		}

		deducted, err = s.plantsRepo.Deduct(txCtx, plantID, YardsPerLoad)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.logger.Warn(ctx, "order_missing", "Order vanished before deduction, skipping", map[string]any{
				"order_id": orderID, "truck_id": truckID,
			})
			return nil
		}
		return rabbitmq.Retryable(err)
	}

	if !deducted {
		s.logger.Warn(ctx, "insufficient_inventory", "Plant stock below one load, deduction skipped", map[string]any{
			"order_id": orderID, "truck_id": truckID, "plant_id": plantID, "requested_yards": YardsPerLoad,
		})
		return nil
	}

	s.logger.Info(ctx, "inventory_deducted", "Materials withdrawn for loading truck", map[string]any{
		"order_id": orderID, "truck_id": truckID, "plant_id": plantID, "yards": YardsPerLoad,
	})
	return nil
}
