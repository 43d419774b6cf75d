package orderservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"mixfleet/internal/domain/orders"
	"mixfleet/internal/ports"
	"mixfleet/internal/shared/contracts"
	"mixfleet/internal/shared/logger"
	"mixfleet/internal/shared/rabbitmq"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrTruckNotFound = errors.New("truck not found")
	ErrPlantNotFound = errors.New("plant not found")
	// ErrOrderFinished means a cancel hit an already-terminal order.
	ErrOrderFinished = errors.New("order already delivered or cancelled")
)

// Service implements ports.OrderService: the dashboard's command boundary.
type Service struct {
	uow        ports.UnitOfWork
	ordersRepo ports.OrderRepository
	trucksRepo ports.TruckRepository
	plantsRepo ports.PlantRepository
	publisher  ports.Publisher
	logger     *logger.Logger
}

var _ ports.OrderService = (*Service)(nil)

// New creates the order service with its dependencies.
func New(
	uow ports.UnitOfWork,
	ordersRepo ports.OrderRepository,
	trucksRepo ports.TruckRepository,
	plantsRepo ports.PlantRepository,
	publisher ports.Publisher,
	logger *logger.Logger,
) *Service {
	return &Service{
		uow:        uow,
		ordersRepo: ordersRepo,
		trucksRepo: trucksRepo,
		plantsRepo: plantsRepo,
		publisher:  publisher,
		logger:     logger,
	}
}

// PlaceOrder validates input, persists a pending order, and publishes
// order.created after the commit.
func (service *Service) PlaceOrder(ctx context.Context, cmd ports.CreateOrderCommand) (*orders.Order, error) {
	cmd.CustomerName = strings.TrimSpace(cmd.CustomerName)
	if len(cmd.CustomerName) < 1 || len(cmd.CustomerName) > 100 {
		return nil, errors.New("customer_name must be 1-100 characters long")
	}
	if cmd.DistanceMiles <= 0 || cmd.DistanceMiles > 500 {
		return nil, errors.New("distance_miles must be > 0 and <= 500")
	}

	var order orders.Order
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		// resolve the plant up front so a bad id fails the request, not
		// a later deduction
		plantID := cmd.PlantID
		if plantID == nil {
			plant, err := service.plantsRepo.DefaultPlant(txCtx)
			if err != nil {
				return fmt.Errorf("resolve default plant: %w", err)
			}
			plantID = &plant.ID
		} else if _, err := service.plantsRepo.GetPlant(txCtx, *plantID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrPlantNotFound
			}
			return err
		}

		order = orders.Order{
			CustomerName:  cmd.CustomerName,
			DistanceMiles: cmd.DistanceMiles,
			PlantID:       plantID,
		}
		return service.ordersRepo.Create(txCtx, &order)
	})
	if err != nil {
		return nil, err
	}

	service.publish(ctx, rabbitmq.OrdersExchange, contracts.KindOrderCreated, contracts.OrderCreated{
		OrderID:       order.ID,
		CustomerName:  order.CustomerName,
		DistanceMiles: order.DistanceMiles,
		PlantID:       order.PlantID,
	})

	service.logger.Info(ctx, "order_created", "Order accepted", map[string]any{
		"order_id": order.ID,
		"distance": order.DistanceMiles,
	})
	return &order, nil
}

// CancelOrder moves a non-terminal order to cancelled and publishes
// order.cancelled so the simulator can redirect its truck.
func (service *Service) CancelOrder(ctx context.Context, orderID int64, reason string) error {
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		if _, err := service.ordersRepo.GetByID(txCtx, orderID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return err
		}
		ok, err := service.ordersRepo.CancelCAS(txCtx, orderID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrOrderFinished
		}
		return nil
	})
	if err != nil {
		return err
	}

	service.publish(ctx, rabbitmq.OrdersExchange, contracts.KindOrderCancelled, contracts.OrderCancelled{
		OrderID: orderID,
		Reason:  reason,
	})

	service.logger.Info(ctx, "order_cancelled", "Order cancelled", map[string]any{
		"order_id": orderID,
		"reason":   reason,
	})
	return nil
}

// RequestAssignment publishes a manual pairing request for the
// dispatcher. The dispatcher applies the same status guards as the
// automatic path, so a stale request is a no-op there.
func (service *Service) RequestAssignment(ctx context.Context, orderID, truckID int64) error {
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		if _, err := service.ordersRepo.GetByID(txCtx, orderID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return err
		}
		if _, err := service.trucksRepo.GetTruck(txCtx, truckID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrTruckNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	service.publish(ctx, rabbitmq.OrdersExchange, contracts.KindOrderAssignRequest, contracts.OrderAssignRequest{
		OrderID: orderID,
		TruckID: truckID,
	})
	return nil
}

// ListOrders returns the most recent orders.
func (service *Service) ListOrders(ctx context.Context, limit int) ([]orders.Order, error) {
	var out []orders.Order
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		out, err = service.ordersRepo.List(txCtx, limit)
		return err
	})
	return out, err
}

// GetOrder returns one order by id.
func (service *Service) GetOrder(ctx context.Context, orderID int64) (*orders.Order, error) {
	var out *orders.Order
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		out, err = service.ordersRepo.GetByID(txCtx, orderID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// publish sends an enveloped event; a broker outage is logged but never
// fails the command, the reconciliation sweeps pick up the slack.
func (service *Service) publish(ctx context.Context, exchange, kind string, payload any) {
	body, err := contracts.Encode(kind, payload)
	if err != nil {
		service.logger.Error(ctx, "message_encode_failed", "Failed to encode "+kind, err)
		return
	}
	if err := service.publisher.Publish(exchange, kind, body); err != nil {
		service.logger.Error(ctx, "rabbitmq_publish_failed", "Failed to publish "+kind, err)
	}
}
