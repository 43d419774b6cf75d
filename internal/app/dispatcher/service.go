package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mixfleet/internal/domain/orders"
	"mixfleet/internal/domain/trucks"
	"mixfleet/internal/ports"
	"mixfleet/internal/shared/contracts"
	"mixfleet/internal/shared/logger"
	"mixfleet/internal/shared/rabbitmq"
)

// Expected backlog conditions, not failures.
var (
	ErrNoPendingOrder   = errors.New("no pending orders")
	ErrNoAvailableTruck = errors.New("no available trucks")
)

// errStale aborts a pairing tx when a status guard failed: someone else
// already moved the order or the truck. The pairing is retried against
// fresh state or simply dropped; either way nothing was written.
var errStale = errors.New("pairing lost a status race")

// Service pairs pending orders with available trucks. First-available
// matching: oldest order, lowest truck id. All pairings are guarded by
// CAS updates on both rows so replayed messages cannot double-assign.
type Service struct {
	uow        ports.UnitOfWork
	ordersRepo ports.OrderRepository
	trucksRepo ports.TruckRepository
	publisher  ports.Publisher
	logger     *logger.Logger
}

// New creates the assignment service with its dependencies.
func New(
	uow ports.UnitOfWork,
	ordersRepo ports.OrderRepository,
	trucksRepo ports.TruckRepository,
	publisher ports.Publisher,
	logger *logger.Logger,
) *Service {
	return &Service{
		uow:        uow,
		ordersRepo: ordersRepo,
		trucksRepo: trucksRepo,
		publisher:  publisher,
		logger:     logger,
	}
}

// AssignOrder pairs one specific order (fresh from order.created) with
// the lowest-id available truck. Returns ErrNoAvailableTruck when the
// fleet is busy; the order stays pending for a later idle-truck event
// or sweep.
func (s *Service) AssignOrder(ctx context.Context, orderID int64) error {
	var pairing *contracts.TruckAssigned
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		order, err := s.ordersRepo.GetByID(txCtx, orderID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// order vanished; nothing to assign
				return errStale
			}
			return err
		}
		if !order.Assignable() {
			return errStale
		}

		truck, err := s.trucksRepo.LowestAvailable(txCtx)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNoAvailableTruck
			}
			return err
		}

		pairing, err = s.pair(txCtx, order, truck)
		return err
	})
	return s.finish(ctx, pairing, err)
}

// AssignToTruck reacts to a truck going idle: pull the oldest pending
// order for that specific truck. Returns ErrNoPendingOrder when the
// backlog is empty.
func (s *Service) AssignToTruck(ctx context.Context, truckID int64) error {
	var pairing *contracts.TruckAssigned
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		order, err := s.ordersRepo.OldestPending(txCtx)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNoPendingOrder
			}
			return err
		}

		truck, err := s.trucksRepo.GetTruck(txCtx, truckID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errStale
			}
			return err
		}

		pairing, err = s.pair(txCtx, order, truck)
		return err
	})
	return s.finish(ctx, pairing, err)
}

// AssignPinned is the dashboard's manual override: a named order and a
// named truck. The same guards apply, so a stale request writes nothing.
func (s *Service) AssignPinned(ctx context.Context, orderID, truckID int64) error {
	var pairing *contracts.TruckAssigned
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		order, err := s.ordersRepo.GetByID(txCtx, orderID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errStale
			}
			return err
		}
		if !order.Assignable() {
			return errStale
		}

		truck, err := s.trucksRepo.GetTruck(txCtx, truckID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errStale
			}
			return err
		}

		pairing, err = s.pair(txCtx, order, truck)
		return err
	})
	return s.finish(ctx, pairing, err)
}

// Reconcile greedily pairs the whole pending backlog with available
// trucks, oldest order first, until one side runs out. Runs at startup
// and on the periodic sweep so a restart never loses submitted demand.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	assigned := 0
	for {
		err := s.assignOldest(ctx)
		if errors.Is(err, ErrNoPendingOrder) || errors.Is(err, ErrNoAvailableTruck) {
			return assigned, nil
		}
		if err != nil {
			return assigned, err
		}
		assigned++
	}
}

// assignOldest pairs the oldest pending order with the lowest-id
// available truck.
func (s *Service) assignOldest(ctx context.Context) error {
	var pairing *contracts.TruckAssigned
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		order, err := s.ordersRepo.OldestPending(txCtx)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNoPendingOrder
			}
			return err
		}

		truck, err := s.trucksRepo.LowestAvailable(txCtx)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNoAvailableTruck
			}
			return err
		}

		pairing, err = s.pair(txCtx, order, truck)
		return err
	})
	return s.finish(ctx, pairing, err)
}

// pair applies both CAS updates inside the caller's tx. Either both
// rows move or the tx aborts with errStale.
func (s *Service) pair(txCtx context.Context, order *orders.Order, truck *trucks.Truck) (*contracts.TruckAssigned, error) {
	ok, err := s.ordersRepo.AssignCAS(txCtx, order.ID, truck.ID)
	if err != nil {
		return nil, fmt.Errorf("assign order %d: %w", order.ID, err)
	}
	if !ok {
		return nil, errStale
	}

	ok, err = s.trucksRepo.AssignCAS(txCtx, truck.ID, order.ID)
	if err != nil {
		return nil, fmt.Errorf("assign truck %d: %w", truck.ID, err)
	}
	if !ok {
		return nil, errStale
	}

	return &contracts.TruckAssigned{
		TruckID:    truck.ID,
		OrderID:    order.ID,
		DriverName: truck.DriverName,
	}, nil
}

// finish maps pairing outcomes and publishes truck.assigned on success.
func (s *Service) finish(ctx context.Context, pairing *contracts.TruckAssigned, err error) error {
	if errors.Is(err, errStale) {
		// lost a race with another consumer or a replayed message;
		// nothing was written, nothing to do
		s.logger.Debug(ctx, "assignment_skipped", "Pairing skipped, state already moved", nil)
		return nil
	}
	if err != nil {
		return err
	}

	body, encErr := contracts.Encode(contracts.KindTruckAssigned, pairing)
	if encErr != nil {
		s.logger.Error(ctx, "message_encode_failed", "Failed to encode truck.assigned", encErr)
		return nil
	}
	if pubErr := s.publisher.Publish(rabbitmq.TrucksExchange, contracts.KindTruckAssigned, body); pubErr != nil {
		// DB state is committed; the simulator's reconciliation sweep
		// picks up assigned orders with no running workflow
		s.logger.Error(ctx, "rabbitmq_publish_failed", "Failed to publish truck.assigned", pubErr)
	}

	s.logger.Info(ctx, "truck_assigned", "Order paired with truck", map[string]any{
		"order_id": pairing.OrderID,
		"truck_id": pairing.TruckID,
		"driver":   pairing.DriverName,
	})
	return nil
}
