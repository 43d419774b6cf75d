package simulator

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

// Service owns the truck workflow state machine: one cancellable unit
// per truck, driven by truck.assigned messages and recovered from
// persisted state after crashes.
type Service struct {
	uow        ports.UnitOfWork
	ordersRepo ports.OrderRepository
	trucksRepo ports.TruckRepository
	publisher  ports.Publisher
	registry   *Registry
	durations  trucks.Durations
	sleep      Sleeper
	logger     *logger.Logger

	// root is the parent context for every unit; shutdown cancels it
	root context.Context
}

// New creates the simulator service. Units spawned later inherit root.
func New(
	root context.Context,
	uow ports.UnitOfWork,
	ordersRepo ports.OrderRepository,
	trucksRepo ports.TruckRepository,
	publisher ports.Publisher,
	durations trucks.Durations,
	sleep Sleeper,
	logger *logger.Logger,
) *Service {
	if sleep == nil {
		sleep = SleepWithContext
	}
	return &Service{
		uow:        uow,
		ordersRepo: ordersRepo,
		trucksRepo: trucksRepo,
		publisher:  publisher,
		registry:   NewRegistry(),
		durations:  durations,
		sleep:      sleep,
		logger:     logger,
		root:       root,
	}
}

// Registry exposes the active-unit registry (tests, recovery sweep).
func (s *Service) Registry() *Registry { return s.registry }

// Shutdown cancels all active units and waits for them to exit.
func (s *Service) Shutdown() { s.registry.Shutdown() }

// HandleAssigned consumes simulator_queue: start the delivery workflow
// for a freshly assigned truck. A duplicate delivery of the same
// message finds the unit already registered and acks quietly.
func (s *Service) HandleAssigned(ctx context.Context, body []byte) error {
	env, err := contracts.DecodeEnvelope(body)
	if err != nil {
		return fmt.Errorf("%w: %v", rabbitmq.ErrDrop, err)
	}
	if env.Kind != contracts.KindTruckAssigned {
		return fmt.Errorf("%w: unexpected kind %s", rabbitmq.ErrDrop, env.Kind)
	}

	var p contracts.TruckAssigned
	if err := env.DecodePayload(&p); err != nil {
		return fmt.Errorf("%w: %v", rabbitmq.ErrDrop, err)
	}

	if !s.StartDelivery(p.TruckID, p.OrderID) {
		s.logger.Debug(ctx, "unit_already_active", "Workflow already running for truck", map[string]any{
			"truck_id": p.TruckID,
		})
	}
	return nil
}

// StartDelivery launches the full workflow for a truck/order pair.
// Returns false when the truck already has an active unit.
func (s *Service) StartDelivery(truckID, orderID int64) bool {
	return s.registry.Start(s.root, truckID, func(ctx context.Context) {
		w, err := s.loadRun(ctx, truckID, orderID)
		if err != nil {
			s.logger.Warn(ctx, "workflow_not_started", "Delivery unit could not load state", map[string]any{
				"truck_id": truckID, "order_id": orderID, "reason": err.Error(),
			})
			return
		}
		if w.truckState != trucks.StateAssigned || w.orderStatus != orders.StatusAssigned {
			// replayed or late message; persisted state has moved on
			s.logger.Debug(ctx, "workflow_skip_stale", "Truck/order no longer in assigned state", map[string]any{
				"truck_id": truckID, "truck_state": string(w.truckState), "order_status": string(w.orderStatus),
			})
			return
		}
		s.logger.Info(ctx, "workflow_started", "Delivery workflow started", map[string]any{
			"truck_id": truckID, "order_id": orderID, "distance": w.distance,
		})
		s.runFrom(ctx, w, trucks.StateLoading)
	})
}

// Resume restarts a stuck truck at the phase after its persisted one.
// Used by the recovery sweeps; the completed phase is not replayed.
func (s *Service) Resume(truckID int64) bool {
	return s.registry.Start(s.root, truckID, func(ctx context.Context) {
		ts, err := s.getStatus(ctx, truckID)
		if err != nil {
			s.logger.Error(ctx, "resume_failed", "Could not load truck status", err)
			return
		}
		if ts.CurrentOrderID == nil || !ts.Status.InFlight() {
			// scanned state changed before the unit started
			return
		}

		w, err := s.loadRun(ctx, truckID, *ts.CurrentOrderID)
		if err != nil {
			s.logger.Error(ctx, "resume_failed", "Could not load order for stuck truck", err)
			return
		}

		if w.cancelled {
			// the order died while the truck was mid-cycle; converge to
			// available through the cancellation tail
			s.logger.Info(ctx, "resume_cancelled_order", "Resuming stuck truck of a cancelled order", map[string]any{
				"truck_id": truckID, "order_id": w.orderID, "state": string(w.truckState),
			})
			s.runTail(ctx, w)
			return
		}

		s.logger.Info(ctx, "workflow_resumed", "Resuming stuck truck at next phase", map[string]any{
			"truck_id": truckID, "order_id": w.orderID, "persisted": string(w.truckState),
		})
		next, ok := trucks.NextState(w.truckState)
		if !ok {
			s.complete(ctx, w)
			return
		}
		s.runFrom(ctx, w, next)
	})
}

// loadRun fetches the truck status and order backing one unit. The
// cancelled flag is set when the order is already terminal.
func (s *Service) loadRun(ctx context.Context, truckID, orderID int64) (*run, error) {
	var w *run
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		ts, err := s.trucksRepo.GetStatus(txCtx, truckID)
		if err != nil {
			return fmt.Errorf("load truck %d status: %w", truckID, err)
		}
		if ts.CurrentOrderID == nil || *ts.CurrentOrderID != orderID {
			return fmt.Errorf("truck %d not bound to order %d", truckID, orderID)
		}

		order, err := s.ordersRepo.GetByID(txCtx, orderID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("order %d missing", orderID)
			}
			return err
		}

		w = &run{
			truckID:     truckID,
			orderID:     orderID,
			plantID:     order.PlantID,
			distance:    order.DistanceMiles,
			truckState:  ts.Status,
			orderStatus: order.Status,
			cancelled:   order.Status.Terminal(),
		}
		return nil
	})
	return w, err
}

// getStatus reads one truck status row in its own short tx.
func (s *Service) getStatus(ctx context.Context, truckID int64) (*trucks.TruckStatus, error) {
	var ts *trucks.TruckStatus
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		ts, err = s.trucksRepo.GetStatus(txCtx, truckID)
		return err
	})
	return ts, err
}
