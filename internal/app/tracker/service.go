package tracker

import (
	"context"
	"errors"
	"sort"

	"github.com/jackc/pgx/v5"

	"mixfleet/internal/domain/orders"
	"mixfleet/internal/domain/trucks"
	"mixfleet/internal/ports"
	"mixfleet/internal/shared/logger"
)

var ErrOrderNotFound = errors.New("tracker: order not found")

// Service serves the live fleet and order views. Reads prefer the Redis
// cache fed by the event stream; the database is the fallback so the
// views survive a cold cache or a Redis outage.
type Service struct {
	uow        ports.UnitOfWork
	ordersRepo ports.OrderRepository
	trucksRepo ports.TruckRepository
	store      *Store
	logger     *logger.Logger
}

func New(uow ports.UnitOfWork, ordersRepo ports.OrderRepository, trucksRepo ports.TruckRepository, store *Store, log *logger.Logger) *Service {
	return &Service{
		uow:        uow,
		ordersRepo: ordersRepo,
		trucksRepo: trucksRepo,
		store:      store,
		logger:     log,
	}
}

// FleetStatus returns one view per truck, lowest id first.
func (s *Service) FleetStatus(ctx context.Context) ([]ports.TruckView, error) {
	if views, ok := s.fleetFromCache(ctx); ok {
		return views, nil
	}
	return s.fleetFromDB(ctx)
}

func (s *Service) fleetFromCache(ctx context.Context) ([]ports.TruckView, bool) {
	if s.store == nil {
		return nil, false
	}
	ids, err := s.store.AllTruckIDs(ctx)
	if err != nil || len(ids) == 0 {
		return nil, false
	}
	views := make([]ports.TruckView, 0, len(ids))
	for _, id := range ids {
		view, err := s.store.GetTruck(ctx, id)
		if err != nil {
			return nil, false
		}
		if view == nil {
			continue
		}
		views = append(views, *view)
	}
	if len(views) == 0 {
		return nil, false
	}
	sort.Slice(views, func(i, j int) bool { return views[i].TruckID < views[j].TruckID })
	return views, true
}

func (s *Service) fleetFromDB(ctx context.Context) ([]ports.TruckView, error) {
	var statuses []trucks.TruckStatus
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		statuses, err = s.trucksRepo.ListAll(txCtx)
		return err
	})
	if err != nil {
		return nil, err
	}

	views := make([]ports.TruckView, 0, len(statuses))
	for _, ts := range statuses {
		view := ports.TruckView{
			TruckID:   ts.TruckID,
			Status:    ts.Status,
			OrderID:   ts.CurrentOrderID,
			UpdatedAt: ts.UpdatedAt,
		}
		views = append(views, view)
		if s.store != nil {
			if err := s.store.SetTruck(ctx, view); err != nil {
				s.logger.Debug(ctx, "cache_backfill_failed", "Could not backfill truck view", map[string]any{
					"truck_id": view.TruckID, "error": err.Error(),
				})
			}
		}
	}
	return views, nil
}

// OrderStatus returns the live view for one order.
func (s *Service) OrderStatus(ctx context.Context, orderID int64) (*ports.OrderView, error) {
	if s.store != nil {
		if view, err := s.store.GetOrder(ctx, orderID); err == nil && view != nil {
			return view, nil
		}
	}

	var order *orders.Order
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.ordersRepo.GetByID(txCtx, orderID)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	view := &ports.OrderView{
		OrderID:   order.ID,
		Status:    order.Status,
		TruckID:   order.TruckID,
		UpdatedAt: order.UpdatedAt,
	}
	if s.store != nil {
		if err := s.store.SetOrder(ctx, *view); err != nil {
			s.logger.Debug(ctx, "cache_backfill_failed", "Could not backfill order view", map[string]any{
				"order_id": view.OrderID, "error": err.Error(),
			})
		}
	}
	return view, nil
}
