package ports

import (
	"context"

	"mixfleet/internal/domain/orders"
	"mixfleet/internal/domain/plants"
	"mixfleet/internal/domain/trucks"
)

// UnitOfWork wraps a function in a DB transaction.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists orders. All status moves are compare-and-swap
// so replayed messages never regress an order.
type OrderRepository interface {
	Create(ctx context.Context, o *orders.Order) error
	GetByID(ctx context.Context, id int64) (*orders.Order, error)
	List(ctx context.Context, limit int) ([]orders.Order, error)
	// OldestPending returns the longest-waiting pending order, or
	// pgx.ErrNoRows when the backlog is empty.
	OldestPending(ctx context.Context) (*orders.Order, error)
	ListPending(ctx context.Context) ([]orders.Order, error)
	ListAssigned(ctx context.Context) ([]orders.Order, error)
	// AssignCAS binds a truck to a pending order. Returns false when the
	// order is no longer pending.
	AssignCAS(ctx context.Context, orderID, truckID int64) (bool, error)
	UpdateStatusCAS(ctx context.Context, id int64, expected, next orders.OrderStatus) (bool, error)
	// CancelCAS moves any non-terminal order to cancelled and clears its
	// truck linkage. Returns false when the order was already terminal.
	CancelCAS(ctx context.Context, id int64) (bool, error)
}

// TruckRepository persists trucks and their 1:1 status rows.
type TruckRepository interface {
	GetTruck(ctx context.Context, id int64) (*trucks.Truck, error)
	GetStatus(ctx context.Context, truckID int64) (*trucks.TruckStatus, error)
	// GetStatusForOrder finds the truck currently bound to an order, or
	// pgx.ErrNoRows when none is.
	GetStatusForOrder(ctx context.Context, orderID int64) (*trucks.TruckStatus, error)
	// LowestAvailable returns the available truck with the smallest id,
	// or pgx.ErrNoRows when the whole fleet is busy.
	LowestAvailable(ctx context.Context) (*trucks.Truck, error)
	ListAvailable(ctx context.Context) ([]trucks.Truck, error)
	ListInFlight(ctx context.Context) ([]trucks.TruckStatus, error)
	ListAll(ctx context.Context) ([]trucks.TruckStatus, error)
	// AssignCAS claims an available truck for an order. Returns false
	// when the truck is no longer available.
	AssignCAS(ctx context.Context, truckID, orderID int64) (bool, error)
	UpdateStateCAS(ctx context.Context, truckID int64, expected, next trucks.TruckState) (bool, error)
	// SetState forces a state without a guard; recovery paths only.
	SetState(ctx context.Context, truckID int64, state trucks.TruckState) error
	// Release returns the truck to available with no current order.
	Release(ctx context.Context, truckID int64) error
}

// PlantRepository persists plants and their material inventories.
type PlantRepository interface {
	GetPlant(ctx context.Context, id int64) (*plants.Plant, error)
	// DefaultPlant returns the lowest-id plant, used when an order does
	// not name one.
	DefaultPlant(ctx context.Context) (*plants.Plant, error)
	GetInventory(ctx context.Context, plantID int64) (*plants.Inventory, error)
	// Deduct removes amount units of every material iff all three stay
	// >= 0. Returns false (and changes nothing) on a shortfall.
	Deduct(ctx context.Context, plantID, amount int64) (bool, error)
}
