package ports

import (
	"context"
	"time"

	"mixfleet/internal/domain/orders"
	"mixfleet/internal/domain/trucks"
)

// Publisher sends a message body to an exchange with a routing key.
type Publisher interface {
	Publish(exchange, routingKey string, body []byte) error
}

// OrderService handles the dashboard-facing order commands.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd CreateOrderCommand) (*orders.Order, error)
	CancelOrder(ctx context.Context, orderID int64, reason string) error
	RequestAssignment(ctx context.Context, orderID, truckID int64) error
	ListOrders(ctx context.Context, limit int) ([]orders.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*orders.Order, error)
}

type CreateOrderCommand struct {
	CustomerName  string
	DistanceMiles float64
	PlantID       *int64
}

// TrackingService serves the live fleet and order views.
type TrackingService interface {
	FleetStatus(ctx context.Context) ([]TruckView, error)
	OrderStatus(ctx context.Context, orderID int64) (*OrderView, error)
}

type TruckView struct {
	TruckID   int64             `json:"truck_id"`
	Status    trucks.TruckState `json:"status"`
	OrderID   *int64            `json:"order_id,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type OrderView struct {
	OrderID   int64              `json:"order_id"`
	Status    orders.OrderStatus `json:"status"`
	TruckID   *int64             `json:"truck_id,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}
