package orders

import "time"

// Order represents a customer's request for a concrete delivery at a
// given distance from a plant.
type Order struct {
	ID            int64
	CustomerName  string
	DistanceMiles float64
	Status        OrderStatus
	PlantID       *int64
	TruckID       *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Assignable reports whether the order can still be paired with a truck.
func (o *Order) Assignable() bool {
	return o.Status == StatusPending
}
