package trucks

import "time"

// Truck is a fleet vehicle. Immutable after creation; its mutable state
// lives in TruckStatus (1:1).
type Truck struct {
	ID         int64
	DriverName string
	CreatedAt  time.Time
}

// TruckStatus tracks where a truck is in its delivery cycle.
// CurrentOrderID is non-nil iff Status != StateAvailable.
type TruckStatus struct {
	ID             int64
	TruckID        int64
	Status         TruckState
	CurrentOrderID *int64
	UpdatedAt      time.Time
}
