package orders

// OrderStatus is the closed set of states an order moves through.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusAssigned   OrderStatus = "assigned"
	StatusLoading    OrderStatus = "loading"
	StatusInTransit  OrderStatus = "in_transit"
	StatusDelivering OrderStatus = "delivering"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

// Allowed forward transitions. Cancellation is handled separately since
// it is reachable from every non-terminal state.
var allowed = map[OrderStatus]map[OrderStatus]bool{
	StatusPending:    {StatusAssigned: true},
	StatusAssigned:   {StatusLoading: true},
	StatusLoading:    {StatusInTransit: true},
	StatusInTransit:  {StatusDelivering: true},
	StatusDelivering: {StatusDelivered: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

// CanTransition checks whether from->to is a legal move.
func CanTransition(from, to OrderStatus) bool {
	if to == StatusCancelled {
		return !from.Terminal()
	}
	nexts := allowed[from]
	return nexts != nil && nexts[to]
}

// Terminal reports whether the status is an end state.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusLoading, StatusInTransit,
		StatusDelivering, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}
