package plants

import "time"

// Plant is a batch plant trucks load at. Static reference data.
type Plant struct {
	ID   int64
	Name string
}

// Inventory is the per-plant raw material stock, 1:1 with Plant.
// Quantities never go negative; a deduction that would cross zero is
// rejected by the store, not clamped.
type Inventory struct {
	ID               int64
	PlantID          int64
	SandQuantity     int64
	GravelQuantity   int64
	ConcreteQuantity int64
	UpdatedAt        time.Time
}

// CanDeduct reports whether amount units of every material are on hand.
func (inv *Inventory) CanDeduct(amount int64) bool {
	return inv.SandQuantity >= amount &&
		inv.GravelQuantity >= amount &&
		inv.ConcreteQuantity >= amount
}
