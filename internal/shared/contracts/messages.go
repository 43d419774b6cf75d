package contracts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message kinds. The kind doubles as the routing key on the owning
// exchange, except truck status changes which append the new state
// (e.g. "truck.status_changed.loading") so consumers can bind to a
// single state.
const (
	KindOrderCreated       = "order.created"
	KindOrderCancelled     = "order.cancelled"
	KindOrderAssignRequest = "order.assign_request"
	KindOrderDelivered     = "order.delivered"

	KindTruckAssigned      = "truck.assigned"
	KindTruckStatusChanged = "truck.status_changed"
	KindMaterialsLoaded    = "truck.materials_loaded"
	KindArrivedAtJobSite   = "truck.arrived"
	KindPouringCompleted   = "truck.pouring_completed"
	KindReturnedToPlant    = "truck.returned"
	KindWashCompleted      = "truck.wash_completed"
	KindTruckIdle          = "truck.idle"
	KindReturnToPlant      = "truck.return_to_plant"
)

// Envelope is the wire frame every message travels in. The payload is
// decoded lazily by kind on the consumer side.
type Envelope struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a payload struct in an Envelope with a fresh id.
func NewEnvelope(kind string, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Envelope{
		ID:        uuid.NewString(),
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
		Payload:   body,
	}, nil
}

// DecodeEnvelope parses an envelope off the wire and checks its frame.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Kind == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing kind")
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into dst.
func (e Envelope) DecodePayload(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// --- Order lifecycle payloads (orders_topic) ---

type OrderCreated struct {
	OrderID       int64   `json:"order_id"`
	CustomerName  string  `json:"customer_name"`
	DistanceMiles float64 `json:"distance_miles"`
	PlantID       *int64  `json:"plant_id,omitempty"`
}

type OrderCancelled struct {
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}

// OrderAssignRequest is the dashboard's manual override: pin a specific
// truck to a specific order instead of first-available matching.
type OrderAssignRequest struct {
	OrderID int64 `json:"order_id"`
	TruckID int64 `json:"truck_id"`
}

type OrderDelivered struct {
	OrderID int64 `json:"order_id"`
	TruckID int64 `json:"truck_id"`
}

// --- Truck lifecycle payloads (trucks_topic) ---

type TruckAssigned struct {
	TruckID    int64  `json:"truck_id"`
	OrderID    int64  `json:"order_id"`
	DriverName string `json:"driver_name"`
}

type TruckStatusChanged struct {
	TruckID   int64  `json:"truck_id"`
	OrderID   *int64 `json:"order_id,omitempty"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

type MaterialsLoaded struct {
	TruckID int64  `json:"truck_id"`
	OrderID int64  `json:"order_id"`
	PlantID *int64 `json:"plant_id,omitempty"`
}

type ArrivedAtJobSite struct {
	TruckID int64 `json:"truck_id"`
	OrderID int64 `json:"order_id"`
}

type PouringCompleted struct {
	TruckID     int64   `json:"truck_id"`
	OrderID     int64   `json:"order_id"`
	PouredYards float64 `json:"poured_yards"`
}

type ReturnedToPlant struct {
	TruckID int64 `json:"truck_id"`
	OrderID int64 `json:"order_id"`
}

type WashCompleted struct {
	TruckID int64 `json:"truck_id"`
	OrderID int64 `json:"order_id"`
}

type TruckIdle struct {
	TruckID int64 `json:"truck_id"`
}

// ReturnToPlant is emitted by the cancellation handler when an in-flight
// truck is redirected home without delivering.
type ReturnToPlant struct {
	TruckID int64 `json:"truck_id"`
	OrderID int64 `json:"order_id"`
}
