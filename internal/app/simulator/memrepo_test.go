package simulator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"mixfleet/internal/app/simulator"
	"mixfleet/internal/domain/orders"
	"mixfleet/internal/domain/trucks"
	"mixfleet/internal/shared/contracts"
)

// In-memory repositories with the same guard semantics as the SQL ones.
// The workflow tests drive real units against these.

type memUOW struct{}

func (memUOW) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memOrders struct {
	mu   sync.Mutex
	rows map[int64]*orders.Order
}

func newMemOrders(rows ...*orders.Order) *memOrders {
	m := &memOrders{rows: make(map[int64]*orders.Order)}
	for _, o := range rows {
		cp := *o
		m.rows[o.ID] = &cp
	}
	return m
}

func (m *memOrders) get(id int64) *orders.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.rows[id]; ok {
		cp := *o
		return &cp
	}
	return nil
}

func (m *memOrders) Create(ctx context.Context, o *orders.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.rows[o.ID] = &cp
	return nil
}

func (m *memOrders) GetByID(ctx context.Context, id int64) (*orders.Order, error) {
	if o := m.get(id); o != nil {
		return o, nil
	}
	return nil, pgx.ErrNoRows
}

func (m *memOrders) List(ctx context.Context, limit int) ([]orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]orders.Order, 0, len(m.rows))
	for _, o := range m.rows {
		out = append(out, *o)
	}
	return out, nil
}

func (m *memOrders) OldestPending(ctx context.Context) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *orders.Order
	for _, o := range m.rows {
		if o.Status != orders.StatusPending {
			continue
		}
		if oldest == nil || o.CreatedAt.Before(oldest.CreatedAt) {
			oldest = o
		}
	}
	if oldest == nil {
		return nil, pgx.ErrNoRows
	}
	cp := *oldest
	return &cp, nil
}

func (m *memOrders) ListPending(ctx context.Context) ([]orders.Order, error) {
	return m.listByStatus(orders.StatusPending), nil
}

func (m *memOrders) ListAssigned(ctx context.Context) ([]orders.Order, error) {
	return m.listByStatus(orders.StatusAssigned), nil
}

func (m *memOrders) listByStatus(st orders.OrderStatus) []orders.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []orders.Order
	for _, o := range m.rows {
		if o.Status == st {
			out = append(out, *o)
		}
	}
	return out
}

func (m *memOrders) AssignCAS(ctx context.Context, orderID, truckID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[orderID]
	if !ok || o.Status != orders.StatusPending {
		return false, nil
	}
	o.Status = orders.StatusAssigned
	o.TruckID = &truckID
	return true, nil
}

func (m *memOrders) UpdateStatusCAS(ctx context.Context, id int64, expected, next orders.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok || o.Status != expected {
		return false, nil
	}
	o.Status = next
	return true, nil
}

func (m *memOrders) CancelCAS(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok || o.Status.Terminal() {
		return false, nil
	}
	o.Status = orders.StatusCancelled
	o.TruckID = nil
	return true, nil
}

type memTrucks struct {
	mu       sync.Mutex
	trucks   map[int64]*trucks.Truck
	statuses map[int64]*trucks.TruckStatus
}

func newMemTrucks(statuses ...*trucks.TruckStatus) *memTrucks {
	m := &memTrucks{
		trucks:   make(map[int64]*trucks.Truck),
		statuses: make(map[int64]*trucks.TruckStatus),
	}
	for _, ts := range statuses {
		cp := *ts
		m.statuses[ts.TruckID] = &cp
		m.trucks[ts.TruckID] = &trucks.Truck{ID: ts.TruckID, DriverName: "Driver"}
	}
	return m
}

func (m *memTrucks) status(truckID int64) *trucks.TruckStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts, ok := m.statuses[truckID]; ok {
		cp := *ts
		return &cp
	}
	return nil
}

func (m *memTrucks) GetTruck(ctx context.Context, id int64) (*trucks.Truck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trucks[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (m *memTrucks) GetStatus(ctx context.Context, truckID int64) (*trucks.TruckStatus, error) {
	if ts := m.status(truckID); ts != nil {
		return ts, nil
	}
	return nil, pgx.ErrNoRows
}

func (m *memTrucks) GetStatusForOrder(ctx context.Context, orderID int64) (*trucks.TruckStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ts := range m.statuses {
		if ts.CurrentOrderID != nil && *ts.CurrentOrderID == orderID {
			cp := *ts
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memTrucks) LowestAvailable(ctx context.Context) (*trucks.Truck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *trucks.Truck
	for id, ts := range m.statuses {
		if ts.Status != trucks.StateAvailable || ts.CurrentOrderID != nil {
			continue
		}
		if best == nil || id < best.ID {
			best = m.trucks[id]
		}
	}
	if best == nil {
		return nil, pgx.ErrNoRows
	}
	cp := *best
	return &cp, nil
}

func (m *memTrucks) ListAvailable(ctx context.Context) ([]trucks.Truck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []trucks.Truck
	for id, ts := range m.statuses {
		if ts.Status == trucks.StateAvailable {
			out = append(out, *m.trucks[id])
		}
	}
	return out, nil
}

func (m *memTrucks) ListInFlight(ctx context.Context) ([]trucks.TruckStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []trucks.TruckStatus
	for _, ts := range m.statuses {
		if ts.Status.InFlight() {
			out = append(out, *ts)
		}
	}
	return out, nil
}

func (m *memTrucks) ListAll(ctx context.Context) ([]trucks.TruckStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]trucks.TruckStatus, 0, len(m.statuses))
	for _, ts := range m.statuses {
		out = append(out, *ts)
	}
	return out, nil
}

func (m *memTrucks) AssignCAS(ctx context.Context, truckID, orderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.statuses[truckID]
	if !ok || ts.Status != trucks.StateAvailable {
		return false, nil
	}
	ts.Status = trucks.StateAssigned
	ts.CurrentOrderID = &orderID
	return true, nil
}

func (m *memTrucks) UpdateStateCAS(ctx context.Context, truckID int64, expected, next trucks.TruckState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.statuses[truckID]
	if !ok || ts.Status != expected {
		return false, nil
	}
	ts.Status = next
	return true, nil
}

func (m *memTrucks) SetState(ctx context.Context, truckID int64, state trucks.TruckState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts, ok := m.statuses[truckID]; ok {
		ts.Status = state
	}
	return nil
}

func (m *memTrucks) Release(ctx context.Context, truckID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts, ok := m.statuses[truckID]; ok {
		ts.Status = trucks.StateAvailable
		ts.CurrentOrderID = nil
	}
	return nil
}

type published struct {
	exchange   string
	routingKey string
	env        contracts.Envelope
}

type memPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *memPublisher) Publish(exchange, routingKey string, body []byte) error {
	env, err := contracts.DecodeEnvelope(body)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{exchange: exchange, routingKey: routingKey, env: env})
	return nil
}

func (p *memPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.routingKey)
	}
	return out
}

// instantSleep makes every simulated phase complete immediately while
// still honoring cancellation.
func instantSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

// waitInactive blocks until the truck's unit has exited.
func waitInactive(t *testing.T, reg *simulator.Registry, truckID int64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !reg.Active(truckID) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("unit for truck %d did not finish", truckID)
}
