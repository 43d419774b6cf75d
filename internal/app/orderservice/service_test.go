package orderservice_test

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mixfleet/internal/app/orderservice"
	"mixfleet/internal/domain/orders"
	"mixfleet/internal/domain/plants"
	"mixfleet/internal/domain/trucks"
	"mixfleet/internal/ports"
	"mixfleet/internal/shared/contracts"
	"mixfleet/internal/shared/logger"
)

type passthroughUOW struct{}

func (passthroughUOW) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type MockOrderRepo struct{ mock.Mock }

func (m *MockOrderRepo) Create(ctx context.Context, o *orders.Order) error {
	args := m.Called(ctx, o)
	if args.Error(0) == nil {
		o.ID = 42
		o.Status = orders.StatusPending
	}
	return args.Error(0)
}

func (m *MockOrderRepo) GetByID(ctx context.Context, id int64) (*orders.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orders.Order), args.Error(1)
}

func (m *MockOrderRepo) List(ctx context.Context, limit int) ([]orders.Order, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]orders.Order), args.Error(1)
}

func (m *MockOrderRepo) OldestPending(ctx context.Context) (*orders.Order, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orders.Order), args.Error(1)
}

func (m *MockOrderRepo) ListPending(ctx context.Context) ([]orders.Order, error) {
	args := m.Called(ctx)
	return args.Get(0).([]orders.Order), args.Error(1)
}

func (m *MockOrderRepo) ListAssigned(ctx context.Context) ([]orders.Order, error) {
	args := m.Called(ctx)
	return args.Get(0).([]orders.Order), args.Error(1)
}

func (m *MockOrderRepo) AssignCAS(ctx context.Context, orderID, truckID int64) (bool, error) {
	args := m.Called(ctx, orderID, truckID)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepo) UpdateStatusCAS(ctx context.Context, id int64, expected, next orders.OrderStatus) (bool, error) {
	args := m.Called(ctx, id, expected, next)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepo) CancelCAS(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

type MockTruckRepo struct{ mock.Mock }

func (m *MockTruckRepo) GetTruck(ctx context.Context, id int64) (*trucks.Truck, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trucks.Truck), args.Error(1)
}

func (m *MockTruckRepo) GetStatus(ctx context.Context, truckID int64) (*trucks.TruckStatus, error) {
	args := m.Called(ctx, truckID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trucks.TruckStatus), args.Error(1)
}

func (m *MockTruckRepo) GetStatusForOrder(ctx context.Context, orderID int64) (*trucks.TruckStatus, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trucks.TruckStatus), args.Error(1)
}

func (m *MockTruckRepo) LowestAvailable(ctx context.Context) (*trucks.Truck, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trucks.Truck), args.Error(1)
}

func (m *MockTruckRepo) ListAvailable(ctx context.Context) ([]trucks.Truck, error) {
	args := m.Called(ctx)
	return args.Get(0).([]trucks.Truck), args.Error(1)
}

func (m *MockTruckRepo) ListInFlight(ctx context.Context) ([]trucks.TruckStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).([]trucks.TruckStatus), args.Error(1)
}

func (m *MockTruckRepo) ListAll(ctx context.Context) ([]trucks.TruckStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).([]trucks.TruckStatus), args.Error(1)
}

func (m *MockTruckRepo) AssignCAS(ctx context.Context, truckID, orderID int64) (bool, error) {
	args := m.Called(ctx, truckID, orderID)
	return args.Bool(0), args.Error(1)
}

func (m *MockTruckRepo) UpdateStateCAS(ctx context.Context, truckID int64, expected, next trucks.TruckState) (bool, error) {
	args := m.Called(ctx, truckID, expected, next)
	return args.Bool(0), args.Error(1)
}

func (m *MockTruckRepo) SetState(ctx context.Context, truckID int64, state trucks.TruckState) error {
	return m.Called(ctx, truckID, state).Error(0)
}

func (m *MockTruckRepo) Release(ctx context.Context, truckID int64) error {
	return m.Called(ctx, truckID).Error(0)
}

type MockPlantRepo struct{ mock.Mock }

func (m *MockPlantRepo) GetPlant(ctx context.Context, id int64) (*plants.Plant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*plants.Plant), args.Error(1)
}

func (m *MockPlantRepo) DefaultPlant(ctx context.Context) (*plants.Plant, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*plants.Plant), args.Error(1)
}

func (m *MockPlantRepo) GetInventory(ctx context.Context, plantID int64) (*plants.Inventory, error) {
	args := m.Called(ctx, plantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*plants.Inventory), args.Error(1)
}

func (m *MockPlantRepo) Deduct(ctx context.Context, plantID, amount int64) (bool, error) {
	args := m.Called(ctx, plantID, amount)
	return args.Bool(0), args.Error(1)
}

type RecordingPublisher struct {
	published []contracts.Envelope
}

func (p *RecordingPublisher) Publish(exchange, routingKey string, body []byte) error {
	env, err := contracts.DecodeEnvelope(body)
	if err != nil {
		return err
	}
	p.published = append(p.published, env)
	return nil
}

type fixture struct {
	orders *MockOrderRepo
	trucks *MockTruckRepo
	plants *MockPlantRepo
	pub    *RecordingPublisher
	svc    *orderservice.Service
}

func newFixture() *fixture {
	f := &fixture{
		orders: new(MockOrderRepo),
		trucks: new(MockTruckRepo),
		plants: new(MockPlantRepo),
		pub:    &RecordingPublisher{},
	}
	f.svc = orderservice.New(passthroughUOW{}, f.orders, f.trucks, f.plants, f.pub, logger.NewLogger("order-test"))
	return f
}

func TestPlaceOrderPublishesCreated(t *testing.T) {
	f := newFixture()
	f.plants.On("DefaultPlant", mock.Anything).Return(&plants.Plant{ID: 1, Name: "Central Plant"}, nil)
	f.orders.On("Create", mock.Anything, mock.Anything).Return(nil)

	order, err := f.svc.PlaceOrder(context.Background(), ports.CreateOrderCommand{
		CustomerName:  "Acme Paving",
		DistanceMiles: 12,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), order.ID)
	assert.Equal(t, orders.StatusPending, order.Status)
	require.NotNil(t, order.PlantID)
	assert.Equal(t, int64(1), *order.PlantID)

	require.Len(t, f.pub.published, 1)
	assert.Equal(t, contracts.KindOrderCreated, f.pub.published[0].Kind)
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newFixture()

	_, err := f.svc.PlaceOrder(context.Background(), ports.CreateOrderCommand{CustomerName: "  ", DistanceMiles: 5})
	assert.Error(t, err)

	_, err = f.svc.PlaceOrder(context.Background(), ports.CreateOrderCommand{CustomerName: strings.Repeat("x", 101), DistanceMiles: 5})
	assert.Error(t, err)

	_, err = f.svc.PlaceOrder(context.Background(), ports.CreateOrderCommand{CustomerName: "Acme", DistanceMiles: 0})
	assert.Error(t, err)

	_, err = f.svc.PlaceOrder(context.Background(), ports.CreateOrderCommand{CustomerName: "Acme", DistanceMiles: 501})
	assert.Error(t, err)

	assert.Empty(t, f.pub.published)
	f.orders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestPlaceOrderUnknownPlantRejected(t *testing.T) {
	f := newFixture()
	plantID := int64(99)
	f.plants.On("GetPlant", mock.Anything, plantID).Return(nil, pgx.ErrNoRows)

	_, err := f.svc.PlaceOrder(context.Background(), ports.CreateOrderCommand{
		CustomerName: "Acme", DistanceMiles: 5, PlantID: &plantID,
	})
	assert.ErrorIs(t, err, orderservice.ErrPlantNotFound)
}

func TestCancelOrderPublishesCancellation(t *testing.T) {
	f := newFixture()
	f.orders.On("GetByID", mock.Anything, int64(7)).Return(&orders.Order{ID: 7, Status: orders.StatusLoading}, nil)
	f.orders.On("CancelCAS", mock.Anything, int64(7)).Return(true, nil)

	require.NoError(t, f.svc.CancelOrder(context.Background(), 7, "site closed"))

	require.Len(t, f.pub.published, 1)
	assert.Equal(t, contracts.KindOrderCancelled, f.pub.published[0].Kind)

	var p contracts.OrderCancelled
	require.NoError(t, f.pub.published[0].DecodePayload(&p))
	assert.Equal(t, "site closed", p.Reason)
}

func TestCancelFinishedOrderRejected(t *testing.T) {
	f := newFixture()
	f.orders.On("GetByID", mock.Anything, int64(7)).Return(&orders.Order{ID: 7, Status: orders.StatusDelivered}, nil)
	f.orders.On("CancelCAS", mock.Anything, int64(7)).Return(false, nil)

	err := f.svc.CancelOrder(context.Background(), 7, "too late")
	assert.ErrorIs(t, err, orderservice.ErrOrderFinished)
	assert.Empty(t, f.pub.published)
}

func TestCancelUnknownOrder(t *testing.T) {
	f := newFixture()
	f.orders.On("GetByID", mock.Anything, int64(7)).Return(nil, pgx.ErrNoRows)

	err := f.svc.CancelOrder(context.Background(), 7, "")
	assert.ErrorIs(t, err, orderservice.ErrOrderNotFound)
}

func TestRequestAssignmentValidatesBothSides(t *testing.T) {
	f := newFixture()
	f.orders.On("GetByID", mock.Anything, int64(7)).Return(&orders.Order{ID: 7, Status: orders.StatusPending}, nil)
	f.trucks.On("GetTruck", mock.Anything, int64(2)).Return(&trucks.Truck{ID: 2, DriverName: "Bruna"}, nil)

	require.NoError(t, f.svc.RequestAssignment(context.Background(), 7, 2))
	require.Len(t, f.pub.published, 1)
	assert.Equal(t, contracts.KindOrderAssignRequest, f.pub.published[0].Kind)
}

func TestRequestAssignmentUnknownTruck(t *testing.T) {
	f := newFixture()
	f.orders.On("GetByID", mock.Anything, int64(7)).Return(&orders.Order{ID: 7, Status: orders.StatusPending}, nil)
	f.trucks.On("GetTruck", mock.Anything, int64(2)).Return(nil, pgx.ErrNoRows)

	err := f.svc.RequestAssignment(context.Background(), 7, 2)
	assert.ErrorIs(t, err, orderservice.ErrTruckNotFound)
	assert.Empty(t, f.pub.published)
}
