package dispatcher_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mixfleet/internal/app/dispatcher"
	"mixfleet/internal/domain/orders"
	"mixfleet/internal/domain/trucks"
	"mixfleet/internal/shared/contracts"
	"mixfleet/internal/shared/logger"
	"mixfleet/internal/shared/rabbitmq"
)

type passthroughUOW struct{}

func (passthroughUOW) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type MockOrderRepo struct{ mock.Mock }

func (m *MockOrderRepo) Create(ctx context.Context, o *orders.Order) error {
	return m.Called(ctx, o).Error(0)
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

func pendingOrder(id int64) *orders.Order {
	return &orders.Order{ID: id, CustomerName: "Acme Paving", DistanceMiles: 12, Status: orders.StatusPending}
}

func TestAssignOrderPairsLowestAvailableTruck(t *testing.T) {
	ctx := context.Background()
	ordersRepo := new(MockOrderRepo)
	trucksRepo := new(MockTruckRepo)
	pub := &RecordingPublisher{}
	svc := dispatcher.New(passthroughUOW{}, ordersRepo, trucksRepo, pub, logger.NewLogger("dispatcher-test"))

	ordersRepo.On("GetByID", mock.Anything, int64(7)).Return(pendingOrder(7), nil)
	trucksRepo.On("LowestAvailable", mock.Anything).Return(&trucks.Truck{ID: 2, DriverName: "Bruna"}, nil)
	ordersRepo.On("AssignCAS", mock.Anything, int64(7), int64(2)).Return(true, nil)
	trucksRepo.On("AssignCAS", mock.Anything, int64(2), int64(7)).Return(true, nil)

	err := svc.AssignOrder(ctx, 7)
	require.NoError(t, err)

	require.Len(t, pub.published, 1)
	assert.Equal(t, contracts.KindTruckAssigned, pub.published[0].Kind)

	var p contracts.TruckAssigned
	require.NoError(t, pub.published[0].DecodePayload(&p))
	assert.Equal(t, int64(2), p.TruckID)
	assert.Equal(t, int64(7), p.OrderID)
	assert.Equal(t, "Bruna", p.DriverName)

	ordersRepo.AssertExpectations(t)
	trucksRepo.AssertExpectations(t)
}

func TestAssignOrderFleetBusy(t *testing.T) {
	ctx := context.Background()
	ordersRepo := new(MockOrderRepo)
	trucksRepo := new(MockTruckRepo)
	pub := &RecordingPublisher{}
	svc := dispatcher.New(passthroughUOW{}, ordersRepo, trucksRepo, pub, logger.NewLogger("dispatcher-test"))

	ordersRepo.On("GetByID", mock.Anything, int64(7)).Return(pendingOrder(7), nil)
	trucksRepo.On("LowestAvailable", mock.Anything).Return(nil, pgx.ErrNoRows)

	err := svc.AssignOrder(ctx, 7)
	assert.ErrorIs(t, err, dispatcher.ErrNoAvailableTruck)
	assert.Empty(t, pub.published)
}

func TestAssignOrderAlreadyAssignedIsNoop(t *testing.T) {
	ctx := context.Background()
	ordersRepo := new(MockOrderRepo)
	trucksRepo := new(MockTruckRepo)
	pub := &RecordingPublisher{}
	svc := dispatcher.New(passthroughUOW{}, ordersRepo, trucksRepo, pub, logger.NewLogger("dispatcher-test"))

	assigned := pendingOrder(7)
	assigned.Status = orders.StatusAssigned
	ordersRepo.On("GetByID", mock.Anything, int64(7)).Return(assigned, nil)

	// replayed order.created: pairing silently skipped
	err := svc.AssignOrder(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, pub.published)
	trucksRepo.AssertNotCalled(t, "AssignCAS", mock.Anything, mock.Anything, mock.Anything)
}

func TestAssignOrderLostGuardWritesNothing(t *testing.T) {
	ctx := context.Background()
	ordersRepo := new(MockOrderRepo)
	trucksRepo := new(MockTruckRepo)
	pub := &RecordingPublisher{}
	svc := dispatcher.New(passthroughUOW{}, ordersRepo, trucksRepo, pub, logger.NewLogger("dispatcher-test"))

	ordersRepo.On("GetByID", mock.Anything, int64(7)).Return(pendingOrder(7), nil)
	trucksRepo.On("LowestAvailable", mock.Anything).Return(&trucks.Truck{ID: 2, DriverName: "Bruna"}, nil)
	ordersRepo.On("AssignCAS", mock.Anything, int64(7), int64(2)).Return(false, nil)

	err := svc.AssignOrder(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, pub.published)
}

func TestAssignToTruckEmptyBacklog(t *testing.T) {
	ctx := context.Background()
	ordersRepo := new(MockOrderRepo)
	trucksRepo := new(MockTruckRepo)
	pub := &RecordingPublisher{}
	svc := dispatcher.New(passthroughUOW{}, ordersRepo, trucksRepo, pub, logger.NewLogger("dispatcher-test"))

	ordersRepo.On("OldestPending", mock.Anything).Return(nil, pgx.ErrNoRows)

	err := svc.AssignToTruck(ctx, 3)
	assert.ErrorIs(t, err, dispatcher.ErrNoPendingOrder)
}

func TestReconcileDrainsBacklogUntilFleetBusy(t *testing.T) {
	ctx := context.Background()
	ordersRepo := new(MockOrderRepo)
	trucksRepo := new(MockTruckRepo)
	pub := &RecordingPublisher{}
	svc := dispatcher.New(passthroughUOW{}, ordersRepo, trucksRepo, pub, logger.NewLogger("dispatcher-test"))

	ordersRepo.On("OldestPending", mock.Anything).Return(pendingOrder(10), nil).Once()
	trucksRepo.On("LowestAvailable", mock.Anything).Return(&trucks.Truck{ID: 1, DriverName: "Aldo"}, nil).Once()
	ordersRepo.On("AssignCAS", mock.Anything, int64(10), int64(1)).Return(true, nil).Once()
	trucksRepo.On("AssignCAS", mock.Anything, int64(1), int64(10)).Return(true, nil).Once()

	ordersRepo.On("OldestPending", mock.Anything).Return(pendingOrder(11), nil).Once()
	trucksRepo.On("LowestAvailable", mock.Anything).Return(nil, pgx.ErrNoRows).Once()

	count, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Len(t, pub.published, 1)
}

func TestHandleMessageUnknownKindDropped(t *testing.T) {
	ctx := context.Background()
	svc := dispatcher.New(passthroughUOW{}, new(MockOrderRepo), new(MockTruckRepo), &RecordingPublisher{}, logger.NewLogger("dispatcher-test"))

	body, err := contracts.Encode("order.exploded", map[string]any{})
	require.NoError(t, err)

	err = svc.HandleMessage(ctx, body)
	assert.ErrorIs(t, err, rabbitmq.ErrDrop)
}
