package inventory_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mixfleet/internal/app/inventory"
	"mixfleet/internal/domain/orders"
	"mixfleet/internal/domain/plants"
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

func i64(v int64) *int64 { return &v }

func loadingEvent(t *testing.T, truckID int64, orderID *int64) []byte {
	t.Helper()
	body, err := contracts.Encode(contracts.KindTruckStatusChanged, contracts.TruckStatusChanged{
		TruckID: truckID, OrderID: orderID, OldStatus: "assigned", NewStatus: "loading",
	})
	require.NoError(t, err)
	return body
}

func TestDeductOnLoading(t *testing.T) {
	ctx := context.Background()
	ordersRepo := new(MockOrderRepo)
	plantsRepo := new(MockPlantRepo)
	svc := inventory.New(passthroughUOW{}, ordersRepo, plantsRepo, logger.NewLogger("inventory-test"))

	ordersRepo.On("GetByID", mock.Anything, int64(5)).
		Return(&orders.Order{ID: 5, Status: orders.StatusLoading, PlantID: i64(3)}, nil)
	plantsRepo.On("Deduct", mock.Anything, int64(3), inventory.YardsPerLoad).Return(true, nil)

	err := svc.HandleMessage(ctx, loadingEvent(t, 1, i64(5)))
	require.NoError(t, err)
	plantsRepo.AssertExpectations(t)
}

func TestShortfallSkipsDeductionAndAcks(t *testing.T) {
	ctx := context.Background()
	ordersRepo := new(MockOrderRepo)
	plantsRepo := new(MockPlantRepo)
	svc := inventory.New(passthroughUOW{}, ordersRepo, plantsRepo, logger.NewLogger("inventory-test"))

	ordersRepo.On("GetByID", mock.Anything, int64(5)).
		Return(&orders.Order{ID: 5, Status: orders.StatusLoading, PlantID: i64(3)}, nil)
	plantsRepo.On("Deduct", mock.Anything, int64(3), inventory.YardsPerLoad).Return(false, nil)

	// a shortfall is logged but never blocks the workflow
	err := svc.HandleMessage(ctx, loadingEvent(t, 1, i64(5)))
	assert.NoError(t, err)
}

func TestOrderWithoutPlantUsesDefault(t *testing.T) {
	ctx := context.Background()
	ordersRepo := new(MockOrderRepo)
	plantsRepo := new(MockPlantRepo)
	svc := inventory.New(passthroughUOW{}, ordersRepo, plantsRepo, logger.NewLogger("inventory-test"))

	ordersRepo.On("GetByID", mock.Anything, int64(5)).
		Return(&orders.Order{ID: 5, Status: orders.StatusLoading}, nil)
	plantsRepo.On("DefaultPlant", mock.Anything).Return(&plants.Plant{ID: 1, Name: "Central Plant"}, nil)
	plantsRepo.On("Deduct", mock.Anything, int64(1), inventory.YardsPerLoad).Return(true, nil)

	err := svc.HandleMessage(ctx, loadingEvent(t, 1, i64(5)))
	require.NoError(t, err)
	plantsRepo.AssertExpectations(t)
}

func TestVanishedOrderAcks(t *testing.T) {
	ctx := context.Background()
	ordersRepo := new(MockOrderRepo)
	plantsRepo := new(MockPlantRepo)
	svc := inventory.New(passthroughUOW{}, ordersRepo, plantsRepo, logger.NewLogger("inventory-test"))

	ordersRepo.On("GetByID", mock.Anything, int64(5)).Return(nil, pgx.ErrNoRows)

	err := svc.HandleMessage(ctx, loadingEvent(t, 1, i64(5)))
	assert.NoError(t, err)
	plantsRepo.AssertNotCalled(t, "Deduct", mock.Anything, mock.Anything, mock.Anything)
}

func TestNonLoadingStatusIgnored(t *testing.T) {
	ctx := context.Background()
	svc := inventory.New(passthroughUOW{}, new(MockOrderRepo), new(MockPlantRepo), logger.NewLogger("inventory-test"))

	body, err := contracts.Encode(contracts.KindTruckStatusChanged, contracts.TruckStatusChanged{
		TruckID: 1, OrderID: i64(5), OldStatus: "loading", NewStatus: "en_route",
	})
	require.NoError(t, err)
	assert.NoError(t, svc.HandleMessage(ctx, body))
}

func TestMalformedMessageDropped(t *testing.T) {
	ctx := context.Background()
	svc := inventory.New(passthroughUOW{}, new(MockOrderRepo), new(MockPlantRepo), logger.NewLogger("inventory-test"))

	err := svc.HandleMessage(ctx, []byte("{not json"))
	assert.ErrorIs(t, err, rabbitmq.ErrDrop)
}
