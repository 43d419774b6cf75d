package inventory

import (
	"context"

	service "mixfleet/internal/app/inventory"
	"mixfleet/internal/shared/config"
	"mixfleet/internal/shared/logger"
	pg "mixfleet/internal/shared/postgres"
	"mixfleet/internal/shared/rabbitmq"
)

// Run wires the inventory engine and blocks until ctx is cancelled.
func Run(ctx context.Context, prefetch int) error {
	log := logger.NewLogger("inventory-engine")
	ctx = log.WithRequestID(ctx, "startup-001")

	cfg, err := config.LoadFromFile("config/config.yaml")
	if err != nil {
		log.Error(ctx, "config_load_failed", "Failed to load configuration", err)
		return err
	}

	pool, err := pg.NewPool(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err)
		return err
	}
	defer pool.Close()

	rmq, err := rabbitmq.Connect(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err)
		return err
	}
	defer rmq.Close()

	uow := pg.NewUnitOfWork(pool)
	svc := service.New(uow, pg.NewOrdersRepo(), pg.NewPlantsRepo(), log)

	log.Info(ctx, "service_started", "Inventory engine started", map[string]any{
		"prefetch": prefetch,
	})

	rabbitmq.ConsumeLoop(ctx, rmq, log, rabbitmq.InventoryQueue, "inventory-engine", prefetch, svc.HandleMessage)

	log.Info(ctx, "graceful_shutdown", "Inventory engine shutdown completed", nil)
	return nil
}
