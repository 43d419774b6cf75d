package dispatcher

import (
	"context"

	service "mixfleet/internal/app/dispatcher"
	"mixfleet/internal/jobs"
	"mixfleet/internal/shared/config"
	"mixfleet/internal/shared/logger"
	pg "mixfleet/internal/shared/postgres"
	"mixfleet/internal/shared/rabbitmq"
)

// Run wires the dispatcher and blocks until ctx is cancelled.
func Run(ctx context.Context, sweepInterval, prefetch int) error {
	log := logger.NewLogger("dispatcher")
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
	pub := &rabbitmq.MQPublisher{Client: rmq}
	svc := service.New(uow, pg.NewOrdersRepo(), pg.NewTrucksRepo(), pub, log)

	sweep := jobs.NewAssignmentSweepJob(svc, log)
	if err := sweep.Start(ctx, sweepInterval); err != nil {
		log.Error(ctx, "sweep_start_failed", "Failed to schedule assignment sweep", err)
		return err
	}
	defer sweep.Stop()

	log.Info(ctx, "service_started", "Dispatcher started", map[string]any{
		"sweep_interval": sweepInterval,
		"prefetch":       prefetch,
	})

	rabbitmq.ConsumeLoop(ctx, rmq, log, rabbitmq.DispatchQueue, "dispatcher", prefetch, svc.HandleMessage)

	log.Info(ctx, "graceful_shutdown", "Dispatcher shutdown completed", nil)
	return nil
}
