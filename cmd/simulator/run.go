package simulator

import (
	"context"
	"sync"

	service "mixfleet/internal/app/simulator"
	"mixfleet/internal/domain/trucks"
	"mixfleet/internal/jobs"
	"mixfleet/internal/shared/config"
	"mixfleet/internal/shared/logger"
	pg "mixfleet/internal/shared/postgres"
	"mixfleet/internal/shared/rabbitmq"
)

// Run wires the truck simulator and blocks until ctx is cancelled.
// speedFactor overrides the configured value when > 0.
func Run(ctx context.Context, speedFactor float64, recoveryInterval, prefetch int) error {
	log := logger.NewLogger("simulator")
	ctx = log.WithRequestID(ctx, "startup-001")

	cfg, err := config.LoadFromFile("config/config.yaml")
	if err != nil {
		log.Error(ctx, "config_load_failed", "Failed to load configuration", err)
		return err
	}
	if speedFactor > 0 {
		cfg.Simulation.SpeedFactor = speedFactor
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
	durations := trucks.NewDurations(cfg.Simulation.SpeedFactor)
	svc := service.New(ctx, uow, pg.NewOrdersRepo(), pg.NewTrucksRepo(), pub, durations, nil, log)

	recovery := jobs.NewRecoverySweepJob(svc, log)
	if err := recovery.Start(ctx, recoveryInterval); err != nil {
		log.Error(ctx, "recovery_start_failed", "Failed to schedule recovery sweep", err)
		return err
	}
	defer recovery.Stop()

	log.Info(ctx, "service_started", "Simulator started", map[string]any{
		"speed_factor":      cfg.Simulation.SpeedFactor,
		"recovery_interval": recoveryInterval,
		"prefetch":          prefetch,
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		rabbitmq.ConsumeLoop(ctx, rmq, log, rabbitmq.SimulatorQueue, "simulator", prefetch, svc.HandleAssigned)
	}()
	go func() {
		defer wg.Done()
		rabbitmq.ConsumeLoop(ctx, rmq, log, rabbitmq.CancelQueue, "simulator-cancel", prefetch, svc.HandleCancelled)
	}()
	wg.Wait()

	// let in-flight workflow units observe the cancel and persist
	svc.Shutdown()
	log.Info(ctx, "graceful_shutdown", "Simulator shutdown completed", nil)
	return nil
}
