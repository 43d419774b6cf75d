package tracker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	service "mixfleet/internal/app/tracker"
	"mixfleet/internal/shared/config"
	"mixfleet/internal/shared/logger"
	pg "mixfleet/internal/shared/postgres"
	"mixfleet/internal/shared/rabbitmq"
)

// Run wires the tracker and blocks until ctx is cancelled. It consumes
// the full event stream into Redis and serves the live views over HTTP.
func Run(ctx context.Context, port, prefetch int) error {
	log := logger.NewLogger("tracker")
	ctx = log.WithRequestID(ctx, "startup-001")
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

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

	// the tracker degrades to DB-only reads when Redis is down
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr()})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn(ctx, "redis_unavailable", "Redis not reachable, serving views from the database", map[string]any{
			"addr": cfg.RedisAddr(), "error": err.Error(),
		})
	} else {
		log.Info(ctx, "redis_connected", "Connected to Redis", map[string]any{"addr": cfg.RedisAddr()})
	}
	store := service.NewStore(redisClient)

	uow := pg.NewUnitOfWork(pool)
	svc := service.New(uow, pg.NewOrdersRepo(), pg.NewTrucksRepo(), store, log)

	h := service.NewHandler(log, svc,
		service.PingerFunc(pool.Ping),
		service.PingerFunc(func(context.Context) error { return rmq.Ping(2 * time.Second) }),
	)
	mux := http.NewServeMux()
	h.Register(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	log.Info(ctx, "service_started",
		fmt.Sprintf("Tracker started on port %d", port),
		map[string]any{"port": port, "prefetch": prefetch},
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		rabbitmq.ConsumeLoop(ctx, rmq, log, rabbitmq.CompletionQueue, "tracker-completion", prefetch, svc.HandleCompletion)
	}()
	go func() {
		defer wg.Done()
		rabbitmq.ConsumeLoop(ctx, rmq, log, rabbitmq.TrackingQueue, "tracker-events", prefetch, svc.HandleEvent)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	var retErr error
	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	case err := <-errCh:
		retErr = err
	}

	cancel()
	wg.Wait()
	log.Info(ctx, "graceful_shutdown", "Tracker shutdown completed", nil)
	return retErr
}
