package orderservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	service "mixfleet/internal/app/orderservice"
	"mixfleet/internal/shared/config"
	"mixfleet/internal/shared/logger"
	pg "mixfleet/internal/shared/postgres"
	"mixfleet/internal/shared/rabbitmq"
)

// Run wires the order service and blocks until ctx is cancelled.
// It returns the first terminal error (server or startup failure).
func Run(ctx context.Context, port int, maxConcurrent int) error {
	log := logger.NewLogger("order-service")
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
	svc := service.New(uow, pg.NewOrdersRepo(), pg.NewTrucksRepo(), pg.NewPlantsRepo(), pub, log)

	h := service.NewHTTPHandler(svc, log)
	mux := http.NewServeMux()
	h.Register(mux)

	// Concurrency limiter (global), blocks when capacity is full.
	handler := withConcurrencyLimit(maxConcurrent, mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	log.Info(ctx, "service_started",
		fmt.Sprintf("Order service started on port %d", port),
		map[string]any{"port": port, "max_concurrent": maxConcurrent},
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		log.Info(ctx, "graceful_shutdown", "Order service shutdown completed", nil)
		return nil
	case err := <-errCh:
		return err
	}
}

// withConcurrencyLimit wraps an http.Handler with a semaphore-based
// limiter. Blocks until capacity is available, which provides natural
// backpressure.
func withConcurrencyLimit(n int, next http.Handler) http.Handler {
	sem := make(chan struct{}, n)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sem <- struct{}{}
		defer func() { <-sem }()
		next.ServeHTTP(w, r)
	})
}
