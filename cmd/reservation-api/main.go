package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/config"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/logging"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/metrics"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/resilience"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/types"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/api"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/application"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/domain"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/expiry"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/idempotency"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/infrastructure/eventbus"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/infrastructure/inventory"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/infrastructure/memory"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/infrastructure/postgres"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/outbox"
)

// leaseTimeout bounds how long a crashed drainer can strand PROCESSING rows.
const leaseTimeout = 30 * time.Second

// dataStore is the composed persistence interface the service needs.
type dataStore interface {
	domain.AtomicExecutor
	domain.Repositories
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	startupCtx := logging.WithTraceID(context.Background(), types.NewTraceID())

	logging.InfoContext(startupCtx, "Starting reservation API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"log_level", cfg.LogLevel,
	)

	// Persistence. An empty DATABASE_URL selects the in-memory datastore,
	// which is only meant for local development.
	var (
		store dataStore
		ready func(context.Context) error
	)
	if cfg.DatabaseURL == "" {
		logging.WarnContext(startupCtx, "No database configured, using in-memory datastore")
		store = memory.NewDataStore()
		ready = func(context.Context) error { return nil }
	} else {
		pool, err := cfg.NewPostgresPool(startupCtx)
		if err != nil {
			logging.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		pg := postgres.NewDataStore(pool)
		store = pg
		ready = pg.Ping
	}

	// Event bus sink for the outbox drainer.
	var sink outbox.Sink
	if cfg.AMQPURL == "" {
		logging.WarnContext(startupCtx, "No AMQP broker configured, events go to the log")
		sink = eventbus.NewLogPublisher()
	} else {
		publisher, err := eventbus.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logging.Error("Failed to connect to event bus", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		sink = publisher
	}

	inventoryClient := inventory.NewClient(inventory.Config{
		BaseURL:     cfg.InventoryBaseURL,
		CallTimeout: cfg.InventoryDeadline(),
		Breaker: resilience.BreakerConfig{
			Name:           "inventory",
			FailureRate:    cfg.CBFailureRate,
			WindowSize:     uint32(cfg.CBWindowSize),
			OpenDuration:   cfg.CBOpenDuration(),
			HalfOpenProbes: uint32(cfg.CBHalfOpenProbes),
		},
	})

	idem := idempotency.NewManager(store.IdempotencyKeys(), cfg.IdempotencyTTL())

	// Expiry: Redis timer when configured, sweeper backstop always.
	redisClient, err := cfg.NewRedisClient(startupCtx)
	if err != nil {
		logging.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	var scheduler application.ExpiryScheduler = expiry.NopScheduler{}
	if redisClient != nil {
		defer redisClient.Close()
		scheduler = expiry.NewRedisScheduler(redisClient)
	} else {
		logging.WarnContext(startupCtx, "No Redis configured, expiry relies on the sweeper alone")
	}

	service := application.NewReservationService(store, inventoryClient, idem, scheduler, cfg.HoldDuration())

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	if redisClient != nil {
		poller := expiry.NewTimerPoller(redisClient, service, cfg.ExpiryTimerPoll())
		go poller.Run(workerCtx)
	}

	sweeper := expiry.NewSweeper(service, cfg.SweeperInterval())
	go sweeper.Run(workerCtx)

	drainer := outbox.NewDrainer(store.Outbox(), sink, outbox.Config{
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
		BackoffBase:  cfg.OutboxBackoffBase(),
		BackoffCap:   cfg.OutboxBackoffCap(),
		PollInterval: cfg.OutboxPollInterval(),
		LeaseTimeout: leaseTimeout,
	})
	go drainer.Run(workerCtx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("GET /readyz", readyHandler(ready))
	mux.Handle("GET /metrics", metrics.Handler())

	handler := api.NewHandler(service)
	handler.RegisterRoutes(mux)

	logging.InfoContext(startupCtx, "Reservation context initialized")

	// Middleware chain: metrics -> request context -> handler
	root := metrics.Middleware(api.RequestContext(cfg.RequestDeadline())(mux))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logging.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down server")
	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logging.Info("Server stopped")
}

// healthHandler returns basic liveness.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// readyHandler reports readiness by probing the datastore.
func readyHandler(ready func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "not ready",
			})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ready",
		})
	}
}
