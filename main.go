package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smartuniversity/marketplace-service/internal/application/catalog"
	"github.com/smartuniversity/marketplace-service/internal/application/checkout"
	"github.com/smartuniversity/marketplace-service/internal/config"
	"github.com/smartuniversity/marketplace-service/internal/infrastructure/id"
	"github.com/smartuniversity/marketplace-service/internal/infrastructure/memory"
	"github.com/smartuniversity/marketplace-service/internal/infrastructure/notification"
	"github.com/smartuniversity/marketplace-service/internal/infrastructure/observability/oteltrace"
	"github.com/smartuniversity/marketplace-service/internal/infrastructure/observability/prometrics"
	"github.com/smartuniversity/marketplace-service/internal/infrastructure/observability/telemetry"
	"github.com/smartuniversity/marketplace-service/internal/infrastructure/observability/zaplogger"
	"github.com/smartuniversity/marketplace-service/internal/infrastructure/outbox"
	paymenthttp "github.com/smartuniversity/marketplace-service/internal/infrastructure/payment"
	"github.com/smartuniversity/marketplace-service/internal/infrastructure/reconciliation"
	"github.com/smartuniversity/marketplace-service/internal/infrastructure/resilience"
	"github.com/smartuniversity/marketplace-service/internal/observability"
	httppresentation "github.com/smartuniversity/marketplace-service/internal/presentation/http"
)

func main() {
	cfg := config.Load()

	baseLogger := zaplogger.New(
		observability.F("service", cfg.ServiceName),
		observability.F("env", cfg.Env),
	)
	defer func() {
		if s, ok := baseLogger.(interface{ Sync() error }); ok {
			_ = s.Sync()
		}
	}()
	systemLogger := baseLogger.With(observability.F("component", "main"))

	registry := prometrics.New(cfg.ServiceName, "")
	counters := map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: registry.Counter(
			string(observability.MUsecaseRequests),
			"Total number of use case invocations.",
			"use_case", "outcome",
		),
		observability.MHTTPRequests: registry.Counter(
			string(observability.MHTTPRequests),
			"Total number of HTTP requests served.",
			"method", "route", "status",
		),
		observability.MExternalRequests: registry.Counter(
			string(observability.MExternalRequests),
			"Total number of calls to external peers.",
			"peer", "endpoint", "outcome",
		),
		observability.MEventPublishFailures: registry.Counter(
			string(observability.MEventPublishFailures),
			"Count of order event publish failures.",
			"event",
		),
	}
	histograms := map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: registry.Histogram(
			string(observability.MUsecaseDuration),
			"Duration of use case execution in seconds.",
			prometheus.DefBuckets,
			"use_case",
		),
		observability.MHTTPRequestDuration: registry.Histogram(
			string(observability.MHTTPRequestDuration),
			"Duration of HTTP request handling in seconds.",
			prometheus.DefBuckets,
			"method", "route",
		),
		observability.MExternalRequestDuration: registry.Histogram(
			string(observability.MExternalRequestDuration),
			"Duration of calls to external peers in seconds.",
			prometheus.DefBuckets,
			"peer", "endpoint",
		),
	}
	stockConflicts := registry.Counter(
		string(observability.MStockConflicts),
		"Count of stock reservation version conflicts.",
	)
	breakerTransitions := registry.Counter(
		string(observability.MBreakerTransitions),
		"Count of payment circuit breaker state transitions.",
		"state",
	)
	reconcileRetries := registry.Counter(
		string(observability.MReconcileRetries),
		"Count of stock release reconciliation attempts.",
	)

	tel := telemetry.New(
		oteltrace.New(cfg.ServiceName),
		baseLogger,
		counters,
		histograms,
	)

	orderRepo := memory.NewOrderRepository()
	productRepo := memory.NewProductRepository()
	attemptStore := memory.NewAttemptStore()
	stockLedger := memory.NewStockLedger(
		memory.WithReserveAttempts(cfg.StockReserveAttempts),
		memory.WithConflictCounter(stockConflicts),
	)
	idGenerator := id.NewUUIDGenerator()

	paymentClient := paymenthttp.NewClient(
		cfg.PaymentBaseURL,
		cfg.PaymentCallTimeout,
		baseLogger,
		counters[observability.MExternalRequests],
		histograms[observability.MExternalRequestDuration],
	)
	gateway := resilience.NewGuardedGateway(paymentClient, resilience.Config{
		CallTimeout:      cfg.PaymentCallTimeout,
		MaxAttempts:      cfg.PaymentMaxAttempts,
		BackoffBase:      cfg.PaymentBackoffBase,
		FailureThreshold: cfg.PaymentFailureThreshold,
		Cooldown:         cfg.PaymentCooldown,
	}, baseLogger, breakerTransitions)

	bus := outbox.NewBus(baseLogger)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	notifier := notification.New(bus, baseLogger)
	notifier.Start()

	reconciler := reconciliation.NewQueue(stockLedger, baseLogger, reconcileRetries)
	reconciler.Start(context.Background())
	defer reconciler.Stop()

	orchestrator := checkout.NewOrchestrator(
		orderRepo,
		productRepo,
		stockLedger,
		gateway,
		attemptStore,
		bus,
		reconciler,
		idGenerator,
		tel,
	)
	catalogService := catalog.NewService(productRepo, stockLedger, idGenerator, baseLogger)

	handler := httppresentation.NewHandler(orchestrator, catalogService, baseLogger, tel)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		systemLogger.Info("http_server_start",
			observability.F("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error",
				observability.F("error", err.Error()),
			)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error",
			observability.F("error", err.Error()),
		)
	} else {
		systemLogger.Info("http_server_stopped")
	}
}
