// Package app wires the settlement pipeline together: database, gateway,
// notification transport, domain services, and the HTTP server.
package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/gateway/paystack"
	"github.com/xenking/storefront-checkout/internal/handler"
	"github.com/xenking/storefront-checkout/internal/notify"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
	"github.com/xenking/storefront-checkout/pkg/health"
	"github.com/xenking/storefront-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pricing, err := cfg.Pricing.Parse()
	if err != nil {
		return errors.Wrap(err, "parse pricing config")
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)

	// Notification transport. No brokers configured means events are dropped,
	// which keeps local development free of a Kafka dependency.
	var events notify.Dispatcher = notify.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := notify.NewKafkaDispatcher(cfg.Kafka.Brokers, lg.Named("notify"))
		if err != nil {
			return errors.Wrap(err, "create kafka dispatcher")
		}
		defer func() { _ = kafka.Close() }()
		events = kafka
	}

	// Payment gateway.
	gw := paystack.New(paystack.Config{
		BaseURL:     cfg.Paystack.BaseURL,
		SecretKey:   cfg.Paystack.SecretKey,
		CallbackURL: cfg.Paystack.CallbackURL,
		Timeout:     cfg.Paystack.Timeout,
	})

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	cartRepo := postgres.NewCartRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)

	// Domain services.
	cartService := cart.NewService(cartRepo, productRepo)
	orderService := order.NewService(orderRepo, productRepo, pricing, events, lg.Named("order"))
	paymentService := payment.NewService(paymentRepo, cartRepo, orderService, gw, events, lg.Named("payment"))

	// HTTP routes.
	h := handler.NewHandler(cartService, orderService, paymentService, productRepo)
	mux := http.NewServeMux()
	healthSvc.RegisterEndpoints(mux)
	h.Register(mux)

	instrumented := otelhttp.NewHandler(mux, "storefront-checkout",
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(instrumented,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "X-User-ID", "X-Request-ID"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				// Gateway deliveries are signed and retried on any non-2xx;
				// throttling them only delays settlement.
				SkipFunc: func(r *http.Request) bool {
					return strings.HasPrefix(r.URL.Path, "/webhooks/")
				},
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
