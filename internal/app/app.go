package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/GaryWong163/Online-shop/internal/broker/rabbitmq"
	"github.com/GaryWong163/Online-shop/internal/domain/order"
	"github.com/GaryWong163/Online-shop/internal/domain/payment"
	"github.com/GaryWong163/Online-shop/internal/domain/pricing"
	"github.com/GaryWong163/Online-shop/internal/gateway"
	"github.com/GaryWong163/Online-shop/internal/handler"
	"github.com/GaryWong163/Online-shop/internal/identity"
	"github.com/GaryWong163/Online-shop/internal/storage/postgres"
	redisstore "github.com/GaryWong163/Online-shop/internal/storage/redis"
	"github.com/GaryWong163/Online-shop/pkg/health"
	"github.com/GaryWong163/Online-shop/pkg/httpmiddleware"
	"github.com/GaryWong163/Online-shop/pkg/retry"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

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
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	discountRepo := postgres.NewDiscountRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	txnStore := postgres.NewTransactionStore(pool)

	paymentOpts := []payment.Option{
		payment.WithMeterProvider(m.MeterProvider()),
		payment.WithTracerProvider(m.TracerProvider()),
		payment.WithRetry(retry.DefaultPolicy),
	}

	// Optional in-flight lock. Without it the unique index alone keeps
	// redeliveries idempotent.
	if cfg.Redis.URL != "" {
		client, err := redisstore.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = client.Close() }()

		locker := redisstore.NewLocker(client, cfg.Redis.LockTTL)
		paymentOpts = append(paymentOpts, payment.WithLocker(locker))
		healthSvc.AddOptionalCheck("redis", 2*time.Second, health.PingCheck(locker))
	}

	// Optional payment event publishing.
	if cfg.RabbitMQ.URL != "" {
		pub, err := rabbitmq.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return errors.Wrap(err, "connect rabbitmq")
		}
		defer func() { _ = pub.Close() }()

		paymentOpts = append(paymentOpts, payment.WithPublisher(pub))
		healthSvc.AddOptionalCheck("rabbitmq", 2*time.Second, health.PingCheck(pub))
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain services.
	orderService := order.NewService(order.ServiceConfig{
		Currency: cfg.Merchant.Currency,
		Merchant: cfg.Merchant.ID,
		Retry:    retry.DefaultPolicy,
	}, pricing.NewEngine(productRepo, discountRepo), orderRepo)

	ingestor := payment.NewIngestor(txnStore, orderService.Digester(), paymentOpts...)
	reconciler := payment.NewReconciler(txnStore, payment.ReconcilerConfig{
		Attempts:          cfg.Reconcile.Attempts,
		Interval:          cfg.Reconcile.Interval,
		PlaceholderPrefix: cfg.Payment.PlaceholderPrefix,
	}, paymentOpts...)
	statusService := payment.NewStatusService(txnStore, payment.StatusConfig{
		Attempts: cfg.StatusPoll.Attempts,
		Interval: cfg.StatusPoll.Interval,
	})

	// Provider boundary.
	ipnClient := &http.Client{
		Timeout: cfg.Payment.IPNTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	deps := handler.Deps{
		Orders:          orderService,
		Discounts:       discountRepo,
		Ingestor:        ingestor,
		Reconciler:      reconciler,
		Status:          statusService,
		WebhookVerifier: gateway.NewWebhookVerifier(cfg.Payment.WebhookSecret, cfg.Payment.WebhookTolerance),
		IPNVerifier:     gateway.NewIPNVerifier(cfg.Payment.IPNVerifyURL, ipnClient),
	}
	if cfg.Auth.JWTSecret != "" {
		deps.Identity = identity.NewVerifier(identity.Config{
			Secret: cfg.Auth.JWTSecret,
			Issuer: cfg.Auth.Issuer,
			Cookie: cfg.Auth.Cookie,
		})
	} else {
		lg.Warn("Identity token secret not configured, every caller is a guest")
	}
	h := handler.New(handler.Config{
		ConfirmationPath: cfg.ConfirmationPath,
		MaxBodyBytes:     cfg.HTTP.MaxBodyBytes,
		Currency:         cfg.Merchant.Currency,
	}, deps)

	r := newRouter(ctx, cfg, h, healthSvc)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.Instrument("shop-api", m.TracerProvider(), m.MeterProvider()),
		),
	}

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

// newRouter mounts health probes and provider callbacks outside the rate
// limiter and the storefront inside it.
func newRouter(ctx context.Context, cfg *Config, h *handler.Handler, healthSvc *health.Health) chi.Router {
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler(),
		cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORS.Origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "Authorization", httpmiddleware.RequestIDHeader},
			ExposedHeaders:   []string{httpmiddleware.RequestIDHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
	)
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	h.MountCallbacks(r)
	r.Group(func(r chi.Router) {
		r.Use(httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}))
		h.Mount(r)
	})
	return r
}
