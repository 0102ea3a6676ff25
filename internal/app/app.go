package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/atelierluna/fulfillment/internal/admin"
	"github.com/atelierluna/fulfillment/internal/carrier"
	"github.com/atelierluna/fulfillment/internal/checkout"
	"github.com/atelierluna/fulfillment/internal/handler"
	"github.com/atelierluna/fulfillment/internal/invoice"
	"github.com/atelierluna/fulfillment/internal/mailer"
	"github.com/atelierluna/fulfillment/internal/payment"
	"github.com/atelierluna/fulfillment/internal/postgres"
	"github.com/atelierluna/fulfillment/internal/saga"
	"github.com/atelierluna/fulfillment/pkg/health"
	"github.com/atelierluna/fulfillment/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	shippingCost, err := decimal.NewFromString(cfg.ShippingCost)
	if err != nil {
		return errors.Wrap(err, "parse shipping cost")
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
	healthSvc.Register(health.Readiness, "postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.Register(health.Liveness, "goroutines", time.Second, health.GoroutineCount(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	orderRepo := postgres.NewOrderRepository(pool)
	catalogRepo := postgres.NewCatalogRepository(pool)
	shippingRepo := postgres.NewShippingRepository(pool)
	discountRepo := postgres.NewDiscountRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// External service clients.
	carrierClient := carrier.NewClient(carrier.ClientConfig{
		BaseURL: cfg.Carrier.BaseURL,
		APIKey:  cfg.Carrier.APIKey,
	})
	invoiceClient := invoice.NewClient(invoice.ClientConfig{
		BaseURL: cfg.Invoicing.BaseURL,
		APIKey:  cfg.Invoicing.APIKey,
		Series:  cfg.Invoicing.Series,
	})
	mailClient := mailer.NewClient(mailer.ClientConfig{
		BaseURL: cfg.Mail.BaseURL,
		APIKey:  cfg.Mail.APIKey,
		From:    cfg.Mail.From,
	})
	gateway := payment.NewStripe(cfg.Stripe.APIKey, cfg.Stripe.WebhookSecret, cfg.Stripe.Currency)

	// Domain services.
	checkoutSvc := checkout.NewService(catalogRepo, shippingRepo, discountRepo, orderRepo, shippingCost)
	notifier := mailer.NewNotifier(mailClient, invoiceClient, cfg.Store.AdminEmail)
	fulfillment := saga.New(orderRepo, carrierClient, invoiceClient, notifier, saga.Config{
		SenderName:  cfg.Store.Name,
		SenderPhone: cfg.Store.Phone,
		SenderEmail: cfg.Store.Email,
		CourierName: cfg.Store.CourierName,
		ServiceTier: cfg.Store.ServiceTier,
	})
	adminSvc := admin.NewService(orderRepo, fulfillment, gateway)

	// HTTP surface.
	h := handler.New(handler.Config{
		SuccessURL: cfg.Store.SuccessURL,
		CancelURL:  cfg.Store.CancelURL,
	}, checkoutSvc, fulfillment, adminSvc, gateway, invoiceClient)
	security := handler.NewSecurity(apikeyRepo, []byte(cfg.APIKeyPepper))

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Routes(router, security.Middleware)

	var root http.Handler = httpmiddleware.Wrap(router,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(cfg.CORS.Origins),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.LogRequests(),
	)
	root = otelhttp.NewHandler(root, "fulfillment",
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           root,
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
