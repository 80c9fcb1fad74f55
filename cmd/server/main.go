package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dukerupert/brokkr/internal"
	"github.com/dukerupert/brokkr/internal/billing"
	"github.com/dukerupert/brokkr/internal/cookie"
	"github.com/dukerupert/brokkr/internal/database"
	"github.com/dukerupert/brokkr/internal/email"
	"github.com/dukerupert/brokkr/internal/handler"
	"github.com/dukerupert/brokkr/internal/handler/api"
	"github.com/dukerupert/brokkr/internal/handler/webhook"
	"github.com/dukerupert/brokkr/internal/jobs"
	"github.com/dukerupert/brokkr/internal/middleware"
	"github.com/dukerupert/brokkr/internal/router"
	"github.com/dukerupert/brokkr/internal/routes"
	"github.com/dukerupert/brokkr/internal/service"
	"github.com/dukerupert/brokkr/internal/storage"
	"github.com/dukerupert/brokkr/internal/telemetry"
	"github.com/dukerupert/brokkr/internal/worker"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const metricsNamespace = "brokkr"

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	// Error tracking
	flushSentry, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Enabled:          cfg.Sentry.Enabled,
		Environment:      cfg.Sentry.Environment,
		Release:          cmp.Or(cfg.Sentry.Release, version),
		SampleRate:       cfg.Sentry.SampleRate,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Debug:            cfg.Sentry.Debug,
	}, logger)
	if err != nil {
		return err
	}
	defer flushSentry()

	// Metrics
	metrics := middleware.NewMetrics(metricsNamespace, prometheus.DefaultRegisterer)
	telemetry.InitBusinessMetrics(metricsNamespace)

	// Store backend; Postgres migrations run on startup
	stores, err := database.Open(ctx, cfg.Database, database.Options{Migrate: true}, logger)
	if err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stores.Close(closeCtx); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	// Image storage
	files, err := storage.NewStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}
	logger.Info("Image storage initialized", "provider", cmp.Or(cfg.Storage.Provider, "local"))

	// Billing provider
	billingProvider, err := newBillingProvider(cfg, logger)
	if err != nil {
		return err
	}

	// ==========================================================================
	// Services
	// ==========================================================================

	inventoryService := service.NewInventoryService(stores.Products, logger)
	productService := service.NewProductService(stores.Products, files, cfg.MaxVariantCombinations, logger)
	cartService := service.NewCartService(stores.Carts, stores.Products, inventoryService, logger)
	checkoutService := service.NewCheckoutService(stores.Carts, inventoryService, billingProvider, cfg.Currency, cfg.BaseURL, logger)
	orderService := service.NewOrderService(stores.Orders, stores.Carts, inventoryService, cfg.Currency, logger).
		WithNotifier(email.NewService(newEmailSender(cfg.Email, logger), email.Config{
			FromAddress: cfg.Email.From,
			FromName:    cfg.Email.FromName,
			OpsAddress:  cfg.Email.OpsAddress,
			BaseURL:     cfg.BaseURL,
		}, logger))

	// ==========================================================================
	// Middleware
	// ==========================================================================

	defaultRateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer defaultRateLimiter.Stop()
	checkoutRateLimiter := middleware.NewRateLimiter(middleware.CheckoutRateLimiterConfig())
	defer checkoutRateLimiter.Stop()

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		middleware.WithClientIP,
		telemetry.SentryMiddleware(),
		metrics.Middleware,
		middleware.SecurityHeaders(middleware.APISecurityHeadersConfig(cfg.Env == "prod")),
		router.CORS(cfg.CORSAllowedOrigins),
		defaultRateLimiter.Middleware,
		middleware.WithRequestLogger(logger),
		router.Logger(logger, func(req *http.Request) *slog.Logger {
			return middleware.GetLogger(req.Context(), logger)
		}),
	)
	r.NotFound(handler.NotFoundResponse)

	// ==========================================================================
	// Routes
	// ==========================================================================

	productHandler := api.NewProductHandler(productService, inventoryService)

	routes.RegisterSystemRoutes(r, routes.SystemDeps{
		HealthHandler: api.NewHealthHandler(stores, version),
		Metrics:       metrics.Handler(),
	})
	routes.RegisterStorefrontRoutes(r, routes.StorefrontDeps{
		ProductHandler:  productHandler,
		CartHandler:     api.NewCartHandler(cartService, cookie.NewConfig(cfg.CookieDomain, cfg.SecureCookies)),
		CheckoutHandler: api.NewCheckoutHandler(checkoutService),
		CheckoutLimiter: checkoutRateLimiter,
	})
	routes.RegisterAdminRoutes(r, routes.AdminDeps{
		Token:          cfg.AdminAPIToken,
		ProductHandler: productHandler,
		OrderHandler:   api.NewOrderHandler(orderService),
	})
	routes.RegisterWebhookRoutes(r, routes.WebhookDeps{
		StripeHandler: webhook.NewStripeHandler(billingProvider, orderService, logger).HandleWebhook,
	})

	// Locally stored uploads are served by the app itself
	if cmp.Or(cfg.Storage.Provider, "local") == "local" && strings.HasPrefix(cfg.Storage.LocalURL, "/") {
		r.Static(cfg.Storage.LocalURL, cfg.Storage.LocalPath)
	}

	if cfg.AdminAPIToken == "" {
		logger.Warn("ADMIN_API_TOKEN not set, admin routes are disabled")
	}
	logger.Debug("Routes registered", "routes", r.Routes())

	// ==========================================================================
	// Background jobs
	// ==========================================================================

	workerDone := make(chan struct{})
	if cfg.Cleanup.Interval > 0 {
		w := worker.NewWorker(worker.Config{PollInterval: cfg.Cleanup.Interval}, logger,
			jobs.NewCartCleanupJob(stores.Carts, cfg.Cleanup.CartRetention, logger),
		)
		go func() {
			defer close(workerDone)
			_ = w.Start(ctx)
		}()
	} else {
		close(workerDone)
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      middleware.CheckoutTimeout + 15*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", srv.Addr, "version", version, "driver", stores.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down server", "timeout", cfg.ShutdownTimeout)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	stop()
	<-workerDone
	logger.Info("Server stopped")
	return nil
}

// newBillingProvider returns the Stripe provider, or the mock provider in
// development while the placeholder keys from .env.example are still set.
func newBillingProvider(cfg *internal.Config, logger *slog.Logger) (billing.Provider, error) {
	if cfg.Env == "dev" && strings.HasSuffix(cfg.Stripe.SecretKey, "your_key_here") {
		logger.Warn("Stripe keys not configured, using mock billing provider")
		return billing.NewMockProvider(), nil
	}

	stripeConfig := billing.StripeConfig{
		APIKey:        cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Timeout:       cfg.Stripe.Timeout,
	}
	provider, err := billing.NewStripeProvider(stripeConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Stripe provider: %w", err)
	}
	logger.Info("Stripe billing provider initialized",
		"test_mode", stripeConfig.IsTestMode(),
		"timeout", stripeConfig.Timeout,
	)
	return provider, nil
}

// newEmailSender picks the delivery backend for order notifications.
func newEmailSender(cfg internal.EmailConfig, logger *slog.Logger) email.Sender {
	switch cfg.Provider {
	case "smtp":
		logger.Info("Email via SMTP", "host", cfg.Host, "port", cfg.Port)
		return email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
		}, logger)
	case "postmark":
		logger.Info("Email via Postmark")
		return email.NewPostmarkSender(cfg.PostmarkToken, 0)
	default:
		logger.Info("Email delivery disabled, messages are logged")
		return email.NewLogSender(logger)
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
