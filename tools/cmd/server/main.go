package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/adgallery/internal/analytics"
	"github.com/patrickwarner/adgallery/internal/api"
	"github.com/patrickwarner/adgallery/internal/clientinfo"
	"github.com/patrickwarner/adgallery/internal/config"
	"github.com/patrickwarner/adgallery/internal/db"
	"github.com/patrickwarner/adgallery/internal/events"
	"github.com/patrickwarner/adgallery/internal/middleware"
	"github.com/patrickwarner/adgallery/internal/moderation"
	"github.com/patrickwarner/adgallery/internal/observability"
	"github.com/patrickwarner/adgallery/internal/payments"
	"github.com/patrickwarner/adgallery/internal/pricing"
	"github.com/patrickwarner/adgallery/internal/publication"
	"github.com/patrickwarner/adgallery/internal/ratelimit"
)

// sandboxWebhookSecret signs sandbox webhooks when none is configured.
const sandboxWebhookSecret = "whsec_sandbox"

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.Environment, cfg.OTLPEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		return fmt.Errorf("failed to connect postgres: %w", err)
	}
	defer pg.Close()
	if err := pg.EnsurePricingTiers(ctx, cfg.SaleCapacity); err != nil {
		return err
	}

	store, err := db.InitRedis(cfg.RedisAddr, cfg.EventProcessedTTL)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	defer store.Close()

	pub, err := lifecyclePublisher(cfg, store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Warn("close event publishers", zap.Error(err))
		}
	}()

	var geo *clientinfo.Geo
	if cfg.GeoIPDB != "" {
		geo, err = clientinfo.OpenGeo(cfg.GeoIPDB)
		if err != nil {
			return fmt.Errorf("failed to load geoip db: %w", err)
		}
		defer func() { _ = geo.Close() }()
	}

	provider, err := paymentProvider(cfg, logger)
	if err != nil {
		return err
	}

	metricsRegistry := observability.NewPrometheusRegistry()

	allocator := pricing.NewAllocator(pg, pricing.Config{
		Currency:     cfg.Currency,
		SalePrice:    cfg.SalePrice,
		RegularPrice: cfg.RegularPrice,
		MaxRetries:   cfg.ReservationMaxRetries,
	}, metricsRegistry, logger)
	coordinator := publication.NewCoordinator(pg, pg, pub, metricsRegistry, logger)
	limiter := ratelimit.NewKeyedLimiter(ratelimit.Config{
		Capacity:   cfg.ReportRateCapacity,
		RefillRate: cfg.ReportRateRefill,
		Enabled:    cfg.ReportRateEnabled,
	})

	srv := &api.Server{
		Logger:      logger,
		Metrics:     metricsRegistry,
		Auth:        middleware.NewAuthenticator(cfg.JWTSecret),
		Catalog:     publication.NewCatalog(pg, pub, logger),
		Coordinator: coordinator,
		Pricing:     allocator,
		Checkout:    payments.NewCheckoutManager(pg, pg, allocator, provider, pub, metricsRegistry, logger),
		Webhooks:    payments.NewWebhookProcessor(provider, pg, coordinator, store, pub, metricsRegistry, logger),
		Moderation:  moderation.NewWorkflow(pg, pg, coordinator, limiter, pub, metricsRegistry, logger),
		Clients:     clientinfo.NewResolver(geo),
		Checks:      map[string]api.Pinger{"postgres": pg, "redis": store},
	}

	addr := ":" + cfg.Port
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(srv.Routes(), cfg.ServiceName),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Ad gallery running", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	// idle reporter buckets are dropped periodically
	ticker := time.NewTicker(10 * time.Minute)
	go func() {
		for {
			select {
			case <-ticker.C:
				if n := limiter.Prune(); n > 0 {
					logger.Debug("pruned report rate buckets", zap.Int("count", n))
				}
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}

// lifecyclePublisher builds the event sinks selected by configuration.
func lifecyclePublisher(cfg config.Config, store *db.RedisStore, logger *zap.Logger) (events.Publisher, error) {
	var sinks events.Fanout
	switch cfg.EventBus {
	case "redis":
		sinks = append(sinks, events.NewRedisPublisher(store.Client, events.DefaultRedisChannel))
	case "nats":
		nc, err := events.ConnectNATS(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect nats: %w", err)
		}
		sinks = append(sinks, nc)
	case "none", "":
	default:
		return nil, fmt.Errorf("unknown EVENT_BUS %q", cfg.EventBus)
	}

	if cfg.ClickHouseDSN != "" {
		ch, err := analytics.InitClickHouse(cfg.ClickHouseDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		sinks = append(sinks, ch)
	}
	logger.Info("lifecycle events configured", zap.String("bus", cfg.EventBus), zap.Int("sinks", len(sinks)))
	return sinks, nil
}

// paymentProvider returns Stripe when a secret key is configured and the
// sandbox otherwise.
func paymentProvider(cfg config.Config, logger *zap.Logger) (payments.Provider, error) {
	if cfg.StripeSecretKey != "" {
		if cfg.StripeWebhookSecret == "" {
			return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required with STRIPE_SECRET_KEY")
		}
		return payments.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.SiteURL), nil
	}
	secret := cfg.StripeWebhookSecret
	if secret == "" {
		secret = sandboxWebhookSecret
	}
	logger.Warn("STRIPE_SECRET_KEY not set, using sandbox payment provider",
		zap.String("session_prefix", payments.SandboxSessionPrefix))
	return payments.NewSandboxProvider(secret, cfg.SiteURL), nil
}
