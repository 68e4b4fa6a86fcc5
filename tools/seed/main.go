package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/adgallery/internal/config"
	"github.com/patrickwarner/adgallery/internal/db"
	"github.com/patrickwarner/adgallery/internal/middleware"
	"github.com/patrickwarner/adgallery/internal/models"
	"github.com/patrickwarner/adgallery/internal/observability"
	"github.com/patrickwarner/adgallery/internal/payments"
	"github.com/patrickwarner/adgallery/internal/pricing"
	"github.com/patrickwarner/adgallery/internal/publication"
)

var (
	owners      = flag.Int("owners", 3, "number of demo owners")
	adsPerOwner = flag.Int("ads", 4, "ads per owner")
	paidRatio   = flag.Float64("paid", 0.5, "fraction of ads that go through checkout and get published")
	seed        = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	tokenTTL    = flag.Duration("token-ttl", 24*time.Hour, "lifetime of the printed demo tokens")
)

var (
	adjectives = []string{"Vintage", "Handmade", "Local", "Weekend", "Organic", "Limited", "Family", "Seasonal"}
	nouns      = []string{"Bakery", "Bike Repair", "Guitar Lessons", "Flea Market", "Yoga Class", "Coffee Roastery", "Book Swap", "Garden Service"}
)

// sandboxSecret signs the seed's own webhook deliveries.
const sandboxSecret = "whsec_seed"

func main() {
	flag.Parse()

	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	ctx := context.Background()
	if err := pg.EnsurePricingTiers(ctx, cfg.SaleCapacity); err != nil {
		logger.Fatal("ensure pricing tiers", zap.Error(err))
	}

	metrics := observability.NewNoOpRegistry()
	allocator := pricing.NewAllocator(pg, pricing.Config{
		Currency:     cfg.Currency,
		SalePrice:    cfg.SalePrice,
		RegularPrice: cfg.RegularPrice,
		MaxRetries:   cfg.ReservationMaxRetries,
	}, metrics, logger)
	provider := payments.NewSandboxProvider(sandboxSecret, cfg.SiteURL)
	catalog := publication.NewCatalog(pg, nil, logger)
	coordinator := publication.NewCoordinator(pg, pg, nil, metrics, logger)
	checkout := payments.NewCheckoutManager(pg, pg, allocator, provider, nil, metrics, logger)
	webhooks := payments.NewWebhookProcessor(provider, pg, coordinator, nil, nil, metrics, logger)

	r := rand.New(rand.NewSource(*seed))
	var created, published int
	callers := make([]models.Caller, 0, *owners)
	for o := 0; o < *owners; o++ {
		owner := models.Caller{UserID: fmt.Sprintf("demo-owner-%d", o+1)}
		callers = append(callers, owner)
		for i := 0; i < *adsPerOwner; i++ {
			ad, err := catalog.Create(ctx, owner, demoAd(r))
			if err != nil {
				logger.Fatal("create ad", zap.Error(err))
			}
			created++
			if r.Float64() >= *paidRatio {
				continue
			}
			if err := payAndPublish(ctx, checkout, webhooks, ad, owner); err != nil {
				logger.Fatal("publish ad", zap.String("ad_id", ad.ID), zap.Error(err))
			}
			published++
		}
	}

	snap, err := allocator.Snapshot(ctx)
	if err != nil {
		logger.Fatal("pricing snapshot", zap.Error(err))
	}
	logger.Info("seed complete",
		zap.Int("ads", created),
		zap.Int("published", published),
		zap.Int64("sale_count", snap.SaleCount),
		zap.Int64("max_sale_count", snap.MaxSaleCount))

	if cfg.JWTSecret == "" {
		return
	}
	auth := middleware.NewAuthenticator(cfg.JWTSecret)
	callers = append(callers, models.Caller{UserID: "demo-admin", IsAdmin: true})
	for _, c := range callers {
		tok, err := auth.Issue(c, *tokenTTL)
		if err != nil {
			logger.Fatal("issue token", zap.Error(err))
		}
		fmt.Printf("%s\tadmin=%t\t%s\n", c.UserID, c.IsAdmin, tok)
	}
}

// payAndPublish opens a checkout for ad and delivers the signed completion
// event the provider would send.
func payAndPublish(ctx context.Context, checkout *payments.CheckoutManager, webhooks *payments.WebhookProcessor, ad models.Ad, owner models.Caller) error {
	co, err := checkout.OpenSession(ctx, ad.ID, owner.UserID)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	tier := models.TierRegular
	if co.IsDiscounted {
		tier = models.TierSale
	}
	payload, err := payments.SandboxEvent("evt_seed_"+uuid.NewString(), payments.EventCheckoutCompleted, co.SessionID, map[string]string{
		payments.MetaAdID:   ad.ID,
		payments.MetaUserID: owner.UserID,
		payments.MetaTier:   string(tier),
	})
	if err != nil {
		return err
	}
	return webhooks.HandleEvent(ctx, payload, payments.SignPayload(payload, sandboxSecret, time.Now()))
}

func demoAd(r *rand.Rand) publication.NewAd {
	name := adjectives[r.Intn(len(adjectives))] + " " + nouns[r.Intn(len(nouns))]
	return publication.NewAd{
		Title:       name,
		Description: fmt.Sprintf("%s open every day, ask for the %d%% introductory discount.", name, 5+r.Intn(20)),
		ImageURL:    fmt.Sprintf("https://picsum.photos/seed/%d/600/400", r.Intn(10000)),
	}
}
