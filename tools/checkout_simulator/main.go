package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/patrickwarner/adgallery/internal/middleware"
	"github.com/patrickwarner/adgallery/internal/models"
	"github.com/patrickwarner/adgallery/internal/observability"
	"github.com/patrickwarner/adgallery/internal/payments"
)

var (
	server        string
	users         int
	totalAds      int
	conc          int
	completeRate  float64
	redeliverRate float64
	reportRate    float64
	jwtSecret     string
	webhookSecret string
	stats         bool
	debug         bool
	label         string
)

var logger *zap.Logger

var httpClient *http.Client

const statsInterval = 5 * time.Second

var (
	countCreated   uint64
	countSale      uint64
	countRegular   uint64
	countCompleted uint64
	countExpired   uint64
	countRedeliver uint64
	countReports   uint64
	countErrors    uint64
)

func main() {
	flag.StringVar(&server, "server", "http://localhost:8787", "gallery base URL")
	flag.IntVar(&users, "users", 50, "number of distinct owners")
	flag.IntVar(&totalAds, "ads", 200, "ads to create and check out")
	flag.IntVar(&conc, "concurrency", 20, "concurrent checkouts")
	flag.Float64Var(&completeRate, "complete-rate", 0.8, "probability a checkout is paid rather than expired")
	flag.Float64Var(&redeliverRate, "redeliver-rate", 0.1, "probability a webhook is delivered twice")
	flag.Float64Var(&reportRate, "report-rate", 0.05, "probability a published ad gets reported")
	flag.StringVar(&jwtSecret, "jwt-secret", os.Getenv("JWT_SECRET"), "secret used to mint caller tokens")
	flag.StringVar(&webhookSecret, "webhook-secret", getenv("STRIPE_WEBHOOK_SECRET", "whsec_sandbox"), "sandbox webhook signing secret")
	flag.BoolVar(&stats, "stats", false, "print aggregated stats periodically")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logs")
	flag.StringVar(&label, "label", "", "label to identify this run")
	flag.Parse()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	var err error
	logger, err = observability.InitLoggerWithLevel(level, "checkout-simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if jwtSecret == "" {
		logger.Fatal("jwt secret is required")
	}
	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}
	server = strings.TrimRight(server, "/")

	httpClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   conc,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	auth := middleware.NewAuthenticator(jwtSecret)
	tokens := make([]string, users)
	for i := range tokens {
		tokens[i], err = auth.Issue(models.Caller{UserID: fmt.Sprintf("sim-user-%d", i)}, time.Hour)
		if err != nil {
			logger.Fatal("issue token", zap.Error(err))
		}
	}

	done := make(chan struct{})
	if stats {
		go func() {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					printStats()
				case <-done:
					return
				}
			}
		}()
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, conc)
	for i := 0; i < totalAds; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))
			owner := i % users
			if err := simulate(r, owner, tokens); err != nil {
				atomic.AddUint64(&countErrors, 1)
				logger.Error("simulation failed", zap.Int("n", i), zap.Error(err))
			}
		}(i)
	}
	wg.Wait()
	close(done)
	printStats()

	var snap models.PricingSnapshot
	if err := call(context.Background(), http.MethodGet, "/api/pricing", "", nil, &snap); err != nil {
		logger.Error("read pricing", zap.Error(err))
		return
	}
	logger.Info("pricing after run",
		zap.String("run", label),
		zap.Int64("sale_count", snap.SaleCount),
		zap.Int64("max_sale_count", snap.MaxSaleCount),
		zap.Int64("current_price", snap.CurrentPrice))
	if sale := atomic.LoadUint64(&countSale); snap.MaxSaleCount > 0 && int64(sale) > snap.MaxSaleCount {
		logger.Error("sale tier oversold", zap.Uint64("sale_checkouts", sale), zap.Int64("capacity", snap.MaxSaleCount))
	}
}

// simulate walks one ad through upload, checkout and settlement.
func simulate(r *rand.Rand, owner int, tokens []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	token := tokens[owner]
	userID := fmt.Sprintf("sim-user-%d", owner)

	var ad models.Ad
	if err := call(ctx, http.MethodPost, "/api/ads", token, map[string]string{
		"title":       fmt.Sprintf("Simulated ad %s", uuid.NewString()[:8]),
		"description": "created by the checkout simulator",
	}, &ad); err != nil {
		return fmt.Errorf("create ad: %w", err)
	}
	atomic.AddUint64(&countCreated, 1)

	var co payments.Checkout
	if err := call(ctx, http.MethodPost, "/api/payments/checkout", token, map[string]string{"ad_id": ad.ID}, &co); err != nil {
		return fmt.Errorf("checkout %s: %w", ad.ID, err)
	}
	tier := models.TierRegular
	if co.IsDiscounted {
		tier = models.TierSale
		atomic.AddUint64(&countSale, 1)
	} else {
		atomic.AddUint64(&countRegular, 1)
	}

	typ := payments.EventCheckoutExpired
	if r.Float64() < completeRate {
		typ = payments.EventCheckoutCompleted
	}
	payload, err := payments.SandboxEvent("evt_sim_"+uuid.NewString(), typ, co.SessionID, map[string]string{
		payments.MetaAdID:   ad.ID,
		payments.MetaUserID: userID,
		payments.MetaTier:   string(tier),
	})
	if err != nil {
		return err
	}
	deliveries := 1
	if r.Float64() < redeliverRate {
		deliveries = 2
		atomic.AddUint64(&countRedeliver, 1)
	}
	for d := 0; d < deliveries; d++ {
		if err := deliver(ctx, payload); err != nil {
			return fmt.Errorf("webhook %s: %w", co.SessionID, err)
		}
	}
	if typ == payments.EventCheckoutExpired {
		atomic.AddUint64(&countExpired, 1)
		return nil
	}
	atomic.AddUint64(&countCompleted, 1)

	if r.Float64() < reportRate {
		reporter := tokens[(owner+1)%len(tokens)]
		if err := call(ctx, http.MethodPost, "/api/ads/"+ad.ID+"/report", reporter, map[string]string{
			"reason": "spam",
			"detail": "filed by the checkout simulator",
		}, nil); err != nil {
			return fmt.Errorf("report %s: %w", ad.ID, err)
		}
		atomic.AddUint64(&countReports, 1)
	}
	logger.Debug("ad settled", zap.String("ad_id", ad.ID), zap.String("tier", string(tier)), zap.String("event", string(typ)))
	return nil
}

func deliver(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/api/payments/webhook", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", payments.SignPayload(payload, webhookSecret, time.Now()))
	return do(req, nil)
}

func call(ctx context.Context, method, path, token string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(blob)
	}
	req, err := http.NewRequestWithContext(ctx, method, server+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return do(req, out)
}

func do(req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(blob)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(blob, out)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printStats() {
	logger.Info("stats",
		zap.String("run", label),
		zap.Uint64("created", atomic.LoadUint64(&countCreated)),
		zap.Uint64("sale", atomic.LoadUint64(&countSale)),
		zap.Uint64("regular", atomic.LoadUint64(&countRegular)),
		zap.Uint64("completed", atomic.LoadUint64(&countCompleted)),
		zap.Uint64("expired", atomic.LoadUint64(&countExpired)),
		zap.Uint64("redelivered", atomic.LoadUint64(&countRedeliver)),
		zap.Uint64("reports", atomic.LoadUint64(&countReports)),
		zap.Uint64("errors", atomic.LoadUint64(&countErrors)))
}
