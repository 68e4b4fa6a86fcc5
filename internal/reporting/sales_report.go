// Package reporting builds sales and moderation reports from the lifecycle
// events stored in ClickHouse.
package reporting

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DailySales is one day of checkout activity. Revenue is in the smallest
// currency unit.
type DailySales struct {
	Date             time.Time `json:"date"`
	CheckoutsOpened  int64     `json:"checkouts_opened"`
	SaleCompleted    int64     `json:"sale_completed"`
	RegularCompleted int64     `json:"regular_completed"`
	Cancelled        int64     `json:"cancelled"`
	Revenue          int64     `json:"revenue"`
	// ConversionRate is completed payments over opened checkouts, as a
	// percentage.
	ConversionRate float64 `json:"conversion_rate"`
}

// Completed returns the number of settled payments of either tier.
func (d DailySales) Completed() int64 {
	return d.SaleCompleted + d.RegularCompleted
}

// TierSales totals completed payments per pricing tier.
type TierSales struct {
	Tier      string `json:"tier"`
	Completed int64  `json:"completed"`
	Revenue   int64  `json:"revenue"`
	Currency  string `json:"currency"`
}

// ModerationSummary counts moderation activity over the period.
type ModerationSummary struct {
	ReportsFiled int64 `json:"reports_filed"`
	Approved     int64 `json:"approved"`
	Rejected     int64 `json:"rejected"`
	Reinstated   int64 `json:"reinstated"`
}

// SalesSummary is the full report.
type SalesSummary struct {
	Days       int               `json:"days"`
	Totals     DailySales        `json:"totals"`
	Daily      []DailySales      `json:"daily"`
	Tiers      []TierSales       `json:"tiers"`
	Moderation ModerationSummary `json:"moderation"`
}

// GenerateSalesReport queries the last days of lifecycle events and
// assembles daily checkout figures, per-tier revenue and moderation counts.
func GenerateSalesReport(ctx context.Context, db *sql.DB, days int) (*SalesSummary, error) {
	if days <= 0 {
		days = 7
	}
	summary := &SalesSummary{Days: days}

	daily, err := getDailySales(ctx, db, days)
	if err != nil {
		return nil, fmt.Errorf("get daily sales: %w", err)
	}
	summary.Daily = daily
	summary.Totals = totalSales(daily)

	tiers, err := getTierSales(ctx, db, days)
	if err != nil {
		return nil, fmt.Errorf("get tier sales: %w", err)
	}
	summary.Tiers = tiers

	mod, err := getModeration(ctx, db, days)
	if err != nil {
		return nil, fmt.Errorf("get moderation summary: %w", err)
	}
	summary.Moderation = mod

	return summary, nil
}

// totalSales sums daily rows and recomputes the conversion rate.
func totalSales(daily []DailySales) DailySales {
	total := DailySales{Date: time.Now().UTC()}
	for _, d := range daily {
		total.CheckoutsOpened += d.CheckoutsOpened
		total.SaleCompleted += d.SaleCompleted
		total.RegularCompleted += d.RegularCompleted
		total.Cancelled += d.Cancelled
		total.Revenue += d.Revenue
	}
	total.ConversionRate = conversionRate(total.Completed(), total.CheckoutsOpened)
	return total
}

func conversionRate(completed, opened int64) float64 {
	if opened == 0 {
		return 0
	}
	return float64(completed) / float64(opened) * 100
}

func getDailySales(ctx context.Context, db *sql.DB, days int) ([]DailySales, error) {
	query := `
		SELECT
			toDate(timestamp) as date,
			countIf(event_type = 'checkout.opened') as opened,
			countIf(event_type = 'payment.completed' AND tier = 'sale') as sale_completed,
			countIf(event_type = 'payment.completed' AND tier = 'regular') as regular_completed,
			countIf(event_type = 'payment.cancelled') as cancelled,
			sumIf(amount, event_type = 'payment.completed') as revenue
		FROM lifecycle_events
		WHERE timestamp >= now() - INTERVAL ? DAY
		GROUP BY date
		ORDER BY date DESC`

	rows, err := db.QueryContext(ctx, query, days)
	if err != nil {
		return nil, fmt.Errorf("query daily sales: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []DailySales
	for rows.Next() {
		var d DailySales
		var opened, sale, regular, cancelled uint64
		if err := rows.Scan(&d.Date, &opened, &sale, &regular, &cancelled, &d.Revenue); err != nil {
			return nil, fmt.Errorf("scan daily sales: %w", err)
		}
		d.CheckoutsOpened = int64(opened)
		d.SaleCompleted = int64(sale)
		d.RegularCompleted = int64(regular)
		d.Cancelled = int64(cancelled)
		d.ConversionRate = conversionRate(d.Completed(), d.CheckoutsOpened)
		out = append(out, d)
	}
	return out, rows.Err()
}

func getTierSales(ctx context.Context, db *sql.DB, days int) ([]TierSales, error) {
	query := `
		SELECT
			tier,
			currency,
			count() as completed,
			sum(amount) as revenue
		FROM lifecycle_events
		WHERE event_type = 'payment.completed'
			AND timestamp >= now() - INTERVAL ? DAY
		GROUP BY tier, currency
		ORDER BY revenue DESC`

	rows, err := db.QueryContext(ctx, query, days)
	if err != nil {
		return nil, fmt.Errorf("query tier sales: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []TierSales
	for rows.Next() {
		var t TierSales
		var completed uint64
		if err := rows.Scan(&t.Tier, &t.Currency, &completed, &t.Revenue); err != nil {
			return nil, fmt.Errorf("scan tier sales: %w", err)
		}
		t.Completed = int64(completed)
		out = append(out, t)
	}
	return out, rows.Err()
}

func getModeration(ctx context.Context, db *sql.DB, days int) (ModerationSummary, error) {
	query := `
		SELECT
			countIf(event_type = 'report.filed'),
			countIf(event_type = 'report.resolved' AND detail = 'approved'),
			countIf(event_type = 'report.resolved' AND detail = 'rejected'),
			countIf(event_type = 'ad.reinstated')
		FROM lifecycle_events
		WHERE timestamp >= now() - INTERVAL ? DAY`

	var filed, approved, rejected, reinstated uint64
	if err := db.QueryRowContext(ctx, query, days).Scan(&filed, &approved, &rejected, &reinstated); err != nil {
		return ModerationSummary{}, fmt.Errorf("query moderation: %w", err)
	}
	return ModerationSummary{
		ReportsFiled: int64(filed),
		Approved:     int64(approved),
		Rejected:     int64(rejected),
		Reinstated:   int64(reinstated),
	}, nil
}
