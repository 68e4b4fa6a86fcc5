// Sales Report Tool prints checkout, revenue and moderation figures for the
// gallery.
//
// It reads the lifecycle_events table that the server fills when
// CLICKHOUSE_DSN is set.
//
// Usage:
//
//	go run ./tools/sales_report -days=30
//
// Configuration:
//
//	-days: Optional. Number of days to include in the report (default: 7)
//	-clickhouse-dsn: Optional. ClickHouse connection string (default: tcp://localhost:9000)
//	-json: Optional. Print the report as JSON instead of tables
//
// Environment Variables:
//
//	CLICKHOUSE_DSN: ClickHouse connection string (overridden by -clickhouse-dsn flag)
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/patrickwarner/adgallery/internal/analytics"
	"github.com/patrickwarner/adgallery/internal/reporting"
)

func main() {
	var (
		days   = flag.Int("days", 7, "Number of days to include in report")
		dsn    = flag.String("clickhouse-dsn", getEnv("CLICKHOUSE_DSN", "tcp://localhost:9000"), "ClickHouse DSN")
		asJSON = flag.Bool("json", false, "Print the report as JSON")
	)
	flag.Parse()

	ch, err := analytics.InitClickHouse(*dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to ClickHouse: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := ch.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", err)
		}
	}()

	summary, err := reporting.GenerateSalesReport(context.Background(), ch.DB, *days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating report: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding report: %v\n", err)
			os.Exit(1)
		}
		return
	}
	printSalesReport(summary)
}

func printSalesReport(summary *reporting.SalesSummary) {
	fmt.Printf("═══════════════════════════════════════════════════════════════════════\n")
	fmt.Printf("                           GALLERY SALES REPORT                         \n")
	fmt.Printf("═══════════════════════════════════════════════════════════════════════\n")
	fmt.Printf("Report Period: %d days (ending %s)\n", summary.Days, time.Now().Format("2006-01-02"))
	fmt.Printf("Generated: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))

	total := summary.Totals
	fmt.Printf("OVERALL\n")
	fmt.Printf("───────────────────────────────────────────────────────────────────────\n")
	fmt.Printf("Checkouts opened:   %s\n", formatNumber(total.CheckoutsOpened))
	fmt.Printf("Paid at sale price: %s\n", formatNumber(total.SaleCompleted))
	fmt.Printf("Paid at regular:    %s\n", formatNumber(total.RegularCompleted))
	fmt.Printf("Expired:            %s\n", formatNumber(total.Cancelled))
	fmt.Printf("Revenue:            %s\n", formatNumber(total.Revenue))
	fmt.Printf("Conversion:         %.2f%%\n\n", total.ConversionRate)

	if len(summary.Daily) > 0 {
		fmt.Printf("DAILY BREAKDOWN\n")
		fmt.Printf("───────────────────────────────────────────────────────────────────────\n")
		fmt.Printf("Date       | Opened |  Sale | Regular | Expired |     Revenue |  Conv.\n")
		fmt.Printf("-----------|--------|-------|---------|---------|-------------|-------\n")
		for _, d := range summary.Daily {
			fmt.Printf("%-10s | %6s | %5s | %7s | %7s | %11s | %5.1f%%\n",
				d.Date.Format("2006-01-02"),
				formatNumber(d.CheckoutsOpened),
				formatNumber(d.SaleCompleted),
				formatNumber(d.RegularCompleted),
				formatNumber(d.Cancelled),
				formatNumber(d.Revenue),
				d.ConversionRate,
			)
		}
		fmt.Printf("\n")
	}

	if len(summary.Tiers) > 0 {
		fmt.Printf("REVENUE BY TIER\n")
		fmt.Printf("───────────────────────────────────────────────────────────────────────\n")
		for _, t := range summary.Tiers {
			fmt.Printf("%-8s %8s payments  %12s %s\n", t.Tier, formatNumber(t.Completed), formatNumber(t.Revenue), t.Currency)
		}
		fmt.Printf("\n")
	}

	mod := summary.Moderation
	fmt.Printf("MODERATION\n")
	fmt.Printf("───────────────────────────────────────────────────────────────────────\n")
	fmt.Printf("Reports filed: %s  approved: %s  rejected: %s  reinstated: %s\n",
		formatNumber(mod.ReportsFiled), formatNumber(mod.Approved), formatNumber(mod.Rejected), formatNumber(mod.Reinstated))
	if mod.ReportsFiled > mod.Approved+mod.Rejected {
		fmt.Printf("%s reports filed in this period are still waiting for review\n",
			formatNumber(mod.ReportsFiled-mod.Approved-mod.Rejected))
	}
	fmt.Printf("═══════════════════════════════════════════════════════════════════════\n")
}

// formatNumber formats integers with comma separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	neg := n < 0
	if neg {
		str = str[1:]
	}
	if len(str) <= 3 {
		if neg {
			return "-" + str
		}
		return str
	}

	result := ""
	for i, digit := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(digit)
	}
	if neg {
		return "-" + result
	}
	return result
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
