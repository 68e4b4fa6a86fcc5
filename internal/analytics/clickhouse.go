// Package analytics stores lifecycle events in ClickHouse for offline
// reporting.
package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/adgallery/internal/events"
)

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = errors.New("analytics unavailable")

var _ events.Publisher = (*ClickHouse)(nil)

// ClickHouse wraps a ClickHouse DB connection and records every lifecycle
// event it is given.
type ClickHouse struct {
	DB *sql.DB
}

const createTable = `CREATE TABLE IF NOT EXISTS lifecycle_events (
       event_id     String,
       timestamp    DateTime64(3),
       event_type   LowCardinality(String),
       ad_id        String,
       actor_id     String,
       session_id   String,
       report_id    String,
       from_state   LowCardinality(String),
       to_state     LowCardinality(String),
       tier         LowCardinality(String),
       amount       Int64,
       currency     LowCardinality(String),
       detail       String
   ) ENGINE=MergeTree() ORDER BY (event_type, timestamp)`

// InitClickHouse connects to ClickHouse and ensures the lifecycle_events
// table exists.
func InitClickHouse(dsn string) (*ClickHouse, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(10)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), createTable); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("Connected to ClickHouse")
	return &ClickHouse{DB: db}, nil
}

// Publish inserts a single event row.
func (c *ClickHouse) Publish(ctx context.Context, ev events.Event) error {
	if c == nil || c.DB == nil {
		return ErrUnavailable
	}
	stmt := `INSERT INTO lifecycle_events (event_id, timestamp, event_type, ad_id, actor_id, session_id, report_id, from_state, to_state, tier, amount, currency, detail) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := c.DB.ExecContext(ctx, stmt, rowArgs(ev)...); err != nil {
		return fmt.Errorf("insert %s event: %w", ev.Type, err)
	}
	return nil
}

func rowArgs(ev events.Event) []any {
	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return []any{
		ev.ID, at, string(ev.Type), ev.AdID, ev.ActorID, ev.SessionID, ev.ReportID,
		ev.FromState, ev.ToState, ev.Tier, ev.Amount, ev.Currency, ev.Detail,
	}
}

// EventsForAd returns the recorded history of an ad, oldest first.
func (c *ClickHouse) EventsForAd(ctx context.Context, adID string, limit int) ([]events.Event, error) {
	if c == nil || c.DB == nil {
		return nil, ErrUnavailable
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT event_id, timestamp, event_type, ad_id, actor_id, session_id, report_id, from_state, to_state, tier, amount, currency, detail FROM lifecycle_events WHERE ad_id=? ORDER BY timestamp LIMIT ?`
	rows, err := c.DB.QueryContext(ctx, query, adID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var out []events.Event
	for rows.Next() {
		var ev events.Event
		var typ string
		if err := rows.Scan(&ev.ID, &ev.OccurredAt, &typ, &ev.AdID, &ev.ActorID, &ev.SessionID, &ev.ReportID,
			&ev.FromState, &ev.ToState, &ev.Tier, &ev.Amount, &ev.Currency, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = events.Type(typ)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Close terminates the ClickHouse connection.
func (c *ClickHouse) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	if err := c.DB.Close(); err != nil {
		zap.L().Error("clickhouse close", zap.Error(err))
		return err
	}
	return nil
}
