package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/adgallery/internal/models"
)

// Postgres wraps a postgres DB connection and implements the ad, payment,
// pricing tier and report stores.
type Postgres struct {
	DB *sql.DB
}

var (
	_ models.AdStore      = (*Postgres)(nil)
	_ models.PaymentStore = (*Postgres)(nil)
	_ models.TierStore    = (*Postgres)(nil)
	_ models.ReportStore  = (*Postgres)(nil)
)

// schemaSQL sets up the necessary tables if they don't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS ads (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    image_url TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT 'pending_review'
        CHECK (state IN ('pending_review', 'published', 'hidden')),
    moderation_locked BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS pricing_tiers (
    name TEXT PRIMARY KEY,
    reserved_count BIGINT NOT NULL DEFAULT 0,
    capacity BIGINT NOT NULL DEFAULT 0,
    CHECK (name <> 'sale' OR reserved_count <= capacity)
);

CREATE TABLE IF NOT EXISTS payments (
    session_id TEXT PRIMARY KEY,
    ad_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    tier TEXT NOT NULL REFERENCES pricing_tiers(name),
    amount BIGINT NOT NULL,
    currency TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'completed', 'cancelled')),
    payment_intent_id TEXT,
    checkout_url TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ,
    cancelled_at TIMESTAMPTZ
);

ALTER TABLE payments ADD COLUMN IF NOT EXISTS checkout_url TEXT NOT NULL DEFAULT '';

CREATE TABLE IF NOT EXISTS report_reasons (
    code VARCHAR(50) PRIMARY KEY,
    display_name VARCHAR(100) NOT NULL,
    description TEXT,
    severity VARCHAR(20) DEFAULT 'medium'
);

-- reports keep ad_id without a foreign key so they survive ad deletion
CREATE TABLE IF NOT EXISTS reports (
    id TEXT PRIMARY KEY,
    ad_id TEXT NOT NULL,
    reporter_id TEXT NOT NULL,
    reason VARCHAR(50) NOT NULL REFERENCES report_reasons(code),
    detail TEXT NOT NULL DEFAULT '' CHECK (char_length(detail) <= 1000),
    status VARCHAR(20) NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'approved', 'rejected')),
    reviewer_id TEXT,
    admin_note TEXT,
    resolved_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    ip_address INET,
    user_agent TEXT,
    device_type TEXT,
    country TEXT
);

CREATE INDEX IF NOT EXISTS idx_ads_state_created ON ads (state, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_ads_owner ON ads (owner_id);
CREATE INDEX IF NOT EXISTS idx_payments_ad_user ON payments (ad_id, user_id, status);
-- one pending or completed checkout per ad
CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_one_active ON payments (ad_id)
    WHERE status IN ('pending', 'completed');
CREATE INDEX IF NOT EXISTS idx_reports_status_created ON reports (status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_reports_ad ON reports (ad_id);
`

// uniqueViolation is the Postgres SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

const activePaymentIndex = "idx_payments_one_active"

// InitPostgres connects to Postgres with connection pooling configuration
// and ensures the schema and report reason catalogue exist.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if err := p.ensureReportReasons(ctx); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// ensureReportReasons inserts the default report reasons that are missing.
func (p *Postgres) ensureReportReasons(ctx context.Context) error {
	for _, rr := range models.DefaultReportReasons {
		if _, err := p.DB.ExecContext(ctx,
			`INSERT INTO report_reasons (code, display_name, description, severity) VALUES ($1,$2,$3,$4)
			 ON CONFLICT (code) DO NOTHING`,
			rr.Code, rr.DisplayName, rr.Description, rr.Severity); err != nil {
			return fmt.Errorf("insert report reason %s: %w", rr.Code, err)
		}
	}
	return nil
}

// EnsurePricingTiers creates the sale and regular tiers. An existing sale
// capacity is updated but never lowered below what is already reserved.
func (p *Postgres) EnsurePricingTiers(ctx context.Context, saleCapacity int64) error {
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO pricing_tiers (name, reserved_count, capacity) VALUES ($1, 0, $2), ($3, 0, 0)
		 ON CONFLICT (name) DO UPDATE
		 SET capacity = GREATEST(EXCLUDED.capacity, pricing_tiers.reserved_count)
		 WHERE pricing_tiers.name = $1`,
		models.TierSale, saleCapacity, models.TierRegular)
	if err != nil {
		return fmt.Errorf("ensure pricing tiers: %w", err)
	}
	return nil
}

// ListReportReasons returns the report reason catalogue.
func (p *Postgres) ListReportReasons(ctx context.Context) ([]models.ReportReason, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT code, display_name, COALESCE(description, ''), COALESCE(severity, 'medium') FROM report_reasons ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("query report reasons: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var out []models.ReportReason
	for rows.Next() {
		var rr models.ReportReason
		if err := rows.Scan(&rr.Code, &rr.DisplayName, &rr.Description, &rr.Severity); err != nil {
			return nil, fmt.Errorf("scan report reason: %w", err)
		}
		out = append(out, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// ===== Ads =====

const adColumns = `id, owner_id, title, description, image_url, state, moderation_locked, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAd(row rowScanner) (models.Ad, error) {
	var ad models.Ad
	err := row.Scan(&ad.ID, &ad.OwnerID, &ad.Title, &ad.Description, &ad.ImageURL,
		&ad.State, &ad.ModerationLocked, &ad.CreatedAt, &ad.UpdatedAt)
	return ad, err
}

func (p *Postgres) InsertAd(ctx context.Context, ad *models.Ad) error {
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO ads (`+adColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ad.ID, ad.OwnerID, ad.Title, ad.Description, ad.ImageURL,
		ad.State, ad.ModerationLocked, ad.CreatedAt, ad.UpdatedAt)
	if isUniqueViolation(err) {
		return models.Invalid("ad %s already exists", ad.ID)
	}
	if err != nil {
		return fmt.Errorf("insert ad: %w", err)
	}
	return nil
}

func (p *Postgres) GetAd(ctx context.Context, id string) (models.Ad, error) {
	ad, err := scanAd(p.DB.QueryRowContext(ctx, `SELECT `+adColumns+` FROM ads WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ad{}, models.ErrNotFound
	}
	if err != nil {
		return models.Ad{}, fmt.Errorf("get ad %s: %w", id, err)
	}
	return ad, nil
}

func (p *Postgres) ListAdsByState(ctx context.Context, state models.PublicationState, limit, offset int) ([]models.Ad, error) {
	return p.queryAds(ctx,
		`SELECT `+adColumns+` FROM ads WHERE state = $1 ORDER BY created_at DESC LIMIT NULLIF($2::int, 0) OFFSET $3`,
		state, limit, offset)
}

func (p *Postgres) ListAdsByOwner(ctx context.Context, ownerID string) ([]models.Ad, error) {
	return p.queryAds(ctx, `SELECT `+adColumns+` FROM ads WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
}

func (p *Postgres) queryAds(ctx context.Context, query string, args ...any) ([]models.Ad, error) {
	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ads: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var ads []models.Ad
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ad: %w", err)
		}
		ads = append(ads, ad)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return ads, nil
}

func (p *Postgres) CompareAndSetAdState(ctx context.Context, id string, from, to models.AdState) (bool, error) {
	res, err := p.DB.ExecContext(ctx,
		`UPDATE ads SET state = $1, moderation_locked = $2, updated_at = NOW()
		 WHERE id = $3 AND state = $4 AND moderation_locked = $5`,
		to.State, to.Locked, id, from.State, from.Locked)
	if err != nil {
		return false, fmt.Errorf("update ad state: %w", err)
	}
	return p.applied(ctx, res, `SELECT EXISTS (SELECT 1 FROM ads WHERE id = $1)`, id)
}

func (p *Postgres) DeleteAd(ctx context.Context, id string) error {
	res, err := p.DB.ExecContext(ctx, `DELETE FROM ads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete ad: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ===== Payments =====

const paymentColumns = `session_id, ad_id, user_id, tier, amount, currency, status, payment_intent_id, checkout_url, created_at, completed_at, cancelled_at`

func (p *Postgres) InsertPayment(ctx context.Context, rec models.PaymentRecord) error {
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO payments (session_id, ad_id, user_id, tier, amount, currency, status, checkout_url, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.SessionID, rec.AdID, rec.UserID, rec.Tier, rec.Amount, rec.Currency, rec.Status, rec.CheckoutURL, rec.CreatedAt)
	if isUniqueViolation(err) {
		if violatedConstraint(err) == activePaymentIndex {
			return models.ErrCheckoutOpen
		}
		return models.Invalid("payment session %s already recorded", rec.SessionID)
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func scanPayment(row rowScanner) (models.PaymentRecord, error) {
	var rec models.PaymentRecord
	var intent sql.NullString
	var completed, cancelled sql.NullTime
	if err := row.Scan(&rec.SessionID, &rec.AdID, &rec.UserID, &rec.Tier, &rec.Amount, &rec.Currency, &rec.Status,
		&intent, &rec.CheckoutURL, &rec.CreatedAt, &completed, &cancelled); err != nil {
		return models.PaymentRecord{}, err
	}
	rec.PaymentIntentID = intent.String
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	if cancelled.Valid {
		rec.CancelledAt = &cancelled.Time
	}
	return rec, nil
}

func (p *Postgres) GetPayment(ctx context.Context, sessionID string) (models.PaymentRecord, error) {
	rec, err := scanPayment(p.DB.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE session_id = $1`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.PaymentRecord{}, models.ErrNotFound
	}
	if err != nil {
		return models.PaymentRecord{}, fmt.Errorf("get payment %s: %w", sessionID, err)
	}
	return rec, nil
}

func (p *Postgres) ActivePayment(ctx context.Context, adID string) (models.PaymentRecord, error) {
	rec, err := scanPayment(p.DB.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE ad_id = $1 AND status IN ('pending', 'completed')`, adID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.PaymentRecord{}, models.ErrNotFound
	}
	if err != nil {
		return models.PaymentRecord{}, fmt.Errorf("get active payment for %s: %w", adID, err)
	}
	return rec, nil
}

func (p *Postgres) TerminalizePayment(ctx context.Context, sessionID string, to models.PaymentStatus, paymentIntentID string, at time.Time) (bool, error) {
	var intent sql.NullString
	var completed, cancelled sql.NullTime
	switch to {
	case models.PaymentCompleted:
		intent = sql.NullString{String: paymentIntentID, Valid: paymentIntentID != ""}
		completed = sql.NullTime{Time: at, Valid: true}
	case models.PaymentCancelled:
		cancelled = sql.NullTime{Time: at, Valid: true}
	default:
		return false, models.Invalid("payment status %q is not terminal", to)
	}
	res, err := p.DB.ExecContext(ctx,
		`UPDATE payments
		 SET status = $2,
		     payment_intent_id = COALESCE($3, payment_intent_id),
		     completed_at = COALESCE($4, completed_at),
		     cancelled_at = COALESCE($5, cancelled_at)
		 WHERE session_id = $1 AND status = 'pending'`,
		sessionID, to, intent, completed, cancelled)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	return p.applied(ctx, res, `SELECT EXISTS (SELECT 1 FROM payments WHERE session_id = $1)`, sessionID)
}

// ===== Pricing tiers =====

func (p *Postgres) GetTier(ctx context.Context, name models.TierName) (models.PricingTier, error) {
	t := models.PricingTier{Name: name}
	err := p.DB.QueryRowContext(ctx, `SELECT reserved_count, capacity FROM pricing_tiers WHERE name = $1`, name).
		Scan(&t.ReservedCount, &t.Capacity)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PricingTier{}, models.ErrNotFound
	}
	if err != nil {
		return models.PricingTier{}, fmt.Errorf("get tier %s: %w", name, err)
	}
	return t, nil
}

func (p *Postgres) CompareAndIncrementTier(ctx context.Context, name models.TierName, expected int64) (bool, error) {
	res, err := p.DB.ExecContext(ctx,
		`UPDATE pricing_tiers SET reserved_count = reserved_count + 1
		 WHERE name = $1 AND reserved_count = $2 AND reserved_count < capacity`,
		name, expected)
	if err != nil {
		return false, fmt.Errorf("increment tier %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ===== Reports =====

const reportColumns = `id, ad_id, reporter_id, reason, detail, status, reviewer_id, admin_note, resolved_at, created_at, host(ip_address), user_agent, device_type, country`

func scanReport(row rowScanner) (models.AdReport, error) {
	var r models.AdReport
	var reviewer, note, ip, ua, device, country sql.NullString
	var resolved sql.NullTime
	if err := row.Scan(&r.ID, &r.AdID, &r.ReporterID, &r.Reason, &r.Detail, &r.Status,
		&reviewer, &note, &resolved, &r.CreatedAt, &ip, &ua, &device, &country); err != nil {
		return r, err
	}
	r.ReviewerID = reviewer.String
	r.AdminNote = note.String
	if resolved.Valid {
		r.ResolvedAt = &resolved.Time
	}
	r.IPAddress = ip.String
	r.UserAgent = ua.String
	r.DeviceType = device.String
	r.Country = country.String
	return r, nil
}

func (p *Postgres) InsertReport(ctx context.Context, r *models.AdReport) error {
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO reports (id, ad_id, reporter_id, reason, detail, status, created_at, ip_address, user_agent, device_type, country)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8, '')::inet,$9,$10,$11)`,
		r.ID, r.AdID, r.ReporterID, r.Reason, r.Detail, r.Status, r.CreatedAt,
		r.IPAddress, r.UserAgent, r.DeviceType, r.Country)
	if isUniqueViolation(err) {
		return models.Invalid("report %s already exists", r.ID)
	}
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (p *Postgres) GetReport(ctx context.Context, id string) (models.AdReport, error) {
	r, err := scanReport(p.DB.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.AdReport{}, models.ErrNotFound
	}
	if err != nil {
		return models.AdReport{}, fmt.Errorf("get report %s: %w", id, err)
	}
	return r, nil
}

func (p *Postgres) ListReports(ctx context.Context, status models.ReportStatus, limit int) ([]models.AdReport, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports
		 WHERE ($1::text = '' OR status = $1)
		 ORDER BY created_at DESC LIMIT NULLIF($2::int, 0)`,
		status, limit)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var out []models.AdReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func (p *Postgres) ResolveReport(ctx context.Context, id string, status models.ReportStatus, reviewerID, note string, at time.Time) (bool, error) {
	res, err := p.DB.ExecContext(ctx,
		`UPDATE reports SET status = $2, reviewer_id = $3, admin_note = NULLIF($4, ''), resolved_at = $5
		 WHERE id = $1 AND status = 'pending'`,
		id, status, reviewerID, note, at)
	if err != nil {
		return false, fmt.Errorf("resolve report: %w", err)
	}
	return p.applied(ctx, res, `SELECT EXISTS (SELECT 1 FROM reports WHERE id = $1)`, id)
}

func (p *Postgres) HasApprovedReport(ctx context.Context, adID string) (bool, error) {
	var exists bool
	err := p.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM reports WHERE ad_id = $1 AND status = 'approved')`, adID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check approved reports: %w", err)
	}
	return exists, nil
}

// applied turns the result of a conditional update into the store
// contract: true when a row changed, false when the row exists but did not
// match, ErrNotFound when there is no such row.
func (p *Postgres) applied(ctx context.Context, res sql.Result, existsQuery string, id string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	var exists bool
	if err := p.DB.QueryRowContext(ctx, existsQuery, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check existence: %w", err)
	}
	if !exists {
		return false, models.ErrNotFound
	}
	return false, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func violatedConstraint(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}
