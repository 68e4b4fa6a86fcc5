// Package moderation takes reports about ads from users and lets
// administrators resolve them. An approved report hides the ad through the
// publication coordinator.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/adgallery/internal/clientinfo"
	"github.com/patrickwarner/adgallery/internal/events"
	"github.com/patrickwarner/adgallery/internal/models"
	"github.com/patrickwarner/adgallery/internal/observability"
	"github.com/patrickwarner/adgallery/internal/ratelimit"
)

var tracer = otel.Tracer("adgallery/moderation")

// Hider force-hides an ad and can undo a hide whose decision was lost.
type Hider interface {
	ModerationHide(ctx context.Context, adID, reviewerID string) (models.Ad, models.AdState, error)
	RevertModerationHide(ctx context.Context, adID string, prev models.AdState, actorID string) (bool, error)
}

// ReportInput is a user's report about an ad.
type ReportInput struct {
	AdID     string
	Reporter models.Caller
	Reason   string
	Detail   string
	Client   clientinfo.Info
}

// Workflow files and resolves reports.
type Workflow struct {
	ads     models.AdStore
	reports models.ReportStore
	hider   Hider
	limiter *ratelimit.KeyedLimiter
	events  events.Publisher
	metrics observability.MetricsRegistry
	logger  *zap.Logger
	now     func() time.Time
}

// NewWorkflow wires a workflow. limiter and pub may be nil.
func NewWorkflow(ads models.AdStore, reports models.ReportStore, hider Hider, limiter *ratelimit.KeyedLimiter, pub events.Publisher, metrics observability.MetricsRegistry, logger *zap.Logger) *Workflow {
	return &Workflow{
		ads:     ads,
		reports: reports,
		hider:   hider,
		limiter: limiter,
		events:  pub,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// FileReport records a pending report and returns its id. The ad may be in
// any state; duplicate reports from the same user are kept.
func (w *Workflow) FileReport(ctx context.Context, in ReportInput) (string, error) {
	ctx, span := tracer.Start(ctx, "moderation.FileReport")
	defer span.End()
	span.SetAttributes(attribute.String("ad.id", in.AdID))

	if !in.Reporter.Authenticated() {
		return "", models.ErrUnauthorized
	}
	reason := strings.TrimSpace(in.Reason)
	if !models.IsReportReason(reason) {
		return "", models.Invalid("unknown report reason %q", in.Reason)
	}
	if utf8.RuneCountInString(in.Detail) > models.MaxReportDetailLength {
		return "", models.Invalid("detail must be at most %d characters", models.MaxReportDetailLength)
	}
	if _, err := w.ads.GetAd(ctx, in.AdID); err != nil {
		return "", err
	}
	if !w.limiter.Allow(in.Reporter.UserID) {
		w.metrics.IncrementReportRateLimitHits()
		w.logger.Warn("report rate limited",
			zap.String("reporter_id", in.Reporter.UserID),
			zap.String("ip", in.Client.IPAddress))
		return "", models.ErrReportRateLimit
	}

	r := &models.AdReport{
		ID:         uuid.NewString(),
		AdID:       in.AdID,
		ReporterID: in.Reporter.UserID,
		Reason:     reason,
		Detail:     in.Detail,
		Status:     models.ReportPending,
		CreatedAt:  w.now(),
		IPAddress:  in.Client.IPAddress,
		UserAgent:  in.Client.UserAgent,
		DeviceType: in.Client.DeviceType,
		Country:    in.Client.Country,
	}
	if err := w.reports.InsertReport(ctx, r); err != nil {
		return "", fmt.Errorf("insert report: %w", err)
	}

	w.metrics.IncrementReports()
	w.logger.Info("ad reported",
		zap.String("report_id", r.ID),
		zap.String("ad_id", r.AdID),
		zap.String("reason", r.Reason),
		zap.String("country", r.Country))
	events.Emit(ctx, w.events, w.logger, events.Event{
		Type:     events.ReportFiled,
		AdID:     r.AdID,
		ActorID:  r.ReporterID,
		ReportID: r.ID,
		Detail:   r.Reason,
	})
	return r.ID, nil
}

// Resolve records an administrator's decision on a pending report. Approval
// hides the ad first, so a recorded approval always has its effect; if the
// ad has been deleted the decision is still recorded. An approval that
// loses the decision to a concurrent resolution undoes its own hide.
func (w *Workflow) Resolve(ctx context.Context, reportID string, caller models.Caller, decision models.ReportStatus, note string) (models.AdReport, error) {
	ctx, span := tracer.Start(ctx, "moderation.Resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("report.id", reportID),
		attribute.String("report.decision", string(decision)),
	)

	if !caller.IsAdmin {
		return models.AdReport{}, models.ErrAdminRequired
	}
	if !decision.Decision() {
		return models.AdReport{}, models.Invalid("status must be approved or rejected")
	}
	r, err := w.reports.GetReport(ctx, reportID)
	if err != nil {
		return models.AdReport{}, err
	}
	if r.Status != models.ReportPending {
		return r, models.ErrReportResolved
	}

	var prev models.AdState
	hid := false
	if decision == models.ReportApproved {
		ad, from, err := w.hider.ModerationHide(ctx, r.AdID, caller.UserID)
		switch {
		case errors.Is(err, models.ErrNotFound):
			w.logger.Info("approved report for deleted ad",
				zap.String("report_id", r.ID),
				zap.String("ad_id", r.AdID))
		case err != nil:
			return models.AdReport{}, fmt.Errorf("hide ad %s: %w", r.AdID, err)
		default:
			prev, hid = from, from != ad.StateOf()
		}
	}

	at := w.now()
	ok, err := w.reports.ResolveReport(ctx, reportID, decision, caller.UserID, note, at)
	if err != nil {
		return models.AdReport{}, fmt.Errorf("resolve report %s: %w", reportID, err)
	}
	if !ok {
		// another administrator got there first
		if hid {
			w.undoHide(ctx, r, prev, caller.UserID)
		}
		if current, err := w.reports.GetReport(ctx, reportID); err == nil {
			r = current
		}
		return r, models.ErrReportResolved
	}

	r.Status = decision
	r.ReviewerID = caller.UserID
	r.AdminNote = note
	r.ResolvedAt = &at

	w.metrics.IncrementResolutions(string(decision))
	w.logger.Info("report resolved",
		zap.String("report_id", r.ID),
		zap.String("ad_id", r.AdID),
		zap.String("decision", string(decision)),
		zap.String("reviewer_id", caller.UserID))
	events.Emit(ctx, w.events, w.logger, events.Event{
		Type:     events.ReportResolved,
		AdID:     r.AdID,
		ActorID:  caller.UserID,
		ReportID: r.ID,
		Detail:   string(decision),
	})
	return r, nil
}

// undoHide reverts a hide made for an approval that was never recorded.
// The hide stays when some other approved report covers the ad.
func (w *Workflow) undoHide(ctx context.Context, r models.AdReport, prev models.AdState, actorID string) {
	logger := w.logger.With(zap.String("report_id", r.ID), zap.String("ad_id", r.AdID))
	covered, err := w.reports.HasApprovedReport(ctx, r.AdID)
	if err != nil {
		logger.Error("check approved reports before reverting hide", zap.Error(err))
		return
	}
	if covered {
		logger.Info("ad stays hidden under another approved report")
		return
	}
	if _, err := w.hider.RevertModerationHide(ctx, r.AdID, prev, actorID); err != nil {
		logger.Error("revert moderation hide", zap.Error(err))
	}
}

// ListReports returns reports with the given status, newest first. An
// empty status lists every report.
func (w *Workflow) ListReports(ctx context.Context, caller models.Caller, status models.ReportStatus, limit int) ([]models.AdReport, error) {
	if !caller.IsAdmin {
		return nil, models.ErrAdminRequired
	}
	switch status {
	case "", models.ReportPending, models.ReportApproved, models.ReportRejected:
	default:
		return nil, models.Invalid("unknown report status %q", status)
	}
	return w.reports.ListReports(ctx, status, limit)
}

// GetReport returns a single report.
func (w *Workflow) GetReport(ctx context.Context, caller models.Caller, id string) (models.AdReport, error) {
	if !caller.IsAdmin {
		return models.AdReport{}, models.ErrAdminRequired
	}
	return w.reports.GetReport(ctx, id)
}

// Reasons returns the catalogue of accepted report reasons.
func (w *Workflow) Reasons() []models.ReportReason {
	return models.DefaultReportReasons
}
