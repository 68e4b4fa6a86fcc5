package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/adgallery/internal/analytics"
	"github.com/patrickwarner/adgallery/internal/config"
	"github.com/patrickwarner/adgallery/internal/db"
	"github.com/patrickwarner/adgallery/internal/events"
	"github.com/patrickwarner/adgallery/internal/models"
	"github.com/patrickwarner/adgallery/internal/moderation"
	"github.com/patrickwarner/adgallery/internal/observability"
	"github.com/patrickwarner/adgallery/internal/pricing"
	"github.com/patrickwarner/adgallery/internal/publication"
)

type GetPricingInput struct{}

type ListReportsInput struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type Report struct {
	ID         string `json:"id"`
	AdID       string `json:"ad_id"`
	ReporterID string `json:"reporter_id"`
	Reason     string `json:"reason"`
	Detail     string `json:"detail,omitempty"`
	Status     string `json:"status"`
	ReviewerID string `json:"reviewer_id,omitempty"`
	AdminNote  string `json:"admin_note,omitempty"`
	Country    string `json:"country,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	CreatedAt  string `json:"created_at"`
	ResolvedAt string `json:"resolved_at,omitempty"`
}

type ListReportsOutput struct {
	Reports []Report `json:"reports"`
}

type ResolveReportInput struct {
	ReportID string `json:"report_id"`
	Decision string `json:"decision"`
	Note     string `json:"note,omitempty"`
}

type AdInput struct {
	AdID string `json:"ad_id"`
}

type AdOutput struct {
	ID               string `json:"id"`
	OwnerID          string `json:"owner_id"`
	Title            string `json:"title"`
	State            string `json:"state"`
	ModerationLocked bool   `json:"moderation_locked"`
}

type HistoryEvent struct {
	Type       string `json:"type"`
	ActorID    string `json:"actor_id,omitempty"`
	FromState  string `json:"from_state,omitempty"`
	ToState    string `json:"to_state,omitempty"`
	Tier       string `json:"tier,omitempty"`
	Amount     int64  `json:"amount,omitempty"`
	Detail     string `json:"detail,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

type AdHistoryOutput struct {
	Events []HistoryEvent `json:"events"`
}

func toReport(r models.AdReport) Report {
	out := Report{
		ID:         r.ID,
		AdID:       r.AdID,
		ReporterID: r.ReporterID,
		Reason:     r.Reason,
		Detail:     r.Detail,
		Status:     string(r.Status),
		ReviewerID: r.ReviewerID,
		AdminNote:  r.AdminNote,
		Country:    r.Country,
		DeviceType: r.DeviceType,
		CreatedAt:  r.CreatedAt.Format(time.RFC3339),
	}
	if r.ResolvedAt != nil {
		out.ResolvedAt = r.ResolvedAt.Format(time.RFC3339)
	}
	return out
}

func toAd(ad models.Ad) AdOutput {
	return AdOutput{
		ID:               ad.ID,
		OwnerID:          ad.OwnerID,
		Title:            ad.Title,
		State:            string(ad.State),
		ModerationLocked: ad.ModerationLocked,
	}
}

// History reads recorded lifecycle events.
type History interface {
	EventsForAd(ctx context.Context, adID string, limit int) ([]events.Event, error)
}

// ModerationServer exposes the moderation queue to an operator's assistant.
// Every tool call acts as the configured administrator.
type ModerationServer struct {
	pricing     *pricing.Allocator
	workflow    *moderation.Workflow
	coordinator *publication.Coordinator
	history     History
	operator    models.Caller
	logger      *zap.Logger
}

// GetPricing reports the current offer.
func (s *ModerationServer) GetPricing(ctx context.Context, req *mcp.CallToolRequest, _ GetPricingInput) (*mcp.CallToolResult, models.PricingSnapshot, error) {
	snap, err := s.pricing.Snapshot(ctx)
	if err != nil {
		return nil, models.PricingSnapshot{}, fmt.Errorf("pricing snapshot: %w", err)
	}
	return nil, snap, nil
}

// ListReports returns reports by status, pending by default.
func (s *ModerationServer) ListReports(ctx context.Context, req *mcp.CallToolRequest, input ListReportsInput) (*mcp.CallToolResult, ListReportsOutput, error) {
	status := models.ReportStatus(input.Status)
	switch input.Status {
	case "":
		status = models.ReportPending
	case "all":
		status = ""
	}
	reports, err := s.workflow.ListReports(ctx, s.operator, status, input.Limit)
	if err != nil {
		return nil, ListReportsOutput{}, err
	}
	out := ListReportsOutput{Reports: make([]Report, 0, len(reports))}
	for _, r := range reports {
		out.Reports = append(out.Reports, toReport(r))
	}
	return nil, out, nil
}

// ResolveReport approves or rejects a pending report.
func (s *ModerationServer) ResolveReport(ctx context.Context, req *mcp.CallToolRequest, input ResolveReportInput) (*mcp.CallToolResult, Report, error) {
	r, err := s.workflow.Resolve(ctx, input.ReportID, s.operator, models.ReportStatus(input.Decision), input.Note)
	if err != nil {
		return nil, Report{}, err
	}
	s.logger.Info("report resolved via mcp",
		zap.String("report_id", r.ID),
		zap.String("decision", string(r.Status)))
	return nil, toReport(r), nil
}

// ReinstateAd lifts a moderation lock.
func (s *ModerationServer) ReinstateAd(ctx context.Context, req *mcp.CallToolRequest, input AdInput) (*mcp.CallToolResult, AdOutput, error) {
	ad, err := s.coordinator.AdminReinstate(ctx, input.AdID, s.operator)
	if err != nil {
		return nil, AdOutput{}, err
	}
	return nil, toAd(ad), nil
}

// AdHistory returns the lifecycle events recorded for an ad.
func (s *ModerationServer) AdHistory(ctx context.Context, req *mcp.CallToolRequest, input AdInput) (*mcp.CallToolResult, AdHistoryOutput, error) {
	if s.history == nil {
		return nil, AdHistoryOutput{}, analytics.ErrUnavailable
	}
	evs, err := s.history.EventsForAd(ctx, input.AdID, 0)
	if err != nil {
		return nil, AdHistoryOutput{}, err
	}
	out := AdHistoryOutput{Events: make([]HistoryEvent, 0, len(evs))}
	for _, ev := range evs {
		out.Events = append(out.Events, HistoryEvent{
			Type:       string(ev.Type),
			ActorID:    ev.ActorID,
			FromState:  ev.FromState,
			ToState:    ev.ToState,
			Tier:       ev.Tier,
			Amount:     ev.Amount,
			Detail:     ev.Detail,
			OccurredAt: ev.OccurredAt.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

// register adds every tool to server.
func (s *ModerationServer) register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_pricing",
		Description: "Show the current posting price and how many sale slots are left",
		InputSchema: map[string]interface{}{"type": "object"},
	}, s.GetPricing)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_reports",
		Description: "List ad reports in the moderation queue",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"status": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"pending", "approved", "rejected", "all"},
					"description": "Report status (optional, defaults to pending)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of reports",
				},
			},
		},
	}, s.ListReports)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "resolve_report",
		Description: "Approve (hide the ad) or reject a pending report",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"report_id": map[string]interface{}{"type": "string"},
				"decision": map[string]interface{}{
					"type": "string",
					"enum": []string{"approved", "rejected"},
				},
				"note": map[string]interface{}{
					"type":        "string",
					"description": "Note recorded with the decision",
				},
			},
			"required": []string{"report_id", "decision"},
		},
	}, s.ResolveReport)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reinstate_ad",
		Description: "Publish an ad that moderation hid and lift its lock",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"ad_id": map[string]interface{}{"type": "string"}},
			"required":   []string{"ad_id"},
		},
	}, s.ReinstateAd)

	if s.history != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "ad_history",
			Description: "Show the recorded lifecycle events of an ad",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"ad_id": map[string]interface{}{"type": "string"}},
				"required":   []string{"ad_id"},
			},
		}, s.AdHistory)
	}
}

func main() {
	appCfg := config.Load()

	// stdout carries the protocol, so logs go to stderr
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"

	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("adgallery-mcp").With(zap.String("service", "adgallery-mcp"))
	logger.Info("Starting ad gallery MCP server")

	pg, err := db.InitPostgres(appCfg.PostgresDSN, 10, 5, 30*time.Minute, 5*time.Minute)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pg.Close()

	var history History
	if appCfg.ClickHouseDSN != "" {
		ch, err := analytics.InitClickHouse(appCfg.ClickHouseDSN)
		if err != nil {
			logger.Warn("ClickHouse unavailable, ad_history disabled", zap.Error(err))
		} else {
			defer func() { _ = ch.Close() }()
			history = ch
		}
	}

	operatorID := os.Getenv("MCP_OPERATOR_ID")
	if operatorID == "" {
		operatorID = "mcp-operator"
	}

	metrics := observability.NewNoOpRegistry()
	coordinator := publication.NewCoordinator(pg, pg, nil, metrics, logger)
	srv := &ModerationServer{
		pricing: pricing.NewAllocator(pg, pricing.Config{
			Currency:     appCfg.Currency,
			SalePrice:    appCfg.SalePrice,
			RegularPrice: appCfg.RegularPrice,
			MaxRetries:   appCfg.ReservationMaxRetries,
		}, metrics, logger),
		workflow:    moderation.NewWorkflow(pg, pg, coordinator, nil, nil, metrics, logger),
		coordinator: coordinator,
		history:     history,
		operator:    models.Caller{UserID: operatorID, IsAdmin: true},
		logger:      logger,
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "adgallery",
		Version: "1.0.0",
	}, nil)
	srv.register(server)

	var logBuffer bytes.Buffer
	transport := &mcp.LoggingTransport{
		Transport: &mcp.StdioTransport{},
		Writer:    &logBuffer,
	}

	logger.Info("MCP server running via stdio", zap.String("operator", operatorID))
	if err := server.Run(context.Background(), transport); err != nil {
		logger.Fatal("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
	}
}
