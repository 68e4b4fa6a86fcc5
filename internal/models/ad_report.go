package models

import "time"

// ReportStatus is the moderation state of a report. Transitions are one-way
// out of ReportPending and require administrator capability.
type ReportStatus string

const (
	ReportPending  ReportStatus = "pending"
	ReportApproved ReportStatus = "approved"
	ReportRejected ReportStatus = "rejected"
)

// Decision reports whether s is a valid resolution outcome.
func (s ReportStatus) Decision() bool {
	return s == ReportApproved || s == ReportRejected
}

// MaxReportDetailLength bounds the free-text detail of a report.
const MaxReportDetailLength = 1000

// AdReport represents a user-submitted report about an ad. It references the
// ad by id only and outlives it.
type AdReport struct {
	ID         string       `json:"id"`
	AdID       string       `json:"ad_id"`
	ReporterID string       `json:"reporter_id"`
	Reason     string       `json:"reason"`
	Detail     string       `json:"detail,omitempty"`
	Status     ReportStatus `json:"status"`
	ReviewerID string       `json:"reviewer_id,omitempty"`
	AdminNote  string       `json:"admin_note,omitempty"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`

	// Client context captured at filing time for triage.
	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	Country    string `json:"country,omitempty"`
}

// ReportReason describes a predefined reason for reporting an ad.
type ReportReason struct {
	Code        string `json:"code"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// DefaultReportReasons is the catalogue seeded into report_reasons and used
// to validate incoming reports.
var DefaultReportReasons = []ReportReason{
	{Code: "spam", DisplayName: "Spam or scam", Description: "Spam, fraud or deceptive offer", Severity: "high"},
	{Code: "inappropriate", DisplayName: "Inappropriate content", Description: "Offensive or inappropriate content", Severity: "high"},
	{Code: "harassment", DisplayName: "Harassment", Description: "Targets or harasses a person or group", Severity: "high"},
	{Code: "violence", DisplayName: "Violence or threats", Description: "Depicts or threatens violence", Severity: "critical"},
	{Code: "copyright", DisplayName: "Copyright infringement", Description: "Uses material without permission", Severity: "medium"},
	{Code: "privacy", DisplayName: "Privacy violation", Description: "Exposes personal information", Severity: "high"},
	{Code: "other", DisplayName: "Other", Description: "Other issue", Severity: "medium"},
}

// IsReportReason reports whether code is in the default catalogue.
func IsReportReason(code string) bool {
	for _, r := range DefaultReportReasons {
		if r.Code == code {
			return true
		}
	}
	return false
}
