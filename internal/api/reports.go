package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/patrickwarner/adgallery/internal/middleware"
	"github.com/patrickwarner/adgallery/internal/moderation"
	"github.com/patrickwarner/adgallery/internal/models"
)

// ReportRequest is the payload for submitting an ad report.
type ReportRequest struct {
	Reason string `json:"reason"`
	Detail string `json:"detail"`
}

// ResolveRequest is an administrator's decision on a report.
type ResolveRequest struct {
	Status models.ReportStatus `json:"status"`
	Note   string              `json:"note"`
}

// FileReportHandler handles POST /api/ads/{id}/report.
func (s *Server) FileReportHandler(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.Moderation.FileReport(r.Context(), moderation.ReportInput{
		AdID:     mux.Vars(r)["id"],
		Reporter: middleware.CallerFromContext(r.Context()),
		Reason:   req.Reason,
		Detail:   req.Detail,
		Client:   s.Clients.FromRequest(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"report_id": id, "status": string(models.ReportPending)})
}

func (s *Server) ReportReasonsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"reasons": s.Moderation.Reasons()})
}

// ListReportsHandler lists reports, by default the pending ones.
func (s *Server) ListReportsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := models.ReportStatus(q.Get("status"))
	if !q.Has("status") {
		status = models.ReportPending
	} else if status == "all" {
		status = ""
	}
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	reports, err := s.Moderation.ListReports(r.Context(), middleware.CallerFromContext(r.Context()), status, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": orEmpty(reports)})
}

func (s *Server) GetReportHandler(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Moderation.GetReport(r.Context(), middleware.CallerFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ResolveReportHandler approves or rejects a pending report.
func (s *Server) ResolveReportHandler(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rep, err := s.Moderation.Resolve(r.Context(), mux.Vars(r)["id"], middleware.CallerFromContext(r.Context()), req.Status, req.Note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ReinstateHandler lifts a moderation lock and republishes the ad.
func (s *Server) ReinstateHandler(w http.ResponseWriter, r *http.Request) {
	ad, err := s.Coordinator.AdminReinstate(r.Context(), mux.Vars(r)["id"], middleware.CallerFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ad)
}
