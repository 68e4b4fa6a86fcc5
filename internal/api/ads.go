package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/patrickwarner/adgallery/internal/middleware"
	"github.com/patrickwarner/adgallery/internal/models"
	"github.com/patrickwarner/adgallery/internal/publication"
)

// StatusRequest is the payload of PATCH /api/ads/{id}/status.
type StatusRequest struct {
	Publish *bool `json:"publish"`
}

func (s *Server) CreateAdHandler(w http.ResponseWriter, r *http.Request) {
	var in publication.NewAd
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	ad, err := s.Catalog.Create(r.Context(), middleware.CallerFromContext(r.Context()), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ad)
}

// ListAdsHandler serves the public gallery. With mine=true it lists the
// caller's own ads in every state.
func (s *Server) ListAdsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("mine") == "true" {
		ads, err := s.Catalog.ListMine(r.Context(), middleware.CallerFromContext(r.Context()))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ads": orEmpty(ads)})
		return
	}
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := queryInt(q.Get("offset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ads, err := s.Catalog.ListPublished(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ads": orEmpty(ads)})
}

func (s *Server) GetAdHandler(w http.ResponseWriter, r *http.Request) {
	ad, err := s.Catalog.Get(r.Context(), middleware.CallerFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ad)
}

func (s *Server) DeleteAdHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Catalog.Delete(r.Context(), middleware.CallerFromContext(r.Context()), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateStatusHandler lets the owner publish or unpublish an ad.
func (s *Server) UpdateStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Publish == nil {
		s.writeError(w, r, models.Invalid("publish is required"))
		return
	}
	ad, err := s.Coordinator.OwnerToggle(r.Context(), mux.Vars(r)["id"], middleware.CallerFromContext(r.Context()), *req.Publish)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ad)
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, models.Invalid("invalid number %q", v)
	}
	return n, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
