package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/patrickwarner/adgallery/internal/middleware"
	"github.com/patrickwarner/adgallery/internal/models"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a domain error kind to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, models.ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	switch models.KindOf(err) {
	case models.KindValidation, models.KindSignature:
		return http.StatusBadRequest
	case models.KindAuthorization:
		return http.StatusForbidden
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	case models.KindTransient:
		return http.StatusServiceUnavailable
	case models.KindRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error", "code"}. Unclassified errors are
// logged and shown as a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := middleware.LoggerFromRequest(r, s.Logger)

	var de *models.Error
	if status == http.StatusInternalServerError || !errors.As(err, &de) {
		logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
		return
	}
	if status == http.StatusServiceUnavailable {
		logger.Warn("transient failure", zap.String("path", r.URL.Path), zap.Error(err))
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorBody{Error: de.Msg, Code: de.Code})
}

// decodeJSON reads a JSON body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return models.Invalid("invalid json")
	}
	return nil
}
