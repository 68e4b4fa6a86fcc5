package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/patrickwarner/adgallery/internal/models"
)

func callerEcho(t *testing.T, got *models.Caller) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestIdentify(t *testing.T) {
	auth := NewAuthenticator("secret")
	var got models.Caller
	h := auth.Identify(callerEcho(t, &got))

	token, err := auth.Issue(models.Caller{UserID: "u1", IsAdmin: true}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, models.Caller{UserID: "u1", IsAdmin: true}, got)

	// anonymous requests pass through
	got = models.Caller{}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, got.Authenticated())
}

func TestIdentifyRejectsBadTokens(t *testing.T) {
	auth := NewAuthenticator("secret")
	var got models.Caller
	h := auth.Identify(callerEcho(t, &got))

	other, err := NewAuthenticator("other").Issue(models.Caller{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	expired, err := auth.Issue(models.Caller{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"wrong secret": "Bearer " + other,
		"expired":      "Bearer " + expired,
		"alg none":     "Bearer " + none,
		"not bearer":   "Basic dTE6cHc=",
		"garbage":      "Bearer abc",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", header)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Contains(t, rr.Body.String(), `"code":"unauthorized"`)
		})
	}
}

func TestTraceLoggerAddsRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := WithTraceLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		LoggerFromRequest(r, zap.NewNop()).Info("handled")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "req-1", rr.Header().Get(RequestIDHeader))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "req-1", logs.All()[0].ContextMap()["request_id"])

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))
}
