package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/patrickwarner/adgallery/internal/models"
)

type callerKey struct{}

// Claims are the bearer token claims issued by the identity service.
type Claims struct {
	UserID  string `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns an authenticator for the shared secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Identify resolves the bearer token, if any, into a models.Caller stored
// on the request context. Requests without a token pass through anonymous;
// a token that fails verification is rejected with 401.
func (a *Authenticator) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			unauthorized(w)
			return
		}
		caller, err := a.Parse(parts[1])
		if err != nil {
			LoggerFromRequest(r, nopLogger).Debug("bearer token rejected")
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// Parse verifies a token and returns its caller.
func (a *Authenticator) Parse(token string) (models.Caller, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.Caller{}, err
	}
	if !tok.Valid || claims.UserID == "" {
		return models.Caller{}, errors.New("token carries no user")
	}
	return models.Caller{UserID: claims.UserID, IsAdmin: claims.IsAdmin}, nil
}

// Issue signs a token for caller. Used by tooling and tests.
func (a *Authenticator) Issue(caller models.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:  caller.UserID,
		IsAdmin: caller.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// WithCaller stores caller on ctx.
func WithCaller(ctx context.Context, caller models.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the caller, or the zero Caller for anonymous
// requests.
func CallerFromContext(ctx context.Context) models.Caller {
	c, _ := ctx.Value(callerKey{}).(models.Caller)
	return c
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": "invalid credentials",
		"code":  models.ErrUnauthorized.Code,
	})
}
