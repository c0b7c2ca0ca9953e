package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"crucible/internal/httputil"
)

// JWTAuth verifies Bearer tokens against a JWKS endpoint. Keys are
// cached and refreshed by keyfunc based on HTTP cache headers.
type JWTAuth struct {
	jwks   keyfunc.Keyfunc
	logger *slog.Logger
}

// NewJWTAuth creates the verifier. With an empty jwksURL it returns
// nil, which callers treat as auth disabled.
func NewJWTAuth(jwksURL string, logger *slog.Logger) (*JWTAuth, error) {
	if jwksURL == "" {
		return nil, nil
	}

	jwks, err := keyfunc.NewDefaultCtx(context.Background(), []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("create JWKS client: %w", err)
	}

	logger.Info("JWT verification enabled", "jwks_url", jwksURL)
	return &JWTAuth{jwks: jwks, logger: logger}, nil
}

// Middleware rejects requests without a valid Bearer token. A nil
// receiver passes everything through.
func (a *JWTAuth) Middleware(next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := a.verify(bearerToken(r))
		if err != nil {
			httputil.RespondError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		if sub, _ := token.Claims.GetSubject(); sub != "" {
			r = r.WithContext(context.WithValue(r.Context(), subjectKey{}, sub))
		}
		next.ServeHTTP(w, r)
	})
}

func (a *JWTAuth) verify(tokenString string) (*jwt.Token, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("missing token")
	}

	token, err := jwt.Parse(tokenString, a.jwks.Keyfunc)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	// Allow only asymmetric algorithms; prevents algorithm confusion.
	switch token.Method.Alg() {
	case "RS256", "ES256":
	default:
		a.logger.Warn("token uses unexpected algorithm", "algorithm", token.Method.Alg())
		return nil, fmt.Errorf("unexpected signing algorithm")
	}

	return token, nil
}

// bearerToken extracts the token from the Authorization header, or
// from the token query parameter for WebSocket upgrades where custom
// headers are unavailable.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

type subjectKey struct{}

// Subject returns the authenticated subject stored by the middleware.
func Subject(ctx context.Context) string {
	sub, _ := ctx.Value(subjectKey{}).(string)
	return sub
}
