package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/docket-desk/internal/domain"
	jwtinfra "github.com/docket-desk/internal/infrastructure/jwt"
)

type contextKey string

const claimsKey contextKey = "claims"

// TokenVerifier validates a bearer token.
type TokenVerifier interface {
	Verify(tokenStr string) (*jwtinfra.Claims, error)
}

// Auth returns middleware that validates the Bearer JWT and injects claims into context.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeJSONError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := verifier.Verify(tokenStr)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if claims.Role == domain.RoleGateway {
				claims = onBehalfOf(r, claims)
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// onBehalfOf swaps a gateway's claims for the operator it forwards. Without
// an operator header the gateway acts as itself. Only admin is passed through
// as a role; anything else becomes operator.
func onBehalfOf(r *http.Request, gateway *jwtinfra.Claims) *jwtinfra.Claims {
	userID := strings.TrimSpace(r.Header.Get(domain.HeaderOperatorID))
	if userID == "" {
		return gateway
	}
	name, err := url.QueryUnescape(r.Header.Get(domain.HeaderOperatorName))
	if err != nil {
		name = ""
	}
	role := domain.RoleOperator
	if r.Header.Get(domain.HeaderOperatorRole) == domain.RoleAdmin {
		role = domain.RoleAdmin
	}
	return &jwtinfra.Claims{UserID: userID, Name: name, Role: role}
}

// WithClaims stores claims in ctx.
func WithClaims(ctx context.Context, c *jwtinfra.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromContext extracts JWT claims from the request context.
func ClaimsFromContext(ctx context.Context) (*jwtinfra.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*jwtinfra.Claims)
	return c, ok
}

// ActorFromContext returns the authenticated operator.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return domain.Actor{}, false
	}
	return c.Actor(), true
}

// DevIdentity authenticates every request as the given claims. It stands in
// for Auth when no JWT key is configured in development.
func DevIdentity(claims *jwtinfra.Claims) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
