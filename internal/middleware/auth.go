// Package middleware hosts authentication, logging, and rate limiting middleware.
package middleware

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dallo7/korosho/internal/auth"
	"github.com/dallo7/korosho/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// contextKey avoids collisions when storing values in request contexts.
type contextKey string

const (
	ctxAccountIDKey   contextKey = "account_id"
	ctxRoleKey        contextKey = "role"
	ctxCooperativeKey contextKey = "cooperative_name"
	ctxTokenKey       contextKey = "token"
	ctxTokenExpKey    contextKey = "token_exp"
)

// AuthMiddleware validates bearer JWTs and injects the caller's identity into the context.
type AuthMiddleware struct {
	jwtSecret string
	blacklist TokenBlacklist
}

// NewAuthMiddleware constructs an AuthMiddleware. A nil blacklist skips revocation checks.
func NewAuthMiddleware(secret string, blacklist TokenBlacklist) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: secret, blacklist: blacklist}
}

// Authenticate enforces bearer auth and populates account details on the request context.
// Websocket upgrades may pass the token as the access_token query parameter.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := bearerToken(r)
		if !ok {
			jsonError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(m.jwtSecret), nil
		})
		if err != nil || !token.Valid {
			jsonError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			jsonError(w, http.StatusUnauthorized, "Invalid token claims")
			return
		}

		var expiresAt time.Time
		if exp, ok := claims["exp"].(float64); ok {
			expiresAt = time.Unix(int64(exp), 0)
			if time.Now().After(expiresAt) {
				jsonError(w, http.StatusUnauthorized, "Token expired")
				return
			}
		}

		if m.blacklist != nil {
			revoked, err := m.blacklist.IsBlacklisted(r.Context(), tokenString)
			if err != nil {
				jsonError(w, http.StatusServiceUnavailable, "Token check unavailable")
				return
			}
			if revoked {
				jsonError(w, http.StatusUnauthorized, "Token revoked")
				return
			}
		}

		accountIDStr, ok := claims[auth.ClaimAccountID].(string)
		if !ok {
			jsonError(w, http.StatusUnauthorized, "Invalid account ID in token")
			return
		}
		accountID, err := uuid.Parse(accountIDStr)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "Invalid account ID format")
			return
		}
		role, _ := claims[auth.ClaimRole].(string)
		if role == "" {
			jsonError(w, http.StatusUnauthorized, "Invalid role in token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxAccountIDKey, accountID)
		ctx = context.WithValue(ctx, ctxRoleKey, domain.Role(role))
		if coop, ok := claims[auth.ClaimCooperative].(string); ok {
			ctx = context.WithValue(ctx, ctxCooperativeKey, coop)
		}
		ctx = context.WithValue(ctx, ctxTokenKey, tokenString)
		ctx = context.WithValue(ctx, ctxTokenExpKey, expiresAt)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if strings.TrimSpace(authHeader) == "" {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			if t := r.URL.Query().Get("access_token"); t != "" {
				return t, true
			}
		}
		return "", false
	}
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// RequireRole rejects authenticated callers whose role is not listed.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := RoleFromContext(r.Context())
			if !ok {
				jsonError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			jsonError(w, http.StatusForbidden, "Insufficient permissions")
		})
	}
}

// AccountIDFromContext returns the authenticated account's UUID from context.
func AccountIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxAccountIDKey).(uuid.UUID)
	return id, ok
}

// RoleFromContext returns the authenticated account's role from context.
func RoleFromContext(ctx context.Context) (domain.Role, bool) {
	role, ok := ctx.Value(ctxRoleKey).(domain.Role)
	return role, ok
}

// CooperativeFromContext returns the authenticated account's cooperative from context.
func CooperativeFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(ctxCooperativeKey).(string)
	return s, ok
}

// TokenFromContext returns the raw bearer token and its expiry.
func TokenFromContext(ctx context.Context) (string, time.Time, bool) {
	token, ok := ctx.Value(ctxTokenKey).(string)
	exp, _ := ctx.Value(ctxTokenExpKey).(time.Time)
	return token, exp, ok
}

// WithIdentity returns ctx carrying an authenticated identity. Handlers
// under test use it in place of a signed token.
func WithIdentity(ctx context.Context, accountID uuid.UUID, role domain.Role, cooperative string) context.Context {
	ctx = context.WithValue(ctx, ctxAccountIDKey, accountID)
	ctx = context.WithValue(ctx, ctxRoleKey, role)
	return context.WithValue(ctx, ctxCooperativeKey, cooperative)
}

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed := os.Getenv("CORS_ALLOWED_ORIGINS")
		origin := r.Header.Get("Origin")
		if strings.TrimSpace(allowed) != "" {
			for _, o := range strings.Split(allowed, ",") {
				if strings.EqualFold(strings.TrimSpace(o), origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		} else if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, Idempotency-Key")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
