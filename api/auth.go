/*
auth.go - Identity-token verification middleware

PURPOSE:
  The engine consumes a verified (userId, roleClaim) pair from a bearer
  token; it never performs authentication itself. This middleware does
  the verification at the transport boundary: parse the Authorization
  header, verify the HMAC signature, and stash subject + role in the
  request context. Handlers downstream see only well-typed identity.

CLAIMS:
  sub:  the user id (required)
  role: "user" or "admin" (optional, defaults to "user")

FAILURES:
  Missing/invalid token  -> 401 {"error": ...}
  Non-admin on admin routes -> 403 {"error": ...}

SEE ALSO:
  - server.go: Where the middleware is mounted
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/smartpicture/growth-engine/ledger"
)

type contextKey string

const (
	contextKeyUserID contextKey = "user_id"
	contextKeyRole   contextKey = "user_role"
)

// Authenticator verifies bearer tokens with a shared HMAC secret.
type Authenticator struct {
	Secret []byte
}

// Middleware rejects requests without a valid token and injects the
// verified identity into the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, role, err := a.verify(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required", nil)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyUserID, uid)
		ctx = context.WithValue(ctx, contextKeyRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin gates admin-only routes. Mounted after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RoleFrom(r.Context()) != ledger.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) verify(r *http.Request) (ledger.UserID, ledger.Role, error) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", "", fmt.Errorf("missing bearer token")
	}
	raw := strings.TrimPrefix(h, "Bearer ")

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return a.Secret, nil
	})
	if err != nil || !token.Valid {
		return "", "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", fmt.Errorf("unexpected claims type")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", "", fmt.Errorf("token missing subject")
	}

	role := ledger.RoleUser
	if v, ok := claims["role"].(string); ok && ledger.Role(v) == ledger.RoleAdmin {
		role = ledger.RoleAdmin
	}
	return ledger.UserID(sub), role, nil
}

// UserFrom returns the verified user id from the request context.
func UserFrom(ctx context.Context) ledger.UserID {
	uid, _ := ctx.Value(contextKeyUserID).(ledger.UserID)
	return uid
}

// RoleFrom returns the verified role claim from the request context.
func RoleFrom(ctx context.Context) ledger.Role {
	role, _ := ctx.Value(contextKeyRole).(ledger.Role)
	return role
}
