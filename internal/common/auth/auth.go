// Package auth verifies HMAC-signed bearer tokens and gates routes by role.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"cardcrm/internal/common/logging"
)

// RoleAdmin may create, change and delete limit profiles.
const RoleAdmin = "admin"

// Claims are the token claims the service reads.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type contextKey string

const subjectKey contextKey = "auth_subject"

// Verifier checks tokens signed with a shared secret. A Verifier with an
// empty secret lets every request through.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for HS256 tokens.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Enabled reports whether tokens are checked at all.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Parse validates a raw token and returns its claims.
func (v *Verifier) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// RequireRole rejects requests without a valid bearer token carrying role.
// Missing or invalid tokens get 401, a valid token with another role 403.
func (v *Verifier) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !v.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				writeError(w, http.StatusUnauthorized, "bearer token required")
				return
			}

			claims, err := v.Parse(raw)
			if err != nil {
				logging.DebugContext(r.Context(), "rejected bearer token", "error", err)
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if claims.Role != role {
				writeError(w, http.StatusForbidden, "insufficient role")
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectFromContext returns the authenticated subject, if any.
func SubjectFromContext(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(subjectKey).(string)
	return sub, ok && sub != ""
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
