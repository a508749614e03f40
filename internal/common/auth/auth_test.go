package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardcrm/internal/common/auth"
)

const secret = "test-secret"

func sign(t *testing.T, key, role string, expiresIn time.Duration) string {
	t.Helper()
	claims := auth.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops@example.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func TestRequireRole(t *testing.T) {
	var gotSubject string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject, _ = auth.SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	guarded := auth.NewVerifier(secret).RequireRole(auth.RoleAdmin)(next)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + sign(t, "other-secret", auth.RoleAdmin, time.Hour), http.StatusUnauthorized},
		{"expired", "Bearer " + sign(t, secret, auth.RoleAdmin, -time.Minute), http.StatusUnauthorized},
		{"wrong role", "Bearer " + sign(t, secret, "viewer", time.Hour), http.StatusForbidden},
		{"admin", "Bearer " + sign(t, secret, auth.RoleAdmin, time.Hour), http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSubject = ""
			req := httptest.NewRequest(http.MethodPost, "/profiles", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			guarded.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				assert.Equal(t, "ops@example.com", gotSubject)
			}
		})
	}
}

func TestRequireRole_DisabledWithoutSecret(t *testing.T) {
	v := auth.NewVerifier("")
	assert.False(t, v.Enabled())

	guarded := v.RequireRole(auth.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/profiles/1", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestParse_RejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, auth.Claims{Role: auth.RoleAdmin}).SignedString([]byte(secret))
	require.NoError(t, err)

	_, err = auth.NewVerifier(secret).Parse(token)
	assert.Error(t, err)
}
