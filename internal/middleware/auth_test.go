package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ruralpay/ledgercore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuthenticator_Middleware(t *testing.T) {
	auth := NewAuthenticator(testSecret, "")
	var seen models.Identity
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad signature", "Bearer " + signToken(t, "other", jwt.MapClaims{"user_id": "alice"}), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, testSecret, jwt.MapClaims{"user_id": "alice", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized},
		{"no subject", "Bearer " + signToken(t, testSecret, jwt.MapClaims{"role": "client"}), http.StatusUnauthorized},
		{"system role is reserved", "Bearer " + signToken(t, testSecret, jwt.MapClaims{"user_id": "x", "role": "system"}), http.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, testSecret, jwt.MapClaims{"user_id": "alice", "role": "admin", "sid": "s-1"}), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
			req.Header.Set("User-Agent", "teller/1.0")
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tt.status, rr.Code)
		})
	}

	assert.Equal(t, models.Identity{
		UserID:    "alice",
		Role:      models.RoleAdmin,
		SessionID: "s-1",
		IPAddress: "203.0.113.7",
		UserAgent: "teller/1.0",
	}, seen)
}

func TestAuthenticator_DefaultsToClient(t *testing.T) {
	auth := NewAuthenticator(testSecret, "ruralpay")
	id, err := auth.validateToken(signToken(t, testSecret, jwt.MapClaims{"sub": "bob", "iss": "ruralpay"}))
	require.NoError(t, err)
	assert.Equal(t, models.RoleClient, id.Role)
	assert.Equal(t, "bob", id.UserID)

	_, err = auth.validateToken(signToken(t, testSecret, jwt.MapClaims{"sub": "bob", "iss": "elsewhere"}))
	assert.Error(t, err)
}

func TestRequireAdmin(t *testing.T) {
	handler := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := map[string]struct {
		id     *models.Identity
		status int
	}{
		"anonymous": {nil, http.StatusUnauthorized},
		"client":    {&models.Identity{UserID: "alice", Role: models.RoleClient}, http.StatusForbidden},
		"admin":     {&models.Identity{UserID: "root", Role: models.RoleAdmin}, http.StatusNoContent},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.id != nil {
				req = req.WithContext(WithIdentity(req.Context(), *tc.id))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tc.status, rr.Code)
		})
	}
}
