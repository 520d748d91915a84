package middleware

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ruralpay/ledgercore/internal/models"
	"github.com/ruralpay/ledgercore/internal/services"
)

type contextKey string

const identityKey contextKey = "identity"

// Authenticator turns a bearer token issued by the identity provider into a
// models.Identity. It never issues tokens itself.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get token from Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			services.SendCodedErrorResponse(w, "Authorization header required", "UNAUTHORIZED", http.StatusUnauthorized, nil)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			services.SendCodedErrorResponse(w, "Invalid authorization header format", "UNAUTHORIZED", http.StatusUnauthorized, nil)
			return
		}

		id, err := a.validateToken(parts[1])
		if err != nil {
			services.SendCodedErrorResponse(w, "Invalid token", "UNAUTHORIZED", http.StatusUnauthorized, nil)
			return
		}

		id.IPAddress = clientIP(r)
		id.UserAgent = r.UserAgent()
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (a *Authenticator) validateToken(tokenString string) (models.Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return models.Identity{}, err
	}
	if !token.Valid {
		return models.Identity{}, errors.New("token is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Identity{}, errors.New("unexpected claims type")
	}

	userID := claimString(claims, "user_id")
	if userID == "" {
		userID = claimString(claims, "sub")
	}
	if userID == "" {
		return models.Identity{}, errors.New("token has no subject")
	}

	role := models.Role(claimString(claims, "role"))
	switch role {
	case models.RoleAdmin, models.RoleClient:
	case "":
		role = models.RoleClient
	default:
		// system is reserved for background jobs
		return models.Identity{}, fmt.Errorf("unsupported role %q", role)
	}

	return models.Identity{UserID: userID, Role: role, SessionID: claimString(claims, "sid")}, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	v, ok := claims[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the authenticated caller, if any.
func IdentityFrom(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey).(models.Identity)
	return id, ok && id.UserID != ""
}

// RequireAdmin rejects callers without an administrative role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			services.SendCodedErrorResponse(w, "Unauthorized", "UNAUTHORIZED", http.StatusUnauthorized, nil)
			return
		}
		if !id.IsAdmin() {
			services.SendCodedErrorResponse(w, "Admin access required", "FORBIDDEN", http.StatusForbidden, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
