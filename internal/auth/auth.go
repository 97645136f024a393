// Package auth implements the core's HTTP authentication (spec §6):
// a bearer-token check against ACE_API_KEY for the analysis surface, and
// a JWT-based admin token (minted from ACE_ADMIN_PASSWORD) gating module
// registration endpoints. Adapted from the teacher's cmd/gateway
// middleware, trimmed to the core's single bearer-key + admin-JWT model
// (no per-user sessions — the core has no user directory of its own).
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

// AdminClaims is the payload of an admin token, minted after a caller
// presents ACE_ADMIN_PASSWORD once over APIKeyMiddleware.
type AdminClaims struct {
	jwt.RegisteredClaims
}

// IssueAdminToken mints an admin JWT if candidate matches adminPassword,
// signed with secret (derived from the same ACE_ADMIN_PASSWORD so no
// extra key material needs provisioning).
func IssueAdminToken(candidate, adminPassword string, secret []byte) (string, error) {
	if adminPassword == "" || subtle.ConstantTimeCompare([]byte(candidate), []byte(adminPassword)) != 1 {
		return "", fmt.Errorf("auth: invalid admin password")
	}
	claims := &AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "ace-core",
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func validateAdminToken(tokenString string, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("auth: invalid admin token")
	}
	return nil
}

// APIKeyMiddleware checks the Authorization: Bearer <key> header against
// apiKey (ACE_API_KEY), constant-time. Empty apiKey disables the check
// (local/dev mode) — callers must not configure this in production.
func APIKeyMiddleware(apiKey string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				jsonError(w, "missing or invalid bearer token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminMiddleware requires a valid admin JWT minted by IssueAdminToken,
// used to gate module registration endpoints (spec §6 POST /module/type).
func AdminMiddleware(secret []byte) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				jsonError(w, "missing admin token", http.StatusUnauthorized)
				return
			}
			if err := validateAdminToken(token, secret); err != nil {
				jsonError(w, "invalid admin token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(header, "Bearer "), true
}

// HashToken renders a lookup-safe digest of a secret, for logging or
// storage without retaining the plaintext.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
