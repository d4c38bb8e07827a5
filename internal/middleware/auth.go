package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"duckflow/internal/domain"
)

// TokenClaims are the claims carried by API bearer tokens.
type TokenClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// HS256Validator validates bearer tokens signed with a shared secret.
type HS256Validator struct {
	secret []byte
}

// NewHS256Validator creates a validator for HS256 tokens.
func NewHS256Validator(secret string) (*HS256Validator, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is required")
	}
	return &HS256Validator{secret: []byte(secret)}, nil
}

// Validate verifies the token signature and expiry and returns its claims.
// Tokens without a subject are rejected.
func (v *HS256Validator) Validate(tokenString string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// Issue signs a token for subject that expires after ttl. A zero ttl issues a
// token without expiry.
func (v *HS256Validator) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		Name: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Auth requires a valid bearer token and stores its subject as the request
// principal. A nil validator disables authentication.
func Auth(v *HS256Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if v == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized: bearer token required")
				return
			}
			claims, err := v.Validate(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized: invalid token")
				return
			}
			ctx := domain.WithPrincipal(r.Context(), domain.ContextPrincipal{Name: claims.Subject})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
