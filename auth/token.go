// Package auth resolves the acting staff identity from bearer tokens.
// Login and session management live in an upstream collaborator; this
// package only verifies what that collaborator issued.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken signals a missing, malformed, or expired token.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Identity is the verified staff actor attached to a request.
type Identity struct {
	StaffID  string
	FullName string
	Role     string
	Branch   string
}

type staffClaims struct {
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	Branch   string `json:"branch"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies staff tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// Issue mints a signed token for the identity. Used by bootstrap tooling and
// tests; production tokens come from the identity collaborator sharing the
// same secret.
func (s *TokenService) Issue(id Identity) (string, error) {
	if id.StaffID == "" {
		return "", fmt.Errorf("auth: missing staff id")
	}
	now := s.now()
	claims := staffClaims{
		FullName: id.FullName,
		Role:     id.Role,
		Branch:   id.Branch,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.StaffID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a signed token, returning the staff identity.
func (s *TokenService) Verify(tokenString string) (Identity, error) {
	claims := &staffClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		StaffID:  claims.Subject,
		FullName: claims.FullName,
		Role:     claims.Role,
		Branch:   claims.Branch,
	}, nil
}

type contextKey struct{}

// Middleware rejects requests without a valid bearer token and stores the
// verified identity on the request context.
func (s *TokenService) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		id, err := s.Verify(strings.TrimPrefix(header, prefix))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// WithIdentity attaches a verified identity to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity attached by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
