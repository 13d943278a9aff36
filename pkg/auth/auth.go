// Package auth verifies callers: Google ID tokens for end users and a shared bearer
// secret for the crawl and seed endpoints.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/idtoken"
)

var (
	// ErrInvalidToken is returned for a token that fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUnauthorized is returned when a request lacks valid credentials.
	ErrUnauthorized = errors.New("unauthorized")
)

// Profile is the verified identity carried by a Google ID token.
type Profile struct {
	Subject       string `json:"sub"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"emailVerified,omitempty"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
}

// Verifier turns a bearer credential into a Profile.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Profile, error)
}

// ValidateFunc checks an ID token against an audience. idtoken.Validate is the default.
type ValidateFunc func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// GoogleVerifier verifies Google Sign-In ID tokens issued for one OAuth client.
type GoogleVerifier struct {
	audience string
	validate ValidateFunc
}

// GoogleOption configures a GoogleVerifier.
type GoogleOption func(*GoogleVerifier)

// WithValidator replaces the token validation, for tests.
func WithValidator(fn ValidateFunc) GoogleOption {
	return func(v *GoogleVerifier) { v.validate = fn }
}

// NewGoogleVerifier creates a verifier for tokens whose audience is clientID.
func NewGoogleVerifier(clientID string, opts ...GoogleOption) (*GoogleVerifier, error) {
	if clientID == "" {
		return nil, errors.New("google client id is required")
	}
	v := &GoogleVerifier{audience: clientID, validate: idtoken.Validate}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify validates token and returns the identity it carries. Any validation failure
// wraps ErrInvalidToken.
func (v *GoogleVerifier) Verify(ctx context.Context, token string) (*Profile, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	payload, err := v.validate(ctx, token, v.audience)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if payload.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &Profile{
		Subject:       payload.Subject,
		Email:         claim[string](payload.Claims, "email"),
		EmailVerified: claim[bool](payload.Claims, "email_verified"),
		Name:          claim[string](payload.Claims, "name"),
		Picture:       claim[string](payload.Claims, "picture"),
	}, nil
}

func claim[T any](claims map[string]any, key string) T {
	v, _ := claims[key].(T)
	return v
}

// SharedSecret authorizes requests carrying "Authorization: Bearer <secret>".
// An empty secret authorizes nothing.
type SharedSecret struct {
	secret string
}

// NewSharedSecret creates a SharedSecret.
func NewSharedSecret(secret string) *SharedSecret {
	return &SharedSecret{secret: secret}
}

// Configured reports whether a secret is set.
func (s *SharedSecret) Configured() bool { return s.secret != "" }

// Check returns ErrUnauthorized unless r carries the secret.
func (s *SharedSecret) Check(r *http.Request) error {
	token, ok := BearerToken(r)
	if !ok || !s.Configured() || !CompareTokens(token, s.secret) {
		return ErrUnauthorized
	}
	return nil
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// CompareTokens compares in constant time. Both sides are hashed first so the comparison
// does not leak the secret's length.
func CompareTokens(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
