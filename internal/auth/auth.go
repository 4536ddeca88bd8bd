// Package auth validates bearer tokens and carries the caller's claims through request contexts.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingToken is returned when the Authorization header is absent.
var ErrMissingToken = errors.New("missing bearer token")

// ErrInvalidToken wraps parsing and validation errors.
var ErrInvalidToken = errors.New("invalid bearer token")

const clockSkew = 30 * time.Second

// Config holds signer verification parameters.
type Config struct {
	Secret string
	Issuer string
}

// ScopeSet is the set of granted scopes. Tokens may carry it as a space separated string or as
// a JSON array.
type ScopeSet map[string]struct{}

// UnmarshalJSON implements json.Unmarshaler. Blank entries and non-string list items are dropped.
func (s *ScopeSet) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var items []string
	switch v := raw.(type) {
	case string:
		items = strings.Fields(v)
	case []any:
		for _, item := range v {
			if str, ok := item.(string); ok {
				items = append(items, strings.TrimSpace(str))
			}
		}
	case nil:
	default:
		return fmt.Errorf("scopes: unsupported JSON type %T", raw)
	}

	set := make(ScopeSet, len(items))
	for _, item := range items {
		if item != "" {
			set[item] = struct{}{}
		}
	}
	*s = set
	return nil
}

// Claims is the verified token payload.
type Claims struct {
	jwt.RegisteredClaims
	Scopes ScopeSet `json:"scopes,omitempty"`
}

// NewClaims returns claims for subject holding scopes.
func NewClaims(subject string, scopes ...string) *Claims {
	set := make(ScopeSet, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	return &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: subject}, Scopes: set}
}

// HasScope reports whether the claim set includes the provided scope.
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Scopes[scope]
	return ok
}

// Verifier checks HS256 tokens issued by one issuer.
type Verifier struct {
	parser *jwt.Parser
	key    []byte
}

// NewVerifier returns a Verifier for cfg.
func NewVerifier(cfg Config) *Verifier {
	return &Verifier{
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(clockSkew),
		),
		key: []byte(cfg.Secret),
	}
}

// Verify validates raw and returns its claims. Every rejection wraps ErrMissingToken or
// ErrInvalidToken.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return v.key, nil }); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

type contextKey struct{}

// WithClaims stores claims on the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// FromContext retrieves claims stored by WithClaims.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok
}
