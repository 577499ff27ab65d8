package accounts

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL is how long a login token stays valid.
const DefaultTokenTTL = 24 * time.Hour

// TokenClaims are the claims carried by a login token.
type TokenClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates login tokens.
type TokenIssuer struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
}

// NewTokenIssuer creates an HS256 token issuer. A zero ttl uses
// DefaultTokenTTL.
func NewTokenIssuer(signingKey, issuer string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Issue creates a signed token for username valid for ttl, or for the
// issuer's default lifetime when ttl is zero. Returns the token, its unique
// id and its expiry.
func (ti *TokenIssuer) Issue(username string, ttl time.Duration) (token, tokenID string, expiresAt time.Time, err error) {
	if ttl <= 0 {
		ttl = ti.ttl
	}
	now := ti.now()
	expiresAt = now.Add(ttl)
	tokenID = uuid.NewString()

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    ti.issuer,
			ID:        tokenID,
		},
	})

	token, err = t.SignedString(ti.signingKey)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, tokenID, expiresAt, nil
}

// Validate parses and verifies a token.
// Returns ErrInvalidToken for any malformed, expired or forged token.
func (ti *TokenIssuer) Validate(token string) (*TokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return ti.signingKey, nil
	}, jwt.WithTimeFunc(ti.now), jwt.WithIssuer(ti.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("token has expired: %w", ErrInvalidToken)
		}
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*TokenClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
