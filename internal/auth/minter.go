// Package auth mints and verifies the bearer tokens used by the
// authenticated submission call.
package auth

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bft-labs/tickbridge/internal/domain"
)

// TokenTTL is the lifetime of a minted token.
const TokenTTL = time.Hour

// Minter signs iat/exp claim sets with a pre-shared HS256 secret.
// It keeps no state between calls.
type Minter struct {
	secretHex string
}

// NewMinter returns a Minter for the hex-encoded secret. The secret is
// validated when a token is minted so that a missing secret surfaces as a
// configuration error on first use.
func NewMinter(secretHex string) *Minter {
	return &Minter{secretHex: secretHex}
}

// Mint returns a signed token issued at now and expiring TokenTTL later.
func (m *Minter) Mint(now time.Time) (string, error) {
	secret, err := decodeSecret(m.secretHex)
	if err != nil {
		return "", err
	}
	iat := now.Unix()
	claims := jwt.MapClaims{
		"iat": iat,
		"exp": iat + int64(TokenTTL/time.Second),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Claims are the verified timestamps of a token.
type Claims struct {
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Verify parses token, checks its HS256 signature against secretHex and
// validates exp relative to now.
func Verify(secretHex, token string, now time.Time) (Claims, error) {
	secret, err := decodeSecret(secretHex)
	if err != nil {
		return Claims{}, err
	}
	parsed, err := jwt.Parse(token,
		func(*jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("verify token: %w", err)
	}
	iat, err := parsed.Claims.GetIssuedAt()
	if err != nil || iat == nil {
		return Claims{}, fmt.Errorf("verify token: missing iat")
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return Claims{}, fmt.Errorf("verify token: missing exp")
	}
	return Claims{IssuedAt: iat.Time, ExpiresAt: exp.Time}, nil
}

func decodeSecret(secretHex string) ([]byte, error) {
	s := strings.TrimPrefix(strings.TrimSpace(secretHex), "0x")
	if s == "" {
		return nil, domain.ErrMissingSecret
	}
	secret, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSecret, err)
	}
	return secret, nil
}
