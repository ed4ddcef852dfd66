// Package oauthstate mints and verifies the "state" parameter of the OAuth
// login flow. States are HS256 JWTs whose audience is the app name, so a state
// issued for one app cannot complete another app's redirect.
package oauthstate

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "tempo/pkg/domain"
	dErrors "tempo/pkg/domain-errors"
)

const issuer = "tempo/apps"

// Claims carried by a state token.
type Claims struct {
	CompanyID string `json:"cid"`
	jwt.RegisteredClaims
}

// Signer mints and verifies state tokens.
type Signer struct {
	key []byte
	ttl time.Duration
}

// NewSigner returns a Signer. The key must be at least 32 bytes.
func NewSigner(key []byte, ttl time.Duration) (*Signer, error) {
	if len(key) < 32 {
		return nil, errors.New("oauth state signing key must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("oauth state ttl must be positive")
	}
	return &Signer{key: append([]byte(nil), key...), ttl: ttl}, nil
}

// TTL is the lifetime of minted states.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Mint issues a state for companyID and appName valid from now.
func (s *Signer) Mint(companyID id.CompanyID, appName string, now time.Time) (string, time.Time, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, fmt.Errorf("generate state id: %w", err)
	}
	expiresAt := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		CompanyID: companyID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        hex.EncodeToString(b),
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{appName},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign state: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, expiry and that the state was minted for appName.
// Every failure is CodeInvalidOrExpiredState.
func (s *Signer) Verify(state, appName string, now time.Time) (*Claims, error) {
	if state == "" {
		return nil, dErrors.New(dErrors.CodeInvalidOrExpiredState, "missing oauth state")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(state, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(appName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidOrExpiredState, "oauth state expired")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidOrExpiredState, "invalid oauth state")
	}
	if _, err := id.ParseCompanyID(claims.CompanyID); err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidOrExpiredState, "invalid oauth state")
	}
	return claims, nil
}
