// Package secrets issues opaque tokens that apps hand to providers (for
// example push channel tokens) and verifies them later against a stored
// bcrypt hash, so instance data never holds the token itself.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/bcrypt"

	dErrors "tempo/pkg/domain-errors"
)

const tokenBytes = 32

// Generate returns a URL-safe random token.
func Generate() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate token")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash returns the bcrypt hash stored in place of token.
func Hash(token string) (string, error) {
	if token == "" {
		return "", dErrors.New(dErrors.CodeValidation, "token cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeValidation, "token is too long")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not hash token")
	}
	return string(hashed), nil
}

// Verify checks a presented token against its stored hash. An empty token or
// hash never matches.
func Verify(token, hash string) error {
	if token == "" || hash == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeUnauthorized, "invalid token")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not verify token")
	}
	return nil
}
