package local

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	dErrors "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain-errors"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/sentinel"
)

// hashSecret creates a bcrypt hash of the provided secret. bcrypt reads at
// most 72 bytes, so the secret is reduced to a fixed-size digest first.
func hashSecret(secret string, cost int) (string, error) {
	if secret == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "secret cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword(prehash(secret), cost)
	if err != nil {
		return "", fmt.Errorf("could not hash secret: %w", err)
	}
	return string(hashed), nil
}

// verifySecret checks a plaintext secret against a bcrypt hash.
func verifySecret(secret, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), prehash(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return sentinel.ErrInvalidCredential
		}
		return fmt.Errorf("could not verify secret: %w", err)
	}
	return nil
}

// prehash is base64(SHA-256(secret)): 44 bytes with no NUL, inside bcrypt's
// input limit for any secret length.
func prehash(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}
