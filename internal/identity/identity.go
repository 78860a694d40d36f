// Package identity defines the contract with the external identity provider,
// which owns credential storage and authentication.
package identity

import (
	"context"

	id "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain"
)

// NewIdentity is the input to identity creation.
type NewIdentity struct {
	Email       string
	Secret      string
	DisplayName string
}

// Verifier checks bearer credentials issued by the provider.
type Verifier interface {
	// VerifyCredential returns the verified subject identifier.
	// Returns sentinel.ErrExpired for an expired credential and
	// sentinel.ErrInvalidCredential for every other verification failure.
	VerifyCredential(ctx context.Context, token string) (id.UserID, error)
}

// Provisioner manages the lifecycle of Identity Records.
type Provisioner interface {
	// CreateIdentity returns sentinel.ErrConflict when the email is taken.
	CreateIdentity(ctx context.Context, in NewIdentity) (id.UserID, error)
	// DeleteIdentity returns sentinel.ErrNotFound when no record exists.
	DeleteIdentity(ctx context.Context, subject id.UserID) error
}

// Provider is a full identity provider adapter.
type Provider interface {
	Verifier
	Provisioner
}

// Provider names accepted by IDENTITY_PROVIDER.
const (
	ProviderFirebase = "firebase"
	ProviderLocal    = "local"
)
