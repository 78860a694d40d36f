// Package ports defines the tenant module's boundaries with the identity
// provider and the relational store.
package ports

import (
	"context"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/identity"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/models"
	id "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/audit"
)

// IdentityProvisioner creates and removes Identity Records.
type IdentityProvisioner interface {
	// CreateIdentity returns the new subject identifier.
	// Returns sentinel.ErrConflict when the email is already registered.
	CreateIdentity(ctx context.Context, in identity.NewIdentity) (id.UserID, error)

	// DeleteIdentity removes the record.
	// Returns sentinel.ErrNotFound when it no longer exists.
	DeleteIdentity(ctx context.Context, subject id.UserID) error
}

// Relational hands out sessions bound to one pooled connection.
type Relational interface {
	Acquire(ctx context.Context) (Session, error)
}

// Session is one pooled connection and at most one open transaction on it.
//
// Release returns the connection to the pool. It must be called exactly once
// on every path; implementations make further calls no-ops.
type Session interface {
	Begin(ctx context.Context) error
	// InsertOrganization returns the store-generated id.
	// Returns sentinel.ErrConflict on a unique violation (slug).
	InsertOrganization(ctx context.Context, org *models.Organization) (id.OrganizationID, error)
	// InsertUser returns sentinel.ErrConflict on a unique violation (user_id).
	InsertUser(ctx context.Context, user *models.User) error
	Commit() error
	Rollback() error
	Release() error
}

// AuditPublisher emits audit events for provisioning outcomes.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
