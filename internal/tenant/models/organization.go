package models

import (
	id "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain"
	dErrors "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain-errors"
)

// DefaultSubscriptionPlan is assigned to every organization created through
// self-service registration.
const DefaultSubscriptionPlan = "premium"

// MaxOrganizationNameLength matches organizations.name VARCHAR(255).
const MaxOrganizationNameLength = 255

// Organization is a tenant.
//
// Invariants:
//   - Slug is Slugify(Name) and is never empty
//   - ID is assigned by the relational store on insert
//   - organizations are never deleted by this system
type Organization struct {
	ID               id.OrganizationID `json:"id"`
	Name             string            `json:"name"`
	Slug             string            `json:"slug"`
	ContactEmail     string            `json:"contact_email"`
	SubscriptionPlan string            `json:"subscription_plan"`
	IsActive         bool              `json:"is_active"`
}

// NewOrganization builds an active organization on the default plan with the
// slug derived from name.
func NewOrganization(name, contactEmail string) (*Organization, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "organization name cannot be empty")
	}
	slug := Slugify(name)
	if slug == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "organization name must contain letters or digits")
	}
	return &Organization{
		Name:             name,
		Slug:             slug,
		ContactEmail:     contactEmail,
		SubscriptionPlan: DefaultSubscriptionPlan,
		IsActive:         true,
	}, nil
}
