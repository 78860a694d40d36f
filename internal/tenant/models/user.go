package models

import (
	id "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain"
	dErrors "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain-errors"
)

// Role is a user's role within its organization.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleMember
}

func (r Role) String() string {
	return string(r)
}

// User is an organization member. UserID is the identity provider's subject
// identifier, so every row is bound to exactly one Identity Record.
type User struct {
	UserID         id.UserID         `json:"user_id"`
	OrganizationID id.OrganizationID `json:"organization_id"`
	DisplayName    string            `json:"display_name"`
	Email          string            `json:"email"`
	Role           Role              `json:"role"`
	IsActive       bool              `json:"is_active"`
}

// NewAdmin builds the first, active administrator of an organization.
func NewAdmin(userID id.UserID, orgID id.OrganizationID, displayName, email string) (*User, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "user id cannot be empty")
	}
	if orgID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "organization id cannot be empty")
	}
	return &User{
		UserID:         userID,
		OrganizationID: orgID,
		DisplayName:    displayName,
		Email:          email,
		Role:           RoleAdmin,
		IsActive:       true,
	}, nil
}
