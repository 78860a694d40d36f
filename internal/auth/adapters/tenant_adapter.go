package adapters

import (
	"context"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/auth/models"
	tenantModels "github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/models"
	id "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain"
)

// tenantUserFinder is implemented by the tenant relational gateways.
// Defined locally to avoid coupling auth adapters to the tenant store package.
type tenantUserFinder interface {
	FindActiveUser(ctx context.Context, userID id.UserID) (*tenantModels.User, error)
}

// TenantMemberLookup adapts the tenant gateway to the auth service's
// MemberLookup. Tenant models are mapped to auth-local DTOs at the boundary.
type TenantMemberLookup struct {
	users tenantUserFinder
}

// NewTenantMemberLookup creates a new adapter wrapping a tenant gateway.
func NewTenantMemberLookup(users tenantUserFinder) *TenantMemberLookup {
	return &TenantMemberLookup{users: users}
}

// FindActiveMember returns sentinel.ErrNotFound, unwrapped from the gateway,
// when no active user has the subject identifier.
func (a *TenantMemberLookup) FindActiveMember(ctx context.Context, userID id.UserID) (*models.Member, error) {
	user, err := a.users.FindActiveUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return mapUser(user), nil
}

func mapUser(u *tenantModels.User) *models.Member {
	return &models.Member{
		UserID:         u.UserID,
		DisplayName:    u.DisplayName,
		Role:           u.Role.String(),
		OrganizationID: u.OrganizationID,
		Email:          u.Email,
	}
}
