package adapters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tenantModels "github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/models"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/store"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/sentinel"
)

func TestTenantMemberLookup(t *testing.T) {
	ctx := context.Background()
	gw := store.NewInMemory()

	session, err := gw.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, session.Begin(ctx))
	org, err := tenantModels.NewOrganization("Grace Chapel", "ana@example.com")
	require.NoError(t, err)
	orgID, err := session.InsertOrganization(ctx, org)
	require.NoError(t, err)
	user, err := tenantModels.NewAdmin("uid-ana", orgID, "Ana Silva", "ana@example.com")
	require.NoError(t, err)
	require.NoError(t, session.InsertUser(ctx, user))
	require.NoError(t, session.Commit())
	require.NoError(t, session.Release())

	lookup := NewTenantMemberLookup(gw)

	member, err := lookup.FindActiveMember(ctx, "uid-ana")
	require.NoError(t, err)
	assert.Equal(t, "admin", member.Role)
	assert.Equal(t, orgID, member.OrganizationID)
	assert.Equal(t, "Ana Silva", member.DisplayName)

	_, err = lookup.FindActiveMember(ctx, "uid-nobody")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
