package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/identity"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/store"
	id "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain"
	dErrors "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain-errors"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/sentinel"
)

// fakeIdentities is an email-unique identity provider held in memory.
type fakeIdentities struct {
	mu      sync.Mutex
	next    int
	byEmail map[string]id.UserID
	records map[id.UserID]identity.NewIdentity
}

func newFakeIdentities() *fakeIdentities {
	return &fakeIdentities{
		byEmail: make(map[string]id.UserID),
		records: make(map[id.UserID]identity.NewIdentity),
	}
}

func (f *fakeIdentities) CreateIdentity(_ context.Context, in identity.NewIdentity) (id.UserID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, taken := f.byEmail[in.Email]; taken {
		return "", sentinel.ErrConflict
	}
	f.next++
	subject := id.UserID(fmt.Sprintf("uid-%d", f.next))
	f.byEmail[in.Email] = subject
	f.records[subject] = in
	return subject, nil
}

func (f *fakeIdentities) DeleteIdentity(_ context.Context, subject id.UserID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.records[subject]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(f.records, subject)
	delete(f.byEmail, in.Email)
	return nil
}

func (f *fakeIdentities) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func TestRegister_PersistsBindingBetweenIdentityAndUser(t *testing.T) {
	identities := newFakeIdentities()
	gw := store.NewInMemory()
	svc, err := New(identities, gw)
	require.NoError(t, err)

	result, err := svc.Register(context.Background(), validRequest())
	require.NoError(t, err)

	user, err := gw.FindActiveUser(context.Background(), result.UserID)
	require.NoError(t, err)
	assert.Equal(t, result.OrganizationID, user.OrganizationID)

	org, err := gw.FindOrganization(context.Background(), result.OrganizationID)
	require.NoError(t, err)
	assert.Equal(t, "grace-chapel", org.Slug)
	assert.Equal(t, 1, identities.count())
	assert.Zero(t, gw.OpenSessions())
}

func TestRegister_RelationalFailureLeavesNoTrace(t *testing.T) {
	for _, op := range []string{store.OpAcquire, store.OpBegin, store.OpInsertOrganization, store.OpInsertUser, store.OpCommit} {
		t.Run(op, func(t *testing.T) {
			identities := newFakeIdentities()
			gw := store.NewInMemory()
			gw.FailOn(op, errors.New("injected"))
			svc, err := New(identities, gw)
			require.NoError(t, err)

			_, err = svc.Register(context.Background(), validRequest())
			require.True(t, dErrors.HasCode(err, dErrors.CodeProvisioningFailed))

			orgs, users := gw.Counts()
			assert.Zero(t, orgs)
			assert.Zero(t, users)
			assert.Zero(t, identities.count(), "identity must be compensated")
			assert.Zero(t, gw.OpenSessions(), "connection must be released")
		})
	}
}

func TestRegister_ResubmissionIsRejectedByIdentityProvider(t *testing.T) {
	svc, err := New(newFakeIdentities(), store.NewInMemory())
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.OrganizationName = "Another Church"
	_, err = svc.Register(context.Background(), req)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIdentityConflict))
}

func TestRegister_ConcurrentSameEmail(t *testing.T) {
	identities := newFakeIdentities()
	gw := store.NewInMemory()
	svc, err := New(identities, gw)
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := validRequest()
			req.OrganizationName = fmt.Sprintf("Grace Chapel %d", i)
			_, errs[i] = svc.Register(context.Background(), req)
		}(i)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case dErrors.HasCode(err, dErrors.CodeIdentityConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)

	orgs, users := gw.Counts()
	assert.Equal(t, 1, orgs)
	assert.Equal(t, 1, users)
}

func TestRegister_SlugCollisionCompensates(t *testing.T) {
	identities := newFakeIdentities()
	gw := store.NewInMemory()
	svc, err := New(identities, gw)
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.UserEmail = "bia@example.com"
	req.OrganizationName = "grace chapel!"
	_, err = svc.Register(context.Background(), req)
	require.True(t, dErrors.HasCode(err, dErrors.CodeProvisioningFailed))
	assert.Equal(t, 1, identities.count())
}
