package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/models"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/ports"
	id "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/sentinel"
)

// Operations that can be made to fail with InMemoryGateway.FailOn.
const (
	OpAcquire            = "acquire"
	OpBegin              = "begin"
	OpInsertOrganization = "insert_organization"
	OpInsertUser         = "insert_user"
	OpCommit             = "commit"
)

// InMemoryGateway is a Relational Store Gateway for development and tests.
// Writes are buffered per session and applied atomically on Commit; slug and
// user_id uniqueness is enforced at insert time and again at commit.
type InMemoryGateway struct {
	mu     sync.RWMutex
	orgs   map[id.OrganizationID]*models.Organization
	slugs  map[string]id.OrganizationID
	users  map[id.UserID]*models.User
	faults map[string]error

	acquired atomic.Int64
	released atomic.Int64
}

func NewInMemory() *InMemoryGateway {
	return &InMemoryGateway{
		orgs:   make(map[id.OrganizationID]*models.Organization),
		slugs:  make(map[string]id.OrganizationID),
		users:  make(map[id.UserID]*models.User),
		faults: make(map[string]error),
	}
}

// FailOn makes every later call to op return err. A nil err clears the fault.
func (g *InMemoryGateway) FailOn(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.faults, op)
		return
	}
	g.faults[op] = err
}

func (g *InMemoryGateway) fault(op string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.faults[op]
}

func (g *InMemoryGateway) Acquire(_ context.Context) (ports.Session, error) {
	if err := g.fault(OpAcquire); err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	g.acquired.Add(1)
	return &memorySession{gw: g}, nil
}

// OpenSessions is the number of acquired sessions not yet released.
func (g *InMemoryGateway) OpenSessions() int {
	return int(g.acquired.Load() - g.released.Load())
}

func (g *InMemoryGateway) FindActiveUser(_ context.Context, userID id.UserID) (*models.User, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	user, ok := g.users[userID]
	if !ok || !user.IsActive {
		return nil, sentinel.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

// FindOrganization returns a committed organization by id.
func (g *InMemoryGateway) FindOrganization(_ context.Context, orgID id.OrganizationID) (*models.Organization, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	org, ok := g.orgs[orgID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *org
	return &copied, nil
}

// SetUserActive flips a committed user's active flag.
func (g *InMemoryGateway) SetUserActive(userID id.UserID, active bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	user, ok := g.users[userID]
	if !ok {
		return sentinel.ErrNotFound
	}
	user.IsActive = active
	return nil
}

// Counts returns the number of committed organizations and users.
func (g *InMemoryGateway) Counts() (orgs, users int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.orgs), len(g.users)
}

func (g *InMemoryGateway) Ping(_ context.Context) error {
	return nil
}

type memorySession struct {
	gw       *InMemoryGateway
	mu       sync.Mutex
	open     bool
	released bool
	orgs     []*models.Organization
	users    []*models.User
}

func (s *memorySession) Begin(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return errors.New("begin: session released")
	}
	if s.open {
		return errors.New("begin: transaction already open")
	}
	if err := s.gw.fault(OpBegin); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	s.open = true
	return nil
}

func (s *memorySession) InsertOrganization(ctx context.Context, org *models.Organization) (id.OrganizationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return id.OrganizationID{}, fmt.Errorf("insert organization: %w", err)
	}
	if !s.open {
		return id.OrganizationID{}, errors.New("no open transaction")
	}
	if err := s.gw.fault(OpInsertOrganization); err != nil {
		return id.OrganizationID{}, fmt.Errorf("insert organization: %w", err)
	}
	if s.slugTaken(org.Slug) {
		return id.OrganizationID{}, fmt.Errorf("insert organization: %w", sentinel.ErrConflict)
	}
	copied := *org
	copied.ID = id.OrganizationID(uuid.New())
	s.orgs = append(s.orgs, &copied)
	return copied.ID, nil
}

func (s *memorySession) InsertUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if !s.open {
		return errors.New("no open transaction")
	}
	if err := s.gw.fault(OpInsertUser); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if !s.orgVisible(user.OrganizationID) {
		return fmt.Errorf("insert user: organization %s does not exist", user.OrganizationID)
	}
	s.gw.mu.RLock()
	_, exists := s.gw.users[user.UserID]
	s.gw.mu.RUnlock()
	if exists {
		return fmt.Errorf("insert user: %w", sentinel.ErrConflict)
	}
	copied := *user
	s.users = append(s.users, &copied)
	return nil
}

func (s *memorySession) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return errors.New("commit: no open transaction")
	}
	s.open = false
	defer s.discard()
	if err := s.gw.fault(OpCommit); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.gw.mu.Lock()
	defer s.gw.mu.Unlock()
	for _, org := range s.orgs {
		if _, taken := s.gw.slugs[org.Slug]; taken {
			return fmt.Errorf("commit: %w", sentinel.ErrConflict)
		}
	}
	for _, user := range s.users {
		if _, taken := s.gw.users[user.UserID]; taken {
			return fmt.Errorf("commit: %w", sentinel.ErrConflict)
		}
	}
	for _, org := range s.orgs {
		s.gw.orgs[org.ID] = org
		s.gw.slugs[org.Slug] = org.ID
	}
	for _, user := range s.users {
		s.gw.users[user.UserID] = user
	}
	return nil
}

func (s *memorySession) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.discard()
	return nil
}

func (s *memorySession) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	s.open = false
	s.discard()
	s.gw.released.Add(1)
	return nil
}

func (s *memorySession) discard() {
	s.orgs = nil
	s.users = nil
}

func (s *memorySession) slugTaken(slug string) bool {
	for _, org := range s.orgs {
		if org.Slug == slug {
			return true
		}
	}
	s.gw.mu.RLock()
	defer s.gw.mu.RUnlock()
	_, taken := s.gw.slugs[slug]
	return taken
}

func (s *memorySession) orgVisible(orgID id.OrganizationID) bool {
	for _, org := range s.orgs {
		if org.ID == orgID {
			return true
		}
	}
	s.gw.mu.RLock()
	defer s.gw.mu.RUnlock()
	_, ok := s.gw.orgs[orgID]
	return ok
}
