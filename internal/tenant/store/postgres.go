package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/models"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/ports"
	id "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/sentinel"
)

// PostgresGateway is the Relational Store Gateway over a database/sql pool.
type PostgresGateway struct {
	db *sql.DB
}

// NewPostgres constructs a gateway over an open pool.
func NewPostgres(db *sql.DB) *PostgresGateway {
	return &PostgresGateway{db: db}
}

// Acquire pins one connection from the pool for the caller's transactional work.
func (g *PostgresGateway) Acquire(ctx context.Context) (ports.Session, error) {
	conn, err := g.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &postgresSession{conn: conn}, nil
}

// FindActiveUser returns the active user with the given subject identifier.
// Inactive and missing users both return sentinel.ErrNotFound.
func (g *PostgresGateway) FindActiveUser(ctx context.Context, userID id.UserID) (*models.User, error) {
	query := `
		SELECT user_id, display_name, role, organization_id, email
		FROM users
		WHERE user_id = $1 AND is_active = true
	`
	var (
		user  models.User
		role  string
		orgID uuid.UUID
	)
	err := g.db.QueryRowContext(ctx, query, userID.String()).Scan(
		&user.UserID, &user.DisplayName, &role, &orgID, &user.Email,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find active user: %w", err)
	}
	user.Role = models.Role(role)
	user.OrganizationID = id.OrganizationID(orgID)
	user.IsActive = true
	return &user, nil
}

// Ping checks the pool can reach the database.
func (g *PostgresGateway) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

// postgresSession owns one *sql.Conn and the transaction open on it.
type postgresSession struct {
	mu       sync.Mutex
	conn     *sql.Conn
	tx       *sql.Tx
	released bool
}

func (s *postgresSession) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return errors.New("begin: session released")
	}
	if s.tx != nil {
		return errors.New("begin: transaction already open")
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	s.tx = tx
	return nil
}

func (s *postgresSession) InsertOrganization(ctx context.Context, org *models.Organization) (id.OrganizationID, error) {
	tx, err := s.activeTx()
	if err != nil {
		return id.OrganizationID{}, err
	}
	query := `
		INSERT INTO organizations (name, slug, contact_email, subscription_plan, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	var orgID uuid.UUID
	err = tx.QueryRowContext(ctx, query,
		org.Name, org.Slug, org.ContactEmail, org.SubscriptionPlan, org.IsActive,
	).Scan(&orgID)
	if err != nil {
		return id.OrganizationID{}, classify(err, "insert organization")
	}
	return id.OrganizationID(orgID), nil
}

func (s *postgresSession) InsertUser(ctx context.Context, user *models.User) error {
	tx, err := s.activeTx()
	if err != nil {
		return err
	}
	query := `
		INSERT INTO users (user_id, organization_id, display_name, email, role, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = tx.ExecContext(ctx, query,
		user.UserID.String(), uuid.UUID(user.OrganizationID), user.DisplayName,
		user.Email, user.Role.String(), user.IsActive,
	)
	return classify(err, "insert user")
}

func (s *postgresSession) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return errors.New("commit: no open transaction")
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return classify(err, "commit")
	}
	return nil
}

// Rollback is a no-op when no transaction is open or it already finished.
func (s *postgresSession) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Release rolls back any open transaction and returns the connection to the
// pool. Only the first call has an effect.
func (s *postgresSession) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("release connection: %w", err)
	}
	return nil
}

func (s *postgresSession) activeTx() (*sql.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil, errors.New("no open transaction")
	}
	return s.tx, nil
}
