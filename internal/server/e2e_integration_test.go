//go:build integration

package server_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/auth"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/auth/adapters"
	authmodels "github.com/grupoexnihilo/nexus-ecclesia/internal/auth/models"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/identity/local"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/server"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant"
	tenantmodels "github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/models"
	tenantservice "github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/service"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/store"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/testutil"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/testutil/containers"
)

type StackSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redis    *containers.RedisContainer
	router   http.Handler
}

func TestStackSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(StackSuite))
}

func (s *StackSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.redis = mgr.GetRedis(s.T())

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	identities, err := local.New(s.redis.Client, "integration-signing-key", local.WithBcryptCost(bcrypt.MinCost))
	s.Require().NoError(err)
	gateway := store.NewPostgres(s.postgres.DB)

	tenantSvc, err := tenant.NewService(identities, gateway, tenantservice.WithLogger(logger))
	s.Require().NoError(err)
	authSvc, err := auth.NewService(identities, adapters.NewTenantMemberLookup(gateway))
	s.Require().NoError(err)

	s.router = server.NewRouter(server.Config{
		Logger: logger,
		Modules: []server.Module{
			tenant.NewHandler(tenantSvc, logger),
			auth.NewHandler(authSvc, logger),
			local.NewHandler(identities, logger),
		},
		Checks: []server.Check{{Name: "database", Fn: gateway.Ping}},
	})
}

func (s *StackSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "users", "organizations"))
	s.Require().NoError(s.redis.FlushAll(ctx))
}

func (s *StackSuite) TestRegisterThenLogin() {
	t := s.T()
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodPost, "/api/register", registerBody("Grace Chapel", "ana@example.com")))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	registered := testutil.UnmarshalResponse[tenantmodels.RegisterResponse](t, rr)

	var slug string
	s.Require().NoError(s.postgres.DB.QueryRow(`SELECT slug FROM organizations WHERE id = $1`, registered.OrganizationID).Scan(&slug))
	s.Equal("grace-chapel", slug)

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodPost, "/api/dev/sign-in",
		map[string]string{"email": "ana@example.com", "password": "secret1"}))
	testutil.AssertStatusOK(t, rr)
	token := testutil.UnmarshalResponse[local.SignInResponse](t, rr).Token

	rr = testutil.DoRequest(s.router, testutil.WithBearer(testutil.NewRequest(t, http.MethodPost, "/api/login-data"), token))
	testutil.AssertStatusOK(t, rr)
	resp := testutil.UnmarshalResponse[authmodels.LoginDataResponse](t, rr)
	s.Equal("admin", resp.Role)
	s.Equal(registered.OrganizationID, resp.OrganizationID)
}

func (s *StackSuite) TestSlugCollisionCompensates() {
	t := s.T()
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodPost, "/api/register", registerBody("Grace Chapel", "ana@example.com")))
	testutil.AssertStatus(t, rr, http.StatusCreated)

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodPost, "/api/register", registerBody("Grace  Chapel!", "bea@example.com")))
	testutil.AssertStatusAndMessage(t, rr, http.StatusInternalServerError, tenantservice.MessageProvisioningFailed)

	exists, err := s.redis.Client.Exists(context.Background(), "identity:email:bea@example.com").Result()
	s.Require().NoError(err)
	s.Zero(exists, "identity for the failed registration is compensated")

	var users int
	s.Require().NoError(s.postgres.DB.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&users))
	s.Equal(1, users)
}
