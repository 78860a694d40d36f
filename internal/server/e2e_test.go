package server_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/auth"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/auth/adapters"
	authmetrics "github.com/grupoexnihilo/nexus-ecclesia/internal/auth/metrics"
	authmodels "github.com/grupoexnihilo/nexus-ecclesia/internal/auth/models"
	authservice "github.com/grupoexnihilo/nexus-ecclesia/internal/auth/service"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/identity/local"
	ratelimitmetrics "github.com/grupoexnihilo/nexus-ecclesia/internal/ratelimit/metrics"
	ratelimit "github.com/grupoexnihilo/nexus-ecclesia/internal/ratelimit/middleware"
	ratelimitmodels "github.com/grupoexnihilo/nexus-ecclesia/internal/ratelimit/models"
	ratelimitstore "github.com/grupoexnihilo/nexus-ecclesia/internal/ratelimit/store"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/server"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant"
	tenantmetrics "github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/metrics"
	tenantmodels "github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/models"
	tenantservice "github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/service"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/store"
	id "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/httputil"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/middleware/metadata"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/middleware/request"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/testutil"
)

type harness struct {
	router        http.Handler
	gateway       *store.InMemoryGateway
	mr            *miniredis.Miniredis
	tenantMetrics *tenantmetrics.Metrics
}

const e2eRateLimit = 100

// proxyPeer is the socket address httptest.NewRequest assigns; the harness
// trusts it as the load balancer in front of the server.
var proxyPeer = netip.MustParsePrefix("192.0.2.1/32")

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithLimit(t, e2eRateLimit)
}

// newHarnessWithLimit shares one miniredis between the local identity
// provider and the rate limit buckets, as the server does.
func newHarnessWithLimit(t *testing.T, requestsPerMinute int) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	identities, err := local.New(rdb, "e2e-local-signing-key", local.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)

	gateway := store.NewInMemory()
	reg := prometheus.NewRegistry()
	tm := tenantmetrics.New(reg)

	tenantSvc, err := tenant.NewService(identities, gateway,
		tenantservice.WithLogger(logger),
		tenantservice.WithMetrics(tm),
	)
	require.NoError(t, err)

	authSvc, err := auth.NewService(identities, adapters.NewTenantMemberLookup(gateway),
		authservice.WithLogger(logger),
		authservice.WithMetrics(authmetrics.New(reg)),
	)
	require.NoError(t, err)

	clientIP := metadata.NewResolver([]netip.Prefix{proxyPeer})
	limiter := ratelimit.New(ratelimitstore.NewRedisBucketStore(rdb), requestsPerMinute, time.Minute, logger,
		ratelimit.WithMetrics(ratelimitmetrics.New(reg)),
		ratelimit.WithClientIP(clientIP),
	)

	router := server.NewRouter(server.Config{
		Logger:    logger,
		RateLimit: limiter.RateLimit,
		ClientIP:  clientIP,
		Modules: []server.Module{
			tenant.NewHandler(tenantSvc, logger),
			auth.NewHandler(authSvc, logger),
			local.NewHandler(identities, logger),
		},
		Checks: []server.Check{
			{Name: "database", Fn: gateway.Ping},
			{Name: "redis", Fn: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		},
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	return &harness{router: router, gateway: gateway, mr: mr, tenantMetrics: tm}
}

func registerBody(org, email string) map[string]string {
	return map[string]string{
		"organizationName": org,
		"userName":         "Ana Silva",
		"userEmail":        email,
		"userPassword":     "secret1",
	}
}

func (h *harness) register(t *testing.T, org, email string) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.DoRequest(h.router, testutil.NewJSONRequest(t, http.MethodPost, "/api/register", registerBody(org, email)))
}

func (h *harness) signIn(t *testing.T, email string) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.DoRequest(h.router, testutil.NewJSONRequest(t, http.MethodPost, "/api/dev/sign-in",
		map[string]string{"email": email, "password": "secret1"}))
}

func (h *harness) loginData(t *testing.T, token, email string) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/login-data", map[string]string{"email": email})
	if token != "" {
		req = testutil.WithBearer(req, token)
	}
	return testutil.DoRequest(h.router, req)
}

func TestRegisterThenLogin(t *testing.T) {
	h := newHarness(t)

	testutil.Given(t, "a fresh deployment", func(t *testing.T) {
		var registered *tenantmodels.RegisterResponse

		testutil.When(t, "Grace Chapel registers with Ana as administrator", func(t *testing.T) {
			rr := h.register(t, "Grace Chapel", "ana@example.com")
			testutil.AssertStatus(t, rr, http.StatusCreated)
			registered = testutil.UnmarshalResponse[tenantmodels.RegisterResponse](t, rr)
			assert.Equal(t, httputil.StatusSuccess, registered.Status)
			assert.NotEmpty(t, registered.OrganizationID)
			assert.NotEmpty(t, registered.UserID)
		})

		testutil.Then(t, "Ana resolves to an admin of the same organization", func(t *testing.T) {
			require.NotNil(t, registered)
			rr := h.signIn(t, "ana@example.com")
			testutil.AssertStatusOK(t, rr)
			token := testutil.UnmarshalResponse[local.SignInResponse](t, rr).Token

			rr = h.loginData(t, token, "ana@example.com")
			testutil.AssertStatusOK(t, rr)
			resp := testutil.UnmarshalResponse[authmodels.LoginDataResponse](t, rr)
			assert.Equal(t, "admin", resp.Role)
			assert.Equal(t, registered.OrganizationID, resp.OrganizationID)
			assert.Equal(t, registered.UserID, resp.UserID)
			assert.Equal(t, "Ana Silva", resp.DisplayName)
			assert.Equal(t, authmodels.MessageAuthenticated, resp.Message)
		})

		testutil.And(t, "a resubmission is rejected at the identity provider", func(t *testing.T) {
			rr := h.register(t, "Grace Chapel Again", "ana@example.com")
			testutil.AssertStatusAndMessage(t, rr, http.StatusInternalServerError, tenantservice.MessageEmailInUse)

			orgs, users := h.gateway.Counts()
			assert.Equal(t, 1, orgs)
			assert.Equal(t, 1, users)
		})
	})
}

func TestRegister_LongPassword(t *testing.T) {
	h := newHarness(t)
	password := strings.Repeat("a long passphrase ", 6)

	body := registerBody("Grace Chapel", "ana@example.com")
	body["userPassword"] = password
	rr := testutil.DoRequest(h.router, testutil.NewJSONRequest(t, http.MethodPost, "/api/register", body))
	testutil.AssertStatus(t, rr, http.StatusCreated)

	rr = testutil.DoRequest(h.router, testutil.NewJSONRequest(t, http.MethodPost, "/api/dev/sign-in",
		map[string]string{"email": "ana@example.com", "password": password}))
	testutil.AssertStatusOK(t, rr)
}

func TestRegister_ValidationHasNoSideEffects(t *testing.T) {
	h := newHarness(t)

	rr := h.register(t, "Grace Chapel", "not-an-email")
	testutil.AssertStatusAndMessage(t, rr, http.StatusBadRequest, "Invalid email address.")

	rr = h.register(t, "  &&&  ", "ana@example.com")
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	orgs, users := h.gateway.Counts()
	assert.Zero(t, orgs)
	assert.Zero(t, users)
	assert.Empty(t, h.mr.Keys())
}

func TestRegister_ConcurrentSameEmail(t *testing.T) {
	h := newHarness(t)
	const callers = 6

	var wg sync.WaitGroup
	statuses := make([]int, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rr := h.register(t, "Race Church "+string(rune('A'+i)), "race@example.com")
			statuses[i] = rr.Code
		}()
	}
	wg.Wait()

	created := 0
	for _, code := range statuses {
		if code == http.StatusCreated {
			created++
		} else {
			assert.Equal(t, http.StatusInternalServerError, code)
		}
	}
	assert.Equal(t, 1, created)

	orgs, users := h.gateway.Counts()
	assert.Equal(t, 1, orgs)
	assert.Equal(t, 1, users)
}

func TestRegister_CompensatesIdentityOnStoreFailure(t *testing.T) {
	h := newHarness(t)

	testutil.Given(t, "the user insert fails", func(t *testing.T) {
		h.gateway.FailOn(store.OpInsertUser, errors.New("connection reset"))

		testutil.When(t, "Ana registers", func(t *testing.T) {
			rr := h.register(t, "Grace Chapel", "ana@example.com")
			testutil.AssertStatusAndMessage(t, rr, http.StatusInternalServerError, tenantservice.MessageProvisioningFailed)
		})

		testutil.Then(t, "neither system keeps a record", func(t *testing.T) {
			orgs, users := h.gateway.Counts()
			assert.Zero(t, orgs)
			assert.Zero(t, users)
			assert.Zero(t, h.gateway.OpenSessions())
			assert.Empty(t, h.mr.Keys())

			rr := h.signIn(t, "ana@example.com")
			testutil.AssertStatus(t, rr, http.StatusUnauthorized)
			assert.Equal(t, 1.0, promtestutil.ToFloat64(h.tenantMetrics.Compensations.WithLabelValues(tenantmetrics.CompensationDeleted)))
		})

		testutil.And(t, "the email can register once the store recovers", func(t *testing.T) {
			h.gateway.FailOn(store.OpInsertUser, nil)
			rr := h.register(t, "Grace Chapel", "ana@example.com")
			testutil.AssertStatus(t, rr, http.StatusCreated)
		})
	})
}

func TestLogin_Rejections(t *testing.T) {
	h := newHarness(t)
	rr := h.register(t, "Grace Chapel", "ana@example.com")
	testutil.AssertStatus(t, rr, http.StatusCreated)
	registered := testutil.UnmarshalResponse[tenantmodels.RegisterResponse](t, rr)

	t.Run("missing credential", func(t *testing.T) {
		rr := h.loginData(t, "", "ana@example.com")
		testutil.AssertStatusAndMessage(t, rr, http.StatusUnauthorized, httputil.MessageInvalidCredentials)
	})

	t.Run("forged credential", func(t *testing.T) {
		rr := h.loginData(t, "eyJhbGciOiJIUzI1NiJ9.e30.bad", "ana@example.com")
		testutil.AssertStatusAndMessage(t, rr, http.StatusUnauthorized, httputil.MessageInvalidCredentials)
	})

	t.Run("claimed email is not used for lookup", func(t *testing.T) {
		token := testutil.UnmarshalResponse[local.SignInResponse](t, h.signIn(t, "ana@example.com")).Token
		rr := h.loginData(t, token, "mallory@example.com")
		testutil.AssertStatusOK(t, rr)
		assert.Equal(t, registered.UserID, testutil.UnmarshalResponse[authmodels.LoginDataResponse](t, rr).UserID)
	})

	t.Run("deactivated user looks like a bad credential", func(t *testing.T) {
		token := testutil.UnmarshalResponse[local.SignInResponse](t, h.signIn(t, "ana@example.com")).Token
		require.NoError(t, h.gateway.SetUserActive(id.UserID(registered.UserID), false))

		rr := h.loginData(t, token, "ana@example.com")
		testutil.AssertStatusAndMessage(t, rr, http.StatusUnauthorized, httputil.MessageInvalidCredentials)
	})
}

func TestOperationalEndpoints(t *testing.T) {
	h := newHarness(t)

	rr := testutil.DoRequest(h.router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
	testutil.AssertStatusOK(t, rr)
	assert.NotEmpty(t, rr.Header().Get(request.HeaderRequestID))

	rr = testutil.DoRequest(h.router, testutil.NewRequest(t, http.MethodGet, "/readyz"))
	testutil.AssertStatusOK(t, rr)

	testutil.AssertStatus(t, h.register(t, "Grace Chapel", "ana@example.com"), http.StatusCreated)
	rr = testutil.DoRequest(h.router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	testutil.AssertStatusOK(t, rr)
	assert.Contains(t, rr.Body.String(), `nexus_tenant_registrations_total{outcome="success"} 1`)

	h.mr.Close()
	rr = testutil.DoRequest(h.router, testutil.NewRequest(t, http.MethodGet, "/readyz"))
	testutil.AssertStatusAndMessage(t, rr, http.StatusServiceUnavailable, "redis unavailable")
}

func TestRateLimit_PerClientIP(t *testing.T) {
	h := newHarnessWithLimit(t, 2)
	loginFrom := func(ip string) *httptest.ResponseRecorder {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/api/login-data", nil)
		return testutil.DoRequest(h.router, testutil.WithClientIP(req, ip))
	}

	for range 2 {
		testutil.AssertStatus(t, loginFrom("198.51.100.7"), http.StatusUnauthorized)
	}
	testutil.AssertStatusAndMessage(t, loginFrom("198.51.100.7"), http.StatusTooManyRequests, ratelimit.MessageTooManyRequests)
	assert.True(t, h.mr.Exists(ratelimitmodels.IPKey("198.51.100.7")))

	testutil.AssertStatus(t, loginFrom("198.51.100.8"), http.StatusUnauthorized)

	health := testutil.WithClientIP(testutil.NewRequest(t, http.MethodGet, "/healthz"), "198.51.100.7")
	testutil.AssertStatusOK(t, testutil.DoRequest(h.router, health))
}

func TestRateLimit_ForgedForwardedFor(t *testing.T) {
	t.Run("direct client rotating the header", func(t *testing.T) {
		h := newHarnessWithLimit(t, 2)
		forged := func(ip string) *httptest.ResponseRecorder {
			req := testutil.NewJSONRequest(t, http.MethodPost, "/api/login-data", nil)
			req.RemoteAddr = "203.0.113.50:51000"
			return testutil.DoRequest(h.router, testutil.WithClientIP(req, ip))
		}

		testutil.AssertStatus(t, forged("198.51.100.1"), http.StatusUnauthorized)
		testutil.AssertStatus(t, forged("198.51.100.2"), http.StatusUnauthorized)
		testutil.AssertStatusAndMessage(t, forged("198.51.100.3"), http.StatusTooManyRequests, ratelimit.MessageTooManyRequests)
		assert.True(t, h.mr.Exists(ratelimitmodels.IPKey("203.0.113.50")))
		assert.False(t, h.mr.Exists(ratelimitmodels.IPKey("198.51.100.1")))
	})

	t.Run("client prepending hops behind the proxy", func(t *testing.T) {
		h := newHarnessWithLimit(t, 2)
		viaProxy := func(chain string) *httptest.ResponseRecorder {
			req := testutil.NewJSONRequest(t, http.MethodPost, "/api/login-data", nil)
			return testutil.DoRequest(h.router, testutil.WithClientIP(req, chain))
		}

		testutil.AssertStatus(t, viaProxy("198.51.100.7"), http.StatusUnauthorized)
		testutil.AssertStatus(t, viaProxy("10.9.9.9, 198.51.100.7"), http.StatusUnauthorized)
		testutil.AssertStatusAndMessage(t, viaProxy("10.9.9.10, 198.51.100.7"), http.StatusTooManyRequests, ratelimit.MessageTooManyRequests)
	})
}
