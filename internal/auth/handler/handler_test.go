package handler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/auth/models"
	id "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain"
	dErrors "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain-errors"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/httputil"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/testutil"
)

type stubService struct {
	got     models.ResolveRequest
	payload *models.AuthorizationPayload
	err     error
}

func (s *stubService) Resolve(_ context.Context, req models.ResolveRequest) (*models.AuthorizationPayload, error) {
	s.got = req
	return s.payload, s.err
}

func newRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))).Register(r)
	return r
}

func TestHandleLoginData_Success(t *testing.T) {
	orgID := id.OrganizationID(uuid.New())
	svc := &stubService{payload: &models.AuthorizationPayload{
		UserID:         "uid-ana",
		DisplayName:    "Ana Silva",
		Role:           "admin",
		OrganizationID: orgID,
	}}

	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/login-data", map[string]string{"email": "ana@example.com"})
	rr := testutil.DoRequest(newRouter(svc), testutil.WithBearer(req, "tok"))

	testutil.AssertStatusOK(t, rr)
	resp := testutil.UnmarshalResponse[models.LoginDataResponse](t, rr)
	assert.Equal(t, models.LoginDataResponse{
		Status:         "success",
		UserID:         "uid-ana",
		DisplayName:    "Ana Silva",
		Role:           "admin",
		OrganizationID: orgID.String(),
		Message:        models.MessageAuthenticated,
	}, *resp)
	assert.Equal(t, "Bearer tok", svc.got.Authorization)
	assert.Equal(t, "ana@example.com", svc.got.ClaimedEmail)
}

func TestHandleLoginData_BodyIsOptional(t *testing.T) {
	svc := &stubService{payload: &models.AuthorizationPayload{UserID: "uid-ana", Role: "admin"}}

	for name, req := range map[string]*http.Request{
		"empty":     testutil.NewRequest(t, http.MethodPost, "/api/login-data"),
		"malformed": testutil.NewRequestWithBody(t, http.MethodPost, "/api/login-data", "{oops"),
	} {
		t.Run(name, func(t *testing.T) {
			rr := testutil.DoRequest(newRouter(svc), testutil.WithBearer(req, "tok"))
			testutil.AssertStatusOK(t, rr)
		})
	}
}

func TestHandleLoginData_Failures(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{"missing credential", dErrors.New(dErrors.CodeMissingCredential, "x"), http.StatusUnauthorized, httputil.MessageInvalidCredentials},
		{"expired", dErrors.New(dErrors.CodeCredentialExpired, "x"), http.StatusUnauthorized, httputil.MessageSessionExpired},
		{"invalid", dErrors.New(dErrors.CodeInvalidCredential, "x"), http.StatusUnauthorized, httputil.MessageInvalidCredentials},
		{"unknown user", dErrors.New(dErrors.CodeUnknownUser, "no active user for subject uid-x"), http.StatusUnauthorized, httputil.MessageInvalidCredentials},
		{"store failure", dErrors.Wrap(errors.New("dial tcp"), dErrors.CodeInternal, "x"), http.StatusInternalServerError, httputil.MessageInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := testutil.DoRequest(newRouter(&stubService{err: tt.err}), testutil.NewRequest(t, http.MethodPost, "/api/login-data"))
			testutil.AssertStatusAndMessage(t, rr, tt.wantStatus, tt.wantMessage)
		})
	}
}
