package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/auth/models"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/httputil"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/requestcontext"
)

const maxBodyBytes = 64 << 10

// Service resolves a bearer credential into an authorization payload.
type Service interface {
	Resolve(ctx context.Context, req models.ResolveRequest) (*models.AuthorizationPayload, error)
}

// Handler serves the login resolution endpoint.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the login resolution route.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/login-data", h.HandleLoginData)
}

// HandleLoginData returns the caller's role and organization. The body is
// optional; an unreadable body is ignored since nothing in it is trusted.
func (h *Handler) HandleLoginData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var body models.LoginDataRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.logger.DebugContext(ctx, "ignoring unreadable login body",
			"request_id", requestID,
			"error", err,
		)
	}

	payload, err := h.service.Resolve(ctx, models.ResolveRequest{
		Authorization: r.Header.Get("Authorization"),
		ClaimedEmail:  body.Email,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "login resolution rejected",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, models.LoginDataResponse{
		Status:         httputil.StatusSuccess,
		UserID:         payload.UserID.String(),
		DisplayName:    payload.DisplayName,
		Role:           payload.Role,
		OrganizationID: payload.OrganizationID.String(),
		Message:        models.MessageAuthenticated,
	})
}
