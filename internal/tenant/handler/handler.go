package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/models"
	dErrors "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain-errors"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/httputil"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/requestcontext"
)

const maxBodyBytes = 1 << 20

// Service is the registration use case.
type Service interface {
	Register(ctx context.Context, req *models.RegisterRequest) (*models.Registration, error)
}

// Handler serves the self-service registration endpoint.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the registration route.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/register", h.HandleRegister)
}

// HandleRegister creates an organization and its first administrator.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var req models.RegisterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid registration request body",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "Invalid request body."))
		return
	}

	result, err := h.service.Register(ctx, &req)
	if err != nil {
		h.logFailure(ctx, requestID, err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, models.RegisterResponse{
		Status:         httputil.StatusSuccess,
		UserID:         result.UserID.String(),
		OrganizationID: result.OrganizationID.String(),
		Message:        models.MessageRegistered,
	})
}

func (h *Handler) logFailure(ctx context.Context, requestID string, err error) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeValidation, dErrors.CodeBadRequest, dErrors.CodeIdentityConflict:
		h.logger.WarnContext(ctx, "registration rejected",
			"request_id", requestID,
			"error", err,
		)
	default:
		h.logger.ErrorContext(ctx, "registration failed",
			"request_id", requestID,
			"error", err,
		)
	}
}
