package local

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain-errors"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/httputil"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/sentinel"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/requestcontext"
)

// SignInRequest is the body of the development sign-in endpoint.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignInResponse carries a bearer token for the login endpoint.
type SignInResponse struct {
	Status    string    `json:"status"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SignInner issues tokens for email/secret pairs.
type SignInner interface {
	SignIn(ctx context.Context, email, secret string) (string, time.Time, error)
}

// Handler exposes sign-in for the local provider. It stands in for the
// client-side SDK a hosted provider would ship.
type Handler struct {
	provider SignInner
	logger   *slog.Logger
}

func NewHandler(provider SignInner, logger *slog.Logger) *Handler {
	return &Handler{provider: provider, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/api/dev/sign-in", h.HandleSignIn)
}

func (h *Handler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var req SignInRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "Invalid request body."))
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "Email and password are required."))
		return
	}

	token, expiresAt, err := h.provider.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidCredential) {
			h.logger.InfoContext(ctx, "dev sign-in rejected", "request_id", requestID)
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidCredential, "invalid email or password"))
			return
		}
		h.logger.ErrorContext(ctx, "dev sign-in failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "sign-in failed"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, SignInResponse{
		Status:    httputil.StatusSuccess,
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
