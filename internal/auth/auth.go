// Package auth resolves a verified bearer credential into the caller's role
// and organization. It never writes and never trusts claims from the body.
package auth

import (
	"log/slog"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/auth/handler"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/auth/service"
)

// Service exposes login resolution.
type Service = service.Service

// Handler wires HTTP endpoints to the auth service.
type Handler = handler.Handler

// NewService constructs the login resolution service.
func NewService(verifier service.Verifier, members service.MemberLookup, opts ...service.Option) (*Service, error) {
	return service.New(verifier, members, opts...)
}

// NewHandler constructs the HTTP handler for the login route.
func NewHandler(s *Service, logger *slog.Logger) *Handler {
	return handler.New(s, logger)
}
