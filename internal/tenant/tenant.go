// Package tenant provisions organizations and their first administrator
// across the identity provider and the relational store.
package tenant

import (
	"log/slog"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/handler"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/ports"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/service"
)

// Service exposes the registration saga.
type Service = service.Service

// Handler wires HTTP endpoints to the tenant service.
type Handler = handler.Handler

// NewService constructs the registration saga with required dependencies.
func NewService(identities ports.IdentityProvisioner, db ports.Relational, opts ...service.Option) (*Service, error) {
	return service.New(identities, db, opts...)
}

// NewHandler constructs the HTTP handler for the registration route.
func NewHandler(s *Service, logger *slog.Logger) *Handler {
	return handler.New(s, logger)
}
