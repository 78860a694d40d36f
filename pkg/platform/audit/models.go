package audit

import (
	"time"

	id "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// route and retain them differently.
type EventCategory string

const (
	// CategoryCompliance covers events with legal significance: tenant and
	// account creation, identity removal.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers authentication failures and inconsistencies an
	// operator must act on, such as orphaned identities.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	Category       EventCategory `json:"category"`
	Timestamp      time.Time     `json:"timestamp"`
	Action         string        `json:"action"`
	UserID         id.UserID     `json:"user_id,omitempty"`
	OrganizationID string        `json:"organization_id,omitempty"`
	Email          string        `json:"email,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	RequestID      string        `json:"request_id,omitempty"`
	ClientIP       string        `json:"client_ip,omitempty"`
	Browser        string        `json:"browser,omitempty"`
	OS             string        `json:"os,omitempty"`
}

type AuditEvent string

const (
	// Registration saga
	EventTenantProvisioned   AuditEvent = "tenant_provisioned"
	EventProvisioningFailed  AuditEvent = "provisioning_failed"
	EventIdentityCompensated AuditEvent = "identity_compensated"
	EventIdentityOrphaned    AuditEvent = "identity_orphaned"

	// Login resolution
	EventLoginResolved AuditEvent = "login_resolved"
	EventAuthFailed    AuditEvent = "auth_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventTenantProvisioned:   CategoryCompliance,
	EventIdentityCompensated: CategoryCompliance,

	EventIdentityOrphaned: CategorySecurity,
	EventAuthFailed:       CategorySecurity,

	EventProvisioningFailed: CategoryOperations,
	EventLoginResolved:      CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
