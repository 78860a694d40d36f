package models

import (
	id "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain"
)

// Member is the auth-local view of an active organization user.
type Member struct {
	UserID         id.UserID
	DisplayName    string
	Role           string
	OrganizationID id.OrganizationID
	Email          string
}

// AuthorizationPayload is recomputed from the system of record on every
// login and never persisted.
type AuthorizationPayload struct {
	UserID         id.UserID
	DisplayName    string
	Role           string
	OrganizationID id.OrganizationID
}

// ResolveRequest is the input to login resolution.
//
// ClaimedEmail comes from the request body and is untrusted; it is only
// compared against the stored email for logging, never used for lookup.
type ResolveRequest struct {
	Authorization string
	ClaimedEmail  string
}

// LoginDataRequest is the optional body of the login endpoint.
type LoginDataRequest struct {
	Email string `json:"email"`
}

// LoginDataResponse is the 200 body of the login endpoint.
type LoginDataResponse struct {
	Status         string `json:"status"`
	UserID         string `json:"userId"`
	DisplayName    string `json:"displayName"`
	Role           string `json:"role"`
	OrganizationID string `json:"organizationId"`
	Message        string `json:"message"`
}

// MessageAuthenticated is returned with a successful login resolution.
const MessageAuthenticated = "Authentication successful."
