package models

// RegisterResponse is the 201 body of the registration endpoint.
type RegisterResponse struct {
	Status         string `json:"status"`
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId"`
	Message        string `json:"message"`
}

// MessageRegistered is returned with a successful registration.
const MessageRegistered = "Organization and user created."
