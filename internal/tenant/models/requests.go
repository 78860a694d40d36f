package models

import (
	"strings"
	"unicode/utf8"

	"github.com/asaskevich/govalidator"

	id "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain"
	dErrors "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain-errors"
)

// MinSecretLength is the shortest admin password accepted, in characters.
const MinSecretLength = 6

// RegisterRequest is the self-service registration form.
type RegisterRequest struct {
	OrganizationName string `json:"organizationName"`
	UserName         string `json:"userName"`
	UserEmail        string `json:"userEmail"`
	UserPassword     string `json:"userPassword"`
}

// Normalize trims the free-text fields. The password is left untouched.
func (r *RegisterRequest) Normalize() {
	if r == nil {
		return
	}
	r.OrganizationName = strings.TrimSpace(r.OrganizationName)
	r.UserName = strings.TrimSpace(r.UserName)
	r.UserEmail = strings.ToLower(strings.TrimSpace(r.UserEmail))
}

// Validate checks the request before any side effect. Call Normalize first.
func (r *RegisterRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.OrganizationName == "" || r.UserName == "" || r.UserEmail == "" || r.UserPassword == "" {
		return dErrors.New(dErrors.CodeValidation, "All fields are required.")
	}
	if utf8.RuneCountInString(r.UserPassword) < MinSecretLength {
		return dErrors.New(dErrors.CodeValidation, "Password must be at least 6 characters.")
	}
	if !govalidator.IsEmail(r.UserEmail) {
		return dErrors.New(dErrors.CodeValidation, "Invalid email address.")
	}
	if utf8.RuneCountInString(r.OrganizationName) > MaxOrganizationNameLength {
		return dErrors.New(dErrors.CodeValidation, "Organization name must be at most 255 characters.")
	}
	return nil
}

// Registration is the outcome of a successful registration.
type Registration struct {
	OrganizationID id.OrganizationID
	UserID         id.UserID
	Slug           string
}
