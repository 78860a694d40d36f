package domain

import (
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain-errors"
)

// maxSubjectLength matches the identity provider's limit on subject identifiers.
const maxSubjectLength = 128

// UserID is the identity provider's subject identifier. It is opaque to this
// system and doubles as the users.user_id primary key, binding a User row to
// its Identity Record.
type UserID string

// OrganizationID identifies an organization. Generated by the relational store.
type OrganizationID uuid.UUID

// ParseUserID validates a subject identifier received at a trust boundary.
func ParseUserID(s string) (UserID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "user id is required")
	}
	if len(s) > maxSubjectLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "user id is too long")
	}
	if !utf8.ValidString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "user id must be valid UTF-8")
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) || !unicode.IsPrint(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "user id contains invalid characters")
		}
	}
	return UserID(s), nil
}

func (id UserID) String() string {
	return string(id)
}

func (id UserID) IsNil() bool {
	return id == ""
}

// ParseOrganizationID parses a non-nil UUID.
func ParseOrganizationID(s string) (OrganizationID, error) {
	if s == "" {
		return OrganizationID{}, dErrors.New(dErrors.CodeInvalidInput, "organization id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return OrganizationID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid organization id")
	}
	if u == uuid.Nil {
		return OrganizationID{}, dErrors.New(dErrors.CodeInvalidInput, "organization id must not be nil")
	}
	return OrganizationID(u), nil
}

func (id OrganizationID) String() string {
	return uuid.UUID(id).String()
}

func (id OrganizationID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

// MarshalText lets OrganizationID serialize as its UUID string in JSON.
func (id OrganizationID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *OrganizationID) UnmarshalText(b []byte) error {
	parsed, err := ParseOrganizationID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
