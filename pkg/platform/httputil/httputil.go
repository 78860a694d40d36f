// Package httputil writes the JSON envelopes every endpoint shares:
//
//	{"status":"success", ...payload}
//	{"status":"error","message":"..."}
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain-errors"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Caller-facing messages for categories whose detail must not leak.
const (
	MessageInternal           = "Internal server error."
	MessageInvalidCredentials = "Authentication failed. Invalid credentials."
	MessageSessionExpired     = "Session expired. Please sign in again."
)

// ErrorResponse is the body of every failure response.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// WriteJSON encodes body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError translates a domain error into a status and a safe message.
func WriteError(w http.ResponseWriter, err error) {
	status, message := Translate(err)
	WriteJSON(w, status, ErrorResponse{Status: StatusError, Message: message})
}

// Translate maps err to an HTTP status and the message a caller may see.
//
// Authentication failures other than expiry share one message so responses
// don't reveal whether an identity exists, is inactive, or was never
// provisioned. Internal categories never echo their message.
func Translate(err error) (int, string) {
	de, ok := dErrors.From(err)
	if !ok {
		return http.StatusInternalServerError, MessageInternal
	}
	switch de.Code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeValidation:
		return http.StatusBadRequest, de.Message
	case dErrors.CodeCredentialExpired:
		return http.StatusUnauthorized, MessageSessionExpired
	case dErrors.CodeUnauthorized, dErrors.CodeMissingCredential,
		dErrors.CodeInvalidCredential, dErrors.CodeUnknownUser:
		return http.StatusUnauthorized, MessageInvalidCredentials
	case dErrors.CodeForbidden:
		return http.StatusForbidden, de.Message
	case dErrors.CodeNotFound:
		return http.StatusNotFound, de.Message
	case dErrors.CodeConflict:
		return http.StatusConflict, de.Message
	case dErrors.CodeIdentityConflict:
		// Registration failures are all 500s; the conflict message is the
		// one caller-actionable exception.
		return http.StatusInternalServerError, de.Message
	default:
		return http.StatusInternalServerError, MessageInternal
	}
}
