package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	dErrors "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error hides message", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.Wrap(errors.New(`pq: relation "users" does not exist`), dErrors.CodeProvisioningFailed, "failed to insert user"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
		body := decode(t, w)
		if body.Status != StatusError {
			t.Fatalf("expected status marker %q, got %q", StatusError, body.Status)
		}
		if body.Message != MessageInternal {
			t.Fatalf("expected generic message, got %q", body.Message)
		}
	})

	t.Run("validation includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeValidation, "password must be at least 6 characters"))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
		if body := decode(t, w); body.Message != "password must be at least 6 characters" {
			t.Fatalf("expected validation message to be returned, got %q", body.Message)
		}
	})

	t.Run("unknown user is indistinguishable from invalid credential", func(t *testing.T) {
		unknown := httptest.NewRecorder()
		WriteError(unknown, dErrors.New(dErrors.CodeUnknownUser, "user not found or inactive"))
		invalid := httptest.NewRecorder()
		WriteError(invalid, dErrors.New(dErrors.CodeInvalidCredential, "signature mismatch"))

		if unknown.Code != http.StatusUnauthorized || invalid.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for both, got %d and %d", unknown.Code, invalid.Code)
		}
		if unknown.Body.String() != invalid.Body.String() {
			t.Fatalf("expected identical bodies, got %q and %q", unknown.Body.String(), invalid.Body.String())
		}
	})

	t.Run("expired credential has its own message", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeCredentialExpired, "token expired"))

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
		}
		if body := decode(t, w); body.Message != MessageSessionExpired {
			t.Fatalf("expected session expired message, got %q", body.Message)
		}
	})

	t.Run("plain error is internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, errors.New("dial tcp 10.0.0.5:5432: connect: connection refused"))

		if body := decode(t, w); body.Message != MessageInternal {
			t.Fatalf("expected generic message, got %q", body.Message)
		}
	})
}

func decode(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}
