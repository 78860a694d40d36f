package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/identity"
	id "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/sentinel"
)

// Identity Toolkit error reasons that map to sentinel facts.
const (
	reasonEmailExists  = "EMAIL_EXISTS"
	reasonUserNotFound = "USER_NOT_FOUND"
)

type createAccountRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

type createAccountResponse struct {
	LocalID string `json:"localId"`
}

type deleteAccountRequest struct {
	LocalID string `json:"localId"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateIdentity creates an email/password account and returns its localId.
func (c *Client) CreateIdentity(ctx context.Context, in identity.NewIdentity) (id.UserID, error) {
	var out createAccountResponse
	err := c.call(ctx, "/accounts", createAccountRequest{
		Email:       in.Email,
		Password:    in.Secret,
		DisplayName: in.DisplayName,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("create identity: %w", err)
	}
	subject, err := id.ParseUserID(out.LocalID)
	if err != nil {
		return "", fmt.Errorf("create identity: malformed localId: %w", err)
	}
	return subject, nil
}

// DeleteIdentity removes the account with the given localId.
func (c *Client) DeleteIdentity(ctx context.Context, subject id.UserID) error {
	if err := c.call(ctx, "/accounts:delete", deleteAccountRequest{LocalID: subject.String()}, nil); err != nil {
		return fmt.Errorf("delete identity %s: %w", subject, err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	endpoint := c.baseURL + "/v1/projects/" + url.PathEscape(c.projectID) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.DebugContext(ctx, "identity toolkit call failed",
			"path", path,
			"status", resp.StatusCode,
		)
		return classify(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classify turns an Identity Toolkit error body into a sentinel where one
// applies. Reasons may carry a detail suffix ("EMAIL_EXISTS : ...").
func classify(status int, raw []byte) error {
	var apiErr apiError
	_ = json.Unmarshal(raw, &apiErr)
	reason := apiErr.Error.Message
	if i := strings.IndexAny(reason, " :"); i > 0 {
		reason = reason[:i]
	}

	switch {
	case reason == reasonEmailExists:
		return fmt.Errorf("%w: %s", sentinel.ErrConflict, apiErr.Error.Message)
	case reason == reasonUserNotFound:
		return fmt.Errorf("%w: %s", sentinel.ErrNotFound, apiErr.Error.Message)
	case status >= http.StatusInternalServerError, status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", sentinel.ErrUnavailable, status)
	case reason != "":
		return errors.New(apiErr.Error.Message)
	default:
		return fmt.Errorf("unexpected status %d", status)
	}
}
