// Package firebase adapts Firebase Authentication to the identity ports.
//
// ID tokens are verified locally against Google's securetoken keys. Account
// creation and deletion go through the Identity Toolkit admin API using a
// service-account authenticated client.
package firebase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2/jwt"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/identity"
	id "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/sentinel"
)

const (
	DefaultAPIBaseURL = "https://identitytoolkit.googleapis.com"

	issuerPrefix = "https://securetoken.google.com/"
	jwksURL      = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
	tokenURL     = "https://oauth2.googleapis.com/token"

	defaultRequestTimeout = 10 * time.Second
)

var adminScopes = []string{
	"https://www.googleapis.com/auth/identitytoolkit",
	"https://www.googleapis.com/auth/cloud-platform",
}

// Config holds the service-account credentials for one Firebase project.
type Config struct {
	ProjectID   string
	ClientEmail string
	PrivateKey  string
	APIBaseURL  string
}

// Client implements identity.Provider against Firebase.
type Client struct {
	projectID string
	baseURL   string
	http      *http.Client
	verifier  *oidc.IDTokenVerifier
	keySet    oidc.KeySet
	now       func() time.Time
	timeout   time.Duration
	logger    *slog.Logger
}

var _ identity.Provider = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient replaces the service-account client used for admin calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithKeySet replaces the remote securetoken key set.
func WithKeySet(ks oidc.KeySet) Option {
	return func(cl *Client) {
		cl.keySet = ks
	}
}

func WithNow(now func() time.Time) Option {
	return func(cl *Client) {
		cl.now = now
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// New builds a Firebase client. ctx scopes the key-set fetches and token
// refreshes and should live as long as the process.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}
	c := &Client{
		projectID: cfg.ProjectID,
		baseURL:   strings.TrimRight(cfg.APIBaseURL, "/"),
		now:       time.Now,
		timeout:   defaultRequestTimeout,
		logger:    slog.Default(),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultAPIBaseURL
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.http == nil {
		if cfg.ClientEmail == "" || cfg.PrivateKey == "" {
			return nil, errors.New("firebase client email and private key are required")
		}
		sa := &jwt.Config{
			Email:      cfg.ClientEmail,
			PrivateKey: []byte(NormalizePrivateKey(cfg.PrivateKey)),
			Scopes:     adminScopes,
			TokenURL:   tokenURL,
		}
		c.http = sa.Client(ctx)
	}
	if c.keySet == nil {
		c.keySet = oidc.NewRemoteKeySet(ctx, jwksURL)
	}
	c.verifier = oidc.NewVerifier(issuerPrefix+cfg.ProjectID, c.keySet, &oidc.Config{
		ClientID: cfg.ProjectID,
		Now:      c.now,
	})
	return c, nil
}

// NormalizePrivateKey restores newlines in a PEM key that was stored in an
// environment variable with escaped "\n" sequences.
func NormalizePrivateKey(key string) string {
	return strings.ReplaceAll(key, `\n`, "\n")
}

// VerifyCredential verifies a Firebase ID token and returns its subject.
func (c *Client) VerifyCredential(ctx context.Context, token string) (id.UserID, error) {
	idToken, err := c.verifier.Verify(ctx, token)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return "", fmt.Errorf("%w: id token expired at %s", sentinel.ErrExpired, expired.Expiry.UTC().Format(time.RFC3339))
		}
		return "", fmt.Errorf("%w: %v", sentinel.ErrInvalidCredential, err)
	}
	subject, err := id.ParseUserID(idToken.Subject)
	if err != nil {
		return "", fmt.Errorf("%w: %v", sentinel.ErrInvalidCredential, err)
	}
	return subject, nil
}
