// Package local is a development identity provider backed by Redis.
//
// Records live under two keys: an email index claimed with SETNX, which
// enforces email uniqueness, and a hash keyed by subject id holding the
// bcrypt secret. Tokens are HS256 JWTs carrying sub, email and exp.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/identity"
	id "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/sentinel"
)

const (
	emailKeyPrefix   = "identity:email:"
	subjectKeyPrefix = "identity:uid:"

	fieldEmail       = "email"
	fieldSecretHash  = "secret_hash"
	fieldDisplayName = "display_name"
	fieldCreatedAt   = "created_at"

	issuer = "nexus-ecclesia-local"

	DefaultTokenTTL = time.Hour
)

// Claims are the claims carried by a local identity token.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Provider implements identity.Provider on Redis.
type Provider struct {
	client     *redis.Client
	signingKey []byte
	tokenTTL   time.Duration
	cost       int
	now        func() time.Time
	logger     *slog.Logger
}

var _ identity.Provider = (*Provider)(nil)

type Option func(*Provider)

func WithTokenTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.tokenTTL = ttl
		}
	}
}

// WithBcryptCost sets the hashing cost. Values outside bcrypt's range are ignored.
func WithBcryptCost(cost int) Option {
	return func(p *Provider) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			p.cost = cost
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// New constructs a local provider. The client lifecycle is managed by the caller.
func New(client *redis.Client, signingKey string, opts ...Option) (*Provider, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if len(signingKey) < 16 {
		return nil, errors.New("local identity signing key must be at least 16 bytes")
	}
	p := &Provider{
		client:     client,
		signingKey: []byte(signingKey),
		tokenTTL:   DefaultTokenTTL,
		cost:       bcrypt.DefaultCost,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

func emailKey(email string) string {
	return emailKeyPrefix + strings.ToLower(strings.TrimSpace(email))
}

func subjectKey(subject id.UserID) string {
	return subjectKeyPrefix + subject.String()
}

// CreateIdentity claims the email and stores the hashed secret.
func (p *Provider) CreateIdentity(ctx context.Context, in identity.NewIdentity) (id.UserID, error) {
	hash, err := hashSecret(in.Secret, p.cost)
	if err != nil {
		return "", err
	}
	subject := id.UserID(uuid.NewString())

	claimed, err := p.client.SetNX(ctx, emailKey(in.Email), subject.String(), 0).Result()
	if err != nil {
		return "", fmt.Errorf("claim email: %w", err)
	}
	if !claimed {
		return "", fmt.Errorf("%w: email already registered", sentinel.ErrConflict)
	}

	err = p.client.HSet(ctx, subjectKey(subject),
		fieldEmail, strings.ToLower(strings.TrimSpace(in.Email)),
		fieldSecretHash, hash,
		fieldDisplayName, in.DisplayName,
		fieldCreatedAt, p.now().UTC().Format(time.RFC3339),
	).Err()
	if err != nil {
		if delErr := p.client.Del(context.WithoutCancel(ctx), emailKey(in.Email)).Err(); delErr != nil {
			p.logger.ErrorContext(ctx, "failed to release email claim",
				"subject_id", subject,
				"error", delErr,
			)
		}
		return "", fmt.Errorf("store identity: %w", err)
	}
	return subject, nil
}

// DeleteIdentity removes the record and its email claim.
func (p *Provider) DeleteIdentity(ctx context.Context, subject id.UserID) error {
	email, err := p.client.HGet(ctx, subjectKey(subject), fieldEmail).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: identity %s", sentinel.ErrNotFound, subject)
	}
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, subjectKey(subject))
		pipe.Del(ctx, emailKey(email))
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return nil
}

// SignIn checks the email and secret and issues a token. Unknown emails and
// wrong secrets fail identically.
func (p *Provider) SignIn(ctx context.Context, email, secret string) (string, time.Time, error) {
	uid, err := p.client.Get(ctx, emailKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return "", time.Time{}, sentinel.ErrInvalidCredential
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("lookup email: %w", err)
	}
	subject := id.UserID(uid)

	record, err := p.client.HMGet(ctx, subjectKey(subject), fieldSecretHash, fieldEmail).Result()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("load identity: %w", err)
	}
	hash, _ := record[0].(string)
	storedEmail, _ := record[1].(string)
	if hash == "" {
		return "", time.Time{}, sentinel.ErrInvalidCredential
	}
	if err := verifySecret(secret, hash); err != nil {
		return "", time.Time{}, err
	}
	return p.issue(subject, storedEmail)
}

func (p *Provider) issue(subject id.UserID, email string) (string, time.Time, error) {
	now := p.now()
	expiresAt := now.Add(p.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(p.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyCredential validates a token issued by SignIn and confirms the
// identity still exists.
func (p *Provider) VerifyCredential(ctx context.Context, token string) (id.UserID, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return p.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: %v", sentinel.ErrExpired, err)
		}
		return "", fmt.Errorf("%w: %v", sentinel.ErrInvalidCredential, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", sentinel.ErrInvalidCredential
	}
	subject, err := id.ParseUserID(claims.Subject)
	if err != nil {
		return "", fmt.Errorf("%w: %v", sentinel.ErrInvalidCredential, err)
	}

	exists, err := p.client.Exists(ctx, subjectKey(subject)).Result()
	if err != nil {
		return "", fmt.Errorf("check identity: %w", err)
	}
	if exists == 0 {
		return "", fmt.Errorf("%w: identity %s no longer exists", sentinel.ErrInvalidCredential, subject)
	}
	return subject, nil
}
