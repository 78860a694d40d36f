package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/auth/metrics"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/auth/models"
	id "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain"
	dErrors "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain-errors"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/audit"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/sentinel"
)

// Verifier checks a bearer credential with the identity provider.
type Verifier interface {
	VerifyCredential(ctx context.Context, token string) (id.UserID, error)
}

// MemberLookup finds the active user bound to a subject identifier.
type MemberLookup interface {
	FindActiveMember(ctx context.Context, userID id.UserID) (*models.Member, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the Login Resolution Service. It performs no writes and is
// safe for concurrent use.
type Service struct {
	verifier       Verifier
	members        MemberLookup
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	auditTimeout   time.Duration
}

const defaultAuditTimeout = 2 * time.Second

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAuditTimeout bounds how long a login waits on the audit sink.
func WithAuditTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.auditTimeout = d
		}
	}
}

func New(verifier Verifier, members MemberLookup, opts ...Option) (*Service, error) {
	if verifier == nil {
		return nil, errors.New("credential verifier is required")
	}
	if members == nil {
		return nil, errors.New("member lookup is required")
	}
	s := &Service{
		verifier:     verifier,
		members:      members,
		logger:       slog.Default(),
		auditTimeout: defaultAuditTimeout,
		tracer:       otel.Tracer("github.com/grupoexnihilo/nexus-ecclesia/internal/auth/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Resolve verifies the bearer credential and derives the authorization
// payload from the active user bound to its subject.
//
// Errors carry CodeMissingCredential, CodeCredentialExpired,
// CodeInvalidCredential, CodeUnknownUser or CodeInternal.
func (s *Service) Resolve(ctx context.Context, req models.ResolveRequest) (*models.AuthorizationPayload, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "auth.Resolve")
	defer span.End()

	payload, err := s.resolve(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		s.logger.WarnContext(ctx, "login resolution failed", "error", err)
		s.observe(outcomeFor(err), start)
		s.emit(ctx, audit.Event{
			Action: string(audit.EventAuthFailed),
			Reason: string(dErrors.CodeOf(err)),
		})
		return nil, err
	}

	span.SetAttributes(attribute.String("user.id", payload.UserID.String()))
	s.observe(metrics.OutcomeSuccess, start)
	s.emit(ctx, audit.Event{
		Action:         string(audit.EventLoginResolved),
		UserID:         payload.UserID,
		OrganizationID: payload.OrganizationID.String(),
	})
	return payload, nil
}

func (s *Service) resolve(ctx context.Context, req models.ResolveRequest) (*models.AuthorizationPayload, error) {
	token, ok := bearerToken(req.Authorization)
	if !ok {
		return nil, dErrors.New(dErrors.CodeMissingCredential, "missing or malformed bearer credential")
	}

	subject, err := s.verifier.VerifyCredential(ctx, token)
	if err != nil {
		if errors.Is(err, sentinel.ErrExpired) {
			return nil, dErrors.Wrap(err, dErrors.CodeCredentialExpired, "credential expired")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidCredential, "credential verification failed")
	}

	member, err := s.members.FindActiveMember(ctx, subject)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeUnknownUser, "no active user for subject "+subject.String())
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}

	if req.ClaimedEmail != "" && !strings.EqualFold(strings.TrimSpace(req.ClaimedEmail), member.Email) {
		s.logger.WarnContext(ctx, "claimed email differs from verified user",
			"user_id", subject.String(),
		)
	}

	return &models.AuthorizationPayload{
		UserID:         member.UserID,
		DisplayName:    member.DisplayName,
		Role:           member.Role,
		OrganizationID: member.OrganizationID,
	}, nil
}

// bearerToken extracts the credential from an "Authorization: Bearer <token>"
// header value.
func bearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func outcomeFor(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeMissingCredential:
		return metrics.OutcomeMissingCredential
	case dErrors.CodeCredentialExpired:
		return metrics.OutcomeExpired
	case dErrors.CodeInvalidCredential:
		return metrics.OutcomeInvalid
	case dErrors.CodeUnknownUser:
		return metrics.OutcomeUnknownUser
	default:
		return metrics.OutcomeError
	}
}

func (s *Service) observe(outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveResolution(outcome, start)
	}
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.auditTimeout)
	defer cancel()
	if err := s.auditPublisher.Emit(actx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"error", err,
		)
	}
}
