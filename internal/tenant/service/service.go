package service

//go:generate mockgen -source=../ports/ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/metrics"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/models"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/ports"
	dErrors "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain-errors"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/audit"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/sentinel"
)

const (
	defaultProvisioningTimeout = 15 * time.Second
	defaultCompensationTimeout = 10 * time.Second
	defaultAuditTimeout        = 2 * time.Second
)

// Caller-facing messages.
const (
	MessageEmailInUse         = "This email is already in use."
	MessageIdentityFailure    = "Could not create the user account. Please try again."
	MessageProvisioningFailed = "Could not complete the registration. Please try again."
)

// Service is the Registration Saga Coordinator.
type Service struct {
	identities          ports.IdentityProvisioner
	db                  ports.Relational
	logger              *slog.Logger
	auditPublisher      ports.AuditPublisher
	metrics             *metrics.Metrics
	tracer              trace.Tracer
	provisioningTimeout time.Duration
	compensationTimeout time.Duration
	auditTimeout        time.Duration
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithProvisioningTimeout bounds registrations whose context has no deadline.
func WithProvisioningTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.provisioningTimeout = d
		}
	}
}

// WithCompensationTimeout bounds the identity deletion that runs after a
// failed provisioning step.
func WithCompensationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.compensationTimeout = d
		}
	}
}

// WithAuditTimeout bounds each audit emit. Emits run detached from the
// request so a slow sink never delays or cancels saga steps.
func WithAuditTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.auditTimeout = d
		}
	}
}

// New constructs a Service. Both collaborators are required.
func New(identities ports.IdentityProvisioner, db ports.Relational, opts ...Option) (*Service, error) {
	if identities == nil {
		return nil, errors.New("identity provisioner is required")
	}
	if db == nil {
		return nil, errors.New("relational gateway is required")
	}
	s := &Service{
		identities:          identities,
		db:                  db,
		logger:              slog.Default(),
		tracer:              otel.Tracer("github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/service"),
		provisioningTimeout: defaultProvisioningTimeout,
		compensationTimeout: defaultCompensationTimeout,
		auditTimeout:        defaultAuditTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates the admin's Identity Record, then the organization and the
// admin user in one relational transaction. A relational failure deletes the
// identity again before returning.
//
// Errors carry CodeValidation, CodeIdentityConflict, CodeIdentityProvider or
// CodeProvisioningFailed.
func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.Registration, error) {
	start := time.Now()

	req.Normalize()
	if err := req.Validate(); err != nil {
		s.observe(metrics.OutcomeRejected, start)
		return nil, err
	}
	org, err := models.NewOrganization(req.OrganizationName, req.UserEmail)
	if err != nil {
		s.observe(metrics.OutcomeRejected, start)
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, "Organization name must contain letters or digits.")
		}
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.provisioningTimeout)
		defer cancel()
	}
	ctx, span := s.tracer.Start(ctx, "tenant.Register",
		trace.WithAttributes(attribute.String("organization.slug", org.Slug)))
	defer span.End()

	saga := &registration{
		svc:   s,
		req:   req,
		org:   org,
		state: stateStart,
	}
	result, err := saga.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		s.observe(outcomeFor(err), start)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("organization.id", result.OrganizationID.String()),
		attribute.String("user.id", result.UserID.String()),
	)
	s.logger.InfoContext(ctx, "tenant provisioned",
		"organization_id", result.OrganizationID.String(),
		"user_id", result.UserID.String(),
		"slug", result.Slug,
	)
	s.emit(ctx, audit.Event{
		Action:         string(audit.EventTenantProvisioned),
		UserID:         result.UserID,
		OrganizationID: result.OrganizationID.String(),
		Email:          req.UserEmail,
	})
	s.observe(metrics.OutcomeSuccess, start)
	return result, nil
}

// translateIdentityError maps a CreateIdentity failure. Nothing exists yet,
// so no compensation is needed.
func translateIdentityError(err error) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeIdentityConflict, MessageEmailInUse)
	}
	return dErrors.Wrap(err, dErrors.CodeIdentityProvider, MessageIdentityFailure)
}

func outcomeFor(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeIdentityConflict:
		return metrics.OutcomeIdentityConflict
	case dErrors.CodeIdentityProvider:
		return metrics.OutcomeIdentityFailure
	case dErrors.CodeValidation:
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeProvisioningFail
	}
}

func (s *Service) observe(outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveRegistration(outcome, start)
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
