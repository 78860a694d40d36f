package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/identity"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/metrics"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/models"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/ports"
	id "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain"
	dErrors "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain-errors"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/audit"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/sentinel"
)

// sagaState is a registration's position in
//
//	Start → IdentityCreated → TxOpen → OrgInserted → UserInserted → Committed
//
// Any failure after IdentityCreated moves to Compensating, then Failed.
type sagaState int

const (
	stateStart sagaState = iota
	stateIdentityCreated
	stateTxOpen
	stateOrgInserted
	stateUserInserted
	stateCommitted
	stateCompensating
	stateFailed
)

func (st sagaState) String() string {
	switch st {
	case stateStart:
		return "start"
	case stateIdentityCreated:
		return "identity_created"
	case stateTxOpen:
		return "tx_open"
	case stateOrgInserted:
		return "org_inserted"
	case stateUserInserted:
		return "user_inserted"
	case stateCommitted:
		return "committed"
	case stateCompensating:
		return "compensating"
	case stateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(st))
	}
}

// registration carries one saga run. It is never shared between requests.
type registration struct {
	svc *Service
	req *models.RegisterRequest
	org *models.Organization

	state   sagaState
	subject id.UserID
	orgID   id.OrganizationID
	session ports.Session
}

// run drives the saga to Committed or Failed. Each transition performs
// exactly one external call.
func (r *registration) run(ctx context.Context) (*models.Registration, error) {
	for {
		var err error
		switch r.state {
		case stateStart:
			r.subject, err = r.svc.identities.CreateIdentity(ctx, identity.NewIdentity{
				Email:       r.req.UserEmail,
				Secret:      r.req.UserPassword,
				DisplayName: r.req.UserName,
			})
			if err != nil {
				r.state = stateFailed
				r.svc.logger.WarnContext(ctx, "identity creation failed", "error", err)
				return nil, translateIdentityError(err)
			}
			r.advance(ctx, stateIdentityCreated)

		case stateIdentityCreated:
			if err = ctx.Err(); err == nil {
				err = r.begin(ctx)
			}
			if err != nil {
				return nil, r.compensate(ctx, err)
			}
			r.advance(ctx, stateTxOpen)

		case stateTxOpen:
			if err = ctx.Err(); err == nil {
				r.orgID, err = r.session.InsertOrganization(ctx, r.org)
			}
			if err != nil {
				return nil, r.compensate(ctx, err)
			}
			r.advance(ctx, stateOrgInserted)

		case stateOrgInserted:
			if err = ctx.Err(); err == nil {
				err = r.insertAdmin(ctx)
			}
			if err != nil {
				return nil, r.compensate(ctx, err)
			}
			r.advance(ctx, stateUserInserted)

		case stateUserInserted:
			if err = ctx.Err(); err == nil {
				err = r.session.Commit()
			}
			if err != nil {
				return nil, r.compensate(ctx, err)
			}
			r.release(ctx)
			r.advance(ctx, stateCommitted)

		case stateCommitted:
			return &models.Registration{
				OrganizationID: r.orgID,
				UserID:         r.subject,
				Slug:           r.org.Slug,
			}, nil

		default:
			return nil, dErrors.New(dErrors.CodeInternal, "registration in unexpected state "+r.state.String())
		}
	}
}

func (r *registration) advance(ctx context.Context, next sagaState) {
	r.svc.logger.DebugContext(ctx, "registration step",
		"from", r.state.String(),
		"to", next.String(),
		"subject_id", r.subject.String(),
	)
	r.state = next
}

// begin acquires the connection and opens the transaction. A session that
// fails to begin is kept so compensation releases it.
func (r *registration) begin(ctx context.Context) error {
	session, err := r.svc.db.Acquire(ctx)
	if err != nil {
		return err
	}
	r.session = session
	return session.Begin(ctx)
}

func (r *registration) insertAdmin(ctx context.Context) error {
	user, err := models.NewAdmin(r.subject, r.orgID, r.req.UserName, r.req.UserEmail)
	if err != nil {
		return err
	}
	return r.session.InsertUser(ctx, user)
}

// release returns the connection. Safe to call on every path; the session
// pointer is dropped so the connection is released once.
func (r *registration) release(ctx context.Context) {
	if r.session == nil {
		return
	}
	if err := r.session.Release(); err != nil {
		r.svc.logger.WarnContext(ctx, "failed to release connection", "error", err)
	}
	r.session = nil
}

// compensate undoes a partial registration: roll back, release the
// connection, then delete the Identity Record. It runs on a context detached
// from the caller's cancellation and always returns CodeProvisioningFailed
// wrapping cause; a failed deletion is only visible in logs, metrics and the
// audit trail.
func (r *registration) compensate(ctx context.Context, cause error) error {
	failedAt := r.state
	r.state = stateCompensating

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.svc.compensationTimeout)
	defer cancel()

	log := r.svc.logger.With(
		"subject_id", r.subject.String(),
		"failed_state", failedAt.String(),
	)
	log.ErrorContext(cctx, "provisioning failed, compensating", "cause", cause)

	if r.session != nil {
		if err := r.session.Rollback(); err != nil {
			log.WarnContext(cctx, "rollback failed", "error", err)
		}
	}
	r.release(cctx)

	// Audit sinks must not eat into the deletion budget; events follow it.
	err := r.svc.identities.DeleteIdentity(cctx, r.subject)
	r.svc.emit(ctx, audit.Event{
		Action: string(audit.EventProvisioningFailed),
		UserID: r.subject,
		Email:  r.req.UserEmail,
		Reason: failedAt.String(),
	})
	switch {
	case err == nil, errors.Is(err, sentinel.ErrNotFound):
		result := metrics.CompensationDeleted
		if err != nil {
			result = metrics.CompensationNotFound
		}
		log.InfoContext(cctx, "identity compensated", "result", result)
		r.incrementCompensation(result)
		r.svc.emit(ctx, audit.Event{
			Action: string(audit.EventIdentityCompensated),
			UserID: r.subject,
			Email:  r.req.UserEmail,
			Reason: result,
		})
	default:
		log.ErrorContext(cctx, "identity_orphaned",
			"cause", cause,
			"error", err,
		)
		r.incrementCompensation(metrics.CompensationFailed)
		r.svc.emit(ctx, audit.Event{
			Action: string(audit.EventIdentityOrphaned),
			UserID: r.subject,
			Email:  r.req.UserEmail,
			Reason: err.Error(),
		})
	}

	r.state = stateFailed
	return dErrors.Wrap(cause, dErrors.CodeProvisioningFailed, MessageProvisioningFailed)
}

func (r *registration) incrementCompensation(result string) {
	if r.svc.metrics != nil {
		r.svc.metrics.IncrementCompensation(result)
	}
}
