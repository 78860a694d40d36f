package audit

import (
	"context"
	"log/slog"

	"github.com/grupoexnihilo/nexus-ecclesia/pkg/requestcontext"
)

// Publisher accepts audit events. Implementations must be safe for concurrent use.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// Enrich fills the category, timestamp and request-scoped fields that callers
// leave empty.
func Enrich(ctx context.Context, event Event) Event {
	if event.Category == "" {
		event.Category = AuditEvent(event.Action).Category()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	md := requestcontext.Client(ctx)
	if event.ClientIP == "" {
		event.ClientIP = md.IP
	}
	if event.Browser == "" {
		event.Browser = md.Browser
	}
	if event.OS == "" {
		event.OS = md.OS
	}
	return event
}

// LogPublisher writes audit events as structured log lines. It is the default
// sink when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Emit(ctx context.Context, event Event) error {
	event = Enrich(ctx, event)
	level := slog.LevelInfo
	if event.Category == CategorySecurity {
		level = slog.LevelWarn
	}
	p.logger.Log(ctx, level, event.Action,
		"log_type", "audit",
		"category", string(event.Category),
		"user_id", event.UserID.String(),
		"organization_id", event.OrganizationID,
		"reason", event.Reason,
		"request_id", event.RequestID,
		"client_ip", event.ClientIP,
		"browser", event.Browser,
		"os", event.OS,
	)
	return nil
}

// Multi fans an event out to several publishers and returns the first error.
// Every publisher is attempted.
type Multi []Publisher

func (m Multi) Emit(ctx context.Context, event Event) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Emit(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
