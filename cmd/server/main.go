package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/auth"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/auth/adapters"
	authmetrics "github.com/grupoexnihilo/nexus-ecclesia/internal/auth/metrics"
	authservice "github.com/grupoexnihilo/nexus-ecclesia/internal/auth/service"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/platform/config"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/platform/httpserver"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/platform/logger"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/platform/metrics"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/platform/migrate"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/platform/postgres"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/platform/redis"
	ratelimitmetrics "github.com/grupoexnihilo/nexus-ecclesia/internal/ratelimit/metrics"
	ratelimit "github.com/grupoexnihilo/nexus-ecclesia/internal/ratelimit/middleware"
	ratelimitstore "github.com/grupoexnihilo/nexus-ecclesia/internal/ratelimit/store"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/server"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant"
	tenantmetrics "github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/metrics"
	tenantmodels "github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/models"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/ports"
	tenantservice "github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/service"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/tenant/store"
	id "github.com/grupoexnihilo/nexus-ecclesia/pkg/domain"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/audit"
	kafkapublisher "github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/audit/publishers/kafka"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/middleware/metadata"
)

var version = "dev"

const shutdownTimeout = 30 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// tenantStore is the relational gateway as both the saga and login see it.
type tenantStore interface {
	ports.Relational
	FindActiveUser(ctx context.Context, userID id.UserID) (*tenantmodels.User, error)
	Ping(ctx context.Context) error
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	m := metrics.New(version)
	var checks []server.Check

	// Relational store: one pool for the process lifetime.
	var gateway tenantStore
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL not set, using in-memory tenant store")
		gateway = store.NewInMemory()
	} else {
		if cfg.Database.MigrateOnStart {
			if err := migrate.Run(cfg.Database.URL, migrate.DirectionUp); err != nil {
				return err
			}
			log.Info("migrations applied")
		}
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = db.Close() })
		gateway = store.NewPostgres(db)
	}
	checks = append(checks, server.Check{Name: "database", Fn: gateway.Ping})

	// Redis backs the local identity provider and the shared rate limit buckets.
	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		closers = append(closers, func() { _ = rdb.Close() })
		checks = append(checks, server.Check{Name: "redis", Fn: rdb.Health})
	}

	// Identity provider: one client for the process lifetime.
	identities, err := newIdentityProvider(ctx, cfg, rdb, log)
	if err != nil {
		return err
	}

	publisher, err := newAuditPublisher(ctx, cfg, log)
	if err != nil {
		return err
	}
	closers = append(closers, publisher.close)

	tenantSvc, err := tenant.NewService(identities.provider, gateway,
		tenantservice.WithLogger(log),
		tenantservice.WithAuditPublisher(publisher.publisher),
		tenantservice.WithMetrics(tenantmetrics.New(m.Registry)),
		tenantservice.WithProvisioningTimeout(cfg.Tenant.ProvisioningTimeout),
		tenantservice.WithCompensationTimeout(cfg.Tenant.CompensationTimeout),
	)
	if err != nil {
		return err
	}
	authSvc, err := auth.NewService(identities.provider, adapters.NewTenantMemberLookup(gateway),
		authservice.WithLogger(log),
		authservice.WithAuditPublisher(publisher.publisher),
		authservice.WithMetrics(authmetrics.New(m.Registry)),
	)
	if err != nil {
		return err
	}

	modules := []server.Module{
		tenant.NewHandler(tenantSvc, log),
		auth.NewHandler(authSvc, log),
	}
	modules = append(modules, identities.modules...)

	clientIP := metadata.NewResolver(cfg.Server.TrustedProxies)
	limiter, buckets := newRateLimiter(cfg, rdb, log, ratelimitmetrics.New(m.Registry), clientIP)

	router := server.NewRouter(server.Config{
		Logger:    log,
		Modules:   modules,
		Checks:    checks,
		Metrics:   m.Handler(),
		RateLimit: limiter.RateLimit,
		ClientIP:  clientIP,
	})
	srv := httpserver.New(cfg.Server.Addr, router, cfg.Tenant.ProvisioningTimeout+cfg.Tenant.CompensationTimeout)

	g, gctx := errgroup.WithContext(ctx)
	if buckets != nil {
		g.Go(func() error {
			sweepBuckets(gctx, buckets, cfg.RateLimit.Window)
			return nil
		})
	}
	g.Go(func() error {
		log.Info("starting server", "addr", cfg.Server.Addr, "env", cfg.Server.Env, "identity_provider", cfg.Identity.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// newRateLimiter shares buckets through Redis when it is configured and
// keeps them in memory otherwise. The in-memory store is returned so the
// caller can sweep it.
func newRateLimiter(cfg *config.Config, rdb *redis.Client, log *slog.Logger, metrics *ratelimitmetrics.Metrics, clientIP *metadata.Resolver) (*ratelimit.Middleware, *ratelimitstore.InMemoryBucketStore) {
	opts := []ratelimit.Option{
		ratelimit.WithMetrics(metrics),
		ratelimit.WithClientIP(clientIP),
		ratelimit.WithDisabled(cfg.RateLimit.Requests == 0),
	}
	if rdb != nil {
		return ratelimit.New(ratelimitstore.NewRedisBucketStore(rdb.Client), cfg.RateLimit.Requests, cfg.RateLimit.Window, log, opts...), nil
	}
	buckets := ratelimitstore.NewInMemoryBucketStore()
	return ratelimit.New(buckets, cfg.RateLimit.Requests, cfg.RateLimit.Window, log, opts...), buckets
}

func sweepBuckets(ctx context.Context, buckets *ratelimitstore.InMemoryBucketStore, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			buckets.Sweep()
		}
	}
}

type auditSink struct {
	publisher audit.Publisher
	close     func()
}

// newAuditPublisher always logs audit events and also ships them to Kafka
// when brokers are configured.
func newAuditPublisher(ctx context.Context, cfg *config.Config, log *slog.Logger) (auditSink, error) {
	logSink := audit.NewLogPublisher(log)
	if len(cfg.Audit.KafkaBrokers) == 0 {
		return auditSink{publisher: logSink, close: func() {}}, nil
	}

	kp, err := kafkapublisher.New(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic, kafkapublisher.WithLogger(log))
	if err != nil {
		return auditSink{}, err
	}
	if err := kp.EnsureTopic(ctx, 3, 1); err != nil {
		log.Warn("could not ensure audit topic", "topic", cfg.Audit.KafkaTopic, "error", err)
	}
	return auditSink{publisher: audit.Multi{logSink, kp}, close: kp.Close}, nil
}
