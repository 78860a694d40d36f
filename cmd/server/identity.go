package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/identity"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/identity/firebase"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/identity/local"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/platform/config"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/platform/redis"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/server"
)

type identityWiring struct {
	provider identity.Provider
	modules  []server.Module
}

// newIdentityProvider builds the configured provider. rdb is nil when Redis
// is not configured.
func newIdentityProvider(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *slog.Logger) (identityWiring, error) {
	switch cfg.Identity.Provider {
	case config.IdentityFirebase:
		fb := cfg.Identity.Firebase
		client, err := firebase.New(ctx, firebase.Config{
			ProjectID:   fb.ProjectID,
			ClientEmail: fb.ClientEmail,
			PrivateKey:  fb.PrivateKey,
			APIBaseURL:  fb.APIBaseURL,
		}, firebase.WithLogger(log))
		if err != nil {
			return identityWiring{}, fmt.Errorf("firebase: %w", err)
		}
		return identityWiring{provider: client}, nil

	case config.IdentityLocal:
		if rdb == nil {
			return identityWiring{}, errors.New("local identity provider requires REDIS_URL")
		}
		provider, err := local.New(rdb.Client, cfg.Identity.Local.SigningKey,
			local.WithTokenTTL(cfg.Identity.Local.TokenTTL),
			local.WithBcryptCost(cfg.Identity.Local.BcryptCost),
			local.WithLogger(log),
		)
		if err != nil {
			return identityWiring{}, err
		}
		log.Warn("using local identity provider; not for production use")
		return identityWiring{
			provider: provider,
			modules:  []server.Module{local.NewHandler(provider, log)},
		}, nil

	default:
		return identityWiring{}, fmt.Errorf("unknown identity provider %q", cfg.Identity.Provider)
	}
}
