package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/platform/config"
)

func TestOpen_Rejects(t *testing.T) {
	testCases := []struct {
		name string
		cfg  config.DatabaseConfig
	}{
		{"empty url", config.DatabaseConfig{}},
		{"unknown driver", config.DatabaseConfig{URL: "postgres://u:p@localhost/db", Driver: "mysql"}},
		{"unreachable host", config.DatabaseConfig{URL: "postgres://u:p@127.0.0.1:1/db?sslmode=disable&connect_timeout=1"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			db, err := Open(ctx, tc.cfg)
			require.Error(t, err)
			assert.Nil(t, db)
		})
	}
}

func TestConfigure(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	Configure(db, config.DatabaseConfig{MaxOpenConns: 7, MaxIdleConns: 3, ConnMaxLifetime: time.Minute})
	assert.Equal(t, 7, db.Stats().MaxOpenConnections)
}
