// Package testdb spins up a throwaway PostgreSQL instance for integration
// tests via testcontainers, applying the same embedded migrations the
// production client uses.
package testdb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/podsync/syncd/internal/database"
)

// NewTestClient returns a migrated database.Client backed by a testcontainer
// postgres instance (or CI_DATABASE_URL when set, to reuse a service
// container in CI instead of spinning up docker-in-docker).
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("syncd_test"),
			postgres.WithUsername("syncd_test"),
			postgres.WithPassword("syncd_test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		var connErr error
		connStr, connErr = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, connErr)
	}

	client, err := database.NewClientFromDSN(ctx, connStr, "syncd_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}
