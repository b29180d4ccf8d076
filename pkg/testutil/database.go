// Package testutil provides shared integration-test plumbing for packages
// that talk to PostgreSQL. Grounded on the teacher's test/database package
// (testcontainers-go postgres module, CI_DATABASE_URL escape hatch), adapted
// from ent+database/sql to this repo's pgxpool-based database.Client.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sentinel-governance/sentinel/pkg/database"
)

// NewTestDatabase creates a test database client. In CI (when
// CI_DATABASE_URL is set) it connects to an external PostgreSQL service
// container; otherwise it spins up a testcontainer. Embedded migrations run
// through the normal database.NewClient path, so tests exercise the same
// schema production does. The container/pool are cleaned up via t.Cleanup.
func NewTestDatabase(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	if ciURL := os.Getenv("CI_DATABASE_URL"); ciURL != "" {
		t.Log("testutil: using external PostgreSQL from CI_DATABASE_URL")
		client, err := database.NewClientFromDSN(ctx, ciURL)
		require.NoError(t, err)
		t.Cleanup(client.Close)
		return client
	}

	t.Log("testutil: using testcontainers for PostgreSQL")
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("sentinel_test"),
		postgres.WithUsername("sentinel"),
		postgres.WithPassword("sentinel"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("testutil: failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := database.NewClient(ctx, database.Config{
		Host: host, Port: port.Int(), User: "sentinel", Password: "sentinel",
		Database: "sentinel_test", SSLMode: "disable",
		MaxConns: 10, MinConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client
}
