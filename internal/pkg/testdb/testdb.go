// Package testdb starts a throwaway PostgreSQL for integration tests.
// Tests are skipped when Docker is not available.
package testdb

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"battlezone/internal/pkg/db"
)

// DockerAvailable checks if Docker is available and running.
func DockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// Setup creates a PostgreSQL container with the schema applied and returns a
// pool. The container is terminated when the test ends.
func Setup(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if !DockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx, pool))

	t.Cleanup(func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	})
	return pool
}

// CreatePlayer inserts a bare player row with the given balance.
func CreatePlayer(t *testing.T, pool *pgxpool.Pool, id int64, balance int64) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO players (id, username, balance, level, current_xp, next_level_xp, rank_tier, rank_points, streak_days)
		VALUES ($1, $2, $3, 1, 0, 1000, 'Bronze I', 0, 0)
	`, id, "player", balance)
	require.NoError(t, err)
}
