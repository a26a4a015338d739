package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	_ "github.com/lib/pq" // postgres driver
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var postgresContainer = newSharedContainer("postgres", "5432", testcontainers.ContainerRequest{
	Image: "postgres:17-alpine",
	Env: map[string]string{
		"POSTGRES_USER":     "estately",
		"POSTGRES_PASSWORD": "estately",
		"POSTGRES_DB":       "postgres",
	},
	WaitingFor: wait.ForAll(
		wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(containerStartupTimeout),
		wait.ForListeningPort("5432/tcp").WithStartupTimeout(containerStartupTimeout),
	),
})

// postgresServer returns the admin DSN format string, %s being the database.
// TEST_POSTGRES_ADDR selects an existing server with the same credentials.
func postgresServer(t *testing.T) string {
	t.Helper()

	addr := os.Getenv("TEST_POSTGRES_ADDR")
	if addr == "" {
		var err error
		if addr, err = postgresContainer.Address(context.Background()); err != nil {
			t.Fatalf("Failed to get shared Postgres container: %v", err)
		}
	}
	return "postgres://estately:estately@" + addr + "/%s?sslmode=disable"
}

// SetupTestPostgres returns the DSN of a fresh database for the test.
// The database is dropped on cleanup.
func SetupTestPostgres(t *testing.T) string {
	t.Helper()

	server := postgresServer(t)
	admin := fmt.Sprintf(server, "postgres")
	name := generateTestDBName(sanitizeDatabaseName(t.Name()))

	if err := retryPing(func(ctx context.Context) error {
		return execAdmin(ctx, admin, "SELECT 1")
	}); err != nil {
		t.Fatalf("Failed to reach Postgres: %v", err)
	}
	if err := execAdmin(context.Background(), admin, fmt.Sprintf("CREATE DATABASE %q", name)); err != nil {
		t.Fatalf("Failed to create database %s: %v", name, err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		_ = execAdmin(ctx, admin, fmt.Sprintf("DROP DATABASE IF EXISTS %q WITH (FORCE)", name))
	})

	return fmt.Sprintf(server, name)
}

func execAdmin(ctx context.Context, dsn, stmt string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.ExecContext(ctx, stmt)
	return err
}
