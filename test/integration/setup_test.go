//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ehr/notemigrate/internal/platform/db"
	"github.com/ehr/notemigrate/migrations"
)

// globalPool is the shared database, initialized once in TestMain.
var globalPool *pgxpool.Pool

// schemaSQL is the slice of the target application schema the migration
// touches.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id                  BIGSERIAL PRIMARY KEY,
	email               TEXT,
	first_name          TEXT,
	last_name           TEXT,
	role                TEXT,
	country             TEXT,
	active              BOOLEAN NOT NULL DEFAULT true,
	adracare_account_id TEXT,
	ab_prac_id          TEXT
);
CREATE TABLE IF NOT EXISTS patients (
	id          BIGSERIAL PRIMARY KEY,
	external_id TEXT
);
CREATE TABLE IF NOT EXISTS appointments (
	id         BIGSERIAL PRIMARY KEY,
	user_id    BIGINT REFERENCES users(id),
	patient_id BIGINT REFERENCES patients(id)
);
CREATE TABLE IF NOT EXISTS patient_notes (
	id             BIGSERIAL PRIMARY KEY,
	notes          TEXT,
	patient_id     BIGINT,
	author_user_id BIGINT,
	created_at     TIMESTAMPTZ,
	updated_at     TIMESTAMPTZ
);`

func TestMain(m *testing.M) {
	ctx := context.Background()

	pool, cleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup postgres container: %v\n", err)
		os.Exit(1)
	}

	globalPool = pool
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func startPostgres(ctx context.Context) (*pgxpool.Pool, func(), error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "testuser",
				"POSTGRES_PASSWORD": "testpass",
				"POSTGRES_DB":       "notestest",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("start container: %w", err)
	}
	terminate := func() { _ = container.Terminate(context.Background()) }

	host, err := container.Host(ctx)
	if err != nil {
		terminate()
		return nil, nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		terminate()
		return nil, nil, fmt.Errorf("mapped port: %w", err)
	}

	url := fmt.Sprintf("postgres://testuser:testpass@%s:%s/notestest?sslmode=disable", host, port.Port())
	pool, err := db.NewPool(ctx, url, 5, 1, zerolog.Nop())
	if err != nil {
		terminate()
		return nil, nil, err
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		terminate()
		return nil, nil, fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.NewMigrator(pool, migrations.FS, zerolog.Nop()).Up(ctx, "public"); err != nil {
		pool.Close()
		terminate()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	return pool, func() {
		pool.Close()
		terminate()
	}, nil
}

// resetTables empties every table between tests.
func resetTables(t *testing.T) {
	t.Helper()
	_, err := globalPool.Exec(context.Background(),
		`TRUNCATE patient_notes, appointments, patients, users RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("reset tables: %v", err)
	}
}

func insertID(t *testing.T, sql string, args ...interface{}) int64 {
	t.Helper()
	var id int64
	if err := globalPool.QueryRow(context.Background(), sql, args...).Scan(&id); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return id
}
