// Package testutil provides shared test infrastructure: a disposable
// PostgreSQL container for store integration tests, an on-disk SQLite store
// for service tests, and fleet seeding helpers.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc, err := testutil.StartPostgres(context.Background())
//	    if err == nil {
//	        defer tc.Terminate()
//	        testDB, _ = tc.NewTestDB(context.Background(), testutil.TestLogger())
//	    }
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage/sqlite"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/migrations"
)

// TestContainer wraps a testcontainers container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// StartPostgres starts a PostgreSQL container. It fails fast when Docker is
// unavailable so callers can skip instead of exiting.
func StartPostgres(ctx context.Context) (tc *TestContainer, err error) {
	// testcontainers panics when no Docker provider can be found.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("testutil: docker unavailable: %v", r)
		}
	}()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "arcc",
			"POSTGRES_PASSWORD": "arcc",
			"POSTGRES_DB":       "arcc",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("testutil: start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("testutil: container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("testutil: container port: %w", err)
	}

	dsn := fmt.Sprintf("postgres://arcc:arcc@%s:%s/arcc?sslmode=disable", host, port.Port())
	return &TestContainer{Container: container, DSN: dsn}, nil
}

// NewTestDB creates a storage.DB connected to this container and runs all migrations.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// NewSQLiteStore opens a fresh SQLite store in a per-test directory and
// closes it when the test ends.
func NewSQLiteStore(t testing.TB) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "arcc.db"), TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

// Robot describes a robot to seed.
type Robot struct {
	Name    string
	X, Y    float64
	Battery float64
	Status  model.RobotStatus
}

// SeedRobot creates a robot and returns it.
func SeedRobot(t testing.TB, store storage.Store, r Robot) model.Robot {
	t.Helper()
	status := r.Status
	if status == "" {
		status = model.RobotIdle
	}
	created, err := store.CreateRobot(context.Background(), model.Robot{
		Name:         r.Name,
		Type:         "delivery",
		Status:       status,
		BatteryLevel: r.Battery,
		Position:     model.Point{X: r.X, Y: r.Y},
	})
	require.NoError(t, err)
	return created
}

// SeedRun starts a run for scenarioID with the default strategy.
func SeedRun(t testing.TB, store storage.Store, scenarioID string) model.SimulationRun {
	t.Helper()
	run, err := store.CreateRun(context.Background(), scenarioID, model.Strategy{
		Version:          1,
		Routing:          model.RoutingNearestFirst,
		BatteryThreshold: model.MinAssignableBattery,
	})
	require.NoError(t, err)
	return run
}

// SeedTask creates one pending delivery task in runID.
func SeedTask(t testing.TB, store storage.Store, runID uuid.UUID, priority int, origin model.Point) model.Task {
	t.Helper()
	tasks, err := store.CreateTasks(context.Background(), []model.NewTask{{
		RunID:       runID,
		Type:        model.TaskTypeDelivery,
		Priority:    priority,
		Origin:      origin,
		Destination: model.Point{X: origin.X + 10, Y: origin.Y + 10},
	}})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	return tasks[0]
}
