package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage/sqlite"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage/storagetest"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/testutil"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return testutil.NewSQLiteStore(t)
	})
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "arcc.db")

	s, err := sqlite.Open(ctx, path, testutil.TestLogger())
	require.NoError(t, err)
	testutil.SeedRobot(t, s, testutil.Robot{Name: "r1", Battery: 70})
	s.Close(ctx)

	s, err = sqlite.Open(ctx, path, testutil.TestLogger())
	require.NoError(t, err)
	defer s.Close(ctx)

	robots, err := s.ListRobots(ctx, storage.RobotFilter{})
	require.NoError(t, err)
	require.Len(t, robots, 1)
	assert.Equal(t, "r1", robots[0].Name)
}
