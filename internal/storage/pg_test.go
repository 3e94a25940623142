package storage_test

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage/storagetest"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	flag.Parse()
	code := func() int {
		if testing.Short() {
			return m.Run()
		}
		ctx := context.Background()
		tc, err := testutil.StartPostgres(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "storage tests: postgres unavailable: %v\n", err)
			return m.Run()
		}
		defer tc.Terminate()

		testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
		if err != nil {
			fmt.Fprintf(os.Stderr, "storage tests: %v\n", err)
			return 1
		}
		defer testDB.Close(ctx)
		return m.Run()
	}()
	os.Exit(code)
}

func TestPostgresStore(t *testing.T) {
	if testDB == nil {
		t.Skip("postgres container not available")
	}
	storagetest.Run(t, func(t *testing.T) storage.Store {
		_, err := testDB.Pool().Exec(context.Background(),
			`TRUNCATE ai_decisions, metrics, tasks, robots, simulation_runs CASCADE`)
		require.NoError(t, err)
		return testDB
	})
}

func TestListenDecisions(t *testing.T) {
	if testDB == nil {
		t.Skip("postgres container not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	l, err := testDB.ListenDecisions(ctx)
	require.NoError(t, err)
	defer l.Close()

	run := testutil.SeedRun(t, testDB, "warehouse")
	d, err := testDB.CreateDecision(ctx, model.AIDecision{
		RunID:        &run.ID,
		DecisionType: model.DecisionAutoOptimize,
		Confidence:   0.9,
	})
	require.NoError(t, err)

	ev, err := l.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, d.ID, ev.ID)
	require.NotNil(t, ev.RunID)
	assert.Equal(t, run.ID, *ev.RunID)
	assert.Equal(t, model.DecisionAutoOptimize, ev.DecisionType)
	assert.InDelta(t, 0.9, ev.Confidence, 1e-9)

	canceled, stop := context.WithCancel(ctx)
	stop()
	_, err = l.Next(canceled)
	assert.Error(t, err)
}
