package assignment

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/testutil"
)

func TestAutoOptimizeSkipsLowBatteryRobot(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	ctx := context.Background()

	run := testutil.SeedRun(t, store, "baseline")
	a := testutil.SeedRobot(t, store, testutil.Robot{Name: "A", X: 0, Y: 0, Battery: 80})
	b := testutil.SeedRobot(t, store, testutil.Robot{Name: "B", X: 10, Y: 10, Battery: 10})
	task := testutil.SeedTask(t, store, run.ID, 5, model.Point{X: 1, Y: 1})

	res, err := New(store, model.MinAssignableBattery, testutil.TestLogger()).AutoOptimize(ctx)
	require.NoError(t, err)

	require.Len(t, res.Assignments, 1)
	assert.Equal(t, task.ID, res.Assignments[0].TaskID)
	assert.Equal(t, a.ID, res.Assignments[0].RobotID)
	assert.Empty(t, res.Unassigned)
	assert.Equal(t, "Optimized 1 task assignments", res.Message)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskAssigned, got.Status)
	require.NotNil(t, got.RobotID)
	assert.Equal(t, a.ID, *got.RobotID)

	robotA, err := store.GetRobot(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RobotWorking, robotA.Status)
	robotB, err := store.GetRobot(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RobotIdle, robotB.Status)
	assert.Nil(t, robotB.CurrentTaskID)

	require.NotNil(t, res.DecisionID)
	decisions, err := store.ListDecisions(ctx, &run.ID, 10)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, model.DecisionAutoOptimize, decisions[0].DecisionType)
	assert.InDelta(t, 0.85, decisions[0].Confidence, 1e-9)
	assert.Equal(t, Strategy, decisions[0].Output["strategy"])
}

func TestAutoOptimizeNoPendingTasks(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	testutil.SeedRobot(t, store, testutil.Robot{Name: "A", Battery: 80})

	res, err := New(store, 0, testutil.TestLogger()).AutoOptimize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "No pending tasks to optimize", res.Message)
	assert.Empty(t, res.Assignments)
	assert.Nil(t, res.DecisionID)
}

func TestAutoOptimizePriorityOrderAndExclusions(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	ctx := context.Background()

	run := testutil.SeedRun(t, store, "baseline")
	near := testutil.SeedRobot(t, store, testutil.Robot{Name: "near", X: 0, Y: 0, Battery: 90})
	far := testutil.SeedRobot(t, store, testutil.Robot{Name: "far", X: 50, Y: 50, Battery: 90})
	testutil.SeedRobot(t, store, testutil.Robot{Name: "charging", X: 1, Y: 1, Battery: 90, Status: model.RobotCharging})
	testutil.SeedRobot(t, store, testutil.Robot{Name: "offline", X: 1, Y: 1, Battery: 90, Status: model.RobotOffline})

	low := testutil.SeedTask(t, store, run.ID, 2, model.Point{X: 1, Y: 1})
	high := testutil.SeedTask(t, store, run.ID, 9, model.Point{X: 2, Y: 2})
	extra := testutil.SeedTask(t, store, run.ID, 1, model.Point{X: 3, Y: 3})

	res, err := New(store, 0, testutil.TestLogger()).AutoOptimize(ctx)
	require.NoError(t, err)

	require.Len(t, res.Assignments, 2)
	// Highest priority goes first and takes the nearest robot.
	assert.Equal(t, high.ID, res.Assignments[0].TaskID)
	assert.Equal(t, near.ID, res.Assignments[0].RobotID)
	assert.Equal(t, low.ID, res.Assignments[1].TaskID)
	assert.Equal(t, far.ID, res.Assignments[1].RobotID)
	assert.Equal(t, []uuid.UUID{extra.ID}, res.Unassigned)
}

func TestAutoOptimizeNeverDoubleBinds(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	ctx := context.Background()

	run := testutil.SeedRun(t, store, "baseline")
	for i := range 3 {
		testutil.SeedRobot(t, store, testutil.Robot{Name: fmt.Sprintf("r%d", i), X: float64(i), Battery: 60})
	}
	for i := range 8 {
		testutil.SeedTask(t, store, run.ID, 5, model.Point{X: float64(i), Y: 0})
	}

	svc := New(store, 0, testutil.TestLogger())
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Result
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.AutoOptimize(ctx)
			assert.NoError(t, err)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}
	wg.Wait()

	seen := make(map[uuid.UUID]uuid.UUID)
	total := 0
	for _, res := range results {
		for _, a := range res.Assignments {
			prev, dup := seen[a.RobotID]
			assert.False(t, dup, "robot %s bound to %s and %s", a.RobotID, prev, a.TaskID)
			seen[a.RobotID] = a.TaskID
			total++
		}
	}
	assert.Equal(t, 3, total)

	robots, err := store.ListRobots(ctx, storage.RobotFilter{})
	require.NoError(t, err)
	for _, r := range robots {
		require.NotNil(t, r.CurrentTaskID)
		assert.Equal(t, model.RobotWorking, r.Status)
	}
	pending, err := store.ListPendingTasks(ctx, storage.RunScope{RunID: &run.ID})
	require.NoError(t, err)
	assert.Len(t, pending, 5)
}

// racingStore loses the first claim attempt on a chosen robot.
type racingStore struct {
	storage.Store
	lose uuid.UUID
	once sync.Once
}

func (r *racingStore) AssignTask(ctx context.Context, taskID, robotID uuid.UUID, minBattery float64) (model.Task, error) {
	lost := false
	if robotID == r.lose {
		r.once.Do(func() { lost = true })
	}
	if lost {
		return model.Task{}, fmt.Errorf("%w: %s", storage.ErrRobotUnavailable, robotID)
	}
	return r.Store.AssignTask(ctx, taskID, robotID, minBattery)
}

func TestAutoOptimizeFallsThroughToNextRobotOnConflict(t *testing.T) {
	base := testutil.NewSQLiteStore(t)
	ctx := context.Background()

	run := testutil.SeedRun(t, base, "baseline")
	near := testutil.SeedRobot(t, base, testutil.Robot{Name: "near", Battery: 90})
	next := testutil.SeedRobot(t, base, testutil.Robot{Name: "next", X: 5, Y: 5, Battery: 90})
	task := testutil.SeedTask(t, base, run.ID, 5, model.Point{X: 0, Y: 0})

	res, err := New(&racingStore{Store: base, lose: near.ID}, 0, testutil.TestLogger()).AutoOptimize(ctx)
	require.NoError(t, err)

	require.Len(t, res.Assignments, 1)
	assert.Equal(t, task.ID, res.Assignments[0].TaskID)
	assert.Equal(t, next.ID, res.Assignments[0].RobotID)
}

func TestAutoOptimizeWithoutRunningRunRecordsNothing(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	ctx := context.Background()

	run := testutil.SeedRun(t, store, "baseline")
	testutil.SeedRobot(t, store, testutil.Robot{Name: "A", Battery: 90})
	testutil.SeedTask(t, store, run.ID, 5, model.Point{})
	_, err := store.CompleteRun(ctx, run.ID, 0, nil)
	require.NoError(t, err)
	testutil.SeedTask(t, store, run.ID, 5, model.Point{})

	res, err := New(store, 0, testutil.TestLogger()).AutoOptimize(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Assignments)
	assert.Nil(t, res.DecisionID)

	decisions, err := store.ListDecisions(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, decisions)
}
