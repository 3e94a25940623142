// Package storagetest is a conformance suite run against every storage.Store
// implementation, so the Postgres and SQLite stores keep identical claim and
// transition semantics.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/testutil"
)

// Open returns an empty store for one subtest.
type Open func(t *testing.T) storage.Store

// Run executes the suite. Subtests run sequentially; open must hand each one
// an empty store.
func Run(t *testing.T, open Open) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"RunNumbersPerScenario", testRunNumbers},
		{"AssignClaimsBothRows", testAssignClaims},
		{"AssignRejectsIneligibleRobot", testAssignIneligible},
		{"ConcurrentAssignSingleWinner", testConcurrentAssign},
		{"FinishFreesRobot", testFinishFreesRobot},
		{"CompleteRun", testCompleteRun},
		{"CompleteRunStoresMetricsOnce", testCompleteRunMetrics},
		{"StartRunResetsFleet", testStartRun},
		{"UpdateRobot", testUpdateRobot},
		{"PendingOrder", testPendingOrder},
		{"Metrics", testMetrics},
		{"Decisions", testDecisions},
		{"TakeRobotOffline", testTakeRobotOffline},
		{"DrainBatteries", testDrainBatteries},
		{"InjectEmergency", testInjectEmergency},
		{"RerouteZone", testRerouteZone},
		{"RunTrend", testRunTrend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

func testRunNumbers(t *testing.T, s storage.Store) {
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		run := testutil.SeedRun(t, s, "warehouse")
		assert.Equal(t, want, run.RunNumber)
		assert.Equal(t, model.RunStatusRunning, run.Status)
	}
	other := testutil.SeedRun(t, s, "port")
	assert.Equal(t, 1, other.RunNumber)

	current, err := s.CurrentRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, other.ID, current.ID)

	_, err = s.GetRun(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testAssignClaims(t *testing.T, s storage.Store) {
	ctx := context.Background()
	run := testutil.SeedRun(t, s, "warehouse")
	r1 := testutil.SeedRobot(t, s, testutil.Robot{Name: "r1", Battery: 80})
	r2 := testutil.SeedRobot(t, s, testutil.Robot{Name: "r2", Battery: 80})
	t1 := testutil.SeedTask(t, s, run.ID, 5, model.Point{})
	t2 := testutil.SeedTask(t, s, run.ID, 5, model.Point{})

	got, err := s.AssignTask(ctx, t1.ID, r1.ID, model.MinAssignableBattery)
	require.NoError(t, err)
	assert.Equal(t, model.TaskAssigned, got.Status)
	require.NotNil(t, got.RobotID)
	assert.Equal(t, r1.ID, *got.RobotID)

	robot, err := s.GetRobot(ctx, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RobotWorking, robot.Status)
	require.NotNil(t, robot.CurrentTaskID)
	assert.Equal(t, t1.ID, *robot.CurrentTaskID)

	_, err = s.AssignTask(ctx, t2.ID, r1.ID, model.MinAssignableBattery)
	assert.ErrorIs(t, err, storage.ErrRobotUnavailable)
	pending, err := s.GetTask(ctx, t2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, pending.Status)
	assert.Nil(t, pending.RobotID)

	_, err = s.AssignTask(ctx, t1.ID, r2.ID, model.MinAssignableBattery)
	assert.ErrorIs(t, err, storage.ErrTaskUnavailable)
	free, err := s.GetRobot(ctx, r2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RobotIdle, free.Status)
	assert.Nil(t, free.CurrentTaskID)
}

func testAssignIneligible(t *testing.T, s storage.Store) {
	ctx := context.Background()
	run := testutil.SeedRun(t, s, "warehouse")
	task := testutil.SeedTask(t, s, run.ID, 5, model.Point{})

	robots := []testutil.Robot{
		{Name: "low", Battery: 19.9},
		{Name: "charging", Battery: 90, Status: model.RobotCharging},
		{Name: "offline", Battery: 90, Status: model.RobotOffline},
	}
	for _, r := range robots {
		robot := testutil.SeedRobot(t, s, r)
		_, err := s.AssignTask(ctx, task.ID, robot.ID, model.MinAssignableBattery)
		assert.ErrorIs(t, err, storage.ErrRobotUnavailable, r.Name)
	}

	edge := testutil.SeedRobot(t, s, testutil.Robot{Name: "edge", Battery: 20})
	_, err := s.AssignTask(ctx, task.ID, edge.ID, model.MinAssignableBattery)
	require.NoError(t, err)
}

func testConcurrentAssign(t *testing.T, s storage.Store) {
	ctx := context.Background()
	run := testutil.SeedRun(t, s, "warehouse")
	robot := testutil.SeedRobot(t, s, testutil.Robot{Name: "solo", Battery: 90})

	const n = 8
	tasks := make([]model.Task, n)
	for i := range tasks {
		tasks[i] = testutil.SeedTask(t, s, run.ID, 5, model.Point{})
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AssignTask(ctx, task.ID, robot.ID, model.MinAssignableBattery); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, storage.ErrConflict)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	pending, err := s.ListPendingTasks(ctx, storage.RunScope{RunID: &run.ID})
	require.NoError(t, err)
	assert.Len(t, pending, n-1)
}

func testFinishFreesRobot(t *testing.T, s storage.Store) {
	ctx := context.Background()
	run := testutil.SeedRun(t, s, "warehouse")
	robot := testutil.SeedRobot(t, s, testutil.Robot{Name: "r1", Battery: 90})
	task := testutil.SeedTask(t, s, run.ID, 5, model.Point{})

	_, err := s.StartTask(ctx, task.ID)
	assert.ErrorIs(t, err, storage.ErrTaskUnavailable)

	_, err = s.AssignTask(ctx, task.ID, robot.ID, model.MinAssignableBattery)
	require.NoError(t, err)
	working, err := s.StartTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskWorking, working.Status)

	done, err := s.FinishTask(ctx, task.ID, model.TaskCompleted)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	r, err := s.GetRobot(ctx, robot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RobotIdle, r.Status)
	assert.Nil(t, r.CurrentTaskID)

	_, err = s.FinishTask(ctx, task.ID, model.TaskFailed)
	assert.ErrorIs(t, err, storage.ErrTaskUnavailable)
	_, err = s.FinishTask(ctx, uuid.New(), model.TaskFailed)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	n, err := s.CountFailedTasksSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testCompleteRun(t *testing.T, s storage.Store) {
	ctx := context.Background()
	run := testutil.SeedRun(t, s, "warehouse")
	robot := testutil.SeedRobot(t, s, testutil.Robot{Name: "r1", Battery: 90})
	held := testutil.SeedTask(t, s, run.ID, 5, model.Point{})
	waiting := testutil.SeedTask(t, s, run.ID, 5, model.Point{})

	_, err := s.AssignTask(ctx, held.ID, robot.ID, model.MinAssignableBattery)
	require.NoError(t, err)

	done, err := s.CompleteRun(ctx, run.ID, 61.5, nil)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, done.Status)
	require.NotNil(t, done.FinalScore)
	assert.InDelta(t, 61.5, *done.FinalScore, 1e-9)
	assert.NotNil(t, done.EndedAt)

	got, err := s.GetTask(ctx, held.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, got.Status)
	got, err = s.GetTask(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, got.Status)

	r, err := s.GetRobot(ctx, robot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RobotIdle, r.Status)
	assert.Nil(t, r.CurrentTaskID)

	_, err = s.CompleteRun(ctx, run.ID, 10, nil)
	assert.ErrorIs(t, err, storage.ErrConflict)
	_, err = s.CompleteRun(ctx, uuid.New(), 10, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.CurrentRun(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testCompleteRunMetrics(t *testing.T, s storage.Store) {
	ctx := context.Background()
	run := testutil.SeedRun(t, s, "warehouse")

	_, err := s.CompleteRun(ctx, run.ID, 30, &model.Metrics{TotalTasks: 4, CompletedTasks: 1, EfficiencyScore: 30})
	require.NoError(t, err)

	_, err = s.CompleteRun(ctx, run.ID, 26, &model.Metrics{TotalTasks: 4, AvgBatteryUsage: 80, EfficiencyScore: 26})
	assert.ErrorIs(t, err, storage.ErrConflict)

	m, err := s.GetMetrics(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, run.ID, m.RunID)
	assert.Equal(t, 1, m.CompletedTasks)
	assert.Zero(t, m.AvgBatteryUsage)
	assert.InDelta(t, 30, m.EfficiencyScore, 1e-9)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FinalScore)
	assert.InDelta(t, 30, *got.FinalScore, 1e-9)
}

func testStartRun(t *testing.T, s storage.Store) {
	ctx := context.Background()
	prev := testutil.SeedRun(t, s, "warehouse")
	robot := testutil.SeedRobot(t, s, testutil.Robot{Name: "r1", Battery: 40})
	charging := testutil.SeedRobot(t, s, testutil.Robot{Name: "r2", Battery: 10, Status: model.RobotCharging})
	task := testutil.SeedTask(t, s, prev.ID, 5, model.Point{})
	_, err := s.AssignTask(ctx, task.ID, robot.ID, model.MinAssignableBattery)
	require.NoError(t, err)

	run, err := s.StartRun(ctx, "warehouse", model.Strategy{Version: 2, Routing: model.RoutingNearestFirst})
	require.NoError(t, err)
	assert.Equal(t, 2, run.RunNumber)
	assert.Equal(t, 2, run.Strategy.Version)

	for _, id := range []uuid.UUID{robot.ID, charging.ID} {
		r, err := s.GetRobot(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.RobotIdle, r.Status)
		assert.InDelta(t, 100, r.BatteryLevel, 1e-9)
		assert.Nil(t, r.CurrentTaskID)
	}
	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, got.Status)
}

func testUpdateRobot(t *testing.T, s storage.Store) {
	ctx := context.Background()
	run := testutil.SeedRun(t, s, "warehouse")
	robot := testutil.SeedRobot(t, s, testutil.Robot{Name: "r1", Battery: 80})
	task := testutil.SeedTask(t, s, run.ID, 5, model.Point{})

	battery := 55.0
	moved, err := s.UpdateRobot(ctx, robot.ID, storage.RobotUpdate{
		BatteryLevel: &battery,
		Position:     &model.Point{X: 12, Y: 34},
	})
	require.NoError(t, err)
	assert.Equal(t, model.RobotIdle, moved.Status)
	assert.InDelta(t, 55, moved.BatteryLevel, 1e-9)
	assert.Equal(t, model.Point{X: 12, Y: 34}, moved.Position)

	_, err = s.AssignTask(ctx, task.ID, robot.ID, model.MinAssignableBattery)
	require.NoError(t, err)

	// Battery-only updates keep the robot on its task.
	battery = 50
	kept, err := s.UpdateRobot(ctx, robot.ID, storage.RobotUpdate{BatteryLevel: &battery})
	require.NoError(t, err)
	assert.Equal(t, model.RobotWorking, kept.Status)
	require.NotNil(t, kept.CurrentTaskID)

	charging := model.RobotCharging
	got, err := s.UpdateRobot(ctx, robot.ID, storage.RobotUpdate{Status: &charging})
	require.NoError(t, err)
	assert.Equal(t, model.RobotCharging, got.Status)
	assert.Nil(t, got.CurrentTaskID)
	assert.Equal(t, model.Point{X: 12, Y: 34}, got.Position)

	released, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, released.Status)
	assert.Nil(t, released.RobotID)

	_, err = s.UpdateRobot(ctx, uuid.New(), storage.RobotUpdate{Status: &charging})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testPendingOrder(t *testing.T, s storage.Store) {
	ctx := context.Background()
	run := testutil.SeedRun(t, s, "warehouse")
	other := testutil.SeedRun(t, s, "warehouse")

	first := testutil.SeedTask(t, s, run.ID, 5, model.Point{})
	urgent := testutil.SeedTask(t, s, run.ID, 9, model.Point{})
	second := testutil.SeedTask(t, s, run.ID, 5, model.Point{})
	foreign := testutil.SeedTask(t, s, other.ID, 10, model.Point{})

	scoped, err := s.ListPendingTasks(ctx, storage.RunScope{RunID: &run.ID})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{urgent.ID, first.ID, second.ID}, taskIDs(scoped))

	all, err := s.ListPendingTasks(ctx, storage.RunScope{})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{foreign.ID, urgent.ID, first.ID, second.ID}, taskIDs(all))

	listed, err := s.ListTasks(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first.ID, urgent.ID, second.ID}, taskIDs(listed))
}

func testMetrics(t *testing.T, s storage.Store) {
	ctx := context.Background()
	r1 := testutil.SeedRun(t, s, "warehouse")
	r2 := testutil.SeedRun(t, s, "warehouse")
	r3 := testutil.SeedRun(t, s, "warehouse")

	got, err := s.GetMetrics(ctx, r1.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.UpsertMetrics(ctx, model.Metrics{RunID: r1.ID, TotalTasks: 10, CompletedTasks: 5, EfficiencyScore: 40}))
	require.NoError(t, s.UpsertMetrics(ctx, model.Metrics{RunID: r1.ID, TotalTasks: 10, CompletedTasks: 6, EfficiencyScore: 45}))
	require.NoError(t, s.UpsertMetrics(ctx, model.Metrics{RunID: r2.ID, TotalTasks: 8, CompletedTasks: 8, EfficiencyScore: 90}))

	got, err = s.GetMetrics(ctx, r1.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 6, got.CompletedTasks)

	prev, err := s.PreviousRunMetrics(ctx, "warehouse", r3.RunNumber)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, r2.ID, prev.RunID)

	prev, err = s.PreviousRunMetrics(ctx, "warehouse", r1.RunNumber)
	require.NoError(t, err)
	assert.Nil(t, prev)

	recent, err := s.ListRecentMetrics(ctx, "warehouse", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, r2.ID, recent[0].RunID)

	none, err := s.ListRecentMetrics(ctx, "port", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testDecisions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	run := testutil.SeedRun(t, s, "warehouse")
	base := time.Now().UTC().Truncate(time.Millisecond)

	older, err := s.CreateDecision(ctx, model.AIDecision{
		RunID:        &run.ID,
		DecisionType: model.DecisionTaskOptimization,
		InputState:   map[string]any{"robots": 2.0},
		Output:       map[string]any{"strategy": "nearest-first"},
		Confidence:   0.75,
		LatencyMs:    12,
		CreatedAt:    base.Add(-time.Minute),
	})
	require.NoError(t, err)
	newer, err := s.CreateDecision(ctx, model.AIDecision{
		RunID:        &run.ID,
		DecisionType: model.DecisionAutoOptimize,
		CreatedAt:    base,
	})
	require.NoError(t, err)
	global, err := s.CreateDecision(ctx, model.AIDecision{
		DecisionType: model.DecisionScalingRecommendation,
		CreatedAt:    base.Add(time.Minute),
	})
	require.NoError(t, err)

	scoped, err := s.ListDecisions(ctx, &run.ID, 10)
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	assert.Equal(t, newer.ID, scoped[0].ID)
	assert.Equal(t, older.ID, scoped[1].ID)
	assert.Equal(t, "nearest-first", scoped[1].Output["strategy"])
	assert.InDelta(t, 2.0, scoped[1].InputState["robots"], 1e-9)
	assert.NotNil(t, scoped[0].Output)

	all, err := s.ListDecisions(ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, global.ID, all[0].ID)
	assert.Nil(t, all[0].RunID)
}

func testTakeRobotOffline(t *testing.T, s storage.Store) {
	ctx := context.Background()
	run := testutil.SeedRun(t, s, "warehouse")
	robot := testutil.SeedRobot(t, s, testutil.Robot{Name: "r1", Battery: 90})
	task := testutil.SeedTask(t, s, run.ID, 5, model.Point{})
	_, err := s.AssignTask(ctx, task.ID, robot.ID, model.MinAssignableBattery)
	require.NoError(t, err)

	off, released, err := s.TakeRobotOffline(ctx, robot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RobotOffline, off.Status)
	assert.Nil(t, off.CurrentTaskID)
	require.NotNil(t, released)
	assert.Equal(t, task.ID, *released)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, got.Status)
	assert.Nil(t, got.RobotID)

	_, _, err = s.TakeRobotOffline(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDrainBatteries(t *testing.T, s storage.Store) {
	ctx := context.Background()
	testutil.SeedRobot(t, s, testutil.Robot{Name: "a", Battery: 90})
	testutil.SeedRobot(t, s, testutil.Robot{Name: "b", Battery: 50})
	testutil.SeedRobot(t, s, testutil.Robot{Name: "c", Battery: 30})
	testutil.SeedRobot(t, s, testutil.Robot{Name: "d", Battery: 30, Status: model.RobotOffline})

	robots, err := s.DrainBatteries(ctx, storage.Drain{Amount: 40, Floor: 5, ChargeBelow: 20})
	require.NoError(t, err)
	require.Len(t, robots, 4)

	want := []struct {
		battery float64
		status  model.RobotStatus
	}{
		{50, model.RobotIdle},
		{10, model.RobotCharging},
		{5, model.RobotCharging},
		{30, model.RobotOffline},
	}
	for i, w := range want {
		assert.InDelta(t, w.battery, robots[i].BatteryLevel, 1e-9, robots[i].Name)
		assert.Equal(t, w.status, robots[i].Status, robots[i].Name)
	}
}

func testInjectEmergency(t *testing.T, s storage.Store) {
	ctx := context.Background()
	run := testutil.SeedRun(t, s, "warehouse")
	other := testutil.SeedRun(t, s, "warehouse")
	five := testutil.SeedTask(t, s, run.ID, 5, model.Point{})
	two := testutil.SeedTask(t, s, run.ID, 2, model.Point{})
	untouched := testutil.SeedTask(t, s, other.ID, 5, model.Point{})

	em, demoted, err := s.InjectEmergency(ctx, model.NewTask{
		RunID:       run.ID,
		Type:        model.TaskTypeEmergency,
		Priority:    model.MaxPriority,
		Origin:      model.Point{X: 50, Y: 50},
		Destination: model.Point{X: 95, Y: 95},
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, demoted)
	assert.Equal(t, model.MaxPriority, em.Priority)
	assert.Equal(t, model.TaskPending, em.Status)

	for id, want := range map[uuid.UUID]int{five.ID: 3, two.ID: 1, untouched.ID: 5} {
		got, err := s.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Priority)
	}

	pending, err := s.ListPendingTasks(ctx, storage.RunScope{RunID: &run.ID})
	require.NoError(t, err)
	require.NotEmpty(t, pending)
	assert.Equal(t, em.ID, pending[0].ID)
}

func testRerouteZone(t *testing.T, s storage.Store) {
	ctx := context.Background()
	run := testutil.SeedRun(t, s, "warehouse")
	inside := testutil.SeedRobot(t, s, testutil.Robot{Name: "inside", X: 50, Y: 50, Battery: 90})
	testutil.SeedRobot(t, s, testutil.Robot{Name: "edge", X: 40, Y: 60, Battery: 90})
	testutil.SeedRobot(t, s, testutil.Robot{Name: "outside", X: 10, Y: 50, Battery: 90})
	testutil.SeedRobot(t, s, testutil.Robot{Name: "offline", X: 50, Y: 50, Battery: 90, Status: model.RobotOffline})
	task := testutil.SeedTask(t, s, run.ID, 5, model.Point{})
	_, err := s.AssignTask(ctx, task.ID, inside.ID, model.MinAssignableBattery)
	require.NoError(t, err)

	robots, err := s.RerouteZone(ctx, model.Point{X: 40, Y: 40}, model.Point{X: 60, Y: 60})
	require.NoError(t, err)
	require.Len(t, robots, 2)
	assert.Equal(t, "edge", robots[0].Name)
	assert.Equal(t, "inside", robots[1].Name)
	for _, r := range robots {
		assert.Equal(t, model.RobotRerouting, r.Status)
		assert.Nil(t, r.CurrentTaskID)
	}

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, got.Status)
}

func testRunTrend(t *testing.T, s storage.Store) {
	ctx := context.Background()
	r1 := testutil.SeedRun(t, s, "warehouse")
	r2 := testutil.SeedRun(t, s, "warehouse")
	testutil.SeedRun(t, s, "port")
	require.NoError(t, s.UpsertMetrics(ctx, model.Metrics{RunID: r1.ID, TotalTasks: 4, CompletedTasks: 2, EfficiencyScore: 50}))
	require.NoError(t, s.SetImprovementNotes(ctx, r2.ID, `{"summary":"ok"}`))

	trend, err := s.ListRunTrend(ctx, "warehouse")
	require.NoError(t, err)
	require.Len(t, trend, 2)
	assert.Equal(t, 1, trend[0].Run.RunNumber)
	require.NotNil(t, trend[0].Metrics)
	assert.InDelta(t, 50, trend[0].Metrics.EfficiencyScore, 1e-9)
	assert.Equal(t, 2, trend[1].Run.RunNumber)
	assert.Nil(t, trend[1].Metrics)
	assert.Equal(t, `{"summary":"ok"}`, trend[1].Run.ImprovementNotes)
}

func taskIDs(tasks []model.Task) []uuid.UUID {
	ids := make([]uuid.UUID, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
