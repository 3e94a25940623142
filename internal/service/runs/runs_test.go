package runs

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/testutil"
)

func newTestService(t *testing.T) (*Service, storage.Store) {
	t.Helper()
	store := testutil.NewSQLiteStore(t)
	return New(store, model.MinAssignableBattery, testutil.TestLogger()), store
}

func TestStartRunResetsFleet(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	drained := testutil.SeedRobot(t, store, testutil.Robot{Name: "drained", Battery: 12, Status: model.RobotCharging})

	first, err := svc.StartRun(ctx, "warehouse", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, first.RunNumber)
	assert.Equal(t, model.RunStatusRunning, first.Status)
	assert.Equal(t, DefaultStrategy().Routing, first.Strategy.Routing)

	robot, err := store.GetRobot(ctx, drained.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RobotIdle, robot.Status)
	assert.InDelta(t, 100, robot.BatteryLevel, 1e-9)

	second, err := svc.StartRun(ctx, "warehouse", &model.Strategy{Version: 2, BatteryThreshold: 24})
	require.NoError(t, err)
	assert.Equal(t, 2, second.RunNumber)
	assert.Equal(t, 2, second.Strategy.Version)
	assert.Equal(t, model.RoutingNearestFirst, second.Strategy.Routing)

	other, err := svc.StartRun(ctx, "other", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, other.RunNumber)
}

func TestStartRunRequiresScenario(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.StartRun(context.Background(), "", nil)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestStopRunWithExplicitScore(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	robot := testutil.SeedRobot(t, store, testutil.Robot{Name: "r1", Battery: 90})
	run, err := svc.StartRun(ctx, "warehouse", nil)
	require.NoError(t, err)
	task := testutil.SeedTask(t, store, run.ID, 5, model.Point{})
	_, err = svc.AssignTask(ctx, task.ID, robot.ID)
	require.NoError(t, err)

	score := 73.5
	stopped, err := svc.StopRun(ctx, run.ID, &score)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, stopped.Status)
	require.NotNil(t, stopped.FinalScore)
	assert.InDelta(t, 73.5, *stopped.FinalScore, 1e-9)
	assert.NotNil(t, stopped.EndedAt)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, got.Status)

	r, err := store.GetRobot(ctx, robot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RobotIdle, r.Status)
	assert.Nil(t, r.CurrentTaskID)

	_, err = svc.StopRun(ctx, run.ID, &score)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestStopRunComputesScore(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	robot := testutil.SeedRobot(t, store, testutil.Robot{Name: "r1", Battery: 90})
	run, err := svc.StartRun(ctx, "warehouse", nil)
	require.NoError(t, err)

	done := testutil.SeedTask(t, store, run.ID, 5, model.Point{})
	_, err = svc.AssignTask(ctx, done.ID, robot.ID)
	require.NoError(t, err)
	_, err = svc.CompleteTask(ctx, done.ID)
	require.NoError(t, err)
	testutil.SeedTask(t, store, run.ID, 5, model.Point{})

	stopped, err := svc.StopRun(ctx, run.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, stopped.FinalScore)

	m, err := svc.GetMetrics(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 2, m.TotalTasks)
	assert.Equal(t, 1, m.CompletedTasks)
	assert.InDelta(t, m.EfficiencyScore, *stopped.FinalScore, 1e-9)
	assert.Greater(t, *stopped.FinalScore, 0.0)
}

func TestStopRunTwiceKeepsStoredMetrics(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	testutil.SeedRobot(t, store, testutil.Robot{Name: "r1", Battery: 90})
	run, err := svc.StartRun(ctx, "warehouse", nil)
	require.NoError(t, err)
	testutil.SeedTask(t, store, run.ID, 5, model.Point{})

	stopped, err := svc.StopRun(ctx, run.ID, nil)
	require.NoError(t, err)
	before, err := svc.GetMetrics(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, before)
	assert.Zero(t, before.AvgBatteryUsage)

	_, err = store.DrainBatteries(ctx, storage.Drain{Amount: 80, Floor: 5, ChargeBelow: 20})
	require.NoError(t, err)

	_, err = svc.StopRun(ctx, run.ID, nil)
	assert.ErrorIs(t, err, storage.ErrConflict)

	collected, err := svc.CollectMetrics(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, *before, collected)

	after, err := svc.GetMetrics(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, *before, *after)

	got, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FinalScore)
	assert.InDelta(t, *stopped.FinalScore, *got.FinalScore, 1e-9)
}

func TestCollectMetricsAfterExplicitStop(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	run, err := svc.StartRun(ctx, "warehouse", nil)
	require.NoError(t, err)
	score := 50.0
	_, err = svc.StopRun(ctx, run.ID, &score)
	require.NoError(t, err)

	_, err = svc.CollectMetrics(ctx, run.ID)
	assert.ErrorIs(t, err, storage.ErrConflict)

	m, err := svc.GetMetrics(ctx, run.ID)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestStopRunValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.StopRun(ctx, uuid.Nil, nil)
	assert.ErrorIs(t, err, model.ErrValidation)

	bad := 120.0
	_, err = svc.StopRun(ctx, uuid.New(), &bad)
	assert.ErrorIs(t, err, model.ErrValidation)

	ok := 50.0
	_, err = svc.StopRun(ctx, uuid.New(), &ok)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateTaskDefaults(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	run := testutil.SeedRun(t, store, "warehouse")

	task, err := svc.CreateTask(ctx, model.NewTask{RunID: run.ID, Origin: model.Point{X: 3, Y: 4}})
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, task.Status)
	assert.Equal(t, 5, task.Priority)
	assert.Equal(t, model.TaskTypeDelivery, task.Type)
	assert.Equal(t, run.ID, task.RunID)
}

func TestCreateTaskValidation(t *testing.T) {
	svc, store := newTestService(t)
	run := testutil.SeedRun(t, store, "warehouse")

	tests := []struct {
		name string
		in   model.NewTask
		err  error
	}{
		{"missing run", model.NewTask{Priority: 5}, model.ErrValidation},
		{"priority too high", model.NewTask{RunID: run.ID, Priority: 11}, model.ErrValidation},
		{"priority negative", model.NewTask{RunID: run.ID, Priority: -1}, model.ErrValidation},
		{"unknown run", model.NewTask{RunID: uuid.New(), Priority: 5}, storage.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateTask(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	tasks, err := svc.ListTasks(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestTaskLifecycle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	run := testutil.SeedRun(t, store, "warehouse")
	robot := testutil.SeedRobot(t, store, testutil.Robot{Name: "r1", Battery: 90})
	task := testutil.SeedTask(t, store, run.ID, 5, model.Point{})

	assigned, err := svc.AssignTask(ctx, task.ID, robot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskAssigned, assigned.Status)
	assert.NotNil(t, assigned.AssignedAt)

	working, err := svc.StartTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskWorking, working.Status)

	done, err := svc.CompleteTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)

	r, err := store.GetRobot(ctx, robot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RobotIdle, r.Status)
	assert.Nil(t, r.CurrentTaskID)

	_, err = svc.FailTask(ctx, task.ID)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.ErrorIs(t, err, storage.ErrTaskUnavailable)

	_, err = svc.StartTask(ctx, task.ID)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestFailPendingTask(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	run := testutil.SeedRun(t, store, "warehouse")
	task := testutil.SeedTask(t, store, run.ID, 5, model.Point{})

	_, err := svc.CompleteTask(ctx, task.ID)
	assert.ErrorIs(t, err, model.ErrValidation)

	failed, err := svc.FailTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, failed.Status)
}

func TestAssignTaskRejectsIneligibleRobot(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	run := testutil.SeedRun(t, store, "warehouse")
	low := testutil.SeedRobot(t, store, testutil.Robot{Name: "low", Battery: 10})
	task := testutil.SeedTask(t, store, run.ID, 5, model.Point{})

	_, err := svc.AssignTask(ctx, task.ID, low.ID)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.ErrorIs(t, err, storage.ErrRobotUnavailable)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, got.Status)
	assert.Nil(t, got.RobotID)

	_, err = svc.AssignTask(ctx, uuid.New(), low.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = svc.AssignTask(ctx, task.ID, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRegisterRobot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	r, err := svc.RegisterRobot(ctx, model.Robot{Name: "zeta", Status: model.RobotIdle, BatteryLevel: 75})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, r.ID)
	assert.Equal(t, model.TaskTypeDelivery, r.Type)

	_, err = svc.RegisterRobot(ctx, model.Robot{Name: "alpha", Status: model.RobotIdle, BatteryLevel: 50})
	require.NoError(t, err)

	tests := []struct {
		name string
		in   model.Robot
	}{
		{"missing name", model.Robot{BatteryLevel: 50}},
		{"bad status", model.Robot{Name: "x", Status: "flying", BatteryLevel: 50}},
		{"battery over", model.Robot{Name: "x", BatteryLevel: 101}},
		{"holds task", model.Robot{Name: "x", BatteryLevel: 50, CurrentTaskID: &r.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RegisterRobot(ctx, tt.in)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}

	robots, err := svc.ListRobots(ctx)
	require.NoError(t, err)
	require.Len(t, robots, 2)
	assert.Equal(t, "alpha", robots[0].Name)
	assert.Equal(t, "zeta", robots[1].Name)
}

func TestUpdateRobot(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	run, err := svc.StartRun(ctx, "warehouse", nil)
	require.NoError(t, err)
	robot := testutil.SeedRobot(t, store, testutil.Robot{Name: "r1", Battery: 90})
	task := testutil.SeedTask(t, store, run.ID, 5, model.Point{})
	_, err = svc.AssignTask(ctx, task.ID, robot.ID)
	require.NoError(t, err)

	offline := model.RobotOffline
	got, err := svc.UpdateRobot(ctx, robot.ID, storage.RobotUpdate{
		Status:   &offline,
		Position: &model.Point{X: 3, Y: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, model.RobotOffline, got.Status)
	assert.Nil(t, got.CurrentTaskID)
	assert.Equal(t, model.Point{X: 3, Y: 4}, got.Position)

	released, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, released.Status)

	working := model.RobotWorking
	flying := model.RobotStatus("flying")
	over := 120.0
	tests := []struct {
		name string
		id   uuid.UUID
		in   storage.RobotUpdate
	}{
		{"missing id", uuid.Nil, storage.RobotUpdate{Status: &offline}},
		{"empty update", robot.ID, storage.RobotUpdate{}},
		{"unknown status", robot.ID, storage.RobotUpdate{Status: &flying}},
		{"working without a task", robot.ID, storage.RobotUpdate{Status: &working}},
		{"battery over", robot.ID, storage.RobotUpdate{BatteryLevel: &over}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateRobot(ctx, tt.id, tt.in)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}

	_, err = svc.UpdateRobot(ctx, uuid.New(), storage.RobotUpdate{Status: &offline})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecordMetrics(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	run := testutil.SeedRun(t, store, "warehouse")

	valid := model.Metrics{RunID: run.ID, TotalTasks: 10, CompletedTasks: 7, FailedTasks: 2, EfficiencyScore: 64}
	require.NoError(t, svc.RecordMetrics(ctx, valid))

	valid.CompletedTasks = 8
	require.NoError(t, svc.RecordMetrics(ctx, valid))

	got, err := svc.GetMetrics(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 8, got.CompletedTasks)

	tests := []struct {
		name string
		m    model.Metrics
		err  error
	}{
		{"missing run", model.Metrics{TotalTasks: 1}, model.ErrValidation},
		{"negative", model.Metrics{RunID: run.ID, FailedTasks: -1}, model.ErrValidation},
		{"overflow", model.Metrics{RunID: run.ID, TotalTasks: 2, CompletedTasks: 2, FailedTasks: 1}, model.ErrValidation},
		{"efficiency", model.Metrics{RunID: run.ID, EfficiencyScore: 101}, model.ErrValidation},
		{"unknown run", model.Metrics{RunID: uuid.New()}, storage.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, svc.RecordMetrics(ctx, tt.m), tt.err)
		})
	}
}

func TestCollectMetricsIncludesBatteryUsage(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	testutil.SeedRobot(t, store, testutil.Robot{Name: "a", Battery: 60})
	testutil.SeedRobot(t, store, testutil.Robot{Name: "b", Battery: 80})
	run := testutil.SeedRun(t, store, "warehouse")
	testutil.SeedTask(t, store, run.ID, 5, model.Point{})

	_, err := store.CreateDecision(ctx, model.AIDecision{
		RunID:        &run.ID,
		DecisionType: model.DecisionTaskOptimization,
		InputState:   map[string]any{},
		Output:       map[string]any{},
		Confidence:   0.75,
		LatencyMs:    200,
	})
	require.NoError(t, err)

	m, err := svc.CollectMetrics(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, m.TotalTasks)
	assert.Equal(t, 1, m.AIDecisionsCount)
	assert.InDelta(t, 200, m.AvgAILatencyMs, 1e-9)
	assert.InDelta(t, 30, m.AvgBatteryUsage, 1e-9)

	stored, err := svc.GetMetrics(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.InDelta(t, m.EfficiencyScore, stored.EfficiencyScore, 1e-9)
}

func TestListDecisionsLimits(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	run := testutil.SeedRun(t, store, "warehouse")

	for range 3 {
		_, err := store.CreateDecision(ctx, model.AIDecision{
			RunID:        &run.ID,
			DecisionType: model.DecisionAutoOptimize,
			InputState:   map[string]any{},
			Output:       map[string]any{},
		})
		require.NoError(t, err)
	}
	_, err := store.CreateDecision(ctx, model.AIDecision{
		DecisionType: model.DecisionScalingRecommendation,
		InputState:   map[string]any{},
		Output:       map[string]any{},
	})
	require.NoError(t, err)

	all, err := svc.ListDecisions(ctx, nil, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	scoped, err := svc.ListDecisions(ctx, &run.ID, 2)
	require.NoError(t, err)
	assert.Len(t, scoped, 2)

	other := uuid.New()
	none, err := svc.ListDecisions(ctx, &other, 10)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
