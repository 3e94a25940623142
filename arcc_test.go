package arcc_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	arcc "github.com/let-the-dreamers-rise/autonomous-robotics-command-center"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/testutil"
)

type stubGenerator struct {
	mu    sync.Mutex
	kinds []string
	err   error
}

func (g *stubGenerator) Generate(_ context.Context, kind, prompt string) (map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.kinds = append(g.kinds, kind)
	if g.err != nil {
		return nil, g.err
	}
	return map[string]any{"kind": kind, "prompt_bytes": float64(len(prompt))}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []arcc.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a arcc.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func newTestApp(t *testing.T, opts ...arcc.Option) *arcc.App {
	t.Helper()
	opts = append([]arcc.Option{
		arcc.WithSQLitePath(filepath.Join(t.TempDir(), "arcc.db")),
		arcc.WithLogger(testutil.TestLogger()),
		arcc.WithVersion("test"),
		arcc.WithRandSeed(7),
	}, opts...)
	app, err := arcc.New(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func TestAppRunLifecycle(t *testing.T) {
	gen := &stubGenerator{}
	notifier := &recordingNotifier{}
	app := newTestApp(t, arcc.WithGenerator(gen), arcc.WithNotifier(notifier))
	ctx := context.Background()

	assert.True(t, app.ExternalOracle())
	assert.Equal(t, "test", app.Version())

	for _, name := range []string{"R1", "R2", "R3"} {
		_, err := app.RegisterRobot(ctx, arcc.Robot{Name: name, Status: arcc.RobotIdle, BatteryLevel: 50})
		require.NoError(t, err)
	}

	run, err := app.StartRun(ctx, "warehouse", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, run.RunNumber)

	for i := range 2 {
		_, err := app.CreateTask(ctx, arcc.NewTask{
			RunID:    run.ID,
			Priority: 3 + i,
			Origin:   arcc.Point{X: float64(i * 10), Y: 0},
		})
		require.NoError(t, err)
	}

	opt, err := app.OptimizeTasks(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "external", string(opt.Source))
	assert.InDelta(t, 0.92, opt.Confidence, 1e-9)

	res, err := app.AutoOptimize(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Assignments, 2)

	outcome, err := app.TriggerScenario(ctx, run.ID, "emergency_order")
	require.NoError(t, err)
	assert.Equal(t, "Emergency Priority Order", outcome.Name)
	assert.InDelta(t, 0.85, outcome.Response.Confidence, 1e-9)

	for range 2 {
		_, err = app.TriggerScenario(ctx, run.ID, "battery_shortage")
		require.NoError(t, err)
	}

	alerts, err := app.CheckFleetHealth(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	for _, a := range alerts {
		assert.Equal(t, arcc.AlertLevel("warning"), a.Level)
		assert.True(t, a.Sent)
	}
	assert.Len(t, app.AlertLog(), 3)
	notifier.mu.Lock()
	assert.Len(t, notifier.alerts, 3)
	notifier.mu.Unlock()

	stopped, err := app.StopRun(ctx, run.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "completed", string(stopped.Status))

	m, err := app.CollectMetrics(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, m.TotalTasks)

	improved, err := app.ImproveStrategy(ctx, "warehouse")
	require.NoError(t, err)
	assert.Equal(t, 1, improved.RunsAnalyzed)
	require.NotNil(t, improved.Strategy)
	assert.Equal(t, 2, improved.Strategy.Version)

	decisions, err := app.ListDecisions(ctx, &run.ID, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, decisions)

	gen.mu.Lock()
	assert.Contains(t, gen.kinds, "task_optimization")
	assert.Contains(t, gen.kinds, "failure_response")
	assert.Contains(t, gen.kinds, "run_analysis")
	gen.mu.Unlock()
}

func TestAppGeneratorFailureFallsBack(t *testing.T) {
	app := newTestApp(t, arcc.WithGenerator(&stubGenerator{err: errors.New("quota exceeded")}))
	ctx := context.Background()

	run, err := app.StartRun(ctx, "warehouse", nil)
	require.NoError(t, err)

	d, err := app.HandleFailure(ctx, run.ID, "robot_failure")
	require.NoError(t, err)
	assert.Equal(t, "fallback", string(d.Source))
	assert.InDelta(t, 0.65, d.Confidence, 1e-9)
}

func TestAppDemoUpdateAndChat(t *testing.T) {
	gen := &stubGenerator{}
	app := newTestApp(t, arcc.WithGenerator(gen))
	ctx := context.Background()

	r1, err := app.RegisterRobot(ctx, arcc.Robot{Name: "R1", Status: arcc.RobotIdle, BatteryLevel: 90})
	require.NoError(t, err)
	_, err = app.RegisterRobot(ctx, arcc.Robot{Name: "R2", Status: arcc.RobotIdle, BatteryLevel: 90})
	require.NoError(t, err)

	for n := 1; n <= 2; n++ {
		res, err := app.GenerateDemoRun(ctx, "warehouse")
		require.NoError(t, err)
		assert.Equal(t, n, res.Run.RunNumber)
		assert.Equal(t, arcc.RunCompleted, res.Run.Status)
		assert.Positive(t, res.Metrics.TotalTasks)
	}

	low := 12.0
	offline := arcc.RobotOffline
	_, err = app.UpdateRobot(ctx, r1.ID, arcc.RobotUpdate{BatteryLevel: &low})
	require.NoError(t, err)
	updated, err := app.UpdateRobot(ctx, r1.ID, arcc.RobotUpdate{Status: &offline})
	require.NoError(t, err)
	assert.Equal(t, arcc.RobotOffline, updated.Status)
	assert.InDelta(t, 12, updated.BatteryLevel, 1e-9)

	// The stub's payload has no response text, so the rule answer is used.
	reply, err := app.Chat(ctx, "Why did efficiency drop?")
	require.NoError(t, err)
	assert.Equal(t, "fallback", string(reply.Source))
	assert.Contains(t, reply.Response, "latest run scored")
	assert.Equal(t, []string{"1 robots offline"}, reply.Alerts)

	gen.mu.Lock()
	assert.Contains(t, gen.kinds, "copilot_chat")
	gen.mu.Unlock()

	_, err = app.Chat(ctx, "")
	assert.ErrorIs(t, err, arcc.ErrValidation)
}

func TestAppErrors(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	run, err := app.StartRun(ctx, "warehouse", nil)
	require.NoError(t, err)

	_, err = app.TriggerScenario(ctx, run.ID, "meteor_strike")
	assert.ErrorIs(t, err, arcc.ErrUnknownScenario)
	assert.ErrorIs(t, err, arcc.ErrValidation)

	_, err = app.AnalyzeRun(ctx, uuid.New())
	assert.ErrorIs(t, err, arcc.ErrNotFound)

	_, err = app.CreateTask(ctx, arcc.NewTask{RunID: run.ID, Priority: 42})
	assert.ErrorIs(t, err, arcc.ErrValidation)

	_, err = app.StopRun(ctx, run.ID, nil)
	require.NoError(t, err)
	_, err = app.StopRun(ctx, run.ID, nil)
	assert.ErrorIs(t, err, arcc.ErrConflict)

	assert.Len(t, app.ListScenarios(), 5)

	err = app.WatchDecisions(ctx, func(arcc.DecisionEvent) error { return nil })
	assert.ErrorIs(t, err, errors.ErrUnsupported)
}
