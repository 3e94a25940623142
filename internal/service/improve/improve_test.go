package improve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/service/oracle"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/testutil"
)

func newTestService(t *testing.T) (*Service, storage.Store) {
	t.Helper()
	store := testutil.NewSQLiteStore(t)
	logger := testutil.TestLogger()
	adapter := oracle.NewAdapter(nil, oracle.RuleGenerator{}, nil, time.Second, logger)
	return New(store, oracle.New(store, adapter, 0, logger), logger), store
}

func TestBatteryThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		runs int
		want float64
	}{
		{0, 30}, {1, 28}, {3, 24}, {4, 22}, {5, 20}, {6, 20}, {50, 20},
	}
	prev := BatteryThreshold(0)
	for _, tt := range tests {
		got := BatteryThreshold(tt.runs)
		assert.InDelta(t, tt.want, got, 1e-9, "runs=%d", tt.runs)
		assert.LessOrEqual(t, got, prev)
		assert.GreaterOrEqual(t, got, 20.0)
		prev = got
	}
}

func TestRoutingAndBatching(t *testing.T) {
	t.Parallel()

	assert.Equal(t, model.RoutingNearestFirst, Routing(1))
	assert.Equal(t, model.RoutingNearestFirst, Routing(2))
	assert.Equal(t, model.RoutingDynamicAdaptive, Routing(3))
	assert.False(t, Batching(3))
	assert.True(t, Batching(4))
}

func TestImproveStrategyWithoutRuns(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.ImproveStrategy(context.Background(), "demand_spike")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Message)
	assert.Nil(t, res.Strategy)
	assert.Zero(t, res.RunsAnalyzed)
}

func TestImproveStrategyRequiresScenario(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ImproveStrategy(context.Background(), "")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestImproveStrategyAfterFourRuns(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	var last model.SimulationRun
	for i := range 4 {
		last = testutil.SeedRun(t, store, "demand_spike")
		if i < 3 {
			require.NoError(t, store.UpsertMetrics(ctx, model.Metrics{
				RunID:           last.ID,
				TotalTasks:      10,
				CompletedTasks:  5 + i,
				EfficiencyScore: 50 + 5*float64(i),
				Throughput:      2,
				AvgBatteryUsage: 30,
			}))
		}
		_, err := store.CompleteRun(ctx, last.ID, 60+float64(i), nil)
		require.NoError(t, err)
	}

	res, err := svc.ImproveStrategy(ctx, "demand_spike")
	require.NoError(t, err)

	assert.Equal(t, 4, res.RunsAnalyzed)
	assert.Equal(t, oracle.SourceFallback, res.Source)
	require.NotNil(t, res.Strategy)
	assert.Equal(t, 5, res.Strategy.Version)
	assert.Equal(t, 4, res.Strategy.BasedOnRuns)
	assert.Equal(t, model.RoutingDynamicAdaptive, res.Strategy.Routing)
	assert.True(t, res.Strategy.TaskBatching)
	assert.InDelta(t, 22.0, res.Strategy.BatteryThreshold, 1e-9)
	assert.Len(t, res.Strategy.Recommendations, 3)
	assert.InDelta(t, 12.0, res.Strategy.PredictedImprovement, 1e-9)
	assert.Equal(t, fixed, res.Strategy.GeneratedAt)

	require.Len(t, res.Trend, 4)
	for i, p := range res.Trend {
		assert.Equal(t, i+1, p.Run)
		require.NotNil(t, p.Score)
	}
	assert.InDelta(t, 50.0, res.Trend[0].CompletionRate, 1e-9)
	assert.InDelta(t, 70.0, res.Trend[2].CompletionRate, 1e-9)
	require.NotNil(t, res.Trend[2].Efficiency)
	assert.InDelta(t, 60.0, *res.Trend[2].Efficiency, 1e-9)
	assert.Nil(t, res.Trend[3].Efficiency)
	assert.Zero(t, res.Trend[3].CompletionRate)

	// The analysis lands on the latest run.
	run, err := store.GetRun(ctx, last.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ImprovementNotes)
}

type failingAnalyzer struct{}

func (failingAnalyzer) AnalyzeRun(context.Context, uuid.UUID) (oracle.Decision, error) {
	return oracle.Decision{}, errors.New("store unreachable")
}

func TestImproveStrategyPropagatesAnalysisFailure(t *testing.T) {
	store := testutil.NewSQLiteStore(t)
	testutil.SeedRun(t, store, "blocked_path")

	svc := New(store, failingAnalyzer{}, testutil.TestLogger())
	_, err := svc.ImproveStrategy(context.Background(), "blocked_path")
	assert.ErrorContains(t, err, "store unreachable")
}
