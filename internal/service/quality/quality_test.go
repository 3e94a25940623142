package quality

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		metrics model.Metrics
		want    float64
	}{
		{
			name:    "no tasks",
			metrics: model.Metrics{},
			want:    0,
		},
		{
			name:    "perfect run without oracle calls",
			metrics: model.Metrics{TotalTasks: 10, CompletedTasks: 10},
			want:    100,
		},
		{
			name: "half failed, slow oracle, drained fleet",
			metrics: model.Metrics{
				TotalTasks: 10, CompletedTasks: 5, FailedTasks: 5,
				AIDecisionsCount: 2, AvgAILatencyMs: 5000, AvgBatteryUsage: 100,
			},
			want: 42.5,
		},
		{
			name: "mostly complete, mid latency",
			metrics: model.Metrics{
				TotalTasks: 10, CompletedTasks: 8,
				AIDecisionsCount: 4, AvgAILatencyMs: 2750, AvgBatteryUsage: 50,
			},
			want: 78.5,
		},
		{
			name: "fast oracle earns full latency credit",
			metrics: model.Metrics{
				TotalTasks: 4, CompletedTasks: 4,
				AIDecisionsCount: 1, AvgAILatencyMs: 120,
			},
			want: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.metrics)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 100.0)
		})
	}
}

func TestSummarize(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := model.SimulationRun{ID: uuid.New(), StartedAt: start}
	done := func(after time.Duration) *time.Time {
		ts := start.Add(after)
		return &ts
	}

	tasks := []model.Task{
		{Status: model.TaskCompleted, CreatedAt: start, CompletedAt: done(2 * time.Second)},
		{Status: model.TaskCompleted, CreatedAt: start, CompletedAt: done(4 * time.Second)},
		{Status: model.TaskFailed, CreatedAt: start},
		{Status: model.TaskPending, CreatedAt: start},
	}
	decisions := []model.AIDecision{{LatencyMs: 100}, {LatencyMs: 300}}

	m := Summarize(run, tasks, decisions, start.Add(2*time.Minute))

	assert.Equal(t, run.ID, m.RunID)
	assert.Equal(t, 4, m.TotalTasks)
	assert.Equal(t, 2, m.CompletedTasks)
	assert.Equal(t, 1, m.FailedTasks)
	assert.InDelta(t, 3000, m.AvgCompletionTimeMs, 1e-9)
	assert.InDelta(t, 1.0, m.Throughput, 1e-9)
	assert.Equal(t, 2, m.AIDecisionsCount)
	assert.InDelta(t, 200, m.AvgAILatencyMs, 1e-9)
	// 35 completion + 11.25 failure share + 10 latency + 5 battery.
	assert.InDelta(t, 61.25, m.EfficiencyScore, 1e-9)
}
