// Package quality scores simulation runs. Scores (0-100) summarize how well
// a run used its fleet and are stored as the run's efficiency and, when the
// caller supplies none, its final score.
package quality

import (
	"time"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
)

// Score computes an efficiency score (0-100) for a run's metrics.
// A run with no tasks scores 0.
//
// Scoring factors:
//   - Completion rate: up to 70
//   - Low failure share: up to 15
//   - Oracle latency (full at <=500ms, none at >=5s): up to 10
//   - Battery economy: up to 5
func Score(m model.Metrics) float64 {
	if m.TotalTasks <= 0 {
		return 0
	}
	total := float64(m.TotalTasks)

	// Factor 1: completion rate.
	score := 0.70 * m.CompletionRate()

	// Factor 2: failures are penalized beyond not completing.
	score += 15 * (1 - clamp01(float64(m.FailedTasks)/total))

	// Factor 3: oracle responsiveness. Runs without oracle decisions get full marks.
	if m.AIDecisionsCount == 0 {
		score += 10
	} else {
		score += 10 * latencyFactor(time.Duration(m.AvgAILatencyMs*float64(time.Millisecond)))
	}

	// Factor 4: battery economy.
	score += 5 * (1 - clamp01(m.AvgBatteryUsage/100))

	return clamp(score, 0, 100)
}

// Summarize derives run metrics from the run's tasks and audit decisions.
// Throughput is completed tasks per minute of the run's elapsed time.
func Summarize(run model.SimulationRun, tasks []model.Task, decisions []model.AIDecision, end time.Time) model.Metrics {
	m := model.Metrics{RunID: run.ID, TotalTasks: len(tasks)}

	var completionTotal time.Duration
	for _, t := range tasks {
		switch t.Status {
		case model.TaskCompleted:
			m.CompletedTasks++
			if t.CompletedAt != nil {
				completionTotal += t.CompletedAt.Sub(t.CreatedAt)
			}
		case model.TaskFailed:
			m.FailedTasks++
		}
	}
	if m.CompletedTasks > 0 {
		m.AvgCompletionTimeMs = float64(completionTotal.Milliseconds()) / float64(m.CompletedTasks)
	}
	if elapsed := end.Sub(run.StartedAt); elapsed > 0 {
		m.Throughput = float64(m.CompletedTasks) / elapsed.Minutes()
	}

	m.AIDecisionsCount = len(decisions)
	if len(decisions) > 0 {
		var latency int64
		for _, d := range decisions {
			latency += d.LatencyMs
		}
		m.AvgAILatencyMs = float64(latency) / float64(len(decisions))
	}

	m.EfficiencyScore = Score(m)
	return m
}

func latencyFactor(d time.Duration) float64 {
	const (
		fast = 500 * time.Millisecond
		slow = 5 * time.Second
	)
	switch {
	case d <= fast:
		return 1
	case d >= slow:
		return 0
	}
	return 1 - float64(d-fast)/float64(slow-fast)
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
