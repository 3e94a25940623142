package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a simulation run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
)

// Routing modes a strategy can select.
const (
	RoutingNearestFirst    = "nearest-first"
	RoutingDynamicAdaptive = "dynamic-adaptive"
)

// Strategy is the versioned parameter set governing assignment for a run.
type Strategy struct {
	Version              int       `json:"version"`
	BasedOnRuns          int       `json:"based_on_runs,omitempty"`
	Routing              string    `json:"routing"`
	BatteryThreshold     float64   `json:"battery_threshold"`
	TaskBatching         bool      `json:"task_batching"`
	Recommendations      []string  `json:"ai_recommendations,omitempty"`
	PredictedImprovement float64   `json:"predicted_improvement,omitempty"`
	GeneratedAt          time.Time `json:"generated_at,omitzero"`
}

// SimulationRun is one execution of a scenario.
// RunNumber is strictly increasing per ScenarioID, starting at 1.
type SimulationRun struct {
	ID               uuid.UUID  `json:"id"`
	ScenarioID       string     `json:"scenario_id"`
	RunNumber        int        `json:"run_number"`
	Status           RunStatus  `json:"status"`
	Strategy         Strategy   `json:"strategy"`
	FinalScore       *float64   `json:"final_score,omitempty"`
	ImprovementNotes string     `json:"improvement_notes,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

// Metrics is the per-run performance aggregate. One row per run.
type Metrics struct {
	RunID               uuid.UUID `json:"run_id"`
	TotalTasks          int       `json:"total_tasks"`
	CompletedTasks      int       `json:"completed_tasks"`
	FailedTasks         int       `json:"failed_tasks"`
	AvgCompletionTimeMs float64   `json:"avg_completion_time_ms"`
	Throughput          float64   `json:"throughput"`
	AvgBatteryUsage     float64   `json:"avg_battery_usage"`
	AIDecisionsCount    int       `json:"ai_decisions_count"`
	AvgAILatencyMs      float64   `json:"avg_ai_latency_ms"`
	EfficiencyScore     float64   `json:"efficiency_score"`
}

// CompletionRate returns completed/total*100, or 0 when there are no tasks.
func (m Metrics) CompletionRate() float64 {
	if m.TotalTasks <= 0 {
		return 0
	}
	return float64(m.CompletedTasks) / float64(m.TotalTasks) * 100
}

// RunTrend is a run joined with its metrics, as read by the improvement loop.
// Metrics is nil when the run has no metrics row.
type RunTrend struct {
	Run     SimulationRun
	Metrics *Metrics
}
