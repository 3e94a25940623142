// Package improve derives the next assignment strategy for a scenario from
// the performance trend of its past runs. The result is advisory: nothing is
// applied to future runs here.
package improve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/service/oracle"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
)

// Strategy tuning.
const (
	baseBatteryThreshold = 30.0
	batteryStepPerRun    = 2.0
	adaptiveRoutingAfter = 2 // runs
	batchingAfter        = 3 // runs
)

// Analyzer analyzes one run.
type Analyzer interface {
	AnalyzeRun(ctx context.Context, runID uuid.UUID) (oracle.Decision, error)
}

// TrendPoint is one run of the performance trend. Metric fields are nil when
// the run has no metrics.
type TrendPoint struct {
	Run            int      `json:"run"`
	Score          *float64 `json:"score"`
	Efficiency     *float64 `json:"efficiency"`
	Throughput     *float64 `json:"throughput"`
	CompletionRate float64  `json:"completion_rate"`
	BatteryUsage   *float64 `json:"battery_usage"`
}

// Result is the outcome of ImproveStrategy. With no runs only Message is set.
type Result struct {
	Message      string          `json:"message,omitempty"`
	RunsAnalyzed int             `json:"runs_analyzed"`
	Trend        []TrendPoint    `json:"performance_trend,omitempty"`
	Strategy     *model.Strategy `json:"improved_strategy,omitempty"`
	Source       oracle.Source   `json:"ai_source,omitempty"`
}

// Service runs the improvement loop.
type Service struct {
	store    storage.Store
	analyzer Analyzer
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an improvement Service.
func New(store storage.Store, analyzer Analyzer, logger *slog.Logger) *Service {
	return &Service{store: store, analyzer: analyzer, logger: logger, now: time.Now}
}

// BatteryThreshold is the minimum assignable battery after runCount runs:
// 30 less 2 per run, never below 20.
func BatteryThreshold(runCount int) float64 {
	return max(model.MinAssignableBattery, baseBatteryThreshold-batteryStepPerRun*float64(runCount))
}

// Routing is the routing mode after runCount runs.
func Routing(runCount int) string {
	if runCount > adaptiveRoutingAfter {
		return model.RoutingDynamicAdaptive
	}
	return model.RoutingNearestFirst
}

// Batching reports whether task batching is enabled after runCount runs.
func Batching(runCount int) bool {
	return runCount > batchingAfter
}

// ImproveStrategy analyzes the latest run of scenarioID and synthesizes the
// next strategy. A scenario without runs is reported in Message, not as an
// error.
func (s *Service) ImproveStrategy(ctx context.Context, scenarioID string) (Result, error) {
	if scenarioID == "" {
		return Result{}, fmt.Errorf("%w: scenario id is required", model.ErrValidation)
	}
	rows, err := s.store.ListRunTrend(ctx, scenarioID)
	if err != nil {
		return Result{}, fmt.Errorf("improve: list runs: %w", err)
	}
	if len(rows) == 0 {
		return Result{Message: "Need at least 1 completed run to generate improvements"}, nil
	}

	trend := make([]TrendPoint, len(rows))
	for i, r := range rows {
		trend[i] = trendPoint(r)
	}

	latest := rows[len(rows)-1].Run
	analysis, err := s.analyzer.AnalyzeRun(ctx, latest.ID)
	if err != nil {
		return Result{}, fmt.Errorf("improve: analyze run %d: %w", latest.RunNumber, err)
	}

	n := len(rows)
	next := model.Strategy{
		Version:              n + 1,
		BasedOnRuns:          n,
		Routing:              Routing(n),
		BatteryThreshold:     BatteryThreshold(n),
		TaskBatching:         Batching(n),
		Recommendations:      stringList(analysis.Payload["recommendations"]),
		PredictedImprovement: number(analysis.Payload["predicted_gain_percent"]),
		GeneratedAt:          s.now().UTC(),
	}

	s.logger.Info("improve: strategy synthesized",
		"scenario_id", scenarioID,
		"runs", n,
		"version", next.Version,
		"routing", next.Routing,
		"source", analysis.Source,
	)
	return Result{
		RunsAnalyzed: n,
		Trend:        trend,
		Strategy:     &next,
		Source:       analysis.Source,
	}, nil
}

func trendPoint(r model.RunTrend) TrendPoint {
	p := TrendPoint{Run: r.Run.RunNumber, Score: r.Run.FinalScore}
	if m := r.Metrics; m != nil {
		p.Efficiency = &m.EfficiencyScore
		p.Throughput = &m.Throughput
		p.CompletionRate = m.CompletionRate()
		p.BatteryUsage = &m.AvgBatteryUsage
	}
	return p
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}
