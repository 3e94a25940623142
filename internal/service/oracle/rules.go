package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/dispatch"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
)

// RuleGenerator answers every request kind deterministically. It never fails.
type RuleGenerator struct {
	MinBattery float64
}

// Generate returns the rule-based payload for req.Kind.
func (g RuleGenerator) Generate(_ context.Context, req Request) (map[string]any, error) {
	switch req.Kind {
	case model.DecisionTaskOptimization:
		return g.optimize(req), nil
	case model.DecisionRunAnalysis:
		return map[string]any{
			"improvements": []any{"Task routing efficiency"},
			"regressions":  []any{"Battery consumption slightly higher"},
			"recommendations": []any{
				"Reduce idle time between tasks",
				"Implement predictive battery management",
				"Add parallel task assignment for heavy-lift robots",
			},
			"predicted_gain_percent": 12.0,
			"summary":                "Rule-based analysis suggests 12% improvement potential through routing optimization",
		}, nil
	case model.DecisionCopilotChat:
		return map[string]any{"topic": string(chatTopicOf(req.Question)), "response": chatAnswer(req)}, nil
	case model.DecisionFailureResponse:
		return map[string]any{
			"scenario":         req.Scenario,
			"reassignments":    []any{"Redistribute failed robot tasks to nearest idle units"},
			"priority_changes": []any{"Elevate all pending deliveries to priority 8+"},
			"strategy":         "Consolidate fleet to cover critical zones first, defer low-priority tasks",
			"risk_level":       "medium",
		}, nil
	}
	return map[string]any{
		"recommended_additions": 2.0,
		"robot_types":           []any{"delivery", "heavy_lift"},
		"optimal_fleet_size":    8.0,
		"roi_estimate":          "34% throughput increase with 2 additional units",
		"reasoning":             "Current fleet utilization exceeds 80% during peak hours",
	}, nil
}

func (g RuleGenerator) optimize(req Request) map[string]any {
	minBattery := g.MinBattery
	if minBattery <= 0 {
		minBattery = model.MinAssignableBattery
	}
	pairs := dispatch.Plan(req.Robots, req.Tasks, minBattery)
	assignments := make([]any, 0, len(pairs))
	for _, p := range pairs {
		assignments = append(assignments, map[string]any{
			"task_id":   p.TaskID.String(),
			"robot_id":  p.RobotID.String(),
			"reasoning": fmt.Sprintf("nearest eligible robot, %.1f units from origin", p.Distance),
		})
	}
	return map[string]any{
		"assignments": assignments,
		"strategy":    "nearest-first",
		"summary":     fmt.Sprintf("Rule-based: nearest-first assignment with battery threshold of %.0f%%", minBattery),
	}
}

type chatTopic string

const (
	topicEfficiency chatTopic = "efficiency"
	topicOptimize   chatTopic = "optimize"
	topicCost       chatTopic = "cost"
	topicFailure    chatTopic = "failure"
	topicScaling    chatTopic = "scaling"
	topicStatus     chatTopic = "status"
)

// chatKeywords is checked in order; the first topic with a matching word
// stem wins.
var chatKeywords = []struct {
	topic chatTopic
	stems []string
}{
	{topicEfficiency, []string{"efficien", "drop", "why"}},
	{topicOptimize, []string{"optim", "improv", "better"}},
	{topicCost, []string{"cost", "money", "reduc", "save"}},
	{topicFailure, []string{"fail", "error", "crash", "down"}},
	{topicScaling, []string{"scal", "grow", "add", "expand", "demand"}},
}

func chatTopicOf(question string) chatTopic {
	q := strings.ToLower(question)
	for _, k := range chatKeywords {
		for _, stem := range k.stems {
			if strings.Contains(q, stem) {
				return k.topic
			}
		}
	}
	return topicStatus
}

// chatAnswer builds a short answer for the question's topic from the fleet
// state carried by req.
func chatAnswer(req Request) string {
	var latest *model.Metrics
	if len(req.Metrics) > 0 {
		latest = &req.Metrics[0]
	}
	idle, low := 0, 0
	for _, r := range req.Robots {
		if r.Status == model.RobotIdle {
			idle++
		}
		if r.Status != model.RobotOffline && r.BatteryLevel < chatLowBattery {
			low++
		}
	}

	switch chatTopicOf(req.Question) {
	case topicEfficiency:
		if latest == nil {
			return "No run has recorded metrics yet. Start a run and collect metrics to track efficiency."
		}
		answer := fmt.Sprintf("The latest run scored %.1f%% efficiency with %d of %d tasks completed.",
			latest.EfficiencyScore, latest.CompletedTasks, latest.TotalTasks)
		if len(req.Metrics) > 1 {
			prev := req.Metrics[1]
			answer += fmt.Sprintf(" The run before scored %.1f%%.", prev.EfficiencyScore)
		}
		if low > 0 {
			answer += fmt.Sprintf(" %d robots are low on battery, which limits how many tasks can be assigned.", low)
		}
		return answer
	case topicOptimize:
		return fmt.Sprintf("%d robots are idle. Run auto-optimize to bind pending tasks nearest-first, "+
			"then improve the strategy so the next run adopts the learned battery threshold.", idle)
	case topicCost:
		return "Cut idle travel by keeping nearest-first routing, and send robots to charge before they drop " +
			"below the assignment floor so failed tasks do not have to be rerun."
	case topicFailure:
		if latest != nil && latest.FailedTasks > 0 {
			return fmt.Sprintf("The latest run failed %d of %d tasks. Check robots that went offline or charging "+
				"mid-task and rebalance their zones.", latest.FailedTasks, latest.TotalTasks)
		}
		return "No failed tasks in the latest recorded run. Trigger a failure scenario to rehearse the response."
	case topicScaling:
		if latest != nil && latest.CompletionRate() >= 90 {
			return fmt.Sprintf("Completion is %.0f%% on %d robots. Add units only if demand grows beyond the current run size.",
				latest.CompletionRate(), len(req.Robots))
		}
		return fmt.Sprintf("The fleet has %d robots. Request a scaling recommendation for sizing based on recent throughput.",
			len(req.Robots))
	}
	answer := fmt.Sprintf("%d robots in the fleet, %d idle.", len(req.Robots), idle)
	if len(req.Alerts) > 0 {
		answer += " Alerts: " + strings.Join(req.Alerts, "; ") + "."
	}
	return answer
}
