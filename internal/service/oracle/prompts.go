package oracle

import (
	"encoding/json"
	"fmt"
)

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func taskOptimizationPrompt(robots, tasks any) string {
	return fmt.Sprintf(`
You are an AI fleet optimizer for an autonomous robotics warehouse.

AVAILABLE ROBOTS:
%s

PENDING TASKS:
%s

Assign each task to the optimal robot considering:
1. Distance from robot to task origin
2. Robot battery level (>30%% required)
3. Robot payload capacity vs task requirements
4. Current workload balance

Return JSON array: [{ "task_id": "...", "robot_id": "...", "reasoning": "..." }]
Only return valid JSON, no markdown.`, indentJSON(robots), indentJSON(tasks))
}

func runAnalysisPrompt(metrics, previous any) string {
	return fmt.Sprintf(`
You are analyzing a robotics simulation run for performance optimization.

CURRENT RUN METRICS:
%s

PREVIOUS RUN METRICS (for comparison):
%s

Analyze:
1. What improved vs previous run?
2. What degraded?
3. Top 3 specific strategy changes for next run
4. Predicted efficiency gain

Return JSON: { "improvements": [...], "regressions": [...], "recommendations": [...], "predicted_gain_percent": N, "summary": "..." }
Only return valid JSON, no markdown.`, indentJSON(metrics), indentJSON(previous))
}

func failureResponsePrompt(kind, description string, robots, tasks any) string {
	return fmt.Sprintf(`
You are an emergency response AI for a robotics fleet.

SCENARIO: %s: %s

ACTIVE ROBOTS:
%s

CURRENT TASKS:
%s

Generate an emergency response plan:
1. Which tasks to reprioritize?
2. Which robots to reassign?
3. What new routing strategy?
4. Risk mitigation steps

Return JSON: { "reassignments": [...], "priority_changes": [...], "strategy": "...", "risk_level": "high|medium|low" }
Only return valid JSON, no markdown.`, kind, description, indentJSON(robots), indentJSON(tasks))
}

func scalingPrompt(metrics any) string {
	return fmt.Sprintf(`
You are a robotics fleet scaling advisor.

HISTORICAL METRICS:
%s

Based on throughput trends, task completion rates, and efficiency scores:
1. How many additional robots are needed?
2. What robot types should be added?
3. Optimal fleet composition
4. Estimated ROI of scaling

Return JSON: { "recommended_additions": N, "robot_types": [...], "optimal_fleet_size": N, "roi_estimate": "...", "reasoning": "..." }
Only return valid JSON, no markdown.`, indentJSON(metrics))
}

func chatPrompt(question string, fleetContext any) string {
	return fmt.Sprintf(`
You are the operations copilot of an autonomous robotics command center.
Answer the operator's question from the live fleet context below. Be specific,
cite numbers from the context and suggest a concrete next action.

FLEET CONTEXT:
%s

OPERATOR QUESTION: %s

Keep the answer under 150 words of plain prose.
Return JSON: { "response": "..." }
Only return valid JSON, no markdown.`, indentJSON(fleetContext), question)
}
