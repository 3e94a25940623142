package arcc

import "context"

// Generator produces a JSON-shaped decision payload for a prompt.
// When provided via WithGenerator, replaces the auto-detected Gemini client.
// kind is the decision type (task_optimization, run_analysis,
// failure_response, scaling_recommendation). An error, a timeout or a nil
// payload makes the App answer from its rule-based generator instead.
type Generator interface {
	Generate(ctx context.Context, kind, prompt string) (map[string]any, error)
}

// Notifier forwards fleet health alerts.
// When provided via WithNotifier, replaces the Discord webhook notifier.
// Errors are logged and recorded on the alert; they never fail the health
// check.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}
