// Package oracle produces fleet decisions (task optimization, run analysis,
// failure response, scaling advice, operator chat answers) from an external generative model, with a
// deterministic rule-based generator substituted whenever the external call
// fails, times out, is rate limited or returns something that is not JSON.
//
// Every public operation persists an audit decision whose confidence reflects
// which generator produced it.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
)

// Source identifies which generator produced a payload.
type Source string

const (
	SourceExternal Source = "external"
	SourceFallback Source = "fallback"
)

// Request is one decision request. Kind selects the prompt template and the
// rule-based answer; the structured fields are the state the prompt embeds.
type Request struct {
	Kind     model.DecisionType
	Prompt   string
	Scenario string
	Robots   []model.Robot
	Tasks    []model.Task

	// Chat requests only.
	Question string
	Metrics  []model.Metrics
	Alerts   []string
}

// Generator turns a request into a JSON-shaped payload.
type Generator interface {
	Generate(ctx context.Context, req Request) (map[string]any, error)
}

// ErrMalformedResponse is returned by generators whose output held no JSON.
var ErrMalformedResponse = errors.New("oracle: malformed response")

// checkPayload rejects an external payload that lacks the field its kind is
// read by.
func checkPayload(kind model.DecisionType, p map[string]any) error {
	if kind == model.DecisionCopilotChat {
		if text, _ := p["response"].(string); strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: chat reply has no response text", ErrMalformedResponse)
		}
	}
	return nil
}

// confidence returns the audit confidence for a decision kind and source.
func confidence(kind model.DecisionType, src Source) float64 {
	external := src == SourceExternal
	switch kind {
	case model.DecisionTaskOptimization:
		return pick(external, 0.92, 0.75)
	case model.DecisionRunAnalysis:
		return pick(external, 0.88, 0.70)
	case model.DecisionFailureResponse:
		return pick(external, 0.85, 0.65)
	case model.DecisionScalingRecommendation:
		return pick(external, 0.90, 0.70)
	}
	return pick(external, 0.80, 0.60)
}

func pick(cond bool, a, b float64) float64 {
	if cond {
		return a
	}
	return b
}
