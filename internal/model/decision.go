package model

import (
	"time"

	"github.com/google/uuid"
)

// DecisionType classifies an audit decision.
type DecisionType string

const (
	DecisionTaskOptimization      DecisionType = "task_optimization"
	DecisionRunAnalysis           DecisionType = "run_analysis"
	DecisionFailureResponse       DecisionType = "failure_response"
	DecisionScalingRecommendation DecisionType = "scaling_recommendation"
	DecisionAutoOptimize          DecisionType = "auto_optimize"
	DecisionCopilotChat           DecisionType = "copilot_chat"
)

// AIDecision is an append-only audit record of one oracle or engine decision.
// RunID is nil for decisions made outside a run.
type AIDecision struct {
	ID           uuid.UUID      `json:"id"`
	RunID        *uuid.UUID     `json:"run_id,omitempty"`
	DecisionType DecisionType   `json:"decision_type"`
	InputState   map[string]any `json:"input_state"`
	Output       map[string]any `json:"decision_output"`
	Confidence   float64        `json:"confidence"`
	LatencyMs    int64          `json:"latency_ms"`
	CreatedAt    time.Time      `json:"created_at"`
}
