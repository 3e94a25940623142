package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
)

const decisionColumns = `id, run_id, decision_type, input_state, decision_output, confidence, latency_ms, created_at`

// CreateDecision appends an audit decision and announces it on ChannelDecisions.
// A failed notification is logged; the decision is already committed.
func (db *DB) CreateDecision(ctx context.Context, d model.AIDecision) (model.AIDecision, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.InputState == nil {
		d.InputState = map[string]any{}
	}
	if d.Output == nil {
		d.Output = map[string]any{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO ai_decisions (`+decisionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.RunID, string(d.DecisionType), d.InputState, d.Output,
		d.Confidence, d.LatencyMs, d.CreatedAt,
	)
	if err != nil {
		return model.AIDecision{}, fmt.Errorf("storage: create decision: %w", err)
	}

	payload, err := json.Marshal(DecisionEvent{
		ID:           d.ID,
		RunID:        d.RunID,
		DecisionType: d.DecisionType,
		Confidence:   d.Confidence,
	})
	if err == nil {
		err = db.Notify(ctx, ChannelDecisions, string(payload))
	}
	if err != nil {
		db.logger.Warn("storage: decision notification failed", "decision_id", d.ID, "error", err)
	}
	return d, nil
}

// ListDecisions returns up to limit decisions, newest first. A nil runID
// lists decisions of all runs.
func (db *DB) ListDecisions(ctx context.Context, runID *uuid.UUID, limit int) ([]model.AIDecision, error) {
	query := `SELECT ` + decisionColumns + ` FROM ai_decisions`
	args := []any{limit}
	if runID != nil {
		query += ` WHERE run_id = $2`
		args = append(args, *runID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $1`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer rows.Close()

	var out []model.AIDecision
	for rows.Next() {
		var d model.AIDecision
		if err := rows.Scan(&d.ID, &d.RunID, &d.DecisionType, &d.InputState, &d.Output,
			&d.Confidence, &d.LatencyMs, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
