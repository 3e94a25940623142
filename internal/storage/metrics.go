package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
)

const metricsColumns = `run_id, total_tasks, completed_tasks, failed_tasks, avg_completion_time_ms,
	throughput, avg_battery_usage, ai_decisions_count, avg_ai_latency_ms, efficiency_score`

func scanMetrics(row scanner) (model.Metrics, error) {
	var m model.Metrics
	err := row.Scan(&m.RunID, &m.TotalTasks, &m.CompletedTasks, &m.FailedTasks,
		&m.AvgCompletionTimeMs, &m.Throughput, &m.AvgBatteryUsage,
		&m.AIDecisionsCount, &m.AvgAILatencyMs, &m.EfficiencyScore)
	return m, err
}

// execer is satisfied by the pool and by pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// UpsertMetrics writes the metrics row for a run, replacing any previous one.
func (db *DB) UpsertMetrics(ctx context.Context, m model.Metrics) error {
	return upsertMetrics(ctx, db.pool, m)
}

func upsertMetrics(ctx context.Context, q execer, m model.Metrics) error {
	_, err := q.Exec(ctx,
		`INSERT INTO metrics (`+metricsColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (run_id) DO UPDATE SET
		   total_tasks = EXCLUDED.total_tasks,
		   completed_tasks = EXCLUDED.completed_tasks,
		   failed_tasks = EXCLUDED.failed_tasks,
		   avg_completion_time_ms = EXCLUDED.avg_completion_time_ms,
		   throughput = EXCLUDED.throughput,
		   avg_battery_usage = EXCLUDED.avg_battery_usage,
		   ai_decisions_count = EXCLUDED.ai_decisions_count,
		   avg_ai_latency_ms = EXCLUDED.avg_ai_latency_ms,
		   efficiency_score = EXCLUDED.efficiency_score`,
		m.RunID, m.TotalTasks, m.CompletedTasks, m.FailedTasks, m.AvgCompletionTimeMs,
		m.Throughput, m.AvgBatteryUsage, m.AIDecisionsCount, m.AvgAILatencyMs, m.EfficiencyScore,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert metrics: %w", err)
	}
	return nil
}

// GetMetrics returns the metrics of a run, or nil if none were recorded.
func (db *DB) GetMetrics(ctx context.Context, runID uuid.UUID) (*model.Metrics, error) {
	m, err := scanMetrics(db.pool.QueryRow(ctx,
		`SELECT `+metricsColumns+` FROM metrics WHERE run_id = $1`, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get metrics: %w", err)
	}
	return &m, nil
}

// PreviousRunMetrics returns the metrics of the closest earlier run in the
// scenario that has metrics, or nil.
func (db *DB) PreviousRunMetrics(ctx context.Context, scenarioID string, runNumber int) (*model.Metrics, error) {
	m, err := scanMetrics(db.pool.QueryRow(ctx,
		`SELECT m.run_id, m.total_tasks, m.completed_tasks, m.failed_tasks, m.avg_completion_time_ms,
		        m.throughput, m.avg_battery_usage, m.ai_decisions_count, m.avg_ai_latency_ms, m.efficiency_score
		 FROM metrics m JOIN simulation_runs r ON r.id = m.run_id
		 WHERE r.scenario_id = $1 AND r.run_number < $2
		 ORDER BY r.run_number DESC LIMIT 1`,
		scenarioID, runNumber,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: previous run metrics: %w", err)
	}
	return &m, nil
}

// ListRecentMetrics returns up to limit metrics rows, newest run first.
func (db *DB) ListRecentMetrics(ctx context.Context, scenarioID string, limit int) ([]model.Metrics, error) {
	query := `SELECT m.run_id, m.total_tasks, m.completed_tasks, m.failed_tasks, m.avg_completion_time_ms,
	                 m.throughput, m.avg_battery_usage, m.ai_decisions_count, m.avg_ai_latency_ms, m.efficiency_score
	          FROM metrics m JOIN simulation_runs r ON r.id = m.run_id`
	args := []any{limit}
	if scenarioID != "" {
		query += ` WHERE r.scenario_id = $2`
		args = append(args, scenarioID)
	}
	query += ` ORDER BY r.started_at DESC, r.run_number DESC LIMIT $1`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list recent metrics: %w", err)
	}
	defer rows.Close()

	var out []model.Metrics
	for rows.Next() {
		m, err := scanMetrics(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan metrics: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
