package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
)

const runColumns = `id, scenario_id, run_number, status, strategy, final_score, improvement_notes, started_at, ended_at`

func scanRun(row scanner) (model.SimulationRun, error) {
	var r model.SimulationRun
	err := row.Scan(&r.ID, &r.ScenarioID, &r.RunNumber, &r.Status, &r.Strategy,
		&r.FinalScore, &r.ImprovementNotes, &r.StartedAt, &r.EndedAt)
	return r, err
}

// CreateRun starts a run numbered one past the scenario's highest run.
// Concurrent starts race on the (scenario_id, run_number) constraint and the
// loser is retried by withTx.
func (db *DB) CreateRun(ctx context.Context, scenarioID string, strategy model.Strategy) (model.SimulationRun, error) {
	var run model.SimulationRun
	err := db.withTx(ctx, "create run", func(tx pgx.Tx) error {
		var err error
		run, err = createRun(ctx, tx, scenarioID, strategy)
		return err
	})
	return run, err
}

// StartRun creates the next run and resets the fleet in one transaction.
func (db *DB) StartRun(ctx context.Context, scenarioID string, strategy model.Strategy) (model.SimulationRun, error) {
	var run model.SimulationRun
	err := db.withTx(ctx, "start run", func(tx pgx.Tx) error {
		var err error
		if run, err = createRun(ctx, tx, scenarioID, strategy); err != nil {
			return err
		}
		return resetFleet(ctx, tx)
	})
	return run, err
}

func createRun(ctx context.Context, tx pgx.Tx, scenarioID string, strategy model.Strategy) (model.SimulationRun, error) {
	run, err := scanRun(tx.QueryRow(ctx,
		`INSERT INTO simulation_runs (id, scenario_id, run_number, status, strategy)
		 SELECT $1::uuid, $2::text, COALESCE(MAX(run_number), 0) + 1, 'running', $3::jsonb
		 FROM simulation_runs WHERE scenario_id = $2
		 RETURNING `+runColumns,
		uuid.New(), scenarioID, strategy,
	))
	if err != nil {
		return model.SimulationRun{}, fmt.Errorf("storage: create run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (model.SimulationRun, error) {
	r, err := scanRun(db.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM simulation_runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SimulationRun{}, fmt.Errorf("%w: run %s", ErrNotFound, id)
		}
		return model.SimulationRun{}, fmt.Errorf("storage: get run: %w", err)
	}
	return r, nil
}

// CurrentRun returns the most recently started running run.
func (db *DB) CurrentRun(ctx context.Context) (model.SimulationRun, error) {
	r, err := scanRun(db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM simulation_runs
		 WHERE status = 'running' ORDER BY started_at DESC, run_number DESC LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SimulationRun{}, fmt.Errorf("%w: no running run", ErrNotFound)
		}
		return model.SimulationRun{}, fmt.Errorf("storage: current run: %w", err)
	}
	return r, nil
}

// CompleteRun closes a running run. In-flight tasks of the run fail, tasks of
// other runs held by robots go back to pending, and every robot ends idle.
// Non-nil metrics are stored in the same transaction.
func (db *DB) CompleteRun(ctx context.Context, id uuid.UUID, finalScore float64, metrics *model.Metrics) (model.SimulationRun, error) {
	var run model.SimulationRun
	err := db.withTx(ctx, "complete run", func(tx pgx.Tx) error {
		var err error
		run, err = scanRun(tx.QueryRow(ctx,
			`UPDATE simulation_runs SET status = 'completed', final_score = $1, ended_at = now()
			 WHERE id = $2 AND status = 'running'
			 RETURNING `+runColumns,
			finalScore, id,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				if _, gerr := db.GetRun(ctx, id); gerr != nil {
					return gerr
				}
				return fmt.Errorf("%w: run %s is not running", ErrConflict, id)
			}
			return fmt.Errorf("storage: complete run: %w", err)
		}
		if metrics != nil {
			m := *metrics
			m.RunID = id
			if err := upsertMetrics(ctx, tx, m); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx,
			`UPDATE tasks SET status = 'failed', completed_at = now()
			 WHERE run_id = $1 AND status IN ('assigned', 'working')`, id,
		); err != nil {
			return fmt.Errorf("storage: fail in-flight tasks: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE tasks SET status = 'pending', robot_id = NULL, assigned_at = NULL
			 WHERE id IN (SELECT current_task_id FROM robots WHERE current_task_id IS NOT NULL)
			   AND status IN ('assigned', 'working')`,
		); err != nil {
			return fmt.Errorf("storage: release held tasks: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE robots SET status = 'idle', current_task_id = NULL, last_seen = now()`,
		); err != nil {
			return fmt.Errorf("storage: idle robots: %w", err)
		}
		return nil
	})
	return run, err
}

// SetImprovementNotes stores the analysis payload on a run.
func (db *DB) SetImprovementNotes(ctx context.Context, id uuid.UUID, notes string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE simulation_runs SET improvement_notes = $1 WHERE id = $2`, notes, id)
	if err != nil {
		return fmt.Errorf("storage: set improvement notes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return nil
}

// ListRunTrend returns a scenario's runs in run_number order with metrics joined.
func (db *DB) ListRunTrend(ctx context.Context, scenarioID string) ([]model.RunTrend, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT r.id, r.scenario_id, r.run_number, r.status, r.strategy, r.final_score,
		        r.improvement_notes, r.started_at, r.ended_at,
		        m.run_id, m.total_tasks, m.completed_tasks, m.failed_tasks,
		        m.avg_completion_time_ms, m.throughput, m.avg_battery_usage,
		        m.ai_decisions_count, m.avg_ai_latency_ms, m.efficiency_score
		 FROM simulation_runs r
		 LEFT JOIN metrics m ON m.run_id = r.id
		 WHERE r.scenario_id = $1
		 ORDER BY r.run_number ASC`, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("storage: list run trend: %w", err)
	}
	defer rows.Close()

	var trend []model.RunTrend
	for rows.Next() {
		var (
			r  model.SimulationRun
			nm nullableMetrics
		)
		if err := rows.Scan(&r.ID, &r.ScenarioID, &r.RunNumber, &r.Status, &r.Strategy,
			&r.FinalScore, &r.ImprovementNotes, &r.StartedAt, &r.EndedAt,
			&nm.RunID, &nm.TotalTasks, &nm.CompletedTasks, &nm.FailedTasks,
			&nm.AvgCompletionTimeMs, &nm.Throughput, &nm.AvgBatteryUsage,
			&nm.AIDecisionsCount, &nm.AvgAILatencyMs, &nm.EfficiencyScore,
		); err != nil {
			return nil, fmt.Errorf("storage: scan run trend: %w", err)
		}
		trend = append(trend, model.RunTrend{Run: r, Metrics: nm.metrics()})
	}
	return trend, rows.Err()
}

// nullableMetrics receives a LEFT JOINed metrics row.
type nullableMetrics struct {
	RunID               *uuid.UUID
	TotalTasks          *int
	CompletedTasks      *int
	FailedTasks         *int
	AvgCompletionTimeMs *float64
	Throughput          *float64
	AvgBatteryUsage     *float64
	AIDecisionsCount    *int
	AvgAILatencyMs      *float64
	EfficiencyScore     *float64
}

func (n nullableMetrics) metrics() *model.Metrics {
	if n.RunID == nil {
		return nil
	}
	return &model.Metrics{
		RunID:               *n.RunID,
		TotalTasks:          deref(n.TotalTasks),
		CompletedTasks:      deref(n.CompletedTasks),
		FailedTasks:         deref(n.FailedTasks),
		AvgCompletionTimeMs: deref(n.AvgCompletionTimeMs),
		Throughput:          deref(n.Throughput),
		AvgBatteryUsage:     deref(n.AvgBatteryUsage),
		AIDecisionsCount:    deref(n.AIDecisionsCount),
		AvgAILatencyMs:      deref(n.AvgAILatencyMs),
		EfficiencyScore:     deref(n.EfficiencyScore),
	}
}

func deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
