package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
)

const runColumns = `id, scenario_id, run_number, status, strategy, final_score, improvement_notes, started_at, ended_at`

func scanRun(row scanner) (model.SimulationRun, error) {
	var (
		r        model.SimulationRun
		strategy string
		score    sql.NullFloat64
		started  string
		ended    sql.NullString
	)
	if err := row.Scan(&r.ID, &r.ScenarioID, &r.RunNumber, &r.Status, &strategy,
		&score, &r.ImprovementNotes, &started, &ended); err != nil {
		return model.SimulationRun{}, err
	}
	if err := json.Unmarshal([]byte(strategy), &r.Strategy); err != nil {
		return model.SimulationRun{}, fmt.Errorf("sqlite: decode strategy: %w", err)
	}
	if score.Valid {
		r.FinalScore = &score.Float64
	}
	var err error
	if r.StartedAt, err = parseTime(started); err != nil {
		return model.SimulationRun{}, fmt.Errorf("sqlite: parse started_at: %w", err)
	}
	if r.EndedAt, err = parseNullTime(ended); err != nil {
		return model.SimulationRun{}, fmt.Errorf("sqlite: parse ended_at: %w", err)
	}
	return r, nil
}

func getRun(ctx context.Context, q querier, id uuid.UUID) (model.SimulationRun, error) {
	r, err := scanRun(q.QueryRowContext(ctx, `SELECT `+runColumns+` FROM simulation_runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SimulationRun{}, fmt.Errorf("%w: run %s", storage.ErrNotFound, id)
		}
		return model.SimulationRun{}, fmt.Errorf("sqlite: get run: %w", err)
	}
	return r, nil
}

// CreateRun starts a run numbered one past the scenario's highest run.
func (s *Store) CreateRun(ctx context.Context, scenarioID string, strategy model.Strategy) (model.SimulationRun, error) {
	var run model.SimulationRun
	err := s.withTx(ctx, "create run", func(tx *sql.Tx) error {
		var err error
		run, err = s.createRun(ctx, tx, scenarioID, strategy)
		return err
	})
	return run, err
}

// StartRun creates the next run and resets the fleet in one transaction.
func (s *Store) StartRun(ctx context.Context, scenarioID string, strategy model.Strategy) (model.SimulationRun, error) {
	var run model.SimulationRun
	err := s.withTx(ctx, "start run", func(tx *sql.Tx) error {
		var err error
		if run, err = s.createRun(ctx, tx, scenarioID, strategy); err != nil {
			return err
		}
		return s.resetFleet(ctx, tx)
	})
	return run, err
}

func (s *Store) createRun(ctx context.Context, tx *sql.Tx, scenarioID string, strategy model.Strategy) (model.SimulationRun, error) {
	raw, err := json.Marshal(strategy)
	if err != nil {
		return model.SimulationRun{}, fmt.Errorf("sqlite: encode strategy: %w", err)
	}
	id := uuid.New()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO simulation_runs (id, scenario_id, run_number, status, strategy, started_at)
		 SELECT ?, ?, COALESCE(MAX(run_number), 0) + 1, 'running', ?, ?
		 FROM simulation_runs WHERE scenario_id = ?`,
		id, scenarioID, string(raw), s.timestamp(), scenarioID,
	); err != nil {
		return model.SimulationRun{}, fmt.Errorf("sqlite: create run: %w", err)
	}
	return getRun(ctx, tx, id)
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (model.SimulationRun, error) {
	return getRun(ctx, s.db, id)
}

// CurrentRun returns the most recently started running run.
func (s *Store) CurrentRun(ctx context.Context) (model.SimulationRun, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM simulation_runs
		 WHERE status = 'running' ORDER BY started_at DESC, rowid DESC LIMIT 1`))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SimulationRun{}, fmt.Errorf("%w: no running run", storage.ErrNotFound)
		}
		return model.SimulationRun{}, fmt.Errorf("sqlite: current run: %w", err)
	}
	return r, nil
}

// CompleteRun closes a running run, fails its in-flight tasks, releases tasks
// of other runs and idles every robot. Non-nil metrics are stored in the same
// transaction.
func (s *Store) CompleteRun(ctx context.Context, id uuid.UUID, finalScore float64, metrics *model.Metrics) (model.SimulationRun, error) {
	var run model.SimulationRun
	err := s.withTx(ctx, "complete run", func(tx *sql.Tx) error {
		now := s.timestamp()
		res, err := tx.ExecContext(ctx,
			`UPDATE simulation_runs SET status = 'completed', final_score = ?, ended_at = ?
			 WHERE id = ? AND status = 'running'`,
			finalScore, now, id,
		)
		if err != nil {
			return fmt.Errorf("sqlite: complete run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := getRun(ctx, tx, id); err != nil {
				return err
			}
			return fmt.Errorf("%w: run %s is not running", storage.ErrConflict, id)
		}
		if metrics != nil {
			m := *metrics
			m.RunID = id
			if err := upsertMetrics(ctx, tx, m); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = 'failed', completed_at = ?
			 WHERE run_id = ? AND status IN ('assigned', 'working')`, now, id,
		); err != nil {
			return fmt.Errorf("sqlite: fail in-flight tasks: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = 'pending', robot_id = NULL, assigned_at = NULL
			 WHERE id IN (SELECT current_task_id FROM robots WHERE current_task_id IS NOT NULL)
			   AND status IN ('assigned', 'working')`,
		); err != nil {
			return fmt.Errorf("sqlite: release held tasks: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE robots SET status = 'idle', current_task_id = NULL, last_seen = ?`, now,
		); err != nil {
			return fmt.Errorf("sqlite: idle robots: %w", err)
		}
		run, err = getRun(ctx, tx, id)
		return err
	})
	return run, err
}

// SetImprovementNotes stores the analysis payload on a run.
func (s *Store) SetImprovementNotes(ctx context.Context, id uuid.UUID, notes string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE simulation_runs SET improvement_notes = ? WHERE id = ?`, notes, id)
	if err != nil {
		return fmt.Errorf("sqlite: set improvement notes: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: run %s", storage.ErrNotFound, id)
	}
	return nil
}

// ListRunTrend returns a scenario's runs in run_number order with metrics joined.
func (s *Store) ListRunTrend(ctx context.Context, scenarioID string) ([]model.RunTrend, error) {
	runs, err := s.queryRuns(ctx,
		`SELECT `+runColumns+` FROM simulation_runs WHERE scenario_id = ? ORDER BY run_number ASC`, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list run trend: %w", err)
	}

	trend := make([]model.RunTrend, 0, len(runs))
	for _, r := range runs {
		m, err := s.GetMetrics(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		trend = append(trend, model.RunTrend{Run: r, Metrics: m})
	}
	return trend, nil
}

// queryRuns reads every row before returning so callers can issue further
// queries on the single connection.
func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]model.SimulationRun, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var runs []model.SimulationRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

const metricsColumns = `run_id, total_tasks, completed_tasks, failed_tasks, avg_completion_time_ms,
	throughput, avg_battery_usage, ai_decisions_count, avg_ai_latency_ms, efficiency_score`

func scanMetrics(row scanner) (model.Metrics, error) {
	var m model.Metrics
	err := row.Scan(&m.RunID, &m.TotalTasks, &m.CompletedTasks, &m.FailedTasks,
		&m.AvgCompletionTimeMs, &m.Throughput, &m.AvgBatteryUsage,
		&m.AIDecisionsCount, &m.AvgAILatencyMs, &m.EfficiencyScore)
	return m, err
}

// UpsertMetrics writes the metrics row for a run, replacing any previous one.
func (s *Store) UpsertMetrics(ctx context.Context, m model.Metrics) error {
	return upsertMetrics(ctx, s.db, m)
}

func upsertMetrics(ctx context.Context, q querier, m model.Metrics) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO metrics (`+metricsColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id) DO UPDATE SET
		   total_tasks = excluded.total_tasks,
		   completed_tasks = excluded.completed_tasks,
		   failed_tasks = excluded.failed_tasks,
		   avg_completion_time_ms = excluded.avg_completion_time_ms,
		   throughput = excluded.throughput,
		   avg_battery_usage = excluded.avg_battery_usage,
		   ai_decisions_count = excluded.ai_decisions_count,
		   avg_ai_latency_ms = excluded.avg_ai_latency_ms,
		   efficiency_score = excluded.efficiency_score`,
		m.RunID, m.TotalTasks, m.CompletedTasks, m.FailedTasks, m.AvgCompletionTimeMs,
		m.Throughput, m.AvgBatteryUsage, m.AIDecisionsCount, m.AvgAILatencyMs, m.EfficiencyScore,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert metrics: %w", err)
	}
	return nil
}

// GetMetrics returns the metrics of a run, or nil if none were recorded.
func (s *Store) GetMetrics(ctx context.Context, runID uuid.UUID) (*model.Metrics, error) {
	m, err := scanMetrics(s.db.QueryRowContext(ctx,
		`SELECT `+metricsColumns+` FROM metrics WHERE run_id = ?`, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: get metrics: %w", err)
	}
	return &m, nil
}

const joinedMetricsColumns = `m.run_id, m.total_tasks, m.completed_tasks, m.failed_tasks, m.avg_completion_time_ms,
	m.throughput, m.avg_battery_usage, m.ai_decisions_count, m.avg_ai_latency_ms, m.efficiency_score`

// PreviousRunMetrics returns the metrics of the closest earlier run in the
// scenario that has metrics, or nil.
func (s *Store) PreviousRunMetrics(ctx context.Context, scenarioID string, runNumber int) (*model.Metrics, error) {
	m, err := scanMetrics(s.db.QueryRowContext(ctx,
		`SELECT `+joinedMetricsColumns+`
		 FROM metrics m JOIN simulation_runs r ON r.id = m.run_id
		 WHERE r.scenario_id = ? AND r.run_number < ?
		 ORDER BY r.run_number DESC LIMIT 1`,
		scenarioID, runNumber,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: previous run metrics: %w", err)
	}
	return &m, nil
}

// ListRecentMetrics returns up to limit metrics rows, newest run first.
func (s *Store) ListRecentMetrics(ctx context.Context, scenarioID string, limit int) ([]model.Metrics, error) {
	query := `SELECT ` + joinedMetricsColumns + ` FROM metrics m JOIN simulation_runs r ON r.id = m.run_id`
	var args []any
	if scenarioID != "" {
		query += ` WHERE r.scenario_id = ?`
		args = append(args, scenarioID)
	}
	query += ` ORDER BY r.started_at DESC, r.rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list recent metrics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Metrics
	for rows.Next() {
		m, err := scanMetrics(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan metrics: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const decisionColumns = `id, run_id, decision_type, input_state, decision_output, confidence, latency_ms, created_at`

// CreateDecision appends an audit decision.
func (s *Store) CreateDecision(ctx context.Context, d model.AIDecision) (model.AIDecision, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	d.CreatedAt = d.CreatedAt.UTC()
	if d.InputState == nil {
		d.InputState = map[string]any{}
	}
	if d.Output == nil {
		d.Output = map[string]any{}
	}
	input, err := json.Marshal(d.InputState)
	if err != nil {
		return model.AIDecision{}, fmt.Errorf("sqlite: encode input state: %w", err)
	}
	output, err := json.Marshal(d.Output)
	if err != nil {
		return model.AIDecision{}, fmt.Errorf("sqlite: encode decision output: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_decisions (`+decisionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.RunID, string(d.DecisionType), string(input), string(output),
		d.Confidence, d.LatencyMs, formatTime(d.CreatedAt),
	); err != nil {
		return model.AIDecision{}, fmt.Errorf("sqlite: create decision: %w", err)
	}
	return d, nil
}

// ListDecisions returns up to limit decisions, newest first.
func (s *Store) ListDecisions(ctx context.Context, runID *uuid.UUID, limit int) ([]model.AIDecision, error) {
	query := `SELECT ` + decisionColumns + ` FROM ai_decisions`
	var args []any
	if runID != nil {
		query += ` WHERE run_id = ?`
		args = append(args, *runID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.AIDecision
	for rows.Next() {
		var (
			d             model.AIDecision
			run           uuid.NullUUID
			input, output string
			created       string
		)
		if err := rows.Scan(&d.ID, &run, &d.DecisionType, &input, &output,
			&d.Confidence, &d.LatencyMs, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan decision: %w", err)
		}
		if run.Valid {
			d.RunID = &run.UUID
		}
		if err := json.Unmarshal([]byte(input), &d.InputState); err != nil {
			return nil, fmt.Errorf("sqlite: decode input state: %w", err)
		}
		if err := json.Unmarshal([]byte(output), &d.Output); err != nil {
			return nil, fmt.Errorf("sqlite: decode decision output: %w", err)
		}
		if d.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("sqlite: parse created_at: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
