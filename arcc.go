// Package arcc is the public API of the fleet command center: a task
// assignment and adaptive-strategy engine for a simulated robot fleet.
//
// Callers construct an App and invoke its operations directly:
//
//	app, err := arcc.New(ctx,
//	    arcc.WithVersion(version),
//	    arcc.WithLogger(logger),
//	)
//	if err != nil { ... }
//	defer app.Close(ctx)
//	res, err := app.AutoOptimize(ctx)
//
// The import graph is one-way: arcc (root) imports internal/*, and
// internal/* never imports arcc. Public types are aliases of the internal
// model so values pass through without conversion.
package arcc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/config"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/ratelimit"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/service/alerting"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/service/assignment"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/service/demo"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/service/improve"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/service/oracle"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/service/runs"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/service/scenario"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage/sqlite"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/telemetry"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/migrations"
)

// App is the command center. Construct with New, release with Close.
// All operations are safe for concurrent use.
type App struct {
	cfg          config.Config
	store        storage.Store
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string

	adapter    *oracle.Adapter
	oracle     *oracle.Service
	assignment *assignment.Service
	scenarios  *scenario.Service
	improver   *improve.Service
	monitor    *alerting.Monitor
	runs       *runs.Service
	demo       *demo.Service
}

// New loads configuration from the environment, applies the options, opens
// the configured store and wires every service. It starts no goroutines.
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.databaseURL != "" {
		cfg.Store = config.StorePostgres
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.Store = config.StoreSQLite
		cfg.SQLitePath = o.sqlitePath
	}
	if o.webhookURL != "" {
		cfg.DiscordWebhookURL = o.webhookURL
	}

	logger.Info("arcc starting", "version", version, "store", cfg.Store)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	// Oracle: an injected generator wins over credential auto-detection.
	var primary oracle.Generator
	if o.generator != nil {
		primary = &generatorAdapter{g: o.generator}
	} else {
		primary = oracle.NewPrimary(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	}
	limiter := ratelimit.NewMemoryLimiter(cfg.OracleRPS, cfg.OracleBurst)
	adapter := oracle.NewAdapter(primary, oracle.RuleGenerator{MinBattery: cfg.MinBattery}, limiter, cfg.OracleTimeout, logger)
	oracleSvc := oracle.New(store, adapter, cfg.MinBattery, logger)

	var notifier alerting.Notifier
	if o.notifier != nil {
		notifier = &notifierAdapter{n: o.notifier}
	} else {
		notifier = alerting.NewNotifier(cfg.DiscordWebhookURL, cfg.NotifyTimeout, logger)
	}

	var rng, demoRng *rand.Rand
	if o.seed != nil {
		rng = rand.New(rand.NewPCG(*o.seed, *o.seed))
		demoRng = rand.New(rand.NewPCG(*o.seed, ^*o.seed))
	}
	runSvc := runs.New(store, cfg.MinBattery, logger)

	return &App{
		cfg:          cfg,
		store:        store,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
		adapter:      adapter,
		oracle:       oracleSvc,
		assignment:   assignment.New(store, cfg.MinBattery, logger),
		scenarios:    scenario.New(store, oracleSvc, rng, logger),
		improver:     improve.New(store, oracleSvc, logger),
		monitor:      alerting.NewMonitor(store, alerting.NewAlertLog(alerting.DefaultLogCapacity), notifier, logger),
		runs:         runSvc,
		demo:         demo.New(store, runSvc, demoRng, logger),
	}, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		db.RegisterPoolMetrics()
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close(context.Background())
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return db, nil
	default:
		s, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		return s, nil
	}
}

// Close releases the store and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	a.store.Close(ctx)
	var errs []error
	if err := a.limiter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("rate limiter: %w", err))
	}
	if err := a.otelShutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	a.logger.Info("arcc stopped")
	return errors.Join(errs...)
}

// Version returns the version string the App was built with.
func (a *App) Version() string { return a.version }

// ExternalOracle reports whether decisions are requested from an external
// generator before falling back to rules.
func (a *App) ExternalOracle() bool { return a.adapter.External() }

// OptimizeTasks asks the oracle for a task-to-robot plan for a run's pending
// tasks. The plan is advisory and recorded as an audit decision.
func (a *App) OptimizeTasks(ctx context.Context, runID uuid.UUID) (Decision, error) {
	return a.oracle.OptimizeTasks(ctx, runID)
}

// AnalyzeRun compares a run's metrics with the previous run of its scenario
// and stores the analysis on the run.
func (a *App) AnalyzeRun(ctx context.Context, runID uuid.UUID) (Decision, error) {
	return a.oracle.AnalyzeRun(ctx, runID)
}

// HandleFailure asks the oracle how to respond to a disruption. Catalog
// kinds carry their catalog description; any other kind is passed through
// as a free-form failure.
func (a *App) HandleFailure(ctx context.Context, runID uuid.UUID, kind string) (Decision, error) {
	description := kind
	if s, ok := scenario.Lookup(scenario.Kind(kind)); ok {
		description = s.Description()
	}
	return a.oracle.HandleFailure(ctx, runID, kind, description)
}

// RecommendScaling asks the oracle for fleet sizing advice from a scenario's
// recent metrics.
func (a *App) RecommendScaling(ctx context.Context, scenarioID string) (Decision, error) {
	return a.oracle.RecommendScaling(ctx, scenarioID)
}

// Chat answers an operator question from the live fleet state. The answer
// is recorded as an audit decision.
func (a *App) Chat(ctx context.Context, question string) (ChatReply, error) {
	return a.oracle.Chat(ctx, question)
}

// TriggerScenario applies a catalog disruption to a run.
func (a *App) TriggerScenario(ctx context.Context, runID uuid.UUID, kind string) (ScenarioOutcome, error) {
	return a.scenarios.TriggerScenario(ctx, runID, kind)
}

// ListScenarios returns the disruption catalog.
func (a *App) ListScenarios() []ScenarioInfo {
	return a.scenarios.ListScenarios()
}

// Scenarios returns the disruption catalog without opening a store.
func Scenarios() []ScenarioInfo {
	return scenario.Catalog()
}

// AutoOptimize binds pending tasks to the nearest eligible robots.
func (a *App) AutoOptimize(ctx context.Context) (AssignmentResult, error) {
	return a.assignment.AutoOptimize(ctx)
}

// ImproveStrategy proposes the next strategy for a scenario from its run
// history.
func (a *App) ImproveStrategy(ctx context.Context, scenarioID string) (ImprovementResult, error) {
	return a.improver.ImproveStrategy(ctx, scenarioID)
}

// CheckFleetHealth scans the fleet and returns the alerts raised.
func (a *App) CheckFleetHealth(ctx context.Context) ([]Alert, error) {
	return a.monitor.CheckFleetHealth(ctx)
}

// AlertLog returns the most recent alerts, newest first.
func (a *App) AlertLog() []Alert {
	return a.monitor.Recent()
}

// StartRun opens the next run of a scenario and resets the fleet. A nil
// strategy uses the default.
func (a *App) StartRun(ctx context.Context, scenarioID string, strategy *Strategy) (SimulationRun, error) {
	return a.runs.StartRun(ctx, scenarioID, strategy)
}

// StopRun completes a run. A nil finalScore records the computed efficiency.
func (a *App) StopRun(ctx context.Context, runID uuid.UUID, finalScore *float64) (SimulationRun, error) {
	return a.runs.StopRun(ctx, runID, finalScore)
}

// GetRun returns a run.
func (a *App) GetRun(ctx context.Context, runID uuid.UUID) (SimulationRun, error) {
	return a.runs.GetRun(ctx, runID)
}

// RegisterRobot adds a robot to the fleet.
func (a *App) RegisterRobot(ctx context.Context, r Robot) (Robot, error) {
	return a.runs.RegisterRobot(ctx, r)
}

// UpdateRobot changes a robot's status, battery level or position. Nil
// fields are kept; leaving working returns the robot's task to pending.
func (a *App) UpdateRobot(ctx context.Context, id uuid.UUID, u RobotUpdate) (Robot, error) {
	return a.runs.UpdateRobot(ctx, id, u)
}

// ListRobots returns the fleet.
func (a *App) ListRobots(ctx context.Context) ([]Robot, error) {
	return a.runs.ListRobots(ctx)
}

// CreateTask adds a pending task to a run.
func (a *App) CreateTask(ctx context.Context, nt NewTask) (Task, error) {
	return a.runs.CreateTask(ctx, nt)
}

// AssignTask binds a pending task to a specific robot.
func (a *App) AssignTask(ctx context.Context, taskID, robotID uuid.UUID) (Task, error) {
	return a.runs.AssignTask(ctx, taskID, robotID)
}

// StartTask moves an assigned task to working.
func (a *App) StartTask(ctx context.Context, taskID uuid.UUID) (Task, error) {
	return a.runs.StartTask(ctx, taskID)
}

// CompleteTask completes a task and frees its robot.
func (a *App) CompleteTask(ctx context.Context, taskID uuid.UUID) (Task, error) {
	return a.runs.CompleteTask(ctx, taskID)
}

// FailTask fails a task and frees its robot.
func (a *App) FailTask(ctx context.Context, taskID uuid.UUID) (Task, error) {
	return a.runs.FailTask(ctx, taskID)
}

// ListTasks returns a run's tasks.
func (a *App) ListTasks(ctx context.Context, runID uuid.UUID) ([]Task, error) {
	return a.runs.ListTasks(ctx, runID)
}

// RecordMetrics stores caller-supplied metrics for a run.
func (a *App) RecordMetrics(ctx context.Context, m Metrics) error {
	return a.runs.RecordMetrics(ctx, m)
}

// CollectMetrics derives and stores a running run's metrics, or returns a
// completed run's stored ones.
func (a *App) CollectMetrics(ctx context.Context, runID uuid.UUID) (Metrics, error) {
	return a.runs.CollectMetrics(ctx, runID)
}

// ListDecisions returns recent audit decisions, newest first. A nil runID
// lists every run.
func (a *App) ListDecisions(ctx context.Context, runID *uuid.UUID, limit int) ([]AIDecision, error) {
	return a.runs.ListDecisions(ctx, runID, limit)
}

// GenerateDemoRun plays and completes one run of a scenario on the
// registered fleet, so trends and analyses have history.
func (a *App) GenerateDemoRun(ctx context.Context, scenarioID string) (DemoRun, error) {
	return a.demo.GenerateRun(ctx, scenarioID)
}

// WatchDecisions calls fn for every audit decision recorded after the call
// starts, until ctx ends or fn returns an error. Only the Postgres store
// announces decisions; other stores report errors.ErrUnsupported.
func (a *App) WatchDecisions(ctx context.Context, fn func(DecisionEvent) error) error {
	db, ok := a.store.(*storage.DB)
	if !ok {
		return fmt.Errorf("watch decisions: postgres store required: %w", errors.ErrUnsupported)
	}
	l, err := db.ListenDecisions(ctx)
	if err != nil {
		return err
	}
	defer l.Close()
	for {
		ev, err := l.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

// generatorAdapter exposes a public Generator as an oracle generator.
type generatorAdapter struct {
	g Generator
}

func (a *generatorAdapter) Generate(ctx context.Context, req oracle.Request) (map[string]any, error) {
	return a.g.Generate(ctx, string(req.Kind), req.Prompt)
}

// notifierAdapter exposes a public Notifier as an alerting notifier.
type notifierAdapter struct {
	n Notifier
}

func (a *notifierAdapter) Notify(ctx context.Context, alert alerting.Alert) error {
	return a.n.Notify(ctx, alert)
}

func (a *notifierAdapter) Enabled() bool { return true }
