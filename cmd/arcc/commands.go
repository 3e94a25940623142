package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	arcc "github.com/let-the-dreamers-rise/autonomous-robotics-command-center"
)

// cli carries the state shared by every subcommand.
type cli struct {
	out    io.Writer
	logger *slog.Logger
	app    *arcc.App

	sqlitePath  string
	databaseURL string
	seed        uint64
}

func newRootCmd(out io.Writer, logger *slog.Logger) *cobra.Command {
	c := &cli{out: out, logger: logger}

	root := &cobra.Command{
		Use:           "arcc",
		Short:         "Fleet task assignment and adaptive strategy engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.sqlitePath, "sqlite", "", "SQLite database file (overrides ARCC_STORE)")
	root.PersistentFlags().StringVar(&c.databaseURL, "database-url", "", "Postgres URL (overrides ARCC_STORE)")
	root.PersistentFlags().Uint64Var(&c.seed, "seed", 0, "seed for scenario randomness (0 = random)")

	root.AddCommand(
		c.robotCmd(),
		c.runCmd(),
		c.taskCmd(),
		c.oracleCmd(),
		c.scenarioCmd(),
		c.leafCmd("optimize", "Bind pending tasks to the nearest eligible robots", cobra.NoArgs,
			func(cmd *cobra.Command, _ []string) (any, error) { return c.app.AutoOptimize(cmd.Context()) }),
		c.leafCmd("improve <scenario-id>", "Propose the next strategy from a scenario's run history", cobra.ExactArgs(1),
			func(cmd *cobra.Command, args []string) (any, error) {
				return c.app.ImproveStrategy(cmd.Context(), args[0])
			}),
		c.leafCmd("health", "Scan fleet health and print the alerts raised", cobra.NoArgs,
			func(cmd *cobra.Command, _ []string) (any, error) { return c.app.CheckFleetHealth(cmd.Context()) }),
		c.decisionsCmd(),
		c.metricsCmd(),
		c.demoCmd(),
	)
	return root
}

// open builds the App for one invocation.
func (c *cli) open(cmd *cobra.Command) error {
	opts := []arcc.Option{arcc.WithLogger(c.logger), arcc.WithVersion(version)}
	if c.databaseURL != "" {
		opts = append(opts, arcc.WithDatabaseURL(c.databaseURL))
	}
	if c.sqlitePath != "" {
		opts = append(opts, arcc.WithSQLitePath(c.sqlitePath))
	}
	if c.seed != 0 {
		opts = append(opts, arcc.WithRandSeed(c.seed))
	}
	app, err := arcc.New(cmd.Context(), opts...)
	if err != nil {
		return err
	}
	c.app = app
	return nil
}

// leafCmd wraps an operation: open the App, run fn, print its result, close.
func (c *cli) leafCmd(use, short string, args cobra.PositionalArgs, fn func(*cobra.Command, []string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, a []string) (err error) {
			if err := c.open(cmd); err != nil {
				return err
			}
			defer func() {
				if cerr := c.app.Close(cmd.Context()); cerr != nil && err == nil {
					err = cerr
				}
			}()
			v, err := fn(cmd, a)
			if err != nil {
				return err
			}
			return c.print(v)
		},
	}
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) robotCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "robot", Short: "Manage the fleet"}

	var (
		robotType string
		x, y      float64
		battery   float64
	)
	add := c.leafCmd("add <name>", "Register a robot", cobra.ExactArgs(1),
		func(cmd *cobra.Command, args []string) (any, error) {
			return c.app.RegisterRobot(cmd.Context(), arcc.Robot{
				Name:         args[0],
				Type:         robotType,
				Status:       arcc.RobotIdle,
				BatteryLevel: battery,
				Position:     arcc.Point{X: x, Y: y},
			})
		})
	add.Flags().StringVar(&robotType, "type", "delivery", "robot type")
	add.Flags().Float64Var(&x, "x", 0, "grid x position")
	add.Flags().Float64Var(&y, "y", 0, "grid y position")
	add.Flags().Float64Var(&battery, "battery", 100, "battery level, percent")

	list := c.leafCmd("list", "List the fleet", cobra.NoArgs,
		func(cmd *cobra.Command, _ []string) (any, error) { return c.app.ListRobots(cmd.Context()) })

	var (
		status     string
		newBattery float64
		newX, newY float64
	)
	update := c.leafCmd("update <robot-id>", "Change a robot's status, battery or position", cobra.ExactArgs(1),
		func(cmd *cobra.Command, args []string) (any, error) {
			id, err := parseID("robot", args[0])
			if err != nil {
				return nil, err
			}
			var u arcc.RobotUpdate
			flags := cmd.Flags()
			if flags.Changed("status") {
				st := arcc.RobotStatus(status)
				u.Status = &st
			}
			if flags.Changed("battery") {
				u.BatteryLevel = &newBattery
			}
			if flags.Changed("x") || flags.Changed("y") {
				robot, err := c.findRobot(cmd.Context(), id)
				if err != nil {
					return nil, err
				}
				pos := robot.Position
				if flags.Changed("x") {
					pos.X = newX
				}
				if flags.Changed("y") {
					pos.Y = newY
				}
				u.Position = &pos
			}
			return c.app.UpdateRobot(cmd.Context(), id, u)
		})
	update.Flags().StringVar(&status, "status", "", "idle, active, charging, offline or rerouting")
	update.Flags().Float64Var(&newBattery, "battery", 0, "battery level, percent")
	update.Flags().Float64Var(&newX, "x", 0, "grid x position")
	update.Flags().Float64Var(&newY, "y", 0, "grid y position")

	cmd.AddCommand(add, list, update)
	return cmd
}

func (c *cli) runCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "run", Short: "Start, stop and inspect simulation runs"}

	var strategyJSON string
	start := c.leafCmd("start <scenario-id>", "Start the next run of a scenario", cobra.ExactArgs(1),
		func(cmd *cobra.Command, args []string) (any, error) {
			var strategy *arcc.Strategy
			if strategyJSON != "" {
				strategy = &arcc.Strategy{}
				if err := json.Unmarshal([]byte(strategyJSON), strategy); err != nil {
					return nil, fmt.Errorf("%w: strategy: %v", arcc.ErrValidation, err)
				}
			}
			return c.app.StartRun(cmd.Context(), args[0], strategy)
		})
	start.Flags().StringVar(&strategyJSON, "strategy", "", "strategy as JSON (default: nearest-first, threshold 20)")

	var score float64
	stop := c.leafCmd("stop <run-id>", "Complete a run", cobra.ExactArgs(1),
		func(cmd *cobra.Command, args []string) (any, error) {
			id, err := parseID("run", args[0])
			if err != nil {
				return nil, err
			}
			var final *float64
			if cmd.Flags().Changed("score") {
				final = &score
			}
			return c.app.StopRun(cmd.Context(), id, final)
		})
	stop.Flags().Float64Var(&score, "score", 0, "final score (default: computed efficiency)")

	show := c.leafCmd("show <run-id>", "Show a run", cobra.ExactArgs(1),
		func(cmd *cobra.Command, args []string) (any, error) {
			id, err := parseID("run", args[0])
			if err != nil {
				return nil, err
			}
			return c.app.GetRun(cmd.Context(), id)
		})

	tasks := c.leafCmd("tasks <run-id>", "List a run's tasks", cobra.ExactArgs(1),
		func(cmd *cobra.Command, args []string) (any, error) {
			id, err := parseID("run", args[0])
			if err != nil {
				return nil, err
			}
			return c.app.ListTasks(cmd.Context(), id)
		})

	cmd.AddCommand(start, stop, show, tasks)
	return cmd
}

func (c *cli) taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Create tasks and move them through their lifecycle"}

	var (
		taskType       string
		priority       int
		ox, oy, dx, dy float64
	)
	create := c.leafCmd("create <run-id>", "Create a pending task", cobra.ExactArgs(1),
		func(cmd *cobra.Command, args []string) (any, error) {
			id, err := parseID("run", args[0])
			if err != nil {
				return nil, err
			}
			return c.app.CreateTask(cmd.Context(), arcc.NewTask{
				RunID:       id,
				Type:        taskType,
				Priority:    priority,
				Origin:      arcc.Point{X: ox, Y: oy},
				Destination: arcc.Point{X: dx, Y: dy},
			})
		})
	create.Flags().StringVar(&taskType, "type", "delivery", "task type")
	create.Flags().IntVar(&priority, "priority", 5, "priority, 1 to 10")
	create.Flags().Float64Var(&ox, "from-x", 0, "origin x")
	create.Flags().Float64Var(&oy, "from-y", 0, "origin y")
	create.Flags().Float64Var(&dx, "to-x", 0, "destination x")
	create.Flags().Float64Var(&dy, "to-y", 0, "destination y")

	assign := c.leafCmd("assign <task-id> <robot-id>", "Bind a pending task to a robot", cobra.ExactArgs(2),
		func(cmd *cobra.Command, args []string) (any, error) {
			taskID, err := parseID("task", args[0])
			if err != nil {
				return nil, err
			}
			robotID, err := parseID("robot", args[1])
			if err != nil {
				return nil, err
			}
			return c.app.AssignTask(cmd.Context(), taskID, robotID)
		})

	transition := func(use, short string, op func(*arcc.App) func(ctx context.Context, id uuid.UUID) (arcc.Task, error)) *cobra.Command {
		return c.leafCmd(use, short, cobra.ExactArgs(1),
			func(cmd *cobra.Command, args []string) (any, error) {
				id, err := parseID("task", args[0])
				if err != nil {
					return nil, err
				}
				return op(c.app)(cmd.Context(), id)
			})
	}

	cmd.AddCommand(create, assign,
		transition("start <task-id>", "Move an assigned task to working",
			func(a *arcc.App) func(context.Context, uuid.UUID) (arcc.Task, error) { return a.StartTask }),
		transition("complete <task-id>", "Complete a task and free its robot",
			func(a *arcc.App) func(context.Context, uuid.UUID) (arcc.Task, error) { return a.CompleteTask }),
		transition("fail <task-id>", "Fail a task and free its robot",
			func(a *arcc.App) func(context.Context, uuid.UUID) (arcc.Task, error) { return a.FailTask }),
	)
	return cmd
}

func (c *cli) oracleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "oracle", Short: "Ask the decision oracle"}

	byRun := func(use, short string, op func(*arcc.App) func(context.Context, uuid.UUID) (arcc.Decision, error)) *cobra.Command {
		return c.leafCmd(use, short, cobra.ExactArgs(1),
			func(cmd *cobra.Command, args []string) (any, error) {
				id, err := parseID("run", args[0])
				if err != nil {
					return nil, err
				}
				return op(c.app)(cmd.Context(), id)
			})
	}

	failure := c.leafCmd("failure <run-id> <kind>", "Ask for a response to a disruption", cobra.ExactArgs(2),
		func(cmd *cobra.Command, args []string) (any, error) {
			id, err := parseID("run", args[0])
			if err != nil {
				return nil, err
			}
			return c.app.HandleFailure(cmd.Context(), id, args[1])
		})

	scaling := c.leafCmd("scaling <scenario-id>", "Ask for fleet sizing advice", cobra.ExactArgs(1),
		func(cmd *cobra.Command, args []string) (any, error) {
			return c.app.RecommendScaling(cmd.Context(), args[0])
		})

	chat := c.leafCmd("chat <question>...", "Ask the fleet copilot a question", cobra.MinimumNArgs(1),
		func(cmd *cobra.Command, args []string) (any, error) {
			return c.app.Chat(cmd.Context(), strings.Join(args, " "))
		})

	cmd.AddCommand(
		byRun("optimize <run-id>", "Ask for a task-to-robot plan",
			func(a *arcc.App) func(context.Context, uuid.UUID) (arcc.Decision, error) { return a.OptimizeTasks }),
		byRun("analyze <run-id>", "Compare a run with the previous one",
			func(a *arcc.App) func(context.Context, uuid.UUID) (arcc.Decision, error) { return a.AnalyzeRun }),
		failure,
		scaling,
		chat,
	)
	return cmd
}

func (c *cli) scenarioCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "scenario", Short: "List and trigger disruption scenarios"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the scenario catalog",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return c.print(arcc.Scenarios())
		},
	}
	trigger := c.leafCmd("trigger <run-id> <kind>", "Apply a disruption to a run", cobra.ExactArgs(2),
		func(cmd *cobra.Command, args []string) (any, error) {
			id, err := parseID("run", args[0])
			if err != nil {
				return nil, err
			}
			return c.app.TriggerScenario(cmd.Context(), id, args[1])
		})

	cmd.AddCommand(list, trigger)
	return cmd
}

func (c *cli) decisionsCmd() *cobra.Command {
	var (
		runFlag string
		limit   int
	)
	cmd := c.leafCmd("decisions", "List recent audit decisions", cobra.NoArgs,
		func(cmd *cobra.Command, _ []string) (any, error) {
			var runID *uuid.UUID
			if runFlag != "" {
				id, err := parseID("run", runFlag)
				if err != nil {
					return nil, err
				}
				runID = &id
			}
			return c.app.ListDecisions(cmd.Context(), runID, limit)
		})
	cmd.Flags().StringVar(&runFlag, "run", "", "only decisions of this run")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum decisions to list")

	cmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Stream decisions as they are recorded (postgres store only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if err := c.open(cmd); err != nil {
				return err
			}
			defer func() {
				if cerr := c.app.Close(context.Background()); cerr != nil && err == nil {
					err = cerr
				}
			}()
			enc := json.NewEncoder(c.out)
			return c.app.WatchDecisions(cmd.Context(), func(ev arcc.DecisionEvent) error {
				return enc.Encode(ev)
			})
		},
	})
	return cmd
}

func (c *cli) metricsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "metrics", Short: "Collect and record run metrics"}

	collect := c.leafCmd("collect <run-id>", "Derive and store a run's metrics", cobra.ExactArgs(1),
		func(cmd *cobra.Command, args []string) (any, error) {
			id, err := parseID("run", args[0])
			if err != nil {
				return nil, err
			}
			return c.app.CollectMetrics(cmd.Context(), id)
		})

	record := c.leafCmd("record <run-id> <metrics-json>", "Store caller-supplied metrics", cobra.ExactArgs(2),
		func(cmd *cobra.Command, args []string) (any, error) {
			id, err := parseID("run", args[0])
			if err != nil {
				return nil, err
			}
			var m arcc.Metrics
			if err := json.Unmarshal([]byte(args[1]), &m); err != nil {
				return nil, fmt.Errorf("%w: metrics: %v", arcc.ErrValidation, err)
			}
			m.RunID = id
			if err := c.app.RecordMetrics(cmd.Context(), m); err != nil {
				return nil, err
			}
			return m, nil
		})

	cmd.AddCommand(collect, record)
	return cmd
}

func (c *cli) demoCmd() *cobra.Command {
	var n int
	cmd := c.leafCmd("demo <scenario-id>", "Generate completed runs on the registered fleet", cobra.ExactArgs(1),
		func(cmd *cobra.Command, args []string) (any, error) {
			if n < 1 {
				return nil, fmt.Errorf("%w: --runs must be at least 1", arcc.ErrValidation)
			}
			out := make([]arcc.DemoRun, 0, n)
			for range n {
				res, err := c.app.GenerateDemoRun(cmd.Context(), args[0])
				if err != nil {
					return nil, err
				}
				out = append(out, res)
			}
			return out, nil
		})
	cmd.Flags().IntVar(&n, "runs", 3, "number of runs to generate")
	return cmd
}

// findRobot looks a robot up in the fleet listing.
func (c *cli) findRobot(ctx context.Context, id uuid.UUID) (arcc.Robot, error) {
	robots, err := c.app.ListRobots(ctx)
	if err != nil {
		return arcc.Robot{}, err
	}
	for _, r := range robots {
		if r.ID == id {
			return r, nil
		}
	}
	return arcc.Robot{}, fmt.Errorf("%w: robot %s", arcc.ErrNotFound, id)
}

func parseID(what, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s id %q: %v", arcc.ErrValidation, what, s, err)
	}
	return id, nil
}
