package arcc

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all overrides after applying options.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	databaseURL string
	sqlitePath  string
	webhookURL  string
	logger      *slog.Logger
	version     string
	generator   Generator
	notifier    Notifier
	seed        *uint64
}

// WithDatabaseURL selects the Postgres store at url, overriding ARCC_STORE
// and DATABASE_URL.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath selects the embedded SQLite store at path, overriding
// ARCC_STORE and ARCC_SQLITE_PATH. It wins over WithDatabaseURL.
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithWebhookURL overrides DISCORD_WEBHOOK_URL for alert forwarding.
func WithWebhookURL(url string) Option {
	return func(o *resolvedOptions) { o.webhookURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithGenerator replaces the auto-detected external decision generator.
// Failures of g still fall back to the rule-based generator.
func WithGenerator(g Generator) Option {
	return func(o *resolvedOptions) { o.generator = g }
}

// WithNotifier replaces the webhook alert notifier.
func WithNotifier(n Notifier) Option {
	return func(o *resolvedOptions) { o.notifier = n }
}

// WithRandSeed seeds the disruption engine so scenario outcomes repeat.
func WithRandSeed(seed uint64) Option {
	return func(o *resolvedOptions) { o.seed = &seed }
}
