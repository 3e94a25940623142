// Package alerting scans fleet health on demand, keeps a bounded history of
// the alerts it raises and forwards each one to an optional notification
// sink. Forwarding is best-effort: a failed delivery is logged and recorded
// on the alert, never returned.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/model"
	"github.com/let-the-dreamers-rise/autonomous-robotics-command-center/internal/storage"
)

// Health thresholds.
const (
	CriticalBattery      = 15.0
	WarningBattery       = 30.0
	FailedTaskWindow     = time.Hour
	FailedTaskAlertAbove = 3
)

// Monitor raises fleet health alerts.
type Monitor struct {
	store    storage.Store
	log      *AlertLog
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewMonitor creates a Monitor writing into log. A nil notifier drops alerts
// after logging them locally.
func NewMonitor(store storage.Store, log *AlertLog, notifier Notifier, logger *slog.Logger) *Monitor {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Monitor{store: store, log: log, notifier: notifier, logger: logger, now: time.Now}
}

// CheckFleetHealth scans every robot and the recent task failure count and
// returns the alerts raised by this scan.
func (m *Monitor) CheckFleetHealth(ctx context.Context) ([]Alert, error) {
	robots, err := m.store.ListRobots(ctx, storage.RobotFilter{})
	if err != nil {
		return nil, fmt.Errorf("alerting: list robots: %w", err)
	}
	now := m.now()
	failed, err := m.store.CountFailedTasksSince(ctx, now.Add(-FailedTaskWindow))
	if err != nil {
		return nil, fmt.Errorf("alerting: count failed tasks: %w", err)
	}

	var alerts []Alert
	for _, r := range robots {
		alerts = append(alerts, robotAlerts(r)...)
	}
	if failed > FailedTaskAlertAbove {
		alerts = append(alerts, Alert{
			Level:   LevelWarning,
			Title:   "High Task Failure Rate",
			Message: fmt.Sprintf("%d tasks failed in the last hour", failed),
			Data:    map[string]string{"failed_count": fmt.Sprint(failed)},
		})
	}

	for i := range alerts {
		alerts[i].Timestamp = now.UTC()
		m.send(ctx, &alerts[i])
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	return alerts, nil
}

// Recent returns the latest DefaultRecent alerts, newest first.
func (m *Monitor) Recent() []Alert {
	return m.log.Recent(DefaultRecent)
}

func robotAlerts(r model.Robot) []Alert {
	var out []Alert
	battery := fmt.Sprintf("%.0f%%", r.BatteryLevel)
	switch {
	case r.BatteryLevel < CriticalBattery:
		out = append(out, Alert{
			Level:   LevelCritical,
			Title:   "Critical Battery",
			Message: fmt.Sprintf("%s battery at %s, immediate charging required", r.Name, battery),
			Data:    map[string]string{"robot": r.Name, "battery": battery},
		})
	case r.BatteryLevel < WarningBattery:
		out = append(out, Alert{
			Level:   LevelWarning,
			Title:   "Low Battery",
			Message: fmt.Sprintf("%s battery at %s", r.Name, battery),
			Data:    map[string]string{"robot": r.Name, "battery": battery},
		})
	}
	if r.Status == model.RobotOffline {
		out = append(out, Alert{
			Level:   LevelCritical,
			Title:   "Robot Offline",
			Message: fmt.Sprintf("%s is offline, tasks may need reassignment", r.Name),
			Data:    map[string]string{"robot": r.Name, "last_seen": r.LastSeen.UTC().Format(time.RFC3339)},
		})
	}
	return out
}

// send forwards the alert and appends it to the log with the delivery
// outcome.
func (m *Monitor) send(ctx context.Context, a *Alert) {
	if m.notifier.Enabled() {
		if err := m.notifier.Notify(ctx, *a); err != nil {
			m.logger.Warn("alerting: forward failed", "title", a.Title, "error", err)
			a.DeliveryError = err.Error()
		} else {
			a.Sent = true
		}
	}
	m.log.Append(*a)
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
