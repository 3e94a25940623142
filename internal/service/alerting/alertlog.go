package alerting

import (
	"sync"
	"time"
)

// Level is an alert severity.
type Level string

const (
	LevelCritical Level = "critical"
	LevelWarning  Level = "warning"
	LevelInfo     Level = "info"
)

// Alert is one fleet health finding.
type Alert struct {
	Level     Level             `json:"level"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	// Sent reports whether the alert was forwarded to a notification sink.
	Sent          bool   `json:"sent"`
	DeliveryError string `json:"delivery_error,omitempty"`
}

// DefaultLogCapacity is the number of alerts an AlertLog keeps.
const DefaultLogCapacity = 50

// DefaultRecent is how many alerts Recent returns by default.
const DefaultRecent = 20

// AlertLog is a bounded in-memory alert history. When full, the oldest alert
// is dropped. Safe for concurrent use.
type AlertLog struct {
	mu    sync.Mutex
	buf   []Alert
	start int // index of the oldest alert
	n     int
}

// NewAlertLog creates a log holding at most capacity alerts.
func NewAlertLog(capacity int) *AlertLog {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &AlertLog{buf: make([]Alert, capacity)}
}

// Append adds an alert, evicting the oldest one when full.
func (l *AlertLog) Append(a Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.n < len(l.buf) {
		l.buf[(l.start+l.n)%len(l.buf)] = a
		l.n++
		return
	}
	l.buf[l.start] = a
	l.start = (l.start + 1) % len(l.buf)
}

// Recent returns up to limit alerts, newest first.
func (l *AlertLog) Recent(limit int) []Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > l.n {
		limit = l.n
	}
	out := make([]Alert, 0, limit)
	for i := l.n - 1; i >= l.n-limit; i-- {
		out = append(out, l.buf[(l.start+i)%len(l.buf)])
	}
	return out
}

// Len returns the number of alerts held.
func (l *AlertLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}
