package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Notifier forwards an alert to an external sink.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
	// Enabled reports whether alerts actually leave the process.
	Enabled() bool
}

// NoopNotifier drops every alert.
type NoopNotifier struct{}

// Notify does nothing.
func (NoopNotifier) Notify(context.Context, Alert) error { return nil }

// Enabled returns false.
func (NoopNotifier) Enabled() bool { return false }

// Embed colors by level.
var levelColors = map[Level]int{
	LevelCritical: 0xFF0000,
	LevelWarning:  0xFFA500,
	LevelInfo:     0x3B82F6,
}

// WebhookNotifier posts alerts as Discord-compatible embeds.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

// NewWebhookNotifier creates a notifier posting to url. Every request is
// bounded by timeout.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// NewNotifier returns a webhook notifier when url is set, otherwise a no-op.
func NewNotifier(url string, timeout time.Duration, logger *slog.Logger) Notifier {
	if url == "" {
		logger.Info("alerting: no webhook configured, alerts stay local")
		return NoopNotifier{}
	}
	logger.Info("alerting: forwarding alerts to webhook")
	return NewWebhookNotifier(url, timeout)
}

// Enabled returns true.
func (n *WebhookNotifier) Enabled() bool { return true }

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields"`
	Timestamp   string       `json:"timestamp"`
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

func buildPayload(a Alert) webhookPayload {
	color, ok := levelColors[a.Level]
	if !ok {
		color = levelColors[LevelInfo]
	}
	fields := make([]embedField, 0, len(a.Data))
	for _, k := range sortedKeys(a.Data) {
		fields = append(fields, embedField{Name: k, Value: a.Data[k], Inline: true})
	}
	return webhookPayload{Embeds: []embed{{
		Title:       "ARCC Alert: " + a.Title,
		Description: a.Message,
		Color:       color,
		Fields:      fields,
		Timestamp:   a.Timestamp.UTC().Format(time.RFC3339),
	}}}
}

// Notify posts the alert. Any non-2xx response is an error.
func (n *WebhookNotifier) Notify(ctx context.Context, a Alert) error {
	body, err := json.Marshal(buildPayload(a))
	if err != nil {
		return fmt.Errorf("alerting: marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alerting: create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("alerting: webhook request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alerting: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
