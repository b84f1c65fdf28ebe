package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/forgewatch/forgewatch/pkg/types"
	"github.com/forgewatch/forgewatch/server/internal/config"
)

// Webhooks is a Notifier that posts alerts to the configured targets.
// Errors are logged and never reach the caller.
type Webhooks struct {
	targets []config.WebhookConfig
	client  *http.Client
}

// NewWebhooks returns a Notifier for targets. Targets whose URL resolves empty
// are skipped at delivery time.
func NewWebhooks(targets []config.WebhookConfig) *Webhooks {
	return &Webhooks{
		targets: targets,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify delivers a to every target.
func (w *Webhooks) Notify(a types.Alert) {
	for _, wh := range w.targets {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = w.sendSlack(url, a)
		case "teams":
			err = w.sendTeams(url, a)
		case "http":
			err = w.sendHTTP(url, a)
		default:
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"alert", a.ID,
				"err", err,
			)
		} else {
			slog.Debug("alerts: webhook delivered",
				"type", wh.Type,
				"alert", a.ID,
			)
		}
	}
}

func (w *Webhooks) sendSlack(url string, a types.Alert) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s: %s", severityLabel(a.Severity), a.MachineName, a.Message),
	})
	return w.post(url, body)
}

func (w *Webhooks) sendTeams(url string, a types.Alert) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a.Severity),
		"summary":    a.ID,
		"title":      fmt.Sprintf("Forgewatch alert: %s on %s", a.Type, a.MachineName),
		"text":       a.Message,
	}
	body, _ := json.Marshal(payload)
	return w.post(url, body)
}

func (w *Webhooks) sendHTTP(url string, a types.Alert) error {
	body, _ := json.Marshal(map[string]interface{}{"alert": a})
	return w.post(url, body)
}

func (w *Webhooks) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s types.Severity) string {
	switch s {
	case types.SeverityCritical:
		return "[CRITICAL]"
	case types.SeverityWarning:
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s types.Severity) string {
	switch s {
	case types.SeverityCritical:
		return "FF4F6A"
	case types.SeverityWarning:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
