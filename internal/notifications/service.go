package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"folio/internal/config"
)

const userAgent = "Folio/0.1.0"

// Event identifies a notifiable moment in the digitization lifecycle.
type Event string

const (
	EventJobCompleted   Event = "job_completed"
	EventJobFailed      Event = "job_failed"
	EventBatchSaved     Event = "batch_saved"
	EventSweepCompleted Event = "sweep_completed"
	EventError          Event = "error"
	EventTest           Event = "test"
)

// Payload carries the formatting fields for one event.
type Payload map[string]string

// Service publishes lifecycle events to the configured notification channel.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	enabled := map[Event]bool{
		EventJobCompleted:   cfg.Notifications.JobComplete,
		EventJobFailed:      cfg.Notifications.JobFailed,
		EventBatchSaved:     cfg.Notifications.JobComplete,
		EventSweepCompleted: cfg.Notifications.Sweep,
		EventError:          true,
		EventTest:           true,
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled:  enabled,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

// Publish formats and sends one event. Events disabled by configuration are
// silently dropped.
func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := formatEvent(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func formatEvent(event Event, payload Payload) (message, bool) {
	get := func(key string) string {
		return strings.TrimSpace(payload[key])
	}

	switch event {
	case EventJobCompleted:
		body := fmt.Sprintf("✅ Job #%s complete: %s", get("job"), get("book"))
		if failed := get("failed"); failed != "" && failed != "0" {
			body = fmt.Sprintf("%s (%s pages failed)", body, failed)
		}
		return message{
			title: "Folio - Job Complete",
			body:  body,
			tags:  []string{"folio", "job", "completed"},
		}, true
	case EventJobFailed:
		reason := get("error")
		if reason == "" {
			reason = "unknown"
		}
		return message{
			title:    "Folio - Job Failed",
			body:     fmt.Sprintf("❌ Job #%s failed: %s", get("job"), reason),
			tags:     []string{"folio", "job", "failed"},
			priority: "high",
		}, true
	case EventBatchSaved:
		return message{
			title: "Folio - Batch Saved",
			body:  fmt.Sprintf("📦 Batch results saved for job #%s: %s pages", get("job"), get("saved")),
			tags:  []string{"folio", "batch", "saved"},
		}, true
	case EventSweepCompleted:
		return message{
			title: "Folio - Sweep Complete",
			body:  fmt.Sprintf("🧹 Swept %s jobs (%s orphaned, %s expired)", get("archived"), get("orphaned"), get("expired")),
			tags:  []string{"folio", "sweep", "completed"},
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if label := get("context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if reason := get("error"); reason != "" {
			builder.WriteString(reason)
		} else {
			builder.WriteString("unknown")
		}
		return message{
			title:    "Folio - Error",
			body:     builder.String(),
			tags:     []string{"folio", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Folio - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"folio", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
