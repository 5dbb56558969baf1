package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"podindex/internal/config"
)

const userAgent = "podindex/0.1.0"

// Service is the notification surface used by the workflow and CLI.
type Service interface {
	NotifyPermanentFailure(ctx context.Context, episodeTitle, stage, message string) error
	NotifyPassCompleted(ctx context.Context, completed, failed int, duration time.Duration) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy-backed service, or a no-op one when
// notifications.ntfy_topic is empty.
func NewService(cfg config.Notifications) Service {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyPermanentFailure(ctx context.Context, episodeTitle, stage, message string) error {
	episodeTitle = strings.TrimSpace(episodeTitle)
	if episodeTitle == "" {
		episodeTitle = "untitled episode"
	}
	body := fmt.Sprintf("%s failed permanently at %s", episodeTitle, stage)
	if message = strings.TrimSpace(message); message != "" {
		body += "\n" + message
	}
	return n.send(ctx, payload{
		title:    "podindex - Stage Failed",
		message:  body,
		tags:     []string{"podindex", stage, "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyPassCompleted(ctx context.Context, completed, failed int, duration time.Duration) error {
	duration = max(duration.Round(time.Second), 0)

	title := "podindex - Pass Complete"
	message := fmt.Sprintf("Pipeline pass complete: %d stage(s) completed in %s", completed, duration)
	if failed > 0 {
		title = "podindex - Pass Complete (with failures)"
		message = fmt.Sprintf("Pipeline pass complete: %d completed, %d permanently failed in %s", completed, failed, duration)
	}
	return n.send(ctx, payload{
		title:   title,
		message: message,
		tags:    []string{"podindex", "pass", "completed"},
	})
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" during ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	return n.send(ctx, payload{
		title:    "podindex - Error",
		message:  builder.String(),
		tags:     []string{"podindex", "error"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "podindex - Test",
		message:  "Notification system test",
		tags:     []string{"podindex", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
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

func (noopService) NotifyPermanentFailure(context.Context, string, string, string) error { return nil }
func (noopService) NotifyPassCompleted(context.Context, int, int, time.Duration) error   { return nil }
func (noopService) NotifyError(context.Context, error, string) error                     { return nil }
func (noopService) TestNotification(context.Context) error                               { return nil }
