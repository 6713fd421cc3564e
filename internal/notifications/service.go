package notifications

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"reelsmith/internal/config"
	"reelsmith/internal/logging"
	"reelsmith/internal/retry"
)

const userAgent = "reelsmith/0.1.0"

// Event names a notification kind.
type Event string

const (
	EventJobStarted   Event = "job_started"
	EventJobCompleted Event = "job_completed"
	EventJobFailed    Event = "job_failed"
	EventMessage      Event = "message"
	EventTest         Event = "test"
)

// Payload carries event fields. Recognized keys depend on the event; see format.
type Payload map[string]any

// Service publishes job lifecycle notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// Option customizes the ntfy service.
type Option func(*ntfyService)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(n *ntfyService) {
		if client != nil {
			n.client = client
		}
	}
}

// WithRetryPolicy overrides the delivery retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(n *ntfyService) { n.policy = p }
}

// WithLogger routes delivery retries to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *ntfyService) { n.logger = logger }
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config, opts ...Option) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	svc := &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		policy:   retry.FromConfig(cfg.RetryPolicy(config.DefaultRetryPolicyName)),
		enabled: map[Event]bool{
			EventJobStarted:   cfg.Notifications.JobStarted,
			EventJobCompleted: cfg.Notifications.JobCompleted,
			EventJobFailed:    cfg.Notifications.Errors,
			EventMessage:      true,
			EventTest:         true,
		},
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger != nil {
		svc.policy = retry.Logged(svc.policy, logging.NewComponentLogger(svc.logger, "notifications"), "notifications")
	}
	return svc
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
	policy   retry.Policy
	logger   *slog.Logger
	enabled  map[Event]bool
}

// Publish formats and sends event unless it is disabled in config.
func (n *ntfyService) Publish(ctx context.Context, event Event, p Payload) error {
	if !n.enabled[event] {
		return nil
	}
	data, err := format(event, p)
	if err != nil {
		return err
	}
	return retry.Execute(ctx, n.policy, func(ctx context.Context) error {
		return n.send(ctx, data)
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

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
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return retry.NewHTTPStatusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
