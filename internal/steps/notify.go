package steps

import (
	"context"
	"log/slog"
	"strings"

	"reelsmith/internal/logging"
	"reelsmith/internal/notifications"
	"reelsmith/internal/pipeline"
	"reelsmith/internal/services"
)

// NotifySpec declares a notification step. Title and Message are templates.
type NotifySpec struct {
	Name    string
	Title   string
	Message string
	Tag     string
	// Required makes delivery failures fail the step.
	Required bool
}

// NotifyStep publishes a custom notification.
type NotifyStep struct {
	spec     NotifySpec
	notifier notifications.Service
	logger   *slog.Logger
}

// NewNotifyStep builds a notify step.
func NewNotifyStep(spec NotifySpec, notifier notifications.Service, logger *slog.Logger) (*NotifyStep, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return nil, services.Wrap(services.ErrValidation, "", "build step", "step name is required", nil)
	}
	if strings.TrimSpace(spec.Message) == "" {
		return nil, services.Wrap(services.ErrValidation, spec.Name, "build step", "notification message is required", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &NotifyStep{spec: spec, notifier: notifier, logger: logger}, nil
}

// Name implements pipeline.Step.
func (s *NotifyStep) Name() string { return s.spec.Name }

// Run implements pipeline.Step. The patch records whether delivery succeeded.
func (s *NotifyStep) Run(ctx context.Context, snap pipeline.Snapshot) (*pipeline.Patch, error) {
	title, err := render(s.spec.Name, s.spec.Title, snap)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, s.spec.Name, "render title", "", err)
	}
	message, err := render(s.spec.Name, s.spec.Message, snap)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, s.spec.Name, "render message", "", err)
	}

	patch := pipeline.NewPatch()
	delivered := true
	if s.notifier != nil {
		err = s.notifier.Publish(ctx, notifications.EventMessage, notifications.Payload{
			"title":   title,
			"message": message,
			"tag":     s.spec.Tag,
		})
		if err != nil {
			if s.spec.Required {
				return nil, services.Wrap(services.ErrExternalTool, s.spec.Name, "publish notification", "", err)
			}
			delivered = false
			logging.WarnWithContext(logging.WithContext(ctx, s.logger), "notification delivery failed", "notification_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the ntfy topic and network access"),
				logging.String(logging.FieldImpact, "the job continues without this notification"),
			)
		}
	}
	patch.SetBool(s.spec.Name+".delivered", delivered)
	patch.SetString(s.spec.Name+".message", message)
	return patch, nil
}
