package logging

import (
	"log/slog"
	"time"
)

type Attr = slog.Attr

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

// Error attaches err under the "error" key. A nil error is still logged so
// the key is always present on failure lines.
func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "none")
	}
	return slog.Any("error", err)
}

// NewNop returns a logger that drops everything.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewComponentLogger tags logger with component. A nil logger becomes a no-op.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

var (
	warnGuidance = []Attr{
		String(FieldErrorHint, "see the surrounding log lines"),
		String(FieldImpact, "the job continues"),
	}
	errorGuidance = []Attr{
		String(FieldErrorHint, "see the surrounding log lines"),
	}
)

// WarnWithContext logs a warning that always carries event_type, error_hint,
// and impact. Fields missing from attrs are filled with generic values.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	logger.Warn(msg, withGuidance(attrs, eventType, warnGuidance)...)
}

// ErrorWithContext logs an error that always carries event_type and error_hint.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	logger.Error(msg, withGuidance(attrs, eventType, errorGuidance)...)
}

func withGuidance(attrs []Attr, eventType string, defaults []Attr) []any {
	present := make(map[string]bool, len(attrs))
	args := make([]any, 0, len(attrs)+len(defaults)+1)
	for _, a := range attrs {
		present[a.Key] = true
		args = append(args, a)
	}
	if !present[FieldEventType] {
		args = append(args, String(FieldEventType, eventType))
	}
	for _, d := range defaults {
		if !present[d.Key] {
			args = append(args, d)
		}
	}
	return args
}

func toArgs(attrs []Attr) []any {
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return args
}
