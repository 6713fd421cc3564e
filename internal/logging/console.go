package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler renders one line per record:
//
//	2026-01-02T15:04:05Z INFO executor: step completed [job=123e4567 step=narration] duration=1.2s
//
// The component attribute becomes the prefix and job/phase/step are lifted
// into a bracketed subject. Grouped keys are flattened with dots.
type consoleHandler struct {
	out    *syncWriter
	level  slog.Leveler
	source bool
	prefix string
	preset []field
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(p)
	return err
}

type field struct {
	key   string
	value slog.Value
}

func newConsoleHandler(w io.Writer, level slog.Leveler, source bool) *consoleHandler {
	return &consoleHandler{out: &syncWriter{w: w}, level: level, source: source}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	next.preset = appendFields(append([]field(nil), h.preset...), h.prefix, attrs)
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	fields := make([]field, len(h.preset), len(h.preset)+record.NumAttrs())
	copy(fields, h.preset)
	record.Attrs(func(a slog.Attr) bool {
		fields = appendFields(fields, h.prefix, []slog.Attr{a})
		return true
	})

	var component, jobID, phase, step string
	extra := fields[:0]
	for _, f := range fields {
		switch f.key {
		case FieldComponent:
			if component == "" {
				component = plain(f.value)
			}
		case FieldJobID:
			jobID = plain(f.value)
		case FieldPhase:
			phase = plain(f.value)
		case FieldStep:
			step = plain(f.value)
		default:
			extra = append(extra, f)
		}
	}

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var b strings.Builder
	b.WriteString(ts.UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(levelName(record.Level))
	b.WriteByte(' ')
	if component != "" {
		b.WriteString(component + ": ")
	}
	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}
	b.WriteString(msg)

	if subject := subjectOf(jobID, phase, step); subject != "" {
		b.WriteString(" [" + subject + "]")
	}
	if h.source && record.PC != 0 {
		if src := record.Source(); src != nil && src.File != "" {
			fmt.Fprintf(&b, " (%s:%d)", filepath.Base(src.File), src.Line)
		}
	}
	for _, f := range extra {
		b.WriteString(" " + f.key + "=" + quoted(f.value))
	}
	b.WriteByte('\n')
	return h.out.write([]byte(b.String()))
}

// appendFields flattens attrs under prefix, expanding groups and dropping
// empty attributes.
func appendFields(dst []field, prefix string, attrs []slog.Attr) []field {
	for _, a := range attrs {
		a.Value = a.Value.Resolve()
		if a.Equal(slog.Attr{}) {
			continue
		}
		if a.Value.Kind() == slog.KindGroup {
			inner := prefix
			if a.Key != "" {
				inner = prefix + a.Key + "."
			}
			dst = appendFields(dst, inner, a.Value.Group())
			continue
		}
		dst = append(dst, field{key: prefix + a.Key, value: a.Value})
	}
	return dst
}

func subjectOf(jobID, phase, step string) string {
	var parts []string
	if jobID != "" {
		parts = append(parts, "job="+shortID(jobID))
	}
	if phase != "" {
		parts = append(parts, "phase="+phase)
	}
	if step != "" {
		parts = append(parts, "step="+step)
	}
	return strings.Join(parts, " ")
}

// shortID trims uuid-shaped job identifiers for console display.
func shortID(id string) string {
	if len(id) == 36 && strings.Count(id, "-") == 4 {
		return id[:8]
	}
	return id
}

// plain renders v without quoting.
func plain(v slog.Value) string {
	switch v.Kind() {
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

// quoted renders v, quoting strings that would break key=value parsing.
func quoted(v slog.Value) string {
	s := plain(v)
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
