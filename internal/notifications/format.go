package notifications

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// Label title-cases a phase, step, or topic name for display.
func Label(name string) string {
	name = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(name))
	return titleCaser.String(name)
}

func format(event Event, p Payload) (payload, error) {
	topic := p.String("topic")
	jobID := shortID(p.String("job_id"))

	switch event {
	case EventJobStarted:
		return payload{
			title:   "Reelsmith - Job Started",
			message: fmt.Sprintf("🎬 Started: %s (job %s)", Label(topic), jobID),
			tags:    []string{"reelsmith", "job", "started"},
		}, nil
	case EventJobCompleted:
		message := fmt.Sprintf("✅ Finished: %s (job %s)", Label(topic), jobID)
		if d, ok := p["duration"].(time.Duration); ok && d > 0 {
			message += " in " + d.Round(time.Second).String()
		}
		if out := p.String("output_dir"); out != "" {
			message += "\nOutput: " + out
		}
		return payload{
			title:    "Reelsmith - Job Complete",
			message:  message,
			tags:     []string{"reelsmith", "job", "completed"},
			priority: "high",
		}, nil
	case EventJobFailed:
		var builder strings.Builder
		builder.WriteString("❌ Failed: ")
		builder.WriteString(Label(topic))
		if step := p.String("step"); step != "" {
			builder.WriteString(" at step ")
			builder.WriteString(step)
		}
		builder.WriteString(": ")
		if err, ok := p["error"].(error); ok && err != nil {
			builder.WriteString(strings.TrimSpace(err.Error()))
		} else if msg := p.String("error"); msg != "" {
			builder.WriteString(msg)
		} else {
			builder.WriteString("unknown")
		}
		return payload{
			title:    "Reelsmith - Job Failed",
			message:  builder.String(),
			tags:     []string{"reelsmith", "job", "error"},
			priority: "high",
		}, nil
	case EventMessage:
		message := p.String("message")
		if message == "" {
			return payload{}, fmt.Errorf("notification message is required")
		}
		title := p.String("title")
		if title == "" {
			title = "Reelsmith"
		}
		tags := []string{"reelsmith"}
		if tag := p.String("tag"); tag != "" {
			tags = append(tags, tag)
		}
		return payload{title: title, message: message, tags: tags, priority: p.String("priority")}, nil
	case EventTest:
		return payload{
			title:    "Reelsmith - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"reelsmith", "test"},
			priority: "low",
		}, nil
	default:
		return payload{}, fmt.Errorf("unknown notification event %q", event)
	}
}

// String returns the string value of key, formatting non-string values.
func (p Payload) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
