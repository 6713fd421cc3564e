package artifacts

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"
)

// Version is one immutable recorded instance of an artifact.
type Version struct {
	VersionID       string
	Path            string
	Type            string
	JobID           string
	Hash            string
	ParentVersionID string
	CreatedAt       time.Time
	Metadata        map[string]any
}

// Degraded reports that the source file was missing at registration time.
func (v Version) Degraded() bool {
	return v.Hash == ""
}

// ShortHash returns the first 12 hex characters of the content hash.
func (v Version) ShortHash() string {
	if len(v.Hash) <= 12 {
		return v.Hash
	}
	return v.Hash[:12]
}

func (v Version) clone() Version {
	out := v
	if v.Metadata != nil {
		out.Metadata = maps.Clone(v.Metadata)
	} else {
		out.Metadata = map[string]any{}
	}
	return out
}

// record is the index wire shape.
type record struct {
	VersionID       string         `json:"version_id"`
	Path            string         `json:"path"`
	Type            string         `json:"type"`
	Hash            *string        `json:"hash"`
	Timestamp       string         `json:"timestamp"`
	JobID           string         `json:"job_id"`
	ParentVersionID *string        `json:"parent_version_id"`
	Metadata        map[string]any `json:"metadata"`
}

func (v Version) MarshalJSON() ([]byte, error) {
	rec := record{
		VersionID: v.VersionID,
		Path:      v.Path,
		Type:      v.Type,
		Timestamp: v.CreatedAt.UTC().Format(time.RFC3339Nano),
		JobID:     v.JobID,
		Metadata:  v.Metadata,
	}
	if v.Hash != "" {
		hash := v.Hash
		rec.Hash = &hash
	}
	if v.ParentVersionID != "" {
		parent := v.ParentVersionID
		rec.ParentVersionID = &parent
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	return json.Marshal(rec)
}

func (v *Version) UnmarshalJSON(data []byte) error {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	created, err := parseTimestamp(rec.Timestamp)
	if err != nil {
		return fmt.Errorf("version %s: %w", rec.VersionID, err)
	}
	*v = Version{
		VersionID: rec.VersionID,
		Path:      rec.Path,
		Type:      rec.Type,
		JobID:     rec.JobID,
		CreatedAt: created,
		Metadata:  rec.Metadata,
	}
	if rec.Hash != nil {
		v.Hash = *rec.Hash
	}
	if rec.ParentVersionID != nil {
		v.ParentVersionID = *rec.ParentVersionID
	}
	if v.Metadata == nil {
		v.Metadata = map[string]any{}
	}
	return nil
}

// timestampLayouts accepts RFC3339 plus the offset-less ISO forms written by
// older registries.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// newVersionID joins the hash prefix with a microsecond timestamp, e.g.
// 2c624232cdd2_20260102T150405123456.
func newVersionID(hash string, at time.Time) string {
	prefix := "missing"
	if hash != "" {
		prefix = hash
		if len(prefix) > 12 {
			prefix = prefix[:12]
		}
	}
	at = at.UTC()
	return fmt.Sprintf("%s_%s%06d", prefix, at.Format("20060102T150405"), at.Nanosecond()/1000)
}
