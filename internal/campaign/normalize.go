package campaign

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrMissingID marks a record without an identifier; such records are
// skipped by the fetchers.
var ErrMissingID = errors.New("campaign: record has no id")

// Normalize extracts the fixed set of campaign fields from a decoded JSON
// object of unknown shape. Absent or mistyped fields fall back to zero
// values; only a missing id is an error.
func Normalize(raw map[string]any) (Campaign, error) {
	if raw == nil {
		return Campaign{}, ErrMissingID
	}
	c := Campaign{
		ID:          str(raw, "id", "campaignId", "campaignID"),
		Name:        str(raw, "name", "title"),
		Description: str(raw, "description", "desc"),
		Info:        str(raw, "info"),
		Status:      ParseStatus(str(raw, "status")),
		Kind:        Kind(str(raw, "type", "kind", "campaignType")),
	}
	if c.ID == "" {
		return Campaign{}, ErrMissingID
	}
	c.NumberID = integer(raw, "numberID", "numberId", "number_id")
	c.StartTime = epoch(raw, "startTime", "start_time", "startAt")
	c.EndTime = epoch(raw, "endTime", "end_time", "endAt")

	switch sp := raw["space"].(type) {
	case map[string]any:
		c.Space = Space{ID: str(sp, "id", "alias"), Name: str(sp, "name")}
	case string:
		c.Space.ID = sp
	}
	if c.Space.ID == "" {
		c.Space.ID = str(raw, "spaceId", "spaceID", "space_id")
	}
	return c, nil
}

// NormalizeAll decodes every object in list, returning the good records in
// order and the number of skipped anomalies.
func NormalizeAll(list []any, space Space, source string) ([]Campaign, int) {
	out := make([]Campaign, 0, len(list))
	skipped := 0
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			skipped++
			continue
		}
		c, err := Normalize(m)
		if err != nil {
			skipped++
			continue
		}
		if c.Space.ID == "" {
			c.Space.ID = space.ID
		}
		if c.Space.Name == "" && c.Space.ID == space.ID {
			c.Space.Name = space.Name
		}
		c.Source = source
		out = append(out, c)
	}
	return out, skipped
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func integer(m map[string]any, keys ...string) int64 {
	for _, k := range keys {
		if n, ok := toInt(m[k]); ok {
			return n
		}
	}
	return 0
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int64(x), true
	case int64:
		return x, true
	case int:
		return int64(x), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		if f, err := x.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// epoch accepts seconds, milliseconds, numeric strings and RFC 3339.
func epoch(m map[string]any, keys ...string) int64 {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if n, ok := toInt(v); ok {
			if n > 1e12 {
				n /= 1000
			}
			return n
		}
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339, strings.TrimSpace(s)); err == nil {
				return t.Unix()
			}
		}
	}
	return 0
}

// DecodeObject is a convenience for tests and fetchers holding raw bytes.
func DecodeObject(b []byte) (Campaign, error) {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return Campaign{}, fmt.Errorf("campaign: %w", err)
	}
	return Normalize(m)
}
