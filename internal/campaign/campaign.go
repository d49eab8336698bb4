// Package campaign holds the normalized campaign model shared by the
// fetchers, the classifier and the monitor.
package campaign

import (
	"strings"
	"time"
)

type Status string

const (
	StatusActive  Status = "Active"
	StatusReady   Status = "Ready"
	StatusExpired Status = "Expired"
	StatusUnknown Status = ""
)

// Kind is the remote campaign type ("Drop", "Oat", "Token", ...). Unknown
// kinds are kept verbatim.
type Kind string

const KindDrop Kind = "Drop"

type Space struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Campaign is immutable once fetched. Identity is ID only; Source records
// which fetcher produced the record.
type Campaign struct {
	ID          string `json:"id"`
	NumberID    int64  `json:"number_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Info        string `json:"info,omitempty"`
	StartTime   int64  `json:"start_time,omitempty"`
	EndTime     int64  `json:"end_time,omitempty"`
	Status      Status `json:"status,omitempty"`
	Kind        Kind   `json:"kind,omitempty"`
	Space       Space  `json:"space"`
	Source      string `json:"source,omitempty"`
}

func (c Campaign) Start() time.Time {
	if c.StartTime <= 0 {
		return time.Time{}
	}
	return time.Unix(c.StartTime, 0)
}

func (c Campaign) End() time.Time {
	if c.EndTime <= 0 {
		return time.Time{}
	}
	return time.Unix(c.EndTime, 0)
}

// Text is the classifier input: name, description and info joined by spaces.
func (c Campaign) Text() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{c.Name, c.Description, c.Info} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// ParseStatus maps remote status strings onto the known set, keeping
// anything unrecognized verbatim.
func ParseStatus(raw string) Status {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "":
		return StatusUnknown
	case "active", "ongoing", "live":
		return StatusActive
	case "ready", "pending", "notstarted", "not_started", "upcoming":
		return StatusReady
	case "expired", "ended", "finished", "closed":
		return StatusExpired
	}
	return Status(s)
}
