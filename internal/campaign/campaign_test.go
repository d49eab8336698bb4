package campaign

import (
	"errors"
	"testing"
)

func TestNormalizeTolerantFields(t *testing.T) {
	t.Parallel()
	c, err := DecodeObject([]byte(`{
		"id": "GCabc",
		"numberID": "1234",
		"name": " Limited Drop ",
		"startTime": 1700000000000,
		"endTime": "2023-11-15T00:00:00Z",
		"status": "ACTIVE",
		"type": "Drop",
		"space": {"id": "space123", "name": "Space"},
		"unknown": [1,2,3]
	}`))
	if err != nil {
		t.Fatalf("DecodeObject: %v", err)
	}
	if c.ID != "GCabc" || c.NumberID != 1234 || c.Name != "Limited Drop" {
		t.Fatalf("identity fields: %+v", c)
	}
	if c.StartTime != 1700000000 {
		t.Fatalf("start = %d, want ms converted to seconds", c.StartTime)
	}
	if c.EndTime != 1700006400 {
		t.Fatalf("end = %d", c.EndTime)
	}
	if c.Status != StatusActive || c.Kind != KindDrop {
		t.Fatalf("status/kind: %q %q", c.Status, c.Kind)
	}
	if c.Space.ID != "space123" || c.Space.Name != "Space" {
		t.Fatalf("space: %+v", c.Space)
	}
}

func TestNormalizeMissingID(t *testing.T) {
	t.Parallel()
	if _, err := Normalize(map[string]any{"name": "x"}); !errors.Is(err, ErrMissingID) {
		t.Fatalf("err = %v, want ErrMissingID", err)
	}
	if _, err := Normalize(nil); !errors.Is(err, ErrMissingID) {
		t.Fatalf("nil record err = %v", err)
	}
}

func TestNormalizeAllSkipsAnomalies(t *testing.T) {
	t.Parallel()
	list := []any{
		map[string]any{"id": "a", "name": "A"},
		"not an object",
		map[string]any{"name": "no id"},
		map[string]any{"id": "b", "spaceId": "other"},
	}
	got, skipped := NormalizeAll(list, Space{ID: "scope", Name: "Scope"}, "rest")
	if skipped != 2 || len(got) != 2 {
		t.Fatalf("got %d records, %d skipped", len(got), skipped)
	}
	if got[0].Space != (Space{ID: "scope", Name: "Scope"}) || got[0].Source != "rest" {
		t.Fatalf("first: %+v", got[0])
	}
	if got[1].Space.ID != "other" || got[1].Space.Name != "" {
		t.Fatalf("second space: %+v", got[1].Space)
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()
	tests := map[string]Status{
		"Active":  StatusActive,
		"pending": StatusReady,
		"ENDED":   StatusExpired,
		"":        StatusUnknown,
		"Paused":  Status("Paused"),
	}
	for in, want := range tests {
		if got := ParseStatus(in); got != want {
			t.Fatalf("ParseStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseSpaceRef(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "AbCdEfGhIjKlMnOp", want: "AbCdEfGhIjKlMnOp"},
		{in: "https://app.galxe.com/quest/AbCdEfGhIjKlMnOp", want: "AbCdEfGhIjKlMnOp"},
		{in: "app.galxe.com/quest/AbCdEfGhIjKlMnOp/GCxyz", want: "AbCdEfGhIjKlMnOp"},
		{in: "short", wantErr: true},
		{in: "has-dash-but-long-enough", wantErr: true},
		{in: "https://example.com/other/AbCdEfGhIjKlMnOp", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSpaceRef(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseSpaceRef(%q) = %q, want error", tt.in, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseSpaceRef(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestURL(t *testing.T) {
	t.Parallel()
	c := Campaign{ID: "GC1", Space: Space{ID: "sp"}}
	if got := URL("", c); got != "https://app.galxe.com/quest/sp/GC1" {
		t.Fatalf("URL = %q", got)
	}
	if got := URL("explicit", c); got != "https://app.galxe.com/quest/explicit/GC1" {
		t.Fatalf("URL = %q", got)
	}
}

func TestText(t *testing.T) {
	t.Parallel()
	c := Campaign{Name: "FCFS", Description: "  ", Info: "x"}
	if got := c.Text(); got != "FCFS x" {
		t.Fatalf("Text = %q", got)
	}
}
