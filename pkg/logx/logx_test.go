package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	kit "fcfswatch/internal/transport"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerWithFieldsAndLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "monitor"))

	log.Debug("hidden")
	log.Info("scan done", Int("found", 3), Err(errors.New("boom")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly one line, got %d: %q", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["comp"] != "monitor" || m["message"] != "scan done" {
		t.Fatalf("unexpected event: %v", m)
	}
	if m["found"] != float64(3) {
		t.Fatalf("found = %v", m["found"])
	}
	if m["error"] == nil && m["err"] == nil {
		t.Fatalf("expected error field in %v", m)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Info("nothing happens")
	if Nop().IsZero() {
		t.Fatalf("Nop logger is not the zero value")
	}
}

func TestFormatTelegramEvent(t *testing.T) {
	t.Parallel()
	line := `{"level":"warn","time":"x","message":"fetch <failed>","tier":"primary","attempt":2}`
	got := formatTelegramEvent([]byte(line))
	want := "<b>[WARN] fetch &lt;failed&gt;</b>\nattempt=<code>2</code>\ntier=<code>primary</code>"
	if got != want {
		t.Fatalf("formatTelegramEvent =\n%s\nwant\n%s", got, want)
	}

	raw := formatTelegramEvent([]byte("not json & raw"))
	if raw != "not json &amp; raw" {
		t.Fatalf("raw fallback = %q", raw)
	}
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	done chan struct{}
}

func (r *recordingSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	r.sent = append(r.sent, text)
	r.mu.Unlock()
	select {
	case r.done <- struct{}{}:
	default:
	}
	return kit.MessageRef{}, nil
}

func TestTelegramSinkRespectsMinLevel(t *testing.T) {
	t.Parallel()
	rs := &recordingSender{done: make(chan struct{}, 4)}
	svc, log := New(Config{
		Level: "debug",
		Telegram: TelegramConfig{
			Enabled:    true,
			ChatID:     -100,
			MinLevel:   "error",
			RatePerSec: 10,
		},
	}, rs)
	defer svc.Close()

	log.Warn("below threshold")
	log.Error("scan outage")

	select {
	case <-rs.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("telegram sink did not deliver")
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.sent) != 1 || !strings.Contains(rs.sent[0], "scan outage") {
		t.Fatalf("unexpected deliveries: %q", rs.sent)
	}
}
