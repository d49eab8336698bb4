package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "fcfswatch/internal/transport"
)

const (
	telegramQueueSize = 128
	telegramMaxText   = 3500
)

// telegramSink is a zerolog.LevelWriter that forwards events to a chat.
// Writes never block: over-limit or queue-full events are dropped.
type telegramSink struct {
	sender Sender

	mu       sync.Mutex
	to       kit.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue  chan string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newTelegramSink(sender Sender) *telegramSink {
	ctx, cancel := context.WithCancel(context.Background())
	t := &telegramSink{
		sender:   sender,
		minLevel: zerolog.WarnLevel,
		limiter:  telegramLimiter(1),
		queue:    make(chan string, telegramQueueSize),
		cancel:   cancel,
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(ctx)
	}()
	return t
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	t.mu.Lock()
	t.to = kit.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	t.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	t.limiter = telegramLimiter(cfg.RatePerSec)
	t.mu.Unlock()
}

func (t *telegramSink) close() {
	t.cancel()
	t.wg.Wait()
}

func (t *telegramSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-t.queue:
			t.mu.Lock()
			to := t.to
			t.mu.Unlock()
			if to.ChatID == 0 {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, _ = t.sender.SendText(sctx, to, msg, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
			cancel()
		}
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	chatID := t.to.ChatID
	minLevel := t.minLevel
	lim := t.limiter
	t.mu.Unlock()

	if chatID == 0 || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	msg := formatTelegramEvent(p)
	if msg == "" {
		return len(p), nil
	}
	select {
	case t.queue <- msg:
	default:
	}
	return len(p), nil
}

// formatTelegramEvent renders one zerolog JSON line as Telegram HTML:
// a bold "[LEVEL] message" header followed by sorted key=value lines.
func formatTelegramEvent(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(p))), &m); err != nil {
		return html.EscapeString(truncate(strings.TrimSpace(string(p)), telegramMaxText))
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	b.WriteString("<b>")
	if lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(html.EscapeString(msg))
	b.WriteString("</b>")

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		limit := 600
		if k == "stack" {
			limit = 900
		}
		b.WriteString("\n")
		b.WriteString(html.EscapeString(k))
		b.WriteString("=<code>")
		b.WriteString(html.EscapeString(truncate(fmt.Sprint(m[k]), limit)))
		b.WriteString("</code>")
	}
	return b.String()
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
