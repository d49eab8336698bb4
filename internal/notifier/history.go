package notifier

import (
	"sync"
	"time"

	"fcfswatch/internal/transport"
)

const historyCap = 300

// history keeps the most recent successful sends for diagnostics.
type history struct {
	mu    sync.Mutex
	items []HistoryItem
}

func (h *history) add(n transport.Notification, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, HistoryItem{At: time.Now(), Channel: n.Channel, ChatID: n.Target.ChatID, Text: text})
	if over := len(h.items) - historyCap; over > 0 {
		h.items = append(h.items[:0], h.items[over:]...)
	}
}

func (h *history) snapshot() []HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryItem(nil), h.items...)
}
