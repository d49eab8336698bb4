package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"fcfswatch/internal/storage"
	"fcfswatch/internal/transport"
)

// dedupKey identifies a notification by channel, target, priority and
// text. An empty channel opts out of dedup.
func dedupKey(n transport.Notification) string {
	if n.Channel == "" {
		return ""
	}
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%d:%d:%d|%s", n.Channel, n.Target.ChatID, n.Target.ThreadID, n.Priority, n.Text)
	return fmt.Sprintf("%x", h.Sum64())
}

type dedupWrite struct {
	key   string
	until time.Time
}

// dedupCache suppresses repeats inside a window. With a store attached,
// suppression survives restarts: lookups fall through to the store and
// new windows are written back asynchronously.
type dedupCache struct {
	mu    sync.Mutex
	until map[string]time.Time

	store  storage.Store
	writes chan dedupWrite
}

const (
	dedupLookupTimeout = 25 * time.Millisecond
	dedupWriteTimeout  = 250 * time.Millisecond
)

func newDedupCache() *dedupCache {
	return &dedupCache{until: map[string]time.Time{}}
}

// attach enables persistence until detach. Returns the write channel for
// the flush loop.
func (d *dedupCache) attach(st storage.Store) <-chan dedupWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store = st
	d.writes = make(chan dedupWrite, 1024)
	return d.writes
}

func (d *dedupCache) detach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writes != nil {
		close(d.writes)
	}
	d.store, d.writes = nil, nil
}

// allow reports whether key may be sent now and, if so, opens a new
// suppression window. limit caps the in-memory entries.
func (d *dedupCache) allow(ctx context.Context, key string, window time.Duration, limit int) bool {
	now := time.Now()

	d.mu.Lock()
	if u, ok := d.until[key]; ok && now.Before(u) {
		d.mu.Unlock()
		return false
	}
	st := d.store
	d.mu.Unlock()

	if st != nil {
		cctx, cancel := context.WithTimeout(ctx, dedupLookupTimeout)
		u, ok, err := st.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(u) {
			d.mu.Lock()
			d.until[key] = u
			d.mu.Unlock()
			return false
		}
	}

	u := now.Add(window)
	d.mu.Lock()
	d.until[key] = u
	d.evictLocked(now, limit)
	if d.writes != nil {
		select {
		case d.writes <- dedupWrite{key: key, until: u}:
		default:
		}
	}
	d.mu.Unlock()
	return true
}

// evictLocked drops expired windows, then the soonest-expiring ones until
// at most limit remain.
func (d *dedupCache) evictLocked(now time.Time, limit int) {
	for k, u := range d.until {
		if !now.Before(u) {
			delete(d.until, k)
		}
	}
	for limit > 0 && len(d.until) > limit {
		var oldest string
		for k, u := range d.until {
			if oldest == "" || u.Before(d.until[oldest]) {
				oldest = k
			}
		}
		delete(d.until, oldest)
	}
}

// flush writes suppression windows to st until writes is closed.
func flushDedup(ctx context.Context, writes <-chan dedupWrite, st storage.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-writes:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, dedupWriteTimeout)
			_ = st.PutDedup(cctx, w.key, w.until)
			cancel()
		}
	}
}
